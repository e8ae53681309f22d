package api

import (
	"log/slog"

	"github.com/sarchlab/akita/v4/sim"
)

// DriverBuilder creates a new instance of Driver.
type DriverBuilder struct {
	engine sim.Engine
	freq   sim.Freq
	logger *slog.Logger

	maxIdleCycles int
}

// WithEngine sets the engine.
func (b DriverBuilder) WithEngine(engine sim.Engine) DriverBuilder {
	b.engine = engine
	return b
}

// WithFreq sets the frequency of the driver.
func (b DriverBuilder) WithFreq(freq sim.Freq) DriverBuilder {
	b.freq = freq
	return b
}

// WithLogger sets the logger the driver reports to.
func (b DriverBuilder) WithLogger(logger *slog.Logger) DriverBuilder {
	b.logger = logger
	return b
}

// WithMaxIdleCycles sets how many cycles in a row the driver waits for a
// full queue to accept a command.
func (b DriverBuilder) WithMaxIdleCycles(n int) DriverBuilder {
	b.maxIdleCycles = n
	return b
}

// Build create a driver.
func (b DriverBuilder) Build(name string) Driver {
	if b.engine == nil {
		panic("driver needs an engine")
	}

	if b.freq == 0 {
		b.freq = 1 * sim.GHz
	}

	if b.maxIdleCycles <= 0 {
		b.maxIdleCycles = 1000
	}

	d := &driverImpl{
		logger:        b.logger,
		maxIdleCycles: b.maxIdleCycles,
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}

	d.TickingComponent = sim.NewTickingComponent(name, b.engine, b.freq, d)

	return d
}
