package config

import (
	"fmt"

	"github.com/sarchlab/akita/v4/monitoring"
	"github.com/sarchlab/akita/v4/sim"

	"github.com/sarchlab/cascadegen/agent"
	"github.com/sarchlab/cascadegen/core"
)

// A Device is an NPU with one command queue of each kind. The queues share
// one set of counters.
type Device struct {
	Name     string
	Counters *core.Counters
	Queues   [agent.NumQueues]*core.Queue
}

// Queue returns the queue of the given kind.
func (d *Device) Queue(q agent.Queue) *core.Queue {
	return d.Queues[q]
}

// Done returns true when every queue has retired all its commands.
func (d *Device) Done() bool {
	for _, q := range d.Queues {
		if q.Pending() > 0 {
			return false
		}
	}

	return true
}

// DeviceBuilder can build NPU devices.
type DeviceBuilder struct {
	engine    sim.Engine
	freq      sim.Freq
	monitor   *monitoring.Monitor
	latencies map[agent.CommandType]int
	capacity  int
}

// WithEngine sets the engine that drives the device simulation.
func (d DeviceBuilder) WithEngine(engine sim.Engine) DeviceBuilder {
	d.engine = engine
	return d
}

// WithFreq sets the frequency of the device.
func (d DeviceBuilder) WithFreq(freq sim.Freq) DeviceBuilder {
	d.freq = freq
	return d
}

// WithMonitor registers the queues with a monitor.
func (d DeviceBuilder) WithMonitor(monitor *monitoring.Monitor) DeviceBuilder {
	d.monitor = monitor
	return d
}

// WithLatency sets the number of cycles a command type takes.
func (d DeviceBuilder) WithLatency(t agent.CommandType, cycles int) DeviceBuilder {
	latencies := make(map[agent.CommandType]int, len(d.latencies)+1)
	for k, v := range d.latencies {
		latencies[k] = v
	}

	latencies[t] = cycles
	d.latencies = latencies

	return d
}

// WithQueueCapacity limits the number of commands each queue buffers.
func (d DeviceBuilder) WithQueueCapacity(capacity int) DeviceBuilder {
	d.capacity = capacity
	return d
}

// Build creates a device.
func (d DeviceBuilder) Build(name string) *Device {
	dev := &Device{
		Name:     name,
		Counters: core.NewCounters(),
	}

	for q := agent.Queue(0); q < agent.NumQueues; q++ {
		b := core.MakeBuilder().
			WithEngine(d.engine).
			WithFreq(d.freq).
			WithQueue(q).
			WithCounters(dev.Counters).
			WithCapacity(d.capacity)

		for t, cycles := range d.latencies {
			b = b.WithLatency(t, cycles)
		}

		dev.Queues[q] = b.Build(fmt.Sprintf("%s.%sQueue", name, q))

		if d.monitor != nil {
			d.monitor.RegisterComponent(dev.Queues[q])
		}
	}

	return dev
}
