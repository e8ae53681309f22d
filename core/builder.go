package core

import (
	"github.com/sarchlab/akita/v4/sim"

	"github.com/sarchlab/cascadegen/agent"
)

// Builder can create new queues.
type Builder struct {
	engine    sim.Engine
	freq      sim.Freq
	queue     agent.Queue
	counters  *Counters
	latencies map[agent.CommandType]int
	capacity  int
}

// MakeBuilder returns a builder whose queues take one cycle per command.
func MakeBuilder() Builder {
	return Builder{
		freq: 1 * sim.GHz,
	}
}

// WithEngine sets the engine.
func (b Builder) WithEngine(engine sim.Engine) Builder {
	b.engine = engine
	return b
}

// WithFreq sets the frequency of the queue.
func (b Builder) WithFreq(freq sim.Freq) Builder {
	b.freq = freq
	return b
}

// WithQueue sets which hardware queue to build.
func (b Builder) WithQueue(queue agent.Queue) Builder {
	b.queue = queue
	return b
}

// WithCounters sets the counters shared with the other queues of the device.
func (b Builder) WithCounters(counters *Counters) Builder {
	b.counters = counters
	return b
}

// WithLatency sets the number of cycles a command type takes.
func (b Builder) WithLatency(t agent.CommandType, cycles int) Builder {
	if cycles < 1 {
		panic("latency must be at least one cycle")
	}

	latencies := make(map[agent.CommandType]int, len(b.latencies)+1)
	for k, v := range b.latencies {
		latencies[k] = v
	}

	latencies[t] = cycles
	b.latencies = latencies

	return b
}

// WithCapacity limits the number of commands the queue buffers. Zero means
// no limit.
func (b Builder) WithCapacity(capacity int) Builder {
	b.capacity = capacity
	return b
}

// Build creates a queue.
func (b Builder) Build(name string) *Queue {
	if b.counters == nil {
		panic("queue needs counters")
	}

	q := &Queue{
		queue:     b.queue,
		counters:  b.counters,
		latencies: b.latencies,
		capacity:  b.capacity,
	}

	q.TickingComponent = sim.NewTickingComponent(name, b.engine, b.freq, q)
	b.counters.attach(q)

	return q
}
