// Package core models the four hardware command queues of the NPU as akita
// components. Queues run their commands in order and synchronise only
// through the shared counters.
package core

import (
	"errors"
	"fmt"

	"github.com/sarchlab/akita/v4/sim"

	"github.com/sarchlab/cascadegen/agent"
)

// ErrWrongQueue is returned when a command is pushed to a queue that cannot
// run it.
var ErrWrongQueue = errors.New("command pushed to the wrong queue")

// ErrQueueFull is returned when a queue has no room for another command.
var ErrQueueFull = errors.New("queue full")

// Counters are the hardware counters shared by the queues of a device.
// Incrementing a counter wakes every queue up.
type Counters struct {
	values [agent.NumCounters]uint32
	queues []*Queue
}

// NewCounters creates counters that all start at zero.
func NewCounters() *Counters {
	return &Counters{}
}

// Value returns the current value of a counter.
func (c *Counters) Value(name agent.CounterName) uint32 {
	return c.values[name]
}

// Values returns a copy of all counter values.
func (c *Counters) Values() [agent.NumCounters]uint32 {
	return c.values
}

// Increment adds one to a counter.
func (c *Counters) Increment(name agent.CounterName) {
	c.values[name]++

	for _, q := range c.queues {
		q.TickLater()
	}
}

// Reset sets every counter back to zero.
func (c *Counters) Reset() {
	c.values = [agent.NumCounters]uint32{}
}

func (c *Counters) attach(q *Queue) {
	c.queues = append(c.queues, q)
}

// Queue is an in-order command queue.
type Queue struct {
	*sim.TickingComponent

	queue     agent.Queue
	counters  *Counters
	latencies map[agent.CommandType]int
	capacity  int

	buf      []agent.Command
	cycles   int
	stalled  bool
	executed int
}

// Kind returns which hardware queue this is.
func (q *Queue) Kind() agent.Queue {
	return q.queue
}

// CanPush returns true if the queue has room for another command.
func (q *Queue) CanPush() bool {
	return q.capacity == 0 || len(q.buf) < q.capacity
}

// Push appends a command to the queue.
func (q *Queue) Push(cmd agent.Command) error {
	if cmd.Type != agent.WaitForCounter {
		if target, ok := agent.QueueOf(cmd.Type); !ok || target != q.queue {
			return fmt.Errorf("%w: %s on %s", ErrWrongQueue, cmd.Type, q.queue)
		}
	}

	if !q.CanPush() {
		return ErrQueueFull
	}

	q.buf = append(q.buf, cmd)
	q.TickLater()

	return nil
}

// Pending returns the number of commands not yet retired.
func (q *Queue) Pending() int {
	return len(q.buf)
}

// Executed returns the number of retired commands.
func (q *Queue) Executed() int {
	return q.executed
}

// Stalled returns true if the queue is blocked on a wait.
func (q *Queue) Stalled() bool {
	return q.stalled
}

// Head returns the command at the head of the queue.
func (q *Queue) Head() (agent.Command, bool) {
	if len(q.buf) == 0 {
		return agent.Command{}, false
	}

	return q.buf[0], true
}

// Tick runs the queue for one cycle.
func (q *Queue) Tick() bool {
	if len(q.buf) == 0 {
		return false
	}

	cmd := q.buf[0]

	if cmd.Type == agent.WaitForCounter {
		if q.counters.Value(cmd.Counter) < cmd.CounterValue {
			q.stalled = true
			return false
		}

		q.stalled = false
		q.retire(cmd)

		return true
	}

	q.cycles++
	if q.cycles < q.latency(cmd.Type) {
		return true
	}

	q.cycles = 0
	q.retire(cmd)

	if counter, ok := agent.CounterOf(cmd.Type); ok {
		q.counters.Increment(counter)
	}

	return true
}

func (q *Queue) latency(t agent.CommandType) int {
	if l, ok := q.latencies[t]; ok && l > 0 {
		return l
	}

	return 1
}

func (q *Queue) retire(cmd agent.Command) {
	q.buf = q.buf[1:]
	q.executed++

	Trace("Command",
		"Queue", q.Name(),
		"Type", cmd.Type,
		"Agent", cmd.AgentID,
		"Stripe", cmd.StripeID,
		"Counter", cmd.Counter,
		"Value", cmd.CounterValue,
		"Time", float64(q.Engine.CurrentTime()*1e9),
	)
}
