// Package verify provides debugging tools that check a generated cascade
// without running the timed queue model.
//
// This package implements two complementary verification stages:
//
// 1. Static Lint (lint.go): Fast structural and ordering checks
//   - STRUCT checks: agent payloads, dependency windows, dependency
//     symmetry, commands on the right queue, stripe conservation
//   - TIMING checks: wait values that never become reachable, waits that
//     go backwards, waits on the issuing queue's own counter
//
// 2. Functional Simulator (funcsim.go): Untimed interpreter of the queues
//   - Runs the four queues in lock step, one command per queue per step
//   - Completing commands bump their counter immediately
//   - Every stripe is checked against the read-after-write and
//     write-after-read dependencies of its agent at the moment it completes
//   - Reports the first hazard or a deadlock with the blocked queue heads
//
// # Cascade Structure
//
// A stream.Cascade holds:
//
//	stream.Cascade
//	  ├── Agents (IfmS, WgtS, MceS, PleL, PleS, OfmS)
//	  │     └── Info.Read / Info.Write / Info.Schedule dependencies
//	  ├── Commands (DmaRd, DmaWr, Mce, Ple command lists)
//	  └── ExtraData (register payloads)
//
// Each agent runs on exactly one queue and completes each of its stripes
// with exactly one command. Queues run in order and only synchronise through
// the six counters.
//
// # Hazard Model
//
// Stripe k of an agent may complete once:
//
//   - for every read dependency, the producer has completed the stripe
//     dependency.OtherStripe(d, k, producerStripes)
//   - for every write dependency and k >= slots, the consumer has completed
//     the stripe dependency.OtherStripe(d, k-slots, consumerStripes)
//
// Schedule dependencies only shape the interleaving and are not checked.
//
// # Usage Example
//
//	cs, err := generator.Generate(g, opIDs, caps, opts, bm, nil)
//	if err != nil {
//	    return err
//	}
//
//	cascade := cs.Stream.Cascades()[0]
//
//	// Stage 1: Lint checks
//	for _, issue := range verify.RunLint(cascade) {
//	    log.Printf("[%s] agent %d: %s", issue.Type, issue.Agent, issue.Message)
//	}
//
//	// Stage 2: Functional simulation
//	fs := verify.NewFunctionalSimulator(cascade)
//	if err := fs.Run(100000); err != nil {
//	    return err
//	}
//
//	fmt.Println(fs.Counters())
//
// # Limitations
//
// - No timing: every command takes one step
// - Register payloads are not interpreted
// - Tensor contents are not modelled, only stripe completion order
package verify

import (
	"errors"
	"fmt"

	"github.com/sarchlab/cascadegen/agent"
	"github.com/sarchlab/cascadegen/stream"
)

var (
	// ErrDeadlock is returned when no queue can run its next command.
	ErrDeadlock = errors.New("queues deadlocked")

	// ErrHazard is returned when a stripe completes before a stripe it
	// depends on.
	ErrHazard = errors.New("dependency hazard")

	// ErrStepLimit is returned when the simulation does not finish within
	// the step budget.
	ErrStepLimit = errors.New("step limit reached")

	// ErrMalformed is returned for commands the simulator cannot run.
	ErrMalformed = errors.New("malformed command")
)

// IssueType categorizes lint issues
type IssueType string

const (
	IssueStruct IssueType = "STRUCT" // Malformed agents, dependencies or commands
	IssueTiming IssueType = "TIMING" // Waits that can stall or never fire
)

// Issue represents a single lint issue
type Issue struct {
	Type    IssueType   // STRUCT or TIMING
	Agent   int         // Agent id or -1
	Queue   agent.Queue // Only meaningful if Command >= 0
	Command int         // Command index on Queue or -1
	Message string      // Human-readable description
	Details map[string]interface{}
}

// Location returns where the issue is, for reports.
func (i Issue) Location() string {
	switch {
	case i.Command >= 0 && i.Agent >= 0:
		return fmt.Sprintf("agent %d, %s[%d]", i.Agent, i.Queue, i.Command)
	case i.Command >= 0:
		return fmt.Sprintf("%s[%d]", i.Queue, i.Command)
	case i.Agent >= 0:
		return fmt.Sprintf("agent %d", i.Agent)
	default:
		return "-"
	}
}

// FunctionalSimulator executes the queues of a cascade without timing.
type FunctionalSimulator struct {
	cascade *stream.Cascade

	heads     [agent.NumQueues]int
	counters  [agent.NumCounters]uint32
	completed []int
	steps     int

	TraceCommand func(step int, q agent.Queue, cmd agent.Command)
}

// NewFunctionalSimulator creates a new functional simulator
func NewFunctionalSimulator(cascade *stream.Cascade) *FunctionalSimulator {
	return &FunctionalSimulator{
		cascade:   cascade,
		completed: make([]int, len(cascade.Agents)),
	}
}

// Counters returns the counter values.
func (fs *FunctionalSimulator) Counters() [agent.NumCounters]uint32 {
	return fs.counters
}

// Completed returns the number of stripes an agent has completed.
func (fs *FunctionalSimulator) Completed(id int) int {
	if id < 0 || id >= len(fs.completed) {
		return 0
	}

	return fs.completed[id]
}

// Steps returns the number of steps the simulation took.
func (fs *FunctionalSimulator) Steps() int {
	return fs.steps
}

// Done returns true when every queue has run all its commands.
func (fs *FunctionalSimulator) Done() bool {
	for q := agent.Queue(0); q < agent.NumQueues; q++ {
		if fs.heads[q] < len(fs.cascade.Commands.Queue(q)) {
			return false
		}
	}

	return true
}
