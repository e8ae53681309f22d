// Package scheduler turns a list of agents into the commands of the four
// hardware queues.
//
// Agents issue their stripes in a deterministic round robin. An agent issues
// its next stripe once every stripe it depends on has been issued, so a wait
// command only ever refers to a command that comes earlier in the global
// order. This keeps the queues free of deadlocks when they run concurrently.
package scheduler

import (
	"errors"
	"fmt"
	"math"

	"github.com/sarchlab/cascadegen/agent"
	"github.com/sarchlab/cascadegen/dependency"
)

var (
	// ErrDeadlock is returned when no agent can issue a stripe.
	ErrDeadlock = errors.New("cascade cannot make progress")

	// ErrRange is returned when a dependency points outside the cascade or
	// an agent id does not fit in a command.
	ErrRange = errors.New("agent out of range")
)

// CommandLists are the commands of the four hardware queues.
type CommandLists struct {
	DmaRd []agent.Command
	DmaWr []agent.Command
	Mce   []agent.Command
	Ple   []agent.Command
}

// Queue returns the commands of a queue.
func (l *CommandLists) Queue(q agent.Queue) []agent.Command {
	switch q {
	case agent.QueueDmaRd:
		return l.DmaRd
	case agent.QueueDmaWr:
		return l.DmaWr
	case agent.QueueMce:
		return l.Mce
	default:
		return l.Ple
	}
}

// SetQueue replaces the commands of a queue.
func (l *CommandLists) SetQueue(q agent.Queue, cmds []agent.Command) {
	switch q {
	case agent.QueueDmaRd:
		l.DmaRd = cmds
	case agent.QueueDmaWr:
		l.DmaWr = cmds
	case agent.QueueMce:
		l.Mce = cmds
	default:
		l.Ple = cmds
	}
}

func (l *CommandLists) push(q agent.Queue, cmd agent.Command) {
	l.SetQueue(q, append(l.Queue(q), cmd))
}

// Len returns the number of commands on all queues.
func (l *CommandLists) Len() int {
	return len(l.DmaRd) + len(l.DmaWr) + len(l.Mce) + len(l.Ple)
}

// NumWaits returns the number of wait commands on a queue.
func (l *CommandLists) NumWaits(q agent.Queue) int {
	n := 0

	for _, c := range l.Queue(q) {
		if c.Type == agent.WaitForCounter {
			n++
		}
	}

	return n
}

// completion is the counter value that signals a stripe has finished.
type completion struct {
	counter agent.CounterName
	value   uint32
}

type requirement struct {
	agent  int
	stripe int
	wait   bool
}

type scheduler struct {
	agents []agent.Agent
	lists  CommandLists

	issued      []int
	completions [][]completion
	counters    [agent.NumCounters]uint32
	lastWait    [agent.NumQueues][agent.NumCounters]uint32
}

// Schedule produces the queue commands of the agents.
func Schedule(agents []agent.Agent) (CommandLists, error) {
	if len(agents) > math.MaxUint16+1 {
		return CommandLists{}, fmt.Errorf("%w: %d agents, commands address at most %d",
			ErrRange, len(agents), math.MaxUint16+1)
	}

	s := &scheduler{
		agents:      agents,
		issued:      make([]int, len(agents)),
		completions: make([][]completion, len(agents)),
	}

	for i := range agents {
		if err := agents[i].Validate(); err != nil {
			return CommandLists{}, fmt.Errorf("agent %d: %w", i, err)
		}

		s.completions[i] = make([]completion, agents[i].NumStripesTotal)
	}

	if err := s.run(); err != nil {
		return CommandLists{}, err
	}

	return s.lists, nil
}

func (s *scheduler) done(id int) bool {
	return s.issued[id] >= int(s.agents[id].NumStripesTotal)
}

func (s *scheduler) run() error {
	for {
		progress := false
		finished := true

		for id := range s.agents {
			if s.done(id) {
				continue
			}

			reqs, err := s.requirements(id, s.issued[id])
			if err != nil {
				return err
			}

			if s.satisfied(reqs) {
				s.issue(id, reqs)
				progress = true
			}

			if !s.done(id) {
				finished = false
			}
		}

		if finished {
			return nil
		}

		if !progress {
			return s.deadlock()
		}
	}
}

func (s *scheduler) deadlock() error {
	for id := range s.agents {
		if s.done(id) {
			continue
		}

		reqs, _ := s.requirements(id, s.issued[id])
		for _, r := range reqs {
			if s.issued[r.agent] <= r.stripe {
				return fmt.Errorf(
					"%w: agent %d (%s) stripe %d needs agent %d (%s) stripe %d",
					ErrDeadlock, id, s.agents[id].Type, s.issued[id],
					r.agent, s.agents[r.agent].Type, r.stripe)
			}
		}
	}

	return ErrDeadlock
}

func (s *scheduler) other(id, rel, direction int) (int, error) {
	o := id + direction*rel
	if o < 0 || o >= len(s.agents) {
		return 0, fmt.Errorf("%w: agent %d refers to agent %d",
			ErrRange, id, o)
	}

	return o, nil
}

// requirements lists the stripes of other agents that must be issued before
// stripe k of the agent.
func (s *scheduler) requirements(id, k int) ([]requirement, error) {
	a := &s.agents[id]
	slots := a.NumSlots()

	var reqs []requirement

	for _, d := range a.Info.Read {
		p, err := s.other(id, int(d.RelativeAgentID), -1)
		if err != nil {
			return nil, err
		}

		total := int(s.agents[p].NumStripesTotal)
		reqs = append(reqs, requirement{
			agent:  p,
			stripe: dependency.OtherStripe(d, k, total),
			wait:   true,
		})
	}

	for _, d := range a.Info.Write {
		c, err := s.other(id, int(d.RelativeAgentID), 1)
		if err != nil {
			return nil, err
		}

		if k < slots {
			continue
		}

		total := int(s.agents[c].NumStripesTotal)
		reqs = append(reqs, requirement{
			agent:  c,
			stripe: dependency.OtherStripe(d, k-slots, total),
			wait:   true,
		})
	}

	for _, d := range a.Info.Schedule {
		c, err := s.other(id, int(d.RelativeAgentID), 1)
		if err != nil {
			return nil, err
		}

		window := slots * int(d.Inner.Self)
		if k < window {
			continue
		}

		total := int(s.agents[c].NumStripesTotal)
		reqs = append(reqs, requirement{
			agent:  c,
			stripe: dependency.OtherStripe(d, k-window, total),
		})
	}

	return reqs, nil
}

func (s *scheduler) satisfied(reqs []requirement) bool {
	for _, r := range reqs {
		if r.stripe >= 0 && s.issued[r.agent] <= r.stripe {
			return false
		}
	}

	return true
}

func (s *scheduler) issue(id int, reqs []requirement) {
	a := &s.agents[id]
	q := a.Queue()
	k := s.issued[id]

	var want [agent.NumCounters]uint32

	for _, r := range reqs {
		if !r.wait || r.stripe < 0 || s.agents[r.agent].Queue() == q {
			continue
		}

		c := s.completions[r.agent][r.stripe]
		want[c.counter] = max(want[c.counter], c.value)
	}

	for counter, value := range want {
		if value > 0 {
			s.wait(q, agent.CounterName(counter), value)
		}
	}

	loadKernel := a.Type == agent.PleScheduler && s.loadsKernel(id)

	for _, t := range stripeCommands(a, k, loadKernel) {
		s.lists.push(q, agent.NewStripeCommand(t, uint16(id), uint32(k)))

		if counter, ok := agent.CounterOf(t); ok {
			s.counters[counter]++

			if t.IsStripe() {
				s.completions[id][k] = completion{
					counter: counter,
					value:   s.counters[counter],
				}
			}
		}
	}

	s.issued[id]++
}

// wait emits a wait on the queue unless an earlier wait already covers it.
// Commands on the producer's own queue run in order and never wait.
func (s *scheduler) wait(q agent.Queue, counter agent.CounterName, value uint32) {
	if s.lastWait[q][counter] >= value {
		return
	}

	s.lastWait[q][counter] = value
	s.lists.push(q, agent.NewWaitForCounter(counter, value))
}

// stripeCommands returns the commands that process stripe k of an agent. The
// last command completes the stripe.
func stripeCommands(a *agent.Agent, k int, loadKernel bool) []agent.CommandType {
	switch a.Type {
	case agent.IfmStreamer:
		return []agent.CommandType{agent.LoadIfmStripe}
	case agent.WgtStreamer:
		return []agent.CommandType{agent.LoadWgtStripe}
	case agent.PleLoader:
		return []agent.CommandType{agent.LoadPleCodeIntoSram}
	case agent.MceScheduler:
		if k == 0 {
			return []agent.CommandType{
				agent.ConfigMceif, agent.ProgramMceStripe, agent.StartMceStripe,
			}
		}

		return []agent.CommandType{agent.ProgramMceStripe, agent.StartMceStripe}
	case agent.PleScheduler:
		if k == 0 && loadKernel {
			return []agent.CommandType{
				agent.LoadPleCodeIntoPleSram, agent.StartPleStripe,
			}
		}

		return []agent.CommandType{agent.StartPleStripe}
	default:
		return []agent.CommandType{agent.StoreOfmStripe}
	}
}

// loadsKernel returns true if the agent reads from a PleLoader.
func (s *scheduler) loadsKernel(id int) bool {
	for _, d := range s.agents[id].Info.Read {
		p := id - int(d.RelativeAgentID)
		if p >= 0 && s.agents[p].Type == agent.PleLoader {
			return true
		}
	}

	return false
}
