package verify

import (
	"fmt"
	"strings"

	"github.com/sarchlab/cascadegen/agent"
	"github.com/sarchlab/cascadegen/dependency"
)

// Run executes the functional simulator for up to maxSteps steps.
// Returns an error if a hazard is found or the queues cannot finish.
func (fs *FunctionalSimulator) Run(maxSteps int) error {
	if fs.cascade == nil {
		return fmt.Errorf("FunctionalSimulator not properly initialized")
	}

	for ; fs.steps < maxSteps; fs.steps++ {
		if fs.Done() {
			return nil
		}

		progress := false

		for q := agent.Queue(0); q < agent.NumQueues; q++ {
			ran, err := fs.step(q)
			if err != nil {
				return err
			}

			progress = ran || progress
		}

		if !progress {
			return fs.deadlock()
		}
	}

	if fs.Done() {
		return nil
	}

	return fmt.Errorf("%w: %d steps", ErrStepLimit, maxSteps)
}

// step runs the head of a queue if it can run.
func (fs *FunctionalSimulator) step(q agent.Queue) (bool, error) {
	cmds := fs.cascade.Commands.Queue(q)
	if fs.heads[q] >= len(cmds) {
		return false, nil
	}

	cmd := cmds[fs.heads[q]]

	if cmd.Type == agent.WaitForCounter {
		if !cmd.Counter.IsValid() {
			return false, fmt.Errorf("%w: %s[%d] waits on %s",
				ErrMalformed, q, fs.heads[q], cmd.Counter)
		}

		if fs.counters[cmd.Counter] < cmd.CounterValue {
			return false, nil
		}

		fs.retire(q, cmd)

		return true, nil
	}

	if int(cmd.AgentID) >= len(fs.cascade.Agents) {
		return false, fmt.Errorf("%w: %s[%d] refers to agent %d of %d",
			ErrMalformed, q, fs.heads[q], cmd.AgentID, len(fs.cascade.Agents))
	}

	if cmd.Type.IsStripe() {
		if err := fs.checkStripe(cmd); err != nil {
			return false, fmt.Errorf("%s[%d]: %w", q, fs.heads[q], err)
		}

		fs.completed[cmd.AgentID]++
	}

	if counter, ok := agent.CounterOf(cmd.Type); ok {
		fs.counters[counter]++
	}

	fs.retire(q, cmd)

	return true, nil
}

func (fs *FunctionalSimulator) retire(q agent.Queue, cmd agent.Command) {
	if fs.TraceCommand != nil {
		fs.TraceCommand(fs.steps, q, cmd)
	}

	fs.heads[q]++
}

// checkStripe verifies that a stripe completes in order and after every
// stripe it depends on.
func (fs *FunctionalSimulator) checkStripe(cmd agent.Command) error {
	agents := fs.cascade.Agents
	id := int(cmd.AgentID)
	a := &agents[id]
	k := fs.completed[id]

	if int(cmd.StripeID) != k {
		return fmt.Errorf("%w: agent %d completes stripe %d, expected %d",
			ErrMalformed, id, cmd.StripeID, k)
	}

	if k >= int(a.NumStripesTotal) {
		return fmt.Errorf("%w: agent %d has only %d stripes",
			ErrMalformed, id, a.NumStripesTotal)
	}

	for _, d := range a.Info.Read {
		p := id - int(d.RelativeAgentID)
		if p < 0 {
			return fmt.Errorf("%w: agent %d reads agent %d", ErrMalformed, id, p)
		}

		need := dependency.OtherStripe(d, k, int(agents[p].NumStripesTotal))
		if fs.completed[p] <= need {
			return fmt.Errorf(
				"%w: read after write, agent %d (%s) stripe %d ran before agent %d (%s) stripe %d",
				ErrHazard, id, a.Type, k, p, agents[p].Type, need)
		}
	}

	slots := a.NumSlots()
	if k < slots {
		return nil
	}

	for _, d := range a.Info.Write {
		c := id + int(d.RelativeAgentID)
		if c >= len(agents) {
			return fmt.Errorf("%w: agent %d writes for agent %d", ErrMalformed, id, c)
		}

		need := dependency.OtherStripe(d, k-slots, int(agents[c].NumStripesTotal))
		if fs.completed[c] <= need {
			return fmt.Errorf(
				"%w: write after read, agent %d (%s) stripe %d overwrote a slot agent %d (%s) stripe %d still reads",
				ErrHazard, id, a.Type, k, c, agents[c].Type, need)
		}
	}

	return nil
}

func (fs *FunctionalSimulator) deadlock() error {
	var heads []string

	for q := agent.Queue(0); q < agent.NumQueues; q++ {
		cmds := fs.cascade.Commands.Queue(q)
		if fs.heads[q] < len(cmds) {
			heads = append(heads, fmt.Sprintf("%s: %s", q, cmds[fs.heads[q]]))
		}
	}

	return fmt.Errorf("%w after %d steps, counters %v, blocked on %s",
		ErrDeadlock, fs.steps, fs.counters, strings.Join(heads, "; "))
}
