package verify

import (
	"fmt"

	"github.com/sarchlab/cascadegen/agent"
	"github.com/sarchlab/cascadegen/stream"
)

// RunLint performs static lint checks on a cascade.
// It validates structure (STRUCT) and the wait commands (TIMING).
// Returns a list of issues found, or empty list if no issues.
func RunLint(c *stream.Cascade) []Issue {
	var issues []Issue

	issues = append(issues, lintAgents(c.Agents)...)
	issues = append(issues, lintSymmetry(c.Agents)...)
	issues = append(issues, lintCommands(c)...)
	issues = append(issues, lintStripes(c)...)
	issues = append(issues, lintWaits(c)...)

	return issues
}

func agentIssue(t IssueType, id int, format string, args ...interface{}) Issue {
	return Issue{
		Type:    t,
		Agent:   id,
		Command: -1,
		Message: fmt.Sprintf(format, args...),
	}
}

// STRUCT: payloads and dependency windows
func lintAgents(agents []agent.Agent) []Issue {
	var issues []Issue

	n := len(agents)

	for id := range agents {
		a := &agents[id]

		if err := a.Validate(); err != nil {
			issues = append(issues, agentIssue(IssueStruct, id, "%v", err))
			continue
		}

		if a.NumStripesTotal == 0 {
			issues = append(issues, agentIssue(IssueStruct, id,
				"%s agent has no stripes", a.Type))
		}

		check := func(kind string, deps []agent.Dependency, direction int) {
			for _, d := range deps {
				other := id + direction*int(d.RelativeAgentID)

				switch {
				case d.RelativeAgentID == 0:
					issues = append(issues, agentIssue(IssueStruct, id,
						"%s dependency on itself", kind))
				case other < 0 || other >= n:
					issues = append(issues, agentIssue(IssueStruct, id,
						"%s dependency on agent %d outside the cascade", kind, other))
				case d.Outer.Self == 0 || d.Outer.Other == 0 ||
					d.Inner.Self == 0 || d.Inner.Other == 0:
					issues = append(issues, agentIssue(IssueStruct, id,
						"%s dependency on agent %d has a zero ratio", kind, other))
				case d.Inner.Self > d.Outer.Self || d.Inner.Other > d.Outer.Other:
					issues = append(issues, agentIssue(IssueStruct, id,
						"%s dependency on agent %d has an inner ratio larger than its outer ratio",
						kind, other))
				}
			}
		}

		check("read", a.Info.Read, -1)
		check("write", a.Info.Write, 1)
		check("schedule", a.Info.Schedule, 1)
	}

	return issues
}

// STRUCT: every write dependency of a producer is matched by a read
// dependency of its consumer
func lintSymmetry(agents []agent.Agent) []Issue {
	var issues []Issue

	for id := range agents {
		for _, d := range agents[id].Info.Write {
			c := id + int(d.RelativeAgentID)
			if d.RelativeAgentID == 0 || c >= len(agents) {
				continue
			}

			if !hasRead(&agents[c], d.RelativeAgentID) {
				issues = append(issues, agentIssue(IssueStruct, id,
					"write dependency on agent %d has no matching read dependency", c))
			}
		}
	}

	return issues
}

func hasRead(a *agent.Agent, rel uint8) bool {
	for _, d := range a.Info.Read {
		if d.RelativeAgentID == rel {
			return true
		}
	}

	return false
}

// STRUCT: every command runs on the queue of its type and of its agent
func lintCommands(c *stream.Cascade) []Issue {
	var issues []Issue

	for q := agent.Queue(0); q < agent.NumQueues; q++ {
		for i, cmd := range c.Commands.Queue(q) {
			if cmd.Type == agent.WaitForCounter {
				continue
			}

			issue := Issue{
				Type:    IssueStruct,
				Agent:   int(cmd.AgentID),
				Queue:   q,
				Command: i,
			}

			target, ok := agent.QueueOf(cmd.Type)

			switch {
			case !ok:
				issue.Message = fmt.Sprintf("unknown command type %s", cmd.Type)
			case target != q:
				issue.Message = fmt.Sprintf("%s belongs on %s", cmd.Type, target)
			case int(cmd.AgentID) >= len(c.Agents):
				issue.Message = fmt.Sprintf("%s refers to agent %d of %d",
					cmd.Type, cmd.AgentID, len(c.Agents))
			case c.Agents[cmd.AgentID].Queue() != q:
				issue.Message = fmt.Sprintf("%s agent has a command on %s",
					c.Agents[cmd.AgentID].Type, q)
			case cmd.StripeID >= uint32(c.Agents[cmd.AgentID].NumStripesTotal):
				issue.Message = fmt.Sprintf("stripe %d of an agent with %d stripes",
					cmd.StripeID, c.Agents[cmd.AgentID].NumStripesTotal)
			default:
				continue
			}

			issues = append(issues, issue)
		}
	}

	return issues
}

// STRUCT: one completing command per stripe
func lintStripes(c *stream.Cascade) []Issue {
	var issues []Issue

	for id, n := range c.NumStripeCommands() {
		if want := int(c.Agents[id].NumStripesTotal); n != want {
			issue := agentIssue(IssueStruct, id,
				"%d stripe commands for %d stripes", n, want)
			issue.Details = map[string]interface{}{
				"stripe_commands": n,
				"stripes":         want,
			}
			issues = append(issues, issue)
		}
	}

	return issues
}

// TIMING: waits are reachable, increasing and never on the own counter
func lintWaits(c *stream.Cascade) []Issue {
	var (
		issues []Issue
		totals [agent.NumCounters]uint32
	)

	for q := agent.Queue(0); q < agent.NumQueues; q++ {
		for _, cmd := range c.Commands.Queue(q) {
			if counter, ok := agent.CounterOf(cmd.Type); ok {
				totals[counter]++
			}
		}
	}

	for q := agent.Queue(0); q < agent.NumQueues; q++ {
		var last [agent.NumCounters]uint32

		for i, cmd := range c.Commands.Queue(q) {
			if cmd.Type != agent.WaitForCounter {
				continue
			}

			issue := Issue{
				Type:    IssueTiming,
				Agent:   -1,
				Queue:   q,
				Command: i,
				Details: map[string]interface{}{
					"counter": cmd.Counter.String(),
					"value":   cmd.CounterValue,
				},
			}

			switch {
			case !cmd.Counter.IsValid():
				issue.Type = IssueStruct
				issue.Message = fmt.Sprintf("wait on unknown counter %d", cmd.Counter)
			case cmd.Counter.Queue() == q:
				issue.Message = fmt.Sprintf("wait on the queue's own counter %s", cmd.Counter)
			case cmd.CounterValue > totals[cmd.Counter]:
				issue.Message = fmt.Sprintf("wait for %s >= %d, only %d commands increment it",
					cmd.Counter, cmd.CounterValue, totals[cmd.Counter])
				issue.Details["reachable"] = totals[cmd.Counter]
			case cmd.CounterValue <= last[cmd.Counter]:
				issue.Message = fmt.Sprintf("wait for %s >= %d after a wait for %d",
					cmd.Counter, cmd.CounterValue, last[cmd.Counter])
			default:
				last[cmd.Counter] = cmd.CounterValue
				continue
			}

			issues = append(issues, issue)
		}
	}

	return issues
}
