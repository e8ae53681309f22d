package agent

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
)

// Table renders the agents and their dependencies as a text table.
func Table(agents []Agent) string {
	t := table.NewWriter()
	t.SetTitle(fmt.Sprintf("Agents (%d)", len(agents)))
	t.AppendHeader(table.Row{"ID", "Type", "Stripes", "Read", "Write", "Schedule"})

	for i := range agents {
		a := &agents[i]
		t.AppendRow(table.Row{
			i,
			a.Type,
			a.NumStripesTotal,
			formatDependencies(i, -1, a.Info.Read),
			formatDependencies(i, 1, a.Info.Write),
			formatDependencies(i, 1, a.Info.Schedule),
		})
	}

	return t.Render()
}

func formatDependencies(id, direction int, deps []Dependency) string {
	parts := make([]string, 0, len(deps))

	for _, d := range deps {
		parts = append(parts, fmt.Sprintf("@%d %d:%d/%d:%d b%d",
			id+direction*int(d.RelativeAgentID),
			d.Outer.Self, d.Outer.Other, d.Inner.Self, d.Inner.Other,
			d.Boundary))
	}

	return strings.Join(parts, "\n")
}
