package core

import (
	"context"
	"io"
	"log/slog"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/sarchlab/cascadegen/agent"
)

const (
	LevelTrace slog.Level = slog.LevelInfo + 1
)

func Trace(msg string, args ...any) {
	slog.Log(context.Background(), LevelTrace, msg, args...)
}

// PrintState writes the counters and the state of every queue attached to
// them.
func PrintState(w io.Writer, counters *Counters) {
	counterTable := table.NewWriter()
	counterTable.SetOutputMirror(w)
	counterTable.SetTitle("Counters")
	counterTable.AppendHeader(table.Row{"Counter", "Value"})

	for name := agent.CounterName(0); name < agent.NumCounters; name++ {
		counterTable.AppendRow(table.Row{name, counters.Value(name)})
	}

	counterTable.Render()

	queueTable := table.NewWriter()
	queueTable.SetOutputMirror(w)
	queueTable.SetTitle("Queues")
	queueTable.AppendHeader(table.Row{
		"Queue", "Executed", "Pending", "Stalled", "Head",
	})

	for _, q := range counters.queues {
		head := "-"
		if cmd, ok := q.Head(); ok {
			head = cmd.String()
		}

		queueTable.AppendRow(table.Row{
			q.Name(), q.Executed(), q.Pending(), q.Stalled(), head,
		})
	}

	queueTable.Render()
}

func LogState(counters *Counters) {
	slog.Debug("StateCheckpoint",
		"Counters", counters.Values(),
		"Queues", len(counters.queues),
	)
}
