package api

import "github.com/sarchlab/cascadegen/agent"

// commandQueue is the part of a hardware queue the driver feeds.
type commandQueue interface {
	Name() string
	Kind() agent.Queue
	CanPush() bool
	Push(cmd agent.Command) error
	Pending() int
}
