// Package stream holds the command stream handed to the firmware, with its
// binary encoding and a lossless XML dump for debugging.
package stream

import (
	"errors"
	"fmt"

	"github.com/sarchlab/cascadegen/agent"
	"github.com/sarchlab/cascadegen/scheduler"
)

// ErrInvalidBinary is returned when a binary or XML stream cannot be parsed.
var ErrInvalidBinary = errors.New("invalid command stream")

// ErrTooManyDependencies is returned when an agent carries more dependencies
// than its binary record can hold.
var ErrTooManyDependencies = errors.New("too many dependencies")

// Version is the command stream format version.
type Version struct {
	Major uint32
	Minor uint32
	Patch uint32
}

// CurrentVersion is the version written by this package.
var CurrentVersion = Version{Major: 0, Minor: 1, Patch: 0}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Opcode identifies a top-level stream command.
type Opcode uint32

// Opcodes.
const (
	OpcodeDumpDram Opcode = iota + 1
	OpcodeDumpSram
	OpcodeCascade
)

func (o Opcode) String() string {
	switch o {
	case OpcodeDumpDram:
		return "DUMP_DRAM"
	case OpcodeDumpSram:
		return "DUMP_SRAM"
	case OpcodeCascade:
		return "CASCADE"
	default:
		return fmt.Sprintf("Opcode(%d)", uint32(o))
	}
}

// An Entry is a top-level command of the stream.
type Entry interface {
	Opcode() Opcode
}

// MaxFilenameLength is the size of the fixed string fields, including the
// terminating zero.
const MaxFilenameLength = 128

// DumpDram asks the firmware to write a DRAM buffer to a file.
type DumpDram struct {
	DramBufferID uint32 `xml:"DRAM_BUFFER_ID"`
	Filename     string `xml:"FILENAME"`
}

// Opcode implements Entry.
func (*DumpDram) Opcode() Opcode { return OpcodeDumpDram }

// DumpSram asks the firmware to write the SRAM contents to files.
type DumpSram struct {
	Prefix string `xml:"PREFIX"`
}

// Opcode implements Entry.
func (*DumpSram) Opcode() Opcode { return OpcodeDumpSram }

// Cascade is a set of agents and the queue commands that run them.
type Cascade struct {
	Agents    []agent.Agent
	Commands  scheduler.CommandLists
	ExtraData []agent.ExtraData
}

// Opcode implements Entry.
func (*Cascade) Opcode() Opcode { return OpcodeCascade }

// NumStripeCommands returns the number of stripe completing commands issued
// for each agent.
func (c *Cascade) NumStripeCommands() []int {
	counts := make([]int, len(c.Agents))

	for q := agent.Queue(0); q < agent.NumQueues; q++ {
		for _, cmd := range c.Commands.Queue(q) {
			if cmd.Type.IsStripe() && int(cmd.AgentID) < len(counts) {
				counts[cmd.AgentID]++
			}
		}
	}

	return counts
}

// CommandStream is an ordered list of entries.
type CommandStream struct {
	Version Version
	Entries []Entry
}

// New creates an empty stream of the current version.
func New() *CommandStream {
	return &CommandStream{Version: CurrentVersion}
}

// Add appends an entry to the stream.
func (s *CommandStream) Add(e Entry) {
	s.Entries = append(s.Entries, e)
}

// Cascades returns the cascades of the stream in order.
func (s *CommandStream) Cascades() []*Cascade {
	var cascades []*Cascade

	for _, e := range s.Entries {
		if c, ok := e.(*Cascade); ok {
			cascades = append(cascades, c)
		}
	}

	return cascades
}
