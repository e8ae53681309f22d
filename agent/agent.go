// Package agent defines the hardware execution descriptors of a cascade, the
// dependencies between them and the commands that drive the hardware queues.
package agent

import (
	"fmt"
)

// AgentType is the kind of an agent.
type AgentType uint8

// Agent types.
const (
	IfmStreamer AgentType = iota
	WgtStreamer
	MceScheduler
	PleLoader
	PleScheduler
	OfmStreamer
)

// NumAgentTypes is the number of agent types.
const NumAgentTypes = 6

var agentTypeNames = []string{
	"IFM_STREAMER",
	"WGT_STREAMER",
	"MCE_SCHEDULER",
	"PLE_LOADER",
	"PLE_SCHEDULER",
	"OFM_STREAMER",
}

func (t AgentType) String() string {
	if t.IsValid() {
		return agentTypeNames[t]
	}

	return fmt.Sprintf("AgentType(%d)", t)
}

// IsValid returns true for the six defined agent types.
func (t AgentType) IsValid() bool {
	return int(t) < len(agentTypeNames)
}

// ParseAgentType converts a tag name such as IFM_STREAMER into an agent type.
func ParseAgentType(s string) (AgentType, error) {
	for i, n := range agentTypeNames {
		if n == s {
			return AgentType(i), nil
		}
	}

	return 0, fmt.Errorf("unknown agent type %q", s)
}

// Agent is the per-op hardware execution descriptor. Exactly one payload
// pointer is set, matching Type.
type Agent struct {
	Type            AgentType
	NumStripesTotal uint16

	Ifm  *IfmS
	Wgt  *WgtS
	Mce  *MceS
	PleL *PleL
	PleS *PleS
	Ofm  *OfmS

	Info DependencyInfo
}

// NewIfmStreamer creates an IfmStreamer agent.
func NewIfmStreamer(numStripes uint16, data IfmS) Agent {
	return Agent{Type: IfmStreamer, NumStripesTotal: numStripes, Ifm: &data}
}

// NewWgtStreamer creates a WgtStreamer agent.
func NewWgtStreamer(numStripes uint16, data WgtS) Agent {
	return Agent{Type: WgtStreamer, NumStripesTotal: numStripes, Wgt: &data}
}

// NewMceScheduler creates an MceScheduler agent.
func NewMceScheduler(numStripes uint16, data MceS) Agent {
	return Agent{Type: MceScheduler, NumStripesTotal: numStripes, Mce: &data}
}

// NewPleLoader creates a PleLoader agent. A loader always has one stripe.
func NewPleLoader(data PleL) Agent {
	return Agent{Type: PleLoader, NumStripesTotal: 1, PleL: &data}
}

// NewPleScheduler creates a PleScheduler agent.
func NewPleScheduler(numStripes uint16, data PleS) Agent {
	return Agent{Type: PleScheduler, NumStripesTotal: numStripes, PleS: &data}
}

// NewOfmStreamer creates an OfmStreamer agent.
func NewOfmStreamer(numStripes uint16, data OfmS) Agent {
	return Agent{Type: OfmStreamer, NumStripesTotal: numStripes, Ofm: &data}
}

// Validate checks that the payload matches the type.
func (a *Agent) Validate() error {
	var ok bool

	switch a.Type {
	case IfmStreamer:
		ok = a.Ifm != nil
	case WgtStreamer:
		ok = a.Wgt != nil
	case MceScheduler:
		ok = a.Mce != nil
	case PleLoader:
		ok = a.PleL != nil
	case PleScheduler:
		ok = a.PleS != nil
	case OfmStreamer:
		ok = a.Ofm != nil
	default:
		return fmt.Errorf("invalid agent type %d", a.Type)
	}

	if !ok {
		return fmt.Errorf("%s agent has no payload", a.Type)
	}

	return nil
}

// NumSlots returns the number of SRAM slots the agent writes into. Agents
// that do not write SRAM report a single slot.
func (a *Agent) NumSlots() int {
	var n uint16

	switch a.Type {
	case IfmStreamer:
		n = a.Ifm.Tile.NumSlots
	case WgtStreamer:
		n = a.Wgt.Tile.NumSlots
	case MceScheduler:
		n = a.Mce.OfmTile.NumSlots
	case PleScheduler:
		n = a.PleS.OfmTile.NumSlots
	}

	if n == 0 {
		return 1
	}

	return int(n)
}

// Queue returns the hardware queue the agent's commands run on.
func (a *Agent) Queue() Queue {
	switch a.Type {
	case IfmStreamer, WgtStreamer, PleLoader:
		return QueueDmaRd
	case MceScheduler:
		return QueueMce
	case PleScheduler:
		return QueuePle
	default:
		return QueueDmaWr
	}
}

// DependencyInfo holds the dependencies recorded on an agent. Read
// dependencies point back to producers; write and schedule dependencies are
// recorded on a producer and point forward to its consumers.
type DependencyInfo struct {
	Read     []Dependency `xml:"READ_DEPENDENCIES>DEPENDENCY"`
	Write    []Dependency `xml:"WRITE_DEPENDENCIES>DEPENDENCY"`
	Schedule []Dependency `xml:"SCHEDULE_DEPENDENCIES>DEPENDENCY"`
}

// Limits of the fixed-size dependency arrays in the binary agent record.
const (
	MaxReadDependencies     = 4
	MaxWriteDependencies    = 4
	MaxScheduleDependencies = 4
)

// MaxRelativeAgentPosition is the furthest back, in agent ids, that a
// dependency may reach.
const MaxRelativeAgentPosition = 255

// Ratio relates a number of stripes of the owning agent (Self) to a number of
// stripes of the other agent (Other).
type Ratio struct {
	Self  uint16 `xml:"SELF,attr"`
	Other uint16 `xml:"OTHER,attr"`
}

// Dependency is a directed stripe-level relation between two agents.
type Dependency struct {
	RelativeAgentID uint8 `xml:"RELATIVE_AGENT_ID,attr"`
	Boundary        uint8 `xml:"BOUNDARY,attr"`
	Outer           Ratio `xml:"OUTER_RATIO"`
	Inner           Ratio `xml:"INNER_RATIO"`
}

func (d Dependency) String() string {
	return fmt.Sprintf("rel=%d outer=%d:%d inner=%d:%d boundary=%d",
		d.RelativeAgentID, d.Outer.Self, d.Outer.Other,
		d.Inner.Self, d.Inner.Other, d.Boundary)
}
