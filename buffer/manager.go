// Package buffer keeps track of the DRAM buffers used by a compiled network
// and lays them out in memory.
package buffer

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"
)

// ErrUnknownBuffer is returned when an id does not name a buffer.
var ErrUnknownBuffer = errors.New("unknown buffer")

// Alignment is the DRAM alignment of every buffer, in bytes.
const Alignment = 64

// Kind tells how a DRAM buffer is used.
type Kind int

// Buffer kinds.
const (
	KindInput Kind = iota
	KindOutput
	KindIntermediate
	KindConstant
)

func (k Kind) String() string {
	switch k {
	case KindInput:
		return "Input"
	case KindOutput:
		return "Output"
	case KindIntermediate:
		return "Intermediate"
	case KindConstant:
		return "Constant"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Lifetime is the half open range of agent ids during which a buffer holds
// live data.
type Lifetime struct {
	Start uint32
	End   uint32
}

// Overlaps returns true if the two ranges share at least one agent id.
func (l Lifetime) Overlaps(o Lifetime) bool {
	return l.Start < o.End && o.Start < l.End
}

// Buffer is a DRAM buffer.
type Buffer struct {
	ID        uint32
	Kind      Kind
	Size      uint32
	DebugName string

	// SourceOpID is the operation that owns an input or an output buffer.
	SourceOpID  uint32
	OutputIndex uint32

	Data []byte

	Lifetime    Lifetime
	HasLifetime bool

	Offset    uint32
	Allocated bool
}

// Manager hands out DRAM buffer ids and allocates the buffers once all of
// them are known.
type Manager struct {
	buffers []Buffer
	logger  *slog.Logger
}

// NewManager creates an empty manager. A nil logger logs to the default
// logger.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{logger: logger}
}

func (m *Manager) add(b Buffer) uint32 {
	b.ID = uint32(len(m.buffers))
	m.buffers = append(m.buffers, b)

	m.logger.Debug("add DRAM buffer",
		"id", b.ID, "kind", b.Kind, "size", b.Size, "name", b.DebugName)

	return b.ID
}

// AddDramInput registers a network input owned by the given operation.
func (m *Manager) AddDramInput(size, opID uint32) uint32 {
	return m.add(Buffer{
		Kind:       KindInput,
		Size:       size,
		SourceOpID: opID,
		DebugName:  fmt.Sprintf("input_%d", opID),
	})
}

// AddDram registers an intermediate buffer.
func (m *Manager) AddDram(size uint32, debugName string) uint32 {
	return m.add(Buffer{
		Kind:      KindIntermediate,
		Size:      size,
		DebugName: debugName,
	})
}

// AddDramConstant registers a constant buffer holding a copy of data.
func (m *Manager) AddDramConstant(data []byte) uint32 {
	return m.add(Buffer{
		Kind:      KindConstant,
		Size:      uint32(len(data)),
		Data:      append([]byte(nil), data...),
		DebugName: fmt.Sprintf("constant_%d", len(m.buffers)),
	})
}

// ChangeToOutput turns a buffer into a network output. Unknown ids are
// ignored with an error log.
func (m *Manager) ChangeToOutput(id, sourceOpID, outputIdx uint32) {
	b, ok := m.get(id)
	if !ok {
		m.logger.Error("change to output", "id", id, "err", ErrUnknownBuffer)
		return
	}

	b.Kind = KindOutput
	b.SourceOpID = sourceOpID
	b.OutputIndex = outputIdx
	b.HasLifetime = false
	b.DebugName = fmt.Sprintf("output_%d_%d", sourceOpID, outputIdx)
}

// MarkBufferUsedAtTime records that the buffer is live from start up to but
// not including end. Repeated calls widen the lifetime.
func (m *Manager) MarkBufferUsedAtTime(id, start, end uint32) {
	b, ok := m.get(id)
	if !ok {
		m.logger.Error("mark buffer used", "id", id, "err", ErrUnknownBuffer)
		return
	}

	if !b.HasLifetime {
		b.Lifetime = Lifetime{Start: start, End: end}
		b.HasLifetime = true

		return
	}

	b.Lifetime.Start = min(b.Lifetime.Start, start)
	b.Lifetime.End = max(b.Lifetime.End, end)
}

func (m *Manager) get(id uint32) (*Buffer, bool) {
	if int(id) >= len(m.buffers) {
		return nil, false
	}

	return &m.buffers[id], true
}

// Buffer returns a copy of the buffer with the given id.
func (m *Manager) Buffer(id uint32) (Buffer, error) {
	b, ok := m.get(id)
	if !ok {
		return Buffer{}, fmt.Errorf("%w: %d", ErrUnknownBuffer, id)
	}

	return *b, nil
}

// Buffers returns all buffers in id order.
func (m *Manager) Buffers() []Buffer {
	return append([]Buffer(nil), m.buffers...)
}

// Allocate assigns a DRAM offset to every buffer and returns the total size.
//
// Inputs, outputs and constants are laid out one after another. The
// intermediates follow them and may share space when their lifetimes do not
// overlap; each is placed at the lowest offset that fits, in order of
// lifetime start. An intermediate without a lifetime is live for the whole
// run.
func (m *Manager) Allocate() uint32 {
	var (
		offset        uint32
		intermediates []*Buffer
	)

	for i := range m.buffers {
		b := &m.buffers[i]
		if b.Kind == KindIntermediate {
			intermediates = append(intermediates, b)
			continue
		}

		b.Offset = offset
		b.Allocated = true
		offset = alignUp(offset + b.Size)
	}

	base := offset
	end := base

	sort.SliceStable(intermediates, func(i, j int) bool {
		return lifetimeOf(intermediates[i]).Start <
			lifetimeOf(intermediates[j]).Start
	})

	var placed []*Buffer

	for _, b := range intermediates {
		b.Offset = base + firstFit(b, placed, base)
		b.Allocated = true
		placed = append(placed, b)

		end = max(end, alignUp(b.Offset+b.Size))
	}

	m.logger.Debug("allocate DRAM", "buffers", len(m.buffers), "size", end)

	return end
}

func lifetimeOf(b *Buffer) Lifetime {
	if !b.HasLifetime {
		return Lifetime{Start: 0, End: ^uint32(0)}
	}

	return b.Lifetime
}

// firstFit returns the lowest offset, relative to base, at which b does not
// collide with any placed buffer that is live at the same time.
func firstFit(b *Buffer, placed []*Buffer, base uint32) uint32 {
	var live []*Buffer

	for _, p := range placed {
		if lifetimeOf(p).Overlaps(lifetimeOf(b)) {
			live = append(live, p)
		}
	}

	sort.Slice(live, func(i, j int) bool {
		return live[i].Offset < live[j].Offset
	})

	var candidate uint32

	for _, p := range live {
		start := p.Offset - base
		if candidate+b.Size <= start {
			break
		}

		candidate = max(candidate, alignUp(start+p.Size))
	}

	return candidate
}

func alignUp(v uint32) uint32 {
	return (v + Alignment - 1) / Alignment * Alignment
}

// Dump writes a table of the buffers.
func (m *Manager) Dump(w io.Writer) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("DRAM Buffers")
	t.AppendHeader(table.Row{
		"ID", "Kind", "Name", "Size", "Offset", "Lifetime",
	})

	for _, b := range m.buffers {
		lifetime := "-"
		if b.HasLifetime {
			lifetime = fmt.Sprintf("[%d, %d)", b.Lifetime.Start, b.Lifetime.End)
		}

		offset := "-"
		if b.Allocated {
			offset = fmt.Sprintf("0x%08x", b.Offset)
		}

		t.AppendRow(table.Row{
			b.ID, b.Kind, b.DebugName, b.Size, offset, lifetime,
		})
	}

	t.Render()
}
