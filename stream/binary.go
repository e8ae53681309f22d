package stream

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/sarchlab/cascadegen/agent"
	"github.com/sarchlab/cascadegen/scheduler"
)

var byteOrder = binary.LittleEndian

var magic = [4]byte{'E', 'N', 'C', 'S'}

type header struct {
	Magic   [4]byte
	Version Version
}

type entryHeader struct {
	Opcode Opcode
	Size   uint32
}

type dumpDramRecord struct {
	DramBufferID uint32
	Filename     [MaxFilenameLength]byte
}

type dumpSramRecord struct {
	Prefix [MaxFilenameLength]byte
}

type cascadeHeader struct {
	NumAgents    uint32
	NumDmaRd     uint32
	NumDmaWr     uint32
	NumMce       uint32
	NumPle       uint32
	NumExtraData uint32
}

type dependencyRecord struct {
	RelativeAgentID uint8
	Boundary        uint8
	OuterSelf       uint16
	OuterOther      uint16
	InnerSelf       uint16
	InnerOther      uint16
}

type agentRecord struct {
	Type            agent.AgentType
	NumRead         uint8
	NumWrite        uint8
	NumSchedule     uint8
	NumStripesTotal uint16
	_               uint16

	Read     [agent.MaxReadDependencies]dependencyRecord
	Write    [agent.MaxWriteDependencies]dependencyRecord
	Schedule [agent.MaxScheduleDependencies]dependencyRecord
}

type commandRecord struct {
	Type         agent.CommandType
	Counter      agent.CounterName
	AgentID      uint16
	StripeID     uint32
	CounterValue uint32
}

type extraDataRecord struct {
	Kind         agent.ExtraDataKind
	Queue        agent.Queue
	_            uint16
	CommandIndex uint32
}

// agentDataSize is the size of the payload area of an agent record, large
// enough for any agent type.
var agentDataSize = max(
	binary.Size(agent.IfmS{}),
	binary.Size(agent.WgtS{}),
	binary.Size(agent.MceS{}),
	binary.Size(agent.PleL{}),
	binary.Size(agent.PleS{}),
	binary.Size(agent.OfmS{}),
)

// Encode writes the stream in its binary form.
func Encode(w io.Writer, s *CommandStream) error {
	if err := binary.Write(w, byteOrder, header{Magic: magic, Version: s.Version}); err != nil {
		return err
	}

	for i, e := range s.Entries {
		payload, err := encodeEntry(e)
		if err != nil {
			return fmt.Errorf("entry %d (%s): %w", i, e.Opcode(), err)
		}

		h := entryHeader{Opcode: e.Opcode(), Size: uint32(len(payload))}
		if err := binary.Write(w, byteOrder, h); err != nil {
			return err
		}

		if _, err := w.Write(payload); err != nil {
			return err
		}
	}

	return nil
}

// Marshal returns the binary form of the stream.
func Marshal(s *CommandStream) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, s); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func encodeEntry(e Entry) ([]byte, error) {
	var buf bytes.Buffer

	switch e := e.(type) {
	case *DumpDram:
		r := dumpDramRecord{DramBufferID: e.DramBufferID}
		if err := putString(r.Filename[:], e.Filename); err != nil {
			return nil, err
		}

		if err := binary.Write(&buf, byteOrder, r); err != nil {
			return nil, err
		}
	case *DumpSram:
		var r dumpSramRecord
		if err := putString(r.Prefix[:], e.Prefix); err != nil {
			return nil, err
		}

		if err := binary.Write(&buf, byteOrder, r); err != nil {
			return nil, err
		}
	case *Cascade:
		if err := encodeCascade(&buf, e); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: unknown entry %T", ErrInvalidBinary, e)
	}

	return buf.Bytes(), nil
}

func putString(dst []byte, s string) error {
	if len(s) >= len(dst) {
		return fmt.Errorf("string %q longer than %d bytes", s, len(dst)-1)
	}

	copy(dst, s)

	return nil
}

func getString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}

	return string(b)
}

// sortExtraData orders the extra data by queue, then by command index.
func sortExtraData(extra []agent.ExtraData) []agent.ExtraData {
	sorted := append([]agent.ExtraData(nil), extra...)

	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Queue != sorted[j].Queue {
			return sorted[i].Queue < sorted[j].Queue
		}

		return sorted[i].CommandIndex < sorted[j].CommandIndex
	})

	return sorted
}

func encodeCascade(w *bytes.Buffer, c *Cascade) error {
	extra := sortExtraData(c.ExtraData)

	h := cascadeHeader{
		NumAgents:    uint32(len(c.Agents)),
		NumDmaRd:     uint32(len(c.Commands.DmaRd)),
		NumDmaWr:     uint32(len(c.Commands.DmaWr)),
		NumMce:       uint32(len(c.Commands.Mce)),
		NumPle:       uint32(len(c.Commands.Ple)),
		NumExtraData: uint32(len(extra)),
	}

	if err := binary.Write(w, byteOrder, h); err != nil {
		return err
	}

	for i := range c.Agents {
		if err := encodeAgent(w, &c.Agents[i]); err != nil {
			return fmt.Errorf("agent %d: %w", i, err)
		}
	}

	for q := agent.Queue(0); q < agent.NumQueues; q++ {
		for _, cmd := range c.Commands.Queue(q) {
			r := commandRecord{
				Type:         cmd.Type,
				Counter:      cmd.Counter,
				AgentID:      cmd.AgentID,
				StripeID:     cmd.StripeID,
				CounterValue: cmd.CounterValue,
			}

			if err := binary.Write(w, byteOrder, r); err != nil {
				return err
			}
		}
	}

	for i := range extra {
		if err := encodeExtraData(w, &extra[i]); err != nil {
			return fmt.Errorf("extra data %d: %w", i, err)
		}
	}

	return nil
}

func packDependencies(dst []dependencyRecord, deps []agent.Dependency, what string) (uint8, error) {
	if len(deps) > len(dst) {
		return 0, fmt.Errorf("%w: %d %s dependencies, at most %d",
			ErrTooManyDependencies, len(deps), what, len(dst))
	}

	for i, d := range deps {
		dst[i] = dependencyRecord{
			RelativeAgentID: d.RelativeAgentID,
			Boundary:        d.Boundary,
			OuterSelf:       d.Outer.Self,
			OuterOther:      d.Outer.Other,
			InnerSelf:       d.Inner.Self,
			InnerOther:      d.Inner.Other,
		}
	}

	return uint8(len(deps)), nil
}

func unpackDependencies(src []dependencyRecord, n uint8) []agent.Dependency {
	if n == 0 {
		return nil
	}

	deps := make([]agent.Dependency, n)
	for i := range deps {
		r := src[i]
		deps[i] = agent.Dependency{
			RelativeAgentID: r.RelativeAgentID,
			Boundary:        r.Boundary,
			Outer:           agent.Ratio{Self: r.OuterSelf, Other: r.OuterOther},
			Inner:           agent.Ratio{Self: r.InnerSelf, Other: r.InnerOther},
		}
	}

	return deps
}

func agentPayload(a *agent.Agent) any {
	switch a.Type {
	case agent.IfmStreamer:
		return a.Ifm
	case agent.WgtStreamer:
		return a.Wgt
	case agent.MceScheduler:
		return a.Mce
	case agent.PleLoader:
		return a.PleL
	case agent.PleScheduler:
		return a.PleS
	default:
		return a.Ofm
	}
}

func encodeAgent(w *bytes.Buffer, a *agent.Agent) error {
	if err := a.Validate(); err != nil {
		return err
	}

	r := agentRecord{Type: a.Type, NumStripesTotal: a.NumStripesTotal}

	var err error
	if r.NumRead, err = packDependencies(r.Read[:], a.Info.Read, "read"); err != nil {
		return err
	}

	if r.NumWrite, err = packDependencies(r.Write[:], a.Info.Write, "write"); err != nil {
		return err
	}

	if r.NumSchedule, err = packDependencies(r.Schedule[:], a.Info.Schedule, "schedule"); err != nil {
		return err
	}

	if err := binary.Write(w, byteOrder, r); err != nil {
		return err
	}

	data := make([]byte, 0, agentDataSize)
	data, err = binary.Append(data, byteOrder, agentPayload(a))
	if err != nil {
		return err
	}

	data = append(data, make([]byte, agentDataSize-len(data))...)
	_, err = w.Write(data)

	return err
}

func extraPayload(e *agent.ExtraData) (any, error) {
	var (
		p   any
		set bool
	)

	switch e.Kind {
	case agent.ExtraDma:
		p, set = e.Dma, e.Dma != nil
	case agent.ExtraProgramMce:
		p, set = e.ProgramMce, e.ProgramMce != nil
	case agent.ExtraStartMce:
		p, set = e.StartMce, e.StartMce != nil
	case agent.ExtraStartPle:
		p, set = e.StartPle, e.StartPle != nil
	default:
		return nil, fmt.Errorf("%w: extra data kind %d", ErrInvalidBinary, e.Kind)
	}

	if !set {
		return nil, fmt.Errorf("%w: extra data of kind %d has no payload",
			ErrInvalidBinary, e.Kind)
	}

	return p, nil
}

func encodeExtraData(w *bytes.Buffer, e *agent.ExtraData) error {
	p, err := extraPayload(e)
	if err != nil {
		return err
	}

	r := extraDataRecord{Kind: e.Kind, Queue: e.Queue, CommandIndex: e.CommandIndex}
	if err := binary.Write(w, byteOrder, r); err != nil {
		return err
	}

	return binary.Write(w, byteOrder, p)
}

// Parse reads a stream from its binary form.
func Parse(data []byte) (*CommandStream, error) {
	r := bytes.NewReader(data)

	var h header
	if err := read(r, &h); err != nil {
		return nil, fmt.Errorf("header: %w", err)
	}

	if h.Magic != magic {
		return nil, fmt.Errorf("%w: bad magic %q", ErrInvalidBinary, h.Magic[:])
	}

	s := &CommandStream{Version: h.Version}

	for r.Len() > 0 {
		var eh entryHeader
		if err := read(r, &eh); err != nil {
			return nil, fmt.Errorf("entry %d: %w", len(s.Entries), err)
		}

		if int64(eh.Size) > int64(r.Len()) {
			return nil, fmt.Errorf("%w: entry %d needs %d bytes, %d left",
				ErrInvalidBinary, len(s.Entries), eh.Size, r.Len())
		}

		payload := make([]byte, eh.Size)
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidBinary, err)
		}

		e, err := parseEntry(eh.Opcode, payload)
		if err != nil {
			return nil, fmt.Errorf("entry %d (%s): %w", len(s.Entries), eh.Opcode, err)
		}

		s.Add(e)
	}

	return s, nil
}

// read decodes one fixed-size value, reporting truncation as an invalid
// stream.
func read(r io.Reader, v any) error {
	err := binary.Read(r, byteOrder, v)
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: truncated", ErrInvalidBinary)
	}

	return err
}

func parseEntry(op Opcode, payload []byte) (Entry, error) {
	r := bytes.NewReader(payload)

	var (
		e   Entry
		err error
	)

	switch op {
	case OpcodeDumpDram:
		var rec dumpDramRecord
		err = read(r, &rec)
		e = &DumpDram{DramBufferID: rec.DramBufferID, Filename: getString(rec.Filename[:])}
	case OpcodeDumpSram:
		var rec dumpSramRecord
		err = read(r, &rec)
		e = &DumpSram{Prefix: getString(rec.Prefix[:])}
	case OpcodeCascade:
		e, err = parseCascade(r)
	default:
		return nil, fmt.Errorf("%w: unknown opcode %d", ErrInvalidBinary, uint32(op))
	}

	if err != nil {
		return nil, err
	}

	if r.Len() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrInvalidBinary, r.Len())
	}

	return e, nil
}

func parseCascade(r *bytes.Reader) (*Cascade, error) {
	var h cascadeHeader
	if err := read(r, &h); err != nil {
		return nil, err
	}

	c := &Cascade{}

	if int64(h.NumAgents)*int64(binary.Size(agentRecord{})+agentDataSize) > int64(r.Len()) {
		return nil, fmt.Errorf("%w: %d agents do not fit", ErrInvalidBinary, h.NumAgents)
	}

	c.Agents = make([]agent.Agent, h.NumAgents)
	for i := range c.Agents {
		if err := parseAgent(r, &c.Agents[i]); err != nil {
			return nil, fmt.Errorf("agent %d: %w", i, err)
		}
	}

	counts := [agent.NumQueues]uint32{h.NumDmaRd, h.NumDmaWr, h.NumMce, h.NumPle}
	for q := agent.Queue(0); q < agent.NumQueues; q++ {
		cmds, err := parseCommands(r, counts[q])
		if err != nil {
			return nil, fmt.Errorf("%s commands: %w", q, err)
		}

		c.Commands.SetQueue(q, cmds)
	}

	for i := uint32(0); i < h.NumExtraData; i++ {
		e, err := parseExtraData(r, &c.Commands)
		if err != nil {
			return nil, fmt.Errorf("extra data %d: %w", i, err)
		}

		c.ExtraData = append(c.ExtraData, e)
	}

	return c, nil
}

func parseAgent(r *bytes.Reader, a *agent.Agent) error {
	var rec agentRecord
	if err := read(r, &rec); err != nil {
		return err
	}

	if !rec.Type.IsValid() {
		return fmt.Errorf("%w: agent type %d", ErrInvalidBinary, rec.Type)
	}

	if int(rec.NumRead) > agent.MaxReadDependencies ||
		int(rec.NumWrite) > agent.MaxWriteDependencies ||
		int(rec.NumSchedule) > agent.MaxScheduleDependencies {
		return fmt.Errorf("%w: dependency count out of range", ErrInvalidBinary)
	}

	data := make([]byte, agentDataSize)
	if _, err := io.ReadFull(r, data); err != nil {
		return fmt.Errorf("%w: truncated agent data", ErrInvalidBinary)
	}

	*a = agent.Agent{
		Type:            rec.Type,
		NumStripesTotal: rec.NumStripesTotal,
		Info: agent.DependencyInfo{
			Read:     unpackDependencies(rec.Read[:], rec.NumRead),
			Write:    unpackDependencies(rec.Write[:], rec.NumWrite),
			Schedule: unpackDependencies(rec.Schedule[:], rec.NumSchedule),
		},
	}

	switch a.Type {
	case agent.IfmStreamer:
		a.Ifm = &agent.IfmS{}
	case agent.WgtStreamer:
		a.Wgt = &agent.WgtS{}
	case agent.MceScheduler:
		a.Mce = &agent.MceS{}
	case agent.PleLoader:
		a.PleL = &agent.PleL{}
	case agent.PleScheduler:
		a.PleS = &agent.PleS{}
	case agent.OfmStreamer:
		a.Ofm = &agent.OfmS{}
	}

	_, err := binary.Decode(data, byteOrder, agentPayload(a))

	return err
}

func parseCommands(r *bytes.Reader, n uint32) ([]agent.Command, error) {
	if int64(n)*int64(binary.Size(commandRecord{})) > int64(r.Len()) {
		return nil, fmt.Errorf("%w: %d commands do not fit", ErrInvalidBinary, n)
	}

	var cmds []agent.Command

	for i := uint32(0); i < n; i++ {
		var rec commandRecord
		if err := read(r, &rec); err != nil {
			return nil, err
		}

		if !rec.Type.IsValid() {
			return nil, fmt.Errorf("%w: command %d has type %d",
				ErrInvalidBinary, i, rec.Type)
		}

		if !rec.Counter.IsValid() {
			return nil, fmt.Errorf("%w: command %d has counter %d",
				ErrInvalidBinary, i, rec.Counter)
		}

		cmds = append(cmds, agent.Command{
			Type:         rec.Type,
			AgentID:      rec.AgentID,
			StripeID:     rec.StripeID,
			Counter:      rec.Counter,
			CounterValue: rec.CounterValue,
		})
	}

	return cmds, nil
}

func parseExtraData(r *bytes.Reader, lists *scheduler.CommandLists) (agent.ExtraData, error) {
	var rec extraDataRecord
	if err := read(r, &rec); err != nil {
		return agent.ExtraData{}, err
	}

	if rec.Queue >= agent.NumQueues {
		return agent.ExtraData{}, fmt.Errorf("%w: queue %d", ErrInvalidBinary, rec.Queue)
	}

	cmds := lists.Queue(rec.Queue)
	if int(rec.CommandIndex) >= len(cmds) {
		return agent.ExtraData{}, fmt.Errorf("%w: command %d of %s does not exist",
			ErrInvalidBinary, rec.CommandIndex, rec.Queue)
	}

	if kind, ok := agent.ExtraDataKindOf(cmds[rec.CommandIndex].Type); !ok || kind != rec.Kind {
		return agent.ExtraData{}, fmt.Errorf("%w: extra data kind %d does not match %s",
			ErrInvalidBinary, rec.Kind, cmds[rec.CommandIndex].Type)
	}

	e := agent.ExtraData{Kind: rec.Kind, Queue: rec.Queue, CommandIndex: rec.CommandIndex}

	switch rec.Kind {
	case agent.ExtraDma:
		e.Dma = &agent.DmaExtraData{}
	case agent.ExtraProgramMce:
		e.ProgramMce = &agent.ProgramMceExtraData{}
	case agent.ExtraStartMce:
		e.StartMce = &agent.StartMceExtraData{}
	case agent.ExtraStartPle:
		e.StartPle = &agent.StartPleExtraData{}
	}

	p, err := extraPayload(&e)
	if err != nil {
		return agent.ExtraData{}, err
	}

	if err := read(r, p); err != nil {
		return agent.ExtraData{}, err
	}

	return e, nil
}
