// Package generator turns a tiled operation graph into a cascade of agents
// and the command stream that runs them on the NPU.
//
// Ops are visited in execution order. Every DMA, MCE and PLE op becomes one
// or two agents, and the dependencies between the agents are derived from
// the buffers the ops share. The agents are then scheduled into the four
// hardware queues and serialised.
package generator

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/sarchlab/cascadegen/agent"
	"github.com/sarchlab/cascadegen/config"
	"github.com/sarchlab/cascadegen/graph"
	"github.com/sarchlab/cascadegen/scheduler"
	"github.com/sarchlab/cascadegen/stream"
)

var (
	// ErrUnsupportedOp is returned for op kinds that cannot be turned into
	// agents.
	ErrUnsupportedOp = errors.New("op not supported by the cascade generator")

	// ErrInvalidGraph is returned when the graph does not describe a valid
	// cascade.
	ErrInvalidGraph = graph.ErrInvalidGraph
)

// A BufferManager owns the DRAM buffers of the compiled network.
type BufferManager interface {
	AddDramInput(size, opID uint32) uint32
	AddDram(size uint32, debugName string) uint32
	AddDramConstant(data []byte) uint32
	ChangeToOutput(id, sourceOpID, outputIdx uint32)
	MarkBufferUsedAtTime(id, start, end uint32)
}

// BufferLifetime is the range of agent ids during which an intermediate DRAM
// buffer holds live data. End is exclusive.
type BufferLifetime struct {
	Buffer   int
	BufferID uint32
	Start    uint32
	End      uint32
}

// CompiledStream is the result of a generation.
type CompiledStream struct {
	Agents   []agent.Agent
	Commands scheduler.CommandLists
	Stream   *stream.CommandStream
	Binary   []byte

	// OpToAgentID maps each op to its last agent.
	OpToAgentID []int
	// BufferIDs maps each graph buffer to its DRAM buffer id, or -1 for
	// buffers that are not in DRAM.
	BufferIDs []int

	Lifetimes    []BufferLifetime
	OperationIDs []uint32
}

// Table renders the agents of the cascade.
func (c *CompiledStream) Table() string {
	return agent.Table(c.Agents)
}

type generator struct {
	graph  *graph.Graph
	caps   config.Capabilities
	opts   config.Options
	bm     BufferManager
	logger *slog.Logger

	agents    []agent.Agent
	opFirst   []int
	opLast    []int
	bufferIDs []int

	fence   [agent.NumAgentTypes]int
	kernels map[agent.PleKernelID]int
}

// Generate builds the command stream of a graph. The operation ids are the
// network operations the graph implements and are carried to the result.
func Generate(
	g *graph.Graph,
	operationIDs []uint32,
	caps config.Capabilities,
	opts config.Options,
	bm BufferManager,
	logger *slog.Logger,
) (*CompiledStream, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := caps.Validate(); err != nil {
		return nil, err
	}

	if err := g.Validate(); err != nil {
		return nil, err
	}

	gen := newGenerator(g, caps, opts, bm, logger)

	for op := 0; op < g.NumOps(); op++ {
		if err := gen.process(op); err != nil {
			return nil, err
		}

		gen.updateFence(op)
	}

	lifetimes := gen.markLifetimes()

	lists, err := scheduler.Schedule(gen.agents)
	if err != nil {
		return nil, fmt.Errorf("scheduling %d agents: %w", len(gen.agents), err)
	}

	extra, err := gen.registers(lists)
	if err != nil {
		return nil, err
	}

	s := stream.New()
	s.Add(&stream.Cascade{
		Agents:    gen.agents,
		Commands:  lists,
		ExtraData: extra,
	})
	gen.addDumps(s)

	bin, err := stream.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("serialising command stream: %w", err)
	}

	logger.Info("Cascade generated",
		"Agents", len(gen.agents),
		"Commands", lists.Len(),
		"Bytes", len(bin),
	)

	return &CompiledStream{
		Agents:       gen.agents,
		Commands:     lists,
		Stream:       s,
		Binary:       bin,
		OpToAgentID:  gen.opLast,
		BufferIDs:    gen.bufferIDs,
		Lifetimes:    lifetimes,
		OperationIDs: append([]uint32(nil), operationIDs...),
	}, nil
}

func newGenerator(
	g *graph.Graph,
	caps config.Capabilities,
	opts config.Options,
	bm BufferManager,
	logger *slog.Logger,
) *generator {
	gen := &generator{
		graph:     g,
		caps:      caps,
		opts:      opts,
		bm:        bm,
		logger:    logger,
		opFirst:   filled(g.NumOps(), -1),
		opLast:    filled(g.NumOps(), -1),
		bufferIDs: filled(g.NumBuffers(), -1),
		kernels:   make(map[agent.PleKernelID]int),
	}

	for i := range gen.fence {
		gen.fence[i] = -1
	}

	return gen
}

func filled(n, v int) []int {
	s := make([]int, n)
	for i := range s {
		s[i] = v
	}

	return s
}

func (gen *generator) process(op int) error {
	o := gen.graph.Op(op)

	var err error

	switch o.Kind {
	case graph.OpDma:
		err = gen.processDma(op)
	case graph.OpMce:
		err = gen.processMce(op)
	case graph.OpPle:
		err = gen.processPle(op)
	default:
		gen.logger.Error("Op not supported",
			"Op", op, "Name", o.Name, "Kind", o.Kind)

		return fmt.Errorf("%w: op %d (%s) is a %s",
			ErrUnsupportedOp, op, o.Name, o.Kind)
	}

	if err != nil {
		return fmt.Errorf("op %d (%s): %w", op, o.Name, err)
	}

	return nil
}

func (gen *generator) processDma(op int) error {
	g := gen.graph
	in := g.Buffer(g.Input(op, 0))
	out := g.Buffer(g.Output(op))

	switch {
	case in.Location == graph.LocationDram && out.Location == graph.LocationSram:
		if in.Format == graph.FormatWeight {
			return gen.addWgtStreamer(op)
		}

		return gen.addIfmStreamer(op)
	case in.Location == graph.LocationSram && out.Location == graph.LocationDram:
		return gen.addOfmStreamer(op)
	default:
		return fmt.Errorf("%w: DMA from %s to %s",
			ErrInvalidGraph, in.Location, out.Location)
	}
}

func (gen *generator) processMce(op int) error {
	g := gen.graph

	if g.Op(op).Mce == nil || len(g.Inputs(op)) < 2 {
		return fmt.Errorf("%w: MCE op needs an IFM and weights", ErrInvalidGraph)
	}

	out := g.Output(op)

	var kernel agent.PleKernelID

	loader := -1

	switch g.Buffer(out).Location {
	case graph.LocationPleInputSram:
		ple, err := gen.fusedPle(out)
		if err != nil {
			return err
		}

		kernel, err = pleKernel(g.Op(ple).Ple)
		if err != nil {
			return err
		}

		if g.Op(ple).Ple.LoadKernel {
			loader, err = gen.addPleLoader(op, g.Op(ple).Ple, kernel)
			if err != nil {
				return err
			}
		}
	case graph.LocationSram:
	default:
		return fmt.Errorf("%w: MCE output in %s",
			ErrInvalidGraph, g.Buffer(out).Location)
	}

	return gen.addMceScheduler(op, kernel, loader)
}

// fusedPle returns the PLE op reading the MCE output directly.
func (gen *generator) fusedPle(buf int) (int, error) {
	for _, c := range gen.graph.Consumers(buf) {
		if gen.graph.Op(c.Op).Kind == graph.OpPle && gen.graph.Op(c.Op).Ple != nil {
			return c.Op, nil
		}
	}

	return 0, fmt.Errorf("%w: PLE input buffer %d has no PLE consumer",
		ErrInvalidGraph, buf)
}

func (gen *generator) processPle(op int) error {
	g := gen.graph
	ple := g.Op(op).Ple

	if ple == nil {
		return fmt.Errorf("%w: PLE op has no PLE description", ErrInvalidGraph)
	}

	kernel, err := pleKernel(ple)
	if err != nil {
		return err
	}

	switch g.Buffer(g.Input(op, 0)).Location {
	case graph.LocationSram:
		if ple.LoadKernel {
			if _, err := gen.addPleLoader(op, ple, kernel); err != nil {
				return err
			}
		}

		return gen.addStandalonePleScheduler(op, kernel)
	case graph.LocationPleInputSram:
		return gen.addFusedPleScheduler(op, kernel)
	default:
		return fmt.Errorf("%w: PLE input in %s",
			ErrInvalidGraph, g.Buffer(g.Input(op, 0)).Location)
	}
}

// fullTensor returns true if the buffer holds the whole tensor at once.
func fullTensor(b *graph.Buffer) bool {
	return b.Location == graph.LocationDram || b.IsFullTensor()
}

// updateFence makes the next IFM, weight and kernel loads wait for an op
// whose output is a full tensor, since its output may share memory with
// whatever they load. Loads into SRAM do not raise a fence.
func (gen *generator) updateFence(op int) {
	g := gen.graph
	out := g.Buffer(g.Output(op))

	if !fullTensor(out) || gen.opLast[op] < 0 {
		return
	}

	if g.Op(op).Kind == graph.OpDma && out.Location == graph.LocationSram {
		return
	}

	for _, t := range []agent.AgentType{
		agent.IfmStreamer, agent.PleLoader, agent.WgtStreamer,
	} {
		gen.fence[t] = gen.opLast[op]
	}
}

// push appends an agent for an op and returns its id.
func (gen *generator) push(op int, a agent.Agent) int {
	id := len(gen.agents)
	gen.agents = append(gen.agents, a)

	if gen.opFirst[op] < 0 {
		gen.opFirst[op] = id
	}

	gen.opLast[op] = id

	gen.logger.Debug("Agent",
		"ID", id,
		"Type", a.Type,
		"Op", op,
		"Stripes", a.NumStripesTotal,
	)

	return id
}

// producerAgent returns the agent that writes a buffer, or -1.
func (gen *generator) producerAgent(buf int) int {
	p := gen.graph.Producer(buf)
	if p < 0 {
		return -1
	}

	return gen.opLast[p]
}

// dramBufferID returns the DRAM buffer id of a graph buffer, registering it
// with the buffer manager the first time it is seen.
func (gen *generator) dramBufferID(buf int) (uint16, error) {
	if id := gen.bufferIDs[buf]; id >= 0 {
		return uint16(id), nil
	}

	b := gen.graph.Buffer(buf)

	var id uint32

	switch b.Type {
	case graph.BufferInput:
		id = gen.bm.AddDramInput(b.SizeInBytes, b.OperationID)
	case graph.BufferConstantDma, graph.BufferConstantControlUnit:
		id = gen.bm.AddDramConstant(b.ConstantData)
	case graph.BufferOutput:
		id = gen.bm.AddDram(b.SizeInBytes, b.DebugTag)
		gen.bm.ChangeToOutput(id, b.OperationID, b.ProducerOutputIndex)
	default:
		id = gen.bm.AddDram(b.SizeInBytes, b.DebugTag)
	}

	if id > 0xFFFF {
		return 0, fmt.Errorf("%w: DRAM buffer id %d does not fit in 16 bits",
			ErrInvalidGraph, id)
	}

	gen.bufferIDs[buf] = int(id)

	return uint16(id), nil
}

func (gen *generator) addDumps(s *stream.CommandStream) {
	g := gen.graph

	if gen.opts.DumpDram {
		for i := 0; i < g.NumBuffers(); i++ {
			b := g.Buffer(i)
			if gen.bufferIDs[i] < 0 || b.Type != graph.BufferIntermediate {
				continue
			}

			s.Add(&stream.DumpDram{
				DramBufferID: uint32(gen.bufferIDs[i]),
				Filename:     dumpFilename(gen.bufferIDs[i], b),
			})
		}
	}

	if gen.opts.DumpSram {
		s.Add(&stream.DumpSram{Prefix: "after_cascade"})
	}
}

func dumpFilename(id int, b *graph.Buffer) string {
	s := b.TensorShape

	return fmt.Sprintf("CascadeIntermediateBuffer_%d_%s_%d_%d_%d_%d.hex",
		id, b.Format, s.Batch(), s.Height(), s.Width(), s.Channels())
}
