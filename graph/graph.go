// Package graph holds the tiled operation graph consumed by the command stream
// generator. Ops and buffers are stored in arenas and reference each other by
// dense integer indices.
package graph

import (
	"errors"
	"fmt"
)

// ErrInvalidGraph is returned when the graph structure is malformed.
var ErrInvalidGraph = errors.New("invalid graph")

// Consumer identifies an op reading a buffer, together with the input slot
// the buffer is connected to.
type Consumer struct {
	Op    int
	Input int
}

// Graph is an arena of ops and buffers. The order in which ops are added is
// the execution order.
type Graph struct {
	ops     []Op
	buffers []Buffer

	inputs    [][]int
	outputs   []int
	producers [][]int
	consumers [][]Consumer
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{}
}

// AddBuffer adds a buffer and returns its index.
func (g *Graph) AddBuffer(b Buffer) int {
	g.buffers = append(g.buffers, b)
	g.producers = append(g.producers, nil)
	g.consumers = append(g.consumers, nil)

	return len(g.buffers) - 1
}

// AddOp adds an op and returns its index. The op has no inputs and no output
// until they are connected.
func (g *Graph) AddOp(op Op) int {
	g.ops = append(g.ops, op)
	g.inputs = append(g.inputs, nil)
	g.outputs = append(g.outputs, -1)

	return len(g.ops) - 1
}

// AddInput connects buffer buf as the next input of op.
func (g *Graph) AddInput(op, buf int) {
	g.mustHaveOp(op)
	g.mustHaveBuffer(buf)

	g.consumers[buf] = append(g.consumers[buf],
		Consumer{Op: op, Input: len(g.inputs[op])})
	g.inputs[op] = append(g.inputs[op], buf)
}

// SetOutput connects buffer buf as the output of op.
func (g *Graph) SetOutput(op, buf int) {
	g.mustHaveOp(op)
	g.mustHaveBuffer(buf)

	if old := g.outputs[op]; old >= 0 {
		g.producers[old] = removeInt(g.producers[old], op)
	}

	g.outputs[op] = buf
	g.producers[buf] = append(g.producers[buf], op)
}

func (g *Graph) mustHaveOp(op int) {
	if op < 0 || op >= len(g.ops) {
		panic(fmt.Sprintf("op %d does not exist", op))
	}
}

func (g *Graph) mustHaveBuffer(buf int) {
	if buf < 0 || buf >= len(g.buffers) {
		panic(fmt.Sprintf("buffer %d does not exist", buf))
	}
}

// NumOps returns the number of ops.
func (g *Graph) NumOps() int {
	return len(g.ops)
}

// NumBuffers returns the number of buffers.
func (g *Graph) NumBuffers() int {
	return len(g.buffers)
}

// Op returns the op at index i.
func (g *Graph) Op(i int) *Op {
	return &g.ops[i]
}

// Buffer returns the buffer at index i.
func (g *Graph) Buffer(i int) *Buffer {
	return &g.buffers[i]
}

// Inputs returns the input buffer indices of op, in input-slot order.
func (g *Graph) Inputs(op int) []int {
	return g.inputs[op]
}

// Input returns the buffer connected to input slot i of op, or -1.
func (g *Graph) Input(op, i int) int {
	if i >= len(g.inputs[op]) {
		return -1
	}

	return g.inputs[op][i]
}

// Output returns the output buffer of op, or -1.
func (g *Graph) Output(op int) int {
	return g.outputs[op]
}

// Producers returns the ops writing buf.
func (g *Graph) Producers(buf int) []int {
	return g.producers[buf]
}

// Producer returns the single op writing buf, or -1 if there is none.
func (g *Graph) Producer(buf int) int {
	if len(g.producers[buf]) == 0 {
		return -1
	}

	return g.producers[buf][0]
}

// Consumers returns the ops reading buf in the order they were connected.
func (g *Graph) Consumers(buf int) []Consumer {
	return g.consumers[buf]
}

// Validate checks the structural invariants that the generator relies on.
func (g *Graph) Validate() error {
	for i := range g.ops {
		if g.outputs[i] < 0 {
			return fmt.Errorf("%w: op %d (%s) has no output",
				ErrInvalidGraph, i, g.ops[i].Name)
		}

		if len(g.inputs[i]) == 0 {
			return fmt.Errorf("%w: op %d (%s) has no input",
				ErrInvalidGraph, i, g.ops[i].Name)
		}
	}

	for i := range g.buffers {
		b := &g.buffers[i]

		if len(g.producers[i]) > 1 {
			return fmt.Errorf("%w: buffer %d (%s) has %d producers",
				ErrInvalidGraph, i, b.DebugTag, len(g.producers[i]))
		}

		if b.Location == LocationSram && b.NumStripes == 0 {
			return fmt.Errorf("%w: SRAM buffer %d (%s) has no slots",
				ErrInvalidGraph, i, b.DebugTag)
		}

		for d := 0; d < 4 && b.Location.IsOnChip(); d++ {
			if b.StripeShape[d] == 0 && b.TensorShape[d] != 0 {
				return fmt.Errorf("%w: buffer %d (%s) has an empty stripe shape",
					ErrInvalidGraph, i, b.DebugTag)
			}
		}
	}

	for i := range g.ops {
		for _, in := range g.inputs[i] {
			p := g.Producer(in)
			if p >= i {
				return fmt.Errorf(
					"%w: op %d reads buffer %d before its producer op %d runs",
					ErrInvalidGraph, i, in, p)
			}
		}
	}

	return nil
}

func removeInt(s []int, v int) []int {
	for i := range s {
		if s[i] == v {
			return append(s[:i], s[i+1:]...)
		}
	}

	return s
}
