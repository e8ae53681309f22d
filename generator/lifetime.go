package generator

import "github.com/sarchlab/cascadegen/graph"

// walkUp returns the first agent that must run for the inputs of an op to be
// on chip. Inputs in DRAM are loaded by the op itself.
func (gen *generator) walkUp(op int, memo []int) int {
	if memo[op] >= 0 {
		return memo[op]
	}

	g := gen.graph
	first := gen.opFirst[op]

	for _, in := range g.Inputs(op) {
		if !g.Buffer(in).Location.IsOnChip() {
			continue
		}

		if p := g.Producer(in); p >= 0 {
			first = min(first, gen.walkUp(p, memo))
		}
	}

	memo[op] = first

	return first
}

// walkDown returns the last agent that runs before the output of an op has
// been stored to DRAM.
func (gen *generator) walkDown(op int, memo []int) int {
	if memo[op] >= 0 {
		return memo[op]
	}

	g := gen.graph
	out := g.Output(op)
	last := gen.opLast[op]

	if g.Buffer(out).Location.IsOnChip() {
		for _, c := range g.Consumers(out) {
			last = max(last, gen.walkDown(c.Op, memo))
		}
	}

	memo[op] = last

	return last
}

// markLifetimes reports to the buffer manager the agents during which each
// intermediate DRAM buffer is in use.
func (gen *generator) markLifetimes() []BufferLifetime {
	g := gen.graph
	up := filled(g.NumOps(), -1)
	down := filled(g.NumOps(), -1)

	var lifetimes []BufferLifetime

	for buf := 0; buf < g.NumBuffers(); buf++ {
		b := g.Buffer(buf)
		if gen.bufferIDs[buf] < 0 || b.Type != graph.BufferIntermediate {
			continue
		}

		start, end := -1, -1

		for _, p := range g.Producers(buf) {
			s := gen.walkUp(p, up)
			if start < 0 || s < start {
				start = s
			}

			end = max(end, gen.opLast[p])
		}

		for _, c := range g.Consumers(buf) {
			end = max(end, gen.walkDown(c.Op, down))
		}

		if start < 0 {
			start = 0
		}

		lt := BufferLifetime{
			Buffer:   buf,
			BufferID: uint32(gen.bufferIDs[buf]),
			Start:    uint32(start),
			End:      uint32(end + 1),
		}
		gen.bm.MarkBufferUsedAtTime(lt.BufferID, lt.Start, lt.End)
		lifetimes = append(lifetimes, lt)

		gen.logger.Debug("Lifetime",
			"Buffer", b.DebugTag,
			"ID", lt.BufferID,
			"Start", lt.Start,
			"End", lt.End,
		)
	}

	return lifetimes
}
