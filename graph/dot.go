package graph

import (
	"bufio"
	"fmt"
	"io"
)

// WriteDot writes the graph in Graphviz format. Ops are labelled with the id
// of the agent they were compiled into; opToAgent may be nil or hold -1 for
// ops without an agent.
func WriteDot(w io.Writer, g *Graph, opToAgent []int) error {
	bw := bufio.NewWriter(w)

	fmt.Fprintln(bw, "digraph SupportLibraryGraph")
	fmt.Fprintln(bw, "{")

	for i := 0; i < g.NumOps(); i++ {
		op := g.Op(i)

		label := fmt.Sprintf("%s\\n%s", op.Name, op.Kind)
		if opToAgent != nil && i < len(opToAgent) && opToAgent[i] >= 0 {
			label += fmt.Sprintf("\\nAgent %d", opToAgent[i])
		}

		fmt.Fprintf(bw, "Op%d[label = \"%s\", shape = oval, color = %s]\n",
			i, label, opColor(op.Kind))
	}

	for i := 0; i < g.NumBuffers(); i++ {
		b := g.Buffer(i)

		fmt.Fprintf(bw,
			"Buffer%d[label = \"%s\\n%s %s\\nShape %v\\nStripe %v\", shape = box, color = %s]\n",
			i, b.DebugTag, b.Location, b.Format, [4]uint32(b.TensorShape),
			[4]uint32(b.StripeShape), bufferColor(b.Location))
	}

	for i := 0; i < g.NumOps(); i++ {
		for slot, in := range g.Inputs(i) {
			fmt.Fprintf(bw, "Buffer%d -> Op%d[label=\"%d\"]\n", in, i, slot)
		}

		if out := g.Output(i); out >= 0 {
			fmt.Fprintf(bw, "Op%d -> Buffer%d\n", i, out)
		}
	}

	fmt.Fprintln(bw, "}")

	return bw.Flush()
}

func opColor(k OpKind) string {
	switch k {
	case OpDma:
		return "darkgoldenrod"
	case OpMce:
		return "blue"
	case OpPle:
		return "red"
	default:
		return "black"
	}
}

func bufferColor(l Location) string {
	switch l {
	case LocationDram:
		return "brown"
	case LocationSram:
		return "darkgreen"
	default:
		return "gray"
	}
}
