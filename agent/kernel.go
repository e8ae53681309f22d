package agent

import (
	"fmt"
	"strings"

	"github.com/sarchlab/cascadegen/graph"
)

// PleKernelID identifies a PLE microcode binary. Kernels are specialised per
// operation, block shape and signedness.
type PleKernelID uint16

// PleKernelNotFound is the id of a kernel that does not exist.
const PleKernelNotFound PleKernelID = 0

var kernelBlocks = []graph.BlockConfig{
	{Width: 16, Height: 16},
	{Width: 32, Height: 8},
	{Width: 8, Height: 32},
	{Width: 16, Height: 8},
	{Width: 8, Height: 16},
	{Width: 8, Height: 8},
}

const kernelVariantsPerOp = 12

var kernelNames = buildKernelNames()

func buildKernelNames() map[string]PleKernelID {
	names := map[string]PleKernelID{"NOT_FOUND": PleKernelNotFound}

	for op := 0; op < graph.NumPleOperations; op++ {
		for b := range kernelBlocks {
			for _, signed := range []bool{false, true} {
				id := FindPleKernelID(graph.PleOperation(op), kernelBlocks[b], signed)
				names[id.String()] = id
			}
		}
	}

	return names
}

// FindPleKernelID returns the kernel for the operation, block and
// signedness, or PleKernelNotFound if no kernel was built for that
// combination.
func FindPleKernelID(
	op graph.PleOperation,
	block graph.BlockConfig,
	signed bool,
) PleKernelID {
	if int(op) >= graph.NumPleOperations {
		return PleKernelNotFound
	}

	for i, b := range kernelBlocks {
		if b == block {
			id := 1 + int(op)*kernelVariantsPerOp + i*2
			if signed {
				id++
			}

			return PleKernelID(id)
		}
	}

	return PleKernelNotFound
}

func (id PleKernelID) decode() (op graph.PleOperation, block graph.BlockConfig, signed bool, ok bool) {
	if id == PleKernelNotFound {
		return 0, graph.BlockConfig{}, false, false
	}

	v := int(id) - 1
	opIdx := v / kernelVariantsPerOp
	rest := v % kernelVariantsPerOp

	if opIdx >= graph.NumPleOperations || rest/2 >= len(kernelBlocks) {
		return 0, graph.BlockConfig{}, false, false
	}

	return graph.PleOperation(opIdx), kernelBlocks[rest/2], rest%2 == 1, true
}

func (id PleKernelID) String() string {
	op, block, signed, ok := id.decode()
	if !ok {
		if id == PleKernelNotFound {
			return "NOT_FOUND"
		}

		return fmt.Sprintf("PleKernelID(%d)", uint16(id))
	}

	dataType := "u8"
	if signed {
		dataType = "s8"
	}

	return fmt.Sprintf("V2442_%s_bw%d_bh%d_bm1_%s",
		op, block.Width, block.Height, dataType)
}

// MarshalText implements encoding.TextMarshaler.
func (id PleKernelID) MarshalText() ([]byte, error) {
	if _, _, _, ok := id.decode(); !ok && id != PleKernelNotFound {
		return nil, fmt.Errorf("invalid PLE kernel id %d", uint16(id))
	}

	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *PleKernelID) UnmarshalText(text []byte) error {
	v, ok := kernelNames[strings.TrimSpace(string(text))]
	if !ok {
		return fmt.Errorf("unknown PLE kernel %q", text)
	}

	*id = v

	return nil
}

// Operation returns the PLE operation the kernel implements.
func (id PleKernelID) Operation() (graph.PleOperation, bool) {
	op, _, _, ok := id.decode()
	return op, ok
}
