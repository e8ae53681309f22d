package agent

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/sarchlab/cascadegen/graph"
)

// Hex32 is a register word. It is written in hexadecimal in text dumps.
type Hex32 uint32

// MarshalText implements encoding.TextMarshaler.
func (h Hex32) MarshalText() ([]byte, error) {
	return []byte("0x" + strings.ToUpper(strconv.FormatUint(uint64(h), 16))), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Hex32) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))

	v, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(s), "0x"), 16, 32)
	if err != nil {
		return fmt.Errorf("register word %q: %w", s, err)
	}

	*h = Hex32(v)

	return nil
}

// TensorSize is a size or a count along height, width and channels.
type TensorSize struct {
	Height   uint16 `xml:"HEIGHT"`
	Width    uint16 `xml:"WIDTH"`
	Channels uint16 `xml:"CHANNELS"`
}

// Total returns H*W*C.
func (t TensorSize) Total() int {
	return int(t.Height) * int(t.Width) * int(t.Channels)
}

// SupertensorSize is the size of the DRAM supertensor in cells.
type SupertensorSize struct {
	Width    uint16 `xml:"WIDTH"`
	Channels uint16 `xml:"CHANNELS"`
}

// Tile is a ring of SRAM slots.
type Tile struct {
	BaseAddr uint32 `xml:"BASE_ADDR"`
	NumSlots uint16 `xml:"NUM_SLOTS"`
	SlotSize uint32 `xml:"SLOT_SIZE"`
}

// FmsDataType is the DRAM layout streamed by a feature-map streamer.
type FmsDataType uint8

// Feature-map data types.
const (
	FmsNHWC FmsDataType = iota
	FmsNHWCB
	FmsFcafDeep
	FmsFcafWide
)

var fmsDataTypeNames = []string{"NHWC", "NHWCB", "FCAF_DEEP", "FCAF_WIDE"}

func (t FmsDataType) String() string {
	if int(t) < len(fmsDataTypeNames) {
		return fmsDataTypeNames[t]
	}

	return fmt.Sprintf("FmsDataType(%d)", t)
}

// MarshalText implements encoding.TextMarshaler.
func (t FmsDataType) MarshalText() ([]byte, error) {
	if int(t) >= len(fmsDataTypeNames) {
		return nil, fmt.Errorf("invalid data type %d", t)
	}

	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *FmsDataType) UnmarshalText(text []byte) error {
	for i, n := range fmsDataTypeNames {
		if n == string(text) {
			*t = FmsDataType(i)
			return nil
		}
	}

	return fmt.Errorf("unknown data type %q", text)
}

// FmData is the part shared by the IFM and OFM streamers.
type FmData struct {
	BufferID               uint16          `xml:"BUFFER_ID"`
	DramOffset             uint32          `xml:"DRAM_OFFSET"`
	DataType               FmsDataType     `xml:"DATA_TYPE"`
	Tile                   Tile            `xml:"TILE"`
	DefaultStripeSize      TensorSize      `xml:"DFLT_STRIPE_SIZE"`
	EdgeStripeSize         TensorSize      `xml:"EDGE_STRIPE_SIZE"`
	SupertensorSizeInCells SupertensorSize `xml:"SUPERTENSOR_SIZE_IN_CELLS"`
	NumStripes             TensorSize      `xml:"NUM_STRIPES"`
	StripeIDStrides        TensorSize      `xml:"STRIPE_ID_STRIDES"`
}

// IfmS streams input feature map stripes from DRAM to SRAM.
type IfmS struct {
	FmData

	PackedBoundaryThickness               graph.PackedBoundaryThickness `xml:"PACKED_BOUNDARY_THICKNESS"`
	IsExtraPackedBoundaryDataOnRightEdge  bool                          `xml:"IS_EXTRA_PACKED_BOUNDARY_DATA_ON_RIGHT_EDGE"`
	IsExtraPackedBoundaryDataOnBottomEdge bool                          `xml:"IS_EXTRA_PACKED_BOUNDARY_DATA_ON_BOTTOM_EDGE"`
	NumLoads                              uint16                        `xml:"NUM_LOADS"`

	DmaCompConfig0 Hex32 `xml:"DMA_COMP_CONFIG0"`
	DmaStride1     Hex32 `xml:"DMA_STRIDE1"`
	DmaStride2     Hex32 `xml:"DMA_STRIDE2"`
}

// OfmS streams output feature map stripes from SRAM to DRAM.
type OfmS struct {
	FmData

	DmaCompConfig0 Hex32 `xml:"DMA_COMP_CONFIG0"`
	DmaStride1     Hex32 `xml:"DMA_STRIDE1"`
	DmaStride2     Hex32 `xml:"DMA_STRIDE2"`
}

// WgtSWorkSize counts weight stripes.
type WgtSWorkSize struct {
	OfmChannels uint16 `xml:"OFM_CHANNELS"`
	IfmChannels uint16 `xml:"IFM_CHANNELS"`
}

// WgtS streams weight stripes from DRAM to SRAM.
type WgtS struct {
	BufferID        uint16       `xml:"BUFFER_ID"`
	Tile            Tile         `xml:"TILE"`
	NumStripes      WgtSWorkSize `xml:"NUM_STRIPES"`
	StripeIDStrides WgtSWorkSize `xml:"STRIPE_ID_STRIDES"`
	NumLoads        uint16       `xml:"NUM_LOADS"`
}

// MceSWorkSize is a size or count of MCE work.
type MceSWorkSize struct {
	OfmWidth    uint16 `xml:"OFM_WIDTH"`
	OfmHeight   uint16 `xml:"OFM_HEIGHT"`
	OfmChannels uint16 `xml:"OFM_CHANNELS"`
	IfmChannels uint16 `xml:"IFM_CHANNELS"`
}

// Total returns the product of all four dimensions.
func (m MceSWorkSize) Total() int {
	return int(m.OfmWidth) * int(m.OfmHeight) * int(m.OfmChannels) *
		int(m.IfmChannels)
}

// BlockSize is the MCE block size.
type BlockSize struct {
	Width  uint8 `xml:"WIDTH"`
	Height uint8 `xml:"HEIGHT"`
}

// StrideXY is a convolution stride.
type StrideXY struct {
	X uint8 `xml:"X"`
	Y uint8 `xml:"Y"`
}

// MceS schedules the convolution engine over its stripes.
type MceS struct {
	IfmTile Tile `xml:"IFM_TILE"`
	WgtTile Tile `xml:"WGT_TILE"`
	// OfmTile is only used when the MCE writes SRAM directly instead of
	// feeding the PLE.
	OfmTile Tile `xml:"OFM_TILE"`

	BlockSize         BlockSize    `xml:"BLOCK_SIZE"`
	DefaultStripeSize MceSWorkSize `xml:"DFLT_STRIPE_SIZE"`
	EdgeStripeSize    MceSWorkSize `xml:"EDGE_STRIPE_SIZE"`
	NumStripes        MceSWorkSize `xml:"NUM_STRIPES"`
	StripeIDStrides   MceSWorkSize `xml:"STRIPE_ID_STRIDES"`
	ConvStrideXY      StrideXY     `xml:"CONV_STRIDE_XY"`
	IfmZeroPoint      int16        `xml:"IFM_ZERO_POINT"`

	MceOpMode         graph.MceOperation `xml:"MCE_OP_MODE"`
	Algorithm         graph.MceAlgorithm `xml:"ALGORITHM"`
	IsPackedBoundaryX bool               `xml:"IS_PACKED_BOUNDARY_X"`
	IsPackedBoundaryY bool               `xml:"IS_PACKED_BOUNDARY_Y"`
	UpsampleType      graph.UpsampleType `xml:"UPSAMPLE_TYPE"`
	OutputToSram      bool               `xml:"OUTPUT_TO_SRAM"`
	PleKernelID       PleKernelID        `xml:"PLE_KERNEL_ID"`

	ActivationConfig   Hex32 `xml:"ACTIVATION_CONFIG"`
	WideKernelControl  Hex32 `xml:"WIDE_KERNEL_CONTROL"`
	Filter             Hex32 `xml:"FILTER"`
	IfmDefaultSlotSize Hex32 `xml:"IFM_DEFAULT_SLOT_SIZE"`
	IfmSlotStride      Hex32 `xml:"IFM_SLOT_STRIDE"`
	StripeBlockConfig  Hex32 `xml:"STRIPE_BLOCK_CONFIG"`
	DepthwiseControl   Hex32 `xml:"DEPTHWISE_CONTROL"`
	IfmSlotBaseAddress Hex32 `xml:"IFM_SLOT_BASE_ADDRESS"`
	PleMceifConfig     Hex32 `xml:"PLE_MCEIF_CONFIG"`
}

// PleL loads PLE microcode from DRAM into SRAM.
type PleL struct {
	SramAddr    uint32      `xml:"SRAM_ADDR"`
	PleKernelID PleKernelID `xml:"PLE_KERNEL_ID"`
}

// PleInputMode selects where the PLE reads its inputs from.
type PleInputMode uint8

// PLE input modes.
const (
	PleInputMceAllOgs PleInputMode = iota
	PleInputMceOneOg
	PleInputSramOneInput
	PleInputSramTwoInputs
)

var pleInputModeNames = []string{
	"MCE_ALL_OGS", "MCE_ONE_OG", "SRAM_ONE_INPUT", "SRAM_TWO_INPUTS",
}

func (m PleInputMode) String() string {
	if int(m) < len(pleInputModeNames) {
		return pleInputModeNames[m]
	}

	return fmt.Sprintf("PleInputMode(%d)", m)
}

// MarshalText implements encoding.TextMarshaler.
func (m PleInputMode) MarshalText() ([]byte, error) {
	if int(m) >= len(pleInputModeNames) {
		return nil, fmt.Errorf("invalid PLE input mode %d", m)
	}

	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *PleInputMode) UnmarshalText(text []byte) error {
	for i, n := range pleInputModeNames {
		if n == string(text) {
			*m = PleInputMode(i)
			return nil
		}
	}

	return fmt.Errorf("unknown PLE input mode %q", text)
}

// IsSram returns true if the PLE reads its inputs from SRAM.
func (m PleInputMode) IsSram() bool {
	return m == PleInputSramOneInput || m == PleInputSramTwoInputs
}

// PleIfmInfo describes one PLE input.
type PleIfmInfo struct {
	Tile       Tile   `xml:"TILE"`
	ZeroPoint  int16  `xml:"ZERO_POINT"`
	Multiplier uint16 `xml:"MULTIPLIER"`
	Shift      uint16 `xml:"SHIFT"`
}

// PleS schedules the PLE over its stripes.
type PleS struct {
	OfmTile           Tile       `xml:"OFM_TILE"`
	OfmZeroPoint      int16      `xml:"OFM_ZERO_POINT"`
	DefaultStripeSize TensorSize `xml:"DFLT_STRIPE_SIZE"`
	EdgeStripeSize    TensorSize `xml:"EDGE_STRIPE_SIZE"`
	NumStripes        TensorSize `xml:"NUM_STRIPES"`
	StripeIDStrides   TensorSize `xml:"STRIPE_ID_STRIDES"`

	InputMode         PleInputMode       `xml:"INPUT_MODE"`
	PleKernelID       PleKernelID        `xml:"PLE_KERNEL_ID"`
	PleKernelSramAddr uint32             `xml:"PLE_KERNEL_SRAM_ADDR"`
	PleOperation      graph.PleOperation `xml:"PLE_OPERATION"`

	Ifm0 PleIfmInfo `xml:"IFM_INFO0"`
	Ifm1 PleIfmInfo `xml:"IFM_INFO1"`
}
