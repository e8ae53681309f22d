package graph

import "fmt"

// Location is where a buffer lives.
type Location uint8

// Buffer locations.
const (
	LocationDram Location = iota
	LocationSram
	// LocationPleInputSram is the pass-through interface between the MCE and
	// the PLE. It has no footprint in SRAM.
	LocationPleInputSram
	LocationVirtualSram
)

var locationNames = []string{"DRAM", "SRAM", "PLE_INPUT_SRAM", "VIRTUAL_SRAM"}

func (l Location) String() string {
	if int(l) < len(locationNames) {
		return locationNames[l]
	}

	return fmt.Sprintf("Location(%d)", l)
}

// IsOnChip returns true for every location other than DRAM.
func (l Location) IsOnChip() bool {
	return l != LocationDram
}

// Format is the data layout of a buffer.
type Format uint8

// Buffer formats.
const (
	FormatNHWC Format = iota
	FormatNHWCB
	FormatNCHW
	FormatFCAF
	FormatWeight
)

var formatNames = []string{"NHWC", "NHWCB", "NCHW", "FCAF", "WEIGHT"}

func (f Format) String() string {
	if int(f) < len(formatNames) {
		return formatNames[f]
	}

	return fmt.Sprintf("Format(%d)", f)
}

// BufferType is the role of a buffer in the network.
type BufferType uint8

// Buffer types.
const (
	BufferIntermediate BufferType = iota
	BufferInput
	BufferOutput
	BufferConstantDma
	BufferConstantControlUnit
)

var bufferTypeNames = []string{
	"INTERMEDIATE", "INPUT", "OUTPUT", "CONSTANT_DMA", "CONSTANT_CONTROL_UNIT",
}

func (t BufferType) String() string {
	if int(t) < len(bufferTypeNames) {
		return bufferTypeNames[t]
	}

	return fmt.Sprintf("BufferType(%d)", t)
}

// TensorShape is an NHWC shape.
type TensorShape [4]uint32

// Batch returns N.
func (s TensorShape) Batch() uint32 { return s[0] }

// Height returns H.
func (s TensorShape) Height() uint32 { return s[1] }

// Width returns W.
func (s TensorShape) Width() uint32 { return s[2] }

// Channels returns C.
func (s TensorShape) Channels() uint32 { return s[3] }

// NumElements returns N*H*W*C.
func (s TensorShape) NumElements() uint32 {
	return s[0] * s[1] * s[2] * s[3]
}

// PackedBoundaryThickness is the number of extra elements packed at each edge
// of an SRAM stripe to cover the halo of a sliding-window kernel.
type PackedBoundaryThickness struct {
	Left   uint8 `xml:"LEFT" yaml:"left"`
	Top    uint8 `xml:"TOP" yaml:"top"`
	Right  uint8 `xml:"RIGHT" yaml:"right"`
	Bottom uint8 `xml:"BOTTOM" yaml:"bottom"`
}

// AnyNonZero returns true if any edge has boundary data.
func (p PackedBoundaryThickness) AnyNonZero() bool {
	return p.Left > 0 || p.Top > 0 || p.Right > 0 || p.Bottom > 0
}

// Quantization holds the affine quantization parameters of a tensor.
type Quantization struct {
	ZeroPoint int32
	Scale     float32
}

// Buffer is a tensor region together with its tiling.
type Buffer struct {
	Location    Location
	Format      Format
	Type        BufferType
	TensorShape TensorShape
	StripeShape TensorShape

	// NumStripes is the number of SRAM slots the buffer cycles through.
	NumStripes  uint32
	SizeInBytes uint32
	// Offset is the SRAM address of the first slot.
	Offset uint32

	PackedBoundaryThickness PackedBoundaryThickness
	NumLoads                uint32

	Quantization Quantization
	ConstantData []byte

	DebugTag            string
	OperationID         uint32
	ProducerOutputIndex uint32
}

// IsFullTensor returns true if a single stripe covers the whole tensor.
func (b *Buffer) IsFullTensor() bool {
	return b.StripeShape == b.TensorShape
}

// StripeCounts returns the number of stripes along H, W and C.
func (b *Buffer) StripeCounts() (h, w, c uint32) {
	return divRoundUp(b.TensorShape.Height(), b.StripeShape.Height()),
		divRoundUp(b.TensorShape.Width(), b.StripeShape.Width()),
		divRoundUp(b.TensorShape.Channels(), b.StripeShape.Channels())
}

// Loads returns the number of times the buffer is streamed in. It is never
// zero.
func (b *Buffer) Loads() uint32 {
	if b.NumLoads == 0 {
		return 1
	}

	return b.NumLoads
}

func divRoundUp(a, b uint32) uint32 {
	if b == 0 {
		return 0
	}

	return (a + b - 1) / b
}

// OpKind is the kind of an op.
type OpKind uint8

// Op kinds. Only DMA, MCE and PLE ops can be turned into agents.
const (
	OpDma OpKind = iota
	OpMce
	OpPle
	OpSpaceToDepth
	OpEstimateOnly
	OpConcat
)

var opKindNames = []string{
	"DmaOp", "MceOp", "PleOp", "SpaceToDepthOp", "EstimateOnlyOp", "ConcatOp",
}

func (k OpKind) String() string {
	if int(k) < len(opKindNames) {
		return opKindNames[k]
	}

	return fmt.Sprintf("OpKind(%d)", k)
}

// MceOperation is the operation an MCE op performs.
type MceOperation uint8

// MCE operations.
const (
	MceConvolution MceOperation = iota
	MceDepthwiseConvolution
	MceFullyConnected
)

var mceOperationNames = []string{
	"CONVOLUTION", "DEPTHWISE_CONVOLUTION", "FULLY_CONNECTED",
}

func (o MceOperation) String() string {
	if int(o) < len(mceOperationNames) {
		return mceOperationNames[o]
	}

	return fmt.Sprintf("MceOperation(%d)", o)
}

// MarshalText implements encoding.TextMarshaler.
func (o MceOperation) MarshalText() ([]byte, error) {
	if int(o) >= len(mceOperationNames) {
		return nil, fmt.Errorf("invalid MCE operation %d", o)
	}

	return []byte(o.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (o *MceOperation) UnmarshalText(text []byte) error {
	i, err := lookupName(mceOperationNames, string(text))
	if err != nil {
		return fmt.Errorf("MCE operation: %w", err)
	}

	*o = MceOperation(i)

	return nil
}

// MceAlgorithm is the convolution algorithm.
type MceAlgorithm uint8

// MCE algorithms.
const (
	AlgorithmDirect MceAlgorithm = iota
	AlgorithmWinograd
)

var mceAlgorithmNames = []string{"DIRECT", "WINOGRAD"}

func (a MceAlgorithm) String() string {
	if int(a) < len(mceAlgorithmNames) {
		return mceAlgorithmNames[a]
	}

	return fmt.Sprintf("MceAlgorithm(%d)", a)
}

// MarshalText implements encoding.TextMarshaler.
func (a MceAlgorithm) MarshalText() ([]byte, error) {
	if int(a) >= len(mceAlgorithmNames) {
		return nil, fmt.Errorf("invalid MCE algorithm %d", a)
	}

	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *MceAlgorithm) UnmarshalText(text []byte) error {
	i, err := lookupName(mceAlgorithmNames, string(text))
	if err != nil {
		return fmt.Errorf("MCE algorithm: %w", err)
	}

	*a = MceAlgorithm(i)

	return nil
}

// UpsampleType is the upsampling applied by the MCE.
type UpsampleType uint8

// Upsample types.
const (
	UpsampleOff UpsampleType = iota
	UpsampleBilinear
	UpsampleNearestNeighbour
	UpsampleTranspose
)

var upsampleTypeNames = []string{
	"OFF", "BILINEAR", "NEAREST_NEIGHBOUR", "TRANSPOSE",
}

func (u UpsampleType) String() string {
	if int(u) < len(upsampleTypeNames) {
		return upsampleTypeNames[u]
	}

	return fmt.Sprintf("UpsampleType(%d)", u)
}

// MarshalText implements encoding.TextMarshaler.
func (u UpsampleType) MarshalText() ([]byte, error) {
	if int(u) >= len(upsampleTypeNames) {
		return nil, fmt.Errorf("invalid upsample type %d", u)
	}

	return []byte(u.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (u *UpsampleType) UnmarshalText(text []byte) error {
	i, err := lookupName(upsampleTypeNames, string(text))
	if err != nil {
		return fmt.Errorf("upsample type: %w", err)
	}

	*u = UpsampleType(i)

	return nil
}

// PleOperation is the kernel a PLE op runs.
type PleOperation uint8

// PLE operations.
const (
	PlePassthrough PleOperation = iota
	PleAddition
	PleAdditionRescale
	PleAvgpool3x3_1_1Udma
	PleDownsample2x2
	PleInterleave2x2_2_2
	PleLeakyRelu
	PleMaxpool2x2_2_2
	PleMaxpool3x3_2_2Even
	PleMaxpool3x3_2_2Odd
	PleMeanXy7x7
	PleMeanXy8x8
	PleMultiplication
	PleSigmoid
	PleTransposeXY
)

var pleOperationNames = []string{
	"PASSTHROUGH",
	"ADDITION",
	"ADDITION_RESCALE",
	"AVGPOOL_3X3_1_1_UDMA",
	"DOWNSAMPLE_2X2",
	"INTERLEAVE_2X2_2_2",
	"LEAKY_RELU",
	"MAXPOOL_2X2_2_2",
	"MAXPOOL_3X3_2_2_EVEN",
	"MAXPOOL_3X3_2_2_ODD",
	"MEAN_XY_7X7",
	"MEAN_XY_8X8",
	"MULTIPLICATION",
	"SIGMOID",
	"TRANSPOSE_XY",
}

// NumPleOperations is the number of defined PLE operations.
const NumPleOperations = 15

func (o PleOperation) String() string {
	if int(o) < len(pleOperationNames) {
		return pleOperationNames[o]
	}

	return fmt.Sprintf("PleOperation(%d)", o)
}

// MarshalText implements encoding.TextMarshaler.
func (o PleOperation) MarshalText() ([]byte, error) {
	if int(o) >= len(pleOperationNames) {
		return nil, fmt.Errorf("invalid PLE operation %d", o)
	}

	return []byte(o.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (o *PleOperation) UnmarshalText(text []byte) error {
	i, err := lookupName(pleOperationNames, string(text))
	if err != nil {
		return fmt.Errorf("PLE operation: %w", err)
	}

	*o = PleOperation(i)

	return nil
}

// IsMaxpool3x3 returns true for the 3x3 stride-2 max pooling kernels, whose
// output stripes overlap their input by one row.
func (o PleOperation) IsMaxpool3x3() bool {
	return o == PleMaxpool3x3_2_2Even || o == PleMaxpool3x3_2_2Odd
}

func lookupName(names []string, s string) (int, error) {
	for i, n := range names {
		if n == s {
			return i, nil
		}
	}

	return 0, fmt.Errorf("unknown name %q", s)
}

// Stride is a 2D convolution stride.
type Stride struct {
	X, Y uint32
}

// BlockConfig is the size of the block an engine works on at a time.
type BlockConfig struct {
	Width, Height uint32
}

// DmaOp transfers a buffer between DRAM and SRAM.
type DmaOp struct {
	TransferFormat Format
}

// MceOp runs the convolution engine.
type MceOp struct {
	Operation          MceOperation
	Algorithm          MceAlgorithm
	BlockConfig        BlockConfig
	InputStripeShape   TensorShape
	OutputStripeShape  TensorShape
	WeightsStripeShape TensorShape
	Stride             Stride
	PadLeft, PadTop    uint32
	UpscaleFactor      uint32
	UpsampleType       UpsampleType
	LowerBound         int16
	UpperBound         int16
}

// PleOp runs a post-processing kernel.
type PleOp struct {
	Operation          PleOperation
	BlockConfig        BlockConfig
	NumInputs          uint32
	InputStripeShapes  []TensorShape
	OutputStripeShape  TensorShape
	LoadKernel         bool
	Offset             uint32
	InputQuantizations []Quantization
	OutputQuantization Quantization
}

// Op is one node of the dataflow graph. Exactly one of Dma, Mce and Ple is
// set for the matching kind.
type Op struct {
	Kind         OpKind
	Name         string
	OperationIDs []uint32

	Dma *DmaOp
	Mce *MceOp
	Ple *PleOp
}
