package graph

import (
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

type yamlBoundary struct {
	Left   uint8 `yaml:"left"`
	Top    uint8 `yaml:"top"`
	Right  uint8 `yaml:"right"`
	Bottom uint8 `yaml:"bottom"`
}

type yamlBuffer struct {
	Name         string       `yaml:"name"`
	Location     string       `yaml:"location"`
	Format       string       `yaml:"format"`
	Type         string       `yaml:"type"`
	Shape        TensorShape  `yaml:"shape"`
	Stripe       TensorShape  `yaml:"stripe"`
	Slots        uint32       `yaml:"slots"`
	Size         uint32       `yaml:"size"`
	Offset       uint32       `yaml:"offset"`
	Loads        uint32       `yaml:"loads"`
	Boundary     yamlBoundary `yaml:"boundary"`
	ZeroPoint    int32        `yaml:"zeroPoint"`
	Scale        float32      `yaml:"scale"`
	ConstantSize uint32       `yaml:"constantSize"`
	OperationID  uint32       `yaml:"operationId"`
}

type yamlMce struct {
	Operation     string      `yaml:"operation"`
	Algorithm     string      `yaml:"algorithm"`
	Block         [2]uint32   `yaml:"block"`
	Stride        [2]uint32   `yaml:"stride"`
	PadLeft       uint32      `yaml:"padLeft"`
	PadTop        uint32      `yaml:"padTop"`
	InputStripe   TensorShape `yaml:"inputStripe"`
	OutputStripe  TensorShape `yaml:"outputStripe"`
	WeightsStripe TensorShape `yaml:"weightsStripe"`
	UpscaleFactor uint32      `yaml:"upscaleFactor"`
	Upsample      string      `yaml:"upsample"`
	LowerBound    int16       `yaml:"lowerBound"`
	UpperBound    int16       `yaml:"upperBound"`
}

type yamlPle struct {
	Operation    string        `yaml:"operation"`
	Block        [2]uint32     `yaml:"block"`
	InputStripes []TensorShape `yaml:"inputStripes"`
	OutputStripe TensorShape   `yaml:"outputStripe"`
	LoadKernel   bool          `yaml:"loadKernel"`
	Offset       uint32        `yaml:"offset"`
}

type yamlOp struct {
	Name         string   `yaml:"name"`
	Kind         string   `yaml:"kind"`
	OperationIDs []uint32 `yaml:"operationIds"`
	Inputs       []string `yaml:"inputs"`
	Output       string   `yaml:"output"`
	Format       string   `yaml:"format"`
	Mce          *yamlMce `yaml:"mce"`
	Ple          *yamlPle `yaml:"ple"`
}

type yamlGraph struct {
	Buffers []yamlBuffer `yaml:"buffers"`
	Ops     []yamlOp     `yaml:"ops"`
}

// LoadYAML reads a graph description. Buffers are referenced by name from
// the op list; ops run in the order they are listed.
func LoadYAML(r io.Reader) (*Graph, error) {
	var doc yamlGraph

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decoding graph: %w", err)
	}

	g := New()
	bufferIndex := make(map[string]int, len(doc.Buffers))

	for _, yb := range doc.Buffers {
		if _, dup := bufferIndex[yb.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate buffer %q",
				ErrInvalidGraph, yb.Name)
		}

		b, err := yb.toBuffer()
		if err != nil {
			return nil, fmt.Errorf("buffer %q: %w", yb.Name, err)
		}

		bufferIndex[yb.Name] = g.AddBuffer(b)
	}

	for _, yo := range doc.Ops {
		op, err := yo.toOp()
		if err != nil {
			return nil, fmt.Errorf("op %q: %w", yo.Name, err)
		}

		idx := g.AddOp(op)

		for _, in := range yo.Inputs {
			b, ok := bufferIndex[in]
			if !ok {
				return nil, fmt.Errorf("%w: op %q reads unknown buffer %q",
					ErrInvalidGraph, yo.Name, in)
			}

			g.AddInput(idx, b)
		}

		out, ok := bufferIndex[yo.Output]
		if !ok {
			return nil, fmt.Errorf("%w: op %q writes unknown buffer %q",
				ErrInvalidGraph, yo.Name, yo.Output)
		}

		g.SetOutput(idx, out)
	}

	if err := g.Validate(); err != nil {
		return nil, err
	}

	return g, nil
}

func (yb yamlBuffer) toBuffer() (Buffer, error) {
	b := Buffer{
		TensorShape: yb.Shape,
		StripeShape: yb.Stripe,
		NumStripes:  yb.Slots,
		SizeInBytes: yb.Size,
		Offset:      yb.Offset,
		NumLoads:    yb.Loads,
		PackedBoundaryThickness: PackedBoundaryThickness{
			Left:   yb.Boundary.Left,
			Top:    yb.Boundary.Top,
			Right:  yb.Boundary.Right,
			Bottom: yb.Boundary.Bottom,
		},
		Quantization: Quantization{ZeroPoint: yb.ZeroPoint, Scale: yb.Scale},
		DebugTag:     yb.Name,
		OperationID:  yb.OperationID,
	}

	loc, err := parseEnum(locationNames, yb.Location, "DRAM")
	if err != nil {
		return b, fmt.Errorf("location: %w", err)
	}

	b.Location = Location(loc)

	format, err := parseEnum(formatNames, yb.Format, "NHWCB")
	if err != nil {
		return b, fmt.Errorf("format: %w", err)
	}

	b.Format = Format(format)

	bt, err := parseEnum(bufferTypeNames, yb.Type, "INTERMEDIATE")
	if err != nil {
		return b, fmt.Errorf("type: %w", err)
	}

	b.Type = BufferType(bt)

	if b.StripeShape == (TensorShape{}) {
		b.StripeShape = b.TensorShape
	}

	if b.SizeInBytes == 0 {
		b.SizeInBytes = b.TensorShape.NumElements()
	}

	if yb.ConstantSize > 0 {
		b.ConstantData = make([]byte, yb.ConstantSize)
	}

	return b, nil
}

func (yo yamlOp) toOp() (Op, error) {
	op := Op{Name: yo.Name, OperationIDs: yo.OperationIDs}

	switch strings.ToLower(yo.Kind) {
	case "dma":
		op.Kind = OpDma

		format, err := parseEnum(formatNames, yo.Format, "NHWCB")
		if err != nil {
			return op, fmt.Errorf("format: %w", err)
		}

		op.Dma = &DmaOp{TransferFormat: Format(format)}
	case "mce":
		if yo.Mce == nil {
			return op, fmt.Errorf("%w: mce op without mce section", ErrInvalidGraph)
		}

		mce, err := yo.Mce.toMceOp()
		if err != nil {
			return op, err
		}

		op.Kind = OpMce
		op.Mce = mce
	case "ple":
		if yo.Ple == nil {
			return op, fmt.Errorf("%w: ple op without ple section", ErrInvalidGraph)
		}

		ple, err := yo.Ple.toPleOp(len(yo.Inputs))
		if err != nil {
			return op, err
		}

		op.Kind = OpPle
		op.Ple = ple
	case "spacetodepth":
		op.Kind = OpSpaceToDepth
	case "estimateonly":
		op.Kind = OpEstimateOnly
	case "concat":
		op.Kind = OpConcat
	default:
		return op, fmt.Errorf("%w: unknown op kind %q", ErrInvalidGraph, yo.Kind)
	}

	return op, nil
}

func (ym *yamlMce) toMceOp() (*MceOp, error) {
	m := &MceOp{
		BlockConfig:        BlockConfig{Width: ym.Block[0], Height: ym.Block[1]},
		Stride:             Stride{X: ym.Stride[0], Y: ym.Stride[1]},
		PadLeft:            ym.PadLeft,
		PadTop:             ym.PadTop,
		InputStripeShape:   ym.InputStripe,
		OutputStripeShape:  ym.OutputStripe,
		WeightsStripeShape: ym.WeightsStripe,
		UpscaleFactor:      ym.UpscaleFactor,
		LowerBound:         ym.LowerBound,
		UpperBound:         ym.UpperBound,
	}

	operation, err := parseEnum(mceOperationNames, ym.Operation, "CONVOLUTION")
	if err != nil {
		return nil, fmt.Errorf("mce operation: %w", err)
	}

	m.Operation = MceOperation(operation)

	algo, err := parseEnum(mceAlgorithmNames, ym.Algorithm, "DIRECT")
	if err != nil {
		return nil, fmt.Errorf("mce algorithm: %w", err)
	}

	m.Algorithm = MceAlgorithm(algo)

	upsample, err := parseEnum(upsampleTypeNames, ym.Upsample, "OFF")
	if err != nil {
		return nil, fmt.Errorf("upsample: %w", err)
	}

	m.UpsampleType = UpsampleType(upsample)

	if m.Stride == (Stride{}) {
		m.Stride = Stride{X: 1, Y: 1}
	}

	if m.UpscaleFactor == 0 {
		m.UpscaleFactor = 1
	}

	return m, nil
}

func (yp *yamlPle) toPleOp(numInputs int) (*PleOp, error) {
	p := &PleOp{
		BlockConfig:       BlockConfig{Width: yp.Block[0], Height: yp.Block[1]},
		NumInputs:         uint32(numInputs),
		InputStripeShapes: yp.InputStripes,
		OutputStripeShape: yp.OutputStripe,
		LoadKernel:        yp.LoadKernel,
		Offset:            yp.Offset,
	}

	operation, err := parseEnum(pleOperationNames, yp.Operation, "PASSTHROUGH")
	if err != nil {
		return nil, fmt.Errorf("ple operation: %w", err)
	}

	p.Operation = PleOperation(operation)

	return p, nil
}

func parseEnum(names []string, s, def string) (int, error) {
	if s == "" {
		s = def
	}

	return lookupName(names, strings.ToUpper(s))
}
