package generator

import (
	"fmt"
	"math"

	"github.com/sarchlab/cascadegen/agent"
	"github.com/sarchlab/cascadegen/config"
	"github.com/sarchlab/cascadegen/graph"
)

// narrower converts graph quantities to the 16-bit fields of the agents and
// keeps the first value that did not fit.
type narrower struct {
	err error
}

func (n *narrower) u16(v uint32, what string) uint16 {
	if v > math.MaxUint16 && n.err == nil {
		n.err = fmt.Errorf("%w: %s %d does not fit in 16 bits",
			ErrInvalidGraph, what, v)
	}

	return uint16(v)
}

func divRoundUp(a, b uint32) uint32 {
	if b == 0 {
		return 0
	}

	return (a + b - 1) / b
}

// stripeDim is the split of one tensor dimension into stripes.
type stripeDim struct {
	dflt, edge, num uint32
}

func splitDim(tensor, stripe uint32) stripeDim {
	if tensor == 0 {
		return stripeDim{num: 1}
	}

	if stripe == 0 || stripe > tensor {
		stripe = tensor
	}

	num := divRoundUp(tensor, stripe)

	return stripeDim{dflt: stripe, edge: tensor - (num-1)*stripe, num: num}
}

func (n *narrower) tensorStripes(
	tensor, stripe graph.TensorShape,
) (dflt, edge, num agent.TensorSize) {
	h := splitDim(tensor.Height(), stripe.Height())
	w := splitDim(tensor.Width(), stripe.Width())
	c := splitDim(tensor.Channels(), stripe.Channels())

	dflt = agent.TensorSize{
		Height:   n.u16(h.dflt, "stripe height"),
		Width:    n.u16(w.dflt, "stripe width"),
		Channels: n.u16(c.dflt, "stripe channels"),
	}
	edge = agent.TensorSize{
		Height:   n.u16(h.edge, "edge stripe height"),
		Width:    n.u16(w.edge, "edge stripe width"),
		Channels: n.u16(c.edge, "edge stripe channels"),
	}
	num = agent.TensorSize{
		Height:   n.u16(h.num, "stripes along height"),
		Width:    n.u16(w.num, "stripes along width"),
		Channels: n.u16(c.num, "stripes along channels"),
	}

	return dflt, edge, num
}

// fmStrides orders feature-map stripes channels first, then width, then
// height.
func fmStrides(num agent.TensorSize) agent.TensorSize {
	return agent.TensorSize{
		Channels: 1,
		Width:    num.Channels,
		Height:   num.Channels * num.Width,
	}
}

// tile describes the SRAM slots of a buffer. Slot sizes are per SRAM bank.
func (n *narrower) tile(caps config.Capabilities, b *graph.Buffer) agent.Tile {
	slots := max(b.NumStripes, 1)

	return agent.Tile{
		BaseAddr: b.Offset,
		NumSlots: n.u16(b.NumStripes, "slots"),
		SlotSize: divRoundUp(b.SizeInBytes, slots*caps.NumberOfSrams),
	}
}

// pleTile is the tile of a PLE output buffer counted in PLE stripes. A slot
// taller than the PLE stripe holds several of them, one below the other.
func (n *narrower) pleTile(
	caps config.Capabilities,
	b *graph.Buffer,
	stripe graph.TensorShape,
) agent.Tile {
	perSlot := uint32(1)
	if h := stripe.Height(); h != 0 && b.StripeShape.Height() > h {
		perSlot = b.StripeShape.Height() / h
	}

	slots := max(b.NumStripes, 1) * perSlot

	return agent.Tile{
		BaseAddr: b.Offset,
		NumSlots: n.u16(slots, "PLE slots"),
		SlotSize: divRoundUp(b.SizeInBytes, slots*caps.NumberOfSrams),
	}
}

func fmsDataType(f graph.Format) (agent.FmsDataType, error) {
	switch f {
	case graph.FormatNHWC:
		return agent.FmsNHWC, nil
	case graph.FormatNHWCB:
		return agent.FmsNHWCB, nil
	case graph.FormatFCAF:
		return agent.FmsFcafDeep, nil
	default:
		return 0, fmt.Errorf("%w: no streamer layout for %s", ErrInvalidGraph, f)
	}
}

// cellShape is the H, W and C extent of one DRAM cell of a layout.
func cellShape(caps config.Capabilities, t agent.FmsDataType) (h, w, c uint32) {
	switch t {
	case agent.FmsNHWC:
		return 1, 1, 1
	case agent.FmsFcafDeep:
		return caps.BrickGroupShape[1], caps.BrickGroupShape[2],
			2 * caps.BrickGroupShape[3]
	default:
		return caps.BrickGroupShape[1], caps.BrickGroupShape[2],
			caps.BrickGroupShape[3]
	}
}

func (n *narrower) fmData(
	caps config.Capabilities,
	id uint16,
	dram, sram *graph.Buffer,
) (agent.FmData, error) {
	dataType, err := fmsDataType(dram.Format)
	if err != nil {
		return agent.FmData{}, err
	}

	dflt, edge, num := n.tensorStripes(sram.TensorShape, sram.StripeShape)
	_, cw, cc := cellShape(caps, dataType)

	return agent.FmData{
		BufferID:          id,
		DataType:          dataType,
		Tile:              n.tile(caps, sram),
		DefaultStripeSize: dflt,
		EdgeStripeSize:    edge,
		SupertensorSizeInCells: agent.SupertensorSize{
			Width:    n.u16(divRoundUp(dram.TensorShape.Width(), cw), "supertensor width"),
			Channels: n.u16(divRoundUp(dram.TensorShape.Channels(), cc), "supertensor channels"),
		},
		NumStripes:      num,
		StripeIDStrides: fmStrides(num),
	}, nil
}

// dmaStrides returns the DRAM distance in bytes between rows of cells and
// between cells along the width.
func dmaStrides(caps config.Capabilities, fm *agent.FmData) (row, cell uint32) {
	ch, cw, cc := cellShape(caps, fm.DataType)
	cellBytes := ch * cw * cc
	cells := uint32(fm.SupertensorSizeInCells.Channels)

	return uint32(fm.SupertensorSizeInCells.Width) * cells * cellBytes,
		cells * cellBytes
}

func (gen *generator) addIfmStreamer(op int) error {
	g := gen.graph
	dramIdx, sramIdx := g.Input(op, 0), g.Output(op)
	dram, sram := g.Buffer(dramIdx), g.Buffer(sramIdx)

	id, err := gen.dramBufferID(dramIdx)
	if err != nil {
		return err
	}

	var n narrower

	fm, err := n.fmData(gen.caps, id, dram, sram)
	if err != nil {
		return err
	}

	ifm := agent.IfmS{
		FmData:                  fm,
		PackedBoundaryThickness: sram.PackedBoundaryThickness,
		NumLoads:                n.u16(sram.Loads(), "IFM loads"),
	}

	right, bottom := gen.extraBoundary(sramIdx)
	if right && ifm.NumStripes.Width > 1 {
		ifm.NumStripes.Width--
		ifm.EdgeStripeSize.Width = n.u16(sram.TensorShape.Width()-
			uint32(ifm.NumStripes.Width-1)*uint32(ifm.DefaultStripeSize.Width),
			"edge stripe width")
		ifm.IsExtraPackedBoundaryDataOnRightEdge = true
	}

	if bottom && ifm.NumStripes.Height > 1 {
		ifm.NumStripes.Height--
		ifm.EdgeStripeSize.Height = n.u16(sram.TensorShape.Height()-
			uint32(ifm.NumStripes.Height-1)*uint32(ifm.DefaultStripeSize.Height),
			"edge stripe height")
		ifm.IsExtraPackedBoundaryDataOnBottomEdge = true
	}

	ifm.StripeIDStrides = fmStrides(ifm.NumStripes)

	row, cell := dmaStrides(gen.caps, &ifm.FmData)
	ifm.DmaStride1 = agent.Hex32(row)
	ifm.DmaStride2 = agent.Hex32(cell)

	if ifm.DataType == agent.FmsFcafDeep {
		ifm.DmaCompConfig0 = 1
	}

	total := n.u16(uint32(ifm.NumStripes.Total())*sram.Loads(), "IFM stripes")
	if n.err != nil {
		return n.err
	}

	a := gen.push(op, agent.NewIfmStreamer(total, ifm))

	return gen.readDram(a, dramIdx)
}

// extraBoundary reports whether the last column or row of IFM stripes only
// holds boundary data for an MCE consumer. That data is then packed into the
// stripe before it.
func (gen *generator) extraBoundary(buf int) (right, bottom bool) {
	g := gen.graph
	in := g.Buffer(buf)

	for _, c := range g.Consumers(buf) {
		o := g.Op(c.Op)
		if o.Kind != graph.OpMce || o.Mce == nil {
			continue
		}

		out := g.Buffer(g.Output(c.Op))
		inW := divRoundUp(in.TensorShape.Width(), o.Mce.InputStripeShape.Width())
		outW := divRoundUp(out.TensorShape.Width(), o.Mce.OutputStripeShape.Width())
		inH := divRoundUp(in.TensorShape.Height(), o.Mce.InputStripeShape.Height())
		outH := divRoundUp(out.TensorShape.Height(), o.Mce.OutputStripeShape.Height())

		right = inW > outW && in.PackedBoundaryThickness.Right > 0
		bottom = inH > outH && in.PackedBoundaryThickness.Bottom > 0

		return right, bottom
	}

	return false, false
}

// mceConsumer returns the first MCE op reading a buffer.
func (gen *generator) mceConsumer(buf int) (int, error) {
	for _, c := range gen.graph.Consumers(buf) {
		o := gen.graph.Op(c.Op)
		if o.Kind == graph.OpMce && o.Mce != nil {
			return c.Op, nil
		}
	}

	return 0, fmt.Errorf("%w: weights buffer %d has no MCE consumer",
		ErrInvalidGraph, buf)
}

// ifmChannelSplit is how an MCE op splits its input channels. A depthwise
// convolution walks input channels together with the output channels.
func (gen *generator) ifmChannelSplit(mceOp int) stripeDim {
	g := gen.graph
	mce := g.Op(mceOp).Mce

	if mce.Operation == graph.MceDepthwiseConvolution {
		out := g.Buffer(g.Output(mceOp))
		c := splitDim(out.TensorShape.Channels(), mce.OutputStripeShape.Channels())

		return stripeDim{dflt: c.dflt, edge: c.edge, num: 1}
	}

	ifm := g.Buffer(g.Input(mceOp, 0))

	return splitDim(ifm.TensorShape.Channels(), ifm.StripeShape.Channels())
}

func (gen *generator) ofmChannelStripes(mceOp int) uint32 {
	g := gen.graph
	out := g.Buffer(g.Output(mceOp))

	return splitDim(out.TensorShape.Channels(),
		g.Op(mceOp).Mce.OutputStripeShape.Channels()).num
}

func (gen *generator) addWgtStreamer(op int) error {
	g := gen.graph
	dramIdx, sramIdx := g.Input(op, 0), g.Output(op)
	sram := g.Buffer(sramIdx)

	mceOp, err := gen.mceConsumer(sramIdx)
	if err != nil {
		return err
	}

	id, err := gen.dramBufferID(dramIdx)
	if err != nil {
		return err
	}

	var n narrower

	loads := sram.Loads()
	ifmC := gen.ifmChannelSplit(mceOp).num
	ofmC := gen.ofmChannelStripes(mceOp)

	wgt := agent.WgtS{
		BufferID: id,
		Tile:     n.tile(gen.caps, sram),
		NumStripes: agent.WgtSWorkSize{
			OfmChannels: n.u16(ofmC, "weight OFM channel stripes"),
			IfmChannels: n.u16(ifmC, "weight IFM channel stripes"),
		},
		StripeIDStrides: agent.WgtSWorkSize{
			OfmChannels: n.u16(ifmC*loads, "weight stripe stride"),
			IfmChannels: 1,
		},
		NumLoads: n.u16(loads, "weight loads"),
	}

	total := n.u16(ofmC*ifmC*loads, "weight stripes")
	if n.err != nil {
		return n.err
	}

	a := gen.push(op, agent.NewWgtStreamer(total, wgt))

	return gen.readDram(a, dramIdx)
}

func (gen *generator) addOfmStreamer(op int) error {
	g := gen.graph
	sramIdx, dramIdx := g.Input(op, 0), g.Output(op)
	sram, dram := g.Buffer(sramIdx), g.Buffer(dramIdx)

	producer := gen.producerAgent(sramIdx)
	if producer < 0 {
		return fmt.Errorf("%w: OFM buffer %d has no producer",
			ErrInvalidGraph, sramIdx)
	}

	id, err := gen.dramBufferID(dramIdx)
	if err != nil {
		return err
	}

	var n narrower

	fm, err := n.fmData(gen.caps, id, dram, sram)
	if err != nil {
		return err
	}

	ofm := agent.OfmS{FmData: fm}

	row, cell := dmaStrides(gen.caps, &ofm.FmData)
	ofm.DmaStride1 = agent.Hex32(row)
	ofm.DmaStride2 = agent.Hex32(cell)

	total := n.u16(uint32(fm.NumStripes.Total()), "OFM stripes")
	if n.err != nil {
		return n.err
	}

	a := gen.push(op, agent.NewOfmStreamer(total, ofm))

	return gen.link(a, producer)
}

func (gen *generator) addPleLoader(
	op int,
	ple *graph.PleOp,
	kernel agent.PleKernelID,
) (int, error) {
	a := gen.push(op, agent.NewPleLoader(agent.PleL{
		SramAddr:    ple.Offset,
		PleKernelID: kernel,
	}))
	gen.kernels[kernel] = a

	if _, err := gen.applyFence(a); err != nil {
		return 0, err
	}

	return a, nil
}

func (gen *generator) addMceScheduler(
	op int,
	kernel agent.PleKernelID,
	loader int,
) error {
	g := gen.graph
	mce := g.Op(op).Mce
	ifmIdx, wgtIdx, outIdx := g.Input(op, 0), g.Input(op, 1), g.Output(op)
	ifm, wgt, out := g.Buffer(ifmIdx), g.Buffer(wgtIdx), g.Buffer(outIdx)

	var n narrower

	dflt, edge, num := n.tensorStripes(out.TensorShape, mce.OutputStripeShape)
	ifmC := gen.ifmChannelSplit(op)
	numIfmC := n.u16(ifmC.num, "IFM channel stripes")

	data := agent.MceS{
		IfmTile:   n.tile(gen.caps, ifm),
		WgtTile:   n.tile(gen.caps, wgt),
		BlockSize: agent.BlockSize{Width: uint8(mce.BlockConfig.Width), Height: uint8(mce.BlockConfig.Height)},
		DefaultStripeSize: agent.MceSWorkSize{
			OfmWidth:    dflt.Width,
			OfmHeight:   dflt.Height,
			OfmChannels: dflt.Channels,
			IfmChannels: n.u16(ifmC.dflt, "IFM channel stripe"),
		},
		EdgeStripeSize: agent.MceSWorkSize{
			OfmWidth:    edge.Width,
			OfmHeight:   edge.Height,
			OfmChannels: edge.Channels,
			IfmChannels: n.u16(ifmC.edge, "IFM channel edge stripe"),
		},
		NumStripes: agent.MceSWorkSize{
			OfmWidth:    num.Width,
			OfmHeight:   num.Height,
			OfmChannels: num.Channels,
			IfmChannels: numIfmC,
		},
		StripeIDStrides: agent.MceSWorkSize{
			IfmChannels: 1,
			OfmWidth:    numIfmC,
			OfmHeight:   numIfmC * num.Width,
			OfmChannels: numIfmC * num.Width * num.Height,
		},
		ConvStrideXY: agent.StrideXY{
			X: uint8(max(mce.Stride.X, 1)),
			Y: uint8(max(mce.Stride.Y, 1)),
		},
		IfmZeroPoint:      int16(ifm.Quantization.ZeroPoint),
		MceOpMode:         mce.Operation,
		Algorithm:         mce.Algorithm,
		IsPackedBoundaryX: ifm.PackedBoundaryThickness.Left > 0 || ifm.PackedBoundaryThickness.Right > 0,
		IsPackedBoundaryY: ifm.PackedBoundaryThickness.Top > 0 || ifm.PackedBoundaryThickness.Bottom > 0,
		UpsampleType:      mce.UpsampleType,
		OutputToSram:      out.Location == graph.LocationSram,
		PleKernelID:       kernel,

		ActivationConfig:  agent.Hex32(uint32(uint16(mce.LowerBound)) | uint32(uint16(mce.UpperBound))<<16),
		StripeBlockConfig: agent.Hex32(mce.BlockConfig.Width | mce.BlockConfig.Height<<8),
		PleMceifConfig:    agent.Hex32(gen.caps.NumberOfOgs()),
	}

	data.IfmDefaultSlotSize = agent.Hex32(data.IfmTile.SlotSize)
	data.IfmSlotStride = agent.Hex32(data.IfmTile.SlotSize)
	data.IfmSlotBaseAddress = agent.Hex32(data.IfmTile.BaseAddr)

	if data.OutputToSram {
		data.OfmTile = n.tile(gen.caps, out)
	}

	if mce.Operation == graph.MceDepthwiseConvolution {
		data.DepthwiseControl = 1
	}

	total := n.u16(uint32(num.Total())*ifmC.num, "MCE stripes")
	if n.err != nil {
		return n.err
	}

	a := gen.push(op, agent.NewMceScheduler(total, data))

	ifmProducer := gen.producerAgent(ifmIdx)
	wgtProducer := gen.producerAgent(wgtIdx)

	for _, p := range []int{ifmProducer, wgtProducer} {
		if p < 0 {
			continue
		}

		if err := gen.addRead(a, p); err != nil {
			return err
		}
	}

	for _, p := range []int{ifmProducer, wgtProducer} {
		if p < 0 {
			continue
		}

		if err := gen.addWrite(a, p); err != nil {
			return err
		}
	}

	for _, p := range []int{ifmProducer, wgtProducer, loader} {
		if p < 0 {
			continue
		}

		if err := gen.addSchedule(a, p); err != nil {
			return err
		}
	}

	return nil
}

func pleKernel(ple *graph.PleOp) (agent.PleKernelID, error) {
	id := agent.FindPleKernelID(ple.Operation, ple.BlockConfig, false)
	if id == agent.PleKernelNotFound {
		return 0, fmt.Errorf("%w: no PLE kernel for %s with %dx%d blocks",
			ErrInvalidGraph, ple.Operation,
			ple.BlockConfig.Width, ple.BlockConfig.Height)
	}

	return id, nil
}

func (gen *generator) pleData(
	op int,
	kernel agent.PleKernelID,
	mode agent.PleInputMode,
) (agent.PleS, uint16, error) {
	g := gen.graph
	ple := g.Op(op).Ple
	out := g.Buffer(g.Output(op))

	var n narrower

	dflt, edge, num := n.tensorStripes(out.TensorShape, ple.OutputStripeShape)

	data := agent.PleS{
		OfmTile:           n.pleTile(gen.caps, out, ple.OutputStripeShape),
		OfmZeroPoint:      int16(out.Quantization.ZeroPoint),
		DefaultStripeSize: dflt,
		EdgeStripeSize:    edge,
		NumStripes:        num,
		StripeIDStrides:   fmStrides(num),
		InputMode:         mode,
		PleKernelID:       kernel,
		PleKernelSramAddr: ple.Offset,
		PleOperation:      ple.Operation,
	}

	outScale := outputScale(ple, out)

	for i, in := range g.Inputs(op) {
		b := g.Buffer(in)
		info := agent.PleIfmInfo{ZeroPoint: int16(b.Quantization.ZeroPoint)}
		info.Multiplier, info.Shift = rescale(inputScale(ple, i, b), outScale)

		if mode.IsSram() {
			info.Tile = n.tile(gen.caps, b)
		}

		switch i {
		case 0:
			data.Ifm0 = info
		case 1:
			data.Ifm1 = info
		}
	}

	total := n.u16(uint32(num.Total()), "PLE stripes")
	if n.err != nil {
		return agent.PleS{}, 0, n.err
	}

	return data, total, nil
}

func inputScale(ple *graph.PleOp, i int, b *graph.Buffer) float64 {
	if i < len(ple.InputQuantizations) && ple.InputQuantizations[i].Scale != 0 {
		return float64(ple.InputQuantizations[i].Scale)
	}

	return float64(b.Quantization.Scale)
}

func outputScale(ple *graph.PleOp, out *graph.Buffer) float64 {
	if ple.OutputQuantization.Scale != 0 {
		return float64(ple.OutputQuantization.Scale)
	}

	return float64(out.Quantization.Scale)
}

// rescale expresses in/out as a 16-bit multiplier and a right shift.
func rescale(in, out float64) (multiplier, shift uint16) {
	if in <= 0 || out <= 0 {
		return 0, 0
	}

	frac, exp := math.Frexp(in / out)

	m := math.Round(frac * (1 << 16))
	if m == 1<<16 {
		m /= 2
		exp++
	}

	s := 16 - exp
	if s < 0 || s > 31 {
		return 0, 0
	}

	return uint16(m), uint16(s)
}

func (gen *generator) addFusedPleScheduler(op int, kernel agent.PleKernelID) error {
	g := gen.graph
	in := g.Input(op, 0)

	mce := gen.producerAgent(in)
	if mce < 0 || gen.agents[mce].Type != agent.MceScheduler {
		return fmt.Errorf("%w: fused PLE input %d is not produced by an MCE",
			ErrInvalidGraph, in)
	}

	mode := agent.PleInputMceAllOgs
	if gen.agents[mce].Mce.MceOpMode == graph.MceDepthwiseConvolution {
		mode = agent.PleInputMceOneOg
	}

	data, total, err := gen.pleData(op, kernel, mode)
	if err != nil {
		return err
	}

	a := gen.push(op, agent.NewPleScheduler(total, data))

	if err := gen.addRead(a, mce); err != nil {
		return err
	}

	if g.Op(op).Ple.LoadKernel {
		if loader, ok := gen.kernels[kernel]; ok {
			if err := gen.addRead(a, loader); err != nil {
				return err
			}
		}
	}

	return gen.addSchedule(a, mce)
}

func (gen *generator) addStandalonePleScheduler(op int, kernel agent.PleKernelID) error {
	g := gen.graph
	inputs := g.Inputs(op)

	if len(inputs) > 2 {
		return fmt.Errorf("%w: PLE op has %d inputs", ErrInvalidGraph, len(inputs))
	}

	mode := agent.PleInputSramOneInput
	if len(inputs) == 2 {
		mode = agent.PleInputSramTwoInputs
	}

	data, total, err := gen.pleData(op, kernel, mode)
	if err != nil {
		return err
	}

	a := gen.push(op, agent.NewPleScheduler(total, data))

	var producers []int

	for _, in := range inputs {
		if p := gen.producerAgent(in); p >= 0 {
			producers = append(producers, p)
		}
	}

	for _, p := range producers {
		if err := gen.addRead(a, p); err != nil {
			return err
		}
	}

	loader := -1
	if g.Op(op).Ple.LoadKernel {
		if l, ok := gen.kernels[kernel]; ok {
			loader = l
		}
	}

	if loader >= 0 {
		if err := gen.addRead(a, loader); err != nil {
			return err
		}
	}

	for _, p := range producers {
		if err := gen.addWrite(a, p); err != nil {
			return err
		}

		if err := gen.addSchedule(a, p); err != nil {
			return err
		}
	}

	if loader >= 0 {
		return gen.addSchedule(a, loader)
	}

	return nil
}
