package generator

import (
	"github.com/golang/mock/gomock"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/cascadegen/agent"
	"github.com/sarchlab/cascadegen/buffer"
	"github.com/sarchlab/cascadegen/config"
	"github.com/sarchlab/cascadegen/graph"
	"github.com/sarchlab/cascadegen/stream"
	"github.com/sarchlab/cascadegen/verify"
)

var (
	fmShape     = graph.TensorShape{1, 16, 16, 16}
	halfStripe  = graph.TensorShape{1, 8, 16, 16}
	weightShape = graph.TensorShape{1, 3, 3, 16}
)

func dramBuffer(t graph.BufferType, tag string) graph.Buffer {
	return graph.Buffer{
		Location:    graph.LocationDram,
		Format:      graph.FormatNHWCB,
		Type:        t,
		TensorShape: fmShape,
		StripeShape: fmShape,
		SizeInBytes: fmShape.NumElements(),
		DebugTag:    tag,
	}
}

func sramBuffer(shape, stripe graph.TensorShape, slots, offset uint32) graph.Buffer {
	return graph.Buffer{
		Location:    graph.LocationSram,
		Format:      graph.FormatNHWCB,
		TensorShape: shape,
		StripeShape: stripe,
		NumStripes:  slots,
		SizeInBytes: stripe.NumElements() * slots,
		Offset:      offset,
	}
}

func preloadedWeights(g *graph.Graph) int {
	w := sramBuffer(weightShape, weightShape, 1, 0x1000)
	w.Format = graph.FormatWeight
	w.Type = graph.BufferConstantDma

	return g.AddBuffer(w)
}

func dma(g *graph.Graph, name string, in, out int) int {
	op := g.AddOp(graph.Op{Kind: graph.OpDma, Name: name, Dma: &graph.DmaOp{}})
	g.AddInput(op, in)
	g.SetOutput(op, out)

	return op
}

func depthwise(g *graph.Graph, in, weights, out int) int {
	op := g.AddOp(graph.Op{
		Kind: graph.OpMce,
		Name: "depthwise",
		Mce: &graph.MceOp{
			Operation:          graph.MceDepthwiseConvolution,
			BlockConfig:        graph.BlockConfig{Width: 16, Height: 16},
			InputStripeShape:   halfStripe,
			OutputStripeShape:  halfStripe,
			WeightsStripeShape: weightShape,
			Stride:             graph.Stride{X: 1, Y: 1},
		},
	})
	g.AddInput(op, in)
	g.AddInput(op, weights)
	g.SetOutput(op, out)

	return op
}

// depthwiseGraph is input -> depthwise -> output, optionally with an
// identity PLE pass fused after the MCE.
func depthwiseGraph(withPle bool) *graph.Graph {
	g := graph.New()

	input := dramBuffer(graph.BufferInput, "input")
	input.OperationID = 3
	in := g.AddBuffer(input)
	ifm := g.AddBuffer(sramBuffer(fmShape, halfStripe, 2, 0))
	weights := preloadedWeights(g)

	output := dramBuffer(graph.BufferOutput, "output")
	output.OperationID = 7
	ofm := g.AddBuffer(sramBuffer(fmShape, halfStripe, 2, 0x2000))

	dma(g, "input dma", in, ifm)

	if withPle {
		pleIn := g.AddBuffer(graph.Buffer{
			Location:    graph.LocationPleInputSram,
			Format:      graph.FormatNHWCB,
			TensorShape: fmShape,
			StripeShape: halfStripe,
		})
		depthwise(g, ifm, weights, pleIn)

		ple := g.AddOp(graph.Op{
			Kind: graph.OpPle,
			Name: "identity",
			Ple: &graph.PleOp{
				Operation:         graph.PlePassthrough,
				BlockConfig:       graph.BlockConfig{Width: 16, Height: 16},
				NumInputs:         1,
				OutputStripeShape: halfStripe,
				LoadKernel:        true,
				Offset:            0x3000,
			},
		})
		g.AddInput(ple, pleIn)
		g.SetOutput(ple, ofm)
	} else {
		depthwise(g, ifm, weights, ofm)
	}

	dma(g, "output dma", ofm, g.AddBuffer(output))

	return g
}

// twoPassGraph runs two depthwise layers with an intermediate DRAM buffer
// between them.
func twoPassGraph() *graph.Graph {
	g := graph.New()

	in := g.AddBuffer(dramBuffer(graph.BufferInput, "input"))
	weights := preloadedWeights(g)
	ifm0 := g.AddBuffer(sramBuffer(fmShape, halfStripe, 2, 0))
	ofm0 := g.AddBuffer(sramBuffer(fmShape, halfStripe, 2, 0x2000))
	mid := g.AddBuffer(dramBuffer(graph.BufferIntermediate, "intermediate"))
	ifm1 := g.AddBuffer(sramBuffer(fmShape, halfStripe, 2, 0x4000))
	ofm1 := g.AddBuffer(sramBuffer(fmShape, halfStripe, 2, 0x6000))
	out := g.AddBuffer(dramBuffer(graph.BufferOutput, "output"))

	dma(g, "load 0", in, ifm0)
	depthwise(g, ifm0, weights, ofm0)
	dma(g, "store 0", ofm0, mid)
	dma(g, "load 1", mid, ifm1)
	depthwise(g, ifm1, weights, ofm1)
	dma(g, "store 1", ofm1, out)

	return g
}

func ple(g *graph.Graph, name string, op graph.PleOperation, out int, inputs ...int) int {
	o := g.AddOp(graph.Op{
		Kind: graph.OpPle,
		Name: name,
		Ple: &graph.PleOp{
			Operation:         op,
			BlockConfig:       graph.BlockConfig{Width: 16, Height: 16},
			NumInputs:         uint32(len(inputs)),
			OutputStripeShape: halfStripe,
			LoadKernel:        true,
			Offset:            0x3000 + 0x800*uint32(op),
		},
	})

	for _, in := range inputs {
		g.AddInput(o, in)
	}

	g.SetOutput(o, out)

	return o
}

// streamedWeightsGraph loads the weights from DRAM, runs a depthwise layer
// with a fused PLE pass and adds a second loaded input to its result in a
// standalone PLE pass.
func streamedWeightsGraph() *graph.Graph {
	g := graph.New()

	in := g.AddBuffer(dramBuffer(graph.BufferInput, "input"))
	ifm := g.AddBuffer(sramBuffer(fmShape, halfStripe, 2, 0))

	wgtDram := g.AddBuffer(graph.Buffer{
		Location:     graph.LocationDram,
		Format:       graph.FormatWeight,
		Type:         graph.BufferConstantDma,
		TensorShape:  weightShape,
		StripeShape:  weightShape,
		SizeInBytes:  weightShape.NumElements(),
		ConstantData: make([]byte, weightShape.NumElements()),
	})
	weights := g.AddBuffer(sramBuffer(weightShape, weightShape, 1, 0x1000))
	g.Buffer(weights).Format = graph.FormatWeight

	pleIn := g.AddBuffer(graph.Buffer{
		Location:    graph.LocationPleInputSram,
		Format:      graph.FormatNHWCB,
		TensorShape: fmShape,
		StripeShape: halfStripe,
	})
	ofm0 := g.AddBuffer(sramBuffer(fmShape, halfStripe, 2, 0x2000))

	second := g.AddBuffer(dramBuffer(graph.BufferInput, "second input"))
	ifm1 := g.AddBuffer(sramBuffer(fmShape, halfStripe, 2, 0x4000))
	sum := g.AddBuffer(sramBuffer(fmShape, halfStripe, 2, 0x6000))
	out := g.AddBuffer(dramBuffer(graph.BufferOutput, "output"))

	dma(g, "input dma", in, ifm)
	dma(g, "weights dma", wgtDram, weights)
	depthwise(g, ifm, weights, pleIn)
	ple(g, "identity", graph.PlePassthrough, ofm0, pleIn)
	dma(g, "second input dma", second, ifm1)
	ple(g, "add", graph.PleAddition, sum, ofm0, ifm1)
	dma(g, "output dma", sum, out)

	return g
}

// sharedIntermediateGraph stores the result of a load, depthwise and PLE
// chain to DRAM and reads it back twice: once into a second depthwise layer
// and once straight into another store.
func sharedIntermediateGraph() (*graph.Graph, int) {
	g := graph.New()

	in := g.AddBuffer(dramBuffer(graph.BufferInput, "input"))
	ifm0 := g.AddBuffer(sramBuffer(fmShape, halfStripe, 2, 0))
	weights := preloadedWeights(g)
	pleIn := g.AddBuffer(graph.Buffer{
		Location:    graph.LocationPleInputSram,
		Format:      graph.FormatNHWCB,
		TensorShape: fmShape,
		StripeShape: halfStripe,
	})
	ofm0 := g.AddBuffer(sramBuffer(fmShape, halfStripe, 2, 0x2000))
	mid := g.AddBuffer(dramBuffer(graph.BufferIntermediate, "intermediate"))

	ifmA := g.AddBuffer(sramBuffer(fmShape, halfStripe, 2, 0x4000))
	ofmA := g.AddBuffer(sramBuffer(fmShape, halfStripe, 2, 0x6000))
	outA := g.AddBuffer(dramBuffer(graph.BufferOutput, "output a"))

	ifmB := g.AddBuffer(sramBuffer(fmShape, halfStripe, 2, 0x8000))
	outB := g.AddBuffer(dramBuffer(graph.BufferOutput, "output b"))

	dma(g, "load", in, ifm0)
	depthwise(g, ifm0, weights, pleIn)
	ple(g, "identity", graph.PlePassthrough, ofm0, pleIn)
	dma(g, "store", ofm0, mid)

	dma(g, "load a", mid, ifmA)
	depthwise(g, ifmA, weights, ofmA)
	dma(g, "store a", ofmA, outA)

	dma(g, "load b", mid, ifmB)
	dma(g, "store b", ifmB, outB)

	return g, mid
}

func expectVerified(cs *CompiledStream) {
	for _, c := range cs.Stream.Cascades() {
		report := verify.GenerateReport(c, 10000)
		Expect(report.LintIssues).To(BeEmpty())
		Expect(report.SimulationErr).NotTo(HaveOccurred())
		Expect(report.OK()).To(BeTrue())
	}
}

func agentTypes(agents []agent.Agent) []agent.AgentType {
	types := make([]agent.AgentType, len(agents))
	for i := range agents {
		types[i] = agents[i].Type
	}

	return types
}

func wait(c agent.CounterName, v uint32) agent.Command {
	return agent.NewWaitForCounter(c, v)
}

func cmd(t agent.CommandType, id uint16, stripe uint32) agent.Command {
	return agent.NewStripeCommand(t, id, stripe)
}

func oneToOne(rel uint8) agent.Dependency {
	return agent.Dependency{
		RelativeAgentID: rel,
		Outer:           agent.Ratio{Self: 2, Other: 2},
		Inner:           agent.Ratio{Self: 1, Other: 1},
	}
}

func generate(g *graph.Graph, opts config.Options) *CompiledStream {
	cs, err := Generate(g, []uint32{1, 2}, config.DefaultCapabilities(),
		opts, buffer.NewManager(nil), nil)
	Expect(err).NotTo(HaveOccurred())

	return cs
}

var _ = Describe("Generator", func() {
	var (
		mockCtrl *gomock.Controller
		bm       *MockBufferManager
		caps     config.Capabilities
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		bm = NewMockBufferManager(mockCtrl)
		caps = config.DefaultCapabilities()
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	Context("input, depthwise, output", func() {
		var cs *CompiledStream

		BeforeEach(func() {
			gomock.InOrder(
				bm.EXPECT().AddDramInput(uint32(4096), uint32(3)).Return(uint32(0)),
				bm.EXPECT().AddDram(uint32(4096), "output").Return(uint32(1)),
				bm.EXPECT().ChangeToOutput(uint32(1), uint32(7), uint32(0)),
			)

			var err error
			cs, err = Generate(depthwiseGraph(false), []uint32{5},
				caps, config.Options{}, bm, nil)
			Expect(err).NotTo(HaveOccurred())
		})

		It("should create three agents", func() {
			Expect(agentTypes(cs.Agents)).To(Equal([]agent.AgentType{
				agent.IfmStreamer, agent.MceScheduler, agent.OfmStreamer,
			}))
			Expect(cs.OpToAgentID).To(Equal([]int{0, 1, 2}))
			Expect(cs.BufferIDs).To(Equal([]int{0, -1, -1, -1, 1}))
			Expect(cs.OperationIDs).To(Equal([]uint32{5}))
			Expect(cs.Lifetimes).To(BeEmpty())
		})

		It("should describe the stripes", func() {
			ifm := cs.Agents[0].Ifm
			Expect(cs.Agents[0].NumStripesTotal).To(Equal(uint16(2)))
			Expect(ifm.NumStripes).To(Equal(agent.TensorSize{Height: 2, Width: 1, Channels: 1}))
			Expect(ifm.DefaultStripeSize).To(Equal(agent.TensorSize{Height: 8, Width: 16, Channels: 16}))
			Expect(ifm.Tile).To(Equal(agent.Tile{BaseAddr: 0, NumSlots: 2, SlotSize: 128}))
			Expect(ifm.SupertensorSizeInCells).To(Equal(agent.SupertensorSize{Width: 2, Channels: 1}))
			Expect(ifm.DataType).To(Equal(agent.FmsNHWCB))

			mce := cs.Agents[1].Mce
			Expect(mce.NumStripes).To(Equal(agent.MceSWorkSize{
				OfmWidth: 1, OfmHeight: 2, OfmChannels: 1, IfmChannels: 1,
			}))
			Expect(mce.OutputToSram).To(BeTrue())
			Expect(mce.OfmTile.BaseAddr).To(Equal(uint32(0x2000)))
			Expect(mce.WgtTile.BaseAddr).To(Equal(uint32(0x1000)))
			Expect(mce.MceOpMode).To(Equal(graph.MceDepthwiseConvolution))
			Expect(mce.PleKernelID).To(Equal(agent.PleKernelNotFound))

			Expect(cs.Agents[2].Ofm.BufferID).To(Equal(uint16(1)))
		})

		It("should link the agents one to one", func() {
			Expect(cs.Agents[1].Info.Read).To(Equal([]agent.Dependency{oneToOne(1)}))
			Expect(cs.Agents[0].Info.Write).To(Equal([]agent.Dependency{oneToOne(1)}))
			Expect(cs.Agents[0].Info.Schedule).To(Equal([]agent.Dependency{oneToOne(1)}))
			Expect(cs.Agents[2].Info.Read).To(Equal([]agent.Dependency{oneToOne(1)}))
			Expect(cs.Agents[1].Info.Write).To(Equal([]agent.Dependency{oneToOne(1)}))
			Expect(cs.Agents[1].Info.Schedule).To(Equal([]agent.Dependency{oneToOne(1)}))
			Expect(cs.Agents[2].Info.Write).To(BeEmpty())
		})

		It("should schedule the commands", func() {
			Expect(cs.Commands.DmaRd).To(Equal([]agent.Command{
				cmd(agent.LoadIfmStripe, 0, 0),
				cmd(agent.LoadIfmStripe, 0, 1),
			}))
			Expect(cs.Commands.Mce).To(Equal([]agent.Command{
				wait(agent.CounterDmaRd, 1),
				cmd(agent.ConfigMceif, 1, 0),
				cmd(agent.ProgramMceStripe, 1, 0),
				cmd(agent.StartMceStripe, 1, 0),
				wait(agent.CounterDmaRd, 2),
				cmd(agent.ProgramMceStripe, 1, 1),
				cmd(agent.StartMceStripe, 1, 1),
			}))
			Expect(cs.Commands.DmaWr).To(Equal([]agent.Command{
				wait(agent.CounterMceStripe, 1),
				cmd(agent.StoreOfmStripe, 2, 0),
				wait(agent.CounterMceStripe, 2),
				cmd(agent.StoreOfmStripe, 2, 1),
			}))
			Expect(cs.Commands.Ple).To(BeEmpty())
		})

		It("should attach register payloads", func() {
			extra := cs.Stream.Cascades()[0].ExtraData
			Expect(extra).To(HaveLen(8))

			Expect(extra[0].Dma.DmaCmd).To(Equal(agent.Hex32(0)))
			Expect(extra[1].Dma.DmaCmd).To(Equal(agent.Hex32(1)))
			Expect(extra[1].Dma.DramOffset).To(Equal(agent.Hex32(2048)))
			Expect(extra[1].Dma.SramAddr).To(Equal(agent.Hex32(0x80)))
			Expect(extra[1].Dma.DmaTotalBytes).To(Equal(agent.Hex32(8 * 16 * 16)))

			Expect(extra[2].Queue).To(Equal(agent.QueueDmaWr))
			Expect(extra[2].Dma.DmaCmd).To(Equal(agent.Hex32(4)))
			Expect(extra[3].Dma.DmaCmd).To(Equal(agent.Hex32(5)))

			Expect(extra[4].Queue).To(Equal(agent.QueueMce))
			Expect(extra[4].ProgramMce.OfmStripeSize).To(Equal(agent.Hex32(16 | 8<<16)))
			Expect(extra[5].StartMce.CeEnables).To(Equal(uint32(0xFF)))
		})

		It("should serialise the stream", func() {
			parsed, err := stream.Parse(cs.Binary)
			Expect(err).NotTo(HaveOccurred())
			Expect(parsed.Cascades()).To(HaveLen(1))

			c := parsed.Cascades()[0]
			Expect(agentTypes(c.Agents)).To(Equal(agentTypes(cs.Agents)))
			Expect(c.Commands.Mce).To(Equal(cs.Commands.Mce))
			Expect(c.NumStripeCommands()).To(Equal([]int{2, 2, 2}))
		})
	})

	Context("with a fused identity PLE", func() {
		var cs *CompiledStream

		BeforeEach(func() {
			cs = generate(depthwiseGraph(true), config.Options{})
		})

		It("should create five agents", func() {
			Expect(agentTypes(cs.Agents)).To(Equal([]agent.AgentType{
				agent.IfmStreamer, agent.PleLoader, agent.MceScheduler,
				agent.PleScheduler, agent.OfmStreamer,
			}))
			Expect(cs.OpToAgentID).To(Equal([]int{0, 2, 3, 4}))
		})

		It("should load the kernel the MCE is fused with", func() {
			kernel := agent.FindPleKernelID(graph.PlePassthrough,
				graph.BlockConfig{Width: 16, Height: 16}, false)

			Expect(cs.Agents[1].PleL).To(Equal(&agent.PleL{
				SramAddr: 0x3000, PleKernelID: kernel,
			}))
			Expect(cs.Agents[2].Mce.PleKernelID).To(Equal(kernel))
			Expect(cs.Agents[2].Mce.OutputToSram).To(BeFalse())
			Expect(cs.Agents[3].PleS.PleKernelID).To(Equal(kernel))
			Expect(cs.Agents[3].PleS.InputMode).To(Equal(agent.PleInputMceOneOg))
			Expect(cs.Agents[3].PleS.PleKernelSramAddr).To(Equal(uint32(0x3000)))
		})

		It("should link the PLE to the MCE and the loader", func() {
			ple := cs.Agents[3].Info
			Expect(ple.Read).To(HaveLen(2))
			Expect(ple.Read[0]).To(Equal(oneToOne(1)))
			Expect(ple.Read[1].RelativeAgentID).To(Equal(uint8(2)))
			Expect(cs.Agents[2].Info.Schedule).To(Equal([]agent.Dependency{oneToOne(1)}))
			Expect(cs.Agents[1].Info.Schedule).To(HaveLen(1))
			Expect(cs.Agents[1].Info.Schedule[0].RelativeAgentID).To(Equal(uint8(1)))
		})

		It("should schedule the commands", func() {
			Expect(cs.Commands.DmaRd).To(Equal([]agent.Command{
				cmd(agent.LoadIfmStripe, 0, 0),
				cmd(agent.LoadPleCodeIntoSram, 1, 0),
				cmd(agent.LoadIfmStripe, 0, 1),
			}))
			Expect(cs.Commands.Mce).To(Equal([]agent.Command{
				wait(agent.CounterDmaRd, 1),
				cmd(agent.ConfigMceif, 2, 0),
				cmd(agent.ProgramMceStripe, 2, 0),
				cmd(agent.StartMceStripe, 2, 0),
				wait(agent.CounterDmaRd, 3),
				cmd(agent.ProgramMceStripe, 2, 1),
				cmd(agent.StartMceStripe, 2, 1),
			}))
			Expect(cs.Commands.Ple).To(Equal([]agent.Command{
				wait(agent.CounterDmaRd, 2),
				wait(agent.CounterMceStripe, 1),
				cmd(agent.LoadPleCodeIntoPleSram, 3, 0),
				cmd(agent.StartPleStripe, 3, 0),
				wait(agent.CounterMceStripe, 2),
				cmd(agent.StartPleStripe, 3, 1),
			}))
			Expect(cs.Commands.DmaWr).To(Equal([]agent.Command{
				wait(agent.CounterPleStripe, 1),
				cmd(agent.StoreOfmStripe, 4, 0),
				wait(agent.CounterPleStripe, 2),
				cmd(agent.StoreOfmStripe, 4, 1),
			}))
		})
	})

	Context("with an OFM stripe taller than the PLE stripe", func() {
		var cs *CompiledStream

		BeforeEach(func() {
			g := depthwiseGraph(true)
			ofm := g.Buffer(3)
			ofm.StripeShape = fmShape
			ofm.NumStripes = 1
			ofm.SizeInBytes = fmShape.NumElements()

			cs = generate(g, config.Options{})
		})

		It("should count the PLE slots in PLE stripes", func() {
			Expect(cs.Agents[3].NumStripesTotal).To(Equal(uint16(2)))
			Expect(cs.Agents[3].PleS.OfmTile).To(Equal(agent.Tile{
				BaseAddr: 0x2000, NumSlots: 2, SlotSize: 128,
			}))
			Expect(cs.Agents[4].NumStripesTotal).To(Equal(uint16(1)))
			Expect(cs.Agents[4].Ofm.Tile).To(Equal(agent.Tile{
				BaseAddr: 0x2000, NumSlots: 1, SlotSize: 256,
			}))
		})

		It("should store the OFM stripe after both PLE stripes", func() {
			Expect(cs.Agents[4].Info.Read).To(Equal([]agent.Dependency{{
				RelativeAgentID: 1,
				Outer:           agent.Ratio{Self: 1, Other: 2},
				Inner:           agent.Ratio{Self: 1, Other: 2},
			}}))
			Expect(cs.Agents[3].Info.Write).To(Equal([]agent.Dependency{{
				RelativeAgentID: 1,
				Outer:           agent.Ratio{Self: 2, Other: 1},
				Inner:           agent.Ratio{Self: 2, Other: 1},
			}}))
			Expect(cs.Commands.DmaWr).To(Equal([]agent.Command{
				wait(agent.CounterPleStripe, 2),
				cmd(agent.StoreOfmStripe, 4, 0),
			}))
			expectVerified(cs)
		})
	})

	Context("with streamed weights and a standalone PLE", func() {
		var cs *CompiledStream

		BeforeEach(func() {
			cs = generate(streamedWeightsGraph(), config.Options{})
		})

		It("should create nine agents", func() {
			Expect(agentTypes(cs.Agents)).To(Equal([]agent.AgentType{
				agent.IfmStreamer, agent.WgtStreamer, agent.PleLoader,
				agent.MceScheduler, agent.PleScheduler, agent.IfmStreamer,
				agent.PleLoader, agent.PleScheduler, agent.OfmStreamer,
			}))
			Expect(cs.OpToAgentID).To(Equal([]int{0, 1, 3, 4, 5, 7, 8}))
		})

		It("should stream the weights once for every spatial stripe", func() {
			wgt := cs.Agents[1]
			Expect(wgt.NumStripesTotal).To(Equal(uint16(1)))
			Expect(wgt.Wgt.NumStripes).To(Equal(agent.WgtSWorkSize{
				OfmChannels: 1, IfmChannels: 1,
			}))
			Expect(wgt.Wgt.Tile.BaseAddr).To(Equal(uint32(0x1000)))

			Expect(cs.Agents[3].Info.Read).To(HaveLen(2))
			Expect(cs.Agents[3].Info.Read[1]).To(Equal(agent.Dependency{
				RelativeAgentID: 2,
				Outer:           agent.Ratio{Self: 2, Other: 1},
				Inner:           agent.Ratio{Self: 2, Other: 1},
			}))
			Expect(wgt.Info.Write).To(HaveLen(1))
			Expect(wgt.Info.Schedule).To(HaveLen(1))
			Expect(cs.Commands.DmaRd[1]).To(Equal(cmd(agent.LoadWgtStripe, 1, 0)))
		})

		It("should read both inputs of the standalone PLE from SRAM", func() {
			add := cs.Agents[7]
			Expect(add.PleS.InputMode).To(Equal(agent.PleInputSramTwoInputs))
			Expect(add.PleS.Ifm0.Tile.BaseAddr).To(Equal(uint32(0x2000)))
			Expect(add.PleS.Ifm1.Tile.BaseAddr).To(Equal(uint32(0x4000)))

			Expect(add.Info.Read).To(Equal([]agent.Dependency{
				{
					RelativeAgentID: 3,
					Outer:           agent.Ratio{Self: 1, Other: 1},
					Inner:           agent.Ratio{Self: 1, Other: 1},
				},
				oneToOne(2),
				{
					RelativeAgentID: 1,
					Outer:           agent.Ratio{Self: 2, Other: 1},
					Inner:           agent.Ratio{Self: 2, Other: 1},
				},
			}))
			Expect(cs.Agents[4].Info.Write).To(Equal([]agent.Dependency{{
				RelativeAgentID: 3,
				Outer:           agent.Ratio{Self: 1, Other: 1},
				Inner:           agent.Ratio{Self: 1, Other: 1},
			}}))
			Expect(cs.Agents[5].Info.Write).To(Equal([]agent.Dependency{oneToOne(2)}))
		})

		It("should load each PLE kernel with its own loader", func() {
			identity := agent.FindPleKernelID(graph.PlePassthrough,
				graph.BlockConfig{Width: 16, Height: 16}, false)
			add := agent.FindPleKernelID(graph.PleAddition,
				graph.BlockConfig{Width: 16, Height: 16}, false)

			Expect(cs.Agents[2].PleL.PleKernelID).To(Equal(identity))
			Expect(cs.Agents[4].PleS.PleKernelID).To(Equal(identity))
			Expect(cs.Agents[6].PleL).To(Equal(&agent.PleL{
				SramAddr: 0x3800, PleKernelID: add,
			}))
			Expect(cs.Agents[7].PleS.PleKernelID).To(Equal(add))
			Expect(cs.Agents[7].PleS.PleKernelSramAddr).To(Equal(uint32(0x3800)))

			loads := 0
			for _, c := range cs.Commands.Ple {
				if c.Type == agent.LoadPleCodeIntoPleSram {
					loads++
				}
			}
			Expect(loads).To(Equal(2))
		})

		It("should pass verification", func() {
			expectVerified(cs)

			parsed, err := stream.Parse(cs.Binary)
			Expect(err).NotTo(HaveOccurred())
			Expect(parsed.Cascades()[0].NumStripeCommands()).
				To(Equal([]int{2, 1, 1, 2, 2, 2, 1, 2, 2}))
		})
	})

	Context("with an intermediate DRAM buffer read twice", func() {
		It("should keep the buffer alive until both readers are stored", func() {
			g, mid := sharedIntermediateGraph()

			gomock.InOrder(
				bm.EXPECT().AddDramInput(uint32(4096), uint32(0)).Return(uint32(0)),
				bm.EXPECT().AddDram(uint32(4096), "intermediate").Return(uint32(1)),
				bm.EXPECT().AddDram(uint32(4096), "output a").Return(uint32(2)),
				bm.EXPECT().ChangeToOutput(uint32(2), uint32(0), uint32(0)),
				bm.EXPECT().AddDram(uint32(4096), "output b").Return(uint32(3)),
				bm.EXPECT().ChangeToOutput(uint32(3), uint32(0), uint32(0)),
				bm.EXPECT().MarkBufferUsedAtTime(uint32(1), uint32(0), uint32(10)),
			)

			cs, err := Generate(g, nil, caps, config.Options{}, bm, nil)
			Expect(err).NotTo(HaveOccurred())

			Expect(agentTypes(cs.Agents)).To(Equal([]agent.AgentType{
				agent.IfmStreamer, agent.PleLoader, agent.MceScheduler,
				agent.PleScheduler, agent.OfmStreamer,
				agent.IfmStreamer, agent.MceScheduler, agent.OfmStreamer,
				agent.IfmStreamer, agent.OfmStreamer,
			}))
			Expect(cs.Lifetimes).To(Equal([]BufferLifetime{
				{Buffer: mid, BufferID: 1, Start: 0, End: 10},
			}))
		})

		It("should copy the second reader stripe by stripe", func() {
			g, _ := sharedIntermediateGraph()
			cs := generate(g, config.Options{})

			Expect(cs.Agents[8].Info.Read).To(HaveLen(2))
			Expect(cs.Agents[9].Info.Read).To(Equal([]agent.Dependency{{
				RelativeAgentID: 1,
				Outer:           agent.Ratio{Self: 1, Other: 1},
				Inner:           agent.Ratio{Self: 1, Other: 1},
			}}))
			expectVerified(cs)
		})
	})

	Context("with an intermediate DRAM buffer", func() {
		It("should fence the second load on the first store", func() {
			cs := generate(twoPassGraph(), config.Options{})

			Expect(agentTypes(cs.Agents)).To(Equal([]agent.AgentType{
				agent.IfmStreamer, agent.MceScheduler, agent.OfmStreamer,
				agent.IfmStreamer, agent.MceScheduler, agent.OfmStreamer,
			}))
			Expect(cs.Agents[3].Info.Read).To(Equal([]agent.Dependency{{
				RelativeAgentID: 1,
				Outer:           agent.Ratio{Self: 2, Other: 2},
				Inner:           agent.Ratio{Self: 1, Other: 2},
			}}))
			Expect(cs.Commands.DmaRd[2]).To(Equal(wait(agent.CounterDmaWr, 2)))
		})

		It("should report the lifetime of the buffer", func() {
			gomock.InOrder(
				bm.EXPECT().AddDramInput(uint32(4096), uint32(0)).Return(uint32(0)),
				bm.EXPECT().AddDram(uint32(4096), "intermediate").Return(uint32(1)),
				bm.EXPECT().AddDram(uint32(4096), "output").Return(uint32(2)),
				bm.EXPECT().ChangeToOutput(uint32(2), uint32(0), uint32(0)),
				bm.EXPECT().MarkBufferUsedAtTime(uint32(1), uint32(0), uint32(6)),
			)

			cs, err := Generate(twoPassGraph(), nil, caps, config.Options{}, bm, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(cs.Lifetimes).To(Equal([]BufferLifetime{
				{Buffer: 4, BufferID: 1, Start: 0, End: 6},
			}))
		})

		It("should add dump commands", func() {
			cs := generate(twoPassGraph(), config.Options{DumpDram: true, DumpSram: true})

			Expect(cs.Stream.Entries).To(HaveLen(3))
			Expect(cs.Stream.Entries[1]).To(Equal(&stream.DumpDram{
				DramBufferID: 1,
				Filename:     "CascadeIntermediateBuffer_1_NHWCB_1_16_16_16.hex",
			}))
			Expect(cs.Stream.Entries[2]).To(Equal(&stream.DumpSram{Prefix: "after_cascade"}))
		})
	})

	It("should pack an extra IFM column into the stripe before it", func() {
		g := graph.New()

		inShape := graph.TensorShape{1, 8, 24, 16}
		inStripe := graph.TensorShape{1, 8, 8, 16}
		outShape := graph.TensorShape{1, 8, 16, 16}

		input := dramBuffer(graph.BufferInput, "input")
		input.TensorShape = inShape
		input.StripeShape = inShape
		in := g.AddBuffer(input)

		ifmBuf := sramBuffer(inShape, inStripe, 2, 0)
		ifmBuf.PackedBoundaryThickness.Right = 1
		ifm := g.AddBuffer(ifmBuf)
		weights := preloadedWeights(g)
		ofm := g.AddBuffer(sramBuffer(outShape, outShape, 1, 0x2000))

		output := dramBuffer(graph.BufferOutput, "output")
		output.TensorShape = outShape
		output.StripeShape = outShape
		out := g.AddBuffer(output)

		dma(g, "load", in, ifm)
		conv := g.AddOp(graph.Op{
			Kind: graph.OpMce,
			Name: "conv",
			Mce: &graph.MceOp{
				Operation:         graph.MceConvolution,
				BlockConfig:       graph.BlockConfig{Width: 8, Height: 8},
				InputStripeShape:  inStripe,
				OutputStripeShape: outShape,
			},
		})
		g.AddInput(conv, ifm)
		g.AddInput(conv, weights)
		g.SetOutput(conv, ofm)
		dma(g, "store", ofm, out)

		cs := generate(g, config.Options{})

		ifmS := cs.Agents[0].Ifm
		Expect(ifmS.IsExtraPackedBoundaryDataOnRightEdge).To(BeTrue())
		Expect(ifmS.IsExtraPackedBoundaryDataOnBottomEdge).To(BeFalse())
		Expect(ifmS.NumStripes.Width).To(Equal(uint16(2)))
		Expect(ifmS.EdgeStripeSize.Width).To(Equal(uint16(16)))
		Expect(cs.Agents[0].NumStripesTotal).To(Equal(uint16(2)))
		Expect(cs.Agents[1].Mce.IsPackedBoundaryX).To(BeTrue())
		Expect(cs.Agents[1].Info.Read[0].Boundary).To(Equal(uint8(1)))
	})

	It("should be deterministic", func() {
		for _, withPle := range []bool{false, true} {
			a := generate(depthwiseGraph(withPle), config.Options{})
			b := generate(depthwiseGraph(withPle), config.Options{})

			Expect(b.Agents).To(Equal(a.Agents))
			Expect(b.Commands).To(Equal(a.Commands))
			Expect(b.Binary).To(Equal(a.Binary))
		}
	})

	It("should fail on ops it cannot generate", func() {
		g := depthwiseGraph(false)
		extra := g.AddBuffer(sramBuffer(fmShape, halfStripe, 2, 0x8000))
		op := g.AddOp(graph.Op{Kind: graph.OpSpaceToDepth, Name: "s2d"})
		g.AddInput(op, 3)
		g.SetOutput(op, extra)

		cs, err := Generate(g, nil, caps, config.Options{},
			buffer.NewManager(nil), nil)
		Expect(err).To(MatchError(ErrUnsupportedOp))
		Expect(cs).To(BeNil())
	})

	It("should reject an MCE writing DRAM", func() {
		g := graph.New()
		in := g.AddBuffer(dramBuffer(graph.BufferInput, "input"))
		ifm := g.AddBuffer(sramBuffer(fmShape, halfStripe, 2, 0))
		weights := preloadedWeights(g)
		out := g.AddBuffer(dramBuffer(graph.BufferOutput, "output"))

		dma(g, "load", in, ifm)
		depthwise(g, ifm, weights, out)

		_, err := Generate(g, nil, caps, config.Options{},
			buffer.NewManager(nil), nil)
		Expect(err).To(MatchError(ErrInvalidGraph))
	})

	It("should reject a PLE block with no kernel", func() {
		g := depthwiseGraph(true)
		g.Op(2).Ple.BlockConfig = graph.BlockConfig{Width: 7, Height: 7}

		_, err := Generate(g, nil, caps, config.Options{},
			buffer.NewManager(nil), nil)
		Expect(err).To(MatchError(ErrInvalidGraph))
	})

	It("should reject invalid capabilities", func() {
		caps.NumberOfEngines = 0

		_, err := Generate(depthwiseGraph(false), nil, caps, config.Options{},
			buffer.NewManager(nil), nil)
		Expect(err).To(MatchError(config.ErrInvalidCapabilities))
	})
})
