package generator

import (
	"fmt"

	"github.com/sarchlab/cascadegen/agent"
	"github.com/sarchlab/cascadegen/scheduler"
)

// DMA command ids are drawn from a ring per direction. Reads use ids 0 to 3
// and writes use ids 4 to 7.
const (
	dmaCmdIDsPerQueue = 4
	dmaWriteCmdIDBase = 4
)

// pleKernelBytes is the size of a PLE microcode binary.
const pleKernelBytes = 0x1000

// registerState carries values that depend on the order of the commands.
type registerState struct {
	reads, writes uint32
}

func (r *registerState) nextCmdID(q agent.Queue) uint32 {
	if q == agent.QueueDmaWr {
		id := dmaWriteCmdIDBase + r.writes%dmaCmdIDsPerQueue
		r.writes++

		return id
	}

	id := r.reads % dmaCmdIDsPerQueue
	r.reads++

	return id
}

// registers builds the register payload of every command that carries one.
func (gen *generator) registers(lists scheduler.CommandLists) ([]agent.ExtraData, error) {
	var (
		state registerState
		extra []agent.ExtraData
	)

	for q := agent.Queue(0); q < agent.NumQueues; q++ {
		for i, cmd := range lists.Queue(q) {
			kind, ok := agent.ExtraDataKindOf(cmd.Type)
			if !ok {
				continue
			}

			if int(cmd.AgentID) >= len(gen.agents) {
				return nil, fmt.Errorf("command %s refers to agent %d of %d",
					cmd, cmd.AgentID, len(gen.agents))
			}

			a := &gen.agents[cmd.AgentID]
			k := int(cmd.StripeID)
			e := agent.ExtraData{Kind: kind, Queue: q, CommandIndex: uint32(i)}

			switch kind {
			case agent.ExtraDma:
				e.Dma = gen.dmaRegisters(a, k, state.nextCmdID(q))
			case agent.ExtraProgramMce:
				e.ProgramMce = gen.programMceRegisters(a.Mce, k)
			case agent.ExtraStartMce:
				e.StartMce = &agent.StartMceExtraData{CeEnables: gen.ceMask()}
			case agent.ExtraStartPle:
				e.StartPle = startPleRegisters(a.PleS, k)
			}

			if e.Dma == nil && e.ProgramMce == nil && e.StartMce == nil && e.StartPle == nil {
				return nil, fmt.Errorf("command %s does not match %s agent %d",
					cmd, a.Type, cmd.AgentID)
			}

			extra = append(extra, e)
		}
	}

	return extra, nil
}

func (gen *generator) ceMask() uint32 {
	n := min(gen.caps.NumberOfEngines, 32)
	if n == 32 {
		return 0xFFFFFFFF
	}

	return 1<<n - 1
}

// index returns the position of stripe k along one dimension.
func index(k int, stride, num uint16) int {
	return k / max(int(stride), 1) % max(int(num), 1)
}

// extent returns the size of stripe i of num along one dimension.
func extent(i int, num, dflt, edge uint16) uint32 {
	if i == int(num)-1 {
		return uint32(edge)
	}

	return uint32(dflt)
}

func slotAddr(t agent.Tile, k int) uint32 {
	slots := max(int(t.NumSlots), 1)
	return t.BaseAddr + uint32(k%slots)*t.SlotSize
}

func (gen *generator) dmaRegisters(a *agent.Agent, k int, cmdID uint32) *agent.DmaExtraData {
	switch a.Type {
	case agent.IfmStreamer:
		return gen.fmDma(&a.Ifm.FmData, uint32(a.Ifm.DmaStride1), uint32(a.Ifm.DmaStride2), k, cmdID)
	case agent.OfmStreamer:
		return gen.fmDma(&a.Ofm.FmData, uint32(a.Ofm.DmaStride1), uint32(a.Ofm.DmaStride2), k, cmdID)
	case agent.WgtStreamer:
		return gen.wgtDma(a.Wgt, k, cmdID)
	case agent.PleLoader:
		return &agent.DmaExtraData{
			SramAddr:      agent.Hex32(a.PleL.SramAddr),
			DmaTotalBytes: pleKernelBytes,
			DmaCmd:        agent.Hex32(cmdID),
		}
	default:
		return nil
	}
}

func (gen *generator) emcMask(channels uint32) uint32 {
	n := min(channels, gen.caps.NumberOfSrams, 32)
	if n == 32 {
		return 0xFFFFFFFF
	}

	return 1<<n - 1
}

func (gen *generator) fmDma(fm *agent.FmData, rowStride, cellStride uint32, k int, cmdID uint32) *agent.DmaExtraData {
	n, s := fm.NumStripes, fm.StripeIDStrides
	k %= max(n.Total(), 1)

	h, w, c := index(k, s.Height, n.Height), index(k, s.Width, n.Width), index(k, s.Channels, n.Channels)
	sh := extent(h, n.Height, fm.DefaultStripeSize.Height, fm.EdgeStripeSize.Height)
	sw := extent(w, n.Width, fm.DefaultStripeSize.Width, fm.EdgeStripeSize.Width)
	sc := extent(c, n.Channels, fm.DefaultStripeSize.Channels, fm.EdgeStripeSize.Channels)

	y := uint32(h) * uint32(fm.DefaultStripeSize.Height)
	x := uint32(w) * uint32(fm.DefaultStripeSize.Width)
	z := uint32(c) * uint32(fm.DefaultStripeSize.Channels)

	ch, cw, cc := cellShape(gen.caps, fm.DataType)
	offset := fm.DramOffset + y/ch*rowStride + x/cw*cellStride + z/cc*(ch*cw*cc)

	return &agent.DmaExtraData{
		DramOffset:    agent.Hex32(offset),
		SramAddr:      agent.Hex32(slotAddr(fm.Tile, k)),
		DmaSramStride: agent.Hex32(fm.Tile.SlotSize),
		DmaStride0:    agent.Hex32(sw * sc),
		DmaStride3:    agent.Hex32(rowStride),
		DmaChannels:   agent.Hex32(sc),
		DmaEmcs:       agent.Hex32(gen.emcMask(sc)),
		DmaTotalBytes: agent.Hex32(sh * sw * sc),
		DmaCmd:        agent.Hex32(cmdID),
	}
}

func (gen *generator) wgtDma(w *agent.WgtS, k int, cmdID uint32) *agent.DmaExtraData {
	n, s := w.NumStripes, w.StripeIDStrides
	ofm := index(k, s.OfmChannels, n.OfmChannels)
	ifm := index(k, s.IfmChannels, n.IfmChannels)
	stripeBytes := w.Tile.SlotSize * gen.caps.NumberOfSrams

	return &agent.DmaExtraData{
		DramOffset:    agent.Hex32(uint32(ofm*int(n.IfmChannels)+ifm) * stripeBytes),
		SramAddr:      agent.Hex32(slotAddr(w.Tile, k)),
		DmaSramStride: agent.Hex32(w.Tile.SlotSize),
		DmaEmcs:       agent.Hex32(gen.emcMask(gen.caps.NumberOfSrams)),
		DmaTotalBytes: agent.Hex32(stripeBytes),
		DmaCmd:        agent.Hex32(cmdID),
	}
}

func (gen *generator) programMceRegisters(m *agent.MceS, k int) *agent.ProgramMceExtraData {
	if m == nil {
		return nil
	}

	n, s := m.NumStripes, m.StripeIDStrides
	ow, oh := index(k, s.OfmWidth, n.OfmWidth), index(k, s.OfmHeight, n.OfmHeight)
	oc, ic := index(k, s.OfmChannels, n.OfmChannels), index(k, s.IfmChannels, n.IfmChannels)

	w := extent(ow, n.OfmWidth, m.DefaultStripeSize.OfmWidth, m.EdgeStripeSize.OfmWidth)
	h := extent(oh, n.OfmHeight, m.DefaultStripeSize.OfmHeight, m.EdgeStripeSize.OfmHeight)
	c := extent(oc, n.OfmChannels, m.DefaultStripeSize.OfmChannels, m.EdgeStripeSize.OfmChannels)
	ifmC := extent(ic, n.IfmChannels, m.DefaultStripeSize.IfmChannels, m.EdgeStripeSize.IfmChannels)

	slots := max(uint32(m.IfmTile.NumSlots), 1)
	mid := uint32(k) % slots

	p := &agent.ProgramMceExtraData{
		IfmRowStride:   agent.Hex32(w * ifmC),
		IfmConfig1:     agent.Hex32(uint32(m.ConvStrideXY.X) | uint32(m.ConvStrideXY.Y)<<8),
		IfmTopSlots:    agent.Hex32((mid + slots - 1) % slots),
		IfmMidSlots:    agent.Hex32(mid),
		IfmBottomSlots: agent.Hex32((mid + 1) % slots),
		OfmStripeSize:  agent.Hex32(w | h<<16),
		OfmConfig:      agent.Hex32(c),
		NumBlocksProgrammedForMce: agent.Hex32(
			divRoundUp(w, max(uint32(m.BlockSize.Width), 1)) *
				divRoundUp(h, max(uint32(m.BlockSize.Height), 1))),
	}

	if m.IsPackedBoundaryX {
		p.IfmSlotPadConfig |= 1
	}

	if m.IsPackedBoundaryY {
		p.IfmSlotPadConfig |= 2
	}

	weights := slotAddr(m.WgtTile, oc*int(n.IfmChannels)+ic)

	enabled := min(int(gen.caps.NumberOfEngines), agent.NumCes)
	for ce := 0; ce < enabled; ce++ {
		for og := 0; og < agent.NumOgs; og++ {
			p.MulEnable[ce][og] = 0xFF
			p.IfmConfig2[ce][og] = uint32(ic)
		}
	}

	for og := range p.WeightBaseAddr {
		p.WeightBaseAddr[og] = weights
	}

	return p
}

func startPleRegisters(p *agent.PleS, k int) *agent.StartPleExtraData {
	if p == nil {
		return nil
	}

	n, s := p.NumStripes, p.StripeIDStrides
	h, w, c := index(k, s.Height, n.Height), index(k, s.Width, n.Width), index(k, s.Channels, n.Channels)

	r := &agent.StartPleExtraData{}
	r.Scratch[0] = extent(w, n.Width, p.DefaultStripeSize.Width, p.EdgeStripeSize.Width)
	r.Scratch[1] = extent(h, n.Height, p.DefaultStripeSize.Height, p.EdgeStripeSize.Height)
	r.Scratch[2] = extent(c, n.Channels, p.DefaultStripeSize.Channels, p.EdgeStripeSize.Channels)
	r.Scratch[3] = slotAddr(p.OfmTile, k)

	if p.InputMode.IsSram() {
		r.Scratch[4] = slotAddr(p.Ifm0.Tile, k)
	}

	if p.InputMode == agent.PleInputSramTwoInputs {
		r.Scratch[5] = slotAddr(p.Ifm1.Tile, k)
	}

	r.Scratch[6] = uint32(p.Ifm0.Multiplier)<<16 | uint32(p.Ifm0.Shift)
	r.Scratch[7] = uint32(p.Ifm1.Multiplier)<<16 | uint32(p.Ifm1.Shift)

	return r
}
