package dependency

import (
	"github.com/sarchlab/cascadegen/agent"
	"github.com/sarchlab/cascadegen/graph"
)

// readRules are owned by the consumer. Self counts consumer stripes.
var readRules = map[Pair]rule{
	{Consumer: agent.IfmStreamer, Producer: agent.OfmStreamer}:  waitForAll,
	{Consumer: agent.WgtStreamer, Producer: agent.OfmStreamer}:  waitForAll,
	{Consumer: agent.WgtStreamer, Producer: agent.PleScheduler}: waitForAll,
	{Consumer: agent.PleLoader, Producer: agent.PleScheduler}:   waitForAll,
	{Consumer: agent.PleLoader, Producer: agent.OfmStreamer}:    waitForAll,

	{Consumer: agent.MceScheduler, Producer: agent.IfmStreamer}:  mceReadsIfm,
	{Consumer: agent.MceScheduler, Producer: agent.WgtStreamer}:  mceReadsWgt,
	{Consumer: agent.MceScheduler, Producer: agent.PleScheduler}: mceReadsPle,

	{Consumer: agent.PleScheduler, Producer: agent.IfmStreamer}:  pleReadsIfm,
	{Consumer: agent.PleScheduler, Producer: agent.MceScheduler}: pleReadsMce,
	{Consumer: agent.PleScheduler, Producer: agent.PleLoader}:    pleReadsKernel,
	{Consumer: agent.PleScheduler, Producer: agent.PleScheduler}: oneToOne,

	{Consumer: agent.OfmStreamer, Producer: agent.IfmStreamer}:  oneToOne,
	{Consumer: agent.OfmStreamer, Producer: agent.MceScheduler}: proportional,
	{Consumer: agent.OfmStreamer, Producer: agent.PleScheduler}: ofmReadsPle,
}

// producerRules are owned by the producer and serve both write-after-read and
// schedule dependencies. Self counts producer stripes.
var producerRules = map[Pair]rule{
	{Consumer: agent.IfmStreamer, Producer: agent.OfmStreamer}: waitForAllProducer,

	{Consumer: agent.MceScheduler, Producer: agent.IfmStreamer}:  ifmFeedsMce,
	{Consumer: agent.MceScheduler, Producer: agent.WgtStreamer}:  wgtFeedsMce,
	{Consumer: agent.MceScheduler, Producer: agent.PleLoader}:    kernelFeedsMce,
	{Consumer: agent.MceScheduler, Producer: agent.PleScheduler}: pleFeedsMce,

	{Consumer: agent.PleScheduler, Producer: agent.IfmStreamer}:  ifmFeedsPle,
	{Consumer: agent.PleScheduler, Producer: agent.MceScheduler}: mceFeedsPle,
	{Consumer: agent.PleScheduler, Producer: agent.PleLoader}:    kernelFeedsPle,
	{Consumer: agent.PleScheduler, Producer: agent.PleScheduler}: oneToOne,

	{Consumer: agent.OfmStreamer, Producer: agent.IfmStreamer}:  oneToOne,
	{Consumer: agent.OfmStreamer, Producer: agent.MceScheduler}: proportionalProducer,
	{Consumer: agent.OfmStreamer, Producer: agent.PleScheduler}: pleFeedsOfm,
}

func stripes(a *agent.Agent) int {
	return int(a.NumStripesTotal)
}

func waitForAll(_ Kind, c, p *agent.Agent) ratios {
	return ratios{
		outerSelf: stripes(c), outerOther: stripes(p),
		innerSelf: 1, innerOther: stripes(p),
	}
}

func waitForAllProducer(_ Kind, c, p *agent.Agent) ratios {
	return ratios{
		outerSelf: stripes(p), outerOther: stripes(c),
		innerSelf: stripes(p), innerOther: 1,
	}
}

// oneToOne relates stripe k of one agent to stripe k of the other. Chained
// PLE passes and DMA copies stream the same buffer on both sides.
func oneToOne(_ Kind, _, _ *agent.Agent) ratios {
	return ratios{outerSelf: 1, outerOther: 1, innerSelf: 1, innerOther: 1}
}

// proportional relates equal shares of both agents' stripes. With matching
// stripe counts this is one to one.
func proportional(_ Kind, c, p *agent.Agent) ratios {
	return ratios{outerSelf: stripes(c), outerOther: stripes(p)}
}

func proportionalProducer(_ Kind, c, p *agent.Agent) ratios {
	return ratios{outerSelf: stripes(p), outerOther: stripes(c)}
}

// mceBoundary is set when the MCE reads halo data packed into the next IFM
// stripe.
func mceBoundary(mce *agent.MceS) int {
	if mce.IsPackedBoundaryX || mce.IsPackedBoundaryY {
		return 1
	}

	return 0
}

// ifmMceStripes returns the number of MCE stripes that consume one full load
// of the IFM, and the number of IFM stripes in that load.
func ifmMceStripes(mce *agent.MceS, ifm *agent.IfmS) (mceStripes, ifmStripes int) {
	n := mce.NumStripes
	spatial := int(n.OfmWidth) * int(n.OfmHeight)

	if mce.MceOpMode == graph.MceDepthwiseConvolution {
		mceStripes = spatial * int(n.OfmChannels)
	} else {
		mceStripes = spatial * int(n.IfmChannels)
	}

	return mceStripes, ifm.NumStripes.Total()
}

// CalculateIfmSMceSOuterRatio returns the outer ratio between an MceScheduler
// and the IfmStreamer feeding it, as (mce stripes, ifm stripes).
func CalculateIfmSMceSOuterRatio(mce *agent.MceS, ifm *agent.IfmS) (int, int) {
	return ifmMceStripes(mce, ifm)
}

func mceIfmMultiple(mce *agent.MceS, ifm *agent.IfmS) int {
	w := divRoundUp(int(mce.NumStripes.OfmWidth), int(ifm.NumStripes.Width))
	h := divRoundUp(int(mce.NumStripes.OfmHeight), int(ifm.NumStripes.Height))

	return w * h
}

func mcePleMultiple(mce *agent.MceS, ple *agent.PleS) int {
	w := divRoundUp(int(ple.NumStripes.Width), int(mce.NumStripes.OfmWidth))
	h := divRoundUp(int(ple.NumStripes.Height), int(mce.NumStripes.OfmHeight))
	c := divRoundUp(int(ple.NumStripes.Channels), int(mce.NumStripes.OfmChannels))

	return w * h * c
}

func mceOfmStripes(mce *agent.MceS) int {
	n := mce.NumStripes
	return int(n.OfmWidth) * int(n.OfmHeight) * int(n.OfmChannels)
}

func mceReadsIfm(_ Kind, c, p *agent.Agent) ratios {
	mceStripes, ifmStripes := ifmMceStripes(c.Mce, p.Ifm)

	return ratios{
		outerSelf: mceStripes, outerOther: ifmStripes,
		innerSelf: 1, innerOther: mceIfmMultiple(c.Mce, p.Ifm),
		boundary: mceBoundary(c.Mce),
	}
}

func ifmFeedsMce(_ Kind, c, p *agent.Agent) ratios {
	mceStripes, ifmStripes := ifmMceStripes(c.Mce, p.Ifm)

	return ratios{
		outerSelf: ifmStripes, outerOther: mceStripes,
		innerSelf: mceIfmMultiple(c.Mce, p.Ifm), innerOther: 1,
		boundary: mceBoundary(c.Mce),
	}
}

// spatialWeightReuse is the number of MCE stripes that share one weight
// stripe. Weights are only reused across the spatial stripes when the IFM
// channels are not split.
func spatialWeightReuse(mce *agent.MceS) int {
	if mce.NumStripes.IfmChannels != 1 {
		return 1
	}

	return int(mce.NumStripes.OfmHeight) * int(mce.NumStripes.OfmWidth)
}

func mceReadsWgt(_ Kind, c, p *agent.Agent) ratios {
	return ratios{
		outerSelf: stripes(c), outerOther: stripes(p),
		innerSelf: spatialWeightReuse(c.Mce), innerOther: 1,
	}
}

func wgtFeedsMce(_ Kind, c, p *agent.Agent) ratios {
	return ratios{
		outerSelf: stripes(p), outerOther: stripes(c),
		innerSelf: 1, innerOther: spatialWeightReuse(c.Mce),
	}
}

func kernelFeedsMce(_ Kind, c, _ *agent.Agent) ratios {
	n := c.Mce.NumStripes
	other := int(n.OfmHeight) * int(n.OfmWidth) * int(n.IfmChannels)

	return ratios{
		outerSelf: 1, outerOther: other,
		innerSelf: 1, innerOther: other,
	}
}

func mceReadsPle(_ Kind, c, p *agent.Agent) ratios {
	return ratios{
		outerSelf: mceOfmStripes(c.Mce), outerOther: p.PleS.NumStripes.Total(),
		innerSelf: 1, innerOther: mcePleMultiple(c.Mce, p.PleS),
		boundary: mceBoundary(c.Mce),
	}
}

func pleFeedsMce(kind Kind, c, p *agent.Agent) ratios {
	if kind == WriteAfterRead && stripes(c) == 1 {
		return ratios{degenerate: true}
	}

	return ratios{
		outerSelf: p.PleS.NumStripes.Total(), outerOther: mceOfmStripes(c.Mce),
		innerSelf: mcePleMultiple(c.Mce, p.PleS), innerOther: 1,
		boundary: mceBoundary(c.Mce),
	}
}

func pleReadsIfm(_ Kind, c, p *agent.Agent) ratios {
	return ratios{
		outerSelf: c.PleS.NumStripes.Total(), outerOther: p.Ifm.NumStripes.Total(),
	}
}

func ifmFeedsPle(_ Kind, c, p *agent.Agent) ratios {
	return ratios{
		outerSelf: p.Ifm.NumStripes.Total(), outerOther: c.PleS.NumStripes.Total(),
	}
}

func mcePleChannelMultiple(mce *agent.MceS, ple *agent.PleS) int {
	c := divRoundUp(int(mce.NumStripes.OfmChannels), int(ple.NumStripes.Channels))
	return c * int(mce.NumStripes.IfmChannels)
}

func pleReadsMce(_ Kind, c, p *agent.Agent) ratios {
	mce, ple := p.Mce, c.PleS

	boundary := 0
	pleXY := int(ple.NumStripes.Width) * int(ple.NumStripes.Height)
	mceXY := int(mce.NumStripes.OfmWidth) * int(mce.NumStripes.OfmHeight)

	if mceXY != 0 && pleXY%mceXY != 0 {
		boundary = 1
	}

	return ratios{
		outerSelf: stripes(c), outerOther: stripes(p),
		innerSelf: 1, innerOther: mcePleChannelMultiple(mce, ple),
		boundary: boundary,
	}
}

func mceFeedsPle(_ Kind, c, p *agent.Agent) ratios {
	mce, ple := p.Mce, c.PleS

	boundary := 0
	pleXYC := ple.NumStripes.Total()
	mceXYC := mceOfmStripes(mce)

	if mceXYC != 0 && pleXYC%mceXYC != 0 {
		boundary = 1
	}

	return ratios{
		outerSelf: stripes(p), outerOther: stripes(c),
		innerSelf: mcePleChannelMultiple(mce, ple), innerOther: 1,
		boundary: boundary,
	}
}

func pleReadsKernel(_ Kind, c, _ *agent.Agent) ratios {
	return ratios{outerSelf: c.PleS.NumStripes.Total(), outerOther: 1}
}

func kernelFeedsPle(_ Kind, c, _ *agent.Agent) ratios {
	return ratios{outerSelf: 1, outerOther: c.PleS.NumStripes.Total()}
}

func isMaxpool3x3WithRows(ple *agent.PleS) bool {
	return ple.PleOperation.IsMaxpool3x3() && ple.NumStripes.Height > 1
}

// plePerOfm is the number of PLE stripes written into one OFM stripe. It is
// above one when the OFM streamer stores the full height and the PLE works on
// partial heights.
func plePerOfm(ofm *agent.OfmS, ple *agent.PleS) int {
	if ple.DefaultStripeSize.Height == 0 {
		return 1
	}

	return max(int(ofm.DefaultStripeSize.Height)/int(ple.DefaultStripeSize.Height), 1)
}

// ofmPerPle is the number of OFM stripes cut from one PLE stripe.
func ofmPerPle(ofm *agent.OfmS, ple *agent.PleS) int {
	if ofm.DefaultStripeSize.Height == 0 {
		return 1
	}

	return max(int(ple.DefaultStripeSize.Height)/int(ofm.DefaultStripeSize.Height), 1)
}

func ofmReadsPle(_ Kind, c, p *agent.Agent) ratios {
	r := ratios{
		outerSelf: stripes(c), outerOther: stripes(p),
		innerSelf: ofmPerPle(c.Ofm, p.PleS), innerOther: plePerOfm(c.Ofm, p.PleS),
	}

	if isMaxpool3x3WithRows(p.PleS) {
		r.boundary = 1
	}

	return r
}

func pleFeedsOfm(kind Kind, c, p *agent.Agent) ratios {
	r := ratios{
		outerSelf: stripes(p), outerOther: stripes(c),
		innerSelf: plePerOfm(c.Ofm, p.PleS), innerOther: ofmPerPle(c.Ofm, p.PleS),
	}

	if kind == ScheduleTime && isMaxpool3x3WithRows(p.PleS) {
		r.boundary = 1
	}

	return r
}
