package core_test

import (
	"bytes"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/akita/v4/sim"

	"github.com/sarchlab/cascadegen/agent"
	"github.com/sarchlab/cascadegen/core"
)

var _ = Describe("Queue", func() {
	var (
		engine   sim.Engine
		counters *core.Counters
		dmaRd    *core.Queue
		mce      *core.Queue
	)

	build := func(q agent.Queue, name string) *core.Queue {
		return core.MakeBuilder().
			WithEngine(engine).
			WithFreq(1 * sim.GHz).
			WithQueue(q).
			WithCounters(counters).
			Build(name)
	}

	push := func(q *core.Queue, cmds ...agent.Command) {
		for _, cmd := range cmds {
			Expect(q.Push(cmd)).To(Succeed())
		}
	}

	BeforeEach(func() {
		engine = sim.NewSerialEngine()
		counters = core.NewCounters()
		dmaRd = build(agent.QueueDmaRd, "DmaRd")
		mce = build(agent.QueueMce, "Mce")
	})

	It("should synchronise the queues through the counters", func() {
		push(dmaRd,
			agent.NewStripeCommand(agent.LoadIfmStripe, 0, 0),
			agent.NewWaitForCounter(agent.CounterMceStripe, 1),
			agent.NewStripeCommand(agent.LoadIfmStripe, 0, 1),
		)
		push(mce,
			agent.NewWaitForCounter(agent.CounterDmaRd, 1),
			agent.NewStripeCommand(agent.ConfigMceif, 1, 0),
			agent.NewStripeCommand(agent.ProgramMceStripe, 1, 0),
			agent.NewStripeCommand(agent.StartMceStripe, 1, 0),
		)

		Expect(engine.Run()).To(Succeed())

		Expect(dmaRd.Executed()).To(Equal(3))
		Expect(mce.Executed()).To(Equal(4))
		Expect(counters.Value(agent.CounterDmaRd)).To(Equal(uint32(2)))
		Expect(counters.Value(agent.CounterMceif)).To(Equal(uint32(1)))
		Expect(counters.Value(agent.CounterMceStripe)).To(Equal(uint32(1)))
	})

	It("should stall on a counter that never gets there", func() {
		push(mce,
			agent.NewWaitForCounter(agent.CounterDmaRd, 5),
			agent.NewStripeCommand(agent.StartMceStripe, 1, 0),
		)
		push(dmaRd, agent.NewStripeCommand(agent.LoadIfmStripe, 0, 0))

		Expect(engine.Run()).To(Succeed())

		Expect(mce.Pending()).To(Equal(2))
		Expect(mce.Stalled()).To(BeTrue())
		Expect(dmaRd.Pending()).To(Equal(0))

		head, ok := mce.Head()
		Expect(ok).To(BeTrue())
		Expect(head.Type).To(Equal(agent.WaitForCounter))
	})

	It("should reject a command meant for another queue", func() {
		err := mce.Push(agent.NewStripeCommand(agent.LoadIfmStripe, 0, 0))

		Expect(err).To(MatchError(core.ErrWrongQueue))
	})

	It("should accept waits on any queue", func() {
		Expect(dmaRd.Push(agent.NewWaitForCounter(agent.CounterPleStripe, 1))).
			To(Succeed())
	})

	It("should refuse commands beyond its capacity", func() {
		small := core.MakeBuilder().
			WithEngine(engine).
			WithQueue(agent.QueueDmaWr).
			WithCounters(counters).
			WithCapacity(1).
			Build("DmaWr")

		Expect(small.Push(agent.NewStripeCommand(agent.StoreOfmStripe, 2, 0))).
			To(Succeed())
		Expect(small.CanPush()).To(BeFalse())
		Expect(small.Push(agent.NewStripeCommand(agent.StoreOfmStripe, 2, 1))).
			To(MatchError(core.ErrQueueFull))
	})

	It("should take as many cycles as the command latency", func() {
		slow := core.MakeBuilder().
			WithEngine(engine).
			WithFreq(1 * sim.GHz).
			WithQueue(agent.QueueDmaWr).
			WithCounters(counters).
			WithLatency(agent.StoreOfmStripe, 10).
			Build("DmaWr")

		push(slow, agent.NewStripeCommand(agent.StoreOfmStripe, 2, 0))

		Expect(engine.Run()).To(Succeed())
		Expect(counters.Value(agent.CounterDmaWr)).To(Equal(uint32(1)))
		Expect(float64(engine.CurrentTime())).To(BeNumerically(">=", 9e-9))
	})

	It("should panic on a zero latency", func() {
		Expect(func() {
			core.MakeBuilder().WithLatency(agent.StoreOfmStripe, 0)
		}).To(Panic())
	})

	It("should print the counters and the queues", func() {
		push(mce, agent.NewWaitForCounter(agent.CounterDmaRd, 1))

		var out bytes.Buffer
		core.PrintState(&out, counters)

		Expect(out.String()).To(ContainSubstring("MceStripe"))
		Expect(out.String()).To(ContainSubstring("WaitForCounter(DmaRd >= 1)"))
	})
})
