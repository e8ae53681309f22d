package scheduler_test

import (
	"math"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/cascadegen/agent"
	"github.com/sarchlab/cascadegen/dependency"
	"github.com/sarchlab/cascadegen/scheduler"
)

func link(agents []agent.Agent, consumer, producer int, withProducerSide bool) {
	c, p := &agents[consumer], &agents[producer]

	raw, ok, err := dependency.Read(consumer, c, producer, p)
	Expect(err).NotTo(HaveOccurred())
	Expect(ok).To(BeTrue())
	c.Info.Read = append(c.Info.Read, raw)

	if !withProducerSide {
		return
	}

	war, ok, err := dependency.Write(consumer, c, producer, p)
	Expect(err).NotTo(HaveOccurred())
	if ok {
		p.Info.Write = append(p.Info.Write, war)
	}

	sched, ok, err := dependency.Schedule(consumer, c, producer, p)
	Expect(err).NotTo(HaveOccurred())
	if ok {
		p.Info.Schedule = append(p.Info.Schedule, sched)
	}
}

func ifm(stripes, slots uint16) agent.Agent {
	return agent.NewIfmStreamer(stripes, agent.IfmS{
		FmData: agent.FmData{
			Tile:       agent.Tile{NumSlots: slots},
			NumStripes: agent.TensorSize{Height: stripes, Width: 1, Channels: 1},
		},
	})
}

func mceToSram(stripes, slots uint16) agent.Agent {
	return agent.NewMceScheduler(stripes, agent.MceS{
		OfmTile:      agent.Tile{NumSlots: slots},
		OutputToSram: true,
		NumStripes: agent.MceSWorkSize{
			OfmWidth: 1, OfmHeight: stripes, OfmChannels: 1, IfmChannels: 1,
		},
	})
}

func ofm(stripes uint16) agent.Agent {
	return agent.NewOfmStreamer(stripes, agent.OfmS{
		FmData: agent.FmData{
			NumStripes: agent.TensorSize{Height: stripes, Width: 1, Channels: 1},
		},
	})
}

func stripeCounts(lists scheduler.CommandLists, numAgents int) []int {
	counts := make([]int, numAgents)

	for q := agent.Queue(0); q < agent.NumQueues; q++ {
		for _, c := range lists.Queue(q) {
			if c.Type.IsStripe() {
				counts[c.AgentID]++
			}
		}
	}

	return counts
}

var _ = Describe("Scheduler", func() {
	var agents []agent.Agent

	BeforeEach(func() {
		agents = []agent.Agent{ifm(4, 2), mceToSram(4, 2), ofm(4)}
		link(agents, 1, 0, true)
		link(agents, 2, 1, true)
	})

	It("should interleave the queues and wait on the other queues' counters", func() {
		lists, err := scheduler.Schedule(agents)

		Expect(err).NotTo(HaveOccurred())
		Expect(lists.DmaRd).To(Equal([]agent.Command{
			agent.NewStripeCommand(agent.LoadIfmStripe, 0, 0),
			agent.NewStripeCommand(agent.LoadIfmStripe, 0, 1),
			agent.NewWaitForCounter(agent.CounterMceStripe, 1),
			agent.NewStripeCommand(agent.LoadIfmStripe, 0, 2),
			agent.NewWaitForCounter(agent.CounterMceStripe, 2),
			agent.NewStripeCommand(agent.LoadIfmStripe, 0, 3),
		}))
		Expect(lists.Mce[:4]).To(Equal([]agent.Command{
			agent.NewWaitForCounter(agent.CounterDmaRd, 1),
			agent.NewStripeCommand(agent.ConfigMceif, 1, 0),
			agent.NewStripeCommand(agent.ProgramMceStripe, 1, 0),
			agent.NewStripeCommand(agent.StartMceStripe, 1, 0),
		}))
		Expect(lists.Mce).To(HaveLen(15))
		Expect(lists.DmaWr).To(HaveLen(8))
		Expect(lists.Ple).To(BeEmpty())
	})

	It("should issue one completing command per stripe", func() {
		lists, err := scheduler.Schedule(agents)

		Expect(err).NotTo(HaveOccurred())
		Expect(stripeCounts(lists, len(agents))).To(Equal([]int{4, 4, 4}))
	})

	It("should keep the waits on each counter increasing", func() {
		lists, err := scheduler.Schedule(agents)
		Expect(err).NotTo(HaveOccurred())

		for q := agent.Queue(0); q < agent.NumQueues; q++ {
			last := map[agent.CounterName]uint32{}

			for _, c := range lists.Queue(q) {
				if c.Type != agent.WaitForCounter {
					continue
				}

				Expect(c.CounterValue).To(BeNumerically(">", last[c.Counter]))
				Expect(c.Counter.Queue()).NotTo(Equal(q))
				last[c.Counter] = c.CounterValue
			}
		}
	})

	It("should be deterministic", func() {
		first, err := scheduler.Schedule(agents)
		Expect(err).NotTo(HaveOccurred())

		second, err := scheduler.Schedule(agents)
		Expect(err).NotTo(HaveOccurred())

		Expect(second).To(Equal(first))
	})

	It("should wait once for each needed stripe on another queue", func() {
		agents = []agent.Agent{ifm(2, 2), ofm(2)}
		link(agents, 1, 0, false)

		lists, err := scheduler.Schedule(agents)

		Expect(err).NotTo(HaveOccurred())
		Expect(lists.NumWaits(agent.QueueDmaWr)).To(Equal(2))
		Expect(lists.NumWaits(agent.QueueDmaRd)).To(Equal(0))
	})

	It("should not wait on a producer on the same queue", func() {
		agents = []agent.Agent{
			ifm(2, 2),
			agent.NewWgtStreamer(2, agent.WgtS{Tile: agent.Tile{NumSlots: 2}}),
		}

		fence, ok, err := dependency.Fence(1, &agents[1], 0, &agents[0])
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
		agents[1].Info.Read = append(agents[1].Info.Read, fence)

		lists, err := scheduler.Schedule(agents)

		Expect(err).NotTo(HaveOccurred())
		Expect(lists.DmaRd).To(HaveLen(4))
		Expect(lists.NumWaits(agent.QueueDmaRd)).To(Equal(0))
		Expect(lists.DmaRd[2].Type).To(Equal(agent.LoadWgtStripe))
	})

	It("should load the PLE kernel before the first PLE stripe", func() {
		agents = []agent.Agent{
			agent.NewPleLoader(agent.PleL{SramAddr: 0x100}),
			ifm(2, 2),
			agent.NewPleScheduler(2, agent.PleS{
				OfmTile:    agent.Tile{NumSlots: 2},
				NumStripes: agent.TensorSize{Height: 2, Width: 1, Channels: 1},
				InputMode:  agent.PleInputSramOneInput,
			}),
			ofm(2),
		}
		link(agents, 2, 1, true)
		link(agents, 2, 0, true)
		link(agents, 3, 2, true)

		lists, err := scheduler.Schedule(agents)

		Expect(err).NotTo(HaveOccurred())
		Expect(lists.Ple).To(Equal([]agent.Command{
			agent.NewWaitForCounter(agent.CounterDmaRd, 2),
			agent.NewStripeCommand(agent.LoadPleCodeIntoPleSram, 2, 0),
			agent.NewStripeCommand(agent.StartPleStripe, 2, 0),
			agent.NewWaitForCounter(agent.CounterDmaRd, 3),
			agent.NewStripeCommand(agent.StartPleStripe, 2, 1),
		}))
		Expect(stripeCounts(lists, len(agents))).To(Equal([]int{1, 2, 2, 2}))
	})

	It("should report a tile too small for the halo as a deadlock", func() {
		agents = []agent.Agent{ifm(4, 1), mceToSram(4, 2)}
		agents[1].Mce.IsPackedBoundaryY = true
		link(agents, 1, 0, true)

		_, err := scheduler.Schedule(agents)

		Expect(err).To(MatchError(scheduler.ErrDeadlock))
	})

	It("should reject a dependency outside the cascade", func() {
		agents[0].Info.Read = []agent.Dependency{{
			RelativeAgentID: 3,
			Outer:           agent.Ratio{Self: 1, Other: 1},
			Inner:           agent.Ratio{Self: 1, Other: 1},
		}}

		_, err := scheduler.Schedule(agents)

		Expect(err).To(MatchError(scheduler.ErrRange))
	})

	It("should let a PLE fill an OFM stripe taller than its own", func() {
		agents = []agent.Agent{
			ifm(4, 2),
			agent.NewPleScheduler(4, agent.PleS{
				OfmTile:           agent.Tile{NumSlots: 2},
				NumStripes:        agent.TensorSize{Height: 4, Width: 1, Channels: 1},
				DefaultStripeSize: agent.TensorSize{Height: 8, Width: 16, Channels: 16},
				InputMode:         agent.PleInputSramOneInput,
			}),
			agent.NewOfmStreamer(2, agent.OfmS{
				FmData: agent.FmData{
					NumStripes:        agent.TensorSize{Height: 2, Width: 1, Channels: 1},
					DefaultStripeSize: agent.TensorSize{Height: 16, Width: 16, Channels: 16},
				},
			}),
		}
		link(agents, 1, 0, true)
		link(agents, 2, 1, true)

		lists, err := scheduler.Schedule(agents)

		Expect(err).NotTo(HaveOccurred())
		Expect(lists.DmaWr).To(Equal([]agent.Command{
			agent.NewWaitForCounter(agent.CounterPleStripe, 2),
			agent.NewStripeCommand(agent.StoreOfmStripe, 2, 0),
			agent.NewWaitForCounter(agent.CounterPleStripe, 4),
			agent.NewStripeCommand(agent.StoreOfmStripe, 2, 1),
		}))
		Expect(lists.Ple).To(ContainElement(agent.NewWaitForCounter(agent.CounterDmaWr, 1)))
	})

	It("should reject more agents than a command can address", func() {
		agents = make([]agent.Agent, math.MaxUint16+2)

		_, err := scheduler.Schedule(agents)

		Expect(err).To(MatchError(scheduler.ErrRange))
	})

	It("should reject an agent without a payload", func() {
		agents[1].Mce = nil

		_, err := scheduler.Schedule(agents)

		Expect(err).To(HaveOccurred())
	})
})
