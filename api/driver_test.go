package api

import (
	"log/slog"

	"github.com/golang/mock/gomock"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/akita/v4/sim"

	"github.com/sarchlab/cascadegen/agent"
	"github.com/sarchlab/cascadegen/config"
	"github.com/sarchlab/cascadegen/core"
	"github.com/sarchlab/cascadegen/scheduler"
	"github.com/sarchlab/cascadegen/stream"
)

func singleStripeCascade(mceWait uint32) *stream.Cascade {
	return &stream.Cascade{
		Commands: scheduler.CommandLists{
			DmaRd: []agent.Command{
				agent.NewStripeCommand(agent.LoadIfmStripe, 0, 0),
			},
			Mce: []agent.Command{
				agent.NewWaitForCounter(agent.CounterDmaRd, mceWait),
				agent.NewStripeCommand(agent.ConfigMceif, 1, 0),
				agent.NewStripeCommand(agent.ProgramMceStripe, 1, 0),
				agent.NewStripeCommand(agent.StartMceStripe, 1, 0),
			},
			DmaWr: []agent.Command{
				agent.NewWaitForCounter(agent.CounterMceStripe, 1),
				agent.NewStripeCommand(agent.StoreOfmStripe, 2, 0),
			},
		},
	}
}

var _ = Describe("Driver", func() {
	var (
		mockCtrl *gomock.Controller
		queues   [agent.NumQueues]*MockcommandQueue
		driver   *driverImpl
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())

		driver = &driverImpl{
			logger:        slog.Default(),
			maxIdleCycles: 3,
		}
		driver.TickingComponent =
			sim.NewTickingComponent("Driver", nil, 1, driver)

		for q := agent.Queue(0); q < agent.NumQueues; q++ {
			queues[q] = NewMockcommandQueue(mockCtrl)
			queues[q].EXPECT().Kind().Return(q).AnyTimes()
			driver.queues[q] = queues[q]
		}
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should refuse cascades before a device is registered", func() {
		d := &driverImpl{logger: slog.Default()}
		d.TickingComponent = sim.NewTickingComponent("Driver", nil, 1, d)

		err := d.MapCascade(singleStripeCascade(1))

		Expect(err).To(MatchError(ErrNoDevice))
	})

	It("should create one feed task per non-empty queue", func() {
		c := singleStripeCascade(1)

		Expect(driver.MapCascade(c)).To(Succeed())

		Expect(driver.feedTasks).To(HaveLen(3))
		Expect(driver.feedTasks[0].queue).To(BeIdenticalTo(queues[agent.QueueDmaRd]))
		Expect(driver.feedTasks[0].cmds).To(Equal(c.Commands.DmaRd))
		Expect(driver.feedTasks[1].queue).To(BeIdenticalTo(queues[agent.QueueDmaWr]))
		Expect(driver.feedTasks[2].queue).To(BeIdenticalTo(queues[agent.QueueMce]))
	})

	It("should reject commands on the wrong queue", func() {
		c := singleStripeCascade(1)
		c.Commands.Ple = []agent.Command{
			agent.NewStripeCommand(agent.StartMceStripe, 1, 0),
		}

		err := driver.MapCascade(c)

		Expect(err).To(MatchError(core.ErrWrongQueue))
		Expect(driver.feedTasks).To(BeEmpty())
	})

	It("should push one command per queue per cycle", func() {
		c := singleStripeCascade(1)
		Expect(driver.MapCascade(c)).To(Succeed())

		queues[agent.QueueDmaRd].EXPECT().CanPush().Return(true)
		queues[agent.QueueDmaRd].EXPECT().Push(c.Commands.DmaRd[0]).Return(nil)
		queues[agent.QueueDmaWr].EXPECT().CanPush().Return(true)
		queues[agent.QueueDmaWr].EXPECT().Push(c.Commands.DmaWr[0]).Return(nil)
		queues[agent.QueueMce].EXPECT().CanPush().Return(true)
		queues[agent.QueueMce].EXPECT().Push(c.Commands.Mce[0]).Return(nil)

		madeProgress := driver.Tick()

		Expect(madeProgress).To(BeTrue())
		Expect(driver.feedTasks).To(HaveLen(2))
		Expect(driver.feedTasks[0].next).To(Equal(1))
		Expect(driver.feedTasks[1].next).To(Equal(1))
	})

	It("should feed cascades on the same queue in order", func() {
		first := &feedTask{
			queue: queues[agent.QueueDmaRd],
			cmds:  []agent.Command{agent.NewStripeCommand(agent.LoadIfmStripe, 0, 0)},
		}
		second := &feedTask{
			queue: queues[agent.QueueDmaRd],
			cmds:  []agent.Command{agent.NewStripeCommand(agent.LoadIfmStripe, 0, 1)},
		}
		driver.feedTasks = []*feedTask{first, second}

		gomock.InOrder(
			queues[agent.QueueDmaRd].EXPECT().CanPush().Return(true),
			queues[agent.QueueDmaRd].EXPECT().Push(first.cmds[0]).Return(nil),
			queues[agent.QueueDmaRd].EXPECT().CanPush().Return(true),
			queues[agent.QueueDmaRd].EXPECT().Push(second.cmds[0]).Return(nil),
		)

		driver.Tick()
		Expect(driver.feedTasks).To(ConsistOf(second))

		driver.Tick()
		Expect(driver.feedTasks).To(BeEmpty())
	})

	It("should give up on a queue that stays full", func() {
		driver.feedTasks = []*feedTask{{
			queue: queues[agent.QueueMce],
			cmds:  []agent.Command{agent.NewStripeCommand(agent.StartMceStripe, 1, 0)},
		}}

		queues[agent.QueueMce].EXPECT().CanPush().Return(false).Times(3)

		Expect(driver.Tick()).To(BeTrue())
		Expect(driver.Tick()).To(BeTrue())
		Expect(driver.Tick()).To(BeFalse())
		Expect(driver.feedTasks).To(HaveLen(1))
	})

	It("should not tick when there is nothing to feed", func() {
		Expect(driver.Tick()).To(BeFalse())
	})
})

var _ = Describe("Driver with a device", func() {
	var (
		engine sim.Engine
		device *config.Device
		d      Driver
	)

	BeforeEach(func() {
		engine = sim.NewSerialEngine()
		device = config.DeviceBuilder{}.
			WithEngine(engine).
			WithFreq(1 * sim.GHz).
			WithLatency(agent.StartMceStripe, 4).
			Build("Device")
		d = DriverBuilder{}.
			WithEngine(engine).
			WithFreq(1 * sim.GHz).
			Build("Driver")
		d.RegisterDevice(device)
	})

	It("should run a cascade to completion", func() {
		Expect(d.MapCascade(singleStripeCascade(1))).To(Succeed())

		Expect(d.Run()).To(Succeed())

		Expect(device.Done()).To(BeTrue())
		Expect(device.Counters.Values()).To(Equal([agent.NumCounters]uint32{
			agent.CounterDmaRd:     1,
			agent.CounterDmaWr:     1,
			agent.CounterMceif:     1,
			agent.CounterMceStripe: 1,
		}))
		Expect(device.Queue(agent.QueueMce).Executed()).To(Equal(4))
	})

	It("should report a stall", func() {
		Expect(d.MapCascade(singleStripeCascade(2))).To(Succeed())

		err := d.Run()

		Expect(err).To(MatchError(ErrStalled))
		Expect(device.Queue(agent.QueueMce).Stalled()).To(BeTrue())
		Expect(device.Counters.Value(agent.CounterDmaRd)).To(Equal(uint32(1)))
		Expect(device.Counters.Value(agent.CounterDmaWr)).To(BeZero())
	})
})
