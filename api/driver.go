// Package api defines the driver that runs compiled cascades on the queue
// model of the NPU.
package api

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/sarchlab/akita/v4/sim"

	"github.com/sarchlab/cascadegen/agent"
	"github.com/sarchlab/cascadegen/config"
	"github.com/sarchlab/cascadegen/core"
	"github.com/sarchlab/cascadegen/stream"
)

var (
	// ErrNoDevice is returned when a cascade is mapped before a device is
	// registered.
	ErrNoDevice = errors.New("no device registered")

	// ErrStalled is returned when the simulation ends with commands that
	// can never run.
	ErrStalled = errors.New("device stalled")
)

// Driver provides the interface to control an NPU.
type Driver interface {
	sim.Component

	// RegisterDevice registers a device to the driver. The commands of
	// every queue are fed to the matching device queue.
	RegisterDevice(device *config.Device)

	// MapCascade schedules the commands of a cascade to be fed to the
	// device. Cascades mapped one after the other run in order.
	MapCascade(cascade *stream.Cascade) error

	// Run will run all the cascades that have been mapped to the driver.
	Run() error
}

type driverImpl struct {
	*sim.TickingComponent

	logger *slog.Logger
	device *config.Device
	queues [agent.NumQueues]commandQueue

	feedTasks []*feedTask

	// The driver polls full queues for at most maxIdleCycles cycles in a
	// row before it gives up.
	maxIdleCycles int
	idleCycles    int
}

// feedTask pushes the command list of one queue, one command per cycle.
type feedTask struct {
	queue commandQueue
	cmds  []agent.Command
	next  int
}

func (t *feedTask) isFinished() bool {
	return t.next >= len(t.cmds)
}

// Tick runs the driver for one cycle.
func (d *driverImpl) Tick() (madeProgress bool) {
	if d.doFeed() {
		d.idleCycles = 0
		return true
	}

	if len(d.feedTasks) == 0 {
		return false
	}

	d.idleCycles++

	return d.idleCycles < d.maxIdleCycles
}

func (d *driverImpl) doFeed() bool {
	madeProgress := false
	busy := make(map[agent.Queue]bool)

	for _, task := range d.feedTasks {
		q := task.queue.Kind()
		if busy[q] {
			continue
		}

		busy[q] = true
		madeProgress = d.doOneFeedTask(task) || madeProgress
	}

	d.removeFinishedFeedTasks()

	return madeProgress
}

func (d *driverImpl) doOneFeedTask(task *feedTask) bool {
	if task.isFinished() || !task.queue.CanPush() {
		return false
	}

	cmd := task.cmds[task.next]

	err := task.queue.Push(cmd)
	if err != nil {
		panic(fmt.Sprintf("queue %s rejected %s: %v",
			task.queue.Name(), cmd, err))
	}

	task.next++

	return true
}

func (d *driverImpl) removeFinishedFeedTasks() {
	for i := len(d.feedTasks) - 1; i >= 0; i-- {
		if d.feedTasks[i].isFinished() {
			d.feedTasks = append(d.feedTasks[:i], d.feedTasks[i+1:]...)
		}
	}
}

// RegisterDevice registers a device to the driver.
func (d *driverImpl) RegisterDevice(device *config.Device) {
	d.device = device

	for q := agent.Queue(0); q < agent.NumQueues; q++ {
		d.queues[q] = device.Queue(q)
	}
}

// MapCascade adds one feed task per non-empty queue of the cascade.
func (d *driverImpl) MapCascade(cascade *stream.Cascade) error {
	for q := agent.Queue(0); q < agent.NumQueues; q++ {
		if d.queues[q] == nil {
			return ErrNoDevice
		}

		for i, cmd := range cascade.Commands.Queue(q) {
			if cmd.Type == agent.WaitForCounter {
				continue
			}

			if target, ok := agent.QueueOf(cmd.Type); !ok || target != q {
				return fmt.Errorf("%w: command %d of %s is %s",
					core.ErrWrongQueue, i, q, cmd)
			}
		}
	}

	for q := agent.Queue(0); q < agent.NumQueues; q++ {
		cmds := cascade.Commands.Queue(q)
		if len(cmds) == 0 {
			continue
		}

		d.feedTasks = append(d.feedTasks, &feedTask{
			queue: d.queues[q],
			cmds:  cmds,
		})
	}

	d.logger.Debug("Cascade mapped",
		"Driver", d.Name(),
		"Agents", len(cascade.Agents),
		"Commands", cascade.Commands.Len(),
	)

	return nil
}

// Run runs all the tasks in the driver until the engine has no more events.
func (d *driverImpl) Run() error {
	d.TickLater()

	if err := d.Engine.Run(); err != nil {
		return err
	}

	if !d.done() {
		if d.device != nil {
			core.LogState(d.device.Counters)
		}

		return fmt.Errorf("%w: %d commands not fed, %d pending",
			ErrStalled, d.unfed(), d.pending())
	}

	d.logger.Info("Cascade completed",
		"Driver", d.Name(),
		"Time", float64(d.Engine.CurrentTime()),
	)

	return nil
}

func (d *driverImpl) done() bool {
	return len(d.feedTasks) == 0 && d.pending() == 0
}

func (d *driverImpl) unfed() int {
	n := 0
	for _, t := range d.feedTasks {
		n += len(t.cmds) - t.next
	}

	return n
}

func (d *driverImpl) pending() int {
	n := 0

	for _, q := range d.queues {
		if q != nil {
			n += q.Pending()
		}
	}

	return n
}
