package generator

import (
	"fmt"

	"github.com/sarchlab/cascadegen/agent"
	"github.com/sarchlab/cascadegen/dependency"
	"github.com/sarchlab/cascadegen/stream"
)

func appendDependency(
	deps *[]agent.Dependency,
	dep agent.Dependency,
	limit, owner int,
	kind dependency.Kind,
) error {
	if len(*deps) >= limit {
		return fmt.Errorf("%w: agent %d already has %d %s dependencies",
			stream.ErrTooManyDependencies, owner, limit, kind)
	}

	*deps = append(*deps, dep)

	return nil
}

// addRead records on the consumer that it reads what the producer wrote.
func (gen *generator) addRead(consumer, producer int) error {
	c, p := &gen.agents[consumer], &gen.agents[producer]

	dep, ok, err := dependency.Read(consumer, c, producer, p)
	if err != nil || !ok {
		return err
	}

	return appendDependency(&c.Info.Read, dep,
		agent.MaxReadDependencies, consumer, dependency.ReadAfterWrite)
}

// addWrite records on the producer that it must not overwrite slots the
// consumer has not read yet.
func (gen *generator) addWrite(consumer, producer int) error {
	c, p := &gen.agents[consumer], &gen.agents[producer]

	dep, ok, err := dependency.Write(consumer, c, producer, p)
	if err != nil || !ok {
		return err
	}

	return appendDependency(&p.Info.Write, dep,
		agent.MaxWriteDependencies, producer, dependency.WriteAfterRead)
}

// addSchedule records on the producer how far it may run ahead of the
// consumer.
func (gen *generator) addSchedule(consumer, producer int) error {
	c, p := &gen.agents[consumer], &gen.agents[producer]

	dep, ok, err := dependency.Schedule(consumer, c, producer, p)
	if err != nil || !ok {
		return err
	}

	return appendDependency(&p.Info.Schedule, dep,
		agent.MaxScheduleDependencies, producer, dependency.ScheduleTime)
}

// link adds the three dependencies between a consumer and the producer of
// the SRAM buffer it reads.
func (gen *generator) link(consumer, producer int) error {
	if err := gen.addRead(consumer, producer); err != nil {
		return err
	}

	if err := gen.addWrite(consumer, producer); err != nil {
		return err
	}

	return gen.addSchedule(consumer, producer)
}

// applyFence makes the agent wait for all of the pending fence agent of its
// type, if any, and clears the fence. It returns the fence agent or -1.
func (gen *generator) applyFence(id int) (int, error) {
	a := &gen.agents[id]

	f := gen.fence[a.Type]
	if f < 0 {
		return -1, nil
	}

	gen.fence[a.Type] = -1

	dep, ok, err := dependency.Fence(id, a, f, &gen.agents[f])
	if err != nil || !ok {
		return f, err
	}

	gen.logger.Debug("Fence", "Agent", id, "WaitsFor", f)

	return f, appendDependency(&a.Info.Read, dep,
		agent.MaxReadDependencies, id, dependency.ReadAfterWrite)
}

// readDram adds the dependencies of a DMA load from DRAM: the pending fence
// and the agent that stored the buffer, if it was stored in this cascade.
func (gen *generator) readDram(id, buf int) error {
	f, err := gen.applyFence(id)
	if err != nil {
		return err
	}

	p := gen.producerAgent(buf)
	if p < 0 || p == f {
		return nil
	}

	return gen.addRead(id, p)
}
