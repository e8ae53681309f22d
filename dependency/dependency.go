// Package dependency computes the stripe-level dependencies between agents.
//
// A dependency relates the stripes of the agent that owns it (self) to the
// stripes of another agent (other). Read-after-write dependencies are owned by
// the consumer and point back to a producer. Write-after-read and schedule
// dependencies are owned by the producer and point forward to a consumer.
//
// The ratio of every dependency is a pure function of the two agents' stripe
// decompositions. The functions are kept in lookup tables keyed by the ordered
// (consumer type, producer type) pair, one table for read-after-write and one
// shared by write-after-read and schedule dependencies.
package dependency

import (
	"errors"
	"fmt"
	"sort"

	"github.com/sarchlab/cascadegen/agent"
)

var (
	// ErrRange is returned when a dependency value does not fit its field or
	// reaches further back than the relative agent window.
	ErrRange = errors.New("dependency value out of range")

	// ErrNoRule is returned when no rule exists for an agent pair.
	ErrNoRule = errors.New("no dependency rule for agent pair")
)

// Kind is the kind of a dependency.
type Kind uint8

// Dependency kinds.
const (
	ReadAfterWrite Kind = iota
	WriteAfterRead
	ScheduleTime
)

func (k Kind) String() string {
	switch k {
	case ReadAfterWrite:
		return "RAW"
	case WriteAfterRead:
		return "WAR"
	case ScheduleTime:
		return "Schedule"
	default:
		return fmt.Sprintf("Kind(%d)", k)
	}
}

// Pair is an ordered (consumer, producer) agent type pair.
type Pair struct {
	Consumer agent.AgentType
	Producer agent.AgentType
}

func (p Pair) String() string {
	return fmt.Sprintf("%s<-%s", p.Consumer, p.Producer)
}

// ratios is the raw output of a rule, before normalisation. A zero inner
// ratio is derived from the outer ratio.
type ratios struct {
	outerSelf, outerOther int
	innerSelf, innerOther int
	boundary              int

	// degenerate marks a dependency that is never needed.
	degenerate bool
}

type rule func(kind Kind, consumer, producer *agent.Agent) ratios

func tableFor(kind Kind) map[Pair]rule {
	if kind == ReadAfterWrite {
		return readRules
	}

	return producerRules
}

// HasRule returns true if a dependency of the kind can be built between the
// consumer and producer types.
func HasRule(kind Kind, consumer, producer agent.AgentType) bool {
	_, ok := tableFor(kind)[Pair{Consumer: consumer, Producer: producer}]
	return ok
}

// Pairs lists the agent pairs that have a rule for the kind, sorted.
func Pairs(kind Kind) []Pair {
	table := tableFor(kind)

	pairs := make([]Pair, 0, len(table))
	for p := range table {
		pairs = append(pairs, p)
	}

	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Consumer != pairs[j].Consumer {
			return pairs[i].Consumer < pairs[j].Consumer
		}

		return pairs[i].Producer < pairs[j].Producer
	})

	return pairs
}

// Read builds the read-after-write dependency that the consumer has on the
// producer. The result is recorded on the consumer. ok is false when the
// dependency is degenerate and must not be recorded.
func Read(
	consumerID int, consumer *agent.Agent,
	producerID int, producer *agent.Agent,
) (dep agent.Dependency, ok bool, err error) {
	return Calculate(ReadAfterWrite, consumerID, consumer, producerID, producer)
}

// Write builds the write-after-read dependency that the producer has on the
// consumer. The result is recorded on the producer.
func Write(
	consumerID int, consumer *agent.Agent,
	producerID int, producer *agent.Agent,
) (dep agent.Dependency, ok bool, err error) {
	return Calculate(WriteAfterRead, consumerID, consumer, producerID, producer)
}

// Schedule builds the schedule-time dependency that the producer has on the
// consumer. The result is recorded on the producer.
func Schedule(
	consumerID int, consumer *agent.Agent,
	producerID int, producer *agent.Agent,
) (dep agent.Dependency, ok bool, err error) {
	return Calculate(ScheduleTime, consumerID, consumer, producerID, producer)
}

// Fence builds a read-after-write dependency that makes every stripe of the
// consumer wait for every stripe of the producer, whatever the agent types.
func Fence(
	consumerID int, consumer *agent.Agent,
	producerID int, producer *agent.Agent,
) (dep agent.Dependency, ok bool, err error) {
	relative, ok, err := relativeID(consumerID, producerID)
	if !ok || err != nil {
		return agent.Dependency{}, ok, err
	}

	r := waitForAll(ReadAfterWrite, consumer, producer)

	dep, err = finish(r, relative)
	if err != nil {
		return agent.Dependency{}, false, fmt.Errorf("fence %s<-%s: %w",
			consumer.Type, producer.Type, err)
	}

	return dep, true, nil
}

// Calculate builds a dependency of the given kind between the consumer and
// the producer.
func Calculate(
	kind Kind,
	consumerID int, consumer *agent.Agent,
	producerID int, producer *agent.Agent,
) (dep agent.Dependency, ok bool, err error) {
	pair := Pair{Consumer: consumer.Type, Producer: producer.Type}

	relative, ok, err := relativeID(consumerID, producerID)
	if err != nil {
		return agent.Dependency{}, false, fmt.Errorf("%s %s: %w", kind, pair, err)
	}

	if !ok {
		return agent.Dependency{}, false, nil
	}

	fn, found := tableFor(kind)[pair]
	if !found {
		return agent.Dependency{}, false, fmt.Errorf("%s %s: %w", kind, pair, ErrNoRule)
	}

	r := fn(kind, consumer, producer)
	if r.degenerate {
		return agent.Dependency{}, false, nil
	}

	dep, err = finish(r, relative)
	if err != nil {
		return agent.Dependency{}, false, fmt.Errorf("%s %s: %w", kind, pair, err)
	}

	return dep, true, nil
}

func relativeID(consumerID, producerID int) (uint8, bool, error) {
	relative := consumerID - producerID

	switch {
	case relative == 0:
		return 0, false, nil
	case relative < 0:
		return 0, false, fmt.Errorf(
			"%w: producer %d comes after consumer %d",
			ErrRange, producerID, consumerID)
	case relative > agent.MaxRelativeAgentPosition:
		return 0, false, fmt.Errorf(
			"%w: producer %d is %d agents before consumer %d, limit is %d",
			ErrRange, producerID, relative, consumerID,
			agent.MaxRelativeAgentPosition)
	}

	return uint8(relative), true, nil
}

// finish normalises the ratios and packs them into a dependency.
func finish(r ratios, relative uint8) (agent.Dependency, error) {
	r.outerSelf = max(r.outerSelf, 1)
	r.outerOther = max(r.outerOther, 1)

	if r.innerSelf == 0 && r.innerOther == 0 {
		g := gcd(r.outerSelf, r.outerOther)
		r.innerSelf = r.outerSelf / g
		r.innerOther = r.outerOther / g
	}

	r.innerSelf = min(max(r.innerSelf, 1), r.outerSelf)
	r.innerOther = min(max(r.innerOther, 1), r.outerOther)

	if r.boundary != 0 {
		r.boundary = 1
	}

	for _, v := range []int{r.outerSelf, r.outerOther, r.innerSelf, r.innerOther} {
		if v > 0xFFFF {
			return agent.Dependency{}, fmt.Errorf(
				"%w: ratio %d does not fit in 16 bits", ErrRange, v)
		}
	}

	return agent.Dependency{
		RelativeAgentID: relative,
		Outer:           agent.Ratio{Self: uint16(r.outerSelf), Other: uint16(r.outerOther)},
		Inner:           agent.Ratio{Self: uint16(r.innerSelf), Other: uint16(r.innerOther)},
		Boundary:        uint8(r.boundary),
	}, nil
}

// OtherStripe returns the highest stripe of the other agent that stripe k of
// the owning agent depends on, given the number of stripes the other agent
// has in total.
func OtherStripe(d agent.Dependency, k, otherTotal int) int {
	outerSelf := max(int(d.Outer.Self), 1)
	outerOther := max(int(d.Outer.Other), 1)
	innerSelf := max(int(d.Inner.Self), 1)
	innerOther := max(int(d.Inner.Other), 1)

	outerIdx := k / outerSelf
	base := outerIdx * outerOther
	innerIdx := (k % outerSelf) / innerSelf

	s := base + (innerIdx+1)*innerOther - 1 + int(d.Boundary)
	s = min(s, base+outerOther-1)
	s = min(s, otherTotal-1)

	return s
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}

	if a == 0 {
		return 1
	}

	return a
}

func divRoundUp(a, b int) int {
	if b == 0 {
		return 0
	}

	return (a + b - 1) / b
}
