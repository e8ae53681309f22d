package agent

import "fmt"

// CommandType is the kind of a queue command.
type CommandType uint8

// Command types.
const (
	WaitForCounter CommandType = iota
	LoadIfmStripe
	LoadWgtStripe
	ProgramMceStripe
	ConfigMceif
	StartMceStripe
	LoadPleCodeIntoSram
	LoadPleCodeIntoPleSram
	StartPleStripe
	StoreOfmStripe
)

// NumCommandTypes is the number of command types.
const NumCommandTypes = 10

var commandTypeNames = []string{
	"WaitForCounter",
	"LoadIfmStripe",
	"LoadWgtStripe",
	"ProgramMceStripe",
	"ConfigMceif",
	"StartMceStripe",
	"LoadPleCodeIntoSram",
	"LoadPleCodeIntoPleSram",
	"StartPleStripe",
	"StoreOfmStripe",
}

func (t CommandType) String() string {
	if t.IsValid() {
		return commandTypeNames[t]
	}

	return fmt.Sprintf("CommandType(%d)", t)
}

// IsValid returns true for the ten defined command types.
func (t CommandType) IsValid() bool {
	return int(t) < len(commandTypeNames)
}

// MarshalText implements encoding.TextMarshaler.
func (t CommandType) MarshalText() ([]byte, error) {
	if !t.IsValid() {
		return nil, fmt.Errorf("invalid command type %d", t)
	}

	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *CommandType) UnmarshalText(text []byte) error {
	for i, n := range commandTypeNames {
		if n == string(text) {
			*t = CommandType(i)
			return nil
		}
	}

	return fmt.Errorf("unknown command type %q", text)
}

// IsDma returns true for the command types executed by a DMA queue.
func (t CommandType) IsDma() bool {
	switch t {
	case LoadIfmStripe, LoadWgtStripe, LoadPleCodeIntoSram, StoreOfmStripe:
		return true
	default:
		return false
	}
}

// IsStripe returns true for the command that completes one stripe of an
// agent. There is exactly one such command per stripe.
func (t CommandType) IsStripe() bool {
	switch t {
	case LoadIfmStripe, LoadWgtStripe, LoadPleCodeIntoSram,
		StartMceStripe, StartPleStripe, StoreOfmStripe:
		return true
	default:
		return false
	}
}

// Queue is one of the four hardware command queues.
type Queue uint8

// Hardware queues.
const (
	QueueDmaRd Queue = iota
	QueueDmaWr
	QueueMce
	QueuePle
)

// NumQueues is the number of hardware queues.
const NumQueues = 4

var queueNames = []string{"DmaRd", "DmaWr", "Mce", "Ple"}

func (q Queue) String() string {
	if int(q) < len(queueNames) {
		return queueNames[q]
	}

	return fmt.Sprintf("Queue(%d)", q)
}

// CounterName names a hardware counter. Counters increase by one each time a
// command of the matching kind completes.
type CounterName uint8

// Hardware counters.
const (
	CounterDmaRd CounterName = iota
	CounterDmaWr
	CounterMceif
	CounterMceStripe
	CounterPleCodeLoadedIntoPleSram
	CounterPleStripe
)

// NumCounters is the number of hardware counters.
const NumCounters = 6

var counterNames = []string{
	"DmaRd",
	"DmaWr",
	"Mceif",
	"MceStripe",
	"PleCodeLoadedIntoPleSram",
	"PleStripe",
}

func (c CounterName) String() string {
	if c.IsValid() {
		return counterNames[c]
	}

	return fmt.Sprintf("CounterName(%d)", c)
}

// IsValid returns true for the defined counters.
func (c CounterName) IsValid() bool {
	return int(c) < len(counterNames)
}

// MarshalText implements encoding.TextMarshaler.
func (c CounterName) MarshalText() ([]byte, error) {
	if !c.IsValid() {
		return nil, fmt.Errorf("invalid counter name %d", c)
	}

	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *CounterName) UnmarshalText(text []byte) error {
	for i, n := range counterNames {
		if n == string(text) {
			*c = CounterName(i)
			return nil
		}
	}

	return fmt.Errorf("unknown counter name %q", text)
}

// Queue returns the queue whose commands increment the counter.
func (c CounterName) Queue() Queue {
	switch c {
	case CounterDmaRd:
		return QueueDmaRd
	case CounterDmaWr:
		return QueueDmaWr
	case CounterMceif, CounterMceStripe:
		return QueueMce
	default:
		return QueuePle
	}
}

// QueueOf returns the queue a command type runs on. WaitForCounter can run
// on any queue and reports false.
func QueueOf(t CommandType) (Queue, bool) {
	switch t {
	case LoadIfmStripe, LoadWgtStripe, LoadPleCodeIntoSram:
		return QueueDmaRd, true
	case StoreOfmStripe:
		return QueueDmaWr, true
	case ProgramMceStripe, ConfigMceif, StartMceStripe:
		return QueueMce, true
	case LoadPleCodeIntoPleSram, StartPleStripe:
		return QueuePle, true
	default:
		return 0, false
	}
}

// CounterOf returns the counter a command type increments on completion, if
// any.
func CounterOf(t CommandType) (CounterName, bool) {
	switch t {
	case LoadIfmStripe, LoadWgtStripe, LoadPleCodeIntoSram:
		return CounterDmaRd, true
	case StoreOfmStripe:
		return CounterDmaWr, true
	case ConfigMceif:
		return CounterMceif, true
	case StartMceStripe:
		return CounterMceStripe, true
	case LoadPleCodeIntoPleSram:
		return CounterPleCodeLoadedIntoPleSram, true
	case StartPleStripe:
		return CounterPleStripe, true
	default:
		return 0, false
	}
}

// Command is one unit of work on a hardware queue. Counter and CounterValue
// are only meaningful for WaitForCounter.
type Command struct {
	Type         CommandType
	AgentID      uint16
	StripeID     uint32
	Counter      CounterName
	CounterValue uint32
}

// NewWaitForCounter creates a command that blocks its queue until the
// counter reaches value.
func NewWaitForCounter(counter CounterName, value uint32) Command {
	return Command{
		Type:         WaitForCounter,
		Counter:      counter,
		CounterValue: value,
	}
}

// NewStripeCommand creates a command acting on a stripe of an agent.
func NewStripeCommand(t CommandType, agentID uint16, stripeID uint32) Command {
	return Command{Type: t, AgentID: agentID, StripeID: stripeID}
}

func (c Command) String() string {
	if c.Type == WaitForCounter {
		return fmt.Sprintf("WaitForCounter(%s >= %d)", c.Counter, c.CounterValue)
	}

	return fmt.Sprintf("%s(agent=%d, stripe=%d)", c.Type, c.AgentID, c.StripeID)
}
