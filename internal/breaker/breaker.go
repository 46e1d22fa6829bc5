package breaker

// State of a breaker as observed by the scheduler.
type State string

const (
	Closed State = "closed"
	Open   State = "open"
)

// Breaker suspends a chronically failing worker for a number of cycles. It is owned by
// the scheduler goroutine and is not safe for concurrent use.
type Breaker struct {
	name              string
	threshold         int
	cooldownCycles    int
	failures          int
	cooldownRemaining int
}

// New returns a closed breaker. threshold and cooldownCycles are raised to 1 when lower.
func New(name string, threshold, cooldownCycles int) *Breaker {
	return &Breaker{
		name:           name,
		threshold:      max(threshold, 1),
		cooldownCycles: max(cooldownCycles, 1),
	}
}

func (b *Breaker) Name() string {
	return b.name
}

// CanRun reports whether the worker may run this cycle. While open, every call consumes
// one cooldown cycle, so call it exactly once per cycle.
func (b *Breaker) CanRun() bool {
	if b.cooldownRemaining > 0 {
		b.cooldownRemaining--
		return false
	}
	return true
}

// Success resets the consecutive failure count.
func (b *Breaker) Success() {
	b.failures = 0
}

// Fail records a failure and trips the breaker when the threshold is reached.
func (b *Breaker) Fail() {
	b.failures++
	if b.failures >= b.threshold {
		b.failures = 0
		b.cooldownRemaining = b.cooldownCycles
	}
}

func (b *Breaker) State() State {
	if b.cooldownRemaining > 0 {
		return Open
	}
	return Closed
}

// Snapshot is a copy of the breaker state, safe to hand to other goroutines.
type Snapshot struct {
	Name                string `json:"name"`
	State               State  `json:"state"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
	CooldownRemaining   int    `json:"cooldown_remaining"`
}

func (b *Breaker) Snapshot() Snapshot {
	return Snapshot{
		Name:                b.name,
		State:               b.State(),
		ConsecutiveFailures: b.failures,
		CooldownRemaining:   b.cooldownRemaining,
	}
}
