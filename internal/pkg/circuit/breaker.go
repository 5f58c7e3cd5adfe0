package circuit

import (
	"sync"

	"journalfill/internal/logger"
)

type State int

const (
	StateClosed State = iota
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	default:
		return "UNKNOWN"
	}
}

// Breaker is a two-state failure counter: closed until the threshold is
// reached, then open for the rest of its lifetime. Breakers are built per
// planning run; state never persists across runs.
type Breaker struct {
	mu        sync.Mutex
	state     State
	failures  int
	threshold int
	name      string
}

func NewBreaker(name string, threshold int) *Breaker {
	if threshold <= 0 {
		threshold = 3
	}
	return &Breaker{name: name, threshold: threshold, state: StateClosed}
}

// Allow reports whether new work may be issued.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == StateClosed
}

// RecordFailure bumps the failure count. The count never resets within a
// run, so the breaker opens once the threshold of failures accumulates.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	if b.state == StateClosed && b.failures >= b.threshold {
		b.state = StateOpen
		logger.Warnf("breaker %s: %s -> %s after %d failures",
			b.name, StateClosed, StateOpen, b.failures)
	}
}

func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}
