package backfill

import (
	"sync"

	"journalfill/internal/market"
)

// State tracks one backfill request through its lifetime.
type State string

const (
	StatePending  State = "PENDING"
	StateFetching State = "FETCHING"
	StateComputed State = "COMPUTED"
	StateWritten  State = "WRITTEN"
	StateFailed   State = "FAILED"
)

// Tracker records the state of every request in a run. Safe for concurrent
// use; each request moves forward only (a FETCHING request can become
// COMPUTED or FAILED, never PENDING again).
type Tracker struct {
	mu     sync.Mutex
	states map[string]State
}

func NewTracker() *Tracker {
	return &Tracker{states: make(map[string]State)}
}

func (t *Tracker) Mark(req market.BackfillRequest, s State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.states[req.String()] = s
}

// State returns the recorded state for a request, or PENDING if it was
// never marked.
func (t *Tracker) State(req market.BackfillRequest) State {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.states[req.String()]; ok {
		return s
	}
	return StatePending
}

// Counts summarizes how many requests sit in each state.
func (t *Tracker) Counts() map[State]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[State]int, 5)
	for _, s := range t.states {
		out[s]++
	}
	return out
}
