package analysis

import (
	"sync"

	"github.com/google/uuid"
)

// Tracker serializes result publication for rapid repeated uploads. Each
// submission gets a token; only the outcome carrying the newest token is
// accepted, so a slow older request resolving late can never overwrite the
// result of a newer one.
type Tracker struct {
	mu     sync.Mutex
	latest string
	result *Outcome
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{}
}

// Begin registers a new submission and returns its token. Any outcome still
// in flight for a previous token becomes stale immediately.
func (t *Tracker) Begin() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.latest = uuid.New().String()
	return t.latest
}

// Commit publishes an outcome for the given token. It reports whether the
// outcome was accepted; stale tokens are discarded without touching state.
func (t *Tracker) Commit(token string, o Outcome) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if token != t.latest {
		return false
	}
	t.result = &o
	return true
}

// Result returns the most recently committed outcome, if any.
func (t *Tracker) Result() (Outcome, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.result == nil {
		return Outcome{}, false
	}
	return *t.result, true
}
