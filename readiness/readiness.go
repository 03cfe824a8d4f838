// Package readiness tracks whether the analysis backend is available, gating
// the UI until it is. The state machine is deliberately one-way:
//
//	Unknown -> Ready          (explicit ready signal)
//	Unknown -> Error          (explicit error signal)
//	Unknown -> Ready          (fallback timeout, best-effort proceed)
//
// Whichever transition happens first is terminal; the state never resets
// without a full process restart. Forcing readiness on timeout is policy,
// not a bug: a user stuck behind a splash screen is worse than a user whose
// first upload fails with a clear error.
package readiness

import (
	"log"
	"sync"
	"time"
)

// FallbackTimeout is how long a shell-hosted session waits for an explicit
// signal before proceeding anyway.
const FallbackTimeout = 5 * time.Second

// State enumerates the tracker's lifecycle.
type State int

const (
	StateUnknown State = iota
	StateReady
	StateError
)

func (s State) String() string {
	switch s {
	case StateUnknown:
		return "unknown"
	case StateReady:
		return "ready"
	case StateError:
		return "error"
	default:
		return "invalid"
	}
}

// Publisher receives readiness transitions for fan-out to connected UIs.
type Publisher interface {
	PublishJSON(eventType string, data interface{})
}

// Status is a point-in-time snapshot exposed over the status endpoint.
type Status struct {
	HostedInShell bool   `json:"hosted_in_shell"`
	Ready         bool   `json:"ready"`
	Error         string `json:"error,omitempty"`
}

// Tracker owns the process-wide readiness state.
type Tracker struct {
	mu     sync.Mutex
	state  State
	errMsg string

	hosted bool
	pub    Publisher
	timer  *time.Timer
}

const (
	eventReady = "backend-ready"
	eventError = "backend-error"
)

// NewTracker creates the tracker. Outside the desktop shell there is nothing
// to wait for, so the state is Ready immediately and unconditionally. Inside
// the shell the tracker stays Unknown until a signal or the fallback fires.
func NewTracker(hostedInShell bool, fallback time.Duration, pub Publisher) *Tracker {
	t := &Tracker{hosted: hostedInShell, pub: pub}

	if !hostedInShell {
		t.state = StateReady
		return t
	}

	t.timer = time.AfterFunc(fallback, t.forceReady)
	return t
}

// SignalReady records an explicit ready signal from the backend.
// Ignored once the tracker left Unknown.
func (t *Tracker) SignalReady() {
	t.transition(StateReady, "")
}

// SignalError records an explicit backend failure.
// Ignored once the tracker left Unknown.
func (t *Tracker) SignalError(msg string) {
	if msg == "" {
		msg = "unknown backend error"
	}
	t.transition(StateError, msg)
}

// forceReady is the fallback-timeout transition. It must never mask a real
// error: if an error signal won the race, the timer finds the state terminal
// and does nothing.
func (t *Tracker) forceReady() {
	t.mu.Lock()
	if t.state != StateUnknown {
		t.mu.Unlock()
		return
	}
	t.state = StateReady
	t.mu.Unlock()

	log.Println("Backend detection timed out - proceeding anyway")
	if t.pub != nil {
		t.pub.PublishJSON(eventReady, t.Snapshot())
	}
}

func (t *Tracker) transition(next State, errMsg string) {
	t.mu.Lock()
	if t.state != StateUnknown {
		t.mu.Unlock()
		return
	}
	t.state = next
	t.errMsg = errMsg
	if t.timer != nil {
		t.timer.Stop()
	}
	t.mu.Unlock()

	if t.pub == nil {
		return
	}
	switch next {
	case StateReady:
		t.pub.PublishJSON(eventReady, t.Snapshot())
	case StateError:
		t.pub.PublishJSON(eventError, t.Snapshot())
	}
}

// Snapshot returns the current status.
func (t *Tracker) Snapshot() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Status{
		HostedInShell: t.hosted,
		Ready:         t.state == StateReady,
		Error:         t.errMsg,
	}
}

// State returns the current lifecycle state.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}
