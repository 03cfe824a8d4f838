package readiness

import (
	"encoding/json"
	"sync"
	"testing"
	"time"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *recordingPublisher) PublishJSON(eventType string, data interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	payload, _ := json.Marshal(data)
	p.events = append(p.events, eventType+":"+string(payload))
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	copy(out, p.events)
	return out
}

// TestBrowserModeReadyImmediately verifies there is no waiting outside the shell
func TestBrowserModeReadyImmediately(t *testing.T) {
	tr := NewTracker(false, FallbackTimeout, nil)

	s := tr.Snapshot()
	if !s.Ready {
		t.Error("browser-hosted session should be ready immediately")
	}
	if s.HostedInShell {
		t.Error("HostedInShell should be false")
	}
	if s.Error != "" {
		t.Errorf("Error = %q; want empty", s.Error)
	}
}

// TestShellModeTimeoutForcesReady verifies the best-effort fallback
func TestShellModeTimeoutForcesReady(t *testing.T) {
	tr := NewTracker(true, 20*time.Millisecond, nil)

	if tr.State() != StateUnknown {
		t.Fatal("shell-hosted session should start Unknown")
	}

	deadline := time.Now().Add(2 * time.Second)
	for tr.State() == StateUnknown && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	s := tr.Snapshot()
	if !s.Ready {
		t.Error("timeout should force readiness")
	}
	if s.Error != "" {
		t.Errorf("Error = %q; want empty after timeout", s.Error)
	}
}

// TestExplicitReadyBeatsTimeout verifies the first signal wins
func TestExplicitReadyBeatsTimeout(t *testing.T) {
	pub := &recordingPublisher{}
	tr := NewTracker(true, time.Hour, pub)

	tr.SignalReady()

	if tr.State() != StateReady {
		t.Fatalf("State() = %v; want Ready", tr.State())
	}

	types := pub.types()
	if len(types) != 1 {
		t.Fatalf("published %d events; want 1", len(types))
	}
}

// TestErrorIsTerminal verifies the timeout never masks a real error and later
// signals cannot reset the state
func TestErrorIsTerminal(t *testing.T) {
	tr := NewTracker(true, 20*time.Millisecond, nil)

	tr.SignalError("python exited with status 1")

	// Give the fallback timer a chance to fire anyway.
	time.Sleep(60 * time.Millisecond)

	s := tr.Snapshot()
	if s.Ready {
		t.Error("error state must not be overridden by the timeout")
	}
	if s.Error != "python exited with status 1" {
		t.Errorf("Error = %q", s.Error)
	}

	// A late ready signal must be ignored.
	tr.SignalReady()
	if tr.State() != StateError {
		t.Error("terminal error state must not reset")
	}
}

// TestDuplicateSignalsIgnored verifies only the first transition counts
func TestDuplicateSignalsIgnored(t *testing.T) {
	pub := &recordingPublisher{}
	tr := NewTracker(true, time.Hour, pub)

	tr.SignalReady()
	tr.SignalReady()
	tr.SignalError("late failure")

	if got := len(pub.types()); got != 1 {
		t.Errorf("published %d events; want 1", got)
	}
	if tr.State() != StateReady {
		t.Errorf("State() = %v; want Ready", tr.State())
	}
}

// TestEmptyErrorMessageGetsDefault verifies error signals always carry a reason
func TestEmptyErrorMessageGetsDefault(t *testing.T) {
	tr := NewTracker(true, time.Hour, nil)
	tr.SignalError("")

	if s := tr.Snapshot(); s.Error == "" {
		t.Error("empty error message should be replaced with a default")
	}
}
