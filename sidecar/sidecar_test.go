package sidecar

import (
	"errors"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

type recordingSink struct {
	mu     sync.Mutex
	ready  int
	errors []string
}

func (r *recordingSink) SignalReady() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ready++
}

func (r *recordingSink) SignalError(message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, message)
}

func (r *recordingSink) snapshot() (int, []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ready, append([]string(nil), r.errors...)
}

// TestStartRejectsMissingInterpreter verifies launch validation
func TestStartRejectsMissingInterpreter(t *testing.T) {
	dir := t.TempDir()
	s := New(filepath.Join(dir, "no-such-python"), filepath.Join(dir, "app.py"), 5001, nil)
	if err := s.Start(); err == nil {
		t.Fatal("Start() should fail for a missing interpreter")
	}
	if s.Status().Running {
		t.Error("status should not report running after a failed start")
	}
}

// TestAwaitPortSignalsReady verifies the port poll reports readiness once
// something is listening
func TestAwaitPortSignalsReady(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	sink := &recordingSink{}
	s := New("python", "app.py", port, sink)
	defer s.cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.awaitPort(make(chan error))
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("awaitPort did not return")
	}

	ready, errs := sink.snapshot()
	if ready != 1 || len(errs) != 0 {
		t.Errorf("ready = %d, errors = %v; want 1 ready and no errors", ready, errs)
	}
}

// TestAwaitPortReportsEarlyExit verifies a crash before the port opens is
// surfaced as an error
func TestAwaitPortReportsEarlyExit(t *testing.T) {
	sink := &recordingSink{}
	s := New("python", "app.py", 1, sink) // port 1 will never accept
	defer s.cancel()

	exited := make(chan error, 1)
	exited <- errors.New("exit status 1")

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.awaitPort(exited)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("awaitPort did not return")
	}

	ready, errs := sink.snapshot()
	if ready != 0 || len(errs) != 1 {
		t.Fatalf("ready = %d, errors = %v; want a single error", ready, errs)
	}
}

// TestShutdownUnblocksAwaitPort verifies shutdown cancels the port wait
func TestShutdownUnblocksAwaitPort(t *testing.T) {
	sink := &recordingSink{}
	s := New("python", "app.py", 1, sink)

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.awaitPort(make(chan error))
	}()

	s.Shutdown()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("awaitPort did not return after shutdown")
	}

	ready, errs := sink.snapshot()
	if ready != 0 || len(errs) != 0 {
		t.Errorf("shutdown should not produce readiness signals; got ready=%d errors=%v", ready, errs)
	}
}
