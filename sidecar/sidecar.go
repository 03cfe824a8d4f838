// Package sidecar supervises the Python analysis backend process. The
// desktop shell owns the backend lifecycle: it spawns the interpreter,
// waits for the service port to accept connections, and reports the
// outcome so the rest of the app can gate on backend readiness.
package sidecar

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"os/exec"
	"runtime"
	"sync"
	"time"
)

const (
	// portWaitTimeout bounds how long we wait for the backend to start
	// listening before declaring it failed.
	portWaitTimeout = 30 * time.Second
	portPollEvery   = 500 * time.Millisecond
)

// ReadinessSink receives the backend's startup outcome. Satisfied by
// readiness.Tracker.
type ReadinessSink interface {
	SignalReady()
	SignalError(message string)
}

// Status is a point-in-time view of the supervised process.
type Status struct {
	Running   bool      `json:"running"`
	PID       int       `json:"pid,omitempty"`
	StartedAt time.Time `json:"started_at,omitempty"`
	ExitError string    `json:"exit_error,omitempty"`
}

// Supervisor manages one backend process at a time.
type Supervisor struct {
	pythonPath string
	scriptPath string
	port       int
	sink       ReadinessSink

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	status Status
}

// New creates a supervisor for the given interpreter, entry script, and
// service port. Call Start to actually launch the process.
func New(pythonPath, scriptPath string, port int, sink ReadinessSink) *Supervisor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		pythonPath: pythonPath,
		scriptPath: scriptPath,
		port:       port,
		sink:       sink,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Status returns the current process status.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Start launches the backend process and begins waiting for its port.
// Errors from the launch itself are returned; later failures (crash,
// port never opening) are reported through the readiness sink.
func (s *Supervisor) Start() error {
	if _, err := os.Stat(s.pythonPath); err != nil {
		return fmt.Errorf("python interpreter not found at %s: %w", s.pythonPath, err)
	}
	if _, err := os.Stat(s.scriptPath); err != nil {
		return fmt.Errorf("backend script not found at %s: %w", s.scriptPath, err)
	}

	cmd := exec.Command(s.pythonPath, s.scriptPath, "--port", fmt.Sprintf("%d", s.port))
	cmd.Env = append(os.Environ(), "PYTHONUNBUFFERED=1")

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting backend: %w", err)
	}

	s.mu.Lock()
	s.status = Status{Running: true, PID: cmd.Process.Pid, StartedAt: time.Now()}
	s.mu.Unlock()

	log.Printf("Started analysis backend (pid %d, port %d)", cmd.Process.Pid, s.port)

	// Kill the process tree when shutdown is requested.
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		<-s.ctx.Done()
		if cmd.Process != nil {
			if runtime.GOOS == "windows" {
				_ = exec.Command("taskkill", "/F", "/T", "/PID", fmt.Sprintf("%d", cmd.Process.Pid)).Run()
			} else {
				_ = cmd.Process.Kill()
			}
		}
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		scanLines(stdoutPipe, "backend")
	}()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		scanLines(stderrPipe, "backend")
	}()

	exited := make(chan error, 1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		err := cmd.Wait()
		exited <- err

		s.mu.Lock()
		s.status.Running = false
		if err != nil {
			s.status.ExitError = err.Error()
		}
		s.mu.Unlock()
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.awaitPort(exited)
	}()

	return nil
}

// awaitPort polls the service port until it accepts a connection, the
// process exits, or the wait budget runs out.
func (s *Supervisor) awaitPort(exited <-chan error) {
	addr := net.JoinHostPort("127.0.0.1", fmt.Sprintf("%d", s.port))
	deadline := time.Now().Add(portWaitTimeout)
	ticker := time.NewTicker(portPollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case err := <-exited:
			msg := "backend exited before becoming ready"
			if err != nil {
				msg = fmt.Sprintf("backend exited before becoming ready: %v", err)
			}
			log.Print(msg)
			s.signalError(msg)
			return
		case <-ticker.C:
			conn, err := net.DialTimeout("tcp", addr, portPollEvery)
			if err == nil {
				conn.Close()
				log.Printf("Analysis backend is accepting connections on %s", addr)
				s.signalReady()
				return
			}
			if time.Now().After(deadline) {
				msg := fmt.Sprintf("backend did not open port %d within %s", s.port, portWaitTimeout)
				log.Print(msg)
				s.signalError(msg)
				return
			}
		}
	}
}

func (s *Supervisor) signalReady() {
	if s.sink != nil {
		s.sink.SignalReady()
	}
}

func (s *Supervisor) signalError(msg string) {
	if s.sink != nil {
		s.sink.SignalError(msg)
	}
}

// Shutdown kills the backend process and waits for all supervisor
// goroutines to finish.
func (s *Supervisor) Shutdown() {
	s.cancel()
	s.wg.Wait()

	s.mu.Lock()
	s.status.Running = false
	s.mu.Unlock()
}

func scanLines(pipe io.ReadCloser, prefix string) {
	scanner := bufio.NewScanner(pipe)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		log.Printf("[%s] %s", prefix, scanner.Text())
	}
	if err := scanner.Err(); err != nil && err != io.EOF {
		log.Printf("[%s] pipe read error: %v", prefix, err)
	}
}
