package agent

import (
	"context"
	"sync"
)

// StubLauncher is a deterministic launcher that records launches without
// spawning processes. Handles stay "running" until released or signalled.
type StubLauncher struct {
	mu       sync.Mutex
	launched []LaunchSpec
	handles  map[string]*StubHandle
	nextPID  int
}

// NewStubLauncher creates a StubLauncher.
func NewStubLauncher() *StubLauncher {
	return &StubLauncher{handles: make(map[string]*StubHandle), nextPID: 1000}
}

// Launch records the spec and returns a stub handle.
func (l *StubLauncher) Launch(ctx context.Context, spec LaunchSpec) (Handle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.nextPID++
	h := &StubHandle{pid: l.nextPID, done: make(chan struct{})}
	l.launched = append(l.launched, spec)
	l.handles[spec.AgentID] = h
	return h, nil
}

// Launched returns the specs launched so far.
func (l *StubLauncher) Launched() []LaunchSpec {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]LaunchSpec{}, l.launched...)
}

// Handle returns the stub handle for an agent id, or nil.
func (l *StubLauncher) Handle(agentID string) *StubHandle {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.handles[agentID]
}

// StubHandle is a fake process handle.
type StubHandle struct {
	pid      int
	mu       sync.Mutex
	signals  int
	exited   bool
	done     chan struct{}
}

// PID returns the fake pid.
func (h *StubHandle) PID() int { return h.pid }

// Wait blocks until Exit or Signal.
func (h *StubHandle) Wait() error {
	<-h.done
	return nil
}

// Signal records the signal and releases Wait.
func (h *StubHandle) Signal() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.signals++
	if !h.exited {
		h.exited = true
		close(h.done)
	}
	return nil
}

// Exit simulates a clean process exit.
func (h *StubHandle) Exit() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.exited {
		h.exited = true
		close(h.done)
	}
}

// Signals returns how many times the handle was signalled.
func (h *StubHandle) Signals() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.signals
}
