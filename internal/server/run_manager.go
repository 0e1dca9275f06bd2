package server

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// ErrClosing is returned by Start once CancelAll has been called.
var ErrClosing = errors.New("server is shutting down")

// activeRun is a run whose pipeline is still executing.
type activeRun struct {
	hub    *Hub
	cancel context.CancelFunc
	done   chan struct{}
}

// RunManager tracks in-flight runs so they can be streamed and cancelled.
type RunManager struct {
	mu      sync.Mutex
	runs    map[string]*activeRun
	closing bool
	wg      sync.WaitGroup
	logger  *zap.Logger
}

// NewRunManager creates a new RunManager.
func NewRunManager(logger *zap.Logger) *RunManager {
	return &RunManager{runs: make(map[string]*activeRun), logger: logger}
}

// Start runs fn in a new goroutine under a context derived from parent. The
// returned channel is closed once fn has returned and the run is no longer
// tracked. A panic in fn is logged and ends the run.
func (m *RunManager) Start(parent context.Context, id string, fn func(ctx context.Context, hub *Hub)) (<-chan struct{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closing {
		return nil, ErrClosing
	}
	if _, ok := m.runs[id]; ok {
		return nil, fmt.Errorf("run %s is already active", id)
	}

	ctx, cancel := context.WithCancel(parent)
	ar := &activeRun{hub: NewHub(), cancel: cancel, done: make(chan struct{})}
	m.runs[id] = ar
	m.wg.Add(1)

	go func() {
		defer m.wg.Done()
		defer close(ar.done)
		defer m.finish(id)
		defer cancel()
		defer func() {
			if p := recover(); p != nil {
				m.logger.Error("run panicked", zap.String("run_id", id), zap.Any("panic", p), zap.Stack("stack"))
			}
		}()
		fn(ctx, ar.hub)
	}()
	return ar.done, nil
}

func (m *RunManager) finish(id string) {
	m.mu.Lock()
	ar, ok := m.runs[id]
	delete(m.runs, id)
	m.mu.Unlock()

	if ok {
		ar.hub.Close()
	}
}

// Hub returns the event hub of an active run.
func (m *RunManager) Hub(id string) (*Hub, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ar, ok := m.runs[id]
	if !ok {
		return nil, false
	}
	return ar.hub, true
}

// Active reports whether run id is in flight.
func (m *RunManager) Active(id string) bool {
	_, ok := m.Hub(id)
	return ok
}

// Len returns the number of active runs.
func (m *RunManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.runs)
}

// CancelAll cancels every active run and refuses new ones. The runs still
// release their sandboxes.
func (m *RunManager) CancelAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closing = true
	for _, ar := range m.runs {
		ar.cancel()
	}
}

// Wait blocks until no runs are active or ctx is done.
func (m *RunManager) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
