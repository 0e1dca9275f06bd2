package sandbox

import (
	"context"
	"sync"
)

// Lease owns a sandbox for the duration of one operation. Release stops the
// sandbox at most once; any use of the lease after that returns ErrStopped.
type Lease struct {
	sbx Sandbox

	mu       sync.Mutex
	released bool
}

// Acquire creates a sandbox and wraps it in a Lease.
func Acquire(ctx context.Context, p Provider, opts CreateOptions) (*Lease, error) {
	sbx, err := p.Create(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &Lease{sbx: sbx}, nil
}

func (l *Lease) ID() string {
	return l.sbx.ID()
}

func (l *Lease) RunCommand(ctx context.Context, cmd Command) (*CommandResult, error) {
	if l.isReleased() {
		return nil, ErrStopped
	}
	return l.sbx.RunCommand(ctx, cmd)
}

func (l *Lease) WriteFiles(ctx context.Context, files []File) error {
	if l.isReleased() {
		return ErrStopped
	}
	return l.sbx.WriteFiles(ctx, files)
}

// Stop is an alias of Release so a Lease satisfies Sandbox.
func (l *Lease) Stop(ctx context.Context) error {
	return l.Release(ctx)
}

// Release stops the underlying sandbox. Only the first call reaches the
// remote service.
func (l *Lease) Release(ctx context.Context) error {
	l.mu.Lock()
	if l.released {
		l.mu.Unlock()
		return nil
	}
	l.released = true
	l.mu.Unlock()

	return l.sbx.Stop(ctx)
}

func (l *Lease) isReleased() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.released
}
