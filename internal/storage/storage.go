package storage

import (
	"context"
	"errors"
	"time"

	"github.com/michaelbrown/sandboxer/internal/agent"
)

// ErrNotFound is returned when no run matches an ID or prefix.
var ErrNotFound = errors.New("run not found")

// RunStatus represents the lifecycle state of a run.
type RunStatus string

const (
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusFailed    RunStatus = "failed"
)

// Run is the record of one provisioning run.
type Run struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Status    RunStatus `json:"status"`
	State     string    `json:"state"` // last pipeline state reached
	SandboxID string    `json:"sandbox_id,omitempty"`
	Profile   string    `json:"profile,omitempty"`
	Error     string    `json:"error,omitempty"`
	Details   string    `json:"details,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RunListOptions controls filtering and pagination for ListRuns.
type RunListOptions struct {
	Status RunStatus
	Limit  int
	Offset int
}

// Store is the persistence interface for runs and their agent messages.
type Store interface {
	// CreateRun inserts a new run. The ID field must be set by the caller.
	CreateRun(ctx context.Context, r *Run) error

	// GetRun returns a run by ID or unique ID prefix.
	GetRun(ctx context.Context, id string) (*Run, error)

	// ListRuns returns runs ordered by created_at descending.
	ListRuns(ctx context.Context, opts RunListOptions) ([]Run, error)

	// UpdateRun updates the mutable fields of a run.
	UpdateRun(ctx context.Context, r *Run) error

	// DeleteRun removes a run and its messages.
	DeleteRun(ctx context.Context, id string) error

	// SaveMessages overwrites the agent messages of a run.
	SaveMessages(ctx context.Context, runID string, messages []agent.Message) error

	// LoadMessages returns the agent messages of a run.
	LoadMessages(ctx context.Context, runID string) ([]agent.Message, error)

	// Close releases resources.
	Close() error
}
