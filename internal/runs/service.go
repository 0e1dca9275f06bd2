// Package runs executes provisioning runs and keeps their history.
package runs

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/michaelbrown/sandboxer/internal/agent"
	"github.com/michaelbrown/sandboxer/internal/pipeline"
	"github.com/michaelbrown/sandboxer/internal/storage"
)

// Runner executes one pipeline run.
type Runner interface {
	Run(ctx context.Context, obs pipeline.Observer) (*pipeline.Result, error)
}

// Titler names a run from the agent's final report.
type Titler interface {
	Title(ctx context.Context, report string) string
}

// Outcome is the client-facing result of a run.
type Outcome struct {
	RunID     string         `json:"runId"`
	Success   bool           `json:"success"`
	Message   string         `json:"message,omitempty"`
	SandboxID string         `json:"sandboxId,omitempty"`
	Error     string         `json:"error,omitempty"`
	Details   string         `json:"details,omitempty"`
	State     pipeline.State `json:"state,omitempty"`
}

// Service runs the pipeline and records each run in the store. Recording
// problems are logged and never change the outcome of a run.
type Service struct {
	runner  Runner
	store   storage.Store
	titler  Titler
	profile string
	logger  *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithTitler sets the titler used to name finished runs.
func WithTitler(t Titler) Option {
	return func(s *Service) {
		s.titler = t
	}
}

// WithProfileName records the agent profile name on every run.
func WithProfileName(name string) Option {
	return func(s *Service) {
		s.profile = name
	}
}

// NewService creates a Service.
func NewService(runner Runner, store storage.Store, logger *zap.Logger, opts ...Option) *Service {
	s := &Service{runner: runner, store: store, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store returns the run store.
func (s *Service) Store() storage.Store {
	return s.store
}

// Execute performs run runID and records it. Events are forwarded to
// observers. The returned error is the pipeline's error, if any.
func (s *Service) Execute(ctx context.Context, runID string, observers ...pipeline.Observer) (*Outcome, error) {
	logger := s.logger.With(zap.String("run_id", runID))
	// Bookkeeping must survive a cancelled request.
	bg := context.WithoutCancel(ctx)

	rec := &recorder{
		store:  s.store,
		logger: logger,
		ctx:    bg,
		run:    &storage.Run{ID: runID, Status: storage.StatusRunning, Profile: s.profile},
	}
	if err := s.store.CreateRun(bg, rec.run); err != nil {
		logger.Error("failed to record run", zap.Error(err))
		rec.disabled = true
	}

	obs := append(pipeline.Observers{rec}, observers...)
	res, err := s.run(ctx, obs)

	out := &Outcome{RunID: runID}
	if res != nil {
		out.SandboxID = res.SandboxID
		out.State = res.State
	}
	if err != nil {
		out.Error, out.Details = pipeline.ClientError(err)
		logger.Error("run failed", zap.String("error", out.Error), zap.Error(err))
	} else {
		out.Success = true
		out.Message = pipeline.MessageSuccess
		logger.Info("run completed", zap.String("sandbox_id", out.SandboxID))
	}

	rec.finish(out, s.title(bg, res, out))
	return out, err
}

// run calls the runner, turning a panic into an error so the run is still
// recorded as failed.
func (s *Service) run(ctx context.Context, obs pipeline.Observer) (res *pipeline.Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			s.logger.Error("pipeline panicked", zap.Any("panic", p), zap.Stack("stack"))
			err = fmt.Errorf("pipeline panicked: %v", p)
		}
	}()
	return s.runner.Run(ctx, obs)
}

func (s *Service) title(ctx context.Context, res *pipeline.Result, out *Outcome) string {
	if res != nil && res.Final != nil {
		if text := res.Final.ResultText(); text != "" && s.titler != nil {
			if t := s.titler.Title(ctx, text); t != "" {
				return t
			}
		}
	}
	if !out.Success {
		return out.Error
	}
	if s.profile != "" {
		return s.profile
	}
	return "Sandbox run"
}

// recorder is the pipeline observer that persists run progress.
type recorder struct {
	store    storage.Store
	logger   *zap.Logger
	ctx      context.Context
	run      *storage.Run
	messages []agent.Message
	disabled bool
}

func (r *recorder) Observe(e pipeline.Event) {
	switch e.Kind {
	case pipeline.EventState:
		r.run.State = string(e.State)
		if e.SandboxID != "" {
			r.run.SandboxID = e.SandboxID
		}
		if !e.State.Terminal() {
			r.update()
		}
	case pipeline.EventMessage:
		if e.Message != nil {
			r.messages = append(r.messages, *e.Message)
		}
	}
}

func (r *recorder) update() {
	if r.disabled {
		return
	}
	if err := r.store.UpdateRun(r.ctx, r.run); err != nil {
		r.logger.Warn("failed to update run record", zap.Error(err))
		if errors.Is(err, storage.ErrNotFound) {
			r.disabled = true
		}
	}
}

func (r *recorder) finish(out *Outcome, title string) {
	r.run.Title = title
	r.run.Error = out.Error
	r.run.Details = out.Details
	if out.SandboxID != "" {
		r.run.SandboxID = out.SandboxID
	}
	r.run.Status = storage.StatusCompleted
	if !out.Success {
		r.run.Status = storage.StatusFailed
	}
	if out.State != "" {
		r.run.State = string(out.State)
	}
	if r.disabled {
		return
	}
	if err := r.store.SaveMessages(r.ctx, r.run.ID, r.messages); err != nil {
		r.logger.Warn("failed to save agent messages", zap.Error(err))
	}
	r.update()
}
