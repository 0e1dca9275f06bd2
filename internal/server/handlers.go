package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/michaelbrown/sandboxer/internal/agent"
	"github.com/michaelbrown/sandboxer/internal/pipeline"
	"github.com/michaelbrown/sandboxer/internal/runs"
	"github.com/michaelbrown/sandboxer/internal/storage"
)

// --- JSON helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// --- Sandbox handler ---

type sandboxResponse struct {
	Success   bool   `json:"success,omitempty"`
	Message   string `json:"message,omitempty"`
	SandboxID string `json:"sandboxId,omitempty"`
	Error     string `json:"error,omitempty"`
	Details   string `json:"details,omitempty"`
}

// handleSandbox runs the pipeline and answers once the sandbox is stopped.
func (s *Server) handleSandbox(w http.ResponseWriter, r *http.Request) {
	id := uuid.New().String()
	w.Header().Set("X-Run-ID", id)

	// Once issued, a run is only cancelled by server shutdown, not by the
	// client going away.
	var out *runs.Outcome
	done, err := s.active.Start(context.WithoutCancel(r.Context()), id, func(ctx context.Context, hub *Hub) {
		out, _ = s.svc.Execute(ctx, id, hub)
	})
	if err != nil {
		s.startError(w, err)
		return
	}
	<-done

	if out == nil {
		writeJSON(w, http.StatusInternalServerError, sandboxResponse{Error: pipeline.MessageFailed})
		return
	}
	if out.Success {
		writeJSON(w, http.StatusOK, sandboxResponse{
			Success:   true,
			Message:   out.Message,
			SandboxID: out.SandboxID,
		})
		return
	}
	writeJSON(w, http.StatusInternalServerError, sandboxResponse{
		Error:   out.Error,
		Details: out.Details,
	})
}

func (s *Server) startError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrClosing) {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

// --- Run handlers ---

func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	id := uuid.New().String()
	logger := s.logger.With(zap.String("run_id", id))

	_, err := s.active.Start(context.Background(), id, func(ctx context.Context, hub *Hub) {
		if _, err := s.svc.Execute(ctx, id, hub); err != nil {
			logger.Debug("background run finished with error", zap.Error(err))
		}
	})
	if err != nil {
		s.startError(w, err)
		return
	}

	w.Header().Set("X-Run-ID", id)
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	opts := storage.RunListOptions{}

	if status := r.URL.Query().Get("status"); status != "" {
		opts.Status = storage.RunStatus(status)
	}
	if limit := r.URL.Query().Get("limit"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil {
			opts.Limit = n
		}
	}
	if offset := r.URL.Query().Get("offset"); offset != "" {
		if n, err := strconv.Atoi(offset); err == nil {
			opts.Offset = n
		}
	}

	list, err := s.store.ListRuns(r.Context(), opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if list == nil {
		list = []storage.Run{}
	}
	writeJSON(w, http.StatusOK, list)
}

type runResponse struct {
	*storage.Run
	Active bool `json:"active"`
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, runResponse{Run: run, Active: s.active.Active(run.ID)})
}

func (s *Server) handleDeleteRun(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	if s.active.Active(run.ID) {
		writeError(w, http.StatusConflict, "run is still active")
		return
	}

	if err := s.store.DeleteRun(r.Context(), run.ID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetMessages(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookupRun(w, r)
	if !ok {
		return
	}

	msgs, err := s.store.LoadMessages(r.Context(), run.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if msgs == nil {
		msgs = []agent.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

// lookupRun resolves the {id} URL parameter, writing the error response when
// it cannot.
func (s *Server) lookupRun(w http.ResponseWriter, r *http.Request) (*storage.Run, bool) {
	run, err := s.store.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
		} else {
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return nil, false
	}
	return run, true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"active_runs": s.active.Len(),
	})
}
