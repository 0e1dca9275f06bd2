package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/michaelbrown/sandboxer/internal/runs"
	"github.com/michaelbrown/sandboxer/internal/storage"
)

// Server is the HTTP server for the sandboxer web API and UI.
type Server struct {
	svc    *runs.Service
	store  storage.Store
	active *RunManager
	logger *zap.Logger
	router chi.Router
	http   *http.Server
}

// New creates a new Server.
func New(svc *runs.Service, logger *zap.Logger) *Server {
	s := &Server{
		svc:    svc,
		store:  svc.Store(),
		active: NewRunManager(logger),
		logger: logger,
		router: chi.NewRouter(),
	}
	s.setupRoutes()
	s.http = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	r := s.router

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(accessLog(s.logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.With(jsonContentType).Post("/sandbox", s.handleSandbox)

		r.Route("/runs", func(r chi.Router) {
			r.With(jsonContentType).Get("/", s.handleListRuns)
			r.With(jsonContentType).Post("/", s.handleStartRun)
			r.With(jsonContentType).Get("/{id}", s.handleGetRun)
			r.With(jsonContentType).Delete("/{id}", s.handleDeleteRun)
			r.With(jsonContentType).Get("/{id}/messages", s.handleGetMessages)

			// WebSocket (no JSON content-type)
			r.Get("/{id}/ws", s.handleRunWebSocket)
		})
	})

	// SPA fallback
	r.Handle("/*", spaHandler())
}

// jsonContentType sets Content-Type to application/json for API routes.
func jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve accepts connections on ln until Shutdown is called.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("sandboxer server listening", zap.String("addr", ln.Addr().String()))
	err := s.http.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown cancels in-flight runs, waits for them to stop their sandboxes and
// then shuts the HTTP server down.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server", zap.Int("active_runs", s.active.Len()))
	s.active.CancelAll()
	if err := s.active.Wait(ctx); err != nil {
		s.logger.Warn("runs still active at shutdown", zap.Error(err))
	}
	return s.http.Shutdown(ctx)
}
