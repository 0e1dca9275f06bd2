package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/michaelbrown/sandboxer/internal/pipeline"
	"github.com/michaelbrown/sandboxer/internal/storage"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// wsOutgoing is a message to the client. Type is "event" while the run is
// live and "run" for the final record.
type wsOutgoing struct {
	Type  string          `json:"type"`
	Event *pipeline.Event `json:"event,omitempty"`
	Run   *storage.Run    `json:"run,omitempty"`
	Error string          `json:"error,omitempty"`
}

// handleRunWebSocket streams the events of an active run. A finished run gets
// its stored record and the connection is closed.
func (s *Server) handleRunWebSocket(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	hub, live := s.active.Hub(id)
	if !live {
		run, err := s.store.GetRun(r.Context(), id)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				http.Error(w, "run not found", http.StatusNotFound)
			} else {
				http.Error(w, err.Error(), http.StatusInternalServerError)
			}
			return
		}
		if hub, live = s.active.Hub(run.ID); !live {
			s.sendRecord(w, r, run)
			return
		}
		id = run.ID
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade error", zap.Error(err))
		return
	}
	defer conn.Close()

	past, events, unsubscribe := hub.Subscribe()
	defer unsubscribe()

	// The client sends nothing; reading detects when it goes away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for i := range past {
		if !s.wsWriteJSON(conn, wsOutgoing{Type: "event", Event: &past[i]}) {
			return
		}
	}

	for {
		select {
		case e, ok := <-events:
			if !ok {
				s.sendFinal(conn, r, id)
				return
			}
			if !s.wsWriteJSON(conn, wsOutgoing{Type: "event", Event: &e}) {
				return
			}
		case <-gone:
			return
		}
	}
}

func (s *Server) sendRecord(w http.ResponseWriter, r *http.Request, run *storage.Run) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade error", zap.Error(err))
		return
	}
	defer conn.Close()

	if s.wsWriteJSON(conn, wsOutgoing{Type: "run", Run: run}) {
		closeNormal(conn)
	}
}

func (s *Server) sendFinal(conn *websocket.Conn, r *http.Request, id string) {
	run, err := s.store.GetRun(r.Context(), id)
	if err != nil {
		s.wsWriteJSON(conn, wsOutgoing{Type: "error", Error: err.Error()})
		return
	}
	if s.wsWriteJSON(conn, wsOutgoing{Type: "run", Run: run}) {
		closeNormal(conn)
	}
}

func closeNormal(conn *websocket.Conn) {
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (s *Server) wsWriteJSON(conn *websocket.Conn, v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("websocket marshal error", zap.Error(err))
		return false
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		s.logger.Debug("websocket write error", zap.Error(err))
		return false
	}
	return true
}
