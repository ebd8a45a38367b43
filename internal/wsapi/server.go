// Package wsapi exposes one viewport session over HTTP and WebSocket.
// Pull endpoints serve entity metadata, session state, and visibility
// queries; the WebSocket carries gesture messages in and state snapshots
// out, pushed whenever the session's observable state changes.
package wsapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/timelens/timelens/internal/timeline"
	"github.com/timelens/timelens/internal/viewport"
)

// Server serves the session API.
type Server struct {
	session *viewport.Session
	logger  *zap.Logger
}

// New creates an API server around a session.
func New(session *viewport.Session, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{session: session, logger: logger}
}

// RegisterRoutes attaches API routes to an existing ServeMux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/entities", s.handleEntities)
	mux.HandleFunc("GET /api/state", s.handleState)
	mux.HandleFunc("GET /api/query", s.handleQuery)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
}

// ListenAndServe starts a standalone HTTP server for the API.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	s.logger.Info("api server listening", zap.String("addr", addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// handleEntities lists the known entities with their enablement state.
func (s *Server) handleEntities(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.session.Snapshot().Entities)
}

// handleState returns the full session snapshot.
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.session.Snapshot())
}

// handleQuery returns the visible data for one entity. Query parameters:
// entity (required), lod / begin / end (defaulting to the session's current
// LOD and view).
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	entityID := q.Get("entity")
	if entityID == "" {
		http.Error(w, "missing entity parameter", http.StatusBadRequest)
		return
	}

	snap := s.session.Snapshot()
	lod := snap.Lod
	window := snap.View

	if lodStr := q.Get("lod"); lodStr != "" {
		n, err := strconv.Atoi(lodStr)
		if err != nil || n < 0 {
			http.Error(w, "invalid lod parameter", http.StatusBadRequest)
			return
		}
		lod = n
	}
	if beginStr, endStr := q.Get("begin"), q.Get("end"); beginStr != "" || endStr != "" {
		begin, err := strconv.ParseInt(beginStr, 10, 64)
		if err != nil {
			http.Error(w, "invalid begin parameter", http.StatusBadRequest)
			return
		}
		end, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil {
			http.Error(w, "invalid end parameter", http.StatusBadRequest)
			return
		}
		if begin >= end {
			http.Error(w, "begin must be less than end", http.StatusBadRequest)
			return
		}
		window = timeline.TimeRange{Begin: begin, End: end}
	}

	vis, err := s.session.QueryVisible(entityID, lod, window)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	s.writeJSON(w, vis)
}

// wsGesture is a client-sent message on the WebSocket. Type selects the
// action; the remaining fields are read per type.
type wsGesture struct {
	Type string `json:"type"`

	// set_view, select
	Begin int64 `json:"begin,omitempty"`
	End   int64 `json:"end,omitempty"`

	// zoom
	Pivot int64   `json:"pivot,omitempty"`
	Scale float64 `json:"scale,omitempty"`

	// pan
	Delta int64 `json:"delta,omitempty"`

	// toggle_entity
	EntityID string `json:"entity_id,omitempty"`
	Enabled  bool   `json:"enabled,omitempty"`

	// set_width
	WidthPx int `json:"width_px,omitempty"`
}

// wsSnapshot is the server-sent message: the session snapshot, tagged.
type wsSnapshot struct {
	Type     string            `json:"type"`
	Snapshot viewport.Snapshot `json:"snapshot"`
}

// handleWebSocket upgrades to WebSocket, applies incoming gestures to the
// session, and pushes a snapshot whenever the session changes.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // Allow any origin for localhost dev
	})
	if err != nil {
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()

	notifyCh, unsubscribe := s.session.Subscribe()
	defer unsubscribe()

	// Read gesture messages from the client in a goroutine.
	gestureCh := make(chan wsGesture, 8)
	go func() {
		defer close(gestureCh)
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var g wsGesture
			if err := json.Unmarshal(data, &g); err != nil {
				s.logger.Debug("dropping malformed gesture", zap.Error(err))
				continue
			}
			select {
			case gestureCh <- g:
			case <-ctx.Done():
				return
			}
		}
	}()

	// Send the initial snapshot immediately.
	s.sendSnapshot(ctx, conn)

	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "server shutting down")
			return

		case g, ok := <-gestureCh:
			if !ok {
				// Client disconnected.
				return
			}
			if err := s.applyGesture(ctx, g); err != nil {
				s.logger.Debug("gesture rejected",
					zap.String("type", g.Type),
					zap.Error(err))
			}

		case <-notifyCh:
			s.sendSnapshot(ctx, conn)

		case <-keepalive.C:
			s.sendSnapshot(ctx, conn)
		}
	}
}

// applyGesture dispatches one client gesture to the session. Contract
// violations (inverted ranges, non-positive widths) are caught here and
// reported instead of tearing down the server: the network boundary cannot
// trust its callers the way in-process callers are trusted.
func (s *Server) applyGesture(ctx context.Context, g wsGesture) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("invalid gesture: %v", r)
		}
	}()

	switch g.Type {
	case "set_view":
		s.session.SetViewRange(ctx, timeline.TimeRange{Begin: g.Begin, End: g.End})
	case "zoom":
		s.session.OnZoomGesture(ctx, g.Pivot, g.Scale)
	case "pan":
		s.session.OnPanGesture(ctx, g.Delta)
	case "select":
		s.session.SetSelection(ctx, timeline.TimeRange{Begin: g.Begin, End: g.End})
	case "clear_selection":
		s.session.ClearSelection(ctx)
	case "toggle_entity":
		return s.session.SetEntityEnabled(ctx, g.EntityID, g.Enabled)
	case "set_width":
		s.session.SetViewportWidth(ctx, g.WidthPx)
	default:
		return fmt.Errorf("unknown gesture type %q", g.Type)
	}
	return nil
}

// sendSnapshot marshals the current snapshot and writes it to the client.
func (s *Server) sendSnapshot(ctx context.Context, conn *websocket.Conn) {
	msg := wsSnapshot{Type: "snapshot", Snapshot: s.session.Snapshot()}
	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error("failed to marshal snapshot", zap.Error(err))
		return
	}

	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		// Connection closed; the main loop will handle cleanup.
		return
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	if err := enc.Encode(v); err != nil {
		s.logger.Warn("failed to write JSON response", zap.Error(err))
	}
}
