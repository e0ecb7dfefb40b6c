// Package dashboard serves a read-only operator event feed over
// WebSocket, broadcasting internal/events.Bus events as they occur.
// The upgrade/serve-loop shape is grounded on the pack's websocket
// server pattern (upgrade, spawn a writer goroutine draining a
// per-connection buffered channel, read loop purely to detect
// disconnect); unlike that chat protocol this feed is one-directional
// and carries no client-to-server message types.
package dashboard

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roverfleet/roverd/internal/events"
)

const writeTimeout = 5 * time.Second

// Server upgrades /events connections and fans out bus events to each.
type Server struct {
	bus      *events.Bus
	log      *slog.Logger
	upgrader websocket.Upgrader
}

// New constructs a dashboard Server over the given event bus.
func New(bus *events.Bus, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		bus: bus,
		log: log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
	}
}

// Handler returns the http.Handler for the operator feed (mount at
// e.g. GET /events on the httpapi mux or a dedicated listener).
func (s *Server) Handler() http.HandlerFunc {
	return s.handleUpgrade
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("dashboard ws upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	s.serveConn(r.Context(), conn, r.RemoteAddr)
}

func (s *Server) serveConn(ctx context.Context, conn *websocket.Conn, remoteAddr string) {
	defer conn.Close()

	ch := s.bus.Subscribe(64)
	defer s.bus.Unsubscribe(ch)

	s.log.Info("dashboard client connected", "remote", remoteAddr)
	defer s.log.Info("dashboard client disconnected", "remote", remoteAddr)

	// Read loop exists only to detect the client going away; the feed
	// carries no inbound message types.
	disconnected := make(chan struct{})
	go func() {
		defer close(disconnected)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-disconnected:
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(evt); err != nil {
				s.log.Debug("dashboard ws write failed", "remote", remoteAddr, "err", err)
				return
			}
		}
	}
}
