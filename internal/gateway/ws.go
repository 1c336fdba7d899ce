package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/basket/taskmaster/internal/tasks"
)

const wsWriteTimeout = 5 * time.Second

// helloMessage is the first frame on every connection. Clients can treat it
// as confirmation that the subscription is live.
type helloMessage struct {
	Type    string `json:"type"`
	Version string `json:"version,omitempty"`
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Bus == nil {
		writeErrorBody(w, http.StatusServiceUnavailable, string(tasks.CodeUnavailable), "event stream disabled")
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: newOriginPolicy(s.cfg.AllowOrigins).wsPatterns(),
	})
	if err != nil {
		// Accept has already written the response.
		s.logger.WarnContext(r.Context(), "websocket accept failed", "error", err)
		return
	}
	defer conn.CloseNow()

	sub := s.cfg.Bus.Subscribe()
	defer s.cfg.Bus.Unsubscribe(sub)

	// Counted only once subscribed, so a nonzero count means events flow.
	s.wsClients.Add(1)
	defer s.wsClients.Add(-1)

	// Clients never send; CloseRead handles pings and notices disconnects.
	ctx := conn.CloseRead(r.Context())

	if err := s.writeFrame(ctx, conn, helloMessage{Type: "hello", Version: s.cfg.Version}); err != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case event, ok := <-sub.Events():
			if !ok {
				conn.Close(websocket.StatusGoingAway, "server shutting down")
				return
			}
			if err := s.writeFrame(ctx, conn, event); err != nil {
				s.logger.DebugContext(ctx, "websocket write failed", "error", err)
				return
			}
		}
	}
}

func (s *Server) writeFrame(ctx context.Context, conn *websocket.Conn, v any) error {
	ctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, v)
}
