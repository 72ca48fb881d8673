package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	mw "github.com/kiranshivaraju/meshforge/internal/api/middleware"
	"github.com/kiranshivaraju/meshforge/internal/api/response"
)

const eventWriteTimeout = 10 * time.Second

// SessionToucher keeps a session alive while it is being watched.
type SessionToucher interface {
	Touch(id string)
}

// NewEventsHandler returns an http.HandlerFunc for
// GET /api/v1/sessions/{sessionID}/events. It upgrades to a WebSocket and
// pushes the session snapshot on every state change until the client goes
// away or the session is closed.
func NewEventsHandler(reg SessionToucher, opts *websocket.AcceptOptions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := mw.GetSession(r)
		if !ok {
			response.Error(w, http.StatusNotFound, "SESSION_NOT_FOUND", "Session not found", nil)
			return
		}

		conn, err := websocket.Accept(w, r, opts)
		if err != nil {
			slog.Warn("websocket accept failed", "session_id", s.ID, "error", err)
			return
		}
		defer conn.CloseNow()

		// Incoming messages are ignored; CloseRead handles control frames
		// and cancels ctx once the peer closes.
		ctx := conn.CloseRead(r.Context())

		updates, cancel := s.Controller.Subscribe()
		defer cancel()

		for {
			select {
			case <-ctx.Done():
				return
			case snap, ok := <-updates:
				if !ok {
					_ = conn.Close(websocket.StatusGoingAway, "session closed")
					return
				}
				reg.Touch(s.ID)

				wctx, done := context.WithTimeout(ctx, eventWriteTimeout)
				err := wsjson.Write(wctx, conn, sessionResponse{SessionID: s.ID, Snapshot: snap})
				done()
				if err != nil {
					slog.Debug("websocket write failed", "session_id", s.ID, "error", err)
					return
				}
			}
		}
	}
}
