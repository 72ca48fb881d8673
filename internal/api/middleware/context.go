package middleware

import (
	"context"
	"net/http"

	"github.com/kiranshivaraju/meshforge/internal/session"
)

type contextKey string

const sessionKey contextKey = "session"

func SetSession(ctx context.Context, s *session.Session) context.Context {
	return context.WithValue(ctx, sessionKey, s)
}

// GetSession returns the session loaded by SessionLoader.Load.
func GetSession(r *http.Request) (*session.Session, bool) {
	s, ok := r.Context().Value(sessionKey).(*session.Session)
	return s, ok && s != nil
}
