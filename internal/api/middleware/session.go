package middleware

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/kiranshivaraju/meshforge/internal/api/response"
	"github.com/kiranshivaraju/meshforge/internal/session"
)

// SessionParam is the route parameter that carries the session id.
const SessionParam = "sessionID"

// SessionLoader resolves the {sessionID} route parameter.
type SessionLoader struct {
	registry *session.Registry
}

// NewSessionLoader creates a new SessionLoader middleware.
func NewSessionLoader(reg *session.Registry) *SessionLoader {
	return &SessionLoader{registry: reg}
}

// Load looks the session up and stores it in the request context, or
// answers 404.
func (l *SessionLoader) Load(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, SessionParam)

		s, err := l.registry.Get(id)
		if errors.Is(err, session.ErrNotFound) {
			response.Error(w, http.StatusNotFound,
				"SESSION_NOT_FOUND", "Session not found", nil)
			return
		}
		if err != nil {
			response.Error(w, http.StatusInternalServerError,
				"INTERNAL_ERROR", "Failed to load session", nil)
			return
		}

		next.ServeHTTP(w, r.WithContext(SetSession(r.Context(), s)))
	})
}
