package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	mw "github.com/kiranshivaraju/meshforge/internal/api/middleware"
	"github.com/kiranshivaraju/meshforge/internal/api/response"
	"github.com/kiranshivaraju/meshforge/internal/generation"
	"github.com/kiranshivaraju/meshforge/internal/session"
	"github.com/kiranshivaraju/meshforge/pkg/models"
)

// SessionCreator opens sessions.
type SessionCreator interface {
	Create() (*session.Session, error)
}

// SessionCloser tears sessions down.
type SessionCloser interface {
	Close(id string) error
}

// sessionResponse is the snapshot of a session's controller plus its id.
type sessionResponse struct {
	SessionID string `json:"session_id"`
	models.Snapshot
}

func newSessionResponse(s *session.Session) sessionResponse {
	return sessionResponse{SessionID: s.ID, Snapshot: s.Controller.Snapshot()}
}

// NewCreateSessionHandler returns an http.HandlerFunc for POST /api/v1/sessions.
func NewCreateSessionHandler(reg SessionCreator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := reg.Create()
		if err != nil {
			switch {
			case errors.Is(err, session.ErrTooManySessions):
				response.Error(w, http.StatusServiceUnavailable, "TOO_MANY_SESSIONS",
					"Session limit reached, try again later", nil)
			case errors.Is(err, generation.ErrClosed):
				response.Error(w, http.StatusServiceUnavailable, "SHUTTING_DOWN",
					"Server is shutting down", nil)
			default:
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
					"An unexpected error occurred", nil)
			}
			return
		}
		response.Created(w, newSessionResponse(s))
	}
}

// NewGetSessionHandler returns an http.HandlerFunc for GET /api/v1/sessions/{sessionID}.
func NewGetSessionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := mw.GetSession(r)
		if !ok {
			response.Error(w, http.StatusNotFound, "SESSION_NOT_FOUND", "Session not found", nil)
			return
		}
		response.JSON(w, newSessionResponse(s))
	}
}

// NewDeleteSessionHandler returns an http.HandlerFunc for DELETE /api/v1/sessions/{sessionID}.
func NewDeleteSessionHandler(reg SessionCloser) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := mw.GetSession(r)
		if !ok {
			response.Error(w, http.StatusNotFound, "SESSION_NOT_FOUND", "Session not found", nil)
			return
		}
		if err := reg.Close(s.ID); err != nil && !errors.Is(err, session.ErrNotFound) {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}
		response.NoContent(w)
	}
}

// NewGenerateHandler returns an http.HandlerFunc for
// POST /api/v1/sessions/{sessionID}/generate.
func NewGenerateHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := mw.GetSession(r)
		if !ok {
			response.Error(w, http.StatusNotFound, "SESSION_NOT_FOUND", "Session not found", nil)
			return
		}

		var req struct {
			Prompt string `json:"prompt"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		// The job outlives the request: a client that disconnects while the
		// service is answering must not fail it.
		err := s.Controller.StartGeneration(context.WithoutCancel(r.Context()), req.Prompt)
		writeStartResult(w, s, err)
	}
}

// NewRefineHandler returns an http.HandlerFunc for
// POST /api/v1/sessions/{sessionID}/refine.
func NewRefineHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := mw.GetSession(r)
		if !ok {
			response.Error(w, http.StatusNotFound, "SESSION_NOT_FOUND", "Session not found", nil)
			return
		}

		err := s.Controller.StartRefine(context.WithoutCancel(r.Context()))
		writeStartResult(w, s, err)
	}
}

// writeStartResult maps the outcome of StartGeneration or StartRefine.
// Error responses carry the session snapshot as details.
func writeStartResult(w http.ResponseWriter, s *session.Session, err error) {
	snap := newSessionResponse(s)
	if err == nil {
		response.Accepted(w, snap)
		return
	}

	switch {
	case errors.Is(err, generation.ErrEmptyPrompt),
		errors.Is(err, generation.ErrNoPreviewTask):
		response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", snap.ErrorMessage, snap)
	case errors.Is(err, generation.ErrSuperseded):
		response.Error(w, http.StatusConflict, "SUPERSEDED",
			"A newer request replaced this one", snap)
	case errors.Is(err, generation.ErrClosed):
		response.Error(w, http.StatusGone, "SESSION_CLOSED", "Session was closed", nil)
	default:
		message := snap.ErrorMessage
		if message == "" {
			message = "The generation service request failed"
		}
		response.Error(w, http.StatusBadGateway, "GENERATION_SERVICE_ERROR", message, snap)
	}
}
