package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	mw "github.com/kiranshivaraju/meshforge/internal/api/middleware"
	"github.com/kiranshivaraju/meshforge/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Sessions  *mw.SessionLoader
	RateLimit *mw.RateLimit
	Metrics   mw.HTTPRecorder

	HealthHandler  http.HandlerFunc
	MetricsHandler http.Handler

	CreateSession http.HandlerFunc
	GetSession    http.HandlerFunc
	DeleteSession http.HandlerFunc
	Generate      http.HandlerFunc
	Refine        http.HandlerFunc
	SessionEvents http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RealIP)
	r.Use(mw.Logger)
	r.Use(mw.Recovery)
	if deps.Metrics != nil {
		r.Use(mw.Metrics(deps.Metrics))
	}

	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	r.Post("/api/v1/sessions", orNotImplemented(deps.CreateSession))

	r.Route("/api/v1/sessions/{"+mw.SessionParam+"}", func(r chi.Router) {
		if deps.Sessions != nil {
			r.Use(deps.Sessions.Load)
		}

		r.Get("/", orNotImplemented(deps.GetSession))
		r.Delete("/", orNotImplemented(deps.DeleteSession))
		r.Get("/events", orNotImplemented(deps.SessionEvents))

		// Job submissions hit the Generation Service and are rate limited.
		r.Group(func(r chi.Router) {
			r.Use(deps.RateLimit.Limit)

			r.Post("/generate", orNotImplemented(deps.Generate))
			r.Post("/refine", orNotImplemented(deps.Refine))
		})
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
