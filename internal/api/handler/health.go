package handler

import (
	"net/http"

	"github.com/kiranshivaraju/meshforge/internal/api/response"
	"github.com/kiranshivaraju/meshforge/internal/cache"
)

// NewHealthHandler checks cache connectivity. A nil cache means rate
// limiting is disabled and is reported as such.
func NewHealthHandler(c cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{"cache": "disabled"}

		if c != nil {
			checks["cache"] = "ok"
			if err := c.Ping(r.Context()); err != nil {
				checks["cache"] = "degraded"
				response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
					"One or more services degraded", checks)
				return
			}
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}
