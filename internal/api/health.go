package api

import (
	"net/http"
	"time"

	"github.com/cloudomate/coreauth/internal/api/helpers"
)

// HealthHandler reports liveness plus database reachability and tenant pool
// cache occupancy.
func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := "ok"
		code := http.StatusOK

		ctx, cancel := contextWithTimeout(r, 2*time.Second)
		defer cancel()

		if err := s.Router.Master().Ping(ctx); err != nil {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}

		helpers.RespondJSON(w, code, map[string]any{
			"status": status,
			"pools":  s.Router.Stats(),
		})
	}
}
