package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// healthCheckTimeout bounds each dependency check made by /health.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/turnouts", func(r chi.Router) {
			r.Get("/", s.handleListTurnouts)

			r.Route("/{address}", func(r chi.Router) {
				r.Get("/", s.handleGetTurnout)
				r.Put("/state", s.handleSetTurnoutState)
				r.Put("/known", s.handleSetKnownState)
				r.Get("/history", s.handleTurnoutHistory)
			})
		})
	})

	return r
}

// healthResponse is the body of GET /api/v1/health.
type healthResponse struct {
	Status        string            `json:"status"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Turnouts      int               `json:"turnouts"`
	Components    map[string]string `json:"components"`
}

// handleHealth reports "ok" when every configured dependency is reachable
// and "degraded" otherwise. The status code is 200 in both cases so the
// endpoint doubles as a liveness check.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	resp := healthResponse{
		Status:        "ok",
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Turnouts:      len(s.turnouts.List()),
		Components:    make(map[string]string),
	}

	check := func(name string, hc HealthChecker) {
		if hc == nil {
			return
		}
		if err := hc.HealthCheck(ctx); err != nil {
			resp.Components[name] = err.Error()
			resp.Status = "degraded"
			return
		}
		resp.Components[name] = "ok"
	}
	check("database", s.db)
	check("mqtt", s.mqtt)

	if s.bus != nil {
		if s.bus.IsConnected() {
			resp.Components["xnet"] = "ok"
		} else {
			resp.Components["xnet"] = "disconnected"
			resp.Status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, resp)
}
