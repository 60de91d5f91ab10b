/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the dashboard

ROUTE GROUPS:
  /api/tenants/{tenantID}/*   Tenant-scoped attendance operations
  /api/scenarios/*            Demo scenarios
  /health                     Liveness probe

SECURITY NOTE:
  No authentication middleware. The caller's visibility scope arrives
  pre-resolved in the X-Visibility-Scope header from an upstream gateway.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", ScopeHeader},
		AllowCredentials: true,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Route("/tenants/{tenantID}", func(r chi.Router) {
			// Punch ingestion
			r.Post("/punches", h.IngestPunch)
			r.Post("/punches/{punchID}/correct", h.CorrectPunch)
			r.Post("/devices/{deviceID}/webhook", h.DeviceWebhook)
			r.Post("/attempts", h.RecordAttempt)

			// Reconciliation results
			r.Get("/sessions", h.ListSessions)
			r.Post("/sweep", h.TriggerSweep)

			// Anomaly routes
			r.Get("/anomalies", h.ListAnomalies)
			r.Post("/anomalies/{anomalyID}/correct", h.CorrectAnomaly)

			// Overtime routes
			r.Get("/overtime", h.ListOvertime)
			r.Post("/overtime/{id}/approve", h.ApproveOvertime)
			r.Post("/overtime/{id}/reject", h.RejectOvertime)

			// Settings routes
			r.Get("/settings", h.GetSettings)
			r.Put("/settings", h.PutSettings)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	return r
}
