package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.withRequestID)
	r.Use(s.withLogging)
	r.Use(s.withRecovery)
	r.Use(s.withCORS)
	r.Use(s.withBodyLimit)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Health and version (no auth required)
		r.Get("/health", s.handleHealth)
		r.Get("/version", s.handleVersion)

		// WebSocket upgrade. Browsers cannot send an Authorization header
		// here; the single-use ticket from /auth/ws-ticket is the auth.
		r.Get("/ws", s.handleWebSocket)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)

			// System metrics
			r.Get("/metrics", s.handleMetrics)

			// WS ticket requires authentication - caller must hold a valid
			// bearer token to request a ticket
			r.Post("/auth/ws-ticket", s.handleWSTicket)

			// Flow endpoints (setup wizard, reauth, options editor)
			r.Route("/flows", func(r chi.Router) {
				r.Post("/setup", s.handleStartSetup)
				r.Route("/setup/{flowID}", func(r chi.Router) {
					r.Get("/", s.handleGetSetup)
					r.Post("/", s.handleSubmitSetup)
				})

				r.Post("/reauth/{entryID}", s.handleStartReauth)

				r.Post("/options/{entryID}", s.handleStartOptions)
				r.Route("/options/{entryID}/{flowID}", func(r chi.Router) {
					r.Get("/", s.handleGetOptionsFlow)
					r.Post("/", s.handleSubmitOptions)
				})

				// Discovery events from tests or manual injection; the mDNS
				// browser feeds the flow manager directly.
				r.Post("/discovery", s.handleDiscovery)

				r.Delete("/{flowID}", s.handleCancelFlow)
			})

			// Entry endpoints
			r.Route("/entries", func(r chi.Router) {
				r.Get("/", s.handleListEntries)
				r.Get("/stats", s.handleEntryStats)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetEntry)
					r.Delete("/", s.handleDeleteEntry)
					r.Post("/reload", s.handleReloadEntry)
					r.Get("/history", s.handleEntryHistory)
				})
			})

			// Audit trail
			r.Get("/audit", s.handleListAuditLogs)
		})
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}

// handleVersion returns the service name and version.
func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service": "heliograph",
		"version": s.version,
	})
}
