package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	if s.metrics != nil {
		r.Use(s.metrics.Middleware)
	}
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/system", s.handleSystem)
		r.Get("/metrics", s.handleMetrics)

		// Command table, optionally for one manufacturer
		r.Get("/commands", s.handleListCommands)

		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.handleListDevices)
			r.Post("/", s.handleCreateDevice)
			r.Get("/summary", s.handleDeviceSummary)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetDevice)
				r.Put("/", s.handleUpdateDevice)
				r.Delete("/", s.handleDeleteDevice)
				r.Get("/state", s.handleGetDeviceState)
				r.Get("/stats", s.handleGetDeviceStats)
				r.Get("/commands", s.handleDeviceCommands)
				r.Post("/commands", s.handleSendCommand)
				r.Post("/release", s.handleReleaseCommand)
				r.Post("/reconnect", s.handleReconnect)
				r.Post("/refresh", s.handleRefresh)
				r.Get("/events", s.handleConnectionEvents)
			})
		})

		if s.scenesEnabled() {
			r.Route("/scenes", func(r chi.Router) {
				r.Get("/", s.handleListScenes)
				r.Post("/", s.handleCreateScene)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetScene)
					r.Put("/", s.handleUpdateScene)
					r.Delete("/", s.handleDeleteScene)
					r.Post("/activate", s.handleActivateScene)
					r.Get("/executions", s.handleListSceneExecutions)
				})
			})
		}

		if s.audit != nil {
			r.Get("/audit", s.handleListAuditLogs)
		}

		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

func (s *Server) scenesEnabled() bool {
	return s.scenes != nil && s.sceneEngine != nil && s.sceneRepo != nil
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	summary := s.engine.Summary()
	status := "ok"
	if summary.Total > 0 && summary.Connected < summary.Total {
		status = "degraded"
	}

	mqttStatus := "disabled"
	if s.mqtt != nil {
		mqttStatus = "disconnected"
		if s.mqtt.IsConnected() {
			mqttStatus = "connected"
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  status,
		"version": s.version,
		"devices": summary,
		"mqtt":    mqttStatus,
	})
}
