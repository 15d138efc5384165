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
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeNotFound(w, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, ErrCodeMethodNotAllow, "method not allowed")
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)
		r.Get("/state", s.handleGetState)
		r.Get("/ws", s.handleWebSocket)

		// Broker connection
		r.Route("/session", func(r chi.Router) {
			r.Post("/connect", s.handleConnect)
			r.Post("/disconnect", s.handleDisconnect)
		})

		// Server profiles
		r.Route("/servers", func(r chi.Router) {
			r.Get("/", s.handleListServers)
			r.Post("/", s.handleCreateServer)
			r.Put("/{name}", s.handleUpdateServer)
			r.Delete("/{name}", s.handleDeleteServer)
		})

		r.Get("/settings", s.handleGetSettings)
		r.Put("/settings", s.handleUpdateSettings)

		// Devices of the selected server
		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.handleListDevices)
			r.Get("/known", s.handleListKnownDevices)
			r.Post("/ping", s.handlePingDevices)

			r.Route("/{id}/{location}", func(r chi.Router) {
				r.Get("/", s.handleGetDevice)
				r.Post("/command", s.handleDeviceCommand)
				r.Put("/alias", s.handleSetAlias)
			})
		})

		r.Route("/whitelist", func(r chi.Router) {
			r.Get("/", s.handleListWhitelist)
			r.Post("/", s.handleAddWhitelist)
			r.Delete("/", s.handleRemoveWhitelist)
		})

		r.Route("/subscriptions", func(r chi.Router) {
			r.Get("/", s.handleListSubscriptions)
			r.Post("/", s.handleSubscribe)
			r.Delete("/", s.handleUnsubscribe)
		})

		r.Post("/publish", s.handlePublish)
		r.Get("/history", s.handleGetHistory)
		r.Delete("/history", s.handleClearHistory)

		r.Route("/tasks", func(r chi.Router) {
			r.Get("/", s.handleListTasks)
			r.Post("/", s.handleCreateTask)

			r.Route("/{id}", func(r chi.Router) {
				r.Put("/", s.handleUpdateTask)
				r.Delete("/", s.handleDeleteTask)
				r.Post("/toggle", s.handleToggleTask)
				r.Post("/run", s.handleRunTask)
			})
		})

		r.Route("/triggers", func(r chi.Router) {
			r.Get("/", s.handleListTriggers)
			r.Post("/", s.handleCreateTrigger)

			r.Route("/{id}", func(r chi.Router) {
				r.Put("/", s.handleUpdateTrigger)
				r.Delete("/", s.handleDeleteTrigger)
				r.Post("/toggle", s.handleToggleTrigger)
			})
		})

		r.Route("/alerts", func(r chi.Router) {
			r.Get("/", s.handleListAlerts)
			r.Post("/", s.handleCreateAlert)

			r.Route("/{id}", func(r chi.Router) {
				r.Put("/", s.handleUpdateAlert)
				r.Delete("/", s.handleDeleteAlert)
				r.Post("/toggle", s.handleToggleAlert)
			})
		})
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
		"mqtt":    s.session.Status(),
	})
}
