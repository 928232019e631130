package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/iotrelay/internal/auth"
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

	// Prometheus scrape endpoint (no auth, like the health check)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		// WebSocket (auth via ticket, validated in handler)
		r.Get("/ws", s.handleWebSocket)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Post("/auth/ws-ticket", s.handleWSTicket)

			r.Route("/devices", func(r chi.Router) {
				r.With(s.require(auth.PermDeviceRead)).Get("/", s.handleListDevices)
				r.With(s.require(auth.PermDeviceRead)).Get("/online", s.handleListOnlineDevices)

				r.Route("/{id}", func(r chi.Router) {
					r.With(s.require(auth.PermDeviceRead)).Get("/", s.handleGetDevice)
					r.With(s.require(auth.PermDeviceOperate)).Post("/commands", s.handleSendCommand)
					r.With(s.require(auth.PermDeviceRead)).Get("/history", s.handleSensorHistory)
					r.With(s.require(auth.PermDeviceRead)).Get("/uptime", s.handleDeviceUptime)
				})
			})

			r.Route("/alerts", func(r chi.Router) {
				r.Use(s.require(auth.PermAlertRead))
				r.Get("/", s.handleRecentAlerts)
				r.Get("/history", s.handleAlertHistory)
				r.With(s.require(auth.PermAlertAck)).Post("/{id}/acknowledge", s.handleAcknowledgeAlert)
			})

			r.Route("/rules", func(r chi.Router) {
				r.With(s.require(auth.PermRuleRead)).Get("/", s.handleListRules)

				r.Group(func(r chi.Router) {
					r.Use(s.require(auth.PermRuleManage))
					r.Post("/", s.handleCreateRule)
					r.Post("/threshold", s.handleCreateThresholdRule)
					r.Post("/device-control", s.handleCreateDeviceControlRule)
					r.Patch("/{id}", s.handleUpdateRule)
					r.Delete("/{id}", s.handleDeleteRule)
				})

				r.With(s.require(auth.PermRuleRead)).Get("/{id}", s.handleGetRule)
			})

			r.Route("/tasks", func(r chi.Router) {
				r.With(s.require(auth.PermRuleRead)).Get("/", s.handleListTasks)
				r.With(s.require(auth.PermRuleRead)).Get("/{id}", s.handleGetTask)

				r.Group(func(r chi.Router) {
					r.Use(s.require(auth.PermTaskManage))
					r.Post("/", s.handleCreateTask)
					r.Patch("/{id}", s.handleUpdateTask)
					r.Delete("/{id}", s.handleDeleteTask)
				})
			})
		})
	})

	return r
}

// handleHealth returns the relay health summary. It is always 200 so load
// balancers can tell a degraded relay from a dead one.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	h := s.relay.Health()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         h.Status,
		"version":        s.version,
		"engine_running": h.EngineRunning,
		"mqtt_connected": h.MQTTConnected,
		"devices":        h.Devices,
		"online_devices": h.OnlineDevices,
		"queue_depth":    h.QueueDepth,
		"ws_clients":     s.hub.ClientCount(),
	})
}
