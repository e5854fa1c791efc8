package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/iot-console-core/internal/webui"
)

// healthCheckTimeout bounds the dependency probes of GET /health.
const healthCheckTimeout = 3 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.metricsMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeNotFound(w, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})

	if s.metrics != nil && s.metricCfg.Enabled {
		path := s.metricCfg.Path
		if path == "" {
			path = "/metrics"
		}
		r.Method(http.MethodGet, path, s.metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		// Account endpoints (no auth required)
		r.Route("/auth", func(r chi.Router) {
			r.Post("/signup", s.handleSignUp)
			r.Post("/signin", s.handleSignIn)
			r.Post("/signout", s.handleSignOut)
			r.Post("/refresh", s.handleRefresh)
			r.Post("/password/reset", s.handleRequestPasswordReset)
			r.Post("/password/update", s.handleUpdatePassword)
			r.Get("/password/strength", s.handlePasswordStrength)
		})

		// Consent and preferences work before sign-in; the subject is the
		// client header or, when signed in, the user.
		r.Group(func(r chi.Router) {
			r.Use(s.optionalAuthMiddleware)

			r.Get("/consent", s.handleGetConsent)
			r.Put("/consent", s.handlePutConsent)
			r.Get("/consent/export", s.handleExportConsent)
			r.Delete("/consent/data", s.handleClearNonEssential)
			r.Get("/preferences", s.handleGetPreferences)
			r.Put("/preferences", s.handlePutPreferences)
			r.Route("/analytics", func(r chi.Router) {
				r.Post("/session", s.handleStartAnalyticsSession)
				r.Post("/pageview", s.handleTrackPageView)
				r.Post("/feature", s.handleTrackFeature)
				r.Post("/event", s.handleTrackEvent)
				r.Get("/summary", s.handleAnalyticsSummary)
			})
			r.Get("/security", s.handleSecurityStatus)
			r.Post("/security/flag", s.handleFlagSuspicious)
		})

		// WebSocket (auth via ticket, validated in handler)
		r.Get("/ws", s.handleWebSocket)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Get("/auth/me", s.handleMe)
			r.Post("/auth/ws-ticket", s.handleWSTicket)

			r.Route("/devices", func(r chi.Router) {
				r.Get("/", s.handleListDevices)
				r.Post("/", s.handleCreateDevice)
				r.Get("/stats", s.handleDeviceStats)
				r.Get("/summary", s.handleDeviceSummary)
				r.Get("/search", s.handleSearchDevices)
				r.Get("/generate-id", s.handleGenerateDeviceID)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetDevice)
					r.Patch("/", s.handleUpdateDevice)
					r.Delete("/", s.handleDeleteDevice)
					r.Post("/toggle", s.handleToggleDevice)
					r.Put("/online", s.handleSetOnline)
					r.Post("/heartbeat", s.handleHeartbeat)
					r.Get("/logs", s.handleDeviceLogs)
					r.Get("/qr", s.handleDeviceQR)
				})
			})

			r.Route("/heartbeat", func(r chi.Router) {
				r.Get("/report", s.handleHeartbeatReport)
				r.Get("/status", s.handleHeartbeatStatus)
				r.Post("/sweep", s.handleSweepNow)
			})

			r.Get("/sync", s.handleSyncSnapshot)
			r.Get("/system/metrics", s.handleSystemMetrics)
			r.Get("/audit", s.handleListAuditLogs)
		})
	})

	// Browser client; unknown paths outside /api/v1 fall back to index.html.
	if s.cfg.UI.Enabled {
		r.Handle("/*", webui.Handler(s.cfg.UI.Dir))
	}

	return r
}

// handleHealth reports the server version and every dependency probe.
// Any failing probe turns the response into 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	status := http.StatusOK
	overall := "ok"
	components := make(map[string]string, len(s.checks))
	for _, c := range s.checks {
		if err := c.Check(ctx); err != nil {
			components[c.Name] = err.Error()
			status = http.StatusServiceUnavailable
			overall = "degraded"
			continue
		}
		components[c.Name] = "ok"
	}

	writeJSON(w, status, map[string]any{
		"status":            overall,
		"version":           s.version,
		"uptime_seconds":    int64(time.Since(s.startTime).Seconds()),
		"components":        components,
		"websocket_clients": s.hub.ClientCount(),
		"synced_owners":     s.syncs.Len(),
	})
}
