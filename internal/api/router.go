package api

import (
	"net/http"

	apperrors "github.com/shipslog/backend/internal/errors"
	"github.com/shipslog/backend/internal/health"
	"github.com/shipslog/backend/internal/logger"
	"github.com/shipslog/backend/internal/metrics"
)

type Router struct {
	mux            *http.ServeMux
	handler        http.Handler
	logHandlers    *LogHandlers
	healthHandlers *health.Handler
}

func NewRouter(logHandlers *LogHandlers, healthHandlers *health.Handler) *Router {
	r := &Router{
		mux:            http.NewServeMux(),
		logHandlers:    logHandlers,
		healthHandlers: healthHandlers,
	}
	r.setupRoutes()

	// Middleware wraps the mux so every route, including metrics and
	// health, gets a request ID and a log line.
	r.handler = apperrors.RequestIDMiddleware(
		logger.LoggingMiddleware(
			logger.RecoveryMiddleware(
				metrics.MetricsMiddleware(metrics.Default())(r.mux),
			),
		),
	)
	return r
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.handler.ServeHTTP(w, req)
}

func (r *Router) setupRoutes() {
	// Health and observability
	r.mux.HandleFunc("GET /healthz", r.healthHandlers.LivenessHandler)
	r.mux.HandleFunc("GET /readyz", r.healthHandlers.ReadinessHandler)
	r.mux.HandleFunc("GET /health", r.healthHandlers.HealthHandler)
	r.mux.HandleFunc("GET /metrics", metrics.Default().Handler())

	// Log entries
	r.mux.HandleFunc("POST /api/v1/logs", r.logHandlers.CreateLog)
	r.mux.HandleFunc("GET /api/v1/logs", r.logHandlers.ListLogs)
	r.mux.HandleFunc("GET /api/v1/logs/{id}", r.logHandlers.GetLog)
	r.mux.HandleFunc("GET /api/v1/logs/{id}/result", r.logHandlers.GetLogResult)
	r.mux.HandleFunc("GET /api/v1/logs/{id}/media", r.logHandlers.GetLogMedia)

	// Queue introspection
	r.mux.HandleFunc("GET /api/v1/queue/stats", r.logHandlers.QueueStats)
}
