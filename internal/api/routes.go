package api

import (
	"net/http"
	"time"

	"filewatch/internal/logging"
	"filewatch/internal/metrics"
	"filewatch/internal/watcher"
)

type RouteConfig struct {
	Hub            *watcher.Hub
	Logger         *logging.Logger
	Metrics        *metrics.Registry
	AuthToken      string
	AllowedOrigins []string
	StartedAt      time.Time
}

func RegisterRoutes(mux *http.ServeMux, config RouteConfig) {
	logger := config.Logger
	rest := &RestHandler{
		Hub:       config.Hub,
		Logger:    logger,
		StartedAt: config.StartedAt,
	}
	wrap := func(handler http.Handler) http.Handler {
		return securityHeadersMiddleware(cacheControlNoStore, loggingMiddleware(logger, handler))
	}

	mux.Handle("/ws/events", wrap(&EventsHandler{
		Hub:            config.Hub,
		Logger:         logger,
		AuthToken:      config.AuthToken,
		AllowedOrigins: config.AllowedOrigins,
	}))
	mux.Handle("/api/status", wrap(restHandler(config.AuthToken, rest.handleStatus)))
	mux.Handle("/api/events", wrap(restHandler(config.AuthToken, rest.handleEvents)))
	mux.Handle("/api/logs", wrap(restHandler(config.AuthToken, rest.handleLogs)))
	mux.Handle("/api/", wrap(http.NotFoundHandler()))

	registry := config.Metrics
	if registry == nil {
		registry = metrics.Default
	}
	mux.Handle("/metrics", securityHeadersMiddleware(cacheControlNoStore, registry.Handler()))

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		setSecurityHeaders(w, cacheControlNoCache)
		if config.AuthToken != "" {
			w.Header().Set("X-Filewatch-Auth", "required")
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("filewatch ok\n"))
	})
}
