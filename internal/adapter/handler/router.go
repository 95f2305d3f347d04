package handler

import (
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// NewRouter wires the REST API. limiter may be nil.
func NewRouter(h *RestHandler, limiter *RateLimiter, logger *zap.Logger) *mux.Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	router := mux.NewRouter()

	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/health", h.Health).Methods("GET")
	api.HandleFunc("/summary", h.Summary).Methods("GET")
	api.HandleFunc("/threats", h.Threats).Methods("GET")
	api.HandleFunc("/threats/{id}", h.Threat).Methods("GET")
	api.HandleFunc("/feed/export", h.Export).Methods("GET")
	api.HandleFunc("/snapshots", h.Snapshots).Methods("GET")

	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	router.Use(LoggingMiddleware(logger))
	if limiter != nil {
		router.Use(limiter.Middleware)
	}

	return router
}
