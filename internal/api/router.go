// fleetd - Worker Fleet Supervisor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetd

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterConfig wires the router.
type RouterConfig struct {
	Handler    *Handler
	Middleware *MiddlewareConfig
	// Metrics mounts /metrics.
	Metrics bool
}

// NewRouter builds the chi router for the admin API.
func NewRouter(cfg RouterConfig) http.Handler {
	mw := NewMiddleware(cfg.Middleware)
	h := cfg.Handler

	r := chi.NewRouter()

	r.Use(RequestIDWithLogging())
	r.Use(chimiddleware.RealIP)
	r.Use(AccessLog())
	r.Use(PrometheusMetrics())
	r.Use(chimiddleware.Recoverer)
	r.Use(mw.CORS())

	r.Get("/healthz", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Use(mw.RateLimit())

		r.Get("/config", h.GetConfig)
		r.Put("/config", h.PutConfig)

		r.Get("/events", h.ListEvents)
		r.Post("/events", h.PostEvent)
	})

	if cfg.Metrics {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		NewResponseWriter(w, r).Error(http.StatusNotFound, ErrCodeNotFound, "Not found")
	})

	return r
}
