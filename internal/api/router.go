// Geolytics - Access Log Ingestion and Geographic Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geolytics

/*
router.go - HTTP Route Wiring

Chi router with the ambient middleware stack: real-IP extraction,
panic recovery, per-IP rate limiting, optional CORS, and Prometheus
request observations. All data routes live under /api/v1; /metrics is
outside the rate limit so scrapers are never throttled.
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/geolytics/internal/config"
	"github.com/tomtom215/geolytics/internal/metrics"
)

// NewRouter assembles the full route tree.
func NewRouter(handler *Handler, security *config.SecurityConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	if len(security.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: security.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		if security.RateLimitPerMinute > 0 {
			r.Use(httprate.LimitByIP(security.RateLimitPerMinute, time.Minute))
		}
		r.Use(observeRequests)

		r.Get("/health", handler.Health)
		r.Get("/stats/summary", handler.Summary)
		r.Get("/stats/summary/exact", handler.ExactSummary)
		r.Get("/stats/timeseries", handler.Timeseries)
		r.Get("/locations/top", handler.TopLocations)
		r.Get("/ingest/status", handler.IngestStatus)
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}

// observeRequests records route/status/latency for each API request.
func observeRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = r.URL.Path
		}
		metrics.ObserveAPIRequest(route, ww.Status(), time.Since(started))
	})
}
