// Geolytics - Access Log Ingestion and Geographic Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geolytics

/*
handlers.go - Read API Handlers

Handlers are thin: parse the time window, hit one store method, wrap
the result. In degraded mode (store unreachable at startup) every
data endpoint answers with zero values and Metadata.Degraded=true so
dashboards keep rendering; recovery requires a restart.

Windows are half-open [start, end). The summary endpoints default to
the last 24 hour-aligned hours; timeseries requires explicit dates.
*/
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/tomtom215/geolytics/internal/logging"
	"github.com/tomtom215/geolytics/internal/models"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

// Store is the read-side surface of the database layer.
type Store interface {
	Ping(ctx context.Context) error
	GetSummary(ctx context.Context, start, end time.Time) (*models.StatsSummary, error)
	GetExactSummary(ctx context.Context, start, end time.Time) (*models.ExactSummary, error)
	GetHourlyStats(ctx context.Context, start, end time.Time) ([]models.HourlyStats, error)
	GetDailyStats(ctx context.Context, start, end time.Time) ([]models.DailyStats, error)
	TopLocations(ctx context.Context, limit int) ([]models.TopLocation, error)
}

// IngestStatusProvider exposes the live pipeline counters.
type IngestStatusProvider interface {
	Status() models.IngestStatus
}

// Handler carries the read API's dependencies. store is nil in
// degraded mode; ingest is nil whenever ingestion is not running.
type Handler struct {
	store       Store
	ingest      IngestStatusProvider
	geoipLoaded bool
	startTime   time.Time
}

// NewHandler builds the handler set. Pass a nil store for degraded
// mode.
func NewHandler(store Store, ingest IngestStatusProvider, geoipLoaded bool) *Handler {
	return &Handler{
		store:       store,
		ingest:      ingest,
		geoipLoaded: geoipLoaded,
		startTime:   time.Now(),
	}
}

func (h *Handler) degraded() bool {
	return h.store == nil
}

// Health reports process health. Degraded mode is still HTTP 200; the
// service is up, just not ingesting.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	status := models.HealthStatus{
		Status:      "healthy",
		Version:     Version,
		GeoIPLoaded: h.geoipLoaded,
		Uptime:      time.Since(h.startTime).Seconds(),
	}

	if h.degraded() {
		status.Status = "degraded"
	} else if err := h.store.Ping(r.Context()); err != nil {
		logging.Warn().Err(err).Msg("Health check database ping failed")
		status.Status = "degraded"
	} else {
		status.DatabaseConnected = true
	}

	respondSuccess(w, r, status, started, h.degraded())
}

// Summary serves the cheap pre-aggregated window summary.
func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	start, end, err := parseWindow(r, defaultSummaryWindow)
	if err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return
	}

	if h.degraded() {
		respondSuccess(w, r, &models.StatsSummary{Start: start, End: end}, started, true)
		return
	}

	summary, err := h.store.GetSummary(r.Context(), start, end)
	if err != nil {
		logging.Error().Err(err).Msg("Summary query failed")
		respondError(w, http.StatusInternalServerError, ErrCodeDatabaseError, "summary query failed")
		return
	}
	respondSuccess(w, r, summary, started, false)
}

// ExactSummary recomputes distincts from the raw tables. Slower, for
// verification against the approximate counters.
func (h *Handler) ExactSummary(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	start, end, err := parseWindow(r, defaultSummaryWindow)
	if err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return
	}

	if h.degraded() {
		respondSuccess(w, r, &models.ExactSummary{Start: start, End: end}, started, true)
		return
	}

	summary, err := h.store.GetExactSummary(r.Context(), start, end)
	if err != nil {
		logging.Error().Err(err).Msg("Exact summary query failed")
		respondError(w, http.StatusInternalServerError, ErrCodeDatabaseError, "exact summary query failed")
		return
	}
	respondSuccess(w, r, summary, started, false)
}

// Timeseries serves hourly or daily buckets for charting.
func (h *Handler) Timeseries(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	start, end, err := parseWindow(r, defaultTimeseriesWindow)
	if err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return
	}

	granularity := r.URL.Query().Get("granularity")
	if granularity == "" {
		granularity = "hourly"
	}

	switch granularity {
	case "hourly":
		if h.degraded() {
			respondSuccess(w, r, []models.HourlyStats{}, started, true)
			return
		}
		rows, err := h.store.GetHourlyStats(r.Context(), start, end)
		if err != nil {
			logging.Error().Err(err).Msg("Hourly timeseries query failed")
			respondError(w, http.StatusInternalServerError, ErrCodeDatabaseError, "timeseries query failed")
			return
		}
		respondSuccess(w, r, rows, started, false)
	case "daily":
		if h.degraded() {
			respondSuccess(w, r, []models.DailyStats{}, started, true)
			return
		}
		rows, err := h.store.GetDailyStats(r.Context(), start, end)
		if err != nil {
			logging.Error().Err(err).Msg("Daily timeseries query failed")
			respondError(w, http.StatusInternalServerError, ErrCodeDatabaseError, "timeseries query failed")
			return
		}
		respondSuccess(w, r, rows, started, false)
	default:
		respondError(w, http.StatusBadRequest, ErrCodeBadRequest,
			"granularity must be hourly or daily")
	}
}

// TopLocations serves the most active locations leaderboard.
func (h *Handler) TopLocations(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 1000 {
			respondError(w, http.StatusBadRequest, ErrCodeBadRequest, "limit must be 1-1000")
			return
		}
		limit = n
	}

	if h.degraded() {
		respondSuccess(w, r, []models.TopLocation{}, started, true)
		return
	}

	rows, err := h.store.TopLocations(r.Context(), limit)
	if err != nil {
		logging.Error().Err(err).Msg("Top locations query failed")
		respondError(w, http.StatusInternalServerError, ErrCodeDatabaseError, "top locations query failed")
		return
	}
	if rows == nil {
		rows = []models.TopLocation{}
	}
	respondSuccess(w, r, rows, started, false)
}

// IngestStatus serves the live pipeline counters.
func (h *Handler) IngestStatus(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	if h.ingest == nil {
		respondSuccess(w, r, models.IngestStatus{}, started, true)
		return
	}
	respondSuccess(w, r, h.ingest.Status(), started, h.degraded())
}

const (
	defaultSummaryWindow    = 24 * time.Hour
	defaultTimeseriesWindow = 7 * 24 * time.Hour
)

// parseWindow reads the start/end query params (RFC 3339) and returns
// a half-open, hour-aligned window. Missing params default to the
// trailing span ending at the next hour boundary.
func parseWindow(r *http.Request, span time.Duration) (time.Time, time.Time, error) {
	q := r.URL.Query()
	now := time.Now().UTC()

	end := now.Truncate(time.Hour).Add(time.Hour)
	if raw := q.Get("end"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return time.Time{}, time.Time{}, errBadTime("end", raw)
		}
		end = t.UTC().Truncate(time.Hour)
	}

	start := end.Add(-span)
	if raw := q.Get("start"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return time.Time{}, time.Time{}, errBadTime("start", raw)
		}
		start = t.UTC().Truncate(time.Hour)
	}

	if !start.Before(end) {
		return time.Time{}, time.Time{}, errWindowInverted
	}
	return start, end, nil
}
