// Geolytics - Access Log Ingestion and Geographic Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geolytics

// Package metrics provides Prometheus instrumentation for the ingest
// pipeline, the DuckDB store, and the HTTP API. All collectors are
// registered with the default registry via promauto and exposed on
// /metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Tailer metrics
	LinesRead = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tailer_lines_read_total",
			Help: "Total lines emitted by the log tailer",
		},
	)

	RotationReopens = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tailer_rotation_reopens_total",
			Help: "Times the tailer reopened the log after rotation or truncation",
		},
	)

	// Parser metrics
	LinesParsed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "parser_lines_parsed_total",
			Help: "Lines that matched the access log format",
		},
	)

	LinesSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "parser_lines_skipped_total",
			Help: "Lines that matched no known format and were skipped",
		},
	)

	LinesMalformed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "parser_lines_malformed_total",
			Help: "Lines classified as malformed requests or scanner probes",
		},
	)

	// GeoIP metrics, result is one of: hit, miss, ineligible, error
	GeoIPLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geoip_lookups_total",
			Help: "GeoIP lookups by result",
		},
		[]string{"result"},
	)

	// Location dedupe cache
	LocationCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "location_cache_hits_total",
			Help: "Geohash dedupe cache hits",
		},
	)

	LocationCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "location_cache_misses_total",
			Help: "Geohash dedupe cache misses",
		},
	)

	// Persister metrics
	BatchCommits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ingest_batch_commits_total",
			Help: "Successfully committed batches",
		},
	)

	BatchCommitErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ingest_batch_commit_errors_total",
			Help: "Batches dropped after a failed transaction",
		},
	)

	BatchCommitDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ingest_batch_commit_duration_seconds",
			Help:    "Duration of batch commit transactions",
			Buckets: prometheus.DefBuckets,
		},
	)

	BatchRecordsPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ingest_batch_records_pending",
			Help: "Records accumulated in the open batch",
		},
	)

	// Aggregation metrics
	HourlyUpserts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hourly_stats_upserts_total",
			Help: "Atomic hourly_stats upserts executed",
		},
	)

	SchedulerJobRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_job_runs_total",
			Help: "Scheduler job executions by job and outcome",
		},
		[]string{"job", "outcome"}, // job: rollup, retention, location_refresh; outcome: success, error
	)

	// API metrics
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request latency by route and status",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "status"},
	)
)

// ObserveAPIRequest records one HTTP request observation.
func ObserveAPIRequest(route string, status int, duration time.Duration) {
	APIRequestDuration.WithLabelValues(route, strconv.Itoa(status)).Observe(duration.Seconds())
}

// RecordJobRun records a scheduler job outcome.
func RecordJobRun(job string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	SchedulerJobRuns.WithLabelValues(job, outcome).Inc()
}
