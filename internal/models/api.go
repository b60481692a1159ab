// Geolytics - Access Log Ingestion and Geographic Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geolytics

package models

import (
	"time"
)

// APIResponse is the standardized wrapper used by all HTTP endpoints.
//
// Status field values:
//   - "success": Request completed, see Data
//   - "error": Request failed, see Error
type APIResponse struct {
	Status   string      `json:"status"`
	Data     interface{} `json:"data"`
	Metadata Metadata    `json:"metadata"`
	Error    *APIError   `json:"error,omitempty"`
}

// Metadata contains response metadata for observability.
type Metadata struct {
	Timestamp   time.Time `json:"timestamp"`
	QueryTimeMS int64     `json:"query_time_ms"`
	Degraded    bool      `json:"degraded,omitempty"`
}

// APIError provides a machine-readable error code plus a human message.
type APIError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// HealthStatus is the health check payload.
type HealthStatus struct {
	Status            string  `json:"status"` // "healthy" or "degraded"
	Version           string  `json:"version"`
	DatabaseConnected bool    `json:"database_connected"`
	GeoIPLoaded       bool    `json:"geoip_loaded"`
	Uptime            float64 `json:"uptime_seconds"`
}

// IngestStatus reports live pipeline counters for /api/v1/ingest/status.
type IngestStatus struct {
	LinesRead        int64      `json:"lines_read"`
	LinesParsed      int64      `json:"lines_parsed"`
	LinesSkipped     int64      `json:"lines_skipped"`
	LinesMalformed   int64      `json:"lines_malformed"`
	BatchesCommitted int64      `json:"batches_committed"`
	BatchesDropped   int64      `json:"batches_dropped"`
	LastCommitTime   *time.Time `json:"last_commit_time,omitempty"`
	FullLogCapture   bool       `json:"full_log_capture"`
}
