// Geolytics - Access Log Ingestion and Geographic Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geolytics

package models

import (
	"time"
)

// HourlyStats is one pre-aggregated row per UTC hour. Counters are
// additive across batch upserts; AvgRequestTime is a running weighted
// average and MaxRequestTime a running maximum.
//
// UniqueIPs and UniqueCountries are per-batch-distinct sums, not true
// hour-wide distincts: an IP active across two batches in the same
// hour counts twice. The /stats/summary/exact endpoint computes true
// distincts from the raw tables when precision matters.
type HourlyStats struct {
	ID                int64     `json:"id"`
	Hour              time.Time `json:"hour"`
	TotalRequests     int64     `json:"total_requests"`
	TotalGeoEvents    int64     `json:"total_geo_events"`
	UniqueIPs         int64     `json:"unique_ips"`
	UniqueCountries   int64     `json:"unique_countries"`
	TotalBytesSent    int64     `json:"total_bytes_sent"`
	Status2xx         int64     `json:"status_2xx"`
	Status3xx         int64     `json:"status_3xx"`
	Status4xx         int64     `json:"status_4xx"`
	Status5xx         int64     `json:"status_5xx"`
	AvgRequestTime    float64   `json:"avg_request_time"`
	MaxRequestTime    float64   `json:"max_request_time"`
	MalformedRequests int64     `json:"malformed_requests"`
}

// DailyStats is the rollup of one UTC day's hourly rows, written by
// the scheduler shortly after midnight. The upsert is a full replace,
// so re-running a rollup (backfill) converges to the same values.
type DailyStats struct {
	ID                 int64     `json:"id"`
	Date               time.Time `json:"date"`
	TotalRequests      int64     `json:"total_requests"`
	TotalGeoEvents     int64     `json:"total_geo_events"`
	UniqueIPs          int64     `json:"unique_ips"`
	UniqueCountries    int64     `json:"unique_countries"`
	TotalBytesSent     int64     `json:"total_bytes_sent"`
	Status2xx          int64     `json:"status_2xx"`
	Status3xx          int64     `json:"status_3xx"`
	Status4xx          int64     `json:"status_4xx"`
	Status5xx          int64     `json:"status_5xx"`
	AvgRequestTime     float64   `json:"avg_request_time"`
	MaxRequestTime     float64   `json:"max_request_time"`
	MalformedRequests  int64     `json:"malformed_requests"`
	AvgBytesPerRequest float64   `json:"avg_bytes_per_request"`
	PeakHour           *int      `json:"peak_hour,omitempty"`
	PeakHourRequests   int64     `json:"peak_hour_requests"`
}

// StatsSummary aggregates a time window for the dashboard, with a
// comparison against the immediately preceding window of equal length.
type StatsSummary struct {
	Start             time.Time `json:"start"`
	End               time.Time `json:"end"`
	TotalRequests     int64     `json:"total_requests"`
	TotalGeoEvents    int64     `json:"total_geo_events"`
	UniqueIPs         int64     `json:"unique_ips"`
	UniqueCountries   int64     `json:"unique_countries"`
	TotalBytesSent    int64     `json:"total_bytes_sent"`
	Status2xx         int64     `json:"status_2xx"`
	Status3xx         int64     `json:"status_3xx"`
	Status4xx         int64     `json:"status_4xx"`
	Status5xx         int64     `json:"status_5xx"`
	AvgRequestTime    float64   `json:"avg_request_time"`
	MaxRequestTime    float64   `json:"max_request_time"`
	MalformedRequests int64     `json:"malformed_requests"`
	RequestsChangePct *float64  `json:"requests_change_pct,omitempty"`
}

// ExactSummary is computed with COUNT/COUNT(DISTINCT ...) over the raw
// geo_events and access_logs tables. Slower but precise.
type ExactSummary struct {
	Start           time.Time `json:"start"`
	End             time.Time `json:"end"`
	TotalRequests   int64     `json:"total_requests"`
	TotalGeoEvents  int64     `json:"total_geo_events"`
	UniqueIPs       int64     `json:"unique_ips"`
	UniqueCountries int64     `json:"unique_countries"`
	UniqueLocations int64     `json:"unique_locations"`
}

// TopLocation is one row of the locations leaderboard.
type TopLocation struct {
	Location   GeoLocation `json:"location"`
	EventCount int64       `json:"event_count"`
	LastEvent  *time.Time  `json:"last_event,omitempty"`
}
