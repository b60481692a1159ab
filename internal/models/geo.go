// Geolytics - Access Log Ingestion and Geographic Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geolytics

// Package models defines data structures used throughout the Geolytics application.
// These models represent deduplicated locations, geo events, access log records,
// pre-aggregated statistics, and API responses.

package models

import (
	"time"
)

// GeoLocation represents a deduplicated geographic location.
//
// Locations are keyed by a precision-12 geohash of the GeoIP coordinates,
// so every event resolving to the same coordinates shares one row. The
// geohash column carries a UNIQUE constraint; concurrent inserts of the
// same location are resolved by re-reading the winner.
//
// LastHit is intentionally NOT maintained on the ingest hot path. It is
// refreshed periodically by the scheduler with a single set-based UPDATE
// so that per-event writes never touch this table.
type GeoLocation struct {
	ID          int64      `json:"id"`
	Geohash     string     `json:"geohash"`
	Latitude    float64    `json:"latitude"`
	Longitude   float64    `json:"longitude"`
	CountryCode string     `json:"country_code,omitempty"`
	CountryName string     `json:"country_name,omitempty"`
	State       string     `json:"state,omitempty"`
	StateCode   string     `json:"state_code,omitempty"`
	City        string     `json:"city,omitempty"`
	PostalCode  string     `json:"postal_code,omitempty"`
	Timezone    string     `json:"timezone,omitempty"`
	FirstSeen   time.Time  `json:"first_seen"`
	LastHit     *time.Time `json:"last_hit,omitempty"`
}

// GeoEvent represents one enriched request: a public client IP that
// resolved to a location at a point in time.
type GeoEvent struct {
	ID         int64     `json:"id"`
	LocationID int64     `json:"location_id"`
	IPAddress  string    `json:"ip_address"`
	Timestamp  time.Time `json:"timestamp"`
	UserAgent  string    `json:"user_agent,omitempty"`
	RequestURL string    `json:"request_url,omitempty"`
	Hostname   string    `json:"hostname,omitempty"`
}

// AccessLog represents a fully parsed, well-formed access log line.
// Country and city are denormalized snapshots of the GeoIP answer at
// ingest time; they do not reference geo_locations.
//
// ConnectTime is nil when nginx logged "-" (no upstream connect).
type AccessLog struct {
	ID          int64      `json:"id"`
	IPAddress   string     `json:"ip_address"`
	RemoteUser  string     `json:"remote_user,omitempty"`
	Timestamp   time.Time  `json:"timestamp"`
	Method      string     `json:"method,omitempty"`
	URL         string     `json:"url,omitempty"`
	HTTPVersion string     `json:"http_version,omitempty"`
	Status      int        `json:"status"`
	BytesSent   int64      `json:"bytes_sent"`
	Referrer    string     `json:"referrer,omitempty"`
	UserAgent   string     `json:"user_agent,omitempty"`
	RequestTime float64    `json:"request_time"`
	ConnectTime *float64   `json:"connect_time,omitempty"`
	Hostname    string     `json:"hostname,omitempty"`
	Country     string     `json:"country,omitempty"`
	City        string     `json:"city,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// AccessLogDebug holds the raw line and classifier verdict for a
// malformed or otherwise suspicious request. AccessLogID is nil for
// probes that never produced an access_logs row (the common case).
type AccessLogDebug struct {
	ID          int64     `json:"id"`
	AccessLogID *int64    `json:"access_log_id,omitempty"`
	RawLine     string    `json:"raw_line"`
	IsMalformed bool      `json:"is_malformed"`
	ParseError  string    `json:"parse_error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
