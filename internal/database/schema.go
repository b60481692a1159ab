// Geolytics - Access Log Ingestion and Geographic Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geolytics

/*
schema.go - DuckDB Schema

Six tables:

  geo_locations   deduplicated locations, UNIQUE(geohash) precision 12
  geo_events      one row per enriched request, FK to geo_locations
  access_logs     full parsed lines (denormalized country/city snapshot)
  access_log_debug raw malformed lines, optional UNIQUE FK to access_logs
  hourly_stats    pre-aggregated counters, UNIQUE(hour)
  daily_stats     rollup of hourly rows, UNIQUE(date)

BIGINT ids come from per-table sequences so inserts can use
RETURNING id. All DDL is idempotent (IF NOT EXISTS) and re-run on
every startup.
*/
package database

import (
	"context"
	"fmt"
)

// schemaStatements are executed in order at startup.
var schemaStatements = []string{
	`CREATE SEQUENCE IF NOT EXISTS geo_locations_id_seq`,
	`CREATE SEQUENCE IF NOT EXISTS geo_events_id_seq`,
	`CREATE SEQUENCE IF NOT EXISTS access_logs_id_seq`,
	`CREATE SEQUENCE IF NOT EXISTS access_log_debug_id_seq`,
	`CREATE SEQUENCE IF NOT EXISTS hourly_stats_id_seq`,
	`CREATE SEQUENCE IF NOT EXISTS daily_stats_id_seq`,

	`CREATE TABLE IF NOT EXISTS geo_locations (
		id BIGINT PRIMARY KEY DEFAULT nextval('geo_locations_id_seq'),
		geohash VARCHAR(12) NOT NULL UNIQUE,
		latitude DOUBLE NOT NULL,
		longitude DOUBLE NOT NULL,
		country_code VARCHAR,
		country_name VARCHAR,
		state VARCHAR,
		state_code VARCHAR,
		city VARCHAR,
		postal_code VARCHAR,
		timezone VARCHAR,
		first_seen TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		last_hit TIMESTAMP
	)`,

	`CREATE TABLE IF NOT EXISTS geo_events (
		id BIGINT PRIMARY KEY DEFAULT nextval('geo_events_id_seq'),
		location_id BIGINT NOT NULL REFERENCES geo_locations(id),
		ip_address VARCHAR NOT NULL,
		timestamp TIMESTAMP NOT NULL,
		user_agent VARCHAR,
		request_url VARCHAR,
		hostname VARCHAR
	)`,
	`CREATE INDEX IF NOT EXISTS idx_geo_events_timestamp ON geo_events(timestamp)`,
	`CREATE INDEX IF NOT EXISTS idx_geo_events_location_id ON geo_events(location_id)`,

	`CREATE TABLE IF NOT EXISTS access_logs (
		id BIGINT PRIMARY KEY DEFAULT nextval('access_logs_id_seq'),
		ip_address VARCHAR NOT NULL,
		remote_user VARCHAR,
		timestamp TIMESTAMP NOT NULL,
		method VARCHAR,
		url VARCHAR,
		http_version VARCHAR,
		status SMALLINT NOT NULL DEFAULT 0,
		bytes_sent BIGINT NOT NULL DEFAULT 0,
		referrer VARCHAR,
		user_agent VARCHAR,
		request_time DOUBLE NOT NULL DEFAULT 0.0,
		connect_time DOUBLE,
		hostname VARCHAR,
		country VARCHAR,
		city VARCHAR,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_access_logs_timestamp ON access_logs(timestamp)`,
	`CREATE INDEX IF NOT EXISTS idx_access_logs_status ON access_logs(status)`,

	`CREATE TABLE IF NOT EXISTS access_log_debug (
		id BIGINT PRIMARY KEY DEFAULT nextval('access_log_debug_id_seq'),
		access_log_id BIGINT UNIQUE REFERENCES access_logs(id),
		raw_line VARCHAR NOT NULL,
		is_malformed BOOLEAN NOT NULL DEFAULT false,
		parse_error VARCHAR,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,

	`CREATE TABLE IF NOT EXISTS hourly_stats (
		id BIGINT PRIMARY KEY DEFAULT nextval('hourly_stats_id_seq'),
		hour TIMESTAMP NOT NULL UNIQUE,
		total_requests BIGINT NOT NULL DEFAULT 0,
		total_geo_events BIGINT NOT NULL DEFAULT 0,
		unique_ips BIGINT NOT NULL DEFAULT 0,
		unique_countries BIGINT NOT NULL DEFAULT 0,
		total_bytes_sent BIGINT NOT NULL DEFAULT 0,
		status_2xx BIGINT NOT NULL DEFAULT 0,
		status_3xx BIGINT NOT NULL DEFAULT 0,
		status_4xx BIGINT NOT NULL DEFAULT 0,
		status_5xx BIGINT NOT NULL DEFAULT 0,
		avg_request_time DOUBLE NOT NULL DEFAULT 0.0,
		max_request_time DOUBLE NOT NULL DEFAULT 0.0,
		malformed_requests BIGINT NOT NULL DEFAULT 0
	)`,

	`CREATE TABLE IF NOT EXISTS daily_stats (
		id BIGINT PRIMARY KEY DEFAULT nextval('daily_stats_id_seq'),
		date DATE NOT NULL UNIQUE,
		total_requests BIGINT NOT NULL DEFAULT 0,
		total_geo_events BIGINT NOT NULL DEFAULT 0,
		unique_ips BIGINT NOT NULL DEFAULT 0,
		unique_countries BIGINT NOT NULL DEFAULT 0,
		total_bytes_sent BIGINT NOT NULL DEFAULT 0,
		status_2xx BIGINT NOT NULL DEFAULT 0,
		status_3xx BIGINT NOT NULL DEFAULT 0,
		status_4xx BIGINT NOT NULL DEFAULT 0,
		status_5xx BIGINT NOT NULL DEFAULT 0,
		avg_request_time DOUBLE NOT NULL DEFAULT 0.0,
		max_request_time DOUBLE NOT NULL DEFAULT 0.0,
		malformed_requests BIGINT NOT NULL DEFAULT 0,
		avg_bytes_per_request DOUBLE NOT NULL DEFAULT 0.0,
		peak_hour INTEGER,
		peak_hour_requests BIGINT NOT NULL DEFAULT 0
	)`,
}

// createSchema runs all schema statements.
func (db *DB) createSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}
	return nil
}
