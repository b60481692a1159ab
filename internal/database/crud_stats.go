// Geolytics - Access Log Ingestion and Geographic Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geolytics

/*
crud_stats.go - Aggregate Maintenance and Dashboard Queries

RollupDaily aggregates one UTC day of hourly_stats into daily_stats.
Semantics mirror the hourly counters: sums for counters and bytes,
MAX for unique_countries (an additive per-batch figure that would
overcount across a day), average-of-hourly-averages for request time,
GREATEST-style MAX for max_request_time, and the hour with the most
requests as peak_hour. The daily upsert is a full replace so backfill
re-runs converge.

DeleteHourlyBefore implements retention: strictly-older rows go, the
cutoff hour itself stays.
*/
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/geolytics/internal/models"
)

// RollupDaily aggregates the hourly rows of one UTC day into
// daily_stats. Days with no hourly rows are skipped. Returns the
// number of hourly rows rolled up.
func (db *DB) RollupDaily(ctx context.Context, day time.Time) (int64, error) {
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.Add(24 * time.Hour)

	var (
		hourCount                              int64
		totalRequests, totalGeoEvents          int64
		uniqueIPs, uniqueCountries, totalBytes int64
		s2xx, s3xx, s4xx, s5xx, malformed      int64
		avgRequestTime, maxRequestTime         float64
	)

	err := db.conn.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(total_requests), 0),
		       COALESCE(SUM(total_geo_events), 0),
		       COALESCE(SUM(unique_ips), 0),
		       COALESCE(MAX(unique_countries), 0),
		       COALESCE(SUM(total_bytes_sent), 0),
		       COALESCE(SUM(status_2xx), 0),
		       COALESCE(SUM(status_3xx), 0),
		       COALESCE(SUM(status_4xx), 0),
		       COALESCE(SUM(status_5xx), 0),
		       COALESCE(AVG(avg_request_time), 0.0),
		       COALESCE(MAX(max_request_time), 0.0),
		       COALESCE(SUM(malformed_requests), 0)
		FROM hourly_stats
		WHERE hour >= ? AND hour < ?`, dayStart, dayEnd).Scan(
		&hourCount, &totalRequests, &totalGeoEvents, &uniqueIPs, &uniqueCountries,
		&totalBytes, &s2xx, &s3xx, &s4xx, &s5xx,
		&avgRequestTime, &maxRequestTime, &malformed)
	if err != nil {
		return 0, fmt.Errorf("rollup aggregate: %w", err)
	}

	if hourCount == 0 || totalRequests == 0 {
		return 0, nil
	}

	avgBytesPerRequest := float64(totalBytes) / float64(totalRequests)

	var peakHour sql.NullInt64
	var peakHourRequests int64
	err = db.conn.QueryRowContext(ctx, `
		SELECT CAST(EXTRACT(hour FROM hour) AS INTEGER), total_requests
		FROM hourly_stats
		WHERE hour >= ? AND hour < ?
		ORDER BY total_requests DESC, hour ASC
		LIMIT 1`, dayStart, dayEnd).Scan(&peakHour, &peakHourRequests)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("rollup peak hour: %w", err)
	}

	_, err = db.conn.ExecContext(ctx, `
		INSERT INTO daily_stats (
			date, total_requests, total_geo_events, unique_ips, unique_countries,
			total_bytes_sent, status_2xx, status_3xx, status_4xx, status_5xx,
			avg_request_time, max_request_time, malformed_requests,
			avg_bytes_per_request, peak_hour, peak_hour_requests
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (date) DO UPDATE SET
			total_requests = EXCLUDED.total_requests,
			total_geo_events = EXCLUDED.total_geo_events,
			unique_ips = EXCLUDED.unique_ips,
			unique_countries = EXCLUDED.unique_countries,
			total_bytes_sent = EXCLUDED.total_bytes_sent,
			status_2xx = EXCLUDED.status_2xx,
			status_3xx = EXCLUDED.status_3xx,
			status_4xx = EXCLUDED.status_4xx,
			status_5xx = EXCLUDED.status_5xx,
			avg_request_time = EXCLUDED.avg_request_time,
			max_request_time = EXCLUDED.max_request_time,
			malformed_requests = EXCLUDED.malformed_requests,
			avg_bytes_per_request = EXCLUDED.avg_bytes_per_request,
			peak_hour = EXCLUDED.peak_hour,
			peak_hour_requests = EXCLUDED.peak_hour_requests`,
		dayStart, totalRequests, totalGeoEvents, uniqueIPs, uniqueCountries,
		totalBytes, s2xx, s3xx, s4xx, s5xx,
		avgRequestTime, maxRequestTime, malformed,
		avgBytesPerRequest, peakHour, peakHourRequests)
	if err != nil {
		return 0, fmt.Errorf("upsert daily stats: %w", err)
	}

	return hourCount, nil
}

// DeleteHourlyBefore removes hourly rows strictly older than cutoff.
// A row whose hour equals the cutoff is kept.
func (db *DB) DeleteHourlyBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := db.conn.ExecContext(ctx,
		`DELETE FROM hourly_stats WHERE hour < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("hourly retention delete: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, nil //nolint:nilerr // driver may not report rows affected
	}
	return affected, nil
}

const hourlyColumns = `hour, total_requests, total_geo_events, unique_ips,
	unique_countries, total_bytes_sent, status_2xx, status_3xx, status_4xx,
	status_5xx, avg_request_time, max_request_time, malformed_requests`

// GetHourlyStats returns hourly rows in [start, end), oldest first.
func (db *DB) GetHourlyStats(ctx context.Context, start, end time.Time) ([]models.HourlyStats, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, `+hourlyColumns+` FROM hourly_stats
		 WHERE hour >= ? AND hour < ? ORDER BY hour`, start, end)
	if err != nil {
		return nil, fmt.Errorf("get hourly stats: %w", err)
	}
	defer closeWithLog(rows, "hourly stats rows")

	var out []models.HourlyStats
	for rows.Next() {
		var h models.HourlyStats
		if err := rows.Scan(&h.ID, &h.Hour, &h.TotalRequests, &h.TotalGeoEvents,
			&h.UniqueIPs, &h.UniqueCountries, &h.TotalBytesSent,
			&h.Status2xx, &h.Status3xx, &h.Status4xx, &h.Status5xx,
			&h.AvgRequestTime, &h.MaxRequestTime, &h.MalformedRequests); err != nil {
			return nil, fmt.Errorf("scan hourly stats: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// GetDailyStats returns daily rows in [start, end), oldest first.
func (db *DB) GetDailyStats(ctx context.Context, start, end time.Time) ([]models.DailyStats, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, date, total_requests, total_geo_events, unique_ips,
		       unique_countries, total_bytes_sent, status_2xx, status_3xx,
		       status_4xx, status_5xx, avg_request_time, max_request_time,
		       malformed_requests, avg_bytes_per_request, peak_hour, peak_hour_requests
		FROM daily_stats
		WHERE date >= ? AND date < ? ORDER BY date`, start, end)
	if err != nil {
		return nil, fmt.Errorf("get daily stats: %w", err)
	}
	defer closeWithLog(rows, "daily stats rows")

	var out []models.DailyStats
	for rows.Next() {
		var d models.DailyStats
		var peakHour sql.NullInt64
		if err := rows.Scan(&d.ID, &d.Date, &d.TotalRequests, &d.TotalGeoEvents,
			&d.UniqueIPs, &d.UniqueCountries, &d.TotalBytesSent,
			&d.Status2xx, &d.Status3xx, &d.Status4xx, &d.Status5xx,
			&d.AvgRequestTime, &d.MaxRequestTime, &d.MalformedRequests,
			&d.AvgBytesPerRequest, &peakHour, &d.PeakHourRequests); err != nil {
			return nil, fmt.Errorf("scan daily stats: %w", err)
		}
		if peakHour.Valid {
			ph := int(peakHour.Int64)
			d.PeakHour = &ph
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// GetSummary aggregates hourly_stats over [start, end) and compares
// total_requests against the preceding window of equal length.
func (db *DB) GetSummary(ctx context.Context, start, end time.Time) (*models.StatsSummary, error) {
	s := &models.StatsSummary{Start: start, End: end}

	err := db.conn.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(total_requests), 0),
		       COALESCE(SUM(total_geo_events), 0),
		       COALESCE(SUM(unique_ips), 0),
		       COALESCE(MAX(unique_countries), 0),
		       COALESCE(SUM(total_bytes_sent), 0),
		       COALESCE(SUM(status_2xx), 0),
		       COALESCE(SUM(status_3xx), 0),
		       COALESCE(SUM(status_4xx), 0),
		       COALESCE(SUM(status_5xx), 0),
		       COALESCE(AVG(avg_request_time), 0.0),
		       COALESCE(MAX(max_request_time), 0.0),
		       COALESCE(SUM(malformed_requests), 0)
		FROM hourly_stats
		WHERE hour >= ? AND hour < ?`, start, end).Scan(
		&s.TotalRequests, &s.TotalGeoEvents, &s.UniqueIPs, &s.UniqueCountries,
		&s.TotalBytesSent, &s.Status2xx, &s.Status3xx, &s.Status4xx, &s.Status5xx,
		&s.AvgRequestTime, &s.MaxRequestTime, &s.MalformedRequests)
	if err != nil {
		return nil, fmt.Errorf("summary aggregate: %w", err)
	}

	// Previous window of equal length, for trend display.
	prevStart := start.Add(-end.Sub(start))
	var prevRequests int64
	err = db.conn.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(total_requests), 0) FROM hourly_stats
		WHERE hour >= ? AND hour < ?`, prevStart, start).Scan(&prevRequests)
	if err != nil {
		return nil, fmt.Errorf("summary previous window: %w", err)
	}

	if prevRequests > 0 {
		pct := (float64(s.TotalRequests) - float64(prevRequests)) / float64(prevRequests) * 100.0
		s.RequestsChangePct = &pct
	}

	return s, nil
}

// GetExactSummary computes precise distincts from the raw tables.
// Slower than GetSummary; intended for occasional verification.
func (db *DB) GetExactSummary(ctx context.Context, start, end time.Time) (*models.ExactSummary, error) {
	s := &models.ExactSummary{Start: start, End: end}

	err := db.conn.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(DISTINCT ge.ip_address),
		       COUNT(DISTINCT gl.country_code),
		       COUNT(DISTINCT ge.location_id)
		FROM geo_events ge
		JOIN geo_locations gl ON gl.id = ge.location_id
		WHERE ge.timestamp >= ? AND ge.timestamp < ?`, start, end).Scan(
		&s.TotalGeoEvents, &s.UniqueIPs, &s.UniqueCountries, &s.UniqueLocations)
	if err != nil {
		return nil, fmt.Errorf("exact summary events: %w", err)
	}

	err = db.conn.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM access_logs
		WHERE timestamp >= ? AND timestamp < ?`, start, end).Scan(&s.TotalRequests)
	if err != nil {
		return nil, fmt.Errorf("exact summary logs: %w", err)
	}

	return s, nil
}
