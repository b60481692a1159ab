// Geolytics - Access Log Ingestion and Geographic Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geolytics

/*
crud_batch.go - Batched Ingest Transaction

CommitBatch writes one ingest batch atomically: geo events, access
logs (plus their debug rows), standalone debug rows, and the hourly
stats upsert all commit or roll back together. A failed batch is
dropped by the caller, so partial writes must never be visible.

The hourly upsert is a single INSERT ... ON CONFLICT (hour) DO UPDATE:
counters add, max_request_time takes GREATEST, and avg_request_time is
recomputed as a weighted running average from the batch's request-time
sum. coalesce(..., nullif(...)) keeps the division safe when both the
existing row and the batch carry zero requests.
*/
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/tomtom215/geolytics/internal/logging"
	"github.com/tomtom215/geolytics/internal/metrics"
	"github.com/tomtom215/geolytics/internal/models"
)

// LogRecord pairs an access log row with its optional debug row. The
// debug row's FK is only known after the log insert returns its id.
type LogRecord struct {
	Log   models.AccessLog
	Debug *models.AccessLogDebug
}

// HourlyIncrement carries the per-batch aggregate folded into
// hourly_stats. RequestTimeSum is the raw sum backing the weighted
// average; AvgRequestTime is the batch-local average used on first
// insert of the hour.
type HourlyIncrement struct {
	models.HourlyStats
	RequestTimeSum float64
}

// Batch is one unit of work for CommitBatch.
type Batch struct {
	Events []models.GeoEvent
	Logs   []LogRecord
	// Debug holds raw lines with no access_logs row (malformed probes).
	Debug  []models.AccessLogDebug
	Hourly *HourlyIncrement
}

// Empty reports whether the batch carries no rows at all.
func (b *Batch) Empty() bool {
	return len(b.Events) == 0 && len(b.Logs) == 0 && len(b.Debug) == 0 &&
		(b.Hourly == nil || b.Hourly.isZero())
}

func (h *HourlyIncrement) isZero() bool {
	return h.TotalRequests == 0 && h.TotalGeoEvents == 0 && h.MalformedRequests == 0
}

// CommitBatch writes the batch in a single transaction. A DuckDB
// transaction conflict (the scheduler's retention delete racing the
// hourly upsert) is retried once; any other failure is final.
func (db *DB) CommitBatch(ctx context.Context, batch *Batch) error {
	if batch == nil || batch.Empty() {
		return nil
	}

	start := time.Now()

	err := db.commitBatchTx(ctx, batch)
	if isTransactionConflict(err) {
		logging.Warn().Err(err).Msg("Batch transaction conflict, retrying once")
		err = db.commitBatchTx(ctx, batch)
	}
	if err != nil {
		return err
	}

	metrics.BatchCommitDuration.Observe(time.Since(start).Seconds())
	return nil
}

func (db *DB) commitBatchTx(ctx context.Context, batch *Batch) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch tx: %w", err)
	}
	// Rollback is a no-op after Commit.
	defer func() { _ = tx.Rollback() }()

	if err := insertEvents(ctx, tx, batch.Events); err != nil {
		return err
	}
	if err := insertLogs(ctx, tx, batch.Logs); err != nil {
		return err
	}
	for i := range batch.Debug {
		if err := insertDebug(ctx, tx, nil, &batch.Debug[i]); err != nil {
			return err
		}
	}
	if batch.Hourly != nil && !batch.Hourly.isZero() {
		if err := upsertHourly(ctx, tx, batch.Hourly); err != nil {
			return err
		}
		metrics.HourlyUpserts.Inc()
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

func insertEvents(ctx context.Context, tx *sql.Tx, events []models.GeoEvent) error {
	if len(events) == 0 {
		return nil
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO geo_events (location_id, ip_address, timestamp, user_agent, request_url, hostname)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare event insert: %w", err)
	}
	defer closeQuietly(stmt)

	for i := range events {
		e := &events[i]
		if _, err := stmt.ExecContext(ctx, e.LocationID, e.IPAddress, e.Timestamp,
			e.UserAgent, e.RequestURL, e.Hostname); err != nil {
			return fmt.Errorf("insert geo event: %w", err)
		}
	}
	return nil
}

func insertLogs(ctx context.Context, tx *sql.Tx, logs []LogRecord) error {
	for i := range logs {
		rec := &logs[i]
		l := &rec.Log
		if l.CreatedAt.IsZero() {
			l.CreatedAt = time.Now().UTC()
		}

		var connectTime sql.NullFloat64
		if l.ConnectTime != nil {
			connectTime = sql.NullFloat64{Float64: *l.ConnectTime, Valid: true}
		}

		var id int64
		err := tx.QueryRowContext(ctx, `
			INSERT INTO access_logs (
				ip_address, remote_user, timestamp, method, url, http_version, status,
				bytes_sent, referrer, user_agent, request_time, connect_time,
				hostname, country, city, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			RETURNING id`,
			l.IPAddress, l.RemoteUser, l.Timestamp, l.Method, l.URL, l.HTTPVersion, l.Status,
			l.BytesSent, l.Referrer, l.UserAgent, l.RequestTime, connectTime,
			l.Hostname, l.Country, l.City, l.CreatedAt,
		).Scan(&id)
		if err != nil {
			return fmt.Errorf("insert access log: %w", err)
		}
		l.ID = id

		if rec.Debug != nil {
			if err := insertDebug(ctx, tx, &id, rec.Debug); err != nil {
				return err
			}
		}
	}
	return nil
}

func insertDebug(ctx context.Context, tx *sql.Tx, accessLogID *int64, d *models.AccessLogDebug) error {
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}

	var fk sql.NullInt64
	if accessLogID != nil {
		fk = sql.NullInt64{Int64: *accessLogID, Valid: true}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO access_log_debug (access_log_id, raw_line, is_malformed, parse_error, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		fk, d.RawLine, d.IsMalformed, d.ParseError, d.CreatedAt); err != nil {
		return fmt.Errorf("insert debug line: %w", err)
	}
	return nil
}

// upsertHourly folds one batch into its hour's row atomically.
func upsertHourly(ctx context.Context, tx *sql.Tx, inc *HourlyIncrement) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO hourly_stats (
			hour, total_requests, total_geo_events, unique_ips, unique_countries,
			total_bytes_sent, status_2xx, status_3xx, status_4xx, status_5xx,
			avg_request_time, max_request_time, malformed_requests
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (hour) DO UPDATE SET
			total_requests = hourly_stats.total_requests + EXCLUDED.total_requests,
			total_geo_events = hourly_stats.total_geo_events + EXCLUDED.total_geo_events,
			unique_ips = hourly_stats.unique_ips + EXCLUDED.unique_ips,
			unique_countries = hourly_stats.unique_countries + EXCLUDED.unique_countries,
			total_bytes_sent = hourly_stats.total_bytes_sent + EXCLUDED.total_bytes_sent,
			status_2xx = hourly_stats.status_2xx + EXCLUDED.status_2xx,
			status_3xx = hourly_stats.status_3xx + EXCLUDED.status_3xx,
			status_4xx = hourly_stats.status_4xx + EXCLUDED.status_4xx,
			status_5xx = hourly_stats.status_5xx + EXCLUDED.status_5xx,
			avg_request_time = COALESCE(
				(hourly_stats.avg_request_time * hourly_stats.total_requests + ?) /
				NULLIF(hourly_stats.total_requests + EXCLUDED.total_requests, 0),
				0.0),
			max_request_time = GREATEST(hourly_stats.max_request_time, EXCLUDED.max_request_time),
			malformed_requests = hourly_stats.malformed_requests + EXCLUDED.malformed_requests`,
		inc.Hour, inc.TotalRequests, inc.TotalGeoEvents, inc.UniqueIPs, inc.UniqueCountries,
		inc.TotalBytesSent, inc.Status2xx, inc.Status3xx, inc.Status4xx, inc.Status5xx,
		inc.AvgRequestTime, inc.MaxRequestTime, inc.MalformedRequests,
		inc.RequestTimeSum,
	)
	if err != nil {
		return fmt.Errorf("upsert hourly stats: %w", err)
	}
	return nil
}

// CountEvents returns total geo_events rows; used by tests and the
// exact summary endpoint.
func (db *DB) CountEvents(ctx context.Context) (int64, error) {
	var n int64
	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM geo_events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}
