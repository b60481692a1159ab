// Geolytics - Access Log Ingestion and Geographic Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geolytics

/*
service.go - Ingestion Pipeline Service

The single ingestion task: tail the access log, parse and classify
each line, enrich with GeoIP, dedupe locations, and accumulate rows
into the current batch. Commits fire on batch size, on the commit
interval (idle ticks from the tailer drive the time check), on an
hour boundary (so each hourly upsert targets exactly one bucket), and
once more on shutdown.

Commit failures drop the batch: the in-memory hourly metrics describe
exactly the rows in the failed transaction, so carrying either side
forward would desynchronize them. A circuit breaker around the commit
keeps a dead store from being hammered every five seconds.

Runs under the supervision tree; Serve returns ErrDoNotRestart for
startup failures a restart cannot fix (missing file, a log that not
even the ip-only recogniser can read). A failed format probe with full
capture enabled is softer: full capture is switched off and the
pipeline continues geo-only.
*/
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/thejerf/suture/v4"
	"golang.org/x/time/rate"

	"github.com/tomtom215/geolytics/internal/config"
	"github.com/tomtom215/geolytics/internal/database"
	"github.com/tomtom215/geolytics/internal/geoip"
	"github.com/tomtom215/geolytics/internal/logging"
	"github.com/tomtom215/geolytics/internal/logparser"
	"github.com/tomtom215/geolytics/internal/metrics"
	"github.com/tomtom215/geolytics/internal/models"
	"github.com/tomtom215/geolytics/internal/tailer"
)

const (
	defaultWaitForFile = 60 * time.Second
	fileProbeInterval  = time.Second
	// window at the end of the file inspected by the format probe
	probeTailBytes = 8192
	// grace period for the final commit after cancellation
	drainTimeout = 10 * time.Second
)

// GeoResolver resolves an IP to a location record, or nil when the IP
// is not publicly routable or unknown. *geoip.Resolver implements it.
type GeoResolver interface {
	Resolve(ip string) *geoip.Record
}

// Service is the ingestion pipeline, run under the supervision tree.
type Service struct {
	cfg      *config.LogParserConfig
	db       *database.DB
	resolver GeoResolver
	deduper  *Deduper
	parser   *logparser.Parser
	breaker  *gobreaker.CircuitBreaker[struct{}]
	hostname string

	// fullCapture mirrors cfg.SendLogs but can be switched off by the
	// startup format probe; read from the API goroutine via Status.
	fullCapture atomic.Bool

	// throttles unmatched-line warnings; scanners can produce
	// thousands of junk lines per second
	warnLimiter *rate.Limiter

	linesRead        atomic.Int64
	linesParsed      atomic.Int64
	linesSkipped     atomic.Int64
	linesMalformed   atomic.Int64
	batchesCommitted atomic.Int64
	batchesDropped   atomic.Int64
	lastCommitUnix   atomic.Int64
}

// NewService wires the pipeline. cacheCapacity sizes the location
// dedupe cache.
func NewService(cfg *config.LogParserConfig, db *database.DB, resolver GeoResolver, cacheCapacity int) *Service {
	hostname := cfg.Hostname
	if hostname == "" {
		hostname, _ = os.Hostname()
	}

	svc := &Service{
		cfg:      cfg,
		db:       db,
		resolver: resolver,
		deduper:  NewDeduper(db, cacheCapacity),
		parser:   logparser.New(cfg.SendLogs),
		hostname: hostname,
		breaker: gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
			Name:        "batch-commit",
			MaxRequests: 1,
			Interval:    60 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
		warnLimiter: rate.NewLimiter(rate.Every(time.Second), 5),
	}
	svc.fullCapture.Store(cfg.SendLogs)
	return svc
}

// String implements suture's service naming.
func (s *Service) String() string {
	return "ingest-pipeline"
}

// Status snapshots the live pipeline counters.
func (s *Service) Status() models.IngestStatus {
	st := models.IngestStatus{
		LinesRead:        s.linesRead.Load(),
		LinesParsed:      s.linesParsed.Load(),
		LinesSkipped:     s.linesSkipped.Load(),
		LinesMalformed:   s.linesMalformed.Load(),
		BatchesCommitted: s.batchesCommitted.Load(),
		BatchesDropped:   s.batchesDropped.Load(),
		FullLogCapture:   s.fullCapture.Load(),
	}
	if unix := s.lastCommitUnix.Load(); unix > 0 {
		t := time.Unix(unix, 0).UTC()
		st.LastCommitTime = &t
	}
	return st
}

// Serve runs the ingestion loop until ctx is cancelled.
func (s *Service) Serve(ctx context.Context) error {
	if err := s.waitForFile(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logging.Error().Err(err).Str("path", s.cfg.Path).Msg("Log file not available, ingestion disabled")
		return suture.ErrDoNotRestart
	}

	if !s.cfg.SkipValidation {
		if err := s.validateFormat(); err != nil {
			if !s.fullCapture.Load() {
				logging.Error().Err(err).Str("path", s.cfg.Path).Msg("Log format probe failed, ingestion disabled")
				return suture.ErrDoNotRestart
			}
			logging.Warn().Err(err).Str("path", s.cfg.Path).
				Msg("Log format probe failed, disabling full log capture and continuing geo-only")
			s.fullCapture.Store(false)
			s.parser = logparser.New(false)
		}
	}

	follow := tailer.New(s.cfg.Path, s.cfg.PollInterval, true)
	events, err := follow.Follow(ctx)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}

	logging.Info().
		Str("path", s.cfg.Path).
		Bool("full_log_capture", s.fullCapture.Load()).
		Int("batch_size", s.cfg.BatchSize).
		Dur("commit_interval", s.cfg.CommitInterval).
		Msg("Ingestion started")

	batch := newBatchState()
	lastCommit := time.Now()

	for ev := range events {
		if ctx.Err() != nil {
			break
		}

		if !ev.Idle {
			s.linesRead.Add(1)
			s.processLine(ctx, batch, &lastCommit, ev.Line)
		}

		if batch.records >= s.cfg.BatchSize ||
			(!batch.empty() && time.Since(lastCommit) >= s.cfg.CommitInterval) {
			s.commit(ctx, batch)
			batch = newBatchState()
			lastCommit = time.Now()
		}
		metrics.BatchRecordsPending.Set(float64(batch.records))
	}

	// Final drain: ctx is gone, give the commit its own deadline.
	if !batch.empty() {
		drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		defer cancel()
		s.commit(drainCtx, batch)
	}

	logging.Info().Msg("Ingestion stopped")
	return ctx.Err()
}

// processLine parses one line and folds it into the batch, committing
// first if the record crosses into a later hour.
func (s *Service) processLine(ctx context.Context, batch *batchState, lastCommit *time.Time, line string) {
	rec := s.parser.Parse(line)

	if !rec.Matched {
		s.linesSkipped.Add(1)
		metrics.LinesSkipped.Inc()
		if s.warnLimiter.Allow() {
			logging.Warn().Str("line", truncateLine(line)).Msg("Unparseable log line")
		}
		batch.observe(time.Now().UTC(), 0, 0, 0, "", true)
		batch.addDebug(models.AccessLogDebug{
			RawLine:     line,
			IsMalformed: true,
			ParseError:  rec.ParseError,
		})
		s.linesMalformed.Add(1)
		metrics.LinesMalformed.Inc()
		return
	}

	s.linesParsed.Add(1)
	metrics.LinesParsed.Inc()
	if rec.Malformed {
		s.linesMalformed.Add(1)
		metrics.LinesMalformed.Inc()
	}

	if batch.needsRebase(rec.Timestamp) && !batch.empty() {
		s.commit(ctx, batch)
		*batch = *newBatchState()
		*lastCommit = time.Now()
	}

	batch.observe(rec.Timestamp, rec.Status, rec.BytesSent, rec.RequestTime, rec.IPAddress, rec.Malformed)

	geo := s.resolver.Resolve(rec.IPAddress)
	if geo != nil {
		locID, err := s.deduper.GetOrCreate(ctx, geo)
		if err != nil {
			logging.Error().Err(err).Str("geohash", geo.Geohash).Msg("Location dedupe failed")
		} else {
			batch.addEvent(models.GeoEvent{
				LocationID: locID,
				IPAddress:  rec.IPAddress,
				Timestamp:  rec.Timestamp,
				UserAgent:  rec.UserAgent,
				RequestURL: rec.URL,
				Hostname:   s.hostname,
			}, geo.CountryCode)
		}
	}

	var logRow *database.LogRecord
	if s.fullCapture.Load() && geo != nil && !rec.Malformed {
		logRow = &database.LogRecord{Log: models.AccessLog{
			IPAddress:   rec.IPAddress,
			RemoteUser:  rec.RemoteUser,
			Timestamp:   rec.Timestamp,
			Method:      rec.Method,
			URL:         rec.URL,
			HTTPVersion: rec.HTTPVersion,
			Status:      rec.Status,
			BytesSent:   rec.BytesSent,
			Referrer:    rec.Referrer,
			UserAgent:   rec.UserAgent,
			RequestTime: rec.RequestTime,
			ConnectTime: rec.ConnectTime,
			Hostname:    rec.Host,
			Country:     geo.CountryName,
			City:        geo.City,
		}}
	}

	if s.cfg.StoreDebugLines || rec.Malformed {
		debug := models.AccessLogDebug{
			RawLine:     line,
			IsMalformed: rec.Malformed,
			ParseError:  rec.ParseError,
		}
		if logRow != nil {
			// FK is filled in from RETURNING id inside the transaction.
			logRow.Debug = &debug
		} else {
			batch.addDebug(debug)
		}
	}

	if logRow != nil {
		batch.addLog(*logRow)
	}
}

// commit flushes the batch through the circuit breaker. Failures drop
// the batch; the loop continues with a fresh one.
func (s *Service) commit(ctx context.Context, batch *batchState) {
	payload := batch.build()
	if payload.Empty() {
		return
	}

	_, err := s.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, s.db.CommitBatch(ctx, payload)
	})
	if err != nil {
		s.batchesDropped.Add(1)
		metrics.BatchCommitErrors.Inc()
		logging.Error().Err(err).
			Int("records", batch.records).
			Time("hour", batch.hour).
			Msg("Batch commit failed, dropping batch")
		return
	}

	s.batchesCommitted.Add(1)
	s.lastCommitUnix.Store(time.Now().Unix())
	metrics.BatchCommits.Inc()
	logging.Debug().
		Int("records", batch.records).
		Int("events", len(payload.Events)).
		Int("logs", len(payload.Logs)).
		Msg("Batch committed")
}

// waitForFile blocks until the log file exists, up to the configured
// startup budget.
func (s *Service) waitForFile(ctx context.Context) error {
	wait := s.cfg.WaitForFile
	if wait <= 0 {
		wait = defaultWaitForFile
	}

	deadline := time.Now().Add(wait)
	for {
		if _, err := os.Stat(s.cfg.Path); err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("log file %s did not appear within %s", s.cfg.Path, wait)
		}
		select {
		case <-time.After(fileProbeInterval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// validateFormat probes the last lines of the file against the active
// recogniser. An empty file passes; there is nothing to disprove yet.
func (s *Service) validateFormat() error {
	lines, err := tailLines(s.cfg.Path, 3)
	if err != nil {
		return fmt.Errorf("format probe: %w", err)
	}
	if len(lines) == 0 {
		logging.Info().Str("path", s.cfg.Path).Msg("Log file empty, skipping format probe")
		return nil
	}

	for _, line := range lines {
		if s.parser.Valid(line) {
			return nil
		}
	}
	return fmt.Errorf("none of the last %d lines match the expected log format", len(lines))
}

// tailLines returns up to n complete non-empty lines from the end of
// the file, reading at most probeTailBytes.
func tailLines(path string, n int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}

	offset := fi.Size() - probeTailBytes
	if offset < 0 {
		offset = 0
	}
	buf := make([]byte, fi.Size()-offset)
	if _, err := f.ReadAt(buf, offset); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}

	raw := strings.Split(strings.TrimRight(string(buf), "\n"), "\n")
	if offset > 0 && len(raw) > 0 {
		// First chunk line may be a fragment of a longer line.
		raw = raw[1:]
	}

	var lines []string
	for _, l := range raw {
		if strings.TrimSpace(l) != "" {
			lines = append(lines, l)
		}
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines, nil
}

func truncateLine(line string) string {
	const max = 200
	if len(line) <= max {
		return line
	}
	return line[:max] + "..."
}
