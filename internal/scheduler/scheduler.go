// Geolytics - Access Log Ingestion and Geographic Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geolytics

/*
scheduler.go - Maintenance Job Scheduler

Three timer-driven jobs run against the store, each in its own
short-lived transaction, all on UTC wall time:

  - daily rollup of yesterday's hourly buckets (cron, default 00:05)
  - hourly_stats retention sweep, same cadence as the rollup
  - set-based geo_locations.last_hit refresh (interval, default 1h)

Job failures are logged and recorded in metrics; the next scheduled
run retries naturally. A configured backfill re-rolls the last N days
once at startup, which makes the service converge after downtime
because the daily upsert is a full replace.
*/
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/tomtom215/geolytics/internal/config"
	"github.com/tomtom215/geolytics/internal/database"
	"github.com/tomtom215/geolytics/internal/logging"
	"github.com/tomtom215/geolytics/internal/metrics"
)

// Scheduler owns the cron runner and its jobs.
type Scheduler struct {
	cfg       *config.SchedulerConfig
	analytics *config.AnalyticsConfig
	db        *database.DB
	cron      *cron.Cron
	now       func() time.Time
}

// New builds a scheduler; Serve starts it.
func New(cfg *config.SchedulerConfig, analytics *config.AnalyticsConfig, db *database.DB) *Scheduler {
	return &Scheduler{
		cfg:       cfg,
		analytics: analytics,
		db:        db,
		cron:      cron.New(cron.WithLocation(time.UTC)),
		now:       time.Now,
	}
}

// String implements suture's service naming.
func (s *Scheduler) String() string {
	return "scheduler"
}

// Serve registers the jobs, runs the startup backfill, and blocks
// until ctx is cancelled.
func (s *Scheduler) Serve(ctx context.Context) error {
	rollupSpec := fmt.Sprintf("%d %d * * *", s.cfg.RollupMinute, s.cfg.RollupHour)
	if _, err := s.cron.AddFunc(rollupSpec, func() {
		s.runRollup(ctx)
		s.runRetention(ctx)
	}); err != nil {
		return fmt.Errorf("register rollup job: %w", err)
	}

	refreshSpec := fmt.Sprintf("@every %s", s.cfg.LocationRefreshInterval)
	if _, err := s.cron.AddFunc(refreshSpec, func() {
		s.runLocationRefresh(ctx)
	}); err != nil {
		return fmt.Errorf("register location refresh job: %w", err)
	}

	if s.cfg.BackfillDays > 0 {
		end := s.today().AddDate(0, 0, -1)
		start := end.AddDate(0, 0, -(s.cfg.BackfillDays - 1))
		if err := s.Backfill(ctx, start, end); err != nil {
			logging.Error().Err(err).Msg("Startup backfill failed")
		}
	}

	logging.Info().
		Str("rollup", rollupSpec).
		Str("location_refresh", refreshSpec).
		Msg("Scheduler started")

	s.cron.Start()
	<-ctx.Done()

	// Wait for any in-flight job before returning.
	<-s.cron.Stop().Done()
	logging.Info().Msg("Scheduler stopped")
	return ctx.Err()
}

// Backfill rolls up every date in [start, end] inclusive. Dates are
// truncated to UTC midnight.
func (s *Scheduler) Backfill(ctx context.Context, start, end time.Time) error {
	start = truncateDay(start)
	end = truncateDay(end)
	if end.Before(start) {
		return fmt.Errorf("backfill range inverted: %s after %s", start.Format("2006-01-02"), end.Format("2006-01-02"))
	}

	var days, rolled int
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		n, err := s.db.RollupDaily(ctx, day)
		if err != nil {
			return fmt.Errorf("backfill %s: %w", day.Format("2006-01-02"), err)
		}
		days++
		if n > 0 {
			rolled++
		}
	}

	logging.Info().Int("days", days).Int("days_with_data", rolled).Msg("Backfill complete")
	return nil
}

// runRollup folds yesterday's hourly rows into daily_stats.
func (s *Scheduler) runRollup(ctx context.Context) {
	yesterday := s.today().AddDate(0, 0, -1)

	rows, err := s.db.RollupDaily(ctx, yesterday)
	metrics.RecordJobRun("rollup", err)
	if err != nil {
		logging.Error().Err(err).Time("date", yesterday).Msg("Daily rollup failed")
		return
	}
	logging.Info().Time("date", yesterday).Int64("hourly_rows", rows).Msg("Daily rollup complete")
}

// runRetention deletes hourly rows older than the retention window.
// The cutoff is hour-aligned so the boundary hour itself survives.
func (s *Scheduler) runRetention(ctx context.Context) {
	cutoff := s.now().UTC().
		AddDate(0, 0, -s.analytics.HourlyRetentionDays).
		Truncate(time.Hour)

	deleted, err := s.db.DeleteHourlyBefore(ctx, cutoff)
	metrics.RecordJobRun("retention", err)
	if err != nil {
		logging.Error().Err(err).Time("cutoff", cutoff).Msg("Hourly retention sweep failed")
		return
	}
	if deleted > 0 {
		logging.Info().Time("cutoff", cutoff).Int64("deleted", deleted).Msg("Hourly retention sweep complete")
	}
}

// runLocationRefresh advances geo_locations.last_hit in one set-based
// statement.
func (s *Scheduler) runLocationRefresh(ctx context.Context) {
	updated, err := s.db.RefreshLocationLastHits(ctx)
	metrics.RecordJobRun("location_refresh", err)
	if err != nil {
		logging.Error().Err(err).Msg("Location last_hit refresh failed")
		return
	}
	logging.Debug().Int64("updated", updated).Msg("Location last_hit refresh complete")
}

func (s *Scheduler) today() time.Time {
	return truncateDay(s.now().UTC())
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
