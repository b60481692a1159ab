// Geolytics - Access Log Ingestion and Geographic Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geolytics

package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomtom215/geolytics/internal/config"
	"github.com/tomtom215/geolytics/internal/database"
	"github.com/tomtom215/geolytics/internal/models"
)

var testDBSemaphore = make(chan struct{}, 1)

var testDBMutex sync.Mutex

func setupTestDB(t *testing.T) *database.DB {
	t.Helper()

	testDBSemaphore <- struct{}{}
	t.Cleanup(func() {
		<-testDBSemaphore
	})

	cfg := &config.DatabaseConfig{
		Path:      ":memory:",
		MaxMemory: "1GB",
	}

	testDBMutex.Lock()
	db, err := database.New(cfg)
	testDBMutex.Unlock()
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = db.Close()
	})

	return db
}

func testScheduler(db *database.DB, fixedNow time.Time) *Scheduler {
	s := New(
		&config.SchedulerConfig{
			Enabled:                 true,
			RollupHour:              0,
			RollupMinute:            5,
			LocationRefreshInterval: time.Hour,
		},
		&config.AnalyticsConfig{HourlyRetentionDays: 30},
		db,
	)
	s.now = func() time.Time { return fixedNow }
	return s
}

func seedHour(t *testing.T, db *database.DB, hour time.Time, requests int64) {
	t.Helper()
	inc := &database.HourlyIncrement{
		HourlyStats: models.HourlyStats{
			Hour:           hour,
			TotalRequests:  requests,
			Status2xx:      requests,
			TotalBytesSent: requests * 10,
			AvgRequestTime: 0.1,
			MaxRequestTime: 0.2,
		},
		RequestTimeSum: 0.1 * float64(requests),
	}
	require.NoError(t, db.CommitBatch(context.Background(), &database.Batch{Hourly: inc}))
}

func TestRunRollupFoldsYesterday(t *testing.T) {
	db := setupTestDB(t)
	now := time.Date(2026, 8, 25, 0, 5, 0, 0, time.UTC)
	s := testScheduler(db, now)

	yesterday := time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)
	seedHour(t, db, yesterday.Add(9*time.Hour), 40)
	seedHour(t, db, yesterday.Add(17*time.Hour), 60)

	s.runRollup(context.Background())

	days, err := db.GetDailyStats(context.Background(), yesterday, yesterday.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.Len(t, days, 1)
	assert.Equal(t, int64(100), days[0].TotalRequests)
	require.NotNil(t, days[0].PeakHour)
	assert.Equal(t, 17, *days[0].PeakHour)
	assert.Equal(t, int64(60), days[0].PeakHourRequests)
}

func TestRunRetentionKeepsCutoffHour(t *testing.T) {
	db := setupTestDB(t)
	now := time.Date(2026, 8, 25, 12, 30, 0, 0, time.UTC)
	s := testScheduler(db, now)

	cutoff := now.AddDate(0, 0, -30).Truncate(time.Hour) // 2026-07-26 12:00
	seedHour(t, db, cutoff.Add(-time.Hour), 1)           // expired
	seedHour(t, db, cutoff, 2)                           // boundary, kept
	seedHour(t, db, cutoff.Add(time.Hour), 3)            // recent

	s.runRetention(context.Background())

	rows, err := db.GetHourlyStats(context.Background(),
		cutoff.AddDate(0, 0, -1), cutoff.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, cutoff, rows[0].Hour.UTC())
}

func TestRunLocationRefresh(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	s := testScheduler(db, time.Now().UTC())

	locID, err := db.InsertLocation(ctx, &models.GeoLocation{
		Geohash: "u33dc0cpttpr", Latitude: 52.52, Longitude: 13.405,
	})
	require.NoError(t, err)

	ts := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	require.NoError(t, db.CommitBatch(ctx, &database.Batch{
		Events: []models.GeoEvent{
			{LocationID: locID, IPAddress: "1.2.3.4", Timestamp: ts},
		},
	}))

	s.runLocationRefresh(ctx)

	loc, err := db.GetLocationByGeohash(ctx, "u33dc0cpttpr")
	require.NoError(t, err)
	require.NotNil(t, loc.LastHit)
	assert.Equal(t, ts, loc.LastHit.UTC())
}

func TestBackfillRange(t *testing.T) {
	db := setupTestDB(t)
	s := testScheduler(db, time.Date(2026, 8, 25, 1, 0, 0, 0, time.UTC))
	ctx := context.Background()

	day1 := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)
	day3 := time.Date(2026, 8, 22, 0, 0, 0, 0, time.UTC)
	seedHour(t, db, day1.Add(4*time.Hour), 5)
	seedHour(t, db, day3.Add(6*time.Hour), 7)
	// day2 has no hourly rows and must not produce a daily row.

	require.NoError(t, s.Backfill(ctx, day1, day3))

	days, err := db.GetDailyStats(ctx, day1, day3.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.Len(t, days, 2)
	assert.Equal(t, int64(5), days[0].TotalRequests)
	assert.Equal(t, int64(7), days[1].TotalRequests)
}

func TestBackfillInvertedRange(t *testing.T) {
	s := testScheduler(nil, time.Now().UTC())
	err := s.Backfill(context.Background(),
		time.Date(2026, 8, 25, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC))
	require.Error(t, err)
}
