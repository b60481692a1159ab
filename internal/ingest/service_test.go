// Geolytics - Access Log Ingestion and Geographic Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geolytics

package ingest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomtom215/geolytics/internal/config"
	"github.com/tomtom215/geolytics/internal/database"
	"github.com/tomtom215/geolytics/internal/geoip"
	"github.com/tomtom215/geolytics/internal/models"
)

// testDBSemaphore serializes DuckDB usage across tests, matching the
// database package's test setup.
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

// stubResolver answers from a fixed table; unknown IPs resolve to nil.
type stubResolver struct {
	records map[string]*geoip.Record
}

func (s *stubResolver) Resolve(ip string) *geoip.Record {
	return s.records[ip]
}

func berlinRecord() *geoip.Record {
	return &geoip.Record{
		Geohash:     "u33dc0cpttpr",
		Latitude:    52.52,
		Longitude:   13.405,
		CountryCode: "DE",
		CountryName: "Germany",
		State:       "Berlin",
		StateCode:   "BE",
		City:        "Berlin",
		Timezone:    "Europe/Berlin",
	}
}

func testService(t *testing.T, db *database.DB, resolver GeoResolver) *Service {
	t.Helper()
	cfg := &config.LogParserConfig{
		Path:           "unused",
		PollInterval:   10 * time.Millisecond,
		BatchSize:      100,
		CommitInterval: 5 * time.Second,
		SendLogs:       true,
	}
	return NewService(cfg, db, resolver, 100)
}

const goodLine = `52.53.54.55 - - [23/Nov/2024:10:05:01 +0000] "GET /index HTTP/1.1" 200 512 "-" "curl/8"  "0.050" "-"`

func TestProcessLineWellFormed(t *testing.T) {
	db := setupTestDB(t)
	svc := testService(t, db, &stubResolver{records: map[string]*geoip.Record{
		"52.53.54.55": berlinRecord(),
	}})

	batch := newBatchState()
	lastCommit := time.Now()
	svc.processLine(context.Background(), batch, &lastCommit, goodLine)

	require.Len(t, batch.events, 1)
	require.Len(t, batch.logs, 1)
	assert.Empty(t, batch.debug)

	assert.Equal(t, "52.53.54.55", batch.events[0].IPAddress)
	assert.Equal(t, "GET", batch.logs[0].Log.Method)
	assert.Equal(t, "Germany", batch.logs[0].Log.Country)
	assert.Nil(t, batch.logs[0].Debug, "debug row only with store_debug_lines")

	assert.Equal(t, int64(1), batch.requests)
	assert.Equal(t, int64(1), batch.status2xx)
	assert.Equal(t, int64(0), batch.malformed)
	assert.Equal(t, int64(1), svc.linesParsed.Load())
}

func TestProcessLineMalformedProbe(t *testing.T) {
	db := setupTestDB(t)
	svc := testService(t, db, &stubResolver{records: map[string]*geoip.Record{
		"52.53.54.55": berlinRecord(),
	}})

	line := `52.53.54.55 - - [23/Nov/2024:10:05:01 +0000] "\x16\x03\x01\x02" 400 0 "-" "-"`
	batch := newBatchState()
	lastCommit := time.Now()
	svc.processLine(context.Background(), batch, &lastCommit, line)

	// Probe from a public IP: geo event yes, access log no.
	assert.Len(t, batch.events, 1)
	assert.Empty(t, batch.logs)
	require.Len(t, batch.debug, 1)
	assert.True(t, batch.debug[0].IsMalformed)
	assert.Equal(t, "TLS handshake sent to HTTP port (escaped)", batch.debug[0].ParseError)

	assert.Equal(t, int64(1), batch.malformed)
	assert.Equal(t, int64(0), batch.requests, "malformed lines do not count as requests")
	assert.Equal(t, int64(1), svc.linesMalformed.Load())
}

func TestProcessLineUnmatched(t *testing.T) {
	db := setupTestDB(t)
	svc := testService(t, db, &stubResolver{})

	batch := newBatchState()
	lastCommit := time.Now()
	svc.processLine(context.Background(), batch, &lastCommit, "complete garbage")

	assert.Empty(t, batch.events)
	assert.Empty(t, batch.logs)
	require.Len(t, batch.debug, 1)
	assert.Equal(t, "line did not match expected log format", batch.debug[0].ParseError)
	assert.Equal(t, int64(1), svc.linesSkipped.Load())
}

func TestProcessLinePrivateIPNoGeo(t *testing.T) {
	db := setupTestDB(t)
	svc := testService(t, db, &stubResolver{})

	line := `192.168.1.50 - - [23/Nov/2024:10:05:01 +0000] "GET / HTTP/1.1" 200 64 "-" "-"`
	batch := newBatchState()
	lastCommit := time.Now()
	svc.processLine(context.Background(), batch, &lastCommit, line)

	assert.Empty(t, batch.events)
	assert.Empty(t, batch.logs, "access log rows require a GeoIP-eligible IP")
	assert.Equal(t, int64(1), batch.requests, "request still counted in the hourly bucket")
}

func TestProcessLineHourRebaseCommits(t *testing.T) {
	db := setupTestDB(t)
	svc := testService(t, db, &stubResolver{records: map[string]*geoip.Record{
		"52.53.54.55": berlinRecord(),
	}})

	line := func(ts string) string {
		return `52.53.54.55 - - [` + ts + `] "GET / HTTP/1.1" 200 10 "-" "-"`
	}

	batch := newBatchState()
	lastCommit := time.Now()
	ctx := context.Background()

	svc.processLine(ctx, batch, &lastCommit, line("23/Nov/2024:10:59:58 +0000"))
	svc.processLine(ctx, batch, &lastCommit, line("23/Nov/2024:10:59:59 +0000"))
	svc.processLine(ctx, batch, &lastCommit, line("23/Nov/2024:11:00:00 +0000"))
	svc.commit(ctx, batch)

	hour10 := time.Date(2024, 11, 23, 10, 0, 0, 0, time.UTC)
	stats, err := db.GetHourlyStats(ctx, hour10, hour10.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, stats, 2)
	assert.Equal(t, int64(2), stats[0].TotalRequests)
	assert.Equal(t, int64(1), stats[1].TotalRequests)
	assert.Equal(t, int64(2), svc.batchesCommitted.Load())
}

func TestCommitFailureDropsBatch(t *testing.T) {
	db := setupTestDB(t)
	svc := testService(t, db, &stubResolver{})

	// Event referencing a missing location violates the FK.
	batch := newBatchState()
	batch.observe(time.Now(), 200, 10, 0.1, "1.2.3.4", false)
	batch.addEvent(models.GeoEvent{
		LocationID: 999999,
		IPAddress:  "1.2.3.4",
		Timestamp:  time.Now().UTC(),
	}, "DE")

	svc.commit(context.Background(), batch)
	assert.Equal(t, int64(1), svc.batchesDropped.Load())
	assert.Equal(t, int64(0), svc.batchesCommitted.Load())
}

func TestDeduperCreatesOnceAndCaches(t *testing.T) {
	db := setupTestDB(t)
	d := NewDeduper(db, 10)
	ctx := context.Background()

	id1, err := d.GetOrCreate(ctx, berlinRecord())
	require.NoError(t, err)
	id2, err := d.GetOrCreate(ctx, berlinRecord())
	require.NoError(t, err)
	assert.Equal(t, id1, id2)
	assert.Equal(t, 1, d.CacheLen())

	count, err := db.CountLocations(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestDeduperFallsBackToStoreAfterEviction(t *testing.T) {
	db := setupTestDB(t)
	d := NewDeduper(db, 1)
	ctx := context.Background()

	first, err := d.GetOrCreate(ctx, berlinRecord())
	require.NoError(t, err)

	other := berlinRecord()
	other.Geohash = "u09tvw0f6szy" // Paris-ish, evicts Berlin from the 1-slot cache
	_, err = d.GetOrCreate(ctx, other)
	require.NoError(t, err)

	again, err := d.GetOrCreate(ctx, berlinRecord())
	require.NoError(t, err)
	assert.Equal(t, first, again, "store lookup recovers the id after eviction")

	count, err := db.CountLocations(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestValidateFormat(t *testing.T) {
	dir := t.TempDir()

	good := filepath.Join(dir, "good.log")
	require.NoError(t, os.WriteFile(good, []byte(goodLine+"\n"), 0o644))

	bad := filepath.Join(dir, "bad.log")
	require.NoError(t, os.WriteFile(bad, []byte("junk\nmore junk\nstill junk\n"), 0o644))

	empty := filepath.Join(dir, "empty.log")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))

	svc := testService(t, nil, &stubResolver{})

	svc.cfg.Path = good
	assert.NoError(t, svc.validateFormat())

	svc.cfg.Path = bad
	assert.Error(t, svc.validateFormat())

	svc.cfg.Path = empty
	assert.NoError(t, svc.validateFormat(), "empty file passes the probe")
}

func TestFormatProbeDowngradesToGeoOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "odd.log")
	require.NoError(t, os.WriteFile(path, []byte("junk that matches nothing\n"), 0o644))

	svc := testService(t, nil, &stubResolver{})
	svc.cfg.Path = path

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	require.Eventually(t, func() bool {
		return !svc.Status().FullLogCapture
	}, 2*time.Second, 10*time.Millisecond, "probe failure should switch off full capture")

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestTailLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "t.log")
	var sb strings.Builder
	for i := 0; i < 10; i++ {
		sb.WriteString(strings.Repeat("x", 50))
		sb.WriteString("\n")
	}
	sb.WriteString("last\n")
	require.NoError(t, os.WriteFile(path, []byte(sb.String()), 0o644))

	lines, err := tailLines(path, 3)
	require.NoError(t, err)
	require.Len(t, lines, 3)
	assert.Equal(t, "last", lines[2])
}

func TestWaitForFileTimesOut(t *testing.T) {
	svc := testService(t, nil, &stubResolver{})
	svc.cfg.Path = filepath.Join(t.TempDir(), "never.log")
	svc.cfg.WaitForFile = 50 * time.Millisecond

	err := svc.waitForFile(context.Background())
	require.Error(t, err)
}

func TestStatusSnapshot(t *testing.T) {
	svc := testService(t, nil, &stubResolver{})
	svc.linesRead.Store(10)
	svc.linesParsed.Store(8)
	svc.linesSkipped.Store(2)
	svc.batchesCommitted.Store(3)
	svc.lastCommitUnix.Store(time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC).Unix())

	st := svc.Status()
	assert.Equal(t, int64(10), st.LinesRead)
	assert.Equal(t, int64(8), st.LinesParsed)
	assert.Equal(t, int64(2), st.LinesSkipped)
	assert.Equal(t, int64(3), st.BatchesCommitted)
	require.NotNil(t, st.LastCommitTime)
	assert.True(t, st.FullLogCapture)
}
