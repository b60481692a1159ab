// Geolytics - Access Log Ingestion and Geographic Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geolytics

package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
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

type stubIngest struct {
	status models.IngestStatus
}

func (s *stubIngest) Status() models.IngestStatus { return s.status }

func testServer(t *testing.T, store Store, ingest IngestStatusProvider) *httptest.Server {
	t.Helper()
	handler := NewHandler(store, ingest, store != nil)
	srv := httptest.NewServer(NewRouter(handler, &config.SecurityConfig{}))
	t.Cleanup(srv.Close)
	return srv
}

func get(t *testing.T, url string) (*http.Response, models.APIResponse) {
	t.Helper()
	resp, err := http.Get(url) //nolint:gosec // test URL
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	var envelope models.APIResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	return resp, envelope
}

func seedHour(t *testing.T, db *database.DB, hour time.Time, requests int64) {
	t.Helper()
	inc := &database.HourlyIncrement{
		HourlyStats: models.HourlyStats{
			Hour:           hour,
			TotalRequests:  requests,
			Status2xx:      requests,
			TotalBytesSent: requests * 100,
			AvgRequestTime: 0.1,
			MaxRequestTime: 0.2,
			UniqueIPs:      1,
		},
		RequestTimeSum: 0.1 * float64(requests),
	}
	require.NoError(t, db.CommitBatch(context.Background(), &database.Batch{Hourly: inc}))
}

func TestHealthHealthy(t *testing.T) {
	db := setupTestDB(t)
	srv := testServer(t, db, &stubIngest{})

	resp, envelope := get(t, srv.URL+"/api/v1/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "success", envelope.Status)

	payload, err := json.Marshal(envelope.Data)
	require.NoError(t, err)
	var health models.HealthStatus
	require.NoError(t, json.Unmarshal(payload, &health))
	assert.Equal(t, "healthy", health.Status)
	assert.True(t, health.DatabaseConnected)
}

func TestHealthDegraded(t *testing.T) {
	srv := testServer(t, nil, nil)

	resp, envelope := get(t, srv.URL+"/api/v1/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, envelope.Metadata.Degraded)

	payload, err := json.Marshal(envelope.Data)
	require.NoError(t, err)
	var health models.HealthStatus
	require.NoError(t, json.Unmarshal(payload, &health))
	assert.Equal(t, "degraded", health.Status)
	assert.False(t, health.DatabaseConnected)
}

func TestSummaryWindow(t *testing.T) {
	db := setupTestDB(t)
	srv := testServer(t, db, &stubIngest{})

	hour := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	seedHour(t, db, hour, 42)

	url := srv.URL + "/api/v1/stats/summary?start=2026-08-25T10:00:00Z&end=2026-08-25T11:00:00Z"
	resp, envelope := get(t, url)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	payload, err := json.Marshal(envelope.Data)
	require.NoError(t, err)
	var summary models.StatsSummary
	require.NoError(t, json.Unmarshal(payload, &summary))
	assert.Equal(t, int64(42), summary.TotalRequests)
	assert.Equal(t, int64(42), summary.Status2xx)
}

func TestSummaryRejectsBadWindow(t *testing.T) {
	db := setupTestDB(t)
	srv := testServer(t, db, &stubIngest{})

	resp, envelope := get(t, srv.URL+"/api/v1/stats/summary?start=garbage")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.NotNil(t, envelope.Error)
	assert.Equal(t, ErrCodeBadRequest, envelope.Error.Code)

	resp, _ = get(t, srv.URL+
		"/api/v1/stats/summary?start=2026-08-25T11:00:00Z&end=2026-08-25T10:00:00Z")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSummaryDegradedServesZeros(t *testing.T) {
	srv := testServer(t, nil, nil)

	resp, envelope := get(t, srv.URL+"/api/v1/stats/summary")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, envelope.Metadata.Degraded)

	payload, err := json.Marshal(envelope.Data)
	require.NoError(t, err)
	var summary models.StatsSummary
	require.NoError(t, json.Unmarshal(payload, &summary))
	assert.Zero(t, summary.TotalRequests)
}

func TestTimeseriesGranularity(t *testing.T) {
	db := setupTestDB(t)
	srv := testServer(t, db, &stubIngest{})

	hour := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	seedHour(t, db, hour, 5)

	url := srv.URL + "/api/v1/stats/timeseries?start=2026-08-25T00:00:00Z&end=2026-08-26T00:00:00Z"
	resp, envelope := get(t, url)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	payload, err := json.Marshal(envelope.Data)
	require.NoError(t, err)
	var hourly []models.HourlyStats
	require.NoError(t, json.Unmarshal(payload, &hourly))
	require.Len(t, hourly, 1)
	assert.Equal(t, int64(5), hourly[0].TotalRequests)

	resp, _ = get(t, url+"&granularity=weekly")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestTopLocationsLimitValidation(t *testing.T) {
	db := setupTestDB(t)
	srv := testServer(t, db, &stubIngest{})

	resp, envelope := get(t, srv.URL+"/api/v1/locations/top")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "success", envelope.Status)

	resp, _ = get(t, srv.URL+"/api/v1/locations/top?limit=0")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = get(t, srv.URL+"/api/v1/locations/top?limit=5000")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestIngestStatusEndpoint(t *testing.T) {
	db := setupTestDB(t)
	srv := testServer(t, db, &stubIngest{status: models.IngestStatus{
		LinesRead:   100,
		LinesParsed: 90,
	}})

	resp, envelope := get(t, srv.URL+"/api/v1/ingest/status")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	payload, err := json.Marshal(envelope.Data)
	require.NoError(t, err)
	var status models.IngestStatus
	require.NoError(t, json.Unmarshal(payload, &status))
	assert.Equal(t, int64(100), status.LinesRead)
	assert.Equal(t, int64(90), status.LinesParsed)
}

func TestConditionalGetWithETag(t *testing.T) {
	db := setupTestDB(t)
	srv := testServer(t, db, &stubIngest{})

	hour := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	seedHour(t, db, hour, 7)
	url := srv.URL + "/api/v1/stats/summary?start=2026-08-25T10:00:00Z&end=2026-08-25T11:00:00Z"

	resp, err := http.Get(url) //nolint:gosec // test URL
	require.NoError(t, err)
	_ = resp.Body.Close()
	etag := resp.Header.Get("ETag")
	require.NotEmpty(t, etag)

	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	req.Header.Set("If-None-Match", etag)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNotModified, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	db := setupTestDB(t)
	srv := testServer(t, db, &stubIngest{})

	resp, err := http.Get(srv.URL + "/metrics") //nolint:gosec // test URL
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRateLimit(t *testing.T) {
	db := setupTestDB(t)
	handler := NewHandler(db, &stubIngest{}, true)
	srv := httptest.NewServer(NewRouter(handler, &config.SecurityConfig{RateLimitPerMinute: 2}))
	t.Cleanup(srv.Close)

	var saw429 bool
	for i := 0; i < 5; i++ {
		resp, err := http.Get(srv.URL + "/api/v1/health") //nolint:gosec // test URL
		require.NoError(t, err)
		_ = resp.Body.Close()
		if resp.StatusCode == http.StatusTooManyRequests {
			saw429 = true
		}
	}
	assert.True(t, saw429, "rate limiter never fired")
}
