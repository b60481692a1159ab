// Geolytics - Access Log Ingestion and Geographic Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geolytics

/*
batch.go - In-Batch Accumulator

Holds the rows and hourly metrics of the batch currently being built.
The accumulator is scoped to a single UTC hour: a record from a later
hour forces a commit first (the caller checks needsRebase), a record
from an earlier hour accretes onto the current one. Unique IPs and
countries are per-batch sets whose sizes add across batches, which is
why the hourly counters are approximate.
*/
package ingest

import (
	"time"

	"github.com/tomtom215/geolytics/internal/database"
	"github.com/tomtom215/geolytics/internal/models"
)

// batchState accumulates one commit's worth of rows and metrics.
type batchState struct {
	hour time.Time // zero until the first record lands

	events []models.GeoEvent
	logs   []database.LogRecord
	debug  []models.AccessLogDebug

	records int // pending records, drives the size-based commit

	requests       int64
	geoEvents      int64
	bytesSent      int64
	status2xx      int64
	status3xx      int64
	status4xx      int64
	status5xx      int64
	malformed      int64
	requestTimeSum float64
	requestTimeMax float64
	ips            map[string]struct{}
	countries      map[string]struct{}
}

func newBatchState() *batchState {
	return &batchState{
		ips:       make(map[string]struct{}),
		countries: make(map[string]struct{}),
	}
}

// needsRebase reports whether ts falls in a later hour than the batch.
// Earlier hours merge in as-is.
func (b *batchState) needsRebase(ts time.Time) bool {
	if b.hour.IsZero() {
		return false
	}
	return ts.UTC().Truncate(time.Hour).After(b.hour)
}

// observe folds one record's metrics into the hourly accumulator.
// Malformed records only contribute to the malformed counter; the
// request counters stay consistent with the status-class sum.
func (b *batchState) observe(ts time.Time, status int, bytes int64, requestTime float64, ip string, malformed bool) {
	hour := ts.UTC().Truncate(time.Hour)
	if b.hour.IsZero() {
		b.hour = hour
	}

	b.records++
	if ip != "" {
		b.ips[ip] = struct{}{}
	}

	if malformed {
		b.malformed++
		return
	}

	b.requests++
	b.bytesSent += bytes
	b.requestTimeSum += requestTime
	if requestTime > b.requestTimeMax {
		b.requestTimeMax = requestTime
	}

	switch {
	case status >= 200 && status < 300:
		b.status2xx++
	case status >= 300 && status < 400:
		b.status3xx++
	case status >= 400 && status < 500:
		b.status4xx++
	case status >= 500:
		b.status5xx++
	}
}

func (b *batchState) addEvent(ev models.GeoEvent, countryCode string) {
	b.events = append(b.events, ev)
	b.geoEvents++
	if countryCode != "" {
		b.countries[countryCode] = struct{}{}
	}
}

func (b *batchState) addLog(rec database.LogRecord) {
	b.logs = append(b.logs, rec)
}

func (b *batchState) addDebug(d models.AccessLogDebug) {
	b.debug = append(b.debug, d)
}

func (b *batchState) empty() bool {
	return b.records == 0 && len(b.events) == 0 && len(b.debug) == 0
}

// build assembles the transaction payload. The hourly increment's
// AvgRequestTime is the batch-local mean, used verbatim on first
// insert of the hour; RequestTimeSum backs the weighted merge on
// conflict.
func (b *batchState) build() *database.Batch {
	batch := &database.Batch{
		Events: b.events,
		Logs:   b.logs,
		Debug:  b.debug,
	}

	if b.hour.IsZero() {
		return batch
	}

	avg := 0.0
	if b.requests > 0 {
		avg = b.requestTimeSum / float64(b.requests)
	}

	batch.Hourly = &database.HourlyIncrement{
		HourlyStats: models.HourlyStats{
			Hour:              b.hour,
			TotalRequests:     b.requests,
			TotalGeoEvents:    b.geoEvents,
			UniqueIPs:         int64(len(b.ips)),
			UniqueCountries:   int64(len(b.countries)),
			TotalBytesSent:    b.bytesSent,
			Status2xx:         b.status2xx,
			Status3xx:         b.status3xx,
			Status4xx:         b.status4xx,
			Status5xx:         b.status5xx,
			AvgRequestTime:    avg,
			MaxRequestTime:    b.requestTimeMax,
			MalformedRequests: b.malformed,
		},
		RequestTimeSum: b.requestTimeSum,
	}
	return batch
}
