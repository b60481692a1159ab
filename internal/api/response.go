// Geolytics - Access Log Ingestion and Geographic Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geolytics

// Package api serves the read-only dashboard API over Chi. All
// endpoints answer with the APIResponse envelope; aggregates come
// from the pre-computed hourly/daily tables except the exact summary,
// which queries the raw tables directly.
package api

import (
	"fmt"
	"hash/fnv"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/geolytics/internal/logging"
	"github.com/tomtom215/geolytics/internal/models"
)

// Error codes for API responses.
const (
	ErrCodeBadRequest    = "BAD_REQUEST"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeInternalError = "INTERNAL_ERROR"
	ErrCodeDatabaseError = "DATABASE_ERROR"
)

// respondSuccess writes a success envelope. The ETag covers the Data
// payload only; the envelope metadata changes on every request and
// would defeat conditional GETs.
func respondSuccess(w http.ResponseWriter, r *http.Request, data interface{}, started time.Time, degraded bool) {
	body, err := json.Marshal(data)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to encode API payload")
		respondError(w, http.StatusInternalServerError, ErrCodeInternalError, "response encoding failed")
		return
	}

	etag := payloadETag(body)
	w.Header().Set("ETag", etag)
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	writeJSON(w, http.StatusOK, models.APIResponse{
		Status: "success",
		Data:   json.RawMessage(body),
		Metadata: models.Metadata{
			Timestamp:   time.Now().UTC(),
			QueryTimeMS: time.Since(started).Milliseconds(),
			Degraded:    degraded,
		},
	})
}

// payloadETag produces a weak validator from the payload bytes.
func payloadETag(body []byte) string {
	h := fnv.New64a()
	_, _ = h.Write(body)
	return fmt.Sprintf(`W/"%016x"`, h.Sum64())
}

// respondError writes an error envelope.
func respondError(w http.ResponseWriter, httpStatus int, code, message string) {
	writeJSON(w, httpStatus, models.APIResponse{
		Status: "error",
		Metadata: models.Metadata{
			Timestamp: time.Now().UTC(),
		},
		Error: &models.APIError{
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logging.Error().Err(err).Msg("Failed to encode API response")
	}
}
