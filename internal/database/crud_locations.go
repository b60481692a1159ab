// Geolytics - Access Log Ingestion and Geographic Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geolytics

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/geolytics/internal/models"
)

// InsertLocation inserts a deduplicated location and returns its id.
//
// The geohash column is UNIQUE; when another writer (or an earlier run)
// already owns the geohash, the conflict is resolved by re-reading the
// winner's id. Losing the race is not an error.
func (db *DB) InsertLocation(ctx context.Context, loc *models.GeoLocation) (int64, error) {
	if loc.FirstSeen.IsZero() {
		loc.FirstSeen = time.Now().UTC()
	}

	var id int64
	err := db.conn.QueryRowContext(ctx, `
		INSERT INTO geo_locations (
			geohash, latitude, longitude, country_code, country_name,
			state, state_code, city, postal_code, timezone, first_seen
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`,
		loc.Geohash, loc.Latitude, loc.Longitude, loc.CountryCode, loc.CountryName,
		loc.State, loc.StateCode, loc.City, loc.PostalCode, loc.Timezone, loc.FirstSeen,
	).Scan(&id)

	if err != nil {
		if isDuplicateKey(err) {
			return db.GetLocationIDByGeohash(ctx, loc.Geohash)
		}
		return 0, fmt.Errorf("insert location: %w", err)
	}

	loc.ID = id
	return id, nil
}

// GetLocationIDByGeohash returns the id for a geohash, or ErrNotFound.
func (db *DB) GetLocationIDByGeohash(ctx context.Context, geohash string) (int64, error) {
	var id int64
	err := db.conn.QueryRowContext(ctx,
		`SELECT id FROM geo_locations WHERE geohash = ?`, geohash).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("get location id: %w", err)
	}
	return id, nil
}

// GetLocationByGeohash returns the full location row, or ErrNotFound.
func (db *DB) GetLocationByGeohash(ctx context.Context, geohash string) (*models.GeoLocation, error) {
	loc := &models.GeoLocation{}
	var countryCode, countryName, state, stateCode, city, postalCode, timezone sql.NullString
	var lastHit sql.NullTime

	err := db.conn.QueryRowContext(ctx, `
		SELECT id, geohash, latitude, longitude, country_code, country_name,
		       state, state_code, city, postal_code, timezone, first_seen, last_hit
		FROM geo_locations WHERE geohash = ?`, geohash).Scan(
		&loc.ID, &loc.Geohash, &loc.Latitude, &loc.Longitude,
		&countryCode, &countryName, &state, &stateCode, &city, &postalCode, &timezone,
		&loc.FirstSeen, &lastHit,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get location: %w", err)
	}

	loc.CountryCode = countryCode.String
	loc.CountryName = countryName.String
	loc.State = state.String
	loc.StateCode = stateCode.String
	loc.City = city.String
	loc.PostalCode = postalCode.String
	loc.Timezone = timezone.String
	if lastHit.Valid {
		t := lastHit.Time
		loc.LastHit = &t
	}
	return loc, nil
}

// CountLocations returns the number of deduplicated locations.
func (db *DB) CountLocations(ctx context.Context) (int64, error) {
	var n int64
	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM geo_locations`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count locations: %w", err)
	}
	return n, nil
}

// TopLocations returns the locations with the most geo events,
// most active first.
func (db *DB) TopLocations(ctx context.Context, limit int) ([]models.TopLocation, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := db.conn.QueryContext(ctx, `
		SELECT gl.id, gl.geohash, gl.latitude, gl.longitude,
		       gl.country_code, gl.country_name, gl.state, gl.state_code,
		       gl.city, gl.postal_code, gl.timezone, gl.first_seen, gl.last_hit,
		       COUNT(ge.id) AS event_count, MAX(ge.timestamp) AS last_event
		FROM geo_locations gl
		JOIN geo_events ge ON ge.location_id = gl.id
		GROUP BY gl.id, gl.geohash, gl.latitude, gl.longitude,
		         gl.country_code, gl.country_name, gl.state, gl.state_code,
		         gl.city, gl.postal_code, gl.timezone, gl.first_seen, gl.last_hit
		ORDER BY event_count DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("top locations: %w", err)
	}
	defer closeWithLog(rows, "top locations rows")

	var out []models.TopLocation
	for rows.Next() {
		var tl models.TopLocation
		var countryCode, countryName, state, stateCode, city, postalCode, timezone sql.NullString
		var lastHit, lastEvent sql.NullTime

		if err := rows.Scan(
			&tl.Location.ID, &tl.Location.Geohash, &tl.Location.Latitude, &tl.Location.Longitude,
			&countryCode, &countryName, &state, &stateCode, &city, &postalCode, &timezone,
			&tl.Location.FirstSeen, &lastHit, &tl.EventCount, &lastEvent,
		); err != nil {
			return nil, fmt.Errorf("scan top location: %w", err)
		}

		tl.Location.CountryCode = countryCode.String
		tl.Location.CountryName = countryName.String
		tl.Location.State = state.String
		tl.Location.StateCode = stateCode.String
		tl.Location.City = city.String
		tl.Location.PostalCode = postalCode.String
		tl.Location.Timezone = timezone.String
		if lastHit.Valid {
			t := lastHit.Time
			tl.Location.LastHit = &t
		}
		if lastEvent.Valid {
			t := lastEvent.Time
			tl.LastEvent = &t
		}
		out = append(out, tl)
	}
	return out, rows.Err()
}

// RefreshLocationLastHits updates geo_locations.last_hit from the max
// event timestamp per location in a single set-based statement. The
// guard keeps last_hit monotonic even if events arrive out of order.
// Returns the number of updated rows.
func (db *DB) RefreshLocationLastHits(ctx context.Context) (int64, error) {
	res, err := db.conn.ExecContext(ctx, `
		UPDATE geo_locations
		SET last_hit = sub.max_ts
		FROM (
			SELECT location_id, MAX(timestamp) AS max_ts
			FROM geo_events
			GROUP BY location_id
		) AS sub
		WHERE geo_locations.id = sub.location_id
		  AND (geo_locations.last_hit IS NULL OR geo_locations.last_hit < sub.max_ts)`)
	if err != nil {
		return 0, fmt.Errorf("refresh last_hit: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, nil //nolint:nilerr // driver may not report rows affected
	}
	return affected, nil
}
