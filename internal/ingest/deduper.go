// Geolytics - Access Log Ingestion and Geographic Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geolytics

/*
deduper.go - Location Identity Resolution

Maps a GeoIP result to a persistent location id. Three tiers: the
in-process FIFO cache (bounded, no TTL), a point lookup by geohash,
and finally an insert. The insert can lose a race against another
writer on the unique geohash; the store resolves that by re-reading
the winner, so every path ends with a usable id.

The cache stores only the id. Mutable location fields (last_hit) are
never read through it.
*/
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/geolytics/internal/cache"
	"github.com/tomtom215/geolytics/internal/database"
	"github.com/tomtom215/geolytics/internal/geoip"
	"github.com/tomtom215/geolytics/internal/metrics"
	"github.com/tomtom215/geolytics/internal/models"
)

// Deduper resolves geohashes to persistent location ids.
type Deduper struct {
	cache *cache.FIFOCache
	db    *database.DB
}

// NewDeduper returns a deduper backed by db and a FIFO cache of the
// given capacity (<= 0 selects the default of 10000).
func NewDeduper(db *database.DB, capacity int) *Deduper {
	return &Deduper{cache: cache.NewFIFOCache(capacity), db: db}
}

// GetOrCreate returns the location id for a resolved GeoIP record,
// creating the geo_locations row on first sighting.
func (d *Deduper) GetOrCreate(ctx context.Context, rec *geoip.Record) (int64, error) {
	if id, ok := d.cache.Get(rec.Geohash); ok {
		metrics.LocationCacheHits.Inc()
		return id, nil
	}
	metrics.LocationCacheMisses.Inc()

	id, err := d.db.GetLocationIDByGeohash(ctx, rec.Geohash)
	if err == nil {
		d.cache.Add(rec.Geohash, id)
		return id, nil
	}
	if !errors.Is(err, database.ErrNotFound) {
		return 0, fmt.Errorf("location lookup: %w", err)
	}

	id, err = d.db.InsertLocation(ctx, &models.GeoLocation{
		Geohash:     rec.Geohash,
		Latitude:    rec.Latitude,
		Longitude:   rec.Longitude,
		CountryCode: rec.CountryCode,
		CountryName: rec.CountryName,
		State:       rec.State,
		StateCode:   rec.StateCode,
		City:        rec.City,
		PostalCode:  rec.PostalCode,
		Timezone:    rec.Timezone,
		FirstSeen:   time.Now().UTC(),
	})
	if err != nil {
		return 0, fmt.Errorf("location insert: %w", err)
	}

	d.cache.Add(rec.Geohash, id)
	return id, nil
}

// CacheLen reports the number of cached location ids.
func (d *Deduper) CacheLen() int {
	return d.cache.Len()
}
