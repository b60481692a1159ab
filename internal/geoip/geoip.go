// Geolytics - Access Log Ingestion and Geographic Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geolytics

/*
geoip.go - GeoIP Enrichment

Wraps a MaxMind City database behind a small resolve contract: give it
an IP string, get back coordinates plus administrative metadata, or
nothing. "Nothing" is not an error; invalid syntax, non-public address
classes, missing database entries and entries without coordinates all
resolve to nil so the caller can simply skip the geo pipeline for that
line.

The database is opened once and shared; geoip2.Reader is safe for
concurrent use. Names are picked from the configured locale list in
order, filtered against the locales MaxMind actually ships, falling
back to English.
*/
package geoip

import (
	"fmt"
	"net"

	"github.com/mmcloughlin/geohash"
	"github.com/oschwald/geoip2-golang"

	"github.com/tomtom215/geolytics/internal/logging"
	"github.com/tomtom215/geolytics/internal/metrics"
)

// GeohashPrecision is the number of geohash characters used as the
// location identity. 12 characters resolve to roughly 4 cm, far below
// GeoIP accuracy, so identical coordinates always collide and nothing
// else does.
const GeohashPrecision = 12

// supportedLocales are the name locales present in MaxMind City
// databases. Requested locales outside this set are dropped.
var supportedLocales = map[string]struct{}{
	"de": {}, "en": {}, "es": {}, "fr": {}, "ja": {},
	"pt-BR": {}, "ru": {}, "zh-CN": {},
}

// Record is one successful GeoIP resolution.
type Record struct {
	Geohash     string
	Latitude    float64
	Longitude   float64
	CountryCode string
	CountryName string
	State       string
	StateCode   string
	City        string
	PostalCode  string
	Timezone    string
}

// Resolver resolves public IPs against a MaxMind City database.
type Resolver struct {
	reader  *geoip2.Reader
	locales []string
}

// Open loads the database at path. locales is the preference order for
// localized names; unsupported entries are filtered out and an empty
// result falls back to ["en"].
func Open(path string, locales []string) (*Resolver, error) {
	reader, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open geoip database: %w", err)
	}

	filtered := filterLocales(locales)
	logging.Info().
		Str("path", path).
		Strs("locales", filtered).
		Msg("GeoIP database loaded")

	return &Resolver{reader: reader, locales: filtered}, nil
}

// Close releases the underlying database.
func (r *Resolver) Close() error {
	return r.reader.Close()
}

// Resolve looks up an IP. Returns nil when the IP is syntactically
// invalid, not publicly routable, unknown to the database, or the
// entry carries no coordinates.
func (r *Resolver) Resolve(ipStr string) *Record {
	ip := net.ParseIP(ipStr)
	if ip == nil || !Routable(ip) {
		metrics.GeoIPLookups.WithLabelValues("ineligible").Inc()
		return nil
	}

	city, err := r.reader.City(ip)
	if err != nil {
		metrics.GeoIPLookups.WithLabelValues("error").Inc()
		logging.Debug().Err(err).Str("ip", ipStr).Msg("GeoIP lookup failed")
		return nil
	}
	if city.Location.Latitude == 0 && city.Location.Longitude == 0 {
		metrics.GeoIPLookups.WithLabelValues("miss").Inc()
		return nil
	}
	metrics.GeoIPLookups.WithLabelValues("hit").Inc()

	rec := &Record{
		Geohash: geohash.EncodeWithPrecision(
			city.Location.Latitude, city.Location.Longitude, GeohashPrecision),
		Latitude:    city.Location.Latitude,
		Longitude:   city.Location.Longitude,
		CountryCode: city.Country.IsoCode,
		CountryName: r.localizedName(city.Country.Names),
		City:        r.localizedName(city.City.Names),
		PostalCode:  city.Postal.Code,
		Timezone:    city.Location.TimeZone,
	}

	// Most specific subdivision comes last in the MaxMind record.
	if n := len(city.Subdivisions); n > 0 {
		sub := city.Subdivisions[n-1]
		rec.State = r.localizedName(sub.Names)
		rec.StateCode = sub.IsoCode
	}

	return rec
}

// Routable reports whether an IP belongs to a publicly routable
// address class. Private, loopback, link-local, multicast and
// unspecified addresses are excluded, as is the IPv4 reserved block
// 240.0.0.0/4.
func Routable(ip net.IP) bool {
	switch {
	case ip.IsPrivate(),
		ip.IsLoopback(),
		ip.IsLinkLocalUnicast(),
		ip.IsLinkLocalMulticast(),
		ip.IsMulticast(),
		ip.IsUnspecified():
		return false
	}
	if v4 := ip.To4(); v4 != nil && v4[0] >= 240 {
		return false
	}
	return true
}

func (r *Resolver) localizedName(names map[string]string) string {
	for _, loc := range r.locales {
		if name, ok := names[loc]; ok && name != "" {
			return name
		}
	}
	return names["en"]
}

func filterLocales(locales []string) []string {
	var out []string
	for _, loc := range locales {
		if _, ok := supportedLocales[loc]; ok {
			out = append(out, loc)
		}
	}
	if len(out) == 0 {
		return []string{"en"}
	}
	return out
}
