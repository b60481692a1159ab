// Geolytics - Access Log Ingestion and Geographic Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geolytics

package geoip

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoutable(t *testing.T) {
	tests := []struct {
		ip       string
		routable bool
	}{
		{"52.53.54.55", true},
		{"8.8.8.8", true},
		{"2001:4860:4860::8888", true},
		{"10.0.0.1", false},
		{"172.16.0.1", false},
		{"192.168.1.1", false},
		{"127.0.0.1", false},
		{"::1", false},
		{"169.254.1.1", false},
		{"fe80::1", false},
		{"224.0.0.1", false},
		{"ff02::1", false},
		{"0.0.0.0", false},
		{"::", false},
		{"240.0.0.1", false},
		{"255.255.255.255", false},
	}
	for _, tc := range tests {
		t.Run(tc.ip, func(t *testing.T) {
			ip := net.ParseIP(tc.ip)
			assert.NotNil(t, ip)
			assert.Equal(t, tc.routable, Routable(ip))
		})
	}
}

func TestResolveRejectsInvalidAndNonPublic(t *testing.T) {
	// A nil reader is never touched for these inputs.
	r := &Resolver{locales: []string{"en"}}

	assert.Nil(t, r.Resolve("not-an-ip"))
	assert.Nil(t, r.Resolve(""))
	assert.Nil(t, r.Resolve("192.168.1.50"))
	assert.Nil(t, r.Resolve("127.0.0.1"))
}

func TestFilterLocales(t *testing.T) {
	assert.Equal(t, []string{"en"}, filterLocales(nil))
	assert.Equal(t, []string{"en"}, filterLocales([]string{"xx", "yy"}))
	assert.Equal(t, []string{"de", "en"}, filterLocales([]string{"de", "xx", "en"}))
	assert.Equal(t, []string{"pt-BR"}, filterLocales([]string{"pt-BR"}))
}

func TestLocalizedNameFallback(t *testing.T) {
	r := &Resolver{locales: []string{"de", "en"}}

	assert.Equal(t, "Deutschland", r.localizedName(map[string]string{"de": "Deutschland", "en": "Germany"}))
	assert.Equal(t, "Germany", r.localizedName(map[string]string{"en": "Germany"}))
	assert.Empty(t, r.localizedName(map[string]string{"fr": "Allemagne"}))
}
