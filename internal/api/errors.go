// Geolytics - Access Log Ingestion and Geographic Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geolytics

package api

import (
	"errors"
	"fmt"
)

var errWindowInverted = errors.New("start must be before end")

func errBadTime(param, value string) error {
	return fmt.Errorf("%s is not a valid RFC 3339 timestamp: %q", param, value)
}
