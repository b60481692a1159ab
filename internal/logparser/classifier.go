// Geolytics - Access Log Ingestion and Geographic Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geolytics

/*
classifier.go - Scanner and Probe Traffic Classification

A line can match the access-log grammar and still not be an HTTP
request: scanners throw TLS ClientHellos, SSH banners and SMB
negotiation packets at port 80 and nginx logs the raw (or escaped)
bytes as the request body. The checks below run in a fixed order and
the first hit wins; a record that passes all of them is well-formed.

The escaped variants match what nginx writes with escape=default
(bytes rendered as \xNN); the raw variants catch logs written with
escape=none.
*/
package logparser

import (
	"fmt"
	"strings"
)

// validMethods is the set of methods a well-formed request may carry.
var validMethods = map[string]struct{}{
	"GET": {}, "POST": {}, "PUT": {}, "DELETE": {}, "PATCH": {},
	"HEAD": {}, "OPTIONS": {}, "CONNECT": {}, "TRACE": {},
}

// classify inspects a matched record for probe traffic. Returns the
// malformed flag and the parse-error tag (empty when well-formed).
func classify(rec *Record) (bool, string) {
	req := rec.Request

	// TLS ClientHello: record type 0x16, protocol major 0x03.
	if strings.Contains(req, `\x16\x03`) {
		return true, "TLS handshake sent to HTTP port (escaped)"
	}
	if strings.Contains(req, "\x16\x03") {
		return true, "TLS handshake sent to HTTP port (raw)"
	}

	if strings.HasPrefix(req, "SSH-") || strings.Contains(req, `\x53\x53\x48`) {
		return true, "SSH probe sent to HTTP port"
	}

	if strings.Contains(strings.ToLower(req), `\xffsmb`) ||
		strings.Contains(req, "\xffSMB") || strings.Contains(req, "SMBr") {
		return true, "SMB protocol probe (EternalBlue scanner)"
	}
	if strings.Contains(req, "NT LM") {
		return true, "SMB dialect negotiation probe"
	}

	if rec.Method == "" {
		if rec.Status == 400 {
			return true, "TLS probe: HTTP request sent to HTTPS port"
		}
		return true, "No HTTP method in request"
	}

	if _, ok := validMethods[rec.Method]; !ok {
		return true, fmt.Sprintf("Invalid HTTP method: %s", rec.Method)
	}

	switch rec.Status {
	case 408:
		return true, "Request timeout (408)"
	case 444:
		return true, "Connection closed without response (nginx 444)"
	case 499:
		return true, "Client closed connection before response (nginx 499)"
	}

	return false, ""
}
