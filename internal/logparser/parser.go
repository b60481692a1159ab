// Geolytics - Access Log Ingestion and Geographic Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geolytics

/*
parser.go - Access Log Line Parser

Two recognisers, selected by whether full access-log capture is on:

  - full: nginx combined format extended with three trailing quoted
    fields ("$request_time" "$upstream_connect_time" "$host"); the
    trailing fields are optional so plain combined logs still parse.
  - ip-only: just the client IP and timestamp, enough to drive the
    geo pipeline when send_logs is disabled.

A line matching neither recogniser comes back with Matched=false,
Malformed=true and the parse error "line did not match expected log
format". Field parsing is deliberately forgiving: "-" means absent,
unparseable numerics default to zero, unparseable timestamps default
to now (UTC). Scanner and probe traffic inside an otherwise valid
line is classified separately, see classifier.go.
*/
package logparser

import (
	"regexp"
	"strconv"
	"time"
)

// ErrNoFormatMatch is the parse-error tag for lines neither recogniser
// accepts.
const ErrNoFormatMatch = "line did not match expected log format"

// nginx $time_local layout.
const timeLayout = "02/Jan/2006:15:04:05 -0700"

var (
	// Combined format plus optional "$request_time" "$upstream_connect_time" "$host".
	fullLineRe = regexp.MustCompile(
		`^(\S+) - (\S+) \[([^\]]+)\] "([^"]*)" (\d{3}) (\S+) "([^"]*)" "([^"]*)"` +
			`(?:\s+"([^"]*)")?(?:\s+"([^"]*)")?(?:\s+"([^"]*)")?\s*$`)

	// Minimal prefix match when only the geo pipeline is active.
	ipOnlyRe = regexp.MustCompile(`^(\S+) - \S+ \[([^\]]+)\]`)

	// $request body: METHOD URL HTTP/x.y
	requestRe = regexp.MustCompile(`^([A-Za-z]+) (\S+) HTTP/([0-9.]+)$`)
)

// Record is the parser's output: an optional IP, optional access-log
// fields, and the classifier verdict. Absent string fields are empty;
// ConnectTime is nil when nginx logged "-".
type Record struct {
	RawLine string

	IPAddress  string
	Timestamp  time.Time
	RemoteUser string

	// Request fields; empty Method means the request body carried no
	// recognisable HTTP request line (common for probes).
	Method      string
	URL         string
	HTTPVersion string
	Request     string

	Status      int
	BytesSent   int64
	Referrer    string
	UserAgent   string
	RequestTime float64
	ConnectTime *float64
	Host        string

	// Matched reports whether a recogniser accepted the line. Unmatched
	// lines carry only RawLine, Malformed and ParseError.
	Matched    bool
	Malformed  bool
	ParseError string
}

// Parser turns raw lines into Records. A parser configured with
// fullFormat=false only extracts the IP and timestamp.
type Parser struct {
	fullFormat bool
	now        func() time.Time
}

// New returns a parser. fullFormat selects the combined-format
// recogniser; otherwise only the IP prefix is extracted.
func New(fullFormat bool) *Parser {
	return &Parser{fullFormat: fullFormat, now: time.Now}
}

// Parse processes one raw line.
func (p *Parser) Parse(line string) Record {
	if p.fullFormat {
		return p.parseFull(line)
	}
	return p.parseIPOnly(line)
}

// Valid reports whether a line would be accepted by the active
// recogniser. Used by the startup format probe.
func (p *Parser) Valid(line string) bool {
	if p.fullFormat {
		return fullLineRe.MatchString(line)
	}
	return ipOnlyRe.MatchString(line)
}

func (p *Parser) parseFull(line string) Record {
	m := fullLineRe.FindStringSubmatch(line)
	if m == nil {
		return Record{RawLine: line, Malformed: true, ParseError: ErrNoFormatMatch}
	}

	rec := Record{
		RawLine:    line,
		Matched:    true,
		IPAddress:  m[1],
		RemoteUser: dashToEmpty(m[2]),
		Timestamp:  p.parseTime(m[3]),
		Request:    m[4],
		Status:     parseIntDefault(m[5]),
		BytesSent:  parseInt64Default(m[6]),
		Referrer:   dashToEmpty(m[7]),
		UserAgent:  dashToEmpty(m[8]),
		Host:       dashToEmpty(m[11]),
	}

	if rt := dashToEmpty(m[9]); rt != "" {
		if f, err := strconv.ParseFloat(rt, 64); err == nil {
			rec.RequestTime = f
		}
	}
	if ct := dashToEmpty(m[10]); ct != "" {
		if f, err := strconv.ParseFloat(ct, 64); err == nil {
			rec.ConnectTime = &f
		}
	}

	if req := requestRe.FindStringSubmatch(rec.Request); req != nil {
		rec.Method = req[1]
		rec.URL = req[2]
		rec.HTTPVersion = req[3]
	}

	rec.Malformed, rec.ParseError = classify(&rec)
	return rec
}

func (p *Parser) parseIPOnly(line string) Record {
	m := ipOnlyRe.FindStringSubmatch(line)
	if m == nil {
		return Record{RawLine: line, Malformed: true, ParseError: ErrNoFormatMatch}
	}
	return Record{
		RawLine:   line,
		Matched:   true,
		IPAddress: m[1],
		Timestamp: p.parseTime(m[2]),
	}
}

func (p *Parser) parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return p.now().UTC()
	}
	return t.UTC()
}

func dashToEmpty(s string) string {
	if s == "-" {
		return ""
	}
	return s
}

func parseIntDefault(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

func parseInt64Default(s string) int64 {
	if s == "-" {
		return 0
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
