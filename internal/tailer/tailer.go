// Geolytics - Access Log Ingestion and Geographic Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geolytics

/*
tailer.go - Incremental Log File Tailer

Follows a single log file and emits each complete line, interleaved
with idle ticks whenever a poll finds nothing new. Idle ticks matter:
the persister uses them to run its time-based commit check without
new records arriving.

Rotation is detected on the idle path, after the poll sleep, when
either the file identity under the path changed (logrotate moved it)
or the file shrank by 99% or more of the previously read size
(copytruncate). On rotation the tailer reopens the path at offset
zero. Partial lines (writer mid-append at EOF) are stashed and
completed on a later read, never emitted in two pieces.

Setting the DISABLE_ROTATION_CHECK environment variable suppresses
rotation detection entirely; tests use it to rewrite fixture files
in place.
*/
package tailer

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"time"

	"github.com/tomtom215/geolytics/internal/logging"
	"github.com/tomtom215/geolytics/internal/metrics"
)

// Event is one element of the tail sequence: a complete line, or an
// idle tick with Idle=true and an empty Line.
type Event struct {
	Line string
	Idle bool
}

// Tailer follows one file. Not safe for concurrent Follow calls.
type Tailer struct {
	path         string
	pollInterval time.Duration
	startAtEnd   bool

	file     *os.File
	reader   *bufio.Reader
	fileInfo os.FileInfo
	// bytes consumed from the current file, for truncation detection
	bytesRead int64
	partial   strings.Builder
}

// New returns a tailer for path. startAtEnd skips the existing file
// content and only emits lines appended after Follow starts.
func New(path string, pollInterval time.Duration, startAtEnd bool) *Tailer {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &Tailer{path: path, pollInterval: pollInterval, startAtEnd: startAtEnd}
}

// Follow opens the file and streams events until ctx is cancelled.
// The returned channel is closed on cancellation or when the initial
// open fails.
func (t *Tailer) Follow(ctx context.Context) (<-chan Event, error) {
	if err := t.open(t.startAtEnd); err != nil {
		return nil, err
	}

	ch := make(chan Event)
	go t.run(ctx, ch)
	return ch, nil
}

func (t *Tailer) run(ctx context.Context, ch chan<- Event) {
	defer close(ch)
	defer t.closeFile()

	timer := time.NewTimer(t.pollInterval)
	defer timer.Stop()

	for {
		if ctx.Err() != nil {
			return
		}

		line, ok := t.readLine()
		if ok {
			metrics.LinesRead.Inc()
			select {
			case ch <- Event{Line: line}:
			case <-ctx.Done():
				return
			}
			continue
		}

		select {
		case ch <- Event{Idle: true}:
		case <-ctx.Done():
			return
		}

		timer.Reset(t.pollInterval)
		select {
		case <-timer.C:
		case <-ctx.Done():
			return
		}

		t.checkRotation()
	}
}

// readLine pulls one complete line. Returns ok=false at EOF; a
// partial trailing line is stashed for the next call.
func (t *Tailer) readLine() (string, bool) {
	if t.reader == nil {
		return "", false
	}

	chunk, err := t.reader.ReadString('\n')
	t.bytesRead += int64(len(chunk))

	if err != nil {
		if !errors.Is(err, io.EOF) {
			logging.Warn().Err(err).Str("path", t.path).Msg("Log read error")
		}
		// Writer mid-line: keep the fragment until the newline lands.
		t.partial.WriteString(chunk)
		return "", false
	}

	line := chunk
	if t.partial.Len() > 0 {
		line = t.partial.String() + line
		t.partial.Reset()
	}
	return strings.TrimRight(line, "\r\n"), true
}

// checkRotation reopens the file when the path points at a new file
// or the current file was truncated.
func (t *Tailer) checkRotation() {
	if rotationCheckDisabled() {
		return
	}

	fi, err := os.Stat(t.path)
	if err != nil {
		// Transient; logrotate may be mid-move. Try again next poll.
		logging.Debug().Err(err).Str("path", t.path).Msg("Rotation stat failed")
		return
	}

	rotated := !os.SameFile(t.fileInfo, fi)
	if !rotated && fi.Size() < t.bytesRead {
		shrunk := float64(t.bytesRead-fi.Size()) / float64(t.bytesRead)
		rotated = shrunk >= 0.99
	}
	if !rotated {
		return
	}

	logging.Info().Str("path", t.path).Msg("Log rotation detected, reopening")
	t.closeFile()
	if err := t.open(false); err != nil {
		// Reopen retries on the next poll.
		logging.Warn().Err(err).Str("path", t.path).Msg("Reopen after rotation failed")
		return
	}
	metrics.RotationReopens.Inc()
}

func (t *Tailer) open(seekEnd bool) error {
	f, err := os.Open(t.path)
	if err != nil {
		return err
	}
	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return err
	}

	t.file = f
	t.fileInfo = fi
	t.reader = bufio.NewReader(f)
	t.bytesRead = 0
	t.partial.Reset()

	if seekEnd {
		offset, err := f.Seek(0, io.SeekEnd)
		if err != nil {
			_ = f.Close()
			t.file = nil
			t.reader = nil
			return err
		}
		t.bytesRead = offset
	}
	return nil
}

func (t *Tailer) closeFile() {
	if t.file != nil {
		_ = t.file.Close()
		t.file = nil
		t.reader = nil
	}
}

func rotationCheckDisabled() bool {
	_, set := os.LookupEnv("DISABLE_ROTATION_CHECK")
	return set
}
