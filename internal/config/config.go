// Geolytics - Access Log Ingestion and Geographic Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geolytics

// Package config defines the Geolytics configuration and its layered
// loading: built-in defaults, an optional YAML file, then environment
// variables. Precedence is ENV > file > defaults.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the root configuration for all Geolytics components.
type Config struct {
	LogParser LogParserConfig `koanf:"logparser"`
	GeoIP     GeoIPConfig     `koanf:"geoip"`
	Database  DatabaseConfig  `koanf:"database"`
	Analytics AnalyticsConfig `koanf:"analytics"`
	Scheduler SchedulerConfig `koanf:"scheduler"`
	Server    ServerConfig    `koanf:"server"`
	Security  SecurityConfig  `koanf:"security"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// LogParserConfig controls the tailer, parser, and batched persister.
type LogParserConfig struct {
	// Path is the nginx access log to follow.
	Path string `koanf:"path" validate:"required"`

	// PollInterval is the idle sleep between reads at EOF.
	PollInterval time.Duration `koanf:"poll_interval" validate:"gt=0"`

	// BatchSize triggers a commit once this many records are pending.
	BatchSize int `koanf:"batch_size" validate:"min=1,max=100000"`

	// CommitInterval flushes a non-empty batch even when BatchSize
	// has not been reached.
	CommitInterval time.Duration `koanf:"commit_interval" validate:"gt=0"`

	// SendLogs enables full access_logs capture. When false only geo
	// events and hourly aggregates are written.
	SendLogs bool `koanf:"send_logs"`

	// StoreDebugLines persists raw malformed lines to access_log_debug.
	StoreDebugLines bool `koanf:"store_debug_lines"`

	// SkipValidation disables the startup log-format probe.
	SkipValidation bool `koanf:"skip_validation"`

	// Hostname is stamped onto geo events; defaults to os.Hostname().
	Hostname string `koanf:"hostname"`

	// WaitForFile bounds the startup wait for the log file to appear.
	WaitForFile time.Duration `koanf:"wait_for_file"`
}

// GeoIPConfig locates the MaxMind city database.
type GeoIPConfig struct {
	// Path to a GeoLite2/GeoIP2 City .mmdb file.
	Path string `koanf:"path" validate:"required"`

	// Locales is the preference order for localized names.
	// Unsupported entries are dropped; "en" is the fallback.
	Locales []string `koanf:"locales"`
}

// DatabaseConfig configures the embedded DuckDB store.
type DatabaseConfig struct {
	// Path is the database file, or ":memory:" for tests.
	Path string `koanf:"path" validate:"required"`

	// MaxMemory limits DuckDB memory usage (e.g. "2GB").
	MaxMemory string `koanf:"max_memory"`

	// Threads for DuckDB; 0 = runtime.NumCPU().
	Threads int `koanf:"threads" validate:"min=0"`
}

// AnalyticsConfig controls aggregation behavior.
type AnalyticsConfig struct {
	// HourlyRetentionDays bounds hourly_stats history. Rows older than
	// the cutoff are deleted by the retention sweep; rows exactly at
	// the cutoff hour are kept.
	HourlyRetentionDays int `koanf:"hourly_retention_days" validate:"min=1,max=3650"`
}

// SchedulerConfig controls the cron jobs. All times are UTC.
type SchedulerConfig struct {
	Enabled bool `koanf:"enabled"`

	// RollupHour/RollupMinute schedule the daily rollup (default 00:05).
	RollupHour   int `koanf:"rollup_hour" validate:"min=0,max=23"`
	RollupMinute int `koanf:"rollup_minute" validate:"min=0,max=59"`

	// LocationRefreshInterval drives the set-based last_hit refresh.
	LocationRefreshInterval time.Duration `koanf:"location_refresh_interval" validate:"gt=0"`

	// BackfillDays > 0 rolls up the last N days at startup.
	BackfillDays int `koanf:"backfill_days" validate:"min=0,max=3650"`
}

// ServerConfig configures the read-only HTTP API.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port" validate:"min=1,max=65535"`
	Timeout         time.Duration `koanf:"timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
}

// SecurityConfig holds API protections.
type SecurityConfig struct {
	// RateLimitPerMinute caps requests per client IP; 0 disables.
	RateLimitPerMinute int `koanf:"rate_limit_per_minute" validate:"min=0"`

	// CORSOrigins lists allowed origins; empty disables CORS headers.
	CORSOrigins []string `koanf:"cors_origins"`
}

// LoggingConfig configures zerolog output.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"omitempty,oneof=trace debug info warn warning error fatal panic disabled"`
	Format string `koanf:"format" validate:"omitempty,oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// validate is the package-level validator instance. validator/v10
// caches struct metadata, so a single instance is reused.
var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks ranges via struct tags plus cross-field rules that
// tags cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if ok := asValidationErrors(err, &verrs); ok && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("config field %s failed %q validation", fe.Namespace(), fe.Tag())
		}
		return fmt.Errorf("config validation: %w", err)
	}

	if c.LogParser.CommitInterval < 100*time.Millisecond {
		return fmt.Errorf("logparser.commit_interval %s too small; minimum 100ms", c.LogParser.CommitInterval)
	}
	if c.LogParser.PollInterval < 10*time.Millisecond {
		return fmt.Errorf("logparser.poll_interval %s too small; minimum 10ms", c.LogParser.PollInterval)
	}

	return nil
}

// asValidationErrors unwraps a validator error list.
func asValidationErrors(err error, target *validator.ValidationErrors) bool {
	verrs, ok := err.(validator.ValidationErrors)
	if ok {
		*target = verrs
	}
	return ok
}
