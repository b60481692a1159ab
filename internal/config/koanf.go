// Geolytics - Access Log Ingestion and Geographic Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geolytics

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in
// order of priority. The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/geolytics/config.yaml",
	"/etc/geolytics/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config with all defaults applied. Defaults
// load first, then the config file, then environment variables.
func defaultConfig() *Config {
	return &Config{
		LogParser: LogParserConfig{
			Path:            "/var/log/nginx/access.log",
			PollInterval:    time.Second,
			BatchSize:       100,
			CommitInterval:  5 * time.Second,
			SendLogs:        true,
			StoreDebugLines: false,
			SkipValidation:  false,
			Hostname:        "", // resolved from os.Hostname() at startup
			WaitForFile:     60 * time.Second,
		},
		GeoIP: GeoIPConfig{
			Path:    "/data/GeoLite2-City.mmdb",
			Locales: []string{"en"},
		},
		Database: DatabaseConfig{
			Path:      "/data/geolytics.duckdb",
			MaxMemory: "1GB",
			Threads:   0, // 0 = runtime.NumCPU()
		},
		Analytics: AnalyticsConfig{
			HourlyRetentionDays: 30,
		},
		Scheduler: SchedulerConfig{
			Enabled:                 true,
			RollupHour:              0,
			RollupMinute:            5,
			LocationRefreshInterval: time.Hour,
			BackfillDays:            0,
		},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8088,
			Timeout:         30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Security: SecurityConfig{
			RateLimitPerMinute: 100,
			CORSOrigins:        nil,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadWithKoanf loads configuration using Koanf v2 with layered sources:
//  1. Defaults: built-in sensible defaults
//  2. Config file: optional YAML file (if present)
//  3. Environment variables: override any setting
func LoadWithKoanf() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Environment variables (highest priority). Both the GEOLYTICS_
	// nested form (GEOLYTICS_LOGPARSER_BATCH_SIZE) and the legacy flat
	// aliases (BATCH_SIZE) are honored.
	envProvider := env.Provider("", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile searches for a config file in the default paths.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// sliceConfigPaths defines which config paths are parsed as
// comma-separated slices when they arrive as env strings.
var sliceConfigPaths = []string{
	"geoip.locales",
	"security.cors_origins",
}

// processSliceFields converts comma-separated string values to slices
// for known slice fields. Env vars come in as strings, but the config
// expects slices.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}

		// Already a slice (from YAML file)
		if _, ok := val.([]interface{}); ok {
			continue
		}
		if _, ok := val.([]string); ok {
			continue
		}

		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("failed to set %s: %w", path, err)
			}
		}
	}
	return nil
}

// envTransformFunc maps environment variable names to koanf config
// paths. Legacy flat names used by earlier deployments are translated
// to their nested locations; GEOLYTICS_-prefixed names map section by
// section.
//
// Examples:
//   - LOG_PATH -> logparser.path
//   - BATCH_SIZE -> logparser.batch_size
//   - GEOIP_DB_PATH -> geoip.path
//   - GEOLYTICS_SERVER_PORT -> server.port
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	envMappings := map[string]string{
		// Tailer / parser / persister
		"log_path":          "logparser.path",
		"poll_interval":     "logparser.poll_interval",
		"batch_size":        "logparser.batch_size",
		"commit_interval":   "logparser.commit_interval",
		"send_logs":         "logparser.send_logs",
		"store_debug_lines": "logparser.store_debug_lines",
		"skip_validation":   "logparser.skip_validation",
		"log_hostname":      "logparser.hostname",

		// GeoIP
		"geoip_db_path": "geoip.path",
		"geoip_locales": "geoip.locales",

		// Database
		"duckdb_path":       "database.path",
		"duckdb_max_memory": "database.max_memory",
		"duckdb_threads":    "database.threads",

		// Aggregation / scheduler
		"hourly_retention_days":     "analytics.hourly_retention_days",
		"scheduler_enabled":         "scheduler.enabled",
		"rollup_hour":               "scheduler.rollup_hour",
		"rollup_minute":             "scheduler.rollup_minute",
		"location_refresh_interval": "scheduler.location_refresh_interval",
		"backfill_days":             "scheduler.backfill_days",

		// HTTP server
		"http_host": "server.host",
		"http_port": "server.port",

		// Security
		"rate_limit_per_minute": "security.rate_limit_per_minute",
		"cors_origins":          "security.cors_origins",

		// Logging
		"log_level":  "logging.level",
		"log_format": "logging.format",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}

	// GEOLYTICS_SECTION_FIELD_NAME -> section.field_name
	if rest, ok := strings.CutPrefix(key, "geolytics_"); ok {
		section, field, found := strings.Cut(rest, "_")
		if found {
			return section + "." + field
		}
		return rest
	}

	// Unknown variables are ignored rather than polluting the tree.
	return ""
}
