// Geolytics - Access Log Ingestion and Geographic Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geolytics

/*
main.go - Process Entry Point

Startup order: logging, configuration, store probe, GeoIP, then the
supervision tree. The store probe decides between full operation and
degraded mode: with no reachable store the ingest pipeline and
scheduler are never started and the API serves zeros until a restart.
*/
package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomtom215/geolytics/internal/api"
	"github.com/tomtom215/geolytics/internal/config"
	"github.com/tomtom215/geolytics/internal/database"
	"github.com/tomtom215/geolytics/internal/geoip"
	"github.com/tomtom215/geolytics/internal/ingest"
	"github.com/tomtom215/geolytics/internal/logging"
	"github.com/tomtom215/geolytics/internal/scheduler"
	"github.com/tomtom215/geolytics/internal/supervisor"
	"github.com/tomtom215/geolytics/internal/supervisor/services"
)

const storeProbeTimeout = 10 * time.Second

func main() {
	cfg, err := config.LoadWithKoanf()
	if err != nil {
		logging.Fatal().Err(err).Msg("Configuration load failed")
	}

	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Caller:    cfg.Logging.Caller,
		Timestamp: true,
	})

	logging.Info().
		Str("version", api.Version).
		Str("log_path", cfg.LogParser.Path).
		Str("database", cfg.Database.Path).
		Msg("Geolytics starting")

	if err := run(cfg); err != nil {
		logging.Fatal().Err(err).Msg("Geolytics terminated")
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Store probe. Failure is survivable: the API still comes up.
	db, degraded := openStore(&cfg.Database)
	if db != nil {
		defer func() {
			if err := db.Close(); err != nil {
				logging.Error().Err(err).Msg("Database close failed")
			}
		}()
	}

	var resolver *geoip.Resolver
	if !degraded {
		var err error
		resolver, err = geoip.Open(cfg.GeoIP.Path, cfg.GeoIP.Locales)
		if err != nil {
			return fmt.Errorf("geoip: %w", err)
		}
		defer func() {
			if err := resolver.Close(); err != nil {
				logging.Error().Err(err).Msg("GeoIP close failed")
			}
		}()
	}

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})

	var ingestSvc *ingest.Service
	if !degraded {
		ingestSvc = ingest.NewService(&cfg.LogParser, db, resolver, 0)
		tree.AddPipelineService(ingestSvc)

		if cfg.Scheduler.Enabled {
			tree.AddPipelineService(scheduler.New(&cfg.Scheduler, &cfg.Analytics, db))
		} else {
			logging.Warn().Msg("Scheduler disabled; rollup, retention and last_hit refresh will not run")
		}
	}

	handler := buildHandler(db, ingestSvc, resolver != nil, degraded)
	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           api.NewRouter(handler, &cfg.Security),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.Server.Timeout,
		WriteTimeout:      cfg.Server.Timeout,
	}
	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))

	logging.Info().
		Str("addr", server.Addr).
		Bool("degraded", degraded).
		Msg("Serving")

	err := tree.Serve(ctx)
	if err != nil && ctx.Err() != nil {
		// Normal signal-driven shutdown.
		logging.Info().Msg("Shutdown complete")
		return nil
	}
	return err
}

// openStore probes the database with a bounded timeout. On failure it
// returns a nil store and degraded=true.
func openStore(cfg *config.DatabaseConfig) (*database.DB, bool) {
	db, err := database.New(cfg)
	if err != nil {
		logging.Error().Err(err).Msg("Store unreachable, entering degraded mode; restart required to recover")
		return nil, true
	}

	probeCtx, cancel := context.WithTimeout(context.Background(), storeProbeTimeout)
	defer cancel()
	if err := db.Ping(probeCtx); err != nil {
		logging.Error().Err(err).Msg("Store probe failed, entering degraded mode; restart required to recover")
		_ = db.Close()
		return nil, true
	}
	return db, false
}

// buildHandler avoids handing the api package a typed-nil Store or
// status provider.
func buildHandler(db *database.DB, ingestSvc *ingest.Service, geoipLoaded, degraded bool) *api.Handler {
	var store api.Store
	if db != nil && !degraded {
		store = db
	}
	var status api.IngestStatusProvider
	if ingestSvc != nil {
		status = ingestSvc
	}
	return api.NewHandler(store, status, geoipLoaded)
}
