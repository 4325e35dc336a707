// Package main provides the entry point for the paper harvester.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/helixir/paper-harvester/internal/config"
	"github.com/helixir/paper-harvester/internal/database"
	"github.com/helixir/paper-harvester/internal/harvest"
	"github.com/helixir/paper-harvester/internal/observability"
	"github.com/helixir/paper-harvester/internal/proxypool"
	"github.com/helixir/paper-harvester/internal/resolver"
	"github.com/helixir/paper-harvester/internal/scheduler"
	httpserver "github.com/helixir/paper-harvester/internal/server/http"
	"github.com/helixir/paper-harvester/internal/venues"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	tier := flag.String("tier", "", "CCF tier to harvest (a, b, c); overrides harvest.tier")
	classification := flag.String("classification", "", "conf or journal; overrides harvest.classification")
	input := flag.String("input", "", "Re-read venue-year files from this directory instead of querying DBLP")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if *tier != "" {
		cfg.Harvest.Tier = *tier
	}
	if *classification != "" {
		cfg.Harvest.Classification = *classification
	}
	if *input != "" {
		cfg.Harvest.InputDir = *input
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		AddSource:  cfg.Logging.AddSource,
		TimeFormat: cfg.Logging.TimeFormat,
	})
	runID := uuid.NewString()
	// Components take the base logger and read the run ID from ctx.
	runLog := logger.With().Str("component", "harvester").Str("run_id", runID).Logger()
	runLog.Info().
		Str("tier", cfg.Harvest.Tier).
		Str("classification", cfg.Harvest.Classification).
		Int("year_from", cfg.Harvest.YearFrom).
		Int("year_to", cfg.Harvest.YearTo).
		Msg("paper harvester starting")

	var metrics *observability.Metrics
	if cfg.Metrics.Enabled {
		metrics = observability.NewMetrics(cfg.Metrics.Namespace)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = observability.WithRunID(ctx, runID)

	catalog, err := venues.Load(cfg.Harvest.CatalogPath)
	if err != nil {
		return fmt.Errorf("load venue catalog: %w", err)
	}

	var db *database.DB
	if cfg.Database.Enabled {
		db, err = openDatabase(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer db.Close()

		lockName := fmt.Sprintf("harvest:%s:%s", cfg.Harvest.Tier, cfg.Harvest.Classification)
		lock, err := db.TryRunLock(ctx, lockName)
		if err != nil {
			return err
		}
		if lock == nil {
			return fmt.Errorf("another harvest of %s is already running", lockName)
		}
		defer func() {
			if err := lock.Release(context.Background()); err != nil {
				runLog.Error().Err(err).Msg("failed to release run lock")
			}
		}()
	}

	pool, err := buildPool(cfg, logger, metrics)
	if err != nil {
		return err
	}
	poolCtx, stopPool := context.WithCancel(ctx)
	defer stopPool()
	if pool != nil {
		go func() {
			if err := pool.Run(poolCtx); err != nil && !errors.Is(err, context.Canceled) {
				runLog.Error().Err(err).Msg("proxy pool stopped")
			}
		}()
	}

	netClient := buildNetClient(cfg, pool, logger, metrics)
	defer netClient.Close()

	registry, err := buildRegistry(cfg, netClient)
	if err != nil {
		return err
	}
	res, err := resolver.New(registry, resolverConfig(cfg), logger,
		resolver.WithRules(catalog),
		resolver.WithMetrics(metrics),
	)
	if err != nil {
		return fmt.Errorf("create resolver: %w", err)
	}
	runLog.Info().Interface("sources", registry.IDs()).Msg("source registry sealed")

	sched := scheduler.New(ctx, scheduler.Config{MaxConcurrent: cfg.Scheduler.MaxConcurrent},
		harvest.ResolveTask(res), logger, scheduler.WithMetrics(metrics))

	writers, fileWriter, err := buildWriters(cfg, db, logger, metrics)
	if err != nil {
		sched.Cancel()
		sched.Close()
		return err
	}
	defer func() {
		if err := writers.Close(); err != nil {
			runLog.Error().Err(err).Msg("failed to close writers")
		}
	}()

	source := buildSource(cfg, catalog, db, fileWriter, logger, metrics)
	pipeline := harvest.New(source, sched, writers, logger, harvest.WithMetrics(metrics))

	var srv *httpserver.Server
	if cfg.Server.Enabled {
		srv = startServer(cfg, db, pool, sched, pipeline, logger)
	}

	summary, runErr := pipeline.Run(ctx, cfg.Harvest.Tier, cfg.Harvest.Classification)

	if runErr != nil && ctx.Err() != nil {
		sched.Cancel()
	}
	sched.Close()
	stopPool()

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			runLog.Error().Err(err).Msg("HTTP server shutdown error")
		}
		cancel()
	}

	switch {
	case runErr == nil:
		runLog.Info().
			Int("editions", len(summary.Editions)).
			Int("fetched", summary.Totals.Fetched).
			Msg("harvest complete")
		return nil
	case errors.Is(runErr, context.Canceled):
		runLog.Warn().Msg("harvest interrupted; unfinished editions were not written")
		return nil
	default:
		return fmt.Errorf("harvest: %w", runErr)
	}
}

func openDatabase(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*database.DB, error) {
	db, err := database.New(ctx, &cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if !cfg.Database.MigrationAutoRun {
		return db, nil
	}

	migrator, err := database.NewMigrator(db, cfg.Database.MigrationPath, logger)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create migrator: %w", err)
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			logger.Error().Err(closeErr).Msg("failed to close migrator")
		}
	}()
	if err := migrator.Up(); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return db, nil
}

func startServer(
	cfg *config.Config,
	db *database.DB,
	pool *proxypool.Pool,
	sched *scheduler.Scheduler,
	pipeline *harvest.Pipeline,
	logger zerolog.Logger,
) *httpserver.Server {
	opts := []httpserver.Option{
		httpserver.WithScheduler(sched),
		httpserver.WithSummary(pipeline),
	}
	if db != nil {
		opts = append(opts, httpserver.WithDatabase(db))
	}
	if pool != nil {
		opts = append(opts, httpserver.WithPool(pool))
	}

	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
		if metricsPath == "" {
			metricsPath = httpserver.DefaultMetricsPath
		}
	}

	srv := httpserver.NewServer(httpserver.Config{
		Address:         cfg.Server.Address(),
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		MetricsPath:     metricsPath,
	}, logger, opts...)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("HTTP server error")
		}
	}()
	return srv
}
