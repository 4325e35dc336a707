// Package main provides a CLI tool for database migrations.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/paper-harvester/internal/config"
	"github.com/helixir/paper-harvester/internal/database"
	"github.com/helixir/paper-harvester/internal/observability"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	direction := flag.String("direction", "", "Migration action: up, down, steps, version or force")
	n := flag.Int("n", 0, "Step count for -direction steps (negative rolls back), or the version for -direction force")
	migrationsPath := flag.String("path", "", "Read migrations from this directory instead of the embedded set")
	flag.Parse()

	switch *direction {
	case "up", "down", "version":
	case "steps":
		if *n == 0 {
			return fmt.Errorf("-direction steps requires a non-zero -n")
		}
	case "force":
		if *n < 0 {
			return fmt.Errorf("-direction force requires -n >= 0")
		}
	case "":
		flag.Usage()
		return fmt.Errorf("no action specified")
	default:
		return fmt.Errorf("unknown direction %q", *direction)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      "info",
		Format:     "console",
		Output:     "stdout",
		TimeFormat: time.RFC3339,
	})
	logger = logger.With().Str("component", "migrate").Logger()

	migrationDir := cfg.Database.MigrationPath
	if *migrationsPath != "" {
		migrationDir = *migrationsPath
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := database.New(ctx, &cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	migrator, err := database.NewMigrator(db, migrationDir, logger)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			logger.Error().Err(closeErr).Msg("failed to close migrator")
		}
	}()

	switch *direction {
	case "up":
		if err := migrator.Up(); err != nil {
			return fmt.Errorf("migrate up: %w", err)
		}
	case "down":
		if err := migrator.Down(); err != nil {
			return fmt.Errorf("migrate down: %w", err)
		}
	case "steps":
		logger.Info().Int("steps", *n).Msg("running migration steps")
		if err := migrator.Steps(*n); err != nil {
			return fmt.Errorf("migrate steps: %w", err)
		}
	case "force":
		logger.Warn().Int("version", *n).Msg("forcing migration version")
		if err := migrator.Force(*n); err != nil {
			return fmt.Errorf("force version: %w", err)
		}
	}
	printVersion(migrator, logger)
	return nil
}

// printVersion prints the current migration version to stdout.
func printVersion(migrator *database.Migrator, logger zerolog.Logger) {
	v, dirty, err := migrator.Version()
	if err != nil {
		logger.Warn().Err(err).Msg("could not determine migration version")
		return
	}
	logger.Info().
		Uint("version", v).
		Bool("dirty", dirty).
		Msg("current migration version")
}
