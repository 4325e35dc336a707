package database

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"

	"github.com/helixir/paper-harvester/migrations"
)

// MigrationsTable records the applied schema version. It is prefixed so the
// harvester can share a database with other services.
const MigrationsTable = "harvester_schema_migrations"

// Migrator applies the papers schema with golang-migrate.
type Migrator struct {
	migrate *migrate.Migrate
	sqlDB   *sql.DB // stdlib view of the pgx pool; closed with the migrator
	source  string
	logger  zerolog.Logger
}

// NewMigrator creates a migrator for db. An empty migrationsPath uses the
// migrations embedded in the binary; otherwise the directory is read.
func NewMigrator(db *DB, migrationsPath string, logger zerolog.Logger) (*Migrator, error) {
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}
	if db.pool == nil {
		return nil, fmt.Errorf("database pool not initialized")
	}

	src, name, err := openSource(migrationsPath)
	if err != nil {
		return nil, err
	}

	sqlDB := stdlib.OpenDBFromPool(db.pool)
	driver, err := postgres.WithInstance(sqlDB, &postgres.Config{
		MigrationsTable: MigrationsTable,
	})
	if err != nil {
		_ = src.Close()
		_ = sqlDB.Close()
		return nil, fmt.Errorf("create postgres driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		_ = src.Close()
		_ = sqlDB.Close()
		return nil, fmt.Errorf("create migrator: %w", err)
	}

	return &Migrator{
		migrate: m,
		sqlDB:   sqlDB,
		source:  name,
		logger:  logger.With().Str("component", "migrator").Str("source", name).Logger(),
	}, nil
}

// openSource returns the migration source for path and a name for logs.
func openSource(path string) (source.Driver, string, error) {
	var (
		fsys fs.FS = migrations.FS
		name       = "embedded"
	)
	if path != "" {
		info, err := os.Stat(path)
		if err != nil {
			return nil, "", fmt.Errorf("migrations path: %w", err)
		}
		if !info.IsDir() {
			return nil, "", fmt.Errorf("migrations path %s is not a directory", path)
		}
		fsys, name = os.DirFS(path), path
	}

	src, err := iofs.New(fsys, ".")
	if err != nil {
		return nil, "", fmt.Errorf("open %s migrations: %w", name, err)
	}
	return src, name, nil
}

// Source names where migrations are read from.
func (m *Migrator) Source() string {
	return m.source
}

// Up applies every pending migration.
func (m *Migrator) Up() error {
	m.logger.Info().Msg("applying migrations")
	if err := m.migrate.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			m.logger.Info().Msg("schema is up to date")
			return nil
		}
		return fmt.Errorf("apply migrations: %w", err)
	}
	m.logVersion("migrations applied")
	return nil
}

// Down rolls back every migration, dropping the papers table.
func (m *Migrator) Down() error {
	m.logger.Warn().Msg("rolling back all migrations")
	if err := m.migrate.Down(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			m.logger.Info().Msg("nothing to roll back")
			return nil
		}
		return fmt.Errorf("roll back migrations: %w", err)
	}
	return nil
}

// Steps applies n migrations, or rolls back -n when n is negative. Running
// past either end is not an error.
func (m *Migrator) Steps(n int) error {
	if err := m.migrate.Steps(n); err != nil {
		if errors.Is(err, migrate.ErrNoChange) || errors.Is(err, fs.ErrNotExist) {
			m.logger.Info().Int("steps", n).Msg("no further migrations in that direction")
			return nil
		}
		return fmt.Errorf("migrate %d steps: %w", n, err)
	}
	m.logVersion("migration steps applied")
	return nil
}

// Version returns the applied version and whether the last migration failed
// half way. A database that was never migrated reports version 0.
func (m *Migrator) Version() (uint, bool, error) {
	v, dirty, err := m.migrate.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return v, dirty, err
}

// Force records version as applied and clears the dirty flag.
func (m *Migrator) Force(version int) error {
	m.logger.Warn().Int("version", version).Msg("forcing migration version")
	return m.migrate.Force(version)
}

func (m *Migrator) logVersion(msg string) {
	v, dirty, err := m.Version()
	if err != nil {
		m.logger.Warn().Err(err).Msg(msg)
		return
	}
	m.logger.Info().Uint("version", v).Bool("dirty", dirty).Msg(msg)
}

// Close releases the source and the stdlib connection wrapper. The pool
// itself stays open.
func (m *Migrator) Close() error {
	sourceErr, dbErr := m.migrate.Close()
	if err := m.sqlDB.Close(); err != nil && dbErr == nil {
		dbErr = err
	}
	return errors.Join(sourceErr, dbErr)
}
