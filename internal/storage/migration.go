package storage

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"sync"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationsFS embed.FS

// migrationLock ensures only one migration can run at a time
var migrationLock sync.Mutex

// Migrate applies all pending database migrations for the store's dialect.
func (s *Store) Migrate() error {
	migrationLock.Lock()
	defer migrationLock.Unlock()

	dir := "migrations/sqlite"
	if s.Driver() == DriverPostgres {
		dir = "migrations/postgres"
	}

	sourceInstance, err := iofs.New(migrationsFS, dir)
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	var driver database.Driver
	switch s.Driver() {
	case DriverPostgres:
		driver, err = postgres.WithInstance(s.db.DB, &postgres.Config{})
	default:
		driver, err = sqlite3.WithInstance(s.db.DB, &sqlite3.Config{})
	}
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	// The migrate instance is not closed: closing it would close the shared pool.
	m, err := migrate.NewWithInstance("iofs", sourceInstance, s.Driver(), driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	err = m.Up()
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("failed to read migration version: %w", err)
	}
	s.logger.Info("migrations_applied", zap.Uint("version", version), zap.Bool("dirty", dirty))

	return nil
}

// MigrationStatus represents the status of the schema
type MigrationStatus struct {
	Version int64 `db:"version" json:"version"`
	Dirty   bool  `db:"dirty" json:"dirty"`
}

// SchemaVersion returns the applied schema version.
func (s *Store) SchemaVersion(ctx context.Context) (*MigrationStatus, error) {
	var status MigrationStatus
	if err := s.get(ctx, &status, `SELECT version, dirty FROM schema_migrations LIMIT 1`); err != nil {
		return nil, notFound(err, "schema version")
	}
	return &status, nil
}
