package postgres

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres" // postgres driver
	_ "github.com/golang-migrate/migrate/v4/source/file"       // file source driver
)

// ─────────────────────────────────────────────────────────────────────────────
// Schema migrations
// ─────────────────────────────────────────────────────────────────────────────

// RunMigrations applies all pending migrations from the given source path
// (e.g. "file://migrations"). Called on startup so the audit schema is
// current before the first run is persisted. A database that is already up
// to date is not an error.
func RunMigrations(dbURL, migrationsPath string) error {
	m, err := migrate.New(migrationsPath, dbURL)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			return nil
		}
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// RollbackMigration rolls the schema back by the given number of steps.
// Intended for development and incident recovery.
func RollbackMigration(dbURL, migrationsPath string, steps int) error {
	if steps <= 0 {
		return fmt.Errorf("steps must be greater than 0, got %d", steps)
	}

	m, err := migrate.New(migrationsPath, dbURL)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	defer m.Close()

	if err := m.Steps(-steps); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("no migrations to roll back")
		}
		return fmt.Errorf("failed to rollback %d step(s): %w", steps, err)
	}
	return nil
}

// MigrationStatus reports the applied version and whether the schema is
// dirty. A dirty state means a migration failed partway and needs manual
// intervention before anything else runs.
func MigrationStatus(dbURL, migrationsPath string) (version uint, dirty bool, err error) {
	m, err := migrate.New(migrationsPath, dbURL)
	if err != nil {
		return 0, false, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	defer m.Close()

	version, dirty, err = m.Version()
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to get migration version: %w", err)
	}
	return version, dirty, nil
}

// ForceMigrationVersion stamps the schema version without running any
// migration. Recovery tool for a dirty state; it can leave the schema
// inconsistent when pointed at the wrong version.
func ForceMigrationVersion(dbURL, migrationsPath string, version int) error {
	m, err := migrate.New(migrationsPath, dbURL)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	defer m.Close()

	if err := m.Force(version); err != nil {
		return fmt.Errorf("failed to force version %d: %w", version, err)
	}
	return nil
}
