// Package db runs schema migrations and records export snapshots.
package db

import (
	"errors"
	"fmt"
	"strings"

	"github.com/OFFIS-RIT/folio/backend/pkg/logger"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// Migrate applies all pending migrations from dir to the database at
// databaseURL. An up-to-date schema is not an error.
func Migrate(dir, databaseURL string) error {
	if dir == "" {
		dir = "migrations"
	}
	source := dir
	if !strings.Contains(source, "://") {
		source = "file://" + source
	}

	m, err := migrate.New(source, databaseURL)
	if err != nil {
		return fmt.Errorf("failed to open migrations: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	logger.Info("Database schema ready", "version", version, "dirty", dirty)
	return nil
}
