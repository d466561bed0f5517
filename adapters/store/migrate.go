package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
)

// ApplyMigrations runs the migrations in migrationsDir against dsn. An
// already up-to-date schema is not an error. It returns the resulting version.
func ApplyMigrations(migrationsDir, dsn string) (uint, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return 0, fmt.Errorf("opening database connection: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return 0, fmt.Errorf("database ping failed: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return 0, fmt.Errorf("creating migrate driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+migrationsDir, "postgres", driver)
	if err != nil {
		return 0, fmt.Errorf("creating migrate instance: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return 0, fmt.Errorf("checking migration version: %w", err)
	}
	if dirty {
		return version, fmt.Errorf("database is in a dirty state (version %d)", version)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return version, fmt.Errorf("applying migrations: %w", err)
	}

	version, _, err = m.Version()
	if err != nil {
		return 0, fmt.Errorf("checking migration version: %w", err)
	}
	return version, nil
}
