// Package migrate applies schema migrations: golang-migrate for the
// PostgreSQL ledger and a versioned SQL runner for the BigQuery export dataset.
package migrate

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"
)

// Postgres applies every migration in dir to the database at dsn, or reverts
// all of them when down is true. Running with nothing to do is not an error.
func Postgres(dsn, dir string, down bool, log zerolog.Logger) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("Postgres: resolve %s: %w", dir, err)
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("Postgres: open: %w", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{SchemaName: "public"})
	if err != nil {
		return fmt.Errorf("Postgres: driver instance: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+filepath.ToSlash(abs), "postgres", driver)
	if err != nil {
		return fmt.Errorf("Postgres: migration instance: %w", err)
	}

	if down {
		err = m.Down()
	} else {
		err = m.Up()
	}

	switch {
	case err == nil:
	case errors.Is(err, migrate.ErrNoChange):
		log.Info().Msg("no new migrations")
		return nil
	case errors.Is(err, os.ErrNotExist):
		log.Warn().Str("dir", dir).Msg("no migration files found")
		return nil
	default:
		var dirty migrate.ErrDirty
		if errors.As(err, &dirty) {
			return fmt.Errorf("Postgres: dirty database version %d", dirty.Version)
		}
		return fmt.Errorf("Postgres: migrate: %w", err)
	}

	version, _, verr := m.Version()
	if verr != nil && !errors.Is(verr, migrate.ErrNilVersion) {
		return fmt.Errorf("Postgres: version: %w", verr)
	}
	log.Info().Uint("version", version).Bool("down", down).Msg("migrations applied")
	return nil
}
