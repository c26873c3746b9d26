package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/finance-ledger/internal/logger"
	"github.com/dvloznov/finance-ledger/internal/migrate"
)

var (
	target      = flag.String("target", "postgres", "Migration target: postgres or bigquery")
	down        = flag.Bool("down", false, "Roll back every Postgres migration instead of applying them")
	databaseURL = flag.String("database-url", os.Getenv("DATABASE_URL"), "PostgreSQL connection string (env DATABASE_URL)")
	projectID   = flag.String("project", os.Getenv("GCP_PROJECT"), "GCP project ID for the BigQuery target (env GCP_PROJECT)")
	datasetID   = flag.String("dataset", envOr("BQ_DATASET", "finance_ledger"), "BigQuery dataset ID (env BQ_DATASET)")
	appliedBy   = flag.String("applied-by", "migrate-cli", "Name recorded with applied BigQuery migrations")
	dir         = flag.String("dir", "", "Migrations directory (defaults to migrations/<target>)")
)

func main() {
	flag.Parse()

	log := logger.New()
	ctx := context.Background()

	migrationsDir, err := resolveDir(*dir, *target)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to locate migrations")
	}

	switch *target {
	case "postgres":
		if *databaseURL == "" {
			log.Fatal().Msg("-database-url or DATABASE_URL is required for the postgres target")
		}
		if err := migrate.Postgres(*databaseURL, migrationsDir, *down, log); err != nil {
			log.Fatal().Err(err).Msg("Postgres migration failed")
		}

	case "bigquery":
		if *down {
			log.Fatal().Msg("-down is not supported for the bigquery target")
		}
		if *projectID == "" {
			log.Fatal().Msg("-project or GCP_PROJECT is required for the bigquery target")
		}

		client, err := bigquery.NewClient(ctx, *projectID)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create BigQuery client")
		}
		defer client.Close()

		log.Info().Str("project", *projectID).Str("dataset", *datasetID).Msg("Connected to BigQuery")

		m := &migrate.BigQuery{
			Client:    client,
			ProjectID: *projectID,
			DatasetID: *datasetID,
			AppliedBy: *appliedBy,
			Log:       log,
		}
		n, err := m.Up(ctx, migrationsDir)
		if err != nil {
			log.Fatal().Err(err).Msg("BigQuery migration failed")
		}
		if n == 0 {
			log.Info().Msg("No new migrations to apply. Dataset is up to date.")
		} else {
			log.Info().Int("applied", n).Msg("Applied migrations")
		}

	default:
		log.Fatal().Str("target", *target).Msg("Unknown target; use postgres or bigquery")
	}
}

// resolveDir finds the migrations directory for target, falling back to the
// repository root when run from cmd/migrate.
func resolveDir(dir, target string) (string, error) {
	if dir == "" {
		dir = filepath.Join("migrations", target)
	}
	if _, err := os.Stat(dir); err == nil {
		return dir, nil
	}
	if filepath.IsAbs(dir) {
		return "", fmt.Errorf("migrations directory not found: %s", dir)
	}
	alt := filepath.Join("..", "..", dir)
	if _, err := os.Stat(alt); err == nil {
		return alt, nil
	}
	return "", fmt.Errorf("migrations directory not found: %s", dir)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
