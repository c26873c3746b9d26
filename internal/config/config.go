// Package config collects service settings from environment variables, with
// command-line flags overriding them.
package config

import (
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/Rhymond/go-money"
	"github.com/dvloznov/finance-ledger/internal/logger"
)

// Config holds the settings shared by the api, worker and cli commands.
type Config struct {
	// DatabaseURL is the postgres DSN. Empty selects the in-memory store.
	DatabaseURL string
	// RedisAddr enables the batch lock and the notification channel.
	RedisAddr string
	// CronSecret guards the cron route when set.
	CronSecret string
	// Currency is the ISO code notification amounts are formatted in.
	Currency string

	Log logger.Options

	HTTPPort         string
	ScheduleInterval time.Duration

	// GCPProject and BQDataset enable the BigQuery export sink.
	GCPProject string
	BQDataset  string
	// ExportBucket enables the GCS export sink.
	ExportBucket string
}

// Register binds every setting to a flag on fs whose default comes from the
// environment. Call Validate after fs is parsed.
func Register(fs *flag.FlagSet, getenv func(string) string) *Config {
	c := &Config{}
	env := func(key, def string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return def
	}

	fs.StringVar(&c.DatabaseURL, "database-url", env("DATABASE_URL", ""), "Postgres connection string (or set DATABASE_URL env)")
	fs.StringVar(&c.RedisAddr, "redis-addr", env("REDIS_ADDR", ""), "Redis address host:port (or set REDIS_ADDR env)")
	fs.StringVar(&c.CronSecret, "cron-secret", env("CRON_SECRET", ""), "Bearer secret for the cron route (or set CRON_SECRET env)")
	fs.StringVar(&c.Currency, "currency", env("LEDGER_CURRENCY", "BRL"), "Currency code for notification amounts (or set LEDGER_CURRENCY env)")
	fs.StringVar(&c.Log.Level, "log-level", env("LOG_LEVEL", "info"), "Log level (or set LOG_LEVEL env)")
	fs.StringVar(&c.Log.Format, "log-format", env("LOG_FORMAT", "console"), "Log format: console or json (or set LOG_FORMAT env)")
	fs.StringVar(&c.HTTPPort, "port", env("HTTP_PORT", "8080"), "HTTP server port (or set HTTP_PORT env)")
	fs.StringVar(&c.GCPProject, "gcp-project", env("GCP_PROJECT", ""), "GCP project for exports (or set GCP_PROJECT env)")
	fs.StringVar(&c.BQDataset, "bq-dataset", env("BQ_DATASET", ""), "BigQuery dataset for exports (or set BQ_DATASET env)")
	fs.StringVar(&c.ExportBucket, "export-bucket", env("EXPORT_BUCKET", ""), "GCS bucket for exports (or set EXPORT_BUCKET env)")

	interval := 24 * time.Hour
	if raw := env("SCHEDULE_INTERVAL", ""); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil {
			interval = d
		} else {
			// Surfaced by Validate.
			interval = -1
		}
	}
	fs.DurationVar(&c.ScheduleInterval, "schedule-interval", interval, "How often the worker runs recurrences (or set SCHEDULE_INTERVAL env)")

	return c
}

// Load registers the settings on fs, parses args and validates the result.
func Load(fs *flag.FlagSet, args []string, getenv func(string) string) (*Config, error) {
	c := Register(fs, getenv)
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("Load: parsing flags: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("Load: %w", err)
	}
	return c, nil
}

// Validate checks the settings and normalises the currency code.
func (c *Config) Validate() error {
	var errs []error

	c.Currency = strings.ToUpper(strings.TrimSpace(c.Currency))
	if money.GetCurrency(c.Currency) == nil {
		errs = append(errs, fmt.Errorf("unknown currency %q", c.Currency))
	}

	switch strings.ToLower(c.Log.Format) {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("log format must be console or json, got %q", c.Log.Format))
	}

	if c.ScheduleInterval <= 0 {
		errs = append(errs, errors.New("schedule interval must be a positive duration"))
	}

	if (c.GCPProject == "") != (c.BQDataset == "") {
		errs = append(errs, errors.New("gcp project and bigquery dataset must be set together"))
	}
	if c.ExportBucket != "" && c.GCPProject == "" {
		errs = append(errs, errors.New("export bucket requires a gcp project"))
	}

	return errors.Join(errs...)
}

// BigQueryEnabled reports whether the BigQuery export sink is configured.
func (c *Config) BigQueryEnabled() bool {
	return c.GCPProject != "" && c.BQDataset != ""
}

// GCSEnabled reports whether the GCS export sink is configured.
func (c *Config) GCSEnabled() bool {
	return c.ExportBucket != ""
}
