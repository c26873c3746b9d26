// Package app composes the ledger components from a Config. The api, worker
// and cli commands share it so they run the same stack.
package app

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/storage"
	"github.com/dvloznov/finance-ledger/internal/config"
	"github.com/dvloznov/finance-ledger/internal/engine"
	"github.com/dvloznov/finance-ledger/internal/export"
	"github.com/dvloznov/finance-ledger/internal/lock"
	"github.com/dvloznov/finance-ledger/internal/notify"
	"github.com/dvloznov/finance-ledger/internal/scheduler"
	"github.com/dvloznov/finance-ledger/internal/store"
	"github.com/dvloznov/finance-ledger/internal/store/memory"
	"github.com/dvloznov/finance-ledger/internal/store/postgres"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// App holds the wired components. Optional parts are nil when their
// settings are absent.
type App struct {
	Config *config.Config
	Log    zerolog.Logger

	Store     store.Store
	Postgres  *postgres.Store // nil on the in-memory store
	Engine    *engine.Engine
	Scheduler *scheduler.Scheduler
	Exporter  *export.Exporter
	BigQuery  *export.BigQuerySink
	GCS       *export.GCSSink
	Redis     redis.UniversalClient

	closers []func() error
}

// Build connects to the configured backends and wires the engine, scheduler
// and exporter. Scheduler events go to the redis channel when redis is
// configured, otherwise to local. local may be nil.
func Build(ctx context.Context, cfg *config.Config, log zerolog.Logger, local notify.Notifier) (*App, error) {
	a := &App{Config: cfg, Log: log}

	if cfg.DatabaseURL != "" {
		pg, err := postgres.New(ctx, cfg.DatabaseURL, log)
		if err != nil {
			return nil, fmt.Errorf("Build: postgres: %w", err)
		}
		a.Postgres = pg
		a.Store = pg
		a.closers = append(a.closers, func() error { pg.Close(); return nil })
	} else {
		log.Warn().Msg("No DATABASE_URL configured - using the in-memory ledger store, which starts with no accounts; set DATABASE_URL and seed accounts with `cli create-account`")
		a.Store = memory.New()
	}

	notifiers := notify.Multi{notify.LogNotifier{Log: log}}
	schedOpts := []scheduler.Option{scheduler.WithCurrency(cfg.Currency)}

	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			a.Close()
			return nil, fmt.Errorf("Build: redis ping: %w", err)
		}
		a.Redis = client
		a.closers = append(a.closers, client.Close)

		notifiers = append(notifiers, notify.NewRedisPublisher(client, notify.DefaultChannel))
		schedOpts = append(schedOpts, scheduler.WithLocker(lock.NewRedisLocker(client, 0)))
	} else {
		if local != nil {
			notifiers = append(notifiers, local)
		}
		schedOpts = append(schedOpts, scheduler.WithLocker(lock.NewLocal()))
	}

	a.Engine = engine.New(a.Store, log)
	a.Scheduler = scheduler.New(a.Store, notifiers, log, schedOpts...)

	if err := a.buildExporter(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("Build: %w", err)
	}
	return a, nil
}

func (a *App) buildExporter(ctx context.Context) error {
	var sinks []export.Sink

	if a.Config.BigQueryEnabled() {
		client, err := bigquery.NewClient(ctx, a.Config.GCPProject)
		if err != nil {
			return fmt.Errorf("bigquery client: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		a.BigQuery = export.NewBigQuerySink(client, a.Config.GCPProject, a.Config.BQDataset)
		sinks = append(sinks, a.BigQuery)
	}

	if a.Config.GCSEnabled() {
		client, err := storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("storage client: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		a.GCS = export.NewGCSSink(client, a.Config.ExportBucket)
		sinks = append(sinks, a.GCS)
	}

	if len(sinks) > 0 {
		a.Exporter = export.New(a.Store, a.Log, sinks...)
	}
	return nil
}

// StoreKind names the backing store for health output.
func (a *App) StoreKind() string {
	if a.Postgres != nil {
		return "postgres"
	}
	return "memory"
}

// Ping checks the backends the app depends on.
func (a *App) Ping(ctx context.Context) error {
	var errs []error
	if a.Postgres != nil {
		if err := a.Postgres.Ping(ctx); err != nil {
			errs = append(errs, fmt.Errorf("postgres: %w", err))
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Ping(ctx).Err(); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Close releases every client in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
