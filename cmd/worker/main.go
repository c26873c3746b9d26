package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/finance-ledger/internal/app"
	"github.com/dvloznov/finance-ledger/internal/config"
	"github.com/dvloznov/finance-ledger/internal/jobs"
	"github.com/dvloznov/finance-ledger/internal/jobs/inmemory"
	"github.com/dvloznov/finance-ledger/internal/logger"
)

func main() {
	cfg, err := config.Load(flag.CommandLine, os.Args[1:], os.Getenv)
	if err != nil {
		startupLog := logger.New()
		startupLog.Fatal().Err(err).Msg("Invalid configuration")
	}

	log := logger.NewWithOptions(os.Stdout, cfg.Log)

	// Create context that cancels on interrupt
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.Build(ctx, cfg, log, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build application")
	}
	defer a.Close()

	if a.Redis == nil {
		log.Warn().Msg("No REDIS_ADDR configured - notifications are only logged and overlapping runs are not locked across instances")
	}

	// Initialize job store and queue
	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(100, jobStore)

	log.Info().Dur("interval", cfg.ScheduleInterval).Msg("Starting worker service")

	dispatcher := jobs.NewDispatcher(a.Scheduler, a.Exporter, log)
	if err := jobQueue.Start(ctx, dispatcher.Handle); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job consumer")
	}

	// Publish one recurrence run now and then on every tick
	enqueue := func(now time.Time) {
		job := &jobs.LedgerJob{
			Type: jobs.JobTypeProcessRecurrences,
			AsOf: civil.DateOf(now).String(),
		}
		if err := jobQueue.Publish(ctx, job); err != nil {
			log.Error().Err(err).Msg("Failed to enqueue recurrence run")
			return
		}
		log.Info().Str("job_id", job.JobID).Str("as_of", job.AsOf).Msg("Recurrence run enqueued")
	}

	go func() {
		enqueue(time.Now())
		ticker := time.NewTicker(cfg.ScheduleInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				enqueue(now)
			}
		}
	}()

	log.Info().Msg("Worker service started, waiting for jobs...")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down worker service...")

	// Cancel context to stop workers
	cancel()

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop the queue and wait for in-flight jobs
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error during graceful shutdown")
	}

	log.Info().Msg("Worker service exited")
}
