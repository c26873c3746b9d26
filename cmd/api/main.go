package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dvloznov/finance-ledger/internal/api/handlers"
	"github.com/dvloznov/finance-ledger/internal/api/middleware"
	"github.com/dvloznov/finance-ledger/internal/app"
	"github.com/dvloznov/finance-ledger/internal/config"
	"github.com/dvloznov/finance-ledger/internal/jobs"
	"github.com/dvloznov/finance-ledger/internal/jobs/inmemory"
	"github.com/dvloznov/finance-ledger/internal/logger"
	"github.com/dvloznov/finance-ledger/internal/notify"
)

func main() {
	cfg, err := config.Load(flag.CommandLine, os.Args[1:], os.Getenv)
	if err != nil {
		startupLog := logger.New()
		startupLog.Fatal().Err(err).Msg("Invalid configuration")
	}

	log := logger.NewWithOptions(os.Stdout, cfg.Log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Websocket clients of this instance
	hub := notify.NewHub(log)
	hub.Start(ctx)

	a, err := app.Build(ctx, cfg, log, hub)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build application")
	}
	defer a.Close()

	// With redis, events from any instance (and the worker) reach this hub
	// through the notification channel.
	if a.Redis != nil {
		go func() {
			if err := notify.Relay(ctx, a.Redis, notify.DefaultChannel, hub, log); err != nil {
				log.Error().Err(err).Msg("Notification relay stopped")
			}
		}()
	}

	// Initialize job infrastructure
	jobStore := inmemory.NewStore()
	var publisher jobs.Publisher
	var jobQueue *inmemory.Queue
	if a.Exporter != nil {
		jobQueue = inmemory.NewQueue(100, jobStore)
		dispatcher := jobs.NewDispatcher(a.Scheduler, a.Exporter, log)
		if err := jobQueue.Start(ctx, dispatcher.Handle); err != nil {
			log.Fatal().Err(err).Msg("Failed to start job consumer")
		}
		publisher = jobQueue
	} else {
		log.Warn().Msg("No export sinks configured - export requests will be disabled")
	}

	// Initialize handlers
	transactionsHandler := handlers.NewTransactionsHandler(a.Engine, log)
	accountsHandler := handlers.NewAccountsHandler(a.Engine, log)
	cronHandler := handlers.NewCronHandler(a.Scheduler, log)
	jobsHandler := handlers.NewJobsHandler(jobStore, publisher, log)
	wsHandler := handlers.NewWebSocketHandler(hub, log)

	// Create router
	mux := http.NewServeMux()

	// Transactions endpoints
	mux.HandleFunc("/api/transactions", transactionsHandler.ServeCollection)
	mux.HandleFunc("/api/transactions/", transactionsHandler.ServeItem)

	// Accounts and transfers endpoints
	mux.HandleFunc("/api/accounts", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			accountsHandler.ListAccounts(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/accounts/reconcile", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			accountsHandler.Reconcile(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/transfers", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			accountsHandler.Transfer(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	// Batch trigger, called by an external cron
	mux.Handle("/api/cron/recurrences", middleware.CronSecret(cfg.CronSecret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet || r.Method == http.MethodPost {
			cronHandler.ProcessRecurrences(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})))

	// Jobs and exports endpoints
	mux.HandleFunc("/api/jobs", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			jobsHandler.ListJobs(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/jobs/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			// Extract job ID from path
			jobID := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
			if jobID == "" {
				middleware.WriteError(w, http.StatusBadRequest, "Job ID is required")
				return
			}
			jobsHandler.GetJob(w, r, jobID)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/exports", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			jobsHandler.RequestExport(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	// Notification stream
	mux.HandleFunc("/ws", wsHandler.Serve)

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		status, code := "healthy", http.StatusOK
		if err := a.Ping(r.Context()); err != nil {
			log.Warn().Err(err).Msg("Health check failed")
			status, code = "unhealthy", http.StatusServiceUnavailable
		}
		middleware.WriteJSON(w, code, map[string]string{
			"status": status,
			"store":  a.StoreKind(),
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	// Apply middleware
	handler := middleware.Recovery(log)(
		middleware.RequestID(
			middleware.Logger(log)(
				middleware.CORS(
					middleware.Auth("/health", "/api/cron/")(mux),
				),
			),
		),
	)

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Info().Str("port", cfg.HTTPPort).Str("store", a.StoreKind()).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	if jobQueue != nil {
		if err := jobQueue.Stop(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Error stopping job queue")
		}
	}

	// Stops the relay and closes websocket clients
	cancel()

	log.Info().Msg("Server exited")
}
