/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the billing engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env and configuration (defaults, YAML file, environment)
  2. Open the database and run migrations
  3. Seed default categories
  4. Wire metrics, event publisher, sweeper and service
  5. Start the sweep scheduler (runs once immediately)
  6. Start the HTTP server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port, overrides PORT
  -db      Database DSN, overrides DB_DSN
           Use ":memory:" for an in-memory SQLite database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler (a running sweep page completes)
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close the publisher and database connection

EXAMPLES:
  # Run with file database
  ./server -db="./data/billing.db"

  # Run against Postgres
  DB_DRIVER=postgres DB_DSN=postgres://billing@localhost/billing ./server

SEE ALSO:
  - config/config.go: Configuration keys
  - api/server.go: Router configuration
  - billing/scheduler.go: Sweep triggers
*/
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/warp/billing-engine/api"
	"github.com/warp/billing-engine/billing"
	"github.com/warp/billing-engine/config"
	"github.com/warp/billing-engine/notify/amqp"
	"github.com/warp/billing-engine/store/sqldb"
)

func main() {
	// Flags
	port := flag.String("port", "", "HTTP server port (overrides PORT)")
	dsn := flag.String("db", "", "Database DSN (overrides DB_DSN)")
	flag.Parse()

	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if *port != "" {
		cfg.Port = *port
	}
	if *dsn != "" {
		cfg.DBDSN = *dsn
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx := context.Background()

	// Initialize store
	dialect, err := sqldb.DialectFor(cfg.DBDriver)
	if err != nil {
		return err
	}
	store, err := sqldb.Open(ctx, dialect, cfg.DBDSN)
	if err != nil {
		return err
	}
	defer store.Close()
	logger.Info("Database ready", "driver", store.Dialect().Name)

	if cfg.SeedCategories {
		added, err := store.SeedCategories(ctx, sqldb.DefaultCategories)
		if err != nil {
			return err
		}
		if added > 0 {
			logger.Info("Seeded categories", "count", added)
		}
	}

	metrics := billing.NewMetrics(prometheus.DefaultRegisterer)

	// Bill status events go to RabbitMQ when configured
	var publisher billing.EventPublisher = billing.NopPublisher{}
	if cfg.AMQPURL != "" {
		amqpPublisher, err := amqp.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange, logger)
		if err != nil {
			return err
		}
		defer amqpPublisher.Close()
		publisher = amqpPublisher
		logger.Info("AMQP publisher connected", "exchange", cfg.AMQPExchange)
	}

	sweeper := billing.NewSweeper(store, billing.SweeperConfig{
		PageSize: cfg.Billing.SweepPageSize,
		Location: cfg.Location(),
	}, publisher, metrics, logger)
	defer sweeper.Stop()

	scheduler, err := billing.NewScheduler(sweeper, billing.SchedulerConfig{
		DailyAt:       cfg.Billing.SweepDailyAt,
		Location:      cfg.Location(),
		CheckInterval: cfg.CheckInterval(),
		Enabled:       cfg.Billing.SweepEnabled,
	}, logger)
	if err != nil {
		return err
	}
	scheduler.Start(ctx)
	defer scheduler.Stop()

	service := billing.NewService(store, billing.NewPeriodResolver(cfg.Billing.DueDay), metrics, logger)
	handler := api.NewHandler(service, sweeper, cfg.Billing.AllowAdminSweep, logger)
	router := api.NewRouter(handler, prometheus.DefaultGatherer)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Server starting", "addr", "http://localhost:"+cfg.Port, "api", "http://localhost:"+cfg.Port+"/api")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serverErr:
		return err
	}

	logger.Info("Shutting down server...")
	scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}

	logger.Info("Server stopped")
	return nil
}
