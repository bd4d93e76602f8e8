/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the parking billing server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env + environment), apply flag overrides
  2. Initialize logger and SQLite store
  3. Build notifiers (log, email, broker)
  4. Create API handler, load the tariff
  5. Schedule the delinquency sweep
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (overrides PORT)
  -db      SQLite database path (overrides DATABASE_PATH)
           Use ":memory:" for in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the sweep scheduler, wait for a running sweep
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close broker and database connections

ENVIRONMENT:
  See config/config.go for the full list.

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/parking-engine/api"
	"github.com/warp/parking-engine/billing"
	"github.com/warp/parking-engine/clock"
	"github.com/warp/parking-engine/config"
	"github.com/warp/parking-engine/logger"
	"github.com/warp/parking-engine/notify"
	"github.com/warp/parking-engine/store/sqlite"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Flags
	port := flag.String("port", cfg.Port, "HTTP server port")
	dbPath := flag.String("db", cfg.DatabasePath, "SQLite database path")
	flag.Parse()

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Initialize store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatal("failed to initialize database", zap.String("path", *dbPath), zap.Error(err))
	}
	defer store.Close()

	notifier, closers := buildNotifier(cfg, log)
	defer func() {
		for _, c := range closers {
			c()
		}
	}()

	clk := clock.System{}
	handler := api.NewHandler(store, api.Options{
		Rules:            cfg.Rules(),
		Capacity:         cfg.Capacity(),
		DefaultCycleDays: cfg.DefaultCycleDays,
		Notifier:         notifier,
		Clock:            clk,
		Logger:           log,
	})

	// Load the tariff into cache
	if err := handler.LoadPrices(context.Background()); err != nil {
		log.Warn("failed to load prices, using defaults", zap.Error(err))
	}

	var scheduler *api.Scheduler
	if cfg.SweepEnabled {
		scheduler = api.NewScheduler(handler.Sweep, clk, log.Named("scheduler"))
		if err := scheduler.Schedule(cfg.SweepSchedule); err != nil {
			log.Fatal("failed to schedule sweep", zap.Error(err))
		}
		scheduler.Start()
	}

	// Create router
	router := api.NewRouter(handler, cfg.Origins())

	// Create server
	server := &http.Server{
		Addr:         ":" + *port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("server starting",
			zap.String("addr", server.Addr),
			zap.String("db", *dbPath),
			zap.String("notifier", notifier.Name()),
			zap.Bool("sweep", cfg.SweepEnabled),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if scheduler != nil {
		select {
		case <-scheduler.Stop().Done():
		case <-ctx.Done():
			log.Warn("sweep still running at shutdown")
		}
	}

	if err := server.Shutdown(ctx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}

// buildNotifier assembles the configured notification channels. Channels
// that cannot start are logged and left out; the log channel is always
// available as a fallback.
func buildNotifier(cfg *config.Config, log *zap.Logger) (billing.Notifier, []func()) {
	var (
		channels []billing.Notifier
		closers  []func()
	)

	for _, name := range cfg.NotifierNames() {
		switch name {
		case "log":
			channels = append(channels, notify.NewLog(log.Named("notify")))
		case "email":
			e := notify.NewEmail(cfg.ResendAPIKey, cfg.EmailFrom, log.Named("email"))
			if e == nil {
				log.Warn("email notifier disabled, RESEND_API_KEY not set")
				continue
			}
			channels = append(channels, e)
		case "broker":
			b, err := notify.DialBroker(cfg.AMQPURL, cfg.AMQPExchange, log.Named("broker"))
			if err != nil {
				log.Warn("broker notifier disabled", zap.Error(err))
				continue
			}
			channels = append(channels, b)
			closers = append(closers, func() {
				if err := b.Close(); err != nil {
					log.Warn("failed to close broker", zap.Error(err))
				}
			})
		}
	}

	if len(channels) == 0 {
		channels = append(channels, notify.NewLog(log.Named("notify")))
	}
	if len(channels) == 1 {
		return channels[0], closers
	}
	return notify.NewMulti(channels...), closers
}
