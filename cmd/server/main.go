/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the budget planning engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env + environment)
  2. Initialize store (SQLite or in-memory)
  3. Create API handler with dependencies
  4. Configure HTTP router
  5. Start background scheduler
  6. Start server with graceful shutdown

CONFIGURATION (environment, .env supported):
  PORT                HTTP server port (default: 8080)
  DATA_BACKEND        "sqlite" or "memory" (default: sqlite)
  DB_PATH             SQLite database path (default: ./data/budget.db)
  BASE_YEAR           Planning base year (default: 2025)
  HORIZON_YEARS       Forecast horizon (default: 4)
  DEFAULT_GROWTH      Fallback annual growth rate (default: 0.03)
  SCHEDULER_ENABLED   Background maintenance on/off (default: true)
  SCHEDULER_INTERVAL  Maintenance interval (default: 1m)
  LOG_LEVEL           debug|info|warn|error (default: info)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection
  5. Exit

SEE ALSO:
  - config/config.go: Environment loading
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/budget-engine/api"
	"github.com/warp/budget-engine/budget"
	memorystore "github.com/warp/budget-engine/budget/store"
	"github.com/warp/budget-engine/config"
	"github.com/warp/budget-engine/logx"
	"github.com/warp/budget-engine/store/sqlite"
)

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log := logx.New(logx.Config{Level: logx.ParseLevel(cfg.LogLevel), Component: "server"})

	// Initialize store
	var store budget.Store
	var closeStore func() error
	switch cfg.Backend {
	case "memory":
		store = memorystore.NewMemory()
		closeStore = func() error { return nil }
	default:
		s, err := sqlite.New(cfg.DBPath)
		if err != nil {
			log.Error("failed to initialize database", "path", cfg.DBPath, "error", err)
			os.Exit(1)
		}
		store = s
		closeStore = s.Close
	}
	defer closeStore()

	// Initialize handler and router
	handler := api.NewHandler(store, cfg.BaseYear, cfg.HorizonYears, cfg.DefaultGrowth, log)
	router := api.NewRouter(handler)

	// Background maintenance
	var scheduler *api.Scheduler
	if cfg.SchedulerEnabled {
		scheduler = api.NewScheduler(handler, cfg.SchedulerInterval, log)
		scheduler.Start()
	}

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("server starting",
			"addr", "http://localhost:"+cfg.Port,
			"backend", cfg.Backend,
			"base_year", cfg.BaseYear)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")

	if scheduler != nil {
		scheduler.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("forced shutdown", "error", err)
		os.Exit(1)
	}

	log.Info("server stopped")
}
