/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the finance ledger storage service.
  Handles configuration, dependency injection, migrations and graceful
  shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags
  2. Load configuration (.env + environment, see config/)
  3. Build the zap logger
  4. Open the store (SQLite auto-migrates; MySQL uses -migrate)
  5. Wire services: batch engine, rollover workflow, orders client
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config   Optional .env file (default: .env)
  -migrate  MySQL migration command: up | down | version
  -steps    Number of migration steps (0 means all)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection
  4. Exit

EXAMPLES:
  # SQLite file database
  DB_DSN=./data/finance.db ./server

  # MySQL, apply migrations then serve
  DB_DRIVER=mysql DB_DSN='user:pass@tcp(localhost:3306)/finance' ./server -migrate up
  DB_DRIVER=mysql DB_DSN='user:pass@tcp(localhost:3306)/finance' ./server

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: Configuration keys
  - store/sqlstore/store.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/mysql"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"go.uber.org/zap"

	"github.com/warp/finance-ledger/api"
	"github.com/warp/finance-ledger/batch"
	"github.com/warp/finance-ledger/config"
	"github.com/warp/finance-ledger/logging"
	"github.com/warp/finance-ledger/orders"
	"github.com/warp/finance-ledger/rollover"
	"github.com/warp/finance-ledger/store/sqlstore"
)

func main() {
	// Flags
	configFile := flag.String("config", ".env", "Optional .env configuration file")
	migrateCmd := flag.String("migrate", "", "Migration command (up/down/version)")
	steps := flag.Int("steps", 0, "Number of migration steps (0 means all)")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error building logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if *migrateCmd != "" {
		if err := runMigration(cfg, *migrateCmd, *steps, logger); err != nil {
			logger.Fatal("migration failed", zap.Error(err))
		}
		return
	}

	// Initialize store
	store, err := sqlstore.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		logger.Fatal("failed to initialize database", zap.Error(err))
	}
	defer store.Close()

	// Wire services
	ordersClient := orders.NewClient(orders.Config{
		BaseURL:             cfg.Orders.URL,
		ConsecutiveFailures: cfg.Orders.BreakerFailures,
		OpenTimeout:         cfg.Orders.BreakerTimeout,
		RequestTimeout:      cfg.Orders.RequestTimeout,
	}, logger)
	batches := batch.NewService(store, logger)
	rollovers := rollover.NewService(store, sqlstore.NewFinancialRollover(store, logger), ordersClient, logger)

	handler := api.NewHandler(store, batches, rollovers, logger)
	router := api.NewRouter(handler)

	// Rollovers run synchronously, so writes get a long timeout.
	server := &http.Server{
		Addr:         cfg.ServerAddress,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("server starting",
			zap.String("address", cfg.ServerAddress),
			zap.String("dbDriver", cfg.Database.Driver),
			zap.String("environment", cfg.Environment))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}

// runMigration applies the versioned MySQL schema. SQLite needs none: its
// schema is created when the store opens.
func runMigration(cfg *config.Config, command string, steps int, logger *zap.Logger) error {
	if cfg.Database.Driver != sqlstore.DriverMySQL {
		logger.Info("sqlite schema is created on startup, nothing to migrate")
		return nil
	}

	m, err := migrate.New("file://"+cfg.Migration.Dir, cfg.MigrationURL())
	if err != nil {
		return fmt.Errorf("failed to initialize migrate: %w", err)
	}
	defer m.Close()

	switch command {
	case "up":
		if steps > 0 {
			err = m.Steps(steps)
		} else {
			err = m.Up()
		}
	case "down":
		if steps > 0 {
			err = m.Steps(-steps)
		} else {
			err = m.Down()
		}
	case "version":
		version, dirty, verErr := m.Version()
		if errors.Is(verErr, migrate.ErrNilVersion) {
			logger.Info("no migrations have been applied yet")
			return nil
		}
		if verErr != nil {
			return fmt.Errorf("failed to get version: %w", verErr)
		}
		logger.Info("current migration version", zap.Uint("version", version), zap.Bool("dirty", dirty))
		return nil
	default:
		return fmt.Errorf("invalid migration command: %s", command)
	}

	if errors.Is(err, migrate.ErrNoChange) {
		logger.Info("no migration changes to apply")
		return nil
	}
	if err != nil {
		return err
	}
	logger.Info("migration completed successfully")
	return nil
}
