/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the tuition billing engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, environment, then flags)
  2. Open the configured store (SQLite, MongoDB or memory)
  3. Create billing service and API handler
  4. Start the integrity audit scheduler
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS (override the environment):
  -port    HTTP server port (PORT, default: 8080)
  -store   sqlite, mongo or memory (BILLING_STORE, default: sqlite)
  -db      SQLite database path (SQLITE_PATH, default: billing.db)
           Use ":memory:" for in-memory database

ENVIRONMENT:
  MONGO_URI, MONGO_DB    MongoDB connection (replica set required)
  LOG_LEVEL              debug, info, warn, error
  CORS_ORIGINS           Comma-separated allowed origins
  AUDIT_INTERVAL         Integrity audit period, "0" disables it

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the audit scheduler
  4. Close the store
  5. Exit

EXAMPLES:
  ./server -db="./data/billing.db"
  ./server -store=memory -port=3000
  BILLING_STORE=mongo MONGO_URI="mongodb://localhost:27017/?replicaSet=rs0" ./server

SEE ALSO:
  - config/config.go: Configuration
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go, store/mongo/mongo.go: Store implementations
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

	"github.com/warp/billing-engine/api"
	"github.com/warp/billing-engine/billing"
	"github.com/warp/billing-engine/billing/store"
	"github.com/warp/billing-engine/config"
	"github.com/warp/billing-engine/store/mongo"
	"github.com/warp/billing-engine/store/sqlite"
)

// backend is what every store implementation provides.
type backend interface {
	billing.TxStore
	api.Store
}

func main() {
	cfg := config.Load()

	// Flags
	flag.StringVar(&cfg.Port, "port", cfg.Port, "HTTP server port")
	flag.StringVar(&cfg.Store, "store", cfg.Store, "Store backend: sqlite, mongo or memory")
	flag.StringVar(&cfg.SQLitePath, "db", cfg.SQLitePath, "SQLite database path")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	// Initialize store
	st, closeStore, err := openStore(cfg)
	if err != nil {
		logger.Error("failed to initialize store", "store", cfg.Store, "error", err)
		os.Exit(1)
	}
	defer closeStore()

	// Initialize service and handler
	svc := billing.NewService(st, st, billing.WithLogger(logger))
	handler := api.NewHandler(svc, st, logger)

	auditor := api.NewAuditScheduler(handler, cfg.AuditEvery())
	auditor.Start()

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      api.NewRouter(handler, cfg.CORSOrigins),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("server starting", "addr", "http://localhost:"+cfg.Port, "store", cfg.Store)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			os.Exit(1)
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
		logger.Error("server forced to shutdown", "error", err)
	}
	auditor.Stop()

	logger.Info("server stopped")
}

func openStore(cfg *config.Config) (backend, func(), error) {
	switch cfg.Store {
	case config.StoreMongo:
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		st, err := mongo.Connect(ctx, cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			return nil, nil, err
		}
		return st, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			st.Close(ctx)
		}, nil
	case config.StoreMemory:
		return store.NewTxMemory(), func() {}, nil
	default:
		st, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return st, func() { st.Close() }, nil
	}
}
