/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the TOIL ledger service. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags, load YAML config with env overrides
  2. Initialize SQLite store
  3. Build the engine with the configured accrual policy
  4. Configure HTTP router and the scheduled expiry sweep
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  Path to YAML config file (default: config.yaml)
  -port    Overrides server.port from the config
  -db      Overrides database.sqlite_path; ":memory:" works for demos

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the sweep scheduler
  4. Close database connection
  5. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/toil.db"

  # Run with in-memory database
  ./server -db=":memory:"

ENVIRONMENT:
  TOIL_PORT, TOIL_SQLITE_PATH, TOIL_EXPIRY_WINDOW_DAYS, TOIL_SWEEP_CRON
  override the file; see config/config.go.

SEE ALSO:
  - api/server.go: Router configuration
  - api/scheduler.go: Scheduled expiry sweep
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/saleemdev/toil-engine/api"
	"github.com/saleemdev/toil-engine/config"
	"github.com/saleemdev/toil-engine/store/sqlite"
	"github.com/saleemdev/toil-engine/toil"
)

func main() {
	// Flags
	configPath := flag.String("config", "config.yaml", "Path to YAML config file")
	port := flag.Int("port", 0, "HTTP server port (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *dbPath != "" {
		cfg.Database.SQLitePath = *dbPath
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	// Initialize store
	store, err := sqlite.New(cfg.Database.SQLitePath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	// Build the engine
	policy := toil.AccrualPolicy{ExpiryWindowDays: cfg.Policy.ExpiryWindowDays}
	engine := toil.NewEngine(store, policy, toil.WithMaxRetries(cfg.Policy.MaxUpdateRetries))

	// Wire HTTP and the scheduled sweep
	handler := api.NewHandler(engine)
	handler.ExpiringSoonDays = cfg.Policy.ExpiringSoonDays
	router := api.NewRouter(handler)

	scheduler := api.NewSweepScheduler(engine, cfg.Schedule.SweepCron)
	scheduler.Enabled = *cfg.Schedule.SweepEnabled
	if err := scheduler.Start(); err != nil {
		log.Fatalf("Failed to start sweep scheduler: %v", err)
	}
	defer scheduler.Stop()

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("[Server] Listening on http://localhost:%d", cfg.Server.Port)
		log.Printf("[Server] API available at http://localhost:%d/toil", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("[Server] Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("[Server] Stopped")
}
