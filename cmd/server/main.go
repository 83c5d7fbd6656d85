/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the show payout engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, environment, then flags)
  2. Initialize SQLite store
  3. Start the notification dispatcher
  4. Create API handler with dependencies
  5. Configure HTTP router
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (overrides PAYOUT_PORT)
  -db      SQLite database path (overrides PAYOUT_DB_PATH)
           Use ":memory:" for in-memory database

ENVIRONMENT:
  PAYOUT_PORT, PAYOUT_DB_PATH, PAYOUT_NOTIFY_BUFFER,
  PAYOUT_CURRENCY_SYMBOL, PAYOUT_PRESETS_FILE, PAYOUT_ALLOWED_ORIGINS
  See config/config.go for defaults.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Drain queued notifications
  4. Close database connection
  5. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/payout.db"

  # Run with in-memory database
  ./server -db=":memory:"

SEE ALSO:
  - api/server.go: Router configuration
  - notify/dispatcher.go: Payee notifications
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

	"github.com/warp/payout-engine/api"
	"github.com/warp/payout-engine/config"
	"github.com/warp/payout-engine/generic"
	"github.com/warp/payout-engine/notify"
	"github.com/warp/payout-engine/store/sqlite"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Flags override the environment
	port := flag.Int("port", cfg.Port, "HTTP server port")
	dbPath := flag.String("db", cfg.DBPath, "SQLite database path")
	flag.Parse()

	generic.CurrencySymbol = cfg.CurrencySymbol

	// Initialize store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	// Notifications go out after commit, off the request path
	dispatcher := notify.NewDispatcher(notify.NewLogSink(store), cfg.NotifyBuffer)
	dispatcher.Start()
	defer dispatcher.Stop()

	// Initialize handler
	handler := api.NewHandler(store)
	handler.Payouts.Notifier = dispatcher
	handler.Schemes.PresetsFile = cfg.PresetsFile
	if _, err := handler.Schemes.Presets(); err != nil {
		log.Fatalf("Failed to load scheme presets: %v", err)
	}

	// Create router
	router := api.NewRouter(handler, cfg.AllowedOrigins...)

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server starting on http://localhost:%d", *port)
		log.Printf("API available at http://localhost:%d/api", *port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
