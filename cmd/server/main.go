/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the attendance reconciliation server.
  Handles configuration, dependency injection, the daily sweep scheduler,
  and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env (if present), then parse command-line flags
  2. Initialize SQLite store
  3. Build mail sender, engine and sweeper
  4. Create API handler and router
  5. Start the per-tenant sweep scheduler
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS (environment fallback in brackets):
  -port               HTTP server port [PORT] (default: 8080)
  -db                 SQLite database path [DATABASE_PATH] (default: attendance.db)
                      Use ":memory:" for in-memory database
  -sweep-concurrency  Tenants swept in parallel [SWEEP_CONCURRENCY] (default: 4)
  -mail-relay         HTTP mail relay URL [MAIL_RELAY_URL]
                      Empty logs notifications instead of sending them
  -scheduler          Run the daily sweep scheduler [SCHEDULER_ENABLED] (default: true)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the scheduler, waiting for running sweeps
  4. Close database connection

EXAMPLES:
  # Run with file database
  ./server -db="./data/attendance.db"

  # Run with in-memory database and a mail relay
  ./server -db=":memory:" -mail-relay="http://localhost:9025/send"

SEE ALSO:
  - api/server.go: Router configuration
  - api/scheduler.go: Daily sweep scheduling
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
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/warp/attendance-engine/api"
	"github.com/warp/attendance-engine/attendance"
	"github.com/warp/attendance-engine/mailer"
	"github.com/warp/attendance-engine/store/sqlite"
)

func main() {
	// A missing .env is fine; real deployments set the environment directly.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Warning: Failed to load .env: %v", err)
	}

	// Flags
	port := flag.Int("port", envInt("PORT", 8080), "HTTP server port")
	dbPath := flag.String("db", envString("DATABASE_PATH", "attendance.db"), "SQLite database path")
	concurrency := flag.Int("sweep-concurrency", envInt("SWEEP_CONCURRENCY", attendance.DefaultSweepConcurrency), "Tenants swept in parallel")
	relayURL := flag.String("mail-relay", envString("MAIL_RELAY_URL", ""), "HTTP mail relay URL")
	schedulerOn := flag.Bool("scheduler", envBool("SCHEDULER_ENABLED", true), "Run the daily sweep scheduler")
	flag.Parse()

	// Initialize store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	// Notifications
	var sender attendance.Sender
	if *relayURL != "" {
		sender = mailer.NewRelaySender(*relayURL)
		log.Printf("Notifications via relay %s", *relayURL)
	} else {
		sender = mailer.NewLogSender(nil)
		log.Println("Notifications logged only (no -mail-relay)")
	}

	// Engine
	engine := attendance.NewEngine(store, sender, attendance.SystemClock{})
	sweeper := attendance.NewSweeper(engine, store)
	sweeper.Concurrency = *concurrency

	// Initialize handler and router
	handler := api.NewHandler(store, engine, sweeper)
	router := api.NewRouter(handler)

	// Scheduler
	scheduler := api.NewSweepScheduler(engine, sweeper, store)
	scheduler.Enabled = *schedulerOn
	if err := scheduler.Start(context.Background()); err != nil {
		log.Printf("Warning: Failed to start scheduler: %v", err)
	}

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("🚀 Server starting on http://localhost:%d", *port)
		log.Printf("📊 API available at http://localhost:%d/api", *port)
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
	scheduler.Stop()

	log.Println("Server stopped")
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("Warning: %s=%q is not a number, using %d", key, v, def)
		return def
	}
	return n
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("Warning: %s=%q is not a boolean, using %t", key, v, def)
		return def
	}
	return b
}
