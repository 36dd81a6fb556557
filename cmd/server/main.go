/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the ledger engine server. Handles
  configuration, dependency wiring, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env (if present) and parse flags
  2. Initialize SQLite store and ledger
  3. Create payout/stock services and the batch processor
  4. Start the settlement scheduler
  5. Start HTTP server with graceful shutdown

CONFIGURATION:
  Flags override environment variables:
  -port            PORT                 HTTP port (default 8080)
  -db              DATABASE_PATH        SQLite path (default engine.db)
  -min-withdrawal  MIN_WITHDRAWAL       Withdrawal floor (default 450)
  -fee-percent     PAYOUT_FEE_PERCENT   Admin charge percent (default 0)
  -settlement-day  SETTLEMENT_DAY       Weekly cutoff weekday (default Monday)
  -check-interval  SCHEDULER_INTERVAL   Scheduler tick (default 1h)
  -no-scheduler                         Disable the settlement scheduler

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler (waits for an in-flight pass)
  2. Stop accepting new connections, drain actives (30s timeout)
  3. Close the database

SEE ALSO:
  - api/server.go: Router configuration
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
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/warp/ledger-engine/api"
	"github.com/warp/ledger-engine/ledger"
	"github.com/warp/ledger-engine/payout"
	"github.com/warp/ledger-engine/stock"
	"github.com/warp/ledger-engine/store/sqlite"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})

	port := flag.Int("port", envInt("PORT", 8080), "HTTP server port")
	dbPath := flag.String("db", envStr("DATABASE_PATH", "engine.db"), "SQLite database path")
	minWithdrawal := flag.String("min-withdrawal", envStr("MIN_WITHDRAWAL", "450"), "minimum withdrawal amount")
	feePercent := flag.String("fee-percent", envStr("PAYOUT_FEE_PERCENT", "0"), "payout fee percent")
	settlementDay := flag.String("settlement-day", envStr("SETTLEMENT_DAY", "Monday"), "weekly settlement weekday")
	checkInterval := flag.Duration("check-interval", envDuration("SCHEDULER_INTERVAL", time.Hour), "scheduler check interval")
	noScheduler := flag.Bool("no-scheduler", false, "disable the settlement scheduler")
	flag.Parse()

	cfg, err := buildPayoutConfig(*minWithdrawal, *feePercent, *settlementDay)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatal().Err(err).Str("db", *dbPath).Msg("failed to initialize database")
	}
	defer store.Close()

	led := ledger.New(store)
	payouts := payout.NewService(led, store, cfg, log.Logger)
	batch := payout.NewBatchProcessor(payouts)
	stockSvc := stock.NewService(led, store, log.Logger)

	scheduler := api.NewSettlementScheduler(payouts, batch, store, log.Logger)
	scheduler.CheckInterval = *checkInterval
	scheduler.Enabled = !*noScheduler
	scheduler.Start()
	defer scheduler.Stop()

	handler := api.NewHandler(led, payouts, batch, stockSvc, store, log.Logger)
	handler.Scheduler = scheduler
	router := api.NewRouter(handler, log.Logger)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Int("port", *port).Str("db", *dbPath).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

// buildPayoutConfig parses the money/weekday settings.
func buildPayoutConfig(minWithdrawal, feePercent, settlementDay string) (payout.Config, error) {
	cfg := payout.DefaultConfig()

	min, err := decimal.NewFromString(minWithdrawal)
	if err != nil {
		return payout.Config{}, fmt.Errorf("min-withdrawal: %w", err)
	}
	cfg.MinWithdrawal = min

	fee, err := decimal.NewFromString(feePercent)
	if err != nil {
		return payout.Config{}, fmt.Errorf("fee-percent: %w", err)
	}
	cfg.FeePercent = fee

	day, ok := parseWeekday(settlementDay)
	if !ok {
		return payout.Config{}, fmt.Errorf("settlement-day: unknown weekday %q", settlementDay)
	}
	cfg.SettlementDay = day

	return cfg, nil
}

func parseWeekday(s string) (time.Weekday, bool) {
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.EqualFold(d.String(), s) {
			return d, true
		}
	}
	return 0, false
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
