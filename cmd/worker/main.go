package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/community-sacco/internal/app"
	"github.com/dvloznov/community-sacco/internal/config"
	"github.com/dvloznov/community-sacco/internal/logger"
	"github.com/dvloznov/community-sacco/internal/payments"
	"github.com/rs/zerolog"
)

func main() {
	configPath := flag.String("config", os.Getenv("SACCO_CONFIG"), "Path to a YAML config file (or set SACCO_CONFIG env)")
	once := flag.Bool("once", false, "Run a single sweep and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLog := logger.New(logger.Options{})
		bootLog.Fatal().Err(err).Msg("Failed to load config")
	}

	// Initialize logger
	log := logger.New(logger.Options{Level: cfg.Log.Level, Format: cfg.Log.Format}).
		With().Str("component", "worker").Logger()

	var closer app.Closer
	defer closer.Close()

	if cfg.Database.URL == "" {
		log.Warn().Msg("Worker runs against its own in-memory ledger; set database.url to sweep the shared ledger")
	}
	store, err := app.OpenLedger(context.Background(), cfg.Database, &closer, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open ledger")
	}

	sweeper := payments.NewSweeper(store, cfg.Payments.PendingTTL, log)

	// Create context that cancels on interrupt
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *once {
		if _, err := sweeper.Sweep(ctx, time.Now()); err != nil {
			log.Error().Err(err).Msg("Sweep failed")
			closer.Close()
			os.Exit(1)
		}
		return
	}

	interval := cfg.Payments.SweepInterval
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	log.Info().Dur("interval", interval).Dur("pending_ttl", cfg.Payments.PendingTTL).Msg("Worker service started")

	run(ctx, sweeper, interval, log)

	log.Info().Msg("Worker service exited")
}

// run sweeps immediately and then on every tick until ctx is cancelled.
// A failed sweep is logged and retried on the next tick.
func run(ctx context.Context, sweeper *payments.Sweeper, interval time.Duration, log zerolog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := sweeper.Sweep(ctx, time.Now()); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("Sweep failed")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
