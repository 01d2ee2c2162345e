package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/community-sacco/internal/analytics"
	"github.com/dvloznov/community-sacco/internal/api/handlers"
	"github.com/dvloznov/community-sacco/internal/api/middleware"
	"github.com/dvloznov/community-sacco/internal/app"
	"github.com/dvloznov/community-sacco/internal/auth"
	"github.com/dvloznov/community-sacco/internal/config"
	"github.com/dvloznov/community-sacco/internal/jobs"
	"github.com/dvloznov/community-sacco/internal/jobs/inmemory"
	"github.com/dvloznov/community-sacco/internal/loans"
	"github.com/dvloznov/community-sacco/internal/logger"
	"github.com/dvloznov/community-sacco/internal/payments"
	"github.com/dvloznov/community-sacco/internal/savings"
	"github.com/dvloznov/community-sacco/internal/screening"
	"github.com/dvloznov/community-sacco/internal/warehouse"
)

func main() {
	configPath := flag.String("config", os.Getenv("SACCO_CONFIG"), "Path to a YAML config file (or set SACCO_CONFIG env)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLog := logger.New(logger.Options{})
		bootLog.Fatal().Err(err).Msg("Failed to load config")
	}

	// Initialize logger
	log := logger.New(logger.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	ctx := context.Background()
	var closer app.Closer
	defer closer.Close()

	// Initialize repositories
	store, err := app.OpenLedger(ctx, cfg.Database, &closer, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open ledger")
	}
	docs, err := app.OpenDocuments(ctx, cfg.Documents, &closer, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open document store")
	}
	wh, err := app.OpenWarehouse(ctx, cfg.Warehouse, &closer, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open warehouse")
	}
	cache := app.OpenCache(ctx, cfg.Redis, &closer, log)

	gateway, err := app.NewGateway(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create payment gateway")
	}
	extractor, err := app.NewExtractor(ctx, cfg.Screening)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create document extractor")
	}

	// Initialize job infrastructure
	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(inmemory.Options{
		BufferSize: cfg.Jobs.BufferSize,
		Workers:    cfg.Jobs.Workers,
		MaxRetries: cfg.Jobs.MaxRetries,
		Backoff:    cfg.Jobs.Backoff,
		Timeout:    cfg.Jobs.Timeout,
	}, jobStore, log)

	router := jobs.NewRouter()
	if extractor != nil {
		router.Handle(jobs.JobTypeScreenLoanDocument, screening.NewScreener(store, docs, extractor, log.With().Str("component", "screening").Logger()).Handle)
	}

	if wh != nil {
		router.Handle(jobs.JobTypeExportTransaction, warehouse.NewExporter(store, wh, log.With().Str("component", "warehouse").Logger()).Handle)
	}
	publisher := router.Gate(jobQueue)

	// Start worker in background to process jobs
	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()

	go func() {
		log.Info().Int("workers", cfg.Jobs.Workers).Msg("Starting job worker")
		if err := jobQueue.Start(workerCtx, router.Dispatch); err != nil {
			log.Error().Err(err).Msg("Job worker stopped with error")
		}
	}()

	tokens, err := auth.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create token issuer")
	}

	// Initialize services
	authService := auth.NewService(store, tokens, cfg.Auth.AdminRegistrationCode, log)
	savingsService := savings.NewService(store, publisher, log)
	loanService := loans.NewService(store, docs, store, publisher, extractor != nil, log)
	reconciler := payments.NewReconciler(store, publisher, log)
	aggregator := analytics.NewAggregator(store, cache, cfg.Analytics.CacheTTL, log)

	var initiator *payments.Initiator
	if gateway != nil {
		initiator = payments.NewInitiator(gateway, store, app.InitiatorConfig(cfg.Payments), log)
		if cfg.Payments.CallbackURL == "" && !cfg.HTTP.TrustProxyHeaders {
			log.Warn().Msg("payments.callback_url not set - callbacks go to the fallback URL unless served over TLS")
		}
	}

	// Initialize handlers
	set := &handlers.Set{
		Auth:      handlers.NewAuthHandler(authService, log),
		Savings:   handlers.NewSavingsHandler(savingsService, log),
		Loans:     handlers.NewLoansHandler(loanService, handlers.DefaultMaxUploadBytes, log),
		Payments:  handlers.NewPaymentsHandler(initiator, reconciler, cfg.HTTP.TrustProxyHeaders, log),
		Analytics: handlers.NewAnalyticsHandler(aggregator, log),
		Jobs:      handlers.NewJobsHandler(jobStore, log),
	}

	// Apply middleware
	handler := middleware.Recovery(log)(
		middleware.RequestID(log)(
			middleware.Logger(log)(
				middleware.CORS(
					middleware.Auth(tokens)(set.Routes()),
				),
			),
		),
	)

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.HTTP.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 45 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Info().Str("port", cfg.HTTP.Port).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Stop job queue and wait for in-flight jobs
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping job queue")
	}
	cancelWorker()

	// Close job queue
	if err := jobQueue.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close job queue")
	}

	log.Info().Msg("Server exited")
}
