// Package app builds the service's long-lived dependencies from
// configuration. The commands share it so the API, the worker and the CLI
// see the same ledger and collaborators.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/dvloznov/community-sacco/internal/analytics"
	"github.com/dvloznov/community-sacco/internal/auth"
	"github.com/dvloznov/community-sacco/internal/config"
	"github.com/dvloznov/community-sacco/internal/documents"
	infraBQ "github.com/dvloznov/community-sacco/internal/infra/bigquery"
	"github.com/dvloznov/community-sacco/internal/infra/inmemory"
	"github.com/dvloznov/community-sacco/internal/infra/postgres"
	"github.com/dvloznov/community-sacco/internal/ledger"
	"github.com/dvloznov/community-sacco/internal/loans"
	"github.com/dvloznov/community-sacco/internal/payments"
	"github.com/dvloznov/community-sacco/internal/payments/daraja"
	"github.com/dvloznov/community-sacco/internal/screening"
	"github.com/rs/zerolog"
)

const connectTimeout = 10 * time.Second

// LedgerStore is the ledger plus the account lookups that live beside it.
type LedgerStore interface {
	ledger.Store
	auth.Accounts
	loans.UserDirectory
}

var (
	_ LedgerStore = (*inmemory.Store)(nil)
	_ LedgerStore = (*postgres.Store)(nil)
)

// Closer releases everything opened so far, in reverse order.
type Closer struct {
	fns []func()
}

// Add registers fn to run on Close.
func (c *Closer) Add(fn func()) {
	c.fns = append(c.fns, fn)
}

// Close runs the registered functions last-in first-out.
func (c *Closer) Close() {
	for i := len(c.fns) - 1; i >= 0; i-- {
		c.fns[i]()
	}
	c.fns = nil
}

// OpenLedger connects to PostgreSQL when a database URL is configured and
// falls back to the in-memory store otherwise.
func OpenLedger(ctx context.Context, cfg config.DatabaseConfig, closer *Closer, log zerolog.Logger) (LedgerStore, error) {
	if cfg.URL == "" {
		log.Warn().Msg("No database configured - using in-memory ledger, data is lost on restart")
		return inmemory.NewStore(), nil
	}

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	pool, err := postgres.Connect(ctx, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("OpenLedger: %w", err)
	}
	store := postgres.NewStore(pool)
	closer.Add(store.Close)
	log.Info().Msg("Connected to PostgreSQL ledger")
	return store, nil
}

// OpenDocuments returns the GCS document store when a bucket is configured,
// else a local directory store.
func OpenDocuments(ctx context.Context, cfg config.DocumentsConfig, closer *Closer, log zerolog.Logger) (documents.Store, error) {
	if cfg.Bucket == "" {
		log.Warn().Str("dir", cfg.Dir).Msg("No GCS bucket configured - storing loan documents on local disk")
		store, err := documents.NewLocalStore(cfg.Dir)
		if err != nil {
			return nil, fmt.Errorf("OpenDocuments: %w", err)
		}
		return store, nil
	}

	store, err := documents.NewGCSStore(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("OpenDocuments: %w", err)
	}
	closer.Add(func() {
		if err := store.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close storage client")
		}
	})
	return store, nil
}

// OpenWarehouse returns the BigQuery warehouse, or nil when no project is
// configured.
func OpenWarehouse(ctx context.Context, cfg config.WarehouseConfig, closer *Closer, log zerolog.Logger) (*infraBQ.Warehouse, error) {
	if cfg.Project == "" {
		log.Info().Msg("No warehouse project configured - transaction export disabled")
		return nil, nil
	}

	wh, err := infraBQ.NewWarehouse(ctx, cfg.Project, cfg.Dataset)
	if err != nil {
		return nil, fmt.Errorf("OpenWarehouse: %w", err)
	}
	closer.Add(func() {
		if err := wh.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close BigQuery client")
		}
	})
	return wh, nil
}

// OpenCache returns the Redis dashboard cache, or nil when no address is
// configured. A Redis that cannot be reached is logged and skipped.
func OpenCache(ctx context.Context, cfg config.RedisConfig, closer *Closer, log zerolog.Logger) analytics.Cache {
	if cfg.Addr == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	cache, err := analytics.NewRedisCache(ctx, cfg.Addr)
	if err != nil {
		log.Warn().Err(err).Str("addr", cfg.Addr).Msg("Redis unavailable - analytics served uncached")
		return nil
	}
	closer.Add(func() {
		if err := cache.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close Redis client")
		}
	})
	return cache
}

// NewGateway builds the Daraja client, or returns nil when credentials are
// not configured.
func NewGateway(cfg *config.Config, log zerolog.Logger) (payments.Gateway, error) {
	if !cfg.DarajaEnabled() {
		log.Warn().Msg("Daraja credentials not configured - mobile payments disabled")
		return nil, nil
	}

	client, err := daraja.NewClient(daraja.Config{
		Environment:    cfg.Daraja.Environment,
		BaseURL:        cfg.Daraja.BaseURL,
		ConsumerKey:    cfg.Daraja.ConsumerKey,
		ConsumerSecret: cfg.Daraja.ConsumerSecret,
		ShortCode:      cfg.Daraja.ShortCode,
		Passkey:        cfg.Daraja.Passkey,
		Timeout:        cfg.Daraja.Timeout,
	}, log.With().Str("component", "daraja").Logger())
	if err != nil {
		return nil, fmt.Errorf("NewGateway: %w", err)
	}
	return client, nil
}

// NewExtractor builds the Gemini extractor, or returns nil when screening is
// disabled.
func NewExtractor(ctx context.Context, cfg config.ScreeningConfig) (screening.Extractor, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	extractor, err := screening.NewGeminiExtractor(ctx, cfg.Project, cfg.Region, cfg.Model)
	if err != nil {
		return nil, fmt.Errorf("NewExtractor: %w", err)
	}
	return extractor, nil
}

// InitiatorConfig maps the payment settings onto the initiator.
func InitiatorConfig(cfg config.PaymentsConfig) payments.InitiatorConfig {
	return payments.InitiatorConfig{
		CallbackURL:         cfg.CallbackURL,
		FallbackCallbackURL: cfg.FallbackCallbackURL,
		AccountReference:    cfg.AccountReference,
	}
}
