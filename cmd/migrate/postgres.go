package main

import (
	"context"
	"fmt"

	"github.com/dvloznov/community-sacco/internal/infra/postgres"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// postgresRunner applies each migration and its schema_migrations row in one
// transaction.
type postgresRunner struct {
	pool *pgxpool.Pool
}

func newPostgresRunner(ctx context.Context, databaseURL string) (*postgresRunner, error) {
	pool, err := postgres.Connect(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	return &postgresRunner{pool: pool}, nil
}

func (r *postgresRunner) Ensure(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version     INTEGER PRIMARY KEY,
			name        TEXT NOT NULL,
			applied_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
			checksum    TEXT,
			applied_by  TEXT
		)
	`)
	return err
}

func (r *postgresRunner) Applied(ctx context.Context) ([]AppliedMigration, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT version, name, applied_at, COALESCE(checksum, ''), COALESCE(applied_by, '')
		FROM schema_migrations
		ORDER BY version ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("reading applied migrations: %w", err)
	}
	defer rows.Close()

	var applied []AppliedMigration
	for rows.Next() {
		var am AppliedMigration
		if err := rows.Scan(&am.Version, &am.Name, &am.AppliedAt, &am.Checksum, &am.AppliedBy); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		applied = append(applied, am)
	}
	return applied, rows.Err()
}

func (r *postgresRunner) Apply(ctx context.Context, m Migration, appliedBy string) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, m.SQL); err != nil {
			return fmt.Errorf("execute: %w", err)
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO schema_migrations (version, name, checksum, applied_by)
			VALUES ($1, $2, $3, $4)
		`, m.Version, m.Name, m.Checksum, appliedBy)
		if err != nil {
			return fmt.Errorf("record migration: %w", err)
		}
		return nil
	})
}

func (r *postgresRunner) Close() error {
	r.pool.Close()
	return nil
}
