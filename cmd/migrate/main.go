package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dvloznov/community-sacco/internal/config"
	"github.com/dvloznov/community-sacco/internal/logger"
	"github.com/rs/zerolog"
)

// runner applies migrations to one kind of database.
type runner interface {
	// Ensure creates the schema_migrations table if it doesn't exist.
	Ensure(ctx context.Context) error
	// Applied lists the migrations already recorded.
	Applied(ctx context.Context) ([]AppliedMigration, error)
	// Apply runs one migration and records it.
	Apply(ctx context.Context, m Migration, appliedBy string) error
	Close() error
}

var (
	target        = flag.String("target", "postgres", "Database to migrate: postgres or bigquery")
	configPath    = flag.String("config", os.Getenv("SACCO_CONFIG"), "Path to a YAML config file (or set SACCO_CONFIG env)")
	databaseURL   = flag.String("database-url", "", "PostgreSQL URL (defaults to database.url from config)")
	projectID     = flag.String("project", "", "GCP project ID (defaults to warehouse.project from config)")
	datasetID     = flag.String("dataset", "", "BigQuery dataset ID (defaults to warehouse.dataset from config)")
	appliedBy     = flag.String("applied-by", "migrate-cli", "Name of the tool applying migrations")
	migrationsDir = flag.String("migrations", "", "Path to migrations directory (defaults to migrations/<target>)")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLog := logger.New(logger.Options{})
		bootLog.Fatal().Err(err).Msg("Failed to load config")
	}
	log := logger.New(logger.Options{Level: cfg.Log.Level, Format: cfg.Log.Format}).
		With().Str("target", *target).Logger()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	r, vars, err := openRunner(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect")
	}
	defer r.Close()

	dir, err := findMigrationsDir(*migrationsDir, *target)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to locate migrations")
	}

	if err := migrate(ctx, r, dir, vars, log); err != nil {
		log.Fatal().Err(err).Msg("Migration failed")
	}
}

// findMigrationsDir resolves dir, or migrations/<target> when empty, relative
// to the working directory or the repository root when run from cmd/migrate.
func findMigrationsDir(dir, target string) (string, error) {
	if dir == "" {
		dir = filepath.Join("migrations", target)
	}
	for _, candidate := range []string{dir, filepath.Join("..", "..", dir)} {
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("migrations directory not found: %s", dir)
}

func openRunner(ctx context.Context, cfg *config.Config, log zerolog.Logger) (runner, map[string]string, error) {
	switch *target {
	case "postgres":
		url := *databaseURL
		if url == "" {
			url = cfg.Database.URL
		}
		if url == "" {
			return nil, nil, fmt.Errorf("-database-url or database.url is required")
		}
		r, err := newPostgresRunner(ctx, url)
		if err != nil {
			return nil, nil, err
		}
		log.Info().Msg("Connected to PostgreSQL")
		return r, nil, nil

	case "bigquery":
		project, dataset := *projectID, *datasetID
		if project == "" {
			project = cfg.Warehouse.Project
		}
		if dataset == "" {
			dataset = cfg.Warehouse.Dataset
		}
		if project == "" {
			return nil, nil, fmt.Errorf("-project or warehouse.project is required")
		}
		r, err := newBigQueryRunner(ctx, project, dataset)
		if err != nil {
			return nil, nil, err
		}
		log.Info().Str("project", project).Str("dataset", dataset).Msg("Connected to BigQuery")
		return r, map[string]string{"PROJECT_ID": project, "DATASET_ID": dataset}, nil

	default:
		return nil, nil, fmt.Errorf("unknown -target %q: want postgres or bigquery", *target)
	}
}

func migrate(ctx context.Context, r runner, dir string, vars map[string]string, log zerolog.Logger) error {
	if err := r.Ensure(ctx); err != nil {
		return fmt.Errorf("ensure schema_migrations table: %w", err)
	}

	migrations, err := readMigrations(dir, vars, func(filename string) {
		log.Warn().Str("file", filename).Msg("Skipping file with invalid format")
	})
	if err != nil {
		return err
	}
	log.Info().Int("count", len(migrations)).Str("dir", dir).Msg("Found migration files")

	applied, err := r.Applied(ctx)
	if err != nil {
		return fmt.Errorf("get applied migrations: %w", err)
	}
	log.Info().Int("count", len(applied)).Msg("Found already applied migrations")

	todo, err := pending(migrations, applied)
	if err != nil {
		return err
	}

	for _, m := range todo {
		log.Info().Str("migration", m.Filename).Msg("Applying migration")
		if err := r.Apply(ctx, m, *appliedBy); err != nil {
			return fmt.Errorf("apply %s: %w", m.Filename, err)
		}
	}

	if len(todo) == 0 {
		log.Info().Msg("No new migrations to apply. Database is up to date.")
	} else {
		log.Info().Int("count", len(todo)).Msg("Successfully applied migrations")
	}
	return nil
}
