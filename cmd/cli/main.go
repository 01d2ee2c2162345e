package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dvloznov/community-sacco/internal/app"
	"github.com/dvloznov/community-sacco/internal/config"
	"github.com/dvloznov/community-sacco/internal/domain"
	"github.com/dvloznov/community-sacco/internal/logger"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// env is what every subcommand gets after the root command loaded config.
type env struct {
	cfg    *config.Config
	log    zerolog.Logger
	closer app.Closer
	// operator is the admin identity CLI actions are recorded under.
	operator domain.Actor
}

func main() {
	e := &env{}
	var configPath, operator string

	rootCmd := &cobra.Command{
		Use:           "sacco",
		Short:         "Community SACCO operator tools",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			e.cfg = cfg
			e.log = logger.New(logger.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
			e.operator = domain.Actor{UserID: operator, IsAdmin: true}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			e.closer.Close()
		},
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("SACCO_CONFIG"), "Path to a YAML config file (or set SACCO_CONFIG env)")
	rootCmd.PersistentFlags().StringVar(&operator, "as", "cli", "Admin user id recorded for changes")

	// Add subcommands
	rootCmd.AddCommand(sweepCmd(e))
	rootCmd.AddCommand(setLimitCmd(e))
	rootCmd.AddCommand(forceCompleteCmd(e))
	rootCmd.AddCommand(exportCmd(e))
	rootCmd.AddCommand(warehouseQueryCmd(e))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		e.closer.Close()
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func (e *env) ledger(ctx context.Context) (app.LedgerStore, error) {
	if e.cfg.Database.URL == "" {
		return nil, fmt.Errorf("database.url is required (set SACCO_DATABASE_URL)")
	}
	return app.OpenLedger(ctx, e.cfg.Database, &e.closer, e.log)
}
