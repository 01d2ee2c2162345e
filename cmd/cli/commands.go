package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dvloznov/community-sacco/internal/app"
	"github.com/dvloznov/community-sacco/internal/loans"
	"github.com/dvloznov/community-sacco/internal/payments"
	"github.com/dvloznov/community-sacco/internal/warehouse"
	"github.com/spf13/cobra"
)

const dateLayout = "2006-01-02"

func sweepCmd(e *env) *cobra.Command {
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Flag PENDING payments that never received a callback",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := e.ledger(ctx)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("ttl") {
				ttl = e.cfg.Payments.PendingTTL
			}

			flagged, err := payments.NewSweeper(store, ttl, e.log).Sweep(ctx, time.Now())
			if err != nil {
				return err
			}
			fmt.Printf("Flagged %d pending payment(s).\n", flagged)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", payments.DefaultPendingTTL, "Age after which a PENDING payment is flagged")
	return cmd
}

func setLimitCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "set-limit USER_ID [AMOUNT]",
		Short: "Set a member's loan limit, or clear it when AMOUNT is omitted",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := e.ledger(ctx)
			if err != nil {
				return err
			}

			amount := ""
			if len(args) == 2 {
				amount = args[1]
			}
			svc := loans.NewService(store, nil, store, nil, false, e.log)
			limit, err := svc.SetLimit(ctx, args[0], e.operator, amount)
			if err != nil {
				return err
			}

			if limit.Amount == nil {
				fmt.Printf("Cleared loan limit for %s.\n", limit.UserID)
			} else {
				fmt.Printf("Loan limit for %s set to %s.\n", limit.UserID, limit.Amount.StringFixed(2))
			}
			return nil
		},
	}
}

func forceCompleteCmd(e *env) *cobra.Command {
	var note string

	cmd := &cobra.Command{
		Use:   "force-complete TRANSACTION_ID",
		Short: "Mark a PENDING payment COMPLETED after confirming it by hand",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := e.ledger(ctx)
			if err != nil {
				return err
			}

			tx, err := payments.NewReconciler(store, nil, e.log).ForceComplete(ctx, e.operator, args[0], note)
			if err != nil {
				return err
			}
			fmt.Printf("Transaction %s is %s: %s\n", tx.ID, tx.Status, tx.Description)
			fmt.Println("Run 'sacco export' for the day to copy it to the warehouse.")
			return nil
		},
	}
	cmd.Flags().StringVar(&note, "note", "", "Extra note stored on the transaction")
	return cmd
}

// dateRange reads --from/--to as whole days; to is inclusive.
func dateRange(from, to string) (time.Time, time.Time, error) {
	start, err := time.Parse(dateLayout, from)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid --from %q: want YYYY-MM-DD", from)
	}
	end := start
	if to != "" {
		end, err = time.Parse(dateLayout, to)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --to %q: want YYYY-MM-DD", to)
		}
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("--to is before --from")
	}
	return start, end.AddDate(0, 0, 1), nil
}

func exportCmd(e *env) *cobra.Command {
	var from, to string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Backfill COMPLETED transactions into the BigQuery warehouse",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			start, end, err := dateRange(from, to)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Minute)
			defer cancel()

			store, err := e.ledger(ctx)
			if err != nil {
				return err
			}
			wh, err := app.OpenWarehouse(ctx, e.cfg.Warehouse, &e.closer, e.log)
			if err != nil {
				return err
			}
			if wh == nil {
				return fmt.Errorf("warehouse.project is required (set SACCO_WAREHOUSE_PROJECT)")
			}

			sent, err := warehouse.NewExporter(store, wh, e.log).Backfill(ctx, start, end)
			if err != nil {
				return err
			}
			fmt.Printf("Exported %d transaction(s) created %s to %s.\n", sent, start.Format(dateLayout), end.AddDate(0, 0, -1).Format(dateLayout))
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", time.Now().Format(dateLayout), "First day to export (YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", "", "Last day to export, inclusive (defaults to --from)")
	return cmd
}

func warehouseQueryCmd(e *env) *cobra.Command {
	var from, to string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "warehouse-query",
		Short: "List exported transactions from the warehouse",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			start, end, err := dateRange(from, to)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			wh, err := app.OpenWarehouse(ctx, e.cfg.Warehouse, &e.closer, e.log)
			if err != nil {
				return err
			}
			if wh == nil {
				return fmt.Errorf("warehouse.project is required (set SACCO_WAREHOUSE_PROJECT)")
			}

			// The warehouse filters on whole dates, both ends inclusive.
			rows, err := wh.QueryTransactionsByDateRange(ctx, start, end.AddDate(0, 0, -1))
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(rows)
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "CREATED\tTRANSACTION\tTYPE\tSTATUS\tAMOUNT\tREFERENCE")
			for _, r := range rows {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
					r.CreatedAt.Format(time.RFC3339),
					r.TransactionID,
					r.TransactionType,
					r.Status,
					r.Amount.FloatString(2),
					r.PaymentReference.StringVal,
				)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Printf("\n%d row(s)\n", len(rows))
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", time.Now().Format(dateLayout), "First day (YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", "", "Last day, inclusive (defaults to --from)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}
