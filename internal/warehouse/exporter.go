// Package warehouse copies settled ledger transactions to the analytics
// warehouse.
package warehouse

import (
	"context"
	"fmt"
	"time"

	bq "github.com/dvloznov/community-sacco/internal/bigquery"
	"github.com/dvloznov/community-sacco/internal/domain"
	"github.com/dvloznov/community-sacco/internal/jobs"
	"github.com/dvloznov/community-sacco/internal/ledger"
	"github.com/rs/zerolog"
)

const backfillBatchSize = 500

// Ledger is the read access the exporter needs.
type Ledger interface {
	GetTransaction(ctx context.Context, id string) (*domain.Transaction, error)
	ListTransactions(ctx context.Context, filter ledger.TransactionFilter) ([]*domain.Transaction, error)
}

// Exporter sends COMPLETED transactions to a sink.
type Exporter struct {
	ledger Ledger
	sink   bq.TransactionSink
	log    zerolog.Logger
	now    func() time.Time
}

// NewExporter creates an exporter.
func NewExporter(l Ledger, sink bq.TransactionSink, log zerolog.Logger) *Exporter {
	return &Exporter{ledger: l, sink: sink, log: log, now: time.Now}
}

// Handle is the jobs.JobHandler for JobTypeExportTransaction. Transactions
// that are still PENDING are skipped; they are queued again once settled.
func (e *Exporter) Handle(ctx context.Context, job *jobs.Job) error {
	tx, err := e.ledger.GetTransaction(ctx, job.SubjectID)
	if err != nil {
		return fmt.Errorf("Handle: load transaction: %w", err)
	}
	if tx.Status != domain.TransactionCompleted {
		e.log.Debug().Str("transaction_id", tx.ID).Msg("Skipping export of unsettled transaction")
		return nil
	}

	if err := e.sink.InsertTransactions(ctx, []*bq.TransactionRow{bq.NewTransactionRow(tx, e.now())}); err != nil {
		return fmt.Errorf("Handle: %w", err)
	}

	e.log.Info().
		Str("job_id", job.ID).
		Str("transaction_id", tx.ID).
		Str("type", string(tx.Type)).
		Msg("Transaction exported")
	return nil
}

// Backfill exports every COMPLETED transaction created in [from, to) and
// returns the number of rows sent.
func (e *Exporter) Backfill(ctx context.Context, from, to time.Time) (int, error) {
	txs, err := e.ledger.ListTransactions(ctx, ledger.TransactionFilter{
		Status:        domain.TransactionCompleted,
		CreatedFrom:   from,
		CreatedBefore: to,
	})
	if err != nil {
		return 0, fmt.Errorf("Backfill: list transactions: %w", err)
	}

	exportedAt := e.now()
	sent := 0
	for start := 0; start < len(txs); start += backfillBatchSize {
		end := start + backfillBatchSize
		if end > len(txs) {
			end = len(txs)
		}

		rows := make([]*bq.TransactionRow, 0, end-start)
		for _, tx := range txs[start:end] {
			rows = append(rows, bq.NewTransactionRow(tx, exportedAt))
		}
		if err := e.sink.InsertTransactions(ctx, rows); err != nil {
			return sent, fmt.Errorf("Backfill: batch at %d: %w", start, err)
		}
		sent += len(rows)
		e.log.Info().Int("batch_size", len(rows)).Int("sent", sent).Int("total", len(txs)).Msg("Backfill batch exported")
	}
	return sent, nil
}
