// Package bigquery is the BigQuery implementation of the ledger warehouse.
package bigquery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	bq "github.com/dvloznov/community-sacco/internal/bigquery"
	"google.golang.org/api/iterator"
)

// Re-export row types from the shared package.
type TransactionRow = bq.TransactionRow

const dateFormat = "2006-01-02"

// Warehouse streams ledger transactions into BigQuery. It holds one client
// for its lifetime.
type Warehouse struct {
	client  *bigquery.Client
	project string
	dataset string
}

var _ bq.TransactionSink = (*Warehouse)(nil)

// NewWarehouse creates a warehouse client for project and dataset.
func NewWarehouse(ctx context.Context, project, dataset string) (*Warehouse, error) {
	client, err := bigquery.NewClient(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("NewWarehouse: creating client: %w", err)
	}
	return &Warehouse{client: client, project: project, dataset: dataset}, nil
}

// Close closes the BigQuery client connection.
func (w *Warehouse) Close() error {
	if w.client != nil {
		return w.client.Close()
	}
	return nil
}

// InsertTransactions streams rows into ledger_transactions with insert ids
// of transaction_id:status.
func (w *Warehouse) InsertTransactions(ctx context.Context, rows []*TransactionRow) error {
	if len(rows) == 0 {
		return nil
	}

	savers := make([]*bigquery.StructSaver, 0, len(rows))
	for _, r := range rows {
		savers = append(savers, &bigquery.StructSaver{Struct: r, InsertID: r.InsertID()})
	}

	table := w.client.DatasetInProject(w.project, w.dataset).Table(bq.LedgerTransactionsTable)
	if err := table.Inserter().Put(ctx, savers); err != nil {
		return fmt.Errorf("InsertTransactions: inserting rows: %w", err)
	}
	return nil
}

// QueryTransactionsByDateRange returns the latest exported version of each
// transaction created between start and end.
func (w *Warehouse) QueryTransactionsByDateRange(ctx context.Context, start, end time.Time) ([]*TransactionRow, error) {
	q := w.client.Query(fmt.Sprintf(`
		SELECT
			transaction_id,
			user_id,
			transaction_type,
			status,
			amount,
			phone_number,
			payment_reference,
			description,
			created_at,
			created_date,
			exported_at
		FROM `+"`%s.%s.%s`"+`
		WHERE created_date >= @start_date
		  AND created_date <= @end_date
		QUALIFY ROW_NUMBER() OVER (PARTITION BY transaction_id ORDER BY exported_at DESC) = 1
		ORDER BY created_at
	`, w.project, w.dataset, bq.LedgerTransactionsTable))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "start_date", Value: start.Format(dateFormat)},
		{Name: "end_date", Value: end.Format(dateFormat)},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("QueryTransactionsByDateRange: query read: %w", err)
	}

	var rows []*TransactionRow
	for {
		var r TransactionRow
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("QueryTransactionsByDateRange: iter next: %w", err)
		}
		rows = append(rows, &r)
	}
	return rows, nil
}
