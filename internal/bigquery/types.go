// Package bigquery defines the warehouse row types and the interface the
// ledger export writes through.
package bigquery

import (
	"context"
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/dvloznov/community-sacco/internal/domain"
)

// LedgerTransactionsTable is the export target inside the warehouse dataset.
const LedgerTransactionsTable = "ledger_transactions"

// TransactionSink receives ledger transactions for analytics.
type TransactionSink interface {
	// InsertTransactions streams rows. Re-sending a row with the same
	// transaction id and status is deduplicated by the warehouse.
	InsertTransactions(ctx context.Context, rows []*TransactionRow) error

	// QueryTransactionsByDateRange reads exported rows created between start
	// and end, inclusive, by calendar date.
	QueryTransactionsByDateRange(ctx context.Context, start, end time.Time) ([]*TransactionRow, error)
}

// TransactionRow is one row of ledger_transactions.
type TransactionRow struct {
	TransactionID    string              `bigquery:"transaction_id"`
	UserID           string              `bigquery:"user_id"`
	TransactionType  string              `bigquery:"transaction_type"`
	Status           string              `bigquery:"status"`
	Amount           *big.Rat            `bigquery:"amount"`
	PhoneNumber      bigquery.NullString `bigquery:"phone_number"`
	PaymentReference bigquery.NullString `bigquery:"payment_reference"`
	Description      bigquery.NullString `bigquery:"description"`
	CreatedAt        time.Time           `bigquery:"created_at"`
	CreatedDate      civil.Date          `bigquery:"created_date"`
	ExportedAt       time.Time           `bigquery:"exported_at"`
}

// InsertID identifies a row version for streaming deduplication.
func (r *TransactionRow) InsertID() string {
	return r.TransactionID + ":" + r.Status
}

// NewTransactionRow converts a ledger transaction into a warehouse row.
func NewTransactionRow(tx *domain.Transaction, exportedAt time.Time) *TransactionRow {
	return &TransactionRow{
		TransactionID:    tx.ID,
		UserID:           tx.UserID,
		TransactionType:  string(tx.Type),
		Status:           string(tx.Status),
		Amount:           tx.Amount.Rat(),
		PhoneNumber:      nullString(tx.PhoneNumber),
		PaymentReference: nullString(tx.PaymentReference),
		Description:      nullString(tx.Description),
		CreatedAt:        tx.CreatedAt.UTC(),
		CreatedDate:      civil.DateOf(tx.CreatedAt.UTC()),
		ExportedAt:       exportedAt.UTC(),
	}
}

func nullString(s string) bigquery.NullString {
	return bigquery.NullString{StringVal: s, Valid: s != ""}
}
