package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/dvloznov/community-sacco/internal/domain"
	"github.com/dvloznov/community-sacco/internal/ledger"
	"github.com/shopspring/decimal"
)

// CountLoansByStatus implements ledger.Rollups.
func (r *repo) CountLoansByStatus(ctx context.Context) (map[domain.LoanStatus]int, error) {
	rows, err := r.q.Query(ctx, `SELECT status, COUNT(*) FROM loan_requests GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("CountLoansByStatus: query: %w", err)
	}
	defer rows.Close()

	out := make(map[domain.LoanStatus]int)
	for rows.Next() {
		var status domain.LoanStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("CountLoansByStatus: scan: %w", err)
		}
		out[status] = n
	}
	return out, rows.Err()
}

// CountTransactionsByStatus implements ledger.Rollups.
func (r *repo) CountTransactionsByStatus(ctx context.Context, txType domain.TransactionType) (map[domain.TransactionStatus]int, error) {
	rows, err := r.q.Query(ctx, `
		SELECT status, COUNT(*) FROM transactions WHERE transaction_type = $1 GROUP BY status
	`, txType)
	if err != nil {
		return nil, fmt.Errorf("CountTransactionsByStatus: query: %w", err)
	}
	defer rows.Close()

	out := make(map[domain.TransactionStatus]int)
	for rows.Next() {
		var status domain.TransactionStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("CountTransactionsByStatus: scan: %w", err)
		}
		out[status] = n
	}
	return out, rows.Err()
}

// CountTransactionsByMonth implements ledger.Rollups. Months are UTC
// calendar months.
func (r *repo) CountTransactionsByMonth(ctx context.Context) ([]ledger.MonthCount, error) {
	rows, err := r.q.Query(ctx, `
		SELECT date_trunc('month', created_at AT TIME ZONE 'UTC') AS month, COUNT(*)
		FROM transactions
		GROUP BY month
		ORDER BY month
	`)
	if err != nil {
		return nil, fmt.Errorf("CountTransactionsByMonth: query: %w", err)
	}
	defer rows.Close()

	out := []ledger.MonthCount{}
	for rows.Next() {
		var month time.Time
		var n int
		if err := rows.Scan(&month, &n); err != nil {
			return nil, fmt.Errorf("CountTransactionsByMonth: scan: %w", err)
		}
		out = append(out, ledger.MonthCount{Month: month.UTC(), Count: n})
	}
	return out, rows.Err()
}

// CountDistinctApplicants implements ledger.Rollups.
func (r *repo) CountDistinctApplicants(ctx context.Context) (int, error) {
	var n int
	if err := r.q.QueryRow(ctx, `SELECT COUNT(DISTINCT user_id) FROM loan_requests`).Scan(&n); err != nil {
		return 0, fmt.Errorf("CountDistinctApplicants: %w", err)
	}
	return n, nil
}

// SumTransactions implements ledger.Rollups.
func (r *repo) SumTransactions(ctx context.Context, txType domain.TransactionType, status domain.TransactionStatus) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := r.q.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM transactions WHERE transaction_type = $1 AND status = $2
	`, txType, status).Scan(&total)
	if err != nil {
		return decimal.Zero, fmt.Errorf("SumTransactions: %w", err)
	}
	return total, nil
}

// CountTransactionsWithStatus implements ledger.Rollups.
func (r *repo) CountTransactionsWithStatus(ctx context.Context, status domain.TransactionStatus) (int, error) {
	var n int
	if err := r.q.QueryRow(ctx, `SELECT COUNT(*) FROM transactions WHERE status = $1`, status).Scan(&n); err != nil {
		return 0, fmt.Errorf("CountTransactionsWithStatus: %w", err)
	}
	return n, nil
}
