package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dvloznov/community-sacco/internal/domain"
	"github.com/dvloznov/community-sacco/internal/ledger"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const loanColumns = `id, user_id, name, id_number, document_ref, document_content_type, amount, purpose,
	status, admin_comment, reviewed_by, reviewed_at, screening_status, screening_note, created_at`

const transactionColumns = `id, user_id, transaction_type, status, amount, phone_number,
	payment_reference, description, created_at`

// InsertSavingsRecord implements ledger.Repository.
func (r *repo) InsertSavingsRecord(ctx context.Context, rec *domain.SavingsRecord) error {
	err := r.q.QueryRow(ctx, `
		INSERT INTO savings_records (id, user_id, amount, notes)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`, rec.ID, rec.UserID, rec.Amount, rec.Notes).Scan(&rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("InsertSavingsRecord: %w", err)
	}
	return nil
}

// ListSavingsRecords implements ledger.Repository.
func (r *repo) ListSavingsRecords(ctx context.Context, userID string) ([]*domain.SavingsRecord, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id, user_id, amount, notes, created_at
		FROM savings_records
		WHERE user_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("ListSavingsRecords: query: %w", err)
	}
	defer rows.Close()

	out := []*domain.SavingsRecord{}
	for rows.Next() {
		var rec domain.SavingsRecord
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.Amount, &rec.Notes, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("ListSavingsRecords: scan: %w", err)
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// InsertLoanRequest implements ledger.Repository.
func (r *repo) InsertLoanRequest(ctx context.Context, loan *domain.LoanRequest) error {
	err := r.q.QueryRow(ctx, `
		INSERT INTO loan_requests (id, user_id, name, id_number, document_ref, document_content_type,
			amount, purpose, status, screening_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at
	`, loan.ID, loan.UserID, loan.Name, loan.IDNumber, loan.DocumentRef, loan.DocumentContentType,
		loan.Amount, loan.Purpose, loan.Status, loan.ScreeningStatus).Scan(&loan.CreatedAt)
	if err != nil {
		return fmt.Errorf("InsertLoanRequest: %w", err)
	}
	return nil
}

// GetLoanRequest implements ledger.Repository.
func (r *repo) GetLoanRequest(ctx context.Context, id string) (*domain.LoanRequest, error) {
	row := r.q.QueryRow(ctx, `SELECT `+loanColumns+` FROM loan_requests WHERE id = $1`+r.forUpdate(), id)
	loan, err := scanLoan(row)
	if err != nil {
		return nil, fmt.Errorf("GetLoanRequest: %w", notFound(err, "loan request", id))
	}
	return loan, nil
}

// UpdateLoanReview implements ledger.Repository.
func (r *repo) UpdateLoanReview(ctx context.Context, loan *domain.LoanRequest) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE loan_requests
		SET status = $2, admin_comment = $3, reviewed_by = $4, reviewed_at = $5
		WHERE id = $1
	`, loan.ID, loan.Status, loan.AdminComment, loan.ReviewedBy, loan.ReviewedAt)
	if err != nil {
		return fmt.Errorf("UpdateLoanReview: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &domain.NotFoundError{Entity: "loan request", ID: loan.ID}
	}
	return nil
}

// UpdateLoanScreening implements ledger.Repository.
func (r *repo) UpdateLoanScreening(ctx context.Context, id string, status domain.ScreeningStatus, note string) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE loan_requests SET screening_status = $2, screening_note = $3 WHERE id = $1
	`, id, status, note)
	if err != nil {
		return fmt.Errorf("UpdateLoanScreening: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &domain.NotFoundError{Entity: "loan request", ID: id}
	}
	return nil
}

// ListLoanRequests implements ledger.Repository.
func (r *repo) ListLoanRequests(ctx context.Context, filter ledger.LoanFilter) ([]*domain.LoanRequest, error) {
	var where []string
	var args []any
	if filter.UserID != "" {
		args = append(args, filter.UserID)
		where = append(where, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}

	sql := `SELECT ` + loanColumns + ` FROM loan_requests`
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	sql += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		sql += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("ListLoanRequests: query: %w", err)
	}
	defer rows.Close()

	out := []*domain.LoanRequest{}
	for rows.Next() {
		loan, err := scanLoan(rows)
		if err != nil {
			return nil, fmt.Errorf("ListLoanRequests: scan: %w", err)
		}
		out = append(out, loan)
	}
	return out, rows.Err()
}

// InsertTransaction implements ledger.Repository.
func (r *repo) InsertTransaction(ctx context.Context, tx *domain.Transaction) error {
	err := r.q.QueryRow(ctx, `
		INSERT INTO transactions (id, user_id, transaction_type, status, amount, phone_number,
			payment_reference, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`, tx.ID, tx.UserID, tx.Type, tx.Status, tx.Amount, tx.PhoneNumber,
		tx.PaymentReference, tx.Description).Scan(&tx.CreatedAt)
	if err != nil {
		return fmt.Errorf("InsertTransaction: %w", err)
	}
	return nil
}

// GetTransaction implements ledger.Repository.
func (r *repo) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	row := r.q.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`+r.forUpdate(), id)
	tx, err := scanTransaction(row)
	if err != nil {
		return nil, fmt.Errorf("GetTransaction: %w", notFound(err, "transaction", id))
	}
	return tx, nil
}

// FindTransactionByReference implements ledger.Repository.
func (r *repo) FindTransactionByReference(ctx context.Context, reference string) (*domain.Transaction, error) {
	if strings.TrimSpace(reference) == "" {
		return nil, nil
	}

	row := r.q.QueryRow(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE payment_reference = $1
		ORDER BY (status = 'PENDING') DESC, created_at DESC
		LIMIT 1`+r.forUpdate(), reference)
	tx, err := scanTransaction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("FindTransactionByReference: %w", err)
	}
	return tx, nil
}

// UpdateTransactionSettlement implements ledger.Repository.
func (r *repo) UpdateTransactionSettlement(ctx context.Context, id string, status domain.TransactionStatus, description string) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE transactions SET status = $2, description = $3 WHERE id = $1
	`, id, status, description)
	if err != nil {
		return fmt.Errorf("UpdateTransactionSettlement: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &domain.NotFoundError{Entity: "transaction", ID: id}
	}
	return nil
}

// ListTransactions implements ledger.Repository.
func (r *repo) ListTransactions(ctx context.Context, filter ledger.TransactionFilter) ([]*domain.Transaction, error) {
	var where []string
	var args []any
	add := func(clause string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}

	if filter.UserID != "" {
		add("user_id = $%d", filter.UserID)
	}
	if len(filter.Types) > 0 {
		types := make([]string, len(filter.Types))
		for i, t := range filter.Types {
			types[i] = string(t)
		}
		add("transaction_type = ANY($%d)", types)
	}
	if filter.Status != "" {
		add("status = $%d", filter.Status)
	}
	if !filter.CreatedBefore.IsZero() {
		add("created_at < $%d", filter.CreatedBefore)
	}
	if !filter.CreatedFrom.IsZero() {
		add("created_at >= $%d", filter.CreatedFrom)
	}

	sql := `SELECT ` + transactionColumns + ` FROM transactions`
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	sql += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		sql += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("ListTransactions: query: %w", err)
	}
	defer rows.Close()

	out := []*domain.Transaction{}
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("ListTransactions: scan: %w", err)
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

// GetLoanLimit implements ledger.Repository.
func (r *repo) GetLoanLimit(ctx context.Context, userID string) (*domain.UserLoanLimit, error) {
	row := r.q.QueryRow(ctx, `
		SELECT user_id, amount, updated_at FROM user_loan_limits WHERE user_id = $1
	`, userID)
	limit, err := scanLimit(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetLoanLimit: %w", err)
	}
	return limit, nil
}

// ListLoanLimits implements ledger.Repository.
func (r *repo) ListLoanLimits(ctx context.Context, userIDs []string) (map[string]*domain.UserLoanLimit, error) {
	out := make(map[string]*domain.UserLoanLimit, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}

	rows, err := r.q.Query(ctx, `
		SELECT user_id, amount, updated_at FROM user_loan_limits WHERE user_id = ANY($1)
	`, userIDs)
	if err != nil {
		return nil, fmt.Errorf("ListLoanLimits: query: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		limit, err := scanLimit(rows)
		if err != nil {
			return nil, fmt.Errorf("ListLoanLimits: scan: %w", err)
		}
		out[limit.UserID] = limit
	}
	return out, rows.Err()
}

// UpsertLoanLimit implements ledger.Repository.
func (r *repo) UpsertLoanLimit(ctx context.Context, limit *domain.UserLoanLimit) error {
	var amount decimal.NullDecimal
	if limit.Amount != nil {
		amount = decimal.NewNullDecimal(*limit.Amount)
	}

	err := r.q.QueryRow(ctx, `
		INSERT INTO user_loan_limits (user_id, amount, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (user_id) DO UPDATE SET amount = EXCLUDED.amount, updated_at = now()
		RETURNING updated_at
	`, limit.UserID, amount).Scan(&limit.UpdatedAt)
	if err != nil {
		return fmt.Errorf("UpsertLoanLimit: %w", err)
	}
	return nil
}

// UserExists implements ledger.Repository.
func (r *repo) UserExists(ctx context.Context, userID string) (bool, error) {
	var exists bool
	err := r.q.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("UserExists: %w", err)
	}
	return exists, nil
}

func scanLoan(row pgx.Row) (*domain.LoanRequest, error) {
	var loan domain.LoanRequest
	err := row.Scan(&loan.ID, &loan.UserID, &loan.Name, &loan.IDNumber, &loan.DocumentRef,
		&loan.DocumentContentType, &loan.Amount, &loan.Purpose, &loan.Status, &loan.AdminComment,
		&loan.ReviewedBy, &loan.ReviewedAt, &loan.ScreeningStatus, &loan.ScreeningNote, &loan.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &loan, nil
}

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var tx domain.Transaction
	err := row.Scan(&tx.ID, &tx.UserID, &tx.Type, &tx.Status, &tx.Amount, &tx.PhoneNumber,
		&tx.PaymentReference, &tx.Description, &tx.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

func scanLimit(row pgx.Row) (*domain.UserLoanLimit, error) {
	var limit domain.UserLoanLimit
	var amount decimal.NullDecimal
	if err := row.Scan(&limit.UserID, &amount, &limit.UpdatedAt); err != nil {
		return nil, err
	}
	if amount.Valid {
		d := amount.Decimal
		limit.Amount = &d
	}
	return &limit, nil
}
