package ledger

import (
	"context"
	"time"

	"github.com/dvloznov/community-sacco/internal/domain"
	"github.com/shopspring/decimal"
)

// Repository provides the ledger's record-level operations. Inside a unit of
// work started by Store.Atomic, reads that precede a write (GetLoanRequest,
// FindTransactionByReference, GetTransaction) lock the row they return until
// the unit commits or rolls back.
type Repository interface {
	// InsertSavingsRecord stores a new savings record.
	InsertSavingsRecord(ctx context.Context, rec *domain.SavingsRecord) error

	// ListSavingsRecords returns a member's savings, newest first.
	ListSavingsRecords(ctx context.Context, userID string) ([]*domain.SavingsRecord, error)

	// InsertLoanRequest stores a new loan request.
	InsertLoanRequest(ctx context.Context, loan *domain.LoanRequest) error

	// GetLoanRequest returns a loan request or a domain.NotFoundError.
	GetLoanRequest(ctx context.Context, id string) (*domain.LoanRequest, error)

	// UpdateLoanReview persists status, admin comment, reviewer and review time.
	UpdateLoanReview(ctx context.Context, loan *domain.LoanRequest) error

	// UpdateLoanScreening persists the advisory document screening outcome.
	UpdateLoanScreening(ctx context.Context, id string, status domain.ScreeningStatus, note string) error

	// ListLoanRequests returns loan requests matching filter, newest first.
	ListLoanRequests(ctx context.Context, filter LoanFilter) ([]*domain.LoanRequest, error)

	// InsertTransaction stores a new transaction.
	InsertTransaction(ctx context.Context, tx *domain.Transaction) error

	// GetTransaction returns a transaction or a domain.NotFoundError.
	GetTransaction(ctx context.Context, id string) (*domain.Transaction, error)

	// FindTransactionByReference returns the transaction carrying the payment
	// reference, preferring PENDING rows and then the most recent one.
	// It returns (nil, nil) when nothing matches.
	FindTransactionByReference(ctx context.Context, reference string) (*domain.Transaction, error)

	// UpdateTransactionSettlement sets status and description of a transaction.
	UpdateTransactionSettlement(ctx context.Context, id string, status domain.TransactionStatus, description string) error

	// ListTransactions returns transactions matching filter, newest first.
	ListTransactions(ctx context.Context, filter TransactionFilter) ([]*domain.Transaction, error)

	// GetLoanLimit returns the member's limit, or (nil, nil) if none was set.
	GetLoanLimit(ctx context.Context, userID string) (*domain.UserLoanLimit, error)

	// ListLoanLimits returns the limits for the given members keyed by user id.
	ListLoanLimits(ctx context.Context, userIDs []string) (map[string]*domain.UserLoanLimit, error)

	// UpsertLoanLimit creates or replaces the member's limit.
	UpsertLoanLimit(ctx context.Context, limit *domain.UserLoanLimit) error

	// UserExists reports whether the user id is known.
	UserExists(ctx context.Context, userID string) (bool, error)
}

// Rollups provides the aggregate queries behind the analytics dashboard.
type Rollups interface {
	// CountLoansByStatus counts loan requests per status.
	CountLoansByStatus(ctx context.Context) (map[domain.LoanStatus]int, error)

	// CountTransactionsByStatus counts transactions of one type per status.
	CountTransactionsByStatus(ctx context.Context, txType domain.TransactionType) (map[domain.TransactionStatus]int, error)

	// CountTransactionsByMonth counts transactions per calendar month of
	// creation, ordered chronologically.
	CountTransactionsByMonth(ctx context.Context) ([]MonthCount, error)

	// CountDistinctApplicants counts members with at least one loan request.
	CountDistinctApplicants(ctx context.Context) (int, error)

	// SumTransactions sums amounts of transactions with the given type and status.
	SumTransactions(ctx context.Context, txType domain.TransactionType, status domain.TransactionStatus) (decimal.Decimal, error)

	// CountTransactionsWithStatus counts transactions of any type in status.
	CountTransactionsWithStatus(ctx context.Context, status domain.TransactionStatus) (int, error)
}

// Store is the durable ledger. Atomic runs fn as one unit of work: either
// every write made through the supplied Repository is applied, or none is.
type Store interface {
	Repository
	Rollups

	Atomic(ctx context.Context, fn func(ctx context.Context, repo Repository) error) error
}

// LoanFilter narrows ListLoanRequests.
type LoanFilter struct {
	UserID string
	Status domain.LoanStatus
	Limit  int
}

// TransactionFilter narrows ListTransactions.
type TransactionFilter struct {
	UserID        string
	Types         []domain.TransactionType
	Status        domain.TransactionStatus
	CreatedBefore time.Time
	CreatedFrom   time.Time
	Limit         int
}

// MonthCount is the number of transactions created in one calendar month.
type MonthCount struct {
	Month time.Time `json:"month"`
	Count int       `json:"count"`
}
