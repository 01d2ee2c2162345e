// Package savings records member deposits and builds the member summary.
package savings

import (
	"context"
	"fmt"

	"github.com/dvloznov/community-sacco/internal/domain"
	"github.com/dvloznov/community-sacco/internal/jobs"
	"github.com/dvloznov/community-sacco/internal/ledger"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	maxNotesLength     = 255
	defaultDescription = "Savings deposit"
)

// Service records savings against the ledger.
type Service struct {
	store     ledger.Store
	publisher jobs.Publisher
	log       zerolog.Logger
}

// NewService creates the savings service. publisher may be nil.
func NewService(store ledger.Store, publisher jobs.Publisher, log zerolog.Logger) *Service {
	return &Service{store: store, publisher: publisher, log: log}
}

// Record stores a savings record and its completed DEPOSIT transaction in
// one unit of work.
func (s *Service) Record(ctx context.Context, actor domain.Actor, rawAmount, notes string) (*domain.SavingsRecord, error) {
	if err := actor.RequireMember(); err != nil {
		return nil, err
	}
	amount, err := domain.ParseAmount("amount", rawAmount)
	if err != nil {
		return nil, err
	}
	notes, err = domain.OptionalText("notes", notes, maxNotesLength)
	if err != nil {
		return nil, err
	}

	rec := &domain.SavingsRecord{
		ID:     uuid.New().String(),
		UserID: actor.UserID,
		Amount: amount,
		Notes:  notes,
	}
	description := notes
	if description == "" {
		description = defaultDescription
	}
	deposit := &domain.Transaction{
		ID:          uuid.New().String(),
		UserID:      actor.UserID,
		Type:        domain.TransactionDeposit,
		Status:      domain.TransactionCompleted,
		Amount:      amount,
		Description: description,
	}

	err = s.store.Atomic(ctx, func(ctx context.Context, repo ledger.Repository) error {
		if err := repo.InsertSavingsRecord(ctx, rec); err != nil {
			return err
		}
		return repo.InsertTransaction(ctx, deposit)
	})
	if err != nil {
		return nil, fmt.Errorf("Record: %w", err)
	}

	s.log.Info().
		Str("user_id", actor.UserID).
		Str("savings_id", rec.ID).
		Str("transaction_id", deposit.ID).
		Str("amount", amount.StringFixed(2)).
		Msg("Savings recorded")

	if _, err := jobs.Enqueue(ctx, s.publisher, jobs.JobTypeExportTransaction, deposit.ID); err != nil {
		s.log.Warn().Err(err).Str("transaction_id", deposit.ID).Msg("Failed to queue transaction export")
	}

	return rec, nil
}

// Statement is a member's savings history.
type Statement struct {
	Records    []*domain.SavingsRecord `json:"records"`
	TotalSaved decimal.Decimal         `json:"total_saved"`
}

// List returns the actor's savings, newest first, with their total.
func (s *Service) List(ctx context.Context, actor domain.Actor) (*Statement, error) {
	if err := actor.RequireMember(); err != nil {
		return nil, err
	}
	records, err := s.store.ListSavingsRecords(ctx, actor.UserID)
	if err != nil {
		return nil, fmt.Errorf("List: %w", err)
	}

	total := decimal.Zero
	for _, r := range records {
		total = total.Add(r.Amount)
	}
	if records == nil {
		records = []*domain.SavingsRecord{}
	}
	return &Statement{Records: records, TotalSaved: total}, nil
}

// Summary is the member home page.
type Summary struct {
	LatestLoanStatus    string           `json:"latest_loan_status"`
	TotalSaved          decimal.Decimal  `json:"total_saved"`
	PendingTransactions int              `json:"pending_transactions"`
	LoanLimit           *decimal.Decimal `json:"loan_limit"`
}

// Summary reports the latest loan status ("None" without loans), total
// saved, own pending transactions and the loan limit, if any.
func (s *Service) Summary(ctx context.Context, actor domain.Actor) (*Summary, error) {
	if err := actor.RequireMember(); err != nil {
		return nil, err
	}

	out := &Summary{LatestLoanStatus: "None"}

	loans, err := s.store.ListLoanRequests(ctx, ledger.LoanFilter{UserID: actor.UserID, Limit: 1})
	if err != nil {
		return nil, fmt.Errorf("Summary: latest loan: %w", err)
	}
	if len(loans) > 0 {
		out.LatestLoanStatus = string(loans[0].Status)
	}

	statement, err := s.List(ctx, actor)
	if err != nil {
		return nil, fmt.Errorf("Summary: %w", err)
	}
	out.TotalSaved = statement.TotalSaved

	pending, err := s.store.ListTransactions(ctx, ledger.TransactionFilter{
		UserID: actor.UserID,
		Status: domain.TransactionPending,
	})
	if err != nil {
		return nil, fmt.Errorf("Summary: pending transactions: %w", err)
	}
	out.PendingTransactions = len(pending)

	limit, err := s.store.GetLoanLimit(ctx, actor.UserID)
	if err != nil {
		return nil, fmt.Errorf("Summary: loan limit: %w", err)
	}
	if limit != nil {
		out.LoanLimit = limit.Amount
	}

	return out, nil
}

// Transactions returns the actor's own transactions, newest first.
func (s *Service) Transactions(ctx context.Context, actor domain.Actor) ([]*domain.Transaction, error) {
	if err := actor.RequireMember(); err != nil {
		return nil, err
	}
	txs, err := s.store.ListTransactions(ctx, ledger.TransactionFilter{UserID: actor.UserID})
	if err != nil {
		return nil, fmt.Errorf("Transactions: %w", err)
	}
	return txs, nil
}
