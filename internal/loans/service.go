// Package loans implements the loan request workflow: member submission,
// admin decisions and per-member loan limits.
package loans

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dvloznov/community-sacco/internal/domain"
	"github.com/dvloznov/community-sacco/internal/jobs"
	"github.com/dvloznov/community-sacco/internal/ledger"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	maxNameLength     = 120
	maxIDNumberLength = 30
	maxPurposeLength  = 2000
	maxCommentLength  = 255
)

// DocumentStore persists the supporting document of a loan request.
type DocumentStore interface {
	Save(ctx context.Context, filename, contentType string, r io.Reader) (string, error)
}

// UserDirectory resolves member ids to accounts.
type UserDirectory interface {
	ListUsers(ctx context.Context, ids []string) ([]*domain.User, error)
}

// Document is an uploaded file accompanying a loan request.
type Document struct {
	Filename    string
	ContentType string
	Body        io.Reader
}

// SubmitInput carries the member-supplied loan request fields. Amount is the
// raw decimal text.
type SubmitInput struct {
	Name     string
	IDNumber string
	Amount   string
	Purpose  string
	Document *Document
}

// Service applies loan workflow transitions against the ledger.
type Service struct {
	store     ledger.Store
	docs      DocumentStore
	users     UserDirectory
	publisher jobs.Publisher
	screening bool
	log       zerolog.Logger
	now       func() time.Time
}

// NewService creates the loan workflow. publisher may be nil, in which case
// no screening or export jobs are queued.
func NewService(store ledger.Store, docs DocumentStore, users UserDirectory, publisher jobs.Publisher, screening bool, log zerolog.Logger) *Service {
	return &Service{
		store:     store,
		docs:      docs,
		users:     users,
		publisher: publisher,
		screening: screening && publisher != nil,
		log:       log,
		now:       time.Now,
	}
}

// Submit records a new PENDING loan request for the actor. It never creates
// a transaction.
func (s *Service) Submit(ctx context.Context, actor domain.Actor, in SubmitInput) (*domain.LoanRequest, error) {
	if err := actor.RequireMember(); err != nil {
		return nil, err
	}

	name, err := domain.RequireText("name", in.Name, maxNameLength)
	if err != nil {
		return nil, err
	}
	idNumber, err := domain.RequireText("id_number", in.IDNumber, maxIDNumberLength)
	if err != nil {
		return nil, err
	}
	amount, err := domain.ParseAmount("amount", in.Amount)
	if err != nil {
		return nil, err
	}
	purpose, err := domain.OptionalText("purpose", in.Purpose, maxPurposeLength)
	if err != nil {
		return nil, err
	}
	if in.Document == nil || in.Document.Body == nil || in.Document.Filename == "" {
		return nil, domain.NewValidationError("document", "is required")
	}

	ref, err := s.docs.Save(ctx, in.Document.Filename, in.Document.ContentType, in.Document.Body)
	if err != nil {
		return nil, fmt.Errorf("Submit: save document: %w", err)
	}

	loan := &domain.LoanRequest{
		ID:                  uuid.New().String(),
		UserID:              actor.UserID,
		Name:                name,
		IDNumber:            idNumber,
		DocumentRef:         ref,
		DocumentContentType: in.Document.ContentType,
		Amount:              amount,
		Purpose:             purpose,
		Status:              domain.LoanPending,
	}
	if s.screening {
		loan.ScreeningStatus = domain.ScreeningQueued
	}

	if err := s.store.InsertLoanRequest(ctx, loan); err != nil {
		s.log.Error().Err(err).Str("document_ref", ref).Msg("Loan request not stored; document is orphaned")
		return nil, fmt.Errorf("Submit: insert loan request: %w", err)
	}

	s.log.Info().
		Str("loan_id", loan.ID).
		Str("user_id", loan.UserID).
		Str("amount", loan.Amount.StringFixed(2)).
		Msg("Loan request submitted")

	if s.screening {
		if _, err := jobs.Enqueue(ctx, s.publisher, jobs.JobTypeScreenLoanDocument, loan.ID); err != nil {
			s.log.Warn().Err(err).Str("loan_id", loan.ID).Msg("Failed to queue document screening")
		}
	}

	return loan, nil
}

// ListOwn returns the actor's loan requests, newest first.
func (s *Service) ListOwn(ctx context.Context, actor domain.Actor) ([]*domain.LoanRequest, error) {
	if err := actor.RequireMember(); err != nil {
		return nil, err
	}
	loans, err := s.store.ListLoanRequests(ctx, ledger.LoanFilter{UserID: actor.UserID})
	if err != nil {
		return nil, fmt.Errorf("ListOwn: %w", err)
	}
	return loans, nil
}

// Decide approves or rejects a PENDING loan request. Approval also records a
// completed LOAN_DISBURSEMENT transaction in the same unit of work.
func (s *Service) Decide(ctx context.Context, loanID string, reviewer domain.Actor, action domain.Decision, comment string) (*domain.LoanRequest, error) {
	if err := reviewer.RequireAdmin(); err != nil {
		return nil, err
	}
	if !action.Valid() {
		return nil, domain.NewValidationError("action", "must be APPROVE or REJECT")
	}
	comment, err := domain.OptionalText("admin_comment", comment, maxCommentLength)
	if err != nil {
		return nil, err
	}

	var decided *domain.LoanRequest
	var disbursement *domain.Transaction

	err = s.store.Atomic(ctx, func(ctx context.Context, repo ledger.Repository) error {
		loan, err := repo.GetLoanRequest(ctx, loanID)
		if err != nil {
			return err
		}
		if loan.UserID == reviewer.UserID {
			return &domain.AuthorizationError{Reason: "you cannot approve or reject your own loan request"}
		}
		if loan.Status != domain.LoanPending {
			return &domain.StateError{Entity: "loan request", ID: loan.ID, Current: string(loan.Status)}
		}

		reviewerID := reviewer.UserID
		reviewedAt := s.now()
		loan.Status = action.Outcome()
		loan.AdminComment = comment
		loan.ReviewedBy = &reviewerID
		loan.ReviewedAt = &reviewedAt

		if err := repo.UpdateLoanReview(ctx, loan); err != nil {
			return err
		}

		if action == domain.DecisionApprove {
			disbursement = &domain.Transaction{
				ID:          uuid.New().String(),
				UserID:      loan.UserID,
				Type:        domain.TransactionLoanDisbursement,
				Status:      domain.TransactionCompleted,
				Amount:      loan.Amount,
				Description: "Approved loan: " + loan.Name,
			}
			if err := repo.InsertTransaction(ctx, disbursement); err != nil {
				return err
			}
		}

		decided = loan
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("Decide: %w", err)
	}

	evt := s.log.Info().
		Str("loan_id", decided.ID).
		Str("reviewer_id", reviewer.UserID).
		Str("status", string(decided.Status))
	if disbursement != nil {
		evt = evt.Str("transaction_id", disbursement.ID)
	}
	evt.Msg("Loan request decided")

	if disbursement != nil {
		if _, err := jobs.Enqueue(ctx, s.publisher, jobs.JobTypeExportTransaction, disbursement.ID); err != nil {
			s.log.Warn().Err(err).Str("transaction_id", disbursement.ID).Msg("Failed to queue transaction export")
		}
	}

	return decided, nil
}

// SetLimit sets or, when raw is blank, clears a member's advisory loan limit.
func (s *Service) SetLimit(ctx context.Context, targetUserID string, admin domain.Actor, raw string) (*domain.UserLoanLimit, error) {
	if err := admin.RequireAdmin(); err != nil {
		return nil, err
	}

	var limit *domain.UserLoanLimit
	err := s.store.Atomic(ctx, func(ctx context.Context, repo ledger.Repository) error {
		exists, err := repo.UserExists(ctx, targetUserID)
		if err != nil {
			return err
		}
		if !exists {
			return &domain.NotFoundError{Entity: "user", ID: targetUserID}
		}

		limit = &domain.UserLoanLimit{UserID: targetUserID}
		if strings.TrimSpace(raw) != "" {
			amount, err := domain.ParseAmount("loan_limit_amount", raw)
			if err != nil {
				return err
			}
			limit.Amount = &amount
		}
		return repo.UpsertLoanLimit(ctx, limit)
	})
	if err != nil {
		return nil, fmt.Errorf("SetLimit: %w", err)
	}

	evt := s.log.Info().Str("user_id", targetUserID).Str("admin_id", admin.UserID)
	if limit.Amount != nil {
		evt = evt.Str("limit", limit.Amount.StringFixed(2))
	}
	evt.Msg("Loan limit updated")

	return limit, nil
}

// LoanView is a loan request as shown to reviewers.
type LoanView struct {
	*domain.LoanRequest
	Applicant    string `json:"applicant"`
	ExceedsLimit bool   `json:"exceeds_limit"`
}

// Applicant is a member with at least one loan request and their limit.
type Applicant struct {
	UserID   string           `json:"id"`
	Username string           `json:"username"`
	Limit    *decimal.Decimal `json:"limit"`
}

// Overview is the reviewer dashboard.
type Overview struct {
	Pending    []LoanView  `json:"pending_loans"`
	All        []LoanView  `json:"all_loans"`
	Applicants []Applicant `json:"applicants"`
}

// AdminOverview lists pending and all loan requests plus every applicant with
// their limit, sorted by username. Requests above the applicant's limit are
// flagged but not blocked.
func (s *Service) AdminOverview(ctx context.Context, admin domain.Actor) (*Overview, error) {
	if err := admin.RequireAdmin(); err != nil {
		return nil, err
	}

	all, err := s.store.ListLoanRequests(ctx, ledger.LoanFilter{})
	if err != nil {
		return nil, fmt.Errorf("AdminOverview: list loans: %w", err)
	}

	var ids []string
	seen := make(map[string]bool)
	for _, loan := range all {
		if !seen[loan.UserID] {
			seen[loan.UserID] = true
			ids = append(ids, loan.UserID)
		}
	}

	users, err := s.users.ListUsers(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("AdminOverview: list users: %w", err)
	}
	limits, err := s.store.ListLoanLimits(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("AdminOverview: list limits: %w", err)
	}

	usernames := make(map[string]string, len(users))
	out := &Overview{
		Pending:    []LoanView{},
		All:        make([]LoanView, 0, len(all)),
		Applicants: make([]Applicant, 0, len(users)),
	}
	for _, u := range users {
		usernames[u.ID] = u.Username
		applicant := Applicant{UserID: u.ID, Username: u.Username}
		if l := limits[u.ID]; l != nil {
			applicant.Limit = l.Amount
		}
		out.Applicants = append(out.Applicants, applicant)
	}

	for _, loan := range all {
		view := LoanView{
			LoanRequest:  loan,
			Applicant:    usernames[loan.UserID],
			ExceedsLimit: limits[loan.UserID].Exceeds(loan.Amount),
		}
		out.All = append(out.All, view)
		if loan.Status == domain.LoanPending {
			out.Pending = append(out.Pending, view)
		}
	}

	return out, nil
}
