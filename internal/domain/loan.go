package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// LoanStatus is the review state of a loan request.
type LoanStatus string

const (
	LoanPending  LoanStatus = "PENDING"
	LoanApproved LoanStatus = "APPROVED"
	LoanRejected LoanStatus = "REJECTED"
)

// Decision is the action an admin takes on a pending loan request.
type Decision string

const (
	DecisionApprove Decision = "APPROVE"
	DecisionReject  Decision = "REJECT"
)

// Valid reports whether d is a known decision.
func (d Decision) Valid() bool {
	return d == DecisionApprove || d == DecisionReject
}

// Outcome is the loan status a decision leads to.
func (d Decision) Outcome() LoanStatus {
	if d == DecisionApprove {
		return LoanApproved
	}
	return LoanRejected
}

// ScreeningStatus is the outcome of the automated document check.
// It is advisory only and never drives the loan status.
type ScreeningStatus string

const (
	ScreeningNone       ScreeningStatus = ""
	ScreeningQueued     ScreeningStatus = "QUEUED"
	ScreeningMatch      ScreeningStatus = "MATCH"
	ScreeningMismatch   ScreeningStatus = "MISMATCH"
	ScreeningUnreadable ScreeningStatus = "UNREADABLE"
)

// LoanRequest is a member's application for a loan.
type LoanRequest struct {
	ID                  string          `json:"id"`
	UserID              string          `json:"user_id"`
	Name                string          `json:"name"`
	IDNumber            string          `json:"id_number"`
	DocumentRef         string          `json:"document_ref"`
	DocumentContentType string          `json:"document_content_type,omitempty"`
	Amount              decimal.Decimal `json:"amount"`
	Purpose             string          `json:"purpose"`
	Status              LoanStatus      `json:"status"`
	AdminComment        string          `json:"admin_comment"`
	ReviewedBy          *string         `json:"reviewed_by,omitempty"`
	ReviewedAt          *time.Time      `json:"reviewed_at,omitempty"`
	ScreeningStatus     ScreeningStatus `json:"screening_status,omitempty"`
	ScreeningNote       string          `json:"screening_note,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
}

// UserLoanLimit caps how much a member may borrow. A nil Amount means no
// explicit cap.
type UserLoanLimit struct {
	UserID    string           `json:"user_id"`
	Amount    *decimal.Decimal `json:"amount"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// Exceeds reports whether amount is above the configured cap.
func (l *UserLoanLimit) Exceeds(amount decimal.Decimal) bool {
	if l == nil || l.Amount == nil {
		return false
	}
	return amount.GreaterThan(*l.Amount)
}

// SavingsRecord is an immutable record of money a member put aside.
type SavingsRecord struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	Amount    decimal.Decimal `json:"amount"`
	Notes     string          `json:"notes"`
	CreatedAt time.Time       `json:"created_at"`
}
