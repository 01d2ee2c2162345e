package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType classifies a ledger transaction.
type TransactionType string

const (
	TransactionDeposit          TransactionType = "DEPOSIT"
	TransactionLoanDisbursement TransactionType = "LOAN_DISBURSEMENT"
	TransactionLoanRepayment    TransactionType = "LOAN_REPAYMENT"
)

// Valid reports whether t is a known transaction type.
func (t TransactionType) Valid() bool {
	switch t {
	case TransactionDeposit, TransactionLoanDisbursement, TransactionLoanRepayment:
		return true
	}
	return false
}

// TransactionStatus is the settlement state of a transaction.
type TransactionStatus string

const (
	TransactionPending   TransactionStatus = "PENDING"
	TransactionCompleted TransactionStatus = "COMPLETED"
)

// Transaction is one movement of money on a member's ledger.
// Deposits and disbursements are created COMPLETED; mobile-money payments
// start PENDING and are settled later by the payment callback.
type Transaction struct {
	ID               string            `json:"id"`
	UserID           string            `json:"user_id"`
	Type             TransactionType   `json:"type"`
	Status           TransactionStatus `json:"status"`
	Amount           decimal.Decimal   `json:"amount"`
	PhoneNumber      string            `json:"phone_number,omitempty"`
	PaymentReference string            `json:"payment_reference,omitempty"`
	Description      string            `json:"description"`
	CreatedAt        time.Time         `json:"created_at"`
}

// IsPending reports whether the transaction still awaits settlement.
func (t *Transaction) IsPending() bool {
	return t.Status == TransactionPending
}

// RemoveNote drops note from the description. It returns false when the
// note was not present.
func (t *Transaction) RemoveNote(note string) bool {
	if note == "" || !strings.Contains(t.Description, note) {
		return false
	}
	var kept []string
	for _, part := range strings.Split(t.Description, " | ") {
		if part != note {
			kept = append(kept, part)
		}
	}
	t.Description = strings.Join(kept, " | ")
	return true
}

// AppendNote adds note to the description unless it is already present.
// It returns false when the description was left unchanged.
func (t *Transaction) AppendNote(note string) bool {
	if note == "" || strings.Contains(t.Description, note) {
		return false
	}
	if t.Description == "" {
		t.Description = note
	} else {
		t.Description = t.Description + " | " + note
	}
	return true
}
