package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/dvloznov/community-sacco/internal/domain"
	"github.com/dvloznov/community-sacco/internal/jobs"
	"github.com/dvloznov/community-sacco/internal/ledger"
	"github.com/rs/zerolog"
)

// Notes appended to a transaction's description as it is settled.
const (
	NoteNotCompleted    = "Payment not completed yet"
	NoteManualConfirmed = "Manually confirmed by admin"
	NoteNoConfirmation  = "No payment confirmation received"
)

// Ack is the body returned to the gateway for every callback.
type Ack struct {
	ResultCode int    `json:"ResultCode"`
	ResultDesc string `json:"ResultDesc"`
}

var (
	ackAccepted      = Ack{ResultCode: 0, ResultDesc: "Accepted"}
	ackInvalidMethod = Ack{ResultCode: 1, ResultDesc: "Invalid request method"}
)

// Callback is the part of a gateway result notification the ledger uses.
type Callback struct {
	CheckoutRequestID string
	ResultCode        string
	ResultDesc        string
	ReceiptNumber     string
}

// Succeeded reports whether the payer completed the payment.
func (c Callback) Succeeded() bool {
	return c.ResultCode == SuccessCode
}

// ParseCallback reads either the nested {"Body":{"stkCallback":{...}}} shape
// or the flat equivalent. Unreadable input yields an empty Callback.
func ParseCallback(body []byte) Callback {
	var payload map[string]any
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil {
		return Callback{}
	}

	fields := payload
	if b, ok := payload["Body"].(map[string]any); ok {
		if stk, ok := b["stkCallback"].(map[string]any); ok {
			fields = stk
		}
	}

	cb := Callback{
		CheckoutRequestID: firstString(fields, []string{"CheckoutRequestID", "checkout_request_id", "checkoutRequestID"}),
		ResultCode:        firstString(fields, []string{"ResultCode", "result_code"}),
		ResultDesc:        firstString(fields, []string{"ResultDesc", "result_desc"}),
		ReceiptNumber:     stringValue(fields["MpesaReceiptNumber"]),
	}
	if meta, ok := fields["CallbackMetadata"].(map[string]any); ok {
		items, _ := meta["Item"].([]any)
		for _, it := range items {
			item, ok := it.(map[string]any)
			if !ok {
				continue
			}
			if item["Name"] == "MpesaReceiptNumber" {
				cb.ReceiptNumber = stringValue(item["Value"])
			}
		}
	}
	return cb
}

// Outcome is what a callback did to the ledger.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeNoted     Outcome = "noted"
	OutcomeIgnored   Outcome = "ignored"
)

// Reconciler applies gateway callbacks and admin overrides to PENDING
// transactions.
type Reconciler struct {
	store     ledger.Store
	publisher jobs.Publisher
	log       zerolog.Logger
}

// NewReconciler creates a reconciler. publisher may be nil.
func NewReconciler(store ledger.Store, publisher jobs.Publisher, log zerolog.Logger) *Reconciler {
	return &Reconciler{store: store, publisher: publisher, log: log}
}

// HandleCallback processes one gateway notification. Unknown references,
// repeated callbacks and unreadable bodies are acknowledged without change.
// Only non-POST requests and ledger failures return an error.
func (r *Reconciler) HandleCallback(ctx context.Context, method string, body []byte) (Ack, error) {
	if method != http.MethodPost {
		return ackInvalidMethod, domain.ErrMethodNotAllowed
	}

	cb := ParseCallback(body)
	if cb.CheckoutRequestID == "" {
		r.log.Warn().Int("body_size", len(body)).Msg("Payment callback without checkout reference")
		return ackAccepted, nil
	}

	outcome, tx, err := r.apply(ctx, cb)
	if err != nil {
		r.log.Error().Err(err).Str("checkout_request_id", cb.CheckoutRequestID).Msg("Failed to reconcile payment callback")
		return ackAccepted, fmt.Errorf("HandleCallback: %w", err)
	}

	event := r.log.Info().
		Str("checkout_request_id", cb.CheckoutRequestID).
		Str("result_code", cb.ResultCode).
		Str("result_desc", cb.ResultDesc).
		Str("outcome", string(outcome))
	if tx != nil {
		event = event.Str("transaction_id", tx.ID)
	}
	event.Msg("Payment callback processed")

	if outcome == OutcomeCompleted {
		r.queueExport(ctx, tx.ID)
	}
	return ackAccepted, nil
}

func (r *Reconciler) apply(ctx context.Context, cb Callback) (Outcome, *domain.Transaction, error) {
	outcome := OutcomeIgnored
	var settled *domain.Transaction

	err := r.store.Atomic(ctx, func(ctx context.Context, repo ledger.Repository) error {
		tx, err := repo.FindTransactionByReference(ctx, cb.CheckoutRequestID)
		if err != nil {
			return err
		}
		if tx == nil || !tx.IsPending() {
			return nil
		}
		settled = tx

		if cb.Succeeded() {
			clearPendingNotes(tx)
			if cb.ReceiptNumber != "" {
				tx.AppendNote("Receipt " + cb.ReceiptNumber)
			}
			tx.Status = domain.TransactionCompleted
			outcome = OutcomeCompleted
			return repo.UpdateTransactionSettlement(ctx, tx.ID, tx.Status, tx.Description)
		}

		if !tx.AppendNote(NoteNotCompleted) {
			return nil
		}
		outcome = OutcomeNoted
		return repo.UpdateTransactionSettlement(ctx, tx.ID, tx.Status, tx.Description)
	})
	if err != nil {
		return OutcomeIgnored, nil, err
	}
	return outcome, settled, nil
}

// ForceComplete marks a PENDING transaction COMPLETED on an admin's word,
// for payments whose callback never arrived.
func (r *Reconciler) ForceComplete(ctx context.Context, admin domain.Actor, transactionID, note string) (*domain.Transaction, error) {
	if err := admin.RequireAdmin(); err != nil {
		return nil, err
	}
	note, err := domain.OptionalText("note", note, 255)
	if err != nil {
		return nil, err
	}

	var settled *domain.Transaction
	err = r.store.Atomic(ctx, func(ctx context.Context, repo ledger.Repository) error {
		tx, err := repo.GetTransaction(ctx, transactionID)
		if err != nil {
			return err
		}
		if !tx.IsPending() {
			return &domain.StateError{Entity: "transaction", ID: tx.ID, Current: string(tx.Status)}
		}
		clearPendingNotes(tx)
		tx.AppendNote(NoteManualConfirmed)
		tx.AppendNote(note)
		tx.Status = domain.TransactionCompleted
		settled = tx
		return repo.UpdateTransactionSettlement(ctx, tx.ID, tx.Status, tx.Description)
	})
	if err != nil {
		return nil, fmt.Errorf("ForceComplete: %w", err)
	}

	r.log.Info().
		Str("transaction_id", settled.ID).
		Str("admin_id", admin.UserID).
		Msg("Payment manually confirmed")
	r.queueExport(ctx, settled.ID)
	return settled, nil
}

// clearPendingNotes drops the notes that only describe a PENDING payment.
func clearPendingNotes(tx *domain.Transaction) {
	tx.RemoveNote(NoteNotCompleted)
	tx.RemoveNote(NoteNoConfirmation)
}

func (r *Reconciler) queueExport(ctx context.Context, transactionID string) {
	if _, err := jobs.Enqueue(ctx, r.publisher, jobs.JobTypeExportTransaction, transactionID); err != nil {
		r.log.Warn().Err(err).Str("transaction_id", transactionID).Msg("Failed to queue transaction export")
	}
}
