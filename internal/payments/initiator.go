package payments

import (
	"context"
	"fmt"
	"strings"

	"github.com/dvloznov/community-sacco/internal/domain"
	"github.com/dvloznov/community-sacco/internal/ledger"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultAccountReference is shown to the payer on the STK prompt.
const DefaultAccountReference = "FinanceApp Payment"

// InitiatorConfig controls how push requests are addressed.
type InitiatorConfig struct {
	// CallbackURL, when set, is always used.
	CallbackURL string
	// FallbackCallbackURL is used when no HTTPS public origin is available.
	FallbackCallbackURL string
	AccountReference    string
}

// Initiator starts STK push payments and records them as PENDING
// transactions.
type Initiator struct {
	gateway Gateway
	store   ledger.Store
	cfg     InitiatorConfig
	log     zerolog.Logger
}

// NewInitiator creates a payment initiator.
func NewInitiator(gateway Gateway, store ledger.Store, cfg InitiatorConfig, log zerolog.Logger) *Initiator {
	if cfg.FallbackCallbackURL == "" {
		cfg.FallbackCallbackURL = DefaultFallbackCallbackURL
	}
	if cfg.AccountReference == "" {
		cfg.AccountReference = DefaultAccountReference
	}
	return &Initiator{gateway: gateway, store: store, cfg: cfg, log: log}
}

// PaymentInput is a member's payment request. Amount is raw decimal text.
type PaymentInput struct {
	PhoneNumber string
	Type        domain.TransactionType
	Amount      string
}

// Initiation is an accepted push request and the transaction tracking it.
type Initiation struct {
	Transaction *domain.Transaction `json:"transaction"`
	Gateway     GatewayResult       `json:"gateway"`
}

// Initiate validates the request, asks the gateway to prompt the payer and,
// if accepted, records a PENDING transaction keyed by the gateway's
// checkout reference. origin is the scheme://host the request arrived on.
func (i *Initiator) Initiate(ctx context.Context, actor domain.Actor, in PaymentInput, origin string) (*Initiation, error) {
	if err := actor.RequireMember(); err != nil {
		return nil, err
	}

	phone, err := validatePhone(in.PhoneNumber)
	if err != nil {
		return nil, err
	}
	if in.Type != domain.TransactionDeposit && in.Type != domain.TransactionLoanRepayment {
		return nil, domain.NewValidationError("payment_type", "must be DEPOSIT or LOAN_REPAYMENT")
	}
	amount, err := domain.ParseAmount("amount", in.Amount)
	if err != nil {
		return nil, err
	}
	// STK push charges whole shillings; the ledger must record what is charged.
	if !amount.IsInteger() {
		return nil, domain.NewValidationError("amount", "must be a whole amount for mobile payments")
	}

	description := describe(in.Type)
	req := PushRequest{
		PhoneNumber:      phone,
		Amount:           amount,
		AccountReference: i.cfg.AccountReference,
		Description:      description,
		CallbackURL:      ResolveCallbackURL(i.cfg.CallbackURL, origin, i.cfg.FallbackCallbackURL),
	}

	raw, err := i.gateway.PushPayment(ctx, req)
	if err != nil {
		i.log.Error().Err(err).Str("user_id", actor.UserID).Msg("Payment gateway call failed")
		return nil, &domain.GatewayUnavailable{Err: err}
	}

	result := NormalizeResponse(raw)
	if !result.Accepted() {
		reason := result.Message
		if reason == "" {
			reason = fmt.Sprintf("result code %q", result.ResultCode)
		}
		i.log.Warn().
			Str("user_id", actor.UserID).
			Str("result_code", result.ResultCode).
			Str("reason", reason).
			Msg("Payment request rejected by gateway")
		return nil, &domain.GatewayRejected{Reason: reason}
	}
	if result.CorrelationID == "" {
		i.log.Error().Str("user_id", actor.UserID).Interface("response", raw).Msg("Gateway accepted payment without a checkout reference")
		return nil, &domain.GatewayRejected{Reason: "gateway response carried no checkout reference"}
	}

	tx := &domain.Transaction{
		ID:               uuid.New().String(),
		UserID:           actor.UserID,
		Type:             in.Type,
		Status:           domain.TransactionPending,
		Amount:           amount,
		PhoneNumber:      phone,
		PaymentReference: result.CorrelationID,
		Description:      description,
	}
	if err := i.store.InsertTransaction(ctx, tx); err != nil {
		i.log.Error().Err(err).
			Str("checkout_request_id", result.CorrelationID).
			Msg("Payment accepted by gateway but not recorded")
		return nil, fmt.Errorf("Initiate: insert transaction: %w", err)
	}

	i.log.Info().
		Str("transaction_id", tx.ID).
		Str("user_id", actor.UserID).
		Str("checkout_request_id", result.CorrelationID).
		Str("type", string(tx.Type)).
		Str("amount", amount.StringFixed(2)).
		Str("callback_url", req.CallbackURL).
		Msg("Payment initiated")

	return &Initiation{Transaction: tx, Gateway: result}, nil
}

func describe(t domain.TransactionType) string {
	if t == domain.TransactionLoanRepayment {
		return "Loan repayment via M-Pesa"
	}
	return "Savings deposit via M-Pesa"
}

func validatePhone(raw string) (string, error) {
	phone, err := domain.RequireText("phone_number", raw, 20)
	if err != nil {
		return "", err
	}
	digits := strings.TrimPrefix(strings.ReplaceAll(phone, " ", ""), "+")
	if len(digits) < 9 {
		return "", domain.NewValidationError("phone_number", "is too short")
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return "", domain.NewValidationError("phone_number", "must contain only digits")
		}
	}
	return phone, nil
}
