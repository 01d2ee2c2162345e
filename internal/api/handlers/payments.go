package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/dvloznov/community-sacco/internal/analytics"
	"github.com/dvloznov/community-sacco/internal/api/middleware"
	"github.com/dvloznov/community-sacco/internal/auth"
	"github.com/dvloznov/community-sacco/internal/domain"
	"github.com/dvloznov/community-sacco/internal/logger"
	"github.com/dvloznov/community-sacco/internal/payments"
	"github.com/rs/zerolog"
)

// Callbacks from the gateway are small; anything larger is not one.
const maxCallbackBody = 64 << 10

// PaymentsHandler handles mobile-money payments and their callbacks.
type PaymentsHandler struct {
	initiator  *payments.Initiator
	reconciler *payments.Reconciler
	trustProxy bool
	log        zerolog.Logger
}

// NewPaymentsHandler creates a new payments handler. initiator is nil when
// no gateway is configured; payment requests then answer 503. trustProxy
// enables X-Forwarded-Proto/X-Forwarded-Host when deriving the callback URL
// and must only be set behind a proxy that overwrites those headers.
func NewPaymentsHandler(initiator *payments.Initiator, reconciler *payments.Reconciler, trustProxy bool, log zerolog.Logger) *PaymentsHandler {
	return &PaymentsHandler{
		initiator:  initiator,
		reconciler: reconciler,
		trustProxy: trustProxy,
		log:        log,
	}
}

// InitiatePayment handles POST /api/payments
func (h *PaymentsHandler) InitiatePayment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PhoneNumber string     `json:"phone_number"`
		Type        string     `json:"type"`
		Amount      amountText `json:"amount"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	if h.initiator == nil {
		middleware.WriteError(w, http.StatusServiceUnavailable, "Mobile payments are not configured")
		return
	}

	result, err := h.initiator.Initiate(r.Context(), auth.ActorFrom(r.Context()), payments.PaymentInput{
		PhoneNumber: req.PhoneNumber,
		Type:        domain.TransactionType(strings.ToUpper(strings.TrimSpace(req.Type))),
		Amount:      string(req.Amount),
	}, h.origin(r))
	if err != nil {
		middleware.WriteDomainError(w, logger.FromContext(r.Context(), h.log), err)
		return
	}

	middleware.WriteJSON(w, http.StatusCreated, result)
}

// Callback handles POST /payments/callback from the gateway. The reply is
// always the gateway's acknowledgement shape.
func (h *PaymentsHandler) Callback(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context(), h.log)

	body, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBody))
	if err != nil {
		log.Warn().Err(err).Msg("Failed to read payment callback body")
	}

	ack, err := h.reconciler.HandleCallback(r.Context(), r.Method, body)
	switch {
	case err == nil:
		middleware.WriteJSON(w, http.StatusOK, ack)
	case errors.Is(err, domain.ErrMethodNotAllowed):
		middleware.WriteJSON(w, http.StatusMethodNotAllowed, ack)
	default:
		// A 5xx makes the gateway deliver the callback again.
		middleware.WriteJSON(w, http.StatusInternalServerError, ack)
	}
}

// CompleteTransaction handles POST /api/admin/transactions/{id}/complete
func (h *PaymentsHandler) CompleteTransaction(w http.ResponseWriter, r *http.Request, transactionID string) {
	var req struct {
		Note string `json:"note"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	tx, err := h.reconciler.ForceComplete(r.Context(), auth.ActorFrom(r.Context()), transactionID, req.Note)
	if err != nil {
		middleware.WriteDomainError(w, logger.FromContext(r.Context(), h.log), err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, tx)
}

// origin is the public scheme://host of this server, or "" when it cannot
// be established, in which case the fallback callback URL is used. Without a
// trusted proxy only a TLS connection's SNI name counts; the Host header is
// client-controlled.
func (h *PaymentsHandler) origin(r *http.Request) string {
	if !h.trustProxy {
		if r.TLS != nil && r.TLS.ServerName != "" {
			return "https://" + r.TLS.ServerName
		}
		return ""
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := firstHeaderValue(r, "X-Forwarded-Proto"); proto != "" {
		scheme = strings.ToLower(proto)
	}
	host := r.Host
	if fwd := firstHeaderValue(r, "X-Forwarded-Host"); fwd != "" {
		host = fwd
	}
	return scheme + "://" + host
}

func firstHeaderValue(r *http.Request, name string) string {
	return strings.TrimSpace(strings.Split(r.Header.Get(name), ",")[0])
}

// AnalyticsHandler handles the admin dashboard.
type AnalyticsHandler struct {
	aggregator *analytics.Aggregator
	log        zerolog.Logger
}

// NewAnalyticsHandler creates a new analytics handler.
func NewAnalyticsHandler(aggregator *analytics.Aggregator, log zerolog.Logger) *AnalyticsHandler {
	return &AnalyticsHandler{
		aggregator: aggregator,
		log:        log,
	}
}

// Dashboard handles GET /api/admin/analytics
func (h *AnalyticsHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	dashboard, err := h.aggregator.Dashboard(r.Context())
	if err != nil {
		reqLog := logger.FromContext(r.Context(), h.log)
		reqLog.Error().Err(err).Msg("Failed to build analytics dashboard")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to build analytics")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, dashboard)
}
