package handlers

import (
	"errors"
	"net/http"

	"github.com/dvloznov/community-sacco/internal/api/middleware"
	"github.com/dvloznov/community-sacco/internal/auth"
	"github.com/dvloznov/community-sacco/internal/domain"
	"github.com/dvloznov/community-sacco/internal/loans"
	"github.com/dvloznov/community-sacco/internal/logger"
	"github.com/dvloznov/community-sacco/internal/savings"
	"github.com/rs/zerolog"
)

// DefaultMaxUploadBytes caps a loan application upload, document included.
const DefaultMaxUploadBytes = 10 << 20

// SavingsHandler handles savings, the member summary and the member's own
// transaction list.
type SavingsHandler struct {
	svc *savings.Service
	log zerolog.Logger
}

// NewSavingsHandler creates a new savings handler.
func NewSavingsHandler(svc *savings.Service, log zerolog.Logger) *SavingsHandler {
	return &SavingsHandler{
		svc: svc,
		log: log,
	}
}

// ListSavings handles GET /api/savings
func (h *SavingsHandler) ListSavings(w http.ResponseWriter, r *http.Request) {
	statement, err := h.svc.List(r.Context(), auth.ActorFrom(r.Context()))
	if err != nil {
		middleware.WriteDomainError(w, logger.FromContext(r.Context(), h.log), err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, statement)
}

// RecordSavings handles POST /api/savings
func (h *SavingsHandler) RecordSavings(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount amountText `json:"amount"`
		Notes  string     `json:"notes"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	rec, err := h.svc.Record(r.Context(), auth.ActorFrom(r.Context()), string(req.Amount), req.Notes)
	if err != nil {
		middleware.WriteDomainError(w, logger.FromContext(r.Context(), h.log), err)
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, rec)
}

// Summary handles GET /api/me/summary
func (h *SavingsHandler) Summary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.svc.Summary(r.Context(), auth.ActorFrom(r.Context()))
	if err != nil {
		middleware.WriteDomainError(w, logger.FromContext(r.Context(), h.log), err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, summary)
}

// ListTransactions handles GET /api/transactions
func (h *SavingsHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	txs, err := h.svc.Transactions(r.Context(), auth.ActorFrom(r.Context()))
	if err != nil {
		middleware.WriteDomainError(w, logger.FromContext(r.Context(), h.log), err)
		return
	}

	// Return array directly for frontend compatibility
	if txs == nil {
		txs = []*domain.Transaction{}
	}
	middleware.WriteJSON(w, http.StatusOK, txs)
}

// LoansHandler handles loan request endpoints for members and reviewers.
type LoansHandler struct {
	svc            *loans.Service
	maxUploadBytes int64
	log            zerolog.Logger
}

// NewLoansHandler creates a new loans handler.
func NewLoansHandler(svc *loans.Service, maxUploadBytes int64, log zerolog.Logger) *LoansHandler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = DefaultMaxUploadBytes
	}
	return &LoansHandler{
		svc:            svc,
		maxUploadBytes: maxUploadBytes,
		log:            log,
	}
}

// ListLoans handles GET /api/loans
func (h *LoansHandler) ListLoans(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.ListOwn(r.Context(), auth.ActorFrom(r.Context()))
	if err != nil {
		middleware.WriteDomainError(w, logger.FromContext(r.Context(), h.log), err)
		return
	}
	if list == nil {
		list = []*domain.LoanRequest{}
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"loans": list,
		"count": len(list),
	})
}

// SubmitLoan handles POST /api/loans as multipart/form-data with the fields
// name, id_number, amount, purpose and the file part document.
func (h *LoansHandler) SubmitLoan(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			middleware.WriteError(w, http.StatusRequestEntityTooLarge, "Upload too large")
			return
		}
		middleware.WriteError(w, http.StatusBadRequest, "Expected a multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	in := loans.SubmitInput{
		Name:     r.FormValue("name"),
		IDNumber: r.FormValue("id_number"),
		Amount:   r.FormValue("amount"),
		Purpose:  r.FormValue("purpose"),
	}

	file, header, err := r.FormFile("document")
	switch {
	case err == nil:
		defer file.Close()
		contentType := header.Header.Get("Content-Type")
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		in.Document = &loans.Document{Filename: header.Filename, ContentType: contentType, Body: file}
	case errors.Is(err, http.ErrMissingFile):
		// Submit reports the missing document as a validation error.
	default:
		middleware.WriteError(w, http.StatusBadRequest, "Invalid document upload")
		return
	}

	loan, err := h.svc.Submit(r.Context(), auth.ActorFrom(r.Context()), in)
	if err != nil {
		middleware.WriteDomainError(w, logger.FromContext(r.Context(), h.log), err)
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, loan)
}

// Overview handles GET /api/admin/loans
func (h *LoansHandler) Overview(w http.ResponseWriter, r *http.Request) {
	overview, err := h.svc.AdminOverview(r.Context(), auth.ActorFrom(r.Context()))
	if err != nil {
		middleware.WriteDomainError(w, logger.FromContext(r.Context(), h.log), err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, overview)
}

// Decide handles POST /api/admin/loans/{id}/decision
func (h *LoansHandler) Decide(w http.ResponseWriter, r *http.Request, loanID string) {
	var req struct {
		Action  string `json:"action"`
		Comment string `json:"comment"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	loan, err := h.svc.Decide(r.Context(), loanID, auth.ActorFrom(r.Context()), domain.Decision(req.Action), req.Comment)
	if err != nil {
		middleware.WriteDomainError(w, logger.FromContext(r.Context(), h.log), err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, loan)
}

// SetLimit handles PUT /api/admin/users/{id}/loan-limit. A blank or null
// limit clears it.
func (h *LoansHandler) SetLimit(w http.ResponseWriter, r *http.Request, userID string) {
	var req struct {
		Limit amountText `json:"limit"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	limit, err := h.svc.SetLimit(r.Context(), userID, auth.ActorFrom(r.Context()), string(req.Limit))
	if err != nil {
		middleware.WriteDomainError(w, logger.FromContext(r.Context(), h.log), err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, limit)
}
