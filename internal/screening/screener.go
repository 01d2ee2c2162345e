package screening

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode"

	"github.com/dvloznov/community-sacco/internal/domain"
	"github.com/dvloznov/community-sacco/internal/jobs"
	"github.com/rs/zerolog"
)

// Loans is the ledger access the screener needs.
type Loans interface {
	GetLoanRequest(ctx context.Context, id string) (*domain.LoanRequest, error)
	UpdateLoanScreening(ctx context.Context, id string, status domain.ScreeningStatus, note string) error
}

// Documents reads stored loan documents.
type Documents interface {
	Fetch(ctx context.Context, ref string) ([]byte, error)
}

// Screener runs screen_loan_document jobs.
type Screener struct {
	loans     Loans
	documents Documents
	extractor Extractor
	log       zerolog.Logger
}

// NewScreener creates a screener.
func NewScreener(loans Loans, documents Documents, extractor Extractor, log zerolog.Logger) *Screener {
	return &Screener{loans: loans, documents: documents, extractor: extractor, log: log}
}

// Handle is the jobs.JobHandler for JobTypeScreenLoanDocument. Transient
// failures are returned so the queue retries; an unreadable document is a
// final outcome.
func (s *Screener) Handle(ctx context.Context, job *jobs.Job) error {
	loan, err := s.loans.GetLoanRequest(ctx, job.SubjectID)
	if err != nil {
		return fmt.Errorf("Handle: load loan: %w", err)
	}

	status, note, err := s.screen(ctx, loan)
	if err != nil {
		return err
	}

	if err := s.loans.UpdateLoanScreening(ctx, loan.ID, status, note); err != nil {
		return fmt.Errorf("Handle: save outcome: %w", err)
	}

	s.log.Info().
		Str("job_id", job.ID).
		Str("loan_id", loan.ID).
		Str("screening_status", string(status)).
		Msg("Loan document screened")
	return nil
}

func (s *Screener) screen(ctx context.Context, loan *domain.LoanRequest) (domain.ScreeningStatus, string, error) {
	if loan.DocumentRef == "" {
		return domain.ScreeningUnreadable, "No document attached", nil
	}

	data, err := s.documents.Fetch(ctx, loan.DocumentRef)
	if err != nil {
		return "", "", fmt.Errorf("screen: fetch document: %w", err)
	}

	mimeType := loan.DocumentContentType
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(data)
	}

	id, err := s.extractor.Extract(ctx, data, mimeType)
	if errors.Is(err, ErrUnreadable) {
		s.log.Warn().Err(err).Str("loan_id", loan.ID).Msg("Loan document unreadable")
		return domain.ScreeningUnreadable, "Could not read name or ID number from the document", nil
	}
	if err != nil {
		return "", "", fmt.Errorf("screen: extract: %w", err)
	}

	status, note := Compare(loan.Name, loan.IDNumber, id)
	return status, note, nil
}

// Compare checks the application details against what was read from the
// document. Names match when every word of the shorter name appears in the
// longer one, ignoring case and punctuation; ID numbers must be equal after
// dropping separators.
func Compare(name, idNumber string, id *Identity) (domain.ScreeningStatus, string) {
	var problems []string
	if id.FullName == "" {
		problems = append(problems, "name not found on document")
	} else if !namesMatch(name, id.FullName) {
		problems = append(problems, fmt.Sprintf("name on document is %q", id.FullName))
	}
	if id.IDNumber == "" {
		problems = append(problems, "ID number not found on document")
	} else if alnum(idNumber) != alnum(id.IDNumber) {
		problems = append(problems, fmt.Sprintf("ID number on document is %q", id.IDNumber))
	}

	if len(problems) == 0 {
		return domain.ScreeningMatch, "Name and ID number match the document"
	}
	return domain.ScreeningMismatch, strings.Join(problems, "; ")
}

func namesMatch(a, b string) bool {
	wa, wb := words(a), words(b)
	if len(wa) == 0 || len(wb) == 0 {
		return false
	}
	if len(wa) > len(wb) {
		wa, wb = wb, wa
	}
	set := make(map[string]bool, len(wb))
	for _, w := range wb {
		set[w] = true
	}
	for _, w := range wa {
		if !set[w] {
			return false
		}
	}
	return true
}

func words(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func alnum(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToUpper(r)
		}
		return -1
	}, s)
}
