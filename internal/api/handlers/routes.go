package handlers

import (
	"net/http"
	"strings"

	"github.com/dvloznov/community-sacco/internal/api/middleware"
	"github.com/dvloznov/community-sacco/internal/payments"
)

// Set is every handler the API serves.
type Set struct {
	Auth      *AuthHandler
	Savings   *SavingsHandler
	Loans     *LoansHandler
	Payments  *PaymentsHandler
	Analytics *AnalyticsHandler
	Jobs      *JobsHandler
}

func methodNotAllowed(w http.ResponseWriter) {
	middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
}

// Routes builds the request router. Authentication is expected to have run
// already (middleware.Auth); role checks happen here per route.
func (s *Set) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", Health)

	// Auth endpoints
	mux.HandleFunc("/api/auth/register", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			s.Auth.Register(w, r)
		} else {
			methodNotAllowed(w)
		}
	})
	mux.HandleFunc("/api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			s.Auth.Login(w, r)
		} else {
			methodNotAllowed(w)
		}
	})

	// Non-POST callbacks still get the gateway acknowledgement body.
	mux.HandleFunc(payments.CallbackPath, s.Payments.Callback)

	// Member endpoints
	mux.HandleFunc("/api/me/summary", middleware.RequireMember(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			s.Savings.Summary(w, r)
		} else {
			methodNotAllowed(w)
		}
	}))
	mux.HandleFunc("/api/savings", middleware.RequireMember(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			s.Savings.ListSavings(w, r)
		case http.MethodPost:
			s.Savings.RecordSavings(w, r)
		default:
			methodNotAllowed(w)
		}
	}))
	mux.HandleFunc("/api/transactions", middleware.RequireMember(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			s.Savings.ListTransactions(w, r)
		} else {
			methodNotAllowed(w)
		}
	}))
	mux.HandleFunc("/api/loans", middleware.RequireMember(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			s.Loans.ListLoans(w, r)
		case http.MethodPost:
			s.Loans.SubmitLoan(w, r)
		default:
			methodNotAllowed(w)
		}
	}))
	mux.HandleFunc("/api/payments", middleware.RequireMember(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			s.Payments.InitiatePayment(w, r)
		} else {
			methodNotAllowed(w)
		}
	}))

	// Admin endpoints
	mux.HandleFunc("/api/admin/loans", middleware.RequireAdmin(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			s.Loans.Overview(w, r)
		} else {
			methodNotAllowed(w)
		}
	}))
	mux.HandleFunc("/api/admin/loans/", middleware.RequireAdmin(func(w http.ResponseWriter, r *http.Request) {
		loanID, ok := pathParam(r.URL.Path, "/api/admin/loans/", "/decision")
		if !ok {
			middleware.WriteError(w, http.StatusNotFound, "Not found")
			return
		}
		if r.Method == http.MethodPost {
			s.Loans.Decide(w, r, loanID)
		} else {
			methodNotAllowed(w)
		}
	}))
	mux.HandleFunc("/api/admin/users/", middleware.RequireAdmin(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := pathParam(r.URL.Path, "/api/admin/users/", "/loan-limit")
		if !ok {
			middleware.WriteError(w, http.StatusNotFound, "Not found")
			return
		}
		if r.Method == http.MethodPut {
			s.Loans.SetLimit(w, r, userID)
		} else {
			methodNotAllowed(w)
		}
	}))
	mux.HandleFunc("/api/admin/transactions/", middleware.RequireAdmin(func(w http.ResponseWriter, r *http.Request) {
		txID, ok := pathParam(r.URL.Path, "/api/admin/transactions/", "/complete")
		if !ok {
			middleware.WriteError(w, http.StatusNotFound, "Not found")
			return
		}
		if r.Method == http.MethodPost {
			s.Payments.CompleteTransaction(w, r, txID)
		} else {
			methodNotAllowed(w)
		}
	}))
	mux.HandleFunc("/api/admin/analytics", middleware.RequireAdmin(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			s.Analytics.Dashboard(w, r)
		} else {
			methodNotAllowed(w)
		}
	}))
	mux.HandleFunc("/api/admin/jobs", middleware.RequireAdmin(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			s.Jobs.ListJobs(w, r)
		} else {
			methodNotAllowed(w)
		}
	}))
	mux.HandleFunc("/api/admin/jobs/", middleware.RequireAdmin(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		// Extract job ID from path
		jobID := strings.TrimPrefix(r.URL.Path, "/api/admin/jobs/")
		if jobID == "" || strings.Contains(jobID, "/") {
			middleware.WriteError(w, http.StatusBadRequest, "Job ID is required")
			return
		}
		s.Jobs.GetJob(w, r, jobID)
	}))

	return mux
}

// pathParam extracts {id} from prefix + {id} + suffix.
func pathParam(path, prefix, suffix string) (string, bool) {
	rest, ok := strings.CutPrefix(path, prefix)
	if !ok {
		return "", false
	}
	id, ok := strings.CutSuffix(rest, suffix)
	if !ok || id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}
