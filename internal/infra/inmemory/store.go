package inmemory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dvloznov/community-sacco/internal/domain"
	"github.com/dvloznov/community-sacco/internal/ledger"
	"github.com/shopspring/decimal"
)

// Store is an in-memory implementation of ledger.Store and of the account
// store used by auth. It is safe for concurrent use.
// Data is lost on restart - for persistence, use the Postgres store.
type Store struct {
	mu    sync.RWMutex
	state *state
	now   func() time.Time
}

// NewStore creates an empty in-memory ledger.
func NewStore() *Store {
	return &Store{state: newState(), now: time.Now}
}

// Atomic implements ledger.Store. fn works on a private copy of the ledger
// which replaces the live state only if fn returns nil. Units of work are
// serialized by the store mutex.
func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context, repo ledger.Repository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	staged := s.state.clone()
	if err := fn(ctx, &repo{st: staged, now: s.now}); err != nil {
		return err
	}
	s.state = staged
	return nil
}

func (s *Store) read() *repo {
	return &repo{st: s.state, now: s.now}
}

// InsertSavingsRecord implements ledger.Repository.
func (s *Store) InsertSavingsRecord(ctx context.Context, rec *domain.SavingsRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().InsertSavingsRecord(ctx, rec)
}

// ListSavingsRecords implements ledger.Repository.
func (s *Store) ListSavingsRecords(ctx context.Context, userID string) ([]*domain.SavingsRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().ListSavingsRecords(ctx, userID)
}

// InsertLoanRequest implements ledger.Repository.
func (s *Store) InsertLoanRequest(ctx context.Context, loan *domain.LoanRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().InsertLoanRequest(ctx, loan)
}

// GetLoanRequest implements ledger.Repository.
func (s *Store) GetLoanRequest(ctx context.Context, id string) (*domain.LoanRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().GetLoanRequest(ctx, id)
}

// UpdateLoanReview implements ledger.Repository.
func (s *Store) UpdateLoanReview(ctx context.Context, loan *domain.LoanRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().UpdateLoanReview(ctx, loan)
}

// UpdateLoanScreening implements ledger.Repository.
func (s *Store) UpdateLoanScreening(ctx context.Context, id string, status domain.ScreeningStatus, note string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().UpdateLoanScreening(ctx, id, status, note)
}

// ListLoanRequests implements ledger.Repository.
func (s *Store) ListLoanRequests(ctx context.Context, filter ledger.LoanFilter) ([]*domain.LoanRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().ListLoanRequests(ctx, filter)
}

// InsertTransaction implements ledger.Repository.
func (s *Store) InsertTransaction(ctx context.Context, tx *domain.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().InsertTransaction(ctx, tx)
}

// GetTransaction implements ledger.Repository.
func (s *Store) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().GetTransaction(ctx, id)
}

// FindTransactionByReference implements ledger.Repository.
func (s *Store) FindTransactionByReference(ctx context.Context, reference string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().FindTransactionByReference(ctx, reference)
}

// UpdateTransactionSettlement implements ledger.Repository.
func (s *Store) UpdateTransactionSettlement(ctx context.Context, id string, status domain.TransactionStatus, description string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().UpdateTransactionSettlement(ctx, id, status, description)
}

// ListTransactions implements ledger.Repository.
func (s *Store) ListTransactions(ctx context.Context, filter ledger.TransactionFilter) ([]*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().ListTransactions(ctx, filter)
}

// GetLoanLimit implements ledger.Repository.
func (s *Store) GetLoanLimit(ctx context.Context, userID string) (*domain.UserLoanLimit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().GetLoanLimit(ctx, userID)
}

// ListLoanLimits implements ledger.Repository.
func (s *Store) ListLoanLimits(ctx context.Context, userIDs []string) (map[string]*domain.UserLoanLimit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().ListLoanLimits(ctx, userIDs)
}

// UpsertLoanLimit implements ledger.Repository.
func (s *Store) UpsertLoanLimit(ctx context.Context, limit *domain.UserLoanLimit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().UpsertLoanLimit(ctx, limit)
}

// UserExists implements ledger.Repository.
func (s *Store) UserExists(ctx context.Context, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().UserExists(ctx, userID)
}

// CreateUser stores a new account. Usernames are unique.
func (s *Store) CreateUser(ctx context.Context, user *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.state.users {
		if u.Username == user.Username {
			return domain.NewValidationError("username", "is already taken")
		}
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = s.now()
	}
	userCopy := *user
	s.state.users[user.ID] = &userCopy
	return nil
}

// GetUserByUsername returns the account with username or a NotFoundError.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.state.users {
		if u.Username == username {
			userCopy := *u
			return &userCopy, nil
		}
	}
	return nil, &domain.NotFoundError{Entity: "user", ID: username}
}

// ListUsers returns the accounts with the given ids ordered by username.
func (s *Store) ListUsers(ctx context.Context, ids []string) ([]*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.User
	for _, id := range ids {
		if u, ok := s.state.users[id]; ok {
			userCopy := *u
			out = append(out, &userCopy)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

// CountLoansByStatus implements ledger.Rollups.
func (s *Store) CountLoansByStatus(ctx context.Context) (map[domain.LoanStatus]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[domain.LoanStatus]int)
	for _, l := range s.state.loans {
		out[l.rec.Status]++
	}
	return out, nil
}

// CountTransactionsByStatus implements ledger.Rollups.
func (s *Store) CountTransactionsByStatus(ctx context.Context, txType domain.TransactionType) (map[domain.TransactionStatus]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[domain.TransactionStatus]int)
	for _, t := range s.state.transactions {
		if t.rec.Type == txType {
			out[t.rec.Status]++
		}
	}
	return out, nil
}

// CountTransactionsByMonth implements ledger.Rollups.
func (s *Store) CountTransactionsByMonth(ctx context.Context) ([]ledger.MonthCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[time.Time]int)
	for _, t := range s.state.transactions {
		c := t.rec.CreatedAt.UTC()
		counts[time.Date(c.Year(), c.Month(), 1, 0, 0, 0, 0, time.UTC)]++
	}

	out := make([]ledger.MonthCount, 0, len(counts))
	for month, n := range counts {
		out = append(out, ledger.MonthCount{Month: month, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Month.Before(out[j].Month) })
	return out, nil
}

// CountDistinctApplicants implements ledger.Rollups.
func (s *Store) CountDistinctApplicants(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, l := range s.state.loans {
		seen[l.rec.UserID] = struct{}{}
	}
	return len(seen), nil
}

// SumTransactions implements ledger.Rollups.
func (s *Store) SumTransactions(ctx context.Context, txType domain.TransactionType, status domain.TransactionStatus) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := decimal.Zero
	for _, t := range s.state.transactions {
		if t.rec.Type == txType && t.rec.Status == status {
			total = total.Add(t.rec.Amount)
		}
	}
	return total, nil
}

// CountTransactionsWithStatus implements ledger.Rollups.
func (s *Store) CountTransactionsWithStatus(ctx context.Context, status domain.TransactionStatus) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, t := range s.state.transactions {
		if t.rec.Status == status {
			n++
		}
	}
	return n, nil
}

// state holds every record. Each row carries an insertion sequence so
// newest-first ordering stays stable when timestamps collide.
type state struct {
	seq          int64
	users        map[string]*domain.User
	savings      map[string]*savingsRow
	loans        map[string]*loanRow
	transactions map[string]*transactionRow
	limits       map[string]*domain.UserLoanLimit
}

type savingsRow struct {
	seq int64
	rec domain.SavingsRecord
}

type loanRow struct {
	seq int64
	rec domain.LoanRequest
}

type transactionRow struct {
	seq int64
	rec domain.Transaction
}

func newState() *state {
	return &state{
		users:        make(map[string]*domain.User),
		savings:      make(map[string]*savingsRow),
		loans:        make(map[string]*loanRow),
		transactions: make(map[string]*transactionRow),
		limits:       make(map[string]*domain.UserLoanLimit),
	}
}

func (st *state) clone() *state {
	c := newState()
	c.seq = st.seq
	for k, v := range st.users {
		u := *v
		c.users[k] = &u
	}
	for k, v := range st.savings {
		r := *v
		c.savings[k] = &r
	}
	for k, v := range st.loans {
		r := *v
		c.loans[k] = &r
	}
	for k, v := range st.transactions {
		r := *v
		c.transactions[k] = &r
	}
	for k, v := range st.limits {
		l := *v
		c.limits[k] = &l
	}
	return c
}

// repo implements ledger.Repository over one state without locking; the
// caller holds the store mutex.
type repo struct {
	st  *state
	now func() time.Time
}

func (r *repo) next() int64 {
	r.st.seq++
	return r.st.seq
}

func (r *repo) requireUser(userID string) error {
	if _, ok := r.st.users[userID]; !ok {
		return fmt.Errorf("inmemory: user %s does not exist", userID)
	}
	return nil
}

func (r *repo) InsertSavingsRecord(ctx context.Context, rec *domain.SavingsRecord) error {
	if err := r.requireUser(rec.UserID); err != nil {
		return err
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = r.now()
	}
	r.st.savings[rec.ID] = &savingsRow{seq: r.next(), rec: *rec}
	return nil
}

func (r *repo) ListSavingsRecords(ctx context.Context, userID string) ([]*domain.SavingsRecord, error) {
	var rows []*savingsRow
	for _, row := range r.st.savings {
		if row.rec.UserID == userID {
			rows = append(rows, row)
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		return newerFirst(rows[i].rec.CreatedAt, rows[i].seq, rows[j].rec.CreatedAt, rows[j].seq)
	})

	out := make([]*domain.SavingsRecord, 0, len(rows))
	for _, row := range rows {
		rec := row.rec
		out = append(out, &rec)
	}
	return out, nil
}

func (r *repo) InsertLoanRequest(ctx context.Context, loan *domain.LoanRequest) error {
	if err := r.requireUser(loan.UserID); err != nil {
		return err
	}
	if loan.CreatedAt.IsZero() {
		loan.CreatedAt = r.now()
	}
	r.st.loans[loan.ID] = &loanRow{seq: r.next(), rec: *loan}
	return nil
}

func (r *repo) GetLoanRequest(ctx context.Context, id string) (*domain.LoanRequest, error) {
	row, ok := r.st.loans[id]
	if !ok {
		return nil, &domain.NotFoundError{Entity: "loan request", ID: id}
	}
	rec := row.rec
	return &rec, nil
}

func (r *repo) UpdateLoanReview(ctx context.Context, loan *domain.LoanRequest) error {
	row, ok := r.st.loans[loan.ID]
	if !ok {
		return &domain.NotFoundError{Entity: "loan request", ID: loan.ID}
	}
	row.rec.Status = loan.Status
	row.rec.AdminComment = loan.AdminComment
	row.rec.ReviewedBy = loan.ReviewedBy
	row.rec.ReviewedAt = loan.ReviewedAt
	return nil
}

func (r *repo) UpdateLoanScreening(ctx context.Context, id string, status domain.ScreeningStatus, note string) error {
	row, ok := r.st.loans[id]
	if !ok {
		return &domain.NotFoundError{Entity: "loan request", ID: id}
	}
	row.rec.ScreeningStatus = status
	row.rec.ScreeningNote = note
	return nil
}

func (r *repo) ListLoanRequests(ctx context.Context, filter ledger.LoanFilter) ([]*domain.LoanRequest, error) {
	var rows []*loanRow
	for _, row := range r.st.loans {
		if filter.UserID != "" && row.rec.UserID != filter.UserID {
			continue
		}
		if filter.Status != "" && row.rec.Status != filter.Status {
			continue
		}
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool {
		return newerFirst(rows[i].rec.CreatedAt, rows[i].seq, rows[j].rec.CreatedAt, rows[j].seq)
	})
	if filter.Limit > 0 && filter.Limit < len(rows) {
		rows = rows[:filter.Limit]
	}

	out := make([]*domain.LoanRequest, 0, len(rows))
	for _, row := range rows {
		rec := row.rec
		out = append(out, &rec)
	}
	return out, nil
}

func (r *repo) InsertTransaction(ctx context.Context, tx *domain.Transaction) error {
	if err := r.requireUser(tx.UserID); err != nil {
		return err
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = r.now()
	}
	r.st.transactions[tx.ID] = &transactionRow{seq: r.next(), rec: *tx}
	return nil
}

func (r *repo) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	row, ok := r.st.transactions[id]
	if !ok {
		return nil, &domain.NotFoundError{Entity: "transaction", ID: id}
	}
	rec := row.rec
	return &rec, nil
}

func (r *repo) FindTransactionByReference(ctx context.Context, reference string) (*domain.Transaction, error) {
	if strings.TrimSpace(reference) == "" {
		return nil, nil
	}

	var best *transactionRow
	for _, row := range r.st.transactions {
		if row.rec.PaymentReference != reference {
			continue
		}
		if best == nil || preferForReconcile(row, best) {
			best = row
		}
	}
	if best == nil {
		return nil, nil
	}
	rec := best.rec
	return &rec, nil
}

// preferForReconcile reports whether a ranks before b: PENDING first, then
// newest first.
func preferForReconcile(a, b *transactionRow) bool {
	aPending, bPending := a.rec.IsPending(), b.rec.IsPending()
	if aPending != bPending {
		return aPending
	}
	return newerFirst(a.rec.CreatedAt, a.seq, b.rec.CreatedAt, b.seq)
}

func (r *repo) UpdateTransactionSettlement(ctx context.Context, id string, status domain.TransactionStatus, description string) error {
	row, ok := r.st.transactions[id]
	if !ok {
		return &domain.NotFoundError{Entity: "transaction", ID: id}
	}
	row.rec.Status = status
	row.rec.Description = description
	return nil
}

func (r *repo) ListTransactions(ctx context.Context, filter ledger.TransactionFilter) ([]*domain.Transaction, error) {
	var rows []*transactionRow
	for _, row := range r.st.transactions {
		if !matchesTransaction(&row.rec, filter) {
			continue
		}
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool {
		return newerFirst(rows[i].rec.CreatedAt, rows[i].seq, rows[j].rec.CreatedAt, rows[j].seq)
	})
	if filter.Limit > 0 && filter.Limit < len(rows) {
		rows = rows[:filter.Limit]
	}

	out := make([]*domain.Transaction, 0, len(rows))
	for _, row := range rows {
		rec := row.rec
		out = append(out, &rec)
	}
	return out, nil
}

func matchesTransaction(t *domain.Transaction, filter ledger.TransactionFilter) bool {
	if filter.UserID != "" && t.UserID != filter.UserID {
		return false
	}
	if filter.Status != "" && t.Status != filter.Status {
		return false
	}
	if !filter.CreatedBefore.IsZero() && !t.CreatedAt.Before(filter.CreatedBefore) {
		return false
	}
	if !filter.CreatedFrom.IsZero() && t.CreatedAt.Before(filter.CreatedFrom) {
		return false
	}
	if len(filter.Types) > 0 {
		for _, typ := range filter.Types {
			if t.Type == typ {
				return true
			}
		}
		return false
	}
	return true
}

func (r *repo) GetLoanLimit(ctx context.Context, userID string) (*domain.UserLoanLimit, error) {
	l, ok := r.st.limits[userID]
	if !ok {
		return nil, nil
	}
	limitCopy := *l
	return &limitCopy, nil
}

func (r *repo) ListLoanLimits(ctx context.Context, userIDs []string) (map[string]*domain.UserLoanLimit, error) {
	out := make(map[string]*domain.UserLoanLimit, len(userIDs))
	for _, id := range userIDs {
		if l, ok := r.st.limits[id]; ok {
			limitCopy := *l
			out[id] = &limitCopy
		}
	}
	return out, nil
}

func (r *repo) UpsertLoanLimit(ctx context.Context, limit *domain.UserLoanLimit) error {
	if err := r.requireUser(limit.UserID); err != nil {
		return err
	}
	if limit.UpdatedAt.IsZero() {
		limit.UpdatedAt = r.now()
	}
	limitCopy := *limit
	r.st.limits[limit.UserID] = &limitCopy
	return nil
}

func (r *repo) UserExists(ctx context.Context, userID string) (bool, error) {
	_, ok := r.st.users[userID]
	return ok, nil
}

func newerFirst(at time.Time, aSeq int64, bt time.Time, bSeq int64) bool {
	if !at.Equal(bt) {
		return at.After(bt)
	}
	return aSeq > bSeq
}

// Ensure Store implements ledger.Store interface.
var _ ledger.Store = (*Store)(nil)
