// Package analytics builds the read-only admin dashboard from ledger rollups.
package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/dvloznov/community-sacco/internal/domain"
	"github.com/dvloznov/community-sacco/internal/ledger"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// DefaultRecentLimit is the number of recent deposits and repayments shown.
const DefaultRecentLimit = 5

const dashboardCacheKey = "analytics:dashboard:v1"

// Labels used for repayment statuses on the dashboard.
const (
	LabelCompleted      = "Completed"
	LabelPendingPayment = "Pending payment"
)

// Source is the part of the ledger the aggregator reads.
type Source interface {
	ledger.Rollups
	ListTransactions(ctx context.Context, filter ledger.TransactionFilter) ([]*domain.Transaction, error)
}

// Series is chart data: parallel label and value lists.
type Series struct {
	Labels []string `json:"labels"`
	Values []int    `json:"values"`
}

func (s *Series) add(label string, value int) {
	s.Labels = append(s.Labels, label)
	s.Values = append(s.Values, value)
}

func newSeries() Series {
	return Series{Labels: []string{}, Values: []int{}}
}

// Dashboard is the admin analytics view.
type Dashboard struct {
	LoansByStatus       Series                `json:"loans_by_status"`
	RepaymentsByStatus  Series                `json:"repayments_by_status"`
	TransactionsByMonth Series                `json:"transactions_by_month"`
	RecentTransactions  []*domain.Transaction `json:"recent_transactions"`
	DistinctApplicants  int                   `json:"distinct_applicants"`
	TotalRepaid         decimal.Decimal       `json:"total_repaid"`
	PendingTransactions int                   `json:"pending_transactions"`
	GeneratedAt         time.Time             `json:"generated_at"`
}

// Aggregator computes the dashboard, optionally through a cache.
type Aggregator struct {
	source   Source
	cache    Cache
	cacheTTL time.Duration
	recent   int
	log      zerolog.Logger
	now      func() time.Time
}

// NewAggregator creates an aggregator. cache may be nil.
func NewAggregator(source Source, cache Cache, cacheTTL time.Duration, log zerolog.Logger) *Aggregator {
	return &Aggregator{
		source:   source,
		cache:    cache,
		cacheTTL: cacheTTL,
		recent:   DefaultRecentLimit,
		log:      log,
		now:      time.Now,
	}
}

// Dashboard returns the cached dashboard when fresh, otherwise recomputes
// it. Cache failures are logged and never fail the request.
func (a *Aggregator) Dashboard(ctx context.Context) (*Dashboard, error) {
	if a.cache != nil && a.cacheTTL > 0 {
		data, ok, err := a.cache.Get(ctx, dashboardCacheKey)
		if err != nil {
			a.log.Warn().Err(err).Msg("Failed to read dashboard cache")
		} else if ok {
			var d Dashboard
			if err := json.Unmarshal(data, &d); err == nil {
				return &d, nil
			}
			a.log.Warn().Msg("Discarding unreadable cached dashboard")
		}
	}

	d, err := a.Compute(ctx)
	if err != nil {
		return nil, err
	}

	if a.cache != nil && a.cacheTTL > 0 {
		data, err := json.Marshal(d)
		if err == nil {
			err = a.cache.Set(ctx, dashboardCacheKey, data, a.cacheTTL)
		}
		if err != nil {
			a.log.Warn().Err(err).Msg("Failed to write dashboard cache")
		}
	}
	return d, nil
}

// Compute reads every rollup from the ledger. An empty ledger yields zero
// counts and empty lists.
func (a *Aggregator) Compute(ctx context.Context) (*Dashboard, error) {
	d := &Dashboard{
		LoansByStatus:       newSeries(),
		RepaymentsByStatus:  newSeries(),
		TransactionsByMonth: newSeries(),
		RecentTransactions:  []*domain.Transaction{},
		TotalRepaid:         decimal.Zero,
		GeneratedAt:         a.now().UTC(),
	}

	loans, err := a.source.CountLoansByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("Compute: loans by status: %w", err)
	}
	for _, status := range []domain.LoanStatus{domain.LoanPending, domain.LoanApproved, domain.LoanRejected} {
		if n, ok := loans[status]; ok {
			d.LoansByStatus.add(string(status), n)
		}
	}

	repayments, err := a.source.CountTransactionsByStatus(ctx, domain.TransactionLoanRepayment)
	if err != nil {
		return nil, fmt.Errorf("Compute: repayments by status: %w", err)
	}
	if n, ok := repayments[domain.TransactionCompleted]; ok {
		d.RepaymentsByStatus.add(LabelCompleted, n)
	}
	if n, ok := repayments[domain.TransactionPending]; ok {
		d.RepaymentsByStatus.add(LabelPendingPayment, n)
	}

	months, err := a.source.CountTransactionsByMonth(ctx)
	if err != nil {
		return nil, fmt.Errorf("Compute: transactions by month: %w", err)
	}
	sort.Slice(months, func(i, j int) bool { return months[i].Month.Before(months[j].Month) })
	for _, m := range months {
		d.TransactionsByMonth.add(m.Month.Format("2006-01"), m.Count)
	}

	recent, err := a.source.ListTransactions(ctx, ledger.TransactionFilter{
		Types: []domain.TransactionType{domain.TransactionDeposit, domain.TransactionLoanRepayment},
		Limit: a.recent,
	})
	if err != nil {
		return nil, fmt.Errorf("Compute: recent transactions: %w", err)
	}
	if len(recent) > 0 {
		d.RecentTransactions = recent
	}

	if d.DistinctApplicants, err = a.source.CountDistinctApplicants(ctx); err != nil {
		return nil, fmt.Errorf("Compute: distinct applicants: %w", err)
	}
	if d.TotalRepaid, err = a.source.SumTransactions(ctx, domain.TransactionLoanRepayment, domain.TransactionCompleted); err != nil {
		return nil, fmt.Errorf("Compute: total repaid: %w", err)
	}
	if d.PendingTransactions, err = a.source.CountTransactionsWithStatus(ctx, domain.TransactionPending); err != nil {
		return nil, fmt.Errorf("Compute: pending transactions: %w", err)
	}

	return d, nil
}
