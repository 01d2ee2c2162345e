package analytics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dvloznov/community-sacco/internal/domain"
	"github.com/dvloznov/community-sacco/internal/infra/inmemory"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockCache is a mock implementation of Cache.
type MockCache struct {
	GetFunc func(ctx context.Context, key string) ([]byte, bool, error)
	SetFunc func(ctx context.Context, key string, value []byte, ttl time.Duration) error

	entries map[string][]byte
}

func (m *MockCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, key)
	}
	v, ok := m.entries[key]
	return v, ok, nil
}

func (m *MockCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if m.SetFunc != nil {
		return m.SetFunc(ctx, key, value, ttl)
	}
	if m.entries == nil {
		m.entries = make(map[string][]byte)
	}
	m.entries[key] = value
	return nil
}

var _ Cache = (*MockCache)(nil)

func TestComputeEmptyLedger(t *testing.T) {
	agg := NewAggregator(inmemory.NewStore(), nil, 0, zerolog.Nop())

	d, err := agg.Compute(context.Background())
	require.NoError(t, err)

	assert.Empty(t, d.LoansByStatus.Labels)
	assert.NotNil(t, d.LoansByStatus.Labels)
	assert.NotNil(t, d.RepaymentsByStatus.Values)
	assert.NotNil(t, d.TransactionsByMonth.Labels)
	assert.NotNil(t, d.RecentTransactions)
	assert.Empty(t, d.RecentTransactions)
	assert.Zero(t, d.DistinctApplicants)
	assert.True(t, d.TotalRepaid.IsZero())
	assert.Zero(t, d.PendingTransactions)
}

func seedLedger(t *testing.T) *inmemory.Store {
	t.Helper()
	ctx := context.Background()
	store := inmemory.NewStore()
	for _, id := range []string{"u1", "u2", "u3"} {
		require.NoError(t, store.CreateUser(ctx, &domain.User{ID: id, Username: id}))
	}

	loans := []struct {
		id, user string
		status   domain.LoanStatus
	}{
		{"l1", "u1", domain.LoanApproved},
		{"l2", "u1", domain.LoanPending},
		{"l3", "u2", domain.LoanRejected},
		{"l4", "u2", domain.LoanPending},
	}
	for _, l := range loans {
		require.NoError(t, store.InsertLoanRequest(ctx, &domain.LoanRequest{
			ID: l.id, UserID: l.user, Amount: decimal.NewFromInt(100), Status: l.status,
		}))
	}

	txs := []struct {
		id     string
		typ    domain.TransactionType
		status domain.TransactionStatus
		amount int64
	}{
		{"t1", domain.TransactionDeposit, domain.TransactionCompleted, 100},
		{"t2", domain.TransactionLoanDisbursement, domain.TransactionCompleted, 100},
		{"t3", domain.TransactionLoanRepayment, domain.TransactionCompleted, 40},
		{"t4", domain.TransactionLoanRepayment, domain.TransactionCompleted, 35},
		{"t5", domain.TransactionLoanRepayment, domain.TransactionPending, 25},
		{"t6", domain.TransactionDeposit, domain.TransactionPending, 10},
	}
	for _, tx := range txs {
		require.NoError(t, store.InsertTransaction(ctx, &domain.Transaction{
			ID: tx.id, UserID: "u1", Type: tx.typ, Status: tx.status, Amount: decimal.NewFromInt(tx.amount),
		}))
	}
	return store
}

func TestComputeRollups(t *testing.T) {
	agg := NewAggregator(seedLedger(t), nil, 0, zerolog.Nop())

	d, err := agg.Compute(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"PENDING", "APPROVED", "REJECTED"}, d.LoansByStatus.Labels)
	assert.Equal(t, []int{2, 1, 1}, d.LoansByStatus.Values)

	assert.Equal(t, []string{LabelCompleted, LabelPendingPayment}, d.RepaymentsByStatus.Labels)
	assert.Equal(t, []int{2, 1}, d.RepaymentsByStatus.Values)

	require.Len(t, d.TransactionsByMonth.Labels, 1)
	assert.Equal(t, time.Now().UTC().Format("2006-01"), d.TransactionsByMonth.Labels[0])
	assert.Equal(t, []int{6}, d.TransactionsByMonth.Values)

	require.Len(t, d.RecentTransactions, DefaultRecentLimit)
	assert.Equal(t, "t6", d.RecentTransactions[0].ID)
	for _, tx := range d.RecentTransactions {
		assert.NotEqual(t, domain.TransactionLoanDisbursement, tx.Type)
	}

	assert.Equal(t, 2, d.DistinctApplicants)
	assert.True(t, d.TotalRepaid.Equal(decimal.NewFromInt(75)))
	assert.Equal(t, 2, d.PendingTransactions)
}

func TestDashboardUsesCache(t *testing.T) {
	cache := &MockCache{}
	store := seedLedger(t)
	agg := NewAggregator(store, cache, time.Minute, zerolog.Nop())
	ctx := context.Background()

	first, err := agg.Dashboard(ctx)
	require.NoError(t, err)
	require.Contains(t, cache.entries, dashboardCacheKey)

	require.NoError(t, store.InsertTransaction(ctx, &domain.Transaction{
		ID: "t7", UserID: "u1", Type: domain.TransactionDeposit, Status: domain.TransactionPending, Amount: decimal.NewFromInt(1),
	}))

	second, err := agg.Dashboard(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.PendingTransactions, second.PendingTransactions)
	assert.True(t, first.TotalRepaid.Equal(second.TotalRepaid))
}

func TestDashboardIgnoresCacheFailures(t *testing.T) {
	cache := &MockCache{
		GetFunc: func(ctx context.Context, key string) ([]byte, bool, error) {
			return nil, false, errors.New("connection refused")
		},
		SetFunc: func(ctx context.Context, key string, value []byte, ttl time.Duration) error {
			return errors.New("connection refused")
		},
	}
	agg := NewAggregator(seedLedger(t), cache, time.Minute, zerolog.Nop())

	d, err := agg.Dashboard(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, d.PendingTransactions)
}

func TestDashboardDiscardsCorruptEntry(t *testing.T) {
	cache := &MockCache{entries: map[string][]byte{dashboardCacheKey: []byte("{not json")}}
	agg := NewAggregator(seedLedger(t), cache, time.Minute, zerolog.Nop())

	d, err := agg.Dashboard(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, d.DistinctApplicants)
}
