package savings

import (
	"context"
	"testing"

	"github.com/dvloznov/community-sacco/internal/domain"
	"github.com/dvloznov/community-sacco/internal/infra/inmemory"
	"github.com/dvloznov/community-sacco/internal/ledger"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var member = domain.Actor{UserID: "member-1"}

func newService(t *testing.T) (*Service, *inmemory.Store) {
	t.Helper()
	store := inmemory.NewStore()
	require.NoError(t, store.CreateUser(context.Background(), &domain.User{ID: member.UserID, Username: "mary"}))
	return NewService(store, nil, zerolog.Nop()), store
}

func TestRecordCreatesDeposit(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()

	rec, err := svc.Record(ctx, member, "250.00", "")
	require.NoError(t, err)
	assert.True(t, rec.Amount.Equal(decimal.NewFromInt(250)))

	txs, err := store.ListTransactions(ctx, ledger.TransactionFilter{UserID: member.UserID})
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, domain.TransactionDeposit, txs[0].Type)
	assert.Equal(t, domain.TransactionCompleted, txs[0].Status)
	assert.Equal(t, "Savings deposit", txs[0].Description)

	_, err = svc.Record(ctx, member, "10", "chama contribution")
	require.NoError(t, err)
	txs, err = store.ListTransactions(ctx, ledger.TransactionFilter{UserID: member.UserID})
	require.NoError(t, err)
	assert.Equal(t, "chama contribution", txs[0].Description)
}

func TestRecordValidation(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()

	_, err := svc.Record(ctx, member, "0", "")
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = svc.Record(ctx, member, "1.234", "")
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = svc.Record(ctx, domain.Actor{}, "10", "")
	assert.ErrorIs(t, err, domain.ErrAuthorization)

	txs, err := store.ListTransactions(ctx, ledger.TransactionFilter{})
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestSummary(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()

	empty, err := svc.Summary(ctx, member)
	require.NoError(t, err)
	assert.Equal(t, "None", empty.LatestLoanStatus)
	assert.True(t, empty.TotalSaved.IsZero())
	assert.Nil(t, empty.LoanLimit)

	_, err = svc.Record(ctx, member, "100", "")
	require.NoError(t, err)
	_, err = svc.Record(ctx, member, "50.50", "")
	require.NoError(t, err)
	require.NoError(t, store.InsertLoanRequest(ctx, &domain.LoanRequest{
		ID: "l1", UserID: member.UserID, Amount: decimal.NewFromInt(10), Status: domain.LoanPending,
	}))
	require.NoError(t, store.InsertTransaction(ctx, &domain.Transaction{
		ID: "p1", UserID: member.UserID, Type: domain.TransactionLoanRepayment,
		Status: domain.TransactionPending, Amount: decimal.NewFromInt(5),
	}))
	limit := decimal.NewFromInt(900)
	require.NoError(t, store.UpsertLoanLimit(ctx, &domain.UserLoanLimit{UserID: member.UserID, Amount: &limit}))

	summary, err := svc.Summary(ctx, member)
	require.NoError(t, err)
	assert.Equal(t, "PENDING", summary.LatestLoanStatus)
	assert.True(t, summary.TotalSaved.Equal(decimal.RequireFromString("150.50")))
	assert.Equal(t, 1, summary.PendingTransactions)
	require.NotNil(t, summary.LoanLimit)
	assert.True(t, summary.LoanLimit.Equal(limit))

	statement, err := svc.List(ctx, member)
	require.NoError(t, err)
	assert.Len(t, statement.Records, 2)
}
