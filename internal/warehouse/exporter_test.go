package warehouse

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"
	"time"

	bq "github.com/dvloznov/community-sacco/internal/bigquery"
	"github.com/dvloznov/community-sacco/internal/domain"
	"github.com/dvloznov/community-sacco/internal/infra/inmemory"
	"github.com/dvloznov/community-sacco/internal/jobs"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockSink is a mock implementation of bq.TransactionSink.
type MockSink struct {
	InsertTransactionsFunc func(ctx context.Context, rows []*bq.TransactionRow) error

	Batches [][]*bq.TransactionRow
}

func (m *MockSink) InsertTransactions(ctx context.Context, rows []*bq.TransactionRow) error {
	if m.InsertTransactionsFunc != nil {
		if err := m.InsertTransactionsFunc(ctx, rows); err != nil {
			return err
		}
	}
	m.Batches = append(m.Batches, rows)
	return nil
}

func (m *MockSink) QueryTransactionsByDateRange(ctx context.Context, start, end time.Time) ([]*bq.TransactionRow, error) {
	var out []*bq.TransactionRow
	for _, b := range m.Batches {
		out = append(out, b...)
	}
	return out, nil
}

var _ bq.TransactionSink = (*MockSink)(nil)

func newLedger(t *testing.T) *inmemory.Store {
	t.Helper()
	store := inmemory.NewStore()
	require.NoError(t, store.CreateUser(context.Background(), &domain.User{ID: "u1", Username: "mary"}))
	return store
}

func insert(t *testing.T, store *inmemory.Store, id string, status domain.TransactionStatus) {
	t.Helper()
	require.NoError(t, store.InsertTransaction(context.Background(), &domain.Transaction{
		ID:               id,
		UserID:           "u1",
		Type:             domain.TransactionLoanRepayment,
		Status:           status,
		Amount:           decimal.RequireFromString("1250.50"),
		PaymentReference: "ws_CO_" + id,
		Description:      "Loan repayment via M-Pesa",
	}))
}

func TestHandleExportsCompletedTransaction(t *testing.T) {
	store := newLedger(t)
	insert(t, store, "t1", domain.TransactionCompleted)
	sink := &MockSink{}
	exporter := NewExporter(store, sink, zerolog.Nop())

	require.NoError(t, exporter.Handle(context.Background(), &jobs.Job{ID: "j1", SubjectID: "t1"}))

	require.Len(t, sink.Batches, 1)
	row := sink.Batches[0][0]
	assert.Equal(t, "t1", row.TransactionID)
	assert.Equal(t, "t1:COMPLETED", row.InsertID())
	assert.Equal(t, "LOAN_REPAYMENT", row.TransactionType)
	assert.Equal(t, 0, row.Amount.Cmp(big.NewRat(250100, 200)))
	assert.True(t, row.PaymentReference.Valid)
	assert.False(t, row.PhoneNumber.Valid)
	assert.Equal(t, row.CreatedAt.Format("2006-01-02"), row.CreatedDate.String())
}

func TestHandleSkipsPending(t *testing.T) {
	store := newLedger(t)
	insert(t, store, "t1", domain.TransactionPending)
	sink := &MockSink{}
	exporter := NewExporter(store, sink, zerolog.Nop())

	require.NoError(t, exporter.Handle(context.Background(), &jobs.Job{SubjectID: "t1"}))
	assert.Empty(t, sink.Batches)

	assert.ErrorIs(t, exporter.Handle(context.Background(), &jobs.Job{SubjectID: "missing"}), domain.ErrNotFound)
}

func TestHandleSinkFailure(t *testing.T) {
	store := newLedger(t)
	insert(t, store, "t1", domain.TransactionCompleted)
	sink := &MockSink{InsertTransactionsFunc: func(ctx context.Context, rows []*bq.TransactionRow) error {
		return errors.New("googleapi: Error 503")
	}}

	err := NewExporter(store, sink, zerolog.Nop()).Handle(context.Background(), &jobs.Job{SubjectID: "t1"})
	assert.Error(t, err)
}

func TestBackfillBatches(t *testing.T) {
	store := newLedger(t)
	for i := 0; i < backfillBatchSize+3; i++ {
		insert(t, store, fmt.Sprintf("c%04d", i), domain.TransactionCompleted)
	}
	insert(t, store, "p1", domain.TransactionPending)
	sink := &MockSink{}
	exporter := NewExporter(store, sink, zerolog.Nop())

	now := time.Now()
	sent, err := exporter.Backfill(context.Background(), now.Add(-time.Hour), now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, backfillBatchSize+3, sent)
	require.Len(t, sink.Batches, 2)
	assert.Len(t, sink.Batches[0], backfillBatchSize)
	assert.Len(t, sink.Batches[1], 3)

	sent, err = exporter.Backfill(context.Background(), now.Add(time.Hour), now.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, sent)
}
