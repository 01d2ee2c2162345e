//go:build integration
// +build integration

package postgres

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/dvloznov/community-sacco/internal/domain"
	"github.com/dvloznov/community-sacco/internal/ledger"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:alpine",
		postgres.WithDatabase("sacco"),
		postgres.WithUsername("sacco"),
		postgres.WithPassword("sacco"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("terminate container: %v", err)
		}
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := Connect(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	applySchema(t, pool)
	return NewStore(pool)
}

func applySchema(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()
	files, err := filepath.Glob(filepath.Join("..", "..", "..", "migrations", "postgres", "*.sql"))
	require.NoError(t, err)
	require.NotEmpty(t, files)
	sort.Strings(files)

	for _, f := range files {
		sql, err := os.ReadFile(f)
		require.NoError(t, err)
		_, err = pool.Exec(context.Background(), string(sql))
		require.NoError(t, err, f)
	}
}

func createUser(t *testing.T, s *Store, id, username string, staff bool) {
	t.Helper()
	require.NoError(t, s.CreateUser(context.Background(), &domain.User{
		ID: id, Username: username, PasswordHash: "x", IsStaff: staff,
	}))
}

func TestStoreIntegration(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	createUser(t, s, "member", "mary", false)
	createUser(t, s, "admin", "alice", true)

	t.Run("duplicate username", func(t *testing.T) {
		err := s.CreateUser(ctx, &domain.User{ID: "other", Username: "mary", PasswordHash: "x"})
		assert.ErrorIs(t, err, domain.ErrValidation)
	})

	t.Run("atomic rollback", func(t *testing.T) {
		boom := errors.New("boom")
		err := s.Atomic(ctx, func(ctx context.Context, repo ledger.Repository) error {
			require.NoError(t, repo.InsertSavingsRecord(ctx, &domain.SavingsRecord{
				ID: "s-rollback", UserID: "member", Amount: decimal.NewFromInt(10),
			}))
			return boom
		})
		require.ErrorIs(t, err, boom)

		recs, err := s.ListSavingsRecords(ctx, "member")
		require.NoError(t, err)
		assert.Empty(t, recs)
	})

	t.Run("loan round trip", func(t *testing.T) {
		loan := &domain.LoanRequest{
			ID: "loan-1", UserID: "member", Name: "Mary", IDNumber: "12345678",
			DocumentRef: "loan_documents/x.pdf", Amount: decimal.RequireFromString("5000.00"),
			Purpose: "stock", Status: domain.LoanPending,
		}
		require.NoError(t, s.InsertLoanRequest(ctx, loan))
		assert.False(t, loan.CreatedAt.IsZero())

		err := s.Atomic(ctx, func(ctx context.Context, repo ledger.Repository) error {
			got, err := repo.GetLoanRequest(ctx, "loan-1")
			if err != nil {
				return err
			}
			reviewer := "admin"
			now := time.Now()
			got.Status = domain.LoanApproved
			got.AdminComment = "ok"
			got.ReviewedBy = &reviewer
			got.ReviewedAt = &now
			return repo.UpdateLoanReview(ctx, got)
		})
		require.NoError(t, err)

		got, err := s.GetLoanRequest(ctx, "loan-1")
		require.NoError(t, err)
		assert.Equal(t, domain.LoanApproved, got.Status)
		assert.True(t, got.Amount.Equal(decimal.NewFromInt(5000)))
		require.NotNil(t, got.ReviewedBy)
		assert.Equal(t, "admin", *got.ReviewedBy)

		_, err = s.GetLoanRequest(ctx, "missing")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("reference lookup prefers pending", func(t *testing.T) {
		require.NoError(t, s.InsertTransaction(ctx, &domain.Transaction{
			ID: "tx-pending", UserID: "member", Type: domain.TransactionLoanRepayment,
			Status: domain.TransactionPending, Amount: decimal.NewFromInt(100), PaymentReference: "ws_CO_1",
		}))
		require.NoError(t, s.InsertTransaction(ctx, &domain.Transaction{
			ID: "tx-done", UserID: "member", Type: domain.TransactionLoanRepayment,
			Status: domain.TransactionCompleted, Amount: decimal.NewFromInt(100), PaymentReference: "ws_CO_1",
		}))

		got, err := s.FindTransactionByReference(ctx, "ws_CO_1")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "tx-pending", got.ID)

		none, err := s.FindTransactionByReference(ctx, "ws_CO_404")
		require.NoError(t, err)
		assert.Nil(t, none)
	})

	t.Run("loan limit upsert and clear", func(t *testing.T) {
		amount := decimal.RequireFromString("2500.50")
		require.NoError(t, s.UpsertLoanLimit(ctx, &domain.UserLoanLimit{UserID: "member", Amount: &amount}))

		got, err := s.GetLoanLimit(ctx, "member")
		require.NoError(t, err)
		require.NotNil(t, got.Amount)
		assert.True(t, got.Amount.Equal(amount))

		require.NoError(t, s.UpsertLoanLimit(ctx, &domain.UserLoanLimit{UserID: "member"}))
		got, err = s.GetLoanLimit(ctx, "member")
		require.NoError(t, err)
		assert.Nil(t, got.Amount)

		none, err := s.GetLoanLimit(ctx, "admin")
		require.NoError(t, err)
		assert.Nil(t, none)
	})

	t.Run("rollups", func(t *testing.T) {
		byStatus, err := s.CountLoansByStatus(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, byStatus[domain.LoanApproved])

		months, err := s.CountTransactionsByMonth(ctx)
		require.NoError(t, err)
		require.Len(t, months, 1)
		assert.Equal(t, 2, months[0].Count)

		sum, err := s.SumTransactions(ctx, domain.TransactionLoanRepayment, domain.TransactionCompleted)
		require.NoError(t, err)
		assert.True(t, sum.Equal(decimal.NewFromInt(100)))

		pending, err := s.CountTransactionsWithStatus(ctx, domain.TransactionPending)
		require.NoError(t, err)
		assert.Equal(t, 1, pending)
	})

	t.Run("concurrent settlement is serialized", func(t *testing.T) {
		var wg sync.WaitGroup
		var mu sync.Mutex
		completed := 0
		for i := 0; i < 5; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := s.Atomic(ctx, func(ctx context.Context, repo ledger.Repository) error {
					tx, err := repo.FindTransactionByReference(ctx, "ws_CO_1")
					if err != nil || tx == nil || !tx.IsPending() {
						return err
					}
					mu.Lock()
					completed++
					mu.Unlock()
					return repo.UpdateTransactionSettlement(ctx, tx.ID, domain.TransactionCompleted, tx.Description)
				})
				assert.NoError(t, err)
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, completed)
	})
}
