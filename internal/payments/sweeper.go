package payments

import (
	"context"
	"fmt"
	"time"

	"github.com/dvloznov/community-sacco/internal/domain"
	"github.com/dvloznov/community-sacco/internal/ledger"
	"github.com/rs/zerolog"
)

// DefaultPendingTTL is how long a payment may wait for its callback before
// the sweeper flags it.
const DefaultPendingTTL = 24 * time.Hour

// Sweeper flags PENDING payments whose callback never arrived. It only
// annotates them; settling is left to ForceComplete.
type Sweeper struct {
	store ledger.Store
	ttl   time.Duration
	log   zerolog.Logger
}

// NewSweeper creates a sweeper. A non-positive ttl uses DefaultPendingTTL.
func NewSweeper(store ledger.Store, ttl time.Duration, log zerolog.Logger) *Sweeper {
	if ttl <= 0 {
		ttl = DefaultPendingTTL
	}
	return &Sweeper{store: store, ttl: ttl, log: log}
}

// Sweep notes every PENDING transaction created before now minus the TTL and
// returns how many were newly flagged.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) (int, error) {
	stale, err := s.store.ListTransactions(ctx, ledger.TransactionFilter{
		Status:        domain.TransactionPending,
		CreatedBefore: now.Add(-s.ttl),
	})
	if err != nil {
		return 0, fmt.Errorf("Sweep: list pending: %w", err)
	}

	flagged := 0
	for _, candidate := range stale {
		changed := false
		err := s.store.Atomic(ctx, func(ctx context.Context, repo ledger.Repository) error {
			tx, err := repo.GetTransaction(ctx, candidate.ID)
			if err != nil {
				return err
			}
			if !tx.IsPending() || !tx.AppendNote(NoteNoConfirmation) {
				return nil
			}
			changed = true
			return repo.UpdateTransactionSettlement(ctx, tx.ID, tx.Status, tx.Description)
		})
		if err != nil {
			return flagged, fmt.Errorf("Sweep: transaction %s: %w", candidate.ID, err)
		}
		if changed {
			flagged++
			s.log.Warn().
				Str("transaction_id", candidate.ID).
				Str("checkout_request_id", candidate.PaymentReference).
				Time("created_at", candidate.CreatedAt).
				Msg("Payment still pending without confirmation")
		}
	}

	s.log.Info().Int("checked", len(stale)).Int("flagged", flagged).Msg("Pending payment sweep finished")
	return flagged, nil
}
