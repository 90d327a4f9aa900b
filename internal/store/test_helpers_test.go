package store

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/refledger/internal/model"
	"github.com/roach88/refledger/internal/money"
)

var testEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// createTestStore creates a new store in a temp dir for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestUser creates a user with a code derived from its id.
func createTestUser(id int64, username string) model.User {
	return model.User{
		ID:           model.UserID(id),
		Username:     username,
		ReferralCode: fmt.Sprintf("CODE%04d", id),
		RegisteredAt: testEpoch,
	}
}

// mustAtomic runs fn under the gate and fails the test on error.
func mustAtomic(t *testing.T, s *Store, fn TxFunc) {
	t.Helper()
	require.NoError(t, s.Atomic(context.Background(), "test", fn))
}

// seedEdge creates two users and the edge between them.
func seedEdge(t *testing.T, s *Store, referrer, referred int64) {
	t.Helper()
	mustAtomic(t, s, func(ctx context.Context, tx *Tx) error {
		for _, id := range []int64{referrer, referred} {
			if _, err := tx.UserByID(ctx, model.UserID(id)); err == nil {
				continue
			}
			if err := tx.InsertUser(ctx, createTestUser(id, fmt.Sprintf("user%d", id))); err != nil {
				return err
			}
		}
		return tx.InsertReferral(ctx, model.Referral{
			ID:         fmt.Sprintf("ref-%d-%d", referrer, referred),
			ReferrerID: model.UserID(referrer),
			ReferredID: model.UserID(referred),
			CreatedAt:  testEpoch,
		})
	})
}

// createTestEarning builds a ledger row for an existing edge.
func createTestEarning(id string, referrer, referred int64, amount, subType string) model.CommissionEarning {
	return model.CommissionEarning{
		ID:               id,
		ReferrerID:       model.UserID(referrer),
		ReferredID:       model.UserID(referred),
		Amount:           money.MustParse(amount),
		SubscriptionType: subType,
		PaymentMethod:    "TON",
		CreatedAt:        testEpoch,
	}
}
