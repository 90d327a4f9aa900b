package stats

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/refledger/internal/apperr"
	"github.com/roach88/refledger/internal/clock"
	"github.com/roach88/refledger/internal/commission"
	"github.com/roach88/refledger/internal/model"
	"github.com/roach88/refledger/internal/money"
	"github.com/roach88/refledger/internal/retry"
	"github.com/roach88/refledger/internal/store"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store    *store.Store
	ledger   *commission.Ledger
	reporter *Reporter
	clock    *clock.Manual
}

func setup(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"), store.WithLogger(logger))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	clk := clock.NewManual(epoch)
	return &fixture{
		store:    st,
		ledger:   commission.New(st, commission.Options{Clock: clk, Logger: logger}),
		reporter: New(st, logger, retry.Policy{}),
		clock:    clk,
	}
}

// seed creates users 1..3 (referrers) and referred users 10..14, then
// records one payment per entry.
func (f *fixture) seed(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	edges := map[int64]int64{10: 1, 11: 1, 12: 2, 13: 2, 14: 3}
	require.NoError(t, f.store.Atomic(ctx, "seed", func(ctx context.Context, tx *store.Tx) error {
		for _, id := range []int64{1, 2, 3, 10, 11, 12, 13, 14} {
			if err := tx.InsertUser(ctx, model.User{
				ID:           model.UserID(id),
				Username:     fmt.Sprintf("user%d", id),
				ReferralCode: fmt.Sprintf("CODE%04d", id),
				RegisteredAt: epoch,
			}); err != nil {
				return err
			}
		}
		for _, referred := range []int64{10, 11, 12, 13, 14} {
			if err := tx.InsertReferral(ctx, model.Referral{
				ID:         fmt.Sprintf("ref-%d", referred),
				ReferrerID: model.UserID(edges[referred]),
				ReferredID: model.UserID(referred),
				CreatedAt:  epoch,
			}); err != nil {
				return err
			}
		}
		return tx.UpsertPending(ctx, model.PendingReferral{UserID: 50, ReferrerID: 1, CreatedAt: epoch})
	}))

	payments := []struct {
		referred int64
		amount   string
		subType  string
	}{
		{10, "100", "premium"},
		{11, "50", "basic"},
		{12, "100", "premium"},
		{13, "200", "premium"},
		{14, "500", "basic"},
	}
	for _, p := range payments {
		_, err := f.ledger.RecordEarning(ctx, commission.Request{
			ReferrerID:       model.UserID(edges[p.referred]),
			ReferredID:       model.UserID(p.referred),
			Amount:           money.MustParse(p.amount),
			SubscriptionType: p.subType,
			PaymentMethod:    "TON",
		})
		require.NoError(t, err)
		f.clock.Advance(time.Minute)
	}
}

func TestReport_Referrer(t *testing.T) {
	f := setup(t)
	f.seed(t)

	rep, err := f.reporter.Report(context.Background(), ScopeReferrer(1))
	require.NoError(t, err)
	assert.Equal(t, KindReferrer, rep.Kind)
	require.NotNil(t, rep.Aggregate)
	assert.Equal(t, 2, rep.Aggregate.Count)
	assert.Equal(t, "15.00", rep.Aggregate.Total.String())
	require.NotNil(t, rep.Invited)
	assert.Equal(t, 2, *rep.Invited)
	require.Len(t, rep.Breakdown, 2)
	assert.Equal(t, "basic", rep.Breakdown[0].SubscriptionType)
	assert.Equal(t, "5.00", rep.Breakdown[0].Total.String())
	assert.Equal(t, "premium", rep.Breakdown[1].SubscriptionType)
	assert.Nil(t, rep.Ranking)
	assert.Nil(t, rep.Totals)
}

func TestReport_SubscriptionType(t *testing.T) {
	f := setup(t)
	f.seed(t)

	rep, err := f.reporter.Report(context.Background(), ScopeSubscriptionType("premium"))
	require.NoError(t, err)
	require.NotNil(t, rep.Aggregate)
	assert.Equal(t, 3, rep.Aggregate.Count)
	assert.Equal(t, "40.00", rep.Aggregate.Total.String())
	require.Len(t, rep.Ranking, 2)
	assert.Equal(t, model.UserID(2), rep.Ranking[0].ReferrerID)
	assert.Equal(t, model.UserID(1), rep.Ranking[1].ReferrerID)

	none, err := f.reporter.Report(context.Background(), ScopeSubscriptionType("enterprise"))
	require.NoError(t, err)
	assert.Equal(t, model.Aggregate{}, *none.Aggregate)
	assert.Empty(t, none.Ranking)
}

func TestReport_Top(t *testing.T) {
	f := setup(t)
	f.seed(t)

	rep, err := f.reporter.Report(context.Background(), ScopeTop(2))
	require.NoError(t, err)
	require.Len(t, rep.Ranking, 2)
	assert.Equal(t, model.UserID(2), rep.Ranking[0].ReferrerID, "2 rows, 30.00")
	assert.Equal(t, model.UserID(1), rep.Ranking[1].ReferrerID, "2 rows, 15.00")
}

func TestReport_Global(t *testing.T) {
	f := setup(t)
	f.seed(t)

	rep, err := f.reporter.Report(context.Background(), ScopeGlobal())
	require.NoError(t, err)
	require.NotNil(t, rep.Totals)
	assert.Equal(t, model.Totals{
		Users:        8,
		Referrals:    5,
		Pending:      1,
		Earnings:     5,
		Commission:   money.MustParse("95.00"),
		Referrers:    3,
		PaidReferred: 5,
	}, *rep.Totals)
	assert.Len(t, rep.Breakdown, 2)
}

func TestReport_InvalidScope(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	for _, s := range []Scope{ScopeReferrer(0), ScopeSubscriptionType(""), ScopeTop(0), {Kind: "weekly"}} {
		_, err := f.reporter.Report(ctx, s)
		assert.True(t, apperr.IsInvalid(err), s.String())
	}
}

func TestReport_MatchesLedgerUnderConcurrentWrites(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.seed(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := f.ledger.RecordEarning(ctx, commission.Request{
				ReferrerID: 1, ReferredID: 10, Amount: money.MustParse("10"),
				SubscriptionType: "basic", PaymentMethod: "TON",
			})
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			rep, err := f.reporter.Report(ctx, ScopeReferrer(1))
			if !assert.NoError(t, err) {
				return
			}
			var sum money.Amount
			for _, b := range rep.Breakdown {
				sum = sum.Add(b.Total)
			}
			assert.Equal(t, rep.Aggregate.Total, sum, "aggregate and breakdown come from one snapshot")
		}()
	}
	wg.Wait()

	rep, err := f.reporter.Report(ctx, ScopeReferrer(1))
	require.NoError(t, err)
	assert.Equal(t, 22, rep.Aggregate.Count)
	assert.Equal(t, "35.00", rep.Aggregate.Total.String())
}

func TestUserOverview(t *testing.T) {
	f := setup(t)
	f.seed(t)
	ctx := context.Background()

	ov, err := f.reporter.UserOverview(ctx, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, "user1", ov.User.Username)
	assert.Nil(t, ov.ReferredBy)
	assert.Len(t, ov.Invited, 2)
	assert.Equal(t, 2, ov.Earnings.Count)
	require.Len(t, ov.Recent, 1)
	assert.Equal(t, model.UserID(11), ov.Recent[0].ReferredID, "newest first")

	ov, err = f.reporter.UserOverview(ctx, 12, 0)
	require.NoError(t, err)
	require.NotNil(t, ov.ReferredBy)
	assert.Equal(t, model.UserID(2), ov.ReferredBy.ReferrerID)
	assert.Empty(t, ov.Invited)

	_, err = f.reporter.UserOverview(ctx, 999, 0)
	assert.True(t, apperr.IsNotFound(err))
}
