package commission

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/refledger/internal/apperr"
	"github.com/roach88/refledger/internal/clock"
	"github.com/roach88/refledger/internal/model"
	"github.com/roach88/refledger/internal/money"
	"github.com/roach88/refledger/internal/store"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func setupLedger(t *testing.T, opts Options) (*Ledger, *store.Store, *clock.Manual) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"), store.WithLogger(logger))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	clk := clock.NewManual(epoch)
	opts.Clock = clk
	opts.Logger = logger
	return New(st, opts), st, clk
}

// seedEdges creates every user mentioned and one edge per pair.
func seedEdges(t *testing.T, st *store.Store, pairs ...[2]int64) {
	t.Helper()
	err := st.Atomic(context.Background(), "seed", func(ctx context.Context, tx *store.Tx) error {
		for _, p := range pairs {
			for _, id := range p {
				if _, err := tx.UserByID(ctx, model.UserID(id)); err == nil {
					continue
				}
				u := model.User{ID: model.UserID(id), Username: fmt.Sprintf("user%d", id), ReferralCode: fmt.Sprintf("CODE%04d", id), RegisteredAt: epoch}
				if err := tx.InsertUser(ctx, u); err != nil {
					return err
				}
			}
			if err := tx.InsertReferral(ctx, model.Referral{
				ID:         fmt.Sprintf("ref-%d-%d", p[0], p[1]),
				ReferrerID: model.UserID(p[0]),
				ReferredID: model.UserID(p[1]),
				CreatedAt:  epoch,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func request(referrer, referred int64, amount, subType string) Request {
	return Request{
		ReferrerID:       model.UserID(referrer),
		ReferredID:       model.UserID(referred),
		Amount:           money.MustParse(amount),
		SubscriptionType: subType,
		PaymentMethod:    "TON",
	}
}

func TestRecordEarning_TenPercent(t *testing.T) {
	l, st, _ := setupLedger(t, Options{IDs: model.NewFixedGenerator("earn-1")})
	ctx := context.Background()
	seedEdges(t, st, [2]int64{1, 2})

	rec, err := l.RecordEarning(ctx, request(1, 2, "150", "premium"))
	require.NoError(t, err)
	assert.Equal(t, "15.00", rec.Commission.String())
	assert.Equal(t, "earn-1", rec.Earning.ID)
	assert.Equal(t, epoch, rec.Earning.CreatedAt)

	agg, err := l.AggregateByReferrer(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, model.Aggregate{Count: 1, Total: money.MustParse("15.00")}, agg)

	assert.Equal(t, 1.0, testutil.ToFloat64(st.Metrics().Earnings.WithLabelValues("premium", "TON")))
	assert.Equal(t, 1500.0, testutil.ToFloat64(st.Metrics().CommissionMinor.WithLabelValues("premium")))
}

func TestRecordEarning_Rounding(t *testing.T) {
	l, st, _ := setupLedger(t, Options{})
	ctx := context.Background()
	seedEdges(t, st, [2]int64{1, 2})

	tests := []struct {
		amount string
		want   string
	}{
		{"0.05", "0.01"},
		{"0.04", "0.00"},
		{"99.95", "10.00"},
		{"12.34", "1.23"},
	}
	for _, tt := range tests {
		rec, err := l.RecordEarning(ctx, request(1, 2, tt.amount, "basic"))
		require.NoError(t, err, tt.amount)
		assert.Equal(t, tt.want, rec.Commission.String(), tt.amount)
	}

	agg, err := l.AggregateByReferrer(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 4, agg.Count)
	assert.Equal(t, "11.24", agg.Total.String())
}

func TestRecordEarning_CustomRate(t *testing.T) {
	l, st, _ := setupLedger(t, Options{Rate: money.MustParseRate("0.25")})
	seedEdges(t, st, [2]int64{1, 2})

	rec, err := l.RecordEarning(context.Background(), request(1, 2, "10", "basic"))
	require.NoError(t, err)
	assert.Equal(t, "2.50", rec.Commission.String())
	assert.Equal(t, "0.25", l.Rate().String())
}

func TestRecordEarning_RequiresEdge(t *testing.T) {
	l, st, _ := setupLedger(t, Options{})
	ctx := context.Background()
	seedEdges(t, st, [2]int64{1, 2})

	_, err := l.RecordEarning(ctx, request(2, 1, "100", "basic"))
	assert.True(t, apperr.IsNotFound(err), "reverse edge does not exist: %v", err)

	_, err = l.RecordEarning(ctx, request(1, 99, "100", "basic"))
	assert.True(t, apperr.IsNotFound(err))

	agg, err := l.AggregateByReferrer(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, model.Aggregate{}, agg)
}

func TestRecordEarning_RejectsNonPositive(t *testing.T) {
	l, st, _ := setupLedger(t, Options{})
	ctx := context.Background()
	seedEdges(t, st, [2]int64{1, 2})

	for _, amount := range []string{"0", "-5"} {
		_, err := l.RecordEarning(ctx, request(1, 2, amount, "basic"))
		assert.True(t, apperr.IsInvalid(err), amount)
	}

	agg, err := l.AggregateByReferrer(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, agg.Count)
}

func TestRecordEarning_ConcurrentAppendsAllCounted(t *testing.T) {
	l, st, _ := setupLedger(t, Options{})
	ctx := context.Background()
	seedEdges(t, st, [2]int64{1, 2}, [2]int64{1, 3})

	const n = 30
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			referred := int64(2 + i%2)
			_, err := l.RecordEarning(ctx, request(1, referred, "10", "basic"))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	agg, err := l.AggregateByReferrer(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, n, agg.Count)
	assert.Equal(t, "30.00", agg.Total.String())
}

func TestTopReferrers(t *testing.T) {
	l, st, _ := setupLedger(t, Options{})
	ctx := context.Background()
	seedEdges(t, st,
		[2]int64{1, 10}, [2]int64{1, 11},
		[2]int64{2, 20}, [2]int64{2, 21},
		[2]int64{3, 30},
	)

	for _, r := range []Request{
		request(1, 10, "100", "premium"),
		request(1, 11, "100", "basic"),
		request(2, 20, "100", "premium"),
		request(2, 21, "200", "premium"),
		request(3, 30, "500", "basic"),
	} {
		_, err := l.RecordEarning(ctx, r)
		require.NoError(t, err)
	}

	top, err := l.TopReferrers(ctx, 10, "")
	require.NoError(t, err)
	require.Len(t, top, 3)
	assert.Equal(t, model.UserID(2), top[0].ReferrerID, "2 rows, 30.00 beats 2 rows, 20.00")
	assert.Equal(t, "30.00", top[0].Total.String())
	assert.Equal(t, "user2", top[0].Username)
	assert.Equal(t, model.UserID(1), top[1].ReferrerID)
	assert.Equal(t, model.UserID(3), top[2].ReferrerID)

	limited, err := l.TopReferrers(ctx, 1, "")
	require.NoError(t, err)
	require.Len(t, limited, 1)

	basic, err := l.TopReferrers(ctx, 10, "basic")
	require.NoError(t, err)
	require.Len(t, basic, 2)
	assert.Equal(t, model.UserID(3), basic[0].ReferrerID, "same count, higher total first")
	assert.Equal(t, model.UserID(1), basic[1].ReferrerID)

	_, err = l.TopReferrers(ctx, -1, "")
	assert.True(t, apperr.IsInvalid(err))
}

func TestTopReferrers_TieBreaksOnID(t *testing.T) {
	l, st, _ := setupLedger(t, Options{})
	ctx := context.Background()
	seedEdges(t, st, [2]int64{9, 90}, [2]int64{4, 40})

	_, err := l.RecordEarning(ctx, request(9, 90, "50", "basic"))
	require.NoError(t, err)
	_, err = l.RecordEarning(ctx, request(4, 40, "50", "basic"))
	require.NoError(t, err)

	top, err := l.TopReferrers(ctx, 0, "")
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, model.UserID(4), top[0].ReferrerID)
	assert.Equal(t, model.UserID(9), top[1].ReferrerID)
}

func TestHistory_NewestFirst(t *testing.T) {
	l, st, clk := setupLedger(t, Options{IDs: model.NewFixedGenerator("e1", "e2", "e3")})
	ctx := context.Background()
	seedEdges(t, st, [2]int64{1, 2})

	for _, amount := range []string{"10", "20", "30"} {
		_, err := l.RecordEarning(ctx, request(1, 2, amount, "basic"))
		require.NoError(t, err)
		clk.Advance(time.Minute)
	}

	hist, err := l.History(ctx, 1, 2)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, "e3", hist[0].ID)
	assert.Equal(t, "e2", hist[1].ID)

	all, err := l.History(ctx, 1, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	none, err := l.History(ctx, 2, 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}
