// Package commission appends commission earnings to the ledger and
// aggregates them.
//
// The ledger is append-only. Totals are always recomputed from rows, so a
// committed earning is visible to every later aggregate.
package commission

import (
	"context"
	"log/slog"

	"github.com/roach88/refledger/internal/apperr"
	"github.com/roach88/refledger/internal/clock"
	"github.com/roach88/refledger/internal/metrics"
	"github.com/roach88/refledger/internal/model"
	"github.com/roach88/refledger/internal/money"
	"github.com/roach88/refledger/internal/retry"
	"github.com/roach88/refledger/internal/store"
)

// DefaultHistoryLimit caps History when no limit is given.
const DefaultHistoryLimit = 50

// Request describes one referred payment to credit.
type Request struct {
	ReferrerID       model.UserID
	ReferredID       model.UserID
	Amount           money.Amount
	SubscriptionType string
	PaymentMethod    string

	// ConfirmationID links the row to the admin confirmation that
	// produced it. Empty for rows recorded directly.
	ConfirmationID string
}

// Recorded is the result of RecordEarning.
type Recorded struct {
	Commission money.Amount
	Earning    model.CommissionEarning
}

// Options configures a Ledger. Zero values select defaults.
type Options struct {
	Rate   money.Rate
	IDs    model.IDGenerator
	Clock  clock.Clock
	Logger *slog.Logger
	Retry  retry.Policy
}

// Ledger is the Commission Ledger.
type Ledger struct {
	store   *store.Store
	rate    money.Rate
	ids     model.IDGenerator
	clock   clock.Clock
	logger  *slog.Logger
	metrics *metrics.Metrics
	retry   retry.Policy
}

// New creates a Ledger backed by st.
func New(st *store.Store, opts Options) *Ledger {
	l := &Ledger{
		store:   st,
		rate:    opts.Rate,
		ids:     opts.IDs,
		clock:   clock.OrSystem(opts.Clock),
		logger:  opts.Logger,
		metrics: st.Metrics(),
		retry:   opts.Retry,
	}
	if l.rate.IsZero() {
		l.rate = money.MustParseRate(money.DefaultRate)
	}
	if l.ids == nil {
		l.ids = model.UUIDv7Generator{}
	}
	if l.logger == nil {
		l.logger = slog.Default()
	}
	if l.retry.Metrics == nil {
		l.retry.Metrics = l.metrics
	}
	return l
}

// Rate returns the commission rate in effect.
func (l *Ledger) Rate() money.Rate {
	return l.rate
}

// RecordEarning appends one ledger row of req.Amount × rate for the edge
// req.ReferrerID -> req.ReferredID. The edge must exist and the amount must
// be positive.
func (l *Ledger) RecordEarning(ctx context.Context, req Request) (Recorded, error) {
	rec, err := retry.Do(ctx, l.retry, func() (Recorded, error) {
		var rec Recorded
		err := l.store.Atomic(ctx, "record earning", func(ctx context.Context, tx *store.Tx) error {
			var err error
			rec, err = l.RecordEarningIn(ctx, tx, req)
			return err
		})
		return rec, err
	})
	if err != nil {
		return Recorded{}, err
	}
	l.Observe(rec)
	return rec, nil
}

// RecordEarningIn is RecordEarning inside an already gated transaction.
// Callers that commit must call Observe afterwards.
func (l *Ledger) RecordEarningIn(ctx context.Context, tx *store.Tx, req Request) (Recorded, error) {
	if !req.Amount.IsPositive() {
		return Recorded{}, apperr.Invalid("record earning", "amount must be positive, got %s", req.Amount)
	}
	if _, err := tx.ReferralBetween(ctx, req.ReferrerID, req.ReferredID); err != nil {
		return Recorded{}, err
	}

	commission, err := l.rate.Apply(req.Amount)
	if err != nil {
		return Recorded{}, apperr.Invalid("record earning", "%v", err)
	}

	e := model.CommissionEarning{
		ID:               l.ids.Generate(),
		ReferrerID:       req.ReferrerID,
		ReferredID:       req.ReferredID,
		Amount:           commission,
		SubscriptionType: req.SubscriptionType,
		PaymentMethod:    req.PaymentMethod,
		ConfirmationID:   req.ConfirmationID,
		CreatedAt:        l.clock.Now(),
	}
	if err := tx.InsertEarning(ctx, e); err != nil {
		return Recorded{}, err
	}
	return Recorded{Commission: commission, Earning: e}, nil
}

// Observe logs and counts a committed earning.
func (l *Ledger) Observe(rec Recorded) {
	e := rec.Earning
	l.metrics.ObserveEarning(e.SubscriptionType, e.PaymentMethod, e.Amount.Minor())
	l.logger.Info("commission recorded",
		"earning_id", e.ID,
		"referrer_id", e.ReferrerID,
		"referred_id", e.ReferredID,
		"commission", e.Amount.String(),
		"subscription_type", e.SubscriptionType,
		"payment_method", e.PaymentMethod,
	)
}

// AggregateByReferrer returns the count and sum of ledger rows credited to
// referrerID. A referrer with no rows gets {0, 0.00}.
func (l *Ledger) AggregateByReferrer(ctx context.Context, referrerID model.UserID) (model.Aggregate, error) {
	return read(ctx, l, "aggregate earnings", func(ctx context.Context, tx *store.Tx) (model.Aggregate, error) {
		return tx.AggregateByReferrer(ctx, referrerID)
	})
}

// TopReferrers ranks referrers by ledger row count, then total, then id.
// An empty subscriptionType ranks across all types.
func (l *Ledger) TopReferrers(ctx context.Context, limit int, subscriptionType string) ([]model.RankedReferrer, error) {
	if limit < 0 {
		return nil, apperr.Invalid("top referrers", "limit must not be negative, got %d", limit)
	}
	return read(ctx, l, "top referrers", func(ctx context.Context, tx *store.Tx) ([]model.RankedReferrer, error) {
		return tx.TopReferrers(ctx, limit, subscriptionType)
	})
}

// History returns the latest ledger rows for referrerID, newest first.
func (l *Ledger) History(ctx context.Context, referrerID model.UserID, limit int) ([]model.CommissionEarning, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return read(ctx, l, "earning history", func(ctx context.Context, tx *store.Tx) ([]model.CommissionEarning, error) {
		return tx.EarningsBy(ctx, referrerID, limit)
	})
}

func read[T any](ctx context.Context, l *Ledger, op string, fn func(context.Context, *store.Tx) (T, error)) (T, error) {
	return retry.Do(ctx, l.retry, func() (T, error) {
		var v T
		err := l.store.Snapshot(ctx, op, func(ctx context.Context, tx *store.Tx) error {
			var err error
			v, err = fn(ctx, tx)
			return err
		})
		return v, err
	})
}
