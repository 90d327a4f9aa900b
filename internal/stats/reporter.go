// Package stats answers read-only statistics queries over the ledger.
//
// Every report is computed inside one gated read transaction, so it never
// observes a half-applied write.
package stats

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/refledger/internal/apperr"
	"github.com/roach88/refledger/internal/model"
	"github.com/roach88/refledger/internal/retry"
	"github.com/roach88/refledger/internal/store"
)

// DefaultTopLimit is the ranking size when a scope does not set one.
const DefaultTopLimit = 10

// Kind selects what a Scope reports on.
type Kind string

const (
	KindReferrer         Kind = "referrer"
	KindSubscriptionType Kind = "subscription_type"
	KindTop              Kind = "top"
	KindGlobal           Kind = "global"
)

// Scope parameterises Report.
type Scope struct {
	Kind             Kind
	ReferrerID       model.UserID
	SubscriptionType string
	Limit            int
}

// ScopeReferrer reports the earnings of one referrer.
func ScopeReferrer(id model.UserID) Scope {
	return Scope{Kind: KindReferrer, ReferrerID: id}
}

// ScopeSubscriptionType reports the ledger restricted to one tier.
func ScopeSubscriptionType(t string) Scope {
	return Scope{Kind: KindSubscriptionType, SubscriptionType: t, Limit: DefaultTopLimit}
}

// ScopeTop ranks the n best referrers.
func ScopeTop(n int) Scope {
	return Scope{Kind: KindTop, Limit: n}
}

// ScopeGlobal reports system-wide totals.
func ScopeGlobal() Scope {
	return Scope{Kind: KindGlobal}
}

// Report is the answer to one Scope. Only the sections relevant to the
// scope kind are set.
type Report struct {
	Scope     Scope                  `json:"-"`
	Kind      Kind                   `json:"kind"`
	Aggregate *model.Aggregate       `json:"aggregate,omitempty"`
	Invited   *int                   `json:"invited,omitempty"`
	Breakdown []model.TypeBreakdown  `json:"breakdown,omitempty"`
	Ranking   []model.RankedReferrer `json:"ranking,omitempty"`
	Totals    *model.Totals          `json:"totals,omitempty"`
}

// Overview is everything a user sees on their "my referrals" screen.
type Overview struct {
	User       model.User                `json:"user"`
	ReferredBy *model.Referral           `json:"referred_by,omitempty"`
	Pending    *model.PendingReferral    `json:"pending,omitempty"`
	Invited    []model.Referral          `json:"invited"`
	Earnings   model.Aggregate           `json:"earnings"`
	Recent     []model.CommissionEarning `json:"recent"`
}

// Reporter is the Statistics Reporter.
type Reporter struct {
	store  *store.Store
	logger *slog.Logger
	retry  retry.Policy
}

// New creates a Reporter backed by st.
func New(st *store.Store, logger *slog.Logger, policy retry.Policy) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	if policy.Metrics == nil {
		policy.Metrics = st.Metrics()
	}
	return &Reporter{store: st, logger: logger, retry: policy}
}

// Report computes the statistics for scope.
func (r *Reporter) Report(ctx context.Context, scope Scope) (Report, error) {
	if err := scope.validate(); err != nil {
		return Report{}, err
	}

	rep, err := snapshot(ctx, r, "report "+string(scope.Kind), func(ctx context.Context, tx *store.Tx) (Report, error) {
		rep := Report{Scope: scope, Kind: scope.Kind}
		switch scope.Kind {
		case KindReferrer:
			return referrerReport(ctx, tx, rep)
		case KindSubscriptionType:
			return typeReport(ctx, tx, rep)
		case KindTop:
			ranking, err := tx.TopReferrers(ctx, scope.Limit, "")
			rep.Ranking = ranking
			return rep, err
		default:
			totals, err := tx.Totals(ctx)
			if err != nil {
				return Report{}, err
			}
			rep.Totals = &totals
			rep.Breakdown, err = tx.BreakdownByType(ctx, 0)
			return rep, err
		}
	})
	if err != nil {
		return Report{}, err
	}
	r.logger.Debug("report computed", "kind", scope.Kind, "referrer_id", scope.ReferrerID)
	return rep, nil
}

// UserOverview collects the referral state of userID in one snapshot.
// recent caps the number of ledger rows returned.
func (r *Reporter) UserOverview(ctx context.Context, userID model.UserID, recent int) (Overview, error) {
	if recent <= 0 {
		recent = DefaultTopLimit
	}
	return snapshot(ctx, r, "user overview", func(ctx context.Context, tx *store.Tx) (Overview, error) {
		var (
			ov  Overview
			err error
		)
		if ov.User, err = tx.UserByID(ctx, userID); err != nil {
			return Overview{}, err
		}

		edge, err := tx.ReferralOf(ctx, userID)
		switch {
		case err == nil:
			ov.ReferredBy = &edge
		case !apperr.IsNotFound(err):
			return Overview{}, err
		}

		p, err := tx.PendingFor(ctx, userID)
		switch {
		case err == nil:
			ov.Pending = &p
		case !apperr.IsNotFound(err):
			return Overview{}, err
		}

		if ov.Invited, err = tx.ReferralsBy(ctx, userID); err != nil {
			return Overview{}, err
		}
		if ov.Earnings, err = tx.AggregateByReferrer(ctx, userID); err != nil {
			return Overview{}, err
		}
		if ov.Recent, err = tx.EarningsBy(ctx, userID, recent); err != nil {
			return Overview{}, err
		}
		return ov, nil
	})
}

func referrerReport(ctx context.Context, tx *store.Tx, rep Report) (Report, error) {
	agg, err := tx.AggregateByReferrer(ctx, rep.Scope.ReferrerID)
	if err != nil {
		return Report{}, err
	}
	invited, err := tx.ReferralsBy(ctx, rep.Scope.ReferrerID)
	if err != nil {
		return Report{}, err
	}
	n := len(invited)
	rep.Aggregate = &agg
	rep.Invited = &n
	rep.Breakdown, err = tx.BreakdownByType(ctx, rep.Scope.ReferrerID)
	return rep, err
}

func typeReport(ctx context.Context, tx *store.Tx, rep Report) (Report, error) {
	all, err := tx.BreakdownByType(ctx, 0)
	if err != nil {
		return Report{}, err
	}
	agg := model.Aggregate{}
	for _, b := range all {
		if b.SubscriptionType == rep.Scope.SubscriptionType {
			agg = model.Aggregate{Count: b.Count, Total: b.Total}
			break
		}
	}
	rep.Aggregate = &agg
	rep.Ranking, err = tx.TopReferrers(ctx, rep.Scope.Limit, rep.Scope.SubscriptionType)
	return rep, err
}

func (s Scope) validate() error {
	switch s.Kind {
	case KindReferrer:
		if s.ReferrerID <= 0 {
			return apperr.Invalid("report", "referrer scope needs a referrer id")
		}
	case KindSubscriptionType:
		if s.SubscriptionType == "" {
			return apperr.Invalid("report", "subscription type scope needs a type")
		}
	case KindTop:
		if s.Limit <= 0 {
			return apperr.Invalid("report", "top scope needs a positive limit, got %d", s.Limit)
		}
	case KindGlobal:
	default:
		return apperr.Invalid("report", "unknown scope %q", s.Kind)
	}
	return nil
}

// String renders the scope for logs and CLI headers.
func (s Scope) String() string {
	switch s.Kind {
	case KindReferrer:
		return fmt.Sprintf("referrer %d", s.ReferrerID)
	case KindSubscriptionType:
		return fmt.Sprintf("subscription type %s", s.SubscriptionType)
	case KindTop:
		return fmt.Sprintf("top %d", s.Limit)
	default:
		return string(s.Kind)
	}
}

func snapshot[T any](ctx context.Context, r *Reporter, op string, fn func(context.Context, *store.Tx) (T, error)) (T, error) {
	return retry.Do(ctx, r.retry, func() (T, error) {
		var v T
		err := r.store.Snapshot(ctx, op, func(ctx context.Context, tx *store.Tx) error {
			var err error
			v, err = fn(ctx, tx)
			return err
		})
		return v, err
	})
}
