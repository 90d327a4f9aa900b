// Package referral attributes referrer -> referred edges and manages
// pending referrals that cannot be attributed yet.
//
// Edges are only created inside the store's gate, after an existence check
// in the same transaction. A uniqueness conflict on insert is reconfirmed
// and reported as StatusExists, never as an error.
package referral

import (
	"context"
	"log/slog"
	"time"

	"github.com/roach88/refledger/internal/apperr"
	"github.com/roach88/refledger/internal/clock"
	"github.com/roach88/refledger/internal/metrics"
	"github.com/roach88/refledger/internal/model"
	"github.com/roach88/refledger/internal/retry"
	"github.com/roach88/refledger/internal/store"
)

// DefaultRetention is how long an unresolved pending referral is kept.
const DefaultRetention = 7 * 24 * time.Hour

// Status is the outcome of AttributeReferral.
type Status string

const (
	// StatusCreated means the edge was written by this call.
	StatusCreated Status = "created"
	// StatusExists means the identical edge was already present.
	StatusExists Status = "exists"
	// StatusPending means the referral was parked as a PendingReferral.
	StatusPending Status = "pending"
	// StatusSelfReferral means the user tried to refer themselves.
	StatusSelfReferral Status = "self_referral"
	// StatusAlreadyReferred means the user is credited to another referrer.
	StatusAlreadyReferred Status = "already_referred"
	// StatusNotFound means the code matches no user and carries no id.
	StatusNotFound Status = "not_found"
)

// Attribution is the result of AttributeReferral.
type Attribution struct {
	Status     Status                 `json:"status"`
	ReferrerID model.UserID           `json:"referrer_id,omitempty"`
	Referral   *model.Referral        `json:"referral,omitempty"`
	Pending    *model.PendingReferral `json:"pending,omitempty"`
}

// Credited reports whether an edge for the pair exists after the call.
func (a Attribution) Credited() bool {
	return a.Status == StatusCreated || a.Status == StatusExists
}

// ResolutionStatus is the outcome of ResolvePending.
type ResolutionStatus string

const (
	// ResolutionResolved means the pending row became an edge.
	ResolutionResolved ResolutionStatus = "resolved"
	// ResolutionAlreadyResolved means an edge existed; the row was dropped.
	ResolutionAlreadyResolved ResolutionStatus = "already_resolved"
	// ResolutionNotFound means there was no pending row.
	ResolutionNotFound ResolutionStatus = "not_found"
	// ResolutionUnresolvable means the referrer or user is still missing.
	ResolutionUnresolvable ResolutionStatus = "unresolvable"
)

// Resolution is the result of ResolvePending.
type Resolution struct {
	Status   ResolutionStatus `json:"status"`
	Referral *model.Referral  `json:"referral,omitempty"`
}

// Options configures a Resolver. Zero values select defaults.
type Options struct {
	IDs       model.IDGenerator
	Clock     clock.Clock
	Logger    *slog.Logger
	Retry     retry.Policy
	Retention time.Duration
}

// Resolver is the Referral Resolver.
type Resolver struct {
	store     *store.Store
	ids       model.IDGenerator
	clock     clock.Clock
	logger    *slog.Logger
	metrics   *metrics.Metrics
	retry     retry.Policy
	retention time.Duration
}

// New creates a Resolver backed by st.
func New(st *store.Store, opts Options) *Resolver {
	r := &Resolver{
		store:     st,
		ids:       opts.IDs,
		clock:     clock.OrSystem(opts.Clock),
		logger:    opts.Logger,
		metrics:   st.Metrics(),
		retry:     opts.Retry,
		retention: opts.Retention,
	}
	if r.ids == nil {
		r.ids = model.UUIDv7Generator{}
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.retention <= 0 {
		r.retention = DefaultRetention
	}
	if r.retry.Metrics == nil {
		r.retry.Metrics = r.metrics
	}
	return r
}

// AttributeReferral credits newUser to the referrer named by referrerRef
// (a referral code, "ref_<id>", or a bare id). See Status for outcomes.
// Only store failures are returned as errors.
func (r *Resolver) AttributeReferral(ctx context.Context, referrerRef string, newUser model.UserID) (Attribution, error) {
	ref, err := ParseRef(referrerRef)
	if err != nil {
		r.metrics.Attributions.WithLabelValues(string(StatusNotFound)).Inc()
		return Attribution{Status: StatusNotFound}, nil
	}

	a, err := retry.Do(ctx, r.retry, func() (Attribution, error) {
		var a Attribution
		err := r.store.Atomic(ctx, "attribute referral", func(ctx context.Context, tx *store.Tx) error {
			var err error
			a, err = r.AttributeIn(ctx, tx, ref, newUser)
			return err
		})
		return a, err
	})
	if err != nil {
		return Attribution{}, err
	}

	r.metrics.Attributions.WithLabelValues(string(a.Status)).Inc()
	r.logger.Info("referral attributed",
		"status", a.Status,
		"referrer_id", a.ReferrerID,
		"user_id", newUser,
		"ref", ref.String(),
	)
	return a, nil
}

// AttributeIn is AttributeReferral inside an already gated transaction.
func (r *Resolver) AttributeIn(ctx context.Context, tx *store.Tx, ref Ref, newUser model.UserID) (Attribution, error) {
	referrerID, resolvable, err := r.resolveRef(ctx, tx, ref)
	if err != nil {
		return Attribution{}, err
	}
	if referrerID == 0 {
		return Attribution{Status: StatusNotFound}, nil
	}
	if referrerID == newUser {
		return Attribution{Status: StatusSelfReferral, ReferrerID: referrerID}, nil
	}

	if existing, err := tx.ReferralOf(ctx, newUser); err == nil {
		return existingOutcome(existing, referrerID), nil
	} else if !apperr.IsNotFound(err) {
		return Attribution{}, err
	}

	referredExists, err := userExists(ctx, tx, newUser)
	if err != nil {
		return Attribution{}, err
	}

	if resolvable && referredExists {
		return r.createEdge(ctx, tx, referrerID, newUser)
	}

	p := model.PendingReferral{
		UserID:     newUser,
		ReferrerID: referrerID,
		CreatedAt:  r.clock.Now(),
	}
	if err := tx.UpsertPending(ctx, p); err != nil {
		return Attribution{}, err
	}
	return Attribution{Status: StatusPending, ReferrerID: referrerID, Pending: &p}, nil
}

// ResolvePending turns the pending referral of userID into an edge if the
// referrer is now valid. Safe to call any number of times.
func (r *Resolver) ResolvePending(ctx context.Context, userID model.UserID) (Resolution, error) {
	res, err := retry.Do(ctx, r.retry, func() (Resolution, error) {
		var res Resolution
		err := r.store.Atomic(ctx, "resolve pending referral", func(ctx context.Context, tx *store.Tx) error {
			var err error
			res, err = r.ResolvePendingIn(ctx, tx, userID)
			return err
		})
		return res, err
	})
	if err != nil {
		return Resolution{}, err
	}

	r.metrics.PendingResolved.WithLabelValues(string(res.Status)).Inc()
	if res.Status == ResolutionResolved {
		r.logger.Info("pending referral resolved",
			"user_id", userID,
			"referrer_id", res.Referral.ReferrerID,
		)
	} else {
		r.logger.Debug("pending referral not resolved", "user_id", userID, "status", res.Status)
	}
	return res, nil
}

// ResolvePendingIn is ResolvePending inside an already gated transaction.
func (r *Resolver) ResolvePendingIn(ctx context.Context, tx *store.Tx, userID model.UserID) (Resolution, error) {
	p, err := tx.PendingFor(ctx, userID)
	if apperr.IsNotFound(err) {
		return Resolution{Status: ResolutionNotFound}, nil
	}
	if err != nil {
		return Resolution{}, err
	}

	if existing, err := tx.ReferralOf(ctx, userID); err == nil {
		if _, err := tx.DeletePending(ctx, userID); err != nil {
			return Resolution{}, err
		}
		return Resolution{Status: ResolutionAlreadyResolved, Referral: &existing}, nil
	} else if !apperr.IsNotFound(err) {
		return Resolution{}, err
	}

	for _, id := range []model.UserID{p.ReferrerID, userID} {
		ok, err := userExists(ctx, tx, id)
		if err != nil {
			return Resolution{}, err
		}
		if !ok {
			return Resolution{Status: ResolutionUnresolvable}, nil
		}
	}

	a, err := r.createEdge(ctx, tx, p.ReferrerID, userID)
	if err != nil {
		return Resolution{}, err
	}
	if a.Status != StatusCreated {
		return Resolution{Status: ResolutionAlreadyResolved, Referral: a.Referral}, nil
	}
	return Resolution{Status: ResolutionResolved, Referral: a.Referral}, nil
}

// GarbageCollect deletes pending referrals older than maxAge.
// maxAge <= 0 uses the configured retention.
func (r *Resolver) GarbageCollect(ctx context.Context, maxAge time.Duration) (int, error) {
	if maxAge <= 0 {
		maxAge = r.retention
	}
	cutoff := r.clock.Now().Add(-maxAge)

	n, err := retry.Do(ctx, r.retry, func() (int64, error) {
		var n int64
		err := r.store.Atomic(ctx, "expire pending referrals", func(ctx context.Context, tx *store.Tx) error {
			var err error
			n, err = tx.DeletePendingBefore(ctx, cutoff.UnixMilli())
			return err
		})
		return n, err
	})
	if err != nil {
		return 0, err
	}

	r.metrics.PendingExpired.Add(float64(n))
	r.logger.Info("pending referrals expired", "deleted", n, "cutoff", cutoff)
	return int(n), nil
}

// PendingFor returns the pending referral of userID, or NOT_FOUND.
func (r *Resolver) PendingFor(ctx context.Context, userID model.UserID) (model.PendingReferral, error) {
	var p model.PendingReferral
	err := r.store.Snapshot(ctx, "read pending referral", func(ctx context.Context, tx *store.Tx) error {
		var err error
		p, err = tx.PendingFor(ctx, userID)
		return err
	})
	return p, err
}

// State reports where userID sits in the pending referral lifecycle.
func (r *Resolver) State(ctx context.Context, userID model.UserID) (PendingState, error) {
	var state PendingState
	err := r.store.Snapshot(ctx, "read referral state", func(ctx context.Context, tx *store.Tx) error {
		var err error
		state, err = StateIn(ctx, tx, userID)
		return err
	})
	return state, err
}

// StateIn is State inside an open transaction.
func StateIn(ctx context.Context, tx *store.Tx, userID model.UserID) (PendingState, error) {
	if _, err := tx.ReferralOf(ctx, userID); err == nil {
		return StateResolved, nil
	} else if !apperr.IsNotFound(err) {
		return "", err
	}
	if _, err := tx.PendingFor(ctx, userID); err == nil {
		return StatePending, nil
	} else if !apperr.IsNotFound(err) {
		return "", err
	}
	return StateAbsent, nil
}

// createEdge inserts referrer -> referred and clears any pending row for
// referred. Both users must exist.
func (r *Resolver) createEdge(ctx context.Context, tx *store.Tx, referrer, referred model.UserID) (Attribution, error) {
	edge := model.Referral{
		ID:         r.ids.Generate(),
		ReferrerID: referrer,
		ReferredID: referred,
		CreatedAt:  r.clock.Now(),
	}

	err := tx.InsertReferral(ctx, edge)
	if apperr.IsConstraint(err) {
		existing, lookupErr := tx.ReferralOf(ctx, referred)
		if lookupErr != nil {
			return Attribution{}, err
		}
		return existingOutcome(existing, referrer), nil
	}
	if err != nil {
		return Attribution{}, err
	}

	if _, err := tx.DeletePending(ctx, referred); err != nil {
		return Attribution{}, err
	}
	return Attribution{Status: StatusCreated, ReferrerID: referrer, Referral: &edge}, nil
}

// existingOutcome classifies an edge that was already present for the
// referred user.
func existingOutcome(existing model.Referral, wanted model.UserID) Attribution {
	if existing.ReferrerID == wanted {
		return Attribution{Status: StatusExists, ReferrerID: wanted, Referral: &existing}
	}
	return Attribution{Status: StatusAlreadyReferred, ReferrerID: existing.ReferrerID, Referral: &existing}
}

// resolveRef finds the referrer id for ref. resolvable is false when only
// a raw id is known and no such user exists yet.
func (r *Resolver) resolveRef(ctx context.Context, tx *store.Tx, ref Ref) (id model.UserID, resolvable bool, err error) {
	if ref.Code != "" {
		u, err := tx.UserByCode(ctx, ref.Code)
		if err == nil {
			return u.ID, true, nil
		}
		if !apperr.IsNotFound(err) {
			return 0, false, err
		}
	}
	if ref.ID == 0 {
		return 0, false, nil
	}
	ok, err := userExists(ctx, tx, ref.ID)
	if err != nil {
		return 0, false, err
	}
	return ref.ID, ok, nil
}

func userExists(ctx context.Context, tx *store.Tx, id model.UserID) (bool, error) {
	_, err := tx.UserByID(ctx, id)
	if err == nil {
		return true, nil
	}
	if apperr.IsNotFound(err) {
		return false, nil
	}
	return false, err
}
