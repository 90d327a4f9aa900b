package harness

import (
	"context"
	"fmt"
	"regexp"

	"github.com/roach88/refledger/internal/apperr"
	"github.com/roach88/refledger/internal/model"
	"github.com/roach88/refledger/internal/referral"
	"github.com/roach88/refledger/internal/store"
)

// validIdentifier matches valid SQL identifiers (table names).
// Only allows alphanumeric and underscore, must start with letter or underscore.
// This prevents SQL injection via identifier interpolation.
var validIdentifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// noReferrer is the referral assertion value for a user nobody referred.
const noReferrer = "none"

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	return fmt.Sprintf("%s: expected %s, actual %s", e.Type, e.Expected, e.Actual)
}

// assert evaluates one assertion against the final state.
func (h *Harness) assert(ctx context.Context, a Assertion) error {
	return h.store.Snapshot(ctx, "assert "+a.Type, func(ctx context.Context, tx *store.Tx) error {
		switch a.Type {
		case AssertAggregate:
			return assertAggregate(ctx, tx, a)
		case AssertReferral:
			return assertReferral(ctx, tx, a)
		case AssertPendingState:
			return assertPendingState(ctx, tx, a)
		case AssertRowCount:
			return assertRowCount(ctx, tx, a)
		}
		return fmt.Errorf("unknown assertion type %q", a.Type)
	})
}

func assertAggregate(ctx context.Context, tx *store.Tx, a Assertion) error {
	agg, err := tx.AggregateByReferrer(ctx, userID(a.Referrer))
	if err != nil {
		return err
	}
	actual := map[string]any{"count": agg.Count, "total": agg.Total.String()}
	if diff := subsetDiff(a.Expect, actual); diff != "" {
		return &AssertionError{
			Type:     AssertAggregate,
			Expected: fmt.Sprintf("%v for referrer %d", a.Expect, a.Referrer),
			Actual:   fmt.Sprintf("%v", actual),
		}
	}
	return nil
}

func assertReferral(ctx context.Context, tx *store.Tx, a Assertion) error {
	actual := map[string]any{"referrer_id": noReferrer}
	edge, err := tx.ReferralOf(ctx, userID(a.User))
	switch {
	case err == nil:
		actual["referrer_id"] = int64(edge.ReferrerID)
	case !apperr.IsNotFound(err):
		return err
	}
	if diff := subsetDiff(a.Expect, actual); diff != "" {
		return &AssertionError{
			Type:     AssertReferral,
			Expected: fmt.Sprintf("%v for user %d", a.Expect, a.User),
			Actual:   fmt.Sprintf("%v", actual),
		}
	}
	return nil
}

func assertPendingState(ctx context.Context, tx *store.Tx, a Assertion) error {
	state, err := referral.StateIn(ctx, tx, userID(a.User))
	if err != nil {
		return err
	}
	if string(state) != a.State {
		return &AssertionError{
			Type:     AssertPendingState,
			Expected: fmt.Sprintf("%s for user %d", a.State, a.User),
			Actual:   string(state),
		}
	}
	return nil
}

func assertRowCount(ctx context.Context, tx *store.Tx, a Assertion) error {
	if !validIdentifier.MatchString(a.Table) {
		return fmt.Errorf("invalid table name %q", a.Table)
	}
	n, err := tx.CountRows(ctx, a.Table)
	if err != nil {
		return err
	}
	if n != a.Count {
		return &AssertionError{
			Type:     AssertRowCount,
			Expected: fmt.Sprintf("%d rows in %s", a.Count, a.Table),
			Actual:   fmt.Sprintf("%d", n),
		}
	}
	return nil
}

func userID(id int64) model.UserID {
	return model.UserID(id)
}
