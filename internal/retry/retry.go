// Package retry re-runs an operation once after a transient store failure.
//
// Only STORE_UNAVAILABLE errors are retried. Every gated operation is
// atomic, so an aborted first attempt leaves no partial state behind.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/roach88/refledger/internal/apperr"
	"github.com/roach88/refledger/internal/metrics"
)

// DefaultBackoff is the pause before the single retry.
const DefaultBackoff = 50 * time.Millisecond

// Policy configures Do.
type Policy struct {
	// Backoff is the pause before retrying. Zero means DefaultBackoff.
	Backoff time.Duration

	// Metrics, if set, counts retries.
	Metrics *metrics.Metrics
}

// Do runs op, and runs it a second time if the first attempt failed with
// STORE_UNAVAILABLE. Any other error is returned immediately.
func Do[T any](ctx context.Context, p Policy, op func() (T, error)) (T, error) {
	wait := p.Backoff
	if wait <= 0 {
		wait = DefaultBackoff
	}

	attempt := 0
	v, err := backoff.Retry(ctx, func() (T, error) {
		attempt++
		if attempt > 1 && p.Metrics != nil {
			p.Metrics.Retries.Inc()
		}
		v, err := op()
		if err != nil && !apperr.IsUnavailable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(wait)),
		backoff.WithMaxTries(2),
	)
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Err
	}
	return v, err
}

// Run is Do for operations without a result.
func Run(ctx context.Context, p Policy, op func() error) error {
	_, err := Do(ctx, p, func() (struct{}, error) {
		return struct{}{}, op()
	})
	return err
}
