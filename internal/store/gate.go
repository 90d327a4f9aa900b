package store

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/refledger/internal/apperr"
)

// TxFunc is the body of a gated operation. It must not perform network
// or user-facing I/O; it only talks to the store through tx.
type TxFunc func(ctx context.Context, tx *Tx) error

// Atomic runs fn as one logically atomic unit: it acquires the gate,
// begins a transaction, runs fn, and commits. Any error from fn rolls the
// transaction back. The gate is released on every exit path.
//
// If ctx is done before the gate is acquired, Atomic returns ctx's error
// without touching the store.
func (s *Store) Atomic(ctx context.Context, op string, fn TxFunc) error {
	return s.run(ctx, op, true, fn)
}

// Snapshot runs fn inside a gated transaction that is always rolled back.
// Readers see only fully committed writes.
func (s *Store) Snapshot(ctx context.Context, op string, fn TxFunc) error {
	return s.run(ctx, op, false, fn)
}

func (s *Store) run(ctx context.Context, op string, commit bool, fn TxFunc) (err error) {
	release, err := s.acquire(ctx, op)
	if err != nil {
		return err
	}
	defer release()

	defer func() {
		result := "ok"
		if err != nil {
			result = "error"
			if code := apperr.CodeOf(err); code != "" {
				s.metrics.StoreErrors.WithLabelValues(string(code)).Inc()
			}
		}
		s.metrics.GateOps.WithLabelValues(op, result).Inc()
	}()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(op+": begin tx", err)
	}
	defer sqlTx.Rollback() // No-op if committed

	if err := fn(ctx, &Tx{tx: sqlTx}); err != nil {
		return err
	}

	if !commit {
		return nil
	}
	if err := sqlTx.Commit(); err != nil {
		return classify(op+": commit", err)
	}
	return nil
}

// acquire waits for the gate and returns its release func.
func (s *Store) acquire(ctx context.Context, op string) (func(), error) {
	start := time.Now()
	if err := s.gate.Acquire(ctx, 1); err != nil {
		s.logger.Debug("gate wait abandoned", "op", op, "error", err)
		return nil, fmt.Errorf("%s: wait for gate: %w", op, err)
	}
	waited := time.Since(start)
	s.metrics.GateWait.Observe(waited.Seconds())
	if waited > time.Second {
		s.logger.Warn("slow gate acquisition", "op", op, "waited", waited)
	}
	return func() { s.gate.Release(1) }, nil
}
