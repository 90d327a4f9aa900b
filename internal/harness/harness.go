package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/refledger/internal/apperr"
	"github.com/roach88/refledger/internal/clock"
	"github.com/roach88/refledger/internal/commission"
	"github.com/roach88/refledger/internal/model"
	"github.com/roach88/refledger/internal/money"
	"github.com/roach88/refledger/internal/payment"
	"github.com/roach88/refledger/internal/referral"
	"github.com/roach88/refledger/internal/registry"
	"github.com/roach88/refledger/internal/store"
	"github.com/roach88/refledger/internal/testutil"
)

// Epoch is the frozen start time of every scenario.
var Epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// statusError marks a trace event whose operation returned an error.
const statusError = "error"

// Harness wires the ledger components over a private in-memory store.
type Harness struct {
	store    *store.Store
	clock    *clock.Manual
	registry *registry.Registry
	resolver *referral.Resolver
	ledger   *commission.Ledger
	payments *payment.Service
}

// Run executes a scenario in a fresh in-memory database and returns the
// result. The returned error is non-nil only if the scenario could not be
// executed at all; expectation mismatches are reported in Result.
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	h, err := newHarness(scenario)
	if err != nil {
		return nil, err
	}
	defer h.store.Close()

	result := NewResult()
	for i, step := range scenario.Setup {
		ev := result.addTrace(h.execute(ctx, step))
		if ev.Status == statusError {
			return nil, fmt.Errorf("setup[%d] %s failed: %s", i, step.Action, ev.Error)
		}
	}

	for i, step := range scenario.Flow {
		ev := result.addTrace(h.execute(ctx, step))
		if msg := checkExpect(step.Expect, ev); msg != "" {
			result.AddError(fmt.Sprintf("flow[%d] %s: %s", i, step.Action, msg))
		}
	}

	for i, a := range scenario.Assertions {
		if err := h.assert(ctx, a); err != nil {
			result.AddError(fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return result, nil
}

func newHarness(scenario *Scenario) (*Harness, error) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st, err := store.Open(":memory:", store.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}

	var rate money.Rate
	if scenario.CommissionRate != "" {
		rate, err = money.ParseRate(scenario.CommissionRate)
		if err != nil {
			st.Close()
			return nil, err
		}
	}

	clk := clock.NewManual(Epoch)
	h := &Harness{store: st, clock: clk}
	h.registry = registry.New(st, registry.Options{
		Codes:  testutil.NewScriptedCodes(scenario.Codes...),
		Clock:  clk,
		Logger: logger,
	})
	h.resolver = referral.New(st, referral.Options{IDs: testutil.NewSequenceIDs("ref"), Clock: clk, Logger: logger})
	h.ledger = commission.New(st, commission.Options{Rate: rate, IDs: testutil.NewSequenceIDs("earn"), Clock: clk, Logger: logger})
	h.payments = payment.New(st, h.resolver, h.ledger, payment.Options{Clock: clk, Logger: logger})
	return h, nil
}

// execute runs one step and describes its outcome.
func (h *Harness) execute(ctx context.Context, step Step) TraceEvent {
	ev := TraceEvent{Action: step.Action, Args: step.Args}
	status, result, err := h.dispatch(ctx, step.Action, step.Args)
	if err != nil {
		ev.Status = statusError
		ev.Error = string(apperr.CodeOf(err))
		if ev.Error == "" {
			ev.Error = err.Error()
		}
		return ev
	}
	ev.Status = status
	if len(result) > 0 {
		ev.Result = result
	}
	return ev
}

func (h *Harness) dispatch(ctx context.Context, action string, args map[string]any) (string, map[string]any, error) {
	a := argReader(args)
	switch action {
	case ActionRegister:
		id, err := a.integer("id")
		if err != nil {
			return "", nil, err
		}
		u, created, err := h.registry.GetOrCreate(ctx, model.Identity{
			ID:        model.UserID(id),
			Username:  a.str("username"),
			FirstName: a.str("first_name"),
			LastName:  a.str("last_name"),
		})
		if err != nil {
			return "", nil, err
		}
		status := "existing"
		if created {
			status = "created"
		}
		return status, map[string]any{"id": int64(u.ID), "referral_code": u.ReferralCode}, nil

	case ActionRefer:
		user, err := a.integer("user")
		if err != nil {
			return "", nil, err
		}
		att, err := h.resolver.AttributeReferral(ctx, a.str("ref"), model.UserID(user))
		if err != nil {
			return "", nil, err
		}
		out := map[string]any{}
		if att.ReferrerID != 0 {
			out["referrer_id"] = int64(att.ReferrerID)
		}
		return string(att.Status), out, nil

	case ActionResolve:
		user, err := a.integer("user")
		if err != nil {
			return "", nil, err
		}
		res, err := h.resolver.ResolvePending(ctx, model.UserID(user))
		if err != nil {
			return "", nil, err
		}
		out := map[string]any{}
		if res.Referral != nil {
			out["referrer_id"] = int64(res.Referral.ReferrerID)
		}
		return string(res.Status), out, nil

	case ActionPay:
		admin := int64(1)
		if _, ok := args["admin"]; ok {
			var err error
			if admin, err = a.integer("admin"); err != nil {
				return "", nil, err
			}
		}
		res, err := h.payments.RecordPayment(ctx, payment.Event{
			Subject:          a.str("subject"),
			SubscriptionType: a.strOr("subscription_type", "basic"),
			Amount:           a.str("amount"),
			PaymentMethod:    a.strOr("payment_method", "TON"),
			AdminID:          model.UserID(admin),
			LinkID:           a.str("link"),
		})
		if err != nil {
			return "", nil, err
		}
		out := map[string]any{}
		if res.ReferrerFound {
			out["referrer_id"] = int64(res.ReferrerID)
			out["commission"] = res.Commission.String()
		}
		switch {
		case res.Duplicate:
			return "duplicate", out, nil
		case res.ReferrerFound:
			return "credited", out, nil
		default:
			return "no_referrer", out, nil
		}

	case ActionGC:
		var maxAge time.Duration
		if s := a.str("max_age"); s != "" {
			var err error
			if maxAge, err = time.ParseDuration(s); err != nil {
				return "", nil, apperr.Invalid("gc", "max_age: %v", err)
			}
		}
		n, err := h.resolver.GarbageCollect(ctx, maxAge)
		if err != nil {
			return "", nil, err
		}
		return "ok", map[string]any{"deleted": int64(n)}, nil

	case ActionAdvance:
		d, err := time.ParseDuration(a.str("by"))
		if err != nil {
			return "", nil, apperr.Invalid("advance", "by: %v", err)
		}
		h.clock.Advance(d)
		return "ok", nil, nil
	}
	return "", nil, apperr.Invalid("dispatch", "unknown action %q", action)
}

// checkExpect compares an executed step against its expectation.
// Returns an empty string on match.
func checkExpect(exp *Expect, ev TraceEvent) string {
	if exp == nil {
		if ev.Status == statusError {
			return fmt.Sprintf("unexpected error %s", ev.Error)
		}
		return ""
	}
	if exp.Status != ev.Status {
		return fmt.Sprintf("status = %q, expected %q (error %s)", ev.Status, exp.Status, ev.Error)
	}
	if exp.Error != "" && exp.Error != ev.Error {
		return fmt.Sprintf("error = %q, expected %q", ev.Error, exp.Error)
	}
	if diff := subsetDiff(exp.Result, ev.Result); diff != "" {
		return diff
	}
	return ""
}

// subsetDiff reports the first key of expected whose value differs in
// actual. Values are compared by their printed form so YAML ints match
// int64 results.
func subsetDiff(expected, actual map[string]any) string {
	keys := make([]string, 0, len(expected))
	for k := range expected {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		got, ok := actual[k]
		if !ok {
			return fmt.Sprintf("result.%s missing, expected %v", k, expected[k])
		}
		if fmt.Sprint(got) != fmt.Sprint(expected[k]) {
			return fmt.Sprintf("result.%s = %v, expected %v", k, got, expected[k])
		}
	}
	return ""
}

type argReader map[string]any

func (a argReader) str(key string) string {
	v, ok := a[key]
	if !ok || v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

func (a argReader) strOr(key, fallback string) string {
	if s := a.str(key); s != "" {
		return s
	}
	return fallback
}

func (a argReader) integer(key string) (int64, error) {
	switch v := a[key].(type) {
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, apperr.Invalid("read args", "%s: %v", key, err)
		}
		return n, nil
	case nil:
		return 0, apperr.Invalid("read args", "%s is required", key)
	default:
		return 0, apperr.Invalid("read args", "%s: unsupported type %T", key, v)
	}
}
