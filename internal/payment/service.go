// Package payment turns admin payment confirmations into commission
// earnings.
//
// A confirmation is identified by its link id. The confirmation log entry,
// any pending-referral resolution and the ledger row are written in one
// gated transaction, so a replayed link id never credits twice.
package payment

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/roach88/refledger/internal/apperr"
	"github.com/roach88/refledger/internal/clock"
	"github.com/roach88/refledger/internal/commission"
	"github.com/roach88/refledger/internal/metrics"
	"github.com/roach88/refledger/internal/model"
	"github.com/roach88/refledger/internal/money"
	"github.com/roach88/refledger/internal/referral"
	"github.com/roach88/refledger/internal/retry"
	"github.com/roach88/refledger/internal/store"
)

// Event is a payment confirmation submitted by an admin.
type Event struct {
	// Subject is the paying user: a numeric id or a username, with or
	// without a leading "@".
	Subject          string       `json:"subject" validate:"required,max=64"`
	SubscriptionType string       `json:"subscription_type" validate:"required,max=64"`
	Amount           string       `json:"amount" validate:"required,numeric"`
	PaymentMethod    string       `json:"payment_method" validate:"required,max=32"`
	AdminID          model.UserID `json:"admin_id" validate:"required,gt=0"`
	LinkID           string       `json:"link_id" validate:"required,max=128"`
}

// Result is the outcome of RecordPayment.
type Result struct {
	SubjectID     model.UserID `json:"subject_id"`
	ReferrerFound bool         `json:"referrer_found"`
	ReferrerID    model.UserID `json:"referrer_id,omitempty"`
	Commission    money.Amount `json:"commission"`
	EarningID     string       `json:"earning_id,omitempty"`
	Duplicate     bool         `json:"duplicate"`
}

// Confirmation outcomes, used as the metrics label.
const (
	outcomeCredited   = "credited"
	outcomeNoReferrer = "no_referrer"
	outcomeDuplicate  = "duplicate"
)

// Options configures a Service.
type Options struct {
	Clock  clock.Clock
	Logger *slog.Logger
	Retry  retry.Policy
}

// Service records payment confirmations.
type Service struct {
	store    *store.Store
	resolver *referral.Resolver
	ledger   *commission.Ledger
	clock    clock.Clock
	logger   *slog.Logger
	metrics  *metrics.Metrics
	retry    retry.Policy
	validate *validator.Validate
}

// New creates a Service. resolver and ledger must share st.
func New(st *store.Store, resolver *referral.Resolver, ledger *commission.Ledger, opts Options) *Service {
	s := &Service{
		store:    st,
		resolver: resolver,
		ledger:   ledger,
		clock:    clock.OrSystem(opts.Clock),
		logger:   opts.Logger,
		metrics:  st.Metrics(),
		retry:    opts.Retry,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.retry.Metrics == nil {
		s.retry.Metrics = s.metrics
	}
	return s
}

// RecordPayment applies a confirmed payment. It resolves any pending
// referral of the subject, then credits the subject's referrer, if any.
//
// A link id that was already confirmed returns Duplicate with the earlier
// outcome and subject and writes nothing. An unknown subject is NOT_FOUND and leaves
// no trace, so the admin can retry once the user exists.
func (s *Service) RecordPayment(ctx context.Context, ev Event) (Result, error) {
	ev.Subject = strings.TrimSpace(ev.Subject)
	ev.LinkID = strings.TrimSpace(ev.LinkID)
	if err := s.validate.Struct(ev); err != nil {
		return Result{}, apperr.Invalid("record payment", "%v", err)
	}
	amount, err := money.Parse(ev.Amount)
	if err != nil {
		return Result{}, apperr.Invalid("record payment", "%v", err)
	}
	if !amount.IsPositive() {
		return Result{}, apperr.Invalid("record payment", "amount must be positive, got %s", amount)
	}

	type outcome struct {
		result     Result
		recorded   commission.Recorded
		resolution referral.Resolution
	}
	out, err := retry.Do(ctx, s.retry, func() (outcome, error) {
		var out outcome
		err := s.store.Atomic(ctx, "record payment", func(ctx context.Context, tx *store.Tx) error {
			prior, err := tx.ConfirmationByLink(ctx, ev.LinkID)
			if err == nil {
				out.result, err = replayed(ctx, tx, prior)
				return err
			}
			if !apperr.IsNotFound(err) {
				return err
			}

			subject, err := resolveSubject(ctx, tx, ev.Subject)
			if err != nil {
				return err
			}
			inserted, err := tx.InsertConfirmation(ctx, model.Confirmation{
				LinkID:           ev.LinkID,
				AdminID:          ev.AdminID,
				SubscriptionType: ev.SubscriptionType,
				Subject:          ev.Subject,
				SubjectID:        subject.ID,
				CreatedAt:        s.clock.Now(),
			})
			if err != nil {
				return err
			}
			if !inserted {
				return apperr.Constraint("record payment",
					fmt.Errorf("link %q confirmed concurrently", ev.LinkID))
			}
			out.result.SubjectID = subject.ID

			out.resolution, err = s.resolver.ResolvePendingIn(ctx, tx, subject.ID)
			if err != nil {
				return err
			}

			edge, err := tx.ReferralOf(ctx, subject.ID)
			if apperr.IsNotFound(err) {
				return nil
			}
			if err != nil {
				return err
			}

			out.recorded, err = s.ledger.RecordEarningIn(ctx, tx, commission.Request{
				ReferrerID:       edge.ReferrerID,
				ReferredID:       subject.ID,
				Amount:           amount,
				SubscriptionType: ev.SubscriptionType,
				PaymentMethod:    ev.PaymentMethod,
				ConfirmationID:   ev.LinkID,
			})
			if err != nil {
				return err
			}
			out.result.ReferrerFound = true
			out.result.ReferrerID = edge.ReferrerID
			out.result.Commission = out.recorded.Commission
			out.result.EarningID = out.recorded.Earning.ID
			return nil
		})
		return out, err
	})
	if err != nil {
		s.logger.Error("payment confirmation failed",
			"link_id", ev.LinkID,
			"subject", ev.Subject,
			"error", err,
		)
		return Result{}, err
	}

	res := out.result
	switch {
	case res.Duplicate:
		s.metrics.Confirmations.WithLabelValues(outcomeDuplicate).Inc()
		s.logger.Warn("payment confirmation replayed", "link_id", ev.LinkID, "admin_id", ev.AdminID)
		return res, nil
	case res.ReferrerFound:
		s.metrics.Confirmations.WithLabelValues(outcomeCredited).Inc()
		s.ledger.Observe(out.recorded)
	default:
		s.metrics.Confirmations.WithLabelValues(outcomeNoReferrer).Inc()
	}
	if out.resolution.Status != "" {
		s.metrics.PendingResolved.WithLabelValues(string(out.resolution.Status)).Inc()
	}

	s.logger.Info("payment confirmed",
		"link_id", ev.LinkID,
		"admin_id", ev.AdminID,
		"subject_id", res.SubjectID,
		"referrer_found", res.ReferrerFound,
		"referrer_id", res.ReferrerID,
		"commission", res.Commission.String(),
		"pending", out.resolution.Status,
	)
	return res, nil
}

// replayed reports the outcome recorded for an already confirmed link id.
func replayed(ctx context.Context, tx *store.Tx, prior model.Confirmation) (Result, error) {
	res := Result{Duplicate: true, SubjectID: prior.SubjectID}
	e, err := tx.EarningByConfirmation(ctx, prior.LinkID)
	if apperr.IsNotFound(err) {
		return res, nil
	}
	if err != nil {
		return Result{}, err
	}
	res.ReferrerFound = true
	res.ReferrerID = e.ReferrerID
	res.Commission = e.Amount
	res.EarningID = e.ID
	return res, nil
}

// resolveSubject finds the paying user by id or username.
func resolveSubject(ctx context.Context, tx *store.Tx, subject string) (model.User, error) {
	name := strings.TrimPrefix(subject, "@")
	if id, err := strconv.ParseInt(name, 10, 64); err == nil && !strings.HasPrefix(subject, "@") {
		return tx.UserByID(ctx, model.UserID(id))
	}
	if name == "" {
		return model.User{}, apperr.NotFound("resolve subject", "empty subject")
	}
	return tx.UserByUsername(ctx, name)
}
