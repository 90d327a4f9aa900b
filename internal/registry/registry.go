// Package registry creates and looks up user identities.
//
// Every user receives a fixed-length alphanumeric referral code when first
// seen. Codes are unique and never change.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/refledger/internal/apperr"
	"github.com/roach88/refledger/internal/clock"
	"github.com/roach88/refledger/internal/metrics"
	"github.com/roach88/refledger/internal/model"
	"github.com/roach88/refledger/internal/retry"
	"github.com/roach88/refledger/internal/store"
)

// Options configures a Registry. Zero values select defaults.
type Options struct {
	Codes        CodeGenerator
	CodeLength   int
	CodeAttempts int
	Clock        clock.Clock
	Logger       *slog.Logger
	Retry        retry.Policy
}

// Registry is the User Registry.
type Registry struct {
	store    *store.Store
	codes    CodeGenerator
	length   int
	attempts int
	clock    clock.Clock
	logger   *slog.Logger
	metrics  *metrics.Metrics
	retry    retry.Policy
	validate *validator.Validate
}

// New creates a Registry backed by st.
func New(st *store.Store, opts Options) *Registry {
	r := &Registry{
		store:    st,
		codes:    opts.Codes,
		length:   opts.CodeLength,
		attempts: opts.CodeAttempts,
		clock:    clock.OrSystem(opts.Clock),
		logger:   opts.Logger,
		metrics:  st.Metrics(),
		retry:    opts.Retry,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
	if r.codes == nil {
		r.codes = RandomCodes{}
	}
	if r.length <= 0 {
		r.length = DefaultCodeLength
	}
	if r.attempts <= 0 {
		r.attempts = DefaultCodeAttempts
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.retry.Metrics == nil {
		r.retry.Metrics = r.metrics
	}
	return r
}

// GetOrCreate returns the user for ident.ID, creating it with a fresh
// referral code on first contact. created reports whether a row was
// inserted. An existing user's display fields are refreshed from ident,
// since handles change between interactions; the referral code never does.
func (r *Registry) GetOrCreate(ctx context.Context, ident model.Identity) (user model.User, created bool, err error) {
	ident, err = r.normalize(ident)
	if err != nil {
		return model.User{}, false, err
	}

	err = retry.Run(ctx, r.retry, func() error {
		return r.store.Atomic(ctx, "get or create user", func(ctx context.Context, tx *store.Tx) error {
			var err error
			user, created, err = r.GetOrCreateIn(ctx, tx, ident)
			return err
		})
	})
	if err != nil {
		return model.User{}, false, err
	}

	if created {
		r.metrics.UsersCreated.Inc()
		r.logger.Info("user registered",
			"user_id", user.ID,
			"referral_code", user.ReferralCode,
		)
	}
	return user, created, nil
}

// GetOrCreateIn is GetOrCreate inside an already gated transaction.
// ident must already be normalized.
func (r *Registry) GetOrCreateIn(ctx context.Context, tx *store.Tx, ident model.Identity) (model.User, bool, error) {
	existing, err := tx.UserByID(ctx, ident.ID)
	if err == nil {
		if sameProfile(existing, ident) {
			return existing, false, nil
		}
		if err := tx.UpdateProfile(ctx, ident.ID, ident.Username, ident.FirstName, ident.LastName); err != nil {
			return model.User{}, false, err
		}
		r.logger.Debug("profile refreshed", "user_id", ident.ID, "username", ident.Username)
		existing.Username = ident.Username
		existing.FirstName = ident.FirstName
		existing.LastName = ident.LastName
		return existing, false, nil
	}
	if !apperr.IsNotFound(err) {
		return model.User{}, false, err
	}

	for attempt := 1; attempt <= r.attempts; attempt++ {
		code, err := r.codes.Generate(r.length)
		if err != nil {
			return model.User{}, false, err
		}

		taken, err := tx.CodeExists(ctx, code)
		if err != nil {
			return model.User{}, false, err
		}
		if taken {
			r.metrics.CodeCollisions.Inc()
			r.logger.Debug("referral code collision", "user_id", ident.ID, "attempt", attempt)
			continue
		}

		user := model.User{
			ID:           ident.ID,
			Username:     ident.Username,
			FirstName:    ident.FirstName,
			LastName:     ident.LastName,
			ReferralCode: code,
			RegisteredAt: r.clock.Now(),
		}
		err = tx.InsertUser(ctx, user)
		if err == nil {
			return user, true, nil
		}
		if !apperr.IsConstraint(err) {
			return model.User{}, false, err
		}

		// Lost a race outside this process: either the id or the code
		// appeared since we checked.
		if existing, lookupErr := tx.UserByID(ctx, ident.ID); lookupErr == nil {
			return existing, false, nil
		}
		r.metrics.CodeCollisions.Inc()
	}

	return model.User{}, false, apperr.Constraint("allocate referral code",
		fmt.Errorf("no unique code after %d attempts", r.attempts))
}

func sameProfile(u model.User, ident model.Identity) bool {
	return u.Username == ident.Username && u.FirstName == ident.FirstName && u.LastName == ident.LastName
}

// Get returns a user by id.
func (r *Registry) Get(ctx context.Context, id model.UserID) (model.User, error) {
	return r.read(ctx, "get user", func(ctx context.Context, tx *store.Tx) (model.User, error) {
		return tx.UserByID(ctx, id)
	})
}

// LookupByCode returns the id of the user owning code.
// Codes are matched case-insensitively. A code that could never have been
// issued is NOT_FOUND without a store round trip.
func (r *Registry) LookupByCode(ctx context.Context, code string) (model.UserID, error) {
	code = NormalizeCode(code)
	if code == "" {
		return 0, apperr.NotFound("lookup code", "empty referral code")
	}
	if !ValidCode(code, r.length) {
		return 0, apperr.NotFound("lookup code", "malformed referral code %q", code)
	}
	u, err := r.read(ctx, "lookup code", func(ctx context.Context, tx *store.Tx) (model.User, error) {
		return tx.UserByCode(ctx, code)
	})
	if err != nil {
		return 0, err
	}
	return u.ID, nil
}

// LookupByUsername returns the user with username, with or without a
// leading "@", compared case-insensitively.
func (r *Registry) LookupByUsername(ctx context.Context, username string) (model.User, error) {
	username = strings.TrimPrefix(strings.TrimSpace(username), "@")
	if username == "" {
		return model.User{}, apperr.NotFound("lookup username", "empty username")
	}
	return r.read(ctx, "lookup username", func(ctx context.Context, tx *store.Tx) (model.User, error) {
		return tx.UserByUsername(ctx, username)
	})
}

// UpdateProfile refreshes the display-name fields of an existing user.
func (r *Registry) UpdateProfile(ctx context.Context, ident model.Identity) (model.User, error) {
	ident, err := r.normalize(ident)
	if err != nil {
		return model.User{}, err
	}

	var user model.User
	err = retry.Run(ctx, r.retry, func() error {
		return r.store.Atomic(ctx, "update profile", func(ctx context.Context, tx *store.Tx) error {
			if _, err := tx.UserByID(ctx, ident.ID); err != nil {
				return err
			}
			if err := tx.UpdateProfile(ctx, ident.ID, ident.Username, ident.FirstName, ident.LastName); err != nil {
				return err
			}
			var err error
			user, err = tx.UserByID(ctx, ident.ID)
			return err
		})
	})
	return user, err
}

// normalize validates ident and canonicalizes its display fields:
// NFC, trimmed, username without a leading "@".
func (r *Registry) normalize(ident model.Identity) (model.Identity, error) {
	ident.Username = strings.TrimPrefix(clean(ident.Username), "@")
	ident.FirstName = clean(ident.FirstName)
	ident.LastName = clean(ident.LastName)

	if err := r.validate.Struct(ident); err != nil {
		return model.Identity{}, apperr.Invalid("validate identity", "%v", err)
	}
	return ident, nil
}

func (r *Registry) read(ctx context.Context, op string, fn func(context.Context, *store.Tx) (model.User, error)) (model.User, error) {
	return retry.Do(ctx, r.retry, func() (model.User, error) {
		var u model.User
		err := r.store.Snapshot(ctx, op, func(ctx context.Context, tx *store.Tx) error {
			var err error
			u, err = fn(ctx, tx)
			return err
		})
		return u, err
	})
}

func clean(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}
