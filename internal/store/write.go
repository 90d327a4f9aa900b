package store

import (
	"context"
	"database/sql"

	"github.com/roach88/refledger/internal/model"
)

// Tx is a transaction handed to gated operations. It exposes typed
// methods only; rows never leave the store as positional tuples.
type Tx struct {
	tx *sql.Tx
}

// InsertUser inserts a new user. A duplicate id or referral code is
// returned as CONSTRAINT_VIOLATION.
func (t *Tx) InsertUser(ctx context.Context, u model.User) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO users
		(id, username, first_name, last_name, referral_code, registered_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		int64(u.ID),
		u.Username,
		u.FirstName,
		u.LastName,
		u.ReferralCode,
		u.RegisteredAt.UnixMilli(),
	)
	return classify("insert user", err)
}

// UpdateProfile refreshes display-name fields. The referral code is never
// touched.
func (t *Tx) UpdateProfile(ctx context.Context, id model.UserID, username, firstName, lastName string) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE users SET username = ?, first_name = ?, last_name = ?
		WHERE id = ?
	`, username, firstName, lastName, int64(id))
	return classify("update profile", err)
}

// InsertReferral inserts an edge. Uniqueness of (referrer, referred) and of
// referred alone is enforced by the schema; a conflict is returned as
// CONSTRAINT_VIOLATION and leaves the transaction usable.
func (t *Tx) InsertReferral(ctx context.Context, r model.Referral) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO referrals
		(id, referrer_id, referred_id, created_at)
		VALUES (?, ?, ?, ?)
	`,
		r.ID,
		int64(r.ReferrerID),
		int64(r.ReferredID),
		r.CreatedAt.UnixMilli(),
	)
	return classify("insert referral", err)
}

// UpsertPending writes the pending referral for p.UserID, replacing any
// earlier unresolved one.
func (t *Tx) UpsertPending(ctx context.Context, p model.PendingReferral) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO pending_referrals
		(user_id, referrer_id, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			referrer_id = excluded.referrer_id,
			created_at = excluded.created_at
	`,
		int64(p.UserID),
		int64(p.ReferrerID),
		p.CreatedAt.UnixMilli(),
	)
	return classify("upsert pending referral", err)
}

// DeletePending removes the pending referral for userID.
// Returns whether a row existed.
func (t *Tx) DeletePending(ctx context.Context, userID model.UserID) (bool, error) {
	result, err := t.tx.ExecContext(ctx, `
		DELETE FROM pending_referrals WHERE user_id = ?
	`, int64(userID))
	if err != nil {
		return false, classify("delete pending referral", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, classify("delete pending referral: rows affected", err)
	}
	return n > 0, nil
}

// DeletePendingBefore removes pending referrals created strictly before
// cutoffMillis. Returns the number of rows deleted.
func (t *Tx) DeletePendingBefore(ctx context.Context, cutoffMillis int64) (int64, error) {
	result, err := t.tx.ExecContext(ctx, `
		DELETE FROM pending_referrals WHERE created_at < ?
	`, cutoffMillis)
	if err != nil {
		return 0, classify("expire pending referrals", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, classify("expire pending referrals: rows affected", err)
	}
	return n, nil
}

// InsertConfirmation appends to the admin confirmation log.
// Uses ON CONFLICT(link_id) DO NOTHING; inserted is false when the link id
// was already confirmed.
func (t *Tx) InsertConfirmation(ctx context.Context, c model.Confirmation) (inserted bool, err error) {
	result, err := t.tx.ExecContext(ctx, `
		INSERT INTO confirmations
		(link_id, admin_id, subscription_type, subject, subject_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(link_id) DO NOTHING
	`,
		c.LinkID,
		int64(c.AdminID),
		c.SubscriptionType,
		c.Subject,
		int64(c.SubjectID),
		c.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return false, classify("insert confirmation", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, classify("insert confirmation: rows affected", err)
	}
	return n > 0, nil
}

// InsertEarning appends one commission row. The referrer->referred edge
// must exist (foreign key).
func (t *Tx) InsertEarning(ctx context.Context, e model.CommissionEarning) error {
	var confirmation any
	if e.ConfirmationID != "" {
		confirmation = e.ConfirmationID
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO commission_earnings
		(id, referrer_id, referred_id, amount_minor, subscription_type, payment_method, confirmation_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID,
		int64(e.ReferrerID),
		int64(e.ReferredID),
		e.Amount.Minor(),
		e.SubscriptionType,
		e.PaymentMethod,
		confirmation,
		e.CreatedAt.UnixMilli(),
	)
	return classify("insert earning", err)
}
