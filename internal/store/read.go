package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/roach88/refledger/internal/apperr"
	"github.com/roach88/refledger/internal/model"
	"github.com/roach88/refledger/internal/money"
)

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

const userColumns = `id, username, first_name, last_name, referral_code, registered_at`

// UserByID returns the user with the given id, or NOT_FOUND.
func (t *Tx) UserByID(ctx context.Context, id model.UserID) (model.User, error) {
	row := t.tx.QueryRowContext(ctx, `
		SELECT `+userColumns+` FROM users WHERE id = ?
	`, int64(id))
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.User{}, apperr.NotFound("read user", "user %d not found", id)
	}
	return u, classify("read user", err)
}

// UserByCode returns the user owning a referral code, or NOT_FOUND.
func (t *Tx) UserByCode(ctx context.Context, code string) (model.User, error) {
	row := t.tx.QueryRowContext(ctx, `
		SELECT `+userColumns+` FROM users WHERE referral_code = ?
	`, code)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.User{}, apperr.NotFound("read user by code", "no user with referral code %q", code)
	}
	return u, classify("read user by code", err)
}

// UserByUsername returns the user with a username, compared
// case-insensitively, or NOT_FOUND. Usernames are not unique: a handle
// held by two rows is INVALID_OPERATION rather than a guess.
func (t *Tx) UserByUsername(ctx context.Context, username string) (model.User, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT `+userColumns+` FROM users
		WHERE username = ? COLLATE NOCASE AND username <> ''
		ORDER BY id ASC
		LIMIT 2
	`, username)
	if err != nil {
		return model.User{}, classify("read user by username", err)
	}
	defer rows.Close()

	var matches []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return model.User{}, classify("read user by username", err)
		}
		matches = append(matches, u)
	}
	if err := rows.Err(); err != nil {
		return model.User{}, classify("read user by username", err)
	}

	switch len(matches) {
	case 0:
		return model.User{}, apperr.NotFound("read user by username", "no user @%s", username)
	case 1:
		return matches[0], nil
	}
	return model.User{}, apperr.Invalid("read user by username",
		"username @%s is ambiguous: held by users %d and %d", username, matches[0].ID, matches[1].ID)
}

// CodeExists reports whether a referral code is already assigned.
func (t *Tx) CodeExists(ctx context.Context, code string) (bool, error) {
	var count int
	err := t.tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM users WHERE referral_code = ?
	`, code).Scan(&count)
	if err != nil {
		return false, classify("check referral code", err)
	}
	return count > 0, nil
}

// ReferralBetween returns the edge referrer->referred, or NOT_FOUND.
func (t *Tx) ReferralBetween(ctx context.Context, referrer, referred model.UserID) (model.Referral, error) {
	row := t.tx.QueryRowContext(ctx, `
		SELECT id, referrer_id, referred_id, created_at
		FROM referrals
		WHERE referrer_id = ? AND referred_id = ?
	`, int64(referrer), int64(referred))
	r, err := scanReferral(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Referral{}, apperr.NotFound("read referral", "no referral %d -> %d", referrer, referred)
	}
	return r, classify("read referral", err)
}

// ReferralOf returns the edge that credits someone for referred, or
// NOT_FOUND if referred was not referred by anyone.
func (t *Tx) ReferralOf(ctx context.Context, referred model.UserID) (model.Referral, error) {
	row := t.tx.QueryRowContext(ctx, `
		SELECT id, referrer_id, referred_id, created_at
		FROM referrals
		WHERE referred_id = ?
	`, int64(referred))
	r, err := scanReferral(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Referral{}, apperr.NotFound("read referral", "user %d has no referrer", referred)
	}
	return r, classify("read referral", err)
}

// ReferralsBy returns edges created by referrer, oldest first.
func (t *Tx) ReferralsBy(ctx context.Context, referrer model.UserID) ([]model.Referral, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, referrer_id, referred_id, created_at
		FROM referrals
		WHERE referrer_id = ?
		ORDER BY created_at ASC, id COLLATE BINARY ASC
	`, int64(referrer))
	if err != nil {
		return nil, classify("query referrals", err)
	}
	defer rows.Close()

	referrals := []model.Referral{}
	for rows.Next() {
		r, err := scanReferral(rows)
		if err != nil {
			return nil, classify("scan referral", err)
		}
		referrals = append(referrals, r)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate referrals", err)
	}
	return referrals, nil
}

// PendingFor returns the pending referral for userID, or NOT_FOUND.
func (t *Tx) PendingFor(ctx context.Context, userID model.UserID) (model.PendingReferral, error) {
	var (
		p         model.PendingReferral
		user, ref int64
		created   int64
	)
	err := t.tx.QueryRowContext(ctx, `
		SELECT user_id, referrer_id, created_at
		FROM pending_referrals
		WHERE user_id = ?
	`, int64(userID)).Scan(&user, &ref, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return model.PendingReferral{}, apperr.NotFound("read pending referral", "no pending referral for user %d", userID)
	}
	if err != nil {
		return model.PendingReferral{}, classify("read pending referral", err)
	}
	p.UserID = model.UserID(user)
	p.ReferrerID = model.UserID(ref)
	p.CreatedAt = fromMillis(created)
	return p, nil
}

// countableTables lists the tables CountRows accepts.
var countableTables = map[string]bool{
	"users":               true,
	"referrals":           true,
	"pending_referrals":   true,
	"confirmations":       true,
	"commission_earnings": true,
}

// CountRows returns the number of rows in table, which must be one of the
// ledger tables.
func (t *Tx) CountRows(ctx context.Context, table string) (int, error) {
	if !countableTables[table] {
		return 0, apperr.Invalid("count rows", "unknown table %q", table)
	}
	var n int
	if err := t.tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
		return 0, classify("count rows", err)
	}
	return n, nil
}

// ConfirmationByLink returns a confirmation log entry, or NOT_FOUND.
func (t *Tx) ConfirmationByLink(ctx context.Context, linkID string) (model.Confirmation, error) {
	var (
		c       model.Confirmation
		admin   int64
		subject int64
		created int64
	)
	err := t.tx.QueryRowContext(ctx, `
		SELECT link_id, admin_id, subscription_type, subject, subject_id, created_at
		FROM confirmations
		WHERE link_id = ?
	`, linkID).Scan(&c.LinkID, &admin, &c.SubscriptionType, &c.Subject, &subject, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Confirmation{}, apperr.NotFound("read confirmation", "link %q not confirmed", linkID)
	}
	if err != nil {
		return model.Confirmation{}, classify("read confirmation", err)
	}
	c.AdminID = model.UserID(admin)
	c.SubjectID = model.UserID(subject)
	c.CreatedAt = fromMillis(created)
	return c, nil
}

// EarningByConfirmation returns the ledger row produced by a confirmation,
// or NOT_FOUND.
func (t *Tx) EarningByConfirmation(ctx context.Context, linkID string) (model.CommissionEarning, error) {
	row := t.tx.QueryRowContext(ctx, `
		SELECT `+earningColumns+` FROM commission_earnings
		WHERE confirmation_id = ?
	`, linkID)
	e, err := scanEarning(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.CommissionEarning{}, apperr.NotFound("read earning", "no earning for link %q", linkID)
	}
	return e, classify("read earning", err)
}

const earningColumns = `id, referrer_id, referred_id, amount_minor, subscription_type, payment_method, COALESCE(confirmation_id, ''), created_at`

// EarningsBy returns the latest ledger rows for referrer, newest first.
// limit <= 0 returns all rows.
func (t *Tx) EarningsBy(ctx context.Context, referrer model.UserID, limit int) ([]model.CommissionEarning, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := t.tx.QueryContext(ctx, `
		SELECT `+earningColumns+` FROM commission_earnings
		WHERE referrer_id = ?
		ORDER BY created_at DESC, id COLLATE BINARY DESC
		LIMIT ?
	`, int64(referrer), limit)
	if err != nil {
		return nil, classify("query earnings", err)
	}
	defer rows.Close()

	earnings := []model.CommissionEarning{}
	for rows.Next() {
		e, err := scanEarning(rows)
		if err != nil {
			return nil, classify("scan earning", err)
		}
		earnings = append(earnings, e)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate earnings", err)
	}
	return earnings, nil
}

// AggregateByReferrer sums the ledger rows credited to referrer.
func (t *Tx) AggregateByReferrer(ctx context.Context, referrer model.UserID) (model.Aggregate, error) {
	var count int
	var total int64
	err := t.tx.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(amount_minor), 0)
		FROM commission_earnings
		WHERE referrer_id = ?
	`, int64(referrer)).Scan(&count, &total)
	if err != nil {
		return model.Aggregate{}, classify("aggregate earnings", err)
	}
	return model.Aggregate{Count: count, Total: money.FromMinor(total)}, nil
}

// TopReferrers ranks referrers by ledger row count desc, then total desc,
// then referrer id asc. An empty subscriptionType means all types.
func (t *Tx) TopReferrers(ctx context.Context, limit int, subscriptionType string) ([]model.RankedReferrer, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := t.tx.QueryContext(ctx, `
		SELECT e.referrer_id, COALESCE(u.username, ''), COUNT(*) AS cnt, SUM(e.amount_minor) AS total
		FROM commission_earnings e
		LEFT JOIN users u ON u.id = e.referrer_id
		WHERE (? = '' OR e.subscription_type = ?)
		GROUP BY e.referrer_id
		ORDER BY cnt DESC, total DESC, e.referrer_id ASC
		LIMIT ?
	`, subscriptionType, subscriptionType, limit)
	if err != nil {
		return nil, classify("query top referrers", err)
	}
	defer rows.Close()

	ranked := []model.RankedReferrer{}
	for rows.Next() {
		var (
			r     model.RankedReferrer
			id    int64
			total int64
		)
		if err := rows.Scan(&id, &r.Username, &r.Count, &total); err != nil {
			return nil, classify("scan top referrer", err)
		}
		r.ReferrerID = model.UserID(id)
		r.Total = money.FromMinor(total)
		ranked = append(ranked, r)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate top referrers", err)
	}
	return ranked, nil
}

// BreakdownByType aggregates the ledger per subscription type, ordered by
// type name. A non-zero referrer restricts to that referrer's rows.
func (t *Tx) BreakdownByType(ctx context.Context, referrer model.UserID) ([]model.TypeBreakdown, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT subscription_type, COUNT(*), SUM(amount_minor)
		FROM commission_earnings
		WHERE (? = 0 OR referrer_id = ?)
		GROUP BY subscription_type
		ORDER BY subscription_type COLLATE BINARY ASC
	`, int64(referrer), int64(referrer))
	if err != nil {
		return nil, classify("query type breakdown", err)
	}
	defer rows.Close()

	out := []model.TypeBreakdown{}
	for rows.Next() {
		var (
			b     model.TypeBreakdown
			total int64
		)
		if err := rows.Scan(&b.SubscriptionType, &b.Count, &total); err != nil {
			return nil, classify("scan type breakdown", err)
		}
		b.Total = money.FromMinor(total)
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate type breakdown", err)
	}
	return out, nil
}

// Totals computes global counters in one pass over each table.
func (t *Tx) Totals(ctx context.Context) (model.Totals, error) {
	var (
		tot   model.Totals
		total int64
	)
	err := t.tx.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM users),
			(SELECT COUNT(*) FROM referrals),
			(SELECT COUNT(*) FROM pending_referrals),
			(SELECT COUNT(*) FROM commission_earnings),
			(SELECT COALESCE(SUM(amount_minor), 0) FROM commission_earnings),
			(SELECT COUNT(DISTINCT referrer_id) FROM referrals),
			(SELECT COUNT(DISTINCT referred_id) FROM commission_earnings)
	`).Scan(&tot.Users, &tot.Referrals, &tot.Pending, &tot.Earnings, &total, &tot.Referrers, &tot.PaidReferred)
	if err != nil {
		return model.Totals{}, classify("query totals", err)
	}
	tot.Commission = money.FromMinor(total)
	return tot, nil
}

func scanUser(row rowScanner) (model.User, error) {
	var (
		u          model.User
		id         int64
		registered int64
	)
	if err := row.Scan(&id, &u.Username, &u.FirstName, &u.LastName, &u.ReferralCode, &registered); err != nil {
		return model.User{}, err
	}
	u.ID = model.UserID(id)
	u.RegisteredAt = fromMillis(registered)
	return u, nil
}

func scanReferral(row rowScanner) (model.Referral, error) {
	var (
		r                  model.Referral
		referrer, referred int64
		created            int64
	)
	if err := row.Scan(&r.ID, &referrer, &referred, &created); err != nil {
		return model.Referral{}, err
	}
	r.ReferrerID = model.UserID(referrer)
	r.ReferredID = model.UserID(referred)
	r.CreatedAt = fromMillis(created)
	return r, nil
}

func scanEarning(row rowScanner) (model.CommissionEarning, error) {
	var (
		e                  model.CommissionEarning
		referrer, referred int64
		amount, created    int64
	)
	if err := row.Scan(&e.ID, &referrer, &referred, &amount, &e.SubscriptionType, &e.PaymentMethod, &e.ConfirmationID, &created); err != nil {
		return model.CommissionEarning{}, err
	}
	e.ReferrerID = model.UserID(referrer)
	e.ReferredID = model.UserID(referred)
	e.Amount = money.FromMinor(amount)
	e.CreatedAt = fromMillis(created)
	return e, nil
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
