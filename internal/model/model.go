// Package model holds the typed records persisted by the store.
//
// Every entity has an explicit struct; rows are scanned by column name in
// the store and never passed around as positional tuples.
package model

import (
	"time"

	"github.com/roach88/refledger/internal/money"
)

// UserID is the stable external identity of a user (the chat user id).
type UserID int64

// User is created on first contact and never deleted.
// ReferralCode is assigned at creation and never changes.
type User struct {
	ID           UserID    `json:"id"`
	Username     string    `json:"username,omitempty"`
	FirstName    string    `json:"first_name,omitempty"`
	LastName     string    `json:"last_name,omitempty"`
	ReferralCode string    `json:"referral_code"`
	RegisteredAt time.Time `json:"registered_at"`
}

// DisplayName returns the best human label for the user.
func (u User) DisplayName() string {
	switch {
	case u.Username != "":
		return "@" + u.Username
	case u.FirstName != "" && u.LastName != "":
		return u.FirstName + " " + u.LastName
	case u.FirstName != "":
		return u.FirstName
	default:
		return ""
	}
}

// Identity is the tuple supplied by callers on every interaction.
type Identity struct {
	ID        UserID `validate:"required,gt=0"`
	Username  string `validate:"omitempty,max=64"`
	FirstName string `validate:"omitempty,max=128"`
	LastName  string `validate:"omitempty,max=128"`
}

// Referral is an immutable edge crediting ReferrerID for bringing in ReferredID.
type Referral struct {
	ID         string    `json:"id"`
	ReferrerID UserID    `json:"referrer_id"`
	ReferredID UserID    `json:"referred_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// PendingReferral records a referral observed before it could be attributed.
// At most one exists per UserID.
type PendingReferral struct {
	UserID     UserID    `json:"user_id"`
	ReferrerID UserID    `json:"referrer_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// CommissionEarning is one append-only ledger row.
type CommissionEarning struct {
	ID               string       `json:"id"`
	ReferrerID       UserID       `json:"referrer_id"`
	ReferredID       UserID       `json:"referred_id"`
	Amount           money.Amount `json:"amount"`
	SubscriptionType string       `json:"subscription_type"`
	PaymentMethod    string       `json:"payment_method"`
	ConfirmationID   string       `json:"confirmation_id,omitempty"`
	CreatedAt        time.Time    `json:"created_at"`
}

// Confirmation is one entry of the admin confirmation audit log.
// LinkID is unique and is the dedup key for payment confirmations.
type Confirmation struct {
	LinkID           string    `json:"link_id"`
	AdminID          UserID    `json:"admin_id"`
	SubscriptionType string    `json:"subscription_type"`
	Subject          string    `json:"subject"`
	SubjectID        UserID    `json:"subject_id"`
	CreatedAt        time.Time `json:"created_at"`
}
