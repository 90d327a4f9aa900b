package model

import "github.com/roach88/refledger/internal/money"

// Aggregate is a count and sum over commission ledger rows.
type Aggregate struct {
	Count int          `json:"count"`
	Total money.Amount `json:"total"`
}

// RankedReferrer is one row of a top-referrers ranking.
type RankedReferrer struct {
	ReferrerID UserID       `json:"referrer_id"`
	Username   string       `json:"username,omitempty"`
	Count      int          `json:"count"`
	Total      money.Amount `json:"total"`
}

// TypeBreakdown aggregates ledger rows of one subscription type.
type TypeBreakdown struct {
	SubscriptionType string       `json:"subscription_type"`
	Count            int          `json:"count"`
	Total            money.Amount `json:"total"`
}

// Totals are global counters across all tables.
type Totals struct {
	Users        int          `json:"users"`
	Referrals    int          `json:"referrals"`
	Pending      int          `json:"pending"`
	Earnings     int          `json:"earnings"`
	Commission   money.Amount `json:"commission"`
	Referrers    int          `json:"referrers"`
	PaidReferred int          `json:"paid_referred"`
}
