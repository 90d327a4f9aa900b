// Package store provides SQLite-backed durable storage for the referral
// ledger.
//
// Tables:
//   - users: identities with unique referral codes
//   - referrals: immutable referrer -> referred edges
//   - pending_referrals: at most one unresolved referral per user
//   - confirmations: append-only admin payment confirmation log
//   - commission_earnings: append-only commission ledger
//
// # Serialization Gate
//
// Every compound read-modify-write runs through Store.Atomic, which holds
// the store's gate (a weight-1 semaphore) for the duration of one
// transaction. Reports use Store.Snapshot under the same gate so they never
// observe a partially committed write. The gate is released on every exit
// path, and waiting for it honours context cancellation. Nothing that
// performs network or user-facing I/O may run inside the callback.
//
// # Immutability
//
// Triggers reject UPDATE and DELETE on referrals, confirmations and
// commission_earnings. Aggregates are always computed with SUM over
// commission_earnings and never stored.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Timestamps are stored as Unix milliseconds.
package store
