// Package harness runs scripted ledger scenarios.
//
// A scenario drives the registry, referral resolver and payment service
// over a fresh in-memory store with a frozen clock and sequential ids, then
// checks the final state. Traces are deterministic and can be compared
// against golden files.
//
// # Scenario Format
//
//	name: referral_then_payment
//	description: "A referred user's payment credits the referrer"
//	codes: [ABC12345]
//	setup:
//	  - action: register
//	    args: { id: 1, username: alice }
//	flow:
//	  - action: refer
//	    args: { ref: ABC12345, user: 2 }
//	    expect:
//	      status: pending
//	  - action: pay
//	    args: { subject: "@bob", amount: "100", link: l-1 }
//	    expect:
//	      status: credited
//	      result: { commission: "10.00" }
//	assertions:
//	  - type: aggregate
//	    referrer: 1
//	    expect: { count: 1, total: "10.00" }
//
// # Actions
//
//   - register: id, username, first_name, last_name
//   - refer: ref, user
//   - resolve: user
//   - pay: subject, amount, link, subscription_type, payment_method, admin
//   - gc: max_age (optional duration)
//   - advance: by (duration)
//
// A failing operation yields status "error" with the error code, e.g.
// NOT_FOUND or INVALID_OPERATION.
//
// # Assertion Types
//
//   - aggregate: count and total credited to a referrer
//   - referral: referrer_id of a user, or "none"
//   - pending_state: absent, pending or resolved
//   - row_count: rows in a ledger table
package harness
