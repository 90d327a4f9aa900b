package referral

// PendingState is the lifecycle of a user's pending referral.
//
//	absent -> pending -> resolved
//	          pending -> expired
//	          pending -> pending   (a newer code overwrites the row)
//
// resolved and expired are terminal. An expired row is deleted, so once the
// sweep has run the store can no longer tell expired from absent; State
// reports absent in that case.
type PendingState string

const (
	StateAbsent   PendingState = "absent"
	StatePending  PendingState = "pending"
	StateResolved PendingState = "resolved"
	StateExpired  PendingState = "expired"
)

var transitions = map[PendingState][]PendingState{
	StateAbsent:  {StatePending},
	StatePending: {StatePending, StateResolved, StateExpired},
}

// canTransition reports whether s -> to is allowed.
func (s PendingState) canTransition(to PendingState) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// terminal reports whether s has no outgoing transitions.
func (s PendingState) terminal() bool {
	return len(transitions[s]) == 0
}
