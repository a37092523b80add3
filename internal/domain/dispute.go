package domain

import "time"

// MaxDisputeReasonLen bounds the free-text challenge reason.
const MaxDisputeReasonLen = 280

// Dispute is an economically staked challenge against a reached consensus.
// At most one exists per wager; it is created once, mutated once by
// resolution, then terminal. The stake is consumed exactly once: slashed
// into accrued fees when the outcome stands, refunded with a reward when
// it flips.
type Dispute struct {
	Challenger      Address
	Stake           uint64
	Reason          string
	RaisedAt        time.Time
	ResolvedAt      *time.Time
	OutcomeChanged  bool
	OriginalOutcome Outcome // snapshot of the decision under challenge
	// PenalizedKeepers records keepers penalized during resolution so each
	// is penalized at most once.
	PenalizedKeepers []Address
}

// Resolved reports whether the dispute has been resolved.
func (d *Dispute) Resolved() bool { return d.ResolvedAt != nil }

// Penalized reports whether the keeper was already penalized by this dispute.
func (d *Dispute) Penalized(keeper Address) bool {
	for _, a := range d.PenalizedKeepers {
		if a == keeper {
			return true
		}
	}
	return false
}
