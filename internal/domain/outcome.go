package domain

import "time"

// Outcome is the decided result of a wager.
type Outcome string

const (
	// OutcomeCreatorWins pays the full pot (minus fee) to the creator.
	OutcomeCreatorWins Outcome = "creator_wins"
	// OutcomeFillersWin distributes the pot (minus fee) pro rata across fills.
	OutcomeFillersWin Outcome = "fillers_win"
	// OutcomeTie refunds both sides minus proportional fee shares.
	OutcomeTie Outcome = "tie"
	// OutcomeVoid refunds both sides in full with zero fee. Used when the
	// underlying evidence is ruled invalid.
	OutcomeVoid Outcome = "void"
)

// OutcomeVote is one keeper's report on a wager's real-world result.
// Score is the reported margin for the creator's side: positive favours
// the creator, negative the fillers, zero is exactly balanced.
type OutcomeVote struct {
	Keeper      Address
	Score       int64
	CreatorWins bool
	CastAt      time.Time
}

// ConsensusRecord aggregates keeper votes for a single wager. It is decided
// once a supermajority of the current keeper set agrees on the win flag.
type ConsensusRecord struct {
	Votes     []OutcomeVote
	Decided   bool
	Outcome   Outcome
	AvgScore  int64 // mean reported margin across all votes at decision time
	Divergent bool  // keepers agreed on direction but materially not on magnitude
	DecidedAt time.Time
}

// HasVoted reports whether the keeper already voted on this record.
func (c *ConsensusRecord) HasVoted(keeper Address) bool {
	for _, v := range c.Votes {
		if v.Keeper == keeper {
			return true
		}
	}
	return false
}

// ConsensusQuorum returns the number of agreeing votes required for the
// given keeper-set size: ceil(2/3 * keepers), never below two, so a lone
// keeper can never unilaterally finalize an outcome.
func ConsensusQuorum(keeperCount int) int {
	q := (2*keeperCount + 2) / 3
	if q < 2 {
		q = 2
	}
	return q
}
