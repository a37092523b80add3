package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventType names every observable event the ledger emits.
type EventType string

const (
	EventWagerCreated     EventType = "wager_created"
	EventWagerFilled      EventType = "wager_filled"
	EventWagerCancelled   EventType = "wager_cancelled"
	EventWagerSettled     EventType = "wager_settled"
	EventWagerExpired     EventType = "wager_expired"
	EventKeeperProposed   EventType = "keeper_proposed"
	EventKeeperAdded      EventType = "keeper_added"
	EventKeeperRemoved    EventType = "keeper_removed"
	EventVoteCast         EventType = "vote_cast"
	EventConsensusReached EventType = "consensus_reached"
	EventDisputeRaised    EventType = "dispute_raised"
	EventDisputeResolved  EventType = "dispute_resolved"
	EventDisputeSlashed   EventType = "dispute_slashed"
	EventDisputeRewarded  EventType = "dispute_rewarded"
	EventKeeperPenalized  EventType = "keeper_penalized"
	EventFeesWithdrawn    EventType = "fees_withdrawn"
)

// Event is a single observable ledger event. Payload is one of the typed
// structs below, chosen by Type.
type Event struct {
	Type    EventType `json:"type"`
	At      time.Time `json:"at"`
	Payload any       `json:"payload"`
}

type WagerCreatedPayload struct {
	ID            uuid.UUID  `json:"id"`
	Creator       Address    `json:"creator"`
	ContentHash   string     `json:"content_hash"`
	ContentRef    string     `json:"content_ref"`
	PreviewRef    string     `json:"preview_ref"`
	CreatorStake  uint64     `json:"creator_stake"`
	RequiredMatch uint64     `json:"required_match"`
	OddsBps       uint32     `json:"odds_bps"`
	Deadline      *time.Time `json:"deadline,omitempty"`
}

type WagerFilledPayload struct {
	ID         uuid.UUID `json:"id"`
	Filler     Address   `json:"filler"`
	FillAmount uint64    `json:"fill_amount"`
	Remaining  uint64    `json:"remaining"`
}

type WagerCancelledPayload struct {
	ID           uuid.UUID `json:"id"`
	Creator      Address   `json:"creator"`
	RefundAmount uint64    `json:"refund_amount"`
}

type WagerSettledPayload struct {
	ID         uuid.UUID `json:"id"`
	Winner     Address   `json:"winner"`
	Payout     uint64    `json:"payout"`
	CreatorWon bool      `json:"creator_won"`
}

type WagerExpiredPayload struct {
	ID           uuid.UUID `json:"id"`
	Creator      Address   `json:"creator"`
	RefundAmount uint64    `json:"refund_amount"`
	HadFills     bool      `json:"had_fills"`
}

type KeeperProposedPayload struct {
	ProposalID uuid.UUID `json:"proposal_id"`
	Proposer   Address   `json:"proposer"`
	Target     Address   `json:"target"`
	Add        bool      `json:"add"`
}

type KeeperChangedPayload struct {
	Keeper Address `json:"keeper"`
}

type VoteCastPayload struct {
	WagerID     uuid.UUID `json:"wager_id"`
	Keeper      Address   `json:"keeper"`
	Score       int64     `json:"score"`
	CreatorWins bool      `json:"creator_wins"`
}

type ConsensusReachedPayload struct {
	WagerID   uuid.UUID `json:"wager_id"`
	Outcome   Outcome   `json:"outcome"`
	AvgScore  int64     `json:"avg_score"`
	Divergent bool      `json:"divergent"`
	Votes     int       `json:"votes"`
}

type DisputeRaisedPayload struct {
	WagerID    uuid.UUID `json:"wager_id"`
	Challenger Address   `json:"challenger"`
	Stake      uint64    `json:"stake"`
	Reason     string    `json:"reason"`
}

type DisputeResolvedPayload struct {
	WagerID        uuid.UUID `json:"wager_id"`
	Resolver       Address   `json:"resolver"`
	OutcomeChanged bool      `json:"outcome_changed"`
	Outcome        Outcome   `json:"outcome"`
}

type DisputeSlashedPayload struct {
	WagerID    uuid.UUID `json:"wager_id"`
	Challenger Address   `json:"challenger"`
	Slashed    uint64    `json:"slashed"`
}

type DisputeRewardedPayload struct {
	WagerID    uuid.UUID `json:"wager_id"`
	Challenger Address   `json:"challenger"`
	Refund     uint64    `json:"refund"`
	Reward     uint64    `json:"reward"`
}

type KeeperPenalizedPayload struct {
	WagerID uuid.UUID `json:"wager_id"`
	Keeper  Address   `json:"keeper"`
	Score   int64     `json:"score"`
	Error   int64     `json:"error"`
}

type FeesWithdrawnPayload struct {
	To     Address `json:"to"`
	Amount uint64  `json:"amount"`
}
