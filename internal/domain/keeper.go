package domain

import (
	"time"

	"github.com/google/uuid"
)

// ProposalTTL is how long a keeper proposal stays votable after creation.
const ProposalTTL = 7 * 24 * time.Hour

// Keeper is a member of the outcome-reporting quorum. Contact is a plain
// endpoint string other keepers may use to reach it; the ledger attaches no
// semantics to it.
type Keeper struct {
	Addr    Address
	Contact string
	AddedAt time.Time
}

// KeeperProposal is a governance proposal to add or remove a keeper.
// Execution requires unanimous approval of the current membership.
type KeeperProposal struct {
	ID        uuid.UUID
	Proposer  Address
	Target    Address
	Add       bool // true to add Target, false to remove
	For       []Address
	Against   []Address
	Executed  bool
	CreatedAt time.Time
}

// ExpiresAt returns the instant after which the proposal can no longer be
// voted on or executed.
func (p *KeeperProposal) ExpiresAt() time.Time {
	return p.CreatedAt.Add(ProposalTTL)
}

// HasVoted reports whether the keeper already voted on this proposal.
func (p *KeeperProposal) HasVoted(keeper Address) bool {
	for _, a := range p.For {
		if a == keeper {
			return true
		}
	}
	for _, a := range p.Against {
		if a == keeper {
			return true
		}
	}
	return false
}
