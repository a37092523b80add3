package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/openwager/wagerd/internal/domain"
)

// Keepers returns the current keeper set.
func (e *Engine) Keepers() []domain.Keeper {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]domain.Keeper(nil), e.keepers...)
}

// Proposals returns governance proposals, newest membership unspecified.
func (e *Engine) Proposals(opts domain.ListOpts) []domain.KeeperProposal {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]domain.KeeperProposal, 0, len(e.proposals))
	for _, p := range e.proposals {
		out = append(out, *p)
	}
	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(out) {
		out = out[:opts.Limit]
	}
	return out
}

// ProposeKeeper opens a governance proposal to add or remove a keeper. Only
// current keepers may propose. Removing the last remaining keeper is
// rejected outright so governance can never go to zero members. The
// proposer's vote is not implied; it must vote like everyone else.
func (e *Engine) ProposeKeeper(ctx context.Context, proposer, target domain.Address, contact string, add bool) (domain.KeeperProposal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.isKeeper(proposer) {
		return domain.KeeperProposal{}, fmt.Errorf("engine: propose by %s: %w", proposer.Hex(), domain.ErrNotKeeper)
	}
	if add {
		if e.isKeeper(target) {
			return domain.KeeperProposal{}, fmt.Errorf("engine: propose add %s: %w", target.Hex(), domain.ErrKeeperExists)
		}
	} else {
		if !e.isKeeper(target) {
			return domain.KeeperProposal{}, fmt.Errorf("engine: propose remove %s: %w", target.Hex(), domain.ErrNotFound)
		}
		if len(e.keepers) == 1 {
			return domain.KeeperProposal{}, fmt.Errorf("engine: propose remove %s: %w", target.Hex(), domain.ErrLastKeeper)
		}
	}

	p := &domain.KeeperProposal{
		ID:        uuid.New(),
		Proposer:  proposer,
		Target:    target,
		Add:       add,
		CreatedAt: e.now(),
	}
	e.proposals[p.ID] = p
	e.pendingContacts[p.ID] = contact

	e.emit(domain.EventKeeperProposed, domain.KeeperProposedPayload{
		ProposalID: p.ID,
		Proposer:   proposer,
		Target:     target,
		Add:        add,
	})
	e.logger.InfoContext(ctx, "engine: keeper proposed",
		slog.String("proposal_id", p.ID.String()),
		slog.String("target", target.Hex()),
		slog.Bool("add", add),
	)
	return *p, nil
}

// VoteOnProposal records one keeper's vote. A keeper votes at most once per
// proposal and votes cannot be changed; voting closes at the proposal's
// 7-day expiry or on execution.
func (e *Engine) VoteOnProposal(ctx context.Context, proposalID uuid.UUID, voter domain.Address, approve bool) (domain.KeeperProposal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.proposals[proposalID]
	if !ok {
		return domain.KeeperProposal{}, fmt.Errorf("engine: proposal %s: %w", proposalID, domain.ErrNotFound)
	}
	if !e.isKeeper(voter) {
		return domain.KeeperProposal{}, fmt.Errorf("engine: proposal vote by %s: %w", voter.Hex(), domain.ErrNotKeeper)
	}
	if p.Executed {
		return domain.KeeperProposal{}, fmt.Errorf("engine: proposal %s: %w", proposalID, domain.ErrProposalExecuted)
	}
	if e.now().After(p.ExpiresAt()) {
		e.dropProposal(proposalID)
		return domain.KeeperProposal{}, fmt.Errorf("engine: proposal %s: %w", proposalID, domain.ErrProposalExpired)
	}
	if p.HasVoted(voter) {
		return domain.KeeperProposal{}, fmt.Errorf("engine: proposal %s: %w", proposalID, domain.ErrAlreadyVoted)
	}

	if approve {
		p.For = append(p.For, voter)
	} else {
		p.Against = append(p.Against, voter)
	}
	e.logger.InfoContext(ctx, "engine: proposal vote cast",
		slog.String("proposal_id", proposalID.String()),
		slog.String("voter", voter.Hex()),
		slog.Bool("approve", approve),
	)
	return *p, nil
}

// ExecuteProposal applies a proposal once every member of the current
// keeper set has voted in favor. Keeper sets are small and any split should
// block automatic action, so the quorum is unanimity, not a majority.
// Execution is idempotent-guarded.
func (e *Engine) ExecuteProposal(ctx context.Context, proposalID uuid.UUID, caller domain.Address) (domain.KeeperProposal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.proposals[proposalID]
	if !ok {
		return domain.KeeperProposal{}, fmt.Errorf("engine: proposal %s: %w", proposalID, domain.ErrNotFound)
	}
	if !e.isKeeper(caller) {
		return domain.KeeperProposal{}, fmt.Errorf("engine: execute by %s: %w", caller.Hex(), domain.ErrNotKeeper)
	}
	if p.Executed {
		return domain.KeeperProposal{}, fmt.Errorf("engine: proposal %s: %w", proposalID, domain.ErrProposalExecuted)
	}
	if e.now().After(p.ExpiresAt()) {
		e.dropProposal(proposalID)
		return domain.KeeperProposal{}, fmt.Errorf("engine: proposal %s: %w", proposalID, domain.ErrProposalExpired)
	}
	for _, k := range e.keepers {
		if !votedFor(p, k.Addr) {
			return domain.KeeperProposal{}, fmt.Errorf("engine: proposal %s: keeper %s has not approved: %w",
				proposalID, k.Addr.Hex(), domain.ErrQuorumNotReached)
		}
	}

	if p.Add {
		e.keepers = append(e.keepers, domain.Keeper{
			Addr:    p.Target,
			Contact: e.pendingContacts[p.ID],
			AddedAt: e.now(),
		})
		e.emit(domain.EventKeeperAdded, domain.KeeperChangedPayload{Keeper: p.Target})
	} else {
		if len(e.keepers) == 1 {
			return domain.KeeperProposal{}, fmt.Errorf("engine: proposal %s: %w", proposalID, domain.ErrLastKeeper)
		}
		kept := e.keepers[:0]
		for _, k := range e.keepers {
			if k.Addr != p.Target {
				kept = append(kept, k)
			}
		}
		e.keepers = kept
		e.emit(domain.EventKeeperRemoved, domain.KeeperChangedPayload{Keeper: p.Target})
	}
	p.Executed = true
	delete(e.pendingContacts, p.ID)

	e.logger.InfoContext(ctx, "engine: proposal executed",
		slog.String("proposal_id", proposalID.String()),
		slog.String("target", p.Target.Hex()),
		slog.Bool("add", p.Add),
		slog.Int("keepers", len(e.keepers)),
	)
	return *p, nil
}

// dropProposal discards a dead proposal and its pending contact. Expired,
// never-executed entries would otherwise accumulate for the life of the
// process; expiry is observed lazily here and during sweep. Callers hold
// e.mu.
func (e *Engine) dropProposal(id uuid.UUID) {
	delete(e.proposals, id)
	delete(e.pendingContacts, id)
}

func votedFor(p *domain.KeeperProposal, keeper domain.Address) bool {
	for _, a := range p.For {
		if a == keeper {
			return true
		}
	}
	return false
}
