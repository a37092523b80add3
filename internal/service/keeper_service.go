package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/openwager/wagerd/internal/domain"
	"github.com/openwager/wagerd/internal/engine"
)

// KeeperService drives keeper governance, outcome voting, and dispute
// arbitration. Successful engine mutations are journaled to the keeper and
// wager stores before the call returns.
type KeeperService struct {
	engine  *engine.Engine
	keepers domain.KeeperStore
	wagers  domain.WagerStore
	state   domain.LedgerStateStore
	cache   domain.WagerCache
	locks   domain.LockManager
	logger  *slog.Logger
}

// NewKeeperService creates a KeeperService with all required dependencies.
func NewKeeperService(
	eng *engine.Engine,
	keepers domain.KeeperStore,
	wagers domain.WagerStore,
	state domain.LedgerStateStore,
	cache domain.WagerCache,
	locks domain.LockManager,
	logger *slog.Logger,
) *KeeperService {
	return &KeeperService{
		engine:  eng,
		keepers: keepers,
		wagers:  wagers,
		state:   state,
		cache:   cache,
		locks:   locks,
		logger:  logger.With(slog.String("component", "keeper_service")),
	}
}

// Keepers returns the current keeper set.
func (s *KeeperService) Keepers() []domain.Keeper {
	return s.engine.Keepers()
}

// Proposals returns governance proposals, newest first.
func (s *KeeperService) Proposals(opts domain.ListOpts) []domain.KeeperProposal {
	return s.engine.Proposals(opts)
}

// ProposeKeeper opens a proposal to add or remove a keeper.
func (s *KeeperService) ProposeKeeper(ctx context.Context, proposer, target domain.Address, contact string, add bool) (domain.KeeperProposal, error) {
	p, err := s.engine.ProposeKeeper(ctx, proposer, target, contact, add)
	if err != nil {
		return domain.KeeperProposal{}, err
	}

	s.persistProposal(ctx, p)
	return p, nil
}

// VoteOnProposal records a keeper's approval or rejection.
func (s *KeeperService) VoteOnProposal(ctx context.Context, proposalID uuid.UUID, voter domain.Address, approve bool) (domain.KeeperProposal, error) {
	p, err := s.engine.VoteOnProposal(ctx, proposalID, voter, approve)
	if err != nil {
		return domain.KeeperProposal{}, err
	}

	s.persistProposal(ctx, p)
	return p, nil
}

// ExecuteProposal applies a unanimously approved proposal and journals the
// resulting keeper set change.
func (s *KeeperService) ExecuteProposal(ctx context.Context, proposalID uuid.UUID, caller domain.Address) (domain.KeeperProposal, error) {
	p, err := s.engine.ExecuteProposal(ctx, proposalID, caller)
	if err != nil {
		return domain.KeeperProposal{}, err
	}

	s.persistProposal(ctx, p)

	if p.Add {
		for _, k := range s.engine.Keepers() {
			if k.Addr == p.Target {
				if err := s.keepers.SaveKeeper(ctx, k); err != nil {
					s.logger.ErrorContext(ctx, "keeper_service: save keeper failed",
						slog.String("keeper", k.Addr.Hex()),
						slog.String("error", err.Error()),
					)
				}
				break
			}
		}
	} else {
		if err := s.keepers.DeleteKeeper(ctx, p.Target); err != nil {
			s.logger.ErrorContext(ctx, "keeper_service: delete keeper failed",
				slog.String("keeper", p.Target.Hex()),
				slog.String("error", err.Error()),
			)
		}
	}

	return p, nil
}

// ReportVote records a keeper's outcome vote on a fully matched wager.
func (s *KeeperService) ReportVote(ctx context.Context, id uuid.UUID, keeper domain.Address, score int64, creatorWins bool) (domain.ConsensusRecord, error) {
	unlock, err := s.lockWager(ctx, id)
	if err != nil {
		return domain.ConsensusRecord{}, err
	}
	defer unlock()

	rec, err := s.engine.ReportVote(ctx, id, keeper, score, creatorWins)
	if err != nil {
		return domain.ConsensusRecord{}, err
	}

	s.persistWager(ctx, id)
	return rec, nil
}

// RaiseDispute stakes a challenge against a reached consensus.
func (s *KeeperService) RaiseDispute(ctx context.Context, id uuid.UUID, challenger domain.Address, stake uint64, reason string) (domain.Dispute, error) {
	unlock, err := s.lockWager(ctx, id)
	if err != nil {
		return domain.Dispute{}, err
	}
	defer unlock()

	d, err := s.engine.RaiseDispute(ctx, id, challenger, stake, reason)
	if err != nil {
		return domain.Dispute{}, err
	}

	s.persistWager(ctx, id)
	return d, nil
}

// ResolveDispute closes a dispute with the corrected outcome. Slashed
// stakes change the fee accrual, so it is journaled as well.
func (s *KeeperService) ResolveDispute(ctx context.Context, id uuid.UUID, resolver domain.Address, correctedScore int64, correctedCreatorWins, void bool) (domain.Dispute, error) {
	unlock, err := s.lockWager(ctx, id)
	if err != nil {
		return domain.Dispute{}, err
	}
	defer unlock()

	d, err := s.engine.ResolveDispute(ctx, id, resolver, correctedScore, correctedCreatorWins, void)
	if err != nil {
		return domain.Dispute{}, err
	}

	s.persistWager(ctx, id)
	s.persistFees(ctx)
	return d, nil
}

// AccruedFees returns the platform fees accumulated and not yet withdrawn.
func (s *KeeperService) AccruedFees() uint64 {
	return s.engine.AccruedFees()
}

// WithdrawFees transfers the accrued platform fees to the treasury.
func (s *KeeperService) WithdrawFees(ctx context.Context) (uint64, error) {
	amount, err := s.engine.WithdrawFees(ctx)
	if err != nil {
		return 0, err
	}

	s.persistFees(ctx)
	return amount, nil
}

func (s *KeeperService) lockWager(ctx context.Context, id uuid.UUID) (func(), error) {
	unlock, err := s.locks.Acquire(ctx, "wager:"+id.String(), wagerLockTTL)
	if err != nil {
		return nil, fmt.Errorf("keeper_service: lock wager %s: %w", id, err)
	}
	return unlock, nil
}

func (s *KeeperService) persistProposal(ctx context.Context, p domain.KeeperProposal) {
	if err := s.keepers.SaveProposal(ctx, p); err != nil {
		s.logger.ErrorContext(ctx, "keeper_service: save proposal failed",
			slog.String("proposal_id", p.ID.String()),
			slog.String("error", err.Error()),
		)
	}
}

func (s *KeeperService) persistWager(ctx context.Context, id uuid.UUID) {
	snap, err := s.engine.Snapshot(id)
	if err != nil {
		s.logger.ErrorContext(ctx, "keeper_service: snapshot for persist",
			slog.String("wager_id", id.String()),
			slog.String("error", err.Error()),
		)
		return
	}

	if err := s.wagers.Save(ctx, snap); err != nil {
		s.logger.ErrorContext(ctx, "keeper_service: journal save failed",
			slog.String("wager_id", id.String()),
			slog.String("error", err.Error()),
		)
	}

	if err := s.cache.Set(ctx, snap); err != nil {
		s.logger.WarnContext(ctx, "keeper_service: cache set failed",
			slog.String("wager_id", id.String()),
			slog.String("error", err.Error()),
		)
	}
}

func (s *KeeperService) persistFees(ctx context.Context) {
	if err := s.state.SaveAccruedFees(ctx, s.engine.AccruedFees()); err != nil {
		s.logger.ErrorContext(ctx, "keeper_service: save accrued fees failed",
			slog.String("error", err.Error()),
		)
	}
}
