package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/openwager/wagerd/internal/domain"
)

// RaiseDispute escrows an economically staked challenge against a reached
// consensus. A challenge is accepted only after consensus, before
// settlement, at most once per wager, within the dispute window, with a
// stake at or above the scaled minimum and a non-empty bounded reason.
// While unresolved it freezes settlement.
func (e *Engine) RaiseDispute(ctx context.Context, id uuid.UUID, challenger domain.Address, stake uint64, reason string) (domain.Dispute, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ws, err := e.getWager(ctx, id)
	if err != nil {
		return domain.Dispute{}, err
	}
	w := &ws.wager

	if w.Status == domain.WagerStatusSettled {
		return domain.Dispute{}, fmt.Errorf("engine: dispute %s: %w", id, domain.ErrAlreadySettled)
	}
	if ws.consensus == nil || !ws.consensus.Decided {
		return domain.Dispute{}, fmt.Errorf("engine: dispute %s: %w", id, domain.ErrNoConsensus)
	}
	if ws.dispute != nil {
		return domain.Dispute{}, fmt.Errorf("engine: dispute %s: %w", id, domain.ErrDisputeExists)
	}
	now := e.now()
	if now.After(ws.consensus.DecidedAt.Add(e.params.DisputeWindow)) {
		return domain.Dispute{}, fmt.Errorf("engine: dispute %s: %w", id, domain.ErrDisputeWindowClosed)
	}
	if stake < e.minDisputeStake {
		return domain.Dispute{}, &domain.StakeTooLowError{Stake: stake, Minimum: e.minDisputeStake}
	}
	if len(reason) == 0 || len(reason) > domain.MaxDisputeReasonLen {
		return domain.Dispute{}, fmt.Errorf("engine: dispute %s: %w", id, domain.ErrReasonLength)
	}

	ws.dispute = &domain.Dispute{
		Challenger:      challenger,
		Stake:           stake,
		Reason:          reason,
		RaisedAt:        now,
		OriginalOutcome: ws.consensus.Outcome,
	}
	undo := func() { ws.dispute = nil }
	if err := e.pullEscrow(ctx, challenger, stake, undo); err != nil {
		return domain.Dispute{}, err
	}

	e.emit(domain.EventDisputeRaised, domain.DisputeRaisedPayload{
		WagerID:    id,
		Challenger: challenger,
		Stake:      stake,
		Reason:     reason,
	})
	e.logger.InfoContext(ctx, "engine: dispute raised",
		slog.String("wager_id", id.String()),
		slog.String("challenger", challenger.Hex()),
		slog.Uint64("stake", stake),
	)
	return *ws.dispute, nil
}

// ResolveDispute lets a keeper recompute the outcome and settle the
// challenge stake. It is a one-time, irreversible transition.
//
// If the corrected outcome matches the original decision the challenge was
// invalid: the stake is slashed into accrued fees and no keeper is
// penalized, because the original call was correct by definition. If the
// decision flips, the challenger's stake is returned along with a fixed
// percentage of the pot, funded from the pot itself, and every keeper whose
// original score missed the corrected value by more than the tolerance is
// penalized exactly once.
func (e *Engine) ResolveDispute(ctx context.Context, id uuid.UUID, resolver domain.Address, correctedScore int64, correctedCreatorWins, void bool) (domain.Dispute, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.isKeeper(resolver) {
		return domain.Dispute{}, fmt.Errorf("engine: resolve by %s: %w", resolver.Hex(), domain.ErrNotKeeper)
	}
	ws, err := e.getWager(ctx, id)
	if err != nil {
		return domain.Dispute{}, err
	}
	d := ws.dispute
	if d == nil {
		return domain.Dispute{}, fmt.Errorf("engine: resolve %s: %w", id, domain.ErrNotFound)
	}
	if d.Resolved() {
		return domain.Dispute{}, fmt.Errorf("engine: resolve %s: %w", id, domain.ErrDisputeResolved)
	}

	corrected := correctedOutcome(correctedScore, correctedCreatorWins, void)
	flipped := corrected != d.OriginalOutcome

	now := e.now()
	d.ResolvedAt = &now
	d.OutcomeChanged = flipped

	var payments []payment

	prevFees := e.accruedFees
	prevDebit := ws.potDebit
	prevConsensus := *ws.consensus

	if !flipped {
		// Invalid challenge: the stake is absorbed into platform fees.
		e.accruedFees += d.Stake
		e.emit(domain.EventDisputeSlashed, domain.DisputeSlashedPayload{
			WagerID:    id,
			Challenger: d.Challenger,
			Slashed:    d.Stake,
		})
	} else {
		ws.consensus.Outcome = corrected
		ws.consensus.AvgScore = correctedScore

		reward := mulDiv(ws.pot(), uint64(e.params.DisputeRewardBps), uint64(domain.EvenOddsBps))
		ws.potDebit += reward
		payments = append(payments, payment{to: d.Challenger, amount: d.Stake + reward})

		e.emit(domain.EventDisputeRewarded, domain.DisputeRewardedPayload{
			WagerID:    id,
			Challenger: d.Challenger,
			Refund:     d.Stake,
			Reward:     reward,
		})

		// Penalize keepers whose original report was provably wrong.
		for _, v := range prevConsensus.Votes {
			errMag := v.Score - correctedScore
			if errMag < 0 {
				errMag = -errMag
			}
			if errMag <= e.params.ScoreTolerance || d.Penalized(v.Keeper) {
				continue
			}
			d.PenalizedKeepers = append(d.PenalizedKeepers, v.Keeper)
			e.emit(domain.EventKeeperPenalized, domain.KeeperPenalizedPayload{
				WagerID: id,
				Keeper:  v.Keeper,
				Score:   v.Score,
				Error:   errMag,
			})
		}
	}

	undo := func() {
		d.ResolvedAt = nil
		d.OutcomeChanged = false
		d.PenalizedKeepers = nil
		e.accruedFees = prevFees
		ws.potDebit = prevDebit
		*ws.consensus = prevConsensus
	}
	if err := e.payOut(ctx, payments, undo); err != nil {
		return domain.Dispute{}, err
	}

	e.emit(domain.EventDisputeResolved, domain.DisputeResolvedPayload{
		WagerID:        id,
		Resolver:       resolver,
		OutcomeChanged: flipped,
		Outcome:        ws.consensus.Outcome,
	})
	e.logger.InfoContext(ctx, "engine: dispute resolved",
		slog.String("wager_id", id.String()),
		slog.Bool("flipped", flipped),
		slog.String("outcome", string(ws.consensus.Outcome)),
		slog.Int("penalized", len(d.PenalizedKeepers)),
	)
	return *d, nil
}

// correctedOutcome maps a resolver's corrected report onto an outcome. A
// void ruling (all underlying evidence invalid) trumps everything; an
// exactly zero score is a tie, mirroring consensus evaluation.
func correctedOutcome(score int64, creatorWins, void bool) domain.Outcome {
	switch {
	case void:
		return domain.OutcomeVoid
	case score == 0:
		return domain.OutcomeTie
	case creatorWins:
		return domain.OutcomeCreatorWins
	default:
		return domain.OutcomeFillersWin
	}
}
