package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/openwager/wagerd/internal/domain"
)

// ReportVote records one keeper's outcome report for a fully matched wager
// and evaluates consensus. Each keeper votes once per wager; repeat votes
// are rejected. Consensus is declared once either binary outcome has votes
// from at least ceil(2/3) of the current keeper set, never fewer than two.
// An exactly balanced aggregate score declares a tie regardless of which
// side won the vote count.
func (e *Engine) ReportVote(ctx context.Context, id uuid.UUID, keeper domain.Address, score int64, creatorWins bool) (domain.ConsensusRecord, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.isKeeper(keeper) {
		return domain.ConsensusRecord{}, fmt.Errorf("engine: vote by %s: %w", keeper.Hex(), domain.ErrNotKeeper)
	}
	ws, err := e.getWager(ctx, id)
	if err != nil {
		return domain.ConsensusRecord{}, err
	}
	w := &ws.wager

	if w.Status != domain.WagerStatusFullyMatched {
		return domain.ConsensusRecord{}, fmt.Errorf("engine: vote on %s in status %s: %w", id, w.Status, domain.ErrWrongStatus)
	}
	if ws.consensus == nil {
		ws.consensus = &domain.ConsensusRecord{}
	}
	c := ws.consensus
	if c.Decided {
		return domain.ConsensusRecord{}, fmt.Errorf("engine: vote on %s: %w", id, domain.ErrWrongStatus)
	}
	if c.HasVoted(keeper) {
		return domain.ConsensusRecord{}, fmt.Errorf("engine: vote on %s by %s: %w", id, keeper.Hex(), domain.ErrAlreadyVoted)
	}

	c.Votes = append(c.Votes, domain.OutcomeVote{
		Keeper:      keeper,
		Score:       score,
		CreatorWins: creatorWins,
		CastAt:      e.now(),
	})
	e.emit(domain.EventVoteCast, domain.VoteCastPayload{
		WagerID:     id,
		Keeper:      keeper,
		Score:       score,
		CreatorWins: creatorWins,
	})

	e.evaluateConsensus(ctx, ws)
	return *c, nil
}

// evaluateConsensus checks the quorum condition and, once met, fixes the
// outcome and opens the dispute window. Callers hold e.mu.
func (e *Engine) evaluateConsensus(ctx context.Context, ws *wagerState) {
	c := ws.consensus
	quorum := domain.ConsensusQuorum(len(e.keepers))

	var forCreator, forFillers int
	var scoreSum int64
	for _, v := range c.Votes {
		if v.CreatorWins {
			forCreator++
		} else {
			forFillers++
		}
		scoreSum += v.Score
	}

	var creatorWins bool
	switch {
	case forCreator >= quorum:
		creatorWins = true
	case forFillers >= quorum:
		creatorWins = false
	default:
		return
	}

	c.Decided = true
	c.DecidedAt = e.now()
	c.AvgScore = scoreSum / int64(len(c.Votes))

	// A perfectly balanced aggregate score is a tie no matter which side
	// nominally won the vote count.
	if scoreSum == 0 {
		c.Outcome = domain.OutcomeTie
	} else if creatorWins {
		c.Outcome = domain.OutcomeCreatorWins
	} else {
		c.Outcome = domain.OutcomeFillersWin
	}

	// Keepers can agree on direction while disagreeing materially on
	// magnitude; surface that spread for dispute arbitration to weigh.
	c.Divergent = scoreSpread(c.Votes, creatorWins) > e.params.ScoreTolerance

	e.emit(domain.EventConsensusReached, domain.ConsensusReachedPayload{
		WagerID:   ws.wager.ID,
		Outcome:   c.Outcome,
		AvgScore:  c.AvgScore,
		Divergent: c.Divergent,
		Votes:     len(c.Votes),
	})
	e.logger.InfoContext(ctx, "engine: consensus reached",
		slog.String("wager_id", ws.wager.ID.String()),
		slog.String("outcome", string(c.Outcome)),
		slog.Int64("avg_score", c.AvgScore),
		slog.Bool("divergent", c.Divergent),
	)
}

// scoreSpread returns the widest score gap among the votes on the winning
// side.
func scoreSpread(votes []domain.OutcomeVote, creatorWins bool) int64 {
	var lo, hi int64
	first := true
	for _, v := range votes {
		if v.CreatorWins != creatorWins {
			continue
		}
		if first {
			lo, hi = v.Score, v.Score
			first = false
			continue
		}
		if v.Score < lo {
			lo = v.Score
		}
		if v.Score > hi {
			hi = v.Score
		}
	}
	return hi - lo
}
