package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/openwager/wagerd/internal/domain"
)

// canSettle reports whether the wager is eligible for settlement right now.
// Callers hold e.mu.
func (e *Engine) canSettle(ws *wagerState) error {
	w := &ws.wager
	switch w.Status {
	case domain.WagerStatusSettled:
		return fmt.Errorf("engine: settle %s: %w", w.ID, domain.ErrAlreadySettled)
	case domain.WagerStatusFullyMatched:
		// eligible
	default:
		return fmt.Errorf("engine: settle %s in status %s: %w", w.ID, w.Status, domain.ErrWrongStatus)
	}
	if ws.dispute != nil && !ws.dispute.Resolved() {
		return fmt.Errorf("engine: settle %s: %w", w.ID, domain.ErrDisputePending)
	}
	if ws.consensus == nil || !ws.consensus.Decided {
		return fmt.Errorf("engine: settle %s: %w", w.ID, domain.ErrNoConsensus)
	}
	return nil
}

// distribute splits payout across the ordered fills proportionally to each
// fill's amount. The last fill absorbs the integer-division remainder so the
// distributed sum is always exactly payout.
func distribute(fills []domain.Fill, matched, payout uint64) []payment {
	payments := make([]payment, 0, len(fills))
	var distributed uint64
	for i, f := range fills {
		var share uint64
		if i == len(fills)-1 {
			share = payout - distributed
		} else {
			share = mulDiv(payout, f.Amount, matched)
		}
		distributed += share
		payments = append(payments, payment{to: f.Filler, amount: share})
	}
	return payments
}

// topFiller returns the filler with the largest aggregate contribution,
// first-fill order breaking ties. Used for the settled event's winner field
// when the counter side wins.
func topFiller(fills []domain.Fill) domain.Address {
	totals := make(map[domain.Address]uint64, len(fills))
	var best domain.Address
	var bestAmt uint64
	for _, f := range fills {
		totals[f.Filler] += f.Amount
		if totals[f.Filler] > bestAmt {
			bestAmt = totals[f.Filler]
			best = f.Filler
		}
	}
	return best
}

// settleLocked executes settlement of an eligible wager. Callers hold e.mu
// and have already run canSettle.
func (e *Engine) settleLocked(ctx context.Context, ws *wagerState) (domain.WagerSettledPayload, error) {
	w := &ws.wager
	outcome := ws.consensus.Outcome

	// total is the sum of original contributions; available subtracts any
	// challenger reward already paid out of the pot.
	total := w.CreatorStake + w.Matched
	available := ws.pot()

	var fee uint64
	if outcome != domain.OutcomeVoid {
		fee = mulDiv(available, uint64(e.params.FeeBps), uint64(domain.EvenOddsBps))
	}
	distributable := available - fee

	var payments []payment
	var settled domain.WagerSettledPayload
	settled.ID = w.ID

	switch outcome {
	case domain.OutcomeCreatorWins:
		payments = []payment{{to: w.Creator, amount: distributable}}
		settled.Winner = w.Creator
		settled.Payout = distributable
		settled.CreatorWon = true

	case domain.OutcomeFillersWin:
		payments = distribute(ws.fills, w.Matched, distributable)
		settled.Winner = topFiller(ws.fills)
		settled.Payout = distributable

	case domain.OutcomeTie, domain.OutcomeVoid:
		// Each side recovers its contribution minus a proportional fee
		// share; the filler side absorbs both remainders. A void outcome is
		// the same split with zero fee.
		creatorAvail := mulDiv(available, w.CreatorStake, total)
		feeCreator := mulDiv(fee, w.CreatorStake, total)
		creatorRefund := creatorAvail - min(creatorAvail, feeCreator)
		fillerSide := distributable - creatorRefund

		payments = append(payments, payment{to: w.Creator, amount: creatorRefund})
		payments = append(payments, distribute(ws.fills, w.Matched, fillerSide)...)
		settled.Winner = w.Creator
		settled.Payout = distributable
	}

	prevWager := *w
	prevFees := e.accruedFees
	w.Status = domain.WagerStatusSettled
	e.accruedFees += fee

	undo := func() {
		ws.wager = prevWager
		e.accruedFees = prevFees
	}
	if err := e.payOut(ctx, payments, undo); err != nil {
		return domain.WagerSettledPayload{}, err
	}

	e.emit(domain.EventWagerSettled, settled)
	e.logger.InfoContext(ctx, "engine: wager settled",
		slog.String("wager_id", w.ID.String()),
		slog.String("outcome", string(outcome)),
		slog.Uint64("payout", settled.Payout),
		slog.Uint64("fee", fee),
	)
	return settled, nil
}

// Settle executes payout for a fully matched wager whose outcome consensus
// is decided and undisputed (or whose dispute is resolved). Permissionless:
// any caller may trigger it and no caller reward is paid.
func (e *Engine) Settle(ctx context.Context, id uuid.UUID) (domain.WagerSnapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ws, err := e.getWager(ctx, id)
	if err != nil {
		return domain.WagerSnapshot{}, err
	}
	if err := e.canSettle(ws); err != nil {
		return domain.WagerSnapshot{}, err
	}
	if _, err := e.settleLocked(ctx, ws); err != nil {
		return domain.WagerSnapshot{}, err
	}
	return ws.snapshot(), nil
}

// SettleBatch settles the given wagers sequentially. In strict mode every
// wager is checked for eligibility up front and the batch fails whole on
// the first problem, settling nothing. In safe mode ineligible or unknown
// wagers are skipped so one bad entry cannot block the rest.
//
// The returned bit vector records, per input index, whether the creator won
// that wager; bits for skipped entries stay unset. The second return lists
// the ids actually settled.
func (e *Engine) SettleBatch(ctx context.Context, ids []uuid.UUID, strict bool) (*domain.OutcomeBitVector, []uuid.UUID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if strict {
		for _, id := range ids {
			ws, err := e.getWager(ctx, id)
			if err != nil {
				return nil, nil, fmt.Errorf("engine: settle batch: %w", err)
			}
			if err := e.canSettle(ws); err != nil {
				return nil, nil, fmt.Errorf("engine: settle batch: %w", err)
			}
		}
	}

	outcomes := domain.NewOutcomeBitVector(len(ids))
	settled := make([]uuid.UUID, 0, len(ids))
	for i, id := range ids {
		ws, err := e.getWager(ctx, id)
		if err != nil {
			if strict {
				return nil, nil, fmt.Errorf("engine: settle batch: %w", err)
			}
			continue
		}
		if err := e.canSettle(ws); err != nil {
			if strict {
				return nil, nil, fmt.Errorf("engine: settle batch: %w", err)
			}
			e.logger.DebugContext(ctx, "engine: settle batch skip",
				slog.String("wager_id", id.String()),
				slog.String("reason", err.Error()),
			)
			continue
		}
		payload, err := e.settleLocked(ctx, ws)
		if err != nil {
			// Transfer failures abort either variant: the collateral ledger
			// refused funds the invariants say it holds.
			return nil, nil, fmt.Errorf("engine: settle batch: %w", err)
		}
		outcomes.Set(i, payload.CreatorWon)
		settled = append(settled, id)
	}
	return outcomes, settled, nil
}

// WithdrawFees transfers all accrued platform fees to the treasury account.
// Permissionless; returns the amount moved.
func (e *Engine) WithdrawFees(ctx context.Context) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	amount := e.accruedFees
	if amount == 0 {
		return 0, errors.New("engine: no fees accrued")
	}

	e.accruedFees = 0
	undo := func() { e.accruedFees = amount }
	if err := e.payOut(ctx, []payment{{to: e.treasury, amount: amount}}, undo); err != nil {
		return 0, err
	}

	e.emit(domain.EventFeesWithdrawn, domain.FeesWithdrawnPayload{To: e.treasury, Amount: amount})
	e.logger.InfoContext(ctx, "engine: fees withdrawn",
		slog.Uint64("amount", amount),
		slog.String("to", e.treasury.Hex()),
	)
	return amount, nil
}
