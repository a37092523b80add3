package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/openwager/wagerd/internal/domain"
)

// Fill accepts a counter-stake contribution against an open wager. The fill
// is appended to the ordered fill sequence, the matched amount increases,
// and the status advances to partially or fully matched. The filler's
// collateral is pulled into the vault as the operation's final step.
func (e *Engine) Fill(ctx context.Context, id uuid.UUID, filler domain.Address, amount uint64) (domain.Wager, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ws, err := e.getWager(ctx, id)
	if err != nil {
		return domain.Wager{}, err
	}
	w := &ws.wager

	if !w.Open() {
		return domain.Wager{}, fmt.Errorf("engine: fill %s in status %s: %w", id, w.Status, domain.ErrWrongStatus)
	}
	if filler == w.Creator {
		return domain.Wager{}, fmt.Errorf("engine: fill %s: %w", id, domain.ErrSelfFill)
	}
	if amount == 0 {
		return domain.Wager{}, fmt.Errorf("engine: fill %s: %w", id, domain.ErrZeroAmount)
	}
	if remaining := w.Remaining(); amount > remaining {
		return domain.Wager{}, &domain.FillTooLargeError{Amount: amount, Remaining: remaining}
	}
	if len(ws.fills) >= e.params.MaxFillers {
		return domain.Wager{}, fmt.Errorf("engine: fill %s: %d fills: %w", id, len(ws.fills), domain.ErrParticipantCap)
	}

	prevStatus := w.Status
	ws.fills = append(ws.fills, domain.Fill{Filler: filler, Amount: amount, CreatedAt: e.now()})
	w.Matched += amount
	if w.Matched == w.RequiredMatch {
		w.Status = domain.WagerStatusFullyMatched
	} else {
		w.Status = domain.WagerStatusPartiallyMatched
	}

	undo := func() {
		ws.fills = ws.fills[:len(ws.fills)-1]
		w.Matched -= amount
		w.Status = prevStatus
	}
	if err := e.pullEscrow(ctx, filler, amount, undo); err != nil {
		return domain.Wager{}, err
	}

	e.emit(domain.EventWagerFilled, domain.WagerFilledPayload{
		ID:         id,
		Filler:     filler,
		FillAmount: amount,
		Remaining:  w.Remaining(),
	})
	e.logger.InfoContext(ctx, "engine: wager filled",
		slog.String("wager_id", id.String()),
		slog.String("filler", filler.Hex()),
		slog.Uint64("amount", amount),
		slog.Uint64("remaining", w.Remaining()),
	)
	return *w, nil
}

// cancelRefund computes the creator refund for closing the unfilled
// remainder: creatorStake * (required - matched) / required. The creator is
// always refunded the unmatched proportion of the original stake, so the
// arithmetic stays consistent with whatever odds were set.
func cancelRefund(w *domain.Wager) uint64 {
	return mulDiv(w.CreatorStake, w.RequiredMatch-w.Matched, w.RequiredMatch)
}

// Cancel closes the unfilled remainder of an open wager. Only the creator
// may cancel. With no fills the wager is cancelled outright and the full
// stake refunded; with fills the wager closes to fully matched on the
// reduced stake and proceeds to settlement.
func (e *Engine) Cancel(ctx context.Context, id uuid.UUID, caller domain.Address) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ws, err := e.getWager(ctx, id)
	if err != nil {
		return 0, err
	}
	w := &ws.wager

	if caller != w.Creator {
		return 0, fmt.Errorf("engine: cancel %s by %s: %w", id, caller.Hex(), domain.ErrUnauthorized)
	}
	if !w.Open() {
		return 0, fmt.Errorf("engine: cancel %s in status %s: %w", id, w.Status, domain.ErrWrongStatus)
	}

	refund := cancelRefund(w)
	if refund == 0 {
		return 0, fmt.Errorf("engine: cancel %s: %w", id, domain.ErrNothingToCancel)
	}

	prev := *w
	e.closeRemainder(ws, refund)

	undo := func() { ws.wager = prev }
	if err := e.payOut(ctx, []payment{{to: w.Creator, amount: refund}}, undo); err != nil {
		return 0, err
	}

	e.emit(domain.EventWagerCancelled, domain.WagerCancelledPayload{
		ID:           id,
		Creator:      w.Creator,
		RefundAmount: refund,
	})
	e.logger.InfoContext(ctx, "engine: wager cancelled",
		slog.String("wager_id", id.String()),
		slog.Uint64("refund", refund),
		slog.String("status", string(w.Status)),
	)
	return refund, nil
}

// closeRemainder applies the state effect of cancellation or expiry: with no
// fills the wager is cancelled; with fills the creator stake shrinks by the
// refund and the wager closes to fully matched on what was filled.
// Callers hold e.mu.
func (e *Engine) closeRemainder(ws *wagerState, refund uint64) {
	w := &ws.wager
	if len(ws.fills) == 0 {
		w.Status = domain.WagerStatusCancelled
		return
	}
	w.CreatorStake -= refund
	w.RequiredMatch = w.Matched
	w.Status = domain.WagerStatusFullyMatched
}

// expireIfDue applies deadline expiry to an open wager whose deadline has
// passed: without fills it is treated as a cancellation with full refund,
// with fills it closes to settlement on the existing fills with the
// proportional refund. Callers hold e.mu.
func (e *Engine) expireIfDue(ctx context.Context, ws *wagerState) error {
	w := &ws.wager
	if !w.Open() || !w.Expired(e.now()) {
		return nil
	}

	refund := cancelRefund(w)
	hadFills := len(ws.fills) > 0

	prev := *w
	e.closeRemainder(ws, refund)

	undo := func() { ws.wager = prev }
	if err := e.payOut(ctx, []payment{{to: w.Creator, amount: refund}}, undo); err != nil {
		return err
	}

	e.emit(domain.EventWagerExpired, domain.WagerExpiredPayload{
		ID:           w.ID,
		Creator:      w.Creator,
		RefundAmount: refund,
		HadFills:     hadFills,
	})
	e.logger.InfoContext(ctx, "engine: wager expired",
		slog.String("wager_id", w.ID.String()),
		slog.Uint64("refund", refund),
		slog.Bool("had_fills", hadFills),
	)
	return nil
}

// SweepExpired walks every open wager and applies deadline expiry, and
// prunes governance proposals that expired without executing.
// Permissionless: any caller may trigger it, and it pays no reward. Returns
// the IDs of the wagers transitioned.
func (e *Engine) SweepExpired(ctx context.Context) ([]uuid.UUID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var swept []uuid.UUID
	for id, ws := range e.wagers {
		if !ws.wager.Open() || !ws.wager.Expired(e.now()) {
			continue
		}
		if err := e.expireIfDue(ctx, ws); err != nil {
			return swept, fmt.Errorf("engine: sweep %s: %w", id, err)
		}
		swept = append(swept, id)
	}

	for id, p := range e.proposals {
		if !p.Executed && e.now().After(p.ExpiresAt()) {
			e.dropProposal(id)
		}
	}
	return swept, nil
}
