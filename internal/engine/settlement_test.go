package engine

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openwager/wagerd/internal/domain"
)

// matchAndDecide fills the wager to completion with the given fills and
// drives a two-keeper consensus to the requested outcome.
func (h *testHarness) matchAndDecide(t *testing.T, w domain.Wager, outcome domain.Outcome, fills ...domain.Fill) {
	t.Helper()
	ctx := context.Background()

	for _, f := range fills {
		_, err := h.engine.Fill(ctx, w.ID, f.Filler, f.Amount)
		require.NoError(t, err)
	}
	if len(h.engine.Keepers()) < 2 {
		h.addKeeper(t, keeper2, keeper1)
	}

	var score int64
	creatorWins := false
	switch outcome {
	case domain.OutcomeCreatorWins:
		score, creatorWins = 100, true
	case domain.OutcomeFillersWin:
		score = -100
	case domain.OutcomeTie:
		// Exactly balanced aggregate score.
		_, err := h.engine.ReportVote(ctx, w.ID, keeper1, 100, true)
		require.NoError(t, err)
		_, err = h.engine.ReportVote(ctx, w.ID, keeper2, -100, true)
		require.NoError(t, err)
		return
	}
	_, err := h.engine.ReportVote(ctx, w.ID, keeper1, score, creatorWins)
	require.NoError(t, err)
	_, err = h.engine.ReportVote(ctx, w.ID, keeper2, score, creatorWins)
	require.NoError(t, err)
}

func TestSettleTwoFillersProRataWithRemainderAbsorption(t *testing.T) {
	// Creator stakes 1000 at 2.00x odds: required match 500. Fillers
	// contribute 300 and 200. With a 0.1% fee on the 1500 pot (floored to
	// 1), the 1499 payout splits 60/40 with the last filler absorbing the
	// rounding remainder.
	h := newHarness(t, defaultParams())
	ctx := context.Background()
	w := h.createWager(t, alice, 1000, 20_000)

	h.matchAndDecide(t, w, domain.OutcomeFillersWin,
		domain.Fill{Filler: bob, Amount: 300},
		domain.Fill{Filler: carol, Amount: 200},
	)

	bobBefore := h.balance(t, bob)
	carolBefore := h.balance(t, carol)

	snap, err := h.engine.Settle(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.WagerStatusSettled, snap.Wager.Status)

	bobGot := h.balance(t, bob) - bobBefore
	carolGot := h.balance(t, carol) - carolBefore
	assert.Equal(t, uint64(899), bobGot)   // floor(1499 * 300/500)
	assert.Equal(t, uint64(600), carolGot) // absorbs the remainder
	assert.Equal(t, uint64(1499), bobGot+carolGot)
	assert.Equal(t, uint64(1), h.engine.AccruedFees())

	settled := h.lastEvent(t, domain.EventWagerSettled).Payload.(domain.WagerSettledPayload)
	assert.False(t, settled.CreatorWon)
	assert.Equal(t, uint64(1499), settled.Payout)
	assert.Equal(t, bob, settled.Winner) // largest aggregate contribution
	h.requireInvariants(t)
}

func TestSettleEvenOddsCreatorWinsSingleTransfer(t *testing.T) {
	h := newHarness(t, defaultParams())
	ctx := context.Background()
	w := h.createWager(t, alice, 1000, domain.EvenOddsBps)

	h.matchAndDecide(t, w, domain.OutcomeCreatorWins, domain.Fill{Filler: bob, Amount: 1000})

	aliceBefore := h.balance(t, alice)
	_, err := h.engine.Settle(ctx, w.ID)
	require.NoError(t, err)

	// Pot 2000, fee floor(2000*10/10000) = 2, full payout to the creator.
	assert.Equal(t, uint64(1998), h.balance(t, alice)-aliceBefore)
	assert.Equal(t, uint64(2), h.engine.AccruedFees())
	h.requireInvariants(t)
}

func TestSettleRepeatFillersPaidPerFill(t *testing.T) {
	h := newHarness(t, defaultParams())
	ctx := context.Background()
	w := h.createWager(t, alice, 1000, domain.EvenOddsBps)

	h.matchAndDecide(t, w, domain.OutcomeFillersWin,
		domain.Fill{Filler: bob, Amount: 400},
		domain.Fill{Filler: carol, Amount: 200},
		domain.Fill{Filler: bob, Amount: 400},
	)

	bobBefore := h.balance(t, bob)
	carolBefore := h.balance(t, carol)
	_, err := h.engine.Settle(ctx, w.ID)
	require.NoError(t, err)

	// Pot 2000, fee 2, payout 1998. Shares: floor(1998*400/1000)=799,
	// floor(1998*200/1000)=399, last fill absorbs 800. Bob's two fills are
	// fungible: net 1599.
	assert.Equal(t, uint64(1599), h.balance(t, bob)-bobBefore)
	assert.Equal(t, uint64(399), h.balance(t, carol)-carolBefore)
	h.requireInvariants(t)
}

func TestSettleTieRefundsMinusProportionalFee(t *testing.T) {
	h := newHarness(t, defaultParams())
	ctx := context.Background()
	w := h.createWager(t, alice, 1000, 20_000) // required 500

	h.matchAndDecide(t, w, domain.OutcomeTie, domain.Fill{Filler: bob, Amount: 500})

	aliceBefore := h.balance(t, alice)
	bobBefore := h.balance(t, bob)
	_, err := h.engine.Settle(ctx, w.ID)
	require.NoError(t, err)

	aliceGot := h.balance(t, alice) - aliceBefore
	bobGot := h.balance(t, bob) - bobBefore

	// Pot 1500, fee 1. Creator fee share floor(1*1000/1500) = 0; the
	// filler side absorbs the fee remainder.
	assert.Equal(t, uint64(1000), aliceGot)
	assert.Equal(t, uint64(499), bobGot)
	assert.Equal(t, uint64(1), h.engine.AccruedFees())

	// Both legs' deductions sum to exactly the fee.
	deducted := (1000 - aliceGot) + (500 - bobGot)
	assert.Equal(t, uint64(1), deducted)
	h.requireInvariants(t)
}

func TestSettleVoidRefundsInFull(t *testing.T) {
	// Zero reward keeps the pot whole when arbitration voids the wager.
	params := defaultParams()
	params.DisputeRewardBps = 0
	h := newHarness(t, params)
	ctx := context.Background()
	w := h.createWager(t, alice, 1000, domain.EvenOddsBps)
	h.matchAndDecide(t, w, domain.OutcomeCreatorWins, domain.Fill{Filler: bob, Amount: 1000})

	_, err := h.engine.RaiseDispute(ctx, w.ID, carol, 200, "evidence invalid")
	require.NoError(t, err)
	_, err = h.engine.ResolveDispute(ctx, w.ID, keeper1, 0, false, true)
	require.NoError(t, err)

	aliceBefore := h.balance(t, alice)
	bobBefore := h.balance(t, bob)
	_, err = h.engine.Settle(ctx, w.ID)
	require.NoError(t, err)

	assert.Equal(t, uint64(1000), h.balance(t, alice)-aliceBefore)
	assert.Equal(t, uint64(1000), h.balance(t, bob)-bobBefore)
	h.requireInvariants(t)
}

func TestSettleOnlyOnce(t *testing.T) {
	h := newHarness(t, defaultParams())
	ctx := context.Background()
	w := h.createWager(t, alice, 1000, domain.EvenOddsBps)
	h.matchAndDecide(t, w, domain.OutcomeCreatorWins, domain.Fill{Filler: bob, Amount: 1000})

	_, err := h.engine.Settle(ctx, w.ID)
	require.NoError(t, err)
	_, err = h.engine.Settle(ctx, w.ID)
	require.ErrorIs(t, err, domain.ErrAlreadySettled)
}

func TestSettlePreconditions(t *testing.T) {
	h := newHarness(t, defaultParams())
	ctx := context.Background()

	w := h.createWager(t, alice, 1000, domain.EvenOddsBps)
	_, err := h.engine.Settle(ctx, w.ID)
	require.ErrorIs(t, err, domain.ErrWrongStatus, "pending wager is not settleable")

	_, err = h.engine.Fill(ctx, w.ID, bob, 1000)
	require.NoError(t, err)
	_, err = h.engine.Settle(ctx, w.ID)
	require.ErrorIs(t, err, domain.ErrNoConsensus)
}

func TestSettleAfterPartialCancellation(t *testing.T) {
	h := newHarness(t, defaultParams())
	ctx := context.Background()
	w := h.createWager(t, alice, 1000, 20_000) // required 500

	_, err := h.engine.Fill(ctx, w.ID, bob, 200)
	require.NoError(t, err)
	_, err = h.engine.Cancel(ctx, w.ID, alice) // refund 600, closes at 400 vs 200
	require.NoError(t, err)

	h.addKeeper(t, keeper2, keeper1)
	_, err = h.engine.ReportVote(ctx, w.ID, keeper1, -10, false)
	require.NoError(t, err)
	_, err = h.engine.ReportVote(ctx, w.ID, keeper2, -10, false)
	require.NoError(t, err)

	bobBefore := h.balance(t, bob)
	_, err = h.engine.Settle(ctx, w.ID)
	require.NoError(t, err)

	// Pot 600, fee 0 (floor of 600*10/10000), full payout to the filler.
	assert.Equal(t, uint64(600), h.balance(t, bob)-bobBefore)
	h.requireInvariants(t)
}

func TestSettleBatchSafeSkipsIneligible(t *testing.T) {
	h := newHarness(t, defaultParams())
	ctx := context.Background()

	ready := h.createWager(t, alice, 1000, domain.EvenOddsBps)
	h.matchAndDecide(t, ready, domain.OutcomeCreatorWins, domain.Fill{Filler: bob, Amount: 1000})

	noConsensus := h.createWager(t, alice, 500, domain.EvenOddsBps)
	_, err := h.engine.Fill(ctx, noConsensus.ID, carol, 500)
	require.NoError(t, err)

	pending := h.createWager(t, alice, 500, domain.EvenOddsBps)

	ids := []uuid.UUID{ready.ID, noConsensus.ID, pending.ID}
	outcomes, settled, err := h.engine.SettleBatch(ctx, ids, false)
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{ready.ID}, settled)

	assert.True(t, outcomes.Get(0))
	assert.False(t, outcomes.Get(1))
	assert.False(t, outcomes.Get(2))

	snap, err := h.engine.Snapshot(ready.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.WagerStatusSettled, snap.Wager.Status)
	h.requireInvariants(t)
}

func TestSettleBatchStrictFailsWhole(t *testing.T) {
	h := newHarness(t, defaultParams())
	ctx := context.Background()

	ready := h.createWager(t, alice, 1000, domain.EvenOddsBps)
	h.matchAndDecide(t, ready, domain.OutcomeCreatorWins, domain.Fill{Filler: bob, Amount: 1000})
	pending := h.createWager(t, alice, 500, domain.EvenOddsBps)

	_, _, err := h.engine.SettleBatch(ctx, []uuid.UUID{ready.ID, pending.ID}, true)
	require.ErrorIs(t, err, domain.ErrWrongStatus)

	// Strict pre-validation means nothing settled, not even the ready one.
	snap, err := h.engine.Snapshot(ready.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.WagerStatusFullyMatched, snap.Wager.Status)
	h.requireInvariants(t)
}

func TestSettleBatchStrictRecordsPerWagerOutcome(t *testing.T) {
	h := newHarness(t, defaultParams())
	ctx := context.Background()

	first := h.createWager(t, alice, 1000, domain.EvenOddsBps)
	h.matchAndDecide(t, first, domain.OutcomeCreatorWins, domain.Fill{Filler: bob, Amount: 1000})
	second := h.createWager(t, carol, 1000, domain.EvenOddsBps)
	h.matchAndDecide(t, second, domain.OutcomeFillersWin, domain.Fill{Filler: dave, Amount: 1000})

	outcomes, settled, err := h.engine.SettleBatch(ctx, []uuid.UUID{first.ID, second.ID}, true)
	require.NoError(t, err)
	assert.Len(t, settled, 2)
	assert.True(t, outcomes.Get(0))
	assert.False(t, outcomes.Get(1))
	h.requireInvariants(t)
}

func TestWithdrawFees(t *testing.T) {
	h := newHarness(t, defaultParams())
	ctx := context.Background()

	_, err := h.engine.WithdrawFees(ctx)
	require.Error(t, err, "nothing accrued yet")

	w := h.createWager(t, alice, 1000, domain.EvenOddsBps)
	h.matchAndDecide(t, w, domain.OutcomeCreatorWins, domain.Fill{Filler: bob, Amount: 1000})
	_, err = h.engine.Settle(ctx, w.ID)
	require.NoError(t, err)
	require.Equal(t, uint64(2), h.engine.AccruedFees())

	treasuryBefore := h.balance(t, treasuryAddr)
	moved, err := h.engine.WithdrawFees(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), moved)
	assert.Equal(t, uint64(2), h.balance(t, treasuryAddr)-treasuryBefore)
	assert.Zero(t, h.engine.AccruedFees())

	assert.Contains(t, h.eventTypes(), domain.EventFeesWithdrawn)
	h.requireInvariants(t)
}
