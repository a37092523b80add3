package engine

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openwager/wagerd/internal/domain"
)

// decidedWager builds a fully matched wager with consensus reached on
// creator-wins, both keepers scoring +100.
func (h *testHarness) decidedWager(t *testing.T) domain.Wager {
	t.Helper()
	w := h.createWager(t, alice, 1000, domain.EvenOddsBps)
	h.matchAndDecide(t, w, domain.OutcomeCreatorWins, domain.Fill{Filler: bob, Amount: 1000})
	return w
}

func TestRaiseDisputePreconditions(t *testing.T) {
	h := newHarness(t, defaultParams())
	ctx := context.Background()

	open := h.createWager(t, alice, 1000, domain.EvenOddsBps)
	_, err := h.engine.RaiseDispute(ctx, open.ID, carol, 200, "wrong call")
	require.ErrorIs(t, err, domain.ErrNoConsensus, "nothing to dispute before consensus")

	w := h.decidedWager(t)

	var tooLow *domain.StakeTooLowError
	_, err = h.engine.RaiseDispute(ctx, w.ID, carol, 99, "wrong call")
	require.ErrorAs(t, err, &tooLow)
	assert.Equal(t, uint64(100), tooLow.Minimum)

	_, err = h.engine.RaiseDispute(ctx, w.ID, carol, 200, "")
	require.ErrorIs(t, err, domain.ErrReasonLength)
	_, err = h.engine.RaiseDispute(ctx, w.ID, carol, 200, strings.Repeat("x", domain.MaxDisputeReasonLen+1))
	require.ErrorIs(t, err, domain.ErrReasonLength)

	d, err := h.engine.RaiseDispute(ctx, w.ID, carol, 200, "score fabricated")
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeCreatorWins, d.OriginalOutcome)

	_, err = h.engine.RaiseDispute(ctx, w.ID, dave, 200, "me too")
	require.ErrorIs(t, err, domain.ErrDisputeExists, "one challenge per wager")
	h.requireInvariants(t)
}

func TestRaiseDisputeWindowCloses(t *testing.T) {
	h := newHarness(t, defaultParams())
	ctx := context.Background()
	w := h.decidedWager(t)

	h.advance(defaultParams().DisputeWindow + time.Minute)
	_, err := h.engine.RaiseDispute(ctx, w.ID, carol, 200, "too late")
	require.ErrorIs(t, err, domain.ErrDisputeWindowClosed)
}

func TestRaiseDisputeBlockedAfterSettlement(t *testing.T) {
	h := newHarness(t, defaultParams())
	ctx := context.Background()
	w := h.decidedWager(t)

	_, err := h.engine.Settle(ctx, w.ID)
	require.NoError(t, err)
	_, err = h.engine.RaiseDispute(ctx, w.ID, carol, 200, "after the fact")
	require.ErrorIs(t, err, domain.ErrAlreadySettled)
}

func TestDisputeFreezesSettlement(t *testing.T) {
	h := newHarness(t, defaultParams())
	ctx := context.Background()
	w := h.decidedWager(t)

	_, err := h.engine.RaiseDispute(ctx, w.ID, carol, 200, "score fabricated")
	require.NoError(t, err)
	_, err = h.engine.Settle(ctx, w.ID)
	require.ErrorIs(t, err, domain.ErrDisputePending)

	_, err = h.engine.ResolveDispute(ctx, w.ID, keeper1, 100, true, false)
	require.NoError(t, err)
	_, err = h.engine.Settle(ctx, w.ID)
	require.NoError(t, err)
	h.requireInvariants(t)
}

func TestResolveDisputeUpheldSlashesStake(t *testing.T) {
	h := newHarness(t, defaultParams())
	ctx := context.Background()
	w := h.decidedWager(t)

	carolBefore := h.balance(t, carol)
	_, err := h.engine.RaiseDispute(ctx, w.ID, carol, 200, "score fabricated")
	require.NoError(t, err)
	require.Equal(t, carolBefore-200, h.balance(t, carol))

	// The resolver confirms the original call: same outcome, same score.
	d, err := h.engine.ResolveDispute(ctx, w.ID, keeper1, 100, true, false)
	require.NoError(t, err)
	assert.False(t, d.OutcomeChanged)
	assert.Empty(t, d.PenalizedKeepers)

	// Stake gone, absorbed into fees; no keeper penalized.
	assert.Equal(t, carolBefore-200, h.balance(t, carol))
	assert.Equal(t, uint64(200), h.engine.AccruedFees())
	assert.Contains(t, h.eventTypes(), domain.EventDisputeSlashed)
	assert.NotContains(t, h.eventTypes(), domain.EventKeeperPenalized)
	h.requireInvariants(t)
}

func TestResolveDisputeFlipRewardsChallengerAndPenalizesKeepers(t *testing.T) {
	h := newHarness(t, defaultParams())
	ctx := context.Background()
	w := h.decidedWager(t) // keepers voted +100, creator-wins

	carolBefore := h.balance(t, carol)
	_, err := h.engine.RaiseDispute(ctx, w.ID, carol, 200, "score fabricated")
	require.NoError(t, err)

	// Corrected to fillers-win at -20: both original votes are off by 120,
	// over the tolerance of 50.
	d, err := h.engine.ResolveDispute(ctx, w.ID, keeper1, -20, false, false)
	require.NoError(t, err)
	require.True(t, d.OutcomeChanged)
	assert.ElementsMatch(t, []domain.Address{keeper1, keeper2}, d.PenalizedKeepers)

	// Reward is 5% of the 2000 pot, paid on top of the returned stake.
	assert.Equal(t, carolBefore+100, h.balance(t, carol))
	rewarded := h.lastEvent(t, domain.EventDisputeRewarded).Payload.(domain.DisputeRewardedPayload)
	assert.Equal(t, uint64(200), rewarded.Refund)
	assert.Equal(t, uint64(100), rewarded.Reward)
	h.requireInvariants(t)

	// Settlement now follows the corrected outcome with the reduced pot.
	bobBefore := h.balance(t, bob)
	_, err = h.engine.Settle(ctx, w.ID)
	require.NoError(t, err)
	// Remaining pot 1900, fee floor(1900*10/10000) = 1.
	assert.Equal(t, uint64(1899), h.balance(t, bob)-bobBefore)
	h.requireInvariants(t)
}

func TestResolveDisputeKeepsAccurateKeepersUnpenalized(t *testing.T) {
	h := newHarness(t, defaultParams())
	ctx := context.Background()
	h.addKeeper(t, keeper2, keeper1)
	h.addKeeper(t, keeper3, keeper1, keeper2)
	w := h.createWager(t, alice, 1000, domain.EvenOddsBps)
	_, err := h.engine.Fill(ctx, w.ID, bob, 1000)
	require.NoError(t, err)

	// keeper3's score is within tolerance of the eventual correction.
	_, err = h.engine.ReportVote(ctx, w.ID, keeper1, 100, true)
	require.NoError(t, err)
	_, err = h.engine.ReportVote(ctx, w.ID, keeper3, -10, true)
	require.NoError(t, err)

	_, err = h.engine.RaiseDispute(ctx, w.ID, carol, 200, "score fabricated")
	require.NoError(t, err)
	d, err := h.engine.ResolveDispute(ctx, w.ID, keeper2, -30, false, false)
	require.NoError(t, err)

	require.True(t, d.OutcomeChanged)
	assert.Equal(t, []domain.Address{keeper1}, d.PenalizedKeepers)
	h.requireInvariants(t)
}

func TestResolveDisputeGuards(t *testing.T) {
	h := newHarness(t, defaultParams())
	ctx := context.Background()
	w := h.decidedWager(t)

	_, err := h.engine.ResolveDispute(ctx, w.ID, keeper1, 0, false, false)
	require.ErrorIs(t, err, domain.ErrNotFound, "no dispute to resolve")

	_, err = h.engine.RaiseDispute(ctx, w.ID, carol, 200, "score fabricated")
	require.NoError(t, err)

	_, err = h.engine.ResolveDispute(ctx, w.ID, alice, 100, true, false)
	require.ErrorIs(t, err, domain.ErrNotKeeper)

	_, err = h.engine.ResolveDispute(ctx, w.ID, keeper1, 100, true, false)
	require.NoError(t, err)
	_, err = h.engine.ResolveDispute(ctx, w.ID, keeper1, 100, true, false)
	require.ErrorIs(t, err, domain.ErrDisputeResolved)
}
