package engine

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openwager/wagerd/internal/domain"
)

func TestProposeKeeperGuards(t *testing.T) {
	h := newHarness(t, defaultParams())
	ctx := context.Background()

	_, err := h.engine.ProposeKeeper(ctx, alice, keeper2, "k2.example:9000", true)
	require.ErrorIs(t, err, domain.ErrNotKeeper, "only keepers propose")

	_, err = h.engine.ProposeKeeper(ctx, keeper1, keeper1, "k1.example:9000", true)
	require.ErrorIs(t, err, domain.ErrKeeperExists, "cannot re-add a member")

	_, err = h.engine.ProposeKeeper(ctx, keeper1, keeper2, "", false)
	require.ErrorIs(t, err, domain.ErrNotFound, "cannot remove a non-member")

	_, err = h.engine.ProposeKeeper(ctx, keeper1, keeper1, "", false)
	require.ErrorIs(t, err, domain.ErrLastKeeper, "set can never go empty")
}

func TestKeeperAddLifecycle(t *testing.T) {
	h := newHarness(t, defaultParams())
	ctx := context.Background()

	p, err := h.engine.ProposeKeeper(ctx, keeper1, keeper2, "k2.example:9000", true)
	require.NoError(t, err)

	// Unanimity of the current set is required; no votes yet.
	_, err = h.engine.ExecuteProposal(ctx, p.ID, keeper1)
	require.ErrorIs(t, err, domain.ErrQuorumNotReached)

	_, err = h.engine.VoteOnProposal(ctx, p.ID, keeper1, true)
	require.NoError(t, err)
	executed, err := h.engine.ExecuteProposal(ctx, p.ID, keeper1)
	require.NoError(t, err)
	assert.True(t, executed.Executed)

	keepers := h.engine.Keepers()
	require.Len(t, keepers, 2)
	assert.Equal(t, keeper2, keepers[1].Addr)
	assert.Equal(t, "k2.example:9000", keepers[1].Contact)
	assert.Contains(t, h.eventTypes(), domain.EventKeeperAdded)

	// Re-execution is rejected, not silently repeated.
	_, err = h.engine.ExecuteProposal(ctx, p.ID, keeper1)
	require.ErrorIs(t, err, domain.ErrProposalExecuted)
	assert.Len(t, h.engine.Keepers(), 2)
}

func TestKeeperRemoveRequiresUnanimity(t *testing.T) {
	h := newHarness(t, defaultParams())
	ctx := context.Background()
	h.addKeeper(t, keeper2, keeper1)
	h.addKeeper(t, keeper3, keeper1, keeper2)

	p, err := h.engine.ProposeKeeper(ctx, keeper1, keeper3, "", false)
	require.NoError(t, err)

	_, err = h.engine.VoteOnProposal(ctx, p.ID, keeper1, true)
	require.NoError(t, err)
	_, err = h.engine.VoteOnProposal(ctx, p.ID, keeper2, true)
	require.NoError(t, err)

	// keeper3 has not approved its own removal; two of three is not enough.
	_, err = h.engine.ExecuteProposal(ctx, p.ID, keeper1)
	require.ErrorIs(t, err, domain.ErrQuorumNotReached)

	_, err = h.engine.VoteOnProposal(ctx, p.ID, keeper3, true)
	require.NoError(t, err)
	_, err = h.engine.ExecuteProposal(ctx, p.ID, keeper1)
	require.NoError(t, err)

	keepers := h.engine.Keepers()
	require.Len(t, keepers, 2)
	for _, k := range keepers {
		assert.NotEqual(t, keeper3, k.Addr)
	}
	assert.Contains(t, h.eventTypes(), domain.EventKeeperRemoved)
}

func TestProposalVoteGuards(t *testing.T) {
	h := newHarness(t, defaultParams())
	ctx := context.Background()

	p, err := h.engine.ProposeKeeper(ctx, keeper1, keeper2, "k2.example:9000", true)
	require.NoError(t, err)

	_, err = h.engine.VoteOnProposal(ctx, p.ID, alice, true)
	require.ErrorIs(t, err, domain.ErrNotKeeper)

	unknown := p.ID
	unknown[0] ^= 0xff
	_, err = h.engine.VoteOnProposal(ctx, unknown, keeper1, true)
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = h.engine.VoteOnProposal(ctx, p.ID, keeper1, true)
	require.NoError(t, err)
	_, err = h.engine.VoteOnProposal(ctx, p.ID, keeper1, false)
	require.ErrorIs(t, err, domain.ErrAlreadyVoted, "votes are final")
}

func TestProposalExpiry(t *testing.T) {
	h := newHarness(t, defaultParams())
	ctx := context.Background()

	p, err := h.engine.ProposeKeeper(ctx, keeper1, keeper2, "k2.example:9000", true)
	require.NoError(t, err)
	_, err = h.engine.VoteOnProposal(ctx, p.ID, keeper1, true)
	require.NoError(t, err)

	h.advance(domain.ProposalTTL + time.Second)

	_, err = h.engine.ExecuteProposal(ctx, p.ID, keeper1)
	require.ErrorIs(t, err, domain.ErrProposalExpired)

	p2, err := h.engine.ProposeKeeper(ctx, keeper1, keeper3, "k3.example:9000", true)
	require.NoError(t, err)
	h.advance(domain.ProposalTTL + time.Second)
	_, err = h.engine.VoteOnProposal(ctx, p2.ID, keeper1, true)
	require.ErrorIs(t, err, domain.ErrProposalExpired)
}

func TestExpiredProposalsPruned(t *testing.T) {
	h := newHarness(t, defaultParams())
	ctx := context.Background()

	// Observed expiry drops the proposal entirely.
	p, err := h.engine.ProposeKeeper(ctx, keeper1, keeper2, "k2.example:9000", true)
	require.NoError(t, err)
	h.advance(domain.ProposalTTL + time.Second)
	_, err = h.engine.VoteOnProposal(ctx, p.ID, keeper1, true)
	require.ErrorIs(t, err, domain.ErrProposalExpired)
	_, err = h.engine.VoteOnProposal(ctx, p.ID, keeper1, true)
	require.ErrorIs(t, err, domain.ErrNotFound)
	assert.Empty(t, h.engine.Proposals(domain.ListOpts{}))

	// Sweep prunes expired proposals nobody touched again.
	_, err = h.engine.ProposeKeeper(ctx, keeper1, keeper3, "k3.example:9000", true)
	require.NoError(t, err)
	h.advance(domain.ProposalTTL + time.Second)
	_, err = h.engine.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Empty(t, h.engine.Proposals(domain.ListOpts{}))
}

func TestRemovedKeeperVoteNoLongerCounts(t *testing.T) {
	// A stale approval from a since-removed keeper must not satisfy
	// unanimity; only the current membership is polled at execution.
	h := newHarness(t, defaultParams())
	ctx := context.Background()
	h.addKeeper(t, keeper2, keeper1)

	p, err := h.engine.ProposeKeeper(ctx, keeper1, keeper3, "k3.example:9000", true)
	require.NoError(t, err)
	_, err = h.engine.VoteOnProposal(ctx, p.ID, keeper2, true)
	require.NoError(t, err)

	// keeper2 leaves before keeper1 votes on the original proposal.
	rm, err := h.engine.ProposeKeeper(ctx, keeper1, keeper2, "", false)
	require.NoError(t, err)
	for _, v := range []domain.Address{keeper1, keeper2} {
		_, err = h.engine.VoteOnProposal(ctx, rm.ID, v, true)
		require.NoError(t, err)
	}
	_, err = h.engine.ExecuteProposal(ctx, rm.ID, keeper1)
	require.NoError(t, err)

	// keeper1 is now the whole set and has approved, so execution passes
	// regardless of keeper2's stale vote.
	_, err = h.engine.ExecuteProposal(ctx, p.ID, keeper1)
	require.ErrorIs(t, err, domain.ErrQuorumNotReached)
	_, err = h.engine.VoteOnProposal(ctx, p.ID, keeper1, true)
	require.NoError(t, err)
	_, err = h.engine.ExecuteProposal(ctx, p.ID, keeper1)
	require.NoError(t, err)
	assert.Len(t, h.engine.Keepers(), 2)
}

func TestProposalsListing(t *testing.T) {
	h := newHarness(t, defaultParams())
	ctx := context.Background()

	ids := make(map[uuid.UUID]bool)
	for _, target := range []domain.Address{keeper2, keeper3, alice} {
		p, err := h.engine.ProposeKeeper(ctx, keeper1, target, "x.example:9000", true)
		require.NoError(t, err)
		ids[p.ID] = true
	}

	all := h.engine.Proposals(domain.ListOpts{})
	require.Len(t, all, 3)
	for _, p := range all {
		assert.True(t, ids[p.ID])
	}

	page := h.engine.Proposals(domain.ListOpts{Limit: 2})
	assert.Len(t, page, 2)
	rest := h.engine.Proposals(domain.ListOpts{Offset: 2})
	assert.Len(t, rest, 1)
	assert.Empty(t, h.engine.Proposals(domain.ListOpts{Offset: 5}))
}
