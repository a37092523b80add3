package service

import (
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openwager/wagerd/internal/domain"
)

var svcKeeper3 = common.HexToAddress("0x0000000000000000000000000000000000000013")

type memKeeperStore struct {
	mu        sync.Mutex
	keepers   map[domain.Address]domain.Keeper
	proposals map[uuid.UUID]domain.KeeperProposal
}

func newMemKeeperStore() *memKeeperStore {
	return &memKeeperStore{
		keepers:   make(map[domain.Address]domain.Keeper),
		proposals: make(map[uuid.UUID]domain.KeeperProposal),
	}
}

func (m *memKeeperStore) SaveKeeper(_ context.Context, k domain.Keeper) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keepers[k.Addr] = k
	return nil
}

func (m *memKeeperStore) DeleteKeeper(_ context.Context, addr domain.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keepers, addr)
	return nil
}

func (m *memKeeperStore) ListKeepers(context.Context) ([]domain.Keeper, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Keeper, 0, len(m.keepers))
	for _, k := range m.keepers {
		out = append(out, k)
	}
	return out, nil
}

func (m *memKeeperStore) SaveProposal(_ context.Context, p domain.KeeperProposal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.proposals[p.ID] = p
	return nil
}

func (m *memKeeperStore) GetProposal(_ context.Context, id uuid.UUID) (domain.KeeperProposal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.proposals[id]
	if !ok {
		return domain.KeeperProposal{}, domain.ErrNotFound
	}
	return p, nil
}

func (m *memKeeperStore) ListProposals(context.Context, domain.ListOpts) ([]domain.KeeperProposal, error) {
	return nil, nil
}

func newKeeperSvc(t *testing.T, h *svcHarness) (*KeeperService, *memKeeperStore) {
	t.Helper()
	store := newMemKeeperStore()
	svc := NewKeeperService(h.engine, store, h.wagers, h.state, h.cache, h.locks,
		slog.New(slog.DiscardHandler))
	return svc, store
}

func TestGovernanceLifecycleJournalsProposalAndKeeper(t *testing.T) {
	h := newSvcHarness(t)
	svc, store := newKeeperSvc(t, h)
	ctx := context.Background()

	p, err := svc.ProposeKeeper(ctx, svcKeeper, svcKeeper3, "keeper3.example:9000", true)
	require.NoError(t, err)
	saved, err := store.GetProposal(ctx, p.ID)
	require.NoError(t, err)
	assert.False(t, saved.Executed)

	for _, voter := range []domain.Address{svcKeeper, svcKeeper2} {
		_, err = svc.VoteOnProposal(ctx, p.ID, voter, true)
		require.NoError(t, err)
	}

	executed, err := svc.ExecuteProposal(ctx, p.ID, svcKeeper)
	require.NoError(t, err)
	assert.True(t, executed.Executed)

	// The proposal journal reflects execution and the new keeper was saved.
	saved, err = store.GetProposal(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, saved.Executed)
	assert.Contains(t, store.keepers, svcKeeper3)
	assert.Len(t, svc.Keepers(), 3)
}

func TestRemovalJournalsKeeperDeletion(t *testing.T) {
	h := newSvcHarness(t)
	svc, store := newKeeperSvc(t, h)
	ctx := context.Background()

	add, err := svc.ProposeKeeper(ctx, svcKeeper, svcKeeper3, "keeper3.example:9000", true)
	require.NoError(t, err)
	for _, voter := range []domain.Address{svcKeeper, svcKeeper2} {
		_, err = svc.VoteOnProposal(ctx, add.ID, voter, true)
		require.NoError(t, err)
	}
	_, err = svc.ExecuteProposal(ctx, add.ID, svcKeeper)
	require.NoError(t, err)

	remove, err := svc.ProposeKeeper(ctx, svcKeeper, svcKeeper3, "", false)
	require.NoError(t, err)
	for _, voter := range []domain.Address{svcKeeper, svcKeeper2, svcKeeper3} {
		_, err = svc.VoteOnProposal(ctx, remove.ID, voter, true)
		require.NoError(t, err)
	}
	_, err = svc.ExecuteProposal(ctx, remove.ID, svcKeeper)
	require.NoError(t, err)

	assert.NotContains(t, store.keepers, svcKeeper3)
	assert.Len(t, svc.Keepers(), 2)
}

func TestReportVoteJournalsConsensus(t *testing.T) {
	h := newSvcHarness(t)
	svc, _ := newKeeperSvc(t, h)
	ctx := context.Background()

	w := h.createEven(t, 1000)
	_, err := h.svc.Fill(ctx, w.ID, svcBob, 1000)
	require.NoError(t, err)

	rec, err := svc.ReportVote(ctx, w.ID, svcKeeper, 42, true)
	require.NoError(t, err)
	assert.False(t, rec.Decided, "one vote of two is short of quorum")

	rec, err = svc.ReportVote(ctx, w.ID, svcKeeper2, 44, true)
	require.NoError(t, err)
	assert.True(t, rec.Decided)

	stored := h.wagers.get(t, w.ID)
	require.NotNil(t, stored.Consensus)
	assert.True(t, stored.Consensus.Decided)
}

func TestDisputeRaiseAndResolveJournal(t *testing.T) {
	h := newSvcHarness(t)
	svc, _ := newKeeperSvc(t, h)
	ctx := context.Background()

	w := h.createEven(t, 1000)
	_, err := h.svc.Fill(ctx, w.ID, svcBob, 1000)
	require.NoError(t, err)
	h.decideOutcome(t, w.ID, 42, true)

	_, err = svc.RaiseDispute(ctx, w.ID, svcBob, 100, "score was misread")
	require.NoError(t, err)
	stored := h.wagers.get(t, w.ID)
	require.NotNil(t, stored.Dispute)

	// Upheld resolution slashes the stake into fees, which must be journaled.
	d, err := svc.ResolveDispute(ctx, w.ID, svcKeeper, 42, true, false)
	require.NoError(t, err)
	assert.False(t, d.OutcomeChanged)
	assert.Equal(t, h.engine.AccruedFees(), h.state.fees)
	assert.Equal(t, uint64(100), h.state.fees)
}

func TestWithdrawFeesJournalsZeroedAccrual(t *testing.T) {
	h := newSvcHarness(t)
	svc, _ := newKeeperSvc(t, h)
	ctx := context.Background()

	w := h.createEven(t, 1000)
	_, err := h.svc.Fill(ctx, w.ID, svcBob, 1000)
	require.NoError(t, err)
	h.decideOutcome(t, w.ID, 42, true)
	_, err = h.svc.Settle(ctx, w.ID)
	require.NoError(t, err)
	require.Equal(t, uint64(2), h.state.fees)

	amount, err := svc.WithdrawFees(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), amount)
	assert.Zero(t, h.state.fees)
	assert.Zero(t, svc.AccruedFees())
}
