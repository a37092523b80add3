package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openwager/wagerd/internal/collateral"
	"github.com/openwager/wagerd/internal/domain"
	"github.com/openwager/wagerd/internal/engine"
)

var (
	svcVault    = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	svcTreasury = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	svcAlice    = common.HexToAddress("0x0000000000000000000000000000000000000001")
	svcBob      = common.HexToAddress("0x0000000000000000000000000000000000000002")
	svcKeeper   = common.HexToAddress("0x0000000000000000000000000000000000000011")
	svcKeeper2  = common.HexToAddress("0x0000000000000000000000000000000000000012")
)

// ---------------------------------------------------------------------------
// In-memory fakes for the infrastructure ports.
// ---------------------------------------------------------------------------

type memWagerStore struct {
	mu       sync.Mutex
	snaps    map[uuid.UUID]domain.WagerSnapshot
	saves    int
	failSave bool
}

func newMemWagerStore() *memWagerStore {
	return &memWagerStore{snaps: make(map[uuid.UUID]domain.WagerSnapshot)}
}

func (m *memWagerStore) Save(_ context.Context, snap domain.WagerSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if m.failSave {
		return fmt.Errorf("store down")
	}
	m.snaps[snap.Wager.ID] = snap
	return nil
}

func (m *memWagerStore) GetByID(_ context.Context, id uuid.UUID) (domain.WagerSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.snaps[id]
	if !ok {
		return domain.WagerSnapshot{}, domain.ErrNotFound
	}
	return snap, nil
}

func (m *memWagerStore) List(context.Context, domain.WagerStatus, domain.ListOpts) ([]domain.Wager, error) {
	return nil, nil
}

func (m *memWagerStore) LoadAll(context.Context) ([]domain.WagerSnapshot, error) {
	return nil, nil
}

func (m *memWagerStore) Count(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.snaps)), nil
}

func (m *memWagerStore) get(t *testing.T, id uuid.UUID) domain.WagerSnapshot {
	t.Helper()
	snap, err := m.GetByID(context.Background(), id)
	require.NoError(t, err)
	return snap
}

type memStateStore struct {
	mu    sync.Mutex
	fees  uint64
	saves int
}

func (m *memStateStore) SaveAccruedFees(_ context.Context, amount uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fees = amount
	m.saves++
	return nil
}

func (m *memStateStore) LoadAccruedFees(context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fees, nil
}

type memCache struct {
	mu    sync.Mutex
	snaps map[uuid.UUID]domain.WagerSnapshot
	sets  int
}

func newMemCache() *memCache {
	return &memCache{snaps: make(map[uuid.UUID]domain.WagerSnapshot)}
}

func (m *memCache) Set(_ context.Context, snap domain.WagerSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps[snap.Wager.ID] = snap
	m.sets++
	return nil
}

func (m *memCache) Get(_ context.Context, id uuid.UUID) (domain.WagerSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.snaps[id]
	if !ok {
		return domain.WagerSnapshot{}, domain.ErrNotFound
	}
	return snap, nil
}

func (m *memCache) Invalidate(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.snaps, id)
	return nil
}

func (m *memCache) clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps = make(map[uuid.UUID]domain.WagerSnapshot)
}

type memContent struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemContent() *memContent {
	return &memContent{objects: make(map[string][]byte)}
}

func (m *memContent) Put(_ context.Context, key string, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = append([]byte(nil), data...)
	return key, nil
}

func (m *memContent) Get(_ context.Context, ref string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[ref]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return data, nil
}

type memLocks struct {
	mu       sync.Mutex
	held     bool
	acquired int
	released int
}

func (m *memLocks) Acquire(_ context.Context, _ string, _ time.Duration) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held {
		return nil, fmt.Errorf("lock: %w", domain.ErrLockHeld)
	}
	m.acquired++
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.released++
	}, nil
}

// ---------------------------------------------------------------------------
// Harness
// ---------------------------------------------------------------------------

type svcHarness struct {
	svc     *WagerService
	engine  *engine.Engine
	ledger  *collateral.MemoryLedger
	wagers  *memWagerStore
	state   *memStateStore
	cache   *memCache
	content *memContent
	locks   *memLocks
	clock   time.Time
}

func newSvcHarness(t *testing.T) *svcHarness {
	t.Helper()

	ledger := collateral.NewMemoryLedger(0)
	eng, err := engine.New(engine.Params{
		FeeBps:           10,
		MaxFillers:       16,
		MinDisputeStake:  100,
		DisputeWindow:    24 * time.Hour,
		DisputeRewardBps: 500,
		ScoreTolerance:   50,
	}, ledger, svcVault, svcTreasury,
		domain.Keeper{Addr: svcKeeper, Contact: "keeper.example:9000"},
		slog.New(slog.DiscardHandler),
	)
	require.NoError(t, err)

	h := &svcHarness{
		engine:  eng,
		ledger:  ledger,
		wagers:  newMemWagerStore(),
		state:   &memStateStore{},
		cache:   newMemCache(),
		content: newMemContent(),
		locks:   &memLocks{},
		clock:   time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	eng.SetClock(func() time.Time { return h.clock })

	for _, a := range []domain.Address{svcAlice, svcBob} {
		ledger.Mint(a, 1_000_000)
		ledger.Approve(a, svcVault, 1<<62)
	}

	// Outcome quorum needs at least two keepers; the second is seated
	// through governance, the same path production takes.
	ctx := context.Background()
	p, err := eng.ProposeKeeper(ctx, svcKeeper, svcKeeper2, "keeper2.example:9000", true)
	require.NoError(t, err)
	_, err = eng.VoteOnProposal(ctx, p.ID, svcKeeper, true)
	require.NoError(t, err)
	_, err = eng.ExecuteProposal(ctx, p.ID, svcKeeper)
	require.NoError(t, err)

	h.svc = NewWagerService(eng, h.wagers, h.state, h.cache, h.content, h.locks,
		slog.New(slog.DiscardHandler))
	return h
}

// decideOutcome reaches consensus by casting both keeper votes.
func (h *svcHarness) decideOutcome(t *testing.T, id uuid.UUID, score int64, creatorWins bool) {
	t.Helper()
	ctx := context.Background()
	_, err := h.engine.ReportVote(ctx, id, svcKeeper, score, creatorWins)
	require.NoError(t, err)
	_, err = h.engine.ReportVote(ctx, id, svcKeeper2, score, creatorWins)
	require.NoError(t, err)
}

func (h *svcHarness) createEven(t *testing.T, stake uint64) domain.Wager {
	t.Helper()
	w, err := h.svc.Create(context.Background(), CreateWagerParams{
		Creator:    svcAlice,
		ContentRef: "content/abc/content",
		PreviewRef: "content/abc/preview",
		Stake:      stake,
		OddsBps:    domain.EvenOddsBps,
	})
	require.NoError(t, err)
	return w
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestCreateStoresRawContentAndJournals(t *testing.T) {
	h := newSvcHarness(t)
	ctx := context.Background()

	w, err := h.svc.Create(ctx, CreateWagerParams{
		Creator: svcAlice,
		Content: []byte("final score exceeds 3 goals"),
		Preview: []byte("over 3 goals"),
		Stake:   1000,
		OddsBps: domain.EvenOddsBps,
	})
	require.NoError(t, err)

	// Both objects landed in the content store and the refs are distinct.
	assert.Len(t, h.content.objects, 2)
	assert.NotEqual(t, w.ContentRef, w.PreviewRef)
	data, err := h.content.Get(ctx, w.ContentRef)
	require.NoError(t, err)
	assert.Equal(t, []byte("final score exceeds 3 goals"), data)

	// Journaled and cached.
	snap := h.wagers.get(t, w.ID)
	assert.Equal(t, domain.WagerStatusPending, snap.Wager.Status)
	cached, err := h.cache.Get(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, w.ID, cached.Wager.ID)
}

func TestCreatePreviewFallsBackToContent(t *testing.T) {
	h := newSvcHarness(t)

	w, err := h.svc.Create(context.Background(), CreateWagerParams{
		Creator: svcAlice,
		Content: []byte("proposition"),
		Stake:   1000,
		OddsBps: domain.EvenOddsBps,
	})
	require.NoError(t, err)

	preview, err := h.content.Get(context.Background(), w.PreviewRef)
	require.NoError(t, err)
	assert.Equal(t, []byte("proposition"), preview)
}

func TestCreateWithRefsSkipsContentStore(t *testing.T) {
	h := newSvcHarness(t)

	h.createEven(t, 1000)
	assert.Empty(t, h.content.objects)
}

func TestFillJournalsUnderLock(t *testing.T) {
	h := newSvcHarness(t)
	w := h.createEven(t, 1000)

	filled, err := h.svc.Fill(context.Background(), w.ID, svcBob, 400)
	require.NoError(t, err)
	assert.Equal(t, uint64(400), filled.Matched)
	assert.Equal(t, domain.WagerStatusPartiallyMatched, filled.Status)

	assert.Equal(t, 1, h.locks.acquired)
	assert.Equal(t, 1, h.locks.released)

	snap := h.wagers.get(t, w.ID)
	assert.Equal(t, uint64(400), snap.Wager.Matched)
	require.Len(t, snap.Fills, 1)
	assert.Equal(t, svcBob, snap.Fills[0].Filler)
}

func TestFillLockContention(t *testing.T) {
	h := newSvcHarness(t)
	w := h.createEven(t, 1000)
	savesAfterCreate := h.wagers.saves

	h.locks.held = true
	_, err := h.svc.Fill(context.Background(), w.ID, svcBob, 400)
	require.ErrorIs(t, err, domain.ErrLockHeld)

	// The engine was never touched and nothing extra was journaled.
	assert.Equal(t, savesAfterCreate, h.wagers.saves)
	snap, err := h.svc.Get(context.Background(), w.ID)
	require.NoError(t, err)
	assert.Zero(t, snap.Wager.Matched)
}

func TestSettleJournalsSnapshotAndFees(t *testing.T) {
	h := newSvcHarness(t)
	ctx := context.Background()
	w := h.createEven(t, 1000)

	_, err := h.svc.Fill(ctx, w.ID, svcBob, 1000)
	require.NoError(t, err)

	h.decideOutcome(t, w.ID, 42, true)

	snap, err := h.svc.Settle(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.WagerStatusSettled, snap.Wager.Status)

	stored := h.wagers.get(t, w.ID)
	assert.Equal(t, domain.WagerStatusSettled, stored.Wager.Status)

	// 10 bps of the 2000 pot.
	assert.Equal(t, uint64(2), h.state.fees)
	assert.Equal(t, h.engine.AccruedFees(), h.state.fees)
}

func TestGetCacheMissFallsBackAndBackfills(t *testing.T) {
	h := newSvcHarness(t)
	ctx := context.Background()
	w := h.createEven(t, 1000)

	h.cache.clear()
	setsBefore := h.cache.sets

	snap, err := h.svc.Get(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, w.ID, snap.Wager.ID)
	assert.Equal(t, setsBefore+1, h.cache.sets)

	// Second read is served from the back-filled cache.
	_, err = h.cache.Get(ctx, w.ID)
	require.NoError(t, err)
}

func TestGetUnknownWager(t *testing.T) {
	h := newSvcHarness(t)

	_, err := h.svc.Get(context.Background(), uuid.New())
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSweepExpiredJournalsEachTransition(t *testing.T) {
	h := newSvcHarness(t)
	ctx := context.Background()

	deadline := h.clock.Add(time.Hour)
	w, err := h.svc.Create(ctx, CreateWagerParams{
		Creator:    svcAlice,
		ContentRef: "content/abc/content",
		PreviewRef: "content/abc/preview",
		Stake:      1000,
		OddsBps:    domain.EvenOddsBps,
		Deadline:   &deadline,
	})
	require.NoError(t, err)

	h.clock = h.clock.Add(2 * time.Hour)

	n, err := h.svc.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stored := h.wagers.get(t, w.ID)
	assert.Equal(t, domain.WagerStatusCancelled, stored.Wager.Status)
}

func TestJournalFailureDoesNotFailOperation(t *testing.T) {
	h := newSvcHarness(t)
	w := h.createEven(t, 1000)

	h.wagers.failSave = true
	filled, err := h.svc.Fill(context.Background(), w.ID, svcBob, 400)
	require.NoError(t, err)
	assert.Equal(t, uint64(400), filled.Matched)

	// The engine advanced even though the journal write was dropped.
	snap, err := h.engine.Snapshot(w.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(400), snap.Wager.Matched)
}

func TestSettleBatchJournalsSettledOnly(t *testing.T) {
	h := newSvcHarness(t)
	ctx := context.Background()

	decided := h.createEven(t, 1000)
	_, err := h.svc.Fill(ctx, decided.ID, svcBob, 1000)
	require.NoError(t, err)
	h.decideOutcome(t, decided.ID, 10, true)

	undecided := h.createEven(t, 500)

	bits, settled, err := h.svc.SettleBatch(ctx, []uuid.UUID{decided.ID, undecided.ID}, false)
	require.NoError(t, err)
	require.NotNil(t, bits)
	assert.True(t, bits.Get(0), "creator won the decided wager")
	assert.False(t, bits.Get(1), "skipped wager leaves its bit clear")
	require.Len(t, settled, 1)
	assert.Equal(t, decided.ID, settled[0])

	assert.Equal(t, domain.WagerStatusSettled, h.wagers.get(t, decided.ID).Wager.Status)
	assert.Equal(t, domain.WagerStatusPending, h.wagers.get(t, undecided.ID).Wager.Status)
	assert.Equal(t, h.engine.AccruedFees(), h.state.fees)
}
