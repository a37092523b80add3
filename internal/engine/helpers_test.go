package engine

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/openwager/wagerd/internal/collateral"
	"github.com/openwager/wagerd/internal/domain"
)

var (
	vaultAddr    = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	treasuryAddr = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	alice        = common.HexToAddress("0x0000000000000000000000000000000000000001")
	bob          = common.HexToAddress("0x0000000000000000000000000000000000000002")
	carol        = common.HexToAddress("0x0000000000000000000000000000000000000003")
	dave         = common.HexToAddress("0x0000000000000000000000000000000000000004")
	keeper1      = common.HexToAddress("0x0000000000000000000000000000000000000011")
	keeper2      = common.HexToAddress("0x0000000000000000000000000000000000000012")
	keeper3      = common.HexToAddress("0x0000000000000000000000000000000000000013")
)

// testHarness bundles an engine with its in-memory collateral ledger, a
// controllable clock, and an event recorder.
type testHarness struct {
	engine *Engine
	ledger *collateral.MemoryLedger
	clock  time.Time
	events []domain.Event
}

func defaultParams() Params {
	return Params{
		FeeBps:           10, // 0.1%
		MaxFillers:       16,
		MinDisputeStake:  100,
		DisputeWindow:    24 * time.Hour,
		DisputeRewardBps: 500, // 5%
		ScoreTolerance:   50,
	}
}

func newHarness(t *testing.T, params Params) *testHarness {
	t.Helper()

	ledger := collateral.NewMemoryLedger(0) // decimals 0: stakes in smallest units directly
	eng, err := New(params, ledger, vaultAddr, treasuryAddr,
		domain.Keeper{Addr: keeper1, Contact: "keeper1.example:9000"},
		slog.New(slog.DiscardHandler),
	)
	require.NoError(t, err)

	h := &testHarness{engine: eng, ledger: ledger, clock: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	eng.SetClock(func() time.Time { return h.clock })
	eng.SetSink(func(ev domain.Event) { h.events = append(h.events, ev) })

	for _, a := range []domain.Address{alice, bob, carol, dave, keeper1, keeper2, keeper3} {
		h.fund(a, 1_000_000)
	}
	return h
}

func (h *testHarness) fund(a domain.Address, amount uint64) {
	h.ledger.Mint(a, amount)
	h.ledger.Approve(a, vaultAddr, 1<<62)
}

func (h *testHarness) advance(d time.Duration) { h.clock = h.clock.Add(d) }

func (h *testHarness) balance(t *testing.T, a domain.Address) uint64 {
	t.Helper()
	bal, err := h.ledger.BalanceOf(context.Background(), a)
	require.NoError(t, err)
	return bal
}

func (h *testHarness) requireInvariants(t *testing.T) {
	t.Helper()
	require.NoError(t, h.engine.CheckInvariants(context.Background()))
}

func (h *testHarness) eventTypes() []domain.EventType {
	out := make([]domain.EventType, 0, len(h.events))
	for _, ev := range h.events {
		out = append(out, ev.Type)
	}
	return out
}

func (h *testHarness) lastEvent(t *testing.T, typ domain.EventType) domain.Event {
	t.Helper()
	for i := len(h.events) - 1; i >= 0; i-- {
		if h.events[i].Type == typ {
			return h.events[i]
		}
	}
	t.Fatalf("no %s event recorded", typ)
	return domain.Event{}
}

// createWager is a shorthand for a plain wager with no deadline.
func (h *testHarness) createWager(t *testing.T, creator domain.Address, stake uint64, oddsBps uint32) domain.Wager {
	t.Helper()
	w, err := h.engine.Create(context.Background(), creator, "content/abc", "preview/abc", stake, oddsBps, nil)
	require.NoError(t, err)
	return w
}

// reachConsensus adds keeper2 via governance so quorum is reachable, fills
// nothing; callers are expected to have a fully matched wager already.
func (h *testHarness) addKeeper(t *testing.T, target domain.Address, voters ...domain.Address) {
	t.Helper()
	ctx := context.Background()
	p, err := h.engine.ProposeKeeper(ctx, voters[0], target, target.Hex()+".example:9000", true)
	require.NoError(t, err)
	for _, v := range voters {
		_, err = h.engine.VoteOnProposal(ctx, p.ID, v, true)
		require.NoError(t, err)
	}
	_, err = h.engine.ExecuteProposal(ctx, p.ID, voters[0])
	require.NoError(t, err)
}
