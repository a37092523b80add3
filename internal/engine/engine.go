// Package engine implements the wagering ledger core: escrow, matching,
// settlement, keeper governance, outcome consensus, and dispute arbitration.
//
// All state lives in a single mutex-guarded arena so every state-mutating
// operation executes as one atomic sequential step. Operations validate
// first, then mutate, and only then call the external collateral ledger, so
// no caller can ever observe a partially applied mutation. Deadline expiry
// is evaluated lazily whenever an operation touches a wager; there is no
// background scheduler.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/bits"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openwager/wagerd/internal/domain"
)

// Params is the immutable configuration of the ledger core, validated and
// fixed at construction.
type Params struct {
	// FeeBps is the platform fee in basis points of the total pot.
	FeeBps uint32
	// MaxFillers caps the number of fill records per wager, bounding the
	// iteration cost of settlement.
	MaxFillers int
	// MinDisputeStake is the minimum challenge stake in whole tokens; it is
	// scaled by the collateral token's decimals at construction.
	MinDisputeStake uint64
	// DisputeWindow is how long after consensus a challenge may be raised.
	DisputeWindow time.Duration
	// DisputeRewardBps is the successful challenger's reward in basis points
	// of the total pot, funded from the pot itself.
	DisputeRewardBps uint32
	// ScoreTolerance is the absolute score error beyond which a keeper's
	// original vote counts as provably wrong during dispute resolution.
	ScoreTolerance int64
}

// Validate checks the parameter set for values the ledger cannot run with.
func (p Params) Validate() error {
	if p.FeeBps >= domain.EvenOddsBps {
		return fmt.Errorf("engine: fee_bps %d must be below 10000", p.FeeBps)
	}
	if p.MaxFillers < 1 {
		return fmt.Errorf("engine: max_fillers must be >= 1, got %d", p.MaxFillers)
	}
	if p.DisputeWindow <= 0 {
		return fmt.Errorf("engine: dispute_window must be positive, got %s", p.DisputeWindow)
	}
	if p.DisputeRewardBps >= domain.EvenOddsBps {
		return fmt.Errorf("engine: dispute_reward_bps %d must be below 10000", p.DisputeRewardBps)
	}
	if p.ScoreTolerance < 0 {
		return fmt.Errorf("engine: score_tolerance must be >= 0, got %d", p.ScoreTolerance)
	}
	return nil
}

// wagerState is the engine's full record for one wager.
type wagerState struct {
	wager     domain.Wager
	fills     []domain.Fill
	consensus *domain.ConsensusRecord
	dispute   *domain.Dispute
	// potDebit is the portion of the pot already paid out ahead of
	// settlement (the successful challenger's reward).
	potDebit uint64
}

func (ws *wagerState) snapshot() domain.WagerSnapshot {
	snap := domain.WagerSnapshot{
		Wager:    ws.wager,
		Fills:    append([]domain.Fill(nil), ws.fills...),
		PotDebit: ws.potDebit,
	}
	if ws.consensus != nil {
		c := *ws.consensus
		c.Votes = append([]domain.OutcomeVote(nil), ws.consensus.Votes...)
		snap.Consensus = &c
	}
	if ws.dispute != nil {
		d := *ws.dispute
		d.PenalizedKeepers = append([]domain.Address(nil), ws.dispute.PenalizedKeepers...)
		snap.Dispute = &d
	}
	return snap
}

// pot returns the wager's distributable pot: creator stake plus matched
// amount, minus anything already paid out ahead of settlement.
func (ws *wagerState) pot() uint64 {
	return ws.wager.CreatorStake + ws.wager.Matched - ws.potDebit
}

// Engine is the wagering ledger core. All exported methods are safe for
// concurrent use; each runs to completion under the engine mutex.
type Engine struct {
	mu     sync.Mutex
	params Params

	collateral domain.CollateralLedger
	// vault is the pooled escrow account. Creators and fillers must grant
	// it an allowance before their stakes can be pulled.
	vault    domain.Address
	treasury domain.Address

	// minDisputeStake is Params.MinDisputeStake scaled to smallest units.
	minDisputeStake uint64

	wagers    map[uuid.UUID]*wagerState
	keepers   []domain.Keeper
	proposals map[uuid.UUID]*domain.KeeperProposal
	// pendingContacts holds the contact endpoint proposed for a keeper
	// addition until the proposal executes or expires.
	pendingContacts map[uuid.UUID]string

	accruedFees uint64

	now    func() time.Time
	sink   func(domain.Event)
	logger *slog.Logger
}

// New creates an Engine with the given immutable parameters, collateral
// ledger capability, escrow vault and treasury accounts, and the initial
// keeper. The token's decimals are read exactly once here to scale the
// minimum dispute stake.
func New(params Params, ledger domain.CollateralLedger, vault, treasury domain.Address, initialKeeper domain.Keeper, logger *slog.Logger) (*Engine, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if ledger == nil {
		return nil, fmt.Errorf("engine: collateral ledger is required")
	}
	if initialKeeper.Addr == (domain.Address{}) {
		return nil, fmt.Errorf("engine: initial keeper address is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	scale := uint64(1)
	for i := uint8(0); i < ledger.Decimals(); i++ {
		if scale > math.MaxUint64/10 {
			return nil, fmt.Errorf("engine: collateral decimals %d exceed the stake scale", ledger.Decimals())
		}
		scale *= 10
	}
	if scale > 0 && params.MinDisputeStake > math.MaxUint64/scale {
		return nil, fmt.Errorf("engine: min_dispute_stake %d overflows at %d decimals",
			params.MinDisputeStake, ledger.Decimals())
	}

	e := &Engine{
		params:          params,
		collateral:      ledger,
		vault:           vault,
		treasury:        treasury,
		minDisputeStake: params.MinDisputeStake * scale,
		wagers:          make(map[uuid.UUID]*wagerState),
		keepers:         []domain.Keeper{initialKeeper},
		proposals:       make(map[uuid.UUID]*domain.KeeperProposal),
		pendingContacts: make(map[uuid.UUID]string),
		now:             time.Now,
		sink:            func(domain.Event) {},
		logger:          logger.With(slog.String("component", "engine")),
	}
	return e, nil
}

// SetSink installs the event sink. The sink is invoked synchronously inside
// the operation that produced the event and must not call back into the
// engine.
func (e *Engine) SetSink(fn func(domain.Event)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if fn != nil {
		e.sink = fn
	}
}

// SetClock overrides the engine clock. Test hook.
func (e *Engine) SetClock(now func() time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.now = now
}

func (e *Engine) emit(t domain.EventType, payload any) {
	e.sink(domain.Event{Type: t, At: e.now(), Payload: payload})
}

// Snapshot returns a deep copy of the wager's full record.
func (e *Engine) Snapshot(id uuid.UUID) (domain.WagerSnapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ws, ok := e.wagers[id]
	if !ok {
		return domain.WagerSnapshot{}, fmt.Errorf("engine: wager %s: %w", id, domain.ErrNotFound)
	}
	return ws.snapshot(), nil
}

// List returns wagers, optionally filtered by status, ordered is unspecified.
func (e *Engine) List(status domain.WagerStatus, opts domain.ListOpts) []domain.Wager {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]domain.Wager, 0, len(e.wagers))
	for _, ws := range e.wagers {
		if status != "" && ws.wager.Status != status {
			continue
		}
		out = append(out, ws.wager)
	}
	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(out) {
		out = out[:opts.Limit]
	}
	return out
}

// AccruedFees returns the platform fees accumulated and not yet withdrawn.
func (e *Engine) AccruedFees() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.accruedFees
}

// Restore rehydrates the arena from persisted snapshots at startup. It must
// be called before the engine serves operations.
func (e *Engine) Restore(snaps []domain.WagerSnapshot, keepers []domain.Keeper, accruedFees uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, s := range snaps {
		ws := &wagerState{
			wager:     s.Wager,
			fills:     append([]domain.Fill(nil), s.Fills...),
			consensus: s.Consensus,
			dispute:   s.Dispute,
			potDebit:  s.PotDebit,
		}
		e.wagers[s.Wager.ID] = ws
	}
	if len(keepers) > 0 {
		e.keepers = append([]domain.Keeper(nil), keepers...)
	}
	e.accruedFees = accruedFees
}

// CheckInvariants verifies conservation of funds: the vault balance must
// equal the sum of unsettled creator stakes and matched amounts, pending
// dispute stakes, and accrued fees. Used by tests after every scenario.
func (e *Engine) CheckInvariants(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var expected uint64
	for id, ws := range e.wagers {
		w := ws.wager
		if w.Matched > w.RequiredMatch {
			return fmt.Errorf("engine: wager %s matched %d exceeds required %d", id, w.Matched, w.RequiredMatch)
		}
		switch w.Status {
		case domain.WagerStatusSettled, domain.WagerStatusCancelled:
			// escrow released
		default:
			expected += ws.pot()
		}
		if ws.dispute != nil && !ws.dispute.Resolved() {
			expected += ws.dispute.Stake
		}
	}
	expected += e.accruedFees

	actual, err := e.collateral.BalanceOf(ctx, e.vault)
	if err != nil {
		return fmt.Errorf("engine: vault balance: %w", err)
	}
	if actual != expected {
		return fmt.Errorf("engine: vault holds %d, ledger accounts for %d", actual, expected)
	}
	return nil
}

// isKeeper reports membership of the current keeper set. Callers hold e.mu.
func (e *Engine) isKeeper(addr domain.Address) bool {
	for _, k := range e.keepers {
		if k.Addr == addr {
			return true
		}
	}
	return false
}

// getWager fetches a wager and applies lazy deadline expiry before the
// caller's own checks run. Callers hold e.mu.
func (e *Engine) getWager(ctx context.Context, id uuid.UUID) (*wagerState, error) {
	ws, ok := e.wagers[id]
	if !ok {
		return nil, fmt.Errorf("engine: wager %s: %w", id, domain.ErrNotFound)
	}
	if err := e.expireIfDue(ctx, ws); err != nil {
		return nil, err
	}
	return ws, nil
}

// pullEscrow pulls amount from the party into the vault via its allowance.
// It is the trailing external call of the operation it serves; the caller
// must have re-established all internal invariants and supply an undo that
// reverts its mutation should the transfer fail.
func (e *Engine) pullEscrow(ctx context.Context, from domain.Address, amount uint64, undo func()) error {
	bal, err := e.collateral.BalanceOf(ctx, from)
	if err == nil && bal < amount {
		undo()
		return &domain.InsufficientBalanceError{Account: from, Required: amount, Available: bal}
	}
	if err := e.collateral.TransferFrom(ctx, from, e.vault, e.vault, amount); err != nil {
		undo()
		return fmt.Errorf("engine: escrow transfer from %s: %w", from.Hex(), err)
	}
	return nil
}

// mulDiv computes a*b/den through a 128-bit intermediate. All engine money
// math calls it with b <= den, so the quotient always fits in uint64 even
// when a alone is near the top of the range.
func mulDiv(a, b, den uint64) uint64 {
	hi, lo := bits.Mul64(a, b)
	q, _ := bits.Div64(hi, lo, den)
	return q
}

// payment is a single pending vault payout.
type payment struct {
	to     domain.Address
	amount uint64
}

// payOut executes pending vault payouts, skipping zero amounts. On failure
// it runs undo to revert the caller's mutation. Transfers already executed
// cannot be recalled; the collateral ledger is trusted to fail only before
// moving funds.
func (e *Engine) payOut(ctx context.Context, payments []payment, undo func()) error {
	for _, p := range payments {
		if p.amount == 0 {
			continue
		}
		if err := e.collateral.Transfer(ctx, e.vault, p.to, p.amount); err != nil {
			undo()
			return fmt.Errorf("engine: payout to %s: %w", p.to.Hex(), err)
		}
	}
	return nil
}
