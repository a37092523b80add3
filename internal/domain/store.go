package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ListOpts provides pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
}

// WagerSnapshot bundles a wager with its dependent records for write-through
// persistence and startup recovery.
type WagerSnapshot struct {
	Wager     Wager
	Fills     []Fill
	Consensus *ConsensusRecord
	Dispute   *Dispute
	// PotDebit is the portion of the pot paid out ahead of settlement
	// (a successful challenger's reward).
	PotDebit uint64
}

// WagerStore persists wager snapshots. The in-memory engine is the source
// of truth; the store is a write-through journal replayed at startup.
type WagerStore interface {
	Save(ctx context.Context, snap WagerSnapshot) error
	GetByID(ctx context.Context, id uuid.UUID) (WagerSnapshot, error)
	List(ctx context.Context, status WagerStatus, opts ListOpts) ([]Wager, error)
	LoadAll(ctx context.Context) ([]WagerSnapshot, error)
	Count(ctx context.Context) (int64, error)
}

// KeeperStore persists the keeper set and governance proposals.
type KeeperStore interface {
	SaveKeeper(ctx context.Context, k Keeper) error
	DeleteKeeper(ctx context.Context, addr Address) error
	ListKeepers(ctx context.Context) ([]Keeper, error)
	SaveProposal(ctx context.Context, p KeeperProposal) error
	GetProposal(ctx context.Context, id uuid.UUID) (KeeperProposal, error)
	ListProposals(ctx context.Context, opts ListOpts) ([]KeeperProposal, error)
}

// LedgerStateStore persists scalar ledger state that lives outside any
// single wager, such as the accrued platform fees.
type LedgerStateStore interface {
	SaveAccruedFees(ctx context.Context, amount uint64) error
	LoadAccruedFees(ctx context.Context) (uint64, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log of ledger events.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
