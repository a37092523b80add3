package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openwager/wagerd/internal/domain"
)

const accruedFeesKey = "accrued_fees"

// LedgerStateStore implements domain.LedgerStateStore using PostgreSQL.
type LedgerStateStore struct {
	pool *pgxpool.Pool
}

// NewLedgerStateStore creates a new LedgerStateStore backed by the given pool.
func NewLedgerStateStore(pool *pgxpool.Pool) *LedgerStateStore {
	return &LedgerStateStore{pool: pool}
}

// SaveAccruedFees persists the current accrued platform fee total.
func (s *LedgerStateStore) SaveAccruedFees(ctx context.Context, amount uint64) error {
	const query = `
		INSERT INTO ledger_state (key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`
	if _, err := s.pool.Exec(ctx, query, accruedFeesKey, int64(amount)); err != nil {
		return fmt.Errorf("postgres: save accrued fees: %w", err)
	}
	return nil
}

// LoadAccruedFees returns the persisted accrued fee total, zero when never
// written.
func (s *LedgerStateStore) LoadAccruedFees(ctx context.Context) (uint64, error) {
	var v int64
	err := s.pool.QueryRow(ctx, `SELECT value FROM ledger_state WHERE key = $1`, accruedFeesKey).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("postgres: load accrued fees: %w", err)
	}
	return uint64(v), nil
}

// Compile-time interface check.
var _ domain.LedgerStateStore = (*LedgerStateStore)(nil)
