// Package collateral provides an in-memory implementation of the external
// collateral-balance service, used for local mode and tests. Production
// deployments plug a real token-ledger adapter behind the same interface.
package collateral

import (
	"context"
	"fmt"
	"sync"

	"github.com/openwager/wagerd/internal/domain"
)

// MemoryLedger is a thread-safe in-memory collateral ledger with ERC-20
// style balances and allowances.
type MemoryLedger struct {
	mu         sync.Mutex
	balances   map[domain.Address]uint64
	allowances map[domain.Address]map[domain.Address]uint64
	decimals   uint8
}

// NewMemoryLedger creates an empty ledger with the given token decimals.
func NewMemoryLedger(decimals uint8) *MemoryLedger {
	return &MemoryLedger{
		balances:   make(map[domain.Address]uint64),
		allowances: make(map[domain.Address]map[domain.Address]uint64),
		decimals:   decimals,
	}
}

// Mint credits an account. Test and bootstrap helper; not part of
// domain.CollateralLedger.
func (l *MemoryLedger) Mint(account domain.Address, amount uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[account] += amount
}

// Approve grants spender an allowance over owner's balance.
func (l *MemoryLedger) Approve(owner, spender domain.Address, amount uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m := l.allowances[owner]
	if m == nil {
		m = make(map[domain.Address]uint64)
		l.allowances[owner] = m
	}
	m[spender] = amount
}

// BalanceOf returns the spendable balance of the account.
func (l *MemoryLedger) BalanceOf(_ context.Context, account domain.Address) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[account], nil
}

// Transfer moves amount between accounts.
func (l *MemoryLedger) Transfer(_ context.Context, from, to domain.Address, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.move(from, to, amount)
}

// TransferFrom moves amount from owner to dst on behalf of spender,
// consuming spender's allowance.
func (l *MemoryLedger) TransferFrom(_ context.Context, owner, spender, dst domain.Address, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	allowed := l.allowances[owner][spender]
	if allowed < amount {
		return fmt.Errorf("collateral: allowance %d below transfer %d: %w",
			allowed, amount, domain.ErrInsufficientBalance)
	}
	if err := l.move(owner, dst, amount); err != nil {
		return err
	}
	l.allowances[owner][spender] = allowed - amount
	return nil
}

// Decimals reports the smallest-unit scale of the token.
func (l *MemoryLedger) Decimals() uint8 { return l.decimals }

func (l *MemoryLedger) move(from, to domain.Address, amount uint64) error {
	bal := l.balances[from]
	if bal < amount {
		return &domain.InsufficientBalanceError{
			Account:   from,
			Required:  amount,
			Available: bal,
		}
	}
	l.balances[from] = bal - amount
	l.balances[to] += amount
	return nil
}

// Compile-time interface check.
var _ domain.CollateralLedger = (*MemoryLedger)(nil)
