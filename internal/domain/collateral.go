package domain

import "context"

// CollateralLedger is the external fungible-collateral-balance service. The
// wagering ledger never mints, burns, or inspects token metadata beyond
// reading Decimals once at construction; it only moves balances between
// opaque accounts. Implementations must be safe for concurrent use.
type CollateralLedger interface {
	// BalanceOf returns the spendable balance of the account.
	BalanceOf(ctx context.Context, account Address) (uint64, error)

	// Transfer moves amount from one account to another.
	Transfer(ctx context.Context, from, to Address, amount uint64) error

	// TransferFrom moves amount from owner to dst on behalf of spender,
	// subject to owner's allowance for spender.
	TransferFrom(ctx context.Context, owner, spender, dst Address, amount uint64) error

	// Decimals reports the smallest-unit scale of the collateral token.
	Decimals() uint8
}
