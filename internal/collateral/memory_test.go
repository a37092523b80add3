package collateral

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openwager/wagerd/internal/domain"
)

var (
	owner   = common.HexToAddress("0x0000000000000000000000000000000000000001")
	spender = common.HexToAddress("0x0000000000000000000000000000000000000002")
	dst     = common.HexToAddress("0x0000000000000000000000000000000000000003")
)

func TestTransferMovesBalance(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger(6)
	l.Mint(owner, 1000)

	require.NoError(t, l.Transfer(ctx, owner, dst, 400))

	got, err := l.BalanceOf(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, uint64(600), got)
	got, err = l.BalanceOf(ctx, dst)
	require.NoError(t, err)
	assert.Equal(t, uint64(400), got)
	assert.Equal(t, uint8(6), l.Decimals())
}

func TestTransferInsufficientBalance(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger(0)
	l.Mint(owner, 100)

	err := l.Transfer(ctx, owner, dst, 101)
	var ib *domain.InsufficientBalanceError
	require.ErrorAs(t, err, &ib)
	assert.Equal(t, owner, ib.Account)
	assert.Equal(t, uint64(101), ib.Required)
	assert.Equal(t, uint64(100), ib.Available)
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)
}

func TestTransferFromConsumesAllowance(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger(0)
	l.Mint(owner, 1000)

	err := l.TransferFrom(ctx, owner, spender, dst, 100)
	require.ErrorIs(t, err, domain.ErrInsufficientBalance, "no allowance granted")

	l.Approve(owner, spender, 250)
	require.NoError(t, l.TransferFrom(ctx, owner, spender, dst, 100))
	require.NoError(t, l.TransferFrom(ctx, owner, spender, dst, 150))

	err = l.TransferFrom(ctx, owner, spender, dst, 1)
	require.ErrorIs(t, err, domain.ErrInsufficientBalance, "allowance exhausted")

	got, err := l.BalanceOf(ctx, dst)
	require.NoError(t, err)
	assert.Equal(t, uint64(250), got)
}

func TestTransferFromBalanceFailureKeepsAllowance(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger(0)
	l.Mint(owner, 50)
	l.Approve(owner, spender, 100)

	err := l.TransferFrom(ctx, owner, spender, dst, 80)
	require.Error(t, err)

	// The failed move must not have burned any allowance.
	require.NoError(t, l.TransferFrom(ctx, owner, spender, dst, 50))
}
