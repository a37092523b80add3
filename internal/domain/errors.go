package domain

import (
	"errors"
	"fmt"
)

var (
	// Validation failures. Rejected before any state change.
	ErrZeroAmount       = errors.New("amount must be non-zero")
	ErrInvalidReference = errors.New("invalid content reference")
	ErrInvalidOdds      = errors.New("odds must be non-zero")
	ErrDeadlineInPast   = errors.New("deadline is in the past")
	ErrReasonLength     = errors.New("dispute reason empty or too long")
	ErrDustFill         = errors.New("stake too small for the given odds")
	ErrStakeOverflow    = errors.New("stake too large for the given odds")

	// State failures.
	ErrNotFound            = errors.New("not found")
	ErrWrongStatus         = errors.New("wrong status for requested transition")
	ErrAlreadySettled      = errors.New("already settled")
	ErrNothingToCancel     = errors.New("nothing to cancel")
	ErrAlreadyVoted        = errors.New("already voted")
	ErrNoConsensus         = errors.New("consensus not reached")
	ErrDisputePending      = errors.New("dispute pending")
	ErrDisputeExists       = errors.New("dispute already raised")
	ErrDisputeResolved     = errors.New("dispute already resolved")
	ErrDisputeWindowClosed = errors.New("dispute window closed")
	ErrProposalExpired     = errors.New("proposal expired")
	ErrProposalExecuted    = errors.New("proposal already executed")
	ErrQuorumNotReached    = errors.New("quorum not reached")

	// Authorization failures.
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotKeeper    = errors.New("caller is not a keeper")
	ErrSelfFill     = errors.New("creator cannot fill own wager")
	ErrLastKeeper   = errors.New("cannot remove the last keeper")
	ErrKeeperExists = errors.New("already a keeper")

	// Economic failures. Wrapped by typed errors carrying the offending values.
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrFillTooLarge        = errors.New("fill exceeds outstanding remainder")
	ErrParticipantCap      = errors.New("participant cap reached")
	ErrStakeTooLow         = errors.New("stake below minimum")

	// Infrastructure.
	ErrLockHeld = errors.New("lock already held")
)

// InsufficientBalanceError reports a collateral shortfall with the amounts
// the caller needs for diagnostics.
type InsufficientBalanceError struct {
	Account   Address
	Required  uint64
	Available uint64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance for %s: required %d, available %d",
		e.Account.Hex(), e.Required, e.Available)
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// FillTooLargeError reports a fill that exceeds the unfilled remainder.
type FillTooLargeError struct {
	Amount    uint64
	Remaining uint64
}

func (e *FillTooLargeError) Error() string {
	return fmt.Sprintf("fill of %d exceeds remaining %d", e.Amount, e.Remaining)
}

func (e *FillTooLargeError) Unwrap() error { return ErrFillTooLarge }

// StakeTooLowError reports a dispute stake below the configured minimum.
type StakeTooLowError struct {
	Stake   uint64
	Minimum uint64
}

func (e *StakeTooLowError) Error() string {
	return fmt.Sprintf("stake %d below minimum %d", e.Stake, e.Minimum)
}

func (e *StakeTooLowError) Unwrap() error { return ErrStakeTooLow }
