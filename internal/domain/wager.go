// Package domain defines the core types of the wagering ledger and the
// interfaces its storage, cache, and collateral collaborators implement.
package domain

import (
	"math/bits"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// Address identifies a party on the collateral ledger. It aliases the
// go-ethereum address type so account identifiers stay opaque fixed-size
// values with canonical hex encoding.
type Address = common.Address

// EvenOddsBps is the basis-point odds ratio for an even (1:1) wager.
const EvenOddsBps uint32 = 10_000

// WagerStatus represents the lifecycle state of a wager.
type WagerStatus string

const (
	WagerStatusPending          WagerStatus = "pending"
	WagerStatusPartiallyMatched WagerStatus = "partially_matched"
	WagerStatusFullyMatched     WagerStatus = "fully_matched"
	WagerStatusSettled          WagerStatus = "settled"
	WagerStatusCancelled        WagerStatus = "cancelled"
)

// Wager is a single escrowed proposition. The large proposition content
// lives off-ledger; only the keccak-256 commitment over the two content
// references is anchored here.
type Wager struct {
	ID           uuid.UUID
	ContentHash  [32]byte
	ContentRef   string // off-ledger storage key of the full content
	PreviewRef   string // off-ledger storage key of the content preview
	Creator      Address
	CreatorStake uint64 // smallest collateral unit
	// RequiredMatch is the counter-stake needed to fully match the wager,
	// derived from the odds: creatorStake * 10000 / oddsBps, floored.
	RequiredMatch uint64
	Matched       uint64 // invariant: Matched <= RequiredMatch
	OddsBps       uint32 // 10000 = 1:1
	Status        WagerStatus
	CreatedAt     time.Time
	Deadline      *time.Time
}

// Remaining returns the unfilled counter-stake.
func (w *Wager) Remaining() uint64 {
	return w.RequiredMatch - w.Matched
}

// Open reports whether the wager still accepts fills or cancellation.
func (w *Wager) Open() bool {
	return w.Status == WagerStatusPending || w.Status == WagerStatusPartiallyMatched
}

// Expired reports whether the wager's deadline has passed at t.
func (w *Wager) Expired(t time.Time) bool {
	return w.Deadline != nil && !t.Before(*w.Deadline)
}

// Fill is a single counter-stake contribution against a wager. Fills form
// an ordered, append-only sequence; the same filler may appear repeatedly
// and such fills aggregate by summation.
type Fill struct {
	Filler    Address
	Amount    uint64
	CreatedAt time.Time
}

// RequiredMatchFor derives the counter-stake a wager at the given odds
// needs. Integer division floors; callers must reject a zero result
// (dust) before accepting the wager. ok is false when the result does
// not fit in uint64.
func RequiredMatchFor(creatorStake uint64, oddsBps uint32) (uint64, bool) {
	return MulDiv(creatorStake, uint64(EvenOddsBps), uint64(oddsBps))
}

// MulDiv computes a*b/den through a 128-bit intermediate, so products that
// exceed uint64 still divide down correctly. Token amounts in smallest
// units routinely clear 2^64/10000, which a naive a*b would wrap past
// silently. ok is false when den is zero or the quotient itself exceeds
// uint64.
func MulDiv(a, b, den uint64) (uint64, bool) {
	if den == 0 {
		return 0, false
	}
	hi, lo := bits.Mul64(a, b)
	if hi >= den {
		return 0, false
	}
	q, _ := bits.Div64(hi, lo, den)
	return q, true
}
