package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// WagerCache provides fast wager snapshot lookups for read endpoints.
type WagerCache interface {
	Set(ctx context.Context, snap WagerSnapshot) error
	Get(ctx context.Context, id uuid.UUID) (WagerSnapshot, error)
	Invalidate(ctx context.Context, id uuid.UUID) error
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking, used to serialize mutations of
// a wager across service instances. Returns ErrLockHeld when contended.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// SignalBus provides pub/sub fan-out for ledger events plus a durable
// stream for replaying recent ones.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// StreamMessage is a single entry read back from a durable event stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// ContentStore holds off-ledger proposition content. The ledger anchors only
// the hash commitment over the returned references.
type ContentStore interface {
	Put(ctx context.Context, key string, data []byte) (ref string, err error)
	Get(ctx context.Context, ref string) ([]byte, error)
}
