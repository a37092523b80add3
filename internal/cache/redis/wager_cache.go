package redis

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/openwager/wagerd/internal/domain"
	"github.com/redis/go-redis/v9"
)

const wagerTTL = 5 * time.Minute

// WagerCache implements domain.WagerCache using Redis hashes with JSON-
// serialized snapshots and a secondary content-hash index.
//
// Key schema:
//
//	wager:{id}        - hash with field "data" containing JSON
//	wager:hash:{hex}  - string value of the wager ID
type WagerCache struct {
	rdb *redis.Client
}

// NewWagerCache creates a WagerCache backed by the given Client.
func NewWagerCache(c *Client) *WagerCache {
	return &WagerCache{rdb: c.Underlying()}
}

func wagerKey(id uuid.UUID) string  { return "wager:" + id.String() }
func wagerHashKey(hx string) string { return "wager:hash:" + hx }

func contentHashHex(h [32]byte) string {
	return hex.EncodeToString(h[:])
}

// Set stores a wager snapshot in the cache with a 5-minute TTL. It also
// creates a content-hash index entry so the wager can be found by its
// proposition commitment.
func (wc *WagerCache) Set(ctx context.Context, snap domain.WagerSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("redis: marshal wager %s: %w", snap.Wager.ID, err)
	}

	key := wagerKey(snap.Wager.ID)

	pipe := wc.rdb.TxPipeline()
	pipe.HSet(ctx, key, "data", data)
	pipe.Expire(ctx, key, wagerTTL)
	pipe.Set(ctx, wagerHashKey(contentHashHex(snap.Wager.ContentHash)), snap.Wager.ID.String(), wagerTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set wager %s: %w", snap.Wager.ID, err)
	}
	return nil
}

// Get retrieves a wager snapshot by its ID from the cache.
// It returns domain.ErrNotFound when the key does not exist.
func (wc *WagerCache) Get(ctx context.Context, id uuid.UUID) (domain.WagerSnapshot, error) {
	data, err := wc.rdb.HGet(ctx, wagerKey(id), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.WagerSnapshot{}, domain.ErrNotFound
		}
		return domain.WagerSnapshot{}, fmt.Errorf("redis: get wager %s: %w", id, err)
	}

	var snap domain.WagerSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return domain.WagerSnapshot{}, fmt.Errorf("redis: unmarshal wager %s: %w", id, err)
	}
	return snap, nil
}

// GetByContentHash looks up a wager snapshot by its proposition commitment.
// It returns domain.ErrNotFound if the hash mapping or wager does not exist.
func (wc *WagerCache) GetByContentHash(ctx context.Context, h [32]byte) (domain.WagerSnapshot, error) {
	idStr, err := wc.rdb.Get(ctx, wagerHashKey(contentHashHex(h))).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.WagerSnapshot{}, domain.ErrNotFound
		}
		return domain.WagerSnapshot{}, fmt.Errorf("redis: get wager by hash: %w", err)
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		return domain.WagerSnapshot{}, fmt.Errorf("redis: parse wager id %q: %w", idStr, err)
	}
	return wc.Get(ctx, id)
}

// Invalidate removes a wager snapshot and its content-hash index entry
// from the cache.
func (wc *WagerCache) Invalidate(ctx context.Context, id uuid.UUID) error {
	// Retrieve the snapshot first so the reverse index can be cleaned up.
	snap, err := wc.Get(ctx, id)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("redis: invalidate wager %s: %w", id, err)
	}

	pipe := wc.rdb.TxPipeline()
	pipe.Del(ctx, wagerKey(id))

	// Only delete the hash mapping if we successfully read the snapshot.
	if err == nil {
		pipe.Del(ctx, wagerHashKey(contentHashHex(snap.Wager.ContentHash)))
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: invalidate wager %s: %w", id, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.WagerCache = (*WagerCache)(nil)
