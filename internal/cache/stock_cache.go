// Package cache provides a short-TTL read-through cache of
// available_stock = stock - Σ(active, unexpired hold quantities),
// backed by Redis. It exists purely to take read load off MySQL for
// the high-fanout GET /api/products/{id} endpoint; it is never
// consulted by the write path, which always re-reads and locks the
// authoritative rows (SPEC_FULL.md §4.1).
package cache

import (
	"context"
	"errors"
	"log"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisCommander is the narrow slice of *redis.Client the cache needs,
// mirroring the reference codebase's preference for small interfaces at
// the point of use (see middleware.NewTokenBucket taking a concrete
// *redis.Client, generalized here so a fake can stand in for tests).
type redisCommander interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// StockCache caches a product's available stock count for TTL. Every
// read-through miss or Redis fault falls back to the supplied loader,
// so the cache is always a pure optimization, never a correctness
// dependency — it is not consulted anywhere on the hold/order write
// path.
type StockCache struct {
	rdb redisCommander
	ttl time.Duration
}

// New constructs a StockCache bound to rdb. A nil rdb (the reference's
// pattern for a Redis that failed to connect at startup) disables
// caching entirely; Get then always calls loader. rdb is accepted as
// the concrete *redis.Client so a nil client degrades cleanly — a nil
// *redis.Client stored directly in the redisCommander interface would
// otherwise produce a non-nil interface value.
func New(rdb *redis.Client, ttl time.Duration) *StockCache {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	var commander redisCommander
	if rdb != nil {
		commander = rdb
	}
	return &StockCache{rdb: commander, ttl: ttl}
}

// Get returns the cached stock count for productID, calling loader on a
// cache miss, a cache fault, or when caching is disabled. The freshly
// loaded value is stored back into the cache on a best-effort basis.
func (c *StockCache) Get(ctx context.Context, productID uint64, loader func(ctx context.Context) (uint32, error)) (uint32, error) {
	if c.rdb == nil {
		return loader(ctx)
	}
	key := cacheKey(productID)
	val, err := c.rdb.Get(ctx, key).Result()
	if err == nil {
		if n, parseErr := strconv.ParseUint(val, 10, 32); parseErr == nil {
			return uint32(n), nil
		}
		log.Printf("stock-cache: corrupt entry for %s, falling through to loader", key)
	} else if !errors.Is(err, redis.Nil) {
		log.Printf("stock-cache: get failed for %s: %v", key, err)
	}

	stock, err := loader(ctx)
	if err != nil {
		return 0, err
	}
	if setErr := c.rdb.Set(ctx, key, strconv.FormatUint(uint64(stock), 10), c.ttl).Err(); setErr != nil {
		log.Printf("stock-cache: set failed for %s: %v", key, setErr)
	}
	return stock, nil
}

// Invalidate evicts the cached entry for productID. Called by
// ProductRepo.DecrementStockTx's caller after a commit so readers do
// not observe a stale count for up to the full TTL.
func (c *StockCache) Invalidate(ctx context.Context, productID uint64) {
	if c.rdb == nil {
		return
	}
	if err := c.rdb.Del(ctx, cacheKey(productID)).Err(); err != nil {
		log.Printf("stock-cache: invalidate failed for product %d: %v", productID, err)
	}
}

func cacheKey(productID uint64) string {
	return "stock:product:" + strconv.FormatUint(productID, 10)
}
