package cache

import (
	"sync"
	"time"
)

// ShardedPriceCache keeps the last known price per symbol.
type ShardedPriceCache struct {
	shards [numShards]*priceShard
	now    func() time.Time
}

type priceShard struct {
	mu    sync.RWMutex
	items map[string]priceEntry
}

type priceEntry struct {
	price     float64
	updatedAt time.Time
}

func NewShardedPriceCache() *ShardedPriceCache {
	c := &ShardedPriceCache{now: time.Now}
	for i := 0; i < numShards; i++ {
		c.shards[i] = &priceShard{items: make(map[string]priceEntry)}
	}
	return c
}

// Set stores a price for a symbol. Non-positive prices are ignored.
func (c *ShardedPriceCache) Set(symbol string, price float64) {
	if price <= 0 {
		return
	}
	shard := c.shards[shardIndex(symbol)]
	shard.mu.Lock()
	shard.items[symbol] = priceEntry{price: price, updatedAt: c.now()}
	shard.mu.Unlock()
}

// SetQuote stores the bid/ask mid, falling back to whichever side is present.
func (c *ShardedPriceCache) SetQuote(symbol string, bid, ask float64) {
	switch {
	case bid > 0 && ask > 0:
		c.Set(symbol, (bid+ask)/2)
	case bid > 0:
		c.Set(symbol, bid)
	default:
		c.Set(symbol, ask)
	}
}

func (c *ShardedPriceCache) Get(symbol string) (float64, bool) {
	shard := c.shards[shardIndex(symbol)]
	shard.mu.RLock()
	entry, ok := shard.items[symbol]
	shard.mu.RUnlock()
	return entry.price, ok
}

// GetWithAge retrieves price and its age.
func (c *ShardedPriceCache) GetWithAge(symbol string) (float64, time.Duration, bool) {
	shard := c.shards[shardIndex(symbol)]
	shard.mu.RLock()
	entry, ok := shard.items[symbol]
	shard.mu.RUnlock()
	if !ok {
		return 0, 0, false
	}
	return entry.price, c.now().Sub(entry.updatedAt), true
}

// Cleanup removes entries older than maxAge.
func (c *ShardedPriceCache) Cleanup(maxAge time.Duration) int {
	removed := 0
	cutoff := c.now().Add(-maxAge)
	for _, shard := range c.shards {
		shard.mu.Lock()
		for sym, entry := range shard.items {
			if entry.updatedAt.Before(cutoff) {
				delete(shard.items, sym)
				removed++
			}
		}
		shard.mu.Unlock()
	}
	return removed
}

// Snapshot returns all cached prices.
func (c *ShardedPriceCache) Snapshot() map[string]float64 {
	result := make(map[string]float64)
	for _, shard := range c.shards {
		shard.mu.RLock()
		for sym, entry := range shard.items {
			result[sym] = entry.price
		}
		shard.mu.RUnlock()
	}
	return result
}
