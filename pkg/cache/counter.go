package cache

import (
	"sync"
	"time"
)

// ShardedCounter is a keyed counter whose entries expire after a TTL.
// Check-and-increment happens under the shard lock, so concurrent callers
// never both pass the same limit.
type ShardedCounter struct {
	shards [numShards]*counterShard
	now    func() time.Time
}

type counterShard struct {
	mu    sync.Mutex
	items map[string]counterEntry
}

type counterEntry struct {
	count     int
	expiresAt time.Time
}

func NewShardedCounter() *ShardedCounter {
	c := &ShardedCounter{now: time.Now}
	for i := 0; i < numShards; i++ {
		c.shards[i] = &counterShard{items: make(map[string]counterEntry)}
	}
	return c
}

// IncrementIfBelow increments key when its current count is below max and
// reports the count seen before the attempt. A new key lives for ttl;
// creating one also evicts the expired keys of its shard.
func (c *ShardedCounter) IncrementIfBelow(key string, max int, ttl time.Duration) (int, bool) {
	shard := c.shards[shardIndex(key)]
	now := c.now()

	shard.mu.Lock()
	defer shard.mu.Unlock()

	entry, ok := shard.items[key]
	if ok && !now.Before(entry.expiresAt) {
		ok = false
	}
	if !ok {
		shard.sweep(now)
		entry = counterEntry{expiresAt: now.Add(ttl)}
	}
	current := entry.count
	if current >= max {
		return current, false
	}
	entry.count++
	shard.items[key] = entry
	return current, true
}

// Count returns the live count for key.
func (c *ShardedCounter) Count(key string) int {
	shard := c.shards[shardIndex(key)]
	shard.mu.Lock()
	defer shard.mu.Unlock()
	entry, ok := shard.items[key]
	if !ok || !c.now().Before(entry.expiresAt) {
		return 0
	}
	return entry.count
}

// Cleanup drops expired keys.
func (c *ShardedCounter) Cleanup() int {
	removed := 0
	now := c.now()
	for _, shard := range c.shards {
		shard.mu.Lock()
		removed += shard.sweep(now)
		shard.mu.Unlock()
	}
	return removed
}

// sweep deletes entries expired at now; caller holds mu.
func (s *counterShard) sweep(now time.Time) int {
	removed := 0
	for key, entry := range s.items {
		if !now.Before(entry.expiresAt) {
			delete(s.items, key)
			removed++
		}
	}
	return removed
}
