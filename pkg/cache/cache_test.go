package cache

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPriceCache(t *testing.T) {
	c := NewShardedPriceCache()
	c.Set("AAPL", 101.5)
	c.Set("MSFT", 0)

	p, ok := c.Get("AAPL")
	assert.True(t, ok)
	assert.Equal(t, 101.5, p)

	_, ok = c.Get("MSFT")
	assert.False(t, ok, "zero price is ignored")

	c.SetQuote("SPY", 400, 402)
	p, _ = c.Get("SPY")
	assert.Equal(t, 401.0, p)

	c.SetQuote("QQQ", 0, 300)
	p, _ = c.Get("QQQ")
	assert.Equal(t, 300.0, p)

	assert.Len(t, c.Snapshot(), 3)
}

func TestPriceCacheCleanup(t *testing.T) {
	c := NewShardedPriceCache()
	base := time.Date(2026, 1, 5, 14, 30, 0, 0, time.UTC)
	c.now = func() time.Time { return base }
	c.Set("AAPL", 100)

	c.now = func() time.Time { return base.Add(10 * time.Minute) }
	c.Set("MSFT", 200)

	_, age, ok := c.GetWithAge("AAPL")
	assert.True(t, ok)
	assert.Equal(t, 10*time.Minute, age)

	assert.Equal(t, 1, c.Cleanup(5*time.Minute))
	_, ok = c.Get("AAPL")
	assert.False(t, ok)
}

func TestCounterIncrementIfBelow(t *testing.T) {
	c := NewShardedCounter()
	base := time.Date(2026, 1, 5, 14, 30, 0, 0, time.UTC)
	c.now = func() time.Time { return base }

	for i := 0; i < 3; i++ {
		n, ok := c.IncrementIfBelow("k", 3, time.Minute)
		assert.True(t, ok)
		assert.Equal(t, i, n)
	}
	n, ok := c.IncrementIfBelow("k", 3, time.Minute)
	assert.False(t, ok)
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, c.Count("k"))

	c.now = func() time.Time { return base.Add(time.Minute) }
	_, ok = c.IncrementIfBelow("k", 3, time.Minute)
	assert.True(t, ok, "expired entry starts over")
	assert.Equal(t, 1, c.Count("k"))
}

func TestCounterZeroMaxAlwaysDenies(t *testing.T) {
	c := NewShardedCounter()
	_, ok := c.IncrementIfBelow("k", 0, time.Minute)
	assert.False(t, ok)
}

func TestCounterConcurrentCallersRespectLimit(t *testing.T) {
	c := NewShardedCounter()
	var allowed int64
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := c.IncrementIfBelow("burst", 10, time.Minute); ok {
				atomic.AddInt64(&allowed, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(10), allowed)
}

func TestCounterCleanup(t *testing.T) {
	c := NewShardedCounter()
	base := time.Date(2026, 1, 5, 14, 30, 0, 0, time.UTC)
	c.now = func() time.Time { return base }
	c.IncrementIfBelow("a", 5, time.Minute)
	c.IncrementIfBelow("b", 5, time.Hour)

	c.now = func() time.Time { return base.Add(2 * time.Minute) }
	assert.Equal(t, 1, c.Cleanup())
	assert.Equal(t, 1, c.Count("b"))
}

func TestCounterNewKeyEvictsExpiredNeighbours(t *testing.T) {
	c := NewShardedCounter()
	base := time.Date(2026, 1, 5, 14, 30, 0, 0, time.UTC)
	c.now = func() time.Time { return base }

	old := "risk:order_rate:paper:2026-01-05-14-30"
	c.IncrementIfBelow(old, 5, 2*time.Minute)
	next := ""
	for i := 0; next == ""; i++ {
		if k := fmt.Sprintf("risk:order_rate:paper:%d", i); shardIndex(k) == shardIndex(old) {
			next = k
		}
	}

	c.now = func() time.Time { return base.Add(3 * time.Minute) }
	_, ok := c.IncrementIfBelow(next, 5, 2*time.Minute)
	require.True(t, ok)

	shard := c.shards[shardIndex(old)]
	shard.mu.Lock()
	defer shard.mu.Unlock()
	assert.NotContains(t, shard.items, old)
	assert.Contains(t, shard.items, next)
}
