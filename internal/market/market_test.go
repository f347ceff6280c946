package market

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"daytrading-core/pkg/errs"
)

func TestBarValidate(t *testing.T) {
	b := Bar{Symbol: " aapl ", Close: 10}
	require.NoError(t, b.Validate())
	assert.Equal(t, "AAPL", b.Symbol)

	assert.True(t, errs.IsValidation((&Bar{Close: 1}).Validate()))
	assert.True(t, errs.IsValidation((&Bar{Symbol: "X"}).Validate()))
	assert.True(t, errs.IsValidation((&Bar{Symbol: "X", Close: 1, Volume: -1}).Validate()))
}

func TestQuoteAndTradeValidate(t *testing.T) {
	q := Quote{Symbol: "spy"}
	require.NoError(t, q.Validate())
	assert.Equal(t, "SPY", q.Symbol)
	assert.Error(t, (&Trade{}).Validate())
}

func TestMockFeedEmitsBarsPerSymbol(t *testing.T) {
	m := &MockFeed{
		Symbols:  []string{"AAPL", "MSFT"},
		Interval: 5 * time.Millisecond,
		Rand:     rand.New(rand.NewSource(1)),
	}
	ctx, cancel := context.WithCancel(context.Background())

	var (
		mu   sync.Mutex
		bars []Bar
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.Run(ctx, func(b Bar) {
			mu.Lock()
			bars = append(bars, b)
			n := len(bars)
			mu.Unlock()
			if n >= 4 {
				cancel()
			}
		})
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		cancel()
		t.Fatal("mock feed did not stop")
	}

	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, len(bars), 4)
	for _, b := range bars {
		assert.NoError(t, b.Validate())
		assert.GreaterOrEqual(t, b.High, b.Close)
		assert.LessOrEqual(t, b.Low, b.Close)
	}
}
