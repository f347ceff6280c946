package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"daytrading-core/internal/market"
	"daytrading-core/pkg/broker"
)

func feedCloses(s Strategy, closes []float64, state TradingState) []Signal {
	out := make([]Signal, 0, len(closes))
	for _, c := range closes {
		out = append(out, s.OnBar(market.Bar{Symbol: "AAPL", Open: c, High: c, Low: c, Close: c, Volume: 100}, state))
	}
	return out
}

func smallSMA() *SMA {
	cfg := DefaultSMAConfig()
	cfg.Fast, cfg.Slow = 2, 4
	return NewSMA(cfg)
}

func TestSMABuysOnCrossUp(t *testing.T) {
	sigs := feedCloses(smallSMA(), []float64{100, 99, 98, 97, 105}, TradingState{})

	for i, s := range sigs[:3] {
		assert.True(t, s.WarmingUp, "bar %d", i+1)
		assert.False(t, s.HasOrder())
	}
	assert.False(t, sigs[3].HasOrder())
	assert.False(t, sigs[3].WarmingUp)

	require.True(t, sigs[4].HasOrder())
	assert.Equal(t, broker.SideBuy, sigs[4].Order.Side)
	assert.Equal(t, broker.OrderTypeMarket, sigs[4].Order.Type)
	assert.Equal(t, 10.0, sigs[4].Order.Qty)
	assert.Equal(t, "AAPL", sigs[4].Order.Symbol)
}

func TestSMAIgnoresCrossDownWhileFlat(t *testing.T) {
	for _, closes := range [][]float64{
		{110, 109, 108, 107, 95},
		{100, 101, 102, 103, 90},
	} {
		sigs := feedCloses(smallSMA(), closes, TradingState{})
		for _, s := range sigs {
			if s.HasOrder() {
				assert.NotEqual(t, broker.SideSell, s.Order.Side)
			}
		}
	}
}

func TestSMAExitSellsConfiguredQtyNotWholePosition(t *testing.T) {
	state := TradingState{Position: PositionLong, Qty: 25, AvgEntryPrice: 100}
	sigs := feedCloses(smallSMA(), []float64{100, 101, 102, 103, 90}, state)

	require.True(t, sigs[4].HasOrder())
	assert.Equal(t, broker.SideSell, sigs[4].Order.Side)
	assert.Equal(t, 10.0, sigs[4].Order.Qty, "shares bought by other runs stay put")
}

func TestSMAExitIsCappedByHeldQty(t *testing.T) {
	state := TradingState{Position: PositionLong, Qty: 7, AvgEntryPrice: 100}
	sigs := feedCloses(smallSMA(), []float64{100, 101, 102, 103, 90}, state)

	assert.False(t, sigs[3].HasOrder(), "no buy while already long")
	require.True(t, sigs[4].HasOrder())
	assert.Equal(t, broker.SideSell, sigs[4].Order.Side)
	assert.Equal(t, 7.0, sigs[4].Order.Qty)
	assert.Equal(t, "sma_cross_down", sigs[4].Reason)
}

func TestSMAWindowIsCapped(t *testing.T) {
	s := smallSMA()
	closes := make([]float64, 50)
	for i := range closes {
		closes[i] = 100
	}
	feedCloses(s, closes, TradingState{})
	assert.Len(t, s.closes, 14)
	assert.Equal(t, "SMA(2/4)", s.Name())
}

func TestOffsetSMAClampsAtStart(t *testing.T) {
	values := []float64{100, 99, 98, 97}
	assert.Equal(t, 98.5, offsetSMA(values, 4, 1))
	assert.Equal(t, 98.5, offsetSMA(values, 2, 1))
	assert.Equal(t, 97.5, offsetSMA(values, 2, 0))
}
