package indicators

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"daytrading-core/internal/market"
)

func bar(h, l, c, v float64) market.Bar {
	return market.Bar{Symbol: "T", Open: c, High: h, Low: l, Close: c, Volume: v}
}

func TestInsufficientData(t *testing.T) {
	closes := []float64{1, 2, 3}
	bars := []market.Bar{bar(2, 1, 1.5, 10), bar(3, 2, 2.5, 10), bar(4, 3, 3.5, 10)}

	tests := []struct {
		name string
		ok   bool
	}{
		{"sma needs period", func() bool { _, ok := SMA(closes, 4); return ok }()},
		{"ema needs period", func() bool { _, ok := EMA(closes, 4); return ok }()},
		{"rsi needs period+1", func() bool { _, ok := RSI(closes, 3); return ok }()},
		{"atr needs period+1", func() bool { _, ok := ATR(bars, 3); return ok }()},
		{"adx needs period+1", func() bool { _, ok := ADX(bars, 3); return ok }()},
		{"bollinger needs period", func() bool { _, ok := Bollinger(closes, 4, 2); return ok }()},
		{"volume needs period", func() bool { _, ok := AverageVolume(bars, 4); return ok }()},
		{"macd needs slow+signal", func() bool { _, ok := MACD(make([]float64, 34), 12, 26, 9); return ok }()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.False(t, tt.ok)
		})
	}

	_, ok := SMA(closes, 3)
	assert.True(t, ok)
	_, ok = RSI(closes, 2)
	assert.True(t, ok)
	_, ok = ATR(bars, 2)
	assert.True(t, ok)
}

func TestSMAAndEMA(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5}

	sma, ok := SMA(values, 3)
	require.True(t, ok)
	assert.InDelta(t, 4.0, sma, 1e-12)

	// seed = 4, k = 0.5 → 5*0.5 + 4*0.5
	ema, ok := EMA(values, 3)
	require.True(t, ok)
	assert.InDelta(t, 4.5, ema, 1e-12)
}

func TestRSI(t *testing.T) {
	up := []float64{1, 2, 3, 4, 5}
	v, ok := RSI(up, 4)
	require.True(t, ok)
	assert.Equal(t, 100.0, v, "no losses")

	down := []float64{5, 4, 3, 2, 1}
	v, ok = RSI(down, 4)
	require.True(t, ok)
	assert.InDelta(t, 0.0, v, 1e-12)

	// gains 2, losses 1 over 2 transitions → rs 2 → 66.67
	mixed := []float64{10, 12, 11}
	v, ok = RSI(mixed, 2)
	require.True(t, ok)
	assert.InDelta(t, 100-100/3.0, v, 1e-9)
}

func TestMACD(t *testing.T) {
	values := make([]float64, 40)
	for i := range values {
		values[i] = float64(i + 1)
	}
	m, ok := MACD(values, 12, 26, 9)
	require.True(t, ok)
	assert.Greater(t, m.MACD, 0.0, "rising series has fast above slow")
	assert.Equal(t, m.MACD, m.Signal)
	assert.Equal(t, 0.0, m.Histogram)
}

func TestATR(t *testing.T) {
	bars := []market.Bar{
		bar(10, 9, 9.5, 0),
		bar(11, 9, 10, 0),  // TR = max(2, 1.5, 0.5) = 2
		bar(12, 11, 11, 0), // TR = max(1, 2, 1) = 2
		bar(11, 10, 10, 0), // TR = max(1, 0, 1) = 1
	}
	v, ok := ATR(bars, 3)
	require.True(t, ok)
	assert.InDelta(t, 5.0/3.0, v, 1e-12)

	v, ok = ATR(bars, 1)
	require.True(t, ok)
	assert.InDelta(t, 1.0, v, 1e-12)
}

func TestADX(t *testing.T) {
	flat := []market.Bar{bar(10, 10, 10, 0), bar(10, 10, 10, 0), bar(10, 10, 10, 0)}
	v, ok := ADX(flat, 2)
	require.True(t, ok)
	assert.Equal(t, 0.0, v)

	trend := make([]market.Bar, 0, 20)
	for i := 0; i < 20; i++ {
		f := float64(i)
		trend = append(trend, bar(11+f, 9+f, 10+f, 0))
	}
	v, ok = ADX(trend, 14)
	require.True(t, ok)
	assert.InDelta(t, 100.0, v, 1e-9, "pure uptrend has no minus DM")

	sideways := make([]market.Bar, 0, 20)
	for i := 0; i < 20; i++ {
		if i%2 == 0 {
			sideways = append(sideways, bar(12, 10, 11, 0))
		} else {
			sideways = append(sideways, bar(11, 9, 10, 0))
		}
	}
	v, ok = ADX(sideways, 14)
	require.True(t, ok)
	assert.Less(t, v, 20.0)
}

func TestBollinger(t *testing.T) {
	values := []float64{2, 4, 4, 4, 5, 5, 7, 9} // population σ = 2
	b, ok := Bollinger(values, 8, 2)
	require.True(t, ok)
	assert.InDelta(t, 5.0, b.Middle, 1e-12)
	assert.InDelta(t, 9.0, b.Upper, 1e-12)
	assert.InDelta(t, 1.0, b.Lower, 1e-12)
	assert.InDelta(t, 8.0, b.Width, 1e-12)

	w, ok := BBWidth(values, 8, 2)
	require.True(t, ok)
	assert.InDelta(t, 8.0/5.0, w, 1e-12)

	_, ok = BBWidth([]float64{0, 0, 0}, 3, 2)
	assert.False(t, ok, "zero middle band")
}

func TestAverageVolume(t *testing.T) {
	bars := []market.Bar{bar(1, 1, 1, 100), bar(1, 1, 1, 200), bar(1, 1, 1, 300)}
	v, ok := AverageVolume(bars, 2)
	require.True(t, ok)
	assert.Equal(t, 250.0, v)
}

func TestSeriesWindow(t *testing.T) {
	s := NewSeries(3)
	for i := 1; i <= 5; i++ {
		s.Push(bar(0, 0, float64(i), 0))
	}
	assert.Equal(t, 3, s.Len())
	assert.Equal(t, []float64{3, 4, 5}, s.Closes())
}
