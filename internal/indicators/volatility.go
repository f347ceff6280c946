package indicators

import (
	"math"

	"daytrading-core/internal/market"
)

func trueRange(cur, prev market.Bar) float64 {
	return math.Max(cur.High-cur.Low, math.Max(math.Abs(cur.High-prev.Close), math.Abs(cur.Low-prev.Close)))
}

// ATR is the mean true range over the last period transitions.
func ATR(bars []market.Bar, period int) (float64, bool) {
	if period <= 0 || len(bars) < period+1 {
		return 0, false
	}
	sum := 0.0
	for i := len(bars) - period; i < len(bars); i++ {
		sum += trueRange(bars[i], bars[i-1])
	}
	return sum / float64(period), true
}

// ADX returns the unsmoothed directional index (DX) over the last period
// transitions. Flat input yields 0.
func ADX(bars []market.Bar, period int) (float64, bool) {
	if period <= 0 || len(bars) < period+1 {
		return 0, false
	}

	var plusDM, minusDM, tr float64
	for i := len(bars) - period; i < len(bars); i++ {
		cur, prev := bars[i], bars[i-1]
		up := cur.High - prev.High
		down := prev.Low - cur.Low
		if up > down && up > 0 {
			plusDM += up
		}
		if down > up && down > 0 {
			minusDM += down
		}
		tr += trueRange(cur, prev)
	}

	p := float64(period)
	avgTR := tr / p
	if avgTR == 0 {
		return 0, true
	}
	plusDI := 100 * (plusDM / p) / avgTR
	minusDI := 100 * (minusDM / p) / avgTR
	sum := plusDI + minusDI
	if sum == 0 {
		return 0, true
	}
	return 100 * math.Abs(plusDI-minusDI) / sum, true
}

// Bands are Bollinger bands; Width is upper minus lower (2·k·σ).
type Bands struct {
	Upper  float64 `json:"upper"`
	Middle float64 `json:"middle"`
	Lower  float64 `json:"lower"`
	Width  float64 `json:"width"`
}

// Bollinger uses the population standard deviation of the last period values.
func Bollinger(values []float64, period int, k float64) (Bands, bool) {
	mid, ok := SMA(values, period)
	if !ok {
		return Bands{}, false
	}
	variance := 0.0
	for _, v := range values[len(values)-period:] {
		variance += (v - mid) * (v - mid)
	}
	sd := math.Sqrt(variance / float64(period))
	return Bands{
		Upper:  mid + k*sd,
		Middle: mid,
		Lower:  mid - k*sd,
		Width:  2 * k * sd,
	}, true
}

// BBWidth is the band width normalized by the middle band.
func BBWidth(values []float64, period int, k float64) (float64, bool) {
	b, ok := Bollinger(values, period, k)
	if !ok || b.Middle == 0 {
		return 0, false
	}
	return (b.Upper - b.Lower) / b.Middle, true
}

// AverageVolume is the mean volume of the last period bars.
func AverageVolume(bars []market.Bar, period int) (float64, bool) {
	if period <= 0 || len(bars) < period {
		return 0, false
	}
	sum := 0.0
	for _, b := range bars[len(bars)-period:] {
		sum += b.Volume
	}
	return sum / float64(period), true
}
