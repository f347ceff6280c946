// Package indicators implements the technical indicators used by strategies.
// Every function reports ok=false when the input is shorter than it needs.
package indicators

// SMA is the mean of the last period values.
func SMA(values []float64, period int) (float64, bool) {
	if period <= 0 || len(values) < period {
		return 0, false
	}
	sum := 0.0
	for i := len(values) - period; i < len(values); i++ {
		sum += values[i]
	}
	return sum / float64(period), true
}

// EMA applies one smoothing step, k = 2/(period+1), to an SMA seed.
func EMA(values []float64, period int) (float64, bool) {
	seed, ok := SMA(values, period)
	if !ok {
		return 0, false
	}
	k := 2.0 / float64(period+1)
	last := values[len(values)-1]
	return last*k + seed*(1-k), true
}
