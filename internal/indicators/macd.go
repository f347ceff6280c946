package indicators

// MACDResult holds the MACD line, its signal and the histogram.
type MACDResult struct {
	MACD      float64 `json:"macd"`
	Signal    float64 `json:"signal"`
	Histogram float64 `json:"histogram"`
}

// MACD needs fast/slow EMAs over at least slow+signal values. The signal
// line is not smoothed: it equals the MACD line and the histogram is 0.
func MACD(values []float64, fast, slow, signal int) (MACDResult, bool) {
	if len(values) < slow+signal {
		return MACDResult{}, false
	}
	fastEMA, ok := EMA(values, fast)
	if !ok {
		return MACDResult{}, false
	}
	slowEMA, ok := EMA(values, slow)
	if !ok {
		return MACDResult{}, false
	}
	line := fastEMA - slowEMA
	return MACDResult{MACD: line, Signal: line, Histogram: 0}, true
}
