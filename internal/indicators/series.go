package indicators

import "daytrading-core/internal/market"

// Series is a bounded window of bars, oldest first. It is not safe for
// concurrent use; callers serialize access per strategy run.
type Series struct {
	bars   []market.Bar
	window int
}

func NewSeries(window int) *Series {
	if window <= 0 {
		window = 1
	}
	return &Series{window: window, bars: make([]market.Bar, 0, window)}
}

// Push appends a bar and drops the oldest beyond the window.
func (s *Series) Push(b market.Bar) {
	s.bars = append(s.bars, b)
	if len(s.bars) > s.window {
		n := copy(s.bars, s.bars[len(s.bars)-s.window:])
		s.bars = s.bars[:n]
	}
}

func (s *Series) Len() int { return len(s.bars) }

// Bars returns the window. The slice is only valid until the next Push.
func (s *Series) Bars() []market.Bar { return s.bars }

// Closes returns a copy of the closing prices.
func (s *Series) Closes() []float64 {
	out := make([]float64, len(s.bars))
	for i, b := range s.bars {
		out[i] = b.Close
	}
	return out
}
