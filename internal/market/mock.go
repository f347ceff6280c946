package market

import (
	"context"
	"math/rand"
	"time"
)

// MockFeed generates random-walk bars for local development.
type MockFeed struct {
	Symbols    []string
	StartPrice float64
	Step       float64
	Interval   time.Duration
	Rand       *rand.Rand
}

// Run emits one bar per symbol every Interval until ctx is done.
func (m *MockFeed) Run(ctx context.Context, emit func(Bar)) {
	if len(m.Symbols) == 0 {
		m.Symbols = []string{"AAPL"}
	}
	if m.StartPrice == 0 {
		m.StartPrice = 100.0
	}
	if m.Step == 0 {
		m.Step = 0.5
	}
	if m.Interval == 0 {
		m.Interval = time.Second
	}
	if m.Rand == nil {
		m.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	prices := make(map[string]float64, len(m.Symbols))
	for _, sym := range m.Symbols {
		prices[sym] = m.StartPrice
	}

	t := time.NewTicker(m.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			for _, sym := range m.Symbols {
				emit(m.next(sym, prices, now.UTC()))
			}
		}
	}
}

func (m *MockFeed) next(sym string, prices map[string]float64, ts time.Time) Bar {
	open := prices[sym]
	px := open + (m.Rand.Float64()*2-1)*m.Step
	if px <= 0 {
		px = m.Step
	}
	prices[sym] = px

	high, low := open, px
	if px > open {
		high, low = px, open
	}
	return Bar{
		Symbol:    sym,
		Open:      open,
		High:      high + m.Rand.Float64()*m.Step/2,
		Low:       low - m.Rand.Float64()*m.Step/2,
		Close:     px,
		Volume:    float64(1000 + m.Rand.Intn(9000)),
		Timestamp: ts,
	}
}
