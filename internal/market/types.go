// Package market defines the market data records carried by the feed.
package market

import (
	"strings"
	"time"

	"daytrading-core/pkg/errs"
)

// Bar is one OHLCV candle.
type Bar struct {
	Symbol    string    `json:"symbol"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	Timestamp time.Time `json:"timestamp"`
}

// Validate normalizes the symbol and rejects bars that cannot be priced.
func (b *Bar) Validate() error {
	b.Symbol = strings.ToUpper(strings.TrimSpace(b.Symbol))
	if b.Symbol == "" {
		return errs.Invalid("symbol", "is required")
	}
	if b.Close <= 0 {
		return errs.Invalid("close", "must be > 0")
	}
	if b.Volume < 0 {
		return errs.Invalid("volume", "must be >= 0")
	}
	return nil
}

// Quote is a top-of-book update.
type Quote struct {
	Symbol    string    `json:"symbol"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	BidSize   float64   `json:"bid_size"`
	AskSize   float64   `json:"ask_size"`
	Timestamp time.Time `json:"timestamp"`
}

func (q *Quote) Validate() error {
	q.Symbol = strings.ToUpper(strings.TrimSpace(q.Symbol))
	if q.Symbol == "" {
		return errs.Invalid("symbol", "is required")
	}
	return nil
}

// Trade is a last-sale print.
type Trade struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Size      float64   `json:"size"`
	Timestamp time.Time `json:"timestamp"`
}

func (t *Trade) Validate() error {
	t.Symbol = strings.ToUpper(strings.TrimSpace(t.Symbol))
	if t.Symbol == "" {
		return errs.Invalid("symbol", "is required")
	}
	return nil
}
