package strategy

import (
	"daytrading-core/internal/market"
	"daytrading-core/pkg/broker"
)

// Strategy turns one bar plus the current trading state into a Signal.
// Implementations keep their own bar window and are not safe for concurrent
// use; the runner serializes calls per run.
type Strategy interface {
	Name() string
	OnBar(bar market.Bar, state TradingState) Signal
}

// TradingState is the position view a strategy sees for its symbol.
type TradingState struct {
	Position       string   `json:"position,omitempty"` // "long" or empty when flat
	Qty            float64  `json:"qty"`
	AvgEntryPrice  float64  `json:"avg_entry_price"`
	StopLoss       *float64 `json:"stop_loss,omitempty"`
	TakeProfit     *float64 `json:"take_profit,omitempty"`
	TrailingStop   *float64 `json:"trailing_stop,omitempty"`
	AccountBalance *float64 `json:"account_balance,omitempty"`
}

const PositionLong = "long"

func (s TradingState) IsLong() bool { return s.Position == PositionLong }

// Signal is a strategy decision. A signal without an order is a no-action
// carrying a note.
type Signal struct {
	Order      *broker.OrderRequest `json:"order,omitempty"`
	Note       string               `json:"note,omitempty"`
	StopLoss   *float64             `json:"stop_loss,omitempty"`
	TakeProfit *float64             `json:"take_profit,omitempty"`
	Reason     string               `json:"reason,omitempty"`

	// Stops is set when a holding evaluation moved the protective levels.
	Stops *StopUpdate `json:"stops,omitempty"`

	// WarmingUp marks notes emitted while the window is still filling.
	WarmingUp bool `json:"-"`
}

// StopUpdate carries ratcheted stop levels for an open position.
type StopUpdate struct {
	StopLoss     *float64 `json:"stop_loss,omitempty"`
	TrailingStop *float64 `json:"trailing_stop,omitempty"`
}

func (s Signal) HasOrder() bool { return s.Order != nil }

func NoAction(note string) Signal {
	if note == "" {
		note = "No action"
	}
	return Signal{Note: note}
}

func warmingUp(note string) Signal {
	return Signal{Note: note, WarmingUp: true}
}

func Buy(symbol string, qty float64) Signal {
	return Signal{Order: marketOrder(symbol, broker.SideBuy, qty)}
}

func Sell(symbol string, qty float64, reason string) Signal {
	return Signal{Order: marketOrder(symbol, broker.SideSell, qty), Reason: reason}
}

func marketOrder(symbol string, side broker.Side, qty float64) *broker.OrderRequest {
	return &broker.OrderRequest{
		Symbol:      symbol,
		Side:        side,
		Type:        broker.OrderTypeMarket,
		Qty:         qty,
		TimeInForce: "day",
	}
}

func ptr(v float64) *float64 { return &v }
