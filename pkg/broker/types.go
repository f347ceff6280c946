// Package broker is the narrow contract between the engine and the broker's
// execution API, plus the Alpaca implementation of it.
package broker

import (
	"context"
	"time"

	"daytrading-core/pkg/errs"
)

// Side denotes order side.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OrderType denotes the supported order types.
type OrderType string

const (
	OrderTypeMarket    OrderType = "market"
	OrderTypeLimit     OrderType = "limit"
	OrderTypeStop      OrderType = "stop"
	OrderTypeStopLimit OrderType = "stop_limit"
)

// OrderRequest is an order intent in canonical form.
type OrderRequest struct {
	Symbol        string    `json:"symbol"`
	Side          Side      `json:"side"`
	Type          OrderType `json:"type"`
	Qty           float64   `json:"qty"`
	LimitPrice    *float64  `json:"limit_price,omitempty"`
	StopPrice     *float64  `json:"stop_price,omitempty"`
	TimeInForce   string    `json:"time_in_force"`
	ClientOrderID string    `json:"client_order_id,omitempty"`
}

// Validate rejects requests that must never reach the broker.
func (r OrderRequest) Validate() error {
	if r.Symbol == "" {
		return errs.Invalid("symbol", "is required")
	}
	if r.Side != SideBuy && r.Side != SideSell {
		return errs.Invalid("side", "must be buy or sell, got %q", r.Side)
	}
	if r.Qty <= 0 {
		return errs.Invalid("qty", "must be > 0, got %v", r.Qty)
	}
	switch r.Type {
	case OrderTypeMarket:
	case OrderTypeLimit:
		if r.LimitPrice == nil {
			return errs.Invalid("limit_price", "is required for limit orders")
		}
	case OrderTypeStop:
		if r.StopPrice == nil {
			return errs.Invalid("stop_price", "is required for stop orders")
		}
	case OrderTypeStopLimit:
		if r.LimitPrice == nil || r.StopPrice == nil {
			return errs.Invalid("stop_limit", "requires limit_price and stop_price")
		}
	default:
		return errs.Invalid("type", "unsupported order type %q", r.Type)
	}
	return nil
}

// OrderResult is the broker acknowledgement in canonical form.
type OrderResult struct {
	BrokerOrderID  string    `json:"broker_order_id"`
	ClientOrderID  string    `json:"client_order_id"`
	Symbol         string    `json:"symbol"`
	Side           Side      `json:"side"`
	Type           OrderType `json:"type"`
	Qty            float64   `json:"qty"`
	Status         string    `json:"status"`
	FilledQty      float64   `json:"filled_qty"`
	FilledAvgPrice *float64  `json:"filled_avg_price,omitempty"`
	SubmittedAt    time.Time `json:"submitted_at"`
	Raw            string    `json:"-"`
}

// Account is the subset of account state the engine reads.
type Account struct {
	ID             string  `json:"id"`
	Status         string  `json:"status"`
	Currency       string  `json:"currency"`
	Cash           float64 `json:"cash"`
	Equity         float64 `json:"equity"`
	BuyingPower    float64 `json:"buying_power"`
	PortfolioValue float64 `json:"portfolio_value"`
}

// Position is a broker-side holding.
type Position struct {
	Symbol        string  `json:"symbol"`
	Qty           float64 `json:"qty"`
	AvgEntryPrice float64 `json:"avg_entry_price"`
	MarketValue   float64 `json:"market_value"`
	UnrealizedPL  float64 `json:"unrealized_pl"`
	Side          string  `json:"side"`
}

// Adapter is everything the engine needs from a broker. Every method fails
// with *errs.BrokerError on transport or HTTP errors and never retries.
type Adapter interface {
	GetAccount(ctx context.Context) (*Account, error)
	GetPositions(ctx context.Context) ([]Position, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResult, error)
	CancelOrder(ctx context.Context, brokerOrderID string) error
	// GetOrderByClientID looks up an order by the id the engine assigned.
	// An unknown id fails with a 404 BrokerError.
	GetOrderByClientID(ctx context.Context, clientOrderID string) (*OrderResult, error)
	// CloseAllPositions liquidates every position and cancels open orders.
	// It returns the number of positions the broker accepted to close.
	CloseAllPositions(ctx context.Context) (int, error)
}
