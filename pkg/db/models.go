package db

import (
	"encoding/json"
	"time"
)

// Run status values.
const (
	RunRunning = "running"
	RunStopped = "stopped"
)

// Order status values after normalization.
const (
	StatusNew             = "new"
	StatusPartiallyFilled = "partially_filled"
	StatusFilled          = "filled"
	StatusCanceled        = "canceled"
	StatusRejected        = "rejected"
)

// Decision log levels.
const (
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Strategy is a configured strategy definition.
type Strategy struct {
	ID        int64           `json:"id"`
	Name      string          `json:"name"`
	Kind      string          `json:"kind"`
	Symbol    string          `json:"symbol"`
	Config    json.RawMessage `json:"config"`
	IsEnabled bool            `json:"is_enabled"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// StrategyRun is one activation of a strategy. Runs are never deleted.
type StrategyRun struct {
	ID         int64      `json:"id"`
	StrategyID int64      `json:"strategy_id"`
	Status     string     `json:"status"`
	Mode       string     `json:"mode"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	StoppedAt  *time.Time `json:"stopped_at,omitempty"`
	Notes      string     `json:"notes"`
}

// ActiveRun pairs a running run with its strategy definition.
type ActiveRun struct {
	Run      StrategyRun
	Strategy Strategy
}

// Order is a broker order placed by the engine.
type Order struct {
	ID            int64      `json:"id"`
	StrategyRunID *int64     `json:"strategy_run_id,omitempty"`
	ClientOrderID string     `json:"client_order_id"`
	BrokerOrderID string     `json:"broker_order_id"`
	Broker        string     `json:"broker"`
	Symbol        string     `json:"symbol"`
	Side          string     `json:"side"`
	Type          string     `json:"type"`
	Qty           float64    `json:"qty"`
	LimitPrice    *float64   `json:"limit_price,omitempty"`
	StopPrice     *float64   `json:"stop_price,omitempty"`
	TimeInForce   string     `json:"time_in_force"`
	Status        string     `json:"status"`
	PlacedAt      *time.Time `json:"placed_at,omitempty"`
	FilledQty     float64    `json:"filled_qty"`
	AvgFillPrice  *float64   `json:"avg_fill_price,omitempty"`
	Raw           string     `json:"raw,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// IsTerminal reports whether no further transitions are accepted.
func (o *Order) IsTerminal() bool {
	switch o.Status {
	case StatusFilled, StatusCanceled, StatusRejected:
		return true
	}
	return false
}

// Fill is one execution recorded against an order.
type Fill struct {
	ID      int64     `json:"id"`
	OrderID int64     `json:"order_id"`
	Symbol  string    `json:"symbol"`
	Side    string    `json:"side"`
	Qty     float64   `json:"qty"`
	Price   float64   `json:"price"`
	FillAt  time.Time `json:"fill_at"`
	Raw     string    `json:"raw,omitempty"`
}

// Position tracks net holdings per (symbol, mode).
type Position struct {
	ID            int64     `json:"id"`
	Symbol        string    `json:"symbol"`
	Mode          string    `json:"mode"`
	Qty           float64   `json:"qty"`
	AvgEntryPrice float64   `json:"avg_entry_price"`
	UnrealizedPL  float64   `json:"unrealized_pl"`
	StopLoss      *float64  `json:"stop_loss,omitempty"`
	TakeProfit    *float64  `json:"take_profit,omitempty"`
	TrailingStop  *float64  `json:"trailing_stop,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// DecisionLog is an append-only audit entry.
type DecisionLog struct {
	ID            string          `json:"id"`
	StrategyRunID *int64          `json:"strategy_run_id,omitempty"`
	Level         string          `json:"level"`
	Context       string          `json:"context"`
	Message       string          `json:"message"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// RiskLimit caps trading for one mode.
type RiskLimit struct {
	Mode            string    `json:"mode"`
	DailyMaxLoss    float64   `json:"daily_max_loss"`
	MaxPositionQty  float64   `json:"max_position_qty"`
	MaxOrdersPerMin int       `json:"max_orders_per_min"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// DailyPnL is one day of realized cash flow from the fills ledger.
type DailyPnL struct {
	Date   string  `json:"date"`
	PnL    float64 `json:"pnl"`
	Trades int     `json:"trades"`
	Wins   int     `json:"wins"`
}
