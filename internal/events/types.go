package events

import "time"

// Event enumerates high-level topics inside the trading core.
type Event string

const (
	EventBarProcessed    Event = "bar.processed"
	EventSignal          Event = "strategy.signal"
	EventOrderPlaced     Event = "order.placed"
	EventOrderFailed     Event = "order.failed"
	EventOrderDenied     Event = "order.denied"
	EventOrderUpdate     Event = "order.update"
	EventPositionChange  Event = "position.change"
	EventWebhookRejected Event = "webhook.rejected"
	EventPanic           Event = "panic"
	EventReconcileDrift  Event = "reconcile.drift"
)

// BarProcessed is published once per ingested bar.
type BarProcessed struct {
	Symbol string
	Runs   int
	Took   time.Duration
}

// SignalRaised is published for each non-trivial strategy signal.
type SignalRaised struct {
	RunID  int64
	Symbol string
	Side   string
	Note   string
}

// OrderOutcome is the payload of the order.placed/failed/denied topics.
type OrderOutcome struct {
	RunID         int64
	ClientOrderID string
	Symbol        string
	Side          string
	Qty           float64
	Latency       time.Duration
	Err           string
}

// OrderUpdated is published for every accepted order state change.
type OrderUpdated struct {
	OrderID int64
	Event   string
	Status  string
}

// PositionChanged is published after a fill moved a position.
type PositionChanged struct {
	Symbol        string
	Mode          string
	Qty           float64
	AvgEntryPrice float64
}

// Drift is a local/broker position mismatch found by reconciliation.
type Drift struct {
	Symbol    string
	LocalQty  float64
	BrokerQty float64
}
