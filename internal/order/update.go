package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"daytrading-core/internal/events"
	"daytrading-core/internal/state"
	"daytrading-core/pkg/broker"
	"daytrading-core/pkg/db"
	"daytrading-core/pkg/errs"
	"daytrading-core/pkg/logger"
)

// Update is a broker order event in the shape the stream forwards it.
type Update struct {
	Event          string
	BrokerOrderID  string
	ClientOrderID  string
	Status         string
	FilledQty      *float64
	FilledAvgPrice *float64
	Raw            json.RawMessage
}

// flexFloat accepts both JSON numbers and numeric strings.
type flexFloat struct {
	v   float64
	set bool
}

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		if s == "" {
			return nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		f.v, f.set = v, true
		return nil
	}
	if err := json.Unmarshal(b, &f.v); err != nil {
		return err
	}
	f.set = true
	return nil
}

func (f flexFloat) ptr() *float64 {
	if !f.set {
		return nil
	}
	v := f.v
	return &v
}

type orderFields struct {
	ID             string    `json:"id"`
	ClientOrderID  string    `json:"client_order_id"`
	Status         string    `json:"status"`
	FilledQty      flexFloat `json:"filled_qty"`
	FilledAvgPrice flexFloat `json:"filled_avg_price"`
}

// ParseUpdate decodes either {"event": ..., "order": {...}} or a bare order
// object. A missing event reads as "update".
func ParseUpdate(data json.RawMessage) (Update, error) {
	var envelope struct {
		Event string          `json:"event"`
		Order json.RawMessage `json:"order"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return Update{}, errs.Invalid("order_update", "malformed payload: %v", err)
	}
	body := envelope.Order
	if len(body) == 0 || string(body) == "null" {
		body = data
	}
	var f orderFields
	if err := json.Unmarshal(body, &f); err != nil {
		return Update{}, errs.Invalid("order", "malformed order: %v", err)
	}
	if f.ID == "" && f.ClientOrderID == "" {
		return Update{}, errs.Invalid("order", "id or client_order_id is required")
	}
	event := envelope.Event
	if event == "" {
		event = "update"
	}
	return Update{
		Event:          event,
		BrokerOrderID:  f.ID,
		ClientOrderID:  f.ClientOrderID,
		Status:         f.Status,
		FilledQty:      f.FilledQty.ptr(),
		FilledAvgPrice: f.FilledAvgPrice.ptr(),
		Raw:            append(json.RawMessage(nil), body...),
	}, nil
}

// UpdateHandler applies order updates: status transition, fills ledger,
// position and decision log. Updates are applied one at a time.
type UpdateHandler struct {
	db        *db.Database
	positions *state.Manager
	bus       *events.Bus
	mode      string

	mu  sync.Mutex
	now func() time.Time
	log *zap.Logger
}

// NewUpdateHandler books fills against positions in the order's run mode,
// falling back to defaultMode for orders without a run.
func NewUpdateHandler(database *db.Database, positions *state.Manager, bus *events.Bus, defaultMode string) *UpdateHandler {
	return &UpdateHandler{
		db:        database,
		positions: positions,
		bus:       bus,
		mode:      defaultMode,
		now:       time.Now,
		log:       logger.Named("order.update"),
	}
}

// Apply processes u. Unknown orders yield a NotFoundError; forbidden
// transitions are recorded and skipped without error. Redelivering an
// update is harmless: fills are booked from the growth of filled_qty only.
func (h *UpdateHandler) Apply(ctx context.Context, u Update) (*db.Order, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	log := logger.Ctx(ctx, h.log)

	o, err := h.db.FindOrder(ctx, u.BrokerOrderID, u.ClientOrderID)
	if errors.Is(err, db.ErrNotFound) {
		log.Warn("order update for unknown order",
			zap.String("broker_order_id", u.BrokerOrderID), zap.String("client_order_id", u.ClientOrderID))
		ref := u.BrokerOrderID
		if ref == "" {
			ref = u.ClientOrderID
		}
		return nil, errs.NotFound("order", ref)
	}
	if err != nil {
		return nil, err
	}

	status := u.Status
	if status == "" {
		status = "new"
	}
	status = broker.NormalizeStatus(status)
	if err := CheckTransition(o.Status, status); err != nil {
		log.Warn("order update ignored", zap.String("client_order_id", o.ClientOrderID), zap.Error(err))
		h.decision(ctx, o, db.LevelWarn,
			fmt.Sprintf("Order %s %s ignored: %s -> %s", o.ClientOrderID, u.Event, o.Status, status), u.Raw)
		return o, nil
	}

	prevFilled := o.FilledQty
	prevAvg := o.AvgFillPrice
	o.Status = status
	if u.BrokerOrderID != "" {
		o.BrokerOrderID = u.BrokerOrderID
	}
	if u.FilledQty != nil {
		o.FilledQty = *u.FilledQty
	}
	if u.FilledAvgPrice != nil {
		o.AvgFillPrice = u.FilledAvgPrice
	}
	if len(u.Raw) > 0 {
		o.Raw = string(u.Raw)
	}
	if err := h.db.UpdateOrderState(ctx, o); err != nil {
		return nil, err
	}
	h.decision(ctx, o, db.LevelInfo, fmt.Sprintf("Order %s %s", o.ClientOrderID, u.Event), u.Raw)
	h.bus.Publish(events.EventOrderUpdate, events.OrderUpdated{OrderID: o.ID, Event: u.Event, Status: o.Status})

	fillBearing := status == db.StatusFilled || status == db.StatusPartiallyFilled ||
		u.Event == "fill" || u.Event == "partial_fill"
	delta := o.FilledQty - prevFilled
	if !fillBearing || delta <= 0 {
		return o, nil
	}
	price, ok := deltaPrice(prevFilled, prevAvg, o.FilledQty, o.AvgFillPrice)
	if !ok {
		log.Warn("fill without price; position not updated", zap.Int64("order_id", o.ID))
		return o, nil
	}
	if err := h.bookFill(ctx, o, delta, price); err != nil {
		return nil, err
	}
	return o, nil
}

func (h *UpdateHandler) bookFill(ctx context.Context, o *db.Order, qty, price float64) error {
	fill := &db.Fill{
		OrderID: o.ID,
		Symbol:  o.Symbol,
		Side:    o.Side,
		Qty:     qty,
		Price:   price,
		FillAt:  h.now().UTC(),
		Raw:     o.Raw,
	}
	if err := h.db.CreateFill(ctx, fill); err != nil {
		return err
	}
	mode := h.modeFor(ctx, o)
	p, err := h.positions.ApplyFill(ctx, o.Symbol, mode, o.Side, qty, price)
	if err != nil {
		return err
	}
	h.bus.Publish(events.EventPositionChange, events.PositionChanged{
		Symbol: p.Symbol, Mode: p.Mode, Qty: p.Qty, AvgEntryPrice: p.AvgEntryPrice,
	})
	return nil
}

func (h *UpdateHandler) modeFor(ctx context.Context, o *db.Order) string {
	if o.StrategyRunID == nil {
		return h.mode
	}
	run, err := h.db.GetRun(ctx, *o.StrategyRunID)
	if err != nil {
		return h.mode
	}
	return run.Mode
}

func (h *UpdateHandler) decision(ctx context.Context, o *db.Order, level, msg string, payload json.RawMessage) {
	if !json.Valid(payload) {
		payload = nil
	}
	entry := &db.DecisionLog{
		StrategyRunID: o.StrategyRunID,
		Level:         level,
		Context:       "order_update",
		Message:       msg,
		Payload:       payload,
	}
	if err := h.db.AppendDecisionLog(ctx, entry); err != nil {
		h.log.Error("write decision log", zap.Error(err))
	}
}

// deltaPrice is the average price of the newly filled slice, derived from
// the cumulative averages before and after.
func deltaPrice(prevFilled float64, prevAvg *float64, filled float64, avg *float64) (float64, bool) {
	if avg == nil || *avg <= 0 {
		return 0, false
	}
	if prevFilled <= 0 || prevAvg == nil {
		return *avg, true
	}
	px := (*avg*filled - *prevAvg*prevFilled) / (filled - prevFilled)
	if px <= 0 {
		return *avg, true
	}
	return px, true
}
