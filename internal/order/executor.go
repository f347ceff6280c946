package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"daytrading-core/internal/events"
	"daytrading-core/internal/state"
	"daytrading-core/pkg/broker"
	"daytrading-core/pkg/db"
	"daytrading-core/pkg/errs"
	"daytrading-core/pkg/logger"
)

// RiskChecker is the pre-trade gate. A *errs.RiskDenied result is a denial;
// any other error means the check itself failed.
type RiskChecker interface {
	Check(ctx context.Context, mode string, req broker.OrderRequest, dayPL float64) error
}

// Executor places one job at the broker and records the outcome.
type Executor struct {
	db        *db.Database
	adapter   broker.Adapter
	risk      RiskChecker
	positions *state.Manager
	updates   *UpdateHandler
	bus       *events.Bus
	loc       *time.Location
	now       func() time.Time
	log       *zap.Logger
}

// NewExecutor wires the executor. loc sets the trading day boundary used
// for the daily P&L fed to the risk check.
func NewExecutor(database *db.Database, adapter broker.Adapter, risk RiskChecker, positions *state.Manager,
	updates *UpdateHandler, bus *events.Bus, loc *time.Location) *Executor {
	if loc == nil {
		loc = time.UTC
	}
	return &Executor{
		db:        database,
		adapter:   adapter,
		risk:      risk,
		positions: positions,
		updates:   updates,
		bus:       bus,
		loc:       loc,
		now:       time.Now,
		log:       logger.Named("order.executor"),
	}
}

// Execute runs a job. It returns nil when the run is no longer active or the
// risk check denied the order; broker and storage failures are logged as
// order_failed and returned.
func (e *Executor) Execute(ctx context.Context, job *Job) error {
	ctx, span := logger.StartSpan(ctx, "order.execute",
		attribute.Int64("run_id", job.RunID),
		attribute.String("symbol", job.Request.Symbol),
		attribute.String("side", string(job.Request.Side)),
	)
	defer span.End()
	log := logger.Ctx(ctx, e.log).With(zap.Int64("run_id", job.RunID), zap.String("symbol", job.Request.Symbol))
	start := e.now()

	run, err := e.db.GetRun(ctx, job.RunID)
	if errors.Is(err, db.ErrNotFound) {
		log.Warn("strategy run not found; dropping order")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load run: %w", err)
	}
	if run.Status != db.RunRunning {
		log.Info("strategy run not active; dropping order", zap.String("run_status", run.Status))
		return nil
	}

	if job.Request.ClientOrderID == "" {
		job.Request.ClientOrderID = uuid.NewString()
	}
	req := job.Request
	log = log.With(zap.String("client_order_id", req.ClientOrderID))

	dayPL, err := e.db.DailyPnL(ctx, startOfDay(e.now(), e.loc))
	if err != nil {
		return e.fail(ctx, job, start, fmt.Errorf("daily pnl: %w", err))
	}
	if err := e.risk.Check(ctx, job.Mode, req, dayPL); err != nil {
		var denied *errs.RiskDenied
		if errors.As(err, &denied) {
			log.Warn("risk guard denied order", zap.String("check", denied.Check), zap.String("reason", denied.Reason))
			e.decision(ctx, job, db.LevelWarn, "risk_denied", "Order denied by risk guard", map[string]any{
				"symbol": req.Symbol,
				"side":   req.Side,
				"qty":    req.Qty,
				"check":  denied.Check,
				"reason": denied.Reason,
				"day_pl": dayPL,
			})
			e.bus.Publish(events.EventOrderDenied, e.outcome(job, start, denied))
			return nil
		}
		return e.fail(ctx, job, start, fmt.Errorf("risk check: %w", err))
	}

	log.Info("sending order to broker", zap.Float64("qty", req.Qty), zap.String("type", string(req.Type)))
	res, err := e.adapter.PlaceOrder(ctx, req)
	if err != nil && job.Attempt > 1 && duplicateClientID(err) {
		res, err = e.adopt(ctx, req.ClientOrderID, err)
	}
	if err != nil {
		return e.fail(ctx, job, start, err)
	}

	o, err := e.persist(ctx, job, res)
	if err != nil {
		return e.fail(ctx, job, start, err)
	}

	if res.FilledQty > 0 {
		event := "partial_fill"
		if broker.NormalizeStatus(res.Status) == db.StatusFilled {
			event = "fill"
		}
		raw := json.RawMessage(res.Raw)
		if !json.Valid(raw) {
			raw = nil
		}
		if _, err := e.updates.Apply(ctx, Update{
			Event:          event,
			BrokerOrderID:  res.BrokerOrderID,
			ClientOrderID:  res.ClientOrderID,
			Status:         res.Status,
			FilledQty:      &res.FilledQty,
			FilledAvgPrice: res.FilledAvgPrice,
			Raw:            raw,
		}); err != nil {
			log.Error("apply immediate fill", zap.Error(err))
		}
	}

	if req.Side == broker.SideBuy && (job.StopLoss != nil || job.TakeProfit != nil) {
		if _, err := e.positions.SetEntryStops(ctx, req.Symbol, job.Mode, job.StopLoss, job.TakeProfit); err != nil {
			log.Error("store entry stops", zap.Error(err))
		} else {
			log.Info("stop-loss and take-profit set",
				zap.Float64p("stop_loss", job.StopLoss), zap.Float64p("take_profit", job.TakeProfit))
		}
	}

	e.decision(ctx, job, db.LevelInfo, "order_placed",
		fmt.Sprintf("Order placed: %s %g %s", res.Side, res.Qty, res.Symbol),
		map[string]any{
			"order_id":        o.ID,
			"broker_order_id": res.BrokerOrderID,
			"client_order_id": res.ClientOrderID,
			"symbol":          res.Symbol,
			"side":            res.Side,
			"type":            res.Type,
			"qty":             res.Qty,
			"status":          o.Status,
			"stop_loss":       job.StopLoss,
			"take_profit":     job.TakeProfit,
		})
	e.bus.Publish(events.EventOrderPlaced, e.outcome(job, start, nil))
	log.Info("order placed", zap.String("broker_order_id", res.BrokerOrderID), zap.String("status", o.Status))
	return nil
}

// adopt fetches the order an earlier attempt got accepted before its
// response was lost, so the retry tracks it instead of failing.
func (e *Executor) adopt(ctx context.Context, clientOrderID string, rejected error) (*broker.OrderResult, error) {
	log := logger.Ctx(ctx, e.log).With(zap.String("client_order_id", clientOrderID))
	res, err := e.adapter.GetOrderByClientID(ctx, clientOrderID)
	if err != nil {
		log.Error("lookup after duplicate rejection failed", zap.Error(err))
		return nil, fmt.Errorf("%w (lookup by client id: %v)", rejected, err)
	}
	log.Info("order already accepted by an earlier attempt", zap.String("broker_order_id", res.BrokerOrderID))
	return res, nil
}

// duplicateClientID reports whether the broker refused an order because its
// client id was already used.
func duplicateClientID(err error) bool {
	var be *errs.BrokerError
	if !errors.As(err, &be) {
		return false
	}
	return be.StatusCode == http.StatusUnprocessableEntity || be.StatusCode == http.StatusConflict
}

// persist stores the placed order. A client id already on file means an
// earlier attempt got this far, so the stored row is reused.
func (e *Executor) persist(ctx context.Context, job *Job, res *broker.OrderResult) (*db.Order, error) {
	placed := res.SubmittedAt
	runID := job.RunID
	o := &db.Order{
		StrategyRunID: &runID,
		ClientOrderID: res.ClientOrderID,
		BrokerOrderID: res.BrokerOrderID,
		Symbol:        res.Symbol,
		Side:          string(res.Side),
		Type:          string(res.Type),
		Qty:           res.Qty,
		LimitPrice:    job.Request.LimitPrice,
		StopPrice:     job.Request.StopPrice,
		TimeInForce:   job.Request.TimeInForce,
		Status:        db.StatusNew,
		PlacedAt:      &placed,
		Raw:           res.Raw,
	}
	err := e.db.CreateOrder(ctx, o)
	if errors.Is(err, db.ErrDuplicate) {
		return e.db.FindOrder(ctx, res.BrokerOrderID, res.ClientOrderID)
	}
	if err != nil {
		return nil, err
	}
	return o, nil
}

func (e *Executor) fail(ctx context.Context, job *Job, start time.Time, err error) error {
	logger.RecordError(ctx, err)
	logger.Ctx(ctx, e.log).Error("order execution failed",
		zap.Int64("run_id", job.RunID),
		zap.String("symbol", job.Request.Symbol),
		zap.String("side", string(job.Request.Side)),
		zap.Float64("qty", job.Request.Qty),
		zap.Int("attempt", job.Attempt),
		zap.Error(err),
	)
	e.decision(ctx, job, db.LevelError, "order_failed", "Failed to place order: "+err.Error(), map[string]any{
		"symbol":          job.Request.Symbol,
		"side":            job.Request.Side,
		"qty":             job.Request.Qty,
		"client_order_id": job.Request.ClientOrderID,
		"attempt":         job.Attempt,
		"error":           err.Error(),
	})
	e.bus.Publish(events.EventOrderFailed, e.outcome(job, start, err))
	return err
}

func (e *Executor) outcome(job *Job, start time.Time, err error) events.OrderOutcome {
	out := events.OrderOutcome{
		RunID:         job.RunID,
		ClientOrderID: job.Request.ClientOrderID,
		Symbol:        job.Request.Symbol,
		Side:          string(job.Request.Side),
		Qty:           job.Request.Qty,
		Latency:       e.now().Sub(start),
	}
	if err != nil {
		out.Err = err.Error()
	}
	return out
}

func (e *Executor) decision(ctx context.Context, job *Job, level, kind, msg string, payload map[string]any) {
	raw, _ := json.Marshal(payload)
	runID := job.RunID
	entry := &db.DecisionLog{
		StrategyRunID: &runID,
		Level:         level,
		Context:       kind,
		Message:       msg,
		Payload:       raw,
	}
	if err := e.db.AppendDecisionLog(ctx, entry); err != nil {
		e.log.Error("write decision log", zap.String("context", kind), zap.Error(err))
	}
}

func startOfDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}
