package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"daytrading-core/internal/events"
	"daytrading-core/internal/market"
	"daytrading-core/internal/order"
	"daytrading-core/internal/state"
	"daytrading-core/internal/strategy"
	"daytrading-core/pkg/db"
	"daytrading-core/pkg/logger"
)

// Submitter accepts order jobs without blocking.
type Submitter interface {
	Submit(job order.Job) bool
}

// BalanceSource reports the last synced account equity.
type BalanceSource interface {
	Balance() (float64, bool)
}

// Warmer supplies recent bars to prime a freshly built strategy.
type Warmer interface {
	RecentBars(ctx context.Context, symbol string, limit int) ([]market.Bar, error)
}

// warmTimeout bounds one background warm-up fetch.
const warmTimeout = 30 * time.Second

type instance struct {
	mu        sync.Mutex
	strat     strategy.Strategy
	updatedAt time.Time

	// warming is set while history is being fetched; live bars queue in pending.
	warming bool
	pending []market.Bar
}

// Runner evaluates bars against every active run for the bar's symbol.
// Each run keeps one strategy instance so its bar window survives across
// deliveries; bars for the same run are evaluated one at a time.
type Runner struct {
	db        *db.Database
	registry  *strategy.Registry
	positions *state.Manager
	orders    Submitter
	balance   BalanceSource
	warmer    Warmer
	warmBars  int
	bus       *events.Bus

	mu        sync.Mutex
	instances map[int64]*instance
	log       *zap.Logger
}

// RunnerConfig collects the Runner's collaborators. Balance and Warmer are optional.
type RunnerConfig struct {
	DB        *db.Database
	Registry  *strategy.Registry
	Positions *state.Manager
	Orders    Submitter
	Balance   BalanceSource
	Warmer    Warmer
	WarmBars  int
	Bus       *events.Bus
}

func NewRunner(cfg RunnerConfig) *Runner {
	return &Runner{
		db:        cfg.DB,
		registry:  cfg.Registry,
		positions: cfg.Positions,
		orders:    cfg.Orders,
		balance:   cfg.Balance,
		warmer:    cfg.Warmer,
		warmBars:  cfg.WarmBars,
		bus:       cfg.Bus,
		instances: make(map[int64]*instance),
		log:       logger.Named("engine.runner"),
	}
}

// ProcessBar fans bar out to the active runs for its symbol and returns how
// many were evaluated. A failing run is logged and does not affect the others.
func (r *Runner) ProcessBar(ctx context.Context, bar market.Bar) (int, error) {
	if err := bar.Validate(); err != nil {
		return 0, err
	}
	ctx, span := logger.StartSpan(ctx, "engine.process_bar", attribute.String("symbol", bar.Symbol))
	defer span.End()
	log := logger.Ctx(ctx, r.log)
	start := time.Now()

	runs, err := r.db.ListActiveRunsForSymbol(ctx, bar.Symbol)
	if err != nil {
		logger.RecordError(ctx, err)
		return 0, fmt.Errorf("list active runs: %w", err)
	}
	if len(runs) == 0 {
		log.Debug("no active runs", zap.String("symbol", bar.Symbol))
		return 0, nil
	}
	log.Info("processing bar",
		zap.String("symbol", bar.Symbol),
		zap.Float64("close", bar.Close),
		zap.Time("timestamp", bar.Timestamp),
		zap.Int("runs", len(runs)),
	)

	for _, run := range runs {
		if err := r.processRun(ctx, run, bar); err != nil {
			logger.RecordError(ctx, err)
			log.Error("failed to process bar for run", zap.Int64("run_id", run.Run.ID), zap.Error(err))
			r.decision(ctx, run.Run.ID, db.LevelError, "engine_error", "Failed to process bar: "+err.Error(),
				map[string]any{"bar": bar})
		}
	}
	r.bus.Publish(events.EventBarProcessed, events.BarProcessed{
		Symbol: bar.Symbol, Runs: len(runs), Took: time.Since(start),
	})
	return len(runs), nil
}

// Forget drops the cached strategy for runID.
func (r *Runner) Forget(runID int64) {
	r.mu.Lock()
	delete(r.instances, runID)
	r.mu.Unlock()
}

func (r *Runner) processRun(ctx context.Context, run db.ActiveRun, bar market.Bar) (err error) {
	inst, err := r.instance(run)
	if err != nil {
		return err
	}
	inst.mu.Lock()
	defer inst.mu.Unlock()
	if inst.warming {
		inst.hold(bar, r.warmBars)
		r.log.Debug("bar held during warm-up", zap.Int64("run_id", run.Run.ID))
		return nil
	}
	defer func() {
		if p := recover(); p != nil {
			r.Forget(run.Run.ID)
			err = fmt.Errorf("strategy panic: %v", p)
		}
	}()

	var balance *float64
	if r.balance != nil {
		if b, ok := r.balance.Balance(); ok {
			balance = &b
		}
	}
	st, err := r.positions.TradingState(ctx, bar.Symbol, run.Run.Mode, balance)
	if err != nil {
		return fmt.Errorf("build state: %w", err)
	}

	sig := inst.strat.OnBar(bar, st)

	if sig.Stops != nil {
		if _, err := r.positions.RaiseStops(ctx, bar.Symbol, run.Run.Mode, sig.Stops.StopLoss, sig.Stops.TrailingStop); err != nil {
			return fmt.Errorf("persist stops: %w", err)
		}
	}
	if sig.WarmingUp {
		r.log.Debug(sig.Note, zap.Int64("run_id", run.Run.ID))
		return nil
	}

	msg := sig.Note
	if msg == "" {
		msg = "Signal generated"
	}
	r.decision(ctx, run.Run.ID, db.LevelInfo, "signal", msg, map[string]any{
		"bar":         bar,
		"has_order":   sig.HasOrder(),
		"order":       sig.Order,
		"reason":      sig.Reason,
		"stop_loss":   sig.StopLoss,
		"take_profit": sig.TakeProfit,
		"stops":       sig.Stops,
	})
	if !sig.HasOrder() {
		return nil
	}

	r.bus.Publish(events.EventSignal, events.SignalRaised{
		RunID: run.Run.ID, Symbol: bar.Symbol, Side: string(sig.Order.Side), Note: sig.Note,
	})
	job := order.Job{
		RunID:      run.Run.ID,
		StrategyID: run.Strategy.ID,
		Mode:       run.Run.Mode,
		Request:    *sig.Order,
		StopLoss:   sig.StopLoss,
		TakeProfit: sig.TakeProfit,
		Note:       sig.Note,
		Reason:     sig.Reason,
	}
	if !r.orders.Submit(job) {
		r.log.Error("order queue full; order dropped", zap.Int64("run_id", run.Run.ID))
		r.decision(ctx, run.Run.ID, db.LevelError, "order_enqueue_failed", "Order queue full; order dropped",
			map[string]any{"order": sig.Order})
		return nil
	}
	r.log.Info("order dispatched",
		zap.Int64("run_id", run.Run.ID),
		zap.String("side", string(sig.Order.Side)),
		zap.Float64("qty", sig.Order.Qty),
	)
	return nil
}

// instance returns the cached strategy for run, rebuilding it when the
// strategy definition changed since it was built. A rebuilt instance is
// warmed in the background; it holds live bars until warm-up finishes.
func (r *Runner) instance(run db.ActiveRun) (*instance, error) {
	r.mu.Lock()
	inst, ok := r.instances[run.Run.ID]
	if ok && inst.updatedAt.Equal(run.Strategy.UpdatedAt) {
		r.mu.Unlock()
		return inst, nil
	}
	r.mu.Unlock()

	strat, err := r.registry.Build(run.Strategy.Kind, run.Strategy.Config)
	if err != nil {
		return nil, fmt.Errorf("build strategy %s: %w", run.Strategy.Name, err)
	}
	inst = &instance{
		strat:     strat,
		updatedAt: run.Strategy.UpdatedAt,
		warming:   r.warmer != nil && r.warmBars > 0,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.instances[run.Run.ID]; ok && cur.updatedAt.Equal(run.Strategy.UpdatedAt) {
		return cur, nil
	}
	r.instances[run.Run.ID] = inst
	r.log.Info("strategy instance built",
		zap.Int64("run_id", run.Run.ID), zap.String("strategy", strat.Name()))
	if inst.warming {
		go r.warm(run, inst)
	}
	return inst, nil
}

// hold queues bar for replay after warm-up, keeping at most limit bars.
func (inst *instance) hold(bar market.Bar, limit int) {
	inst.pending = append(inst.pending, bar)
	if limit > 0 && len(inst.pending) > limit {
		inst.pending = inst.pending[len(inst.pending)-limit:]
	}
}

// warm replays recent history and then the held live bars through the
// instance with a flat state, discarding the signals. History bars at or
// after the first held bar are skipped.
func (r *Runner) warm(run db.ActiveRun, inst *instance) {
	ctx, cancel := context.WithTimeout(context.Background(), warmTimeout)
	defer cancel()
	ctx, span := logger.StartSpan(ctx, "engine.warm_up", attribute.Int64("run_id", run.Run.ID))
	defer span.End()

	bars, err := r.warmer.RecentBars(ctx, run.Strategy.Symbol, r.warmBars)
	if err != nil {
		logger.RecordError(ctx, err)
		r.log.Warn("warm-up bars unavailable", zap.String("symbol", run.Strategy.Symbol), zap.Error(err))
	}

	inst.mu.Lock()
	defer inst.mu.Unlock()
	defer func() {
		inst.warming = false
		inst.pending = nil
		if p := recover(); p != nil {
			r.mu.Lock()
			if r.instances[run.Run.ID] == inst {
				delete(r.instances, run.Run.ID)
			}
			r.mu.Unlock()
			r.log.Error("strategy panic during warm-up", zap.Int64("run_id", run.Run.ID), zap.Any("panic", p))
		}
	}()
	replayed := 0
	for _, b := range bars {
		if len(inst.pending) > 0 && !b.Timestamp.Before(inst.pending[0].Timestamp) {
			break
		}
		inst.strat.OnBar(b, strategy.TradingState{})
		replayed++
	}
	for _, b := range inst.pending {
		inst.strat.OnBar(b, strategy.TradingState{})
	}
	r.log.Info("strategy warmed up",
		zap.Int64("run_id", run.Run.ID),
		zap.Int("bars", replayed),
		zap.Int("held", len(inst.pending)),
	)
}

func (r *Runner) decision(ctx context.Context, runID int64, level, kind, msg string, payload map[string]any) {
	raw, _ := json.Marshal(payload)
	entry := &db.DecisionLog{
		StrategyRunID: &runID,
		Level:         level,
		Context:       kind,
		Message:       msg,
		Payload:       raw,
	}
	if err := r.db.AppendDecisionLog(ctx, entry); err != nil {
		r.log.Error("write decision log", zap.String("context", kind), zap.Error(err))
	}
}
