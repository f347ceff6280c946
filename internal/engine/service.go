// Package engine hosts the bar Runner and the control Service, the single
// surface through which the API and CLI drive trading.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"go.uber.org/zap"

	"daytrading-core/internal/events"
	"daytrading-core/internal/risk"
	"daytrading-core/internal/state"
	"daytrading-core/internal/strategy"
	"daytrading-core/pkg/broker"
	"daytrading-core/pkg/db"
	"daytrading-core/pkg/errs"
	"daytrading-core/pkg/logger"
)

const (
	stopNotes       = "Stopped by user"
	defaultPnLDays  = 90
	maxReadLimit    = 1000
	defaultReadSize = 100
)

// PanicRunner flattens the book. Implemented by *risk.PanicService.
type PanicRunner interface {
	FlattenAll(ctx context.Context, runID *int64) risk.Report
}

// Service implements the control operations.
type Service struct {
	db        *db.Database
	adapter   broker.Adapter
	positions *state.Manager
	runner    *Runner
	flattener PanicRunner
	bus       *events.Bus
	mode      string
	loc       *time.Location
	now       func() time.Time
	log       *zap.Logger
}

// ServiceConfig collects the Service's collaborators.
type ServiceConfig struct {
	DB        *db.Database
	Adapter   broker.Adapter
	Positions *state.Manager
	Runner    *Runner
	Panic     PanicRunner
	Bus       *events.Bus
	Mode      string
	Location  *time.Location
}

func NewService(cfg ServiceConfig) *Service {
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		db:        cfg.DB,
		adapter:   cfg.Adapter,
		positions: cfg.Positions,
		runner:    cfg.Runner,
		flattener: cfg.Panic,
		bus:       cfg.Bus,
		mode:      cfg.Mode,
		loc:       loc,
		now:       time.Now,
		log:       logger.Named("engine.service"),
	}
}

// Mode is the trading mode new runs start in.
func (s *Service) Mode() string { return s.mode }

// StrategyView is a strategy with its running run, if any.
type StrategyView struct {
	db.Strategy
	Run *db.StrategyRun `json:"run,omitempty"`
}

func (s *Service) ListStrategies(ctx context.Context) ([]StrategyView, error) {
	list, err := s.db.ListStrategies(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]StrategyView, 0, len(list))
	for _, st := range list {
		v := StrategyView{Strategy: st}
		if run, err := s.db.RunningRunForStrategy(ctx, st.ID); err == nil {
			v.Run = run
		} else if !errors.Is(err, db.ErrNotFound) {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (s *Service) GetStrategy(ctx context.Context, id int64) (*StrategyView, error) {
	st, err := s.strategy(ctx, id)
	if err != nil {
		return nil, err
	}
	v := &StrategyView{Strategy: *st}
	run, err := s.db.RunningRunForStrategy(ctx, id)
	switch {
	case err == nil:
		v.Run = run
	case !errors.Is(err, db.ErrNotFound):
		return nil, err
	}
	return v, nil
}

// StartRun opens a run for the strategy in the service mode, stopping any
// run it supersedes. Disabled strategies cannot be started.
func (s *Service) StartRun(ctx context.Context, strategyID int64) (*db.StrategyRun, error) {
	st, err := s.strategy(ctx, strategyID)
	if err != nil {
		return nil, err
	}
	if !st.IsEnabled {
		return nil, errs.Invalid("strategy", "%s is disabled", st.Name)
	}
	prev, err := s.db.RunningRunForStrategy(ctx, strategyID)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		return nil, err
	}
	run, err := s.db.StartRun(ctx, strategyID, s.mode, "")
	if err != nil {
		return nil, err
	}
	if prev != nil {
		s.runner.Forget(prev.ID)
	}
	s.log.Info("strategy run started",
		zap.Int64("strategy_id", strategyID), zap.Int64("run_id", run.ID), zap.String("mode", s.mode))
	return run, nil
}

// StopRun stops every running run of the strategy and returns their IDs.
// Orders already queued are dropped by the executor's run check.
func (s *Service) StopRun(ctx context.Context, strategyID int64) ([]int64, error) {
	if _, err := s.strategy(ctx, strategyID); err != nil {
		return nil, err
	}
	ids, err := s.db.StopRunsForStrategy(ctx, strategyID, stopNotes)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		s.runner.Forget(id)
	}
	s.log.Info("strategy runs stopped", zap.Int64("strategy_id", strategyID), zap.Int("count", len(ids)))
	return ids, nil
}

// ConfigUpdate replaces a strategy's config and optionally toggles it.
type ConfigUpdate struct {
	Config  json.RawMessage `json:"config"`
	Enabled *bool           `json:"is_enabled,omitempty"`
}

// UpdateConfig validates the config against the strategy kind and stores the
// normalized form. A running run picks it up on its next bar.
func (s *Service) UpdateConfig(ctx context.Context, strategyID int64, upd ConfigUpdate) (*db.Strategy, error) {
	st, err := s.strategy(ctx, strategyID)
	if err != nil {
		return nil, err
	}
	if len(upd.Config) == 0 {
		return nil, errs.Invalid("config", "is required")
	}
	symbol, normalized, err := strategy.DecodeConfig(st.Kind, upd.Config)
	if err != nil {
		return nil, err
	}
	if symbol == "" {
		return nil, errs.Invalid("config.symbol", "is required")
	}
	if err := s.db.UpdateStrategyConfig(ctx, strategyID, symbol, normalized); err != nil {
		return nil, err
	}
	if upd.Enabled != nil {
		if err := s.db.SetStrategyEnabled(ctx, strategyID, *upd.Enabled); err != nil {
			return nil, err
		}
	}
	s.log.Info("strategy config updated", zap.Int64("strategy_id", strategyID), zap.String("symbol", symbol))
	return s.strategy(ctx, strategyID)
}

// Panic flattens everything and stops runID, or every run when nil.
func (s *Service) Panic(ctx context.Context, runID *int64) risk.Report {
	report := s.flattener.FlattenAll(ctx, runID)
	for _, id := range report.StoppedRuns {
		s.runner.Forget(id)
	}
	s.bus.Publish(events.EventPanic, report)
	return report
}

func (s *Service) Account(ctx context.Context) (*broker.Account, error) {
	return s.adapter.GetAccount(ctx)
}

// Positions lists open positions in the service mode.
func (s *Service) Positions(ctx context.Context) ([]db.Position, error) {
	return s.positions.Positions(ctx, s.mode, true)
}

func (s *Service) Orders(ctx context.Context, limit int) ([]db.Order, error) {
	return s.db.ListOrders(ctx, clampLimit(limit))
}

func (s *Service) Fills(ctx context.Context, limit int) ([]db.Fill, error) {
	return s.db.ListFills(ctx, clampLimit(limit))
}

func (s *Service) Decisions(ctx context.Context, runID *int64, limit int) ([]db.DecisionLog, error) {
	return s.db.ListDecisionLogs(ctx, runID, clampLimit(limit))
}

// DailyPnL returns the per-day series for the trailing days (90 by default).
func (s *Service) DailyPnL(ctx context.Context, days int) ([]db.DailyPnL, error) {
	if days <= 0 {
		days = defaultPnLDays
	}
	t := s.now().UTC().AddDate(0, 0, -days)
	since := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	series, err := s.db.DailyPnLSeries(ctx, since)
	if err != nil {
		return nil, err
	}
	if series == nil {
		series = []db.DailyPnL{}
	}
	return series, nil
}

// TodayPnL is the cash flow of today's filled orders, the figure the risk
// guard compares against daily_max_loss.
func (s *Service) TodayPnL(ctx context.Context) (float64, error) {
	t := s.now().In(s.loc)
	return s.db.DailyPnL(ctx, time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, s.loc))
}

func (s *Service) RiskLimit(ctx context.Context, mode string) (*db.RiskLimit, error) {
	if err := validMode(mode); err != nil {
		return nil, err
	}
	limit, err := s.db.GetRiskLimit(ctx, mode)
	if errors.Is(err, db.ErrNotFound) {
		return nil, errs.NotFound("risk limit", mode)
	}
	return limit, err
}

func (s *Service) PutRiskLimit(ctx context.Context, limit db.RiskLimit) (*db.RiskLimit, error) {
	if err := validMode(limit.Mode); err != nil {
		return nil, err
	}
	switch {
	case limit.DailyMaxLoss < 0:
		return nil, errs.Invalid("daily_max_loss", "must be >= 0")
	case limit.MaxPositionQty < 0:
		return nil, errs.Invalid("max_position_qty", "must be >= 0")
	case limit.MaxOrdersPerMin < 0:
		return nil, errs.Invalid("max_orders_per_min", "must be >= 0")
	}
	if err := s.db.UpsertRiskLimit(ctx, &limit); err != nil {
		return nil, err
	}
	s.log.Info("risk limit updated", zap.String("mode", limit.Mode))
	return s.db.GetRiskLimit(ctx, limit.Mode)
}

func (s *Service) strategy(ctx context.Context, id int64) (*db.Strategy, error) {
	st, err := s.db.GetStrategy(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return nil, errs.NotFound("strategy", strconv.FormatInt(id, 10))
	}
	return st, err
}

func validMode(mode string) error {
	if mode != "paper" && mode != "live" {
		return errs.Invalid("mode", "must be paper or live, got %q", mode)
	}
	return nil
}

func clampLimit(n int) int {
	if n <= 0 {
		return defaultReadSize
	}
	if n > maxReadLimit {
		return maxReadLimit
	}
	return n
}
