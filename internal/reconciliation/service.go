// Package reconciliation compares the local position book with the
// broker's view and reports, or optionally corrects, any drift.
package reconciliation

import (
	"context"
	"encoding/json"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"daytrading-core/internal/events"
	"daytrading-core/internal/state"
	"daytrading-core/pkg/broker"
	"daytrading-core/pkg/db"
	"daytrading-core/pkg/logger"
)

const qtyTolerance = 0.0001

// PositionSource lists the broker's open positions.
type PositionSource interface {
	GetPositions(ctx context.Context) ([]broker.Position, error)
}

// Service handles periodic reconciliation
type Service struct {
	broker    PositionSource
	positions *state.Manager
	database  *db.Database
	bus       *events.Bus
	mode      string
	interval  time.Duration
	autoSync  bool
	mu        sync.Mutex
	log       *zap.Logger
}

// Report contains one reconciliation pass.
type Report struct {
	Timestamp     time.Time      `json:"timestamp"`
	PositionDiffs []PositionDiff `json:"position_diffs"`
	SyncedCount   int            `json:"synced_count"`
}

// HasDiffs reports whether any symbol drifted.
func (r *Report) HasDiffs() bool { return len(r.PositionDiffs) > 0 }

// PositionDiff represents a position difference
type PositionDiff struct {
	Symbol     string  `json:"symbol"`
	LocalQty   float64 `json:"local_qty"`
	BrokerQty  float64 `json:"broker_qty"`
	Difference float64 `json:"difference"`
	Synced     bool    `json:"synced"`
}

// Config configures a Service. Interval <= 0 disables the periodic loop.
type Config struct {
	Broker    PositionSource
	Positions *state.Manager
	DB        *db.Database
	Bus       *events.Bus
	Mode      string
	Interval  time.Duration
	AutoSync  bool
}

func NewService(cfg Config) *Service {
	return &Service{
		broker:    cfg.Broker,
		positions: cfg.Positions,
		database:  cfg.DB,
		bus:       cfg.Bus,
		mode:      cfg.Mode,
		interval:  cfg.Interval,
		autoSync:  cfg.AutoSync,
		log:       logger.Named("reconciliation"),
	}
}

// Start begins periodic reconciliation
func (s *Service) Start(ctx context.Context) {
	if s.interval <= 0 {
		s.log.Info("reconciliation disabled")
		return
	}
	ticker := time.NewTicker(s.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := s.Reconcile(ctx); err != nil {
					s.log.Error("reconciliation failed", zap.Error(err))
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	s.log.Info("reconciliation started",
		zap.Duration("interval", s.interval), zap.Bool("auto_sync", s.autoSync))
}

// Reconcile compares every symbol held on either side. Each drift is
// logged, published and written as a reconciliation_drift decision; with
// auto-sync the local quantity is set to the broker's.
func (s *Service) Reconcile(ctx context.Context) (*Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, span := logger.StartSpan(ctx, "reconciliation.reconcile")
	defer span.End()

	report := &Report{Timestamp: time.Now().UTC(), PositionDiffs: []PositionDiff{}}

	remote, err := s.broker.GetPositions(ctx)
	if err != nil {
		logger.RecordError(ctx, err)
		return nil, err
	}
	local, err := s.positions.Positions(ctx, s.mode, true)
	if err != nil {
		return nil, err
	}

	brokerQty := make(map[string]broker.Position, len(remote))
	for _, p := range remote {
		brokerQty[p.Symbol] = p
	}
	localQty := make(map[string]db.Position, len(local))
	for _, p := range local {
		localQty[p.Symbol] = p
	}
	symbols := make([]string, 0, len(brokerQty)+len(localQty))
	for sym := range brokerQty {
		symbols = append(symbols, sym)
	}
	for sym := range localQty {
		if _, ok := brokerQty[sym]; !ok {
			symbols = append(symbols, sym)
		}
	}
	sort.Strings(symbols)

	for _, sym := range symbols {
		lp, bp := localQty[sym], brokerQty[sym]
		if math.Abs(lp.Qty-bp.Qty) <= qtyTolerance {
			continue
		}
		diff := PositionDiff{
			Symbol:     sym,
			LocalQty:   lp.Qty,
			BrokerQty:  bp.Qty,
			Difference: lp.Qty - bp.Qty,
		}
		if s.autoSync && s.syncPosition(ctx, lp, bp) {
			diff.Synced = true
			report.SyncedCount++
		}
		report.PositionDiffs = append(report.PositionDiffs, diff)
		s.bus.Publish(events.EventReconcileDrift, events.Drift{Symbol: sym, LocalQty: lp.Qty, BrokerQty: bp.Qty})
	}

	s.handleReport(ctx, report)
	return report, nil
}

// syncPosition overwrites the local quantity with the broker's, taking the
// broker's average entry price when the local one is unknown.
func (s *Service) syncPosition(ctx context.Context, local db.Position, remote broker.Position) bool {
	sym := remote.Symbol
	if sym == "" {
		sym = local.Symbol
	}
	avg := local.AvgEntryPrice
	if avg == 0 || remote.Qty == 0 {
		avg = remote.AvgEntryPrice
	}
	if _, err := s.positions.SetPosition(ctx, sym, s.mode, remote.Qty, avg); err != nil {
		s.log.Error("failed to sync position", zap.String("symbol", sym), zap.Error(err))
		return false
	}
	s.log.Info("position synced to broker",
		zap.String("symbol", sym), zap.Float64("from", local.Qty), zap.Float64("to", remote.Qty))
	return true
}

func (s *Service) handleReport(ctx context.Context, report *Report) {
	if !report.HasDiffs() {
		s.log.Debug("reconciliation ok")
		return
	}
	for _, d := range report.PositionDiffs {
		s.log.Warn("position drift",
			zap.String("symbol", d.Symbol),
			zap.Float64("local_qty", d.LocalQty),
			zap.Float64("broker_qty", d.BrokerQty),
			zap.Bool("synced", d.Synced),
		)
	}
	raw, _ := json.Marshal(report)
	entry := &db.DecisionLog{
		Level:   db.LevelWarn,
		Context: "reconciliation_drift",
		Message: "Position drift detected between local book and broker",
		Payload: raw,
	}
	if err := s.database.AppendDecisionLog(ctx, entry); err != nil {
		s.log.Error("write decision log", zap.Error(err))
	}
}
