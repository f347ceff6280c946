package risk

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"daytrading-core/pkg/broker"
	"daytrading-core/pkg/db"
	"daytrading-core/pkg/logger"
)

const panicNotes = "Stopped by panic button"

// Report is the outcome of FlattenAll. Errors collects every phase failure.
type Report struct {
	PositionsClosed bool     `json:"positions_closed"`
	OrdersCanceled  int      `json:"orders_canceled"`
	RunStopped      bool     `json:"run_stopped"`
	Errors          []string `json:"errors"`

	// StoppedRuns lists the run IDs moved to stopped.
	StoppedRuns []int64 `json:"-"`
}

// PanicService flattens the book and halts trading.
type PanicService struct {
	adapter broker.Adapter
	db      *db.Database
	log     *zap.Logger
}

func NewPanicService(adapter broker.Adapter, database *db.Database) *PanicService {
	return &PanicService{adapter: adapter, db: database, log: logger.Named("risk.panic")}
}

// FlattenAll closes every broker position, cancels open orders and stops
// runID (or every running run when nil). Each phase runs even if an earlier
// one failed. It never returns an error; failures land in Report.Errors and
// a warn decision log is always written.
func (p *PanicService) FlattenAll(ctx context.Context, runID *int64) Report {
	ctx, span := logger.StartSpan(ctx, "risk.flatten_all")
	defer span.End()
	log := logger.Ctx(ctx, p.log)
	log.Warn("flatten all triggered", zap.Int64p("strategy_run_id", runID))

	report := Report{Errors: []string{}}

	if _, err := p.adapter.CloseAllPositions(ctx); err != nil {
		report.Errors = append(report.Errors, "Failed to close positions: "+err.Error())
		log.Error("close positions failed", zap.Error(err))
	} else {
		report.PositionsClosed = true
		log.Info("all positions closed")
	}

	p.cancelOpenOrders(ctx, &report)
	p.stopRuns(ctx, runID, &report)

	payload, _ := json.Marshal(report)
	entry := &db.DecisionLog{
		StrategyRunID: runID,
		Level:         db.LevelWarn,
		Context:       "panic",
		Message:       "PANIC: Flatten all positions and cancel orders triggered",
		Payload:       payload,
	}
	if err := p.db.AppendDecisionLog(ctx, entry); err != nil {
		logger.RecordError(ctx, err)
		log.Error("write panic decision log", zap.Error(err))
	}
	return report
}

func (p *PanicService) cancelOpenOrders(ctx context.Context, report *Report) {
	orders, err := p.db.ListOpenOrders(ctx)
	if err != nil {
		report.Errors = append(report.Errors, "Failed to cancel orders: "+err.Error())
		p.log.Error("list open orders failed", zap.Error(err))
		return
	}
	for _, o := range orders {
		if err := p.adapter.CancelOrder(ctx, o.BrokerOrderID); err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("Failed to cancel order %d: %v", o.ID, err))
			p.log.Error("cancel order failed", zap.Int64("order_id", o.ID), zap.Error(err))
			continue
		}
		if err := p.db.MarkOrderCanceled(ctx, o.ID); err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("Failed to mark order %d canceled: %v", o.ID, err))
			continue
		}
		report.OrdersCanceled++
	}
	p.log.Info("canceled orders", zap.Int("count", report.OrdersCanceled))
}

func (p *PanicService) stopRuns(ctx context.Context, runID *int64, report *Report) {
	if runID == nil {
		ids, err := p.db.StopAllRunning(ctx, panicNotes)
		if err != nil {
			report.Errors = append(report.Errors, "Failed to stop runs: "+err.Error())
			p.log.Error("stop runs failed", zap.Error(err))
			return
		}
		report.RunStopped = true
		report.StoppedRuns = ids
		p.log.Info("all running strategy runs stopped", zap.Int("count", len(ids)))
		return
	}

	run, err := p.db.GetRun(ctx, *runID)
	if err != nil {
		report.Errors = append(report.Errors, "Failed to stop runs: "+err.Error())
		p.log.Error("load run failed", zap.Int64("run_id", *runID), zap.Error(err))
		return
	}
	if run.Status != db.RunRunning {
		return
	}
	if err := p.db.StopRun(ctx, run.ID, panicNotes); err != nil {
		report.Errors = append(report.Errors, "Failed to stop runs: "+err.Error())
		p.log.Error("stop run failed", zap.Int64("run_id", run.ID), zap.Error(err))
		return
	}
	report.RunStopped = true
	report.StoppedRuns = []int64{run.ID}
	p.log.Info("strategy run stopped", zap.Int64("run_id", run.ID))
}
