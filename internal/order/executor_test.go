package order

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"daytrading-core/pkg/broker"
	"daytrading-core/pkg/db"
	"daytrading-core/pkg/errs"
)

type stubRisk struct {
	err    error
	mu     sync.Mutex
	checks int
	dayPL  float64
}

func (s *stubRisk) Check(ctx context.Context, mode string, req broker.OrderRequest, dayPL float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks++
	s.dayPL = dayPL
	return s.err
}

func newTestExecutor(f *fixture, risk RiskChecker) *Executor {
	return NewExecutor(f.db, f.sim, risk, f.positions, f.updates, nil, time.UTC)
}

func buyJob(runID int64, qty float64) *Job {
	return &Job{
		RunID: runID,
		Mode:  "paper",
		Request: broker.OrderRequest{
			Symbol: "AAPL", Side: broker.SideBuy, Type: broker.OrderTypeMarket, Qty: qty, TimeInForce: "day",
		},
		StopLoss:   fp(95),
		TakeProfit: fp(110),
	}
}

func TestExecutePlacesAndPersists(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	run := f.startRun(t, "exec")
	exec := newTestExecutor(f, &stubRisk{})

	job := buyJob(run.ID, 10)
	require.NoError(t, exec.Execute(ctx, job))
	require.NotEmpty(t, job.Request.ClientOrderID)

	o, err := f.db.FindOrder(ctx, "", job.Request.ClientOrderID)
	require.NoError(t, err)
	assert.Equal(t, db.StatusNew, o.Status)
	require.NotNil(t, o.StrategyRunID)
	assert.Equal(t, run.ID, *o.StrategyRunID)

	p, err := f.positions.Position(ctx, "AAPL", "paper")
	require.NoError(t, err)
	require.NotNil(t, p.StopLoss)
	assert.Equal(t, 95.0, *p.StopLoss)
	assert.Equal(t, 110.0, *p.TakeProfit)

	placed := f.decisions(t, "order_placed")
	require.Len(t, placed, 1)
	assert.Equal(t, "Order placed: buy 10 AAPL", placed[0].Message)
}

func TestExecuteBooksImmediateFill(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	run := f.startRun(t, "exec")
	f.prices.Set("AAPL", 100)
	exec := newTestExecutor(f, &stubRisk{})

	job := buyJob(run.ID, 5)
	require.NoError(t, exec.Execute(ctx, job))

	o, err := f.db.FindOrder(ctx, "", job.Request.ClientOrderID)
	require.NoError(t, err)
	assert.Equal(t, db.StatusFilled, o.Status)

	p, err := f.positions.Position(ctx, "AAPL", "paper")
	require.NoError(t, err)
	assert.Equal(t, 5.0, p.Qty)
	assert.Equal(t, 100.0, p.AvgEntryPrice)
	require.NotNil(t, p.StopLoss, "entry stops survive the fill")
}

func TestExecuteDropsStoppedRun(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	run := f.startRun(t, "exec")
	require.NoError(t, f.db.StopRun(ctx, run.ID, "manual"))
	risk := &stubRisk{}

	require.NoError(t, newTestExecutor(f, risk).Execute(ctx, buyJob(run.ID, 1)))
	assert.Equal(t, 0, risk.checks)
	assert.Empty(t, f.sim.Calls())
}

func TestExecuteRiskDeniedSkipsBroker(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	run := f.startRun(t, "exec")
	risk := &stubRisk{err: &errs.RiskDenied{Check: "max_position_qty", Reason: "too big"}}

	require.NoError(t, newTestExecutor(f, risk).Execute(ctx, buyJob(run.ID, 1000)))
	assert.Empty(t, f.sim.Calls())

	denied := f.decisions(t, "risk_denied")
	require.Len(t, denied, 1)
	assert.Equal(t, db.LevelWarn, denied[0].Level)
}

func TestExecuteRiskStoreFailureFailsClosed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	run := f.startRun(t, "exec")
	risk := &stubRisk{err: errors.New("database is locked")}

	err := newTestExecutor(f, risk).Execute(ctx, buyJob(run.ID, 1))
	require.Error(t, err)
	assert.Empty(t, f.sim.Calls())
	assert.Len(t, f.decisions(t, "order_failed"), 1)
}

func TestExecuteFeedsDailyPnLToRisk(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	run := f.startRun(t, "exec")
	now := time.Now().UTC()
	avg := 50.0
	require.NoError(t, f.db.CreateOrder(ctx, &db.Order{
		ClientOrderID: "old", Symbol: "AAPL", Side: "buy", Type: "market", Qty: 2,
		Status: db.StatusFilled, FilledQty: 2, AvgFillPrice: &avg, PlacedAt: &now,
	}))
	risk := &stubRisk{}

	require.NoError(t, newTestExecutor(f, risk).Execute(ctx, buyJob(run.ID, 1)))
	assert.Equal(t, -100.0, risk.dayPL)
}

func TestExecuteBrokerFailureIsLoggedAndReturned(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	run := f.startRun(t, "exec")
	f.sim.Fail("place_order", errors.New("connection reset"))

	err := newTestExecutor(f, &stubRisk{}).Execute(ctx, buyJob(run.ID, 1))
	require.Error(t, err)
	assert.True(t, errs.IsBroker(err))

	failed := f.decisions(t, "order_failed")
	require.Len(t, failed, 1)
	assert.Equal(t, db.LevelError, failed[0].Level)
	orders, err := f.db.ListOrders(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestExecuteSellSkipsEntryStops(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	run := f.startRun(t, "exec")
	job := buyJob(run.ID, 1)
	job.Request.Side = broker.SideSell

	require.NoError(t, newTestExecutor(f, &stubRisk{}).Execute(ctx, job))
	_, err := f.db.GetPosition(ctx, "AAPL", "paper")
	assert.ErrorIs(t, err, db.ErrNotFound)
}

// lostAckBroker accepts the first order but reports a timeout to the caller.
type lostAckBroker struct {
	*broker.Sim
	mu    sync.Mutex
	calls int
}

func (b *lostAckBroker) PlaceOrder(ctx context.Context, req broker.OrderRequest) (*broker.OrderResult, error) {
	res, err := b.Sim.PlaceOrder(ctx, req)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	if b.calls == 1 && err == nil {
		return nil, &errs.BrokerError{Op: "place_order", Err: context.DeadlineExceeded}
	}
	return res, err
}

func TestRetryAfterLostAckTracksAcceptedOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	run := f.startRun(t, "exec")
	adapter := &lostAckBroker{Sim: f.sim}
	exec := NewExecutor(f.db, adapter, &stubRisk{}, f.positions, f.updates, nil, time.UTC)
	async := NewAsyncExecutor(NewQueue(4), exec, AsyncConfig{Workers: 1, MaxAttempts: 3, Backoff: time.Millisecond})
	async.Start(ctx)

	job := buyJob(run.ID, 5)
	job.Request.ClientOrderID = "cid-lost"
	require.True(t, async.Submit(*job))
	async.Close()

	assert.Equal(t, 2, adapter.calls)
	require.Len(t, f.sim.Orders(), 1)
	accepted := f.sim.Orders()[0]

	o, err := f.db.FindOrder(ctx, "", "cid-lost")
	require.NoError(t, err)
	assert.Equal(t, accepted.BrokerOrderID, o.BrokerOrderID)
	assert.Len(t, f.decisions(t, "order_failed"), 1, "only the lost attempt failed")
	assert.Len(t, f.decisions(t, "order_placed"), 1)

	_, err = f.updates.Apply(ctx, Update{
		Event:          "fill",
		BrokerOrderID:  accepted.BrokerOrderID,
		Status:         "filled",
		FilledQty:      fp(5),
		FilledAvgPrice: fp(101),
	})
	require.NoError(t, err)
	p, err := f.positions.Position(ctx, "AAPL", "paper")
	require.NoError(t, err)
	assert.Equal(t, 5.0, p.Qty)
}

func TestDuplicateOnFirstAttemptIsNotAdopted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	run := f.startRun(t, "exec")
	_, err := f.sim.PlaceOrder(ctx, broker.OrderRequest{
		Symbol: "AAPL", Side: broker.SideBuy, Type: broker.OrderTypeMarket, Qty: 1, ClientOrderID: "taken",
	})
	require.NoError(t, err)

	job := buyJob(run.ID, 1)
	job.Request.ClientOrderID = "taken"
	job.Attempt = 1
	err = newTestExecutor(f, &stubRisk{}).Execute(ctx, job)
	require.Error(t, err)
	assert.NotContains(t, f.sim.Calls(), "get_order")
	_, err = f.db.FindOrder(ctx, "", "taken")
	assert.ErrorIs(t, err, db.ErrNotFound)
}
