package engine

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"daytrading-core/internal/market"
	"daytrading-core/pkg/broker"
	"daytrading-core/pkg/db"
	"daytrading-core/pkg/errs"
)

const smaCfg = `{"symbol":"AAPL","qty":5,"fast":2,"slow":4}`

func TestRunnerBuysOnCrossUpAcrossDeliveries(t *testing.T) {
	f := newFixture(t)
	s := f.strategy(t, "sma", "sma", smaCfg, true)
	run, err := f.service.StartRun(context.Background(), s.ID)
	require.NoError(t, err)

	feed(t, f.runner, bars("AAPL", 100, 99, 98, 97, 105))

	jobs := f.orders.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, run.ID, jobs[0].RunID)
	assert.Equal(t, "paper", jobs[0].Mode)
	assert.Equal(t, broker.SideBuy, jobs[0].Request.Side)
	assert.Equal(t, 5.0, jobs[0].Request.Qty)
	assert.Empty(t, jobs[0].Request.ClientOrderID)

	// three warm-up bars are not logged
	assert.Len(t, f.decisions(t, &run.ID, "signal"), 2)
}

func TestRunnerNoSellWhileFlat(t *testing.T) {
	f := newFixture(t)
	s := f.strategy(t, "sma", "sma", smaCfg, true)
	_, err := f.service.StartRun(context.Background(), s.ID)
	require.NoError(t, err)

	feed(t, f.runner, bars("AAPL", 110, 109, 108, 107, 95))
	assert.Empty(t, f.orders.Jobs())
}

func TestRunnerSellsHeldPosition(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.strategy(t, "sma", "sma", smaCfg, true)
	_, err := f.service.StartRun(ctx, s.ID)
	require.NoError(t, err)
	_, err = f.positions.ApplyFill(ctx, "AAPL", "paper", "buy", 7, 100)
	require.NoError(t, err)

	feed(t, f.runner, bars("AAPL", 100, 101, 102, 103, 90))

	jobs := f.orders.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, broker.SideSell, jobs[0].Request.Side)
	assert.Equal(t, 5.0, jobs[0].Request.Qty, "configured qty, not the whole holding")
	assert.Equal(t, "sma_cross_down", jobs[0].Reason)
}

func TestRunnerSkipsOtherSymbolsAndStoppedRuns(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.strategy(t, "sma", "sma", smaCfg, true)
	_, err := f.service.StartRun(ctx, s.ID)
	require.NoError(t, err)

	n, err := f.runner.ProcessBar(ctx, bars("MSFT", 10)[0])
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	_, err = f.service.StopRun(ctx, s.ID)
	require.NoError(t, err)
	n, err = f.runner.ProcessBar(ctx, bars("AAPL", 10)[0])
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestRunnerIsolatesFailingRuns(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	good := f.strategy(t, "good", "sma", smaCfg, true)
	bad := &db.Strategy{Name: "bad", Kind: "martingale", Symbol: "AAPL", Config: json.RawMessage(`{}`), IsEnabled: true}
	require.NoError(t, f.db.CreateStrategy(ctx, bad))
	badRun, err := f.db.StartRun(ctx, bad.ID, "paper", "")
	require.NoError(t, err)
	_, err = f.service.StartRun(ctx, good.ID)
	require.NoError(t, err)

	feed(t, f.runner, bars("AAPL", 100, 99, 98, 97, 105))

	assert.Len(t, f.orders.Jobs(), 1)
	failures := f.decisions(t, &badRun.ID, "engine_error")
	require.Len(t, failures, 5)
	assert.Equal(t, db.LevelError, failures[0].Level)
}

func TestRunnerLogsFullQueue(t *testing.T) {
	f := newFixture(t)
	f.orders.reject = true
	s := f.strategy(t, "sma", "sma", smaCfg, true)
	run, err := f.service.StartRun(context.Background(), s.ID)
	require.NoError(t, err)

	feed(t, f.runner, bars("AAPL", 100, 99, 98, 97, 105))
	assert.Len(t, f.decisions(t, &run.ID, "order_enqueue_failed"), 1)
}

func TestRunnerRebuildsAfterConfigChange(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.strategy(t, "sma", "sma", smaCfg, true)
	_, err := f.service.StartRun(ctx, s.ID)
	require.NoError(t, err)
	feed(t, f.runner, bars("AAPL", 100, 99, 98))

	_, err = f.service.UpdateConfig(ctx, s.ID, ConfigUpdate{Config: json.RawMessage(`{"symbol":"AAPL","qty":2,"fast":2,"slow":3}`)})
	require.NoError(t, err)

	// fresh window under slow=3: 97 and 96 warm up, 105 crosses
	feed(t, f.runner, bars("AAPL", 97, 96, 105))
	jobs := f.orders.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, 2.0, jobs[0].Request.Qty)
}

type stubWarmer struct {
	bars []market.Bar
	err  error
}

func (w stubWarmer) RecentBars(ctx context.Context, symbol string, limit int) ([]market.Bar, error) {
	return w.bars, w.err
}

// blockingWarmer holds RecentBars until release is closed.
type blockingWarmer struct {
	release chan struct{}
	bars    []market.Bar
}

func (w blockingWarmer) RecentBars(ctx context.Context, symbol string, limit int) ([]market.Bar, error) {
	select {
	case <-w.release:
		return w.bars, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// after shifts bs so they follow the bars returned by bars().
func after(bs []market.Bar, minutes int) []market.Bar {
	for i := range bs {
		bs[i].Timestamp = bs[i].Timestamp.Add(time.Duration(minutes) * time.Minute)
	}
	return bs
}

func (f *fixture) warmed(runID int64) func() bool {
	return func() bool {
		f.runner.mu.Lock()
		inst, ok := f.runner.instances[runID]
		f.runner.mu.Unlock()
		if !ok {
			return false
		}
		inst.mu.Lock()
		defer inst.mu.Unlock()
		return !inst.warming
	}
}

func TestRunnerWarmsFreshInstances(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.runner.warmer = stubWarmer{bars: bars("AAPL", 100, 99, 98, 97)}
	f.runner.warmBars = 4
	s := f.strategy(t, "sma", "sma", smaCfg, true)
	run, err := f.service.StartRun(ctx, s.ID)
	require.NoError(t, err)

	live := after(bars("AAPL", 96, 105), 4)
	feed(t, f.runner, live[:1])
	require.Eventually(t, f.warmed(run.ID), time.Second, 5*time.Millisecond)

	feed(t, f.runner, live[1:])
	assert.Len(t, f.orders.Jobs(), 1)
}

func TestRunnerWarmerFailureIsTolerated(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.runner.warmer = stubWarmer{err: errors.New("data api down")}
	f.runner.warmBars = 4
	s := f.strategy(t, "sma", "sma", smaCfg, true)
	run, err := f.service.StartRun(ctx, s.ID)
	require.NoError(t, err)

	feed(t, f.runner, bars("AAPL", 100))
	require.Eventually(t, f.warmed(run.ID), time.Second, 5*time.Millisecond)

	feed(t, f.runner, after(bars("AAPL", 105), 1))
	assert.Empty(t, f.orders.Jobs())
}

func TestRunnerBarPathDoesNotWaitForWarmUp(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	w := blockingWarmer{release: make(chan struct{}), bars: bars("AAPL", 100, 99, 98)}
	f.runner.warmer = w
	f.runner.warmBars = 4
	s := f.strategy(t, "sma", "sma", smaCfg, true)
	run, err := f.service.StartRun(ctx, s.ID)
	require.NoError(t, err)

	start := time.Now()
	n, err := f.runner.ProcessBar(ctx, after(bars("AAPL", 97), 3)[0])
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.False(t, f.warmed(run.ID)())

	// a second live bar is held too
	feed(t, f.runner, after(bars("AAPL", 96), 4))
	assert.Empty(t, f.orders.Jobs())

	close(w.release)
	require.Eventually(t, f.warmed(run.ID), time.Second, 5*time.Millisecond)

	// history 100 99 98 plus held 97 96 fill the window; 105 crosses up
	feed(t, f.runner, after(bars("AAPL", 105), 5))
	assert.Len(t, f.orders.Jobs(), 1)
}

func TestRunnerRejectsInvalidBar(t *testing.T) {
	f := newFixture(t)
	_, err := f.runner.ProcessBar(context.Background(), market.Bar{Symbol: "AAPL", Close: 0})
	assert.True(t, errs.IsValidation(err))
}
