package reconciliation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"daytrading-core/internal/events"
	"daytrading-core/internal/state"
	"daytrading-core/pkg/broker"
	"daytrading-core/pkg/cache"
	"daytrading-core/pkg/db"
)

func setup(t *testing.T, autoSync bool) (*Service, *broker.Sim, *state.Manager, *db.Database, *events.Bus) {
	t.Helper()
	database, err := db.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, db.ApplyMigrations(database))

	sim := broker.NewSim(10000, nil)
	positions := state.NewManager(database, cache.NewShardedPriceCache())
	bus := events.NewBus()
	svc := NewService(Config{
		Broker: sim, Positions: positions, DB: database, Bus: bus,
		Mode: "paper", Interval: time.Minute, AutoSync: autoSync,
	})
	return svc, sim, positions, database, bus
}

func TestReconcileInSync(t *testing.T) {
	ctx := context.Background()
	svc, sim, positions, database, _ := setup(t, false)
	sim.SetPosition(broker.Position{Symbol: "AAPL", Qty: 5, AvgEntryPrice: 100})
	_, err := positions.ApplyFill(ctx, "AAPL", "paper", "buy", 5, 100)
	require.NoError(t, err)

	report, err := svc.Reconcile(ctx)
	require.NoError(t, err)
	assert.False(t, report.HasDiffs())

	logs, err := database.ListDecisionLogs(ctx, nil, 10)
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestReconcileReportsDriftBothWays(t *testing.T) {
	ctx := context.Background()
	svc, sim, positions, database, bus := setup(t, false)
	drifts, unsub := bus.Subscribe(events.EventReconcileDrift, 4)
	defer unsub()

	sim.SetPosition(broker.Position{Symbol: "MSFT", Qty: 3, AvgEntryPrice: 400})
	_, err := positions.ApplyFill(ctx, "AAPL", "paper", "buy", 5, 100)
	require.NoError(t, err)

	report, err := svc.Reconcile(ctx)
	require.NoError(t, err)
	require.Len(t, report.PositionDiffs, 2)
	assert.Equal(t, PositionDiff{Symbol: "AAPL", LocalQty: 5, BrokerQty: 0, Difference: 5}, report.PositionDiffs[0])
	assert.Equal(t, PositionDiff{Symbol: "MSFT", LocalQty: 0, BrokerQty: 3, Difference: -3}, report.PositionDiffs[1])
	assert.Len(t, drifts, 2)

	logs, err := database.ListDecisionLogs(ctx, nil, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "reconciliation_drift", logs[0].Context)
	assert.Equal(t, db.LevelWarn, logs[0].Level)

	// without auto-sync the local book is untouched
	p, err := positions.Position(ctx, "AAPL", "paper")
	require.NoError(t, err)
	assert.Equal(t, 5.0, p.Qty)
}

func TestReconcileAutoSync(t *testing.T) {
	ctx := context.Background()
	svc, sim, positions, _, _ := setup(t, true)
	sim.SetPosition(broker.Position{Symbol: "MSFT", Qty: 3, AvgEntryPrice: 400})
	_, err := positions.ApplyFill(ctx, "AAPL", "paper", "buy", 5, 100)
	require.NoError(t, err)

	report, err := svc.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.SyncedCount)

	aapl, err := positions.Position(ctx, "AAPL", "paper")
	require.NoError(t, err)
	assert.Zero(t, aapl.Qty)
	msft, err := positions.Position(ctx, "MSFT", "paper")
	require.NoError(t, err)
	assert.Equal(t, 3.0, msft.Qty)
	assert.Equal(t, 400.0, msft.AvgEntryPrice)

	again, err := svc.Reconcile(ctx)
	require.NoError(t, err)
	assert.False(t, again.HasDiffs())
}

func TestReconcileBrokerFailure(t *testing.T) {
	svc, sim, _, _, _ := setup(t, false)
	sim.Fail("get_positions", errors.New("down"))
	_, err := svc.Reconcile(context.Background())
	assert.Error(t, err)
}
