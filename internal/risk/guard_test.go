package risk

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"daytrading-core/pkg/broker"
	"daytrading-core/pkg/cache"
	"daytrading-core/pkg/db"
	"daytrading-core/pkg/errs"
)

type stubLimits struct {
	limit *db.RiskLimit
	err   error
}

func (s stubLimits) GetRiskLimit(ctx context.Context, mode string) (*db.RiskLimit, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.limit == nil || s.limit.Mode != mode {
		return nil, db.ErrNotFound
	}
	return s.limit, nil
}

func newTestGuard(limit *db.RiskLimit, at time.Time) *Guard {
	g := NewGuard(stubLimits{limit: limit}, cache.NewShardedCounter())
	g.now = func() time.Time { return at }
	return g
}

func order(qty float64) broker.OrderRequest {
	return broker.OrderRequest{Symbol: "AAPL", Side: broker.SideBuy, Type: broker.OrderTypeMarket, Qty: qty}
}

func deniedBy(t *testing.T, err error) string {
	t.Helper()
	var denied *errs.RiskDenied
	require.True(t, errors.As(err, &denied), "expected RiskDenied, got %v", err)
	return denied.Check
}

func TestGuardBoundaries(t *testing.T) {
	limit := &db.RiskLimit{Mode: "paper", DailyMaxLoss: 500, MaxPositionQty: 100, MaxOrdersPerMin: 50}
	at := time.Date(2026, 3, 2, 15, 4, 0, 0, time.UTC)

	tests := []struct {
		name  string
		qty   float64
		dayPL float64
		check string
	}{
		{name: "loss at limit allowed", qty: 10, dayPL: -500},
		{name: "loss past limit denied", qty: 10, dayPL: -500.01, check: CheckDailyLoss},
		{name: "qty at limit allowed", qty: 100},
		{name: "qty past limit denied", qty: 100.5, check: CheckMaxPosition},
		{name: "loss checked before qty", qty: 1000, dayPL: -900, check: CheckDailyLoss},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newTestGuard(limit, at)
			err := g.Check(context.Background(), "paper", order(tt.qty), tt.dayPL)
			if tt.check == "" {
				assert.NoError(t, err)
				return
			}
			assert.Equal(t, tt.check, deniedBy(t, err))
		})
	}
}

func TestGuardOrderRateWindow(t *testing.T) {
	limit := &db.RiskLimit{Mode: "paper", DailyMaxLoss: 500, MaxPositionQty: 100, MaxOrdersPerMin: 3}
	at := time.Date(2026, 3, 2, 15, 4, 10, 0, time.UTC)
	g := newTestGuard(limit, at)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, g.Check(ctx, "paper", order(1), 0))
	}
	assert.Equal(t, CheckOrderRate, deniedBy(t, g.Check(ctx, "paper", order(1), 0)))

	// next minute starts a fresh bucket
	g.now = func() time.Time { return at.Add(time.Minute) }
	assert.NoError(t, g.Check(ctx, "paper", order(1), 0))
}

func TestGuardDeniedOrdersDoNotConsumeRate(t *testing.T) {
	limit := &db.RiskLimit{Mode: "paper", DailyMaxLoss: 500, MaxPositionQty: 10, MaxOrdersPerMin: 1}
	g := newTestGuard(limit, time.Now())
	ctx := context.Background()

	assert.Equal(t, CheckMaxPosition, deniedBy(t, g.Check(ctx, "paper", order(50), 0)))
	assert.NoError(t, g.Check(ctx, "paper", order(5), 0))
}

func TestGuardRetriesDoNotTakeAnotherRateSlot(t *testing.T) {
	limit := &db.RiskLimit{Mode: "paper", DailyMaxLoss: 500, MaxPositionQty: 10, MaxOrdersPerMin: 2}
	g := newTestGuard(limit, time.Date(2026, 3, 2, 15, 4, 10, 0, time.UTC))
	ctx := context.Background()

	retried := order(1)
	retried.ClientOrderID = "cid-a"
	for attempt := 0; attempt < 3; attempt++ {
		require.NoError(t, g.Check(ctx, "paper", retried, 0), "attempt %d", attempt)
	}

	other := order(1)
	other.ClientOrderID = "cid-b"
	require.NoError(t, g.Check(ctx, "paper", other, 0))

	third := order(1)
	third.ClientOrderID = "cid-c"
	assert.Equal(t, CheckOrderRate, deniedBy(t, g.Check(ctx, "paper", third, 0)))
}

func TestGuardRateKeyScopedByMode(t *testing.T) {
	at := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	assert.Equal(t, "risk:order_rate:paper:2026-03-02-09-30", RateKey("paper", at))
	assert.NotEqual(t, RateKey("paper", at), RateKey("live", at))
}

func TestGuardMissingLimitAllows(t *testing.T) {
	g := newTestGuard(nil, time.Now())
	assert.NoError(t, g.Check(context.Background(), "live", order(1e6), -1e9))
}

func TestGuardStoreFailureIsNotAllowed(t *testing.T) {
	g := NewGuard(stubLimits{err: errors.New("disk I/O error")}, cache.NewShardedCounter())
	err := g.Check(context.Background(), "paper", order(1), 0)
	require.Error(t, err)
	assert.False(t, errs.IsRiskDenied(err))
}

func TestGuardAgainstDatabase(t *testing.T) {
	database, err := db.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, db.ApplyMigrations(database))
	ctx := context.Background()
	require.NoError(t, database.UpsertRiskLimit(ctx, &db.RiskLimit{
		Mode: "paper", DailyMaxLoss: 100, MaxPositionQty: 5, MaxOrdersPerMin: 10,
	}))

	g := NewGuard(database, cache.NewShardedCounter())
	assert.NoError(t, g.Check(ctx, "paper", order(5), 0))
	assert.Equal(t, CheckMaxPosition, deniedBy(t, g.Check(ctx, "paper", order(6), 0)))
}
