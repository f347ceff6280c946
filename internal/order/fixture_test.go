package order

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"daytrading-core/internal/state"
	"daytrading-core/pkg/broker"
	"daytrading-core/pkg/cache"
	"daytrading-core/pkg/db"
)

type fixture struct {
	db        *db.Database
	positions *state.Manager
	prices    *cache.ShardedPriceCache
	updates   *UpdateHandler
	sim       *broker.Sim
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	database, err := db.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, db.ApplyMigrations(database))

	prices := cache.NewShardedPriceCache()
	positions := state.NewManager(database, prices)
	return &fixture{
		db:        database,
		positions: positions,
		prices:    prices,
		updates:   NewUpdateHandler(database, positions, nil, "paper"),
		sim:       broker.NewSim(100000, prices.Get),
	}
}

func (f *fixture) startRun(t *testing.T, name string) *db.StrategyRun {
	t.Helper()
	ctx := context.Background()
	s := &db.Strategy{Name: name, Kind: "sma", Symbol: "AAPL", Config: json.RawMessage(`{}`), IsEnabled: true}
	require.NoError(t, f.db.CreateStrategy(ctx, s))
	run, err := f.db.StartRun(ctx, s.ID, "paper", "")
	require.NoError(t, err)
	return run
}

func (f *fixture) decisions(t *testing.T, kind string) []db.DecisionLog {
	t.Helper()
	all, err := f.db.ListDecisionLogs(context.Background(), nil, 500)
	require.NoError(t, err)
	var out []db.DecisionLog
	for _, l := range all {
		if l.Context == kind {
			out = append(out, l)
		}
	}
	return out
}

func fp(v float64) *float64 { return &v }
