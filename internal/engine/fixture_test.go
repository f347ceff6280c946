package engine

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"daytrading-core/internal/market"
	"daytrading-core/internal/order"
	"daytrading-core/internal/risk"
	"daytrading-core/internal/state"
	"daytrading-core/internal/strategy"
	"daytrading-core/pkg/broker"
	"daytrading-core/pkg/cache"
	"daytrading-core/pkg/db"
)

type recordingSubmitter struct {
	mu     sync.Mutex
	jobs   []order.Job
	reject bool
}

func (s *recordingSubmitter) Submit(job order.Job) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reject {
		return false
	}
	s.jobs = append(s.jobs, job)
	return true
}

func (s *recordingSubmitter) Jobs() []order.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]order.Job(nil), s.jobs...)
}

type fixture struct {
	db        *db.Database
	positions *state.Manager
	sim       *broker.Sim
	orders    *recordingSubmitter
	runner    *Runner
	service   *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	database, err := db.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, db.ApplyMigrations(database))

	positions := state.NewManager(database, cache.NewShardedPriceCache())
	sim := broker.NewSim(50000, nil)
	orders := &recordingSubmitter{}
	runner := NewRunner(RunnerConfig{
		DB:        database,
		Registry:  strategy.NewRegistry(time.UTC),
		Positions: positions,
		Orders:    orders,
	})
	service := NewService(ServiceConfig{
		DB:        database,
		Adapter:   sim,
		Positions: positions,
		Runner:    runner,
		Panic:     risk.NewPanicService(sim, database),
		Mode:      "paper",
		Location:  time.UTC,
	})
	return &fixture{db: database, positions: positions, sim: sim, orders: orders, runner: runner, service: service}
}

func (f *fixture) strategy(t *testing.T, name, kind, cfg string, enabled bool) *db.Strategy {
	t.Helper()
	symbol, normalized, err := strategy.DecodeConfig(kind, json.RawMessage(cfg))
	require.NoError(t, err)
	s := &db.Strategy{Name: name, Kind: kind, Symbol: symbol, Config: normalized, IsEnabled: enabled}
	require.NoError(t, f.db.CreateStrategy(context.Background(), s))
	return s
}

func (f *fixture) decisions(t *testing.T, runID *int64, kind string) []db.DecisionLog {
	t.Helper()
	all, err := f.db.ListDecisionLogs(context.Background(), runID, 1000)
	require.NoError(t, err)
	var out []db.DecisionLog
	for _, l := range all {
		if l.Context == kind {
			out = append(out, l)
		}
	}
	return out
}

func bars(symbol string, closes ...float64) []market.Bar {
	start := time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC)
	out := make([]market.Bar, len(closes))
	for i, c := range closes {
		out[i] = market.Bar{
			Symbol: symbol, Open: c, High: c, Low: c, Close: c, Volume: 1000,
			Timestamp: start.Add(time.Duration(i) * time.Minute),
		}
	}
	return out
}

func feed(t *testing.T, r *Runner, bs []market.Bar) {
	t.Helper()
	for _, b := range bs {
		_, err := r.ProcessBar(context.Background(), b)
		require.NoError(t, err)
	}
}
