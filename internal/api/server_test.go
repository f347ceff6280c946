package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"daytrading-core/internal/engine"
	"daytrading-core/internal/events"
	"daytrading-core/internal/monitor"
	"daytrading-core/internal/order"
	"daytrading-core/internal/risk"
	"daytrading-core/internal/state"
	"daytrading-core/internal/strategy"
	"daytrading-core/pkg/broker"
	"daytrading-core/pkg/cache"
	"daytrading-core/pkg/db"
	"daytrading-core/pkg/signing"
)

const testSecret = "test-secret-key"

// syncSubmitter executes jobs inline so a webhook delivery's orders are
// visible when the request returns.
type syncSubmitter struct {
	exec *order.Executor
}

func (s syncSubmitter) Submit(job order.Job) bool {
	_ = s.exec.Execute(context.Background(), &job)
	return true
}

type testEnv struct {
	server    *Server
	db        *db.Database
	prices    *cache.ShardedPriceCache
	positions *state.Manager
	sim       *broker.Sim
	metrics   *monitor.SystemMetrics
}

func newTestEnv(t *testing.T, jwtSecret string) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	database, err := db.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, db.ApplyMigrations(database))

	bus := events.NewBus()
	prices := cache.NewShardedPriceCache()
	positions := state.NewManager(database, prices)
	// Orders rest as new until an order_update fills them.
	sim := broker.NewSim(100000, nil)
	updates := order.NewUpdateHandler(database, positions, bus, "paper")
	guard := risk.NewGuard(database, cache.NewShardedCounter())
	exec := order.NewExecutor(database, sim, guard, positions, updates, bus, time.UTC)

	runner := engine.NewRunner(engine.RunnerConfig{
		DB:        database,
		Registry:  strategy.NewRegistry(time.UTC),
		Positions: positions,
		Orders:    syncSubmitter{exec: exec},
		Bus:       bus,
	})
	service := engine.NewService(engine.ServiceConfig{
		DB:        database,
		Adapter:   sim,
		Positions: positions,
		Runner:    runner,
		Panic:     risk.NewPanicService(sim, database),
		Bus:       bus,
		Mode:      "paper",
		Location:  time.UTC,
	})
	metrics := monitor.NewSystemMetrics()

	server := NewServer(Config{
		Service:       service,
		Bars:          runner,
		Updates:       updates,
		Prices:        prices,
		Metrics:       metrics,
		Bus:           bus,
		WebhookSecret: testSecret,
		JWTSecret:     jwtSecret,
	})
	return &testEnv{server: server, db: database, prices: prices, positions: positions, sim: sim, metrics: metrics}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var raw []byte
	switch b := body.(type) {
	case nil:
	case []byte:
		raw = b
	default:
		var err error
		raw, err = json.Marshal(b)
		require.NoError(t, err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.server.Router.ServeHTTP(w, req)
	return w
}

// deliver posts a signed stream envelope.
func (e *testEnv) deliver(t *testing.T, kind string, data any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(map[string]any{"type": kind, "data": data})
	require.NoError(t, err)
	return e.do(t, http.MethodPost, "/api/stream/alpaca", raw, map[string]string{
		signing.Header: signing.Sign(raw, testSecret),
	})
}

func (e *testEnv) seedStrategy(t *testing.T, cfg string, enabled bool) *db.Strategy {
	t.Helper()
	symbol, normalized, err := strategy.DecodeConfig("sma", json.RawMessage(cfg))
	require.NoError(t, err)
	s := &db.Strategy{Name: "sma-" + symbol, Kind: "sma", Symbol: symbol, Config: normalized, IsEnabled: enabled}
	require.NoError(t, e.db.CreateStrategy(context.Background(), s))
	return s
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}
