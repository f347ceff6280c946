package strategy

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"daytrading-core/pkg/db"
	"daytrading-core/pkg/errs"
)

func TestRegistryBuild(t *testing.T) {
	r := NewRegistry(nil)

	s, err := r.Build(KindSMA, json.RawMessage(`{"fast":5,"slow":10}`))
	require.NoError(t, err)
	assert.Equal(t, "SMA(5/10)", s.Name())

	s, err = r.Build(KindEnhancedSMA, nil)
	require.NoError(t, err)
	assert.Contains(t, s.Name(), "Enhanced SMA(9/21)")

	_, err = r.Build("martingale", nil)
	assert.True(t, errs.IsValidation(err))

	_, err = r.Build(KindSMA, json.RawMessage(`{"fast":30,"slow":10}`))
	assert.True(t, errs.IsValidation(err))

	_, err = r.Build(KindSMA, json.RawMessage(`{"fast":"x"}`))
	assert.True(t, errs.IsValidation(err))

	assert.Equal(t, []string{KindEnhancedSMA, KindSMA}, Kinds())
}

func TestDecodeConfigMergesDefaults(t *testing.T) {
	symbol, normalized, err := DecodeConfig(KindEnhancedSMA, json.RawMessage(`{"symbol":"msft","use_time_filter":false}`))
	require.NoError(t, err)
	assert.Equal(t, "MSFT", symbol)

	var cfg EnhancedSMAConfig
	require.NoError(t, json.Unmarshal(normalized, &cfg))
	assert.False(t, cfg.UseTimeFilter)
	assert.Equal(t, 14, cfg.ATRPeriod)
	assert.Equal(t, 21, cfg.Slow)
	assert.Len(t, cfg.TradingHours, 2)

	_, _, err = DecodeConfig(KindEnhancedSMA, json.RawMessage(`{"trading_hours":[{"start":"9:30","end":"10:30"}]}`))
	assert.True(t, errs.IsValidation(err))
}

const seedYAML = `
risk_limits:
  - mode: paper
    daily_max_loss: 500
    max_position_qty: 100
    max_orders_per_min: 5
strategies:
  - name: sma-aapl
    kind: sma
    enabled: true
    config:
      symbol: aapl
      fast: 9
      slow: 21
  - name: enhanced-spy
    kind: enhanced_sma
    enabled: false
    config:
      symbol: SPY
      use_time_filter: false
`

func TestSyncConfigToDB(t *testing.T) {
	database, err := db.New(":memory:")
	require.NoError(t, err)
	defer database.Close()
	require.NoError(t, db.ApplyMigrations(database))
	ctx := context.Background()

	file, err := ParseConfig([]byte(seedYAML))
	require.NoError(t, err)
	require.Len(t, file.Strategies, 2)

	require.NoError(t, SyncConfigToDB(ctx, database, file))
	require.NoError(t, SyncConfigToDB(ctx, database, file), "sync is idempotent")

	list, err := database.ListStrategies(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "AAPL", list[0].Symbol)
	assert.True(t, list[0].IsEnabled)
	assert.Equal(t, "SPY", list[1].Symbol)
	assert.False(t, list[1].IsEnabled)

	limit, err := database.GetRiskLimit(ctx, "paper")
	require.NoError(t, err)
	assert.Equal(t, 5, limit.MaxOrdersPerMin)
}

func TestParseConfigRejectsBadRiskMode(t *testing.T) {
	_, err := ParseConfig([]byte("risk_limits:\n  - mode: demo\n"))
	assert.True(t, errs.IsValidation(err))
}

func TestSyncConfigRejectsUnknownKind(t *testing.T) {
	database, err := db.New(":memory:")
	require.NoError(t, err)
	defer database.Close()
	require.NoError(t, db.ApplyMigrations(database))

	file := &ConfigFile{Strategies: []Config{{Name: "x", Kind: "nope"}}}
	err = SyncConfigToDB(context.Background(), database, file)
	assert.True(t, errs.IsValidation(err))
}
