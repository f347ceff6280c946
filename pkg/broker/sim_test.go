package broker

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"daytrading-core/pkg/errs"
)

func fixedPrices(prices map[string]float64) PriceSource {
	return func(symbol string) (float64, bool) {
		px, ok := prices[symbol]
		return px, ok
	}
}

func TestSimFillsMarketOrdersAtKnownPrice(t *testing.T) {
	ctx := context.Background()
	sim := NewSim(10000, fixedPrices(map[string]float64{"AAPL": 100}))

	res, err := sim.PlaceOrder(ctx, OrderRequest{Symbol: "AAPL", Side: SideBuy, Type: OrderTypeMarket, Qty: 10})
	require.NoError(t, err)
	assert.Equal(t, "filled", res.Status)
	assert.NotEmpty(t, res.ClientOrderID)
	require.NotNil(t, res.FilledAvgPrice)
	assert.Equal(t, 100.0, *res.FilledAvgPrice)

	acct, err := sim.GetAccount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 9000.0, acct.Cash)
	assert.Equal(t, 10000.0, acct.Equity)

	positions, err := sim.GetPositions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, 10.0, positions[0].Qty)
}

func TestSimRestsOrdersWithoutPrice(t *testing.T) {
	ctx := context.Background()
	sim := NewSim(1000, nil)

	res, err := sim.PlaceOrder(ctx, OrderRequest{Symbol: "MSFT", Side: SideBuy, Type: OrderTypeMarket, Qty: 1})
	require.NoError(t, err)
	assert.Equal(t, "new", res.Status)

	require.NoError(t, sim.CancelOrder(ctx, res.BrokerOrderID))
	err = sim.CancelOrder(ctx, "missing")
	assert.True(t, errs.IsBroker(err))
}

func TestSimRejectsDuplicateClientOrderID(t *testing.T) {
	ctx := context.Background()
	sim := NewSim(1000, nil)
	req := OrderRequest{Symbol: "SPY", Side: SideBuy, Type: OrderTypeMarket, Qty: 1, ClientOrderID: "abc"}

	_, err := sim.PlaceOrder(ctx, req)
	require.NoError(t, err)
	_, err = sim.PlaceOrder(ctx, req)
	assert.True(t, errs.IsBroker(err))

	got, err := sim.GetOrderByClientID(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, "SPY", got.Symbol)
	_, err = sim.GetOrderByClientID(ctx, "missing")
	assert.True(t, errs.IsBroker(err))
}

func TestSimInjectedFailure(t *testing.T) {
	ctx := context.Background()
	sim := NewSim(1000, nil)
	sim.SetPosition(Position{Symbol: "AAPL", Qty: 5, AvgEntryPrice: 10})
	sim.Fail("close_all_positions", errors.New("boom"))

	_, err := sim.CloseAllPositions(ctx)
	require.Error(t, err)
	assert.True(t, errs.IsBroker(err))

	sim.Fail("close_all_positions", nil)
	n, err := sim.CloseAllPositions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"close_all_positions", "close_all_positions"}, sim.Calls())
}
