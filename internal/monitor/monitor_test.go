package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"daytrading-core/internal/events"
)

type recordingSink struct {
	mu   sync.Mutex
	msgs []string
}

func (s *recordingSink) Send(message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, message)
	return nil
}

func (s *recordingSink) Messages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.msgs...)
}

func TestLatencyHistogramPercentiles(t *testing.T) {
	h := NewLatencyHistogram(100)
	for i := 1; i <= 100; i++ {
		h.Record(float64(i))
	}
	s := h.Stats()
	assert.Equal(t, 100, s.Count)
	assert.Equal(t, 1.0, s.Min)
	assert.Equal(t, 100.0, s.Max)
	assert.Equal(t, 51.0, s.P50)
	assert.Equal(t, 96.0, s.P95)
	assert.Equal(t, 100.0, s.P99)
	assert.InDelta(t, 50.5, s.Avg, 1e-9)
}

func TestLatencyHistogramSlidingWindow(t *testing.T) {
	h := NewLatencyHistogram(3)
	for _, v := range []float64{100, 1, 2, 3} {
		h.Record(v)
	}
	s := h.Stats()
	assert.Equal(t, 3, s.Count)
	assert.Equal(t, 3.0, s.Max)

	h.RecordDuration(250 * time.Millisecond)
	assert.Equal(t, 250.0, h.Stats().Max)
}

func TestObserveCountsAndAlerts(t *testing.T) {
	sink := &recordingSink{}
	m := New(nil, NewSystemMetrics(), sink)

	m.Observe(events.EventBarProcessed, events.BarProcessed{Symbol: "AAPL", Took: 4 * time.Millisecond})
	m.Observe(events.EventSignal, events.SignalRaised{})
	m.Observe(events.EventOrderPlaced, events.OrderOutcome{Latency: 20 * time.Millisecond})
	m.Observe(events.EventOrderFailed, events.OrderOutcome{Symbol: "AAPL", Side: "buy", Qty: 5, Err: "503"})
	m.Observe(events.EventOrderDenied, events.OrderOutcome{})
	m.Observe(events.EventWebhookRejected, "bad signature")
	m.Observe(events.EventReconcileDrift, events.Drift{Symbol: "MSFT", LocalQty: 3, BrokerQty: 5})

	snap := m.Metrics.GetSnapshot()
	assert.EqualValues(t, 1, snap.BarsProcessed)
	assert.EqualValues(t, 1, snap.SignalsGenerated)
	assert.EqualValues(t, 1, snap.OrdersPlaced)
	assert.EqualValues(t, 1, snap.OrdersFailed)
	assert.EqualValues(t, 1, snap.OrdersDenied)
	assert.EqualValues(t, 1, snap.WebhookRejected)
	assert.EqualValues(t, 1, snap.DriftsDetected)
	assert.Equal(t, 20.0, snap.OrderLatency.P50)
	assert.Equal(t, 4.0, snap.BarLatency.Max)

	msgs := sink.Messages()
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[0], "order failed: buy 5 AAPL: 503")
	assert.Contains(t, msgs[1], "position drift on MSFT: local 3, broker 5")
}

func TestMonitorConsumesBus(t *testing.T) {
	bus := events.NewBus()
	m := New(bus, NewSystemMetrics(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	wg := m.Start(ctx)

	bus.Publish(events.EventSignal, events.SignalRaised{RunID: 1})
	bus.Publish(events.EventPanic, nil)

	assert.Eventually(t, func() bool {
		s := m.Metrics.GetSnapshot()
		return s.SignalsGenerated == 1 && s.Panics == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	wg.Wait()
}
