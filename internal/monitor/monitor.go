// Package monitor turns bus events into counters, latency histograms and
// operator alerts.
package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"daytrading-core/internal/events"
	"daytrading-core/pkg/logger"
)

const subscriberBuffer = 256

var watched = []events.Event{
	events.EventBarProcessed,
	events.EventSignal,
	events.EventOrderPlaced,
	events.EventOrderFailed,
	events.EventOrderDenied,
	events.EventOrderUpdate,
	events.EventWebhookRejected,
	events.EventReconcileDrift,
	events.EventPanic,
}

// Monitor watches the bus, updates Metrics and forwards alert-worthy events.
type Monitor struct {
	Bus     *events.Bus
	Metrics *SystemMetrics
	Alerts  AlertSink

	log *zap.Logger
}

func New(bus *events.Bus, metrics *SystemMetrics, alerts AlertSink) *Monitor {
	return &Monitor{Bus: bus, Metrics: metrics, Alerts: alerts, log: logger.Named("monitor")}
}

// Start subscribes to every watched event and returns once the
// subscriptions are in place. The returned WaitGroup completes after ctx
// is done and the listeners have exited.
func (m *Monitor) Start(ctx context.Context) *sync.WaitGroup {
	var wg sync.WaitGroup
	if m.Bus == nil || m.Metrics == nil {
		m.log.Warn("monitor not fully configured; skipping")
		return &wg
	}
	for _, e := range watched {
		stream, unsub := m.Bus.Subscribe(e, subscriberBuffer)
		wg.Add(1)
		go func(e events.Event) {
			defer wg.Done()
			defer unsub()
			for {
				select {
				case <-ctx.Done():
					return
				case msg, ok := <-stream:
					if !ok {
						return
					}
					m.Observe(e, msg)
				}
			}
		}(e)
	}
	return &wg
}

// Observe applies one event to the metrics and raises an alert when the
// event calls for operator attention.
func (m *Monitor) Observe(e events.Event, payload any) {
	mt := m.Metrics
	switch e {
	case events.EventBarProcessed:
		mt.bars.Add(1)
		if p, ok := payload.(events.BarProcessed); ok {
			mt.BarLatency.RecordDuration(p.Took)
		}
	case events.EventSignal:
		mt.signals.Add(1)
	case events.EventOrderPlaced:
		mt.placed.Add(1)
		if p, ok := payload.(events.OrderOutcome); ok {
			mt.OrderLatency.RecordDuration(p.Latency)
		}
	case events.EventOrderFailed:
		mt.failed.Add(1)
	case events.EventOrderDenied:
		mt.denied.Add(1)
	case events.EventOrderUpdate:
		mt.updates.Add(1)
	case events.EventWebhookRejected:
		mt.rejectedWebhooks.Add(1)
	case events.EventReconcileDrift:
		mt.drifts.Add(1)
	case events.EventPanic:
		mt.panics.Add(1)
	}

	if msg, ok := alertFor(e, payload); ok && m.Alerts != nil {
		if err := m.Alerts.Send(formatAlert(msg)); err != nil {
			m.log.Error("alert delivery failed", zap.Error(err))
		}
	}
}

func alertFor(e events.Event, payload any) (string, bool) {
	switch e {
	case events.EventOrderFailed:
		if p, ok := payload.(events.OrderOutcome); ok {
			return fmt.Sprintf("order failed: %s %g %s: %s", p.Side, p.Qty, p.Symbol, p.Err), true
		}
		return "order failed", true
	case events.EventReconcileDrift:
		if p, ok := payload.(events.Drift); ok {
			return fmt.Sprintf("position drift on %s: local %g, broker %g", p.Symbol, p.LocalQty, p.BrokerQty), true
		}
		return "position drift", true
	case events.EventPanic:
		return "panic button pressed", true
	}
	return "", false
}

func formatAlert(msg string) string {
	return "[" + time.Now().UTC().Format(time.RFC3339) + "] " + msg
}
