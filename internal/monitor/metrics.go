package monitor

import (
	"runtime"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// SystemMetrics aggregates engine activity fed from the event bus.
type SystemMetrics struct {
	OrderLatency *LatencyHistogram
	BarLatency   *LatencyHistogram

	bars, signals                    atomic.Uint64
	placed, failed, denied, updates  atomic.Uint64
	rejectedWebhooks, drifts, panics atomic.Uint64

	started time.Time
}

func NewSystemMetrics() *SystemMetrics {
	return &SystemMetrics{
		OrderLatency: NewLatencyHistogram(1000),
		BarLatency:   NewLatencyHistogram(1000),
		started:      time.Now(),
	}
}

// LatencyHistogram keeps the last size samples (milliseconds) in a ring.
type LatencyHistogram struct {
	mu    sync.Mutex
	ring  []float64
	next  int
	full  bool
	stats *LatencyStats
}

func NewLatencyHistogram(size int) *LatencyHistogram {
	if size <= 0 {
		size = 1000
	}
	return &LatencyHistogram{ring: make([]float64, size)}
}

// Record adds one sample in milliseconds, evicting the oldest when full.
func (h *LatencyHistogram) Record(ms float64) {
	h.mu.Lock()
	h.ring[h.next] = ms
	h.next = (h.next + 1) % len(h.ring)
	if h.next == 0 {
		h.full = true
	}
	h.stats = nil
	h.mu.Unlock()
}

func (h *LatencyHistogram) RecordDuration(d time.Duration) {
	h.Record(float64(d) / float64(time.Millisecond))
}

// Stats summarizes the window; the result is cached until the next Record.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stats != nil {
		return *h.stats
	}

	n := h.next
	if h.full {
		n = len(h.ring)
	}
	if n == 0 {
		return LatencyStats{}
	}
	window := slices.Clone(h.ring[:n])
	slices.Sort(window)

	var sum float64
	for _, v := range window {
		sum += v
	}
	s := LatencyStats{
		Min:   window[0],
		Max:   window[n-1],
		Avg:   sum / float64(n),
		P50:   quantile(window, 0.50),
		P95:   quantile(window, 0.95),
		P99:   quantile(window, 0.99),
		Count: n,
	}
	h.stats = &s
	return s
}

// quantile picks the nearest-rank sample at or above q from sorted values.
func quantile(sorted []float64, q float64) float64 {
	i := int(float64(len(sorted)) * q)
	if i >= len(sorted) {
		i = len(sorted) - 1
	}
	return sorted[i]
}

// LatencyStats is in milliseconds.
type LatencyStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Count int     `json:"count"`
}

// MetricsSnapshot is served at /api/metrics.
type MetricsSnapshot struct {
	OrderLatency     LatencyStats `json:"order_latency"`
	BarLatency       LatencyStats `json:"bar_latency"`
	BarsProcessed    uint64       `json:"bars_processed"`
	SignalsGenerated uint64       `json:"signals_generated"`
	OrdersPlaced     uint64       `json:"orders_placed"`
	OrdersFailed     uint64       `json:"orders_failed"`
	OrdersDenied     uint64       `json:"orders_denied"`
	OrderUpdates     uint64       `json:"order_updates"`
	WebhookRejected  uint64       `json:"webhook_rejected"`
	DriftsDetected   uint64       `json:"drifts_detected"`
	Panics           uint64       `json:"panics"`
	Goroutines       int          `json:"goroutines"`
	HeapAllocBytes   uint64       `json:"heap_alloc_bytes"`
	UptimeSeconds    float64      `json:"uptime_seconds"`
	Timestamp        time.Time    `json:"timestamp"`
}

func (m *SystemMetrics) GetSnapshot() MetricsSnapshot {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	return MetricsSnapshot{
		OrderLatency:     m.OrderLatency.Stats(),
		BarLatency:       m.BarLatency.Stats(),
		BarsProcessed:    m.bars.Load(),
		SignalsGenerated: m.signals.Load(),
		OrdersPlaced:     m.placed.Load(),
		OrdersFailed:     m.failed.Load(),
		OrdersDenied:     m.denied.Load(),
		OrderUpdates:     m.updates.Load(),
		WebhookRejected:  m.rejectedWebhooks.Load(),
		DriftsDetected:   m.drifts.Load(),
		Panics:           m.panics.Load(),
		Goroutines:       runtime.NumGoroutine(),
		HeapAllocBytes:   mem.HeapAlloc,
		UptimeSeconds:    time.Since(m.started).Seconds(),
		Timestamp:        time.Now().UTC(),
	}
}
