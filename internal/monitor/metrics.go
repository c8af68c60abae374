package monitor

import (
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// SystemMetrics tracks dispatch throughput and latency of the terminal core.
type SystemMetrics struct {
	// Latency histograms
	DispatchLatency *LatencyHistogram
	StrategyLatency *LatencyHistogram
	SendLatency     *LatencyHistogram

	// Counters
	linesProcessed uint64
	ticksProcessed uint64
	parseFailures  uint64
	ordersSent     uint64
	sendErrors     uint64
	panics         uint64

	started time.Time
}

// LatencyHistogram tracks latency samples with sliding window.
// Stats are recomputed lazily.
type LatencyHistogram struct {
	mu          sync.Mutex
	samples     []float64
	maxSize     int
	dirty       bool         // Whether samples have changed since last Stats()
	cachedStats LatencyStats // Cached computed stats
}

// NewSystemMetrics creates a new metrics instance.
func NewSystemMetrics() *SystemMetrics {
	return &SystemMetrics{
		DispatchLatency: NewLatencyHistogram(1000),
		StrategyLatency: NewLatencyHistogram(1000),
		SendLatency:     NewLatencyHistogram(1000),
		started:         time.Now(),
	}
}

// NewLatencyHistogram creates a sliding window histogram.
func NewLatencyHistogram(size int) *LatencyHistogram {
	if size <= 0 {
		size = 1000
	}
	return &LatencyHistogram{
		samples: make([]float64, 0, size),
		maxSize: size,
		dirty:   true,
	}
}

// Record adds a latency sample in milliseconds.
func (h *LatencyHistogram) Record(latencyMs float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.samples) >= h.maxSize {
		// Shift window: remove oldest
		h.samples = h.samples[1:]
	}
	h.samples = append(h.samples, latencyMs)
	h.dirty = true // Mark as dirty for lazy recomputation
}

// RecordDuration converts duration to ms and records.
func (h *LatencyHistogram) RecordDuration(d time.Duration) {
	h.Record(float64(d.Nanoseconds()) / 1e6)
}

// Stats returns min, max, avg, p50, p95, p99.
// Uses lazy computation - only recomputes when samples have changed.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.dirty {
		return h.cachedStats
	}

	n := len(h.samples)
	if n == 0 {
		h.cachedStats, h.dirty = LatencyStats{}, false
		return h.cachedStats
	}

	sorted := make([]float64, n)
	copy(sorted, h.samples)
	sort.Float64s(sorted)

	var sum float64
	min, max := sorted[0], sorted[n-1]
	for _, v := range sorted {
		sum += v
	}

	h.cachedStats = LatencyStats{
		Min:   min,
		Max:   max,
		Avg:   sum / float64(n),
		P50:   sorted[n/2],
		P95:   sorted[int(float64(n)*0.95)],
		P99:   sorted[int(float64(n)*0.99)],
		Count: n,
	}
	h.dirty = false

	return h.cachedStats
}

// LatencyStats holds computed latency statistics.
type LatencyStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Count int     `json:"count"`
}

// IncrementLines counts one dispatched gateway line.
func (m *SystemMetrics) IncrementLines() {
	atomic.AddUint64(&m.linesProcessed, 1)
}

// IncrementTicks counts one valid tick.
func (m *SystemMetrics) IncrementTicks() {
	atomic.AddUint64(&m.ticksProcessed, 1)
}

// IncrementParseFailures counts a line whose fields could not be decoded.
func (m *SystemMetrics) IncrementParseFailures() {
	atomic.AddUint64(&m.parseFailures, 1)
}

// IncrementOrders counts an order command handed to the sender.
func (m *SystemMetrics) IncrementOrders() {
	atomic.AddUint64(&m.ordersSent, 1)
}

func (m *SystemMetrics) IncrementSendErrors() {
	atomic.AddUint64(&m.sendErrors, 1)
}

// IncrementPanics counts a recovered panic in a handler.
func (m *SystemMetrics) IncrementPanics() {
	atomic.AddUint64(&m.panics, 1)
}

// MetricsSnapshot is a point-in-time view of the metrics.
type MetricsSnapshot struct {
	DispatchLatency LatencyStats `json:"dispatch_latency"`
	StrategyLatency LatencyStats `json:"strategy_latency"`
	SendLatency     LatencyStats `json:"send_latency"`
	LinesProcessed  uint64       `json:"lines_processed"`
	TicksProcessed  uint64       `json:"ticks_processed"`
	ParseFailures   uint64       `json:"parse_failures"`
	OrdersSent      uint64       `json:"orders_sent"`
	SendErrors      uint64       `json:"send_errors"`
	Panics          uint64       `json:"panics"`
	GoroutineCount  int          `json:"goroutine_count"`
	HeapAlloc       uint64       `json:"heap_alloc_bytes"`
	HeapSys         uint64       `json:"heap_sys_bytes"`
	Uptime          string       `json:"uptime"`
	Timestamp       time.Time    `json:"timestamp"`
}

// GetSnapshot returns a point-in-time metrics snapshot.
func (m *SystemMetrics) GetSnapshot() MetricsSnapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return MetricsSnapshot{
		DispatchLatency: m.DispatchLatency.Stats(),
		StrategyLatency: m.StrategyLatency.Stats(),
		SendLatency:     m.SendLatency.Stats(),
		LinesProcessed:  atomic.LoadUint64(&m.linesProcessed),
		TicksProcessed:  atomic.LoadUint64(&m.ticksProcessed),
		ParseFailures:   atomic.LoadUint64(&m.parseFailures),
		OrdersSent:      atomic.LoadUint64(&m.ordersSent),
		SendErrors:      atomic.LoadUint64(&m.sendErrors),
		Panics:          atomic.LoadUint64(&m.panics),
		GoroutineCount:  runtime.NumGoroutine(),
		HeapAlloc:       memStats.HeapAlloc,
		HeapSys:         memStats.HeapSys,
		Uptime:          time.Since(m.started).Round(time.Second).String(),
		Timestamp:       time.Now(),
	}
}

// Timer helps measure operation duration.
type Timer struct {
	start     time.Time
	histogram *LatencyHistogram
}

// NewTimer creates a timer that records to the given histogram.
func NewTimer(h *LatencyHistogram) *Timer {
	return &Timer{
		start:     time.Now(),
		histogram: h,
	}
}

// Stop records elapsed time to histogram.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	if t.histogram != nil {
		t.histogram.RecordDuration(elapsed)
	}
	return elapsed
}
