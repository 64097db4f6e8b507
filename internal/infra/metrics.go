package infra

import (
	"sync/atomic"
	"time"
)

// Metrics provides lightweight observability without external
// dependencies. Uses atomic operations for thread-safety.
type Metrics struct {
	checksPerformed atomic.Uint64
	ordersCreated   atomic.Uint64
	ordersFilled    atomic.Uint64
	fillRetries     atomic.Uint64
	errorsTotal     atomic.Uint64

	fillLatencySumNs atomic.Int64
	fillLatencyCount atomic.Uint64

	feedConnected atomic.Int32 // 1 = connected
}

// GlobalMetrics is the singleton metrics instance.
var GlobalMetrics = &Metrics{}

// RecordCheck records one upkeep poll.
func (m *Metrics) RecordCheck() {
	m.checksPerformed.Add(1)
}

// RecordOrderCreated records a new pending order.
func (m *Metrics) RecordOrderCreated() {
	m.ordersCreated.Add(1)
}

// RecordOrderFilled records a filled order with its fill latency.
func (m *Metrics) RecordOrderFilled(latencyNs int64) {
	m.ordersFilled.Add(1)
	m.fillLatencySumNs.Add(latencyNs)
	m.fillLatencyCount.Add(1)
}

// RecordFillRetry records a retriable fill failure.
func (m *Metrics) RecordFillRetry() {
	m.fillRetries.Add(1)
}

// RecordError records a non-retriable error.
func (m *Metrics) RecordError() {
	m.errorsTotal.Add(1)
}

// SetFeedConnected tracks the price feed connection state.
func (m *Metrics) SetFeedConnected(connected bool) {
	if connected {
		m.feedConnected.Store(1)
	} else {
		m.feedConnected.Store(0)
	}
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	ChecksPerformed  uint64
	OrdersCreated    uint64
	OrdersFilled     uint64
	FillRetries      uint64
	ErrorsTotal      uint64
	AvgFillLatencyNs int64
	FeedConnected    bool
	Timestamp        time.Time
}

// Snapshot returns current metrics as a snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	var avgLatency int64
	count := m.fillLatencyCount.Load()
	if count > 0 {
		avgLatency = m.fillLatencySumNs.Load() / int64(count)
	}

	return MetricsSnapshot{
		ChecksPerformed:  m.checksPerformed.Load(),
		OrdersCreated:    m.ordersCreated.Load(),
		OrdersFilled:     m.ordersFilled.Load(),
		FillRetries:      m.fillRetries.Load(),
		ErrorsTotal:      m.errorsTotal.Load(),
		AvgFillLatencyNs: avgLatency,
		FeedConnected:    m.feedConnected.Load() == 1,
		Timestamp:        time.Now(),
	}
}

// Reset clears all metrics (for testing).
func (m *Metrics) Reset() {
	m.checksPerformed.Store(0)
	m.ordersCreated.Store(0)
	m.ordersFilled.Store(0)
	m.fillRetries.Store(0)
	m.errorsTotal.Store(0)
	m.fillLatencySumNs.Store(0)
	m.fillLatencyCount.Store(0)
	m.feedConnected.Store(0)
}
