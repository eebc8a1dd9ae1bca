package shelf

import (
	"sync"
	"time"
)

// Metrics provides observability for engine operations. Tags are alternating
// label name/value pairs.
type Metrics interface {
	// Increment increases a counter by 1
	Increment(name string, tags ...string)

	// Gauge sets an absolute value
	Gauge(name string, value float64, tags ...string)

	// Histogram records a value distribution (latency, size, etc)
	Histogram(name string, value float64, tags ...string)

	// Timing records a duration
	Timing(name string, duration time.Duration, tags ...string)
}

// NoOpMetrics is a metrics collector that does nothing
type NoOpMetrics struct{}

func (m *NoOpMetrics) Increment(name string, tags ...string)                      {}
func (m *NoOpMetrics) Gauge(name string, value float64, tags ...string)           {}
func (m *NoOpMetrics) Histogram(name string, value float64, tags ...string)       {}
func (m *NoOpMetrics) Timing(name string, duration time.Duration, tags ...string) {}

// InMemoryMetrics stores metrics in memory for testing. Tags are ignored.
type InMemoryMetrics struct {
	mu         sync.Mutex
	Counters   map[string]int
	Gauges     map[string]float64
	Histograms map[string][]float64
	Timings    map[string][]time.Duration
}

func NewInMemoryMetrics() *InMemoryMetrics {
	return &InMemoryMetrics{
		Counters:   make(map[string]int),
		Gauges:     make(map[string]float64),
		Histograms: make(map[string][]float64),
		Timings:    make(map[string][]time.Duration),
	}
}

func (m *InMemoryMetrics) Increment(name string, tags ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Counters[name]++
}

func (m *InMemoryMetrics) Gauge(name string, value float64, tags ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Gauges[name] = value
}

func (m *InMemoryMetrics) Histogram(name string, value float64, tags ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Histograms[name] = append(m.Histograms[name], value)
}

func (m *InMemoryMetrics) Timing(name string, duration time.Duration, tags ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Timings[name] = append(m.Timings[name], duration)
}

// Counter returns the current value of a counter.
func (m *InMemoryMetrics) Counter(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Counters[name]
}

// Common metric names
const (
	MetricOperationSuccess  = "shelf.operation.success"  // operation, store
	MetricOperationError    = "shelf.operation.error"    // operation, store
	MetricOperationDuration = "shelf.operation.duration" // operation, store

	MetricTransactionCommit = "shelf.transaction.commit" // store, mode
	MetricTransactionAbort  = "shelf.transaction.abort"  // store, mode

	MetricConnectAttempt = "shelf.connect.attempt"
	MetricConnectRetry   = "shelf.connect.retry"
	MetricConnectFailure = "shelf.connect.failure"

	MetricCodecCompressed = "shelf.codec.compressed" // algorithm
	MetricCodecFallback   = "shelf.codec.fallback"   // algorithm
	MetricCodecRatio      = "shelf.codec.ratio"      // algorithm

	MetricQuotaUsage    = "shelf.quota.usage_ratio"
	MetricQuotaExceeded = "shelf.quota.exceeded"

	MetricCleanupRemoved  = "shelf.cleanup.removed" // reason
	MetricCleanupSkipped  = "shelf.cleanup.skipped"
	MetricCleanupDuration = "shelf.cleanup.duration"

	MetricQueryDuration = "shelf.query.duration"  // store, plan
	MetricQueryResults  = "shelf.query.results"   // store, plan
	MetricQueryError    = "shelf.query.error"     // store, plan
	MetricQueryFullScan = "shelf.query.full_scan" // store, limited

	MetricIndexDrift    = "shelf.index.drift"    // store
	MetricIndexRepaired = "shelf.index.repaired" // store

	MetricBackupRecords  = "shelf.backup.records"
	MetricRestoreRecords = "shelf.restore.records" // outcome

	MetricEventPublishError = "shelf.events.publish_error"
)
