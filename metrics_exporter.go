package shelf

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// MetricsExporter drains a QueryProfiler into Metrics on an interval.
type MetricsExporter struct {
	profiler *QueryProfiler
	metrics  Metrics
	interval time.Duration

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewMetricsExporter creates a new metrics exporter
func NewMetricsExporter(profiler *QueryProfiler, metrics Metrics, interval time.Duration) *MetricsExporter {
	return &MetricsExporter{
		profiler: profiler,
		metrics:  metrics,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start exports every interval until Stop is called or ctx is done. It
// blocks; run it in its own goroutine.
func (e *MetricsExporter) Start(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.ExportOnce()
		case <-e.stopCh:
			e.ExportOnce()
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop ends Start after a final export. It is safe to call more than once.
func (e *MetricsExporter) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
}

// ExportOnce records the queued profiles and clears the profiler. Failed
// queries are counted but their durations are not recorded.
func (e *MetricsExporter) ExportOnce() {
	profiles := e.profiler.GetProfiles()
	e.profiler.Clear()

	for _, profile := range profiles {
		tags := []string{"store", profile.Store, "plan", string(profile.Plan)}
		if profile.Error != nil {
			e.metrics.Increment(MetricQueryError, tags...)
			continue
		}
		e.metrics.Timing(MetricQueryDuration, profile.Duration, tags...)
		e.metrics.Histogram(MetricQueryResults, float64(profile.ResultCount), tags...)
		if profile.Plan == PlanFullScan {
			e.metrics.Increment(MetricQueryFullScan, "store", profile.Store,
				"limited", strconv.FormatBool(profile.Limit > 0))
		}
	}
}
