package shelf

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
)

// QuotaSample is one usage measurement. It is never persisted.
type QuotaSample struct {
	UsedBytes     int64
	CapacityBytes int64 // 0 when unknown
	SampledAt     time.Time
}

// Ratio returns used/capacity, or 0 when the capacity is unknown.
func (s QuotaSample) Ratio() float64 {
	if s.CapacityBytes <= 0 {
		return 0
	}
	return float64(s.UsedBytes) / float64(s.CapacityBytes)
}

// UsagePercent returns the ratio as a percentage.
func (s QuotaSample) UsagePercent() float64 {
	return s.Ratio() * 100
}

// StorageUsage is the result of Engine.GetStorageUsage.
type StorageUsage struct {
	UsedBytes     int64   `json:"usedBytes"`
	CapacityBytes int64   `json:"capacityBytes"`
	UsagePercent  float64 `json:"usagePercent"`
}

// String formats usage for humans, e.g. "1.2 MB of 10 MB (12.0%)".
func (u StorageUsage) String() string {
	if u.CapacityBytes <= 0 {
		return humanize.Bytes(uint64(u.UsedBytes)) + " (no quota)"
	}
	return fmt.Sprintf("%s of %s (%.1f%%)",
		humanize.Bytes(uint64(u.UsedBytes)), humanize.Bytes(uint64(u.CapacityBytes)), u.UsagePercent)
}

// UsageEstimator samples how much storage the database uses.
type UsageEstimator interface {
	Estimate(ctx context.Context) (QuotaSample, error)
}

// SubstrateEstimator reports the substrate's own size accounting against
// a fixed capacity.
type SubstrateEstimator struct {
	conns    *ConnectionManager
	capacity int64
	clock    Clock
}

// NewSubstrateEstimator creates an estimator for the connection managed by
// conns. capacity 0 means unknown.
func NewSubstrateEstimator(conns *ConnectionManager, capacity int64, clock Clock) *SubstrateEstimator {
	return &SubstrateEstimator{conns: conns, capacity: capacity, clock: clock}
}

func (e *SubstrateEstimator) Estimate(ctx context.Context) (QuotaSample, error) {
	conn, err := e.conns.Conn()
	if err != nil {
		return QuotaSample{}, err
	}
	used, err := conn.Size(ctx)
	if err != nil {
		return QuotaSample{}, err
	}
	return QuotaSample{
		UsedBytes:     used,
		CapacityBytes: e.capacity,
		SampledAt:     e.clock.Now(),
	}, nil
}

// Sweeper removes expired and orphaned records.
type Sweeper interface {
	Sweep(ctx context.Context) (CleanupResult, error)
}

// Governor runs one cleanup before a save when usage reaches the high
// water mark.
type Governor struct {
	estimator UsageEstimator
	sweeper   Sweeper
	highWater float64
	logger    Logger
	metrics   Metrics
}

// NewGovernor creates a governor sweeping at highWater (a ratio in [0,1]).
func NewGovernor(estimator UsageEstimator, sweeper Sweeper, highWater float64, logger Logger, metrics Metrics) *Governor {
	return &Governor{
		estimator: estimator,
		sweeper:   sweeper,
		highWater: highWater,
		logger:    logger,
		metrics:   metrics,
	}
}

// BeforeSave samples usage and sweeps once when the high water mark is
// reached. It is best effort: estimator and sweep failures are logged and
// the save proceeds. It reports whether a sweep ran.
func (g *Governor) BeforeSave(ctx context.Context) bool {
	sample, err := g.estimator.Estimate(ctx)
	if err != nil {
		g.logger.Warn("usage estimate failed", "error", err)
		return false
	}
	if sample.CapacityBytes <= 0 {
		return false
	}

	ratio := sample.Ratio()
	g.metrics.Gauge(MetricQuotaUsage, ratio)
	if ratio < g.highWater {
		return false
	}

	g.logger.Info("storage above high water mark, running cleanup",
		"used", humanize.Bytes(uint64(sample.UsedBytes)),
		"capacity", humanize.Bytes(uint64(sample.CapacityBytes)),
		"ratio", ratio)

	result, err := g.sweeper.Sweep(ctx)
	if err != nil {
		g.logger.Warn("pre-save cleanup failed", "error", err)
	} else if result.Skipped {
		g.logger.Debug("pre-save cleanup skipped, sweep already running")
	}
	return true
}
