package shelf

import (
	"context"
	"sort"
	"sync"
	"time"
)

// QueryPlan names how a query reached its records.
type QueryPlan string

const (
	PlanIndexRange QueryPlan = "index-range" // bounded scan of an index bucket
	PlanIndexScan  QueryPlan = "index-scan"  // whole index bucket
	PlanKeyRange   QueryPlan = "key-range"   // bounded scan of the record bucket
	PlanFullScan   QueryPlan = "full-scan"   // whole record bucket
)

func planFor(opts QueryOptions) QueryPlan {
	bounded := opts.keyRange() != nil
	switch {
	case opts.Index != "" && bounded:
		return PlanIndexRange
	case opts.Index != "":
		return PlanIndexScan
	case bounded:
		return PlanKeyRange
	}
	return PlanFullScan
}

// QueryProfile tracks execution details for a single query
type QueryProfile struct {
	Store       string
	Index       string
	Plan        QueryPlan
	Limit       int
	StartTime   time.Time
	Duration    time.Duration
	ResultCount int
	Error       error
}

// QueryProfiler collects query profiles. Attach one to a context with
// WithProfiler and every Engine.Query made with that context is recorded.
type QueryProfiler struct {
	mu                 sync.RWMutex
	profiles           []QueryProfile
	slowQueryThreshold time.Duration
	enabled            bool
}

// NewQueryProfiler creates a new query profiler
func NewQueryProfiler() *QueryProfiler {
	return &QueryProfiler{
		profiles:           make([]QueryProfile, 0),
		slowQueryThreshold: 100 * time.Millisecond,
		enabled:            true,
	}
}

// SetSlowQueryThreshold sets the duration threshold for slow queries
func (p *QueryProfiler) SetSlowQueryThreshold(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.slowQueryThreshold = d
}

// SetEnabled enables or disables profiling
func (p *QueryProfiler) SetEnabled(enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enabled = enabled
}

// Record stores a completed profile.
func (p *QueryProfiler) Record(profile QueryProfile) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.enabled {
		return
	}
	p.profiles = append(p.profiles, profile)
}

// GetProfiles returns all recorded profiles
func (p *QueryProfiler) GetProfiles() []QueryProfile {
	p.mu.RLock()
	defer p.mu.RUnlock()

	result := make([]QueryProfile, len(p.profiles))
	copy(result, p.profiles)
	return result
}

// GetSlowQueries returns queries that exceeded the slow query threshold
func (p *QueryProfiler) GetSlowQueries() []QueryProfile {
	return p.filter(func(q QueryProfile) bool { return q.Duration > p.slowQueryThreshold })
}

// GetFullScans returns queries that read the whole record bucket.
func (p *QueryProfiler) GetFullScans() []QueryProfile {
	return p.filter(func(q QueryProfile) bool { return q.Plan == PlanFullScan })
}

func (p *QueryProfiler) filter(keep func(QueryProfile) bool) []QueryProfile {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]QueryProfile, 0)
	for _, profile := range p.profiles {
		if keep(profile) {
			out = append(out, profile)
		}
	}
	return out
}

// Clear clears all recorded profiles
func (p *QueryProfiler) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.profiles = make([]QueryProfile, 0)
}

// ProfileSummary aggregates the recorded profiles.
type ProfileSummary struct {
	TotalQueries    int
	SlowQueries     int
	FullScans       int
	Errors          int
	AverageDuration time.Duration
	P50Duration     time.Duration
	P95Duration     time.Duration
	P99Duration     time.Duration
	ByStore         map[string]StoreStats
	ByPlan          map[QueryPlan]int
}

type StoreStats struct {
	Count           int
	TotalDuration   time.Duration
	AverageDuration time.Duration
	MaxDuration     time.Duration
	FullScans       int
}

// GetSummary returns a statistical summary of all profiles
func (p *QueryProfiler) GetSummary() ProfileSummary {
	p.mu.RLock()
	defer p.mu.RUnlock()

	summary := ProfileSummary{
		TotalQueries: len(p.profiles),
		ByStore:      make(map[string]StoreStats),
		ByPlan:       make(map[QueryPlan]int),
	}
	if len(p.profiles) == 0 {
		return summary
	}

	var totalDuration time.Duration
	durations := make([]time.Duration, 0, len(p.profiles))

	for _, profile := range p.profiles {
		totalDuration += profile.Duration
		durations = append(durations, profile.Duration)

		if profile.Duration > p.slowQueryThreshold {
			summary.SlowQueries++
		}
		if profile.Plan == PlanFullScan {
			summary.FullScans++
		}
		if profile.Error != nil {
			summary.Errors++
		}
		summary.ByPlan[profile.Plan]++

		stats := summary.ByStore[profile.Store]
		stats.Count++
		stats.TotalDuration += profile.Duration
		if profile.Duration > stats.MaxDuration {
			stats.MaxDuration = profile.Duration
		}
		if profile.Plan == PlanFullScan {
			stats.FullScans++
		}
		summary.ByStore[profile.Store] = stats
	}

	summary.AverageDuration = totalDuration / time.Duration(len(p.profiles))
	for store, stats := range summary.ByStore {
		stats.AverageDuration = stats.TotalDuration / time.Duration(stats.Count)
		summary.ByStore[store] = stats
	}

	sort.Slice(durations, func(i, j int) bool {
		return durations[i] < durations[j]
	})
	summary.P50Duration = durations[len(durations)*50/100]
	summary.P95Duration = durations[len(durations)*95/100]
	summary.P99Duration = durations[len(durations)*99/100]

	return summary
}

type profilerKey struct{}

// WithProfiler attaches a profiler to the context
func WithProfiler(ctx context.Context, profiler *QueryProfiler) context.Context {
	return context.WithValue(ctx, profilerKey{}, profiler)
}

// ProfilerFromContext returns the profiler attached to ctx, or nil.
func ProfilerFromContext(ctx context.Context) *QueryProfiler {
	profiler, _ := ctx.Value(profilerKey{}).(*QueryProfiler)
	return profiler
}
