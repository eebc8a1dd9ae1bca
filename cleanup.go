package shelf

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// CleanupResult tallies one sweep.
type CleanupResult struct {
	Cleaned int  `json:"cleaned"`
	Errors  int  `json:"errors"`
	Skipped bool `json:"skipped"` // another sweep was already running
}

// Scheduler removes expired and orphaned records, on demand and on a
// timer. Sweeps never overlap: a sweep requested while one is running
// returns immediately with Skipped set.
type Scheduler struct {
	exec     *Executor
	registry *Registry
	interval time.Duration
	clock    Clock
	events   EventBus
	logger   Logger
	metrics  Metrics

	running atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler creates a scheduler. interval 0 disables the timer.
func NewScheduler(exec *Executor, registry *Registry, interval time.Duration, clock Clock, events EventBus, logger Logger, metrics Metrics) *Scheduler {
	return &Scheduler{
		exec:     exec,
		registry: registry,
		interval: interval,
		clock:    clock,
		events:   events,
		logger:   logger,
		metrics:  metrics,
	}
}

// Start runs periodic sweeps until ctx is done or Stop is called. It does
// nothing when the interval is 0 or the timer is already running.
func (s *Scheduler) Start(ctx context.Context) {
	if s.interval <= 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.loop(ctx, s.clock.NewTicker(s.interval), s.done)
}

func (s *Scheduler) loop(ctx context.Context, ticker Ticker, done chan struct{}) {
	defer close(done)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
				s.logger.Warn("scheduled cleanup failed", "error", err)
			}
		}
	}
}

// Stop halts the timer and waits for a running scheduled sweep to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Sweep visits every declared store once, each in its own readwrite
// transaction. A store whose transaction fails counts as one error and
// does not stop the sweep.
func (s *Scheduler) Sweep(ctx context.Context) (CleanupResult, error) {
	if !s.running.CompareAndSwap(false, true) {
		s.metrics.Increment(MetricCleanupSkipped)
		return CleanupResult{Skipped: true}, nil
	}
	defer s.running.Store(false)

	start := time.Now()
	var result CleanupResult
	for _, store := range s.registry.ListStores() {
		removed, err := s.sweepStore(ctx, store)
		if err != nil {
			if errors.Is(err, ErrNotInitialized) || ctx.Err() != nil {
				s.emit(ErrorEvent("cleanup"), map[string]interface{}{"error": err.Error()})
				return result, err
			}
			s.logger.Warn("cleanup of store failed",
				"store", store,
				"error", err)
			result.Errors++
			continue
		}
		result.Cleaned += removed
	}
	s.metrics.Timing(MetricCleanupDuration, time.Since(start))

	if result.Cleaned > 0 || result.Errors > 0 {
		s.logger.Info("cleanup completed",
			"cleaned", result.Cleaned,
			"errors", result.Errors)
	}
	s.emit(EventCleanupCompleted, map[string]interface{}{
		"cleaned": result.Cleaned,
		"errors":  result.Errors,
	})
	return result, nil
}

type sweepCandidate struct {
	stored *storedRecord
	reason string
}

func (s *Scheduler) sweepStore(ctx context.Context, store string) (int, error) {
	now := s.clock.Now()
	var removed []string

	err := s.exec.PerformTransaction(ctx, store, ReadWrite, func(tx *Txn) error {
		var candidates []sweepCandidate
		err := tx.scanAll(func(st *storedRecord, decodeErr error) error {
			if decodeErr != nil {
				candidates = append(candidates, sweepCandidate{stored: st, reason: "orphaned"})
				return nil
			}
			if at, ok := tx.expiry(st); ok && !at.After(now) {
				candidates = append(candidates, sweepCandidate{stored: st, reason: "expired"})
			}
			return nil
		})
		if err != nil {
			return err
		}

		removed = removed[:0]
		for _, c := range candidates {
			// Unreadable records have no decoded record; their index
			// entries are located by primary key instead.
			if err := tx.deleteStored(c.stored); err != nil {
				return err
			}
			removed = append(removed, c.reason)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	for _, reason := range removed {
		s.metrics.Increment(MetricCleanupRemoved, "reason", reason)
	}
	return len(removed), nil
}

func (s *Scheduler) emit(name string, data map[string]interface{}) {
	s.events.Emit(name, stampEvent(data, s.clock.Now()))
}
