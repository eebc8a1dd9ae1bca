package shelf

import (
	"context"
	"time"
)

// IndexHealthReport compares a store's index buckets with the entries its
// records should produce.
type IndexHealthReport struct {
	Store     string
	Timestamp time.Time
	Records   int

	// Missing counts entries a record should have but the bucket lacks.
	Missing int
	// Extra counts entries in the bucket that no record produces.
	Extra int

	DriftPercentage float64
	Indexes         map[string]IndexDrift
}

// IndexDrift is the per-index part of an IndexHealthReport.
type IndexDrift struct {
	Expected int
	Missing  int
	Extra    int
}

// Healthy reports whether no drift was found.
func (r *IndexHealthReport) Healthy() bool {
	return r.Missing == 0 && r.Extra == 0
}

// CheckIndexes verifies every index of store against its records in one
// readonly transaction. Undecodable records produce no expected entries, so
// entries that still point at them count as extra.
func (e *Engine) CheckIndexes(ctx context.Context, store string) (*IndexHealthReport, error) {
	start := time.Now()
	report := &IndexHealthReport{
		Store:     store,
		Timestamp: e.clock.Now(),
		Indexes:   make(map[string]IndexDrift),
	}

	err := e.exec.PerformTransaction(ctx, store, ReadOnly, func(tx *Txn) error {
		schema := tx.Schema()
		expected := make(map[string]map[string]bool, len(schema.Indexes))
		for _, idx := range schema.Indexes {
			expected[idx.Name] = make(map[string]bool)
		}

		records := 0
		err := tx.scanRange(nil, nil, func(s *storedRecord) error {
			records++
			for _, idx := range schema.Indexes {
				for _, value := range indexValues(idx, s.record) {
					expected[idx.Name][string(indexEntryKey(value, s.key))] = true
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
		report.Records = records

		total := 0
		for _, idx := range schema.Indexes {
			want := expected[idx.Name]
			drift := IndexDrift{Expected: len(want)}
			found := make(map[string]bool, len(want))
			err := tx.indexes[idx.Name].Scan(nil, nil, func(k, _ []byte) error {
				if want[string(k)] {
					found[string(k)] = true
				} else {
					drift.Extra++
				}
				return nil
			})
			if err != nil {
				return err
			}
			drift.Missing = len(want) - len(found)

			report.Indexes[idx.Name] = drift
			report.Missing += drift.Missing
			report.Extra += drift.Extra
			total += drift.Expected + drift.Extra
		}
		if total > 0 {
			report.DriftPercentage = float64(report.Missing+report.Extra) * 100 / float64(total)
		}
		return nil
	})
	e.observe("check-indexes", store, start, err)
	if err != nil {
		e.emitError("check-indexes", store, err)
		return nil, err
	}

	e.metrics.Gauge(MetricIndexDrift, report.DriftPercentage, "store", store)
	if report.Healthy() {
		e.logger.Debug("index health check passed",
			"store", store,
			"records", report.Records)
	} else {
		e.logger.Warn("index drift detected",
			"store", store,
			"drift_percent", report.DriftPercentage,
			"missing", report.Missing,
			"extra", report.Extra)
	}
	return report, nil
}

// RepairIndexes rebuilds every index of store from its records and returns
// the number of entries written. It fails with ErrConstraint, changing
// nothing, when stored records violate a unique index.
func (e *Engine) RepairIndexes(ctx context.Context, store string) (int, error) {
	start := time.Now()
	written := 0
	err := e.exec.PerformTransaction(ctx, store, ReadWrite, func(tx *Txn) error {
		written = 0
		for _, idx := range tx.Schema().Indexes {
			n, err := tx.rebuildIndex(idx)
			if err != nil {
				return err
			}
			written += n
		}
		return nil
	})
	e.observe("repair-indexes", store, start, err)
	if err != nil {
		e.emitError("repair-indexes", store, err)
		return 0, err
	}

	e.metrics.Increment(MetricIndexRepaired, "store", store)
	e.logger.Info("indexes rebuilt",
		"store", store,
		"entries", written)
	return written, nil
}
