package shelf

import (
	"context"
	"time"
)

// KeyRange bounds a scan over keys or index values. A nil bound is open
// ended; LowerOpen and UpperOpen exclude the bound itself.
type KeyRange struct {
	Lower     interface{}
	Upper     interface{}
	LowerOpen bool
	UpperOpen bool
}

// Only matches exactly one value.
func Only(v interface{}) *KeyRange {
	return &KeyRange{Lower: v, Upper: v}
}

// Bound matches values between lower and upper.
func Bound(lower, upper interface{}, lowerOpen, upperOpen bool) *KeyRange {
	return &KeyRange{Lower: lower, Upper: upper, LowerOpen: lowerOpen, UpperOpen: upperOpen}
}

// LowerBound matches values at or above (or strictly above, if open) v.
func LowerBound(v interface{}, open bool) *KeyRange {
	return &KeyRange{Lower: v, LowerOpen: open}
}

// UpperBound matches values at or below (or strictly below, if open) v.
func UpperBound(v interface{}, open bool) *KeyRange {
	return &KeyRange{Upper: v, UpperOpen: open}
}

type valueEncoder func(b []byte, v interface{}) ([]byte, error)

// bounds converts the range to a half open [start, end) scan interval.
// Encodings are prefix free, so every entry for a value v lies in
// [enc(v), prefixEnd(enc(v))).
func (r *KeyRange) bounds(enc valueEncoder) (start, end []byte, err error) {
	if r == nil {
		return nil, nil, nil
	}
	if r.Lower != nil {
		if start, err = enc(nil, r.Lower); err != nil {
			return nil, nil, err
		}
		if r.LowerOpen {
			start = prefixEnd(start)
		}
	}
	if r.Upper != nil {
		if end, err = enc(nil, r.Upper); err != nil {
			return nil, nil, err
		}
		if !r.UpperOpen {
			end = prefixEnd(end)
		}
	}
	return start, end, nil
}

// QueryOptions select records from one store. Without Index the primary key
// is scanned. Value takes precedence over Range, which takes precedence over
// LowerBound and UpperBound (both inclusive). Limit <= 0 returns every match.
type QueryOptions struct {
	Index      string
	Value      interface{}
	Range      *KeyRange
	LowerBound interface{}
	UpperBound interface{}
	Limit      int
}

func (o QueryOptions) keyRange() *KeyRange {
	switch {
	case o.Value != nil:
		return Only(o.Value)
	case o.Range != nil:
		return o.Range
	case o.LowerBound != nil || o.UpperBound != nil:
		return &KeyRange{Lower: o.LowerBound, Upper: o.UpperBound}
	}
	return nil
}

// Query returns the records of store matching opts in key or index order.
func (e *Engine) Query(ctx context.Context, store string, opts QueryOptions) ([]Record, error) {
	start := time.Now()
	var records []Record
	err := e.exec.PerformTransaction(ctx, store, ReadOnly, func(tx *Txn) error {
		var err error
		if opts.Index != "" {
			records, err = tx.IndexScan(opts.Index, opts.keyRange(), opts.Limit)
		} else {
			records, err = tx.KeyScan(opts.keyRange(), opts.Limit)
		}
		return err
	})
	e.observe("query", store, start, err)
	if profiler := ProfilerFromContext(ctx); profiler != nil {
		profiler.Record(QueryProfile{
			Store:       store,
			Index:       opts.Index,
			Plan:        planFor(opts),
			Limit:       opts.Limit,
			StartTime:   start,
			Duration:    time.Since(start),
			ResultCount: len(records),
			Error:       err,
		})
	}
	if err != nil {
		e.emitError("query", store, err)
		return nil, err
	}
	if records == nil {
		records = []Record{}
	}
	e.emit(EventQueried, map[string]interface{}{
		"store": store,
		"index": opts.Index,
		"count": len(records),
	})
	return records, nil
}

// GetAll returns every record of store in key order.
func (e *Engine) GetAll(ctx context.Context, store string) ([]Record, error) {
	return e.Query(ctx, store, QueryOptions{})
}
