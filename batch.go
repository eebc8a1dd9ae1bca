package shelf

import (
	"context"
	"sync"
	"time"
)

// SaveBatch stores records in one transaction: either every record is
// written or none is. Keys are returned in input order. Without overwrite
// a key that already exists, or appears twice in records, aborts the
// batch with ErrAlreadyExists.
func (e *Engine) SaveBatch(ctx context.Context, store string, records []Record, overwrite bool) ([]interface{}, error) {
	start := time.Now()
	var keys []interface{}
	err := e.write(ctx, store, func(tx *Txn) error {
		keys = make([]interface{}, 0, len(records))
		for _, record := range records {
			key, err := tx.Put(record, PutOptions{Overwrite: overwrite})
			if err != nil {
				return err
			}
			keys = append(keys, key)
		}
		return nil
	})
	e.observe("save-batch", store, start, err)
	if err != nil {
		e.emitError("save-batch", store, err)
		return nil, err
	}
	for _, key := range keys {
		e.emit(EventSaved, map[string]interface{}{
			"store": store,
			"key":   key,
		})
	}
	return keys, nil
}

// LoadBatch reads keys in one transaction. The result has one entry per
// key, nil where no record is stored.
func (e *Engine) LoadBatch(ctx context.Context, store string, keys []interface{}) ([]Record, error) {
	start := time.Now()
	records := make([]Record, len(keys))
	err := e.exec.PerformTransaction(ctx, store, ReadOnly, func(tx *Txn) error {
		for i, key := range keys {
			record, err := tx.Get(key)
			if err != nil {
				return err
			}
			records[i] = record
		}
		return nil
	})
	e.observe("load-batch", store, start, err)
	if err != nil {
		e.emitError("load-batch", store, err)
		return nil, err
	}
	return records, nil
}

// DeleteBatch removes keys in one transaction and returns how many
// records existed.
func (e *Engine) DeleteBatch(ctx context.Context, store string, keys []interface{}) (int, error) {
	start := time.Now()
	var deleted []interface{}
	err := e.exec.PerformTransaction(ctx, store, ReadWrite, func(tx *Txn) error {
		deleted = deleted[:0]
		for _, key := range keys {
			ok, err := tx.Delete(key)
			if err != nil {
				return err
			}
			if ok {
				deleted = append(deleted, key)
			}
		}
		return nil
	})
	e.observe("delete-batch", store, start, err)
	if err != nil {
		e.emitError("delete-batch", store, err)
		return 0, err
	}
	for _, key := range deleted {
		e.emit(EventDeleted, map[string]interface{}{
			"store": store,
			"key":   key,
		})
	}
	return len(deleted), nil
}

// BatchWriter buffers records and writes them with SaveBatch, overwriting,
// every batchSize records. It is safe for concurrent use.
type BatchWriter struct {
	engine    *Engine
	store     string
	batchSize int

	mu      sync.Mutex
	pending []Record
	written int
}

// NewBatchWriter creates a writer for store. batchSize < 1 is treated as 1.
func (e *Engine) NewBatchWriter(store string, batchSize int) *BatchWriter {
	if batchSize < 1 {
		batchSize = 1
	}
	return &BatchWriter{
		engine:    e,
		store:     store,
		batchSize: batchSize,
		pending:   make([]Record, 0, batchSize),
	}
}

// Add queues record and flushes when the batch is full.
func (bw *BatchWriter) Add(ctx context.Context, record Record) error {
	bw.mu.Lock()
	defer bw.mu.Unlock()

	bw.pending = append(bw.pending, record)
	if len(bw.pending) >= bw.batchSize {
		return bw.flushLocked(ctx)
	}
	return nil
}

// Flush writes the queued records. On failure they stay queued.
func (bw *BatchWriter) Flush(ctx context.Context) error {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return bw.flushLocked(ctx)
}

// Written returns how many records have been stored so far.
func (bw *BatchWriter) Written() int {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return bw.written
}

func (bw *BatchWriter) flushLocked(ctx context.Context) error {
	if len(bw.pending) == 0 {
		return nil
	}
	if _, err := bw.engine.SaveBatch(ctx, bw.store, bw.pending, true); err != nil {
		return err
	}
	bw.written += len(bw.pending)
	bw.pending = make([]Record, 0, bw.batchSize)
	return nil
}
