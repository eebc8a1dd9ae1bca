package shelf

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// TxMode selects read-only or read-write transactions.
type TxMode int

const (
	ReadOnly TxMode = iota
	ReadWrite
)

func (m TxMode) String() string {
	if m == ReadWrite {
		return "readwrite"
	}
	return "readonly"
}

// PutOptions control a single write inside a transaction.
type PutOptions struct {
	// Overwrite replaces an existing record with the same key. Without it
	// the write fails with ErrAlreadyExists.
	Overwrite bool

	// ExpectedRevision makes the write conditional on the stored revision.
	// 0 writes unconditionally.
	ExpectedRevision uint64
}

// Executor runs operations against one store inside a substrate
// transaction: every primitive issued in the operation commits together or
// not at all.
type Executor struct {
	conns    *ConnectionManager
	registry *Registry
	codec    *Codec
	clock    Clock
	logger   Logger
	metrics  Metrics
}

// NewExecutor creates an executor.
func NewExecutor(conns *ConnectionManager, registry *Registry, codec *Codec, clock Clock, logger Logger, metrics Metrics) *Executor {
	return &Executor{
		conns:    conns,
		registry: registry,
		codec:    codec,
		clock:    clock,
		logger:   logger,
		metrics:  metrics,
	}
}

// PerformTransaction runs fn in one transaction on store.
//
// Errors:
//   - ErrStoreNotFound: store is not declared (no transaction is opened)
//   - ErrNotInitialized: the database is not open
//   - ErrTransaction: the substrate could not begin the transaction
//   - ErrTransactionAborted: fn or the commit failed; the cause stays
//     matchable with errors.Is
func (e *Executor) PerformTransaction(ctx context.Context, store string, mode TxMode, fn func(*Txn) error) error {
	schema, err := e.registry.Lookup(store)
	if err != nil {
		return err
	}
	conn, err := e.conns.Conn()
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	tx, err := conn.Begin(ctx, mode == ReadWrite)
	if err != nil {
		return WithContext(fmt.Errorf("%w: %w", ErrTransaction, err), map[string]interface{}{
			"store": store,
			"mode":  mode.String(),
		})
	}
	defer tx.Rollback()

	txn, err := e.newTxn(ctx, schema, tx, mode)
	if err != nil {
		return WithContext(fmt.Errorf("%w: %w", ErrTransaction, err), map[string]interface{}{
			"store": store,
			"mode":  mode.String(),
		})
	}

	if err := fn(txn); err != nil {
		e.metrics.Increment(MetricTransactionAbort, "store", store, "mode", mode.String())
		return abortedError(store, err)
	}

	if mode == ReadOnly {
		return nil
	}
	if err := tx.Commit(); err != nil {
		e.metrics.Increment(MetricTransactionAbort, "store", store, "mode", mode.String())
		return abortedError(store, err)
	}
	e.metrics.Increment(MetricTransactionCommit, "store", store, "mode", mode.String())
	return nil
}

func (e *Executor) newTxn(ctx context.Context, schema StoreSchema, tx Tx, mode TxMode) (*Txn, error) {
	records, err := tx.Bucket(storeBucket(schema.Name))
	if err != nil {
		return nil, err
	}
	indexes := make(map[string]Bucket, len(schema.Indexes))
	for _, idx := range schema.Indexes {
		b, err := tx.Bucket(indexBucket(schema.Name, idx.Name))
		if err != nil {
			return nil, err
		}
		indexes[idx.Name] = b
	}
	return &Txn{
		ctx:      ctx,
		schema:   schema,
		records:  records,
		indexes:  indexes,
		codec:    e.codec,
		clock:    e.clock,
		logger:   e.logger,
		writable: mode == ReadWrite,
	}, nil
}

// Txn exposes the primitives available inside PerformTransaction. It is
// only valid until the operation returns.
type Txn struct {
	ctx      context.Context
	schema   StoreSchema
	records  Bucket
	indexes  map[string]Bucket
	codec    *Codec
	clock    Clock
	logger   Logger
	writable bool
}

// Schema returns the declaration of the transaction's store.
func (t *Txn) Schema() StoreSchema {
	return t.schema
}

func (t *Txn) requireWritable() error {
	if !t.writable {
		return WithContext(ErrTransaction, map[string]interface{}{
			"store":  t.schema.Name,
			"reason": "write in a readonly transaction",
		})
	}
	return nil
}

// storedRecord is one decoded entry of the record bucket.
type storedRecord struct {
	key      []byte
	envelope Envelope
	record   Record
}

func (t *Txn) decode(raw []byte) (Envelope, Record, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, nil, fmt.Errorf("decode envelope: %w", err)
	}
	payload, err := t.codec.Decompress(env)
	if err != nil {
		return env, nil, err
	}
	var rec Record
	if err := json.Unmarshal(payload, &rec); err != nil {
		return env, nil, fmt.Errorf("decode record: %w", err)
	}
	return env, rec, nil
}

func (t *Txn) getStored(encodedKey []byte) (*storedRecord, error) {
	raw, err := t.records.Get(encodedKey)
	if err != nil || raw == nil {
		return nil, err
	}
	env, rec, err := t.decode(raw)
	if err != nil {
		return nil, WithContext(err, map[string]interface{}{
			"store": t.schema.Name,
		})
	}
	return &storedRecord{key: encodedKey, envelope: env, record: rec}, nil
}

// Get returns the record stored under key, or nil if there is none.
func (t *Txn) Get(key interface{}) (Record, error) {
	rec, _, err := t.GetWithRevision(key)
	return rec, err
}

// GetWithRevision returns the record and its revision token.
func (t *Txn) GetWithRevision(key interface{}) (Record, uint64, error) {
	encoded, err := encodeKey(nil, key)
	if err != nil {
		return nil, 0, err
	}
	stored, err := t.getStored(encoded)
	if err != nil || stored == nil {
		return nil, 0, err
	}
	return stored.record, stored.envelope.Revision, nil
}

// Put stores record under the value at the store's key path and returns
// that key. Stores declared with AutoKey assign a new ID to records saved
// without one.
func (t *Txn) Put(record Record, opts PutOptions) (interface{}, error) {
	if err := t.requireWritable(); err != nil {
		return nil, err
	}
	if record == nil {
		return nil, WithContext(ErrInvalidKey, map[string]interface{}{
			"store":  t.schema.Name,
			"reason": "nil record",
		})
	}

	if v, ok := lookupPath(record, t.schema.KeyPath); !ok || v == nil {
		if !t.schema.AutoKey {
			return nil, WithContext(ErrInvalidKey, map[string]interface{}{
				"store":   t.schema.Name,
				"keyPath": t.schema.KeyPath,
				"reason":  "record has no key",
			})
		}
		record = cloneRecord(record)
		if err := assignPath(record, t.schema.KeyPath, NewID()); err != nil {
			return nil, WithContext(ErrInvalidKey, map[string]interface{}{
				"store":  t.schema.Name,
				"reason": err.Error(),
			})
		}
	}

	// Keys and index values are read from the stored form so that they match
	// what a later load returns.
	payload, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	var canonical Record
	if err := json.Unmarshal(payload, &canonical); err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}

	rawKey, _ := lookupPath(canonical, t.schema.KeyPath)
	key, err := normalizeKey(rawKey)
	if err != nil {
		return nil, WithContext(err, map[string]interface{}{"store": t.schema.Name})
	}
	encodedKey, err := encodeKey(nil, key)
	if err != nil {
		return nil, err
	}

	existing, err := t.getExistingForWrite(encodedKey)
	if err != nil {
		return nil, err
	}
	if existing != nil && !opts.Overwrite {
		return nil, WithContext(ErrAlreadyExists, map[string]interface{}{
			"store": t.schema.Name,
			"key":   key,
		})
	}

	var revision uint64
	if existing != nil {
		revision = existing.envelope.Revision
	}
	if opts.ExpectedRevision > 0 && opts.ExpectedRevision != revision {
		return nil, WithContext(ErrConflict, map[string]interface{}{
			"store":    t.schema.Name,
			"key":      key,
			"expected": opts.ExpectedRevision,
			"actual":   revision,
		})
	}

	if err := t.updateIndexes(encodedKey, existing, canonical); err != nil {
		return nil, err
	}

	env := t.codec.Compress(payload)
	env.StoredAt = unixMillis(t.clock.Now())
	env.Revision = revision + 1

	raw, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	if err := t.records.Put(encodedKey, raw); err != nil {
		return nil, err
	}
	return key, nil
}

// getExistingForWrite loads the current record under encodedKey. A record
// that can no longer be decoded is reported with a nil record so the write
// replaces it.
func (t *Txn) getExistingForWrite(encodedKey []byte) (*storedRecord, error) {
	raw, err := t.records.Get(encodedKey)
	if err != nil || raw == nil {
		return nil, err
	}
	env, rec, err := t.decode(raw)
	if err != nil {
		t.logger.Warn("replacing undecodable record",
			"store", t.schema.Name,
			"error", err)
		return &storedRecord{key: encodedKey, envelope: env}, nil
	}
	return &storedRecord{key: encodedKey, envelope: env, record: rec}, nil
}

// Delete removes the record under key, reporting whether one existed.
func (t *Txn) Delete(key interface{}) (bool, error) {
	if err := t.requireWritable(); err != nil {
		return false, err
	}
	encoded, err := encodeKey(nil, key)
	if err != nil {
		return false, err
	}
	existing, err := t.getExistingForWrite(encoded)
	if err != nil || existing == nil {
		return false, err
	}
	if err := t.deleteStored(existing); err != nil {
		return false, err
	}
	return true, nil
}

func (t *Txn) deleteStored(stored *storedRecord) error {
	if err := t.removeIndexEntries(stored); err != nil {
		return err
	}
	return t.records.Delete(stored.key)
}

// Scan calls fn for every decodable record in key order. Records that
// cannot be decoded are skipped and logged. A scan stops with the context's
// error once the transaction's context is done.
func (t *Txn) Scan(fn func(Record) error) error {
	return t.scanRange(nil, nil, func(s *storedRecord) error {
		return fn(s.record)
	})
}

func (t *Txn) scanRange(start, end []byte, fn func(*storedRecord) error) error {
	return t.records.Scan(start, end, func(k, v []byte) error {
		if err := t.ctx.Err(); err != nil {
			return err
		}
		env, rec, err := t.decode(v)
		if err != nil {
			t.logger.Warn("skipping undecodable record",
				"store", t.schema.Name,
				"error", err)
			return nil
		}
		return fn(&storedRecord{key: append([]byte(nil), k...), envelope: env, record: rec})
	})
}

// scanAll visits every entry including undecodable ones, which are passed
// with a nil record and the decode error.
func (t *Txn) scanAll(fn func(s *storedRecord, decodeErr error) error) error {
	return t.records.Scan(nil, nil, func(k, v []byte) error {
		if err := t.ctx.Err(); err != nil {
			return err
		}
		env, rec, err := t.decode(v)
		return fn(&storedRecord{key: append([]byte(nil), k...), envelope: env, record: rec}, err)
	})
}

// Count returns the number of records Scan would visit. Undecodable
// records are not counted.
func (t *Txn) Count() (int, error) {
	n := 0
	err := t.scanRange(nil, nil, func(*storedRecord) error {
		n++
		return nil
	})
	return n, err
}

// Clear removes every record and index entry of the store.
func (t *Txn) Clear() error {
	if err := t.requireWritable(); err != nil {
		return err
	}
	for _, b := range t.indexes {
		if err := b.Clear(); err != nil {
			return err
		}
	}
	return t.records.Clear()
}

// expiry reports when a stored record expires, if ever.
func (t *Txn) expiry(s *storedRecord) (time.Time, bool) {
	var at time.Time
	var ok bool

	if t.schema.ExpiresAtPath != "" && s.record != nil {
		if v, found := lookupPath(s.record, t.schema.ExpiresAtPath); found {
			at, ok = parseExpiry(v)
		}
	}
	if t.schema.TTL > 0 && s.envelope.StoredAt > 0 {
		ttlAt := time.UnixMilli(s.envelope.StoredAt).Add(t.schema.TTL)
		if !ok || ttlAt.Before(at) {
			at, ok = ttlAt, true
		}
	}
	return at, ok
}

func parseExpiry(v interface{}) (time.Time, bool) {
	switch e := v.(type) {
	case float64:
		return time.UnixMilli(int64(e)), true
	case string:
		if ts, err := time.Parse(time.RFC3339, e); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}
