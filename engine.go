package shelf

import (
	"bytes"
	"context"
	"errors"
	"time"
)

// SaveOptions control Engine.Save.
type SaveOptions struct {
	// Overwrite replaces an existing record with the same key; without it
	// saving an existing key fails with ErrAlreadyExists.
	Overwrite bool

	// ExpectedRevision, when non-zero, makes the save fail with ErrConflict
	// unless the stored record's revision (see LoadWithRevision) matches.
	// 0 keeps last-write-wins.
	ExpectedRevision uint64
}

// Engine is a local, schema-versioned record store. Create one with New,
// then call Init before any other operation. All methods are safe for
// concurrent use.
type Engine struct {
	cfg       Config
	registry  *Registry
	substrate Substrate
	conns     *ConnectionManager
	codec     *Codec
	exec      *Executor
	governor  *Governor
	scheduler *Scheduler
	migrator  *Migrator
	estimator UsageEstimator
	events    EventBus
	clock     Clock
	logger    Logger
	metrics   Metrics

	algorithm    Algorithm
	algorithmSet bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithMetrics sets the metrics sink.
func WithMetrics(metrics Metrics) Option {
	return func(e *Engine) { e.metrics = metrics }
}

// WithEventBus sets the bus receiving storage:* events.
func WithEventBus(bus EventBus) Option {
	return func(e *Engine) { e.events = bus }
}

// WithEstimator replaces the substrate size estimator used by the quota
// governor and GetStorageUsage.
func WithEstimator(estimator UsageEstimator) Option {
	return func(e *Engine) { e.estimator = estimator }
}

// WithClock replaces the wall clock.
func WithClock(clock Clock) Option {
	return func(e *Engine) { e.clock = clock }
}

// WithSubstrate sets the storage substrate. The default is a BoltSubstrate
// in Config.DataDir bounded by Config.MaxQuotaBytes.
func WithSubstrate(substrate Substrate) Option {
	return func(e *Engine) { e.substrate = substrate }
}

// WithAlgorithm overrides the configured compression algorithm. nil stores
// every record uncompressed.
func WithAlgorithm(alg Algorithm) Option {
	return func(e *Engine) {
		e.algorithm = alg
		e.algorithmSet = true
	}
}

// WithMigrator sets the migration steps used on restore and upgrade.
func WithMigrator(m *Migrator) Option {
	return func(e *Engine) { e.migrator = m }
}

// New creates an engine for cfg. Store declarations are validated here;
// nothing is opened until Init.
func New(cfg Config, opts ...Option) (*Engine, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	registry := NewRegistry()
	for _, store := range cfg.Stores {
		if err := registry.Declare(store); err != nil {
			return nil, err
		}
	}

	e := &Engine{
		cfg:      cfg,
		registry: registry,
		clock:    SystemClock{},
		logger:   &NoOpLogger{},
		metrics:  &NoOpMetrics{},
		events:   NoOpEventBus{},
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.substrate == nil {
		bolt := NewBoltSubstrate(cfg.DataDir)
		bolt.MaxBytes = cfg.MaxQuotaBytes
		e.substrate = bolt
	}
	if e.migrator == nil {
		e.migrator = NewMigrator().WithClock(e.clock)
	}
	if !e.algorithmSet {
		e.algorithm = resolveAlgorithm(cfg, e.logger)
	}

	e.codec = NewCodec(cfg.CompressionThresholdBytes, e.algorithm, e.logger, e.metrics)
	e.conns = NewConnectionManager(e.substrate, registry, cfg, e.clock, e.logger, e.metrics)
	e.conns.OnUpgrade(e.upgrade)
	e.exec = NewExecutor(e.conns, registry, e.codec, e.clock, e.logger, e.metrics)
	e.scheduler = NewScheduler(e.exec, registry, cfg.CleanupInterval(), e.clock, e.events, e.logger, e.metrics)
	if e.estimator == nil {
		e.estimator = NewSubstrateEstimator(e.conns, cfg.MaxQuotaBytes, e.clock)
	}
	e.governor = NewGovernor(e.estimator, e.scheduler, cfg.HighWaterMark, e.logger, e.metrics)
	return e, nil
}

// Config returns the effective configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Registry returns the declared stores.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Migrator returns the migration steps.
func (e *Engine) Migrator() *Migrator {
	return e.migrator
}

// State returns the connection state.
func (e *Engine) State() ConnState {
	return e.conns.State()
}

// Init opens the database, upgrading it to Config.SchemaVersion, and starts
// the cleanup timer. Calling Init on an open engine does nothing.
func (e *Engine) Init(ctx context.Context) error {
	if e.conns.State() == StateOpen {
		return nil
	}
	if _, err := e.conns.Open(ctx); err != nil {
		e.logger.Error("failed to open database",
			"db", e.cfg.DBName,
			"error", err)
		e.emit(ErrorEvent("init"), map[string]interface{}{
			"db":    e.cfg.DBName,
			"error": err.Error(),
		})
		return err
	}

	e.scheduler.Start(context.WithoutCancel(ctx))

	e.logger.Info("database initialized",
		"db", e.cfg.DBName,
		"substrate", e.substrate.Name(),
		"version", e.cfg.SchemaVersion)
	e.emit(EventInitialized, map[string]interface{}{
		"db":      e.cfg.DBName,
		"version": e.cfg.SchemaVersion,
		"stores":  e.registry.ListStores(),
	})
	return nil
}

// upgrade runs inside the substrate's upgrade transaction. It fills newly
// created indexes from existing records and, when migration steps are
// registered for the version range, migrates every stored record.
func (e *Engine) upgrade(ctx context.Context, tx Tx, from, to int, created map[string][]IndexSchema) error {
	migrate := from > 0 && from < to && e.migrator.HasSteps(from, to)

	for _, store := range e.registry.ListStores() {
		if len(created[store]) == 0 && !migrate {
			continue
		}
		schema, err := e.registry.Lookup(store)
		if err != nil {
			return err
		}
		txn, err := e.exec.newTxn(ctx, schema, tx, ReadWrite)
		if err != nil {
			return err
		}

		if migrate {
			n, err := e.migrateStored(txn, from, to)
			if err != nil {
				return err
			}
			e.logger.Info("migrated stored records",
				"store", store,
				"from", from,
				"to", to,
				"records", n)
		}

		for _, idx := range created[store] {
			n, err := txn.rebuildIndex(idx)
			if err != nil {
				return err
			}
			if n > 0 {
				e.logger.Info("index backfilled",
					"store", store,
					"index", idx.Name,
					"entries", n)
			}
		}
	}
	return nil
}

func (e *Engine) migrateStored(txn *Txn, from, to int) (int, error) {
	var stored []*storedRecord
	if err := txn.scanRange(nil, nil, func(s *storedRecord) error {
		stored = append(stored, s)
		return nil
	}); err != nil {
		return 0, err
	}

	for _, s := range stored {
		migrated, err := e.migrator.MigrateRecord(s.record, from, to)
		if err != nil {
			return 0, WithContext(err, map[string]interface{}{"store": txn.schema.Name})
		}
		key, err := txn.Put(migrated, PutOptions{Overwrite: true})
		if err != nil {
			return 0, err
		}
		if encoded, _ := encodeKey(nil, key); !bytes.Equal(encoded, s.key) {
			if err := txn.deleteStored(s); err != nil {
				return 0, err
			}
		}
	}
	return len(stored), nil
}

// Save stores record and returns its key.
//
// When usage is at or above the high water mark one cleanup runs first. If
// the substrate still rejects the write with ErrQuotaExceeded and no
// cleanup ran yet, one cleanup runs and the save is retried once.
func (e *Engine) Save(ctx context.Context, store string, record Record, opts SaveOptions) (interface{}, error) {
	start := time.Now()
	key, err := e.save(ctx, store, record, opts)
	e.observe("save", store, start, err)
	if err != nil {
		e.emitError("save", store, err)
		return nil, err
	}
	e.emit(EventSaved, map[string]interface{}{
		"store": store,
		"key":   key,
	})
	return key, nil
}

func (e *Engine) save(ctx context.Context, store string, record Record, opts SaveOptions) (interface{}, error) {
	var key interface{}
	err := e.write(ctx, store, func(tx *Txn) error {
		var err error
		key, err = tx.Put(record, PutOptions{
			Overwrite:        opts.Overwrite,
			ExpectedRevision: opts.ExpectedRevision,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return key, nil
}

// write runs fn in a readwrite transaction on store under the quota policy
// described on Save. fn may run twice and must not carry state between
// runs.
func (e *Engine) write(ctx context.Context, store string, fn func(*Txn) error) error {
	if _, err := e.registry.Lookup(store); err != nil {
		return err
	}
	if _, err := e.conns.Conn(); err != nil {
		return err
	}

	swept := e.governor.BeforeSave(ctx)

	err := e.exec.PerformTransaction(ctx, store, ReadWrite, fn)
	if !errors.Is(err, ErrQuotaExceeded) {
		return err
	}
	e.metrics.Increment(MetricQuotaExceeded)
	if swept {
		return err
	}

	e.logger.Warn("storage quota exceeded, running cleanup and retrying",
		"store", store)
	if _, cerr := e.scheduler.Sweep(ctx); cerr != nil {
		e.logger.Warn("cleanup after quota error failed", "error", cerr)
	}
	return e.exec.PerformTransaction(ctx, store, ReadWrite, fn)
}

// Load returns the record stored under key, or nil when there is none.
func (e *Engine) Load(ctx context.Context, store string, key interface{}) (Record, error) {
	record, _, err := e.LoadWithRevision(ctx, store, key)
	return record, err
}

// LoadWithRevision returns the record and its revision token for use with
// SaveOptions.ExpectedRevision. The revision is 0 when there is no record.
func (e *Engine) LoadWithRevision(ctx context.Context, store string, key interface{}) (Record, uint64, error) {
	start := time.Now()
	var record Record
	var revision uint64
	err := e.exec.PerformTransaction(ctx, store, ReadOnly, func(tx *Txn) error {
		var err error
		record, revision, err = tx.GetWithRevision(key)
		return err
	})
	e.observe("load", store, start, err)
	if err != nil {
		e.emitError("load", store, err)
		return nil, 0, err
	}
	e.emit(EventLoaded, map[string]interface{}{
		"store": store,
		"key":   key,
		"found": record != nil,
	})
	return record, revision, nil
}

// Update shallow-merges partial into the record under key in one
// transaction under the same quota policy as Save. The key field always
// keeps its stored value. A missing record fails with ErrNotFound.
func (e *Engine) Update(ctx context.Context, store string, key interface{}, partial Record) (bool, error) {
	start := time.Now()
	err := e.write(ctx, store, func(tx *Txn) error {
		existing, _, err := tx.GetWithRevision(key)
		if err != nil {
			return err
		}
		if existing == nil {
			return WithContext(ErrNotFound, map[string]interface{}{
				"store": store,
				"key":   key,
			})
		}

		storedKey, _ := lookupPath(existing, tx.Schema().KeyPath)
		merged := cloneRecord(existing)
		for k, v := range partial {
			merged[k] = cloneValue(v)
		}
		if err := assignPath(merged, tx.Schema().KeyPath, storedKey); err != nil {
			return err
		}

		_, err = tx.Put(merged, PutOptions{Overwrite: true})
		return err
	})
	e.observe("update", store, start, err)
	if err != nil {
		e.emitError("update", store, err)
		return false, err
	}
	e.emit(EventUpdated, map[string]interface{}{
		"store": store,
		"key":   key,
	})
	return true, nil
}

// Delete removes the record under key and reports whether one existed.
func (e *Engine) Delete(ctx context.Context, store string, key interface{}) (bool, error) {
	start := time.Now()
	var deleted bool
	err := e.exec.PerformTransaction(ctx, store, ReadWrite, func(tx *Txn) error {
		var err error
		deleted, err = tx.Delete(key)
		return err
	})
	e.observe("delete", store, start, err)
	if err != nil {
		e.emitError("delete", store, err)
		return false, err
	}
	e.emit(EventDeleted, map[string]interface{}{
		"store":   store,
		"key":     key,
		"deleted": deleted,
	})
	return deleted, nil
}

// Count returns the number of records in store.
func (e *Engine) Count(ctx context.Context, store string) (int, error) {
	start := time.Now()
	var n int
	err := e.exec.PerformTransaction(ctx, store, ReadOnly, func(tx *Txn) error {
		var err error
		n, err = tx.Count()
		return err
	})
	e.observe("count", store, start, err)
	if err != nil {
		e.emitError("count", store, err)
		return 0, err
	}
	return n, nil
}

// Clear removes every record of store.
func (e *Engine) Clear(ctx context.Context, store string) (bool, error) {
	start := time.Now()
	err := e.exec.PerformTransaction(ctx, store, ReadWrite, func(tx *Txn) error {
		return tx.Clear()
	})
	e.observe("clear", store, start, err)
	if err != nil {
		e.emitError("clear", store, err)
		return false, err
	}
	e.emit(EventCleared, map[string]interface{}{"store": store})
	return true, nil
}

// GetStorageUsage samples the estimator.
func (e *Engine) GetStorageUsage(ctx context.Context) (StorageUsage, error) {
	sample, err := e.estimator.Estimate(ctx)
	if err != nil {
		return StorageUsage{}, err
	}
	return StorageUsage{
		UsedBytes:     sample.UsedBytes,
		CapacityBytes: sample.CapacityBytes,
		UsagePercent:  sample.UsagePercent(),
	}, nil
}

// Cleanup runs one sweep now.
func (e *Engine) Cleanup(ctx context.Context) (CleanupResult, error) {
	return e.scheduler.Sweep(ctx)
}

// MigrateData migrates records from version from to version to with the
// engine's migrator.
func (e *Engine) MigrateData(records []Record, from, to int) ([]Record, error) {
	return e.migrator.MigrateData(records, from, to)
}

// Close stops the cleanup timer and closes the database. The engine can be
// opened again with Init.
func (e *Engine) Close() error {
	e.scheduler.Stop()
	wasOpen := e.conns.State() == StateOpen
	if err := e.conns.Close(); err != nil {
		return err
	}
	if wasOpen {
		e.emit(EventClosed, map[string]interface{}{"db": e.cfg.DBName})
	}
	return nil
}

// DeleteDatabase closes the engine and removes the database from the
// substrate.
func (e *Engine) DeleteDatabase(ctx context.Context) error {
	if err := e.Close(); err != nil {
		return err
	}
	if err := e.substrate.Remove(ctx, e.cfg.DBName); err != nil {
		return err
	}
	e.logger.Info("database deleted", "db", e.cfg.DBName)
	return nil
}

func (e *Engine) observe(op, store string, start time.Time, err error) {
	e.metrics.Timing(MetricOperationDuration, time.Since(start), "operation", op, "store", store)
	if err != nil {
		e.metrics.Increment(MetricOperationError, "operation", op, "store", store)
		return
	}
	e.metrics.Increment(MetricOperationSuccess, "operation", op, "store", store)
}

func (e *Engine) emit(name string, data map[string]interface{}) {
	e.events.Emit(name, stampEvent(data, e.clock.Now()))
}

func (e *Engine) emitError(op, store string, err error) {
	e.logger.Debug("storage operation failed",
		"operation", op,
		"store", store,
		"error", err)
	e.emit(ErrorEvent(op), map[string]interface{}{
		"store": store,
		"error": err.Error(),
	})
}
