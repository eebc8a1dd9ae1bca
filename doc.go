// Package shelf is an embedded record store: named stores of JSON-like
// records with declared keys and secondary indexes, kept in a single local
// database file.
//
// # Overview
//
// An Engine owns one database. Its Config declares the stores, their key
// paths and indexes, and the policies applied on top of the substrate:
//
//   - Transactions: every operation runs in one readonly or readwrite
//     transaction scoped to one store, and a failure leaves nothing behind
//   - Connection retries with linear backoff while the database opens
//   - Size-gated compression of stored payloads (gzip or zstd)
//   - A storage quota with a high-water mark that triggers cleanup
//   - Periodic cleanup of expired and unreadable records
//   - Schema versions with per-record data migrations
//   - JSON backups that restore through the same migrations
//   - Prometheus metrics, zap logging and Redis event publishing
//
// # Quick Start
//
//	cfg := shelf.DefaultConfig("tavern")
//	cfg.Stores = []shelf.StoreSchema{{
//		Name:    "characters",
//		KeyPath: "id",
//		Indexes: []shelf.IndexSchema{
//			{Name: "byName", KeyPath: "name"},
//			{Name: "byTag", KeyPath: "tags", MultiEntry: true},
//		},
//	}}
//
//	engine, err := shelf.New(cfg)
//	if err != nil {
//		return err
//	}
//	if err := engine.Init(ctx); err != nil {
//		return err
//	}
//	defer engine.Close()
//
//	engine.Save(ctx, "characters", shelf.Record{"id": "a", "name": "Ada"}, shelf.SaveOptions{})
//	adas, _ := engine.Query(ctx, "characters", shelf.QueryOptions{Index: "byName", Value: "Ada"})
//
// Typed access through struct tags lives in the simple subpackage.
//
// # Substrates
//
// The default substrate is bbolt, one file per database under
// Config.DataDir. NewSQLiteSubstrate stores the same buckets in a SQLite
// file instead. Tests can wrap either through WithSubstrate.
//
// # Keys and indexes
//
// Keys are strings or numbers and sort numbers first. An array value on a
// plain index forms a compound index value. A unique index rejects a
// second record with the same value (ErrConstraint). A multi-entry index
// indexes each distinct element of an array value. CheckIndexes compares
// index buckets with the records they should point at and RepairIndexes
// rebuilds them.
//
// # Optimistic writes
//
//	record, rev, err := engine.LoadWithRevision(ctx, "accounts", "acc-1")
//	record["balance"] = record["balance"].(float64) + 10
//	_, err = engine.Save(ctx, "accounts", record, shelf.SaveOptions{
//		Overwrite:        true,
//		ExpectedRevision: rev,
//	})
//	if shelf.IsConflict(err) {
//		// somebody else wrote first; reload and try again
//	}
//
// # Migrations
//
// Raising Config.SchemaVersion runs the registered steps over every stored
// record when the database opens:
//
//	m := shelf.NewMigrator()
//	m.Step(1).AddField("currency", "EUR")
//	m.Step(2).RenameField("name", "displayName")
//	engine, err := shelf.New(cfg, shelf.WithMigrator(m))
//
// Without registered steps a version bump only stamps each record with its
// new version and migration time.
//
// # Quota and cleanup
//
// With MaxQuotaBytes set, a save that finds usage above the high-water mark
// runs one cleanup sweep first. A save that still fails with
// ErrQuotaExceeded sweeps once more and retries once. The Scheduler also
// sweeps every CleanupIntervalMs, removing records past their TTL or
// expiresAt field and records that can no longer be decoded.
//
// # Backups
//
//	data, err := engine.ExportBackup(ctx)
//	result, err := other.ImportBackup(ctx, bytes.NewReader(data), shelf.RestoreOptions{})
//
// ArchiveBackup and RestoreFromArchive move backups through an Archive:
// the local filesystem (afero), S3 or MinIO, or Google Cloud Storage,
// optionally wrapped in an EncryptedArchive.
//
// # Errors
//
// Errors wrap sentinel values and stay matchable with errors.Is:
//
//	if errors.Is(err, shelf.ErrStoreNotFound) { ... }
//	if shelf.IsRetryable(err) { ... }
//
// # Observability
//
// Engines log through the Logger interface (NewZapLogger adapts zap),
// count and time operations through Metrics (NewPrometheusMetrics) and
// emit storage:* events through an EventBus (NewRedisEventBus publishes
// them to a Redis channel).
package shelf
