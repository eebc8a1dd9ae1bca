package shelf

import (
	"context"
	"errors"
)

// Substrate is the embedded transactional key-value store records are
// persisted into. It guarantees that one committed transaction is durable
// and atomic; everything else is layered on top by the engine.
//
// Two implementations ship with the package: BoltSubstrate (default) and
// SQLiteSubstrate.
type Substrate interface {
	// Name identifies the substrate in logs and metrics.
	Name() string

	// Open opens the named database, creating it when absent.
	Open(ctx context.Context, dbName string) (Conn, error)

	// Remove deletes the named database. It must not be open.
	Remove(ctx context.Context, dbName string) error
}

// Conn is an open database.
type Conn interface {
	// Version is the schema version recorded by the last upgrade, 0 for a
	// freshly created database.
	Version(ctx context.Context) (int, error)

	// Upgrade runs fn in one read-write transaction and records version when
	// it commits.
	Upgrade(ctx context.Context, version int, fn func(Tx) error) error

	// Begin starts a transaction. Read-only transactions may run concurrently.
	Begin(ctx context.Context, writable bool) (Tx, error)

	// Size reports the bytes of keys and values currently stored.
	Size(ctx context.Context) (int64, error)

	Close() error
}

// Tx is one substrate transaction. Exactly one of Commit or Rollback must be
// called; Rollback after Commit is a no-op.
type Tx interface {
	// CreateBucket creates a bucket, reporting false if it already existed.
	CreateBucket(name string) (bool, error)

	// Bucket returns an existing bucket or ErrBucketNotFound.
	Bucket(name string) (Bucket, error)

	Commit() error
	Rollback() error
}

// Bucket is an ordered map of byte keys to byte values. Keys compare
// bytewise.
type Bucket interface {
	// Get returns the value for key or nil if absent. The slice is only
	// valid for the life of the transaction.
	Get(key []byte) ([]byte, error)

	// Put stores value under key. It fails with ErrQuotaExceeded when the
	// write would grow the database past its configured limit.
	Put(key, value []byte) error

	Delete(key []byte) error

	// Scan calls fn for each key in [start, end) in order. A nil start or end
	// leaves that side unbounded. fn must not modify the bucket; returning
	// errStopScan ends the scan without error.
	Scan(start, end []byte, fn func(key, value []byte) error) error

	Count() (int, error)

	// Clear removes every key.
	Clear() error
}

// ErrBucketNotFound is returned by Tx.Bucket for undeclared buckets.
var ErrBucketNotFound = errors.New("bucket not found")

var errStopScan = errors.New("stop scan")

// quotaExceeded builds the error a substrate returns when a write would
// push the database past limit bytes.
func quotaExceeded(used, limit int64) error {
	return WithContext(ErrQuotaExceeded, map[string]interface{}{
		"usedBytes":  used,
		"limitBytes": limit,
	})
}
