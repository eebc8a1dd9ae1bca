package shelf

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jgraettinger/cockroach-encoding/encoding"
	bolt "go.etcd.io/bbolt"
)

var (
	boltMetaBucket = []byte("_shelf_meta")
	boltVersionKey = []byte("version")
	boltUsedKey    = []byte("usedBytes")
)

// BoltSubstrate keeps each database in one bbolt file, <Dir>/<dbName>.db.
type BoltSubstrate struct {
	Dir string

	// MaxBytes is the hard limit on stored key and value bytes. Writes past
	// it fail with ErrQuotaExceeded. 0 disables the limit.
	MaxBytes int64

	// Timeout bounds how long Open waits for the file lock held by another
	// process.
	Timeout time.Duration
}

// NewBoltSubstrate creates a substrate storing databases under dir.
func NewBoltSubstrate(dir string) *BoltSubstrate {
	return &BoltSubstrate{
		Dir:     dir,
		Timeout: time.Second,
	}
}

func (s *BoltSubstrate) Name() string { return "bbolt" }

// Path returns the file backing dbName.
func (s *BoltSubstrate) Path(dbName string) string {
	return filepath.Join(s.Dir, dbName+".db")
}

func (s *BoltSubstrate) Open(ctx context.Context, dbName string) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(s.Dir, DefaultDirPermissions); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	db, err := bolt.Open(s.Path(dbName), DefaultFilePermissions, &bolt.Options{Timeout: s.Timeout})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", s.Path(dbName), err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(boltMetaBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("init meta bucket: %w", err)
	}

	return &boltConn{db: db, maxBytes: s.MaxBytes}, nil
}

func (s *BoltSubstrate) Remove(ctx context.Context, dbName string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Remove(s.Path(dbName)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

type boltConn struct {
	db       *bolt.DB
	maxBytes int64
}

func readMetaInt(tx *bolt.Tx, key []byte) (int64, error) {
	raw := tx.Bucket(boltMetaBucket).Get(key)
	if raw == nil {
		return 0, nil
	}
	_, v, err := encoding.DecodeVarintAscending(raw)
	return v, err
}

func writeMetaInt(tx *bolt.Tx, key []byte, v int64) error {
	return tx.Bucket(boltMetaBucket).Put(key, encoding.EncodeVarintAscending(nil, v))
}

func (c *boltConn) Version(ctx context.Context) (int, error) {
	var version int64
	err := c.db.View(func(tx *bolt.Tx) error {
		var err error
		version, err = readMetaInt(tx, boltVersionKey)
		return err
	})
	return int(version), err
}

func (c *boltConn) Upgrade(ctx context.Context, version int, fn func(Tx) error) error {
	tx, err := c.Begin(ctx, true)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := writeMetaInt(tx.(*boltTx).tx, boltVersionKey, int64(version)); err != nil {
		return err
	}
	return tx.Commit()
}

func (c *boltConn) Begin(ctx context.Context, writable bool) (Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tx, err := c.db.Begin(writable)
	if err != nil {
		return nil, err
	}

	used, err := readMetaInt(tx, boltUsedKey)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	return &boltTx{tx: tx, maxBytes: c.maxBytes, used: used}, nil
}

func (c *boltConn) Size(ctx context.Context) (int64, error) {
	var used int64
	err := c.db.View(func(tx *bolt.Tx) error {
		var err error
		used, err = readMetaInt(tx, boltUsedKey)
		return err
	})
	return used, err
}

func (c *boltConn) Close() error {
	return c.db.Close()
}

// boltTx tracks the change in stored bytes so the running total in the meta
// bucket stays exact without walking the file.
type boltTx struct {
	tx       *bolt.Tx
	maxBytes int64
	used     int64
	delta    int64
}

func (t *boltTx) CreateBucket(name string) (bool, error) {
	if t.tx.Bucket([]byte(name)) != nil {
		return false, nil
	}
	if _, err := t.tx.CreateBucket([]byte(name)); err != nil {
		return false, err
	}
	return true, nil
}

func (t *boltTx) Bucket(name string) (Bucket, error) {
	b := t.tx.Bucket([]byte(name))
	if b == nil {
		return nil, WithContext(ErrBucketNotFound, map[string]interface{}{"bucket": name})
	}
	return &boltBucket{bucket: b, tx: t}, nil
}

func (t *boltTx) Commit() error {
	if t.delta != 0 {
		if err := writeMetaInt(t.tx, boltUsedKey, t.used+t.delta); err != nil {
			t.tx.Rollback()
			return err
		}
	}
	return t.tx.Commit()
}

func (t *boltTx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, bolt.ErrTxClosed) {
		return err
	}
	return nil
}

type boltBucket struct {
	bucket *bolt.Bucket
	tx     *boltTx
}

func (b *boltBucket) Get(key []byte) ([]byte, error) {
	return b.bucket.Get(key), nil
}

func (b *boltBucket) Put(key, value []byte) error {
	growth := int64(len(key) + len(value))
	if old := b.bucket.Get(key); old != nil {
		growth -= int64(len(key) + len(old))
	}

	if b.tx.maxBytes > 0 && growth > 0 && b.tx.used+b.tx.delta+growth > b.tx.maxBytes {
		return quotaExceeded(b.tx.used+b.tx.delta, b.tx.maxBytes)
	}
	if err := b.bucket.Put(key, value); err != nil {
		return err
	}
	b.tx.delta += growth
	return nil
}

func (b *boltBucket) Delete(key []byte) error {
	old := b.bucket.Get(key)
	if old == nil {
		return nil
	}
	size := int64(len(key) + len(old))
	if err := b.bucket.Delete(key); err != nil {
		return err
	}
	b.tx.delta -= size
	return nil
}

func (b *boltBucket) Scan(start, end []byte, fn func(key, value []byte) error) error {
	c := b.bucket.Cursor()

	var k, v []byte
	if start == nil {
		k, v = c.First()
	} else {
		k, v = c.Seek(start)
	}

	for ; k != nil; k, v = c.Next() {
		if end != nil && bytes.Compare(k, end) >= 0 {
			break
		}
		if v == nil {
			continue // nested bucket
		}
		if err := fn(k, v); err != nil {
			if errors.Is(err, errStopScan) {
				return nil
			}
			return err
		}
	}
	return nil
}

func (b *boltBucket) Count() (int, error) {
	n := 0
	err := b.Scan(nil, nil, func(_, _ []byte) error {
		n++
		return nil
	})
	return n, err
}

func (b *boltBucket) Clear() error {
	var keys [][]byte
	if err := b.Scan(nil, nil, func(k, _ []byte) error {
		keys = append(keys, append([]byte(nil), k...))
		return nil
	}); err != nil {
		return err
	}
	for _, k := range keys {
		if err := b.Delete(k); err != nil {
			return err
		}
	}
	return nil
}
