package shelf

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS buckets (
	name TEXT PRIMARY KEY
) WITHOUT ROWID;

CREATE TABLE IF NOT EXISTS kv (
	bucket TEXT NOT NULL,
	key    BLOB NOT NULL,
	value  BLOB NOT NULL,
	PRIMARY KEY (bucket, key)
) WITHOUT ROWID;
`

// SQLiteSubstrate keeps each database in one SQLite file,
// <Dir>/<dbName>.sqlite, using a single ordered key-value table. The schema
// version lives in PRAGMA user_version.
type SQLiteSubstrate struct {
	Dir string

	// MaxBytes is the hard limit on stored key and value bytes. 0 disables it.
	MaxBytes int64
}

// NewSQLiteSubstrate creates a substrate storing databases under dir.
func NewSQLiteSubstrate(dir string) *SQLiteSubstrate {
	return &SQLiteSubstrate{Dir: dir}
}

func (s *SQLiteSubstrate) Name() string { return "sqlite" }

// Path returns the file backing dbName.
func (s *SQLiteSubstrate) Path(dbName string) string {
	return filepath.Join(s.Dir, dbName+".sqlite")
}

// Open creates or opens the database file and applies pragmas and the
// table layout. It is idempotent.
func (s *SQLiteSubstrate) Open(ctx context.Context, dbName string) (Conn, error) {
	if err := os.MkdirAll(s.Dir, DefaultDirPermissions); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	db, err := sql.Open("sqlite3", s.Path(dbName))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite allows one writer; a single connection also serializes readers
	// behind it, which keeps transactions free of SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &sqliteConn{db: db, maxBytes: s.MaxBytes}, nil
}

func (s *SQLiteSubstrate) Remove(ctx context.Context, dbName string) error {
	path := s.Path(dbName)
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

type sqliteConn struct {
	db       *sql.DB
	maxBytes int64
}

type sqlQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func storedBytes(ctx context.Context, q sqlQuerier, where string, args ...any) (int64, error) {
	var used int64
	err := q.QueryRowContext(ctx,
		"SELECT COALESCE(SUM(length(key) + length(value)), 0) FROM kv "+where, args...).Scan(&used)
	return used, err
}

func (c *sqliteConn) Version(ctx context.Context) (int, error) {
	var version int
	if err := c.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("get user_version: %w", err)
	}
	return version, nil
}

func (c *sqliteConn) Upgrade(ctx context.Context, version int, fn func(Tx) error) error {
	tx, err := c.Begin(ctx, true)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	st := tx.(*sqliteTx)
	if _, err := st.tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", version)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return tx.Commit()
}

// Begin checks ctx once; a started transaction runs to commit or rollback
// even if ctx is cancelled afterwards.
func (c *sqliteConn) Begin(ctx context.Context, writable bool) (Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ctx = context.WithoutCancel(ctx)

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}

	st := &sqliteTx{ctx: ctx, tx: tx, maxBytes: c.maxBytes}
	if writable && c.maxBytes > 0 {
		if st.used, err = storedBytes(ctx, tx, ""); err != nil {
			tx.Rollback()
			return nil, err
		}
	}
	return st, nil
}

func (c *sqliteConn) Size(ctx context.Context) (int64, error) {
	return storedBytes(ctx, c.db, "")
}

func (c *sqliteConn) Close() error {
	return c.db.Close()
}

type sqliteTx struct {
	ctx      context.Context
	tx       *sql.Tx
	maxBytes int64
	used     int64
	delta    int64
}

func (t *sqliteTx) CreateBucket(name string) (bool, error) {
	res, err := t.tx.ExecContext(t.ctx, "INSERT OR IGNORE INTO buckets (name) VALUES (?)", name)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (t *sqliteTx) Bucket(name string) (Bucket, error) {
	var found string
	err := t.tx.QueryRowContext(t.ctx, "SELECT name FROM buckets WHERE name = ?", name).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, WithContext(ErrBucketNotFound, map[string]interface{}{"bucket": name})
	} else if err != nil {
		return nil, err
	}
	return &sqliteBucket{name: name, tx: t}, nil
}

func (t *sqliteTx) Commit() error {
	return t.tx.Commit()
}

func (t *sqliteTx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

type sqliteBucket struct {
	name string
	tx   *sqliteTx
}

func (b *sqliteBucket) Get(key []byte) ([]byte, error) {
	var value []byte
	err := b.tx.tx.QueryRowContext(b.tx.ctx,
		"SELECT value FROM kv WHERE bucket = ? AND key = ?", b.name, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return value, err
}

func (b *sqliteBucket) Put(key, value []byte) error {
	growth := int64(len(key) + len(value))
	old, err := b.Get(key)
	if err != nil {
		return err
	}
	if old != nil {
		growth -= int64(len(key) + len(old))
	}

	if b.tx.maxBytes > 0 && growth > 0 && b.tx.used+b.tx.delta+growth > b.tx.maxBytes {
		return quotaExceeded(b.tx.used+b.tx.delta, b.tx.maxBytes)
	}
	if _, err := b.tx.tx.ExecContext(b.tx.ctx,
		"INSERT OR REPLACE INTO kv (bucket, key, value) VALUES (?, ?, ?)", b.name, key, value); err != nil {
		return err
	}
	b.tx.delta += growth
	return nil
}

func (b *sqliteBucket) Delete(key []byte) error {
	old, err := b.Get(key)
	if err != nil || old == nil {
		return err
	}
	if _, err := b.tx.tx.ExecContext(b.tx.ctx,
		"DELETE FROM kv WHERE bucket = ? AND key = ?", b.name, key); err != nil {
		return err
	}
	b.tx.delta -= int64(len(key) + len(old))
	return nil
}

// Scan reads the whole range before calling fn so the result set is closed
// before fn issues further statements on the transaction.
func (b *sqliteBucket) Scan(start, end []byte, fn func(key, value []byte) error) error {
	query := "SELECT key, value FROM kv WHERE bucket = ?"
	args := []any{b.name}
	if start != nil {
		query += " AND key >= ?"
		args = append(args, start)
	}
	if end != nil {
		query += " AND key < ?"
		args = append(args, end)
	}
	query += " ORDER BY key"

	rows, err := b.tx.tx.QueryContext(b.tx.ctx, query, args...)
	if err != nil {
		return err
	}

	type pair struct{ key, value []byte }
	var pairs []pair
	for rows.Next() {
		var p pair
		if err := rows.Scan(&p.key, &p.value); err != nil {
			rows.Close()
			return err
		}
		pairs = append(pairs, p)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for _, p := range pairs {
		if err := fn(p.key, p.value); err != nil {
			if errors.Is(err, errStopScan) {
				return nil
			}
			return err
		}
	}
	return nil
}

func (b *sqliteBucket) Count() (int, error) {
	var n int
	err := b.tx.tx.QueryRowContext(b.tx.ctx, "SELECT COUNT(*) FROM kv WHERE bucket = ?", b.name).Scan(&n)
	return n, err
}

func (b *sqliteBucket) Clear() error {
	size, err := storedBytes(b.tx.ctx, b.tx.tx, "WHERE bucket = ?", b.name)
	if err != nil {
		return err
	}
	if _, err := b.tx.tx.ExecContext(b.tx.ctx, "DELETE FROM kv WHERE bucket = ?", b.name); err != nil {
		return err
	}
	b.tx.delta -= size
	return nil
}
