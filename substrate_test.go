package shelf

import (
	"context"
	"errors"
	"os"
	"testing"
)

// substrateFactories lists every shipped substrate so each behaviour is
// checked against both.
func substrateFactories() map[string]func(dir string) Substrate {
	return map[string]func(dir string) Substrate{
		"bbolt":  func(dir string) Substrate { return NewBoltSubstrate(dir) },
		"sqlite": func(dir string) Substrate { return NewSQLiteSubstrate(dir) },
	}
}

func openConn(t *testing.T, sub Substrate) Conn {
	t.Helper()
	conn, err := sub.Open(context.Background(), "test")
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestSubstrateVersionAndUpgrade(t *testing.T) {
	for name, factory := range substrateFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			conn := openConn(t, factory(t.TempDir()))

			v, err := conn.Version(ctx)
			if err != nil || v != 0 {
				t.Fatalf("fresh Version() = %d, %v; want 0", v, err)
			}

			err = conn.Upgrade(ctx, 2, func(tx Tx) error {
				created, err := tx.CreateBucket("store/chars")
				if err != nil || !created {
					t.Errorf("CreateBucket = %v, %v; want true", created, err)
				}
				created, err = tx.CreateBucket("store/chars")
				if err != nil || created {
					t.Errorf("second CreateBucket = %v, %v; want false", created, err)
				}
				return nil
			})
			if err != nil {
				t.Fatalf("Upgrade failed: %v", err)
			}

			if v, _ := conn.Version(ctx); v != 2 {
				t.Errorf("Version() = %d after upgrade, want 2", v)
			}
		})
	}
}

func TestSubstrateFailedUpgradeKeepsVersion(t *testing.T) {
	for name, factory := range substrateFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			conn := openConn(t, factory(t.TempDir()))

			boom := errors.New("boom")
			err := conn.Upgrade(ctx, 1, func(tx Tx) error {
				tx.CreateBucket("store/chars")
				return boom
			})
			if !errors.Is(err, boom) {
				t.Fatalf("expected upgrade error, got %v", err)
			}

			if v, _ := conn.Version(ctx); v != 0 {
				t.Errorf("Version() = %d after failed upgrade, want 0", v)
			}

			tx, err := conn.Begin(ctx, false)
			if err != nil {
				t.Fatalf("Begin failed: %v", err)
			}
			defer tx.Rollback()
			if _, err := tx.Bucket("store/chars"); !errors.Is(err, ErrBucketNotFound) {
				t.Errorf("bucket from rolled back upgrade exists: %v", err)
			}
		})
	}
}

func TestSubstrateBucketOperations(t *testing.T) {
	for name, factory := range substrateFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			conn := openConn(t, factory(t.TempDir()))

			if err := conn.Upgrade(ctx, 1, func(tx Tx) error {
				_, err := tx.CreateBucket("b")
				return err
			}); err != nil {
				t.Fatalf("upgrade: %v", err)
			}

			tx, err := conn.Begin(ctx, true)
			if err != nil {
				t.Fatalf("Begin failed: %v", err)
			}
			b, err := tx.Bucket("b")
			if err != nil {
				t.Fatalf("Bucket failed: %v", err)
			}
			for _, k := range []string{"c", "a", "d", "b"} {
				if err := b.Put([]byte(k), []byte("v-"+k)); err != nil {
					t.Fatalf("Put %s: %v", k, err)
				}
			}
			if err := tx.Commit(); err != nil {
				t.Fatalf("Commit: %v", err)
			}

			tx, _ = conn.Begin(ctx, true)
			defer tx.Rollback()
			b, _ = tx.Bucket("b")

			v, err := b.Get([]byte("a"))
			if err != nil || string(v) != "v-a" {
				t.Errorf("Get(a) = %q, %v", v, err)
			}
			if v, _ := b.Get([]byte("zz")); v != nil {
				t.Errorf("Get(missing) = %q, want nil", v)
			}

			var keys []string
			b.Scan([]byte("b"), []byte("d"), func(k, _ []byte) error {
				keys = append(keys, string(k))
				return nil
			})
			if len(keys) != 2 || keys[0] != "b" || keys[1] != "c" {
				t.Errorf("Scan[b,d) = %v, want [b c]", keys)
			}

			keys = nil
			b.Scan(nil, nil, func(k, _ []byte) error {
				keys = append(keys, string(k))
				if len(keys) == 3 {
					return errStopScan
				}
				return nil
			})
			if len(keys) != 3 || keys[0] != "a" {
				t.Errorf("stopped Scan = %v", keys)
			}

			if n, _ := b.Count(); n != 4 {
				t.Errorf("Count = %d, want 4", n)
			}
			if err := b.Delete([]byte("a")); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if err := b.Delete([]byte("missing")); err != nil {
				t.Errorf("Delete(missing) = %v, want nil", err)
			}
			if err := b.Clear(); err != nil {
				t.Fatalf("Clear: %v", err)
			}
			if n, _ := b.Count(); n != 0 {
				t.Errorf("Count after Clear = %d", n)
			}
		})
	}
}

func TestSubstrateSizeAccounting(t *testing.T) {
	for name, factory := range substrateFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			conn := openConn(t, factory(t.TempDir()))
			conn.Upgrade(ctx, 1, func(tx Tx) error {
				_, err := tx.CreateBucket("b")
				return err
			})

			write := func(fn func(Bucket) error) {
				t.Helper()
				tx, err := conn.Begin(ctx, true)
				if err != nil {
					t.Fatalf("Begin: %v", err)
				}
				b, _ := tx.Bucket("b")
				if err := fn(b); err != nil {
					tx.Rollback()
					t.Fatalf("write: %v", err)
				}
				if err := tx.Commit(); err != nil {
					t.Fatalf("Commit: %v", err)
				}
			}

			write(func(b Bucket) error { return b.Put([]byte("key"), make([]byte, 97)) })
			if used, _ := conn.Size(ctx); used != 100 {
				t.Errorf("Size = %d, want 100", used)
			}

			write(func(b Bucket) error { return b.Put([]byte("key"), make([]byte, 47)) })
			if used, _ := conn.Size(ctx); used != 50 {
				t.Errorf("Size after overwrite = %d, want 50", used)
			}

			write(func(b Bucket) error { return b.Delete([]byte("key")) })
			if used, _ := conn.Size(ctx); used != 0 {
				t.Errorf("Size after delete = %d, want 0", used)
			}
		})
	}
}

func TestSubstrateQuotaExceeded(t *testing.T) {
	subs := map[string]Substrate{
		"bbolt":  &BoltSubstrate{Dir: t.TempDir(), MaxBytes: 200},
		"sqlite": &SQLiteSubstrate{Dir: t.TempDir(), MaxBytes: 200},
	}
	for name, sub := range subs {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			conn := openConn(t, sub)
			conn.Upgrade(ctx, 1, func(tx Tx) error {
				_, err := tx.CreateBucket("b")
				return err
			})

			tx, _ := conn.Begin(ctx, true)
			defer tx.Rollback()
			b, _ := tx.Bucket("b")

			if err := b.Put([]byte("a"), make([]byte, 150)); err != nil {
				t.Fatalf("first Put: %v", err)
			}
			if err := b.Put([]byte("b"), make([]byte, 150)); !errors.Is(err, ErrQuotaExceeded) {
				t.Fatalf("expected ErrQuotaExceeded, got %v", err)
			}
			// Shrinking writes always succeed
			if err := b.Put([]byte("a"), make([]byte, 10)); err != nil {
				t.Errorf("shrinking Put failed: %v", err)
			}
		})
	}
}

func TestSubstrateRemove(t *testing.T) {
	dir := t.TempDir()
	sub := NewBoltSubstrate(dir)
	conn, err := sub.Open(context.Background(), "gone")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	conn.Close()

	if err := sub.Remove(context.Background(), "gone"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := os.Stat(sub.Path("gone")); !os.IsNotExist(err) {
		t.Errorf("database file still present: %v", err)
	}
	if err := sub.Remove(context.Background(), "gone"); err != nil {
		t.Errorf("Remove of missing database = %v, want nil", err)
	}
}
