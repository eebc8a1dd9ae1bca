package shelf

import (
	"context"
	"errors"
	"testing"
)

func TestPerformTransactionUnknownStore(t *testing.T) {
	e, _, _ := newTestEngine(t, testConfig(t))

	called := false
	err := e.exec.PerformTransaction(context.Background(), "ghosts", ReadOnly, func(tx *Txn) error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrStoreNotFound) {
		t.Fatalf("expected ErrStoreNotFound, got %v", err)
	}
	if called {
		t.Error("operation must not run for an undeclared store")
	}
}

func TestPerformTransactionBeforeInit(t *testing.T) {
	e, err := New(testConfig(t), WithSubstrate(NewBoltSubstrate(t.TempDir())))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	err = e.exec.PerformTransaction(context.Background(), "characters", ReadOnly, func(tx *Txn) error {
		return nil
	})
	if !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
}

func TestPerformTransactionBeginFailure(t *testing.T) {
	e, sub, _, err := newFaultyEngine(t, testConfig(t), nil)
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	sub.set(func(f *faultySubstrate) { f.failBegin = true })

	_, err = e.Save(context.Background(), "characters", Record{"id": "c1"}, SaveOptions{})
	if !errors.Is(err, ErrTransaction) {
		t.Fatalf("expected ErrTransaction, got %v", err)
	}
	if !errors.Is(err, errInjected) {
		t.Errorf("cause should stay matchable, got %v", err)
	}
	if !IsRetryable(err) {
		t.Error("a failed begin should be retryable")
	}
}

func TestPerformTransactionCommitFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	e, sub, _, err := newFaultyEngine(t, testConfig(t), nil)
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	sub.set(func(f *faultySubstrate) { f.failCommit = true })

	_, err = e.Save(ctx, "characters", Record{"id": "c1", "name": "Ada"}, SaveOptions{})
	if !errors.Is(err, ErrTransactionAborted) {
		t.Fatalf("expected ErrTransactionAborted, got %v", err)
	}
	if !errors.Is(err, errInjected) {
		t.Errorf("cause should stay matchable, got %v", err)
	}

	sub.set(func(f *faultySubstrate) { f.failCommit = false })
	got, err := e.Load(ctx, "characters", "c1")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got != nil {
		t.Errorf("record from a failed commit is visible: %v", got)
	}
	n, _ := e.Count(ctx, "characters")
	if n != 0 {
		t.Errorf("Count() = %d, want 0", n)
	}
}

func TestPerformTransactionOperationErrorRollsBack(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newTestEngine(t, testConfig(t))
	mustSave(t, e, "characters", Record{"id": "keep", "name": "Keep"})

	boom := errors.New("boom")
	err := e.exec.PerformTransaction(ctx, "characters", ReadWrite, func(tx *Txn) error {
		if _, err := tx.Put(Record{"id": "c2", "name": "Grace"}, PutOptions{}); err != nil {
			return err
		}
		if _, err := tx.Delete("keep"); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, ErrTransactionAborted) || !errors.Is(err, boom) {
		t.Fatalf("expected aborted error wrapping boom, got %v", err)
	}

	if got, _ := e.Load(ctx, "characters", "c2"); got != nil {
		t.Errorf("write from aborted transaction is visible: %v", got)
	}
	if got, _ := e.Load(ctx, "characters", "keep"); got == nil {
		t.Error("delete from aborted transaction was applied")
	}
	byName, err := e.Query(ctx, "characters", QueryOptions{Index: "byName", Value: "Grace"})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(byName) != 0 {
		t.Errorf("index entry from aborted transaction is visible: %v", byName)
	}
}

func TestReadOnlyTransactionRejectsWrites(t *testing.T) {
	e, _, _ := newTestEngine(t, testConfig(t))
	mustSave(t, e, "characters", Record{"id": "c1"})

	writes := map[string]func(tx *Txn) error{
		"put": func(tx *Txn) error {
			_, err := tx.Put(Record{"id": "c2"}, PutOptions{})
			return err
		},
		"delete": func(tx *Txn) error {
			_, err := tx.Delete("c1")
			return err
		},
		"clear": func(tx *Txn) error {
			return tx.Clear()
		},
	}

	for name, write := range writes {
		t.Run(name, func(t *testing.T) {
			err := e.exec.PerformTransaction(context.Background(), "characters", ReadOnly, write)
			if !errors.Is(err, ErrTransaction) {
				t.Errorf("expected ErrTransaction, got %v", err)
			}
		})
	}

	if n, _ := e.Count(context.Background(), "characters"); n != 1 {
		t.Errorf("Count() = %d after rejected writes, want 1", n)
	}
}

func TestPutRequiresKey(t *testing.T) {
	e, _, _ := newTestEngine(t, testConfig(t))

	tests := []struct {
		name   string
		record Record
	}{
		{"missing key", Record{"name": "Ada"}},
		{"null key", Record{"id": nil}},
		{"object key", Record{"id": map[string]interface{}{"a": 1}}},
		{"bool key", Record{"id": true}},
		{"nil record", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Save(context.Background(), "characters", tt.record, SaveOptions{})
			if !errors.Is(err, ErrInvalidKey) {
				t.Errorf("expected ErrInvalidKey, got %v", err)
			}
		})
	}
}

func TestPutAssignsAutoKey(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newTestEngine(t, testConfig(t))

	input := Record{"characterId": "c1", "text": "hello"}
	key, err := e.Save(ctx, "chats", input, SaveOptions{})
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	id, ok := key.(string)
	if !ok || !IsValidID(id) {
		t.Fatalf("expected a generated UUID key, got %v", key)
	}
	if _, mutated := input["meta"]; mutated {
		t.Error("Save modified the caller's record")
	}

	got, err := e.Load(ctx, "chats", id)
	if err != nil || got == nil {
		t.Fatalf("Load(%s) = %v, %v", id, got, err)
	}
	meta, _ := got["meta"].(map[string]interface{})
	if meta["id"] != id {
		t.Errorf("stored meta.id = %v, want %s", meta["id"], id)
	}
}

func TestPutWithoutOverwrite(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newTestEngine(t, testConfig(t))

	if _, err := e.Save(ctx, "characters", Record{"id": "c1", "name": "Ada"}, SaveOptions{}); err != nil {
		t.Fatalf("first Save failed: %v", err)
	}
	_, err := e.Save(ctx, "characters", Record{"id": "c1", "name": "Grace"}, SaveOptions{})
	if !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}

	got, _ := e.Load(ctx, "characters", "c1")
	if got["name"] != "Ada" {
		t.Errorf("name = %v, want Ada", got["name"])
	}
}

func TestNumericKeysAreNormalized(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newTestEngine(t, testConfig(t))

	key := mustSave(t, e, "characters", Record{"id": 7, "name": "Seven"})
	if key != float64(7) {
		t.Errorf("key = %#v, want float64(7)", key)
	}

	for _, k := range []interface{}{7, int64(7), 7.0, uint8(7)} {
		got, err := e.Load(ctx, "characters", k)
		if err != nil || got == nil {
			t.Errorf("Load(%#v) = %v, %v", k, got, err)
		}
	}
	if got, _ := e.Load(ctx, "characters", "7"); got != nil {
		t.Error("string key \"7\" must not match numeric key 7")
	}
}

func TestUniqueIndexConstraint(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newTestEngine(t, testConfig(t))

	mustSave(t, e, "characters", Record{"id": "c1", "email": "ada@example.com"})

	_, err := e.Save(ctx, "characters", Record{"id": "c2", "email": "ada@example.com"}, SaveOptions{})
	if !errors.Is(err, ErrConstraint) {
		t.Fatalf("expected ErrConstraint, got %v", err)
	}
	if !IsPermanent(err) {
		t.Error("constraint violations are permanent")
	}
	if got, _ := e.Load(ctx, "characters", "c2"); got != nil {
		t.Error("record violating a unique index was stored")
	}

	// Rewriting the owner of the value is fine.
	mustSave(t, e, "characters", Record{"id": "c1", "email": "ada@example.com", "name": "Ada"})

	// Once the owner moves away the value is free again.
	mustSave(t, e, "characters", Record{"id": "c1", "email": "lovelace@example.com"})
	mustSave(t, e, "characters", Record{"id": "c2", "email": "ada@example.com"})
}

func TestExpectedRevision(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newTestEngine(t, testConfig(t))

	mustSave(t, e, "characters", Record{"id": "c1", "hp": 10.0})
	_, rev, err := e.LoadWithRevision(ctx, "characters", "c1")
	if err != nil || rev != 1 {
		t.Fatalf("LoadWithRevision = %d, %v; want revision 1", rev, err)
	}

	_, err = e.Save(ctx, "characters", Record{"id": "c1", "hp": 9.0},
		SaveOptions{Overwrite: true, ExpectedRevision: rev})
	if err != nil {
		t.Fatalf("conditional save failed: %v", err)
	}

	_, err = e.Save(ctx, "characters", Record{"id": "c1", "hp": 8.0},
		SaveOptions{Overwrite: true, ExpectedRevision: rev})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for a stale revision, got %v", err)
	}

	got, rev, _ := e.LoadWithRevision(ctx, "characters", "c1")
	if got["hp"] != 9.0 || rev != 2 {
		t.Errorf("got hp=%v revision=%d, want hp=9 revision=2", got["hp"], rev)
	}
}

func TestIndexEntriesFollowWrites(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newTestEngine(t, testConfig(t))

	mustSave(t, e, "characters", Record{"id": "c1", "name": "Ada", "tags": []interface{}{"math", "poet"}})
	mustSave(t, e, "characters", Record{"id": "c1", "name": "Grace", "tags": []interface{}{"navy"}})

	query := func(index string, value interface{}) int {
		t.Helper()
		records, err := e.Query(ctx, "characters", QueryOptions{Index: index, Value: value})
		if err != nil {
			t.Fatalf("Query(%s=%v) failed: %v", index, value, err)
		}
		return len(records)
	}

	if n := query("byName", "Ada"); n != 0 {
		t.Errorf("stale byName entry: %d matches for Ada", n)
	}
	if n := query("byName", "Grace"); n != 1 {
		t.Errorf("byName Grace = %d matches, want 1", n)
	}
	if n := query("byTag", "math"); n != 0 {
		t.Errorf("stale byTag entry: %d matches for math", n)
	}

	if _, err := e.Delete(ctx, "characters", "c1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if n := query("byName", "Grace"); n != 0 {
		t.Errorf("index entry survived delete: %d matches", n)
	}
	if n := query("byTag", "navy"); n != 0 {
		t.Errorf("multi-entry index entry survived delete: %d matches", n)
	}
}

func TestClearRemovesIndexEntries(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newTestEngine(t, testConfig(t))

	mustSave(t, e, "characters", Record{"id": "c1", "email": "ada@example.com"})
	if _, err := e.Clear(ctx, "characters"); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}

	// The unique value must be free again after clearing.
	if _, err := e.Save(ctx, "characters", Record{"id": "c2", "email": "ada@example.com"}, SaveOptions{}); err != nil {
		t.Fatalf("Save after Clear failed: %v", err)
	}
}

func TestScanStopsWhenContextIsDone(t *testing.T) {
	e, _, _ := newTestEngine(t, testConfig(t))
	seedCharacters(t, e)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	visited := 0
	err := e.exec.PerformTransaction(ctx, "characters", ReadOnly, func(tx *Txn) error {
		return tx.Scan(func(Record) error {
			visited++
			cancel()
			return nil
		})
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if visited != 1 {
		t.Errorf("visited %d records after cancel, want 1", visited)
	}
}

func TestTxModeString(t *testing.T) {
	if ReadOnly.String() != "readonly" || ReadWrite.String() != "readwrite" {
		t.Errorf("unexpected mode names %q %q", ReadOnly, ReadWrite)
	}
}
