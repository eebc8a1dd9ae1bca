package shelf

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newTestEngine(t, testConfig(t))

	record := Record{
		"id":      "c1",
		"name":    "Seraphina",
		"level":   12.0,
		"active":  true,
		"tags":    []interface{}{"mage", "healer"},
		"stats":   map[string]interface{}{"hp": 40.0, "mp": 95.5},
		"bio":     "héllo wörld 🚀",
		"nothing": nil,
	}
	key, err := e.Save(ctx, "characters", record, SaveOptions{})
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if key != "c1" {
		t.Errorf("Save returned key %v, want c1", key)
	}

	got, err := e.Load(ctx, "characters", "c1")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !reflect.DeepEqual(got, record) {
		t.Errorf("Load returned %v\nwant %v", got, record)
	}
}

func TestSaveLoadCompressedRecord(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.CompressionThresholdBytes = 64
	metrics := NewInMemoryMetrics()
	e, _, _ := newTestEngine(t, cfg, WithMetrics(metrics))

	record := Record{"id": "c1", "bio": strings.Repeat("a long and repetitive backstory ", 50)}
	mustSave(t, e, "characters", record)

	got, err := e.Load(ctx, "characters", "c1")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !reflect.DeepEqual(got, record) {
		t.Error("compressed record did not round trip")
	}
	if metrics.Counter(MetricCodecCompressed) != 1 {
		t.Errorf("expected one compressed payload, got %d", metrics.Counter(MetricCodecCompressed))
	}
}

func TestLoadMissingRecord(t *testing.T) {
	e, _, events := newTestEngine(t, testConfig(t))

	got, err := e.Load(context.Background(), "characters", "nobody")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for a missing record, got %v", got)
	}

	loaded := events.Named(EventLoaded)
	if len(loaded) != 1 || loaded[0].Data["found"] != false {
		t.Errorf("expected one loaded event with found=false, got %v", loaded)
	}
}

func TestDeleteRecord(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newTestEngine(t, testConfig(t))
	mustSave(t, e, "characters", Record{"id": "c1"})

	deleted, err := e.Delete(ctx, "characters", "c1")
	if err != nil || !deleted {
		t.Fatalf("Delete = %v, %v; want true", deleted, err)
	}
	if got, _ := e.Load(ctx, "characters", "c1"); got != nil {
		t.Errorf("record still present after delete: %v", got)
	}

	deleted, err = e.Delete(ctx, "characters", "c1")
	if err != nil || deleted {
		t.Errorf("second Delete = %v, %v; want false", deleted, err)
	}
}

func TestCountAndClear(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newTestEngine(t, testConfig(t))

	for i := 0; i < 5; i++ {
		mustSave(t, e, "characters", Record{"id": fmt.Sprintf("c%d", i)})
	}
	mustSave(t, e, "chats", Record{"characterId": "c1"})

	if n, err := e.Count(ctx, "characters"); err != nil || n != 5 {
		t.Fatalf("Count = %d, %v; want 5", n, err)
	}

	cleared, err := e.Clear(ctx, "characters")
	if err != nil || !cleared {
		t.Fatalf("Clear = %v, %v", cleared, err)
	}
	if n, _ := e.Count(ctx, "characters"); n != 0 {
		t.Errorf("Count after Clear = %d, want 0", n)
	}
	all, err := e.GetAll(ctx, "characters")
	if err != nil || len(all) != 0 {
		t.Errorf("GetAll after Clear = %v, %v", all, err)
	}
	if n, _ := e.Count(ctx, "chats"); n != 1 {
		t.Errorf("Clear touched another store: chats count = %d", n)
	}
}

func TestOverwriteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newTestEngine(t, testConfig(t))

	record := Record{"id": "c1", "name": "Ada", "tags": []interface{}{"math"}}
	mustSave(t, e, "characters", record)
	mustSave(t, e, "characters", record)

	if n, _ := e.Count(ctx, "characters"); n != 1 {
		t.Errorf("Count = %d, want 1", n)
	}
	got, _ := e.Load(ctx, "characters", "c1")
	if !reflect.DeepEqual(got, record) {
		t.Errorf("got %v, want %v", got, record)
	}
	byTag, _ := e.Query(ctx, "characters", QueryOptions{Index: "byTag", Value: "math"})
	if len(byTag) != 1 {
		t.Errorf("byTag matches = %d, want 1", len(byTag))
	}
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	e, _, events := newTestEngine(t, testConfig(t))
	mustSave(t, e, "characters", Record{"id": "c1", "name": "Ada", "level": 1.0})

	ok, err := e.Update(ctx, "characters", "c1", Record{"level": 2.0, "id": "hijacked"})
	if err != nil || !ok {
		t.Fatalf("Update = %v, %v", ok, err)
	}

	got, _ := e.Load(ctx, "characters", "c1")
	want := Record{"id": "c1", "name": "Ada", "level": 2.0}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, _ := e.Load(ctx, "characters", "hijacked"); got != nil {
		t.Error("Update must not move the record to a new key")
	}
	if len(events.Named(EventUpdated)) != 1 {
		t.Errorf("expected one updated event")
	}
}

func TestUpdateMissingRecord(t *testing.T) {
	e, _, events := newTestEngine(t, testConfig(t))

	ok, err := e.Update(context.Background(), "characters", "ghost", Record{"name": "x"})
	if !IsNotFound(err) {
		t.Fatalf("expected a not found error, got %v", err)
	}
	if ok {
		t.Error("Update reported success for a missing record")
	}
	if len(events.Named(ErrorEvent("update"))) != 1 {
		t.Error("expected a storage:update-error event")
	}
}

func TestOperationsOnUndeclaredStore(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newTestEngine(t, testConfig(t))

	ops := map[string]func() error{
		"save": func() error { _, err := e.Save(ctx, "ghosts", Record{"id": "1"}, SaveOptions{}); return err },
		"load": func() error { _, err := e.Load(ctx, "ghosts", "1"); return err },
		"delete": func() error {
			_, err := e.Delete(ctx, "ghosts", "1")
			return err
		},
		"count": func() error { _, err := e.Count(ctx, "ghosts"); return err },
		"query": func() error { _, err := e.GetAll(ctx, "ghosts"); return err },
	}
	for name, op := range ops {
		t.Run(name, func(t *testing.T) {
			if err := op(); !errors.Is(err, ErrStoreNotFound) {
				t.Errorf("expected ErrStoreNotFound, got %v", err)
			}
		})
	}
}

func TestSaveBeforeInit(t *testing.T) {
	e, err := New(testConfig(t), WithSubstrate(NewBoltSubstrate(t.TempDir())))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	_, err = e.Save(context.Background(), "characters", Record{"id": "c1"}, SaveOptions{})
	if !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
}

func TestNewRejectsInvalidDeclarations(t *testing.T) {
	cfg := testConfig(t)
	cfg.HighWaterMark = 1.5
	if _, err := New(cfg); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}

	cfg = testConfig(t)
	cfg.Stores = append(cfg.Stores, StoreSchema{Name: "characters", KeyPath: "uuid"})
	if _, err := New(cfg); !errors.Is(err, ErrSchema) {
		t.Errorf("expected ErrSchema for a conflicting key path, got %v", err)
	}
}

func TestEventsAreStamped(t *testing.T) {
	ctx := context.Background()
	e, clock, events := newTestEngine(t, testConfig(t))

	if len(events.Named(EventInitialized)) != 1 {
		t.Fatalf("expected one initialized event, got %v", events.Events())
	}

	mustSave(t, e, "characters", Record{"id": "c1"})
	saved := events.Named(EventSaved)
	if len(saved) != 1 {
		t.Fatalf("expected one saved event, got %d", len(saved))
	}
	if saved[0].Data["store"] != "characters" || saved[0].Data["key"] != "c1" {
		t.Errorf("unexpected saved payload %v", saved[0].Data)
	}
	if saved[0].Data["timestamp"] != unixMillis(clock.Now()) {
		t.Errorf("timestamp = %v, want %d", saved[0].Data["timestamp"], unixMillis(clock.Now()))
	}

	_, err := e.Save(ctx, "characters", Record{"id": "c1"}, SaveOptions{})
	if err == nil {
		t.Fatal("expected duplicate save to fail")
	}
	failed := events.Named(ErrorEvent("save"))
	if len(failed) != 1 || failed[0].Data["error"] == "" {
		t.Errorf("expected one storage:save-error event, got %v", failed)
	}

	if err := e.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if len(events.Named(EventClosed)) != 1 {
		t.Error("expected a closed event")
	}
}

func TestInitRetriesWithLinearBackoff(t *testing.T) {
	e, sub, clock, err := newFaultyEngine(t, testConfig(t), func(f *faultySubstrate) {
		f.openFails = 2
	})
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if e.State() != StateOpen {
		t.Errorf("State() = %s, want open", e.State())
	}
	if sub.Opens() != 3 {
		t.Errorf("Open called %d times, want 3", sub.Opens())
	}
	want := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}
	if got := clock.Sleeps(); !reflect.DeepEqual(got, want) {
		t.Errorf("sleeps = %v, want %v", got, want)
	}
}

func TestInitGivesUpAfterMaxRetries(t *testing.T) {
	_, sub, clock, err := newFaultyEngine(t, testConfig(t), func(f *faultySubstrate) {
		f.openFails = 100
	})
	if !errors.Is(err, ErrConnection) {
		t.Fatalf("expected ErrConnection, got %v", err)
	}
	if !errors.Is(err, errInjected) {
		t.Errorf("last cause should stay matchable, got %v", err)
	}
	if !IsFatal(err) {
		t.Error("connection failures are fatal")
	}
	if sub.Opens() != DefaultMaxRetries+1 {
		t.Errorf("Open called %d times, want %d", sub.Opens(), DefaultMaxRetries+1)
	}
	want := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 30 * time.Millisecond}
	if got := clock.Sleeps(); !reflect.DeepEqual(got, want) {
		t.Errorf("sleeps = %v, want %v", got, want)
	}
}

func TestInitRejectsNewerStoredSchema(t *testing.T) {
	_, sub, clock, err := newFaultyEngine(t, testConfig(t), func(f *faultySubstrate) {
		f.openVersion = 5
	})
	if !errors.Is(err, ErrSchema) {
		t.Fatalf("expected ErrSchema, got %v", err)
	}
	if sub.Opens() != 1 {
		t.Errorf("schema conflicts must not be retried, Open called %d times", sub.Opens())
	}
	if len(clock.Sleeps()) != 0 {
		t.Errorf("unexpected backoff sleeps %v", clock.Sleeps())
	}
}

func TestInitFailureEmitsEvent(t *testing.T) {
	events := NewRecordingEventBus()
	sub := &faultySubstrate{Substrate: NewBoltSubstrate(t.TempDir()), openFails: 100}
	cfg := testConfig(t)
	cfg.MaxRetries = 0

	e, err := New(cfg, WithSubstrate(sub), WithClock(newFakeClock()), WithEventBus(events))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := e.Init(context.Background()); err == nil {
		t.Fatal("expected Init to fail")
	}
	if len(events.Named(ErrorEvent("init"))) != 1 {
		t.Errorf("expected a storage:init-error event, got %v", events.Events())
	}
	if e.State() != StateClosed {
		t.Errorf("State() = %s after failed Init, want closed", e.State())
	}
}

func TestReopenKeepsRecords(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newTestEngine(t, testConfig(t))
	mustSave(t, e, "characters", Record{"id": "c1", "name": "Ada"})

	if err := e.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := e.Load(ctx, "characters", "c1"); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("expected ErrNotInitialized on a closed engine, got %v", err)
	}
	if err := e.Init(ctx); err != nil {
		t.Fatalf("second Init failed: %v", err)
	}
	got, _ := e.Load(ctx, "characters", "c1")
	if got["name"] != "Ada" {
		t.Errorf("record lost across reopen: %v", got)
	}
}

// openVersioned opens an engine over dir declaring notes at version.
func openVersioned(t *testing.T, dir string, version int, store StoreSchema, opts ...Option) (*Engine, error) {
	t.Helper()
	cfg := DefaultConfig("notes")
	cfg.SchemaVersion = version
	cfg.Stores = []StoreSchema{store}

	base := []Option{WithSubstrate(NewBoltSubstrate(dir)), WithClock(newFakeClock())}
	e, err := New(cfg, append(base, opts...)...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e, e.Init(context.Background())
}

func TestUpgradeBackfillsIndexesAndMigratesRecords(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	v1, err := openVersioned(t, dir, 1, StoreSchema{Name: "notes", KeyPath: "id"})
	if err != nil {
		t.Fatalf("Init v1 failed: %v", err)
	}
	mustSave(t, v1, "notes", Record{"id": "n1", "content": "hello"})
	mustSave(t, v1, "notes", Record{"id": "n2", "content": "world"})
	v1.Close()

	migrator := NewMigrator()
	migrator.Step(1).RenameField("content", "body")
	v2, err := openVersioned(t, dir, 2, StoreSchema{
		Name:    "notes",
		KeyPath: "id",
		Indexes: []IndexSchema{{Name: "byBody", KeyPath: "body"}},
	}, WithMigrator(migrator))
	if err != nil {
		t.Fatalf("Init v2 failed: %v", err)
	}

	got, _ := v2.Load(ctx, "notes", "n1")
	if got["body"] != "hello" || got["version"] != 2.0 {
		t.Errorf("record not migrated: %v", got)
	}
	if _, stale := got["content"]; stale {
		t.Errorf("renamed field still present: %v", got)
	}

	matches, err := v2.Query(ctx, "notes", QueryOptions{Index: "byBody", Value: "world"})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(matches) != 1 || matches[0]["id"] != "n2" {
		t.Errorf("new index not backfilled: %v", matches)
	}
}

func TestUpgradeMigrationFailureIsNotRetried(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	v1, err := openVersioned(t, dir, 1, StoreSchema{Name: "notes", KeyPath: "id"})
	if err != nil {
		t.Fatalf("Init v1 failed: %v", err)
	}
	mustSave(t, v1, "notes", Record{"id": "n1", "content": "hello"})
	v1.Close()

	migrator := NewMigrator()
	migrator.Register(1, func(Record) (Record, error) {
		return nil, errors.New("cannot migrate")
	})
	sub := &faultySubstrate{Substrate: NewBoltSubstrate(dir)}
	_, err = openVersioned(t, dir, 2, StoreSchema{Name: "notes", KeyPath: "id"},
		WithMigrator(migrator), WithSubstrate(sub))
	if !errors.Is(err, ErrMigration) {
		t.Fatalf("expected ErrMigration, got %v", err)
	}
	if sub.Opens() != 1 {
		t.Errorf("migration failures must not be retried, Open called %d times", sub.Opens())
	}

	// The failed upgrade left the database at version 1.
	again, err := openVersioned(t, dir, 1, StoreSchema{Name: "notes", KeyPath: "id"})
	if err != nil {
		t.Fatalf("reopening at v1 failed: %v", err)
	}
	got, _ := again.Load(ctx, "notes", "n1")
	if got["content"] != "hello" {
		t.Errorf("record changed by failed upgrade: %v", got)
	}
}

func TestDowngradeIsRejected(t *testing.T) {
	dir := t.TempDir()
	store := StoreSchema{Name: "notes", KeyPath: "id"}

	v2, err := openVersioned(t, dir, 2, store)
	if err != nil {
		t.Fatalf("Init v2 failed: %v", err)
	}
	v2.Close()

	if _, err := openVersioned(t, dir, 1, store); !errors.Is(err, ErrSchema) {
		t.Fatalf("expected ErrSchema, got %v", err)
	}
}

func TestDeleteDatabase(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newTestEngine(t, testConfig(t))
	mustSave(t, e, "characters", Record{"id": "c1"})

	if err := e.DeleteDatabase(ctx); err != nil {
		t.Fatalf("DeleteDatabase failed: %v", err)
	}
	if e.State() != StateClosed {
		t.Errorf("State() = %s, want closed", e.State())
	}

	if err := e.Init(ctx); err != nil {
		t.Fatalf("Init after delete failed: %v", err)
	}
	if n, _ := e.Count(ctx, "characters"); n != 0 {
		t.Errorf("Count after DeleteDatabase = %d, want 0", n)
	}
}

// quotaEngine declares a sessions store with a one minute TTL on a
// substrate limited to 1000 bytes. One 400 byte session fits, two do not.
func quotaEngine(t *testing.T, highWater float64) (*Engine, *fakeClock, *RecordingEventBus) {
	t.Helper()
	cfg := DefaultConfig("quota")
	cfg.Stores = []StoreSchema{{Name: "sessions", KeyPath: "id", TTL: time.Minute}}
	cfg.MaxQuotaBytes = 1000
	cfg.HighWaterMark = highWater

	sub := NewBoltSubstrate(t.TempDir())
	sub.MaxBytes = cfg.MaxQuotaBytes
	return newTestEngine(t, cfg, WithSubstrate(sub))
}

func session(id string) Record {
	return Record{"id": id, "data": strings.Repeat("x", 400)}
}

func TestQuotaExceededRunsOneCleanupAndRetries(t *testing.T) {
	ctx := context.Background()
	e, clock, events := quotaEngine(t, 0.9)

	mustSave(t, e, "sessions", session("s1"))
	clock.Advance(2 * time.Minute)

	if _, err := e.Save(ctx, "sessions", session("s2"), SaveOptions{}); err != nil {
		t.Fatalf("Save after cleanup failed: %v", err)
	}

	completed := events.Named(EventCleanupCompleted)
	if len(completed) != 1 {
		t.Fatalf("expected exactly one cleanup, got %d", len(completed))
	}
	if completed[0].Data["cleaned"] != 1 {
		t.Errorf("cleaned = %v, want 1", completed[0].Data["cleaned"])
	}
	if got, _ := e.Load(ctx, "sessions", "s1"); got != nil {
		t.Error("expired session survived cleanup")
	}
	if got, _ := e.Load(ctx, "sessions", "s2"); got == nil {
		t.Error("retried save was not stored")
	}
}

func TestQuotaExceededAfterCleanupFails(t *testing.T) {
	ctx := context.Background()
	e, _, events := quotaEngine(t, 0.9)

	mustSave(t, e, "sessions", session("s1"))

	_, err := e.Save(ctx, "sessions", session("s2"), SaveOptions{})
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}
	if n := len(events.Named(EventCleanupCompleted)); n != 1 {
		t.Errorf("expected exactly one cleanup, got %d", n)
	}
	if len(events.Named(ErrorEvent("save"))) != 1 {
		t.Error("expected a storage:save-error event")
	}
	if got, _ := e.Load(ctx, "sessions", "s1"); got == nil {
		t.Error("live session was removed")
	}
}

func TestHighWaterCleanupIsNotRepeated(t *testing.T) {
	ctx := context.Background()
	e, _, events := quotaEngine(t, 0.5)

	mustSave(t, e, "sessions", session("s1"))
	if n := len(events.Named(EventCleanupCompleted)); n != 0 {
		t.Fatalf("cleanup ran below the high water mark (%d)", n)
	}

	_, err := e.Save(ctx, "sessions", session("s2"), SaveOptions{})
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}
	if n := len(events.Named(EventCleanupCompleted)); n != 1 {
		t.Errorf("expected exactly one cleanup per save, got %d", n)
	}
}

func TestUpdateQuotaExceededRunsCleanupAndRetries(t *testing.T) {
	ctx := context.Background()
	e, clock, events := quotaEngine(t, 0.99)

	mustSave(t, e, "sessions", session("s1"))
	clock.Advance(2 * time.Minute)
	mustSave(t, e, "sessions", Record{"id": "s2"})
	if n := len(events.Named(EventCleanupCompleted)); n != 0 {
		t.Fatalf("cleanup ran before the update (%d)", n)
	}

	if _, err := e.Update(ctx, "sessions", "s2", Record{"data": strings.Repeat("y", 600)}); err != nil {
		t.Fatalf("Update after cleanup failed: %v", err)
	}
	if n := len(events.Named(EventCleanupCompleted)); n != 1 {
		t.Fatalf("expected exactly one cleanup, got %d", n)
	}
	if got, _ := e.Load(ctx, "sessions", "s1"); got != nil {
		t.Error("expired session survived cleanup")
	}
	got, _ := e.Load(ctx, "sessions", "s2")
	if got == nil || len(got["data"].(string)) != 600 {
		t.Errorf("retried update was not stored: %v", got)
	}
}

func TestRestoreQuotaExceededRunsCleanupAndRetries(t *testing.T) {
	ctx := context.Background()
	e, clock, events := quotaEngine(t, 0.99)

	mustSave(t, e, "sessions", session("s1"))
	clock.Advance(2 * time.Minute)

	backup := &Backup{
		Version:   1,
		DBName:    "quota",
		DBVersion: 1,
		Data: map[string][]Record{
			"sessions": {{"id": "s2", "data": strings.Repeat("y", 600)}},
		},
	}
	result, err := e.RestoreBackup(ctx, backup, RestoreOptions{})
	if err != nil {
		t.Fatalf("RestoreBackup failed: %v", err)
	}
	if result != (RestoreResult{Restored: 1}) {
		t.Errorf("result = %+v, want 1 restored", result)
	}
	if n := len(events.Named(EventCleanupCompleted)); n != 1 {
		t.Fatalf("expected exactly one cleanup, got %d", n)
	}
	if got, _ := e.Load(ctx, "sessions", "s2"); got == nil {
		t.Error("restored session was not stored")
	}
}

func TestGetStorageUsage(t *testing.T) {
	ctx := context.Background()
	e, _, _ := quotaEngine(t, 0.9)

	usage, err := e.GetStorageUsage(ctx)
	if err != nil {
		t.Fatalf("GetStorageUsage failed: %v", err)
	}
	if usage.UsedBytes != 0 || usage.CapacityBytes != 1000 {
		t.Errorf("empty usage = %+v", usage)
	}

	mustSave(t, e, "sessions", session("s1"))
	usage, _ = e.GetStorageUsage(ctx)
	if usage.UsedBytes <= 400 || usage.UsagePercent <= 40 || usage.UsagePercent >= 100 {
		t.Errorf("usage after one session = %+v", usage)
	}

	e.Delete(ctx, "sessions", "s1")
	usage, _ = e.GetStorageUsage(ctx)
	if usage.UsedBytes != 0 {
		t.Errorf("usage after delete = %d bytes, want 0", usage.UsedBytes)
	}
}
