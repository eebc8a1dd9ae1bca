package shelf

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeClock is a Clock whose sleeps return immediately and advance time.
// Its tickers fire only from Advance.
type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	sleeps  []time.Duration
	tickers []*fakeTicker
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	c.mu.Unlock()
	return ctx.Err()
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)

	for _, tk := range c.tickers {
		for !tk.stopped && !tk.next.After(c.now) {
			select {
			case tk.ch <- tk.next:
			default:
			}
			tk.next = tk.next.Add(tk.interval)
		}
	}
}

func (c *fakeClock) NewTicker(d time.Duration) Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	tk := &fakeTicker{
		clock:    c,
		interval: d,
		next:     c.now.Add(d),
		ch:       make(chan time.Time, 1),
	}
	c.tickers = append(c.tickers, tk)
	return tk
}

// fakeTicker drops ticks while one is pending, like time.Ticker.
type fakeTicker struct {
	clock    *fakeClock
	interval time.Duration
	next     time.Time
	ch       chan time.Time
	stopped  bool
}

func (t *fakeTicker) C() <-chan time.Time { return t.ch }

func (t *fakeTicker) Stop() {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	t.stopped = true
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

var errInjected = errors.New("injected substrate failure")

// faultySubstrate wraps a substrate and fails selected calls.
type faultySubstrate struct {
	Substrate

	mu          sync.Mutex
	openFails   int // remaining Open calls to fail
	opens       int
	failBegin   bool
	failCommit  bool
	failClear   bool
	openVersion int // reported by Version when > 0
}

func (f *faultySubstrate) Open(ctx context.Context, dbName string) (Conn, error) {
	f.mu.Lock()
	f.opens++
	if f.openFails > 0 {
		f.openFails--
		f.mu.Unlock()
		return nil, errInjected
	}
	f.mu.Unlock()

	conn, err := f.Substrate.Open(ctx, dbName)
	if err != nil {
		return nil, err
	}
	return &faultyConn{Conn: conn, sub: f}, nil
}

func (f *faultySubstrate) Opens() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens
}

func (f *faultySubstrate) set(fn func(f *faultySubstrate)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

type faultyConn struct {
	Conn
	sub *faultySubstrate
}

func (c *faultyConn) Version(ctx context.Context) (int, error) {
	c.sub.mu.Lock()
	v := c.sub.openVersion
	c.sub.mu.Unlock()
	if v > 0 {
		return v, nil
	}
	return c.Conn.Version(ctx)
}

func (c *faultyConn) Begin(ctx context.Context, writable bool) (Tx, error) {
	c.sub.mu.Lock()
	failBegin, failCommit, failClear := c.sub.failBegin, c.sub.failCommit, c.sub.failClear
	c.sub.mu.Unlock()

	if failBegin {
		return nil, errInjected
	}
	tx, err := c.Conn.Begin(ctx, writable)
	if err != nil {
		return nil, err
	}
	if failCommit || failClear {
		return &faultyTx{Tx: tx, failCommit: failCommit, failClear: failClear}, nil
	}
	return tx, nil
}

type faultyTx struct {
	Tx
	failCommit bool
	failClear  bool
}

func (t *faultyTx) Commit() error {
	if !t.failCommit {
		return t.Tx.Commit()
	}
	t.Tx.Rollback()
	return errInjected
}

func (t *faultyTx) Bucket(name string) (Bucket, error) {
	b, err := t.Tx.Bucket(name)
	if err != nil || !t.failClear {
		return b, err
	}
	return faultyBucket{Bucket: b}, nil
}

type faultyBucket struct {
	Bucket
}

func (faultyBucket) Clear() error {
	return errInjected
}

var characterStore = StoreSchema{
	Name:    "characters",
	KeyPath: "id",
	Indexes: []IndexSchema{
		{Name: "byName", KeyPath: "name"},
		{Name: "byEmail", KeyPath: "email", Unique: true},
		{Name: "byTag", KeyPath: "tags", MultiEntry: true},
	},
}

var chatStore = StoreSchema{
	Name:    "chats",
	KeyPath: "meta.id",
	AutoKey: true,
	Indexes: []IndexSchema{
		{Name: "byCharacter", KeyPath: "characterId"},
	},
}

func testConfig(t *testing.T) Config {
	t.Helper()
	cfg := DefaultConfig("test")
	cfg.Stores = []StoreSchema{characterStore, chatStore}
	cfg.RetryDelayMs = 10
	return cfg
}

// newTestEngine creates an initialized engine on a bbolt file in a temp
// directory with a fake clock and a recording event bus.
func newTestEngine(t *testing.T, cfg Config, opts ...Option) (*Engine, *fakeClock, *RecordingEventBus) {
	t.Helper()
	clock := newFakeClock()
	events := NewRecordingEventBus()

	base := []Option{
		WithSubstrate(NewBoltSubstrate(t.TempDir())),
		WithClock(clock),
		WithEventBus(events),
	}
	e, err := New(cfg, append(base, opts...)...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := e.Init(context.Background()); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e, clock, events
}

func mustSave(t *testing.T, e *Engine, store string, r Record) interface{} {
	t.Helper()
	key, err := e.Save(context.Background(), store, r, SaveOptions{Overwrite: true})
	if err != nil {
		t.Fatalf("Save(%s) failed: %v", store, err)
	}
	return key
}

// newFaultyEngine creates an engine over a faultySubstrate prepared by setup
// and returns the Init error instead of failing the test.
func newFaultyEngine(t *testing.T, cfg Config, setup func(f *faultySubstrate)) (*Engine, *faultySubstrate, *fakeClock, error) {
	t.Helper()
	clock := newFakeClock()
	sub := &faultySubstrate{Substrate: NewBoltSubstrate(t.TempDir())}
	if setup != nil {
		setup(sub)
	}

	e, err := New(cfg, WithSubstrate(sub), WithClock(clock))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e, sub, clock, e.Init(context.Background())
}
