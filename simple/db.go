package simple

import (
	"context"
	"fmt"
	"os"

	"github.com/adrianmcphee/shelf"
)

// DB is the simple API entry point.
// It wraps a shelf.Engine opened with sensible defaults.
//
// Example:
//
//	db, err := simple.Open(ctx, "app", []shelf.StoreSchema{simple.Schema[User]()})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
type DB struct {
	engine *shelf.Engine
}

type options struct {
	cfg        shelf.Config
	engineOpts []shelf.Option
	migrator   *shelf.Migrator
}

// Option is a functional option for configuring Open.
type Option func(*options) error

// Open creates and initializes a database named name with the given
// stores.
//
// Environment variables:
//   - DATA_PATH: directory holding the database file (default: "./data")
//
// Migration steps must be registered with WithMigration before Open
// returns, since the stored records are upgraded during Open.
func Open(ctx context.Context, name string, stores []shelf.StoreSchema, opts ...Option) (*DB, error) {
	o := &options{
		cfg:      shelf.DefaultConfig(name),
		migrator: shelf.NewMigrator(),
	}
	o.cfg.Stores = stores
	o.cfg.DataDir = os.Getenv("DATA_PATH")
	if o.cfg.DataDir == "" {
		o.cfg.DataDir = "./data"
	}

	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}

	engine, err := shelf.New(o.cfg, append([]shelf.Option{shelf.WithMigrator(o.migrator)}, o.engineOpts...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}
	if err := engine.Init(ctx); err != nil {
		engine.Close()
		return nil, fmt.Errorf("failed to open %s: %w", name, err)
	}
	return &DB{engine: engine}, nil
}

// MustOpen is like Open but panics on error.
// Use this for demos, prototypes, and when failure should crash the app.
func MustOpen(ctx context.Context, name string, stores []shelf.StoreSchema, opts ...Option) *DB {
	db, err := Open(ctx, name, stores, opts...)
	if err != nil {
		panic(fmt.Sprintf("simple.MustOpen failed: %v", err))
	}
	return db
}

// Close stops the cleanup timer and closes the database.
func (db *DB) Close() error {
	return db.engine.Close()
}

// Engine returns the underlying engine.
// Use this to drop down to the core API when needed.
//
// Example:
//
//	backup, err := db.Engine().ExportBackup(ctx)
func (db *DB) Engine() *shelf.Engine {
	return db.engine
}

// Functional options

// WithDataDir sets the directory holding the database file.
func WithDataDir(dir string) Option {
	return func(o *options) error {
		o.cfg.DataDir = dir
		return nil
	}
}

// WithSchemaVersion sets the schema version the database is upgraded to.
func WithSchemaVersion(version int) Option {
	return func(o *options) error {
		if version < 1 {
			return fmt.Errorf("schema version must be >= 1, got %d", version)
		}
		o.cfg.SchemaVersion = version
		return nil
	}
}

// WithConfig lets fn adjust the full engine configuration.
func WithConfig(fn func(cfg *shelf.Config)) Option {
	return func(o *options) error {
		fn(&o.cfg)
		return nil
	}
}

// WithEngineOptions passes options such as a logger or metrics sink to
// shelf.New.
func WithEngineOptions(opts ...shelf.Option) Option {
	return func(o *options) error {
		o.engineOpts = append(o.engineOpts, opts...)
		return nil
	}
}
