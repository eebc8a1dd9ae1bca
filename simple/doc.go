// Package simple provides a high-level, batteries-included API for shelf.
//
// # Philosophy
//
// The Simple API is designed for rapid prototyping, demos, and applications that
// prioritize developer experience over fine-grained control. It provides:
//
//   - Store declarations derived from struct tags
//   - Type-safe CRUD operations using generics
//   - Sensible defaults for common use cases
//
// # Quick Start
//
// Create a struct with tags, declare its store and start storing data:
//
//	type User struct {
//	    ID    string `json:"id" sb:"id"`
//	    Email string `json:"email" sb:"index,unique"`
//	    Name  string `json:"name"`
//	}
//
//	db := simple.MustOpen(ctx, "app", []shelf.StoreSchema{simple.Schema[User]()})
//	defer db.Close()
//
//	users := simple.NewCollection[User](db)
//	user, err := users.Create(ctx, &User{
//	    Email: "alice@example.com",
//	    Name:  "Alice",
//	})
//
// # Struct Tags
//
//   - sb:"id" - Marks the ID field (defaults to field named "ID")
//   - sb:"index" - Declares an index named after the field's JSON name
//   - sb:"index,unique" - Same, rejecting a second item with an equal value
//   - sb:"expires" - The item is removed by cleanup once this time passes
//
// Indexes on slice fields match every element:
//
//	type Post struct {
//	    ID   string   `json:"id"`
//	    Tags []string `json:"tags" sb:"index"`
//	}
//
//	posts.Find(ctx, "tags", "go")
//
// # Configuration
//
//   - DATA_PATH: directory holding the database file (default: "./data")
//
// Use WithDataDir, WithSchemaVersion and WithConfig to override settings in
// code, and WithEngineOptions to attach a logger or metrics sink.
//
// # Schema Changes
//
// Adding a tagged index needs no migration: the index is filled from the
// stored items the next time the database opens at a higher schema version.
// Reshaping items is done with WithMigration:
//
//	db, err := simple.Open(ctx, "app", stores,
//	    simple.WithSchemaVersion(2),
//	    simple.WithMigration(1, func(b *shelf.MigrationBuilder) {
//	        b.RenameField("name", "display_name")
//	    }),
//	)
//
// # Dropping Down
//
// DB.Engine returns the core engine for backups, range queries and
// storage usage:
//
//	usage, err := db.Engine().GetStorageUsage(ctx)
package simple
