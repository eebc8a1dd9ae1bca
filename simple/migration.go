package simple

import "github.com/adrianmcphee/shelf"

// WithMigration registers the step upgrading records from schema version
// from to from+1. Steps run while Open upgrades the stored records and
// when older backups are restored.
//
// Example:
//
//	db, err := simple.Open(ctx, "app", stores,
//	    simple.WithSchemaVersion(2),
//	    simple.WithMigration(1, func(b *shelf.MigrationBuilder) {
//	        b.Split("name", " ", "first_name", "last_name")
//	    }),
//	)
func WithMigration(from int, build func(b *shelf.MigrationBuilder)) Option {
	return func(o *options) error {
		build(o.migrator.Step(from))
		return nil
	}
}
