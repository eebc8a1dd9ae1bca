package shelf

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// IndexSchema declares a secondary index on a store.
type IndexSchema struct {
	Name    string `yaml:"name" json:"name"`
	KeyPath string `yaml:"keyPath" json:"keyPath"`
	Unique  bool   `yaml:"unique" json:"unique"`
	// MultiEntry indexes every element of an array value separately.
	MultiEntry bool `yaml:"multiEntry" json:"multiEntry"`
}

// StoreSchema declares a named collection of records.
type StoreSchema struct {
	Name    string        `yaml:"name" json:"name"`
	KeyPath string        `yaml:"keyPath" json:"keyPath"`
	AutoKey bool          `yaml:"autoKey" json:"autoKey"`
	Indexes []IndexSchema `yaml:"indexes" json:"indexes"`

	// ExpiresAtPath names a field holding an expiry as unix milliseconds or
	// an RFC 3339 string. Cleanup removes records whose expiry has passed.
	ExpiresAtPath string `yaml:"expiresAtPath" json:"expiresAtPath"`

	// TTL expires records this long after they were last stored.
	TTL time.Duration `yaml:"ttl" json:"ttl"`
}

// Index returns the named index declaration.
func (s StoreSchema) Index(name string) (IndexSchema, bool) {
	for _, idx := range s.Indexes {
		if idx.Name == name {
			return idx, true
		}
	}
	return IndexSchema{}, false
}

func (s StoreSchema) validate() error {
	if s.Name == "" {
		return schemaError(s.Name, "store name must not be empty")
	}
	if s.KeyPath == "" {
		return schemaError(s.Name, "key path must not be empty")
	}
	if s.TTL < 0 {
		return schemaError(s.Name, "ttl must be non-negative")
	}
	seen := make(map[string]bool, len(s.Indexes))
	for _, idx := range s.Indexes {
		if idx.Name == "" || idx.KeyPath == "" {
			return schemaError(s.Name, "index name and key path must not be empty")
		}
		if seen[idx.Name] {
			return schemaError(s.Name, fmt.Sprintf("duplicate index %q", idx.Name))
		}
		seen[idx.Name] = true
	}
	return nil
}

func schemaError(store, reason string) error {
	return WithContext(ErrSchema, map[string]interface{}{
		"store":  store,
		"reason": reason,
	})
}

// Registry holds the declared stores of one database.
type Registry struct {
	mu     sync.RWMutex
	stores map[string]StoreSchema
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		stores: make(map[string]StoreSchema),
	}
}

// Declare adds a store. Redeclaring a store with the same key path merges
// any new indexes into it; changing the key path of a store, or the key
// path of one of its indexes, fails with ErrSchema.
func (r *Registry) Declare(schema StoreSchema) error {
	if err := schema.validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.stores[schema.Name]
	if !ok {
		schema.Indexes = append([]IndexSchema(nil), schema.Indexes...)
		r.stores[schema.Name] = schema
		return nil
	}

	if existing.KeyPath != schema.KeyPath {
		return WithContext(ErrSchema, map[string]interface{}{
			"store":    schema.Name,
			"declared": existing.KeyPath,
			"conflict": schema.KeyPath,
		})
	}

	merged := existing
	merged.Indexes = append([]IndexSchema(nil), existing.Indexes...)
	for _, idx := range schema.Indexes {
		current, found := existing.Index(idx.Name)
		if !found {
			merged.Indexes = append(merged.Indexes, idx)
			continue
		}
		if current != idx {
			return WithContext(ErrSchema, map[string]interface{}{
				"store": schema.Name,
				"index": idx.Name,
			})
		}
	}
	r.stores[schema.Name] = merged
	return nil
}

// Lookup returns the schema of a declared store.
func (r *Registry) Lookup(name string) (StoreSchema, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	schema, ok := r.stores[name]
	if !ok {
		return StoreSchema{}, WithContext(ErrStoreNotFound, map[string]interface{}{
			"store": name,
		})
	}
	return schema, nil
}

// ListStores returns the declared store names in sorted order.
func (r *Registry) ListStores() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.stores))
	for name := range r.stores {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func storeBucket(store string) string {
	return "store/" + store
}

func indexBucket(store, index string) string {
	return "index/" + store + "/" + index
}

// createBuckets creates the record bucket and every index bucket of each
// declared store. Buckets that already exist are left untouched; the indexes
// whose buckets were created by this call are returned per store so the
// caller can backfill them.
func (r *Registry) createBuckets(tx Tx) (map[string][]IndexSchema, error) {
	created := make(map[string][]IndexSchema)
	for _, name := range r.ListStores() {
		schema, err := r.Lookup(name)
		if err != nil {
			return nil, err
		}
		if _, err := tx.CreateBucket(storeBucket(name)); err != nil {
			return nil, fmt.Errorf("create store %s: %w", name, err)
		}
		for _, idx := range schema.Indexes {
			isNew, err := tx.CreateBucket(indexBucket(name, idx.Name))
			if err != nil {
				return nil, fmt.Errorf("create index %s.%s: %w", name, idx.Name, err)
			}
			if isNew {
				created[name] = append(created[name], idx)
			}
		}
	}
	return created, nil
}
