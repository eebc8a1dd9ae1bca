package simple

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/adrianmcphee/shelf"
)

// maxAtomicAttempts bounds the optimistic retries of Collection.Atomic.
const maxAtomicAttempts = 5

// Collection provides type-safe CRUD operations for a specific entity type.
// It uses generics to eliminate boilerplate and provide compile-time safety.
//
// Example:
//
//	type User struct {
//	    ID    string `json:"id" sb:"id"`
//	    Email string `json:"email" sb:"index,unique"`
//	    Name  string `json:"name"`
//	}
//
//	db, _ := simple.Open(ctx, "app", []shelf.StoreSchema{simple.Schema[User]()})
//	users := simple.NewCollection[User](db)
//	user, err := users.Create(ctx, &User{Email: "alice@example.com", Name: "Alice"})
type Collection[T any] struct {
	db      *DB
	name    string
	idField string
}

// NewCollection creates a new type-safe collection.
// Collection name is inferred from type name (User -> "users").
// Override with explicit name: NewCollection[User](db, "customers").
// The store must have been declared when the database was opened.
func NewCollection[T any](db *DB, name ...string) *Collection[T] {
	info := parseModel[T]()
	collectionName := info.name
	if len(name) > 0 && name[0] != "" {
		collectionName = name[0]
	}
	return &Collection[T]{
		db:      db,
		name:    collectionName,
		idField: info.idField,
	}
}

// Name returns the store the collection reads and writes.
func (c *Collection[T]) Name() string {
	return c.name
}

// Create stores a new item and returns a copy with ID populated.
// This is IMMUTABLE - the input is not modified. Creating an item whose ID
// already exists fails with shelf.ErrAlreadyExists.
func (c *Collection[T]) Create(ctx context.Context, item *T) (*T, error) {
	if item == nil {
		return nil, fmt.Errorf("item cannot be nil")
	}

	created, err := c.copyItem(item)
	if err != nil {
		return nil, err
	}
	if c.getID(created) == "" {
		c.setID(created, shelf.NewID())
	}

	record, err := toRecord(created)
	if err != nil {
		return nil, err
	}
	if _, err := c.db.engine.Save(ctx, c.name, record, shelf.SaveOptions{}); err != nil {
		return nil, fmt.Errorf("failed to create: %w", err)
	}
	return created, nil
}

// Get retrieves an item by ID. A missing item fails with shelf.ErrNotFound.
func (c *Collection[T]) Get(ctx context.Context, id string) (*T, error) {
	if id == "" {
		return nil, fmt.Errorf("id cannot be empty")
	}

	record, err := c.db.engine.Load(ctx, c.name, id)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, c.notFound(id)
	}
	return fromRecord[T](record)
}

// Update replaces an existing item.
// The item must have an ID field set.
func (c *Collection[T]) Update(ctx context.Context, item *T) error {
	if item == nil {
		return fmt.Errorf("item cannot be nil")
	}
	id := c.getID(item)
	if id == "" {
		return fmt.Errorf("item must have ID set")
	}

	record, err := toRecord(item)
	if err != nil {
		return err
	}
	if _, err := c.db.engine.Save(ctx, c.name, record, shelf.SaveOptions{Overwrite: true}); err != nil {
		return fmt.Errorf("failed to update: %w", err)
	}
	return nil
}

// Delete removes an item by ID. Deleting a missing item is not an error.
func (c *Collection[T]) Delete(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("id cannot be empty")
	}
	if _, err := c.db.engine.Delete(ctx, c.name, id); err != nil {
		return fmt.Errorf("failed to delete: %w", err)
	}
	return nil
}

// Find queries by indexed field and returns all matching items in index
// order. The field must carry an `sb:"index"` tag.
//
// Example:
//
//	admins, err := users.Find(ctx, "role", "admin")
func (c *Collection[T]) Find(ctx context.Context, field string, value interface{}) ([]*T, error) {
	records, err := c.db.engine.Query(ctx, c.name, shelf.QueryOptions{Index: field, Value: value})
	if err != nil {
		return nil, err
	}
	return fromRecords[T](records)
}

// FindOne queries by indexed field and returns the first match.
// Returns shelf.ErrNotFound if no items match.
func (c *Collection[T]) FindOne(ctx context.Context, field string, value interface{}) (*T, error) {
	records, err := c.db.engine.Query(ctx, c.name, shelf.QueryOptions{Index: field, Value: value, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, shelf.WithContext(shelf.ErrNotFound, map[string]interface{}{
			"collection": c.name,
			"field":      field,
			"value":      value,
		})
	}
	return fromRecord[T](records[0])
}

// Atomic performs a read-modify-write of one item. The write fails if the
// item changed since it was read, in which case the cycle is retried with
// a fresh copy.
//
// Example:
//
//	err := accounts.Atomic(ctx, accountID, func(a *Account) error {
//	    a.Balance += 100
//	    return nil
//	})
func (c *Collection[T]) Atomic(ctx context.Context, id string, fn func(*T) error) error {
	if id == "" {
		return fmt.Errorf("id cannot be empty")
	}

	var err error
	for attempt := 1; attempt <= maxAtomicAttempts; attempt++ {
		err = c.atomicOnce(ctx, id, fn)
		if !shelf.IsConflict(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * time.Millisecond):
		}
	}
	return err
}

func (c *Collection[T]) atomicOnce(ctx context.Context, id string, fn func(*T) error) error {
	record, revision, err := c.db.engine.LoadWithRevision(ctx, c.name, id)
	if err != nil {
		return err
	}
	if record == nil {
		return c.notFound(id)
	}

	item, err := fromRecord[T](record)
	if err != nil {
		return err
	}
	if err := fn(item); err != nil {
		return err
	}
	c.setID(item, id)

	updated, err := toRecord(item)
	if err != nil {
		return err
	}
	_, err = c.db.engine.Save(ctx, c.name, updated, shelf.SaveOptions{
		Overwrite:        true,
		ExpectedRevision: revision,
	})
	return err
}

// All returns all items in the collection in ID order.
// WARNING: Loads everything into memory. Use with caution.
func (c *Collection[T]) All(ctx context.Context) ([]*T, error) {
	records, err := c.db.engine.GetAll(ctx, c.name)
	if err != nil {
		return nil, fmt.Errorf("failed to query all: %w", err)
	}
	return fromRecords[T](records)
}

// Each calls handler for every item in ID order. Return an error to stop
// iteration.
func (c *Collection[T]) Each(ctx context.Context, handler func(*T) error) error {
	records, err := c.db.engine.GetAll(ctx, c.name)
	if err != nil {
		return err
	}
	for _, record := range records {
		item, err := fromRecord[T](record)
		if err != nil {
			return err
		}
		if err := handler(item); err != nil {
			return err
		}
	}
	return nil
}

// Count returns the total number of items.
func (c *Collection[T]) Count(ctx context.Context) (int, error) {
	return c.db.engine.Count(ctx, c.name)
}

// Helper methods

func (c *Collection[T]) notFound(id string) error {
	return shelf.WithContext(shelf.ErrNotFound, map[string]interface{}{
		"collection": c.name,
		"id":         id,
	})
}

func (c *Collection[T]) getID(item *T) string {
	val := reflect.ValueOf(item).Elem()
	if val.Kind() != reflect.Struct {
		return ""
	}
	field := val.FieldByName(c.idField)
	if !field.IsValid() || field.Kind() != reflect.String {
		return ""
	}
	return field.String()
}

func (c *Collection[T]) setID(item *T, id string) {
	val := reflect.ValueOf(item).Elem()
	if val.Kind() != reflect.Struct {
		return
	}
	field := val.FieldByName(c.idField)
	if field.IsValid() && field.CanSet() && field.Kind() == reflect.String {
		field.SetString(id)
	}
}

func (c *Collection[T]) copyItem(item *T) (*T, error) {
	data, err := json.Marshal(item)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal item: %w", err)
	}
	var copy T
	if err := json.Unmarshal(data, &copy); err != nil {
		return nil, fmt.Errorf("failed to unmarshal item: %w", err)
	}
	return &copy, nil
}

func toRecord(item interface{}) (shelf.Record, error) {
	data, err := json.Marshal(item)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal item: %w", err)
	}
	var record shelf.Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("item must encode as a JSON object: %w", err)
	}
	return record, nil
}

func fromRecord[T any](record shelf.Record) (*T, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal record: %w", err)
	}
	var item T
	if err := json.Unmarshal(data, &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record: %w", err)
	}
	return &item, nil
}

func fromRecords[T any](records []shelf.Record) ([]*T, error) {
	items := make([]*T, 0, len(records))
	for _, record := range records {
		item, err := fromRecord[T](record)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

func getTypeName(v interface{}) string {
	t := reflect.TypeOf(v)
	if t == nil {
		return ""
	}
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

func pluralize(s string) string {
	lower := strings.ToLower(s)

	irregulars := map[string]string{
		"person": "people",
		"child":  "children",
		"goose":  "geese",
		"tooth":  "teeth",
		"foot":   "feet",
		"mouse":  "mice",
	}
	if plural, ok := irregulars[lower]; ok {
		return plural
	}

	// Words ending in 'y' (preceded by consonant) -> 'ies'
	if len(lower) > 1 && lower[len(lower)-1] == 'y' {
		if !isVowel(rune(lower[len(lower)-2])) {
			return lower[:len(lower)-1] + "ies"
		}
	}

	if strings.HasSuffix(lower, "s") || strings.HasSuffix(lower, "x") ||
		strings.HasSuffix(lower, "z") || strings.HasSuffix(lower, "ch") ||
		strings.HasSuffix(lower, "sh") {
		return lower + "es"
	}
	return lower + "s"
}

func isVowel(r rune) bool {
	return r == 'a' || r == 'e' || r == 'i' || r == 'o' || r == 'u'
}

func contains(slice []string, str string) bool {
	for _, s := range slice {
		if s == str {
			return true
		}
	}
	return false
}
