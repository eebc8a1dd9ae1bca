package simple

import (
	"reflect"
	"strings"

	"github.com/adrianmcphee/shelf"
)

// modelInfo is what the `sb` struct tags of a model declare.
type modelInfo struct {
	name      string
	idField   string // Go field name
	keyPath   string // JSON name of the ID field
	expiresAt string
	indexes   []shelf.IndexSchema
}

// Schema derives the store declaration of T from its struct tags. Pass the
// result to Open.
//
// Supported `sb` tags:
//   - id: the field holding the record key (default: the field named ID)
//   - index: declares an index named after the field's JSON name;
//     add "unique" to reject duplicates. Slice fields are indexed per element.
//   - expires: the field holding an expiry time, see shelf.StoreSchema
//
// Example:
//
//	type Session struct {
//	    ID        string    `json:"id" sb:"id"`
//	    UserID    string    `json:"userId" sb:"index"`
//	    ExpiresAt time.Time `json:"expiresAt" sb:"expires"`
//	}
//
//	sessions := simple.Schema[Session]()  // store "sessions"
func Schema[T any](name ...string) shelf.StoreSchema {
	info := parseModel[T]()
	schema := shelf.StoreSchema{
		Name:          info.name,
		KeyPath:       info.keyPath,
		Indexes:       info.indexes,
		ExpiresAtPath: info.expiresAt,
	}
	if len(name) > 0 && name[0] != "" {
		schema.Name = name[0]
	}
	return schema
}

func parseModel[T any]() modelInfo {
	var t T
	info := modelInfo{
		name:    pluralize(getTypeName(t)),
		idField: "ID",
		keyPath: "id",
	}

	typ := reflect.TypeOf(t)
	if typ == nil {
		return info
	}
	if typ.Kind() == reflect.Ptr {
		typ = typ.Elem()
	}
	if typ.Kind() != reflect.Struct {
		return info
	}

	if field, ok := typ.FieldByName("ID"); ok {
		info.keyPath = jsonName(field)
	}

	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		tag := field.Tag.Get("sb")
		if tag == "" {
			continue
		}
		parts := strings.Split(tag, ",")

		if contains(parts, "id") {
			info.idField = field.Name
			info.keyPath = jsonName(field)
		}
		if contains(parts, "expires") {
			info.expiresAt = jsonName(field)
		}
		if contains(parts, "index") {
			name := jsonName(field)
			info.indexes = append(info.indexes, shelf.IndexSchema{
				Name:       name,
				KeyPath:    name,
				Unique:     contains(parts, "unique"),
				MultiEntry: field.Type.Kind() == reflect.Slice && field.Type.Elem().Kind() != reflect.Uint8,
			})
		}
	}
	return info
}

// jsonName returns the key encoding/json uses for field.
func jsonName(field reflect.StructField) string {
	name := field.Tag.Get("json")
	if idx := strings.Index(name, ","); idx >= 0 {
		name = name[:idx]
	}
	if name == "" || name == "-" {
		return field.Name
	}
	return name
}
