package shelf

import (
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"
	"github.com/jgraettinger/cockroach-encoding/encoding"
)

// Record is one structured value in a store. Nested objects decode as
// map[string]interface{}; both forms are accepted on the way in.
type Record map[string]interface{}

// NewID generates a UUIDv7 (time-ordered) identifier. Stores declared with
// AutoKey use it for records saved without a key.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// Fall back to UUIDv4 if NewV7 fails (extremely rare)
		id = uuid.New()
	}
	return id.String()
}

// IsValidID checks if a string is a valid UUID
func IsValidID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

func asMap(v interface{}) (map[string]interface{}, bool) {
	switch m := v.(type) {
	case Record:
		return m, true
	case map[string]interface{}:
		return m, true
	}
	return nil, false
}

// lookupPath resolves a dot separated key path such as "meta.id".
func lookupPath(r Record, path string) (interface{}, bool) {
	var current interface{} = map[string]interface{}(r)
	for _, part := range strings.Split(path, ".") {
		m, ok := asMap(current)
		if !ok {
			return nil, false
		}
		if current, ok = m[part]; !ok {
			return nil, false
		}
	}
	return current, true
}

// assignPath sets the value at path, creating intermediate objects.
func assignPath(r Record, path string, value interface{}) error {
	parts := strings.Split(path, ".")
	current := map[string]interface{}(r)
	for _, part := range parts[:len(parts)-1] {
		next, exists := current[part]
		if !exists {
			child := map[string]interface{}{}
			current[part] = child
			current = child
			continue
		}
		m, ok := asMap(next)
		if !ok {
			return fmt.Errorf("key path %q crosses non-object field %q", path, part)
		}
		current = m
	}
	current[parts[len(parts)-1]] = value
	return nil
}

// cloneValue deep copies maps and slices. Other values are shared.
func cloneValue(v interface{}) interface{} {
	switch t := v.(type) {
	case Record:
		return cloneRecord(t)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = cloneValue(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = cloneValue(val)
		}
		return out
	case []byte:
		return append([]byte(nil), t...)
	default:
		return v
	}
}

func cloneRecord(r Record) Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = cloneValue(v)
	}
	return out
}

// normalizeKey converts a key to its canonical form: strings stay strings and
// every numeric type becomes float64.
func normalizeKey(v interface{}) (interface{}, error) {
	switch k := v.(type) {
	case string:
		return k, nil
	case float64:
		if math.IsNaN(k) {
			return nil, WithContext(ErrInvalidKey, map[string]interface{}{"reason": "NaN key"})
		}
		return k, nil
	case float32:
		return normalizeKey(float64(k))
	case int:
		return float64(k), nil
	case int8:
		return float64(k), nil
	case int16:
		return float64(k), nil
	case int32:
		return float64(k), nil
	case int64:
		return float64(k), nil
	case uint:
		return float64(k), nil
	case uint8:
		return float64(k), nil
	case uint16:
		return float64(k), nil
	case uint32:
		return float64(k), nil
	case uint64:
		return float64(k), nil
	}
	return nil, WithContext(ErrInvalidKey, map[string]interface{}{
		"type": fmt.Sprintf("%T", v),
	})
}

// encodeKey appends the order preserving encoding of a key. Numbers sort
// before strings, and encodings are prefix free so they can be concatenated.
func encodeKey(b []byte, v interface{}) ([]byte, error) {
	k, err := normalizeKey(v)
	if err != nil {
		return nil, err
	}
	switch k := k.(type) {
	case float64:
		return encoding.EncodeFloatAscending(b, k), nil
	default:
		return encoding.EncodeStringAscending(b, k.(string)), nil
	}
}

// encodeIndexValue encodes an index value. Arrays on a non multi-entry
// index form a compound key of their elements, framed by null markers so
// that [a] is not a prefix of [a b].
func encodeIndexValue(b []byte, v interface{}) ([]byte, error) {
	if arr, ok := v.([]interface{}); ok {
		b = encoding.EncodeNullAscending(b)
		for _, elem := range arr {
			var err error
			if b, err = encodeKey(b, elem); err != nil {
				return nil, err
			}
		}
		return encoding.EncodeNullAscending(b), nil
	}
	return encodeKey(b, v)
}

// prefixEnd returns the smallest key greater than every key with prefix b.
func prefixEnd(b []byte) []byte {
	end := append([]byte(nil), b...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	// All bytes were 0xff: no upper bound.
	return nil
}
