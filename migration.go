package shelf

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// MigrationStep transforms a record from schema version N to N+1.
//
// Steps receive a private deep copy of the record and may modify it in
// place. Returning a nil record is an error.
type MigrationStep func(record Record) (Record, error)

// Migrator holds the per-version migration steps of one database.
//
// Versions without a registered step use the default step, which sets the
// record's "version" field to the new version and stamps "migratedAt" with
// the current time in unix milliseconds.
//
// Example:
//
//	m := shelf.NewMigrator()
//	m.Step(1).RenameField("content", "body")
//	m.Step(2).AddField("tags", []interface{}{})
//	migrated, err := m.MigrateData(records, 1, 3)
type Migrator struct {
	mu    sync.RWMutex
	steps map[int]MigrationStep // fromVersion -> step to fromVersion+1
	clock Clock
}

// NewMigrator creates a migrator with no registered steps.
func NewMigrator() *Migrator {
	return &Migrator{
		steps: make(map[int]MigrationStep),
		clock: SystemClock{},
	}
}

// WithClock sets the clock used for migratedAt stamps.
func (m *Migrator) WithClock(clock Clock) *Migrator {
	m.clock = clock
	return m
}

// Register sets the step migrating records from version from to from+1,
// replacing any earlier registration.
func (m *Migrator) Register(from int, step MigrationStep) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps[from] = step
}

// HasSteps reports whether any version in [from, to) has a registered step.
func (m *Migrator) HasSteps(from, to int) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for v := from; v < to; v++ {
		if _, ok := m.steps[v]; ok {
			return true
		}
	}
	return false
}

func (m *Migrator) step(from int) MigrationStep {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if step, ok := m.steps[from]; ok {
		return step
	}
	return m.defaultStep(from + 1)
}

func (m *Migrator) defaultStep(to int) MigrationStep {
	return func(r Record) (Record, error) {
		m.stamp(r, to)
		return r, nil
	}
}

func (m *Migrator) stamp(r Record, to int) {
	r["version"] = to
	r["migratedAt"] = unixMillis(m.clock.Now())
}

// MigrateRecord applies the steps from version from up to version to. The
// input record is never modified. When from >= to the record is returned
// as is.
func (m *Migrator) MigrateRecord(record Record, from, to int) (Record, error) {
	if from >= to {
		return record, nil
	}

	current := record
	for v := from; v < to; v++ {
		next, err := m.step(v)(cloneRecord(current))
		if err == nil && next == nil {
			err = fmt.Errorf("step returned no record")
		}
		if err != nil {
			return nil, WithContext(fmt.Errorf("%w: %w", ErrMigration, err), map[string]interface{}{
				"from": v,
				"to":   v + 1,
			})
		}
		current = next
	}
	return current, nil
}

// MigrateData migrates every record from version from to version to and
// stops at the first failure. Records are returned in input order.
func (m *Migrator) MigrateData(records []Record, from, to int) ([]Record, error) {
	if from >= to {
		return records, nil
	}

	out := make([]Record, 0, len(records))
	for i, r := range records {
		migrated, err := m.MigrateRecord(r, from, to)
		if err != nil {
			return nil, WithContext(err, map[string]interface{}{"index": i})
		}
		out = append(out, migrated)
	}
	return out, nil
}

// MigrationBuilder composes field transformations into the step for one
// version. Every call replaces the registered step with the composition of
// all transformations added so far, and the composed step stamps the new
// version like the default step does.
type MigrationBuilder struct {
	migrator *Migrator
	from     int
	fns      []MigrationStep
}

// Step starts building the step that migrates version from to from+1.
func (m *Migrator) Step(from int) *MigrationBuilder {
	return &MigrationBuilder{migrator: m, from: from}
}

// Do adds a custom transformation.
func (b *MigrationBuilder) Do(fn MigrationStep) *MigrationBuilder {
	b.fns = append(b.fns, fn)

	fns := append([]MigrationStep(nil), b.fns...)
	to := b.from + 1
	m := b.migrator
	m.Register(b.from, func(r Record) (Record, error) {
		var err error
		for _, fn := range fns {
			if r, err = fn(r); err != nil {
				return nil, err
			}
			if r == nil {
				return nil, fmt.Errorf("step returned no record")
			}
		}
		m.stamp(r, to)
		return r, nil
	})
	return b
}

// StepTyped adds a transformation written against concrete types. The
// record is converted to From and the result back to a record through
// JSON.
//
//	type noteV1 struct{ ID, Content string }
//	type noteV2 struct{ ID, Body string }
//
//	shelf.StepTyped(m.Step(1), func(old noteV1) (noteV2, error) {
//	    return noteV2{ID: old.ID, Body: old.Content}, nil
//	})
func StepTyped[From any, To any](b *MigrationBuilder, migrateFn func(From) (To, error)) *MigrationBuilder {
	return b.Do(func(r Record) (Record, error) {
		in, err := json.Marshal(r)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal input: %w", err)
		}
		var old From
		if err := json.Unmarshal(in, &old); err != nil {
			return nil, fmt.Errorf("failed to unmarshal to source type: %w", err)
		}

		migrated, err := migrateFn(old)
		if err != nil {
			return nil, err
		}

		out, err := json.Marshal(migrated)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal result: %w", err)
		}
		var result Record
		if err := json.Unmarshal(out, &result); err != nil {
			return nil, fmt.Errorf("failed to unmarshal result: %w", err)
		}
		return result, nil
	})
}

// AddField sets field to defaultValue when the record does not have it.
func (b *MigrationBuilder) AddField(field string, defaultValue interface{}) *MigrationBuilder {
	return b.Do(func(r Record) (Record, error) {
		if _, exists := r[field]; !exists {
			r[field] = cloneValue(defaultValue)
		}
		return r, nil
	})
}

// RenameField moves the value of oldName to newName.
func (b *MigrationBuilder) RenameField(oldName, newName string) *MigrationBuilder {
	return b.Do(func(r Record) (Record, error) {
		if val, exists := r[oldName]; exists {
			r[newName] = val
			delete(r, oldName)
		}
		return r, nil
	})
}

// RemoveField drops field.
func (b *MigrationBuilder) RemoveField(field string) *MigrationBuilder {
	return b.Do(func(r Record) (Record, error) {
		delete(r, field)
		return r, nil
	})
}

// Split splits a string field by delimiter into targetFields. Missing parts
// become empty strings and the source field is removed.
//
//	m.Step(0).Split("name", " ", "firstName", "lastName")
//	// {"name": "Ada Lovelace"} -> {"firstName": "Ada", "lastName": "Lovelace"}
func (b *MigrationBuilder) Split(sourceField, delimiter string, targetFields ...string) *MigrationBuilder {
	return b.Do(func(r Record) (Record, error) {
		if val, ok := r[sourceField].(string); ok {
			parts := strings.SplitN(val, delimiter, len(targetFields))
			for i, field := range targetFields {
				if i < len(parts) {
					r[field] = parts[i]
				} else {
					r[field] = ""
				}
			}
			delete(r, sourceField)
		}
		return r, nil
	})
}
