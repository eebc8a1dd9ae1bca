package shelf

import (
	"bytes"
	"fmt"
)

// indexValues returns the encoded index values of record for idx. Records
// without a value at the index key path, or with a value that is not a
// valid key, are not indexed. A multi-entry index yields one value per
// distinct array element.
func indexValues(idx IndexSchema, record Record) [][]byte {
	if record == nil {
		return nil
	}
	v, ok := lookupPath(record, idx.KeyPath)
	if !ok || v == nil {
		return nil
	}

	arr, isArray := v.([]interface{})
	if !idx.MultiEntry || !isArray {
		enc, err := encodeIndexValue(nil, v)
		if err != nil {
			return nil
		}
		return [][]byte{enc}
	}

	var out [][]byte
	seen := make(map[string]bool, len(arr))
	for _, elem := range arr {
		enc, err := encodeKey(nil, elem)
		if err != nil || seen[string(enc)] {
			continue
		}
		seen[string(enc)] = true
		out = append(out, enc)
	}
	return out
}

func indexEntryKey(value, pk []byte) []byte {
	out := make([]byte, 0, len(value)+len(pk))
	return append(append(out, value...), pk...)
}

// updateIndexes replaces the index entries of the record at pk. Unique
// indexes are checked before anything is written.
func (t *Txn) updateIndexes(pk []byte, existing *storedRecord, record Record) error {
	next := make(map[string][][]byte, len(t.schema.Indexes))
	for _, idx := range t.schema.Indexes {
		values := indexValues(idx, record)
		next[idx.Name] = values
		if !idx.Unique {
			continue
		}
		for _, value := range values {
			taken, err := t.valueTaken(idx, value, pk)
			if err != nil {
				return err
			}
			if taken {
				return WithContext(ErrConstraint, map[string]interface{}{
					"store": t.schema.Name,
					"index": idx.Name,
				})
			}
		}
	}

	if existing != nil {
		if err := t.removeIndexEntries(existing); err != nil {
			return err
		}
	}

	for _, idx := range t.schema.Indexes {
		bucket := t.indexes[idx.Name]
		for _, value := range next[idx.Name] {
			if err := bucket.Put(indexEntryKey(value, pk), pk); err != nil {
				return err
			}
		}
	}
	return nil
}

// valueTaken reports whether value is indexed for a record other than pk.
func (t *Txn) valueTaken(idx IndexSchema, value, pk []byte) (bool, error) {
	taken := false
	err := t.indexes[idx.Name].Scan(value, prefixEnd(value), func(_, owner []byte) error {
		if !bytes.Equal(owner, pk) {
			taken = true
			return errStopScan
		}
		return nil
	})
	return taken, err
}

// removeIndexEntries deletes every index entry pointing at stored. When the
// stored record could not be decoded its entries are found by scanning.
func (t *Txn) removeIndexEntries(stored *storedRecord) error {
	for _, idx := range t.schema.Indexes {
		bucket := t.indexes[idx.Name]

		var keys [][]byte
		if stored.record != nil {
			for _, value := range indexValues(idx, stored.record) {
				keys = append(keys, indexEntryKey(value, stored.key))
			}
		} else {
			err := bucket.Scan(nil, nil, func(k, owner []byte) error {
				if bytes.Equal(owner, stored.key) {
					keys = append(keys, append([]byte(nil), k...))
				}
				return nil
			})
			if err != nil {
				return err
			}
		}

		for _, k := range keys {
			if err := bucket.Delete(k); err != nil {
				return err
			}
		}
	}
	return nil
}

// rebuildIndex clears idx and indexes every stored record again.
func (t *Txn) rebuildIndex(idx IndexSchema) (int, error) {
	bucket, ok := t.indexes[idx.Name]
	if !ok {
		return 0, WithContext(ErrIndexNotFound, map[string]interface{}{
			"store": t.schema.Name,
			"index": idx.Name,
		})
	}
	if err := bucket.Clear(); err != nil {
		return 0, err
	}

	type entry struct{ key, pk []byte }
	var entries []entry
	err := t.scanRange(nil, nil, func(s *storedRecord) error {
		for _, value := range indexValues(idx, s.record) {
			entries = append(entries, entry{key: indexEntryKey(value, s.key), pk: s.key})
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	seen := make(map[string][]byte)
	for _, e := range entries {
		if idx.Unique {
			value := e.key[:len(e.key)-len(e.pk)]
			if owner, dup := seen[string(value)]; dup && !bytes.Equal(owner, e.pk) {
				return 0, WithContext(ErrConstraint, map[string]interface{}{
					"store":  t.schema.Name,
					"index":  idx.Name,
					"reason": "existing records violate unique index",
				})
			}
			seen[string(value)] = e.pk
		}
		if err := bucket.Put(e.key, e.pk); err != nil {
			return 0, err
		}
	}
	return len(entries), nil
}

// IndexScan returns the records whose idx value falls in r, in index order.
// A nil range matches every indexed record. limit <= 0 means no limit.
// Records reached through several entries of a multi-entry index are
// returned once.
func (t *Txn) IndexScan(index string, r *KeyRange, limit int) ([]Record, error) {
	bucket, ok := t.indexes[index]
	if !ok {
		return nil, WithContext(ErrIndexNotFound, map[string]interface{}{
			"store": t.schema.Name,
			"index": index,
		})
	}
	start, end, err := r.bounds(encodeIndexValue)
	if err != nil {
		return nil, err
	}

	var pks [][]byte
	seen := make(map[string]bool)
	err = bucket.Scan(start, end, func(_, pk []byte) error {
		if err := t.ctx.Err(); err != nil {
			return err
		}
		if seen[string(pk)] {
			return nil
		}
		seen[string(pk)] = true
		pks = append(pks, append([]byte(nil), pk...))
		if limit > 0 && len(pks) >= limit {
			return errStopScan
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	records := make([]Record, 0, len(pks))
	for _, pk := range pks {
		stored, err := t.getStored(pk)
		if err != nil {
			t.logger.Warn("skipping undecodable record",
				"store", t.schema.Name,
				"index", index,
				"error", err)
			continue
		}
		if stored == nil {
			return nil, fmt.Errorf("index %s.%s references a missing record", t.schema.Name, index)
		}
		records = append(records, stored.record)
	}
	return records, nil
}

// KeyScan returns the records whose primary key falls in r, in key order.
func (t *Txn) KeyScan(r *KeyRange, limit int) ([]Record, error) {
	start, end, err := r.bounds(encodeKey)
	if err != nil {
		return nil, err
	}
	var records []Record
	err = t.scanRange(start, end, func(s *storedRecord) error {
		records = append(records, s.record)
		if limit > 0 && len(records) >= limit {
			return errStopScan
		}
		return nil
	})
	return records, err
}
