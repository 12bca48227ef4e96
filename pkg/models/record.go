package models

import (
	"maps"
	"slices"
)

// Record is a raw, server-shaped domain object.
//
// Records handed out by the data store must be treated as read-only.
type Record struct {
	Collection string
	ID         ID
	Fields     map[string]any
}

func NewRecord(collection string, id ID, fields map[string]any) *Record {
	if fields == nil {
		fields = map[string]any{}
	}
	return &Record{Collection: collection, ID: id, Fields: fields}
}

func (r *Record) FQID() FQID {
	return FQID{Collection: r.Collection, ID: r.ID}
}

// Get returns the raw value of a field. The id field is always present.
func (r *Record) Get(field string) (any, bool) {
	if r == nil {
		return nil, false
	}
	if field == "id" {
		return r.ID, true
	}
	v, ok := r.Fields[field]
	return v, ok
}

// Has reports whether the field is set to a non-nil value.
func (r *Record) Has(field string) bool {
	v, ok := r.Get(field)
	return ok && v != nil
}

// Keys returns the sorted names of all fields set on the record, including id.
func (r *Record) Keys() []string {
	if r == nil {
		return nil
	}
	keys := slices.Collect(maps.Keys(r.Fields))
	if _, ok := r.Fields["id"]; !ok {
		keys = append(keys, "id")
	}
	slices.Sort(keys)
	return keys
}

// Clone returns a shallow copy with its own field map.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	return &Record{Collection: r.Collection, ID: r.ID, Fields: maps.Clone(r.Fields)}
}

// ToID converts the numeric representations found in decoded payloads to an ID.
func ToID(v any) (ID, bool) {
	switch n := v.(type) {
	case ID:
		return n, true
	case int:
		return ID(n), true
	case int64:
		return ID(n), true
	case uint64:
		return ID(n), true
	case float64:
		if n != float64(int64(n)) {
			return 0, false
		}
		return ID(n), true
	}
	return 0, false
}

// ToIDs converts a decoded id list. Entries that are not ids are skipped.
func ToIDs(v any) []ID {
	switch list := v.(type) {
	case []ID:
		return list
	case []int:
		ids := make([]ID, 0, len(list))
		for _, id := range list {
			ids = append(ids, ID(id))
		}
		return ids
	case []any:
		ids := make([]ID, 0, len(list))
		for _, item := range list {
			if id, ok := ToID(item); ok {
				ids = append(ids, id)
			}
		}
		return ids
	}
	return nil
}
