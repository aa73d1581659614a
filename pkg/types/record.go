package types

import (
	"encoding/json"
	"fmt"
)

// IDKey is the reserved record key holding the integer identifier.
const IDKey = "id"

// Record is one schema-conformant entry of a subcollection: a mapping from
// field id to value plus the integer ID (0 until saved).
type Record struct {
	ID       int64
	schema   *Schema
	values   map[string]any
	resolved bool
}

// Schema returns the schema the record was built from.
func (r *Record) Schema() *Schema { return r.schema }

// Resolved reports whether references have been replaced by the referenced
// values on this instance.
func (r *Record) Resolved() bool { return r.resolved }

// Get returns the value of a field, nil when unknown or unset.
func (r *Record) Get(id string) any {
	if id == IDKey {
		return r.ID
	}
	return r.values[id]
}

// Has reports whether the field id is part of the record.
func (r *Record) Has(id string) bool {
	_, ok := r.values[id]
	return ok
}

// Set validates v against the field and stores it.
func (r *Record) Set(id string, v any) error {
	if id == IDKey {
		n, err := ParseID(v)
		if err != nil {
			return err
		}
		r.ID = n
		return nil
	}
	f, err := r.schema.Field(id)
	if err != nil {
		return err
	}
	nv, err := f.Normalize(v)
	if err != nil {
		return err
	}
	r.values[id] = nv
	return nil
}

// Update merges data into the record. Keys that are not schema fields are
// ignored, as is the reserved id key. Nothing is written if any value fails
// validation.
func (r *Record) Update(data map[string]any) error {
	staged := make(map[string]any, len(data))
	for key, v := range data {
		if key == IDKey {
			continue
		}
		f, ok := r.schema.Fields[key]
		if !ok {
			continue
		}
		nv, err := f.Normalize(v)
		if err != nil {
			return fmt.Errorf("field %q: %w", key, err)
		}
		staged[key] = nv
	}
	for key, v := range staged {
		r.values[key] = v
	}
	return nil
}

// Clone returns a deep copy detached from any storage internals.
func (r *Record) Clone() *Record {
	c := &Record{ID: r.ID, schema: r.schema, resolved: r.resolved, values: make(map[string]any, len(r.values))}
	for k, v := range r.values {
		c.values[k] = copyValue(v)
	}
	return c
}

// WithReferences returns a resolved copy of r where each field in refs holds
// the given referenced value.
func (r *Record) WithReferences(refs map[string]any) *Record {
	c := r.Clone()
	for k, v := range refs {
		c.values[k] = v
	}
	c.resolved = true
	return c
}

// Map returns a plain copy of the values including the id key when saved.
func (r *Record) Map() map[string]any {
	m := make(map[string]any, len(r.values)+1)
	for k, v := range r.values {
		m[k] = copyValue(v)
	}
	if r.ID != 0 {
		m[IDKey] = r.ID
	}
	return m
}

// Wire returns the storage encoding of the record: references become
// "<collection>:<id>" tokens, everything else is kept as is.
func (r *Record) Wire() map[string]any {
	m := r.Map()
	for k, v := range m {
		m[k] = wireValue(v)
	}
	return m
}

// MarshalJSON encodes the wire form.
func (r *Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Wire())
}

func wireValue(v any) any {
	switch t := v.(type) {
	case RefValue:
		return t.String()
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = wireValue(item)
		}
		return out
	}
	return v
}

func copyValue(v any) any {
	if list, ok := v.([]any); ok {
		return append([]any{}, list...)
	}
	return v
}
