package collection

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/mesh-intelligence/collector/pkg/types"
)

// Remap renames the keys of data through mapping (source key to field id).
// Keys absent from mapping are dropped. A nil mapping returns data as is.
func Remap(data map[string]any, mapping map[string]string) map[string]any {
	if mapping == nil {
		return data
	}
	out := make(map[string]any, len(mapping))
	for from, to := range mapping {
		if v, ok := data[from]; ok {
			out[to] = v
		}
	}
	return out
}

// ToMultivalue wraps a single value in a sequence. nil becomes an empty
// sequence.
func ToMultivalue(v any) []any {
	switch s := v.(type) {
	case nil:
		return []any{}
	case []any:
		return s
	case []string:
		out := make([]any, len(s))
		for i, e := range s {
			out[i] = e
		}
		return out
	}
	return []any{v}
}

// ToSingle reduces a sequence to its first element, or nil when empty.
func ToSingle(v any) any {
	switch s := v.(type) {
	case []any:
		if len(s) == 0 {
			return nil
		}
		return s[0]
	case []string:
		if len(s) == 0 {
			return nil
		}
		return s[0]
	}
	return v
}

// Add creates a record in subcollection from foreign data. Keys are renamed
// through mapping, values are coerced to the field's arity and reference
// values are looked up by the referenced field, creating the target record
// when no match exists.
func (m *Manager) Add(subcollection string, data map[string]any, mapping map[string]string) (*types.Record, error) {
	c, err := m.Collection(subcollection)
	if err != nil {
		return nil, err
	}
	data = Remap(data, mapping)

	out := make(map[string]any, len(data))
	for key, value := range data {
		f, err := c.schema.Field(key)
		if err != nil {
			m.logger.Info("dropping unknown key",
				zap.String("subcollection", subcollection), zap.String("key", key))
			continue
		}
		switch {
		case f.IsRef():
			ref, err := m.resolveRefValue(f, value)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", key, err)
			}
			out[key] = ref
		case f.IsMultivalue():
			out[key] = ToMultivalue(value)
		default:
			out[key] = ToSingle(value)
		}
	}
	return c.Save(out)
}

// resolveRefValue turns referenced-field values into references, creating
// missing targets.
func (m *Manager) resolveRefValue(f *types.Field, value any) (any, error) {
	target, err := m.Collection(f.RefCollection)
	if err != nil {
		return nil, err
	}
	if !f.IsMultivalue() {
		v := ToSingle(value)
		if v == nil || v == "" {
			return nil, nil
		}
		rec, err := getOrCreate(target, f.RefField, v)
		if err != nil {
			return nil, err
		}
		return types.RefValue{Collection: f.RefCollection, ID: rec.ID}, nil
	}
	refs := []any{}
	for _, v := range ToMultivalue(value) {
		if v == nil || v == "" {
			continue
		}
		rec, err := getOrCreate(target, f.RefField, v)
		if err != nil {
			return nil, err
		}
		refs = append(refs, types.RefValue{Collection: f.RefCollection, ID: rec.ID})
	}
	return refs, nil
}

// getOrCreate returns the first record whose field equals value, saving a
// new one when none matches.
func getOrCreate(c *Collection, field string, value any) (*types.Record, error) {
	found, err := c.Filter([]types.Predicate{types.Equals(field, value)})
	if err != nil {
		return nil, err
	}
	if len(found) > 0 {
		return found[0], nil
	}
	return c.Save(map[string]any{field: value})
}

// Complete fills the empty fields of an existing record from data. With
// force every supplied single-valued field is overwritten. Multivalue fields
// gain the supplied elements they do not hold yet; references are not
// merged.
func (m *Manager) Complete(subcollection, id string, data map[string]any, force bool) (*types.Record, error) {
	c, err := m.Collection(subcollection)
	if err != nil {
		return nil, err
	}
	rec, err := c.Get(id)
	if err != nil {
		return nil, err
	}

	update := map[string]any{types.IDKey: rec.ID}
	for _, key := range c.schema.Order {
		value, ok := data[key]
		if !ok {
			continue
		}
		f := c.schema.Fields[key]
		if f.IsMultivalue() {
			if f.IsRef() {
				continue
			}
			merged, changed, err := mergeValues(f, rec.Get(key), value)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", key, err)
			}
			if changed {
				update[key] = merged
			}
			continue
		}
		current := f.Clone()
		if err := current.SetValue(rec.Get(key)); err != nil {
			return nil, fmt.Errorf("field %q: %w", key, err)
		}
		if force || current.Empty() {
			update[key] = value
		}
	}
	return c.Save(update)
}

// mergeValues appends the elements of incoming missing from current.
func mergeValues(f *types.Field, current, incoming any) ([]any, bool, error) {
	seq, ok := incoming.([]any)
	if !ok {
		if _, isStrings := incoming.([]string); !isStrings {
			return nil, false, nil
		}
		seq = ToMultivalue(incoming)
	}
	add, err := f.Normalize(seq)
	if err != nil {
		return nil, false, err
	}
	have, _ := current.([]any)
	merged := append([]any{}, have...)
	changed := false
	for _, v := range add.([]any) {
		if !containsValue(merged, v) {
			merged = append(merged, v)
			changed = true
		}
	}
	return merged, changed, nil
}

func containsValue(list []any, v any) bool {
	for _, e := range list {
		if e == v {
			return true
		}
	}
	return false
}
