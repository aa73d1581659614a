package types

import (
	"fmt"
)

// Schema is the ordered, typed field declaration of one subcollection.
// It is built once from a descriptor and not modified afterwards.
type Schema struct {
	CollectionID    string
	SubcollectionID string
	Name            string
	Order           []string          // field ids in display order
	Fields          map[string]*Field // field id -> unset prototype
	Default         string            // field id used for search and display
	Icon            string
	Image           string
}

// BuildSchema resolves every declared field through the factory and checks
// the order and default declarations.
func BuildSchema(collectionID, subcollectionID string, d SchemaDescriptor, ff *FieldFactory) (*Schema, error) {
	if ff == nil {
		ff = NewFieldFactory(nil)
	}
	s := &Schema{
		CollectionID:    collectionID,
		SubcollectionID: subcollectionID,
		Name:            d.Name,
		Fields:          make(map[string]*Field, len(d.Fields)),
		Icon:            d.Ico,
		Image:           d.Image,
	}
	declared := make([]string, 0, len(d.Fields))
	for _, entry := range d.Fields {
		cfg := entry.Config
		if cfg.Name == "" {
			cfg.Name = entry.ID
		}
		if entry.ID == "" || entry.ID == "id" {
			return nil, fmt.Errorf("%w: schema %q declares field %q", ErrInvalidDescriptor, subcollectionID, entry.ID)
		}
		if _, dup := s.Fields[entry.ID]; dup {
			return nil, fmt.Errorf("%w: schema %q declares field %q twice", ErrInvalidDescriptor, subcollectionID, entry.ID)
		}
		f, err := ff.Create(cfg)
		if err != nil {
			return nil, fmt.Errorf("schema %q field %q: %w", subcollectionID, entry.ID, err)
		}
		f.id = entry.ID
		s.Fields[entry.ID] = f
		declared = append(declared, entry.ID)
	}

	if d.Order != nil {
		seen := make(map[string]bool, len(d.Order))
		for _, id := range d.Order {
			if _, ok := s.Fields[id]; !ok || seen[id] {
				return nil, fmt.Errorf("%w: schema %q order entry %q", ErrSchemaOrderIncomplete, subcollectionID, id)
			}
			seen[id] = true
		}
		if len(seen) != len(s.Fields) {
			return nil, fmt.Errorf("%w: schema %q orders %d of %d fields",
				ErrSchemaOrderIncomplete, subcollectionID, len(seen), len(s.Fields))
		}
		s.Order = append([]string(nil), d.Order...)
	} else {
		s.Order = declared
	}

	switch {
	case d.Default != "":
		if _, ok := s.Fields[d.Default]; !ok {
			return nil, fmt.Errorf("%w: schema %q default %q", ErrFieldNotFound, subcollectionID, d.Default)
		}
		s.Default = d.Default
	case len(s.Order) > 0:
		s.Default = s.Order[0]
	}
	return s, nil
}

// Field returns the prototype of the field with the given id.
func (s *Schema) Field(id string) (*Field, error) {
	f, ok := s.Fields[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q in %s", ErrFieldNotFound, id, s.SubcollectionID)
	}
	return f, nil
}

// ReferenceFields returns the ids of reference fields in schema order.
func (s *Schema) ReferenceFields() []string {
	var ids []string
	for _, id := range s.Order {
		if s.Fields[id].IsRef() {
			ids = append(ids, id)
		}
	}
	return ids
}

// Multivalued returns the ids of multivalue fields in schema order.
func (s *Schema) Multivalued() []string {
	var ids []string
	for _, id := range s.Order {
		if s.Fields[id].IsMultivalue() {
			ids = append(ids, id)
		}
	}
	return ids
}

// NewRecord builds a record from raw data. Every schema field gets an entry,
// unset when absent from raw. The reserved "id" key is parsed with ParseID;
// keys that are not schema fields are ignored.
func (s *Schema) NewRecord(raw map[string]any) (*Record, error) {
	r := &Record{schema: s, values: make(map[string]any, len(s.Fields))}
	for id, f := range s.Fields {
		r.values[id] = f.Clone().Value()
	}
	if v, ok := raw[IDKey]; ok && v != nil {
		id, err := ParseID(v)
		if err != nil {
			return nil, err
		}
		r.ID = id
	}
	for key, v := range raw {
		if key == IDKey {
			continue
		}
		f, ok := s.Fields[key]
		if !ok {
			continue
		}
		nv, err := f.Normalize(v)
		if err != nil {
			return nil, err
		}
		r.values[key] = nv
	}
	return r, nil
}
