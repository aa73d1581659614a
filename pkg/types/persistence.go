package types

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Persistence provides record storage for a single subcollection. Every
// engine implements the same contract; ids are parsed with ParseID.
type Persistence interface {
	// Get returns the record with the given id.
	// Returns ErrInvalidID for malformed ids and ErrNotFound when absent.
	Get(id string) (*Record, error)

	// GetAll returns records in insertion order starting at position startAt.
	// A limit of 0 means no limit. startAt past the end yields no records.
	GetAll(startAt, limit int) ([]*Record, error)

	// GetLast returns up to count records, most recently created first.
	GetLast(count int) ([]*Record, error)

	// Search matches term, case-insensitively, as a substring of the schema's
	// default field.
	Search(term string) ([]*Record, error)

	// Filter returns the records matching every predicate.
	Filter(preds []Predicate) ([]*Record, error)

	// Save creates a record when data carries no id and updates the supplied
	// fields of an existing record otherwise. Returns ErrNotFound when the id
	// is not in storage.
	Save(data map[string]any) (*Record, error)

	// Delete removes the record with the given id. Deleting an absent record
	// is not an error.
	Delete(id string) error

	// AllCreated is called once after every subcollection of the owning
	// collection has been instantiated.
	AllCreated() error

	// LoadReferences returns a copy of rec with reference fields replaced by
	// the referenced field values. A resolved record is returned unchanged.
	LoadReferences(dir Directory, rec *Record) (*Record, error)

	// Close flushes pending writes and releases resources.
	Close() error
}

// Directory looks up sibling subcollections during reference resolution.
type Directory interface {
	Persistence(subcollectionID string) (Persistence, error)
	Schema(subcollectionID string) (*Schema, error)
}

// FilterOp names a filter primitive.
type FilterOp string

// Supported filter primitives.
const (
	FilterEquals FilterOp = "equals"
	FilterLike   FilterOp = "like"
)

// Predicate is one condition of a filter. Predicates in a list are AND-ed.
type Predicate struct {
	Op    FilterOp
	Field string
	Value any
}

// Equals returns an equality predicate.
func Equals(field string, value any) Predicate {
	return Predicate{Op: FilterEquals, Field: field, Value: value}
}

// Like returns a case-insensitive substring predicate.
func Like(field string, value any) Predicate {
	return Predicate{Op: FilterLike, Field: field, Value: value}
}

// ParseFilter reads the structured filter form
// [{"equals": [field, value]}, {"like": [field, value]}].
// Returns ErrUnsupportedFilter for any other shape or kind.
func ParseFilter(raw []map[string]any) ([]Predicate, error) {
	preds := make([]Predicate, 0, len(raw))
	for i, clause := range raw {
		if len(clause) != 1 {
			return nil, fmt.Errorf("%w: clause %d must have exactly one kind", ErrUnsupportedFilter, i)
		}
		for kind, args := range clause {
			op := FilterOp(kind)
			if op != FilterEquals && op != FilterLike {
				return nil, fmt.Errorf("%w: %q", ErrUnsupportedFilter, kind)
			}
			pair, ok := args.([]any)
			if !ok || len(pair) != 2 {
				return nil, fmt.Errorf("%w: %s expects [field, value]", ErrUnsupportedFilter, kind)
			}
			field, ok := pair[0].(string)
			if !ok || field == "" {
				return nil, fmt.Errorf("%w: %s field must be a string", ErrUnsupportedFilter, kind)
			}
			preds = append(preds, Predicate{Op: op, Field: field, Value: pair[1]})
		}
	}
	return preds, nil
}

// ParseFilterJSON decodes and parses a JSON filter document.
func ParseFilterJSON(data []byte) ([]Predicate, error) {
	var raw []map[string]any
	if err := unmarshalNumbers(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedFilter, err)
	}
	return ParseFilter(raw)
}

// Bind checks p against the schema and casts its value through the field.
// The id key accepts equals only. Like is rejected on reference fields.
func (s *Schema) Bind(p Predicate) (Predicate, error) {
	if p.Op != FilterEquals && p.Op != FilterLike {
		return p, fmt.Errorf("%w: %q", ErrUnsupportedFilter, p.Op)
	}
	if p.Field == IDKey {
		if p.Op != FilterEquals {
			return p, fmt.Errorf("%w: like on id", ErrUnsupportedFilter)
		}
		id, err := ParseID(p.Value)
		if err != nil {
			return p, err
		}
		p.Value = id
		return p, nil
	}
	f, err := s.Field(p.Field)
	if err != nil {
		return p, err
	}
	if _, isSeq, isMap := asSequence(p.Value); isSeq || isMap {
		return p, fmt.Errorf("%w: filter on %q needs a scalar", ErrTypeValueMismatch, p.Field)
	}
	if p.Op == FilterLike {
		if f.IsRef() {
			return p, fmt.Errorf("%w: like on reference field %q", ErrUnsupportedFilter, p.Field)
		}
		term, err := castText(f, p.Value)
		if err != nil {
			return p, err
		}
		p.Value, _ = term.(string)
		return p, nil
	}
	v, err := f.kind.Cast(f, p.Value)
	if err != nil {
		return p, err
	}
	p.Value = v
	return p, nil
}

// Match reports whether rec satisfies a bound predicate.
func (p Predicate) Match(rec *Record) bool {
	if p.Field == IDKey {
		return rec.ID == p.Value
	}
	for _, v := range valuesOf(rec.Get(p.Field)) {
		switch p.Op {
		case FilterEquals:
			if v == p.Value {
				return true
			}
		case FilterLike:
			term, _ := p.Value.(string)
			if ContainsFold(v, term) {
				return true
			}
		}
	}
	return false
}

// ContainsFold reports whether the text form of v contains term, ignoring case.
func ContainsFold(v any, term string) bool {
	if v == nil {
		return false
	}
	return strings.Contains(strings.ToLower(fmt.Sprint(v)), strings.ToLower(term))
}

// MatchAll reports whether rec satisfies every bound predicate.
func MatchAll(preds []Predicate, rec *Record) bool {
	for _, p := range preds {
		if !p.Match(rec) {
			return false
		}
	}
	return true
}

func valuesOf(v any) []any {
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		return t
	}
	return []any{v}
}

// MarshalJSON encodes the predicate in its structured filter form.
func (p Predicate) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string][]any{string(p.Op): {p.Field, p.Value}})
}
