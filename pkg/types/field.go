package types

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// FieldClass names a kind of field.
type FieldClass string

// Built-in field classes.
const (
	ClassText  FieldClass = "text"
	ClassInt   FieldClass = "int"
	ClassFloat FieldClass = "float"
	ClassImage FieldClass = "image"
	ClassRef   FieldClass = "ref"
)

// FieldConfig is the per-field configuration record read from a descriptor.
type FieldConfig struct {
	Name     string         `json:"name,omitempty" yaml:"name,omitempty" toml:"name,omitempty"`
	Class    FieldClass     `json:"class,omitempty" yaml:"class,omitempty" toml:"class,omitempty"`
	Multiple bool           `json:"multiple,omitempty" yaml:"multiple,omitempty" toml:"multiple,omitempty"`
	Params   map[string]any `json:"params,omitempty" yaml:"params,omitempty" toml:"params,omitempty"`
}

// CastFunc converts one scalar value into the representation of a field
// class. A nil result means the value is unset.
type CastFunc func(f *Field, v any) (any, error)

// FieldKind describes a registered field class.
type FieldKind struct {
	Class  FieldClass
	Pretty string
	Cast   CastFunc
}

// Field is a typed, possibly multivalued attribute plus its current value.
// The kind is fixed at construction; the value is mutable.
type Field struct {
	kind     FieldKind
	id       string
	name     string
	multiple bool
	params   map[string]any
	value    any

	// RefCollection and RefField are set for reference fields only.
	RefCollection string
	RefField      string
}

// Name returns the display name of the field.
func (f *Field) Name() string { return f.name }

// ID returns the field identifier. Fields of a schema are identified by
// their descriptor key; other fields by the name lowercased with spaces and
// slashes removed. Unique within a schema, not across collections.
func (f *Field) ID() string { return f.id }

func idFromName(name string) string {
	return strings.NewReplacer(" ", "", "/", "").Replace(strings.ToLower(name))
}

// Class returns the field class.
func (f *Field) Class() FieldClass { return f.kind.Class }

// PrettyType returns the human readable class name.
func (f *Field) PrettyType() string { return f.kind.Pretty }

// IsMultivalue reports whether the field holds a sequence of values.
func (f *Field) IsMultivalue() bool { return f.multiple }

// IsRef reports whether the field points at another subcollection.
func (f *Field) IsRef() bool { return f.kind.Class == ClassRef }

// Params returns the raw class parameters.
func (f *Field) Params() map[string]any { return f.params }

// Value returns the current value: a scalar, []any for multivalue fields, or
// nil when unset.
func (f *Field) Value() any { return f.value }

// Clone returns an unset field of the same kind.
func (f *Field) Clone() *Field {
	c := *f
	c.reset()
	return &c
}

func (f *Field) reset() {
	if f.multiple {
		f.value = []any{}
		return
	}
	f.value = nil
}

// SetValue replaces the value. Multivalue fields require a sequence and
// single-valued fields reject sequences and mappings (ErrTypeValueMismatch).
// Each element is cast through the field class.
func (f *Field) SetValue(v any) error {
	if v == nil {
		f.reset()
		return nil
	}
	seq, isSeq, isMap := asSequence(v)
	if isMap {
		return fmt.Errorf("%w: field %q got a mapping", ErrTypeValueMismatch, f.name)
	}
	if !f.multiple {
		if isSeq {
			return fmt.Errorf("%w: field %q is single-valued", ErrTypeValueMismatch, f.name)
		}
		c, err := f.kind.Cast(f, v)
		if err != nil {
			return err
		}
		f.value = c
		return nil
	}
	if !isSeq {
		return fmt.Errorf("%w: field %q is multivalued", ErrTypeValueMismatch, f.name)
	}
	values := make([]any, 0, len(seq))
	for _, item := range seq {
		if _, _, nested := asSequence(item); nested {
			return fmt.Errorf("%w: field %q got a mapping element", ErrTypeValueMismatch, f.name)
		}
		c, err := f.kind.Cast(f, item)
		if err != nil {
			return err
		}
		if c != nil {
			values = append(values, c)
		}
	}
	f.value = values
	return nil
}

// AddValue appends one value to a multivalue field.
// Returns ErrNotMultivalued on single-valued fields.
func (f *Field) AddValue(v any) error {
	if !f.multiple {
		return fmt.Errorf("%w: %q", ErrNotMultivalued, f.name)
	}
	c, err := f.kind.Cast(f, v)
	if err != nil {
		return err
	}
	if c == nil {
		return nil
	}
	values, _ := f.value.([]any)
	f.value = append(values, c)
	return nil
}

// Empty reports whether the value is unset. The empty string counts as unset.
func (f *Field) Empty() bool {
	switch v := f.value.(type) {
	case nil:
		return true
	case []any:
		return len(v) == 0
	case string:
		return v == ""
	}
	return false
}

// Normalize validates and casts v as SetValue would, without touching the
// receiver, and returns the normalized value.
func (f *Field) Normalize(v any) (any, error) {
	c := f.Clone()
	if err := c.SetValue(v); err != nil {
		return nil, err
	}
	return c.value, nil
}

func (f *Field) String() string {
	if f.value == nil {
		return f.name + ": "
	}
	return fmt.Sprintf("%s: %v", f.name, f.value)
}

// asSequence reports whether v is a slice/array (returning its elements) or a
// map. Byte slices and strings count as scalars.
func asSequence(v any) ([]any, bool, bool) {
	switch t := v.(type) {
	case []any:
		return t, true, false
	case []byte, string:
		return nil, false, false
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = rv.Index(i).Interface()
		}
		return out, true, false
	case reflect.Map, reflect.Struct:
		if _, ok := v.(RefValue); ok {
			return nil, false, false
		}
		return nil, false, true
	}
	return nil, false, false
}

// FieldFactory creates fields from configuration records. It holds the
// registry of field classes.
type FieldFactory struct {
	kinds  map[FieldClass]FieldKind
	logger *zap.Logger
}

// NewFieldFactory returns a factory with the built-in classes registered.
func NewFieldFactory(logger *zap.Logger) *FieldFactory {
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &FieldFactory{kinds: make(map[FieldClass]FieldKind), logger: logger}
	f.Register(FieldKind{Class: ClassText, Pretty: "Text", Cast: castText})
	f.Register(FieldKind{Class: ClassInt, Pretty: "Integer", Cast: castInt})
	f.Register(FieldKind{Class: ClassFloat, Pretty: "Float", Cast: castFloat})
	f.Register(FieldKind{Class: ClassImage, Pretty: "Image", Cast: castText})
	f.Register(FieldKind{Class: ClassRef, Pretty: "Reference", Cast: castRef})
	return f
}

// Register adds or replaces a field class.
func (ff *FieldFactory) Register(k FieldKind) {
	ff.kinds[k.Class] = k
}

// Create builds an unset field from cfg. The class defaults to text.
func (ff *FieldFactory) Create(cfg FieldConfig) (*Field, error) {
	if cfg.Name == "" {
		ff.logger.Error("loading field without name")
		return nil, ErrMissingName
	}
	class := cfg.Class
	if class == "" {
		ff.logger.Info("loading field without class, using text", zap.String("field", cfg.Name))
		class = ClassText
	}
	kind, ok := ff.kinds[class]
	if !ok {
		ff.logger.Error("loading field with unknown class",
			zap.String("field", cfg.Name), zap.String("class", string(class)))
		return nil, fmt.Errorf("%w: %q", ErrUnknownFieldClass, class)
	}
	f := &Field{kind: kind, id: idFromName(cfg.Name), name: cfg.Name, multiple: cfg.Multiple, params: cfg.Params}
	if class == ClassRef {
		raw, _ := cfg.Params["ref"].(string)
		parts := strings.Split(raw, ".")
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("%w: field %q has ref %q", ErrInvalidReference, cfg.Name, raw)
		}
		f.RefCollection, f.RefField = parts[0], parts[1]
	}
	f.reset()
	return f, nil
}

func castText(f *Field, v any) (any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case string:
		return t, nil
	case json.Number:
		return t.String(), nil
	case int:
		return strconv.Itoa(t), nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(t), nil
	case []byte:
		return string(t), nil
	case fmt.Stringer:
		return t.String(), nil
	}
	return nil, fmt.Errorf("%w: %T for %s field %q", ErrCast, v, f.kind.Class, f.name)
}

func castInt(f *Field, v any) (any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case int:
		return int64(t), nil
	case int32:
		return int64(t), nil
	case int64:
		return t, nil
	case float32:
		if n, ok := truncInt(float64(t)); ok {
			return n, nil
		}
	case float64:
		if n, ok := truncInt(t); ok {
			return n, nil
		}
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n, nil
		}
		if x, err := t.Float64(); err == nil {
			if n, ok := truncInt(x); ok {
				return n, nil
			}
		}
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return nil, nil
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n, nil
		}
	case []byte:
		return castInt(f, string(t))
	}
	return nil, fmt.Errorf("%w: %v for int field %q", ErrCast, v, f.name)
}

// truncInt truncates x toward zero. ok is false for NaN and values outside
// the int64 range.
func truncInt(x float64) (int64, bool) {
	if math.IsNaN(x) || x < math.MinInt64 || x >= math.MaxInt64 {
		return 0, false
	}
	return int64(x), true
}

func castFloat(f *Field, v any) (any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case int:
		return float64(t), nil
	case int32:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case float32:
		return float64(t), nil
	case float64:
		return t, nil
	case json.Number:
		if x, err := t.Float64(); err == nil {
			return x, nil
		}
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return nil, nil
		}
		if x, err := strconv.ParseFloat(s, 64); err == nil {
			return x, nil
		}
	case []byte:
		return castFloat(f, string(t))
	}
	return nil, fmt.Errorf("%w: %v for float field %q", ErrCast, v, f.name)
}

// castRef accepts RefValue, "<collection>:<id>" tokens and bare ids. Bare ids
// point into the field's referenced collection.
func castRef(f *Field, v any) (any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case RefValue:
		if t.Collection == "" {
			t.Collection = f.RefCollection
		}
		if t.ID <= 0 {
			return nil, fmt.Errorf("%w: %v", ErrMalformedReferenceValue, t)
		}
		return t, nil
	case *RefValue:
		if t == nil {
			return nil, nil
		}
		return castRef(f, *t)
	case []byte:
		return castRef(f, string(t))
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return nil, nil
		}
		if strings.Contains(s, ":") {
			return ParseRef(s)
		}
	}
	id, err := ParseID(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v for ref field %q", ErrMalformedReferenceValue, v, f.name)
	}
	return RefValue{Collection: f.RefCollection, ID: id}, nil
}
