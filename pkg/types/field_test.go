package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustField(t *testing.T, cfg FieldConfig) *Field {
	t.Helper()
	f, err := NewFieldFactory(nil).Create(cfg)
	require.NoError(t, err)
	return f
}

func TestFieldFactoryCreate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     FieldConfig
		wantErr error
		check   func(t *testing.T, f *Field)
	}{
		{
			name:    "missing name",
			cfg:     FieldConfig{Class: ClassText},
			wantErr: ErrMissingName,
		},
		{
			name:    "unknown class",
			cfg:     FieldConfig{Name: "When", Class: "date"},
			wantErr: ErrUnknownFieldClass,
		},
		{
			name: "class defaults to text",
			cfg:  FieldConfig{Name: "Title"},
			check: func(t *testing.T, f *Field) {
				assert.Equal(t, ClassText, f.Class())
				assert.Equal(t, "Text", f.PrettyType())
				assert.Nil(t, f.Value())
			},
		},
		{
			name: "multivalue starts with an empty sequence",
			cfg:  FieldConfig{Name: "Tags", Multiple: true},
			check: func(t *testing.T, f *Field) {
				assert.True(t, f.IsMultivalue())
				assert.Equal(t, []any{}, f.Value())
				assert.True(t, f.Empty())
			},
		},
		{
			name:    "ref without params",
			cfg:     FieldConfig{Name: "Designer", Class: ClassRef},
			wantErr: ErrInvalidReference,
		},
		{
			name:    "ref with one part",
			cfg:     FieldConfig{Name: "Designer", Class: ClassRef, Params: map[string]any{"ref": "people"}},
			wantErr: ErrInvalidReference,
		},
		{
			name:    "ref with empty part",
			cfg:     FieldConfig{Name: "Designer", Class: ClassRef, Params: map[string]any{"ref": "people."}},
			wantErr: ErrInvalidReference,
		},
		{
			name:    "ref with three parts",
			cfg:     FieldConfig{Name: "Designer", Class: ClassRef, Params: map[string]any{"ref": "a.b.c"}},
			wantErr: ErrInvalidReference,
		},
		{
			name: "valid ref",
			cfg:  FieldConfig{Name: "Designer", Class: ClassRef, Params: map[string]any{"ref": "people.name"}},
			check: func(t *testing.T, f *Field) {
				assert.True(t, f.IsRef())
				assert.Equal(t, "people", f.RefCollection)
				assert.Equal(t, "name", f.RefField)
				assert.Equal(t, "Reference", f.PrettyType())
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := NewFieldFactory(nil).Create(tt.cfg)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, f)
				return
			}
			require.NoError(t, err)
			tt.check(t, f)
		})
	}
}

func TestFieldFactoryRegister(t *testing.T) {
	ff := NewFieldFactory(nil)
	ff.Register(FieldKind{Class: "upper", Pretty: "Upper", Cast: castText})

	f, err := ff.Create(FieldConfig{Name: "Code", Class: "upper"})
	require.NoError(t, err)
	assert.Equal(t, FieldClass("upper"), f.Class())
}

func TestFieldID(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"Title", "title"},
		{"Release Year", "releaseyear"},
		{"Author/Artist", "authorartist"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := mustField(t, FieldConfig{Name: tt.name})
			assert.Equal(t, tt.want, f.ID())
		})
	}
}

func TestFieldSetValueShape(t *testing.T) {
	classes := []FieldClass{ClassText, ClassInt, ClassFloat, ClassImage}
	for _, class := range classes {
		t.Run(string(class), func(t *testing.T) {
			single := mustField(t, FieldConfig{Name: "One", Class: class})
			assert.ErrorIs(t, single.SetValue([]any{"1"}), ErrTypeValueMismatch)
			assert.ErrorIs(t, single.SetValue([]string{"1"}), ErrTypeValueMismatch)
			assert.ErrorIs(t, single.SetValue(map[string]any{"a": 1}), ErrTypeValueMismatch)

			multi := mustField(t, FieldConfig{Name: "Many", Class: class, Multiple: true})
			assert.ErrorIs(t, multi.SetValue("1"), ErrTypeValueMismatch)
			assert.ErrorIs(t, multi.SetValue([]any{map[string]any{"a": 1}}), ErrTypeValueMismatch)
			require.NoError(t, multi.SetValue([]any{"1", "2"}))
			assert.Len(t, multi.Value(), 2)
		})
	}
}

func TestFieldCast(t *testing.T) {
	ref := FieldConfig{Name: "Designer", Class: ClassRef, Params: map[string]any{"ref": "people.name"}}
	tests := []struct {
		name    string
		cfg     FieldConfig
		in      any
		want    any
		wantErr error
	}{
		{"int from string", FieldConfig{Name: "Year", Class: ClassInt}, "1999", int64(1999), nil},
		{"int from float", FieldConfig{Name: "Year", Class: ClassInt}, 1999.0, int64(1999), nil},
		{"int from json number", FieldConfig{Name: "Year", Class: ClassInt}, json.Number("12"), int64(12), nil},
		{"int from float beyond int64", FieldConfig{Name: "Year", Class: ClassInt}, 1e19, nil, ErrCast},
		{"int from json number beyond int64", FieldConfig{Name: "Year", Class: ClassInt}, json.Number("1e19"), nil, ErrCast},
		{"int from garbage", FieldConfig{Name: "Year", Class: ClassInt}, "abc", nil, ErrCast},
		{"int empty string is unset", FieldConfig{Name: "Year", Class: ClassInt}, "", nil, nil},
		{"float from string", FieldConfig{Name: "Rating", Class: ClassFloat}, "7.5", 7.5, nil},
		{"float from int", FieldConfig{Name: "Rating", Class: ClassFloat}, 7, 7.0, nil},
		{"float from garbage", FieldConfig{Name: "Rating", Class: ClassFloat}, "high", nil, ErrCast},
		{"text from int", FieldConfig{Name: "Title"}, 42, "42", nil},
		{"text from bool", FieldConfig{Name: "Title"}, true, "true", nil},
		{"ref from token", ref, "people:3", RefValue{Collection: "people", ID: 3}, nil},
		{"ref from bare id", ref, 3, RefValue{Collection: "people", ID: 3}, nil},
		{"ref from bare string id", ref, "3", RefValue{Collection: "people", ID: 3}, nil},
		{"ref from value", ref, RefValue{ID: 4}, RefValue{Collection: "people", ID: 4}, nil},
		{"ref empty is unset", ref, "", nil, nil},
		{"ref malformed token", ref, "people:x", nil, ErrMalformedReferenceValue},
		{"ref malformed value", ref, "nobody", nil, ErrMalformedReferenceValue},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := mustField(t, tt.cfg)
			err := f.SetValue(tt.in)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, f.Value())
		})
	}
}

func TestFieldAddValue(t *testing.T) {
	single := mustField(t, FieldConfig{Name: "Year", Class: ClassInt})
	assert.ErrorIs(t, single.AddValue(1), ErrNotMultivalued)

	multi := mustField(t, FieldConfig{Name: "Years", Class: ClassInt, Multiple: true})
	require.NoError(t, multi.AddValue("1"))
	require.NoError(t, multi.AddValue(2))
	require.NoError(t, multi.AddValue(""))
	assert.Equal(t, []any{int64(1), int64(2)}, multi.Value())
	assert.ErrorIs(t, multi.AddValue("x"), ErrCast)
}

func TestFieldEmptyAndClone(t *testing.T) {
	proto := mustField(t, FieldConfig{Name: "Tags", Multiple: true})
	f := proto.Clone()
	require.NoError(t, f.SetValue([]any{"coop"}))
	assert.False(t, f.Empty())
	assert.True(t, proto.Empty(), "prototype must not change")

	f = proto.Clone()
	assert.True(t, f.Empty())

	title := mustField(t, FieldConfig{Name: "Title"})
	require.NoError(t, title.SetValue("Go"))
	assert.False(t, title.Empty())
	require.NoError(t, title.SetValue(nil))
	assert.True(t, title.Empty())
}
