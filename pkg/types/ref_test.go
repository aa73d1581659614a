package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRef(t *testing.T) {
	tests := []struct {
		token   string
		want    RefValue
		wantErr bool
	}{
		{"people:1", RefValue{Collection: "people", ID: 1}, false},
		{"people:42", RefValue{Collection: "people", ID: 42}, false},
		{"people", RefValue{}, true},
		{":1", RefValue{}, true},
		{"people:", RefValue{}, true},
		{"people:0", RefValue{}, true},
		{"people:abc", RefValue{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			got, err := ParseRef(tt.token)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMalformedReferenceValue)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.token, got.String())
		})
	}
}

func TestRefValueText(t *testing.T) {
	data, err := json.Marshal(map[string]RefValue{"designer": {Collection: "people", ID: 7}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"designer":"people:7"}`, string(data))

	var back map[string]RefValue
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, RefValue{Collection: "people", ID: 7}, back["designer"])
}

func TestParseID(t *testing.T) {
	tests := []struct {
		name    string
		in      any
		want    int64
		wantErr bool
	}{
		{"int", 3, 3, false},
		{"int64", int64(3), 3, false},
		{"string", " 12 ", 12, false},
		{"whole float", 12.0, 12, false},
		{"json number", json.Number("5"), 5, false},
		{"fraction", 1.5, 0, true},
		{"zero float", 0.0, 0, true},
		{"negative float", -3.0, 0, true},
		{"float beyond int64", 9223372036854775808.0, 0, true},
		{"negative", -1, 0, true},
		{"word", "abc", 0, true},
		{"empty", "", 0, true},
		{"nil", nil, 0, true},
		{"bool", true, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseID(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidID)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
