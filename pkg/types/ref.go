package types

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// RefValue points at one record of a subcollection. On disk it is encoded as
// "<collection>:<id>".
type RefValue struct {
	Collection string
	ID         int64
}

// String returns the storage token for the reference.
func (r RefValue) String() string {
	return r.Collection + ":" + strconv.FormatInt(r.ID, 10)
}

// MarshalText encodes the reference as its storage token.
func (r RefValue) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText decodes a storage token.
func (r *RefValue) UnmarshalText(text []byte) error {
	v, err := ParseRef(string(text))
	if err != nil {
		return err
	}
	*r = v
	return nil
}

// ParseRef parses a "<collection>:<id>" token.
// Returns ErrMalformedReferenceValue if the token is not of that shape.
func ParseRef(token string) (RefValue, error) {
	coll, rawID, ok := strings.Cut(token, ":")
	if !ok || coll == "" || rawID == "" {
		return RefValue{}, fmt.Errorf("%w: %q", ErrMalformedReferenceValue, token)
	}
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil || id <= 0 {
		return RefValue{}, fmt.Errorf("%w: %q", ErrMalformedReferenceValue, token)
	}
	return RefValue{Collection: coll, ID: id}, nil
}

// ParseID coerces a record identifier to int64. Strings are parsed as base-10
// integers; whole floats (as decoded from JSON) are accepted.
// Returns ErrInvalidID for anything else, including non-positive values.
func ParseID(v any) (int64, error) {
	var id int64
	switch t := v.(type) {
	case int:
		id = int64(t)
	case int32:
		id = int64(t)
	case int64:
		id = t
	case float64:
		if t != math.Trunc(t) || t < 1 || t >= math.MaxInt64 {
			return 0, fmt.Errorf("%w: %v", ErrInvalidID, v)
		}
		id = int64(t)
	case json.Number:
		n, err := t.Int64()
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidID, t.String())
		}
		id = n
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidID, t)
		}
		id = n
	default:
		return 0, fmt.Errorf("%w: %v", ErrInvalidID, v)
	}
	if id <= 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidID, id)
	}
	return id, nil
}
