package types

import "errors"

// Field and schema construction errors.
var (
	ErrMissingName           = errors.New("field name is required")
	ErrUnknownFieldClass     = errors.New("unknown field class")
	ErrInvalidReference      = errors.New("reference must be collection.field")
	ErrTypeValueMismatch     = errors.New("value shape does not match field")
	ErrNotMultivalued        = errors.New("field is not multivalued")
	ErrCast                  = errors.New("value cannot be converted to field class")
	ErrFieldNotFound         = errors.New("field not found")
	ErrSchemaOrderIncomplete = errors.New("order must list every field exactly once")
	ErrInvalidDescriptor     = errors.New("invalid collection descriptor")
)

// Record and persistence errors.
var (
	ErrInvalidID               = errors.New("invalid record ID")
	ErrNotFound                = errors.New("record not found")
	ErrUnsupportedFilter       = errors.New("unsupported filter")
	ErrUnknownStorageEngine    = errors.New("unknown storage engine")
	ErrMalformedReferenceValue = errors.New("malformed reference value")
	ErrStorageNotReady         = errors.New("storage tables have not been created")
	ErrStillReferenced         = errors.New("record is still referenced")
	ErrReadOnly                = errors.New("storage is read-only")
)

// Collection lookup errors.
var (
	ErrCollectionNotFound = errors.New("collection not found")
)
