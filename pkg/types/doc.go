// Package types defines the schema model (Field, Schema, Record), the
// Persistence and Directory interfaces implemented by the storage engines,
// the collection descriptor format, and the standard errors for collector.
package types
