// Package collection pairs schemas with their persistence engines and
// discovers the collection stored under a data home.
package collection

import (
	"fmt"

	"github.com/mesh-intelligence/collector/pkg/types"
)

// DefaultLastCount is the number of records GetLast returns when the caller
// asks for zero or fewer.
const DefaultLastCount = 10

// Collection is one subcollection: a schema bound to the persistence engine
// that stores its records.
type Collection struct {
	id      string
	schema  *types.Schema
	store   types.Persistence
	manager *Manager
}

// ID returns the subcollection id.
func (c *Collection) ID() string { return c.id }

// Name returns the display name declared by the schema.
func (c *Collection) Name() string { return c.schema.Name }

// Image returns the representative image of the subcollection resolved
// against the data home.
func (c *Collection) Image() string {
	if c.schema.Image == "" {
		return ""
	}
	return types.ResolveImagePath(c.schema.Image, c.manager.home)
}

// Schema returns the subcollection schema.
func (c *Collection) Schema() *types.Schema { return c.schema }

// Persistence returns the storage engine.
func (c *Collection) Persistence() types.Persistence { return c.store }

// Get returns a record by id.
func (c *Collection) Get(id string) (*types.Record, error) {
	return c.store.Get(id)
}

// GetAll returns records in insertion order. A limit of 0 means all.
func (c *Collection) GetAll(startAt, limit int) ([]*types.Record, error) {
	return c.store.GetAll(startAt, limit)
}

// GetLast returns the newest records first.
func (c *Collection) GetLast(count int) ([]*types.Record, error) {
	if count <= 0 {
		count = DefaultLastCount
	}
	return c.store.GetLast(count)
}

// Query searches the default field for term.
func (c *Collection) Query(term string) ([]*types.Record, error) {
	return c.store.Search(term)
}

// Filter returns the records matching every predicate.
func (c *Collection) Filter(preds []types.Predicate) ([]*types.Record, error) {
	return c.store.Filter(preds)
}

// Save creates or updates a record.
func (c *Collection) Save(data map[string]any) (*types.Record, error) {
	return c.store.Save(data)
}

// Delete removes a record.
func (c *Collection) Delete(id string) error {
	return c.store.Delete(id)
}

// LoadReferences returns a copy of rec with its references replaced by the
// referenced values.
func (c *Collection) LoadReferences(rec *types.Record) (*types.Record, error) {
	return c.store.LoadReferences(c.manager, rec)
}

// ImagePath returns the filesystem path of an image field of rec.
func (c *Collection) ImagePath(rec *types.Record, field string) (string, error) {
	f, err := c.schema.Field(field)
	if err != nil {
		return "", err
	}
	if f.Class() != types.ClassImage {
		return "", fmt.Errorf("%w: field %q is %s, not an image", types.ErrTypeValueMismatch, field, f.PrettyType())
	}
	v, _ := rec.Get(field).(string)
	if v == "" {
		return "", nil
	}
	return types.ResolveImagePath(v, c.manager.home), nil
}
