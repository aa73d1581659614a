// Package refs resolves reference fields of a record into the values of the
// records they point at, looking targets up through a types.Directory.
package refs

import (
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/mesh-intelligence/collector/pkg/types"
)

// Resolver replaces references with referenced field values.
type Resolver struct {
	logger *zap.Logger
}

// New returns a Resolver. A nil logger disables logging.
func New(logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{logger: logger}
}

// Resolve returns a resolved copy of rec. Single references to a missing
// record become the empty string; missing entries of a multivalue reference
// are dropped. A record that is already resolved is returned unchanged.
func (r *Resolver) Resolve(dir types.Directory, rec *types.Record) (*types.Record, error) {
	if rec == nil || rec.Resolved() {
		return rec, nil
	}
	out := make(map[string]any)
	for _, id := range rec.Schema().ReferenceFields() {
		v, err := r.Field(dir, rec, id)
		if err != nil {
			return nil, err
		}
		out[id] = v
	}
	return rec.WithReferences(out), nil
}

// Field resolves the reference field id of rec.
func (r *Resolver) Field(dir types.Directory, rec *types.Record, id string) (any, error) {
	f, err := rec.Schema().Field(id)
	if err != nil {
		return nil, err
	}
	switch v := rec.Get(id).(type) {
	case types.RefValue:
		val, ok, err := r.lookup(dir, f, v)
		if err != nil || !ok {
			return "", err
		}
		return val, nil
	case []any:
		values := make([]any, 0, len(v))
		for _, item := range v {
			ref, isRef := item.(types.RefValue)
			if !isRef {
				continue
			}
			val, ok, err := r.lookup(dir, f, ref)
			if err != nil {
				return nil, err
			}
			if ok {
				values = append(values, val)
			}
		}
		return values, nil
	}
	if f.IsMultivalue() {
		return []any{}, nil
	}
	return "", nil
}

// lookup reads the referenced field of one target record. ok is false when
// the target record does not exist.
func (r *Resolver) lookup(dir types.Directory, f *types.Field, ref types.RefValue) (any, bool, error) {
	coll := ref.Collection
	if coll == "" {
		coll = f.RefCollection
	}
	p, err := dir.Persistence(coll)
	if err != nil {
		return nil, false, fmt.Errorf("resolving %s: %w", ref, err)
	}
	target, err := p.Get(strconv.FormatInt(ref.ID, 10))
	if errors.Is(err, types.ErrNotFound) {
		r.logger.Debug("reference target missing",
			zap.String("field", f.Name()), zap.Stringer("ref", ref))
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("resolving %s: %w", ref, err)
	}
	return target.Get(f.RefField), true, nil
}
