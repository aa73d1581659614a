// Package filestore implements the flat-file persistence engine. Records of
// one subcollection are held in memory in insertion order and mirrored to a
// single JSON or gob file with a full atomic rewrite.
package filestore

import (
	"fmt"
	"io"
	"path/filepath"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/mesh-intelligence/collector/internal/refs"
	"github.com/mesh-intelligence/collector/pkg/types"
)

// Sync strategies.
const (
	SyncImmediate = "immediate"
	SyncOnClose   = "on_close"
)

// Config parameterizes a Store.
type Config struct {
	Dir      string // collection folder holding the backing file
	Format   string // FormatJSON (default) or FormatBinary
	Memory   bool   // no backing file
	ReadOnly bool   // load but never write; mutations fail
	Sync     string // SyncImmediate (default) or SyncOnClose
	Logger   *zap.Logger
}

// ConfigFrom reads a Config from descriptor persistence parameters.
func ConfigFrom(dir string, p types.PersistenceConfig, logger *zap.Logger) Config {
	return Config{
		Dir:      dir,
		Format:   p.Param("format", FormatJSON),
		Memory:   p.Flag("memory"),
		ReadOnly: p.Flag("readonly"),
		Sync:     p.Param("sync", SyncImmediate),
		Logger:   logger,
	}
}

// Store is the flat-file Persistence for one subcollection.
type Store struct {
	mu       sync.Mutex
	schema   *types.Schema
	cfg      Config
	codec    codec
	path     string
	records  []*types.Record
	nextID   int64
	dirty    bool
	closed   bool
	resolver *refs.Resolver
	logger   *zap.Logger
}

var _ types.Persistence = (*Store)(nil)

// New creates a Store for schema and loads its backing file when present.
func New(schema *types.Schema, cfg Config) (*Store, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	switch cfg.Sync {
	case "":
		cfg.Sync = SyncImmediate
	case SyncImmediate, SyncOnClose:
	default:
		return nil, fmt.Errorf("unknown sync strategy %q", cfg.Sync)
	}
	c, err := codecFor(cfg.Format)
	if err != nil {
		return nil, err
	}
	s := &Store{
		schema:   schema,
		cfg:      cfg,
		codec:    c,
		nextID:   1,
		resolver: refs.New(cfg.Logger),
		logger:   cfg.Logger.With(zap.String("subcollection", schema.SubcollectionID)),
	}
	if cfg.Memory {
		return s, nil
	}
	s.path = filepath.Join(cfg.Dir, schema.SubcollectionID+c.ext())
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the backing file, empty for memory stores.
func (s *Store) Path() string { return s.path }

func (s *Store) load() error {
	raw, err := readFile(s.path, s.codec)
	if err != nil {
		return err
	}
	s.records = make([]*types.Record, 0, len(raw))
	var maxID int64
	for i, m := range raw {
		rec, err := s.schema.NewRecord(m)
		if err != nil {
			return fmt.Errorf("%s record %d: %w", s.path, i, err)
		}
		if rec.ID == 0 {
			return fmt.Errorf("%s record %d: %w: missing id", s.path, i, types.ErrInvalidID)
		}
		maxID = max(maxID, rec.ID)
		s.records = append(s.records, rec)
	}
	s.nextID = maxID + 1
	s.logger.Debug("loaded records", zap.String("path", s.path), zap.Int("count", len(s.records)))
	return nil
}

// Get returns the record with the given id.
func (s *Store) Get(id string) (*types.Record, error) {
	n, err := types.ParseID(id)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(n)
	if i < 0 {
		return nil, fmt.Errorf("%w: %s %d", types.ErrNotFound, s.schema.SubcollectionID, n)
	}
	return s.records[i].Clone(), nil
}

// GetAll returns records in insertion order from startAt. A limit of 0
// means no limit.
func (s *Store) GetAll(startAt, limit int) ([]*types.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	startAt = max(startAt, 0)
	if startAt >= len(s.records) {
		return []*types.Record{}, nil
	}
	end := len(s.records)
	if limit > 0 && startAt+limit < end {
		end = startAt + limit
	}
	return cloneAll(s.records[startAt:end]), nil
}

// GetLast returns up to count records, newest first.
func (s *Store) GetLast(count int) ([]*types.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*types.Record, 0, min(max(count, 0), len(s.records)))
	for i := len(s.records) - 1; i >= 0 && len(out) < count; i-- {
		out = append(out, s.records[i].Clone())
	}
	return out, nil
}

// Search scans the default field for term, ignoring case.
func (s *Store) Search(term string) ([]*types.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []*types.Record{}
	if s.schema.Default == "" {
		return out, nil
	}
	for _, rec := range s.records {
		v := rec.Get(s.schema.Default)
		values, ok := v.([]any)
		if !ok {
			values = []any{v}
		}
		for _, item := range values {
			if types.ContainsFold(item, term) {
				out = append(out, rec.Clone())
				break
			}
		}
	}
	return out, nil
}

// Filter scans every record against the AND of preds.
func (s *Store) Filter(preds []types.Predicate) ([]*types.Record, error) {
	bound := make([]types.Predicate, len(preds))
	for i, p := range preds {
		b, err := s.schema.Bind(p)
		if err != nil {
			return nil, err
		}
		bound[i] = b
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []*types.Record{}
	for _, rec := range s.records {
		if types.MatchAll(bound, rec) {
			out = append(out, rec.Clone())
		}
	}
	return out, nil
}

// Save creates or updates a record and mirrors the change to the file.
func (s *Store) Save(data map[string]any) (*types.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cfg.ReadOnly {
		return nil, types.ErrReadOnly
	}
	if raw, ok := data[types.IDKey]; ok && raw != nil {
		id, err := types.ParseID(raw)
		if err != nil {
			return nil, err
		}
		i := s.indexOf(id)
		if i < 0 {
			return nil, fmt.Errorf("%w: %s %d", types.ErrNotFound, s.schema.SubcollectionID, id)
		}
		updated := s.records[i].Clone()
		if err := updated.Update(data); err != nil {
			return nil, err
		}
		next := slices.Clone(s.records)
		next[i] = updated
		if err := s.commit(next); err != nil {
			return nil, err
		}
		return updated.Clone(), nil
	}

	rec, err := s.schema.NewRecord(data)
	if err != nil {
		return nil, err
	}
	rec.ID = s.nextID
	if err := s.commit(append(slices.Clone(s.records), rec)); err != nil {
		return nil, err
	}
	s.nextID++
	return rec.Clone(), nil
}

// Delete removes a record. Absent ids are ignored.
func (s *Store) Delete(id string) error {
	n, err := types.ParseID(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cfg.ReadOnly {
		return types.ErrReadOnly
	}
	i := s.indexOf(n)
	if i < 0 {
		return nil
	}
	return s.commit(slices.Delete(slices.Clone(s.records), i, i+1))
}

// AllCreated is a no-op; the flat-file engine has no cross-file schema.
func (s *Store) AllCreated() error { return nil }

// LoadReferences resolves reference fields through dir.
func (s *Store) LoadReferences(dir types.Directory, rec *types.Record) (*types.Record, error) {
	return s.resolver.Resolve(dir, rec)
}

// Close writes pending changes. Further calls are no-ops.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.dirty {
		return s.flush(s.records)
	}
	return nil
}

// commit replaces the in-memory records with next, writing them first when
// the sync strategy is immediate. On a failed write the records are left
// unchanged. The caller must hold s.mu.
func (s *Store) commit(next []*types.Record) error {
	switch {
	case s.cfg.Memory:
	case s.cfg.Sync == SyncOnClose:
		s.dirty = true
	default:
		if err := s.flush(next); err != nil {
			return err
		}
	}
	s.records = next
	return nil
}

// flush rewrites the backing file with records. The caller must hold s.mu.
func (s *Store) flush(records []*types.Record) error {
	wire := make([]map[string]any, len(records))
	for i, rec := range records {
		wire[i] = rec.Wire()
	}
	err := writeAtomic(s.path, func(w io.Writer) error {
		return s.codec.encode(w, wire)
	})
	if err != nil {
		return err
	}
	s.dirty = false
	s.logger.Debug("flushed records", zap.String("path", s.path), zap.Int("count", len(wire)))
	return nil
}

func (s *Store) indexOf(id int64) int {
	for i, rec := range s.records {
		if rec.ID == id {
			return i
		}
	}
	return -1
}

func cloneAll(records []*types.Record) []*types.Record {
	out := make([]*types.Record, len(records))
	for i, rec := range records {
		out[i] = rec.Clone()
	}
	return out
}
