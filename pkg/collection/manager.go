package collection

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/mesh-intelligence/collector/internal/sqlite"
	"github.com/mesh-intelligence/collector/pkg/types"
)

// CollectionsDir is the folder under the data home that holds collection
// folders.
const CollectionsDir = "collections"

// Metadata describes the discovered top-level collection.
type Metadata struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Author      string `json:"author"`
	Description string `json:"description"`
	Storage     string `json:"storage"`
}

// Manager discovers the collection under a data home and owns the
// persistence engines of its subcollections. A process holds one Manager.
type Manager struct {
	home        string
	logger      *zap.Logger
	factory     *types.FieldFactory
	registry    *sqlite.Registry
	meta        Metadata
	collections map[string]*Collection
	order       []string
}

var _ types.Directory = (*Manager)(nil)

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger. The default discards output.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithFieldFactory replaces the factory used to build schema fields, for
// callers that register additional field classes.
func WithFieldFactory(ff *types.FieldFactory) Option {
	return func(m *Manager) {
		if ff != nil {
			m.factory = ff
		}
	}
}

// NewManager returns a Manager for the data home. Call Discover to load the
// collection.
func NewManager(home string, opts ...Option) *Manager {
	m := &Manager{
		home:        home,
		logger:      zap.NewNop(),
		collections: make(map[string]*Collection),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.factory == nil {
		m.factory = types.NewFieldFactory(m.logger)
	}
	m.registry = sqlite.NewRegistry(m.logger)
	return m
}

// Home returns the data home.
func (m *Manager) Home() string { return m.home }

// Metadata returns the descriptor metadata of the discovered collection.
func (m *Manager) Metadata() Metadata { return m.meta }

// IsCollectionFolder reports whether dir holds a collection descriptor.
func IsCollectionFolder(dir string) bool {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return false
	}
	_, ok := types.FindDescriptor(dir)
	return ok
}

// Discover scans <home>/collections and loads the first collection folder
// whose descriptor and schemas are valid. Invalid folders are logged and
// skipped. A missing or unreadable collections folder yields no collections.
// Discover replaces anything loaded by a previous call.
func (m *Manager) Discover() error {
	if err := m.reset(); err != nil {
		return err
	}
	root := filepath.Join(m.home, CollectionsDir)
	entries, err := os.ReadDir(root)
	if err != nil {
		m.logger.Error("listing collections", zap.String("path", root), zap.Error(err))
		return nil
	}
	for _, e := range entries {
		dir := filepath.Join(root, e.Name())
		if !IsCollectionFolder(dir) {
			continue
		}
		if err := m.load(e.Name(), dir); err != nil {
			m.logger.Error("skipping collection",
				zap.String("collection", e.Name()), zap.Error(err))
			continue
		}
		break
	}

	var errs []error
	for _, id := range m.order {
		if err := m.collections[id].store.AllCreated(); err != nil {
			errs = append(errs, fmt.Errorf("preparing %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// load builds every subcollection of the collection folder dir. On failure
// nothing is kept.
func (m *Manager) load(id, dir string) error {
	d, err := types.LoadDescriptor(dir)
	if err != nil {
		return err
	}
	if err := d.Persistence.Validate(); err != nil {
		return err
	}

	logger := m.logger.With(zap.String("collection", id))
	built := make(map[string]*Collection, len(d.Schemas))
	var order []string
	fail := func(err error) error {
		for _, c := range built {
			if cerr := c.store.Close(); cerr != nil {
				logger.Warn("closing subcollection", zap.String("subcollection", c.id), zap.Error(cerr))
			}
		}
		return err
	}
	for _, e := range d.Schemas {
		schema, err := types.BuildSchema(id, e.ID, e.Schema, m.factory)
		if err != nil {
			return fail(fmt.Errorf("schema %s: %w", e.ID, err))
		}
		store, err := m.openStorage(storageRequest{
			collectionID: id,
			dir:          dir,
			config:       d.Persistence,
			schema:       schema,
		})
		if err != nil {
			return fail(fmt.Errorf("storage for %s: %w", e.ID, err))
		}
		built[e.ID] = &Collection{id: e.ID, schema: schema, store: store, manager: m}
		order = append(order, e.ID)
	}

	m.collections = built
	m.order = order
	m.meta = Metadata{
		ID:          id,
		Title:       d.Name,
		Author:      d.Author,
		Description: d.Description,
		Storage:     d.Persistence.Storage,
	}
	logger.Info("loaded collection",
		zap.String("storage", d.Persistence.Storage), zap.Strings("subcollections", order))
	return nil
}

// Collection returns a subcollection by id.
func (m *Manager) Collection(id string) (*Collection, error) {
	c, ok := m.collections[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", types.ErrCollectionNotFound, id)
	}
	return c, nil
}

// Collections returns the subcollections in declaration order.
func (m *Manager) Collections() []*Collection {
	out := make([]*Collection, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.collections[id])
	}
	return out
}

// Persistence implements types.Directory.
func (m *Manager) Persistence(id string) (types.Persistence, error) {
	c, err := m.Collection(id)
	if err != nil {
		return nil, err
	}
	return c.store, nil
}

// Schema implements types.Directory.
func (m *Manager) Schema(id string) (*types.Schema, error) {
	c, err := m.Collection(id)
	if err != nil {
		return nil, err
	}
	return c.schema, nil
}

// Close flushes and closes every subcollection and database.
func (m *Manager) Close() error {
	return m.reset()
}

func (m *Manager) reset() error {
	var errs []error
	for _, id := range m.order {
		if err := m.collections[id].store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s: %w", id, err))
		}
	}
	if err := m.registry.Close(); err != nil {
		errs = append(errs, err)
	}
	m.collections = make(map[string]*Collection)
	m.order = nil
	m.meta = Metadata{}
	return errors.Join(errs...)
}
