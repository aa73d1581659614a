package collection

import (
	"fmt"
	"path/filepath"

	"github.com/mesh-intelligence/collector/internal/filestore"
	"github.com/mesh-intelligence/collector/internal/sqlite"
	"github.com/mesh-intelligence/collector/pkg/types"
)

// storageRequest carries what an engine needs to open one subcollection.
type storageRequest struct {
	collectionID string
	dir          string
	config       types.PersistenceConfig
	schema       *types.Schema
}

type opener func(m *Manager, req storageRequest) (types.Persistence, error)

// engines maps descriptor storage keys to engine constructors.
var engines = map[string]opener{
	types.StoragePickle:     openFileStore,
	types.StorageSQLAlchemy: openSQLite,
}

func (m *Manager) openStorage(req storageRequest) (types.Persistence, error) {
	open, ok := engines[req.config.Storage]
	if !ok {
		return nil, fmt.Errorf("%w: %q", types.ErrUnknownStorageEngine, req.config.Storage)
	}
	return open(m, req)
}

func openFileStore(m *Manager, req storageRequest) (types.Persistence, error) {
	return filestore.New(req.schema, filestore.ConfigFrom(req.dir, req.config, m.logger))
}

// openSQLite shares one database per collection. The path parameter selects
// the database file relative to the collection folder, or MemoryPath.
func openSQLite(m *Manager, req storageRequest) (types.Persistence, error) {
	path := req.config.Param("path", req.collectionID+".sqlite")
	key := req.collectionID + "/" + path
	if path != sqlite.MemoryPath {
		if !filepath.IsAbs(path) {
			path = filepath.Join(req.dir, path)
		}
		key = path
	}
	db, err := m.registry.Open(key, path)
	if err != nil {
		return nil, err
	}
	return sqlite.New(db, req.schema, m.logger), nil
}
