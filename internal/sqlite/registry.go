// Package sqlite implements the relational persistence engine on SQLite.
// Each top-level collection owns one database; each subcollection maps to a
// record table, each multivalue field to an association table and each
// reference field to a foreign key.
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/mesh-intelligence/collector/pkg/types"
)

// MemoryPath selects an in-memory database.
const MemoryPath = ":memory:"

// Registry shares one Database per path among the engines of a process.
type Registry struct {
	mu     sync.Mutex
	dbs    map[string]*Database
	logger *zap.Logger
}

// NewRegistry returns an empty registry. A nil logger disables logging.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{dbs: make(map[string]*Database), logger: logger}
}

// Open returns the database registered under key, opening path on first use.
// Memory databases need a distinct key per collection.
func (r *Registry) Open(key, path string) (*Database, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if db, ok := r.dbs[key]; ok {
		return db, nil
	}
	db, err := openDatabase(path, r.logger)
	if err != nil {
		return nil, err
	}
	r.dbs[key] = db
	return db, nil
}

// Close closes every database. Close is idempotent.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for key, db := range r.dbs {
		if err := db.close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s: %w", key, err))
		}
		delete(r.dbs, key)
	}
	return errors.Join(errs...)
}

// Database is one SQLite database holding the tables of a collection.
type Database struct {
	mu      sync.Mutex
	db      *sql.DB
	path    string
	defs    []*TableDef
	created map[string]bool
	logger  *zap.Logger
}

func openDatabase(path string, logger *zap.Logger) (*Database, error) {
	dsn := "file::memory:"
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("creating %s: %w", filepath.Dir(path), err)
		}
		dsn = "file:" + path
	}
	db, err := sql.Open("sqlite", dsn+"?_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	// One connection keeps a memory database alive and serializes access.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	logger.Debug("opened database", zap.String("path", path))
	return &Database{
		db:      db,
		path:    path,
		created: make(map[string]bool),
		logger:  logger,
	}, nil
}

// Path returns the database file, or MemoryPath.
func (d *Database) Path() string { return d.path }

// register adds a table definition to be created by materialize.
func (d *Database) register(def *TableDef) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.defs = append(d.defs, def)
}

// ready reports whether the table has been materialized and the database is
// open.
func (d *Database) ready(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.db != nil && d.created[name]
}

func (d *Database) table(name string) (*TableDef, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, def := range d.defs {
		if def.Name == name {
			return def, true
		}
	}
	return nil, false
}

// materialize creates every registered table not yet created. Foreign keys
// are resolved against the full set of registered tables.
func (d *Database) materialize() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.db == nil {
		return fmt.Errorf("%w: database %s is closed", types.ErrStorageNotReady, d.path)
	}
	known := make(map[string]bool, len(d.defs))
	for _, def := range d.defs {
		known[def.Name] = true
	}
	tx, err := d.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	var pending []string
	for _, def := range d.defs {
		if d.created[def.Name] {
			continue
		}
		for _, stmt := range def.DDL(known) {
			d.logger.Debug("executing DDL", zap.String("statement", stmt))
			if _, err := tx.Exec(stmt); err != nil {
				return fmt.Errorf("creating table %s: %w", def.Name, err)
			}
		}
		pending = append(pending, def.Name)
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	for _, name := range pending {
		d.created[name] = true
	}
	return nil
}

func (d *Database) close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.db == nil {
		return nil
	}
	err := d.db.Close()
	d.db = nil
	return err
}
