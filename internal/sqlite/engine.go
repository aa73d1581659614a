package sqlite

import (
	"database/sql"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/mesh-intelligence/collector/internal/refs"
	"github.com/mesh-intelligence/collector/pkg/types"
)

// Engine is the relational Persistence for one subcollection.
type Engine struct {
	db       *Database
	schema   *types.Schema
	def      *TableDef
	closed   bool
	resolver *refs.Resolver
	logger   *zap.Logger
}

var _ types.Persistence = (*Engine)(nil)

// New registers the table mapping of schema in db. Tables are created by
// AllCreated once every subcollection of the collection is registered.
func New(db *Database, schema *types.Schema, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := NewTableDef(schema)
	db.register(def)
	return &Engine{
		db:       db,
		schema:   schema,
		def:      def,
		resolver: refs.New(logger),
		logger:   logger.With(zap.String("table", def.Name)),
	}
}

// Def returns the table mapping.
func (e *Engine) Def() *TableDef { return e.def }

func (e *Engine) check() error {
	if e.closed || !e.db.ready(e.def.Name) {
		return fmt.Errorf("%w: %s", types.ErrStorageNotReady, e.def.Name)
	}
	return nil
}

// Get returns the record with the given id.
func (e *Engine) Get(id string) (*types.Record, error) {
	n, err := types.ParseID(id)
	if err != nil {
		return nil, err
	}
	if err := e.check(); err != nil {
		return nil, err
	}
	return e.get(n)
}

func (e *Engine) get(id int64) (*types.Record, error) {
	recs, err := e.query("t.id = ?", []any{id}, "")
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("%w: %s %d", types.ErrNotFound, e.def.Name, id)
	}
	return recs[0], nil
}

// GetAll returns records in insertion order from startAt. A limit of 0
// means no limit.
func (e *Engine) GetAll(startAt, limit int) ([]*types.Record, error) {
	if err := e.check(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = -1
	}
	return e.query("", []any{limit, max(startAt, 0)}, " ORDER BY t.id LIMIT ? OFFSET ?")
}

// GetLast returns up to count records, newest first.
func (e *Engine) GetLast(count int) ([]*types.Record, error) {
	if err := e.check(); err != nil {
		return nil, err
	}
	if count <= 0 {
		return []*types.Record{}, nil
	}
	return e.query("", []any{count}, " ORDER BY t.id DESC LIMIT ?")
}

// Search matches term against the default field, ignoring case.
func (e *Engine) Search(term string) ([]*types.Record, error) {
	if err := e.check(); err != nil {
		return nil, err
	}
	if e.schema.Default == "" {
		return []*types.Record{}, nil
	}
	where, args := e.condition(types.Like(e.schema.Default, term))
	return e.query(where, args, " ORDER BY t.id")
}

// Filter returns records matching the AND of preds.
func (e *Engine) Filter(preds []types.Predicate) ([]*types.Record, error) {
	var conds []string
	var args []any
	for _, p := range preds {
		b, err := e.schema.Bind(p)
		if err != nil {
			return nil, err
		}
		c, a := e.condition(b)
		conds = append(conds, c)
		args = append(args, a...)
	}
	if err := e.check(); err != nil {
		return nil, err
	}
	return e.query(strings.Join(conds, " AND "), args, " ORDER BY t.id")
}

// condition translates a bound predicate into a WHERE fragment.
func (e *Engine) condition(p types.Predicate) (string, []any) {
	if p.Field == types.IDKey {
		return "t.id = ?", []any{p.Value}
	}
	var expr string
	var arg any
	switch p.Op {
	case types.FilterLike:
		expr = foldFunc + "(%s) LIKE ? ESCAPE '\\'"
		term, _ := p.Value.(string)
		arg = likePattern(term)
	default:
		expr = "%s = ?"
		arg = toSQL(p.Value)
	}
	if a, ok := e.def.assocFor(p.Field); ok {
		return fmt.Sprintf("EXISTS (SELECT 1 FROM %s a WHERE a.own_id = t.id AND "+expr+")",
			quoteIdentifier(a.name), "a.value"), []any{arg}
	}
	return fmt.Sprintf(expr, "t."+quoteIdentifier(p.Field)), []any{arg}
}

// likePattern builds a lowercase containment pattern escaping LIKE wildcards.
func likePattern(term string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(strings.ToLower(term)) + "%"
}

// query selects record rows and loads their association values.
func (e *Engine) query(where string, args []any, suffix string) ([]*types.Record, error) {
	q := "SELECT " + e.def.selectColumns("t") + " FROM " + quoteIdentifier(e.def.Name) + " t"
	if where != "" {
		q += " WHERE " + where
	}
	q += suffix

	rows, err := e.db.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", e.def.Name, err)
	}
	var raws []map[string]any
	for rows.Next() {
		dest := make([]any, 1+len(e.def.columns))
		ptrs := make([]any, len(dest))
		for i := range dest {
			ptrs[i] = &dest[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning %s: %w", e.def.Name, err)
		}
		raw := map[string]any{types.IDKey: dest[0]}
		for i, c := range e.def.columns {
			raw[c.field] = fromSQL(e.schema.Fields[c.field], dest[i+1])
		}
		raws = append(raws, raw)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	out := make([]*types.Record, 0, len(raws))
	for _, raw := range raws {
		for _, a := range e.def.assocs {
			values, err := e.assocValues(a, raw[types.IDKey])
			if err != nil {
				return nil, err
			}
			raw[a.field] = values
		}
		rec, err := e.schema.NewRecord(raw)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", e.def.Name, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

func (e *Engine) assocValues(a assocTable, ownID any) ([]any, error) {
	rows, err := e.db.db.Query("SELECT value FROM "+quoteIdentifier(a.name)+" WHERE own_id = ? ORDER BY id", ownID)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", a.name, err)
	}
	defer rows.Close()

	f := e.schema.Fields[a.field]
	values := []any{}
	for rows.Next() {
		var v any
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		if v = fromSQL(f, v); v != nil {
			values = append(values, v)
		}
	}
	return values, rows.Err()
}

// Save inserts a record when data has no id and updates the supplied fields
// of the stored record otherwise.
func (e *Engine) Save(data map[string]any) (*types.Record, error) {
	if err := e.check(); err != nil {
		return nil, err
	}
	if raw, ok := data[types.IDKey]; ok && raw != nil {
		id, err := types.ParseID(raw)
		if err != nil {
			return nil, err
		}
		return e.update(id, data)
	}
	return e.insert(data)
}

func (e *Engine) insert(data map[string]any) (*types.Record, error) {
	rec, err := e.schema.NewRecord(data)
	if err != nil {
		return nil, err
	}
	tx, err := e.db.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	stmt := "INSERT INTO " + quoteIdentifier(e.def.Name) + " DEFAULT VALUES"
	var args []any
	if len(e.def.columns) > 0 {
		cols := make([]string, len(e.def.columns))
		marks := make([]string, len(e.def.columns))
		for i, c := range e.def.columns {
			cols[i] = quoteIdentifier(c.field)
			marks[i] = "?"
			args = append(args, toSQL(rec.Get(c.field)))
		}
		stmt = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
			quoteIdentifier(e.def.Name), strings.Join(cols, ", "), strings.Join(marks, ", "))
	}
	res, err := tx.Exec(stmt, args...)
	if err != nil {
		return nil, e.writeError(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	for _, a := range e.def.assocs {
		if err := insertAssoc(tx, a, id, rec.Get(a.field)); err != nil {
			return nil, e.writeError(err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	rec.ID = id
	return rec, nil
}

func (e *Engine) update(id int64, data map[string]any) (*types.Record, error) {
	rec, err := e.get(id)
	if err != nil {
		return nil, err
	}
	if err := rec.Update(data); err != nil {
		return nil, err
	}
	tx, err := e.db.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var sets []string
	var args []any
	for _, c := range e.def.columns {
		if _, ok := data[c.field]; ok {
			sets = append(sets, quoteIdentifier(c.field)+" = ?")
			args = append(args, toSQL(rec.Get(c.field)))
		}
	}
	if len(sets) > 0 {
		args = append(args, id)
		stmt := "UPDATE " + quoteIdentifier(e.def.Name) + " SET " + strings.Join(sets, ", ") + " WHERE id = ?"
		if _, err := tx.Exec(stmt, args...); err != nil {
			return nil, e.writeError(err)
		}
	}
	for _, a := range e.def.assocs {
		if _, ok := data[a.field]; !ok {
			continue
		}
		if _, err := tx.Exec("DELETE FROM "+quoteIdentifier(a.name)+" WHERE own_id = ?", id); err != nil {
			return nil, err
		}
		if err := insertAssoc(tx, a, id, rec.Get(a.field)); err != nil {
			return nil, e.writeError(err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return rec, nil
}

func insertAssoc(tx *sql.Tx, a assocTable, ownID int64, value any) error {
	values, _ := value.([]any)
	for _, v := range values {
		_, err := tx.Exec("INSERT INTO "+quoteIdentifier(a.name)+" (own_id, value) VALUES (?, ?)", ownID, toSQL(v))
		if err != nil {
			return err
		}
	}
	return nil
}

// Delete removes a record and its association rows. Absent ids are ignored.
// Returns ErrStillReferenced when another row points at the record.
func (e *Engine) Delete(id string) error {
	n, err := types.ParseID(id)
	if err != nil {
		return err
	}
	if err := e.check(); err != nil {
		return err
	}
	_, err = e.db.db.Exec("DELETE FROM "+quoteIdentifier(e.def.Name)+" WHERE id = ?", n)
	if isForeignKeyError(err) {
		return fmt.Errorf("%w: %s %d", types.ErrStillReferenced, e.def.Name, n)
	}
	return err
}

// writeError maps a foreign key failure on insert or update to ErrNotFound
// for the referenced record.
func (e *Engine) writeError(err error) error {
	if isForeignKeyError(err) {
		return fmt.Errorf("%w: referenced record in %s: %v", types.ErrNotFound, e.def.Name, err)
	}
	return err
}

func isForeignKeyError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

// AllCreated materializes the tables of every subcollection in the database.
func (e *Engine) AllCreated() error {
	return e.db.materialize()
}

// LoadReferences resolves references of rec by reading the target table
// when it lives in the same database; other references are resolved
// through dir. The reference values of rec are used, not the stored row.
func (e *Engine) LoadReferences(dir types.Directory, rec *types.Record) (*types.Record, error) {
	if rec == nil || rec.Resolved() {
		return rec, nil
	}
	if err := e.check(); err != nil {
		return nil, err
	}
	out := make(map[string]any)
	for _, id := range e.schema.ReferenceFields() {
		v, ok, err := e.joinReference(rec, id)
		if err != nil {
			return nil, err
		}
		if !ok {
			if v, err = e.resolver.Field(dir, rec, id); err != nil {
				return nil, err
			}
		}
		out[id] = v
	}
	return rec.WithReferences(out), nil
}

// joinReference reads the referenced field for the reference values of rec
// from the target table. ok is false when the table cannot serve the field.
func (e *Engine) joinReference(rec *types.Record, id string) (any, bool, error) {
	f := e.schema.Fields[id]
	target, ok := e.db.table(f.RefCollection)
	if !ok || !e.db.ready(target.Name) {
		return nil, false, nil
	}
	tc, ok := target.columnFor(f.RefField)
	if !ok {
		return nil, false, nil
	}

	var targets []types.RefValue
	switch v := rec.Get(id).(type) {
	case types.RefValue:
		targets = []types.RefValue{v}
	case []any:
		for _, item := range v {
			if ref, isRef := item.(types.RefValue); isRef {
				targets = append(targets, ref)
			}
		}
	}
	for _, ref := range targets {
		if ref.Collection != "" && ref.Collection != f.RefCollection {
			return nil, false, nil
		}
	}

	values, err := e.targetValues(target, tc.field, targets)
	if err != nil {
		return nil, false, fmt.Errorf("loading %s: %w", id, err)
	}
	if f.IsMultivalue() {
		out := []any{}
		for _, ref := range targets {
			if v, found := values[ref.ID]; found && v != nil {
				out = append(out, v)
			}
		}
		return out, true, nil
	}
	if len(targets) == 0 {
		return "", true, nil
	}
	if v, found := values[targets[0].ID]; found && v != nil {
		return v, true, nil
	}
	return "", true, nil
}

// targetValues reads field of the target rows with the given ids, keyed by id.
func (e *Engine) targetValues(target *TableDef, field string, targets []types.RefValue) (map[int64]any, error) {
	out := make(map[int64]any, len(targets))
	if len(targets) == 0 {
		return out, nil
	}
	marks := make([]string, len(targets))
	args := make([]any, len(targets))
	for i, ref := range targets {
		marks[i] = "?"
		args[i] = ref.ID
	}
	rows, err := e.db.db.Query(fmt.Sprintf("SELECT r.id, r.%s FROM %s r WHERE r.id IN (%s)",
		quoteIdentifier(field), quoteIdentifier(target.Name), strings.Join(marks, ", ")), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tf := target.schema.Fields[field]
	for rows.Next() {
		var (
			rid int64
			v   any
		)
		if err := rows.Scan(&rid, &v); err != nil {
			return nil, err
		}
		out[rid] = fromSQL(tf, v)
	}
	return out, rows.Err()
}

// Close detaches the engine. The database is closed by its Registry.
func (e *Engine) Close() error {
	e.closed = true
	return nil
}
