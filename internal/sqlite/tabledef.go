package sqlite

import (
	"fmt"
	"strings"

	"github.com/mesh-intelligence/collector/pkg/types"
)

// column maps one single-valued field to a column of the record table.
type column struct {
	field   string
	sqlType string
	ref     string // target table for reference fields
}

// assocTable maps one multivalue field to its association table.
type assocTable struct {
	field   string
	name    string
	sqlType string
	ref     string
}

// TableDef is the relational mapping of one Schema: a record table keyed by
// an autoincrement id plus one association table per multivalue field.
type TableDef struct {
	Name    string
	schema  *types.Schema
	columns []column
	assocs  []assocTable
}

// NewTableDef builds the mapping for s.
func NewTableDef(s *types.Schema) *TableDef {
	d := &TableDef{Name: s.SubcollectionID, schema: s}
	for _, id := range s.Order {
		f := s.Fields[id]
		sqlType := columnType(f.Class())
		var ref string
		if f.IsRef() {
			ref = f.RefCollection
		}
		if f.IsMultivalue() {
			d.assocs = append(d.assocs, assocTable{
				field:   id,
				name:    s.SubcollectionID + "_" + id,
				sqlType: sqlType,
				ref:     ref,
			})
			continue
		}
		d.columns = append(d.columns, column{field: id, sqlType: sqlType, ref: ref})
	}
	return d
}

// columnType maps a field class to its SQLite column type.
func columnType(c types.FieldClass) string {
	switch c {
	case types.ClassInt, types.ClassRef:
		return "INTEGER"
	case types.ClassFloat:
		return "REAL"
	default:
		return "TEXT"
	}
}

// quoteIdentifier quotes a table or column name.
func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// DDL returns the CREATE TABLE statements for the record table and its
// association tables. Foreign keys are declared only for targets present in
// known, the set of tables of the same database.
func (d *TableDef) DDL(known map[string]bool) []string {
	var sb strings.Builder
	sb.WriteString("CREATE TABLE IF NOT EXISTS " + quoteIdentifier(d.Name) + " (\n")
	sb.WriteString("    id INTEGER PRIMARY KEY AUTOINCREMENT")
	for _, c := range d.columns {
		sb.WriteString(",\n    " + quoteIdentifier(c.field) + " " + c.sqlType)
		if c.ref != "" && known[c.ref] {
			sb.WriteString(" REFERENCES " + quoteIdentifier(c.ref) + "(id)")
		}
	}
	sb.WriteString("\n);")
	stmts := []string{sb.String()}

	for _, a := range d.assocs {
		valueDef := "value " + a.sqlType
		if a.ref != "" && known[a.ref] {
			valueDef += " REFERENCES " + quoteIdentifier(a.ref) + "(id)"
		}
		stmts = append(stmts, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    own_id INTEGER NOT NULL REFERENCES %s(id) ON DELETE CASCADE,
    %s
);`, quoteIdentifier(a.name), quoteIdentifier(d.Name), valueDef))
		stmts = append(stmts, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s(own_id);",
			quoteIdentifier("idx_"+a.name+"_own"), quoteIdentifier(a.name)))
	}
	return stmts
}

// columnFor returns the column mapping of a single-valued field.
func (d *TableDef) columnFor(field string) (column, bool) {
	for _, c := range d.columns {
		if c.field == field {
			return c, true
		}
	}
	return column{}, false
}

// assocFor returns the association table of a multivalue field.
func (d *TableDef) assocFor(field string) (assocTable, bool) {
	for _, a := range d.assocs {
		if a.field == field {
			return a, true
		}
	}
	return assocTable{}, false
}

// selectColumns returns the quoted select list of the record table.
func (d *TableDef) selectColumns(alias string) string {
	cols := []string{alias + ".id"}
	for _, c := range d.columns {
		cols = append(cols, alias+"."+quoteIdentifier(c.field))
	}
	return strings.Join(cols, ", ")
}

// toSQL converts a normalized field value to a driver value.
func toSQL(v any) any {
	if r, ok := v.(types.RefValue); ok {
		return r.ID
	}
	return v
}

// fromSQL converts a driver value read from a column of field f.
func fromSQL(f *types.Field, v any) any {
	if b, ok := v.([]byte); ok {
		v = string(b)
	}
	if v == nil {
		return nil
	}
	if f.IsRef() {
		if id, ok := v.(int64); ok {
			return types.RefValue{Collection: f.RefCollection, ID: id}
		}
	}
	return v
}
