// Package catalog introspects a database's INFORMATION_SCHEMA into a normalized
// metadata graph: tables as nodes, resolved foreign keys as edges. The graph is
// immutable once Introspect returns and is superseded atomically on rebuild.
package catalog

import (
	"sort"
	"strings"
)

// Column describes one column of an introspected table.
type Column struct {
	Name         string
	DataType     string // INFORMATION_SCHEMA.COLUMNS.DATA_TYPE, e.g. "varchar"
	ColumnType   string // full type with size, e.g. "varchar(255)"
	Ordinal      int    // ORDINAL_POSITION, unique within a table
	Nullable     bool
	HasDefault   bool
	IsPrimaryKey bool
	EnumValues   []string // populated for enum columns
	Comment      string
}

// Index describes an index with its ordered column list.
type Index struct {
	Name    string
	Unique  bool
	Columns []string
}

// ForeignKey is a resolved foreign key edge. Columns and ReferencedColumns are
// positional: Columns[i] references ReferencedColumns[i].
type ForeignKey struct {
	ConstraintName    string
	Columns           []string
	ReferencedTable   string
	ReferencedColumns []string
}

// Table is one node of the metadata graph.
type Table struct {
	Schema      string // owning database schema
	Name        string
	Comment     string
	Columns     []Column
	Indexes     []Index
	ForeignKeys []ForeignKey // only edges that survived resolution
	RowEstimate int64        // INFORMATION_SCHEMA.TABLES.TABLE_ROWS hint
	Omitted     bool         // hidden via @omit comment annotation
}

// QualifiedName returns the schema-qualified table identity.
func (t Table) QualifiedName() string {
	if t.Schema == "" {
		return t.Name
	}
	return t.Schema + "." + t.Name
}

// Identifiable reports whether the table has a primary key. Tables without one
// are excluded from single-row lookup fields but still exposed as lists.
func (t Table) Identifiable() bool {
	return len(t.PrimaryKeyColumns()) > 0
}

// PrimaryKeyColumns returns the primary key columns in column order.
func (t Table) PrimaryKeyColumns() []Column {
	var pks []Column
	for _, col := range t.Columns {
		if col.IsPrimaryKey {
			pks = append(pks, col)
		}
	}
	return pks
}

// Column returns the named column, or nil.
func (t Table) Column(name string) *Column {
	for i := range t.Columns {
		if t.Columns[i].Name == name {
			return &t.Columns[i]
		}
	}
	return nil
}

// HasUniqueColumnSet reports whether the given columns form the table's primary
// key or a unique index, in any order.
func (t Table) HasUniqueColumnSet(columns []string) bool {
	want := make(map[string]struct{}, len(columns))
	for _, c := range columns {
		want[c] = struct{}{}
	}
	matches := func(cols []string) bool {
		if len(cols) != len(want) {
			return false
		}
		for _, c := range cols {
			if _, ok := want[c]; !ok {
				return false
			}
		}
		return true
	}

	var pkNames []string
	for _, col := range t.PrimaryKeyColumns() {
		pkNames = append(pkNames, col.Name)
	}
	if len(pkNames) > 0 && matches(pkNames) {
		return true
	}
	for _, idx := range t.Indexes {
		if idx.Unique && matches(idx.Columns) {
			return true
		}
	}
	return false
}

// Edge is a directed relation edge in the graph: the FK's owning table
// references the FK's referenced table.
type Edge struct {
	FromTable string
	FK        ForeignKey
}

// Diagnostic records a non-fatal structural problem found during introspection
// or resolution. The affected relation or column is omitted, never the pass.
type Diagnostic struct {
	Table      string
	Constraint string
	Detail     string
}

// Graph is the resolved metadata graph for one introspection pass.
type Graph struct {
	Database    string
	Tables      []Table // sorted by name
	Diagnostics []Diagnostic

	byName map[string]*Table
}

// Table looks up a table node by name.
func (g *Graph) Table(name string) (*Table, bool) {
	t, ok := g.byName[name]
	return t, ok
}

// Edges returns every resolved foreign key edge in table order.
func (g *Graph) Edges() []Edge {
	var edges []Edge
	for i := range g.Tables {
		for _, fk := range g.Tables[i].ForeignKeys {
			edges = append(edges, Edge{FromTable: g.Tables[i].Name, FK: fk})
		}
	}
	return edges
}

// IncomingEdges returns the edges whose referenced table is name.
func (g *Graph) IncomingEdges(name string) []Edge {
	var edges []Edge
	for _, edge := range g.Edges() {
		if edge.FK.ReferencedTable == name {
			edges = append(edges, edge)
		}
	}
	return edges
}

// NewGraph assembles a graph from already-built table nodes, sorting and
// indexing them. Introspect uses it internally; tests build fixture graphs
// with it directly.
func NewGraph(database string, tables []Table) *Graph {
	g := &Graph{Database: database, Tables: tables}
	sortTables(g.Tables)
	g.index()
	return g
}

func sortTables(tables []Table) {
	sort.Slice(tables, func(i, j int) bool {
		return tables[i].Name < tables[j].Name
	})
}

func (g *Graph) index() {
	g.byName = make(map[string]*Table, len(g.Tables))
	for i := range g.Tables {
		g.byName[g.Tables[i].Name] = &g.Tables[i]
	}
}

// omitMarker is the comment annotation that hides a table or column from the
// generated schema, e.g. "internal bookkeeping @omit".
const omitMarker = "@omit"

func commentRequestsOmit(comment string) bool {
	for _, token := range strings.Fields(comment) {
		if strings.EqualFold(token, omitMarker) {
			return true
		}
	}
	return false
}
