// Package junction classifies many-to-many junction tables in the metadata
// graph. Detection is heuristic, with explicit per-table overrides for schemas
// where the heuristic guesses wrong.
package junction

import "relgraph/internal/catalog"

// Kind describes how a junction table is represented in the generated schema.
type Kind int

const (
	// NotJunction marks a table that is exposed as a regular object type.
	NotJunction Kind = iota
	// Pure marks a junction with only key columns. The table is hidden and
	// the two referenced objects gain direct many-to-many connection fields;
	// the planner still joins through the junction.
	Pure
	// Attribute marks a junction carrying extra columns. It stays visible as
	// an edge object so the attributes remain reachable.
	Attribute
)

func (k Kind) String() string {
	switch k {
	case Pure:
		return "Pure"
	case Attribute:
		return "Attribute"
	default:
		return "NotJunction"
	}
}

// Overrides forces or denies junction classification per table, deciding the
// open question of heuristic strictness in favor of the heuristic plus an
// operator escape hatch.
type Overrides struct {
	// Force lists tables treated as junctions even when the heuristic
	// disagrees (they must still have exactly two resolved foreign keys).
	Force []string
	// Deny lists tables never treated as junctions.
	Deny []string
}

func (o Overrides) forced(name string) bool {
	for _, t := range o.Force {
		if t == name {
			return true
		}
	}
	return false
}

func (o Overrides) denied(name string) bool {
	for _, t := range o.Deny {
		if t == name {
			return true
		}
	}
	return false
}

// Info describes one classified junction table. LeftFK and RightFK are ordered
// alphabetically by referenced table so naming stays stable across rebuilds.
type Info struct {
	Table            string
	Kind             Kind
	LeftFK           catalog.ForeignKey
	RightFK          catalog.ForeignKey
	AttributeColumns []string
}

// Map maps junction table names to their classification.
type Map map[string]Info

// Classify analyzes every table in the graph. A table qualifies as a junction
// when it has exactly two foreign keys to two distinct existing tables, all FK
// columns are NOT NULL, and a primary key or unique index covers them. With no
// non-key attribute columns it is Pure, otherwise Attribute.
func Classify(graph *catalog.Graph, overrides Overrides) Map {
	result := make(Map)
	for i := range graph.Tables {
		table := &graph.Tables[i]
		if table.Omitted || overrides.denied(table.Name) {
			continue
		}
		info, ok := classify(table, graph, overrides.forced(table.Name))
		if ok {
			result[table.Name] = info
		}
	}
	return result
}

func classify(table *catalog.Table, graph *catalog.Graph, forced bool) (Info, bool) {
	if len(table.ForeignKeys) != 2 {
		return Info{}, false
	}
	fk1, fk2 := table.ForeignKeys[0], table.ForeignKeys[1]
	if fk1.ReferencedTable == fk2.ReferencedTable {
		// Self-pairs (e.g. a follows table on users) stay regular tables.
		return Info{}, false
	}
	if _, ok := graph.Table(fk1.ReferencedTable); !ok {
		return Info{}, false
	}
	if _, ok := graph.Table(fk2.ReferencedTable); !ok {
		return Info{}, false
	}

	fkCols := make(map[string]bool)
	for _, fk := range table.ForeignKeys {
		for _, col := range fk.Columns {
			fkCols[col] = true
		}
	}

	if !forced {
		for _, col := range table.Columns {
			if fkCols[col.Name] && col.Nullable {
				return Info{}, false
			}
		}
		if !hasCoveringConstraint(*table, fkCols) {
			return Info{}, false
		}
	}

	var attrs []string
	for _, col := range table.Columns {
		if !fkCols[col.Name] {
			attrs = append(attrs, col.Name)
		}
	}
	kind := Pure
	if len(attrs) > 0 {
		kind = Attribute
	}

	left, right := fk1, fk2
	if left.ReferencedTable > right.ReferencedTable {
		left, right = right, left
	}
	return Info{
		Table:            table.Name,
		Kind:             kind,
		LeftFK:           left,
		RightFK:          right,
		AttributeColumns: attrs,
	}, true
}

func hasCoveringConstraint(table catalog.Table, fkCols map[string]bool) bool {
	pkCols := make(map[string]bool)
	for _, col := range table.PrimaryKeyColumns() {
		pkCols[col.Name] = true
	}
	if coversAll(pkCols, fkCols) {
		return true
	}
	for _, idx := range table.Indexes {
		if !idx.Unique {
			continue
		}
		idxCols := make(map[string]bool, len(idx.Columns))
		for _, col := range idx.Columns {
			idxCols[col] = true
		}
		if coversAll(idxCols, fkCols) {
			return true
		}
	}
	return false
}

func coversAll(covering, required map[string]bool) bool {
	for col := range required {
		if !covering[col] {
			return false
		}
	}
	return true
}
