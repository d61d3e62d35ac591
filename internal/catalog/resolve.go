package catalog

import "fmt"

// resolveForeignKeys validates raw foreign keys against the fully loaded table
// set and attaches the surviving edges to their owning tables. An edge is
// rejected with a diagnostic when its referenced table never appeared, when the
// column mapping widths differ, or when the referenced columns are not a
// primary key or unique index of the referenced table. Rejected edges are
// omitted from the graph so field generation never sees them.
func resolveForeignKeys(graph *Graph, raw []rawForeignKey) {
	for _, fk := range raw {
		owner, ok := graph.Table(fk.table)
		if !ok {
			// FK rows for views or filtered tables; nothing to attach to.
			continue
		}

		if len(fk.columns) == 0 || len(fk.columns) != len(fk.referencedColumns) {
			graph.Diagnostics = append(graph.Diagnostics, Diagnostic{
				Table:      fk.table,
				Constraint: fk.constraintName,
				Detail:     "foreign key column mapping widths differ",
			})
			continue
		}

		referenced, ok := graph.Table(fk.referencedTable)
		if !ok {
			graph.Diagnostics = append(graph.Diagnostics, Diagnostic{
				Table:      fk.table,
				Constraint: fk.constraintName,
				Detail:     fmt.Sprintf("referenced table %s not found in catalog", fk.referencedTable),
			})
			continue
		}

		if !referenced.HasUniqueColumnSet(fk.referencedColumns) {
			graph.Diagnostics = append(graph.Diagnostics, Diagnostic{
				Table:      fk.table,
				Constraint: fk.constraintName,
				Detail: fmt.Sprintf("referenced columns %v are not a primary key or unique index of %s",
					fk.referencedColumns, fk.referencedTable),
			})
			continue
		}

		owner.ForeignKeys = append(owner.ForeignKeys, ForeignKey{
			ConstraintName:    fk.constraintName,
			Columns:           append([]string(nil), fk.columns...),
			ReferencedTable:   fk.referencedTable,
			ReferencedColumns: append([]string(nil), fk.referencedColumns...),
		})
	}
}
