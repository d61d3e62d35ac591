// Package sqlutil provides small SQL helpers shared by the planner and executor.
package sqlutil

import "strings"

// QuoteIdentifier quotes a SQL identifier (table or column name) with backticks,
// escaping any backticks within the identifier.
func QuoteIdentifier(name string) string {
	escaped := strings.ReplaceAll(name, "`", "``")
	return "`" + escaped + "`"
}

// QualifyColumn returns alias.column with both parts quoted. An empty alias
// yields the bare quoted column.
func QualifyColumn(alias, column string) string {
	if alias == "" {
		return QuoteIdentifier(column)
	}
	return QuoteIdentifier(alias) + "." + QuoteIdentifier(column)
}
