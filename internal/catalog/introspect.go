package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"relgraph/internal/dbexec"
)

// Introspect reads the catalog for databaseName and returns the resolved
// metadata graph. Foreign keys are collected raw during the table scan and
// resolved only after every table has been loaded, so forward references to
// not-yet-seen tables are handled in one pass. Unresolvable edges become
// diagnostics on the graph, never a failed pass.
func Introspect(ctx context.Context, q dbexec.Queryer, databaseName string) (*Graph, error) {
	ctx, span := startSpan(ctx, "catalog.introspect",
		attribute.String("db.name", databaseName),
	)
	defer span.End()

	graph := &Graph{Database: databaseName}

	tables, err := loadTables(ctx, q, databaseName)
	if err != nil {
		recordSpanError(span, err)
		return nil, fmt.Errorf("%w: loading tables: %v", ErrConnectionFailed, err)
	}

	columnsByTable, columnDiags, err := loadColumns(ctx, q, databaseName)
	if err != nil {
		recordSpanError(span, err)
		return nil, fmt.Errorf("%w: loading columns: %v", ErrConnectionFailed, err)
	}
	graph.Diagnostics = append(graph.Diagnostics, columnDiags...)

	keyUsage, err := loadKeyColumnUsage(ctx, q, databaseName)
	if err != nil {
		recordSpanError(span, err)
		return nil, fmt.Errorf("%w: loading key column usage: %v", ErrConnectionFailed, err)
	}

	indexesByTable, err := loadIndexes(ctx, q, databaseName)
	if err != nil {
		recordSpanError(span, err)
		return nil, fmt.Errorf("%w: loading indexes: %v", ErrConnectionFailed, err)
	}

	for _, info := range tables {
		columns := columnsByTable[info.name]
		for _, pk := range keyUsage.primaryKeys[info.name] {
			for i := range columns {
				if columns[i].Name == pk {
					columns[i].IsPrimaryKey = true
				}
			}
		}
		graph.Tables = append(graph.Tables, Table{
			Schema:      databaseName,
			Name:        info.name,
			Comment:     info.comment,
			Columns:     columns,
			Indexes:     indexesByTable[info.name],
			RowEstimate: info.rowEstimate,
			Omitted:     commentRequestsOmit(info.comment),
		})
	}
	sortTables(graph.Tables)
	graph.index()

	resolveForeignKeys(graph, keyUsage.foreignKeys)

	span.SetAttributes(
		attribute.Int("catalog.tables", len(graph.Tables)),
		attribute.Int("catalog.diagnostics", len(graph.Diagnostics)),
	)
	return graph, nil
}

type tableInfo struct {
	name        string
	comment     string
	rowEstimate int64
}

func loadTables(ctx context.Context, q dbexec.Queryer, databaseName string) ([]tableInfo, error) {
	query := `
		SELECT TABLE_NAME, TABLE_ROWS, TABLE_COMMENT
		FROM INFORMATION_SCHEMA.TABLES
		WHERE TABLE_SCHEMA = ?
		AND TABLE_TYPE = 'BASE TABLE'
		ORDER BY TABLE_NAME
	`
	rows, err := q.QueryContext(ctx, query, databaseName)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	var tables []tableInfo
	for rows.Next() {
		var info tableInfo
		var tableRows sql.NullInt64
		var comment sql.NullString
		if err := rows.Scan(&info.name, &tableRows, &comment); err != nil {
			return nil, err
		}
		if tableRows.Valid {
			info.rowEstimate = tableRows.Int64
		}
		if comment.Valid {
			info.comment = strings.TrimSpace(comment.String)
		}
		tables = append(tables, info)
	}
	return tables, rows.Err()
}

func loadColumns(ctx context.Context, q dbexec.Queryer, databaseName string) (map[string][]Column, []Diagnostic, error) {
	query := `
		SELECT TABLE_NAME, COLUMN_NAME, DATA_TYPE, COLUMN_TYPE,
			ORDINAL_POSITION, IS_NULLABLE, COLUMN_DEFAULT, COLUMN_COMMENT
		FROM INFORMATION_SCHEMA.COLUMNS
		WHERE TABLE_SCHEMA = ?
		ORDER BY TABLE_NAME, ORDINAL_POSITION
	`
	rows, err := q.QueryContext(ctx, query, databaseName)
	if err != nil {
		return nil, nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	byTable := make(map[string][]Column)
	var diags []Diagnostic
	for rows.Next() {
		var tableName, isNullable string
		var columnDefault, comment sql.NullString
		var col Column
		if err := rows.Scan(&tableName, &col.Name, &col.DataType, &col.ColumnType,
			&col.Ordinal, &isNullable, &columnDefault, &comment); err != nil {
			return nil, nil, err
		}
		if comment.Valid {
			col.Comment = strings.TrimSpace(comment.String)
		}
		if commentRequestsOmit(col.Comment) {
			continue
		}
		col.Nullable = strings.EqualFold(isNullable, "YES")
		col.HasDefault = columnDefault.Valid

		if strings.EqualFold(col.DataType, "enum") || strings.EqualFold(col.DataType, "set") {
			values, err := parseEnumValues(col.ColumnType)
			if err != nil {
				diags = append(diags, Diagnostic{
					Table:  tableName,
					Detail: fmt.Sprintf("column %s: %v", col.Name, &UnsupportedTypeError{TypeName: col.ColumnType}),
				})
			} else {
				col.EnumValues = values
			}
		}
		byTable[tableName] = append(byTable[tableName], col)
	}
	return byTable, diags, rows.Err()
}

// rawForeignKey is a foreign key as read from the catalog, before the
// referenced side has been validated against the loaded table set.
type rawForeignKey struct {
	table             string
	constraintName    string
	columns           []string
	referencedTable   string
	referencedColumns []string
}

type keyColumnUsage struct {
	primaryKeys map[string][]string
	foreignKeys []rawForeignKey
}

func loadKeyColumnUsage(ctx context.Context, q dbexec.Queryer, databaseName string) (keyColumnUsage, error) {
	usage := keyColumnUsage{primaryKeys: make(map[string][]string)}
	query := `
		SELECT TABLE_NAME, CONSTRAINT_NAME, COLUMN_NAME,
			REFERENCED_TABLE_NAME, REFERENCED_COLUMN_NAME
		FROM INFORMATION_SCHEMA.KEY_COLUMN_USAGE
		WHERE TABLE_SCHEMA = ?
		ORDER BY TABLE_NAME, CONSTRAINT_NAME, ORDINAL_POSITION
	`
	rows, err := q.QueryContext(ctx, query, databaseName)
	if err != nil {
		return usage, err
	}
	defer func() {
		_ = rows.Close()
	}()

	fkIndex := make(map[string]int) // table|constraint -> index into foreignKeys
	for rows.Next() {
		var tableName, constraintName, columnName string
		var refTable, refColumn sql.NullString
		if err := rows.Scan(&tableName, &constraintName, &columnName, &refTable, &refColumn); err != nil {
			return usage, err
		}

		if constraintName == "PRIMARY" {
			usage.primaryKeys[tableName] = append(usage.primaryKeys[tableName], columnName)
			continue
		}
		if !refTable.Valid || !refColumn.Valid {
			continue
		}

		key := tableName + "|" + constraintName
		idx, ok := fkIndex[key]
		if !ok {
			idx = len(usage.foreignKeys)
			fkIndex[key] = idx
			usage.foreignKeys = append(usage.foreignKeys, rawForeignKey{
				table:           tableName,
				constraintName:  constraintName,
				referencedTable: refTable.String,
			})
		}
		fk := &usage.foreignKeys[idx]
		fk.columns = append(fk.columns, columnName)
		fk.referencedColumns = append(fk.referencedColumns, refColumn.String)
	}
	return usage, rows.Err()
}

func loadIndexes(ctx context.Context, q dbexec.Queryer, databaseName string) (map[string][]Index, error) {
	query := `
		SELECT TABLE_NAME, INDEX_NAME, NON_UNIQUE, COLUMN_NAME
		FROM INFORMATION_SCHEMA.STATISTICS
		WHERE TABLE_SCHEMA = ?
		ORDER BY TABLE_NAME, INDEX_NAME, SEQ_IN_INDEX
	`
	rows, err := q.QueryContext(ctx, query, databaseName)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	byTable := make(map[string][]Index)
	for rows.Next() {
		var tableName, indexName, columnName string
		var nonUnique int
		if err := rows.Scan(&tableName, &indexName, &nonUnique, &columnName); err != nil {
			return nil, err
		}
		indexes := byTable[tableName]
		if n := len(indexes); n > 0 && indexes[n-1].Name == indexName {
			indexes[n-1].Columns = append(indexes[n-1].Columns, columnName)
		} else {
			indexes = append(indexes, Index{
				Name:    indexName,
				Unique:  nonUnique == 0,
				Columns: []string{columnName},
			})
		}
		byTable[tableName] = indexes
	}
	return byTable, rows.Err()
}

func parseEnumValues(columnType string) ([]string, error) {
	open := strings.Index(columnType, "(")
	end := strings.LastIndex(columnType, ")")
	if open == -1 || end == -1 || end <= open {
		return nil, fmt.Errorf("malformed enum definition %q", columnType)
	}
	body := columnType[open+1 : end]

	var values []string
	for len(body) > 0 {
		if body[0] != '\'' {
			return nil, fmt.Errorf("malformed enum definition %q", columnType)
		}
		body = body[1:]
		var b strings.Builder
		closed := false
		for i := 0; i < len(body); i++ {
			if body[i] != '\'' {
				b.WriteByte(body[i])
				continue
			}
			// Doubled quote is an escaped quote inside the value.
			if i+1 < len(body) && body[i+1] == '\'' {
				b.WriteByte('\'')
				i++
				continue
			}
			body = body[i+1:]
			closed = true
			break
		}
		if !closed {
			return nil, fmt.Errorf("unterminated enum value in %q", columnType)
		}
		values = append(values, b.String())
		body = strings.TrimPrefix(body, ",")
	}
	return values, nil
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.Tracer("relgraph/catalog")
	ctx, span := tracer.Start(ctx, name)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, span
}

func recordSpanError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
