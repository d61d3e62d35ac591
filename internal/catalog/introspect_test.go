package catalog

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relgraph/internal/dbexec"
)

// mockCatalog wires up the four catalog queries against sqlmock. Row sets are
// given per concern; pass nil for an empty result.
type mockCatalog struct {
	tables  *sqlmock.Rows
	columns *sqlmock.Rows
	keys    *sqlmock.Rows
	indexes *sqlmock.Rows
}

func tableRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"TABLE_NAME", "TABLE_ROWS", "TABLE_COMMENT"})
}

func columnRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"TABLE_NAME", "COLUMN_NAME", "DATA_TYPE", "COLUMN_TYPE",
		"ORDINAL_POSITION", "IS_NULLABLE", "COLUMN_DEFAULT", "COLUMN_COMMENT",
	})
}

func keyRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"TABLE_NAME", "CONSTRAINT_NAME", "COLUMN_NAME",
		"REFERENCED_TABLE_NAME", "REFERENCED_COLUMN_NAME",
	})
}

func indexRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"TABLE_NAME", "INDEX_NAME", "NON_UNIQUE", "COLUMN_NAME"})
}

func (m mockCatalog) introspect(t *testing.T) (*Graph, error) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() {
		_ = db.Close()
	}()

	if m.tables == nil {
		m.tables = tableRows()
	}
	if m.columns == nil {
		m.columns = columnRows()
	}
	if m.keys == nil {
		m.keys = keyRows()
	}
	if m.indexes == nil {
		m.indexes = indexRows()
	}
	mock.ExpectQuery("INFORMATION_SCHEMA.TABLES").WithArgs("library").WillReturnRows(m.tables)
	mock.ExpectQuery("INFORMATION_SCHEMA.COLUMNS").WithArgs("library").WillReturnRows(m.columns)
	mock.ExpectQuery("INFORMATION_SCHEMA.KEY_COLUMN_USAGE").WithArgs("library").WillReturnRows(m.keys)
	mock.ExpectQuery("INFORMATION_SCHEMA.STATISTICS").WithArgs("library").WillReturnRows(m.indexes)

	graph, introspectErr := Introspect(context.Background(), dbexec.NewPoolExecutor(db), "library")
	require.NoError(t, mock.ExpectationsWereMet())
	return graph, introspectErr
}

func TestIntrospectResolvesForeignKeys(t *testing.T) {
	graph, err := mockCatalog{
		tables: tableRows().
			AddRow("authors", 3, "").
			AddRow("books", 5, ""),
		columns: columnRows().
			AddRow("authors", "id", "int", "int", 1, "NO", nil, "").
			AddRow("authors", "name", "varchar", "varchar(255)", 2, "NO", nil, "").
			AddRow("books", "id", "int", "int", 1, "NO", nil, "").
			AddRow("books", "author_id", "int", "int", 2, "NO", nil, "").
			AddRow("books", "title", "varchar", "varchar(255)", 3, "YES", nil, ""),
		keys: keyRows().
			AddRow("authors", "PRIMARY", "id", nil, nil).
			AddRow("books", "PRIMARY", "id", nil, nil).
			AddRow("books", "books_ibfk_1", "author_id", "authors", "id"),
		indexes: indexRows().
			AddRow("authors", "PRIMARY", 0, "id").
			AddRow("books", "PRIMARY", 0, "id"),
	}.introspect(t)

	require.NoError(t, err)
	require.Len(t, graph.Tables, 2)
	assert.Empty(t, graph.Diagnostics)

	books, ok := graph.Table("books")
	require.True(t, ok)
	require.Len(t, books.ForeignKeys, 1)
	assert.Equal(t, "authors", books.ForeignKeys[0].ReferencedTable)
	assert.Equal(t, []string{"author_id"}, books.ForeignKeys[0].Columns)
	assert.Equal(t, int64(5), books.RowEstimate)

	incoming := graph.IncomingEdges("authors")
	require.Len(t, incoming, 1)
	assert.Equal(t, "books", incoming[0].FromTable)
}

func TestIntrospectDefersForwardReferences(t *testing.T) {
	// books is scanned before zines alphabetically, but its FK to zines must
	// still resolve once the full table set is loaded.
	graph, err := mockCatalog{
		tables: tableRows().
			AddRow("books", 0, "").
			AddRow("zines", 0, ""),
		columns: columnRows().
			AddRow("books", "id", "int", "int", 1, "NO", nil, "").
			AddRow("books", "zine_id", "int", "int", 2, "YES", nil, "").
			AddRow("zines", "id", "int", "int", 1, "NO", nil, ""),
		keys: keyRows().
			AddRow("books", "PRIMARY", "id", nil, nil).
			AddRow("books", "books_zine_fk", "zine_id", "zines", "id").
			AddRow("zines", "PRIMARY", "id", nil, nil),
	}.introspect(t)

	require.NoError(t, err)
	books, ok := graph.Table("books")
	require.True(t, ok)
	require.Len(t, books.ForeignKeys, 1)
	assert.Empty(t, graph.Diagnostics)
}

func TestIntrospectRejectsNonUniqueReference(t *testing.T) {
	graph, err := mockCatalog{
		tables: tableRows().
			AddRow("authors", 0, "").
			AddRow("books", 0, ""),
		columns: columnRows().
			AddRow("authors", "id", "int", "int", 1, "NO", nil, "").
			AddRow("authors", "pen_name", "varchar", "varchar(64)", 2, "YES", nil, "").
			AddRow("books", "id", "int", "int", 1, "NO", nil, "").
			AddRow("books", "author_pen", "varchar", "varchar(64)", 2, "YES", nil, ""),
		keys: keyRows().
			AddRow("authors", "PRIMARY", "id", nil, nil).
			AddRow("books", "PRIMARY", "id", nil, nil).
			AddRow("books", "books_pen_fk", "author_pen", "authors", "pen_name"),
		indexes: indexRows().
			// pen_name carries a non-unique index only.
			AddRow("authors", "idx_pen_name", 1, "pen_name"),
	}.introspect(t)

	require.NoError(t, err)
	books, ok := graph.Table("books")
	require.True(t, ok)
	assert.Empty(t, books.ForeignKeys, "edge with non-unique target must be omitted")
	require.Len(t, graph.Diagnostics, 1)
	assert.Equal(t, "books", graph.Diagnostics[0].Table)
	assert.Equal(t, "books_pen_fk", graph.Diagnostics[0].Constraint)
	assert.Contains(t, graph.Diagnostics[0].Detail, "not a primary key or unique index")
}

func TestIntrospectMissingReferencedTable(t *testing.T) {
	graph, err := mockCatalog{
		tables: tableRows().AddRow("books", 0, ""),
		columns: columnRows().
			AddRow("books", "id", "int", "int", 1, "NO", nil, "").
			AddRow("books", "shelf_id", "int", "int", 2, "YES", nil, ""),
		keys: keyRows().
			AddRow("books", "PRIMARY", "id", nil, nil).
			AddRow("books", "books_shelf_fk", "shelf_id", "shelves", "id"),
	}.introspect(t)

	require.NoError(t, err)
	books, ok := graph.Table("books")
	require.True(t, ok)
	assert.Empty(t, books.ForeignKeys)
	require.Len(t, graph.Diagnostics, 1)
	assert.Contains(t, graph.Diagnostics[0].Detail, "shelves")
}

func TestIntrospectTableWithoutPrimaryKey(t *testing.T) {
	graph, err := mockCatalog{
		tables: tableRows().AddRow("audit_log", 100, ""),
		columns: columnRows().
			AddRow("audit_log", "message", "text", "text", 1, "YES", nil, "").
			AddRow("audit_log", "logged_at", "datetime", "datetime", 2, "NO", "CURRENT_TIMESTAMP", ""),
	}.introspect(t)

	require.NoError(t, err)
	logTable, ok := graph.Table("audit_log")
	require.True(t, ok)
	assert.False(t, logTable.Identifiable())
	assert.True(t, logTable.Columns[1].HasDefault)
}

func TestIntrospectParsesEnumValues(t *testing.T) {
	graph, err := mockCatalog{
		tables: tableRows().AddRow("books", 0, ""),
		columns: columnRows().
			AddRow("books", "id", "int", "int", 1, "NO", nil, "").
			AddRow("books", "status", "enum", "enum('draft','published','it''s odd')", 2, "NO", "'draft'", ""),
		keys: keyRows().AddRow("books", "PRIMARY", "id", nil, nil),
	}.introspect(t)

	require.NoError(t, err)
	books, _ := graph.Table("books")
	status := books.Column("status")
	require.NotNil(t, status)
	assert.Equal(t, []string{"draft", "published", "it's odd"}, status.EnumValues)
}

func TestIntrospectOmitAnnotations(t *testing.T) {
	graph, err := mockCatalog{
		tables: tableRows().
			AddRow("books", 0, "").
			AddRow("schema_migrations", 0, "tool bookkeeping @omit"),
		columns: columnRows().
			AddRow("books", "id", "int", "int", 1, "NO", nil, "").
			AddRow("books", "internal_notes", "text", "text", 2, "YES", nil, "@omit").
			AddRow("schema_migrations", "version", "varchar", "varchar(64)", 1, "NO", nil, ""),
		keys: keyRows().AddRow("books", "PRIMARY", "id", nil, nil),
	}.introspect(t)

	require.NoError(t, err)
	migrations, ok := graph.Table("schema_migrations")
	require.True(t, ok)
	assert.True(t, migrations.Omitted)

	books, _ := graph.Table("books")
	assert.Nil(t, books.Column("internal_notes"), "@omit column is dropped from the graph")
}

func TestIntrospectConnectionFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() {
		_ = db.Close()
	}()
	mock.ExpectQuery("INFORMATION_SCHEMA.TABLES").WillReturnError(errors.New("dial tcp: refused"))

	_, err = Introspect(context.Background(), dbexec.NewPoolExecutor(db), "library")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConnectionFailed))
}

func TestParseEnumValuesMalformed(t *testing.T) {
	_, err := parseEnumValues("enum(broken")
	assert.Error(t, err)
	_, err = parseEnumValues("enum('unterminated)")
	assert.Error(t, err)
}
