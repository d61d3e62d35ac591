package schema

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/graphql-go/graphql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relgraph/internal/catalog"
	"relgraph/internal/dbexec"
	"relgraph/internal/executor"
)

func libraryGraph() *catalog.Graph {
	return catalog.NewGraph("library", []catalog.Table{
		{
			Name: "authors",
			Columns: []catalog.Column{
				{Name: "id", DataType: "bigint", ColumnType: "bigint(20)", Ordinal: 1, IsPrimaryKey: true},
				{Name: "name", DataType: "varchar", ColumnType: "varchar(255)", Ordinal: 2},
				{Name: "email", DataType: "varchar", ColumnType: "varchar(255)", Ordinal: 3},
			},
			Indexes: []catalog.Index{
				{Name: "uniq_email", Unique: true, Columns: []string{"email"}},
			},
		},
		{
			Name: "books",
			Columns: []catalog.Column{
				{Name: "id", DataType: "bigint", ColumnType: "bigint(20)", Ordinal: 1, IsPrimaryKey: true},
				{Name: "title", DataType: "varchar", ColumnType: "varchar(255)", Ordinal: 2},
				{Name: "status", DataType: "enum", ColumnType: "enum('in print','out of print')",
					Ordinal: 3, EnumValues: []string{"in print", "out of print"}},
				{Name: "author_id", DataType: "bigint", ColumnType: "bigint(20)", Ordinal: 4},
			},
			ForeignKeys: []catalog.ForeignKey{{
				ConstraintName:    "books_ibfk_1",
				Columns:           []string{"author_id"},
				ReferencedTable:   "authors",
				ReferencedColumns: []string{"id"},
			}},
		},
	})
}

func buildTestSnapshot(t *testing.T) (*Snapshot, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	snap, err := Build(libraryGraph(), executor.New(dbexec.NewPoolExecutor(db), nil), Options{})
	require.NoError(t, err)
	return snap, mock
}

func doQuery(t *testing.T, snap *Snapshot, query string, vars map[string]interface{}) *graphql.Result {
	t.Helper()
	return graphql.Do(graphql.Params{
		Schema:         snap.Schema,
		RequestString:  query,
		VariableValues: vars,
		Context:        context.Background(),
	})
}

func TestBuildRootFields(t *testing.T) {
	snap, _ := buildTestSnapshot(t)

	fields := snap.Schema.QueryType().Fields()
	for _, name := range []string{"authors", "author", "authorByEmail", "books", "book"} {
		assert.Contains(t, fields, name)
	}

	typeMap := snap.Schema.TypeMap()
	assert.Contains(t, typeMap, "Author")
	assert.Contains(t, typeMap, "Book")
	assert.Contains(t, typeMap, "BookConnection")
	assert.Contains(t, typeMap, "BookStatusEnum")
	assert.Contains(t, typeMap, "AuthorWhere")
	assert.Contains(t, typeMap, "PageInfo")
}

func TestQueryNestedConnection(t *testing.T) {
	snap, mock := buildTestSnapshot(t)

	mock.ExpectQuery("SELECT `id`, `name` FROM `authors`").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).
			AddRow(1, "alice").AddRow(2, "bob"))
	mock.ExpectQuery(`ROW_NUMBER\(\) OVER \(PARTITION BY`).
		WillReturnRows(sqlmock.NewRows([]string{"f0", "f1", "f2", "__batch_parent_id"}).
			AddRow("dune", 11, 1, 1).
			AddRow("ubik", 12, 2, 2))

	result := doQuery(t, snap, `{
		authors(first: 2) {
			edges { node { id name books(first: 5) { edges { node { title } } } } }
		}
	}`, nil)
	require.Empty(t, result.Errors)
	require.NoError(t, mock.ExpectationsWereMet(), "expected one query per plan step")

	data := result.Data.(map[string]interface{})
	edges := data["authors"].(map[string]interface{})["edges"].([]interface{})
	require.Len(t, edges, 2)

	first := edges[0].(map[string]interface{})["node"].(map[string]interface{})
	assert.Equal(t, "alice", first["name"])
	books := first["books"].(map[string]interface{})["edges"].([]interface{})
	require.Len(t, books, 1)
	assert.Equal(t, "dune", books[0].(map[string]interface{})["node"].(map[string]interface{})["title"])
}

func TestQueryNodesShortcut(t *testing.T) {
	snap, mock := buildTestSnapshot(t)

	mock.ExpectQuery("FROM `authors`").
		WillReturnRows(sqlmock.NewRows([]string{"name", "id"}).
			AddRow("alice", 1).AddRow("bob", 2))

	result := doQuery(t, snap, `{ authors(first: 2) { nodes { name } } }`, nil)
	require.Empty(t, result.Errors)

	nodes := result.Data.(map[string]interface{})["authors"].(map[string]interface{})["nodes"].([]interface{})
	require.Len(t, nodes, 2)
	assert.Equal(t, "alice", nodes[0].(map[string]interface{})["name"])
	assert.Equal(t, "bob", nodes[1].(map[string]interface{})["name"])
}

func TestRootFieldCollisionFailsBuild(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	// "book" and "books" pluralize to the same collection field.
	graph := catalog.NewGraph("library", []catalog.Table{
		{
			Name: "book",
			Columns: []catalog.Column{
				{Name: "id", DataType: "bigint", ColumnType: "bigint(20)", Ordinal: 1, IsPrimaryKey: true},
			},
		},
		{
			Name: "books",
			Columns: []catalog.Column{
				{Name: "id", DataType: "bigint", ColumnType: "bigint(20)", Ordinal: 1, IsPrimaryKey: true},
			},
		},
	})

	_, err = Build(graph, executor.New(dbexec.NewPoolExecutor(db), nil), Options{})
	var buildErr *BuildError
	require.ErrorAs(t, err, &buildErr, "an ambiguous root must fail the build, not publish")
	assert.Equal(t, NameCollision, buildErr.Kind)
	assert.Equal(t, "books", buildErr.Field)
	assert.Equal(t, []string{"book", "books"}, buildErr.Tables)
}

func TestPaginationPagesUnionMatchesSingleFetch(t *testing.T) {
	snap, mock := buildTestSnapshot(t)

	pageQuery := `query($c: String) {
		authors(first: 2, after: $c) {
			pageInfo { hasNextPage endCursor }
			edges { node { id name } }
		}
	}`
	names := func(result *graphql.Result) []string {
		conn := result.Data.(map[string]interface{})["authors"].(map[string]interface{})
		var out []string
		for _, e := range conn["edges"].([]interface{}) {
			out = append(out, e.(map[string]interface{})["node"].(map[string]interface{})["name"].(string))
		}
		return out
	}

	// Page one: three rows back for a page of two trips the sentinel.
	mock.ExpectQuery("FROM `authors`").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).
			AddRow(1, "alice").AddRow(2, "bob").AddRow(3, "carol"))
	first := doQuery(t, snap, pageQuery, nil)
	require.Empty(t, first.Errors)

	pageInfo := first.Data.(map[string]interface{})["authors"].(map[string]interface{})["pageInfo"].(map[string]interface{})
	require.Equal(t, true, pageInfo["hasNextPage"])
	endCursor := pageInfo["endCursor"].(string)

	// Page two: the minted cursor becomes a typed seek bound on the sort key.
	mock.ExpectQuery("`id` > ").
		WithArgs(int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).
			AddRow(3, "carol").AddRow(4, "dan"))
	second := doQuery(t, snap, pageQuery, map[string]interface{}{"c": endCursor})
	require.Empty(t, second.Errors)
	require.NoError(t, mock.ExpectationsWereMet())

	// One unpaginated fetch under the same sort sees the same rows.
	mock.ExpectQuery("FROM `authors`").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).
			AddRow(1, "alice").AddRow(2, "bob").AddRow(3, "carol").AddRow(4, "dan"))
	all := doQuery(t, snap, `{ authors(first: 4) { edges { node { id name } } } }`, nil)
	require.Empty(t, all.Errors)

	assert.Equal(t, names(all), append(names(first), names(second)...),
		"sequential pages cover the full set exactly once, in order")
}

func TestQuerySingleLookup(t *testing.T) {
	snap, mock := buildTestSnapshot(t)

	mock.ExpectQuery("FROM `authors` WHERE `id` = ").
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(7, "alice"))

	result := doQuery(t, snap, `{ author(id: 7) { id name } }`, nil)
	require.Empty(t, result.Errors)

	author := result.Data.(map[string]interface{})["author"].(map[string]interface{})
	assert.Equal(t, "alice", author["name"])
}

func TestQueryUniqueIndexLookup(t *testing.T) {
	snap, mock := buildTestSnapshot(t)

	mock.ExpectQuery("FROM `authors` WHERE `email` = ").
		WithArgs("a@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("alice"))

	result := doQuery(t, snap, `{ authorByEmail(email: "a@example.com") { name } }`, nil)
	require.Empty(t, result.Errors)
	author := result.Data.(map[string]interface{})["authorByEmail"].(map[string]interface{})
	assert.Equal(t, "alice", author["name"])
}

func TestQueryEnumSerialization(t *testing.T) {
	snap, mock := buildTestSnapshot(t)

	mock.ExpectQuery("FROM `books`").
		WillReturnRows(sqlmock.NewRows([]string{"id", "status"}).AddRow(1, "in print"))

	result := doQuery(t, snap, `{ books(first: 1) { edges { node { id status } } } }`, nil)
	require.Empty(t, result.Errors)

	edges := result.Data.(map[string]interface{})["books"].(map[string]interface{})["edges"].([]interface{})
	node := edges[0].(map[string]interface{})["node"].(map[string]interface{})
	assert.Equal(t, "IN_PRINT", node["status"])
}

func TestQueryAliasedColumns(t *testing.T) {
	snap, mock := buildTestSnapshot(t)

	mock.ExpectQuery("FROM `authors`").
		WillReturnRows(sqlmock.NewRows([]string{"name", "id"}).AddRow("alice", 1))

	result := doQuery(t, snap, `{ authors(first: 1) { edges { node { n: name } } } }`, nil)
	require.Empty(t, result.Errors)

	edges := result.Data.(map[string]interface{})["authors"].(map[string]interface{})["edges"].([]interface{})
	node := edges[0].(map[string]interface{})["node"].(map[string]interface{})
	assert.Equal(t, "alice", node["n"])
}

func TestQueryWhereFilterBindsLiterals(t *testing.T) {
	snap, mock := buildTestSnapshot(t)

	mock.ExpectQuery("FROM `authors`").
		WithArgs("alice").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))

	result := doQuery(t, snap,
		`{ authors(first: 1, where: {name: {eq: "alice"}}) { edges { node { id } } } }`, nil)
	require.Empty(t, result.Errors)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryVariablesFlowToSQL(t *testing.T) {
	snap, mock := buildTestSnapshot(t)

	mock.ExpectQuery("FROM `books`").
		WithArgs("%go%").
		WillReturnRows(sqlmock.NewRows([]string{"id", "title"}).AddRow(1, "go in practice"))

	result := doQuery(t, snap,
		`query($t: String) { books(first: 1, where: {title: {contains: $t}}) { edges { node { id title } } } }`,
		map[string]interface{}{"t": "go"})
	require.Empty(t, result.Errors)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryValidationRejectsUnknownField(t *testing.T) {
	snap, mock := buildTestSnapshot(t)

	result := doQuery(t, snap, `{ authors(first: 1) { edges { node { nickname } } } }`, nil)
	assert.NotEmpty(t, result.Errors)
	require.NoError(t, mock.ExpectationsWereMet(), "no SQL may run for an invalid query")
}

// fieldInjector adds computed fields to a single table.
type fieldInjector struct {
	table  string
	fields []ExtraField
}

func (f fieldInjector) TableFields(table *catalog.Table) []ExtraField {
	if table.Name != f.table {
		return nil
	}
	return f.fields
}

func TestExtensionInjectsFields(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ext := fieldInjector{table: "authors", fields: []ExtraField{
		{
			Name: "displayName",
			Type: graphql.String,
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				return "resolved elsewhere", nil
			},
		},
		// Collides with the generated column field and must be dropped.
		{Name: "name", Type: graphql.Int},
	}}

	snap, err := Build(libraryGraph(), executor.New(dbexec.NewPoolExecutor(db), nil), Options{
		Extensions: []Extension{ext},
	})
	require.NoError(t, err)

	mock.ExpectQuery("FROM `authors`").
		WillReturnRows(sqlmock.NewRows([]string{"name", "id"}).AddRow("alice", 1))

	result := doQuery(t, snap, `{ authors(first: 1) { edges { node { name displayName } } } }`, nil)
	require.Empty(t, result.Errors)

	edges := result.Data.(map[string]interface{})["authors"].(map[string]interface{})["edges"].([]interface{})
	node := edges[0].(map[string]interface{})["node"].(map[string]interface{})
	assert.Equal(t, "alice", node["name"], "generated fields win collisions")
	assert.Equal(t, "resolved elsewhere", node["displayName"])
}

func TestBuildEmptyCatalog(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	snap, err := Build(catalog.NewGraph("empty", nil), executor.New(dbexec.NewPoolExecutor(db), nil), Options{})
	require.NoError(t, err)

	result := doQuery(t, snap, `{ _database }`, nil)
	require.Empty(t, result.Errors)
	assert.Equal(t, "empty", result.Data.(map[string]interface{})["_database"])
}
