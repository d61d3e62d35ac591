package executor

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/graphql-go/graphql/language/ast"
	"github.com/graphql-go/graphql/language/parser"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relgraph/internal/catalog"
	"relgraph/internal/cursor"
	"relgraph/internal/dbexec"
	"relgraph/internal/junction"
	"relgraph/internal/naming"
	"relgraph/internal/planner"
	"relgraph/internal/typemap"
)

func libraryGraph() *catalog.Graph {
	return catalog.NewGraph("library", []catalog.Table{
		{
			Name: "authors",
			Columns: []catalog.Column{
				{Name: "id", DataType: "bigint", ColumnType: "bigint(20)", Ordinal: 1, IsPrimaryKey: true},
				{Name: "name", DataType: "varchar", ColumnType: "varchar(255)", Ordinal: 2},
			},
		},
		{
			Name: "books",
			Columns: []catalog.Column{
				{Name: "id", DataType: "bigint", ColumnType: "bigint(20)", Ordinal: 1, IsPrimaryKey: true},
				{Name: "title", DataType: "varchar", ColumnType: "varchar(255)", Ordinal: 2},
				{Name: "author_id", DataType: "bigint", ColumnType: "bigint(20)", Ordinal: 3},
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

func buildPlan(t *testing.T, root planner.RootQuery, query string, vars map[string]any) (*planner.Plan, planner.Bindings) {
	t.Helper()
	graph := libraryGraph()
	junctions := junction.Classify(graph, junction.Overrides{})
	types := typemap.Map(graph, junctions, naming.Config{}, nil)
	p := planner.New(graph, types, planner.Limits{}, nil)

	doc, err := parser.Parse(parser.ParseParams{Source: query})
	require.NoError(t, err)
	op := doc.Definitions[0].(*ast.OperationDefinition)
	field := op.SelectionSet.Selections[0].(*ast.Field)

	plan, bindings, err := p.Plan(context.Background(), root, field, vars, nil)
	require.NoError(t, err)
	return plan, bindings
}

func newMockExecutor(t *testing.T) (*Executor, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(dbexec.NewPoolExecutor(db), nil), mock
}

func TestExecuteBatchesChildFetches(t *testing.T) {
	plan, bindings := buildPlan(t, planner.RootQuery{Table: "authors"},
		`{ authors(first: 3) { edges { node { id name books(first: 5) { edges { node { title } } } } } } }`, nil)

	e, mock := newMockExecutor(t)
	mock.ExpectQuery("SELECT `id`, `name` FROM `authors`").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).
			AddRow(1, "alice").AddRow(2, "bob").AddRow(3, "carol"))
	// One window query covers all three parents.
	childCols := []string{"f0", "f1", "f2", "__batch_parent_id"}
	mock.ExpectQuery(`ROW_NUMBER\(\) OVER \(PARTITION BY`).
		WillReturnRows(sqlmock.NewRows(childCols).
			AddRow("a first", 11, 1, 1).
			AddRow("a second", 12, 1, 1).
			AddRow("b first", 13, 2, 2).
			AddRow("b second", 14, 2, 2).
			AddRow("c first", 15, 3, 3))

	result, err := e.Execute(context.Background(), plan, bindings)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet(), "expected exactly one query per step")

	envelope := result.(map[string]any)
	edges := envelope["edges"].([]any)
	require.Len(t, edges, 3)

	first := edges[0].(map[string]any)["node"].(map[string]any)
	assert.Equal(t, int64(1), first["id"])
	assert.Equal(t, "alice", first["name"])
	books := first["books"].(map[string]any)["edges"].([]any)
	require.Len(t, books, 2)
	assert.Equal(t, "a first", books[0].(map[string]any)["node"].(map[string]any)["title"])

	third := edges[2].(map[string]any)["node"].(map[string]any)
	assert.Len(t, third["books"].(map[string]any)["edges"].([]any), 1)
}

func TestExecuteManyToOneBatch(t *testing.T) {
	plan, bindings := buildPlan(t, planner.RootQuery{Table: "books"},
		`{ books(first: 3) { edges { node { title author { name } } } } }`, nil)

	e, mock := newMockExecutor(t)
	// Fetch order: selected title, then the FK, then the ordering key.
	mock.ExpectQuery("FROM `books`").
		WillReturnRows(sqlmock.NewRows([]string{"title", "author_id", "id"}).
			AddRow("dune", 1, 11).
			AddRow("hyperion", 2, 12).
			AddRow("ubik", 1, 13))
	// Child fetch leads with the referenced key, then the selected columns.
	mock.ExpectQuery("AS __batch_parent_id FROM `authors`").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "__batch_parent_id"}).
			AddRow(1, "alice", 1).
			AddRow(2, "bob", 2))

	result, err := e.Execute(context.Background(), plan, bindings)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	edges := result.(map[string]any)["edges"].([]any)
	require.Len(t, edges, 3)
	node := func(i int) map[string]any { return edges[i].(map[string]any)["node"].(map[string]any) }
	assert.Equal(t, "alice", node(0)["author"].(map[string]any)["name"])
	assert.Equal(t, "bob", node(1)["author"].(map[string]any)["name"])
	assert.Equal(t, "alice", node(2)["author"].(map[string]any)["name"])
}

func TestExecuteSingleLookupMiss(t *testing.T) {
	plan, bindings := buildPlan(t,
		planner.RootQuery{Table: "authors", KeyColumns: []string{"id"}, KeyArgs: []string{"id"}},
		`{ author(id: 99) { id name } }`, nil)

	e, mock := newMockExecutor(t)
	mock.ExpectQuery("FROM `authors`").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}))

	result, err := e.Execute(context.Background(), plan, bindings)
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestExecutePageInfoAndCursors(t *testing.T) {
	plan, bindings := buildPlan(t, planner.RootQuery{Table: "authors"},
		`{ authors(first: 2) { totalCount pageInfo { hasNextPage endCursor } edges { cursor node { id } } } }`, nil)

	e, mock := newMockExecutor(t)
	// Three rows back for a page of two: the sentinel trips hasNextPage.
	mock.ExpectQuery("FROM `authors`").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1).AddRow(2).AddRow(3))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM .authors.`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(41))

	result, err := e.Execute(context.Background(), plan, bindings)
	require.NoError(t, err)

	envelope := result.(map[string]any)
	assert.Equal(t, 41, envelope["totalCount"])
	edges := envelope["edges"].([]any)
	require.Len(t, edges, 2)

	pageInfo := envelope["pageInfo"].(map[string]any)
	assert.Equal(t, true, pageInfo["hasNextPage"])
	assert.Equal(t, false, pageInfo["hasPreviousPage"])

	endCursor := pageInfo["endCursor"].(string)
	assert.Equal(t, edges[1].(map[string]any)["cursor"], endCursor)
	payload, err := cursor.Decode(endCursor)
	require.NoError(t, err)
	assert.Equal(t, "Author", payload.Type)
	assert.Equal(t, []string{"id"}, payload.Columns)
	assert.Equal(t, []string{"2"}, payload.Values)
}

func TestExecuteClassifiesConstraintViolation(t *testing.T) {
	plan, bindings := buildPlan(t, planner.RootQuery{Table: "authors"},
		`{ authors { edges { node { id } } } }`, nil)

	e, mock := newMockExecutor(t)
	mock.ExpectQuery("FROM `authors`").
		WillReturnError(&mysql.MySQLError{Number: 1452, Message: "fk violation"})

	_, err := e.Execute(context.Background(), plan, bindings)
	var execErr *Error
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, ConstraintViolation, execErr.Kind)
}

func TestExecuteClassifiesTimeout(t *testing.T) {
	plan, bindings := buildPlan(t, planner.RootQuery{Table: "authors"},
		`{ authors { edges { node { id } } } }`, nil)

	e, mock := newMockExecutor(t)
	mock.ExpectQuery("FROM `authors`").WillReturnError(context.DeadlineExceeded)

	_, err := e.Execute(context.Background(), plan, bindings)
	var execErr *Error
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, Timeout, execErr.Kind)
}

func TestExecuteNullForeignKey(t *testing.T) {
	plan, bindings := buildPlan(t, planner.RootQuery{Table: "books"},
		`{ books(first: 2) { edges { node { title author { name } } } } }`, nil)

	e, mock := newMockExecutor(t)
	mock.ExpectQuery("FROM `books`").
		WillReturnRows(sqlmock.NewRows([]string{"title", "author_id", "id"}).
			AddRow("orphan", nil, 11))
	// No child query runs: there are no non-null parent keys.

	result, err := e.Execute(context.Background(), plan, bindings)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	edges := result.(map[string]any)["edges"].([]any)
	node := edges[0].(map[string]any)["node"].(map[string]any)
	assert.Nil(t, node["author"])
}
