package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relgraph/internal/cursor"
)

func planOnly(t *testing.T, p *Planner, root RootQuery, query string, vars map[string]any) (*Plan, Bindings) {
	t.Helper()
	plan, bindings, err := planQuery(t, p, root, query, vars)
	require.NoError(t, err)
	return plan, bindings
}

func TestRenderRootCollection(t *testing.T) {
	p := newTestPlanner(t, Limits{})
	plan, b := planOnly(t, p, RootQuery{Table: "books"},
		`{ books(first: 5, where: {title: {contains: "go"}}) { edges { node { id title } } } }`, nil)

	q, err := RenderRoot(plan.Root, b)
	require.NoError(t, err)
	assert.Contains(t, q.SQL, "FROM `books`")
	assert.Contains(t, q.SQL, "LIKE")
	assert.Contains(t, q.SQL, "ORDER BY `id` ASC")
	// One row past the page for hasNextPage.
	assert.Contains(t, q.SQL, "LIMIT 6")
	assert.Contains(t, q.Args, "%go%")
}

func TestRenderRootSingle(t *testing.T) {
	p := newTestPlanner(t, Limits{})
	plan, b := planOnly(t, p,
		RootQuery{Table: "authors", KeyColumns: []string{"id"}, KeyArgs: []string{"id"}},
		`{ author(id: 7) { name } }`, nil)

	q, err := RenderRoot(plan.Root, b)
	require.NoError(t, err)
	assert.Contains(t, q.SQL, "WHERE `id` = ?")
	assert.Contains(t, q.SQL, "LIMIT 1")
	assert.Equal(t, []any{int64(7)}, q.Args)
}

func TestRenderManyToOneBatch(t *testing.T) {
	p := newTestPlanner(t, Limits{})
	plan, _ := planOnly(t, p, RootQuery{Table: "books"},
		`{ books { edges { node { title author { name } } } } }`, nil)

	child := plan.Root.Children[0]
	require.Equal(t, StepManyToOne, child.Kind)
	q, err := RenderManyToOne(child, []ParentTuple{
		{Key: "1", Values: []any{int64(1)}},
		{Key: "2", Values: []any{int64(2)}},
	})
	require.NoError(t, err)
	assert.Contains(t, q.SQL, "AS __batch_parent_id")
	assert.Contains(t, q.SQL, "`id` IN (?,?)")
	assert.Equal(t, []any{int64(1), int64(2)}, q.Args)
}

func TestRenderBatchPageWindow(t *testing.T) {
	p := newTestPlanner(t, Limits{})
	plan, b := planOnly(t, p, RootQuery{Table: "authors"},
		`{ authors { edges { node { books(first: 2) { edges { node { title } } } } } } }`, nil)

	child := plan.Root.Children[0]
	q, err := RenderBatchPage(child, b, []ParentTuple{
		{Key: "1", Values: []any{int64(1)}},
		{Key: "2", Values: []any{int64(2)}},
	}, 2)
	require.NoError(t, err)
	assert.Contains(t, q.SQL, "ROW_NUMBER() OVER (PARTITION BY")
	assert.Contains(t, q.SQL, "__batch_parent_id")
	assert.Contains(t, q.SQL, "__rn <= ?")
	// Page size plus the sentinel row.
	assert.Equal(t, 3, q.Args[len(q.Args)-1])
}

func TestRenderBatchPageManyToMany(t *testing.T) {
	p := newTestPlanner(t, Limits{})
	plan, b := planOnly(t, p, RootQuery{Table: "books"},
		`{ books { edges { node { genres { edges { node { name } } } } } } }`, nil)

	child := plan.Root.Children[0]
	q, err := RenderBatchPage(child, b, []ParentTuple{{Key: "1", Values: []any{int64(1)}}}, 25)
	require.NoError(t, err)
	assert.Contains(t, q.SQL, "INNER JOIN `book_genres`")
	assert.Contains(t, q.SQL, "`book_genres`.`genre_id` = `genres`.`id`")
	assert.Contains(t, q.SQL, "PARTITION BY `book_genres`.`book_id`")
}

func TestRenderBatchPageWithCursor(t *testing.T) {
	p := newTestPlanner(t, Limits{})
	token, err := cursor.Encode("Book", []string{"id"}, []cursor.Direction{cursor.Asc}, []any{int64(10)})
	require.NoError(t, err)

	plan, b := planOnly(t, p, RootQuery{Table: "authors"},
		`query($c: String) { authors { edges { node { books(first: 2, after: $c) { edges { node { title } } } } } } }`,
		map[string]any{"c": token})

	child := plan.Root.Children[0]
	require.True(t, child.HasAfter)
	q, err := RenderBatchPage(child, b, []ParentTuple{{Key: "1", Values: []any{int64(1)}}}, 2)
	require.NoError(t, err)
	assert.Contains(t, q.SQL, "`books`.`id` > ?")
	assert.Contains(t, q.Args, int64(10))
}

func TestRenderCount(t *testing.T) {
	p := newTestPlanner(t, Limits{})
	plan, b := planOnly(t, p, RootQuery{Table: "books"},
		`{ books(where: {pages: {gte: 100}}) { totalCount edges { node { id } } } }`, nil)

	require.True(t, plan.Root.WantTotal)
	q, err := RenderCount(plan.Root, b)
	require.NoError(t, err)
	assert.Contains(t, q.SQL, "SELECT COUNT(*) FROM `books`")
	assert.Contains(t, q.Args, int64(100))
}

func TestRenderBatchCountGroups(t *testing.T) {
	p := newTestPlanner(t, Limits{})
	plan, b := planOnly(t, p, RootQuery{Table: "authors"},
		`{ authors { edges { node { books { totalCount edges { node { id } } } } } } }`, nil)

	child := plan.Root.Children[0]
	require.True(t, child.WantTotal)
	q, err := RenderBatchCount(child, b, []ParentTuple{
		{Key: "1", Values: []any{int64(1)}},
		{Key: "2", Values: []any{int64(2)}},
	})
	require.NoError(t, err)
	assert.Contains(t, q.SQL, "COUNT(*) AS __count")
	assert.Contains(t, q.SQL, "GROUP BY `books`.`author_id`")
}

func TestPageSizeBounds(t *testing.T) {
	p := newTestPlanner(t, Limits{MaxPageSize: 100})
	plan, b := planOnly(t, p, RootQuery{Table: "books"},
		`{ books(first: 101) { edges { node { id } } } }`, nil)

	_, err := PageSize(plan.Root, b)
	var planErr *Error
	require.ErrorAs(t, err, &planErr)
	assert.Equal(t, InvalidArgument, planErr.Kind)

	// Default applies when first is absent.
	plan2, b2 := planOnly(t, p, RootQuery{Table: "books"},
		`{ books { edges { node { id } } } }`, nil)
	size, err := PageSize(plan2.Root, b2)
	require.NoError(t, err)
	assert.Equal(t, plan2.Root.DefaultLimit, size)
}

func TestRenderRootRejectsBadCursor(t *testing.T) {
	p := newTestPlanner(t, Limits{})
	plan, b := planOnly(t, p, RootQuery{Table: "books"},
		`query($c: String) { books(after: $c) { edges { node { id } } } }`,
		map[string]any{"c": "not-a-cursor"})

	_, err := RenderRoot(plan.Root, b)
	var planErr *Error
	require.ErrorAs(t, err, &planErr)
	assert.Equal(t, InvalidArgument, planErr.Kind)
}
