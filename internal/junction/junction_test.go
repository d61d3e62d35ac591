package junction

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relgraph/internal/catalog"
)

func libraryGraph(junctionCols []catalog.Column, junctionIndexes []catalog.Index) *catalog.Graph {
	return catalog.NewGraph("library", []catalog.Table{
		{
			Name: "authors",
			Columns: []catalog.Column{
				{Name: "id", DataType: "int", IsPrimaryKey: true},
			},
		},
		{
			Name:    "author_genres",
			Columns: junctionCols,
			Indexes: junctionIndexes,
			ForeignKeys: []catalog.ForeignKey{
				{ConstraintName: "ag_author_fk", Columns: []string{"author_id"}, ReferencedTable: "authors", ReferencedColumns: []string{"id"}},
				{ConstraintName: "ag_genre_fk", Columns: []string{"genre_id"}, ReferencedTable: "genres", ReferencedColumns: []string{"id"}},
			},
		},
		{
			Name: "genres",
			Columns: []catalog.Column{
				{Name: "id", DataType: "int", IsPrimaryKey: true},
			},
		},
	})
}

func TestClassifyPureJunction(t *testing.T) {
	graph := libraryGraph(
		[]catalog.Column{
			{Name: "author_id", IsPrimaryKey: true},
			{Name: "genre_id", IsPrimaryKey: true},
		},
		nil,
	)

	junctions := Classify(graph, Overrides{})
	require.Contains(t, junctions, "author_genres")
	info := junctions["author_genres"]
	assert.Equal(t, Pure, info.Kind)
	assert.Equal(t, "authors", info.LeftFK.ReferencedTable)
	assert.Equal(t, "genres", info.RightFK.ReferencedTable)
	assert.Empty(t, info.AttributeColumns)
}

func TestClassifyAttributeJunction(t *testing.T) {
	graph := libraryGraph(
		[]catalog.Column{
			{Name: "author_id", IsPrimaryKey: true},
			{Name: "genre_id", IsPrimaryKey: true},
			{Name: "since", DataType: "date"},
		},
		nil,
	)

	junctions := Classify(graph, Overrides{})
	require.Contains(t, junctions, "author_genres")
	info := junctions["author_genres"]
	assert.Equal(t, Attribute, info.Kind)
	assert.Equal(t, []string{"since"}, info.AttributeColumns)
}

func TestClassifyRejectsNullableFKColumns(t *testing.T) {
	graph := libraryGraph(
		[]catalog.Column{
			{Name: "author_id", Nullable: true},
			{Name: "genre_id"},
		},
		[]catalog.Index{{Name: "uq", Unique: true, Columns: []string{"author_id", "genre_id"}}},
	)

	junctions := Classify(graph, Overrides{})
	assert.NotContains(t, junctions, "author_genres")
}

func TestClassifyRequiresCoveringConstraint(t *testing.T) {
	graph := libraryGraph(
		[]catalog.Column{
			{Name: "author_id"},
			{Name: "genre_id"},
		},
		[]catalog.Index{{Name: "idx", Unique: false, Columns: []string{"author_id", "genre_id"}}},
	)

	junctions := Classify(graph, Overrides{})
	assert.NotContains(t, junctions, "author_genres")
}

func TestClassifyOverrides(t *testing.T) {
	noConstraint := libraryGraph(
		[]catalog.Column{
			{Name: "author_id"},
			{Name: "genre_id"},
		},
		nil,
	)
	forced := Classify(noConstraint, Overrides{Force: []string{"author_genres"}})
	require.Contains(t, forced, "author_genres")
	assert.Equal(t, Pure, forced["author_genres"].Kind)

	qualifying := libraryGraph(
		[]catalog.Column{
			{Name: "author_id", IsPrimaryKey: true},
			{Name: "genre_id", IsPrimaryKey: true},
		},
		nil,
	)
	denied := Classify(qualifying, Overrides{Deny: []string{"author_genres"}})
	assert.NotContains(t, denied, "author_genres")
}
