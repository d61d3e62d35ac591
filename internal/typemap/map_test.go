package typemap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relgraph/internal/catalog"
	"relgraph/internal/junction"
	"relgraph/internal/naming"
)

func libraryGraph() *catalog.Graph {
	return catalog.NewGraph("library", []catalog.Table{
		{
			Name:    "authors",
			Comment: "people who write books",
			Columns: []catalog.Column{
				{Name: "id", DataType: "bigint", ColumnType: "bigint(20)", Ordinal: 1, IsPrimaryKey: true},
				{Name: "name", DataType: "varchar", ColumnType: "varchar(255)", Ordinal: 2},
				{Name: "born_on", DataType: "date", ColumnType: "date", Ordinal: 3, Nullable: true},
			},
		},
		{
			Name: "books",
			Columns: []catalog.Column{
				{Name: "id", DataType: "bigint", ColumnType: "bigint(20)", Ordinal: 1, IsPrimaryKey: true},
				{Name: "title", DataType: "varchar", ColumnType: "varchar(255)", Ordinal: 2},
				{Name: "author_id", DataType: "bigint", ColumnType: "bigint(20)", Ordinal: 3},
				{Name: "status", DataType: "enum", ColumnType: "enum('draft','published')", Ordinal: 4,
					EnumValues: []string{"draft", "published"}},
				{Name: "tags", DataType: "set", ColumnType: "set('a','b')", Ordinal: 5, Nullable: true,
					EnumValues: []string{"a", "b"}},
				{Name: "metadata", DataType: "json", ColumnType: "json", Ordinal: 6, Nullable: true},
				{Name: "location", DataType: "geometry", ColumnType: "geometry", Ordinal: 7, Nullable: true},
				{Name: "published_at", DataType: "datetime", ColumnType: "datetime", Ordinal: 8,
					Nullable: true, HasDefault: true},
			},
			ForeignKeys: []catalog.ForeignKey{{
				ConstraintName:    "books_ibfk_1",
				Columns:           []string{"author_id"},
				ReferencedTable:   "authors",
				ReferencedColumns: []string{"id"},
			}},
		},
		{
			Name: "genres",
			Columns: []catalog.Column{
				{Name: "id", DataType: "int", ColumnType: "int(11)", Ordinal: 1, IsPrimaryKey: true},
				{Name: "name", DataType: "varchar", ColumnType: "varchar(64)", Ordinal: 2},
			},
		},
		{
			Name: "author_genres",
			Columns: []catalog.Column{
				{Name: "author_id", DataType: "bigint", ColumnType: "bigint(20)", Ordinal: 1, IsPrimaryKey: true},
				{Name: "genre_id", DataType: "int", ColumnType: "int(11)", Ordinal: 2, IsPrimaryKey: true},
			},
			ForeignKeys: []catalog.ForeignKey{
				{ConstraintName: "ag_ibfk_1", Columns: []string{"author_id"},
					ReferencedTable: "authors", ReferencedColumns: []string{"id"}},
				{ConstraintName: "ag_ibfk_2", Columns: []string{"genre_id"},
					ReferencedTable: "genres", ReferencedColumns: []string{"id"}},
			},
		},
	})
}

func mapLibrary(t *testing.T) *Result {
	t.Helper()
	graph := libraryGraph()
	junctions := junction.Classify(graph, junction.Overrides{})
	require.Equal(t, junction.Pure, junctions["author_genres"].Kind)
	return Map(graph, junctions, naming.Config{}, nil)
}

func TestMapBuildsObjectsAndConnections(t *testing.T) {
	result := mapLibrary(t)

	author := result.Object("authors")
	require.NotNil(t, author)
	assert.Equal(t, "Author", author.Name)
	assert.Equal(t, "people who write books", author.Description)

	conn := result.Connection("authors")
	require.NotNil(t, conn)
	assert.Equal(t, "AuthorConnection", conn.Name)
	assert.Same(t, author, conn.OfType)
	assert.Equal(t, []string{"id"}, conn.Pagination.OrderColumns)

	// Pure junctions never map to an object.
	assert.Nil(t, result.Object("author_genres"))
	assert.Equal(t, []string{"authors", "books", "genres"}, result.Order)
}

func TestMapColumnFields(t *testing.T) {
	result := mapLibrary(t)
	book := result.Object("books")
	require.NotNil(t, book)

	title := book.Field("title")
	require.NotNil(t, title)
	assert.Equal(t, OriginColumn, title.Origin)
	assert.Equal(t, ScalarString, title.Type.Scalar)
	assert.False(t, title.Nullable)

	metadata := book.Field("metadata")
	require.NotNil(t, metadata)
	assert.Equal(t, ScalarJSON, metadata.Type.Scalar)
	assert.True(t, metadata.Nullable)
}

func TestMapNullabilityRules(t *testing.T) {
	result := mapLibrary(t)
	book := result.Object("books")

	// Primary keys are never nullable.
	assert.False(t, book.Field("id").Nullable)
	// Nullable with a default loses API nullability.
	assert.False(t, book.Field("publishedAt").Nullable)
	// Nullable without a default keeps it.
	assert.True(t, result.Object("authors").Field("bornOn").Nullable)
}

func TestMapEnumAndSetColumns(t *testing.T) {
	result := mapLibrary(t)
	book := result.Object("books")

	status := book.Field("status")
	require.NotNil(t, status)
	assert.Equal(t, KindEnum, status.Type.Kind)
	assert.Equal(t, "BookStatusEnum", status.Type.Name)
	assert.Equal(t, []string{"draft", "published"}, status.Type.EnumValues)

	tags := book.Field("tags")
	require.NotNil(t, tags)
	assert.Equal(t, KindList, tags.Type.Kind)
	assert.Equal(t, KindEnum, tags.Type.OfType.Kind)
}

func TestMapUnknownTypeFallsBackToString(t *testing.T) {
	result := mapLibrary(t)
	location := result.Object("books").Field("location")
	require.NotNil(t, location)
	assert.Equal(t, ScalarString, location.Type.Scalar)

	found := false
	for _, diag := range result.Diagnostics {
		if diag.Table == "books" {
			found = true
		}
	}
	assert.True(t, found, "unmapped type should leave a diagnostic")
}

func TestMapRelationFields(t *testing.T) {
	result := mapLibrary(t)

	author := result.Object("books").Field("author")
	require.NotNil(t, author)
	assert.Equal(t, OriginForwardRelation, author.Origin)
	assert.Same(t, result.Object("authors"), author.Type)
	assert.Equal(t, []string{"author_id"}, author.Relation.LocalColumns)
	assert.Equal(t, []string{"id"}, author.Relation.RemoteColumns)
	assert.False(t, author.Nullable)

	books := result.Object("authors").Field("books")
	require.NotNil(t, books)
	assert.Equal(t, OriginReverseRelation, books.Origin)
	assert.Same(t, result.Connection("books"), books.Type)
	assert.Equal(t, []string{"id"}, books.Relation.LocalColumns)
	assert.Equal(t, []string{"author_id"}, books.Relation.RemoteColumns)
}

func TestMapManyToManyThroughPureJunction(t *testing.T) {
	result := mapLibrary(t)

	genres := result.Object("authors").Field("genres")
	require.NotNil(t, genres)
	require.NotNil(t, genres.Relation)
	assert.True(t, genres.Relation.ManyToMany())
	assert.Equal(t, "author_genres", genres.Relation.JunctionTable)
	assert.Equal(t, []string{"author_id"}, genres.Relation.JunctionLocalFK)
	assert.Equal(t, []string{"genre_id"}, genres.Relation.JunctionRemoteFK)
	assert.Same(t, result.Connection("genres"), genres.Type)

	authors := result.Object("genres").Field("authors")
	require.NotNil(t, authors)
	assert.Equal(t, "author_genres", authors.Relation.JunctionTable)
}

func TestMapDeterministic(t *testing.T) {
	first := mapLibrary(t)
	second := mapLibrary(t)

	require.Equal(t, first.Order, second.Order)
	for _, table := range first.Order {
		a, b := first.Object(table), second.Object(table)
		require.Equal(t, len(a.Fields), len(b.Fields), table)
		for i := range a.Fields {
			assert.Equal(t, a.Fields[i].Name, b.Fields[i].Name)
			assert.Equal(t, a.Fields[i].Origin, b.Fields[i].Origin)
		}
	}
}

func TestMapRelationCollisionSuffix(t *testing.T) {
	graph := catalog.NewGraph("app", []catalog.Table{
		{
			Name: "publishers",
			Columns: []catalog.Column{
				{Name: "id", DataType: "int", ColumnType: "int(11)", Ordinal: 1, IsPrimaryKey: true},
			},
		},
		{
			Name: "imprints",
			Columns: []catalog.Column{
				{Name: "id", DataType: "int", ColumnType: "int(11)", Ordinal: 1, IsPrimaryKey: true},
				// A column that collides with the forward relation name.
				{Name: "publisher", DataType: "varchar", ColumnType: "varchar(64)", Ordinal: 2},
				{Name: "publisher_id", DataType: "int", ColumnType: "int(11)", Ordinal: 3},
			},
			ForeignKeys: []catalog.ForeignKey{{
				ConstraintName:    "imprints_ibfk_1",
				Columns:           []string{"publisher_id"},
				ReferencedTable:   "publishers",
				ReferencedColumns: []string{"id"},
			}},
		},
	})
	result := Map(graph, junction.Map{}, naming.Config{}, nil)

	imprint := result.Object("imprints")
	require.NotNil(t, imprint)
	// Column wins the bare name; relation gets the constraint suffix.
	assert.Equal(t, OriginColumn, imprint.Field("publisher").Origin)
	relation := imprint.Field("publisherImprintsIbfk1")
	require.NotNil(t, relation)
	assert.Equal(t, OriginForwardRelation, relation.Origin)
}
