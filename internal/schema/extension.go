package schema

import (
	"github.com/graphql-go/graphql"

	"relgraph/internal/catalog"
)

// Extension injects additional fields into generated object types. Each
// registered extension is consulted once per table during a build, and the
// injected fields become part of the immutable snapshot like any generated
// field. Generated fields win name collisions.
type Extension interface {
	// TableFields returns extra fields for the given table. Returning nil
	// adds nothing.
	TableFields(table *catalog.Table) []ExtraField
}

// ExtraField is one injected object field.
type ExtraField struct {
	Name        string
	Type        graphql.Output
	Description string
	Args        graphql.FieldConfigArgument
	Resolve     graphql.FieldResolveFn
}
