package schema

import (
	"net/http"

	"github.com/graphql-go/handler"
)

// HandlerOptions controls the HTTP surface of one snapshot.
type HandlerOptions struct {
	Pretty   bool
	GraphiQL bool
}

// NewHandler wraps a snapshot's schema in a GraphQL HTTP handler. The handler
// is bound to this snapshot; hot swaps install a new handler rather than
// mutating a served schema.
func NewHandler(snap *Snapshot, opts HandlerOptions) http.Handler {
	return handler.New(&handler.Config{
		Schema:     &snap.Schema,
		Pretty:     opts.Pretty,
		GraphiQL:   opts.GraphiQL,
		Playground: true,
	})
}
