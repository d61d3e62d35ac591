package schema

import (
	"fmt"

	"github.com/graphql-go/graphql"
	"github.com/graphql-go/graphql/language/ast"

	"relgraph/internal/planner"
)

func firstFieldAST(fields []*ast.Field) *ast.Field {
	if len(fields) == 0 {
		return nil
	}
	return fields[0]
}

// resolveAliased reads a field value out of a materialized row. Rows are keyed
// by response alias, so the lookup prefers the alias over the field name.
func resolveAliased(p graphql.ResolveParams) (interface{}, error) {
	source, ok := p.Source.(map[string]interface{})
	if !ok {
		return nil, nil
	}
	key := p.Info.FieldName
	if field := firstFieldAST(p.Info.FieldASTs); field != nil && field.Alias != nil {
		key = field.Alias.Value
	}
	return source[key], nil
}

func fragmentDefinitions(in map[string]ast.Definition) map[string]*ast.FragmentDefinition {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]*ast.FragmentDefinition, len(in))
	for name, def := range in {
		if frag, ok := def.(*ast.FragmentDefinition); ok {
			out[name] = frag
		}
	}
	return out
}

// rootResolver plans the root field's selection and executes the resulting
// batch plan. Everything below the root field resolves from the rows this
// returns; no nested resolver issues SQL.
func (b *builder) rootResolver(root planner.RootQuery) graphql.FieldResolveFn {
	plan := b.planner
	exec := b.exec
	return func(p graphql.ResolveParams) (interface{}, error) {
		field := firstFieldAST(p.Info.FieldASTs)
		if field == nil {
			return nil, fmt.Errorf("missing field selection for %s", root.Table)
		}
		compiled, bindings, err := plan.Plan(p.Context, root, field, p.Info.VariableValues, fragmentDefinitions(p.Info.Fragments))
		if err != nil {
			return nil, err
		}
		return exec.Execute(p.Context, compiled, bindings)
	}
}
