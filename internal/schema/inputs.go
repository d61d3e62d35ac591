package schema

import (
	"strings"

	"github.com/graphql-go/graphql"

	"relgraph/internal/typemap"
)

func (b *builder) connectionArgs(table string) graphql.FieldConfigArgument {
	args := graphql.FieldConfigArgument{
		"first": &graphql.ArgumentConfig{
			Type: graphql.Int,
		},
		"after": &graphql.ArgumentConfig{
			Type: graphql.String,
		},
	}
	if where := b.whereInput(table); where != nil {
		args["where"] = &graphql.ArgumentConfig{
			Type: where,
		}
	}
	if orderBy := b.orderByInput(table); orderBy != nil {
		args["orderBy"] = &graphql.ArgumentConfig{
			Type: graphql.NewList(graphql.NewNonNull(orderBy)),
		}
	}
	return args
}

// whereInput builds the filter input for a table: one operator object per
// filterable column plus AND/OR combinators. The combinators reference the
// input recursively, hence the field map thunk.
func (b *builder) whereInput(table string) *graphql.InputObject {
	desc := b.types.Object(table)
	typeName := desc.Name + "Where"
	if cached, ok := b.wheres[typeName]; ok {
		return cached
	}

	fields := graphql.InputObjectConfigFieldMap{}
	for i := range desc.Fields {
		f := &desc.Fields[i]
		if f.Origin != typemap.OriginColumn {
			continue
		}
		filter := b.filterInput(f.Type)
		if filter == nil {
			continue
		}
		fields[f.Name] = &graphql.InputObjectFieldConfig{
			Type: filter,
		}
	}
	if len(fields) == 0 {
		return nil
	}

	var input *graphql.InputObject
	input = graphql.NewInputObject(graphql.InputObjectConfig{
		Name: typeName,
		Fields: graphql.InputObjectConfigFieldMapThunk(func() graphql.InputObjectConfigFieldMap {
			fields["AND"] = &graphql.InputObjectFieldConfig{
				Type: graphql.NewList(graphql.NewNonNull(input)),
			}
			fields["OR"] = &graphql.InputObjectFieldConfig{
				Type: graphql.NewList(graphql.NewNonNull(input)),
			}
			return fields
		}),
	})
	b.wheres[typeName] = input
	return input
}

// filterInput returns the operator input object for a field type, or nil for
// types that are not filterable through the API.
func (b *builder) filterInput(d *typemap.Descriptor) *graphql.InputObject {
	switch d.Kind {
	case typemap.KindScalar:
		return b.scalarFilterInput(d.Scalar)
	case typemap.KindEnum:
		return b.enumFilterInput()
	case typemap.KindList:
		// SET columns filter on their raw comma-joined value.
		return b.enumFilterInput()
	default:
		return nil
	}
}

func (b *builder) scalarFilterInput(kind typemap.ScalarKind) *graphql.InputObject {
	var name string
	var operand graphql.Input
	switch kind {
	case typemap.ScalarInt:
		name, operand = "IntFilter", graphql.Int
	case typemap.ScalarFloat:
		name, operand = "FloatFilter", graphql.Float
	case typemap.ScalarString:
		name, operand = "StringFilter", graphql.String
	case typemap.ScalarBoolean:
		name, operand = "BooleanFilter", graphql.Boolean
	case typemap.ScalarDateTime:
		name, operand = "DateTimeFilter", b.dateTime
	case typemap.ScalarUUID:
		name, operand = "UUIDFilter", b.uuid
	default:
		// JSON and binary columns are not filterable.
		return nil
	}

	if cached, ok := b.filters[name]; ok {
		return cached
	}

	fields := graphql.InputObjectConfigFieldMap{
		"eq":     &graphql.InputObjectFieldConfig{Type: operand},
		"ne":     &graphql.InputObjectFieldConfig{Type: operand},
		"in":     &graphql.InputObjectFieldConfig{Type: graphql.NewList(graphql.NewNonNull(operand))},
		"notIn":  &graphql.InputObjectFieldConfig{Type: graphql.NewList(graphql.NewNonNull(operand))},
		"isNull": &graphql.InputObjectFieldConfig{Type: graphql.Boolean},
	}
	if kind.Orderable() {
		fields["lt"] = &graphql.InputObjectFieldConfig{Type: operand}
		fields["lte"] = &graphql.InputObjectFieldConfig{Type: operand}
		fields["gt"] = &graphql.InputObjectFieldConfig{Type: operand}
		fields["gte"] = &graphql.InputObjectFieldConfig{Type: operand}
	}
	if kind.Textual() {
		fields["like"] = &graphql.InputObjectFieldConfig{Type: graphql.String}
		fields["notLike"] = &graphql.InputObjectFieldConfig{Type: graphql.String}
		fields["contains"] = &graphql.InputObjectFieldConfig{Type: graphql.String}
		fields["startsWith"] = &graphql.InputObjectFieldConfig{Type: graphql.String}
		fields["endsWith"] = &graphql.InputObjectFieldConfig{Type: graphql.String}
	}

	input := graphql.NewInputObject(graphql.InputObjectConfig{
		Name:   name,
		Fields: fields,
	})
	b.filters[name] = input
	return input
}

// enumFilterInput is the shared filter for enum and SET columns. Operands are
// plain strings carrying the stored database value, so literals and variables
// bind identically.
func (b *builder) enumFilterInput() *graphql.InputObject {
	const name = "EnumFilter"
	if cached, ok := b.filters[name]; ok {
		return cached
	}
	input := graphql.NewInputObject(graphql.InputObjectConfig{
		Name: name,
		Fields: graphql.InputObjectConfigFieldMap{
			"eq":     &graphql.InputObjectFieldConfig{Type: graphql.String},
			"ne":     &graphql.InputObjectFieldConfig{Type: graphql.String},
			"in":     &graphql.InputObjectFieldConfig{Type: graphql.NewList(graphql.NewNonNull(graphql.String))},
			"notIn":  &graphql.InputObjectFieldConfig{Type: graphql.NewList(graphql.NewNonNull(graphql.String))},
			"isNull": &graphql.InputObjectFieldConfig{Type: graphql.Boolean},
		},
	})
	b.filters[name] = input
	return input
}

// orderByInput builds the ordering input for a table, or nil when no column is
// sortable. Order field enum values are named after the API field itself so
// the planner sees the same string whether the client sends a literal or a
// variable.
func (b *builder) orderByInput(table string) *graphql.InputObject {
	desc := b.types.Object(table)
	typeName := desc.Name + "OrderByInput"
	if cached, ok := b.orderBys[typeName]; ok {
		return cached
	}

	values := graphql.EnumValueConfigMap{}
	for i := range desc.Fields {
		f := &desc.Fields[i]
		if f.Origin != typemap.OriginColumn {
			continue
		}
		if f.Type.Kind != typemap.KindScalar || !f.Type.Scalar.Orderable() {
			continue
		}
		values[f.Name] = &graphql.EnumValueConfig{Value: f.Name}
	}
	if len(values) == 0 {
		return nil
	}

	fieldEnum := graphql.NewEnum(graphql.EnumConfig{
		Name:   desc.Name + "OrderField",
		Values: values,
	})
	input := graphql.NewInputObject(graphql.InputObjectConfig{
		Name: typeName,
		Fields: graphql.InputObjectConfigFieldMap{
			"field": &graphql.InputObjectFieldConfig{
				Type: graphql.NewNonNull(fieldEnum),
			},
			"direction": &graphql.InputObjectFieldConfig{
				Type: b.orderDirectionEnum(),
			},
		},
	})
	b.orderBys[typeName] = input
	return input
}

func (b *builder) orderDirectionEnum() *graphql.Enum {
	if b.orderDirection != nil {
		return b.orderDirection
	}
	b.orderDirection = graphql.NewEnum(graphql.EnumConfig{
		Name: "OrderDirection",
		Values: graphql.EnumValueConfigMap{
			"ASC":  &graphql.EnumValueConfig{Value: "ASC"},
			"DESC": &graphql.EnumValueConfig{Value: "DESC"},
		},
	})
	return b.orderDirection
}

// inputType maps a field type to its lookup-argument input type. Enum keys are
// accepted as raw strings for the same literal/variable symmetry as filters.
func (b *builder) inputType(d *typemap.Descriptor) graphql.Input {
	switch d.Kind {
	case typemap.KindScalar:
		switch d.Scalar {
		case typemap.ScalarInt:
			return graphql.Int
		case typemap.ScalarFloat:
			return graphql.Float
		case typemap.ScalarBoolean:
			return graphql.Boolean
		case typemap.ScalarDateTime:
			return b.dateTime
		case typemap.ScalarUUID:
			return b.uuid
		case typemap.ScalarBytes:
			return b.bytes
		default:
			return graphql.String
		}
	default:
		return graphql.String
	}
}

// enumValueName converts a stored enum value into a legal GraphQL enum value
// name: uppercased, with every other rune folded to an underscore.
func enumValueName(value string) string {
	var sb strings.Builder
	for _, r := range strings.ToUpper(value) {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			sb.WriteRune(r)
		default:
			sb.WriteByte('_')
		}
	}
	name := sb.String()
	if name == "" || (name[0] >= '0' && name[0] <= '9') {
		name = "_" + name
	}
	return name
}
