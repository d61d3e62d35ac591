package planner

import (
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"relgraph/internal/cursor"
	"relgraph/internal/typemap"
)

// OrderTerm is one column of a collection ordering. Ordering is structural:
// it is part of the plan shape, shapes the cursor, and never rebinds.
type OrderTerm struct {
	Column    string
	Field     string // API field name, empty for implicit tiebreak columns
	Kind      typemap.ScalarKind
	Direction cursor.Direction
	Tiebreak  bool
}

// parseOrderBy validates an orderBy argument and appends the implicit
// tiebreak: any pagination ordering column (normally the primary key) not
// already present is added ascending, so the total order is deterministic even
// when the requested columns contain duplicates.
func parseOrderBy(obj *typemap.Descriptor, pagination *typemap.Pagination, raw any, path string) ([]OrderTerm, error) {
	var terms []OrderTerm
	seen := make(map[string]bool)

	if raw != nil {
		items, ok := raw.([]any)
		if !ok {
			return nil, errInvalidArgument(path, "orderBy must be a list")
		}
		for _, item := range items {
			spec, ok := item.(map[string]any)
			if !ok {
				return nil, errInvalidArgument(path, "orderBy entries must be objects")
			}
			name, _ := spec["field"].(string)
			field := obj.Field(name)
			if field == nil || field.Origin != typemap.OriginColumn {
				return nil, errInvalidArgument(path, "no sortable field named %q on %s", name, obj.Name)
			}
			if field.Type.Kind != typemap.KindScalar || !field.Type.Scalar.Orderable() {
				return nil, errTypeMismatch(path, "field %s of type %s cannot be sorted",
					name, field.Type.Name)
			}
			direction := cursor.Asc
			if d, _ := spec["direction"].(string); strings.EqualFold(d, "DESC") {
				direction = cursor.Desc
			}
			if seen[field.Column] {
				continue
			}
			seen[field.Column] = true
			terms = append(terms, OrderTerm{
				Column:    field.Column,
				Field:     name,
				Kind:      field.Type.Scalar,
				Direction: direction,
			})
		}
	}

	for _, col := range pagination.OrderColumns {
		if seen[col] {
			continue
		}
		seen[col] = true
		term := OrderTerm{Column: col, Direction: cursor.Asc, Tiebreak: true}
		if field := fieldForColumn(obj, col); field != nil && field.Type.Kind == typemap.KindScalar {
			term.Field = field.Name
			term.Kind = field.Type.Scalar
		}
		terms = append(terms, term)
	}
	return terms, nil
}

func fieldForColumn(obj *typemap.Descriptor, column string) *typemap.Field {
	for i := range obj.Fields {
		if obj.Fields[i].Origin == typemap.OriginColumn && obj.Fields[i].Column == column {
			return &obj.Fields[i]
		}
	}
	return nil
}

func orderColumns(terms []OrderTerm) []string {
	cols := make([]string, len(terms))
	for i, t := range terms {
		cols[i] = t.Column
	}
	return cols
}

func orderDirections(terms []OrderTerm) []cursor.Direction {
	dirs := make([]cursor.Direction, len(terms))
	for i, t := range terms {
		dirs[i] = t.Direction
	}
	return dirs
}

// orderClause renders the ORDER BY expression for a term list.
func orderClause(terms []OrderTerm, qualify func(string) string) string {
	parts := make([]string, len(terms))
	for i, t := range terms {
		parts[i] = fmt.Sprintf("%s %s", qualify(t.Column), t.Direction)
	}
	return strings.Join(parts, ", ")
}

// seekCondition builds the lexicographic boundary predicate for cursor
// pagination: rows strictly after the cursor row in the plan's total order.
func seekCondition(terms []OrderTerm, values []any, qualify func(string) string) (sq.Sqlizer, error) {
	if len(values) != len(terms) {
		return nil, errInvalidArgument("", "cursor value count does not match ordering")
	}
	var alternatives sq.Or
	for i := range terms {
		var clause sq.And
		for j := 0; j < i; j++ {
			clause = append(clause, sq.Eq{qualify(terms[j].Column): values[j]})
		}
		column := qualify(terms[i].Column)
		if terms[i].Direction == cursor.Desc {
			clause = append(clause, sq.Lt{column: values[i]})
		} else {
			clause = append(clause, sq.Gt{column: values[i]})
		}
		alternatives = append(alternatives, clause)
	}
	return alternatives, nil
}

// valueKind maps a scalar kind to the cursor value parser for that column.
func valueKind(kind typemap.ScalarKind) cursor.ValueKind {
	switch kind {
	case typemap.ScalarInt:
		return cursor.KindInt
	case typemap.ScalarFloat:
		return cursor.KindFloat
	case typemap.ScalarBoolean:
		return cursor.KindBool
	case typemap.ScalarDateTime:
		return cursor.KindTime
	case typemap.ScalarBytes:
		return cursor.KindBytes
	default:
		return cursor.KindString
	}
}

// decodeSeek decodes and validates an after cursor against the plan ordering,
// returning the typed boundary values.
func decodeSeek(typeName string, terms []OrderTerm, token string) ([]any, error) {
	payload, err := cursor.Decode(token)
	if err != nil {
		return nil, errInvalidArgument("", "%v", err)
	}
	if err := payload.Validate(typeName, orderColumns(terms), orderDirections(terms)); err != nil {
		return nil, errInvalidArgument("", "%v", err)
	}
	values := make([]any, len(terms))
	for i, term := range terms {
		parsed, err := cursor.ParseValue(valueKind(term.Kind), payload.Values[i])
		if err != nil {
			return nil, errInvalidArgument("", "%v", err)
		}
		values[i] = parsed
	}
	return values, nil
}
