package planner

import (
	"fmt"
	"sort"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"relgraph/internal/typemap"
)

// Filter is the validated shape of a where argument. It carries no literal
// values: conditions record the argument path their value is read from, so a
// cached plan rebinds fresh literals on every execution.
type Filter struct {
	And   []*Filter
	Or    []*Filter
	Conds []Condition // combined with AND
}

// Condition is one column/operator pair in a filter shape.
type Condition struct {
	Column string
	Field  string // API field name, for value lookup and error paths
	Kind   typemap.ScalarKind
	Enum   bool
	Op     string
}

// Operators shared by every column kind.
var baseOps = map[string]bool{
	"eq": true, "ne": true, "in": true, "notIn": true, "isNull": true,
}

// Operators needing an ordered kind.
var rangeOps = map[string]bool{
	"lt": true, "lte": true, "gt": true, "gte": true,
}

// Operators needing a textual kind.
var textOps = map[string]bool{
	"like": true, "notLike": true, "contains": true, "startsWith": true, "endsWith": true,
}

// parseFilter validates a raw where argument against an object descriptor and
// returns its shape. Operator applicability is checked here, at plan time;
// literal values are not inspected.
func parseFilter(obj *typemap.Descriptor, raw any, path string) (*Filter, error) {
	filterMap, ok := raw.(map[string]any)
	if !ok {
		return nil, errInvalidArgument(path, "where must be an object")
	}
	filter := &Filter{}
	for _, key := range sortedKeys(filterMap) {
		value := filterMap[key]
		switch key {
		case "AND", "OR":
			items, ok := value.([]any)
			if !ok {
				return nil, errInvalidArgument(path, "%s must be a list of filters", key)
			}
			for i, item := range items {
				sub, err := parseFilter(obj, item, fmt.Sprintf("%s.%s[%d]", path, key, i))
				if err != nil {
					return nil, err
				}
				if key == "AND" {
					filter.And = append(filter.And, sub)
				} else {
					filter.Or = append(filter.Or, sub)
				}
			}
		default:
			conds, err := parseFieldConditions(obj, key, value, path)
			if err != nil {
				return nil, err
			}
			filter.Conds = append(filter.Conds, conds...)
		}
	}
	return filter, nil
}

func parseFieldConditions(obj *typemap.Descriptor, fieldName string, value any, path string) ([]Condition, error) {
	field := obj.Field(fieldName)
	if field == nil || field.Origin != typemap.OriginColumn {
		return nil, errInvalidArgument(path, "no filterable field named %q on %s", fieldName, obj.Name)
	}
	ops, ok := value.(map[string]any)
	if !ok {
		return nil, errInvalidArgument(path, "filter for %s must be an object of operators", fieldName)
	}

	var kind typemap.ScalarKind
	enum := false
	switch field.Type.Kind {
	case typemap.KindScalar:
		kind = field.Type.Scalar
	case typemap.KindEnum:
		enum = true
	case typemap.KindList:
		enum = true
	default:
		return nil, errInvalidArgument(path, "field %s is not filterable", fieldName)
	}

	var conds []Condition
	for _, op := range sortedKeys(ops) {
		if err := checkOperator(op, kind, enum, fieldName, path); err != nil {
			return nil, err
		}
		conds = append(conds, Condition{
			Column: field.Column,
			Field:  fieldName,
			Kind:   kind,
			Enum:   enum,
			Op:     op,
		})
	}
	if len(conds) == 0 {
		return nil, errInvalidArgument(path, "filter for %s has no operators", fieldName)
	}
	return conds, nil
}

func checkOperator(op string, kind typemap.ScalarKind, enum bool, fieldName, path string) error {
	if baseOps[op] {
		return nil
	}
	if rangeOps[op] {
		if enum || !kind.Orderable() {
			return errTypeMismatch(path, "operator %s not applicable to %s field %s",
				op, kindLabel(kind, enum), fieldName)
		}
		return nil
	}
	if textOps[op] {
		if enum || !kind.Textual() {
			return errTypeMismatch(path, "operator %s not applicable to %s field %s",
				op, kindLabel(kind, enum), fieldName)
		}
		return nil
	}
	return errInvalidArgument(path, "unknown filter operator %s on %s", op, fieldName)
}

func kindLabel(kind typemap.ScalarKind, enum bool) string {
	if enum {
		return "enum"
	}
	return kind.String()
}

// renderFilter turns a filter shape plus the raw where argument of the current
// request into a SQL condition. The shape and the argument are guaranteed to
// align because the plan cache key covers the argument structure.
func renderFilter(f *Filter, raw any, qualify func(string) string) (sq.Sqlizer, error) {
	filterMap, _ := raw.(map[string]any)
	var parts []sq.Sqlizer

	for _, cond := range f.Conds {
		ops, _ := filterMap[cond.Field].(map[string]any)
		rendered, err := renderCondition(cond, ops[cond.Op], qualify)
		if err != nil {
			return nil, err
		}
		parts = append(parts, rendered)
	}
	if len(f.And) > 0 {
		items, _ := filterMap["AND"].([]any)
		for i, sub := range f.And {
			var subRaw any
			if i < len(items) {
				subRaw = items[i]
			}
			rendered, err := renderFilter(sub, subRaw, qualify)
			if err != nil {
				return nil, err
			}
			parts = append(parts, rendered)
		}
	}
	if len(f.Or) > 0 {
		items, _ := filterMap["OR"].([]any)
		var alternatives sq.Or
		for i, sub := range f.Or {
			var subRaw any
			if i < len(items) {
				subRaw = items[i]
			}
			rendered, err := renderFilter(sub, subRaw, qualify)
			if err != nil {
				return nil, err
			}
			alternatives = append(alternatives, rendered)
		}
		parts = append(parts, alternatives)
	}

	switch len(parts) {
	case 0:
		// An empty filter matches everything.
		return sq.Expr("1 = 1"), nil
	case 1:
		return parts[0], nil
	default:
		return sq.And(parts), nil
	}
}

func renderCondition(cond Condition, value any, qualify func(string) string) (sq.Sqlizer, error) {
	column := qualify(cond.Column)
	switch cond.Op {
	case "eq":
		return sq.Eq{column: value}, nil
	case "ne":
		return sq.NotEq{column: value}, nil
	case "lt":
		return sq.Lt{column: value}, nil
	case "lte":
		return sq.LtOrEq{column: value}, nil
	case "gt":
		return sq.Gt{column: value}, nil
	case "gte":
		return sq.GtOrEq{column: value}, nil
	case "in", "notIn":
		list, ok := value.([]any)
		if !ok {
			return nil, errInvalidArgument("", "%s operator on %s requires a list", cond.Op, cond.Field)
		}
		if cond.Op == "in" {
			return sq.Eq{column: list}, nil
		}
		return sq.NotEq{column: list}, nil
	case "isNull":
		isNull, ok := value.(bool)
		if !ok {
			return nil, errInvalidArgument("", "isNull on %s requires a boolean", cond.Field)
		}
		if isNull {
			return sq.Eq{column: nil}, nil
		}
		return sq.NotEq{column: nil}, nil
	case "like", "notLike", "contains", "startsWith", "endsWith":
		s, ok := value.(string)
		if !ok {
			return nil, errInvalidArgument("", "%s operator on %s requires a string", cond.Op, cond.Field)
		}
		pattern := s
		switch cond.Op {
		case "contains":
			pattern = "%" + escapeLike(s) + "%"
		case "startsWith":
			pattern = escapeLike(s) + "%"
		case "endsWith":
			pattern = "%" + escapeLike(s)
		}
		if cond.Op == "notLike" {
			return sq.NotLike{column: pattern}, nil
		}
		return sq.Like{column: pattern}, nil
	default:
		return nil, errInvalidArgument("", "unknown filter operator %s", cond.Op)
	}
}

// escapeLike escapes LIKE metacharacters so user input matches literally.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	s = strings.ReplaceAll(s, "_", `\_`)
	return s
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
