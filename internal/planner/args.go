package planner

import (
	"strconv"

	"github.com/graphql-go/graphql/language/ast"
)

// argValue converts a GraphQL AST value into a plain Go value, resolving
// variable references against the request variables. Numeric literals become
// int64/float64 so they bind directly as SQL arguments.
func argValue(v ast.Value, vars map[string]any) (any, error) {
	switch val := v.(type) {
	case *ast.Variable:
		return vars[val.Name.Value], nil
	case *ast.IntValue:
		n, err := strconv.ParseInt(val.Value, 10, 64)
		if err != nil {
			return nil, errInvalidArgument("", "integer literal %q out of range", val.Value)
		}
		return n, nil
	case *ast.FloatValue:
		f, err := strconv.ParseFloat(val.Value, 64)
		if err != nil {
			return nil, errInvalidArgument("", "float literal %q out of range", val.Value)
		}
		return f, nil
	case *ast.StringValue:
		return val.Value, nil
	case *ast.BooleanValue:
		return val.Value, nil
	case *ast.EnumValue:
		return val.Value, nil
	case *ast.ListValue:
		list := make([]any, 0, len(val.Values))
		for _, item := range val.Values {
			parsed, err := argValue(item, vars)
			if err != nil {
				return nil, err
			}
			list = append(list, parsed)
		}
		return list, nil
	case *ast.ObjectValue:
		obj := make(map[string]any, len(val.Fields))
		for _, field := range val.Fields {
			parsed, err := argValue(field.Value, vars)
			if err != nil {
				return nil, err
			}
			obj[field.Name.Value] = parsed
		}
		return obj, nil
	default:
		return nil, nil
	}
}

// fieldArgs collects a field's arguments into a map, resolving variables.
func fieldArgs(field *ast.Field, vars map[string]any) (map[string]any, error) {
	if len(field.Arguments) == 0 {
		return nil, nil
	}
	args := make(map[string]any, len(field.Arguments))
	for _, arg := range field.Arguments {
		value, err := argValue(arg.Value, vars)
		if err != nil {
			return nil, err
		}
		if value != nil {
			args[arg.Name.Value] = value
		}
	}
	return args, nil
}

// outputName returns the alias if present, else the field name.
func outputName(field *ast.Field) string {
	if field.Alias != nil {
		return field.Alias.Value
	}
	return field.Name.Value
}
