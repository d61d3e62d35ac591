package planner

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/graphql-go/graphql/language/ast"
)

// Shape hashing: a plan is cached under the canonical print of its selection
// tree and argument structure. Ordering arguments are structural and print
// with their values; filter and pagination values are masked so requests that
// differ only in literals share a plan.

func shapeHash(rootField string, field *ast.Field, vars map[string]any, fragments map[string]*ast.FragmentDefinition) string {
	var b strings.Builder
	writeFieldShape(&b, field, vars, fragments)
	return framedSHA256(rootField, b.String())
}

func writeFieldShape(b *strings.Builder, field *ast.Field, vars map[string]any, fragments map[string]*ast.FragmentDefinition) {
	if field.Alias != nil {
		b.WriteString(field.Alias.Value)
		b.WriteByte(':')
	}
	b.WriteString(field.Name.Value)

	if len(field.Arguments) > 0 {
		args := append([]*ast.Argument(nil), field.Arguments...)
		sort.Slice(args, func(i, j int) bool { return args[i].Name.Value < args[j].Name.Value })
		b.WriteByte('(')
		for i, arg := range args {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(arg.Name.Value)
			b.WriteByte(':')
			switch arg.Name.Value {
			case "orderBy":
				value, err := argValue(arg.Value, vars)
				if err != nil {
					value = nil
				}
				writeCanonicalValue(b, value)
			case "where":
				value, err := argValue(arg.Value, vars)
				if err != nil {
					value = nil
				}
				writeMaskedShape(b, value)
			case "after":
				// Presence is structural: a plan with a seek bound is not the
				// plan without one. The cursor value stays late-bound.
				if value, err := argValue(arg.Value, vars); err == nil && value != nil {
					b.WriteByte('?')
				} else {
					b.WriteByte('!')
				}
			default:
				b.WriteByte('?')
			}
		}
		b.WriteByte(')')
	}

	if field.SelectionSet != nil {
		b.WriteByte('{')
		writeSelectionShape(b, field.SelectionSet, vars, fragments)
		b.WriteByte('}')
	}
}

func writeSelectionShape(b *strings.Builder, set *ast.SelectionSet, vars map[string]any, fragments map[string]*ast.FragmentDefinition) {
	for i, selection := range set.Selections {
		if i > 0 {
			b.WriteByte(' ')
		}
		switch sel := selection.(type) {
		case *ast.Field:
			writeFieldShape(b, sel, vars, fragments)
		case *ast.InlineFragment:
			if sel.SelectionSet != nil {
				writeSelectionShape(b, sel.SelectionSet, vars, fragments)
			}
		case *ast.FragmentSpread:
			// Fragments expand inline so spelling a query with or without
			// them lands on the same plan.
			if fragment, ok := fragments[sel.Name.Value]; ok && fragment != nil && fragment.SelectionSet != nil {
				writeSelectionShape(b, fragment.SelectionSet, vars, fragments)
			}
		}
	}
}

// writeCanonicalValue prints a resolved argument value deterministically, map
// keys sorted.
func writeCanonicalValue(b *strings.Builder, value any) {
	switch v := value.(type) {
	case map[string]any:
		b.WriteByte('{')
		for i, key := range sortedKeys(v) {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(key)
			b.WriteByte(':')
			writeCanonicalValue(b, v[key])
		}
		b.WriteByte('}')
	case []any:
		b.WriteByte('[')
		for i, item := range v {
			if i > 0 {
				b.WriteByte(',')
			}
			writeCanonicalValue(b, item)
		}
		b.WriteByte(']')
	default:
		fmt.Fprintf(b, "%v", v)
	}
}

// writeMaskedShape prints the structure of a filter value with every literal
// replaced by a placeholder. List literals collapse to one placeholder since
// the rendered SQL re-expands them per request.
func writeMaskedShape(b *strings.Builder, value any) {
	switch v := value.(type) {
	case map[string]any:
		b.WriteByte('{')
		for i, key := range sortedKeys(v) {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(key)
			b.WriteByte(':')
			inner := v[key]
			switch key {
			case "AND", "OR":
				if items, ok := inner.([]any); ok {
					b.WriteByte('[')
					for j, item := range items {
						if j > 0 {
							b.WriteByte(',')
						}
						writeMaskedShape(b, item)
					}
					b.WriteByte(']')
					continue
				}
			}
			writeMaskedShape(b, inner)
		}
		b.WriteByte('}')
	case []any:
		b.WriteByte('?')
	default:
		b.WriteByte('?')
	}
}

func framedSHA256(parts ...string) string {
	hash := sha256.New()
	for _, part := range parts {
		_, _ = fmt.Fprintf(hash, "%d:%s|", len(part), part)
	}
	return hex.EncodeToString(hash.Sum(nil))
}
