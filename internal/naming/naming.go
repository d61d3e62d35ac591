// Package naming converts SQL identifiers into API names: singular PascalCase
// type names, camelCase field names, and plural collection names. Inflection is
// reversible for regular forms; irregular forms come from an override table
// that wins in both directions. All rules are deterministic so repeated builds
// of an unchanged catalog produce identical schemas.
package naming

import (
	"log/slog"
	"strings"

	"github.com/jinzhu/inflection"
)

// Config holds naming overrides.
type Config struct {
	// Irregulars maps singular to plural for forms the default inflector gets
	// wrong, e.g. {"person": "people"}. Entries apply in both directions.
	Irregulars map[string]string
}

// Namer performs all name derivations for one schema build.
type Namer struct {
	logger   *slog.Logger
	plurals  map[string]string
	singular map[string]string

	// fields tracks registered field names per type for collision handling.
	fields map[string]map[string]string
	// types tracks registered type names back to their source table.
	types map[string]string
}

// New creates a Namer with the given configuration.
func New(cfg Config, logger *slog.Logger) *Namer {
	if logger == nil {
		logger = slog.Default()
	}
	n := &Namer{
		logger:   logger,
		plurals:  make(map[string]string, len(cfg.Irregulars)),
		singular: make(map[string]string, len(cfg.Irregulars)),
		fields:   make(map[string]map[string]string),
		types:    make(map[string]string),
	}
	for s, p := range cfg.Irregulars {
		n.plurals[strings.ToLower(s)] = strings.ToLower(p)
		n.singular[strings.ToLower(p)] = strings.ToLower(s)
	}
	return n
}

// Default returns a Namer with no overrides.
func Default() *Namer {
	return New(Config{}, nil)
}

// Pluralize returns the plural of the last word in a snake_case name.
func (n *Namer) Pluralize(name string) string {
	return n.inflectLast(name, func(word string) string {
		if p, ok := n.plurals[strings.ToLower(word)]; ok {
			return p
		}
		return inflection.Plural(word)
	})
}

// Singularize returns the singular of the last word in a snake_case name.
func (n *Namer) Singularize(name string) string {
	return n.inflectLast(name, func(word string) string {
		if s, ok := n.singular[strings.ToLower(word)]; ok {
			return s
		}
		return inflection.Singular(word)
	})
}

func (n *Namer) inflectLast(name string, inflect func(string) string) string {
	idx := strings.LastIndex(name, "_")
	if idx == -1 {
		return matchCase(name, inflect(name))
	}
	last := name[idx+1:]
	if last == "" {
		return name
	}
	return name[:idx+1] + matchCase(last, inflect(last))
}

// matchCase re-applies a leading capital lost by lowercase overrides.
func matchCase(original, inflected string) string {
	if original == "" || inflected == "" {
		return inflected
	}
	if original[0] >= 'A' && original[0] <= 'Z' {
		return strings.ToUpper(inflected[:1]) + inflected[1:]
	}
	return inflected
}

// TypeName derives the object type name for a table: singular PascalCase.
// Example: "user_profiles" -> "UserProfile".
func (n *Namer) TypeName(tableName string) string {
	return guardTypeName(ToPascalCase(n.Singularize(tableName)), n.logger)
}

// CollectionFieldName derives the root connection field name for a table:
// plural camelCase. Example: "user_profiles" -> "userProfiles".
func (n *Namer) CollectionFieldName(tableName string) string {
	return guardFieldName(ToCamelCase(n.Pluralize(tableName)), n.logger)
}

// SingleFieldName derives the single-row lookup field name for a table:
// singular camelCase. Example: "user_profiles" -> "userProfile".
func (n *Namer) SingleFieldName(tableName string) string {
	return guardFieldName(ToCamelCase(n.Singularize(tableName)), n.logger)
}

// FieldName derives a column field name: camelCase.
func (n *Namer) FieldName(columnName string) string {
	return guardFieldName(ToCamelCase(columnName), n.logger)
}

// ForwardRelationFieldName derives the singular reference field for an
// outgoing foreign key from its first column name, stripping common FK
// suffixes. Example: "author_id" -> "author".
func (n *Namer) ForwardRelationFieldName(fkColumn string) string {
	name := fkColumn
	for _, suffix := range []string{"_id", "_fk"} {
		if strings.HasSuffix(strings.ToLower(name), suffix) {
			name = name[:len(name)-len(suffix)]
			break
		}
	}
	return guardFieldName(ToCamelCase(name), n.logger)
}

// ReverseRelationFieldName derives the connection field for an incoming
// foreign key. With a single FK between the two tables it is the plural table
// name ("books"); with several, the FK column prefixes it for disambiguation
// ("editorBooks").
func (n *Namer) ReverseRelationFieldName(sourceTable, fkColumn string, onlyFK bool) string {
	plural := ToCamelCase(n.Pluralize(sourceTable))
	if onlyFK {
		return guardFieldName(plural, n.logger)
	}
	prefix := n.ForwardRelationFieldName(fkColumn)
	return guardFieldName(prefix+upperFirst(plural), n.logger)
}

// ManyToManyFieldName derives the connection field for a collapsed junction:
// the plural of the far table, the junction name never appearing in the field.
func (n *Namer) ManyToManyFieldName(targetTable string) string {
	return guardFieldName(ToCamelCase(n.Pluralize(targetTable)), n.logger)
}

// EdgeFieldName derives the connection field exposing an attribute junction as
// an edge object: the plural junction table name.
func (n *Namer) EdgeFieldName(junctionTable string) string {
	return guardFieldName(ToCamelCase(n.Pluralize(junctionTable)), n.logger)
}

// ToPascalCase converts snake_case to PascalCase.
func ToPascalCase(s string) string {
	parts := strings.Split(s, "_")
	for i, part := range parts {
		if len(part) > 0 {
			parts[i] = strings.ToUpper(part[:1]) + part[1:]
		}
	}
	return strings.Join(parts, "")
}

// ToCamelCase converts snake_case to camelCase.
func ToCamelCase(s string) string {
	parts := strings.Split(s, "_")
	for i := 1; i < len(parts); i++ {
		if len(parts[i]) > 0 {
			parts[i] = strings.ToUpper(parts[i][:1]) + parts[i][1:]
		}
	}
	return strings.Join(parts, "")
}

func upperFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
