package naming

import (
	"log/slog"
	"strings"
)

// RegisterType records a type name for a table and returns the resolved name.
// Two tables inflecting to the same type name get a trailing underscore on the
// later one (sorted table order makes this stable) and a warning; the schema
// builder treats root-field collisions as fatal separately.
func (n *Namer) RegisterType(tableName string) string {
	name := n.TypeName(tableName)
	for {
		owner, taken := n.types[name]
		if !taken {
			n.types[name] = tableName
			return name
		}
		if owner == tableName {
			return name
		}
		n.logger.Warn("type name collision, auto-suffixed",
			slog.String("table", tableName),
			slog.String("name", name),
		)
		name += "_"
	}
}

// RegisterColumnField records a column-derived field on a type. Columns always
// win field-name precedence; relation fields yield to them.
func (n *Namer) RegisterColumnField(typeName, columnName string) string {
	name := n.FieldName(columnName)
	n.typeFields(typeName)[name] = "column:" + columnName
	return name
}

// RegisterRelationField records a relation-derived field on a type. When the
// base name is already taken (usually by a column), the field is suffixed with
// the PascalCase constraint name, which is deterministic and stable across
// rebuilds of the same catalog.
func (n *Namer) RegisterRelationField(typeName, baseName, constraintName string) string {
	fields := n.typeFields(typeName)
	name := baseName
	if _, taken := fields[name]; taken {
		name = baseName + ToPascalCase(strings.ToLower(constraintName))
		n.logger.Warn("relation field collides with existing field, suffixed with constraint name",
			slog.String("type", typeName),
			slog.String("field", baseName),
			slog.String("resolved", name),
		)
	}
	// A second collision (constraint-suffixed name also taken) only happens
	// with pathological constraint naming; underscores keep it resolvable.
	for {
		if _, taken := fields[name]; !taken {
			break
		}
		name += "_"
	}
	fields[name] = "relation:" + constraintName
	return name
}

// FieldTaken reports whether a field name is already registered on a type.
func (n *Namer) FieldTaken(typeName, fieldName string) bool {
	_, taken := n.typeFields(typeName)[fieldName]
	return taken
}

func (n *Namer) typeFields(typeName string) map[string]string {
	fields, ok := n.fields[typeName]
	if !ok {
		fields = make(map[string]string)
		n.fields[typeName] = fields
	}
	return fields
}
