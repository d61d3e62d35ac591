package naming

import (
	"log/slog"
	"strings"
)

// Built-in scalar and introspection names a generated type must not shadow.
var reservedTypeNames = map[string]struct{}{
	"Int": {}, "Float": {}, "String": {}, "Boolean": {}, "ID": {},
	"Query": {}, "PageInfo": {},
}

// Field names live inside object types, below the connection wrappers, so only
// the introspection prefix needs guarding.
var reservedFieldNames = map[string]struct{}{}

func guardTypeName(name string, logger *slog.Logger) string {
	if _, reserved := reservedTypeNames[name]; reserved || strings.HasPrefix(name, "__") {
		safe := name + "_"
		logger.Warn("type name conflicts with reserved word, auto-suffixed",
			slog.String("original", name),
			slog.String("renamed", safe),
		)
		return safe
	}
	return name
}

func guardFieldName(name string, logger *slog.Logger) string {
	if _, reserved := reservedFieldNames[name]; reserved || strings.HasPrefix(name, "__") {
		safe := name + "_"
		logger.Warn("field name conflicts with reserved word, auto-suffixed",
			slog.String("original", name),
			slog.String("renamed", safe),
		)
		return safe
	}
	return name
}
