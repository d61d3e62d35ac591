package typemap

import "strings"

// Shared scalar descriptor singletons, one per kind, so field types compare by
// pointer identity inside a single mapping.
var scalarDescriptors = func() map[ScalarKind]*Descriptor {
	m := make(map[ScalarKind]*Descriptor)
	for _, k := range []ScalarKind{
		ScalarString, ScalarInt, ScalarFloat, ScalarBoolean,
		ScalarDateTime, ScalarJSON, ScalarBytes, ScalarUUID,
	} {
		m[k] = &Descriptor{Kind: KindScalar, Name: k.String(), Scalar: k}
	}
	return m
}()

// ScalarDescriptor returns the shared descriptor for a scalar kind.
func ScalarDescriptor(kind ScalarKind) *Descriptor {
	return scalarDescriptors[kind]
}

// scalarForColumn maps a SQL column type to a scalar kind. The mapping is a
// fixed table; types outside it fall back to String and the caller records a
// diagnostic so degraded mappings stay visible.
func scalarForColumn(dataType, columnType string) (ScalarKind, bool) {
	ct := strings.ToLower(columnType)
	switch strings.ToLower(dataType) {
	case "tinyint":
		// tinyint(1) is the conventional MySQL boolean.
		if strings.HasPrefix(ct, "tinyint(1)") {
			return ScalarBoolean, true
		}
		return ScalarInt, true
	case "smallint", "mediumint", "int", "integer", "bigint", "year":
		return ScalarInt, true
	case "decimal", "numeric", "float", "double", "real":
		return ScalarFloat, true
	case "bit":
		return ScalarBoolean, true
	case "bool", "boolean":
		return ScalarBoolean, true
	case "char":
		// char(36) is the conventional textual UUID column.
		if ct == "char(36)" {
			return ScalarUUID, true
		}
		return ScalarString, true
	case "varchar", "tinytext", "text", "mediumtext", "longtext", "time":
		return ScalarString, true
	case "date", "datetime", "timestamp":
		return ScalarDateTime, true
	case "json":
		return ScalarJSON, true
	case "binary", "varbinary", "tinyblob", "blob", "mediumblob", "longblob":
		return ScalarBytes, true
	default:
		return ScalarString, false
	}
}
