// Package typemap converts the metadata graph into API type descriptors. The
// descriptor set is a closed union (Scalar, Enum, Object, List, Connection) so
// the request hot path never needs runtime type inspection. Mapping is a pure
// function of the graph plus naming configuration: repeated runs over an
// unchanged catalog produce identical output.
package typemap

// Kind is the closed set of descriptor variants.
type Kind int

const (
	KindScalar Kind = iota
	KindEnum
	KindObject
	KindList
	KindConnection
)

func (k Kind) String() string {
	switch k {
	case KindScalar:
		return "Scalar"
	case KindEnum:
		return "Enum"
	case KindObject:
		return "Object"
	case KindList:
		return "List"
	case KindConnection:
		return "Connection"
	default:
		return "Unknown"
	}
}

// ScalarKind categorizes scalar descriptors.
type ScalarKind int

const (
	ScalarString ScalarKind = iota
	ScalarInt
	ScalarFloat
	ScalarBoolean
	ScalarDateTime
	ScalarJSON
	ScalarBytes
	ScalarUUID
)

func (s ScalarKind) String() string {
	switch s {
	case ScalarInt:
		return "Int"
	case ScalarFloat:
		return "Float"
	case ScalarBoolean:
		return "Boolean"
	case ScalarDateTime:
		return "DateTime"
	case ScalarJSON:
		return "JSON"
	case ScalarBytes:
		return "Bytes"
	case ScalarUUID:
		return "UUID"
	default:
		return "String"
	}
}

// Orderable reports whether range filters and sort orders apply to the scalar.
func (s ScalarKind) Orderable() bool {
	switch s {
	case ScalarInt, ScalarFloat, ScalarString, ScalarDateTime:
		return true
	default:
		return false
	}
}

// Textual reports whether substring filters apply to the scalar.
func (s ScalarKind) Textual() bool {
	return s == ScalarString || s == ScalarUUID
}

// FieldOrigin records where an object field came from.
type FieldOrigin int

const (
	OriginColumn FieldOrigin = iota
	OriginForwardRelation
	OriginReverseRelation
	// OriginExtension marks a field injected by a schema extension. It has no
	// backing column; its resolver is supplied by the extension.
	OriginExtension
)

func (o FieldOrigin) String() string {
	switch o {
	case OriginForwardRelation:
		return "forward-relation"
	case OriginReverseRelation:
		return "reverse-relation"
	case OriginExtension:
		return "extension"
	default:
		return "column"
	}
}

// Relation carries the join metadata a relation field needs at plan time.
// Local and remote columns are positional mappings. For collapsed junctions
// the Junction fields describe the intermediate hop the planner keeps even
// though the generated field name skips it.
type Relation struct {
	Constraint    string
	RemoteTable   string
	LocalColumns  []string
	RemoteColumns []string

	JunctionTable    string
	JunctionLocalFK  []string // junction columns joining back to LocalColumns
	JunctionRemoteFK []string // junction columns joining out to RemoteColumns
}

// ManyToMany reports whether the relation hops through a collapsed junction.
func (r *Relation) ManyToMany() bool {
	return r.JunctionTable != ""
}

// Field is one named member of an Object descriptor.
type Field struct {
	Name        string
	Type        *Descriptor
	Origin      FieldOrigin
	Nullable    bool
	Column      string    // set for OriginColumn
	Relation    *Relation // set for relation origins
	Description string
}

// Pagination holds connection defaults: the cursor ordering columns (primary
// key ascending, the implicit tie-break) and the default page size.
type Pagination struct {
	OrderColumns    []string
	DefaultPageSize int
}

// Descriptor is one node of the type system. Which members are meaningful
// depends on Kind; the invalid combinations are unrepresentable in practice
// because only this package constructs descriptors.
type Descriptor struct {
	Kind        Kind
	Name        string // Object/Enum/Connection type name, Scalar kind name
	Scalar      ScalarKind
	EnumValues  []string
	Fields      []Field     // Object: ordered, names unique after collision resolution
	OfType      *Descriptor // List element / Connection node
	Table       string      // Object: originating table
	Description string      // Object: table comment
	Pagination  *Pagination // Connection only
}

// Field returns the named object field, or nil.
func (d *Descriptor) Field(name string) *Field {
	for i := range d.Fields {
		if d.Fields[i].Name == name {
			return &d.Fields[i]
		}
	}
	return nil
}

// DefaultPageSize is the connection page size used when a query asks for none.
const DefaultPageSize = 25
