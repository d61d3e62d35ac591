package typemap

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"relgraph/internal/catalog"
	"relgraph/internal/junction"
	"relgraph/internal/naming"
)

// Result is one complete type mapping. Objects and Connections are keyed by
// table name; Order lists the mapped tables in build order. The Namer carries
// the name registrations so the schema builder reuses the exact same collision
// resolutions.
type Result struct {
	Objects     map[string]*Descriptor
	Connections map[string]*Descriptor
	Order       []string
	Diagnostics []catalog.Diagnostic
	Namer       *naming.Namer
}

// Object returns the object descriptor for a table, or nil.
func (r *Result) Object(table string) *Descriptor {
	return r.Objects[table]
}

// Connection returns the connection descriptor for a table, or nil.
func (r *Result) Connection(table string) *Descriptor {
	return r.Connections[table]
}

// Map derives the type descriptor set from a metadata graph. Omitted tables and
// pure junctions produce no object type; pure junctions instead surface as
// many-to-many connection fields on both referenced objects. Attribute
// junctions stay visible as edge objects. Everything is emitted in sorted
// table order so an unchanged graph always maps to an identical result.
func Map(graph *catalog.Graph, junctions junction.Map, cfg naming.Config, logger *slog.Logger) *Result {
	if logger == nil {
		logger = slog.Default()
	}
	m := &mapper{
		graph:     graph,
		junctions: junctions,
		namer:     naming.New(cfg, logger),
		logger:    logger,
		result: &Result{
			Objects:     make(map[string]*Descriptor),
			Connections: make(map[string]*Descriptor),
		},
	}
	m.result.Namer = m.namer
	m.run()
	return m.result
}

type mapper struct {
	graph     *catalog.Graph
	junctions junction.Map
	namer     *naming.Namer
	logger    *slog.Logger
	result    *Result
}

func (m *mapper) visible(tableName string) bool {
	table, ok := m.graph.Table(tableName)
	if !ok || table.Omitted {
		return false
	}
	return m.junctions[tableName].Kind != junction.Pure
}

func (m *mapper) run() {
	// First pass creates every object and connection shell so relation fields
	// can reference cyclic neighbours by pointer in the second pass.
	for i := range m.graph.Tables {
		table := &m.graph.Tables[i]
		if !m.visible(table.Name) {
			continue
		}
		typeName := m.namer.RegisterType(table.Name)
		obj := &Descriptor{
			Kind:        KindObject,
			Name:        typeName,
			Table:       table.Name,
			Description: table.Comment,
		}
		m.result.Objects[table.Name] = obj
		m.result.Connections[table.Name] = &Descriptor{
			Kind:   KindConnection,
			Name:   typeName + "Connection",
			OfType: obj,
			Table:  table.Name,
			Pagination: &Pagination{
				OrderColumns:    orderColumns(*table),
				DefaultPageSize: DefaultPageSize,
			},
		}
		m.result.Order = append(m.result.Order, table.Name)
	}

	for _, name := range m.result.Order {
		table, _ := m.graph.Table(name)
		obj := m.result.Objects[name]
		m.mapColumns(table, obj)
		m.mapForwardRelations(table, obj)
		m.mapReverseRelations(table, obj)
		m.mapManyToMany(table, obj)
	}
}

// orderColumns picks the stable cursor ordering for a table: the primary key,
// or the first unique index when there is none, or every column as a last
// resort for heap tables.
func orderColumns(table catalog.Table) []string {
	pks := table.PrimaryKeyColumns()
	if len(pks) > 0 {
		names := make([]string, len(pks))
		for i, col := range pks {
			names[i] = col.Name
		}
		return names
	}
	for _, idx := range table.Indexes {
		if idx.Unique {
			return append([]string(nil), idx.Columns...)
		}
	}
	names := make([]string, len(table.Columns))
	for i, col := range table.Columns {
		names[i] = col.Name
	}
	return names
}

func (m *mapper) mapColumns(table *catalog.Table, obj *Descriptor) {
	for _, col := range table.Columns {
		fieldType := m.columnType(table.Name, obj.Name, col)
		name := m.namer.RegisterColumnField(obj.Name, col.Name)
		obj.Fields = append(obj.Fields, Field{
			Name:        name,
			Type:        fieldType,
			Origin:      OriginColumn,
			Nullable:    columnNullable(col),
			Column:      col.Name,
			Description: col.Comment,
		})
	}
}

// columnNullable applies the exposure rule: a column is nullable in the API
// only when it is nullable in the database and carries no default. Primary key
// columns are always non-null.
func columnNullable(col catalog.Column) bool {
	if col.IsPrimaryKey {
		return false
	}
	return col.Nullable && !col.HasDefault
}

func (m *mapper) columnType(tableName, typeName string, col catalog.Column) *Descriptor {
	dt := strings.ToLower(col.DataType)
	if dt == "enum" || dt == "set" {
		enum := &Descriptor{
			Kind:       KindEnum,
			Name:       typeName + naming.ToPascalCase(col.Name) + "Enum",
			EnumValues: append([]string(nil), col.EnumValues...),
		}
		if dt == "set" {
			return &Descriptor{Kind: KindList, Name: enum.Name + "List", OfType: enum}
		}
		return enum
	}
	kind, known := scalarForColumn(col.DataType, col.ColumnType)
	if !known {
		m.result.Diagnostics = append(m.result.Diagnostics, catalog.Diagnostic{
			Table:  tableName,
			Detail: fmt.Sprintf("column %s has unmapped SQL type %q, exposed as String", col.Name, col.DataType),
		})
		m.logger.Warn("unmapped SQL type exposed as String",
			slog.String("table", tableName),
			slog.String("column", col.Name),
			slog.String("data_type", col.DataType),
		)
	}
	return ScalarDescriptor(kind)
}

func (m *mapper) mapForwardRelations(table *catalog.Table, obj *Descriptor) {
	fks := append([]catalog.ForeignKey(nil), table.ForeignKeys...)
	sort.Slice(fks, func(i, j int) bool { return fks[i].ConstraintName < fks[j].ConstraintName })
	for _, fk := range fks {
		if !m.visible(fk.ReferencedTable) {
			continue
		}
		base := m.namer.ForwardRelationFieldName(fk.Columns[0])
		name := m.namer.RegisterRelationField(obj.Name, base, fk.ConstraintName)
		obj.Fields = append(obj.Fields, Field{
			Name:     name,
			Type:     m.result.Objects[fk.ReferencedTable],
			Origin:   OriginForwardRelation,
			Nullable: anyColumnNullable(table, fk.Columns),
			Relation: &Relation{
				Constraint:    fk.ConstraintName,
				RemoteTable:   fk.ReferencedTable,
				LocalColumns:  append([]string(nil), fk.Columns...),
				RemoteColumns: append([]string(nil), fk.ReferencedColumns...),
			},
		})
	}
}

func anyColumnNullable(table *catalog.Table, columns []string) bool {
	for _, name := range columns {
		if col := table.Column(name); col != nil && col.Nullable {
			return true
		}
	}
	return false
}

func (m *mapper) mapReverseRelations(table *catalog.Table, obj *Descriptor) {
	edges := m.graph.IncomingEdges(table.Name)
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].FromTable != edges[j].FromTable {
			return edges[i].FromTable < edges[j].FromTable
		}
		return edges[i].FK.ConstraintName < edges[j].FK.ConstraintName
	})

	perSource := make(map[string]int)
	for _, edge := range edges {
		perSource[edge.FromTable]++
	}

	for _, edge := range edges {
		if !m.visible(edge.FromTable) {
			continue
		}
		onlyFK := perSource[edge.FromTable] == 1
		base := m.namer.ReverseRelationFieldName(edge.FromTable, edge.FK.Columns[0], onlyFK)
		name := m.namer.RegisterRelationField(obj.Name, base, edge.FK.ConstraintName)
		obj.Fields = append(obj.Fields, Field{
			Name:   name,
			Type:   m.result.Connections[edge.FromTable],
			Origin: OriginReverseRelation,
			Relation: &Relation{
				Constraint:    edge.FK.ConstraintName,
				RemoteTable:   edge.FromTable,
				LocalColumns:  append([]string(nil), edge.FK.ReferencedColumns...),
				RemoteColumns: append([]string(nil), edge.FK.Columns...),
			},
		})
	}
}

func (m *mapper) mapManyToMany(table *catalog.Table, obj *Descriptor) {
	names := make([]string, 0, len(m.junctions))
	for name, info := range m.junctions {
		if info.Kind == junction.Pure {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	for _, name := range names {
		info := m.junctions[name]
		var near, far catalog.ForeignKey
		switch table.Name {
		case info.LeftFK.ReferencedTable:
			near, far = info.LeftFK, info.RightFK
		case info.RightFK.ReferencedTable:
			near, far = info.RightFK, info.LeftFK
		default:
			continue
		}
		if !m.visible(far.ReferencedTable) {
			continue
		}
		base := m.namer.ManyToManyFieldName(far.ReferencedTable)
		fieldName := m.namer.RegisterRelationField(obj.Name, base, near.ConstraintName)
		obj.Fields = append(obj.Fields, Field{
			Name:   fieldName,
			Type:   m.result.Connections[far.ReferencedTable],
			Origin: OriginReverseRelation,
			Relation: &Relation{
				Constraint:       near.ConstraintName,
				RemoteTable:      far.ReferencedTable,
				LocalColumns:     append([]string(nil), near.ReferencedColumns...),
				RemoteColumns:    append([]string(nil), far.ReferencedColumns...),
				JunctionTable:    info.Table,
				JunctionLocalFK:  append([]string(nil), near.Columns...),
				JunctionRemoteFK: append([]string(nil), far.Columns...),
			},
		})
	}
}
