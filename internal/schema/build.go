// Package schema assembles an executable GraphQL schema from a mapped type
// descriptor set. Each build produces an immutable snapshot: object types per
// visible table, connection and edge wrappers, filter and ordering inputs, and
// root fields whose resolvers plan and execute batched SQL. Nested fields read
// from the materialized rows, so only root resolvers touch the database.
package schema

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/graphql-go/graphql"

	"relgraph/internal/catalog"
	"relgraph/internal/executor"
	"relgraph/internal/junction"
	"relgraph/internal/naming"
	"relgraph/internal/planner"
	"relgraph/internal/scalars"
	"relgraph/internal/typemap"
)

// Options controls a schema build.
type Options struct {
	Naming    naming.Config
	Junctions junction.Overrides
	Limits    planner.Limits
	Logger    *slog.Logger

	// Extensions add fields to generated object types.
	Extensions []Extension
}

// Snapshot is one immutable schema build. The planner and its plan cache are
// owned by the snapshot, so swapping in a new snapshot retires every plan
// compiled against the old type mapping.
type Snapshot struct {
	Version uint64
	Schema  graphql.Schema
	Graph   *catalog.Graph
	Types   *typemap.Result
	Planner *planner.Planner
	BuiltAt time.Time
}

// Build classifies junctions, maps the metadata graph to type descriptors, and
// constructs the executable GraphQL schema on top of them.
func Build(graph *catalog.Graph, exec *executor.Executor, opts Options) (*Snapshot, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	junctions := junction.Classify(graph, opts.Junctions)
	types := typemap.Map(graph, junctions, opts.Naming, logger)
	extras := collectExtensionFields(graph, types, opts.Extensions, logger)
	plan := planner.New(graph, types, opts.Limits, logger)

	b := &builder{
		graph:    graph,
		types:    types,
		planner:  plan,
		exec:     exec,
		logger:   logger,
		extras:   extras,

		rootOwners: make(map[string]string),

		objects:  make(map[string]*graphql.Object),
		conns:    make(map[string]*graphql.Object),
		enums:    make(map[string]*graphql.Enum),
		wheres:   make(map[string]*graphql.InputObject),
		filters:  make(map[string]*graphql.InputObject),
		orderBys: make(map[string]*graphql.InputObject),
		dateTime: scalars.DateTime(),
		uuid:     scalars.UUID(),
		json:     scalars.JSON(),
		bytes:    scalars.Bytes(),
	}

	built, err := b.buildSchema()
	if err != nil {
		return nil, fmt.Errorf("build schema: %w", err)
	}

	return &Snapshot{
		Schema:  built,
		Graph:   graph,
		Types:   types,
		Planner: plan,
		BuiltAt: time.Now(),
	}, nil
}

// builder holds per-build type caches. A build runs on a single goroutine;
// caching exists for identity (cyclic references must resolve to the same
// *graphql.Object), not for concurrency.
type builder struct {
	graph   *catalog.Graph
	types   *typemap.Result
	planner *planner.Planner
	exec    *executor.Executor
	logger  *slog.Logger
	extras  map[string]map[string]ExtraField // by table, then field name

	rootOwners map[string]string // root field name -> claiming table

	objects  map[string]*graphql.Object      // by table
	conns    map[string]*graphql.Object      // by table
	enums    map[string]*graphql.Enum        // by type name
	wheres   map[string]*graphql.InputObject // by type name
	filters  map[string]*graphql.InputObject // by type name
	orderBys map[string]*graphql.InputObject // by type name

	pageInfo       *graphql.Object
	orderDirection *graphql.Enum

	dateTime *graphql.Scalar
	uuid     *graphql.Scalar
	json     *graphql.Scalar
	bytes    *graphql.Scalar
}

func (b *builder) buildSchema() (graphql.Schema, error) {
	fields := graphql.Fields{}
	for _, table := range b.types.Order {
		if err := b.addRootFields(fields, table); err != nil {
			return graphql.Schema{}, err
		}
	}

	// GraphQL requires at least one query field even for an empty catalog.
	if len(fields) == 0 {
		fields["_database"] = &graphql.Field{
			Type:        graphql.String,
			Description: "Placeholder field when the catalog exposes no tables",
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				return b.graph.Database, nil
			},
		}
	}

	return graphql.NewSchema(graphql.SchemaConfig{
		Query: graphql.NewObject(graphql.ObjectConfig{
			Name:   "Query",
			Fields: fields,
		}),
	})
}

func (b *builder) addRootFields(fields graphql.Fields, table string) error {
	desc := b.types.Object(table)
	tbl, ok := b.graph.Table(table)
	if desc == nil || !ok {
		return nil
	}

	err := b.registerRootField(fields, b.types.Namer.CollectionFieldName(table), table, &graphql.Field{
		Type:        graphql.NewNonNull(b.connectionType(table)),
		Args:        b.connectionArgs(table),
		Description: desc.Description,
		Resolve:     b.rootResolver(planner.RootQuery{Table: table}),
	})
	if err != nil {
		return err
	}

	pk := tbl.PrimaryKeyColumns()
	if len(pk) == 0 {
		return nil
	}
	pkCols := make([]string, len(pk))
	for i, col := range pk {
		pkCols[i] = col.Name
	}

	singleBase := b.types.Namer.SingleFieldName(table)
	if err := b.addLookupField(fields, singleBase, table, desc, pkCols); err != nil {
		return err
	}

	// One lookup per secondary unique index, named after its argument fields.
	for _, idx := range tbl.Indexes {
		if !idx.Unique || idx.Name == "PRIMARY" {
			continue
		}
		name := singleBase + "By"
		usable := true
		for _, col := range idx.Columns {
			f := columnField(desc, col)
			if f == nil {
				usable = false
				break
			}
			name += naming.ToPascalCase(f.Name)
		}
		if !usable {
			continue
		}
		if err := b.addLookupField(fields, name, table, desc, idx.Columns); err != nil {
			return err
		}
	}
	return nil
}

// registerRootField claims a top-level field name for a table. Two tables
// resolving to the same root field fail the build outright: a schema with an
// ambiguous root is never published.
func (b *builder) registerRootField(fields graphql.Fields, name, table string, field *graphql.Field) error {
	if owner, taken := b.rootOwners[name]; taken {
		return errRootFieldCollision(name, owner, table)
	}
	b.rootOwners[name] = table
	fields[name] = field
	return nil
}

// addLookupField registers a single-row root field keyed by the given columns.
func (b *builder) addLookupField(fields graphql.Fields, name, table string, desc *typemap.Descriptor, columns []string) error {
	args := graphql.FieldConfigArgument{}
	keyCols := make([]string, 0, len(columns))
	keyArgs := make([]string, 0, len(columns))
	for _, col := range columns {
		f := columnField(desc, col)
		if f == nil {
			return nil
		}
		args[f.Name] = &graphql.ArgumentConfig{
			Type: graphql.NewNonNull(b.inputType(f.Type)),
		}
		keyCols = append(keyCols, col)
		keyArgs = append(keyArgs, f.Name)
	}

	return b.registerRootField(fields, name, table, &graphql.Field{
		Type:        b.objectType(table),
		Args:        args,
		Description: desc.Description,
		Resolve: b.rootResolver(planner.RootQuery{
			Table:      table,
			KeyColumns: keyCols,
			KeyArgs:    keyArgs,
		}),
	})
}

func (b *builder) objectType(table string) *graphql.Object {
	if cached, ok := b.objects[table]; ok {
		return cached
	}
	desc := b.types.Object(table)

	// FieldsThunk defers field construction so mutually referencing tables can
	// resolve each other through the cache.
	objType := graphql.NewObject(graphql.ObjectConfig{
		Name:        desc.Name,
		Description: desc.Description,
		Fields: graphql.FieldsThunk(func() graphql.Fields {
			return b.objectFields(desc)
		}),
	})
	b.objects[table] = objType
	return objType
}

func (b *builder) objectFields(desc *typemap.Descriptor) graphql.Fields {
	fields := graphql.Fields{}
	for i := range desc.Fields {
		f := &desc.Fields[i]
		switch f.Origin {
		case typemap.OriginColumn:
			out := b.outputType(f.Type)
			if !f.Nullable {
				out = graphql.NewNonNull(out)
			}
			fields[f.Name] = &graphql.Field{
				Type:        out,
				Description: f.Description,
				Resolve:     resolveAliased,
			}
		case typemap.OriginForwardRelation:
			// Reference fields stay nullable even over NOT NULL keys: a missing
			// or dangling target must not null out the whole parent row.
			fields[f.Name] = &graphql.Field{
				Type:    b.objectType(f.Relation.RemoteTable),
				Resolve: resolveAliased,
			}
		case typemap.OriginReverseRelation:
			fields[f.Name] = &graphql.Field{
				Type:    graphql.NewNonNull(b.connectionType(f.Relation.RemoteTable)),
				Args:    b.connectionArgs(f.Relation.RemoteTable),
				Resolve: resolveAliased,
			}
		case typemap.OriginExtension:
			if extra, ok := b.extras[desc.Table][f.Name]; ok {
				fields[f.Name] = &graphql.Field{
					Type:        extra.Type,
					Description: extra.Description,
					Args:        extra.Args,
					Resolve:     extra.Resolve,
				}
			}
		}
	}
	return fields
}

// collectExtensionFields gathers accepted injected fields per table and
// registers them on the object descriptors so the planner recognizes them.
// Catalog-derived fields win name collisions; colliding injections are dropped
// with a warning.
func collectExtensionFields(graph *catalog.Graph, types *typemap.Result, extensions []Extension, logger *slog.Logger) map[string]map[string]ExtraField {
	if len(extensions) == 0 {
		return nil
	}

	extras := make(map[string]map[string]ExtraField)
	for _, table := range types.Order {
		obj := types.Object(table)
		tbl, ok := graph.Table(table)
		if obj == nil || !ok {
			continue
		}
		for _, ext := range extensions {
			for _, extra := range ext.TableFields(tbl) {
				if extra.Name == "" || extra.Type == nil {
					continue
				}
				if obj.Field(extra.Name) != nil {
					logger.Warn("extension field collides with existing field, skipped",
						slog.String("table", table),
						slog.String("field", extra.Name),
					)
					continue
				}
				if extras[table] == nil {
					extras[table] = make(map[string]ExtraField)
				}
				extras[table][extra.Name] = extra
				obj.Fields = append(obj.Fields, typemap.Field{
					Name:        extra.Name,
					Origin:      typemap.OriginExtension,
					Nullable:    true,
					Description: extra.Description,
				})
			}
		}
	}
	return extras
}

func (b *builder) outputType(d *typemap.Descriptor) graphql.Output {
	switch d.Kind {
	case typemap.KindScalar:
		return b.scalarType(d.Scalar)
	case typemap.KindEnum:
		return b.enumType(d)
	case typemap.KindList:
		return graphql.NewList(graphql.NewNonNull(b.outputType(d.OfType)))
	default:
		return graphql.String
	}
}

func (b *builder) scalarType(kind typemap.ScalarKind) graphql.Output {
	switch kind {
	case typemap.ScalarInt:
		return graphql.Int
	case typemap.ScalarFloat:
		return graphql.Float
	case typemap.ScalarBoolean:
		return graphql.Boolean
	case typemap.ScalarDateTime:
		return b.dateTime
	case typemap.ScalarUUID:
		return b.uuid
	case typemap.ScalarJSON:
		return b.json
	case typemap.ScalarBytes:
		return b.bytes
	default:
		return graphql.String
	}
}

func (b *builder) enumType(d *typemap.Descriptor) *graphql.Enum {
	if cached, ok := b.enums[d.Name]; ok {
		return cached
	}

	values := graphql.EnumValueConfigMap{}
	for _, value := range d.EnumValues {
		name := enumValueName(value)
		for i := 2; ; i++ {
			if _, taken := values[name]; !taken {
				break
			}
			name = fmt.Sprintf("%s_%d", enumValueName(value), i)
		}
		values[name] = &graphql.EnumValueConfig{Value: value}
	}

	enum := graphql.NewEnum(graphql.EnumConfig{
		Name:   d.Name,
		Values: values,
	})
	b.enums[d.Name] = enum
	return enum
}

func (b *builder) edgeType(table string, nodeType *graphql.Object) *graphql.Object {
	return graphql.NewObject(graphql.ObjectConfig{
		Name: b.types.Object(table).Name + "Edge",
		Fields: graphql.Fields{
			"cursor": &graphql.Field{
				Type: graphql.NewNonNull(graphql.String),
			},
			"node": &graphql.Field{
				Type: graphql.NewNonNull(nodeType),
			},
		},
	})
}

func (b *builder) connectionType(table string) *graphql.Object {
	if cached, ok := b.conns[table]; ok {
		return cached
	}
	desc := b.types.Connection(table)
	edge := b.edgeType(table, b.objectType(table))

	conn := graphql.NewObject(graphql.ObjectConfig{
		Name: desc.Name,
		Fields: graphql.Fields{
			"edges": &graphql.Field{
				Type: graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(edge))),
			},
			"nodes": &graphql.Field{
				Type:        graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(b.objectType(table)))),
				Description: "Row objects without the edge wrapper",
			},
			"pageInfo": &graphql.Field{
				Type: graphql.NewNonNull(b.pageInfoType()),
			},
			"totalCount": &graphql.Field{
				Type: graphql.NewNonNull(graphql.Int),
			},
		},
	})
	b.conns[table] = conn
	return conn
}

func (b *builder) pageInfoType() *graphql.Object {
	if b.pageInfo != nil {
		return b.pageInfo
	}
	b.pageInfo = graphql.NewObject(graphql.ObjectConfig{
		Name: "PageInfo",
		Fields: graphql.Fields{
			"hasNextPage": &graphql.Field{
				Type: graphql.NewNonNull(graphql.Boolean),
			},
			"hasPreviousPage": &graphql.Field{
				Type: graphql.NewNonNull(graphql.Boolean),
			},
			"startCursor": &graphql.Field{
				Type: graphql.String,
			},
			"endCursor": &graphql.Field{
				Type: graphql.String,
			},
		},
	})
	return b.pageInfo
}

func columnField(desc *typemap.Descriptor, column string) *typemap.Field {
	for i := range desc.Fields {
		if desc.Fields[i].Origin == typemap.OriginColumn && desc.Fields[i].Column == column {
			return &desc.Fields[i]
		}
	}
	return nil
}

