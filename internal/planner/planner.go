// Package planner compiles GraphQL selections against the generated type
// descriptors into batched SQL fetch plans. A plan contains one step per
// fetch; every relation hop is one batched query no matter how many parent
// rows feed it. Plans hold no literal values and are cached by selection
// shape, so repeated queries that differ only in literals skip the walk.
package planner

import (
	"context"
	"log/slog"
	"strings"

	"github.com/graphql-go/graphql/language/ast"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"relgraph/internal/catalog"
	"relgraph/internal/typemap"
)

// RootQuery identifies which root field a plan serves. KeyColumns is non-nil
// for single-row lookups and names the lookup key; collections leave it nil.
type RootQuery struct {
	Table      string
	KeyColumns []string
	KeyArgs    []string
}

// Planner compiles plans for one schema snapshot. It is safe for concurrent
// use; the snapshot it was built from never mutates.
type Planner struct {
	graph  *catalog.Graph
	types  *typemap.Result
	limits Limits
	cache  *Cache
	logger *slog.Logger
}

// New creates a planner over a mapped catalog.
func New(graph *catalog.Graph, types *typemap.Result, limits Limits, logger *slog.Logger) *Planner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{
		graph:  graph,
		types:  types,
		limits: limits.withDefaults(),
		cache:  NewCache(0),
		logger: logger,
	}
}

// CacheLen returns the number of cached plans.
func (p *Planner) CacheLen() int { return p.cache.Len() }

// PurgeCache drops all cached plans. The refresh manager calls this when a new
// snapshot replaces the one these plans were compiled against.
func (p *Planner) PurgeCache() { p.cache.Purge() }

func startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return otel.Tracer("relgraph/planner").Start(ctx, name)
}

// Plan compiles (or fetches from cache) the plan for one root field and binds
// the current request's argument values to it.
func (p *Planner) Plan(ctx context.Context, root RootQuery, field *ast.Field, vars map[string]any, fragments map[string]*ast.FragmentDefinition) (*Plan, Bindings, error) {
	_, span := startSpan(ctx, "planner.plan")
	defer span.End()
	span.SetAttributes(attribute.String("plan.table", root.Table))

	hash := shapeHash(root.Table+"/"+strings.Join(root.KeyColumns, ","), field, vars, fragments)
	plan, cached := p.cache.Get(hash)
	if !cached {
		built, err := p.build(root, field, vars, fragments)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			return nil, nil, err
		}
		built.Hash = hash
		p.cache.Put(built)
		plan = built
	}
	span.SetAttributes(attribute.Bool("plan.cached", cached))

	bindings := make(Bindings)
	if err := bindWalk(field, outputName(field), vars, fragments, bindings); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, nil, err
	}
	return plan, bindings, nil
}

// bindWalk collects raw argument values for every field in the selection,
// keyed by the same dotted paths the build walk assigns to steps.
func bindWalk(field *ast.Field, path string, vars map[string]any, fragments map[string]*ast.FragmentDefinition, out Bindings) error {
	args, err := fieldArgs(field, vars)
	if err != nil {
		return err
	}
	if len(args) > 0 {
		out[path] = args
	}
	if field.SelectionSet == nil {
		return nil
	}
	return bindSelections(field.SelectionSet, path, vars, fragments, out)
}

func bindSelections(set *ast.SelectionSet, path string, vars map[string]any, fragments map[string]*ast.FragmentDefinition, out Bindings) error {
	for _, selection := range set.Selections {
		switch sel := selection.(type) {
		case *ast.Field:
			if err := bindWalk(sel, path+"."+outputName(sel), vars, fragments, out); err != nil {
				return err
			}
		case *ast.InlineFragment:
			if sel.SelectionSet != nil {
				if err := bindSelections(sel.SelectionSet, path, vars, fragments, out); err != nil {
					return err
				}
			}
		case *ast.FragmentSpread:
			if fragment, ok := fragments[sel.Name.Value]; ok && fragment != nil && fragment.SelectionSet != nil {
				if err := bindSelections(fragment.SelectionSet, path, vars, fragments, out); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

type buildContext struct {
	vars      map[string]any
	fragments map[string]*ast.FragmentDefinition
}

func (p *Planner) build(root RootQuery, field *ast.Field, vars map[string]any, fragments map[string]*ast.FragmentDefinition) (*Plan, error) {
	obj := p.types.Object(root.Table)
	_, ok := p.graph.Table(root.Table)
	if obj == nil || !ok {
		return nil, errInvalidArgument(outputName(field), "no type mapped for table %s", root.Table)
	}
	bc := &buildContext{vars: vars, fragments: fragments}
	path := outputName(field)

	var step *Step
	if root.KeyColumns != nil {
		step = &Step{
			Kind:       StepSingle,
			Path:       path,
			OutName:    path,
			Table:      root.Table,
			TypeName:   obj.Name,
			KeyColumns: append([]string(nil), root.KeyColumns...),
			KeyArgs:    append([]string(nil), root.KeyArgs...),
		}
		for _, col := range root.KeyColumns {
			kind, _ := columnKind(obj, col)
			step.KeyKinds = append(step.KeyKinds, kind)
		}
		if field.SelectionSet == nil {
			return nil, errInvalidArgument(path, "selection set required")
		}
		if err := p.walkObject(step, obj, field.SelectionSet, path, 1, bc); err != nil {
			return nil, err
		}
	} else {
		var err error
		step, err = p.buildCollectionStep(StepCollection, root.Table, nil, field, path, path, 1, bc)
		if err != nil {
			return nil, err
		}
	}

	plan := &Plan{Root: step}
	plan.Cost = estimateCost(step)
	if plan.Cost > p.limits.MaxCost {
		return nil, errInvalidArgument(path, "query fan-out estimate %d exceeds limit %d", plan.Cost, p.limits.MaxCost)
	}
	return plan, nil
}

// buildCollectionStep assembles a connection step (root or nested) from the
// field's arguments and connection selection set.
func (p *Planner) buildCollectionStep(kind StepKind, tableName string, relation *typemap.Relation, field *ast.Field, path, outName string, depth int, bc *buildContext) (*Step, error) {
	obj := p.types.Object(tableName)
	conn := p.types.Connection(tableName)
	if obj == nil || conn == nil {
		return nil, errInvalidArgument(path, "no type mapped for table %s", tableName)
	}

	step := &Step{
		Kind:         kind,
		Path:         path,
		OutName:      outName,
		Table:        tableName,
		TypeName:     obj.Name,
		Relation:     relation,
		Connection:   true,
		DefaultLimit: conn.Pagination.DefaultPageSize,
		MaxLimit:     p.limits.MaxPageSize,
	}

	args, err := fieldArgs(field, bc.vars)
	if err != nil {
		return nil, err
	}
	if rawWhere, ok := args["where"]; ok {
		filter, err := parseFilter(obj, rawWhere, path)
		if err != nil {
			return nil, err
		}
		step.Filter = filter
	}
	step.Order, err = parseOrderBy(obj, conn.Pagination, args["orderBy"], path)
	if err != nil {
		return nil, err
	}
	if _, ok := args["after"]; ok {
		step.HasAfter = true
	}

	if field.SelectionSet == nil {
		return nil, errInvalidArgument(path, "selection set required")
	}
	if err := p.walkConnection(step, obj, field.SelectionSet, path, depth, bc); err != nil {
		return nil, err
	}

	// Ordering columns always ride along: cursors, stitch order, and the
	// seek predicate all need them.
	for _, term := range step.Order {
		kind, _ := columnKind(obj, term.Column)
		step.addFetch(term.Column, kind)
	}
	return step, nil
}

func (p *Planner) walkConnection(step *Step, obj *typemap.Descriptor, set *ast.SelectionSet, path string, depth int, bc *buildContext) error {
	for _, selection := range set.Selections {
		switch sel := selection.(type) {
		case *ast.Field:
			name := sel.Name.Value
			selPath := path + "." + outputName(sel)
			switch name {
			case "__typename":
			case "totalCount":
				step.WantTotal = true
			case "pageInfo":
				step.WantPageInfo = true
				if err := checkPageInfoSelection(sel, selPath); err != nil {
					return err
				}
			case "edges":
				if sel.SelectionSet == nil {
					return errInvalidArgument(selPath, "selection set required")
				}
				if err := p.walkEdges(step, obj, sel.SelectionSet, selPath, depth, bc); err != nil {
					return err
				}
			case "nodes":
				// Shortcut past the edge wrapper; selects the same row objects.
				step.WantNodes = true
				if sel.SelectionSet == nil {
					return errInvalidArgument(selPath, "selection set required")
				}
				if err := p.walkObject(step, obj, sel.SelectionSet, selPath, depth, bc); err != nil {
					return err
				}
			default:
				return errUnknownField(path, name)
			}
		case *ast.InlineFragment:
			if sel.SelectionSet != nil {
				if err := p.walkConnection(step, obj, sel.SelectionSet, path, depth, bc); err != nil {
					return err
				}
			}
		case *ast.FragmentSpread:
			if fragment, ok := bc.fragments[sel.Name.Value]; ok && fragment != nil {
				if err := p.walkConnection(step, obj, fragment.SelectionSet, path, depth, bc); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (p *Planner) walkEdges(step *Step, obj *typemap.Descriptor, set *ast.SelectionSet, path string, depth int, bc *buildContext) error {
	for _, selection := range set.Selections {
		switch sel := selection.(type) {
		case *ast.Field:
			name := sel.Name.Value
			selPath := path + "." + outputName(sel)
			switch name {
			case "__typename":
			case "cursor":
				step.WantCursors = true
			case "node":
				if sel.SelectionSet == nil {
					return errInvalidArgument(selPath, "selection set required")
				}
				if err := p.walkObject(step, obj, sel.SelectionSet, selPath, depth, bc); err != nil {
					return err
				}
			default:
				return errUnknownField(path, name)
			}
		case *ast.InlineFragment:
			if sel.SelectionSet != nil {
				if err := p.walkEdges(step, obj, sel.SelectionSet, path, depth, bc); err != nil {
					return err
				}
			}
		case *ast.FragmentSpread:
			if fragment, ok := bc.fragments[sel.Name.Value]; ok && fragment != nil {
				if err := p.walkEdges(step, obj, fragment.SelectionSet, path, depth, bc); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func checkPageInfoSelection(field *ast.Field, path string) error {
	if field.SelectionSet == nil {
		return errInvalidArgument(path, "selection set required")
	}
	for _, selection := range field.SelectionSet.Selections {
		sub, ok := selection.(*ast.Field)
		if !ok {
			continue
		}
		switch sub.Name.Value {
		case "hasNextPage", "hasPreviousPage", "startCursor", "endCursor", "__typename":
		default:
			return errUnknownField(path, sub.Name.Value)
		}
	}
	return nil
}

// walkObject plans an object selection set onto a step: columns become fetched
// fields, relations become child steps.
func (p *Planner) walkObject(step *Step, obj *typemap.Descriptor, set *ast.SelectionSet, path string, depth int, bc *buildContext) error {
	if depth > p.limits.MaxDepth {
		return errInvalidArgument(path, "selection depth exceeds limit %d", p.limits.MaxDepth)
	}

	for _, selection := range set.Selections {
		switch sel := selection.(type) {
		case *ast.Field:
			name := sel.Name.Value
			if name == "__typename" {
				continue
			}
			field := obj.Field(name)
			if field == nil {
				return errUnknownField(path, name)
			}
			selPath := path + "." + outputName(sel)
			switch field.Origin {
			case typemap.OriginColumn:
				fs := fieldSel(outputName(sel), field)
				step.addFetch(fs.Column, fs.Kind)
				step.Fields = append(step.Fields, fs)
			case typemap.OriginForwardRelation:
				if err := p.planForward(step, field, sel, selPath, depth, bc); err != nil {
					return err
				}
			case typemap.OriginReverseRelation:
				if err := p.planReverse(step, field, sel, selPath, depth, bc); err != nil {
					return err
				}
			case typemap.OriginExtension:
				// Injected fields resolve through their own resolver; nothing
				// to fetch here.
			}
		case *ast.InlineFragment:
			if sel.SelectionSet != nil {
				if err := p.walkObject(step, obj, sel.SelectionSet, path, depth, bc); err != nil {
					return err
				}
			}
		case *ast.FragmentSpread:
			if fragment, ok := bc.fragments[sel.Name.Value]; ok && fragment != nil {
				if err := p.walkObject(step, obj, fragment.SelectionSet, path, depth, bc); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (p *Planner) planForward(parent *Step, field *typemap.Field, sel *ast.Field, path string, depth int, bc *buildContext) error {
	rel := field.Relation
	remoteObj := p.types.Object(rel.RemoteTable)
	if remoteObj == nil {
		return errInvalidArgument(path, "no type mapped for table %s", rel.RemoteTable)
	}
	if sel.SelectionSet == nil {
		return errInvalidArgument(path, "selection set required")
	}

	child := &Step{
		Kind:     StepManyToOne,
		Path:     path,
		OutName:  outputName(sel),
		Table:    rel.RemoteTable,
		TypeName: remoteObj.Name,
		Relation: rel,
	}
	// Parent carries the FK columns, the child the referenced key.
	parentObj := p.types.Object(parent.Table)
	for _, col := range rel.LocalColumns {
		kind, _ := columnKind(parentObj, col)
		parent.addFetch(col, kind)
	}
	for _, col := range rel.RemoteColumns {
		kind, _ := columnKind(remoteObj, col)
		child.addFetch(col, kind)
	}
	if err := p.walkObject(child, remoteObj, sel.SelectionSet, path, depth+1, bc); err != nil {
		return err
	}
	parent.Children = append(parent.Children, child)
	return nil
}

func (p *Planner) planReverse(parent *Step, field *typemap.Field, sel *ast.Field, path string, depth int, bc *buildContext) error {
	rel := field.Relation
	kind := StepOneToMany
	if rel.ManyToMany() {
		kind = StepManyToMany
	}
	child, err := p.buildCollectionStep(kind, rel.RemoteTable, rel, sel, path, outputName(sel), depth+1, bc)
	if err != nil {
		return err
	}

	parentObj := p.types.Object(parent.Table)
	remoteObj := p.types.Object(rel.RemoteTable)
	for _, col := range rel.LocalColumns {
		ck, _ := columnKind(parentObj, col)
		parent.addFetch(col, ck)
	}
	if kind == StepOneToMany {
		for _, col := range rel.RemoteColumns {
			ck, _ := columnKind(remoteObj, col)
			child.addFetch(col, ck)
		}
	} else {
		// Many-to-many joins land on the target key columns.
		for _, col := range rel.RemoteColumns {
			ck, _ := columnKind(remoteObj, col)
			child.addFetch(col, ck)
		}
	}
	parent.Children = append(parent.Children, child)
	return nil
}

func fieldSel(out string, field *typemap.Field) FieldSel {
	fs := FieldSel{Out: out, Column: field.Column}
	switch field.Type.Kind {
	case typemap.KindScalar:
		fs.Kind = field.Type.Scalar
	case typemap.KindEnum:
		fs.Enum = true
		fs.Kind = typemap.ScalarString
	case typemap.KindList:
		fs.Enum = true
		fs.List = true
		fs.Kind = typemap.ScalarString
	}
	return fs
}

// columnKind resolves the conversion kind for a raw column through the mapped
// object, falling back to string for columns without an exposed field.
func columnKind(obj *typemap.Descriptor, column string) (typemap.ScalarKind, bool) {
	if obj != nil {
		if field := fieldForColumn(obj, column); field != nil && field.Type.Kind == typemap.KindScalar {
			return field.Type.Scalar, true
		}
	}
	return typemap.ScalarString, false
}
