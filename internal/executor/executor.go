// Package executor runs compiled query plans against the database. Steps run
// in dependency order; each step issues exactly one SQL statement regardless
// of how many parent rows feed it, and independent sibling steps run
// concurrently. Any step failure fails the whole request.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"relgraph/internal/cursor"
	"relgraph/internal/dbexec"
	"relgraph/internal/planner"
	"relgraph/internal/typemap"
)

// Executor runs plans over one query source.
type Executor struct {
	queryer dbexec.Queryer
	logger  *slog.Logger
}

// New creates an executor.
func New(queryer dbexec.Queryer, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{queryer: queryer, logger: logger}
}

func startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return otel.Tracer("relgraph/executor").Start(ctx, name)
}

// row pairs the fetched column values of one database row with the response
// object assembled from them.
type row struct {
	cols map[string]any
	out  map[string]any
}

// Execute runs a plan with the request's bindings. Single-row roots return the
// object map or nil; collection roots return the connection envelope.
func (e *Executor) Execute(ctx context.Context, plan *planner.Plan, b planner.Bindings) (any, error) {
	ctx, span := startSpan(ctx, "executor.execute")
	defer span.End()
	span.SetAttributes(
		attribute.String("plan.hash", plan.Hash),
		attribute.String("plan.table", plan.Root.Table),
	)

	result, err := e.executeRoot(ctx, plan.Root, b)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
		return nil, err
	}
	return result, nil
}

func (e *Executor) executeRoot(ctx context.Context, root *planner.Step, b planner.Bindings) (any, error) {
	switch root.Kind {
	case planner.StepSingle:
		q, err := planner.RenderRoot(root, b)
		if err != nil {
			return nil, err
		}
		raws, err := e.runQuery(ctx, root.Path, q, len(root.Fetch))
		if err != nil {
			return nil, err
		}
		if len(raws) == 0 {
			return nil, nil
		}
		rows := []*row{materialize(root, raws[0])}
		if err := e.resolveChildren(ctx, root, rows, b); err != nil {
			return nil, err
		}
		return rows[0].out, nil

	case planner.StepCollection:
		limit, err := planner.PageSize(root, b)
		if err != nil {
			return nil, err
		}
		q, err := planner.RenderRoot(root, b)
		if err != nil {
			return nil, err
		}
		raws, err := e.runQuery(ctx, root.Path, q, len(root.Fetch))
		if err != nil {
			return nil, err
		}
		hasNext := len(raws) > limit
		if hasNext {
			raws = raws[:limit]
		}
		rows := make([]*row, len(raws))
		for i, raw := range raws {
			rows[i] = materialize(root, raw)
		}
		if err := e.resolveChildren(ctx, root, rows, b); err != nil {
			return nil, err
		}

		total := 0
		if root.WantTotal {
			cq, err := planner.RenderCount(root, b)
			if err != nil {
				return nil, err
			}
			counts, err := e.runQuery(ctx, root.Path, cq, 1)
			if err != nil {
				return nil, err
			}
			if len(counts) > 0 {
				total = toInt(counts[0][0])
			}
		}
		return e.connection(root, rows, hasNext, root.HasAfter, total)

	default:
		return nil, fmt.Errorf("step kind %s cannot execute as root", root.Kind)
	}
}

// runQuery executes one statement and scans every row positionally.
func (e *Executor) runQuery(ctx context.Context, stepPath string, q planner.SQLQuery, nCols int) ([][]any, error) {
	if q.Empty() {
		return nil, nil
	}
	e.logger.Debug("executing step query",
		slog.String("step", stepPath),
		slog.String("sql", q.SQL),
		slog.Int("args", len(q.Args)),
	)
	rows, err := e.queryer.QueryContext(ctx, q.SQL, q.Args...)
	if err != nil {
		return nil, classify(stepPath, err)
	}
	defer func() { _ = rows.Close() }()

	var out [][]any
	for rows.Next() {
		values := make([]any, nCols)
		ptrs := make([]any, nCols)
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, classify(stepPath, err)
		}
		out = append(out, values)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(stepPath, err)
	}
	return out, nil
}

func materialize(step *planner.Step, raw []any) *row {
	cols := make(map[string]any, len(step.Fetch))
	for i, col := range step.Fetch {
		cols[col] = convertValue(step.FetchKinds[i], raw[i])
	}
	out := make(map[string]any, len(step.Fields))
	for _, fs := range step.Fields {
		out[fs.Out] = outputValue(fs.List, cols[fs.Column])
	}
	return &row{cols: cols, out: out}
}

// resolveChildren fetches every child step. The fetches run concurrently, one
// query each; attachment into the shared parent rows happens sequentially
// afterwards.
func (e *Executor) resolveChildren(ctx context.Context, step *planner.Step, rows []*row, b planner.Bindings) error {
	if len(step.Children) == 0 || len(rows) == 0 {
		return nil
	}
	attachers := make([]func(), len(step.Children))
	g, gctx := errgroup.WithContext(ctx)
	for i, child := range step.Children {
		g.Go(func() error {
			attach, err := e.fetchChild(gctx, step, child, rows, b)
			if err != nil {
				return err
			}
			attachers[i] = attach
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for _, attach := range attachers {
		attach()
	}
	return nil
}

func (e *Executor) fetchChild(ctx context.Context, parent, child *planner.Step, rows []*row, b planner.Bindings) (func(), error) {
	rel := child.Relation
	parents, keys := parentTuples(rel.LocalColumns, rows)
	keyKinds := fetchKinds(parent, rel.LocalColumns)

	switch child.Kind {
	case planner.StepManyToOne:
		return e.fetchManyToOne(ctx, child, parents, keys, keyKinds, rows, b)
	default:
		return e.fetchBatchPage(ctx, child, parents, keys, keyKinds, rows, b)
	}
}

func (e *Executor) fetchManyToOne(ctx context.Context, child *planner.Step, parents []planner.ParentTuple, keys []string, keyKinds []typemap.ScalarKind, rows []*row, b planner.Bindings) (func(), error) {
	q, err := planner.RenderManyToOne(child, parents)
	if err != nil {
		return nil, err
	}
	width := child.BatchKeyWidth()
	raws, err := e.runQuery(ctx, child.Path, q, len(child.Fetch)+width)
	if err != nil {
		return nil, err
	}

	group := make(map[string]*row, len(raws))
	var childRows []*row
	for _, raw := range raws {
		key := aliasKey(raw[len(child.Fetch):], keyKinds)
		if _, exists := group[key]; exists {
			continue
		}
		r := materialize(child, raw[:len(child.Fetch)])
		group[key] = r
		childRows = append(childRows, r)
	}
	if err := e.resolveChildren(ctx, child, childRows, b); err != nil {
		return nil, err
	}

	return func() {
		for idx, r := range rows {
			key := keys[idx]
			if key == "" {
				r.out[child.OutName] = nil
				continue
			}
			if match, ok := group[key]; ok {
				r.out[child.OutName] = match.out
			} else {
				// Dangling reference: the FK value points at no row.
				r.out[child.OutName] = nil
			}
		}
	}, nil
}

func (e *Executor) fetchBatchPage(ctx context.Context, child *planner.Step, parents []planner.ParentTuple, keys []string, keyKinds []typemap.ScalarKind, rows []*row, b planner.Bindings) (func(), error) {
	limit, err := planner.PageSize(child, b)
	if err != nil {
		return nil, err
	}
	q, err := planner.RenderBatchPage(child, b, parents, limit)
	if err != nil {
		return nil, err
	}
	width := child.BatchKeyWidth()
	raws, err := e.runQuery(ctx, child.Path, q, len(child.Fetch)+width)
	if err != nil {
		return nil, err
	}

	grouped := make(map[string][]*row)
	for _, raw := range raws {
		key := aliasKey(raw[len(child.Fetch):], keyKinds)
		grouped[key] = append(grouped[key], materialize(child, raw[:len(child.Fetch)]))
	}
	// Trim the hasNextPage sentinel row per parent before grandchildren are
	// fetched, in stable parent order.
	hasNext := make(map[string]bool, len(parents))
	var childRows []*row
	for _, parent := range parents {
		page := grouped[parent.Key]
		if len(page) > limit {
			hasNext[parent.Key] = true
			page = page[:limit]
			grouped[parent.Key] = page
		}
		childRows = append(childRows, page...)
	}
	if err := e.resolveChildren(ctx, child, childRows, b); err != nil {
		return nil, err
	}

	counts := make(map[string]int)
	if child.WantTotal {
		cq, err := planner.RenderBatchCount(child, b, parents)
		if err != nil {
			return nil, err
		}
		countRows, err := e.runQuery(ctx, child.Path, cq, width+1)
		if err != nil {
			return nil, err
		}
		for _, raw := range countRows {
			counts[aliasKey(raw[:width], keyKinds)] = toInt(raw[width])
		}
	}

	return func() {
		for idx, r := range rows {
			key := keys[idx]
			envelope, err := e.connection(child, grouped[key], hasNext[key], child.HasAfter, counts[key])
			if err != nil {
				// Cursor encoding failures are programming errors; surface an
				// empty envelope rather than tearing down the attach phase.
				e.logger.Error("failed to build connection envelope",
					slog.String("step", child.Path), slog.String("error", err.Error()))
				envelope = map[string]any{"edges": []any{}}
				if child.WantNodes {
					envelope["nodes"] = []any{}
				}
			}
			r.out[child.OutName] = envelope
		}
	}, nil
}

// connection assembles the edges/pageInfo/totalCount envelope for one page.
func (e *Executor) connection(step *planner.Step, page []*row, hasNext, hasPrevious bool, total int) (map[string]any, error) {
	needCursor := step.WantCursors || step.WantPageInfo
	edges := make([]any, 0, len(page))
	var firstCursor, lastCursor string
	for i, r := range page {
		edge := map[string]any{"node": r.out}
		if needCursor {
			token, err := rowCursor(step, r)
			if err != nil {
				return nil, err
			}
			edge["cursor"] = token
			if i == 0 {
				firstCursor = token
			}
			lastCursor = token
		}
		edges = append(edges, edge)
	}

	envelope := map[string]any{"edges": edges}
	if step.WantNodes {
		nodes := make([]any, 0, len(page))
		for _, r := range page {
			nodes = append(nodes, r.out)
		}
		envelope["nodes"] = nodes
	}
	if step.WantPageInfo {
		pageInfo := map[string]any{
			"hasNextPage":     hasNext,
			"hasPreviousPage": hasPrevious,
		}
		if len(page) > 0 {
			pageInfo["startCursor"] = firstCursor
			pageInfo["endCursor"] = lastCursor
		} else {
			pageInfo["startCursor"] = nil
			pageInfo["endCursor"] = nil
		}
		envelope["pageInfo"] = pageInfo
	}
	if step.WantTotal {
		envelope["totalCount"] = total
	}
	return envelope, nil
}

// rowCursor encodes the pagination cursor pointing at a row.
func rowCursor(step *planner.Step, r *row) (string, error) {
	columns := step.OrderColumns()
	values := make([]any, len(columns))
	for i, col := range columns {
		values[i] = r.cols[col]
	}
	return cursor.Encode(step.TypeName, columns, step.OrderDirections(), values)
}

// parentTuples collects the distinct non-null parent key tuples for a child
// fetch, sorted for deterministic SQL, plus each row's key ("" for null keys).
func parentTuples(localCols []string, rows []*row) ([]planner.ParentTuple, []string) {
	keys := make([]string, len(rows))
	seen := make(map[string]bool)
	var tuples []planner.ParentTuple
	for idx, r := range rows {
		values := make([]any, len(localCols))
		null := false
		for i, col := range localCols {
			v := r.cols[col]
			if v == nil {
				null = true
				break
			}
			values[i] = v
		}
		if null {
			continue
		}
		key := joinKey(values)
		keys[idx] = key
		if !seen[key] {
			seen[key] = true
			tuples = append(tuples, planner.ParentTuple{Key: key, Values: values})
		}
	}
	sort.Slice(tuples, func(i, j int) bool { return tuples[i].Key < tuples[j].Key })
	return tuples, keys
}

func fetchKinds(step *planner.Step, columns []string) []typemap.ScalarKind {
	kinds := make([]typemap.ScalarKind, len(columns))
	for i, col := range columns {
		kinds[i] = step.FetchKind(col)
	}
	return kinds
}

// aliasKey converts batch alias values with the parent-side kinds and joins
// them into a grouping key.
func aliasKey(raw []any, kinds []typemap.ScalarKind) string {
	values := make([]any, len(raw))
	for i, v := range raw {
		kind := typemap.ScalarString
		if i < len(kinds) {
			kind = kinds[i]
		}
		values[i] = convertValue(kind, v)
	}
	return joinKey(values)
}
