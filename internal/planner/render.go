package planner

import (
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"relgraph/internal/cursor"
	"relgraph/internal/sqlutil"
)

// SQLQuery is a rendered statement with its bound arguments.
type SQLQuery struct {
	SQL  string
	Args []any
}

// Empty reports whether rendering produced no statement (no parents to fetch
// for).
func (q SQLQuery) Empty() bool { return q.SQL == "" }

// ParentTuple is one distinct parent key a batch step fetches children for.
type ParentTuple struct {
	Key    string
	Values []any
}

// OrderColumns returns the step's ordering columns in order.
func (s *Step) OrderColumns() []string { return orderColumns(s.Order) }

// OrderDirections returns the step's ordering directions in order.
func (s *Step) OrderDirections() []cursor.Direction { return orderDirections(s.Order) }

// PageSize resolves the effective page size for a collection step from the
// request's first argument, clamped by the configured maximum.
func PageSize(step *Step, b Bindings) (int, error) {
	raw, ok := b[step.Path]["first"]
	if !ok {
		return step.DefaultLimit, nil
	}
	var n int
	switch v := raw.(type) {
	case int:
		n = v
	case int64:
		n = int(v)
	case float64:
		n = int(v)
	default:
		return 0, errInvalidArgument(step.Path, "first must be an integer")
	}
	if n <= 0 {
		return 0, errInvalidArgument(step.Path, "first must be positive")
	}
	if n > step.MaxLimit {
		return 0, errInvalidArgument(step.Path, "first %d exceeds maximum page size %d", n, step.MaxLimit)
	}
	return n, nil
}

// BatchParentAliases returns the stable output aliases batch queries use to
// carry parent key columns alongside child rows.
func BatchParentAliases(n int) []string {
	aliases := make([]string, n)
	for i := range aliases {
		if i == 0 {
			aliases[i] = "__batch_parent_id"
		} else {
			aliases[i] = fmt.Sprintf("__batch_parent_id_%d", i+1)
		}
	}
	return aliases
}

func quotedColumns(columns []string) []string {
	quoted := make([]string, len(columns))
	for i, col := range columns {
		quoted[i] = sqlutil.QuoteIdentifier(col)
	}
	return quoted
}

func qualifiedColumns(tableAlias string, columns []string) []string {
	quoted := make([]string, len(columns))
	for i, col := range columns {
		quoted[i] = sqlutil.QualifyColumn(tableAlias, col)
	}
	return quoted
}

// RenderRoot renders a root step: a keyed single-row lookup or the first page
// of a root collection. Collections fetch one row past the page size so the
// executor can compute hasNextPage without a second query.
func RenderRoot(step *Step, b Bindings) (SQLQuery, error) {
	plain := func(col string) string { return sqlutil.QuoteIdentifier(col) }

	builder := sq.Select(quotedColumns(step.Fetch)...).
		From(sqlutil.QuoteIdentifier(step.Table))

	switch step.Kind {
	case StepSingle:
		args := b[step.Path]
		for i, col := range step.KeyColumns {
			value, ok := args[step.KeyArgs[i]]
			if !ok {
				return SQLQuery{}, errInvalidArgument(step.Path, "missing argument %s", step.KeyArgs[i])
			}
			builder = builder.Where(sq.Eq{plain(col): value})
		}
		builder = builder.Limit(1)

	case StepCollection:
		limit, err := PageSize(step, b)
		if err != nil {
			return SQLQuery{}, err
		}
		builder, err = applyCollectionClauses(builder, step, b, plain)
		if err != nil {
			return SQLQuery{}, err
		}
		builder = builder.
			OrderBy(orderClause(step.Order, plain)).
			Limit(uint64(limit + 1))

	default:
		return SQLQuery{}, fmt.Errorf("step kind %s is not a root", step.Kind)
	}

	return toSQL(builder)
}

// RenderCount renders the totalCount query for a collection step: the filter
// applies, the page boundary does not.
func RenderCount(step *Step, b Bindings) (SQLQuery, error) {
	plain := func(col string) string { return sqlutil.QuoteIdentifier(col) }
	builder := sq.Select("COUNT(*)").From(sqlutil.QuoteIdentifier(step.Table))
	if step.Filter != nil {
		condition, err := renderFilter(step.Filter, b[step.Path]["where"], plain)
		if err != nil {
			return SQLQuery{}, err
		}
		builder = builder.Where(condition)
	}
	return toSQL(builder)
}

// RenderBatchCount renders the per-parent totalCount query for a nested
// collection: one grouped count regardless of parent cardinality.
func RenderBatchCount(step *Step, b Bindings, parents []ParentTuple) (SQLQuery, error) {
	if len(parents) == 0 {
		return SQLQuery{}, nil
	}
	from, partitionCols, qualify, err := batchSource(step)
	if err != nil {
		return SQLQuery{}, err
	}
	aliases := BatchParentAliases(len(partitionCols))
	selectCols := make([]string, 0, len(partitionCols)+1)
	for i, col := range partitionCols {
		selectCols = append(selectCols, fmt.Sprintf("%s AS %s", col, aliases[i]))
	}
	selectCols = append(selectCols, "COUNT(*) AS __count")

	parentSQL, parentArgs, err := tupleInCondition(partitionCols, parents)
	if err != nil {
		return SQLQuery{}, err
	}
	where := parentSQL
	args := parentArgs
	if step.Filter != nil {
		condition, err := renderFilter(step.Filter, b[step.Path]["where"], qualify)
		if err != nil {
			return SQLQuery{}, err
		}
		condSQL, condArgs, err := condition.ToSql()
		if err != nil {
			return SQLQuery{}, err
		}
		where += " AND " + condSQL
		args = append(args, condArgs...)
	}

	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s GROUP BY %s",
		strings.Join(selectCols, ", "), from, where, strings.Join(partitionCols, ", "))
	return SQLQuery{SQL: query, Args: args}, nil
}

// RenderManyToOne renders the batched lookup for a forward relation: one IN
// query covering every distinct parent key, each row carrying its parent key
// back out under the batch aliases.
func RenderManyToOne(step *Step, parents []ParentTuple) (SQLQuery, error) {
	if len(parents) == 0 {
		return SQLQuery{}, nil
	}
	remote := step.Relation.RemoteColumns
	aliases := BatchParentAliases(len(remote))

	builder := sq.Select(quotedColumns(step.Fetch)...).
		From(sqlutil.QuoteIdentifier(step.Table))

	if len(remote) == 1 {
		flat := make([]any, 0, len(parents))
		for _, tuple := range parents {
			flat = append(flat, tuple.Values[0])
		}
		builder = builder.
			Where(sq.Eq{sqlutil.QuoteIdentifier(remote[0]): flat}).
			Column(fmt.Sprintf("%s AS %s", sqlutil.QuoteIdentifier(remote[0]), aliases[0]))
	} else {
		whereSQL, whereArgs, err := tupleInCondition(quotedColumns(remote), parents)
		if err != nil {
			return SQLQuery{}, err
		}
		builder = builder.Where(sq.Expr(whereSQL, whereArgs...))
		for i, col := range remote {
			builder = builder.Column(fmt.Sprintf("%s AS %s", sqlutil.QuoteIdentifier(col), aliases[i]))
		}
	}
	return toSQL(builder)
}

// RenderBatchPage renders the batched window query for a nested collection:
// ROW_NUMBER partitioned by parent key bounds every parent's page in a single
// statement, fetching one row past the page size per parent.
func RenderBatchPage(step *Step, b Bindings, parents []ParentTuple, limit int) (SQLQuery, error) {
	if len(parents) == 0 {
		return SQLQuery{}, nil
	}
	from, partitionCols, qualify, err := batchSource(step)
	if err != nil {
		return SQLQuery{}, err
	}

	aliases := BatchParentAliases(len(partitionCols))
	innerParent := make([]string, len(partitionCols))
	for i := range partitionCols {
		innerParent[i] = fmt.Sprintf("%s AS %s", partitionCols[i], aliases[i])
	}

	fetchCols := make([]string, len(step.Fetch))
	for i, col := range step.Fetch {
		fetchCols[i] = qualify(col)
	}

	parentSQL, parentArgs, err := tupleInCondition(partitionCols, parents)
	if err != nil {
		return SQLQuery{}, err
	}
	where := parentSQL
	args := parentArgs

	if step.Filter != nil {
		condition, err := renderFilter(step.Filter, b[step.Path]["where"], qualify)
		if err != nil {
			return SQLQuery{}, err
		}
		condSQL, condArgs, err := condition.ToSql()
		if err != nil {
			return SQLQuery{}, err
		}
		where += " AND " + condSQL
		args = append(args, condArgs...)
	}
	if step.HasAfter {
		token, _ := b[step.Path]["after"].(string)
		values, err := decodeSeek(step.TypeName, step.Order, token)
		if err != nil {
			return SQLQuery{}, err
		}
		seek, err := seekCondition(step.Order, values, qualify)
		if err != nil {
			return SQLQuery{}, err
		}
		seekSQL, seekArgs, err := seek.ToSql()
		if err != nil {
			return SQLQuery{}, err
		}
		where += " AND (" + seekSQL + ")"
		args = append(args, seekArgs...)
	}

	outerCols := make([]string, 0, len(step.Fetch)+len(aliases))
	for i := range step.Fetch {
		outerCols = append(outerCols, fmt.Sprintf("`f%d`", i))
	}
	innerCols := make([]string, 0, len(step.Fetch)+len(aliases))
	for i, col := range fetchCols {
		innerCols = append(innerCols, fmt.Sprintf("%s AS `f%d`", col, i))
	}
	innerCols = append(innerCols, innerParent...)
	outerCols = append(outerCols, aliases...)

	query := fmt.Sprintf(
		"SELECT %s FROM (SELECT %s, ROW_NUMBER() OVER (PARTITION BY %s ORDER BY %s) AS __rn FROM %s WHERE %s) AS __batch WHERE __rn <= ? ORDER BY %s, __rn",
		strings.Join(outerCols, ", "),
		strings.Join(innerCols, ", "),
		strings.Join(partitionCols, ", "),
		orderClause(step.Order, qualify),
		from,
		where,
		strings.Join(aliases, ", "),
	)
	args = append(args, limit+1)
	return SQLQuery{SQL: query, Args: args}, nil
}

// batchSource resolves the FROM clause, partition columns, and column
// qualifier for a batch collection step. One-to-many reads the child table
// directly, partitioned by its FK columns; many-to-many joins the target
// through the junction, partitioned by the junction's near-side FK columns.
func batchSource(step *Step) (from string, partitionCols []string, qualify func(string) string, err error) {
	rel := step.Relation
	if rel == nil {
		return "", nil, nil, fmt.Errorf("batch step %s has no relation", step.Path)
	}
	target := step.Table
	qualify = func(col string) string { return sqlutil.QualifyColumn(target, col) }

	if step.Kind == StepOneToMany {
		return sqlutil.QuoteIdentifier(target), qualifiedColumns(target, rel.RemoteColumns), qualify, nil
	}

	junction := rel.JunctionTable
	predicates := make([]string, len(rel.JunctionRemoteFK))
	for i := range rel.JunctionRemoteFK {
		predicates[i] = fmt.Sprintf("%s = %s",
			sqlutil.QualifyColumn(junction, rel.JunctionRemoteFK[i]),
			sqlutil.QualifyColumn(target, rel.RemoteColumns[i]),
		)
	}
	from = fmt.Sprintf("%s INNER JOIN %s ON %s",
		sqlutil.QuoteIdentifier(target), sqlutil.QuoteIdentifier(junction), strings.Join(predicates, " AND "))
	return from, qualifiedColumns(junction, rel.JunctionLocalFK), qualify, nil
}

// tupleInCondition builds "(a, b) IN ((?, ?), ...)" over already-quoted
// columns, degenerating to a plain IN for single-column keys.
func tupleInCondition(quotedCols []string, parents []ParentTuple) (string, []any, error) {
	if len(parents) == 0 {
		return "", nil, nil
	}
	width := len(quotedCols)
	if width == 1 {
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(parents)), ", ")
		args := make([]any, 0, len(parents))
		for _, tuple := range parents {
			if len(tuple.Values) != 1 {
				return "", nil, fmt.Errorf("parent tuple width mismatch")
			}
			args = append(args, tuple.Values[0])
		}
		return fmt.Sprintf("%s IN (%s)", quotedCols[0], placeholders), args, nil
	}

	tuple := "(" + strings.TrimSuffix(strings.Repeat("?, ", width), ", ") + ")"
	groups := make([]string, len(parents))
	args := make([]any, 0, len(parents)*width)
	for i, parent := range parents {
		if len(parent.Values) != width {
			return "", nil, fmt.Errorf("parent tuple width mismatch")
		}
		groups[i] = tuple
		args = append(args, parent.Values...)
	}
	return fmt.Sprintf("(%s) IN (%s)", strings.Join(quotedCols, ", "), strings.Join(groups, ", ")), args, nil
}

// applyCollectionClauses adds filter and cursor boundary clauses to a root
// collection query.
func applyCollectionClauses(builder sq.SelectBuilder, step *Step, b Bindings, qualify func(string) string) (sq.SelectBuilder, error) {
	if step.Filter != nil {
		condition, err := renderFilter(step.Filter, b[step.Path]["where"], qualify)
		if err != nil {
			return builder, err
		}
		builder = builder.Where(condition)
	}
	if step.HasAfter {
		token, _ := b[step.Path]["after"].(string)
		values, err := decodeSeek(step.TypeName, step.Order, token)
		if err != nil {
			return builder, err
		}
		seek, err := seekCondition(step.Order, values, qualify)
		if err != nil {
			return builder, err
		}
		builder = builder.Where(seek)
	}
	return builder, nil
}

func toSQL(builder sq.SelectBuilder) (SQLQuery, error) {
	query, args, err := builder.PlaceholderFormat(sq.Question).ToSql()
	if err != nil {
		return SQLQuery{}, err
	}
	return SQLQuery{SQL: query, Args: args}, nil
}
