package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// QueryMetrics records the lifecycle of GraphQL requests: planning, plan cache
// behavior, and per-step batch execution.
type QueryMetrics struct {
	requestDuration metric.Float64Histogram
	requestCounter  metric.Int64Counter
	errorCounter    metric.Int64Counter
	activeRequests  metric.Int64UpDownCounter

	planDuration   metric.Float64Histogram
	planCacheHits  metric.Int64Counter
	planCacheMiss  metric.Int64Counter
	planStepCount  metric.Int64Histogram
	batchParentCnt metric.Int64Histogram
	batchRowCount  metric.Int64Histogram
}

// InitQueryMetrics creates the query instruments on the global meter provider.
func InitQueryMetrics() (*QueryMetrics, error) {
	meter := otel.Meter(meterName)
	m := &QueryMetrics{}
	var err error

	if m.requestDuration, err = meter.Float64Histogram(
		"graphql.request.duration",
		metric.WithDescription("GraphQL request duration"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if m.requestCounter, err = meter.Int64Counter(
		"graphql.request.count",
		metric.WithDescription("GraphQL requests served"),
	); err != nil {
		return nil, err
	}
	if m.errorCounter, err = meter.Int64Counter(
		"graphql.request.errors",
		metric.WithDescription("GraphQL requests that returned errors"),
	); err != nil {
		return nil, err
	}
	if m.activeRequests, err = meter.Int64UpDownCounter(
		"graphql.request.active",
		metric.WithDescription("GraphQL requests in flight"),
	); err != nil {
		return nil, err
	}
	if m.planDuration, err = meter.Float64Histogram(
		"graphql.plan.duration",
		metric.WithDescription("Query planning duration"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if m.planCacheHits, err = meter.Int64Counter(
		"graphql.plan.cache_hits",
		metric.WithDescription("Query plans served from the plan cache"),
	); err != nil {
		return nil, err
	}
	if m.planCacheMiss, err = meter.Int64Counter(
		"graphql.plan.cache_misses",
		metric.WithDescription("Query plans compiled on demand"),
	); err != nil {
		return nil, err
	}
	if m.planStepCount, err = meter.Int64Histogram(
		"graphql.plan.steps",
		metric.WithDescription("Fetch steps per compiled plan"),
	); err != nil {
		return nil, err
	}
	if m.batchParentCnt, err = meter.Int64Histogram(
		"graphql.execute.batch_parents",
		metric.WithDescription("Parent keys per batched child fetch"),
	); err != nil {
		return nil, err
	}
	if m.batchRowCount, err = meter.Int64Histogram(
		"graphql.execute.batch_rows",
		metric.WithDescription("Rows returned per batched child fetch"),
	); err != nil {
		return nil, err
	}
	return m, nil
}

// RecordRequestStart marks a request in flight.
func (m *QueryMetrics) RecordRequestStart(ctx context.Context) {
	if m == nil {
		return
	}
	m.activeRequests.Add(ctx, 1)
}

// RecordRequestEnd records a finished request.
func (m *QueryMetrics) RecordRequestEnd(ctx context.Context, duration time.Duration, errorCount int) {
	if m == nil {
		return
	}
	m.activeRequests.Add(ctx, -1)
	status := "ok"
	if errorCount > 0 {
		status = "error"
		m.errorCounter.Add(ctx, int64(errorCount))
	}
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.requestCounter.Add(ctx, 1, attrs)
	m.requestDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordPlan records one planning pass for a root table.
func (m *QueryMetrics) RecordPlan(ctx context.Context, table string, duration time.Duration, cached bool, steps int) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("table", table))
	if cached {
		m.planCacheHits.Add(ctx, 1, attrs)
		return
	}
	m.planCacheMiss.Add(ctx, 1, attrs)
	m.planDuration.Record(ctx, duration.Seconds(), attrs)
	m.planStepCount.Record(ctx, int64(steps), attrs)
}

// RecordBatch records one batched child fetch.
func (m *QueryMetrics) RecordBatch(ctx context.Context, table string, parents, rows int) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("table", table))
	m.batchParentCnt.Record(ctx, int64(parents), attrs)
	m.batchRowCount.Record(ctx, int64(rows), attrs)
}

type queryMetricsKey struct{}

// ContextWithQueryMetrics stashes the metrics in the context for handlers.
func ContextWithQueryMetrics(ctx context.Context, m *QueryMetrics) context.Context {
	return context.WithValue(ctx, queryMetricsKey{}, m)
}

// QueryMetricsFromContext retrieves the metrics, or nil.
func QueryMetricsFromContext(ctx context.Context) *QueryMetrics {
	m, _ := ctx.Value(queryMetricsKey{}).(*QueryMetrics)
	return m
}
