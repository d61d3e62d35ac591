package observability

import (
	"context"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// RefreshMetrics records schema refresh activity: rebuild attempts, failures,
// and the age of the served snapshot.
type RefreshMetrics struct {
	refreshCounter  metric.Int64Counter
	errorCounter    metric.Int64Counter
	duration        metric.Float64Histogram
	lastSuccessUnix atomic.Int64
}

// InitRefreshMetrics creates the refresh instruments on the global meter
// provider.
func InitRefreshMetrics() (*RefreshMetrics, error) {
	meter := otel.Meter(meterName)
	m := &RefreshMetrics{}
	var err error

	if m.refreshCounter, err = meter.Int64Counter(
		"schema.refresh.count",
		metric.WithDescription("Schema refresh attempts"),
	); err != nil {
		return nil, err
	}
	if m.errorCounter, err = meter.Int64Counter(
		"schema.refresh.errors",
		metric.WithDescription("Schema refresh attempts that failed"),
	); err != nil {
		return nil, err
	}
	if m.duration, err = meter.Float64Histogram(
		"schema.refresh.duration",
		metric.WithDescription("Schema refresh duration"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if _, err = meter.Int64ObservableGauge(
		"schema.refresh.last_success_timestamp",
		metric.WithDescription("Unix time of the last successful schema refresh"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			if ts := m.lastSuccessUnix.Load(); ts > 0 {
				o.Observe(ts)
			}
			return nil
		}),
	); err != nil {
		return nil, err
	}
	return m, nil
}

// RecordRefresh records one refresh attempt. The trigger distinguishes timer
// polls from explicit refresh requests.
func (m *RefreshMetrics) RecordRefresh(ctx context.Context, duration time.Duration, changed bool, err error, trigger string) {
	if m == nil {
		return
	}
	status := "unchanged"
	switch {
	case err != nil:
		status = "error"
	case changed:
		status = "swapped"
	}
	attrs := metric.WithAttributes(
		attribute.String("status", status),
		attribute.String("trigger", trigger),
	)
	m.refreshCounter.Add(ctx, 1, attrs)
	m.duration.Record(ctx, duration.Seconds(), attrs)
	if err != nil {
		m.errorCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("trigger", trigger)))
		return
	}
	m.lastSuccessUnix.Store(time.Now().Unix())
}
