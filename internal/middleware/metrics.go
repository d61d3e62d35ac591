package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"relgraph/internal/observability"
)

// QueryMetrics wraps the GraphQL endpoint and records request metrics. Only
// POST requests count; GET serves the GraphiQL page.
func QueryMetrics(metrics *observability.QueryMetrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost || metrics == nil {
				next.ServeHTTP(w, r)
				return
			}

			ctx := observability.ContextWithQueryMetrics(r.Context(), metrics)
			r = r.WithContext(ctx)

			metrics.RecordRequestStart(ctx)
			start := time.Now()

			wrapped := &capturingWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			errorCount := 0
			if wrapped.status >= 400 {
				errorCount = 1
			} else {
				errorCount = graphQLErrorCount(wrapped.body.Bytes())
			}
			metrics.RecordRequestEnd(ctx, time.Since(start), errorCount)
		})
	}
}

// capturingWriter keeps a copy of the body so the error list can be inspected
// after the handler ran.
type capturingWriter struct {
	http.ResponseWriter
	status  int
	written bool
	body    bytes.Buffer
}

func (w *capturingWriter) WriteHeader(status int) {
	if !w.written {
		w.status = status
		w.written = true
		w.ResponseWriter.WriteHeader(status)
	}
}

func (w *capturingWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.WriteHeader(http.StatusOK)
	}
	_, _ = w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func graphQLErrorCount(body []byte) int {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return 0
	}
	var payload struct {
		Errors []json.RawMessage `json:"errors"`
	}
	if err := json.Unmarshal(trimmed, &payload); err != nil {
		return 0
	}
	return len(payload.Errors)
}
