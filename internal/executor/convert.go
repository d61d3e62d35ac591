package executor

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"relgraph/internal/typemap"
)

// convertValue normalizes a raw driver value to the Go type its scalar kind
// serializes from. The MySQL text protocol returns most values as []byte, so
// numeric and temporal kinds parse from bytes when needed.
func convertValue(kind typemap.ScalarKind, raw any) any {
	if raw == nil {
		return nil
	}
	switch kind {
	case typemap.ScalarInt:
		switch v := raw.(type) {
		case int64:
			return v
		case int32:
			return int64(v)
		case int:
			return int64(v)
		case uint64:
			return int64(v)
		case []byte:
			if n, err := strconv.ParseInt(string(v), 10, 64); err == nil {
				return n
			}
			return string(v)
		default:
			return raw
		}
	case typemap.ScalarFloat:
		switch v := raw.(type) {
		case float64:
			return v
		case float32:
			return float64(v)
		case int64:
			return float64(v)
		case []byte:
			if f, err := strconv.ParseFloat(string(v), 64); err == nil {
				return f
			}
			return string(v)
		default:
			return raw
		}
	case typemap.ScalarBoolean:
		switch v := raw.(type) {
		case bool:
			return v
		case int64:
			return v != 0
		case []byte:
			return string(v) != "0" && !strings.EqualFold(string(v), "false")
		default:
			return raw
		}
	case typemap.ScalarDateTime:
		switch v := raw.(type) {
		case time.Time:
			return v
		case []byte:
			return parseDBTime(string(v))
		case string:
			return parseDBTime(v)
		default:
			return raw
		}
	case typemap.ScalarBytes:
		switch v := raw.(type) {
		case []byte:
			return v
		case string:
			return []byte(v)
		default:
			return raw
		}
	default:
		// String, UUID, JSON, and enum values surface as strings.
		switch v := raw.(type) {
		case []byte:
			return string(v)
		default:
			return raw
		}
	}
}

func parseDBTime(s string) any {
	for _, layout := range []string{"2006-01-02 15:04:05.999999", "2006-01-02 15:04:05", "2006-01-02", time.RFC3339Nano} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return s
}

// outputValue applies the response-side shaping for one selected field: SET
// columns split into a list of enum values.
func outputValue(list bool, value any) any {
	if !list {
		return value
	}
	s, ok := value.(string)
	if !ok || s == "" {
		if value == nil {
			return nil
		}
		return []string{}
	}
	return strings.Split(s, ",")
}

// keyPart canonicalizes one join-key value for grouping. Text-protocol bytes
// and typed driver values for the same column must land on the same key.
func keyPart(v any) string {
	switch t := v.(type) {
	case nil:
		return "\x00"
	case []byte:
		return string(t)
	case string:
		return t
	case int64:
		return strconv.FormatInt(t, 10)
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case bool:
		if t {
			return "1"
		}
		return "0"
	default:
		return fmt.Sprint(t)
	}
}

func joinKey(values []any) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = keyPart(v)
	}
	return strings.Join(parts, "\x1f")
}

// toInt coerces a COUNT(*) result.
func toInt(v any) int {
	switch t := v.(type) {
	case int64:
		return int(t)
	case int:
		return t
	case []byte:
		if n, err := strconv.Atoi(string(t)); err == nil {
			return n
		}
	}
	return 0
}
