// Package scalars defines the custom GraphQL scalars the generated schema
// depends on beyond the built-ins: DateTime, UUID, JSON, and Bytes. Each
// constructor returns a fresh scalar so independent schema snapshots never
// share type instances.
package scalars

import (
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/graphql-go/graphql"
	"github.com/graphql-go/graphql/language/ast"
)

func DateTime() *graphql.Scalar {
	return graphql.NewScalar(graphql.ScalarConfig{
		Name:        "DateTime",
		Description: "Point in time serialized as RFC 3339.",
		Serialize: func(value interface{}) interface{} {
			switch v := value.(type) {
			case time.Time:
				return v.UTC().Format(time.RFC3339Nano)
			case *time.Time:
				if v == nil {
					return nil
				}
				return v.UTC().Format(time.RFC3339Nano)
			case string:
				return v
			case []byte:
				return string(v)
			default:
				return nil
			}
		},
		ParseValue: func(value interface{}) interface{} {
			switch v := value.(type) {
			case time.Time:
				return v
			case string:
				return parseDateTime(v)
			default:
				return nil
			}
		},
		ParseLiteral: func(valueAST ast.Value) interface{} {
			if sv, ok := valueAST.(*ast.StringValue); ok {
				return parseDateTime(sv.Value)
			}
			return nil
		},
	})
}

func parseDateTime(s string) interface{} {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if parsed, err := time.Parse(layout, s); err == nil {
			return parsed
		}
	}
	return nil
}

func UUID() *graphql.Scalar {
	return graphql.NewScalar(graphql.ScalarConfig{
		Name:        "UUID",
		Description: "RFC 4122 UUID serialized in canonical form.",
		Serialize: func(value interface{}) interface{} {
			switch v := value.(type) {
			case uuid.UUID:
				return v.String()
			case string:
				if parsed, err := uuid.Parse(v); err == nil {
					return parsed.String()
				}
				return nil
			case []byte:
				// Either textual or the 16-byte binary form.
				if parsed, err := uuid.ParseBytes(v); err == nil {
					return parsed.String()
				}
				if parsed, err := uuid.FromBytes(v); err == nil {
					return parsed.String()
				}
				return nil
			default:
				return nil
			}
		},
		ParseValue: func(value interface{}) interface{} {
			if s, ok := value.(string); ok {
				if parsed, err := uuid.Parse(s); err == nil {
					return parsed.String()
				}
			}
			return nil
		},
		ParseLiteral: func(valueAST ast.Value) interface{} {
			if sv, ok := valueAST.(*ast.StringValue); ok {
				if parsed, err := uuid.Parse(sv.Value); err == nil {
					return parsed.String()
				}
			}
			return nil
		},
	})
}

func JSON() *graphql.Scalar {
	return graphql.NewScalar(graphql.ScalarConfig{
		Name:        "JSON",
		Description: "Arbitrary JSON value serialized as a string.",
		Serialize: func(value interface{}) interface{} {
			switch v := value.(type) {
			case []byte:
				return string(v)
			case string:
				return v
			case nil:
				return nil
			default:
				serialized, err := json.Marshal(v)
				if err != nil {
					slog.Default().Warn("failed to serialize JSON scalar", slog.String("error", err.Error()))
					return nil
				}
				return string(serialized)
			}
		},
		ParseValue: func(value interface{}) interface{} {
			if s, ok := value.(string); ok {
				return s
			}
			return nil
		},
		ParseLiteral: func(valueAST ast.Value) interface{} {
			if sv, ok := valueAST.(*ast.StringValue); ok {
				return sv.Value
			}
			return nil
		},
	})
}

func Bytes() *graphql.Scalar {
	return graphql.NewScalar(graphql.ScalarConfig{
		Name:        "Bytes",
		Description: "Binary value serialized as standard base64.",
		Serialize: func(value interface{}) interface{} {
			switch v := value.(type) {
			case []byte:
				return base64.StdEncoding.EncodeToString(v)
			case string:
				return base64.StdEncoding.EncodeToString([]byte(v))
			default:
				return nil
			}
		},
		ParseValue: func(value interface{}) interface{} {
			if s, ok := value.(string); ok {
				if decoded, err := base64.StdEncoding.DecodeString(s); err == nil {
					return decoded
				}
			}
			return nil
		},
		ParseLiteral: func(valueAST ast.Value) interface{} {
			if sv, ok := valueAST.(*ast.StringValue); ok {
				if decoded, err := base64.StdEncoding.DecodeString(sv.Value); err == nil {
					return decoded
				}
			}
			return nil
		},
	})
}
