// Package cursor encodes and decodes opaque pagination cursors. A cursor
// captures the ordering-column values of the row it points at, plus enough
// shape information (type name, ordering columns, directions) to reject a
// cursor replayed against a different query or a changed ordering. Clients
// must treat the token as opaque; the encoding is base64url over JSON.
package cursor

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Direction orders one cursor column.
type Direction string

const (
	Asc  Direction = "ASC"
	Desc Direction = "DESC"
)

// Reverse returns the opposite direction.
func (d Direction) Reverse() Direction {
	if d == Desc {
		return Asc
	}
	return Desc
}

const version = 1

// ErrInvalid marks any cursor that cannot be decoded or does not match the
// query it was presented to. Callers surface it as an invalid-argument error.
var ErrInvalid = errors.New("invalid cursor")

// Payload is the decoded cursor content.
type Payload struct {
	Version    int         `json:"v"`
	Type       string      `json:"t"`
	Columns    []string    `json:"c"`
	Directions []Direction `json:"d"`
	Values     []string    `json:"x"`
}

// Encode builds the opaque token for a row boundary. Values are positional
// with Columns and are coerced to strings; ParseValue recovers typed values on
// the way back in.
func Encode(typeName string, columns []string, directions []Direction, values []any) (string, error) {
	if len(columns) != len(values) || len(columns) != len(directions) {
		return "", fmt.Errorf("cursor column/value/direction lengths differ: %d/%d/%d",
			len(columns), len(values), len(directions))
	}
	payload := Payload{
		Version:    version,
		Type:       typeName,
		Columns:    columns,
		Directions: directions,
		Values:     make([]string, len(values)),
	}
	for i, v := range values {
		payload.Values[i] = formatValue(v)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encoding cursor: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// Decode parses an opaque token back into its payload.
func Decode(token string) (*Payload, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("%w: not base64url", ErrInvalid)
	}
	var payload Payload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("%w: not a cursor payload", ErrInvalid)
	}
	if payload.Version != version {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrInvalid, payload.Version)
	}
	if len(payload.Columns) != len(payload.Values) || len(payload.Columns) != len(payload.Directions) {
		return nil, fmt.Errorf("%w: inconsistent payload", ErrInvalid)
	}
	return &payload, nil
}

// Validate checks that the cursor was minted for the same type and ordering it
// is now being applied to.
func (p *Payload) Validate(typeName string, columns []string, directions []Direction) error {
	if p.Type != typeName {
		return fmt.Errorf("%w: cursor is for type %s, query is for %s", ErrInvalid, p.Type, typeName)
	}
	if len(p.Columns) != len(columns) {
		return fmt.Errorf("%w: ordering changed since cursor was issued", ErrInvalid)
	}
	for i := range columns {
		if p.Columns[i] != columns[i] || p.Directions[i] != directions[i] {
			return fmt.Errorf("%w: ordering changed since cursor was issued", ErrInvalid)
		}
	}
	return nil
}

func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	case []byte:
		return base64.StdEncoding.EncodeToString(val)
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'g', -1, 32)
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprint(val)
	}
}

// ValueKind selects how a cursor value string is parsed back into a SQL
// argument.
type ValueKind int

const (
	KindString ValueKind = iota
	KindInt
	KindFloat
	KindBool
	KindTime
	KindBytes
)

// ParseValue converts a stored cursor value back into the driver argument for
// a seek comparison.
func ParseValue(kind ValueKind, s string) (any, error) {
	switch kind {
	case KindInt:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not an integer", ErrInvalid, s)
		}
		return n, nil
	case KindFloat:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not a number", ErrInvalid, s)
		}
		return f, nil
	case KindBool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not a boolean", ErrInvalid, s)
		}
		return b, nil
	case KindTime:
		ts, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not a timestamp", ErrInvalid, s)
		}
		return ts, nil
	case KindBytes:
		raw, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not base64", ErrInvalid, s)
		}
		return raw, nil
	default:
		return s, nil
	}
}
