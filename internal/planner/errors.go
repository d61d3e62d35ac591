package planner

import "fmt"

// ErrorKind classifies planning failures.
type ErrorKind int

const (
	// UnknownField marks a selection of a field the schema does not define.
	UnknownField ErrorKind = iota
	// InvalidArgument marks a malformed or out-of-range argument.
	InvalidArgument
	// FilterTypeMismatch marks a filter operator applied to a column kind
	// that does not support it, e.g. a substring match on a numeric column.
	FilterTypeMismatch
)

func (k ErrorKind) String() string {
	switch k {
	case InvalidArgument:
		return "invalid argument"
	case FilterTypeMismatch:
		return "filter type mismatch"
	default:
		return "unknown field"
	}
}

// Error is a planning failure. Planning is all-or-nothing: any Error fails the
// whole request before a single SQL statement runs.
type Error struct {
	Kind    ErrorKind
	Path    string // dotted selection path, e.g. "authors.books.title"
	Message string
}

func (e *Error) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s at %s: %s", e.Kind, e.Path, e.Message)
}

func errUnknownField(path, name string) *Error {
	return &Error{Kind: UnknownField, Path: path, Message: fmt.Sprintf("no field named %q", name)}
}

func errInvalidArgument(path, format string, args ...any) *Error {
	return &Error{Kind: InvalidArgument, Path: path, Message: fmt.Sprintf(format, args...)}
}

func errTypeMismatch(path, format string, args ...any) *Error {
	return &Error{Kind: FilterTypeMismatch, Path: path, Message: fmt.Sprintf(format, args...)}
}
