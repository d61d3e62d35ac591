package catalog

import (
	"errors"
	"fmt"
)

// ErrConnectionFailed wraps driver-level failures while reading the catalog.
// The external watcher retries on its next poll; the core never retries.
var ErrConnectionFailed = errors.New("catalog connection failed")

// UnsupportedTypeError reports a column whose declared type could not be read.
type UnsupportedTypeError struct {
	TypeName string
}

func (e *UnsupportedTypeError) Error() string {
	return fmt.Sprintf("unsupported column type %q", e.TypeName)
}

// AmbiguousConstraintError reports constraint metadata that cannot be
// reconciled into a single consistent definition.
type AmbiguousConstraintError struct {
	Table  string
	Detail string
}

func (e *AmbiguousConstraintError) Error() string {
	return fmt.Sprintf("ambiguous constraint on %s: %s", e.Table, e.Detail)
}
