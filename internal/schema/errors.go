package schema

import (
	"fmt"
	"strings"
)

// BuildErrorKind classifies schema construction failures.
type BuildErrorKind int

const (
	// NameCollision marks two root fields resolving to the same name after
	// inflection and override rules.
	NameCollision BuildErrorKind = iota
)

func (k BuildErrorKind) String() string {
	switch k {
	case NameCollision:
		return "name collision"
	default:
		return "build error"
	}
}

// BuildError fails a schema build before publication. The refresh manager
// keeps the previous snapshot live, so a colliding catalog never produces a
// served schema.
type BuildError struct {
	Kind   BuildErrorKind
	Field  string   // the contested root field name
	Tables []string // tables whose names resolve to it
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("%s: root field %q claimed by tables %s", e.Kind, e.Field, strings.Join(e.Tables, ", "))
}

func errRootFieldCollision(field, owner, table string) *BuildError {
	return &BuildError{Kind: NameCollision, Field: field, Tables: []string{owner, table}}
}
