package executor

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/go-sql-driver/mysql"
)

// ErrorKind classifies execution failures.
type ErrorKind int

const (
	// Internal covers failures with no more specific classification.
	Internal ErrorKind = iota
	// ConnectionLost marks a dropped or unusable database connection.
	ConnectionLost
	// ConstraintViolation marks a statement rejected by a database constraint.
	ConstraintViolation
	// Timeout marks a statement cancelled by deadline or the server.
	Timeout
)

func (k ErrorKind) String() string {
	switch k {
	case ConnectionLost:
		return "connection lost"
	case ConstraintViolation:
		return "constraint violation"
	case Timeout:
		return "timeout"
	default:
		return "internal"
	}
}

// Error is an execution failure. Execution is all-or-nothing: the first step
// error fails the whole request, there are no partial results.
type Error struct {
	Kind ErrorKind
	Step string // step path the failure surfaced on
	Err  error
}

func (e *Error) Error() string {
	if e.Step == "" {
		return fmt.Sprintf("execution failed (%s): %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("execution failed (%s) at %s: %v", e.Kind, e.Step, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// MySQL server error numbers worth classifying.
const (
	erDupEntry             = 1062
	erLockWaitTimeout      = 1205
	erNoReferencedRow      = 1216
	erRowIsReferenced      = 1217
	erRowIsReferenced2     = 1451
	erNoReferencedRow2     = 1452
	erQueryTimeout         = 3024
	erCheckConstraintFails = 3819
)

// classify wraps a raw database error with its execution error kind.
func classify(stepPath string, err error) *Error {
	kind := Internal
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = Timeout
	case errors.Is(err, driver.ErrBadConn),
		errors.Is(err, mysql.ErrInvalidConn),
		errors.Is(err, io.EOF):
		kind = ConnectionLost
	default:
		var netErr net.Error
		var sqlErr *mysql.MySQLError
		switch {
		case errors.As(err, &netErr):
			if netErr.Timeout() {
				kind = Timeout
			} else {
				kind = ConnectionLost
			}
		case errors.As(err, &sqlErr):
			switch sqlErr.Number {
			case erDupEntry, erNoReferencedRow, erRowIsReferenced,
				erRowIsReferenced2, erNoReferencedRow2, erCheckConstraintFails:
				kind = ConstraintViolation
			case erLockWaitTimeout, erQueryTimeout:
				kind = Timeout
			}
		}
	}
	return &Error{Kind: kind, Step: stepPath, Err: err}
}
