// Package dbexec abstracts database query execution so the introspector and
// execution engine can run against a live pool or a test double.
package dbexec

import (
	"context"
	"database/sql"
)

// Rows abstracts sql.Rows so wrappers can add cleanup behavior.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

// Queryer provides read access to the database.
type Queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (Rows, error)
}

// PoolExecutor runs queries directly against a bounded *sql.DB pool.
// Connection acquisition and each fetch are the only blocking operations;
// cancellation of ctx releases the connection back to the pool.
type PoolExecutor struct {
	db *sql.DB
}

// NewPoolExecutor creates an executor backed by the given database handle.
func NewPoolExecutor(db *sql.DB) *PoolExecutor {
	return &PoolExecutor{db: db}
}

func (e *PoolExecutor) QueryContext(ctx context.Context, query string, args ...any) (Rows, error) {
	if e.db == nil {
		return nil, sql.ErrConnDone
	}
	return e.db.QueryContext(ctx, query, args...)
}
