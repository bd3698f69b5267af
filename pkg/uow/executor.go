package uow

import (
	"context"
	"database/sql"
)

// Executor is the subset of *sql.DB and *sql.Tx used by SQL writers
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type ctxKey struct{}

var executorKey = ctxKey{}

// WithExecutor stores the unit of work's open executor in context for transactional writers
func WithExecutor(ctx context.Context, ex Executor) context.Context {
	if ex == nil {
		return ctx
	}
	return context.WithValue(ctx, executorKey, ex)
}

// ExecutorFrom extracts the executor stored by WithExecutor
func ExecutorFrom(ctx context.Context) (Executor, bool) {
	ex, ok := ctx.Value(executorKey).(Executor)
	return ex, ok
}

// WithoutExecutor hides any executor stored in ctx, for writers that must use their own scope
func WithoutExecutor(ctx context.Context) context.Context {
	if _, ok := ExecutorFrom(ctx); !ok {
		return ctx
	}
	return context.WithValue(ctx, executorKey, nil)
}
