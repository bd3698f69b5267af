package trigger

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/chronicle/pkg/schema"
	"github.com/platinummonkey/chronicle/pkg/uow"
)

type Numbered interface {
	DocumentNumber() string
}

type Stamp struct {
	CreatedBy string
}

type Invoice struct {
	Stamp
	ID      int64
	Number  string
	Total   int
	Deleted bool
}

func (i *Invoice) DocumentNumber() string { return i.Number }

type Note struct {
	ID   int64
	Text string
}

func testSchema() *schema.Schema {
	return schema.MustNew(&Invoice{}, &Note{})
}

func seed(t *testing.T, store *uow.MemoryStore, entities ...any) {
	t.Helper()
	u := store.Begin()
	for _, e := range entities {
		require.NoError(t, u.Add(e))
	}
	require.NoError(t, u.Commit(context.Background()))
}

// recorder collects labels from handlers in call order
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, fmt.Sprintf(format, args...))
}

func (r *recorder) handler(label string) Handler {
	return func(ctx context.Context, inv *Invocation) error {
		r.add("%s", label)
		return nil
	}
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

// stubExecutor stands in for an open transaction
type stubExecutor struct{}

func (stubExecutor) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return nil, nil
}

func (stubExecutor) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return nil, nil
}

func (stubExecutor) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return nil
}

// finishingMemory makes a memory unit of work look like one that keeps its
// transaction open until Finish
type finishingMemory struct {
	*uow.Memory
	rec *recorder
}

func (f *finishingMemory) Commit(ctx context.Context) error {
	f.rec.add("commit")
	return f.Memory.Commit(ctx)
}

func (f *finishingMemory) Executor() uow.Executor {
	return stubExecutor{}
}

func (f *finishingMemory) Finish(ctx context.Context, err error) error {
	f.rec.add("finish:%v", err)
	return nil
}
