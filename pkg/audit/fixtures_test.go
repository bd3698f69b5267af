package audit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/chronicle/pkg/schema"
	"github.com/platinummonkey/chronicle/pkg/uow"
)

type OrderStatus int

const (
	StatusPending OrderStatus = iota
	StatusShipped
)

func (s OrderStatus) Description() string {
	switch s {
	case StatusPending:
		return "Pending"
	case StatusShipped:
		return "Shipped"
	}
	return "Unknown"
}

type Tagged interface {
	AuditTag() string
}

type Stamp struct {
	CreatedBy string
}

type Customer struct {
	ID   int64
	Name string
}

type Order struct {
	Stamp
	ID         int64
	CustomerID int64
	Status     OrderStatus
	Total      float64
	Note       *string
	Secret     string
}

func (o *Order) AuditTag() string { return "order" }

type Line struct {
	ID      int64
	OrderID int64
	Qty     int
}

func testSchema() *schema.Schema {
	return schema.MustNew(&Customer{}, &Order{}, &Line{})
}

// seed commits entities without auditing them
func seed(t *testing.T, store *uow.MemoryStore, entities ...any) {
	t.Helper()
	u := store.Begin()
	for _, e := range entities {
		require.NoError(t, u.Add(e))
	}
	require.NoError(t, u.Commit(context.Background()))
}

// capture runs the auditor around one commit of u the way the trigger
// pipeline does
func capture(t *testing.T, a *Auditor, u *uow.Memory) []*Entry {
	t.Helper()
	ctx := WithActor(context.Background(), "alice")

	sessions := NewSessions()
	s, err := sessions.Begin(ctx, u.ID())
	require.NoError(t, err)
	defer sessions.End(s)

	pending, err := u.Pending(ctx)
	require.NoError(t, err)
	for _, e := range pending {
		require.NoError(t, a.Before(ctx, s, e))
	}

	require.NoError(t, u.Commit(ctx))

	for _, e := range pending {
		require.NoError(t, a.After(ctx, s, u, e))
	}
	return a.Finalize(s)
}
