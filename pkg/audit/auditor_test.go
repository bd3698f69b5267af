package audit

import (
	"context"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/chronicle/pkg/observability"
	"github.com/platinummonkey/chronicle/pkg/uow"
)

func orderConfig(t *testing.T, opts ...BuilderOption) *Configuration {
	t.Helper()
	b := NewBuilder(opts...)
	Configure[Order](b).
		FriendlyName("Purchase order").
		Description(func(e any) string { return fmt.Sprintf("order %d", e.(*Order).ID) })
	Configure[Order](b).Property("Secret").Ignore()
	Configure[Order](b).Property("CustomerID").
		FriendlyName("Customer").
		Lookup(reflect.TypeOf(Customer{}), func(c any) string { return c.(*Customer).Name })
	Configure[Order](b).Property("Total").
		FriendlyValue(func(e any) string { return fmt.Sprintf("%.2f EUR", e.(*Order).Total) })

	cfg, err := b.Build(testSchema())
	require.NoError(t, err)
	return cfg
}

func str(e *Entry, name string, old bool) any {
	p, ok := e.Properties[name]
	if !ok {
		return "<missing>"
	}
	v := p.FriendlyNewValue
	if old {
		v = p.FriendlyOldValue
	}
	if v == nil {
		return nil
	}
	return *v
}

func TestAuditor_OrderLifecycle(t *testing.T) {
	store := uow.NewMemoryStore(testSchema())
	seed(t, store, &Customer{Name: "Acme"})

	clock := time.Date(2026, 5, 1, 9, 30, 0, 0, time.FixedZone("CEST", 2*3600))
	a := NewAuditor(orderConfig(t), WithClock(func() time.Time { return clock }))
	ctx := context.Background()

	// insert
	u := store.Begin()
	order := &Order{CustomerID: 1, Status: StatusPending, Total: 10, Secret: "hunter2"}
	require.NoError(t, u.Add(order))
	entries := capture(t, a, u)

	require.Len(t, entries, 1)
	added := entries[0]
	assert.Equal(t, StateAdded, added.State)
	assert.Equal(t, "Order", added.ShortName)
	assert.Equal(t, "Purchase order", added.FriendlyName)
	assert.Equal(t, Partial, added.Strategy)
	assert.Equal(t, "alice", added.Actor)
	assert.Equal(t, clock.UTC(), added.Timestamp)
	// the generated key is only known after the write
	assert.Equal(t, []any{int64(1)}, added.PrimaryKeyValues)
	assert.Equal(t, "order 1", added.Description)

	assert.ElementsMatch(t, []string{"CreatedBy", "CustomerID", "Status", "Total"}, added.PropertyNames())
	assert.NotContains(t, added.Properties, "Note", "nil values are not recorded by partial inserts")
	assert.NotContains(t, added.Properties, "Secret")
	assert.NotContains(t, added.Properties, "ID")

	assert.Equal(t, "Customer", added.Properties["CustomerID"].FriendlyName)
	assert.Equal(t, "Created By", added.Properties["CreatedBy"].FriendlyName)
	assert.Equal(t, "Acme", str(added, "CustomerID", false))
	assert.Equal(t, "Pending", str(added, "Status", false))
	assert.Equal(t, "10.00 EUR", str(added, "Total", false))
	assert.Nil(t, added.Properties["Status"].OldValue)
	assert.Nil(t, added.Properties["Status"].FriendlyOldValue)

	// update
	u = store.Begin()
	loaded, err := uow.Find[Order](ctx, u, int64(1))
	require.NoError(t, err)
	loaded.Status = StatusShipped
	loaded.Total = 12
	entries = capture(t, a, u)

	require.Len(t, entries, 1)
	modified := entries[0]
	assert.Equal(t, StateModified, modified.State)
	assert.Equal(t, []string{"Status", "Total"}, modified.PropertyNames())
	assert.Equal(t, StatusPending, modified.Properties["Status"].OldValue)
	assert.Equal(t, StatusShipped, modified.Properties["Status"].NewValue)
	assert.Equal(t, "Pending", str(modified, "Status", true))
	assert.Equal(t, "Shipped", str(modified, "Status", false))
	// factories see the entity as it was for old values
	assert.Equal(t, "10.00 EUR", str(modified, "Total", true))
	assert.Equal(t, "12.00 EUR", str(modified, "Total", false))
	assert.Equal(t, 12.0, loaded.Total, "rendering old values must not touch the entity")

	// delete
	u = store.Begin()
	loaded, err = uow.Find[Order](ctx, u, int64(1))
	require.NoError(t, err)
	require.NoError(t, u.Remove(loaded))
	entries = capture(t, a, u)

	require.Len(t, entries, 1)
	deleted := entries[0]
	assert.Equal(t, StateDeleted, deleted.State)
	assert.Equal(t, []any{int64(1)}, deleted.PrimaryKeyValues)
	assert.Equal(t, StatusShipped, deleted.Properties["Status"].OldValue)
	assert.Nil(t, deleted.Properties["Status"].NewValue)
	assert.Equal(t, "Shipped", str(deleted, "Status", true))
	assert.Nil(t, deleted.Properties["Status"].FriendlyNewValue)
	assert.Equal(t, "Acme", str(deleted, "CustomerID", true))
	assert.Equal(t, 0, store.Count(reflect.TypeOf(Order{})))
}

func TestAuditor_Strategies(t *testing.T) {
	tests := []struct {
		name      string
		opts      []BuilderOption
		wantLen   int
		wantProps []string
	}{
		{
			name:      "partial keeps empty entries",
			opts:      nil,
			wantLen:   1,
			wantProps: []string{},
		},
		{
			name:    "partial drops empty entries",
			opts:    []BuilderOption{WithDropEmpty(true)},
			wantLen: 0,
		},
		{
			name:      "full records every property",
			opts:      []BuilderOption{WithDefaultStrategy(Full), WithDropEmpty(true)},
			wantLen:   1,
			wantProps: []string{"CreatedBy", "CustomerID", "Note", "Status", "Total"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := uow.NewMemoryStore(testSchema())
			seed(t, store, &Customer{Name: "Acme"}, &Order{CustomerID: 1})

			a := NewAuditor(orderConfig(t, tt.opts...))
			u := store.Begin()
			order, err := uow.Find[Order](context.Background(), u, int64(1))
			require.NoError(t, err)
			// only an ignored property changes
			order.Secret = "rotated"

			entries := capture(t, a, u)
			require.Len(t, entries, tt.wantLen)
			if tt.wantLen == 0 {
				return
			}
			assert.Equal(t, tt.wantProps, entries[0].PropertyNames())
		})
	}
}

func TestAuditor_FullInsertKeepsNil(t *testing.T) {
	store := uow.NewMemoryStore(testSchema())
	a := NewAuditor(orderConfig(t, WithDefaultStrategy(Full)))

	u := store.Begin()
	require.NoError(t, u.Add(&Order{CustomerID: 7}))
	entries := capture(t, a, u)

	require.Len(t, entries, 1)
	note := entries[0].Properties["Note"]
	require.NotNil(t, note)
	assert.Nil(t, note.NewValue)
	assert.Nil(t, note.FriendlyNewValue)
}

func TestAuditor_Lookups(t *testing.T) {
	store := uow.NewMemoryStore(testSchema())
	seed(t, store, &Customer{Name: "Acme"})

	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	a := NewAuditor(orderConfig(t),
		WithAuditMetrics(metrics),
		WithLookupCache(NewLookupCache(16, time.Minute)),
	)

	for _, customer := range []int64{1, 1, 99} {
		u := store.Begin()
		require.NoError(t, u.Add(&Order{CustomerID: customer}))
		entries := capture(t, a, u)
		require.Len(t, entries, 1)

		if customer == 99 {
			// a missing target renders as nil rather than failing the commit
			assert.Nil(t, str(entries[0], "CustomerID", false))
			assert.Equal(t, int64(99), entries[0].Properties["CustomerID"].NewValue)
		} else {
			assert.Equal(t, "Acme", str(entries[0], "CustomerID", false))
		}
	}

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.LookupsTotal.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.LookupsTotal.WithLabelValues("cached")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.LookupsTotal.WithLabelValues("miss")))
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.EntriesCaptured.WithLabelValues("Added")))
}

func TestAuditor_IgnoredAndUnconfiguredTypes(t *testing.T) {
	store := uow.NewMemoryStore(testSchema())
	b := NewBuilder()
	Configure[Line](b).Ignore()
	cfg, err := b.Build(testSchema())
	require.NoError(t, err)

	a := NewAuditor(cfg)
	u := store.Begin()
	require.NoError(t, u.Add(&Line{Qty: 2}))
	require.NoError(t, u.Add(&Customer{Name: "Globex"}))
	entries := capture(t, a, u)

	require.Len(t, entries, 1)
	assert.Equal(t, "Customer", entries[0].ShortName)
	assert.Equal(t, "Globex", str(entries[0], "Name", false))
}

func TestAuditor_SessionIsolation(t *testing.T) {
	store := uow.NewMemoryStore(testSchema())
	a := NewAuditor(orderConfig(t))
	sessions := NewSessions()
	ctx := context.Background()

	u1, u2 := store.Begin(), store.Begin()
	require.NoError(t, u1.Add(&Customer{Name: "one"}))
	require.NoError(t, u2.Add(&Customer{Name: "two"}))

	s1, err := sessions.Begin(ctx, u1.ID())
	require.NoError(t, err)
	s2, err := sessions.Begin(ctx, u2.ID())
	require.NoError(t, err)
	assert.NotEqual(t, s1.CommitID(), s2.CommitID())

	p1, _ := u1.Pending(ctx)
	p2, _ := u2.Pending(ctx)
	require.NoError(t, a.Before(ctx, s1, p1[0]))
	require.NoError(t, a.Before(ctx, s2, p2[0]))

	assert.Equal(t, 1, s1.Len())
	assert.Equal(t, 1, s2.Len())
	_, ok := s1.Entry(p2[0].Entity())
	assert.False(t, ok)

	// the same entity cannot be drafted twice in one commit
	assert.Error(t, a.Before(ctx, s1, p1[0]))

	sessions.End(s1)
	sessions.End(s2)
	assert.Equal(t, 0, sessions.Active())
}
