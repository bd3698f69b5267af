package trigger

import (
	"context"
	"reflect"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var invoiceType = reflect.TypeOf(Invoice{})

func run(t *testing.T, hs []Handler) {
	t.Helper()
	for _, h := range hs {
		require.NoError(t, h(context.Background(), &Invocation{}))
	}
}

func TestRegistry_ResolveOrdersBySpecificity(t *testing.T) {
	rec := &recorder{}
	r := NewRegistry()

	On[Numbered](r, BeforeInsert, rec.handler("interface-1"))
	On[Stamp](r, BeforeInsert, rec.handler("base"))
	On[Invoice](r, BeforeInsert, rec.handler("exact-1"))
	On[any](r, BeforeInsert, rec.handler("any"))
	On[Invoice](r, BeforeInsert, rec.handler("exact-2"))
	On[Numbered](r, BeforeInsert, rec.handler("interface-2"))
	On[Note](r, BeforeInsert, rec.handler("note"))
	On[Invoice](r, AfterInsert, rec.handler("other-phase"))

	run(t, r.Resolve(invoiceType, BeforeInsert))
	assert.Equal(t, []string{"exact-1", "exact-2", "base", "interface-1", "any", "interface-2"}, rec.list())
}

func TestRegistry_FinalHandlersRunLast(t *testing.T) {
	rec := &recorder{}
	r := NewRegistry()

	r.registerFinal(anyType, BeforeDelete, rec.handler("final"))
	On[any](r, BeforeDelete, rec.handler("any"))
	On[Numbered](r, BeforeDelete, rec.handler("interface"))
	On[Invoice](r, BeforeDelete, rec.handler("exact"))

	run(t, r.Resolve(invoiceType, BeforeDelete))
	assert.Equal(t, []string{"exact", "any", "interface", "final"}, rec.list())
}

func TestRegistry_ResolvePointerTypes(t *testing.T) {
	rec := &recorder{}
	r := NewRegistry()
	r.Register(reflect.TypeOf(&Invoice{}), BeforeUpdate, rec.handler("pointer-subject"))

	run(t, r.Resolve(reflect.TypeOf(&Invoice{}), BeforeUpdate))
	run(t, r.Resolve(invoiceType, BeforeUpdate))
	assert.Equal(t, []string{"pointer-subject", "pointer-subject"}, rec.list())
}

func TestRegistry_NoMatch(t *testing.T) {
	r := NewRegistry()
	On[Invoice](r, BeforeInsert, func(context.Context, *Invocation) error { return nil })
	On[Numbered](r, BeforeInsert, func(context.Context, *Invocation) error { return nil })

	assert.Empty(t, r.Resolve(reflect.TypeOf(Note{}), BeforeInsert))
	assert.Empty(t, r.Resolve(invoiceType, BeforeDelete))
	assert.Nil(t, r.Resolve(nil, BeforeInsert))
}

func TestRegistry_Revoke(t *testing.T) {
	rec := &recorder{}
	r := NewRegistry()

	first := On[Invoice](r, BeforeInsert, rec.handler("first"))
	On[Invoice](r, BeforeInsert, rec.handler("second"))
	require.True(t, first.Valid())

	r.Revoke(first)
	r.Revoke(first)
	r.Revoke(Registration{})
	assert.Equal(t, 1, r.Len(BeforeInsert))

	run(t, r.Resolve(invoiceType, BeforeInsert))
	assert.Equal(t, []string{"second"}, rec.list())
}

func TestRegistry_RevokeRemovesOneOfIdenticalHandlers(t *testing.T) {
	rec := &recorder{}
	r := NewRegistry()
	h := rec.handler("same")

	a := On[Invoice](r, BeforeDelete, h)
	On[Invoice](r, BeforeDelete, h)
	r.Revoke(a)

	run(t, r.Resolve(invoiceType, BeforeDelete))
	assert.Equal(t, []string{"same"}, rec.list())
}

func TestRegistry_MemoInvalidation(t *testing.T) {
	rec := &recorder{}
	r := NewRegistry()
	On[Invoice](r, AfterUpdate, rec.handler("a"))

	require.Len(t, r.Resolve(invoiceType, AfterUpdate), 1)
	require.Len(t, r.Resolve(invoiceType, AfterUpdate), 1, "cached")

	b := On[Stamp](r, AfterUpdate, rec.handler("b"))
	require.Len(t, r.Resolve(invoiceType, AfterUpdate), 2, "register invalidates")

	r.Revoke(b)
	run(t, r.Resolve(invoiceType, AfterUpdate))
	assert.Equal(t, []string{"a"}, rec.list())
}

func TestRegistry_InvalidRegistration(t *testing.T) {
	r := NewRegistry()
	assert.False(t, r.Register(nil, BeforeInsert, func(context.Context, *Invocation) error { return nil }).Valid())
	assert.False(t, On[Invoice](r, BeforeInsert, nil).Valid())
	assert.Equal(t, 0, r.Len(BeforeInsert))
}

func TestRegistry_Concurrent(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			reg := On[Invoice](r, BeforeInsert, func(context.Context, *Invocation) error { return nil })
			r.Revoke(reg)
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				r.Resolve(invoiceType, BeforeInsert)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, r.Len(BeforeInsert))
	assert.Empty(t, r.Resolve(invoiceType, BeforeInsert))
}

func TestPhases(t *testing.T) {
	tests := []struct {
		phase  Phase
		name   string
		before bool
	}{
		{BeforeInsert, "before_insert", true},
		{AfterInsert, "after_insert", false},
		{BeforeUpdate, "before_update", true},
		{AfterUpdate, "after_update", false},
		{BeforeDelete, "before_delete", true},
		{AfterDelete, "after_delete", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.name, tt.phase.String())
			assert.Equal(t, tt.before, tt.phase.IsBefore())

			var p Phase
			var ok bool
			if tt.before {
				p, ok = BeforePhase(tt.phase.Kind())
			} else {
				p, ok = AfterPhase(tt.phase.Kind())
			}
			require.True(t, ok)
			assert.Equal(t, tt.phase, p)
		})
	}

	_, ok := BeforePhase(0)
	assert.False(t, ok, "unchanged entities have no phase")
}
