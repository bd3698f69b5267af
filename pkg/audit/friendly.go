package audit

import (
	"fmt"
	"reflect"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/platinummonkey/chronicle/pkg/schema"
)

// Describer is implemented by values with a human-readable description,
// typically enumerations:
//
//	func (s OrderStatus) Description() string { return statusNames[s] }
type Describer interface {
	Description() string
}

// LookupCache caches store lookups made while rendering friendly values.
// Only hits are cached; misses are retried on the next commit.
type LookupCache struct {
	lru *expirable.LRU[string, any]
}

// NewLookupCache creates a cache of at most size objects, each kept for ttl
func NewLookupCache(size int, ttl time.Duration) *LookupCache {
	if size <= 0 {
		size = 1024
	}
	return &LookupCache{lru: expirable.NewLRU[string, any](size, nil, ttl)}
}

func lookupKey(t reflect.Type, key any) string {
	return fmt.Sprintf("%s:%v", t.String(), key)
}

// Get returns the cached object of type t with primary key key
func (c *LookupCache) Get(t reflect.Type, key any) (any, bool) {
	if c == nil {
		return nil, false
	}
	return c.lru.Get(lookupKey(t, key))
}

// Add caches a fetched object
func (c *LookupCache) Add(t reflect.Type, key any, v any) {
	if c == nil {
		return
	}
	c.lru.Add(lookupKey(t, key), v)
}

// Purge empties the cache
func (c *LookupCache) Purge() {
	if c == nil {
		return
	}
	c.lru.Purge()
}

// Len returns the number of cached objects
func (c *LookupCache) Len() int {
	if c == nil {
		return 0
	}
	return c.lru.Len()
}

// Render returns the default friendly rendering of v: its Description when
// it implements Describer, its String when it implements fmt.Stringer, and
// fmt.Sprint otherwise. Methods with pointer receivers are found as well.
func Render(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := describe(v); ok {
		return s
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer {
		ptr := reflect.New(rv.Type())
		ptr.Elem().Set(rv)
		if s, ok := describe(ptr.Interface()); ok {
			return s
		}
	}
	return fmt.Sprint(v)
}

func describe(v any) (string, bool) {
	switch x := v.(type) {
	case Describer:
		return x.Description(), true
	case fmt.Stringer:
		return x.String(), true
	}
	return "", false
}

// withValue returns a shallow copy of entity with property p set to v, used
// to render an old value through a factory that reads the owning entity
func withValue(entity any, p *schema.Property, v any) (any, error) {
	rv := reflect.ValueOf(entity)
	if rv.Kind() != reflect.Pointer || rv.IsNil() || p.Shared() {
		return nil, fmt.Errorf("cannot copy %s of %T", p.Name, entity)
	}
	cp := reflect.New(rv.Elem().Type())
	cp.Elem().Set(rv.Elem())
	if err := p.Set(cp.Interface(), v); err != nil {
		return nil, err
	}
	return cp.Interface(), nil
}

func strPtr(s string) *string {
	return &s
}
