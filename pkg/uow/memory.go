package uow

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/platinummonkey/chronicle/pkg/schema"
)

// MemoryStore is an in-process row store keyed by entity type and primary key.
// Rows are stored as shallow copies of the committed entities.
type MemoryStore struct {
	schema *schema.Schema

	mu   sync.RWMutex
	rows map[reflect.Type]map[string]any
	seq  map[reflect.Type]int64
}

// NewMemoryStore creates an empty store for the types in s
func NewMemoryStore(s *schema.Schema) *MemoryStore {
	return &MemoryStore{
		schema: s,
		rows:   make(map[reflect.Type]map[string]any),
		seq:    make(map[reflect.Type]int64),
	}
}

// Begin starts a new unit of work against the store
func (s *MemoryStore) Begin() *Memory {
	return &Memory{
		Tracker: NewTracker(s.schema),
		id:      uuid.NewString(),
		store:   s,
	}
}

// Count returns the number of stored rows of type t
func (s *MemoryStore) Count(t reflect.Type) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows[schema.Indirect(t)])
}

func (s *MemoryStore) get(et *schema.EntityType, key []any) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.rows[et.Type][keyString(key)]
	if !ok {
		return nil, false
	}
	return clone(row), true
}

// apply writes every entry atomically: nothing is written if any entry fails
func (s *MemoryStore) apply(entries []*TrackedEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	type write struct {
		et     *schema.EntityType
		key    string
		row    any
		delete bool
	}
	writes := make([]write, 0, len(entries))
	pendingSeq := make(map[reflect.Type]int64)

	var assigned []*TrackedEntry
	ok := false
	defer func() {
		if ok {
			return
		}
		for _, e := range assigned {
			_ = e.Type().Keys[0].Set(e.Entity(), nil)
		}
	}()

	for _, e := range entries {
		et := e.Type()
		table := s.rows[et.Type]

		switch e.Kind() {
		case Insert:
			if len(et.Keys) == 1 && et.Keys[0].Generated && isZero(et.Keys[0].Value(e.Entity())) {
				next := s.seq[et.Type] + pendingSeq[et.Type] + 1
				pendingSeq[et.Type]++
				if err := et.Keys[0].Set(e.Entity(), next); err != nil {
					return fmt.Errorf("failed to assign key for %s: %w", et.Name, err)
				}
				assigned = append(assigned, e)
			}
			key := keyString(e.PrimaryKey())
			if _, exists := table[key]; exists {
				return fmt.Errorf("insert %s %s: %w", et.Name, key, ErrDuplicateKey)
			}
			writes = append(writes, write{et: et, key: key, row: clone(e.Entity())})
		case Update:
			key := keyString(e.PrimaryKey())
			if _, exists := table[key]; !exists {
				return fmt.Errorf("update %s %s: %w", et.Name, key, ErrNotFound)
			}
			writes = append(writes, write{et: et, key: key, row: clone(e.Entity())})
		case Delete:
			key := keyString(e.PrimaryKey())
			if _, exists := table[key]; !exists {
				return fmt.Errorf("delete %s %s: %w", et.Name, key, ErrNotFound)
			}
			writes = append(writes, write{et: et, key: key, delete: true})
		}
	}

	ok = true
	for t, n := range pendingSeq {
		s.seq[t] += n
	}
	for _, w := range writes {
		table, exists := s.rows[w.et.Type]
		if !exists {
			table = make(map[string]any)
			s.rows[w.et.Type] = table
		}
		if w.delete {
			delete(table, w.key)
			continue
		}
		table[w.key] = w.row
	}
	return nil
}

// Memory is a unit of work over a MemoryStore
type Memory struct {
	*Tracker

	id    string
	store *MemoryStore
}

// ID returns the unit of work's identity
func (m *Memory) ID() string {
	return m.id
}

// Pending returns the entities pending a mutation
func (m *Memory) Pending(ctx context.Context) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return Entries(m.Tracker.Pending()), nil
}

// Commit writes every pending mutation to the store
func (m *Memory) Commit(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	pending := m.Tracker.Pending()
	if err := m.store.apply(pending); err != nil {
		return err
	}
	m.Tracker.Accept(pending)
	return nil
}

// Lookup fetches a committed entity by primary key
func (m *Memory) Lookup(ctx context.Context, t reflect.Type, key any) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	et, ok := m.store.schema.Lookup(t)
	if !ok {
		return nil, fmt.Errorf("type %s is not part of the schema", t)
	}
	row, ok := m.store.get(et, []any{key})
	if !ok {
		return nil, fmt.Errorf("%s %v: %w", et.Name, key, ErrNotFound)
	}
	return row, nil
}

// Find loads an entity by primary key and attaches it, so later field
// changes are committed as an update.
func (m *Memory) Find(ctx context.Context, t reflect.Type, key ...any) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	et, ok := m.store.schema.Lookup(t)
	if !ok {
		return nil, fmt.Errorf("type %s is not part of the schema", t)
	}
	row, ok := m.store.get(et, key)
	if !ok {
		return nil, fmt.Errorf("%s %v: %w", et.Name, key, ErrNotFound)
	}
	if err := m.Attach(row); err != nil {
		return nil, err
	}
	return row, nil
}

// Find is the typed form of Memory.Find
func Find[T any](ctx context.Context, m *Memory, key ...any) (*T, error) {
	row, err := m.Find(ctx, reflect.TypeOf((*T)(nil)).Elem(), key...)
	if err != nil {
		return nil, err
	}
	return row.(*T), nil
}

func keyString(parts []any) string {
	s := make([]string, len(parts))
	for i, p := range parts {
		s[i] = fmt.Sprint(schema.Normalize(p))
	}
	return strings.Join(s, "|")
}

func clone(entity any) any {
	v := reflect.ValueOf(entity)
	if v.Kind() == reflect.Pointer {
		v = v.Elem()
	}
	out := reflect.New(v.Type())
	out.Elem().Set(reflect.ValueOf(schema.Clone(v.Interface())))
	return out.Interface()
}

func isZero(v any) bool {
	if v == nil {
		return true
	}
	return reflect.ValueOf(v).IsZero()
}
