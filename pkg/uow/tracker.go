package uow

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/platinummonkey/chronicle/pkg/schema"
)

// TrackedEntry is the change-tracking record of one entity. It implements Entry.
type TrackedEntry struct {
	entity   any
	et       *schema.EntityType
	state    MutationKind
	original map[string]any
}

func (e *TrackedEntry) Entity() any { return e.entity }

func (e *TrackedEntry) Type() *schema.EntityType { return e.et }

func (e *TrackedEntry) PrimaryKey() []any { return e.et.KeyValues(e.entity) }

// Kind reports Insert and Delete as marked, and Update when an attached
// entity differs from its snapshot.
func (e *TrackedEntry) Kind() MutationKind {
	switch e.state {
	case Insert, Delete:
		return e.state
	}
	for _, p := range e.et.Fields() {
		if !reflect.DeepEqual(e.original[p.Name], p.Value(e.entity)) {
			return Update
		}
	}
	return Unchanged
}

// Value returns the current value of property
func (e *TrackedEntry) Value(property string) any {
	p, ok := e.et.Property(property)
	if !ok {
		return nil
	}
	return p.Value(e.entity)
}

// Changes lists every non-key property. Inserts have no original values and
// report every property as modified.
func (e *TrackedEntry) Changes() []PropertyChange {
	fields := e.et.Fields()
	out := make([]PropertyChange, 0, len(fields))
	for _, p := range fields {
		c := PropertyChange{
			Property: p,
			Name:     p.Name,
			Current:  p.Value(e.entity),
		}
		if e.state == Insert {
			c.Modified = true
		} else {
			c.Original = e.original[p.Name]
			c.Modified = !reflect.DeepEqual(c.Original, c.Current)
		}
		out = append(out, c)
	}
	return out
}

// Original returns the snapshot value of property taken when the entity was attached
func (e *TrackedEntry) Original(property string) any {
	return e.original[property]
}

func (e *TrackedEntry) snapshot() {
	e.original = make(map[string]any, len(e.et.Properties))
	for _, p := range e.et.Properties {
		e.original[p.Name] = schema.Clone(p.Value(e.entity))
	}
}

// Tracker records entity state changes for a unit of work. Entities are
// identified by pointer, so every tracked value must be a non-nil pointer to a
// schema type.
type Tracker struct {
	schema *schema.Schema

	mu      sync.Mutex
	entries []*TrackedEntry
	byPtr   map[any]*TrackedEntry
}

// NewTracker creates a tracker for the types in s
func NewTracker(s *schema.Schema) *Tracker {
	return &Tracker{
		schema: s,
		byPtr:  make(map[any]*TrackedEntry),
	}
}

// Schema returns the schema the tracker resolves entities against
func (t *Tracker) Schema() *schema.Schema {
	return t.schema
}

// Add marks entity for insertion
func (t *Tracker) Add(entity any) error {
	if err := checkPointer(entity); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if e, ok := t.byPtr[entity]; ok {
		if e.state == Delete {
			return fmt.Errorf("cannot add %T: marked for deletion", entity)
		}
		return nil
	}
	e, err := t.track(entity)
	if err != nil {
		return err
	}
	e.state = Insert
	return nil
}

// Attach starts tracking an entity loaded from the store; later field
// changes surface as an Update.
func (t *Tracker) Attach(entity any) error {
	if err := checkPointer(entity); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.byPtr[entity]; ok {
		return nil
	}
	e, err := t.track(entity)
	if err != nil {
		return err
	}
	e.snapshot()
	return nil
}

// Remove marks entity for deletion. Removing a pending insert simply forgets it.
func (t *Tracker) Remove(entity any) error {
	if err := checkPointer(entity); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.byPtr[entity]
	if !ok {
		var err error
		if e, err = t.track(entity); err != nil {
			return err
		}
		e.snapshot()
	}
	if e.state == Insert {
		t.forget(e)
		return nil
	}
	e.state = Delete
	return nil
}

// Undelete turns a pending delete back into a tracked entity, so that field
// changes made afterwards (a soft-delete flag, say) surface as an Update.
func (t *Tracker) Undelete(entity any) error {
	if err := checkPointer(entity); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.byPtr[entity]
	if !ok {
		return fmt.Errorf("%T: %w", entity, ErrNotTracked)
	}
	if e.state == Delete {
		e.state = Unchanged
	}
	return nil
}

// Entry returns the tracking record for entity
func (t *Tracker) Entry(entity any) (*TrackedEntry, bool) {
	if checkPointer(entity) != nil {
		return nil, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.byPtr[entity]
	return e, ok
}

// Pending returns the tracked entries that have something to write, in tracking order
func (t *Tracker) Pending() []*TrackedEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]*TrackedEntry, 0, len(t.entries))
	for _, e := range t.entries {
		if e.Kind() != Unchanged {
			out = append(out, e)
		}
	}
	return out
}

// Accept records that the given entries were written: deleted entities stop
// being tracked and the rest are re-snapshotted as unchanged.
func (t *Tracker) Accept(entries []*TrackedEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, e := range entries {
		if e.state == Delete {
			t.forget(e)
			continue
		}
		e.state = Unchanged
		e.snapshot()
	}
}

func checkPointer(entity any) error {
	v := reflect.ValueOf(entity)
	if !v.IsValid() || v.Kind() != reflect.Pointer || v.IsNil() {
		return fmt.Errorf("entities must be non-nil pointers, got %T", entity)
	}
	return nil
}

func (t *Tracker) track(entity any) (*TrackedEntry, error) {
	et, ok := t.schema.Of(entity)
	if !ok {
		return nil, fmt.Errorf("type %T is not part of the schema", entity)
	}
	e := &TrackedEntry{entity: entity, et: et}
	t.entries = append(t.entries, e)
	t.byPtr[entity] = e
	return e, nil
}

func (t *Tracker) forget(e *TrackedEntry) {
	delete(t.byPtr, e.entity)
	for i, cur := range t.entries {
		if cur == e {
			t.entries = append(t.entries[:i], t.entries[i+1:]...)
			break
		}
	}
}

// Entries converts tracked entries to the Entry interface
func Entries(tracked []*TrackedEntry) []Entry {
	out := make([]Entry, len(tracked))
	for i, e := range tracked {
		out[i] = e
	}
	return out
}
