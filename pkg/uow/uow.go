package uow

import (
	"context"
	"errors"
	"reflect"

	"github.com/platinummonkey/chronicle/pkg/schema"
)

// MutationKind is the kind of change a tracked entity currently represents
type MutationKind int

const (
	// Unchanged entities are tracked but have nothing to write
	Unchanged MutationKind = iota
	Insert
	Update
	Delete
)

func (k MutationKind) String() string {
	switch k {
	case Insert:
		return "insert"
	case Update:
		return "update"
	case Delete:
		return "delete"
	default:
		return "unchanged"
	}
}

var (
	// ErrNotFound is returned by lookups and writes that target a missing row
	ErrNotFound = errors.New("entity not found")
	// ErrNotTracked is returned when an operation names an entity the unit of work does not track
	ErrNotTracked = errors.New("entity is not tracked")
	// ErrDuplicateKey is returned when an insert collides with an existing key
	ErrDuplicateKey = errors.New("duplicate primary key")
)

// PropertyChange is one non-key property of a pending entity
type PropertyChange struct {
	Property *schema.Property
	Name     string
	Original any
	Current  any
	Modified bool
}

// Entry is one entity pending a mutation
type Entry interface {
	// Entity returns the tracked pointer; it doubles as the entity's identity
	Entity() any
	Type() *schema.EntityType
	// Kind is the current mutation kind, which callbacks may change mid-commit
	Kind() MutationKind
	// Changes lists the non-key properties with their original and current values
	Changes() []PropertyChange
	// Value returns the current value of a property
	Value(property string) any
	PrimaryKey() []any
}

// UnitOfWork is the persistence collaborator wrapped by the trigger pipeline
type UnitOfWork interface {
	// ID is a stable identity used to group per-commit state
	ID() string
	// Pending returns the entities currently pending a mutation
	Pending(ctx context.Context) ([]Entry, error)
	// Commit writes every pending mutation
	Commit(ctx context.Context) error
	// Lookup fetches an entity of type t by primary key, returning ErrNotFound on a miss
	Lookup(ctx context.Context, t reflect.Type, key any) (any, error)
}

// Finisher is implemented by units of work whose Commit leaves a transaction
// open, so writers can join it before it is finished.
type Finisher interface {
	// Executor returns the open transaction
	Executor() Executor
	// Finish commits the transaction, or rolls it back when err is non-nil
	Finish(ctx context.Context, err error) error
}
