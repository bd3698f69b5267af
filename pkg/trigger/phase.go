package trigger

import "github.com/platinummonkey/chronicle/pkg/uow"

// Phase is a point in an entity's commit at which handlers run
type Phase int

const (
	BeforeInsert Phase = iota
	AfterInsert
	BeforeUpdate
	AfterUpdate
	BeforeDelete
	AfterDelete
)

// Phases lists every phase in dispatch order for one mutation kind
var Phases = []Phase{BeforeInsert, AfterInsert, BeforeUpdate, AfterUpdate, BeforeDelete, AfterDelete}

func (p Phase) String() string {
	switch p {
	case BeforeInsert:
		return "before_insert"
	case AfterInsert:
		return "after_insert"
	case BeforeUpdate:
		return "before_update"
	case AfterUpdate:
		return "after_update"
	case BeforeDelete:
		return "before_delete"
	case AfterDelete:
		return "after_delete"
	default:
		return "unknown"
	}
}

// IsBefore reports whether p runs before the unit of work commits
func (p Phase) IsBefore() bool {
	return p == BeforeInsert || p == BeforeUpdate || p == BeforeDelete
}

// Kind returns the mutation kind p belongs to
func (p Phase) Kind() uow.MutationKind {
	switch p {
	case BeforeInsert, AfterInsert:
		return uow.Insert
	case BeforeUpdate, AfterUpdate:
		return uow.Update
	case BeforeDelete, AfterDelete:
		return uow.Delete
	default:
		return uow.Unchanged
	}
}

// BeforePhase returns the pre-commit phase for kind. Unchanged entities have
// no phase.
func BeforePhase(kind uow.MutationKind) (Phase, bool) {
	switch kind {
	case uow.Insert:
		return BeforeInsert, true
	case uow.Update:
		return BeforeUpdate, true
	case uow.Delete:
		return BeforeDelete, true
	default:
		return 0, false
	}
}

// AfterPhase returns the post-commit phase for kind
func AfterPhase(kind uow.MutationKind) (Phase, bool) {
	switch kind {
	case uow.Insert:
		return AfterInsert, true
	case uow.Update:
		return AfterUpdate, true
	case uow.Delete:
		return AfterDelete, true
	default:
		return 0, false
	}
}
