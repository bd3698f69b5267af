package trigger

import (
	"context"
	"reflect"
	"slices"
	"sync"

	"github.com/platinummonkey/chronicle/pkg/audit"
	"github.com/platinummonkey/chronicle/pkg/schema"
	"github.com/platinummonkey/chronicle/pkg/uow"
)

// Invocation describes one handler call
type Invocation struct {
	// Entry is the pending entity. Its Kind may differ from Kind when an
	// earlier handler changed it.
	Entry uow.Entry
	Phase Phase
	// Kind is the mutation kind the entity had when the commit started
	Kind       uow.MutationKind
	Session    *audit.Session
	UnitOfWork uow.UnitOfWork
}

// Handler is a lifecycle callback. Returning an error aborts the phase.
type Handler func(ctx context.Context, inv *Invocation) error

// Registration is the handle returned by Register. The zero value revokes
// nothing.
type Registration struct {
	id    uint64
	phase Phase
}

// Valid reports whether the handle refers to a registration
func (r Registration) Valid() bool {
	return r.id != 0
}

type registration struct {
	id      uint64
	subject reflect.Type
	handler Handler
	// final registrations run after every other match, whatever their rank
	final bool
}

type memoKey struct {
	concrete reflect.Type
	phase    Phase
}

type ranked struct {
	final   bool
	rank    schema.Rank
	handler Handler
}

// Registry holds lifecycle handlers keyed by subject type and phase. It is
// safe for concurrent use; resolution results are cached until the next
// Register or Revoke.
type Registry struct {
	mu       sync.RWMutex
	nextID   uint64
	gen      uint64
	handlers map[Phase][]*registration
	memo     map[memoKey][]Handler
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[Phase][]*registration),
		memo:     make(map[memoKey][]Handler),
	}
}

// Register adds h for entities matching subject in phase. Pointer subjects
// are treated as their element type. A nil subject or handler registers
// nothing and returns the zero Registration.
func (r *Registry) Register(subject reflect.Type, phase Phase, h Handler) Registration {
	return r.register(subject, phase, h, false)
}

// registerFinal is Register for handlers that must observe the outcome of
// every other handler in the phase, such as the audit capture
func (r *Registry) registerFinal(subject reflect.Type, phase Phase, h Handler) Registration {
	return r.register(subject, phase, h, true)
}

func (r *Registry) register(subject reflect.Type, phase Phase, h Handler, final bool) Registration {
	if subject == nil || h == nil {
		return Registration{}
	}
	if subject.Kind() == reflect.Pointer {
		subject = schema.Indirect(subject)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	r.handlers[phase] = append(r.handlers[phase], &registration{
		id:      r.nextID,
		subject: subject,
		handler: h,
		final:   final,
	})
	r.invalidate()
	return Registration{id: r.nextID, phase: phase}
}

// On registers h against T
func On[T any](r *Registry, phase Phase, h Handler) Registration {
	return r.Register(reflect.TypeOf((*T)(nil)).Elem(), phase, h)
}

// Revoke removes the registrations behind the given handles. Unknown or
// already revoked handles are ignored.
func (r *Registry) Revoke(regs ...Registration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, reg := range regs {
		if !reg.Valid() {
			continue
		}
		list := r.handlers[reg.phase]
		i := slices.IndexFunc(list, func(e *registration) bool { return e.id == reg.id })
		if i < 0 {
			continue
		}
		r.handlers[reg.phase] = slices.Delete(list, i, i+1)
		r.invalidate()
	}
}

// Resolve returns the handlers that apply to concrete in phase, most
// specific first. The audit capture always comes last. The returned slice must not be modified.
func (r *Registry) Resolve(concrete reflect.Type, phase Phase) []Handler {
	if concrete == nil {
		return nil
	}
	concrete = schema.Indirect(concrete)
	key := memoKey{concrete: concrete, phase: phase}

	r.mu.RLock()
	if hs, ok := r.memo[key]; ok {
		r.mu.RUnlock()
		return hs
	}
	gen := r.gen
	hs := r.resolveLocked(concrete, phase)
	r.mu.RUnlock()

	r.mu.Lock()
	if r.gen == gen {
		r.memo[key] = hs
	}
	r.mu.Unlock()
	return hs
}

// Len returns the number of registrations for phase
func (r *Registry) Len(phase Phase) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers[phase])
}

func (r *Registry) resolveLocked(concrete reflect.Type, phase Phase) []Handler {
	var matched []ranked
	for _, reg := range r.handlers[phase] {
		rank, ok := schema.Specificity(concrete, reg.subject)
		if !ok {
			continue
		}
		matched = append(matched, ranked{final: reg.final, rank: rank, handler: reg.handler})
	}
	slices.SortStableFunc(matched, func(a, b ranked) int {
		if a.final != b.final {
			if a.final {
				return 1
			}
			return -1
		}
		return int(a.rank) - int(b.rank)
	})

	out := make([]Handler, len(matched))
	for i, m := range matched {
		out[i] = m.handler
	}
	return out
}

// invalidate drops cached resolutions. Callers hold the write lock.
func (r *Registry) invalidate() {
	r.gen++
	clear(r.memo)
}
