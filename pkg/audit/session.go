package audit

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/platinummonkey/chronicle/pkg/uow"
)

// draft is an entry under construction between the before and after passes
type draft struct {
	entry  *Entry
	entity any
	config *EntityConfig
	kind   uow.MutationKind
	// modified records the before-pass comparison of each recorded property
	modified map[string]bool
}

// Session holds the audit drafts of one commit of one unit of work. It is
// never shared between units of work.
type Session struct {
	uowID    string
	commitID string
	actor    string
	reason   string
	traceID  string

	mu     sync.Mutex
	drafts map[any]*draft
	order  []*draft
}

// UnitOfWorkID returns the identity of the unit of work being committed
func (s *Session) UnitOfWorkID() string {
	return s.uowID
}

// CommitID returns the ID shared by every entry of this commit
func (s *Session) CommitID() string {
	return s.commitID
}

// Len returns the number of drafts in the session
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

// Entry returns the draft entry of a tracked entity
func (s *Session) Entry(entity any) (*Entry, bool) {
	d, ok := s.draft(entity)
	if !ok {
		return nil, false
	}
	return d.entry, true
}

// Entries returns the entries in the order they were created
func (s *Session) Entries() []*Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Entry, len(s.order))
	for i, d := range s.order {
		out[i] = d.entry
	}
	return out
}

func (s *Session) draft(entity any) (*draft, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.drafts[entity]
	return d, ok
}

func (s *Session) add(d *draft) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.drafts[d.entity]; dup {
		return fmt.Errorf("entity %s already has an audit entry in commit %s", d.entry.ShortName, s.commitID)
	}
	s.drafts[d.entity] = d
	s.order = append(s.order, d)
	return nil
}

// Sessions tracks the active session of every unit of work being committed
type Sessions struct {
	mu     sync.Mutex
	active map[string]*Session
}

// NewSessions creates an empty session table
func NewSessions() *Sessions {
	return &Sessions{active: make(map[string]*Session)}
}

// Begin opens the session for one commit of unit of work uowID. Actor,
// reason and trace ID are taken from ctx.
func (s *Sessions) Begin(ctx context.Context, uowID string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.active[uowID]; ok {
		return nil, fmt.Errorf("unit of work %s: %w", uowID, ErrSessionActive)
	}
	session := &Session{
		uowID:    uowID,
		commitID: uuid.NewString(),
		actor:    ActorFrom(ctx),
		reason:   ReasonFrom(ctx),
		traceID:  TraceIDFrom(ctx),
		drafts:   make(map[any]*draft),
	}
	s.active[uowID] = session
	return session, nil
}

// End discards the session. Ending a session twice is a no-op.
func (s *Sessions) End(session *Session) {
	if session == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active[session.uowID] == session {
		delete(s.active, session.uowID)
	}
}

// Active returns the number of sessions currently open
func (s *Sessions) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}
