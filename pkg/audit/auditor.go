package audit

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/chronicle/pkg/observability"
	"github.com/platinummonkey/chronicle/pkg/uow"
)

const defaultLookupConcurrency = 8

// Auditor captures audit entries for a commit. Before records the draft and
// the properties selected by the entity's strategy; After completes it from
// the committed entity.
type Auditor struct {
	config      *Configuration
	logger      *observability.Logger
	metrics     *observability.Metrics
	cache       *LookupCache
	concurrency int
	now         func() time.Time
}

// AuditorOption configures an Auditor
type AuditorOption func(*Auditor)

// WithAuditLogger sets the logger used for lookup failures. Without it the
// auditor logs through the logger installed on the commit context.
func WithAuditLogger(l *observability.Logger) AuditorOption {
	return func(a *Auditor) {
		a.logger = l
	}
}

// WithAuditMetrics records captured entries and lookups
func WithAuditMetrics(m *observability.Metrics) AuditorOption {
	return func(a *Auditor) {
		a.metrics = m
	}
}

// WithLookupCache puts c in front of unit-of-work lookups
func WithLookupCache(c *LookupCache) AuditorOption {
	return func(a *Auditor) {
		a.cache = c
	}
}

// WithLookupConcurrency bounds the lookups run at once for one entry
func WithLookupConcurrency(n int) AuditorOption {
	return func(a *Auditor) {
		if n > 0 {
			a.concurrency = n
		}
	}
}

// WithClock overrides the entry timestamp source
func WithClock(now func() time.Time) AuditorOption {
	return func(a *Auditor) {
		a.now = now
	}
}

// NewAuditor creates an auditor for a resolved configuration
func NewAuditor(cfg *Configuration, opts ...AuditorOption) *Auditor {
	a := &Auditor{
		config:      cfg,
		concurrency: defaultLookupConcurrency,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Configuration returns the auditor's configuration
func (a *Auditor) Configuration() *Configuration {
	return a.config
}

// Before creates the draft entry for e. Entities of ignored or unconfigured
// types are skipped.
func (a *Auditor) Before(ctx context.Context, s *Session, e uow.Entry) error {
	entity := e.Entity()
	if entity == nil || !reflect.TypeOf(entity).Comparable() {
		return fmt.Errorf("audit: entity %T cannot be used as an identity", entity)
	}
	ec, ok := a.config.Entity(e.Type().Type)
	if !ok || ec.Ignore {
		return nil
	}

	kind := e.Kind()
	entry := &Entry{
		ID:           uuid.NewString(),
		CommitID:     s.commitID,
		Timestamp:    a.now().UTC(),
		FullName:     ec.Type.FullName,
		ShortName:    ec.Type.Name,
		FriendlyName: ec.FriendlyName,
		Strategy:     ec.Strategy,
		State:        StateOf(kind),
		Properties:   make(map[string]*Property),
		Actor:        s.actor,
		Reason:       s.reason,
		TraceID:      s.traceID,
	}
	d := &draft{
		entry:    entry,
		entity:   entity,
		config:   ec,
		kind:     kind,
		modified: make(map[string]bool),
	}

	full := ec.Strategy == Full
	for _, c := range e.Changes() {
		pc, ok := ec.Properties[c.Name]
		if !ok || pc.Ignore {
			continue
		}

		prop := &Property{Name: c.Name, FriendlyName: pc.FriendlyName}
		var record bool
		switch kind {
		case uow.Insert:
			prop.NewValue = c.Current
			record = full || c.Current != nil
		case uow.Delete:
			prop.OldValue = c.Original
			record = full || c.Original != nil
		default:
			prop.OldValue = c.Original
			prop.NewValue = c.Current
			record = full || c.Modified
		}
		if !record {
			continue
		}
		entry.Properties[c.Name] = prop
		d.modified[c.Name] = c.Modified
	}

	return s.add(d)
}

// After completes the draft of e using the committed state. The draft keeps
// the mutation kind it was recorded with, even if a callback changed e's
// kind in between.
func (a *Auditor) After(ctx context.Context, s *Session, u uow.UnitOfWork, e uow.Entry) error {
	d, ok := s.draft(e.Entity())
	if !ok {
		return nil
	}
	entry, kind := d.entry, d.kind

	if kind != uow.Delete {
		for name, prop := range entry.Properties {
			prop.NewValue = e.Value(name)
		}
	}
	if d.config.Description != nil {
		entry.Description = d.config.Description(d.entity)
	}
	entry.PrimaryKeyValues = append([]any(nil), e.PrimaryKey()...)

	if err := a.resolveFriendly(ctx, u, d, kind); err != nil {
		return err
	}
	a.metrics.EntryCaptured(string(entry.State))
	return nil
}

func (a *Auditor) resolveFriendly(ctx context.Context, u uow.UnitOfWork, d *draft, kind uow.MutationKind) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)

	for name, prop := range d.entry.Properties {
		pc := d.config.Properties[name]
		if kind != uow.Insert {
			g.Go(func() error {
				prop.FriendlyOldValue = a.friendly(gctx, u, d, pc, prop.OldValue, true)
				return nil
			})
		}
		if kind != uow.Delete {
			g.Go(func() error {
				prop.FriendlyNewValue = a.friendly(gctx, u, d, pc, prop.NewValue, false)
				return nil
			})
		}
	}
	return g.Wait()
}

// friendly renders one raw value. Nil values stay nil and never reach a
// lookup or factory; failed lookups render as nil.
func (a *Auditor) friendly(ctx context.Context, u uow.UnitOfWork, d *draft, pc *PropertyConfig, raw any, old bool) *string {
	if raw == nil {
		return nil
	}

	switch {
	case pc.LookupType != nil:
		target, ok := a.lookup(ctx, u, d, pc, raw)
		if !ok {
			return nil
		}
		if pc.FriendlyValue != nil {
			return strPtr(pc.FriendlyValue(target))
		}
		return strPtr(Render(target))

	case pc.FriendlyValue != nil:
		entity := d.entity
		if old {
			shadow, err := withValue(d.entity, pc.Property, raw)
			if err != nil {
				return strPtr(Render(raw))
			}
			entity = shadow
		}
		return strPtr(pc.FriendlyValue(entity))
	}

	return strPtr(Render(raw))
}

func (a *Auditor) lookup(ctx context.Context, u uow.UnitOfWork, d *draft, pc *PropertyConfig, key any) (any, bool) {
	if v, ok := a.cache.Get(pc.LookupType, key); ok {
		a.metrics.Lookup("cached")
		return v, true
	}

	v, err := u.Lookup(ctx, pc.LookupType, key)
	if err != nil {
		result := "error"
		if errors.Is(err, uow.ErrNotFound) {
			result = "miss"
		}
		a.metrics.Lookup(result)
		a.log(ctx).WithFields(map[string]any{
			"entity":   d.entry.ShortName,
			"property": pc.Property.Name,
			"lookup":   pc.LookupType.String(),
			"key":      fmt.Sprint(key),
		}).WithError(err).Warn("friendly value lookup failed")
		return nil, false
	}

	a.metrics.Lookup("hit")
	a.cache.Add(pc.LookupType, key, v)
	return v, true
}

func (a *Auditor) log(ctx context.Context) *observability.Logger {
	if a.logger != nil {
		return a.logger
	}
	return observability.FromContext(ctx)
}

// Finalize returns the session's entries in creation order, without the
// empty ones when the configuration drops them
func (a *Auditor) Finalize(s *Session) []*Entry {
	entries := s.Entries()
	if !a.config.DropEmpty() {
		return entries
	}
	out := entries[:0:0]
	for _, e := range entries {
		if len(e.Properties) == 0 {
			a.metrics.EntryDropped()
			continue
		}
		out = append(out, e)
	}
	return out
}
