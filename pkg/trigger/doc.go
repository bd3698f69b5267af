// Package trigger dispatches entity-lifecycle callbacks around the commit of
// a unit of work.
//
// Handlers are registered against a subject type for one of six phases:
//
//	reg := trigger.NewRegistry()
//	trigger.On[Order](reg, trigger.BeforeUpdate, func(ctx context.Context, inv *trigger.Invocation) error {
//	    inv.Entry.Entity().(*Order).UpdatedAt = time.Now()
//	    return nil
//	})
//
// A subject may be the concrete entity type, a struct embedded in it, or an
// interface it implements. When an entity is committed, the handlers whose
// subject matches its type run most specific first: exact type, then
// embedded bases, then interfaces. Handlers of the same rank run in
// registration order.
//
// The Pipeline wraps a uow.UnitOfWork commit:
//
//	pipeline := trigger.NewPipeline(reg,
//	    trigger.WithAuditor(audit.NewAuditor(cfg)),
//	    trigger.WithFanout(audit.NewFanout(sink)),
//	)
//	err := pipeline.Commit(ctx, u)
//
// Before handlers run for every pending entity, then the unit of work
// commits, then after handlers run using the kind each entity had when the
// commit started. Audit capture is itself registered as a handler on every
// type, so it runs after more specific callbacks have modified the entity.
// The audit entries of a successful commit are delivered to the fanout.
//
// A handler error or panic aborts the phase and is returned as a
// *CallbackError. Context cancellation is checked before each entity and
// between phases, never while a handler runs.
package trigger
