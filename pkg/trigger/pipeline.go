package trigger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/chronicle/pkg/audit"
	"github.com/platinummonkey/chronicle/pkg/observability"
	"github.com/platinummonkey/chronicle/pkg/uow"
)

// Pipeline runs lifecycle handlers around unit of work commits and delivers
// the resulting audit entries
type Pipeline struct {
	registry *Registry
	sessions *audit.Sessions
	auditor  *audit.Auditor
	auditing []Registration
	fanout   *audit.Fanout
	logger   *observability.Logger
	metrics  *observability.Metrics
	tracer   trace.Tracer
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithAuditor registers a's capture routine on the pipeline's registry
func WithAuditor(a *audit.Auditor) Option {
	return func(p *Pipeline) {
		p.auditor = a
	}
}

// WithFanout sets where audit entries are delivered after each commit
func WithFanout(f *audit.Fanout) Option {
	return func(p *Pipeline) {
		p.fanout = f
	}
}

// WithLogger sets the logger placed in the context of every commit
func WithLogger(l *observability.Logger) Option {
	return func(p *Pipeline) {
		p.logger = l
	}
}

// WithMetrics enables commit and callback metrics
func WithMetrics(m *observability.Metrics) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// WithTracer overrides the tracer used for commit spans
func WithTracer(t trace.Tracer) Option {
	return func(p *Pipeline) {
		p.tracer = t
	}
}

// NewPipeline creates a pipeline dispatching the handlers of reg. A nil
// registry gets an empty one.
func NewPipeline(reg *Registry, opts ...Option) *Pipeline {
	if reg == nil {
		reg = NewRegistry()
	}
	p := &Pipeline{
		registry: reg,
		sessions: audit.NewSessions(),
		tracer:   otel.Tracer("github.com/platinummonkey/chronicle/pkg/trigger"),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.auditor != nil {
		p.auditing = RegisterAuditor(reg, p.auditor)
	}
	return p
}

// Registry returns the pipeline's handler registry
func (p *Pipeline) Registry() *Registry {
	return p.registry
}

// Sessions returns the table of in-flight audit sessions
func (p *Pipeline) Sessions() *audit.Sessions {
	return p.sessions
}

// Close revokes the audit routine and closes the fanout
func (p *Pipeline) Close() error {
	p.registry.Revoke(p.auditing...)
	p.auditing = nil
	if p.fanout != nil {
		return p.fanout.Close()
	}
	return nil
}

// Commit runs the before handlers of every pending entity, commits u, runs
// the after handlers and delivers the audit entries. When u is a
// uow.Finisher the transaction stays open for transactional sinks and is
// finished before detached sinks run; any failure before that rolls it back.
func (p *Pipeline) Commit(ctx context.Context, u uow.UnitOfWork) (err error) {
	start := time.Now()
	ctx, span := p.tracer.Start(ctx, "Pipeline.Commit",
		trace.WithAttributes(attribute.String("uow.id", u.ID())),
	)
	defer span.End()

	ctx = observability.WithUnitOfWorkID(ctx, u.ID())
	if p.logger != nil {
		ctx = observability.WithLogger(ctx, p.logger)
	}

	session, err := p.sessions.Begin(ctx, u.ID())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "session already active")
		return err
	}
	defer p.sessions.End(session)

	ctx = observability.WithCommitID(ctx, session.CommitID())
	span.SetAttributes(attribute.String("commit.id", session.CommitID()))

	finisher, _ := u.(uow.Finisher)
	finished := false
	defer func() {
		if finisher != nil && !finished && err != nil {
			if ferr := finisher.Finish(ctx, err); ferr != nil {
				err = errors.Join(err, fmt.Errorf("failed to roll back: %w", ferr))
			}
		}
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, "commit failed")
			observability.FromContext(ctx).WithError(err).Error("commit failed")
		}
		p.metrics.ObserveCommit(status, time.Since(start))
	}()

	pending, err := u.Pending(ctx)
	if err != nil {
		return fmt.Errorf("failed to list pending entities: %w", err)
	}
	span.SetAttributes(attribute.Int("uow.entries", len(pending)))

	kinds := make([]uow.MutationKind, len(pending))
	for i, e := range pending {
		kinds[i] = e.Kind()
	}

	if err := p.runPass(ctx, u, session, pending, kinds, BeforePhase); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := u.Commit(ctx); err != nil {
		return fmt.Errorf("unit of work commit failed: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := p.runPass(ctx, u, session, pending, kinds, AfterPhase); err != nil {
		return err
	}

	entries := session.Entries()
	if p.auditor != nil {
		entries = p.auditor.Finalize(session)
	}
	span.SetAttributes(attribute.Int("audit.entries", len(entries)))

	if finisher == nil {
		return p.deliver(ctx, entries)
	}

	var txErr error
	if p.fanout != nil && len(entries) > 0 {
		txErr = p.fanout.DeliverTransactional(uow.WithExecutor(ctx, finisher.Executor()), entries)
	}
	finished = true
	if err := finisher.Finish(ctx, nil); err != nil {
		return errors.Join(txErr, fmt.Errorf("failed to finish unit of work: %w", err))
	}

	var detachedErr error
	if p.fanout != nil && len(entries) > 0 {
		detachedErr = p.fanout.DeliverDetached(uow.WithoutExecutor(ctx), entries)
	}
	return errors.Join(txErr, detachedErr)
}

func (p *Pipeline) deliver(ctx context.Context, entries []*audit.Entry) error {
	if p.fanout == nil || len(entries) == 0 {
		return nil
	}
	return p.fanout.Deliver(ctx, entries)
}

// runPass dispatches one phase per tracked entity, stopping at the first
// failure
func (p *Pipeline) runPass(ctx context.Context, u uow.UnitOfWork, s *audit.Session, pending []uow.Entry, kinds []uow.MutationKind, phaseOf func(uow.MutationKind) (Phase, bool)) error {
	for i, e := range pending {
		if err := ctx.Err(); err != nil {
			return err
		}
		phase, ok := phaseOf(kinds[i])
		if !ok {
			continue
		}
		inv := &Invocation{
			Entry:      e,
			Phase:      phase,
			Kind:       kinds[i],
			Session:    s,
			UnitOfWork: u,
		}
		for _, h := range p.registry.Resolve(e.Type().Type, phase) {
			if err := invoke(ctx, h, inv); err != nil {
				p.metrics.CallbackFailed(phase.String())
				return &CallbackError{Phase: phase, Type: e.Type().Type, Err: err}
			}
		}
	}
	return nil
}

func invoke(ctx context.Context, h Handler, inv *Invocation) (err error) {
	defer func() {
		if p := observability.MustRecover(recover()); p != nil {
			err = p
		}
	}()
	return h(ctx, inv)
}
