package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/chronicle/pkg/async"
	"github.com/platinummonkey/chronicle/pkg/observability"
	"github.com/platinummonkey/chronicle/pkg/uow"
)

var tracer = otel.Tracer("github.com/platinummonkey/chronicle/pkg/audit")

// Fanout delivers each commit's entries to every registered sink. One
// sink's failure never prevents delivery to the others; all failures are
// returned joined, each wrapped in a *SinkError.
type Fanout struct {
	mu       sync.RWMutex
	sinks    []Sink
	parallel bool
	closed   bool

	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewFanout creates a fanout over sinks
func NewFanout(sinks ...Sink) *Fanout {
	return &Fanout{
		sinks:  sinks,
		logger: observability.Discard(),
	}
}

// Add registers another sink
func (f *Fanout) Add(s Sink) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sinks = append(f.sinks, s)
}

// SetParallel sets whether sinks are delivered to concurrently
func (f *Fanout) SetParallel(parallel bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.parallel = parallel
}

// SetLogger sets the logger used for sink failures
func (f *Fanout) SetLogger(l *observability.Logger) {
	if l == nil {
		l = observability.Discard()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logger = l
}

// SetMetrics records per-sink deliveries
func (f *Fanout) SetMetrics(m *observability.Metrics) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.metrics = m
}

// Sinks returns the registered sinks
func (f *Fanout) Sinks() []Sink {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]Sink, len(f.sinks))
	copy(out, f.sinks)
	return out
}

// HasTransactional reports whether any sink joins the unit of work's transaction
func (f *Fanout) HasTransactional() bool {
	for _, s := range f.Sinks() {
		if s.Mode() == Transactional {
			return true
		}
	}
	return false
}

// Deliver hands entries to every sink. Detached sinks never see the unit of
// work's executor.
func (f *Fanout) Deliver(ctx context.Context, entries []*Entry) error {
	return f.deliver(ctx, entries, func(Sink) bool { return true })
}

// DeliverTransactional hands entries to the transactional sinks only
func (f *Fanout) DeliverTransactional(ctx context.Context, entries []*Entry) error {
	return f.deliver(ctx, entries, func(s Sink) bool { return s.Mode() == Transactional })
}

// DeliverDetached hands entries to the detached sinks only
func (f *Fanout) DeliverDetached(ctx context.Context, entries []*Entry) error {
	return f.deliver(ctx, entries, func(s Sink) bool { return s.Mode() == Detached })
}

func (f *Fanout) deliver(ctx context.Context, entries []*Entry, include func(Sink) bool) error {
	f.mu.RLock()
	if f.closed {
		f.mu.RUnlock()
		return ErrSinkClosed
	}
	var targets []Sink
	for _, s := range f.sinks {
		if include(s) {
			targets = append(targets, s)
		}
	}
	parallel := f.parallel
	logger, metrics := f.logger, f.metrics
	f.mu.RUnlock()

	if len(targets) == 0 || len(entries) == 0 {
		return nil
	}

	if parallel {
		return errors.Join(async.Each(ctx, len(targets), 0, func(ctx context.Context, i int) error {
			return deliverOne(ctx, targets[i], entries, logger, metrics)
		})...)
	}
	errs := make([]error, len(targets))
	for i, s := range targets {
		errs[i] = deliverOne(ctx, s, entries, logger, metrics)
	}
	return errors.Join(errs...)
}

func deliverOne(ctx context.Context, s Sink, entries []*Entry, logger *observability.Logger, metrics *observability.Metrics) (err error) {
	if s.Mode() == Detached {
		ctx = uow.WithoutExecutor(ctx)
	}

	ctx, span := tracer.Start(ctx, "Sink.Deliver",
		trace.WithAttributes(
			attribute.String("sink.name", s.Name()),
			attribute.String("sink.mode", s.Mode().String()),
			attribute.Int("audit.entries", len(entries)),
		),
	)
	start := time.Now()
	defer func() {
		if p := observability.MustRecover(recover()); p != nil {
			err = p
		}
		metrics.ObserveDelivery(s.Name(), err, time.Since(start))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "delivery failed")
			logger.WithField("sink", s.Name()).WithError(err).Error("audit sink delivery failed")
			err = &SinkError{Sink: s.Name(), Err: err}
		}
		span.End()
	}()

	return s.Deliver(ctx, entries)
}

// Close closes every sink. Later deliveries fail with ErrSinkClosed.
func (f *Fanout) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	sinks := f.sinks
	f.mu.Unlock()

	var errs []error
	for _, s := range sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close sink %s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}
