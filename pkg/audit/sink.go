package audit

import (
	"context"
	"sync"

	"github.com/platinummonkey/chronicle/pkg/observability"
)

// DeliveryMode says whether a sink joins the unit of work's transaction
type DeliveryMode int

const (
	// Detached sinks run in their own scope after the write is finished
	Detached DeliveryMode = iota
	// Transactional sinks run while the unit of work's transaction is open
	// and can write through its executor (see uow.ExecutorFrom)
	Transactional
)

func (m DeliveryMode) String() string {
	if m == Transactional {
		return "transactional"
	}
	return "detached"
}

// Sink receives the finalized audit entries of each commit. Entries are
// shared between sinks and must not be modified.
type Sink interface {
	Name() string
	Mode() DeliveryMode
	Deliver(ctx context.Context, entries []*Entry) error
	Close() error
}

// MemorySink keeps delivered entries in memory
type MemorySink struct {
	mu      sync.Mutex
	entries []*Entry
	batches int
}

// NewMemorySink creates an empty in-memory sink
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Name() string { return "memory" }

func (s *MemorySink) Mode() DeliveryMode { return Detached }

// Deliver appends the batch
func (s *MemorySink) Deliver(ctx context.Context, entries []*Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entries...)
	s.batches++
	return nil
}

// Entries returns every delivered entry
func (s *MemorySink) Entries() []*Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Batches returns the number of Deliver calls
func (s *MemorySink) Batches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.batches
}

// Reset forgets every delivered entry
func (s *MemorySink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
	s.batches = 0
}

func (s *MemorySink) Close() error { return nil }

// LogSink writes one structured log line per entry
type LogSink struct {
	logger *observability.Logger
}

// NewLogSink creates a sink logging to logger
func NewLogSink(logger *observability.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Mode() DeliveryMode { return Detached }

// Deliver logs every entry at info level
func (s *LogSink) Deliver(ctx context.Context, entries []*Entry) error {
	for _, e := range entries {
		s.logger.WithFields(map[string]any{
			"audit_id":    e.ID,
			"commit_id":   e.CommitID,
			"entity":      e.ShortName,
			"state":       string(e.State),
			"primary_key": e.PrimaryKey(),
			"actor":       e.Actor,
			"properties":  e.PropertyNames(),
		}).Info("audit entry")
	}
	return nil
}

func (s *LogSink) Close() error { return nil }

// SinkFunc adapts a function to the Sink interface
type SinkFunc struct {
	name string
	mode DeliveryMode
	fn   func(ctx context.Context, entries []*Entry) error
}

// NewSinkFunc creates a sink calling fn for each batch
func NewSinkFunc(name string, mode DeliveryMode, fn func(ctx context.Context, entries []*Entry) error) *SinkFunc {
	return &SinkFunc{name: name, mode: mode, fn: fn}
}

func (s *SinkFunc) Name() string { return s.name }

func (s *SinkFunc) Mode() DeliveryMode { return s.mode }

func (s *SinkFunc) Deliver(ctx context.Context, entries []*Entry) error {
	return s.fn(ctx, entries)
}

func (s *SinkFunc) Close() error { return nil }
