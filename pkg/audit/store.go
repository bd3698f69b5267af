package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/platinummonkey/chronicle/pkg/observability"
)

// archiveBatch is the page size used when archiving expired entries
const archiveBatch = 500

// Store provides methods for querying and managing stored audit entries
type Store interface {
	// Search returns entries matching filter
	Search(ctx context.Context, filter SearchFilter) ([]*Entry, error)

	// Get returns one entry by ID, or ErrEntryNotFound
	Get(ctx context.Context, id string) (*Entry, error)

	// Stats summarises entries in a time range
	Stats(ctx context.Context, startTime, endTime *time.Time) (*Stats, error)

	// Export renders entries matching filter in format
	Export(ctx context.Context, filter SearchFilter, format ExportFormat) ([]byte, error)

	// Cleanup removes entries older than the retention period
	Cleanup(ctx context.Context, policy RetentionPolicy) (int64, error)
}

// DBStore implements Store on top of a DBSink's table
type DBStore struct {
	sink    *DBSink
	metrics *observability.Metrics
	now     func() time.Time
}

// NewDBStore creates a store reading what sink writes
func NewDBStore(sink *DBSink, metrics *observability.Metrics) *DBStore {
	return &DBStore{sink: sink, metrics: metrics, now: time.Now}
}

func (s *DBStore) Search(ctx context.Context, filter SearchFilter) ([]*Entry, error) {
	return s.sink.Search(ctx, filter)
}

func (s *DBStore) Get(ctx context.Context, id string) (*Entry, error) {
	return s.sink.Get(ctx, id)
}

func (s *DBStore) Stats(ctx context.Context, startTime, endTime *time.Time) (*Stats, error) {
	return s.sink.Stats(ctx, startTime, endTime)
}

func (s *DBStore) Export(ctx context.Context, filter SearchFilter, format ExportFormat) ([]byte, error) {
	entries, err := s.sink.Search(ctx, filter)
	if err != nil {
		return nil, err
	}
	return Export(entries, format)
}

// Cleanup deletes entries older than policy.RetentionDays. When the policy
// names an archive sink, expired entries are delivered to it first and
// nothing is deleted if archiving fails.
func (s *DBStore) Cleanup(ctx context.Context, policy RetentionPolicy) (int64, error) {
	if policy.RetentionDays <= 0 {
		return 0, fmt.Errorf("retention days must be positive, got %d", policy.RetentionDays)
	}
	cutoff := s.now().AddDate(0, 0, -policy.RetentionDays)

	if policy.Archive != nil {
		if err := s.archive(ctx, policy.Archive, cutoff); err != nil {
			return 0, err
		}
	}

	n, err := s.sink.DeleteUntil(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	s.metrics.RetentionRemoved(n)
	observability.FromContext(ctx).WithFields(map[string]any{
		"cutoff":  cutoff,
		"removed": n,
	}).Info("audit retention cleanup finished")
	return n, nil
}

func (s *DBStore) archive(ctx context.Context, archive Sink, cutoff time.Time) error {
	filter := SearchFilter{
		EndTime:   &cutoff,
		SortBy:    "timestamp",
		SortOrder: "asc",
		Limit:     archiveBatch,
	}
	for {
		batch, err := s.sink.Search(ctx, filter)
		if err != nil {
			return fmt.Errorf("failed to read expired entries: %w", err)
		}
		if len(batch) == 0 {
			return nil
		}
		if err := archive.Deliver(ctx, batch); err != nil {
			return &SinkError{Sink: archive.Name(), Err: err}
		}
		if len(batch) < archiveBatch {
			return nil
		}
		filter.Offset += len(batch)
	}
}
