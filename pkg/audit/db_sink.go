package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/platinummonkey/chronicle/pkg/uow"
)

// DefaultTable is the table the database sink writes to
const DefaultTable = "audit_entries"

const entryColumns = `id, commit_id, timestamp, full_name, short_name, friendly_name,
	strategy, state, description, primary_key, primary_key_text,
	actor, reason, trace_id, properties`

// sortColumns maps SearchFilter.SortBy values to columns
var sortColumns = map[string]string{
	"":          "timestamp",
	"timestamp": "timestamp",
	"entity":    "short_name",
	"state":     "state",
	"actor":     "actor",
}

// DBSink writes audit entries to PostgreSQL. It is transactional: when the
// unit of work's transaction is in the context, entries are written inside it
// under a savepoint, so they commit or roll back with the business write.
type DBSink struct {
	db    *sql.DB
	table string
}

// DBSinkOption configures a DBSink
type DBSinkOption func(*DBSink)

// WithTable overrides the entry table name
func WithTable(name string) DBSinkOption {
	return func(s *DBSink) {
		if name != "" {
			s.table = name
		}
	}
}

// NewDBSink creates a database sink and makes sure its table exists
func NewDBSink(ctx context.Context, db *sql.DB, opts ...DBSinkOption) (*DBSink, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	s := &DBSink{db: db, table: DefaultTable}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.ensureTable(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure %s table: %w", s.table, err)
	}
	return s, nil
}

func (s *DBSink) quoted() string {
	return pq.QuoteIdentifier(s.table)
}

// ensureTable creates the entry table and its indexes if they don't exist
func (s *DBSink) ensureTable(ctx context.Context) error {
	t := s.quoted()
	idx := func(suffix string) string {
		return pq.QuoteIdentifier("idx_" + s.table + "_" + suffix)
	}
	query := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %[1]s (
		id UUID PRIMARY KEY,
		commit_id VARCHAR(64) NOT NULL,
		timestamp TIMESTAMP WITH TIME ZONE NOT NULL,
		full_name TEXT NOT NULL,
		short_name VARCHAR(255) NOT NULL,
		friendly_name VARCHAR(255),
		strategy VARCHAR(16) NOT NULL,
		state VARCHAR(16) NOT NULL,
		description TEXT,
		primary_key JSONB,
		primary_key_text TEXT,
		actor VARCHAR(255),
		reason TEXT,
		trace_id VARCHAR(64),
		properties JSONB,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS %[2]s ON %[1]s(timestamp DESC);
	CREATE INDEX IF NOT EXISTS %[3]s ON %[1]s(commit_id);
	CREATE INDEX IF NOT EXISTS %[4]s ON %[1]s(short_name, primary_key_text);
	CREATE INDEX IF NOT EXISTS %[5]s ON %[1]s(actor);
	`, t, idx("timestamp"), idx("commit"), idx("entity"), idx("actor"))

	_, err := s.db.ExecContext(ctx, query)
	return err
}

func (s *DBSink) Name() string { return "postgres" }

func (s *DBSink) Mode() DeliveryMode { return Transactional }

// Deliver inserts the batch. Inside a unit-of-work transaction the inserts
// run under a savepoint; otherwise the sink opens its own transaction.
func (s *DBSink) Deliver(ctx context.Context, entries []*Entry) error {
	if len(entries) == 0 {
		return nil
	}

	if ex, ok := uow.ExecutorFrom(ctx); ok {
		return s.deliverInSavepoint(ctx, ex, entries)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin audit transaction: %w", err)
	}
	if err := s.insertAll(ctx, tx, entries); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			err = errors.Join(err, fmt.Errorf("rollback failed: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit audit entries: %w", err)
	}
	return nil
}

func (s *DBSink) deliverInSavepoint(ctx context.Context, ex uow.Executor, entries []*Entry) error {
	if _, err := ex.ExecContext(ctx, "SAVEPOINT chronicle_audit"); err != nil {
		return fmt.Errorf("failed to create savepoint: %w", err)
	}
	if err := s.insertAll(ctx, ex, entries); err != nil {
		if _, rbErr := ex.ExecContext(ctx, "ROLLBACK TO SAVEPOINT chronicle_audit"); rbErr != nil {
			err = errors.Join(err, fmt.Errorf("rollback to savepoint failed: %w", rbErr))
		}
		return err
	}
	if _, err := ex.ExecContext(ctx, "RELEASE SAVEPOINT chronicle_audit"); err != nil {
		return fmt.Errorf("failed to release savepoint: %w", err)
	}
	return nil
}

func (s *DBSink) insertAll(ctx context.Context, ex uow.Executor, entries []*Entry) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (%s) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11,
			$12, $13, $14, $15
		)`, s.quoted(), entryColumns)

	for _, e := range entries {
		pkJSON, err := json.Marshal(e.PrimaryKeyValues)
		if err != nil {
			return fmt.Errorf("failed to marshal primary key: %w", err)
		}
		propsJSON, err := json.Marshal(e.Properties)
		if err != nil {
			return fmt.Errorf("failed to marshal properties: %w", err)
		}

		_, err = ex.ExecContext(ctx, query,
			e.ID, e.CommitID, e.Timestamp, e.FullName, e.ShortName, e.FriendlyName,
			string(e.Strategy), string(e.State), e.Description, pkJSON, e.PrimaryKey(),
			e.Actor, e.Reason, e.TraceID, propsJSON,
		)
		if err != nil {
			return fmt.Errorf("failed to insert audit entry %s: %w", e.ID, err)
		}
	}
	return nil
}

// Close is a no-op; the database connection may be shared
func (s *DBSink) Close() error {
	return nil
}

type whereBuilder struct {
	clauses []string
	args    []any
}

func (w *whereBuilder) add(clause string, arg any) {
	w.args = append(w.args, arg)
	w.clauses = append(w.clauses, fmt.Sprintf(clause, len(w.args)))
}

func (w *whereBuilder) String() string {
	if len(w.clauses) == 0 {
		return "WHERE 1=1"
	}
	return "WHERE " + strings.Join(w.clauses, " AND ")
}

func filterWhere(filter SearchFilter) *whereBuilder {
	w := &whereBuilder{}
	if filter.StartTime != nil {
		w.add("timestamp >= $%d", *filter.StartTime)
	}
	if filter.EndTime != nil {
		w.add("timestamp <= $%d", *filter.EndTime)
	}
	if filter.CommitID != "" {
		w.add("commit_id = $%d", filter.CommitID)
	}
	if len(filter.Entities) > 0 {
		w.args = append(w.args, pq.Array(filter.Entities))
		n := len(w.args)
		w.clauses = append(w.clauses, fmt.Sprintf("(short_name = ANY($%d) OR full_name = ANY($%d))", n, n))
	}
	if len(filter.States) > 0 {
		states := make([]string, len(filter.States))
		for i, st := range filter.States {
			states[i] = string(st)
		}
		w.add("state = ANY($%d)", pq.Array(states))
	}
	if filter.PrimaryKey != "" {
		w.add("primary_key_text = $%d", filter.PrimaryKey)
	}
	if filter.Actor != "" {
		w.add("actor = $%d", filter.Actor)
	}
	return w
}

// Search returns stored entries matching filter, newest first by default
func (s *DBSink) Search(ctx context.Context, filter SearchFilter) ([]*Entry, error) {
	w := filterWhere(filter)
	query := fmt.Sprintf("SELECT %s FROM %s %s", entryColumns, s.quoted(), w)

	column, ok := sortColumns[filter.SortBy]
	if !ok {
		return nil, fmt.Errorf("cannot sort audit entries by %q", filter.SortBy)
	}
	order := "DESC"
	if strings.EqualFold(filter.SortOrder, "asc") {
		order = "ASC"
	}
	query += fmt.Sprintf(" ORDER BY %s %s", column, order)

	args := w.args
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search audit entries: %w", err)
	}
	defer rows.Close()

	entries := make([]*Entry, 0)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit entries: %w", err)
	}
	return entries, nil
}

// Get returns one stored entry by ID
func (s *DBSink) Get(ctx context.Context, id string) (*Entry, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = $1", entryColumns, s.quoted())
	e, err := scanEntry(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", id, ErrEntryNotFound)
	}
	return e, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (*Entry, error) {
	var (
		e                                             Entry
		strategy, state                               string
		friendlyName, description, actor, reason, tid sql.NullString
		pkText                                        sql.NullString
		pkJSON, propsJSON                             []byte
	)
	err := row.Scan(
		&e.ID, &e.CommitID, &e.Timestamp, &e.FullName, &e.ShortName, &friendlyName,
		&strategy, &state, &description, &pkJSON, &pkText,
		&actor, &reason, &tid, &propsJSON,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan audit entry: %w", err)
	}

	e.Strategy = Strategy(strategy)
	e.State = State(state)
	e.FriendlyName = friendlyName.String
	e.Description = description.String
	e.Actor = actor.String
	e.Reason = reason.String
	e.TraceID = tid.String

	if len(pkJSON) > 0 {
		if err := json.Unmarshal(pkJSON, &e.PrimaryKeyValues); err != nil {
			return nil, fmt.Errorf("failed to unmarshal primary key: %w", err)
		}
	}
	e.Properties = make(map[string]*Property)
	if len(propsJSON) > 0 {
		if err := json.Unmarshal(propsJSON, &e.Properties); err != nil {
			return nil, fmt.Errorf("failed to unmarshal properties: %w", err)
		}
	}
	return &e, nil
}

// Stats summarises stored entries between startTime and endTime
func (s *DBSink) Stats(ctx context.Context, startTime, endTime *time.Time) (*Stats, error) {
	stats := &Stats{
		EntriesByEntity: make(map[string]int64),
		EntriesByState:  make(map[State]int64),
		EntriesByActor:  make(map[string]int64),
	}

	w := filterWhere(SearchFilter{StartTime: startTime, EndTime: endTime})
	if startTime != nil || endTime != nil {
		stats.TimeRange = &TimeRange{}
		if startTime != nil {
			stats.TimeRange.Start = *startTime
		}
		if endTime != nil {
			stats.TimeRange.End = *endTime
		}
	}
	t := s.quoted()

	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT COUNT(*), COUNT(DISTINCT actor), COUNT(DISTINCT commit_id) FROM %s %s", t, w), w.args...,
	).Scan(&stats.TotalEntries, &stats.UniqueActors, &stats.UniqueCommits)
	if err != nil {
		return nil, fmt.Errorf("failed to get entry totals: %w", err)
	}

	groups := []struct {
		column string
		add    func(key string, n int64)
	}{
		{"short_name", func(k string, n int64) { stats.EntriesByEntity[k] = n }},
		{"state", func(k string, n int64) { stats.EntriesByState[State(k)] = n }},
		{"COALESCE(actor, '')", func(k string, n int64) { stats.EntriesByActor[k] = n }},
	}
	for _, g := range groups {
		if err := s.countBy(ctx, g.column, w, g.add); err != nil {
			return nil, err
		}
	}
	return stats, nil
}

func (s *DBSink) countBy(ctx context.Context, column string, w *whereBuilder, add func(string, int64)) error {
	query := fmt.Sprintf("SELECT %[1]s, COUNT(*) FROM %[2]s %[3]s GROUP BY %[1]s", column, s.quoted(), w)
	rows, err := s.db.QueryContext(ctx, query, w.args...)
	if err != nil {
		return fmt.Errorf("failed to count entries by %s: %w", column, err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var n int64
		if err := rows.Scan(&key, &n); err != nil {
			return fmt.Errorf("failed to scan count by %s: %w", column, err)
		}
		add(key, n)
	}
	return rows.Err()
}

// DeleteUntil removes entries stamped at or before cutoff and returns how
// many were removed
func (s *DBSink) DeleteUntil(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE timestamp <= $1", s.quoted()), cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete audit entries: %w", err)
	}
	return result.RowsAffected()
}
