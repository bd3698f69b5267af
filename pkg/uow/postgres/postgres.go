package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/chronicle/pkg/schema"
	"github.com/platinummonkey/chronicle/pkg/uow"
)

var tracer = otel.Tracer("github.com/platinummonkey/chronicle/pkg/uow/postgres")

// ErrCommitInProgress is returned when Commit is called while a previous commit awaits Finish
var ErrCommitInProgress = errors.New("commit already in progress")

// Config holds PostgreSQL connection settings
type Config struct {
	URL         string
	MaxConns    int
	MinConns    int
	Timeout     time.Duration
	MaxLifetime time.Duration
	MaxIdleTime time.Duration
}

// DefaultConfig returns default connection settings
func DefaultConfig() Config {
	return Config{
		URL:         "postgres://localhost:5432/chronicle?sslmode=disable",
		MaxConns:    20,
		MinConns:    5,
		Timeout:     5 * time.Second,
		MaxLifetime: time.Hour,
		MaxIdleTime: 10 * time.Minute,
	}
}

// Open connects to PostgreSQL, configures the pool and verifies the connection
func Open(cfg Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxConns)
	db.SetMaxIdleConns(cfg.MinConns)
	db.SetConnMaxLifetime(cfg.MaxLifetime)
	db.SetConnMaxIdleTime(cfg.MaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	return db, nil
}

// Store creates units of work over one database
type Store struct {
	db     *sql.DB
	schema *schema.Schema
}

// NewStore creates a store for the types in s
func NewStore(db *sql.DB, s *schema.Schema) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if s == nil {
		return nil, fmt.Errorf("schema is required")
	}
	return &Store{db: db, schema: s}, nil
}

// Begin starts a new unit of work
func (s *Store) Begin() *UnitOfWork {
	return &UnitOfWork{
		Tracker: uow.NewTracker(s.schema),
		id:      uuid.NewString(),
		db:      s.db,
	}
}

// UnitOfWork tracks entity changes and writes them in one transaction.
// Commit executes the statements and leaves the transaction open until Finish,
// so transactional audit sinks can write through the same connection.
type UnitOfWork struct {
	*uow.Tracker

	id string
	db *sql.DB

	mu      sync.Mutex
	tx      *sql.Tx
	written []*uow.TrackedEntry

	// reads serializes queries on the open transaction. A lib/pq
	// connection cannot interleave two result sets.
	reads sync.Mutex
}

// ID returns the unit of work's identity
func (u *UnitOfWork) ID() string {
	return u.id
}

// Pending returns the entities pending a mutation
func (u *UnitOfWork) Pending(ctx context.Context) ([]uow.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return uow.Entries(u.Tracker.Pending()), nil
}

// Commit opens a transaction and executes every pending mutation in it.
// Generated keys are written back to the entities.
func (u *UnitOfWork) Commit(ctx context.Context) (err error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.tx != nil {
		return ErrCommitInProgress
	}

	pending := u.Tracker.Pending()
	ctx, span := tracer.Start(ctx, "UnitOfWork.Commit",
		trace.WithAttributes(
			attribute.String("uow.id", u.id),
			attribute.Int("uow.entries", len(pending)),
		),
	)
	defer span.End()

	tx, err := u.db.BeginTx(ctx, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to begin transaction")
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	for _, e := range pending {
		if err := write(ctx, tx, e); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				err = errors.Join(err, fmt.Errorf("rollback failed: %w", rbErr))
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, "write failed")
			return err
		}
	}

	u.tx = tx
	u.written = pending
	span.SetStatus(codes.Ok, "statements executed")
	return nil
}

// Executor returns the open transaction, or the database when no commit is in progress
func (u *UnitOfWork) Executor() uow.Executor {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.tx != nil {
		return u.tx
	}
	return u.db
}

// Finish commits the open transaction, or rolls it back when err is non-nil
func (u *UnitOfWork) Finish(ctx context.Context, err error) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	tx := u.tx
	if tx == nil {
		return nil
	}
	written := u.written
	u.tx = nil
	u.written = nil

	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("failed to roll back transaction: %w", rbErr)
		}
		return nil
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	u.Tracker.Accept(written)
	return nil
}

// SaveChanges commits and finishes in one step, for callers outside the trigger pipeline
func (u *UnitOfWork) SaveChanges(ctx context.Context) error {
	if err := u.Commit(ctx); err != nil {
		return err
	}
	return u.Finish(ctx, nil)
}

// Lookup fetches an entity by primary key. It reads through the open
// transaction when there is one, so rows written by this commit are visible.
func (u *UnitOfWork) Lookup(ctx context.Context, t reflect.Type, key any) (any, error) {
	et, ok := u.Schema().Lookup(t)
	if !ok {
		return nil, fmt.Errorf("type %s is not part of the schema", t)
	}
	return u.selectByKey(ctx, et, []any{key})
}

// Find loads an entity by primary key and attaches it for change tracking
func (u *UnitOfWork) Find(ctx context.Context, t reflect.Type, key ...any) (any, error) {
	et, ok := u.Schema().Lookup(t)
	if !ok {
		return nil, fmt.Errorf("type %s is not part of the schema", t)
	}
	entity, err := u.selectByKey(ctx, et, key)
	if err != nil {
		return nil, err
	}
	if err := u.Attach(entity); err != nil {
		return nil, err
	}
	return entity, nil
}

func (u *UnitOfWork) selectByKey(ctx context.Context, et *schema.EntityType, key []any) (any, error) {
	u.reads.Lock()
	defer u.reads.Unlock()
	return selectByKey(ctx, u.Executor(), et, key)
}

func write(ctx context.Context, ex uow.Executor, e *uow.TrackedEntry) error {
	et := e.Type()
	switch e.Kind() {
	case uow.Insert:
		return insert(ctx, ex, e)
	case uow.Update:
		var sets []string
		var args []any
		for _, c := range e.Changes() {
			if !c.Modified {
				continue
			}
			args = append(args, c.Current)
			sets = append(sets, fmt.Sprintf("%s = $%d", pq.QuoteIdentifier(c.Property.Column), len(args)))
		}
		if len(sets) == 0 {
			return nil
		}
		where, keyArgs := keyClause(et, e.PrimaryKey(), len(args))
		query := fmt.Sprintf("UPDATE %s SET %s WHERE %s",
			pq.QuoteIdentifier(et.Table), strings.Join(sets, ", "), where)
		return execOne(ctx, ex, query, append(args, keyArgs...), "update", et)
	case uow.Delete:
		where, keyArgs := keyClause(et, e.PrimaryKey(), 0)
		query := fmt.Sprintf("DELETE FROM %s WHERE %s", pq.QuoteIdentifier(et.Table), where)
		return execOne(ctx, ex, query, keyArgs, "delete", et)
	}
	return nil
}

func insert(ctx context.Context, ex uow.Executor, e *uow.TrackedEntry) error {
	et := e.Type()
	entity := e.Entity()

	var cols, params []string
	var args []any
	var returning []*schema.Property
	for _, p := range et.Properties {
		v := p.Value(entity)
		if p.PrimaryKey && p.Generated && isZero(v) {
			returning = append(returning, p)
			continue
		}
		args = append(args, v)
		cols = append(cols, pq.QuoteIdentifier(p.Column))
		params = append(params, fmt.Sprintf("$%d", len(args)))
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		pq.QuoteIdentifier(et.Table), strings.Join(cols, ", "), strings.Join(params, ", "))
	if len(cols) == 0 {
		query = fmt.Sprintf("INSERT INTO %s DEFAULT VALUES", pq.QuoteIdentifier(et.Table))
	}

	if len(returning) == 0 {
		if _, err := ex.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to insert %s: %w", et.Name, err)
		}
		return nil
	}

	names := make([]string, len(returning))
	dest := make([]any, len(returning))
	for i, p := range returning {
		names[i] = pq.QuoteIdentifier(p.Column)
		addr, err := p.Addr(entity)
		if err != nil {
			return err
		}
		dest[i] = addr
	}
	query += " RETURNING " + strings.Join(names, ", ")

	if err := ex.QueryRowContext(ctx, query, args...).Scan(dest...); err != nil {
		return fmt.Errorf("failed to insert %s: %w", et.Name, err)
	}
	return nil
}

func execOne(ctx context.Context, ex uow.Executor, query string, args []any, op string, et *schema.EntityType) error {
	result, err := ex.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s %s: %w", op, et.Name, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to %s %s: %w", op, et.Name, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", op, et.Name, uow.ErrNotFound)
	}
	return nil
}

func selectByKey(ctx context.Context, ex uow.Executor, et *schema.EntityType, key []any) (any, error) {
	if len(key) != len(et.Keys) {
		return nil, fmt.Errorf("%s has %d key parts, got %d", et.Name, len(et.Keys), len(key))
	}

	entity := et.New()
	cols := make([]string, len(et.Properties))
	dest := make([]any, len(et.Properties))
	for i, p := range et.Properties {
		cols[i] = pq.QuoteIdentifier(p.Column)
		addr, err := p.Addr(entity)
		if err != nil {
			return nil, err
		}
		dest[i] = addr
	}

	where, args := keyClause(et, key, 0)
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s",
		strings.Join(cols, ", "), pq.QuoteIdentifier(et.Table), where)

	err := ex.QueryRowContext(ctx, query, args...).Scan(dest...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s %v: %w", et.Name, key, uow.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", et.Name, err)
	}
	return entity, nil
}

func keyClause(et *schema.EntityType, key []any, offset int) (string, []any) {
	parts := make([]string, len(et.Keys))
	args := make([]any, len(et.Keys))
	for i, k := range et.Keys {
		parts[i] = fmt.Sprintf("%s = $%d", pq.QuoteIdentifier(k.Column), offset+i+1)
		args[i] = key[i]
	}
	return strings.Join(parts, " AND "), args
}

func isZero(v any) bool {
	if v == nil {
		return true
	}
	return reflect.ValueOf(v).IsZero()
}
