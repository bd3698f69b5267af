package audit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/platinummonkey/chronicle/pkg/uow"
)

func TestSessions_OnePerUnitOfWork(t *testing.T) {
	sessions := NewSessions()
	ctx := context.Background()

	s, err := sessions.Begin(ctx, "uow-1")
	require.NoError(t, err)
	assert.Equal(t, "uow-1", s.UnitOfWorkID())
	assert.NotEmpty(t, s.CommitID())

	_, err = sessions.Begin(ctx, "uow-1")
	assert.ErrorIs(t, err, ErrSessionActive)

	other, err := sessions.Begin(ctx, "uow-2")
	require.NoError(t, err)
	assert.Equal(t, 2, sessions.Active())

	sessions.End(s)
	sessions.End(s)
	sessions.End(nil)
	assert.Equal(t, 1, sessions.Active())

	again, err := sessions.Begin(ctx, "uow-1")
	require.NoError(t, err)
	assert.NotEqual(t, s.CommitID(), again.CommitID())

	// ending a stale session leaves the current one alone
	sessions.End(s)
	assert.Equal(t, 2, sessions.Active())
	sessions.End(other)
	sessions.End(again)
	assert.Equal(t, 0, sessions.Active())
}

func TestSessions_ContextValues(t *testing.T) {
	ctx := WithActor(context.Background(), "alice")
	ctx = WithReason(ctx, "refund #12")

	tp := sdktrace.NewTracerProvider()
	defer tp.Shutdown(context.Background())
	ctx, span := tp.Tracer("test").Start(ctx, "commit")
	defer span.End()

	s, err := NewSessions().Begin(ctx, "uow")
	require.NoError(t, err)
	assert.Equal(t, "alice", s.actor)
	assert.Equal(t, "refund #12", s.reason)
	assert.Equal(t, span.SpanContext().TraceID().String(), s.traceID)

	s2, err := NewSessions().Begin(WithTraceID(ctx, "explicit"), "uow")
	require.NoError(t, err)
	assert.Equal(t, "explicit", s2.traceID)
}

func TestStateOf(t *testing.T) {
	assert.Equal(t, StateAdded, StateOf(uow.Insert))
	assert.Equal(t, StateModified, StateOf(uow.Update))
	assert.Equal(t, StateDeleted, StateOf(uow.Delete))
}

func TestEntry_PrimaryKey(t *testing.T) {
	e := &Entry{PrimaryKeyValues: []any{int64(7), "eu"}}
	assert.Equal(t, "7|eu", e.PrimaryKey())
}
