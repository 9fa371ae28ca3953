package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/svcdeck/internal/history"
)

func TestSQLiteSink_FileRoundTrip(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "history.db")
	sink, err := New("sqlite://" + dbPath)
	require.NoError(t, err)
	defer func() { assert.NoError(t, sink.Close()) }()

	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, sink.Send(ctx, history.Event{Type: history.EventStart, OccurredAt: now, Service: "api", Kind: "backend", Success: true}))
	require.NoError(t, sink.Send(ctx, history.Event{Type: history.EventStop, OccurredAt: now, Service: "api", Kind: "backend", Success: true, Count: 2}))
	require.NoError(t, sink.Send(ctx, history.Event{Type: history.EventError, OccurredAt: now, Service: "web", Kind: "frontend", Message: "exit status 1"}))

	n, err := sink.Count(ctx, "api")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = sink.Count(ctx, "web")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSQLiteSink_InMemory(t *testing.T) {
	sink, err := New(":memory:")
	require.NoError(t, err)
	defer func() { _ = sink.Close() }()

	ctx := context.Background()
	require.NoError(t, sink.Send(ctx, history.Event{Type: history.EventAdd, OccurredAt: time.Now(), Service: "mem"}))
	n, err := sink.Count(ctx, "mem")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSQLiteSink_EmptyDSN(t *testing.T) {
	_, err := New("  ")
	assert.Error(t, err)
}

func TestSQLiteSink_ContextCancellation(t *testing.T) {
	sink, err := New(":memory:")
	require.NoError(t, err)
	defer func() { _ = sink.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = sink.Send(ctx, history.Event{Type: history.EventStart, OccurredAt: time.Now(), Service: "x"})
	if err != nil {
		t.Logf("send with cancelled context: %v", err)
	}
}
