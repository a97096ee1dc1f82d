package eventlog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memcore/memcore/internal/model"
)

func TestAppendAssignsMonotonicTimestamps(t *testing.T) {
	s, err := Open("")
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	ev1, err := s.Append(ctx, model.EventIngest, "sess-1", map[string]string{"path": "a.md"})
	require.NoError(t, err)
	ev2, err := s.Append(ctx, model.EventIngest, "sess-1", map[string]string{"path": "b.md"})
	require.NoError(t, err)

	assert.Greater(t, ev2.Timestamp, ev1.Timestamp)
}

func TestSinceReturnsEventsAfterTimestamp(t *testing.T) {
	s, err := Open("")
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	ev1, err := s.Append(ctx, model.EventQuery, "sess-1", nil)
	require.NoError(t, err)
	ev2, err := s.Append(ctx, model.EventQuery, "sess-1", nil)
	require.NoError(t, err)

	events, err := s.Since(ctx, ev1.Timestamp)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, ev2.ID, events[0].ID)
}

func TestInRangeIncludesBoundaries(t *testing.T) {
	s, err := Open("")
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	ev1, err := s.Append(ctx, model.EventDemote, "sess-1", map[string]string{"chunk_id": "c1"})
	require.NoError(t, err)
	ev2, err := s.Append(ctx, model.EventArchive, "sess-1", map[string]string{"chunk_id": "c1"})
	require.NoError(t, err)

	events, err := s.InRange(ctx, ev1.Timestamp, ev2.Timestamp)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestAppendPreservesPayload(t *testing.T) {
	s, err := Open("")
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	_, err = s.Append(ctx, model.EventIngest, "sess-1", map[string]string{"path": "note.md", "chunks": "3"})
	require.NoError(t, err)

	events, err := s.Since(ctx, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "note.md", events[0].Payload["path"])
	assert.Equal(t, "3", events[0].Payload["chunks"])
}
