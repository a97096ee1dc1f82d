package kv

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutGetRoundTrip(t *testing.T) {
	s, err := Open("")
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "prefs", "theme", "dark"))

	value, ok, err := s.Get(ctx, "prefs", "theme")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "dark", value)
}

func TestGetMissingKeyReturnsNotOK(t *testing.T) {
	s, err := Open("")
	require.NoError(t, err)
	defer s.Close()

	_, ok, err := s.Get(context.Background(), "prefs", "nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPutOverwritesExisting(t *testing.T) {
	s, err := Open("")
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "ns", "k", "v1"))
	require.NoError(t, s.Put(ctx, "ns", "k", "v2"))

	value, _, err := s.Get(ctx, "ns", "k")
	require.NoError(t, err)
	assert.Equal(t, "v2", value)
}

func TestDeleteRemovesKey(t *testing.T) {
	s, err := Open("")
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "ns", "k", "v"))
	require.NoError(t, s.Delete(ctx, "ns", "k"))

	_, ok, err := s.Get(ctx, "ns", "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestListKeysReturnsAllInNamespace(t *testing.T) {
	s, err := Open("")
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "ns", "a", "1"))
	require.NoError(t, s.Put(ctx, "ns", "b", "2"))
	require.NoError(t, s.Put(ctx, "other", "c", "3"))

	keys, err := s.ListKeys(ctx, "ns")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, keys)
}
