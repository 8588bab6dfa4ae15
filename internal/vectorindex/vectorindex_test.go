package vectorindex

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_InvalidDimension(t *testing.T) {
	_, err := New(0)
	assert.Error(t, err)
	_, err = New(-3)
	assert.Error(t, err)
}

func TestAdd_DimensionMismatch(t *testing.T) {
	ix, err := New(3)
	require.NoError(t, err)
	assert.Error(t, ix.Add("a", []float32{1, 2}))
}

func TestSearch_OrderAndThreshold(t *testing.T) {
	ix, err := New(2)
	require.NoError(t, err)

	require.NoError(t, ix.Add("east", []float32{1, 0}))
	require.NoError(t, ix.Add("north", []float32{0, 1}))
	require.NoError(t, ix.Add("northeast", []float32{1, 1}))

	matches, err := ix.Search([]float32{1, 0}, 10, 0.5)
	require.NoError(t, err)
	require.Len(t, matches, 2)

	assert.Equal(t, "east", matches[0].ID)
	assert.InDelta(t, 1.0, float64(matches[0].Score), 1e-5)
	assert.Equal(t, "northeast", matches[1].ID)
	assert.InDelta(t, 0.7071, float64(matches[1].Score), 1e-3)
}

func TestSearch_TopKAndTiebreak(t *testing.T) {
	ix, err := New(2)
	require.NoError(t, err)

	// Identical vectors score identically; slot order breaks the tie
	require.NoError(t, ix.Add("first", []float32{2, 0}))
	require.NoError(t, ix.Add("second", []float32{1, 0}))
	require.NoError(t, ix.Add("third", []float32{3, 0}))

	matches, err := ix.Search([]float32{1, 0}, 2, 0)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, 0, matches[0].Slot)
	assert.Equal(t, 1, matches[1].Slot)
}

func TestSearch_EmptyIndex(t *testing.T) {
	ix, err := New(4)
	require.NoError(t, err)
	matches, err := ix.Search([]float32{1, 0, 0, 0}, 5, 0)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestIDFor(t *testing.T) {
	ix, err := New(2)
	require.NoError(t, err)
	require.NoError(t, ix.Add("chunk-1", []float32{1, 0}))

	id, ok := ix.IDFor(0)
	assert.True(t, ok)
	assert.Equal(t, "chunk-1", id)

	_, ok = ix.IDFor(1)
	assert.False(t, ok)
	_, ok = ix.IDFor(-1)
	assert.False(t, ok)
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	ix, err := New(3)
	require.NoError(t, err)
	require.NoError(t, ix.Add("a", []float32{1, 0, 0}))
	require.NoError(t, ix.Add("b", []float32{0, 1, 0}))
	require.NoError(t, ix.Add("c", []float32{0, 0.6, 0.8}))

	require.NoError(t, store.Save("repo-1", ix))

	loaded, ok, err := store.Load("repo-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 3, loaded.Len())
	assert.Equal(t, 3, loaded.Dimension())

	matches, err := loaded.Search([]float32{0, 1, 0}, 1, 0)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "b", matches[0].ID)
}

func TestStore_SaveReplacesGeneration(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	first, err := New(2)
	require.NoError(t, err)
	require.NoError(t, first.Add("old", []float32{1, 0}))
	require.NoError(t, store.Save("repo-1", first))

	second, err := New(2)
	require.NoError(t, err)
	require.NoError(t, second.Add("new-a", []float32{1, 0}))
	require.NoError(t, second.Add("new-b", []float32{0, 1}))
	require.NoError(t, store.Save("repo-1", second))

	loaded, ok, err := store.Load("repo-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, loaded.Len())
	_, found := loaded.IDFor(0)
	assert.True(t, found)
}

func TestStore_LoadMissing(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	_, ok, err := store.Load("no-such-repo")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_DeleteIdempotent(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	ix, err := New(2)
	require.NoError(t, err)
	require.NoError(t, ix.Add("a", []float32{1, 0}))
	require.NoError(t, store.Save("repo-1", ix))

	require.NoError(t, store.Delete("repo-1"))
	_, ok, err := store.Load("repo-1")
	require.NoError(t, err)
	assert.False(t, ok)

	// Second delete is a no-op
	require.NoError(t, store.Delete("repo-1"))
}
