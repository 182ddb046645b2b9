package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scriptorium/scriptorium/internal/filter"
)

func newTestVector(t *testing.T) *HNSWVectorBackend {
	t.Helper()
	backend, err := NewHNSWVectorBackend(DefaultVectorConfig(4))
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })
	return backend
}

func addTestVectors(t *testing.T, backend *HNSWVectorBackend) {
	t.Helper()
	passages := []*Passage{
		{ID: "a", Tradition: "judaism", Collection: "Tanakh", Language: "en",
			Date: time.Date(1000, 1, 1, 0, 0, 0, 0, time.UTC)},
		{ID: "b", Tradition: "buddhism", Collection: "Pali Canon", Language: "en",
			Date: time.Date(1855, 1, 1, 0, 0, 0, 0, time.UTC)},
		{ID: "c", Tradition: "buddhism", Collection: "Modern Commentary", Language: "de",
			Date: time.Date(1998, 1, 1, 0, 0, 0, 0, time.UTC)},
	}
	vectors := [][]float32{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0, 0.9, 0.1, 0},
	}
	require.NoError(t, backend.Add(context.Background(), passages, vectors))
}

func TestHNSWVector_QueryReturnsNearest(t *testing.T) {
	backend := newTestVector(t)
	addTestVectors(t, backend)

	candidates, err := backend.Query(context.Background(), []float32{0, 1, 0, 0}, nil, 2)
	require.NoError(t, err)
	require.Len(t, candidates, 2)

	assert.Equal(t, "b", candidates[0].PassageID)
	assert.Equal(t, SourceVector, candidates[0].Source)
	assert.InDelta(t, 1.0, candidates[0].Score, 1e-5)
	assert.Equal(t, "c", candidates[1].PassageID)
	assert.Greater(t, candidates[0].Score, candidates[1].Score)
}

func TestHNSWVector_PredicatePostFilters(t *testing.T) {
	backend := newTestVector(t)
	addTestVectors(t, backend)

	pred := &filter.VectorPredicate{Tradition: "buddhism", Language: "en"}
	candidates, err := backend.Query(context.Background(), []float32{0, 1, 0, 0}, pred, 10)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "b", candidates[0].PassageID)
}

func TestHNSWVector_DimensionMismatch(t *testing.T) {
	backend := newTestVector(t)
	addTestVectors(t, backend)

	_, err := backend.Query(context.Background(), []float32{1, 0}, nil, 5)
	require.Error(t, err)
	assert.ErrorAs(t, err, &ErrDimensionMismatch{})
}

func TestHNSWVector_EmptyGraph(t *testing.T) {
	backend := newTestVector(t)

	candidates, err := backend.Query(context.Background(), []float32{1, 0, 0, 0}, nil, 5)
	require.NoError(t, err)
	assert.Empty(t, candidates)
}

func TestHNSWVector_DeleteIsLazy(t *testing.T) {
	backend := newTestVector(t)
	addTestVectors(t, backend)

	require.NoError(t, backend.Delete(context.Background(), []string{"b"}))
	assert.Equal(t, 2, backend.Count())

	candidates, err := backend.Query(context.Background(), []float32{0, 1, 0, 0}, nil, 3)
	require.NoError(t, err)
	for _, c := range candidates {
		assert.NotEqual(t, "b", c.PassageID)
	}
}

func TestHNSWVector_ReAddReplacesVector(t *testing.T) {
	backend := newTestVector(t)
	addTestVectors(t, backend)

	require.NoError(t, backend.Add(context.Background(),
		[]*Passage{{ID: "a", Tradition: "judaism", Collection: "Tanakh", Language: "he"}},
		[][]float32{{0, 0, 0, 1}}))
	assert.Equal(t, 3, backend.Count())

	candidates, err := backend.Query(context.Background(), []float32{0, 0, 0, 1}, nil, 1)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "a", candidates[0].PassageID)
}

func TestHNSWVector_SaveLoadRoundTrip(t *testing.T) {
	backend := newTestVector(t)
	addTestVectors(t, backend)

	path := filepath.Join(t.TempDir(), "vectors.hnsw")
	require.NoError(t, backend.Save(path))

	restored, err := NewHNSWVectorBackend(DefaultVectorConfig(4))
	require.NoError(t, err)
	defer restored.Close()
	require.NoError(t, restored.Load(path))

	assert.Equal(t, 3, restored.Count())

	candidates, err := restored.Query(context.Background(), []float32{1, 0, 0, 0}, nil, 1)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "a", candidates[0].PassageID)

	// Attributes survive persistence for predicate evaluation.
	pred := &filter.VectorPredicate{Tradition: "judaism"}
	filtered, err := restored.Query(context.Background(), []float32{1, 0, 0, 0}, pred, 3)
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, "a", filtered[0].PassageID)
}

func TestHNSWVector_InvalidDimensionsRejected(t *testing.T) {
	_, err := NewHNSWVectorBackend(VectorConfig{Dimensions: 0})
	assert.Error(t, err)
}
