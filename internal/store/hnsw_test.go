package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHNSW(t *testing.T, dims int) *HNSWStore {
	t.Helper()
	s, err := NewHNSWStore(DefaultVectorStoreConfig(dims))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestHNSWStore_AddAndSearch(t *testing.T) {
	ctx := context.Background()
	s := newTestHNSW(t, 3)

	require.NoError(t, s.Add(ctx, []string{"a", "b"}, [][]float32{
		{1, 0, 0},
		{0, 1, 0},
	}))

	results, err := s.Search(ctx, []float32{1, 0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].ID)
	assert.Greater(t, results[0].Score, float32(0.9))
}

func TestHNSWStore_Add_DimensionMismatch(t *testing.T) {
	ctx := context.Background()
	s := newTestHNSW(t, 3)

	err := s.Add(ctx, []string{"a"}, [][]float32{{1, 0}})
	require.Error(t, err)
	var dimErr ErrDimensionMismatch
	require.ErrorAs(t, err, &dimErr)
	assert.Equal(t, 3, dimErr.Expected)
	assert.Equal(t, 2, dimErr.Got)
}

func TestHNSWStore_Search_DimensionMismatch(t *testing.T) {
	ctx := context.Background()
	s := newTestHNSW(t, 3)

	_, err := s.Search(ctx, []float32{1, 0}, 1)
	require.Error(t, err)
}

func TestHNSWStore_Delete_RemovesFromResults(t *testing.T) {
	ctx := context.Background()
	s := newTestHNSW(t, 2)

	require.NoError(t, s.Add(ctx, []string{"a", "b"}, [][]float32{{1, 0}, {0, 1}}))
	require.NoError(t, s.Delete(ctx, []string{"a"}))

	assert.False(t, s.Contains("a"))
	assert.True(t, s.Contains("b"))
	assert.Equal(t, 1, s.Count())
}

func TestHNSWStore_Add_ReplacesExistingID(t *testing.T) {
	ctx := context.Background()
	s := newTestHNSW(t, 2)

	require.NoError(t, s.Add(ctx, []string{"a"}, [][]float32{{1, 0}}))
	require.NoError(t, s.Add(ctx, []string{"a"}, [][]float32{{0, 1}}))

	assert.Equal(t, 1, s.Count())
	results, err := s.Search(ctx, []float32{0, 1}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].ID)
}

func TestHNSWStore_SaveAndLoad_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestHNSW(t, 2)
	require.NoError(t, s.Add(ctx, []string{"a", "b"}, [][]float32{{1, 0}, {0, 1}}))

	dir := t.TempDir()
	indexPath := filepath.Join(dir, "vectors.hnsw")
	require.NoError(t, s.Save(indexPath))

	loaded := newTestHNSW(t, 2)
	require.NoError(t, loaded.Load(indexPath))
	assert.True(t, loaded.Contains("a"))
	assert.True(t, loaded.Contains("b"))

	dims, err := ReadHNSWStoreDimensions(indexPath)
	require.NoError(t, err)
	assert.Equal(t, 2, dims)
}

func TestReadHNSWStoreDimensions_MissingFile_ReturnsZero(t *testing.T) {
	dims, err := ReadHNSWStoreDimensions(filepath.Join(t.TempDir(), "absent.hnsw"))
	require.NoError(t, err)
	assert.Equal(t, 0, dims)
}

func TestHNSWStore_ClosedStore_RejectsOperations(t *testing.T) {
	ctx := context.Background()
	s, err := NewHNSWStore(DefaultVectorStoreConfig(2))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	assert.Error(t, s.Add(ctx, []string{"a"}, [][]float32{{1, 0}}))
	_, searchErr := s.Search(ctx, []float32{1, 0}, 1)
	assert.Error(t, searchErr)
	assert.False(t, s.Contains("a"))
	assert.Equal(t, 0, s.Count())
}
