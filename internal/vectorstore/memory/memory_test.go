package memory

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"searchchat-backend/internal/embedding"
	"searchchat-backend/internal/vectorstore"
)

func TestSearch_ReturnsBestFirst(t *testing.T) {
	s := New()
	s.Add("a", "alpha", nil, []float32{1, 0})
	s.Add("b", "beta", nil, []float32{0.7, 0.7})
	s.Add("c", "gamma", nil, []float32{0, 1})
	s.Add("d", "delta", nil, []float32{-1, 0})

	hits, err := s.Search(context.Background(), []float32{1, 0.1}, 3)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{hits[0].ID, hits[1].ID, hits[2].ID})
	assert.Greater(t, hits[0].Score, hits[1].Score)
	assert.Greater(t, hits[1].Score, hits[2].Score)
}

func TestSearch_EdgeCases(t *testing.T) {
	s := New()
	s.Add("a", "alpha", nil, []float32{1, 0})

	_, err := s.Search(context.Background(), nil, 3)
	assert.ErrorIs(t, err, vectorstore.ErrEmptyVector)

	hits, err := s.Search(context.Background(), []float32{1, 0}, 0)
	require.NoError(t, err)
	assert.Empty(t, hits)

	_, err = s.Search(context.Background(), []float32{1, 0, 0}, 1)
	assert.Error(t, err)

	s.Add("a", "alpha v2", nil, []float32{0, 1})
	assert.Equal(t, 1, s.Len(), "Add replaces by id")
}

func TestLoadSeedAndIndex(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
passages:
  - id: refunds-1
    text: Refunds are issued within 14 days of purchase for domestic orders.
    metadata:
      DOC_TITLE: Refund Policy
  - id: shipping-1
    text: International orders ship within 5 business days.
`), 0o600))

	seeds, err := LoadSeed(path)
	require.NoError(t, err)
	require.Len(t, seeds, 2)
	assert.Equal(t, "Refund Policy", seeds[0].Metadata["DOC_TITLE"])

	s := New()
	e := embedding.NewHashing(128)
	require.NoError(t, s.Index(context.Background(), e, seeds))

	q, err := embedding.EmbedOne(context.Background(), e, "refunds domestic orders")
	require.NoError(t, err)
	hits, err := s.Search(context.Background(), q, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "refunds-1", hits[0].ID)
}

func TestLoadSeed_RejectsIncompleteEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte("passages:\n  - id: x\n"), 0o600))
	_, err := LoadSeed(path)
	assert.Error(t, err)
}
