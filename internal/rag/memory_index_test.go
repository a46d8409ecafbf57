package rag

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bedtime-stories/server/internal/interfaces"
)

func TestMemoryIndex_FilterOnly(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()

	require.NoError(t, idx.Upsert(ctx, "a", []float32{1, 0}, map[string]any{"user_id": "u1", "story_name": "A"}))
	require.NoError(t, idx.Upsert(ctx, "b", []float32{0, 1}, map[string]any{"user_id": "u2", "story_name": "B"}))
	require.NoError(t, idx.Upsert(ctx, "c", []float32{1, 1}, map[string]any{"user_id": "u1", "story_name": "C"}))

	matches, err := idx.Query(ctx, interfaces.VectorQuery{
		Filter: interfaces.VectorFilter{Must: map[string]string{"user_id": "u1"}},
		TopK:   10,
	})
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "a", matches[0].ID)
	assert.Equal(t, "c", matches[1].ID)

	matches, err = idx.Query(ctx, interfaces.VectorQuery{
		Filter: interfaces.VectorFilter{Must: map[string]string{"user_id": "nobody"}},
	})
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestMemoryIndex_UpsertReplaces(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()

	require.NoError(t, idx.Upsert(ctx, "a", []float32{1}, map[string]any{"summary": "old"}))
	require.NoError(t, idx.Upsert(ctx, "a", []float32{1}, map[string]any{"summary": "new"}))
	assert.Equal(t, 1, idx.Len())

	matches, err := idx.Query(ctx, interfaces.VectorQuery{})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "new", matches[0].Metadata["summary"])

	assert.ErrorIs(t, idx.Upsert(ctx, "", nil, nil), interfaces.ErrStoreUnavailable)
}

func TestMemoryIndex_RanksBySimilarity(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()

	require.NoError(t, idx.Upsert(ctx, "far", []float32{0, 1}, nil))
	require.NoError(t, idx.Upsert(ctx, "near", []float32{1, 0.1}, nil))
	require.NoError(t, idx.Upsert(ctx, "odd", []float32{1, 2, 3}, nil))

	matches, err := idx.Query(ctx, interfaces.VectorQuery{Vector: []float32{1, 0}, TopK: 1})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "near", matches[0].ID)
	assert.Greater(t, matches[0].Score, 0.9)
}

func TestMemoryIndex_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()
	meta := map[string]any{"user_id": "u1"}
	require.NoError(t, idx.Upsert(ctx, "a", []float32{1}, meta))
	meta["user_id"] = "changed"

	matches, err := idx.Query(ctx, interfaces.VectorQuery{})
	require.NoError(t, err)
	matches[0].Metadata["user_id"] = "mutated"

	again, err := idx.Query(ctx, interfaces.VectorQuery{})
	require.NoError(t, err)
	assert.Equal(t, "u1", again[0].Metadata["user_id"])
}
