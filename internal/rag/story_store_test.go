package rag

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"bedtime-stories/server/internal/interfaces"
	"bedtime-stories/server/internal/mocks"
)

func owlStory() interfaces.SaveStoryRequest {
	return interfaces.SaveStoryRequest{
		UserID:              "u1",
		Name:                "Mira",
		Title:               "Owl Night",
		Place:               "a moonlit forest",
		StoryText:           "Mira followed the owl. They found the nest. Everyone slept.",
		IllustrationCues:    []string{"owl", "lantern"},
		Tone:                "gentle",
		Moral:               "kindness",
		TargetLengthMinutes: 5,
		TargetAge:           6,
	}
}

func newTestStore(t *testing.T) (*StoryStore, *MemoryIndex, *mocks.MockEmbedder, *mocks.MockCompleter) {
	idx := NewMemoryIndex()
	embedder := mocks.NewMockEmbedder(t)
	summarizer := mocks.NewMockCompleter(t)
	return NewStoryStore(idx, embedder, summarizer, StoreOptions{}, nil), idx, embedder, summarizer
}

func TestStoryStore_SaveListResolve(t *testing.T) {
	ctx := context.Background()
	store, idx, embedder, summarizer := newTestStore(t)

	summarizer.On("Complete", mock.Anything, mock.MatchedBy(func(msgs []interfaces.Message) bool {
		return len(msgs) == 2 &&
			msgs[0].Content == "You are a helpful assistant that summarizes bedtime stories." &&
			msgs[1].Content == "Please summarize the following bedtime story in about 150 tokens:\n\nMira followed the owl. They found the nest. Everyone slept."
	}), 150).Return(&interfaces.Completion{Text: "  Mira helped an owl.  ", TokensUsed: 30}, nil).Once()
	embedder.On("Embed", mock.Anything, "Mira helped an owl.").Return([]float32{0.1, 0.2}, nil).Once()

	record, err := store.Save(ctx, owlStory())
	require.NoError(t, err)
	assert.Equal(t, StoryID("u1", "Owl Night"), record.ID)
	assert.Equal(t, "Mira helped an owl.", record.Summary)
	assert.Equal(t, "Owl Night", record.Title)
	assert.Equal(t, 1, idx.Len())

	listings, err := store.ListTitles(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, listings, 1)
	assert.Equal(t, "Owl Night", listings[0].Title)
	assert.Equal(t, "a moonlit forest", listings[0].Metadata["place"])

	resolved, err := store.Resolve(ctx, "u1", "Owl Night")
	require.NoError(t, err)
	require.NotNil(t, resolved)
	assert.Equal(t, interfaces.UserStoryRequest{
		UserID:              "u1",
		Name:                "Mira",
		Place:               "a moonlit forest",
		Tone:                "gentle",
		Moral:               "kindness",
		TargetLengthMinutes: 5,
		TargetAge:           6,
		IsContinuation:      true,
		StoryChoice:         "Owl Night",
		Summary:             "Mira helped an owl.",
		IllustrationCues:    []string{"owl", "lantern"},
	}, *resolved)

	missing, err := store.Resolve(ctx, "u1", "Dragon Day")
	require.NoError(t, err)
	assert.Nil(t, missing)

	other, err := store.ListTitles(ctx, "u2")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestStoryStore_SaveDefaultTitleAndOverwrite(t *testing.T) {
	ctx := context.Background()
	store, idx, embedder, summarizer := newTestStore(t)

	summarizer.On("Complete", mock.Anything, mock.Anything, mock.Anything).
		Return(&interfaces.Completion{Text: "summary"}, nil).Twice()
	embedder.On("Embed", mock.Anything, "summary").Return([]float32{1}, nil).Twice()

	req := owlStory()
	req.Title = "  "
	first, err := store.Save(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "Story about Mira", first.Title)

	second, err := store.Save(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, idx.Len())
}

func TestStoryStore_SaveValidation(t *testing.T) {
	store, _, _, _ := newTestStore(t)
	req := owlStory()
	req.UserID = ""
	_, err := store.Save(context.Background(), req)
	assert.ErrorIs(t, err, interfaces.ErrValidation)
}

func TestStoryStore_SaveFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("summarizer down", func(t *testing.T) {
		store, idx, _, summarizer := newTestStore(t)
		summarizer.On("Complete", mock.Anything, mock.Anything, mock.Anything).
			Return(nil, errors.New("timeout")).Once()
		_, err := store.Save(ctx, owlStory())
		assert.ErrorIs(t, err, interfaces.ErrSummarizationUnavailable)
		assert.Equal(t, 0, idx.Len())
	})

	t.Run("embedder down", func(t *testing.T) {
		store, idx, embedder, summarizer := newTestStore(t)
		summarizer.On("Complete", mock.Anything, mock.Anything, mock.Anything).
			Return(&interfaces.Completion{Text: "summary"}, nil).Once()
		embedder.On("Embed", mock.Anything, "summary").Return(nil, errors.New("quota")).Once()
		_, err := store.Save(ctx, owlStory())
		assert.ErrorIs(t, err, interfaces.ErrEmbeddingUnavailable)
		assert.Equal(t, 0, idx.Len())
	})

	t.Run("index down", func(t *testing.T) {
		index := mocks.NewMockVectorIndex(t)
		embedder := mocks.NewMockEmbedder(t)
		summarizer := mocks.NewMockCompleter(t)
		store := NewStoryStore(index, embedder, summarizer, StoreOptions{}, nil)

		summarizer.On("Complete", mock.Anything, mock.Anything, mock.Anything).
			Return(&interfaces.Completion{Text: "summary"}, nil).Once()
		embedder.On("Embed", mock.Anything, "summary").Return([]float32{1}, nil).Once()
		index.On("Upsert", mock.Anything, StoryID("u1", "Owl Night"), []float32{1}, mock.Anything).
			Return(errors.New("connection refused")).Once()

		_, err := store.Save(ctx, owlStory())
		assert.ErrorIs(t, err, interfaces.ErrStoreUnavailable)
	})
}

func TestStoryStore_ListUsesFilterAndTopK(t *testing.T) {
	index := mocks.NewMockVectorIndex(t)
	store := NewStoryStore(index, nil, nil, StoreOptions{ListTopK: 3}, nil)

	index.On("Query", mock.Anything, interfaces.VectorQuery{
		Filter: interfaces.VectorFilter{Must: map[string]string{"user_id": "u1"}},
		TopK:   3,
	}).Return([]interfaces.VectorMatch{
		{ID: "1", Metadata: map[string]any{"story_name": "Owl Night"}},
		{ID: "2", Metadata: map[string]any{}},
	}, nil).Once()

	listings, err := store.ListTitles(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, listings, 2)
	assert.Equal(t, "Owl Night", listings[0].Title)
	assert.Equal(t, "Untitled Story", listings[1].Title)
}

func TestStoryStore_ResolvePropagatesStoreErrors(t *testing.T) {
	index := mocks.NewMockVectorIndex(t)
	store := NewStoryStore(index, nil, nil, StoreOptions{}, nil)
	index.On("Query", mock.Anything, mock.Anything).Return(nil, errors.New("unreachable")).Once()

	_, err := store.Resolve(context.Background(), "u1", "Owl Night")
	assert.ErrorIs(t, err, interfaces.ErrStoreUnavailable)
}

func TestStoryID_IsDeterministic(t *testing.T) {
	assert.Equal(t, StoryID("u1", "A"), StoryID("u1", "A"))
	assert.NotEqual(t, StoryID("u1", "A"), StoryID("u2", "A"))
	assert.NotEqual(t, StoryID("u1", "A"), StoryID("u1", "B"))
}
