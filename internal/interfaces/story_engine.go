package interfaces

import "context"

// Completion is the reply of the text-completion service.
type Completion struct {
	Text       string
	TokensUsed int
}

// Completer produces the next assistant message for a conversation.
// Failures wrap ErrGenerationUnavailable.
type Completer interface {
	Complete(ctx context.Context, messages []Message, maxTokens int) (*Completion, error)
}

// Embedder turns text into a fixed-length vector.
// Failures wrap ErrEmbeddingUnavailable.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// StoryResolver finds a saved story by title for a continuation request.
// A nil request with a nil error means no story matched.
type StoryResolver interface {
	Resolve(ctx context.Context, userID, title string) (*UserStoryRequest, error)
}

// StoryKeeper saves finished stories and lists or resolves them later.
type StoryKeeper interface {
	StoryResolver
	Save(ctx context.Context, req SaveStoryRequest) (*StoryRecord, error)
	ListTitles(ctx context.Context, userID string) ([]StoryListing, error)
}
