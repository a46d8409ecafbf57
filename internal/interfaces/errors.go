package interfaces

import "errors"

// Error kinds surfaced by the story core. Callers match them with errors.Is;
// collaborators wrap the underlying cause with %w.
var (
	ErrValidation               = errors.New("invalid story request")
	ErrGenerationUnavailable    = errors.New("text generation unavailable")
	ErrEmbeddingUnavailable     = errors.New("embedding unavailable")
	ErrStoreUnavailable         = errors.New("story store unavailable")
	ErrSummarizationUnavailable = errors.New("summarization unavailable")
	ErrMalformedSegment         = errors.New("malformed decision point")
)

// ErrAssetUnavailable is returned when narration or illustration fails.
var ErrAssetUnavailable = errors.New("asset generation unavailable")
