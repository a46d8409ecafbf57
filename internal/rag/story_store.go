package rag

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"bedtime-stories/server/internal/interfaces"
	"bedtime-stories/server/internal/metrics"
	"bedtime-stories/server/internal/prompts"
)

const (
	DefaultSummaryMaxTokens = 150
	DefaultListTopK         = 10
	untitledStory           = "Untitled Story"
)

// storyNamespace scopes the deterministic ids of saved stories.
var storyNamespace = uuid.MustParse("6f1c5a3e-2b7d-4e0a-9c41-8d2f7b3e5a10")

// StoreOptions tune the story store.
type StoreOptions struct {
	SummaryMaxTokens int
	ListTopK         int
}

// StoryStore saves summarized stories in a vector index and finds them
// again by user and title.
type StoryStore struct {
	index      interfaces.VectorIndex
	embedder   interfaces.Embedder
	summarizer interfaces.Completer
	prompts    *prompts.TemplateEngine
	opts       StoreOptions
	log        *zap.Logger
}

// NewStoryStore creates a store over index.
func NewStoryStore(index interfaces.VectorIndex, embedder interfaces.Embedder, summarizer interfaces.Completer, opts StoreOptions, log *zap.Logger) *StoryStore {
	if opts.SummaryMaxTokens <= 0 {
		opts.SummaryMaxTokens = DefaultSummaryMaxTokens
	}
	if opts.ListTopK <= 0 {
		opts.ListTopK = DefaultListTopK
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &StoryStore{
		index:      index,
		embedder:   embedder,
		summarizer: summarizer,
		prompts:    prompts.NewDefaultEngine(),
		opts:       opts,
		log:        log,
	}
}

// StoryID returns the id a story is stored under.
func StoryID(userID, title string) string {
	return uuid.NewSHA1(storyNamespace, []byte(userID+"/"+title)).String()
}

// DefaultTitle is used when a story is saved without a title.
func DefaultTitle(name string) string {
	return "Story about " + name
}

// Save summarizes the story, embeds the summary and upserts it. Saving the
// same title twice for a user replaces the earlier record.
func (s *StoryStore) Save(ctx context.Context, req interfaces.SaveStoryRequest) (*interfaces.StoryRecord, error) {
	err := validation.ValidateStruct(&req,
		validation.Field(&req.UserID, validation.Required),
		validation.Field(&req.Name, validation.Required),
		validation.Field(&req.StoryText, validation.Required),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrValidation, err)
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = DefaultTitle(req.Name)
	}

	summary, err := s.Summarize(ctx, req.StoryText)
	if err != nil {
		metrics.StoreOperations.WithLabelValues("save", metrics.Status(err)).Inc()
		return nil, err
	}

	vector, err := s.embedder.Embed(ctx, summary)
	if err != nil {
		metrics.StoreOperations.WithLabelValues("save", metrics.Status(err)).Inc()
		if !errors.Is(err, interfaces.ErrEmbeddingUnavailable) {
			err = fmt.Errorf("%w: %v", interfaces.ErrEmbeddingUnavailable, err)
		}
		return nil, err
	}

	record := &interfaces.StoryRecord{
		ID:                  StoryID(req.UserID, title),
		UserID:              req.UserID,
		Name:                req.Name,
		Place:               req.Place,
		Title:               title,
		Summary:             summary,
		Tone:                req.Tone,
		Moral:               req.Moral,
		TargetLengthMinutes: req.TargetLengthMinutes,
		TargetAge:           req.TargetAge,
		IllustrationCues:    append([]string{}, req.IllustrationCues...),
		Embedding:           vector,
	}

	err = s.index.Upsert(ctx, record.ID, vector, recordMetadata(record))
	metrics.StoreOperations.WithLabelValues("save", metrics.Status(err)).Inc()
	if err != nil {
		if !errors.Is(err, interfaces.ErrStoreUnavailable) {
			err = fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
		}
		return nil, err
	}

	s.log.Info("Story saved",
		zap.String("user_id", record.UserID),
		zap.String("title", record.Title),
		zap.String("id", record.ID))
	return record, nil
}

// Summarize asks the summarizer for a short version of text.
func (s *StoryStore) Summarize(ctx context.Context, text string) (string, error) {
	tctx := &prompts.TemplateContext{Story: text, MaxTokens: s.opts.SummaryMaxTokens}
	system, err := s.prompts.Render(prompts.TemplateSummarySystem, tctx)
	if err != nil {
		return "", err
	}
	user, err := s.prompts.Render(prompts.TemplateSummaryUser, tctx)
	if err != nil {
		return "", err
	}

	start := time.Now()
	completion, err := s.summarizer.Complete(ctx, []interfaces.Message{
		{Role: interfaces.RoleSystem, Content: system},
		{Role: interfaces.RoleUser, Content: user},
	}, s.opts.SummaryMaxTokens)
	if err != nil {
		return "", fmt.Errorf("%w: %v", interfaces.ErrSummarizationUnavailable, err)
	}

	summary := strings.TrimSpace(completion.Text)
	if summary == "" {
		return "", fmt.Errorf("%w: empty summary", interfaces.ErrSummarizationUnavailable)
	}
	s.log.Debug("Story summarized", zap.Duration("duration", time.Since(start)), zap.Int("tokens", completion.TokensUsed))
	return summary, nil
}

// ListTitles returns up to ListTopK saved stories of userID. A user with no
// stories gets an empty list.
func (s *StoryStore) ListTitles(ctx context.Context, userID string) ([]interfaces.StoryListing, error) {
	matches, err := s.index.Query(ctx, interfaces.VectorQuery{
		Filter: interfaces.VectorFilter{Must: map[string]string{"user_id": userID}},
		TopK:   s.opts.ListTopK,
	})
	metrics.StoreOperations.WithLabelValues("list", metrics.Status(err)).Inc()
	if err != nil {
		if !errors.Is(err, interfaces.ErrStoreUnavailable) {
			err = fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
		}
		return nil, err
	}

	listings := make([]interfaces.StoryListing, 0, len(matches))
	for _, match := range matches {
		title := stringValue(match.Metadata["story_name"])
		if title == "" {
			title = untitledStory
		}
		listings = append(listings, interfaces.StoryListing{Title: title, Metadata: match.Metadata})
	}
	return listings, nil
}

// Resolve finds the saved story titled title and turns it into a
// continuation request. It returns nil, nil when no story matches.
func (s *StoryStore) Resolve(ctx context.Context, userID, title string) (*interfaces.UserStoryRequest, error) {
	listings, err := s.ListTitles(ctx, userID)
	if err != nil {
		return nil, err
	}

	for _, listing := range listings {
		if listing.Title != title {
			continue
		}
		meta := listing.Metadata
		return &interfaces.UserStoryRequest{
			UserID:              userID,
			Name:                stringValue(meta["name"]),
			Place:               stringValue(meta["place"]),
			Tone:                stringValue(meta["tone"]),
			Moral:               stringValue(meta["moral"]),
			TargetLengthMinutes: floatValue(meta["length"]),
			TargetAge:           int(floatValue(meta["age"])),
			IsContinuation:      true,
			StoryChoice:         title,
			Summary:             stringValue(meta["summary"]),
			IllustrationCues:    stringList(meta["image_descriptions"]),
		}, nil
	}

	s.log.Info("No saved story with title", zap.String("user_id", userID), zap.String("title", title))
	return nil, nil
}

func recordMetadata(r *interfaces.StoryRecord) map[string]any {
	cues := make([]any, 0, len(r.IllustrationCues))
	for _, cue := range r.IllustrationCues {
		cues = append(cues, cue)
	}
	return map[string]any{
		"user_id":            r.UserID,
		"name":               r.Name,
		"story_name":         r.Title,
		"place":              r.Place,
		"summary":            r.Summary,
		"image_descriptions": cues,
		"tone":               r.Tone,
		"moral":              r.Moral,
		"length":             r.TargetLengthMinutes,
		"age":                r.TargetAge,
	}
}

func stringValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	default:
		return fmt.Sprint(val)
	}
}

func floatValue(v any) float64 {
	switch val := v.(type) {
	case float64:
		return val
	case float32:
		return float64(val)
	case int:
		return float64(val)
	case int64:
		return float64(val)
	case string:
		f, _ := strconv.ParseFloat(val, 64)
		return f
	default:
		return 0
	}
}

func stringList(v any) []string {
	switch val := v.(type) {
	case []string:
		return append([]string{}, val...)
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s := stringValue(item); s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

var _ interfaces.StoryKeeper = (*StoryStore)(nil)
