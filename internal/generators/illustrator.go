package generators

import (
	"context"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"bedtime-stories/server/internal/interfaces"
	"bedtime-stories/server/internal/metrics"
	"bedtime-stories/server/internal/prompts"
)

const defaultMood = "dreamy"

// IllustrationService turns a segment's cues into a styled picture.
type IllustrationService struct {
	client     *ComfyUIClient
	cache      *ImageCache
	queue      *RenderQueue
	prompts    *prompts.TemplateEngine
	checkpoint string
	log        *zap.Logger
}

var _ interfaces.Illustrator = (*IllustrationService)(nil)

// NewIllustrationService wires the ComfyUI client, cache and render queue.
func NewIllustrationService(client *ComfyUIClient, cache *ImageCache, queue *RenderQueue, engine *prompts.TemplateEngine, checkpoint string, log *zap.Logger) *IllustrationService {
	if engine == nil {
		engine = prompts.NewDefaultEngine()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &IllustrationService{
		client:     client,
		cache:      cache,
		queue:      queue,
		prompts:    engine,
		checkpoint: checkpoint,
		log:        log,
	}
}

// Illustrate renders the request, serving repeats from the cache.
func (s *IllustrationService) Illustrate(ctx context.Context, req *interfaces.ImageRequest) (*interfaces.ImageResponse, error) {
	if len(req.Cues) == 0 && req.Character == "" {
		return nil, fmt.Errorf("%w: illustration needs cues or a character", interfaces.ErrValidation)
	}
	mood := req.Mood
	if mood == "" {
		mood = defaultMood
	}

	scene, err := s.prompts.RenderImagePrompt(prompts.TemplateIllustration, &prompts.ImagePromptContext{
		Cues:      req.Cues,
		Character: req.Character,
		Place:     req.Place,
		Mood:      mood,
	})
	if err != nil {
		return nil, err
	}
	positive, negative := ApplyStyle(req.Style, scene, req.NegativePrompt)

	seed := req.Seed
	if req.RandomSeed {
		seed = RandomSeed()
	}
	opts := &GenerateOptions{
		Prompt:         positive,
		NegativePrompt: negative,
		Width:          req.Width,
		Height:         req.Height,
		Seed:           seed,
		Checkpoint:     s.checkpoint,
	}
	ApplyDefaults(opts)

	key := ImageKey(opts)
	if path, ok := s.cache.Get(key); ok {
		metrics.AssetRenders.WithLabelValues("illustration", "cached").Inc()
		return &interfaces.ImageResponse{ImagePath: path, Prompt: positive, Seed: seed, Cached: true}, nil
	}

	var result *GenerateResult
	err = s.queue.Submit(ctx, func(ctx context.Context) error {
		var genErr error
		result, genErr = s.client.GenerateImage(ctx, opts)
		return genErr
	})
	if err != nil {
		metrics.AssetRenders.WithLabelValues("illustration", "error").Inc()
		s.log.Error("Illustration failed", zap.Strings("cues", req.Cues), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", interfaces.ErrAssetUnavailable, err)
	}

	path, err := s.cache.Put(key, result.ImageData, map[string]string{
		"prompt": positive,
		"style":  req.Style,
		"seed":   strconv.FormatInt(seed, 10),
	})
	if err != nil {
		metrics.AssetRenders.WithLabelValues("illustration", "error").Inc()
		return nil, err
	}
	metrics.AssetRenders.WithLabelValues("illustration", "success").Inc()
	s.log.Info("Illustrated segment",
		zap.Strings("cues", req.Cues),
		zap.String("style", req.Style),
		zap.Int64("seed", seed),
		zap.Duration("duration", result.Duration))
	return &interfaces.ImageResponse{ImagePath: path, Prompt: positive, Seed: seed}, nil
}
