package generators

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"bedtime-stories/server/internal/engine"
	"bedtime-stories/server/internal/interfaces"
	"bedtime-stories/server/internal/metrics"
)

// NarrationService reads segment text aloud with a reference voice and keeps
// the audio on disk.
type NarrationService struct {
	client *SoVITSClient
	voices *VoiceLibrary
	cache  *AudioCache
	log    *zap.Logger
}

var _ interfaces.Narrator = (*NarrationService)(nil)

// NewNarrationService wires the TTS client, voice directory and cache.
func NewNarrationService(client *SoVITSClient, voices *VoiceLibrary, cache *AudioCache, log *zap.Logger) *NarrationService {
	if log == nil {
		log = zap.NewNop()
	}
	return &NarrationService{client: client, voices: voices, cache: cache, log: log}
}

// Voices lists the available reference voices.
func (s *NarrationService) Voices(ctx context.Context) ([]string, error) {
	return s.voices.List()
}

// Narrate synthesizes the cleaned text, serving repeats from the cache.
func (s *NarrationService) Narrate(ctx context.Context, req *interfaces.AudioRequest) (*interfaces.AudioResponse, error) {
	text := engine.CleanText(req.Text)
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: empty narration text", interfaces.ErrValidation)
	}
	refPath, err := s.voices.Path(req.Voice)
	if err != nil {
		return nil, err
	}
	speed := req.Speed
	if speed <= 0 {
		speed = 1.0
	}

	key := AudioKey(text, req.Voice, speed)
	if path, ok := s.cache.Get(key); ok {
		metrics.AssetRenders.WithLabelValues("narration", "cached").Inc()
		return &interfaces.AudioResponse{AudioPath: path, Cached: true}, nil
	}

	audio, err := s.client.Synthesize(ctx, text, refPath, speed)
	if err != nil {
		metrics.AssetRenders.WithLabelValues("narration", "error").Inc()
		s.log.Error("Narration failed", zap.String("voice", req.Voice), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", interfaces.ErrAssetUnavailable, err)
	}

	path, err := s.cache.Put(key, audio, map[string]string{"voice": req.Voice})
	if err != nil {
		metrics.AssetRenders.WithLabelValues("narration", "error").Inc()
		return nil, err
	}
	metrics.AssetRenders.WithLabelValues("narration", "success").Inc()
	s.log.Info("Narrated segment",
		zap.String("voice", req.Voice),
		zap.Int("chars", len(text)),
		zap.Int("bytes", len(audio)))
	return &interfaces.AudioResponse{AudioPath: path}, nil
}
