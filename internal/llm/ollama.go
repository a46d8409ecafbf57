package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/ollama/ollama/api"
	"go.uber.org/zap"

	"bedtime-stories/server/internal/config"
	"bedtime-stories/server/internal/interfaces"
	"bedtime-stories/server/internal/metrics"
)

const (
	providerOllama       = "ollama"
	defaultOllamaURL     = "http://localhost:11434"
	defaultOllamaTimeout = 120 * time.Second
)

// OllamaClient uses a local Ollama server for chat and embeddings.
type OllamaClient struct {
	client         *api.Client
	model          string
	embeddingModel string
	timeout        time.Duration
	log            *zap.Logger
}

// NewOllamaClient creates a client for cfg. When embeddingModel is empty
// the chat model is used for embeddings too.
func NewOllamaClient(cfg config.OllamaConfig, embeddingModel string, log *zap.Logger) (*OllamaClient, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultOllamaURL
	}
	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse ollama url %q: %w", baseURL, err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultOllamaTimeout
	}
	if embeddingModel == "" {
		embeddingModel = cfg.Model
	}
	if log == nil {
		log = zap.NewNop()
	}

	log.Info("Ollama client created", zap.String("base_url", baseURL), zap.String("model", cfg.Model))
	return &OllamaClient{
		client:         api.NewClient(parsedURL, &http.Client{}),
		model:          cfg.Model,
		embeddingModel: embeddingModel,
		timeout:        timeout,
		log:            log,
	}, nil
}

// Complete runs a non-streaming chat request.
func (c *OllamaClient) Complete(ctx context.Context, messages []interfaces.Message, maxTokens int) (*interfaces.Completion, error) {
	stream := false
	req := &api.ChatRequest{
		Model:    c.model,
		Messages: toOllamaMessages(messages),
		Stream:   &stream,
		Options: map[string]interface{}{
			"num_predict": maxTokens,
		},
	}

	requestCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	var resp api.ChatResponse
	err := c.client.Chat(requestCtx, req, func(r api.ChatResponse) error {
		resp = r
		return nil
	})
	duration := time.Since(start)
	metrics.LLMDuration.WithLabelValues(providerOllama, "chat").Observe(duration.Seconds())

	if err == nil && resp.Message.Content == "" {
		err = errors.New("empty response")
	}
	metrics.LLMRequests.WithLabelValues(providerOllama, "chat", metrics.Status(err)).Inc()
	if err != nil {
		c.log.Error("Ollama chat failed",
			zap.String("model", c.model),
			zap.Duration("duration", duration),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %v", interfaces.ErrGenerationUnavailable, err)
	}

	used := resp.PromptEvalCount + resp.EvalCount
	metrics.LLMTokens.WithLabelValues(providerOllama).Observe(float64(used))
	c.log.Debug("Ollama chat received",
		zap.String("model", c.model),
		zap.Duration("duration", duration),
		zap.Int("prompt_tokens", resp.PromptEvalCount),
		zap.Int("completion_tokens", resp.EvalCount))

	return &interfaces.Completion{Text: resp.Message.Content, TokensUsed: used}, nil
}

// Embed returns the embedding of text.
func (c *OllamaClient) Embed(ctx context.Context, text string) ([]float32, error) {
	requestCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.client.Embed(requestCtx, &api.EmbedRequest{
		Model: c.embeddingModel,
		Input: text,
	})
	metrics.LLMDuration.WithLabelValues(providerOllama, "embed").Observe(time.Since(start).Seconds())

	if err == nil && (len(resp.Embeddings) == 0 || len(resp.Embeddings[0]) == 0) {
		err = errors.New("response has no embedding")
	}
	metrics.LLMRequests.WithLabelValues(providerOllama, "embed", metrics.Status(err)).Inc()
	if err != nil {
		c.log.Error("Ollama embedding failed", zap.String("model", c.embeddingModel), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", interfaces.ErrEmbeddingUnavailable, err)
	}
	return resp.Embeddings[0], nil
}

func toOllamaMessages(messages []interfaces.Message) []api.Message {
	out := make([]api.Message, 0, len(messages))
	for _, msg := range messages {
		out = append(out, api.Message{Role: string(msg.Role), Content: msg.Content})
	}
	return out
}

var (
	_ interfaces.Completer = (*OllamaClient)(nil)
	_ interfaces.Embedder  = (*OllamaClient)(nil)
)
