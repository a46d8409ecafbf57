package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"bedtime-stories/server/internal/config"
	"bedtime-stories/server/internal/interfaces"
	"bedtime-stories/server/internal/metrics"
)

const (
	providerOpenAI        = "openai"
	defaultOpenAITimeout  = 120 * time.Second
	defaultEmbeddingModel = "text-embedding-ada-002"
)

// OpenAIClient talks to an OpenAI compatible chat and embeddings API.
type OpenAIClient struct {
	client         *openai.Client
	model          string
	embeddingModel string
	temperature    float32
	tokens         *TokenCounter
	log            *zap.Logger
}

// NewOpenAIClient creates a client for cfg. embeddingModel may be empty.
func NewOpenAIClient(cfg config.OpenAIConfig, embeddingModel string, log *zap.Logger) *OpenAIClient {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultOpenAITimeout
	}
	clientCfg.HTTPClient = &http.Client{Timeout: timeout}

	if embeddingModel == "" {
		embeddingModel = defaultEmbeddingModel
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &OpenAIClient{
		client:         openai.NewClientWithConfig(clientCfg),
		model:          cfg.Model,
		embeddingModel: embeddingModel,
		temperature:    float32(cfg.Temperature),
		tokens:         NewTokenCounter(),
		log:            log,
	}
}

// WithModel returns a copy of the client that completes with model.
func (c *OpenAIClient) WithModel(model string) *OpenAIClient {
	if model == "" {
		return c
	}
	clone := *c
	clone.model = model
	return &clone
}

// Model returns the chat model name.
func (c *OpenAIClient) Model() string {
	return c.model
}

// Complete sends messages to the chat completions endpoint.
func (c *OpenAIClient) Complete(ctx context.Context, messages []interfaces.Message, maxTokens int) (*interfaces.Completion, error) {
	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    toOpenAIMessages(messages),
		MaxTokens:   maxTokens,
		Temperature: c.temperature,
	}

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, req)
	duration := time.Since(start)
	metrics.LLMDuration.WithLabelValues(providerOpenAI, "chat").Observe(duration.Seconds())

	if err == nil && len(resp.Choices) == 0 {
		err = errors.New("response has no choices")
	}
	metrics.LLMRequests.WithLabelValues(providerOpenAI, "chat", metrics.Status(err)).Inc()
	if err != nil {
		c.log.Error("Chat completion failed",
			zap.String("model", c.model),
			zap.Duration("duration", duration),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %v", interfaces.ErrGenerationUnavailable, err)
	}

	text := resp.Choices[0].Message.Content
	used := resp.Usage.TotalTokens
	if used == 0 {
		used = c.tokens.CountMessages(messages) + c.tokens.Count(text)
	}
	metrics.LLMTokens.WithLabelValues(providerOpenAI).Observe(float64(used))

	c.log.Debug("Chat completion received",
		zap.String("model", c.model),
		zap.Duration("duration", duration),
		zap.Int("tokens", used),
		zap.String("finish_reason", string(resp.Choices[0].FinishReason)))

	return &interfaces.Completion{Text: text, TokensUsed: used}, nil
}

// Embed returns the embedding of text.
func (c *OpenAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(c.embeddingModel),
	})
	metrics.LLMDuration.WithLabelValues(providerOpenAI, "embed").Observe(time.Since(start).Seconds())

	if err == nil && (len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0) {
		err = errors.New("response has no embedding")
	}
	metrics.LLMRequests.WithLabelValues(providerOpenAI, "embed", metrics.Status(err)).Inc()
	if err != nil {
		c.log.Error("Embedding request failed", zap.String("model", c.embeddingModel), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", interfaces.ErrEmbeddingUnavailable, err)
	}
	return resp.Data[0].Embedding, nil
}

func toOpenAIMessages(messages []interfaces.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		out = append(out, openai.ChatCompletionMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}
	return out
}

var (
	_ interfaces.Completer = (*OpenAIClient)(nil)
	_ interfaces.Embedder  = (*OpenAIClient)(nil)
)

// NewCompleter builds the story completer for the configured provider.
func NewCompleter(cfg config.AIConfig, log *zap.Logger) (interfaces.Completer, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", providerOpenAI:
		return NewOpenAIClient(cfg.OpenAI, cfg.Embedding.Model, log), nil
	case providerOllama:
		return NewOllamaClient(cfg.Ollama, cfg.Embedding.Model, log)
	default:
		return nil, fmt.Errorf("unknown ai provider %q", cfg.Provider)
	}
}

// NewSummarizer builds the completer used to summarize saved stories.
func NewSummarizer(cfg config.AIConfig, log *zap.Logger) (interfaces.Completer, error) {
	if strings.ToLower(cfg.Provider) == providerOllama {
		return NewOllamaClient(cfg.Ollama, cfg.Embedding.Model, log)
	}
	return NewOpenAIClient(cfg.OpenAI, cfg.Embedding.Model, log).WithModel(cfg.OpenAI.SummaryModel), nil
}

// NewEmbedder builds the embedder for the configured embedding provider.
func NewEmbedder(cfg config.AIConfig, log *zap.Logger) (interfaces.Embedder, error) {
	provider := cfg.Embedding.Provider
	if provider == "" {
		provider = cfg.Provider
	}
	switch strings.ToLower(provider) {
	case "", providerOpenAI:
		return NewOpenAIClient(cfg.OpenAI, cfg.Embedding.Model, log), nil
	case providerOllama:
		return NewOllamaClient(cfg.Ollama, cfg.Embedding.Model, log)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", provider)
	}
}
