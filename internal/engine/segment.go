package engine

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"bedtime-stories/server/internal/interfaces"
	"bedtime-stories/server/internal/metrics"
	"bedtime-stories/server/internal/prompts"
)

// DefaultSegmentMaxTokens bounds the length of one generated segment.
const DefaultSegmentMaxTokens = 300

// Mode identifies which instruction produced a segment.
type Mode string

const (
	ModeOpening      Mode = "opening"
	ModeContinuation Mode = "continuation"
	ModeFinal        Mode = "final"
)

// Segment is one generated chunk of narrative.
type Segment struct {
	Text             string   `json:"text"`
	IllustrationCues []string `json:"illustration_cues"`
	Choices          []string `json:"choices"`
	Final            bool     `json:"final"`
}

// GenerateRequest is the input of SegmentGenerator.Generate.
type GenerateRequest struct {
	Context      []interfaces.Message
	Name         string
	CuePool      []string
	MaxTokens    int
	Final        bool
	Continuation bool
}

// GenerateResult carries a segment and the conversation that produced it.
// Context is a new slice; the request context is never modified.
type GenerateResult struct {
	Segment       Segment
	Raw           string
	Mode          Mode
	TokensUsed    int
	Consumed      []string
	RemainingCues []string
	Context       []interfaces.Message
	Malformed     bool
}

// SegmentGenerator turns the running conversation into the next segment.
type SegmentGenerator struct {
	completer interfaces.Completer
	prompts   *prompts.TemplateEngine
	log       *zap.Logger
}

// NewSegmentGenerator creates a generator backed by completer.
func NewSegmentGenerator(completer interfaces.Completer, engine *prompts.TemplateEngine, log *zap.Logger) *SegmentGenerator {
	if engine == nil {
		engine = prompts.NewDefaultEngine()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &SegmentGenerator{completer: completer, prompts: engine, log: log}
}

// Generate produces one segment. Up to two cues are taken from the head of
// the pool and announced to the model. Failures of the completion service
// wrap ErrGenerationUnavailable and are not retried.
func (g *SegmentGenerator) Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultSegmentMaxTokens
	}

	consumed, remaining := splitCues(req.CuePool)
	mode := selectMode(req)

	instruction, err := g.instruction(mode, req.Name, consumed)
	if err != nil {
		return nil, err
	}

	convo := make([]interfaces.Message, 0, len(req.Context)+1)
	convo = append(convo, req.Context...)
	convo = append(convo, interfaces.Message{Role: interfaces.RoleSystem, Content: instruction})

	completion, err := g.completer.Complete(ctx, convo, maxTokens)
	if err != nil {
		if errors.Is(err, interfaces.ErrGenerationUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", interfaces.ErrGenerationUnavailable, err)
	}

	raw := WrapSegment(completion.Text)
	result := &GenerateResult{
		Raw:           raw,
		Mode:          mode,
		TokensUsed:    completion.TokensUsed,
		Consumed:      consumed,
		RemainingCues: remaining,
		Context:       convo,
		Segment: Segment{
			Text:             StripDecisionPoint(raw),
			IllustrationCues: consumed,
			Choices:          []string{},
			Final:            req.Final,
		},
	}

	if !req.Final {
		choices, parseErr := ParseDecisionPoint(raw)
		switch {
		case parseErr != nil:
			result.Malformed = true
			g.log.Warn("Segment decision point could not be parsed",
				zap.String("name", req.Name),
				zap.Error(parseErr))
		case len(choices) == 0:
			result.Malformed = true
			g.log.Warn("Segment ended without a decision point",
				zap.String("name", req.Name))
		default:
			result.Segment.Choices = choices
		}
		if result.Malformed {
			metrics.MalformedSegments.Inc()
		}
	}

	metrics.SegmentsGenerated.WithLabelValues(string(mode)).Inc()
	g.log.Debug("Segment generated",
		zap.String("mode", string(mode)),
		zap.Int("tokens", completion.TokensUsed),
		zap.Strings("cues", consumed),
		zap.Int("choices", len(result.Segment.Choices)))

	return result, nil
}

func (g *SegmentGenerator) instruction(mode Mode, name string, cues []string) (string, error) {
	tmpl := prompts.TemplateSegmentContinuation
	switch mode {
	case ModeOpening:
		tmpl = prompts.TemplateSegmentOpening
	case ModeFinal:
		tmpl = prompts.TemplateSegmentFinal
	}
	return g.prompts.Render(tmpl, &prompts.TemplateContext{Name: name, Cues: cues})
}

func selectMode(req GenerateRequest) Mode {
	switch {
	case req.Final:
		return ModeFinal
	case req.Continuation:
		return ModeContinuation
	default:
		return ModeOpening
	}
}

// splitCues returns the first two cues and the rest of the pool as fresh slices.
func splitCues(pool []string) (consumed, remaining []string) {
	n := len(pool)
	if n > 2 {
		n = 2
	}
	consumed = append([]string{}, pool[:n]...)
	remaining = append([]string{}, pool[n:]...)
	return consumed, remaining
}
