package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"bedtime-stories/server/internal/interfaces"
	"bedtime-stories/server/internal/prompts"
)

// State is the position of a session in its lifecycle.
type State string

const (
	StateStarting       State = "starting"
	StateGenerating     State = "generating"
	StateAwaitingChoice State = "awaiting_choice"
	StateConcluding     State = "concluding"
	StateComplete       State = "complete"
	StateAborted        State = "aborted"
)

// Terminal reports whether no further segments can be produced.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateAborted
}

// ExitSignal ends a story early when sent instead of a choice.
const ExitSignal = "exit story"

const (
	DefaultMaxTurns      = 50
	DefaultConcludeRatio = 0.8
)

// ErrSessionClosed is returned when advancing a complete or aborted session.
var ErrSessionClosed = errors.New("story session is closed")

// StoryState is the observable progress of a session.
type StoryState struct {
	Segments          []Segment `json:"segments"`
	CumulativeMinutes float64   `json:"cumulative_minutes"`
	Concluding        bool      `json:"concluding"`
	Complete          bool      `json:"complete"`
	Aborted           bool      `json:"aborted"`
	TotalTokens       int       `json:"total_tokens"`
}

func (s StoryState) clone() StoryState {
	out := s
	out.Segments = make([]Segment, len(s.Segments))
	copy(out.Segments, s.Segments)
	return out
}

// Settings tune the story loop.
type Settings struct {
	SegmentMaxTokens int
	MaxTurns         int
	ConcludeRatio    float64
}

func (s Settings) withDefaults() Settings {
	if s.SegmentMaxTokens <= 0 {
		s.SegmentMaxTokens = DefaultSegmentMaxTokens
	}
	if s.MaxTurns <= 0 {
		s.MaxTurns = DefaultMaxTurns
	}
	if s.ConcludeRatio <= 0 || s.ConcludeRatio > 1 {
		s.ConcludeRatio = DefaultConcludeRatio
	}
	return s
}

// Dependencies are the collaborators a session drives.
type Dependencies struct {
	Generator *SegmentGenerator
	Resolver  interfaces.StoryResolver
	Prompts   *prompts.TemplateEngine
	Estimator Estimator
	Settings  Settings
	Logger    *zap.Logger
}

// Start kinds reported in snapshots and metrics.
const (
	KindFresh        = "fresh"
	KindContinuation = "continuation"
	KindFallback     = "fallback"
)

// Session is one interactive story. Advance calls are serialized; readers
// only wait for mu, which is never held during generation.
type Session struct {
	advancing sync.Mutex
	mu        sync.Mutex

	id        string
	kind      string
	request   interfaces.UserStoryRequest
	state     State
	story     StoryState
	context   []interfaces.Message
	cues      []string
	lastRaw   string
	decisions []string
	turns     int
	createdAt time.Time
	updatedAt time.Time

	generator *SegmentGenerator
	estimator Estimator
	prompts   *prompts.TemplateEngine
	settings  Settings
	log       *zap.Logger
}

// NewSession validates req, resolves a continuation through deps.Resolver
// and prepares the opening conversation. No segment is generated yet; the
// first Advance produces the opening.
func NewSession(ctx context.Context, id string, req interfaces.UserStoryRequest, deps Dependencies) (*Session, error) {
	s := newSession(id, deps)
	s.state = StateStarting

	kind := KindFresh
	if req.IsContinuation {
		if err := req.ValidateContinuationKey(); err != nil {
			return nil, err
		}
		var resolved *interfaces.UserStoryRequest
		if deps.Resolver != nil {
			var err error
			resolved, err = deps.Resolver.Resolve(ctx, req.UserID, req.StoryChoice)
			if err != nil {
				return nil, err
			}
		}
		if resolved == nil {
			s.log.Info("Saved story not found, starting a fresh one",
				zap.String("user_id", req.UserID),
				zap.String("title", req.StoryChoice))
			req.IsContinuation = false
			kind = KindFallback
		} else {
			req = resolved.Merge(req)
			req.IsContinuation = true
			kind = KindContinuation
		}
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	convo, err := s.openingContext(req)
	if err != nil {
		return nil, err
	}

	s.kind = kind
	s.request = req
	s.context = convo
	s.cues = append([]string{}, req.IllustrationCues...)
	s.state = StateGenerating

	s.log.Info("Story session started",
		zap.String("session_id", id),
		zap.String("kind", kind),
		zap.String("name", req.Name),
		zap.Float64("target_minutes", req.TargetLengthMinutes))
	return s, nil
}

func newSession(id string, deps Dependencies) *Session {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	engine := deps.Prompts
	if engine == nil {
		engine = prompts.NewDefaultEngine()
	}
	estimator := deps.Estimator
	if estimator.WordsPerMinute <= 0 {
		estimator = NewEstimator(0)
	}
	now := time.Now()
	return &Session{
		id:        id,
		generator: deps.Generator,
		estimator: estimator,
		prompts:   engine,
		settings:  deps.Settings.withDefaults(),
		log:       log.With(zap.String("session_id", id)),
		createdAt: now,
		updatedAt: now,
	}
}

func (s *Session) openingContext(req interfaces.UserStoryRequest) ([]interfaces.Message, error) {
	tctx := &prompts.TemplateContext{
		Name:          req.Name,
		Place:         req.Place,
		Tone:          req.Tone,
		Moral:         req.Moral,
		Age:           req.TargetAge,
		LengthMinutes: req.TargetLengthMinutes,
		Continuation:  req.IsContinuation,
		Summary:       req.Summary,
	}
	system, err := s.prompts.Render(prompts.TemplateSystem, tctx)
	if err != nil {
		return nil, err
	}
	opening := prompts.TemplateOpeningFresh
	if req.IsContinuation {
		opening = prompts.TemplateOpeningContinued
	}
	user, err := s.prompts.Render(opening, tctx)
	if err != nil {
		return nil, err
	}
	return []interfaces.Message{
		{Role: interfaces.RoleSystem, Content: system},
		{Role: interfaces.RoleUser, Content: user},
	}, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Request returns the effective story request after continuation merging.
func (s *Session) Request() interfaces.UserStoryRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.request
}

// Story returns a copy of the story so far.
func (s *Session) Story() StoryState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.story.clone()
}

// Advance moves the session forward with input.
//
// In the generating state input is ignored and the opening is produced.
// While awaiting a choice input is the reader's decision. While concluding
// any input requests the final segment. In every non-terminal state the
// exit signal aborts the story without generating. A failed generation
// leaves the session exactly as it was, so Advance may be retried.
func (s *Session) Advance(ctx context.Context, input string) (StoryState, error) {
	s.advancing.Lock()
	defer s.advancing.Unlock()

	s.mu.Lock()
	req, choice, err := s.nextStepLocked(input)
	story := s.story.clone()
	s.mu.Unlock()
	if err != nil || req == nil {
		return story, err
	}
	return s.generate(ctx, *req, choice)
}

// nextStepLocked applies input to the state. It returns the generation to
// run, or nil when input needs none.
func (s *Session) nextStepLocked(input string) (*GenerateRequest, string, error) {
	if s.state.Terminal() {
		return nil, "", ErrSessionClosed
	}
	if isExit(input) {
		s.abortLocked()
		return nil, "", nil
	}

	switch s.state {
	case StateGenerating:
		return s.generateRequestLocked(s.context, false), "", nil
	case StateAwaitingChoice:
		choice := strings.TrimSpace(input)
		if choice == "" {
			return nil, "", fmt.Errorf("%w: choice is empty", interfaces.ErrValidation)
		}
		followup, err := s.prompts.Render(prompts.TemplateChoiceFollowup, &prompts.TemplateContext{
			Name:   s.request.Name,
			Choice: choice,
		})
		if err != nil {
			return nil, "", err
		}
		candidate := s.extendContext(
			interfaces.Message{Role: interfaces.RoleAssistant, Content: s.lastRaw},
			interfaces.Message{Role: interfaces.RoleUser, Content: followup},
		)
		return s.generateRequestLocked(candidate, false), choice, nil
	case StateConcluding:
		candidate := s.extendContext(interfaces.Message{Role: interfaces.RoleAssistant, Content: s.lastRaw})
		return s.generateRequestLocked(candidate, true), "", nil
	default:
		return nil, "", fmt.Errorf("cannot advance session in state %s", s.state)
	}
}

func (s *Session) generateRequestLocked(convo []interfaces.Message, final bool) *GenerateRequest {
	return &GenerateRequest{
		Context:      convo,
		Name:         s.request.Name,
		CuePool:      append([]string{}, s.cues...),
		MaxTokens:    s.settings.SegmentMaxTokens,
		Final:        final,
		Continuation: final || s.turns > 0 || s.request.IsContinuation,
	}
}

// Abort ends the session without a conclusion. Aborting a terminal session
// is a no-op.
func (s *Session) Abort() StoryState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.Terminal() {
		s.abortLocked()
	}
	return s.story.clone()
}

func (s *Session) abortLocked() {
	s.state = StateAborted
	s.story.Aborted = true
	s.updatedAt = time.Now()
	s.log.Info("Story session aborted", zap.Int("segments", len(s.story.Segments)))
}

func (s *Session) extendContext(msgs ...interfaces.Message) []interfaces.Message {
	out := make([]interfaces.Message, 0, len(s.context)+len(msgs))
	out = append(out, s.context...)
	return append(out, msgs...)
}

// generate runs one generation without holding mu and commits the result
// only when it succeeds and the session was not aborted meanwhile.
func (s *Session) generate(ctx context.Context, req GenerateRequest, choice string) (StoryState, error) {
	if s.generator == nil {
		return s.Story(), fmt.Errorf("%w: no segment generator configured", interfaces.ErrGenerationUnavailable)
	}
	res, err := s.generator.Generate(ctx, req)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.log.Warn("Segment generation failed", zap.String("state", string(s.state)), zap.Error(err))
		return s.story.clone(), err
	}
	if s.state.Terminal() {
		s.log.Info("Session ended during generation, segment discarded")
		return s.story.clone(), ErrSessionClosed
	}
	final := req.Final

	s.context = res.Context
	s.cues = res.RemainingCues
	s.lastRaw = res.Raw
	s.turns++
	if choice != "" {
		s.decisions = append(s.decisions, choice)
	}
	s.story.Segments = append(s.story.Segments, res.Segment)
	s.story.CumulativeMinutes += s.estimator.Estimate(res.Segment.Text)
	s.story.TotalTokens += res.TokensUsed
	s.updatedAt = time.Now()

	if final {
		s.story.Complete = true
		s.state = StateComplete
		s.log.Info("Story complete",
			zap.Int("segments", len(s.story.Segments)),
			zap.Float64("minutes", s.story.CumulativeMinutes),
			zap.Int("tokens", s.story.TotalTokens))
		return s.story.clone(), nil
	}

	if !s.story.Concluding && s.shouldConclude() {
		s.story.Concluding = true
		s.log.Info("Story reached its length, concluding next",
			zap.Float64("minutes", s.story.CumulativeMinutes),
			zap.Int("turns", s.turns))
	}
	if s.story.Concluding {
		s.state = StateConcluding
	} else {
		s.state = StateAwaitingChoice
	}
	return s.story.clone(), nil
}

func (s *Session) shouldConclude() bool {
	threshold := s.settings.ConcludeRatio * s.request.TargetLengthMinutes
	return s.story.CumulativeMinutes >= threshold || s.turns >= s.settings.MaxTurns
}

func isExit(input string) bool {
	return strings.EqualFold(strings.TrimSpace(input), ExitSignal)
}

// FullText joins the narrative of every segment with blank lines.
func FullText(segments []Segment) string {
	parts := make([]string, 0, len(segments))
	for _, seg := range segments {
		if text := strings.TrimSpace(seg.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n\n")
}

// Snapshot is the serializable form of a session.
type Snapshot struct {
	ID        string                      `json:"id"`
	Kind      string                      `json:"kind"`
	Request   interfaces.UserStoryRequest `json:"request"`
	State     State                       `json:"state"`
	Story     StoryState                  `json:"story"`
	Context   []interfaces.Message        `json:"context"`
	CuePool   []string                    `json:"cue_pool"`
	LastRaw   string                      `json:"last_raw"`
	Decisions []string                    `json:"decisions"`
	Turns     int                         `json:"turns"`
	CreatedAt time.Time                   `json:"created_at"`
	UpdatedAt time.Time                   `json:"updated_at"`
}

// Snapshot captures the session for checkpointing.
func (s *Session) Snapshot() *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &Snapshot{
		ID:        s.id,
		Kind:      s.kind,
		Request:   s.request,
		State:     s.state,
		Story:     s.story.clone(),
		Context:   append([]interfaces.Message{}, s.context...),
		CuePool:   append([]string{}, s.cues...),
		LastRaw:   s.lastRaw,
		Decisions: append([]string{}, s.decisions...),
		Turns:     s.turns,
		CreatedAt: s.createdAt,
		UpdatedAt: s.updatedAt,
	}
}

// RestoreSession rebuilds a session from a snapshot.
func RestoreSession(snap *Snapshot, deps Dependencies) *Session {
	s := newSession(snap.ID, deps)
	s.kind = snap.Kind
	s.request = snap.Request
	s.state = snap.State
	s.story = snap.Story.clone()
	s.context = append([]interfaces.Message{}, snap.Context...)
	s.cues = append([]string{}, snap.CuePool...)
	s.lastRaw = snap.LastRaw
	s.decisions = append([]string{}, snap.Decisions...)
	s.turns = snap.Turns
	s.createdAt = snap.CreatedAt
	s.updatedAt = snap.UpdatedAt
	return s
}
