package prompts

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Template names of the default catalogue.
const (
	TemplateSystem               = "system"
	TemplateOpeningFresh         = "opening_fresh"
	TemplateOpeningContinued     = "opening_continued"
	TemplateSegmentOpening       = "segment_opening"
	TemplateSegmentContinuation  = "segment_continuation"
	TemplateSegmentFinal         = "segment_final"
	TemplateChoiceFollowup       = "choice_followup"
	TemplateSummarySystem        = "summary_system"
	TemplateSummaryUser          = "summary_user"
	TemplateIllustration         = "illustration"
	defaultSummary               = "No previous summary available"
	continuationReminder         = "This is a continuation of a previous story. Refer to elements from the previous adventures when appropriate."
	noCuesInstruction            = "Continue the story without introducing new visual elements."
	maxCuesPerSegment            = 2
)

var varRegex = regexp.MustCompile(`\{\{(\w+)\}\}`)

// TemplateEngine manages prompt templates
type TemplateEngine struct {
	templates map[string]*Template
	mu        sync.RWMutex
}

// Template represents a prompt template with variables
type Template struct {
	Name        string   `json:"name"`
	Content     string   `json:"content"`
	Variables   []string `json:"variables"`
	Description string   `json:"description"`
}

// TemplateContext holds variables for template rendering
type TemplateContext struct {
	// Story request
	Name          string
	Place         string
	Tone          string
	Moral         string
	Age           int
	LengthMinutes float64
	Continuation  bool
	Summary       string

	// Per segment
	Cues   []string
	Choice string

	// Summaries
	Story     string
	MaxTokens int

	Custom map[string]string
}

// ImagePromptContext holds context for illustration prompts
type ImagePromptContext struct {
	Cues      []string
	Character string
	Place     string
	Mood      string
}

// NewTemplateEngine creates a new template engine
func NewTemplateEngine() *TemplateEngine {
	return &TemplateEngine{
		templates: make(map[string]*Template),
	}
}

// NewDefaultEngine returns an engine loaded with the bedtime story catalogue.
func NewDefaultEngine() *TemplateEngine {
	e := NewTemplateEngine()
	_ = e.InitializeDefaultTemplates()
	return e
}

// RegisterTemplate registers a new template
func (e *TemplateEngine) RegisterTemplate(tmpl *Template) error {
	if tmpl.Name == "" {
		return fmt.Errorf("template name is empty")
	}
	if len(tmpl.Variables) == 0 {
		tmpl.Variables = ParseTemplateVariables(tmpl.Content)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.templates[tmpl.Name] = tmpl
	return nil
}

// GetTemplate retrieves a template by name
func (e *TemplateEngine) GetTemplate(name string) (*Template, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	tmpl, ok := e.templates[name]
	if !ok {
		return nil, fmt.Errorf("template not found: %s", name)
	}
	return tmpl, nil
}

// Render renders a template with the given context. Every variable of the
// template must resolve.
func (e *TemplateEngine) Render(templateName string, ctx *TemplateContext) (string, error) {
	tmpl, err := e.GetTemplate(templateName)
	if err != nil {
		return "", err
	}
	if missing := e.unresolvedVariables(tmpl, ctx); len(missing) > 0 {
		return "", fmt.Errorf("template %s: unresolved variables: %s", tmpl.Name, strings.Join(missing, ", "))
	}

	return strings.TrimSpace(e.renderTemplate(tmpl, ctx)), nil
}

func (e *TemplateEngine) unresolvedVariables(tmpl *Template, ctx *TemplateContext) []string {
	var missing []string
	for _, name := range tmpl.Variables {
		if _, ok := e.getVariableValue(ctx, name); !ok {
			missing = append(missing, name)
		}
	}
	return missing
}

// renderTemplate replaces {{variable}} placeholders.
func (e *TemplateEngine) renderTemplate(tmpl *Template, ctx *TemplateContext) string {
	return varRegex.ReplaceAllStringFunc(tmpl.Content, func(match string) string {
		varName := varRegex.FindStringSubmatch(match)[1]
		if value, ok := e.getVariableValue(ctx, varName); ok {
			return value
		}
		return match
	})
}

// getVariableValue retrieves a variable value from context
func (e *TemplateEngine) getVariableValue(ctx *TemplateContext, varName string) (string, bool) {
	switch varName {
	case "name":
		return ctx.Name, true
	case "place":
		return ctx.Place, true
	case "tone":
		return ctx.Tone, true
	case "moral":
		return ctx.Moral, true
	case "age":
		return strconv.Itoa(ctx.Age), true
	case "length":
		return strconv.FormatFloat(ctx.LengthMinutes, 'f', -1, 64), true
	case "continuation_reminder":
		if ctx.Continuation {
			return continuationReminder, true
		}
		return "", true
	case "summary":
		if strings.TrimSpace(ctx.Summary) == "" {
			return defaultSummary, true
		}
		return ctx.Summary, true
	case "decision_format":
		return DecisionFormat(ctx.Name), true
	case "cue_instruction":
		return CueInstruction(ctx.Cues), true
	case "choice":
		return ctx.Choice, true
	case "story":
		return ctx.Story, true
	case "max_tokens":
		return strconv.Itoa(ctx.MaxTokens), true
	default:
		if ctx.Custom != nil {
			if val, ok := ctx.Custom[varName]; ok {
				return val, true
			}
		}
		return "", false
	}
}

// DecisionQuestion is the fixed question line that opens a decision point.
func DecisionQuestion(name string) string {
	return fmt.Sprintf("What will %s do next?", name)
}

// DecisionFormat is the decision point layout the model is asked to produce
// and the choice extractor parses.
func DecisionFormat(name string) string {
	return DecisionQuestion(name) + "\n1. [First option]\n2. [Second option]\n3. [Third option]"
}

// CueInstruction names at most the first two cues as elements to draw into
// the segment.
func CueInstruction(cues []string) string {
	if len(cues) == 0 {
		return noCuesInstruction
	}
	if len(cues) > maxCuesPerSegment {
		cues = cues[:maxCuesPerSegment]
	}
	return "In this segment, incorporate these elements: " + strings.Join(cues, ", ")
}

// RenderImagePrompt renders an illustration prompt
func (e *TemplateEngine) RenderImagePrompt(templateName string, ctx *ImagePromptContext) (string, error) {
	scene := strings.Join(humanizeCues(ctx.Cues), ", ")
	if ctx.Character != "" {
		if scene != "" {
			scene += ", "
		}
		scene += "with " + ctx.Character
	}
	if ctx.Place != "" {
		scene += " in " + ctx.Place
	}

	return e.Render(templateName, &TemplateContext{
		Place: ctx.Place,
		Custom: map[string]string{
			"scene":     strings.TrimSpace(scene),
			"character": ctx.Character,
			"mood":      ctx.Mood,
		},
	})
}

// humanizeCues turns identifiers such as "purple-unicorn" into "purple unicorn".
func humanizeCues(cues []string) []string {
	out := make([]string, 0, len(cues))
	for _, cue := range cues {
		cue = strings.TrimSpace(strings.NewReplacer("-", " ", "_", " ").Replace(cue))
		if cue != "" {
			out = append(out, cue)
		}
	}
	return out
}

// InitializeDefaultTemplates initializes the default story templates
func (e *TemplateEngine) InitializeDefaultTemplates() error {
	templates := []*Template{
		{
			Name:        TemplateSystem,
			Description: "Storyteller framing sent once at the start of a session",
			Content: `You are a storyteller creating an interactive bedtime story for young children.
{{continuation_reminder}}
Each segment of the story should be detailed but brief, creating vivid scenes and interactions for the main character.
The story should be {{tone}} and teach a moral lesson about {{moral}}.
Keep the language simple and appropriate for a {{age}}-year-old.
Each segment should be approximately 1 minute long when read aloud.
End each segment with a clear decision point where the user has to make a choice for the main character.
Provide exactly three distinct options for the next steps the character can take, related to the story and the moral.
Format the options as follows:

{{decision_format}}

The entire story should be approximately {{length}} minutes long when read aloud.`,
		},
		{
			Name:        TemplateOpeningFresh,
			Description: "First user turn of a new story",
			Content:     "Start a brief bedtime story about {{name}} in {{place}}. Opening segment should end with a need for the main character to make a choice.",
		},
		{
			Name:        TemplateOpeningContinued,
			Description: "First user turn when continuing a saved story",
			Content:     "Continue the story of {{name}} in {{place}}. Here's a summary of what happened before: {{summary}}. Now, let's pick up the story and see what new adventures await {{name}}.",
		},
		{
			Name:        TemplateSegmentOpening,
			Description: "Generator instruction for the opening segment",
			Content:     "{{cue_instruction}} Begin a new story about {{name}}. The opening segment should introduce the character and setting, and set up an initial situation or challenge. The story segment should be engaging but brief, no longer than 6 sentences at the most. It is crucial that you end this segment with a clear decision point for the user, presenting exactly three distinct options. Format the options as follows:\n\n{{decision_format}}",
		},
		{
			Name:        TemplateSegmentContinuation,
			Description: "Generator instruction for a mid-story segment",
			Content:     "{{cue_instruction}} Continue the ongoing story about {{name}}. Refer to previous events and characters when appropriate. The story segment should be engaging and descriptive, but brief (about 1 minute when read aloud). It is crucial that you end this segment with a clear decision point for the user, presenting exactly three distinct options. Format the options as follows:\n\n{{decision_format}}",
		},
		{
			Name:        TemplateSegmentFinal,
			Description: "Generator instruction for the conclusion",
			Content:     "{{cue_instruction}} This is the final part of the story. Provide a complete and satisfying conclusion that wraps up all plot points and reinforces the moral of the story. Ensure all sentences are complete. Do not include any choices, questions, or decision points. The story should end here without any further user input.",
		},
		{
			Name:        TemplateChoiceFollowup,
			Description: "User turn carrying the reader's decision",
			Content:     "{{name}} decides to {{choice}}. Continue the story based on this action, and end with a new set of choices or decision points.",
		},
		{
			Name:        TemplateSummarySystem,
			Description: "Summarizer role",
			Content:     "You are a helpful assistant that summarizes bedtime stories.",
		},
		{
			Name:        TemplateSummaryUser,
			Description: "Summarizer request",
			Content:     "Please summarize the following bedtime story in about {{max_tokens}} tokens:\n\n{{story}}",
		},
		{
			Name:        TemplateIllustration,
			Description: "Illustration prompt built from segment cues",
			Content:     "children's storybook illustration of {{scene}}, {{mood}} mood, soft warm colors, gentle lighting",
		},
	}

	for _, tmpl := range templates {
		if err := e.RegisterTemplate(tmpl); err != nil {
			return err
		}
	}
	return nil
}

// ParseTemplateVariables extracts variables from a template
func ParseTemplateVariables(templateContent string) []string {
	matches := varRegex.FindAllStringSubmatch(templateContent, -1)

	uniqueVars := make(map[string]bool)
	for _, match := range matches {
		if len(match) > 1 {
			uniqueVars[match[1]] = true
		}
	}

	vars := make([]string, 0, len(uniqueVars))
	for v := range uniqueVars {
		vars = append(vars, v)
	}
	sort.Strings(vars)

	return vars
}
