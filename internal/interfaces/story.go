package interfaces

import (
	"fmt"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Role tags a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of the conversation sent to the text-completion service.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// UserStoryRequest describes the story a user asked for.
type UserStoryRequest struct {
	UserID              string   `json:"user_id"`
	Name                string   `json:"name"`
	Place               string   `json:"place"`
	Tone                string   `json:"tone"`
	Moral               string   `json:"moral"`
	TargetLengthMinutes float64  `json:"target_length_minutes"`
	TargetAge           int      `json:"target_age"`
	IsContinuation      bool     `json:"is_continuation"`
	StoryChoice         string   `json:"story_choice,omitempty"`
	Summary             string   `json:"summary,omitempty"`
	IllustrationCues    []string `json:"illustration_cues,omitempty"`
}

// Validate checks the fields a fresh story needs, plus the title and user
// of a continuation request. Failures wrap ErrValidation.
func (r UserStoryRequest) Validate() error {
	err := validation.ValidateStruct(&r,
		validation.Field(&r.Name, validation.Required),
		validation.Field(&r.Place, validation.Required),
		validation.Field(&r.Tone, validation.Required),
		validation.Field(&r.Moral, validation.Required),
		validation.Field(&r.TargetLengthMinutes, validation.Required, validation.Min(0.0).Exclusive()),
		validation.Field(&r.TargetAge, validation.Required, validation.Min(1)),
		validation.Field(&r.StoryChoice, validation.When(r.IsContinuation, validation.Required)),
		validation.Field(&r.UserID, validation.When(r.IsContinuation, validation.Required)),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}

// ValidateContinuationKey checks the fields needed to look up a saved story.
func (r UserStoryRequest) ValidateContinuationKey() error {
	err := validation.ValidateStruct(&r,
		validation.Field(&r.UserID, validation.Required),
		validation.Field(&r.StoryChoice, validation.Required),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}

// Merge overlays the non-empty fields of update onto r. Used when a
// continuation request refines a resolved story.
func (r UserStoryRequest) Merge(update UserStoryRequest) UserStoryRequest {
	merged := r
	if update.UserID != "" {
		merged.UserID = update.UserID
	}
	if strings.TrimSpace(update.Name) != "" {
		merged.Name = update.Name
	}
	if strings.TrimSpace(update.Place) != "" {
		merged.Place = update.Place
	}
	if strings.TrimSpace(update.Tone) != "" {
		merged.Tone = update.Tone
	}
	if strings.TrimSpace(update.Moral) != "" {
		merged.Moral = update.Moral
	}
	if update.TargetLengthMinutes > 0 {
		merged.TargetLengthMinutes = update.TargetLengthMinutes
	}
	if update.TargetAge > 0 {
		merged.TargetAge = update.TargetAge
	}
	if update.StoryChoice != "" {
		merged.StoryChoice = update.StoryChoice
	}
	if update.Summary != "" {
		merged.Summary = update.Summary
	}
	if len(update.IllustrationCues) > 0 {
		merged.IllustrationCues = append([]string(nil), update.IllustrationCues...)
	}
	merged.IsContinuation = update.IsContinuation || r.IsContinuation
	return merged
}

// StoryRecord is a saved story as kept in the vector store.
type StoryRecord struct {
	ID                  string    `json:"id"`
	UserID              string    `json:"user_id"`
	Name                string    `json:"name"`
	Place               string    `json:"place"`
	Title               string    `json:"story_title"`
	Summary             string    `json:"summary"`
	Tone                string    `json:"tone,omitempty"`
	Moral               string    `json:"moral,omitempty"`
	TargetLengthMinutes float64   `json:"target_length_minutes,omitempty"`
	TargetAge           int       `json:"target_age,omitempty"`
	IllustrationCues    []string  `json:"illustration_cues"`
	Embedding           []float32 `json:"-"`
}

// StoryListing is one entry of a user's saved stories.
type StoryListing struct {
	Title    string         `json:"title"`
	Metadata map[string]any `json:"metadata"`
}

// SaveStoryRequest is the input for persisting a finished story.
type SaveStoryRequest struct {
	UserID              string
	Name                string
	Title               string
	Place               string
	StoryText           string
	IllustrationCues    []string
	Tone                string
	Moral               string
	TargetLengthMinutes float64
	TargetAge           int
}
