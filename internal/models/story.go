package models

import (
	"time"

	"gorm.io/gorm"
)

// Story is the archived record of a finished or abandoned session.
type Story struct {
	ID                  string          `gorm:"primaryKey;size:64" json:"id"`
	UserID              string          `gorm:"index;size:64" json:"user_id"`
	Kind                string          `gorm:"size:32" json:"kind"`
	Outcome             string          `gorm:"size:32" json:"outcome"`
	Name                string          `gorm:"size:128" json:"name"`
	Place               string          `gorm:"size:255" json:"place"`
	Tone                string          `gorm:"size:128" json:"tone"`
	Moral               string          `gorm:"size:255" json:"moral"`
	TargetAge           int             `json:"target_age"`
	TargetLengthMinutes float64         `json:"target_length_minutes"`
	ContinuedFrom       string          `gorm:"size:255" json:"continued_from,omitempty"`
	CumulativeMinutes   float64         `json:"cumulative_minutes"`
	TotalTokens         int             `json:"total_tokens"`
	Segments            []StorySegment  `gorm:"foreignKey:StoryID;constraint:OnDelete:CASCADE" json:"segments"`
	Decisions           []StoryDecision `gorm:"foreignKey:StoryID;constraint:OnDelete:CASCADE" json:"decisions"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
	DeletedAt           gorm.DeletedAt  `gorm:"index" json:"-"`
}

// StorySegment is one narrative chunk of an archived story.
type StorySegment struct {
	ID               uint     `gorm:"primaryKey" json:"-"`
	StoryID          string   `gorm:"index;size:64" json:"story_id"`
	Position         int      `json:"position"`
	Text             string   `gorm:"type:text" json:"text"`
	IllustrationCues []string `gorm:"serializer:json;type:text" json:"illustration_cues"`
	Choices          []string `gorm:"serializer:json;type:text" json:"choices"`
	Final            bool     `json:"final"`
}

// StoryDecision is a choice the reader made.
type StoryDecision struct {
	ID       uint   `gorm:"primaryKey" json:"-"`
	StoryID  string `gorm:"index;size:64" json:"story_id"`
	Position int    `json:"position"`
	Choice   string `gorm:"type:text" json:"choice"`
}
