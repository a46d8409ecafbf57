package storage

import (
	"time"

	"bedtime-stories/server/internal/engine"
	"bedtime-stories/server/internal/interfaces"
)

func sampleSnapshot(id string, state engine.State) *engine.Snapshot {
	now := time.Date(2026, 3, 1, 20, 30, 0, 0, time.UTC)
	story := engine.StoryState{
		Segments: []engine.Segment{
			{Text: "Mira met an owl.", IllustrationCues: []string{"owl"}, Choices: []string{"Follow", "Wave", "Sleep"}},
			{Text: "They flew home.", IllustrationCues: []string{}, Choices: []string{}, Final: state == engine.StateComplete},
		},
		CumulativeMinutes: 0.07,
		TotalTokens:       120,
		Complete:          state == engine.StateComplete,
		Aborted:           state == engine.StateAborted,
	}
	return &engine.Snapshot{
		ID:   id,
		Kind: engine.KindFresh,
		Request: interfaces.UserStoryRequest{
			UserID:              "u1",
			Name:                "Mira",
			Place:               "a moonlit forest",
			Tone:                "gentle",
			Moral:               "kindness",
			TargetLengthMinutes: 5,
			TargetAge:           5,
		},
		State:     state,
		Story:     story,
		Context:   []interfaces.Message{{Role: interfaces.RoleSystem, Content: "framing"}},
		CuePool:   []string{},
		LastRaw:   "<segment>They flew home.</segment>",
		Decisions: []string{"Follow"},
		Turns:     2,
		CreatedAt: now,
		UpdatedAt: now.Add(time.Minute),
	}
}
