package engine

import (
	"strings"

	"bedtime-stories/server/internal/interfaces"
)

// narrative returns a sentence of exactly n words.
func narrative(n int) string {
	words := make([]string, n)
	for i := range words {
		words[i] = "star"
	}
	return strings.Join(words, " ") + "."
}

func withChoices(name, text string) string {
	return text + "\n\nWhat will " + name + " do next?\n1. Follow the owl\n2. Light the lantern\n3. Go back home"
}

func completion(text string, tokens int) *interfaces.Completion {
	return &interfaces.Completion{Text: text, TokensUsed: tokens}
}

func miraRequest() interfaces.UserStoryRequest {
	return interfaces.UserStoryRequest{
		UserID:              "user-1",
		Name:                "Mira",
		Place:               "a moonlit forest",
		Tone:                "gentle",
		Moral:               "kindness",
		TargetLengthMinutes: 5,
		TargetAge:           5,
		IllustrationCues:    []string{"owl", "lantern", "river"},
	}
}
