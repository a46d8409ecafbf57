package engine

import (
	"fmt"
	"regexp"
	"strings"

	"bedtime-stories/server/internal/interfaces"
)

const (
	segmentOpenTag  = "<segment>"
	segmentCloseTag = "</segment>"
	choiceCount     = 3
)

var (
	questionLine = regexp.MustCompile(`^What will .+ do next\?$`)
	optionLine   = regexp.MustCompile(`^([1-9])\.\s*(.+)$`)
)

// WrapSegment marks the boundaries of a raw model reply.
func WrapSegment(reply string) string {
	return segmentOpenTag + strings.TrimSpace(reply) + segmentCloseTag
}

// UnwrapSegment removes the segment markers added by WrapSegment.
func UnwrapSegment(raw string) string {
	text := raw
	if i := strings.LastIndex(text, segmentOpenTag); i >= 0 {
		text = text[i+len(segmentOpenTag):]
	}
	if i := strings.Index(text, segmentCloseTag); i >= 0 {
		text = text[:i]
	}
	return strings.TrimSpace(text)
}

// ExtractChoices returns the three options of the decision point in text, or
// nil when there is none or it cannot be parsed.
func ExtractChoices(text string) []string {
	choices, _ := ParseDecisionPoint(text)
	return choices
}

// ParseDecisionPoint parses the "What will <name> do next?" block.
// It returns nil, nil when the text has no question line and
// ErrMalformedSegment when the question is not followed by options 1 to 3.
func ParseDecisionPoint(text string) ([]string, error) {
	lines := strings.Split(UnwrapSegment(text), "\n")

	start := findQuestion(lines)
	if start < 0 {
		return nil, nil
	}

	choices := make([]string, 0, choiceCount)
	for _, line := range lines[start+1:] {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		m := optionLine.FindStringSubmatch(line)
		if m == nil || m[1] != fmt.Sprint(len(choices)+1) {
			break
		}
		choices = append(choices, strings.TrimSpace(m[2]))
		if len(choices) == choiceCount {
			return choices, nil
		}
	}

	return nil, fmt.Errorf("%w: found %d of %d options", interfaces.ErrMalformedSegment, len(choices), choiceCount)
}

// StripDecisionPoint returns the narrative that precedes the decision point.
func StripDecisionPoint(text string) string {
	body := UnwrapSegment(text)
	lines := strings.Split(body, "\n")
	if start := findQuestion(lines); start >= 0 {
		return strings.TrimSpace(strings.Join(lines[:start], "\n"))
	}
	return body
}

// findQuestion returns the index of the last decision question line, or -1.
func findQuestion(lines []string) int {
	for i := len(lines) - 1; i >= 0; i-- {
		if questionLine.MatchString(strings.TrimSpace(lines[i])) {
			return i
		}
	}
	return -1
}
