package engine

import "strings"

// DefaultWordsPerMinute is the reading speed used when none is configured.
const DefaultWordsPerMinute = 100

// Estimator converts text into spoken minutes.
type Estimator struct {
	WordsPerMinute int
}

// NewEstimator returns an estimator for wpm, falling back to DefaultWordsPerMinute.
func NewEstimator(wpm int) Estimator {
	if wpm <= 0 {
		wpm = DefaultWordsPerMinute
	}
	return Estimator{WordsPerMinute: wpm}
}

// Estimate returns word_count(text) / words_per_minute.
func (e Estimator) Estimate(text string) float64 {
	wpm := e.WordsPerMinute
	if wpm <= 0 {
		wpm = DefaultWordsPerMinute
	}
	return float64(len(strings.Fields(text))) / float64(wpm)
}
