package engine

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEstimator_Estimate(t *testing.T) {
	e := NewEstimator(100)

	assert.Equal(t, 0.0, e.Estimate(""))
	assert.Equal(t, 0.0, e.Estimate("   \n\t "))
	assert.InDelta(t, 2.5, e.Estimate(strings.Repeat("word ", 250)), 1e-9)
	assert.InDelta(t, 0.04, e.Estimate("Mira  saw\nthe owl"), 1e-9)
}

func TestNewEstimator_DefaultsSpeed(t *testing.T) {
	assert.Equal(t, DefaultWordsPerMinute, NewEstimator(0).WordsPerMinute)
	assert.Equal(t, DefaultWordsPerMinute, NewEstimator(-5).WordsPerMinute)
	assert.Equal(t, 150, NewEstimator(150).WordsPerMinute)

	var zero Estimator
	assert.InDelta(t, 0.02, zero.Estimate("two words"), 1e-9)
}
