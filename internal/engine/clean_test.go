package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanText(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"Hello   world", "Hello world."},
		{"The owl hooted... Mira smiled", "The owl hooted. Mira smiled."},
		{"Where are you?  I am here!", "Where are you? I am here!"},
		{"She whispered \"goodnight.\"\nThe end", "She whispered \"goodnight.\" The end."},
		{"And then..", "And then."},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CleanText(tt.in), tt.in)
	}
}
