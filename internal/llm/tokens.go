package llm

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"bedtime-stories/server/internal/interfaces"
)

const defaultEncoding = "cl100k_base"

// TokenCounter estimates token usage when a provider does not report it.
// The encoding is loaded on first use; if it cannot be loaded words are
// counted instead.
type TokenCounter struct {
	once     sync.Once
	encoding string
	enc      *tiktoken.Tiktoken
}

// NewTokenCounter returns a counter for the cl100k_base encoding.
func NewTokenCounter() *TokenCounter {
	return &TokenCounter{encoding: defaultEncoding}
}

// Count returns the number of tokens in text.
func (c *TokenCounter) Count(text string) int {
	c.once.Do(func() {
		enc, err := tiktoken.GetEncoding(c.encoding)
		if err == nil {
			c.enc = enc
		}
	})
	if c.enc == nil {
		return len(strings.Fields(text))
	}
	return len(c.enc.Encode(text, nil, nil))
}

// CountMessages sums the tokens of every message content.
func (c *TokenCounter) CountMessages(messages []interfaces.Message) int {
	total := 0
	for _, msg := range messages {
		total += c.Count(msg.Content)
	}
	return total
}
