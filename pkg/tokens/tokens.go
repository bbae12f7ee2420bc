// Package tokens provides tiktoken-based token counting utilities.
package tokens

import (
	"fmt"
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

// Counter provides token counting for a specific model family.
type Counter struct {
	codec tokenizer.Codec
}

// NewCounter creates a token counter for the given model name.
// All supported backends approximate well with the GPT-4 encoding, so unknown
// models fall back to it rather than failing.
func NewCounter(model string) (*Counter, error) {
	codec, err := tokenizer.ForModel(tokenizer.GPT4)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokenizer codec for model %s: %w", model, err)
	}
	return &Counter{codec: codec}, nil
}

// Count returns the number of tokens in the given text.
func (c *Counter) Count(text string) int {
	if c.codec == nil {
		// Fallback to character-based estimation (4 chars ≈ 1 token)
		return len(text) / 4
	}
	count, err := c.codec.Count(text)
	if err != nil {
		return len(text) / 4
	}
	return count
}

// WithinLimit reports whether text fits in the given token limit.
func (c *Counter) WithinLimit(text string, limit int) bool {
	return c.Count(text) <= limit
}

// Truncate trims text to approximately fit within the token limit.
// Truncation is by characters, not exact token boundaries.
func (c *Counter) Truncate(text string, limit int) string {
	current := c.Count(text)
	if current <= limit {
		return text
	}

	ratio := float64(limit) / float64(current)
	charLimit := int(float64(len(text)) * ratio * 0.9) // 0.9 safety margin
	if charLimit >= len(text) {
		return text
	}
	return text[:charLimit] + "..."
}

var (
	defaultOnce    sync.Once
	defaultCounter *Counter
)

// Count is a convenience function counting tokens with the default encoding.
// The underlying codec is built once and reused; it is called per message on
// the request path.
func Count(text string) int {
	defaultOnce.Do(func() {
		if counter, err := NewCounter("gpt-4"); err == nil {
			defaultCounter = counter
		}
	})
	if defaultCounter == nil {
		return len(text) / 4
	}
	return defaultCounter.Count(text)
}
