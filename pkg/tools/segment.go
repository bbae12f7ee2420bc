package tools

import (
	"context"
	"strings"

	"conductor/pkg/tokens"
)

// SegmentTool splits a long text into token-bounded chunks so agents can work
// through large documents piece by piece. Splits prefer paragraph boundaries
// and fall back to hard cuts for oversized paragraphs.
type SegmentTool struct {
	counter *tokens.Counter
}

const (
	defaultChunkTokens = 1500
	maxChunkTokens     = 6000
)

// NewSegmentTool creates a text segmentation tool.
func NewSegmentTool() (*SegmentTool, error) {
	counter, err := tokens.NewCounter("gpt-4")
	if err != nil {
		return nil, err
	}
	return &SegmentTool{counter: counter}, nil
}

// Name implements Tool.
func (t *SegmentTool) Name() string {
	return "segment_text"
}

// Definition implements Tool.
func (t *SegmentTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        t.Name(),
		Description: "Split a long text into smaller chunks that each fit a token budget.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"text": {
					Type:        "string",
					Description: "The text to segment",
				},
				"chunk_tokens": {
					Type:        "integer",
					Description: "Approximate token budget per chunk (default 1500)",
				},
			},
			Required: []string{"text"},
		},
	}
}

// Exec implements Tool.
func (t *SegmentTool) Exec(_ context.Context, args map[string]any) (map[string]any, error) {
	text, err := GetString(args, "text")
	if err != nil {
		return nil, err
	}
	chunkTokens, err := GetInt(args, "chunk_tokens", defaultChunkTokens)
	if err != nil {
		return nil, err
	}
	if chunkTokens <= 0 || chunkTokens > maxChunkTokens {
		chunkTokens = defaultChunkTokens
	}

	chunks := t.Split(text, chunkTokens)
	out := make([]any, len(chunks))
	for i, c := range chunks {
		out[i] = c
	}
	return map[string]any{
		"chunks": out,
		"count":  len(chunks),
	}, nil
}

// Split divides text into chunks of roughly chunkTokens each.
func (t *SegmentTool) Split(text string, chunkTokens int) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if t.counter.WithinLimit(text, chunkTokens) {
		return []string{text}
	}

	paragraphs := strings.Split(text, "\n\n")
	var chunks []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			chunks = append(chunks, strings.TrimSpace(current.String()))
			current.Reset()
		}
	}

	for _, para := range paragraphs {
		if !t.counter.WithinLimit(para, chunkTokens) {
			// Oversized paragraph: flush what we have, then hard-cut it.
			flush()
			chunks = append(chunks, t.hardCut(para, chunkTokens)...)
			continue
		}
		candidate := current.String()
		if candidate != "" {
			candidate += "\n\n"
		}
		candidate += para
		if !t.counter.WithinLimit(candidate, chunkTokens) {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
	}
	flush()
	return chunks
}

func (t *SegmentTool) hardCut(text string, chunkTokens int) []string {
	var chunks []string
	remaining := text
	for !t.counter.WithinLimit(remaining, chunkTokens) {
		cut := t.counter.Truncate(remaining, chunkTokens)
		cut = strings.TrimSuffix(cut, "...")
		if cut == "" || len(cut) >= len(remaining) {
			break
		}
		chunks = append(chunks, cut)
		remaining = remaining[len(cut):]
	}
	if strings.TrimSpace(remaining) != "" {
		chunks = append(chunks, remaining)
	}
	return chunks
}
