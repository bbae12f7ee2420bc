package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"conductor/pkg/tokens"
)

// ContentExtractionError indicates a source could not be read or decoded.
// It is reported to the agent as a failed tool result, not a run failure.
type ContentExtractionError struct {
	Err    error
	Source string
}

func (e *ContentExtractionError) Error() string {
	return fmt.Sprintf("failed to extract content from %s: %v", e.Source, e.Err)
}

func (e *ContentExtractionError) Unwrap() error {
	return e.Err
}

// ExtractFunc converts a raw source (file path or URL) into plain text.
// Implementations for non-text formats can be supplied at construction.
type ExtractFunc func(ctx context.Context, source string) (string, error)

// ExtractTool reads documents and returns their text content, truncated to a
// token budget so a single large file cannot blow the context window.
type ExtractTool struct {
	extract    ExtractFunc
	counter    *tokens.Counter
	maxTokens  int
	workDir    string
	extensions []string
}

const defaultExtractTokens = 8000

// NewExtractTool creates a content extraction tool rooted at workDir.
// When extract is nil, a plain-text file reader is used.
func NewExtractTool(workDir string, maxTokens int, extract ExtractFunc) (*ExtractTool, error) {
	counter, err := tokens.NewCounter("gpt-4")
	if err != nil {
		return nil, fmt.Errorf("failed to create token counter: %w", err)
	}
	if maxTokens <= 0 {
		maxTokens = defaultExtractTokens
	}
	t := &ExtractTool{
		counter:    counter,
		maxTokens:  maxTokens,
		workDir:    workDir,
		extensions: []string{".txt", ".md", ".rst", ".json", ".yaml", ".yml", ".csv", ".log"},
	}
	if extract == nil {
		extract = t.readTextFile
	}
	t.extract = extract
	return t, nil
}

// Name implements Tool.
func (t *ExtractTool) Name() string {
	return "extract_content"
}

// Definition implements Tool.
func (t *ExtractTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        t.Name(),
		Description: "Extract the plain text content of a document so it can be discussed or summarized.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"source": {
					Type:        "string",
					Description: "Path to the document, relative to the working directory",
				},
			},
			Required: []string{"source"},
		},
	}
}

// Exec implements Tool.
func (t *ExtractTool) Exec(ctx context.Context, args map[string]any) (map[string]any, error) {
	source, err := GetString(args, "source")
	if err != nil {
		return nil, err
	}

	content, err := t.extract(ctx, source)
	if err != nil {
		return nil, &ContentExtractionError{Source: source, Err: err}
	}

	truncated := false
	if !t.counter.WithinLimit(content, t.maxTokens) {
		content = t.counter.Truncate(content, t.maxTokens)
		truncated = true
	}

	return map[string]any{
		"source":    source,
		"content":   content,
		"truncated": truncated,
	}, nil
}

func (t *ExtractTool) readTextFile(_ context.Context, source string) (string, error) {
	if filepath.IsAbs(source) || strings.Contains(source, "..") {
		return "", fmt.Errorf("source must be a relative path inside the working directory")
	}
	ext := strings.ToLower(filepath.Ext(source))
	if !contains(t.extensions, ext) {
		return "", fmt.Errorf("unsupported file type %q", ext)
	}

	path := filepath.Join(t.workDir, source)
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
