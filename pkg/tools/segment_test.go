package tools

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSegmentSmallText(t *testing.T) {
	tool, err := NewSegmentTool()
	require.NoError(t, err)

	out, err := tool.Exec(context.Background(), map[string]any{"text": "just a short note"})
	require.NoError(t, err)
	assert.Equal(t, 1, out["count"])
}

func TestSegmentLargeText(t *testing.T) {
	tool, err := NewSegmentTool()
	require.NoError(t, err)

	paras := make([]string, 40)
	for i := range paras {
		paras[i] = strings.Repeat("alpha beta gamma delta epsilon ", 20)
	}
	text := strings.Join(paras, "\n\n")

	out, err := tool.Exec(context.Background(), map[string]any{"text": text, "chunk_tokens": float64(200)})
	require.NoError(t, err)

	count := out["count"].(int)
	assert.Greater(t, count, 1)

	chunks := out["chunks"].([]any)
	require.Len(t, chunks, count)
	for _, c := range chunks {
		assert.NotEmpty(t, strings.TrimSpace(c.(string)))
	}
}

func TestSegmentEmpty(t *testing.T) {
	tool, err := NewSegmentTool()
	require.NoError(t, err)

	chunks := tool.Split("   ", 100)
	assert.Nil(t, chunks)
}

func TestExtractReadsFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.md"), []byte("# Findings\n\nimportant stuff"), 0o644))

	tool, err := NewExtractTool(dir, 1000, nil)
	require.NoError(t, err)

	out, err := tool.Exec(context.Background(), map[string]any{"source": "notes.md"})
	require.NoError(t, err)
	assert.Contains(t, out["content"], "important stuff")
	assert.Equal(t, false, out["truncated"])
}

func TestExtractTruncates(t *testing.T) {
	dir := t.TempDir()
	big := strings.Repeat("lots of content here ", 2000)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "big.txt"), []byte(big), 0o644))

	tool, err := NewExtractTool(dir, 100, nil)
	require.NoError(t, err)

	out, err := tool.Exec(context.Background(), map[string]any{"source": "big.txt"})
	require.NoError(t, err)
	assert.Equal(t, true, out["truncated"])
	assert.Less(t, len(out["content"].(string)), len(big))
}

func TestExtractRejectsEscapes(t *testing.T) {
	tool, err := NewExtractTool(t.TempDir(), 1000, nil)
	require.NoError(t, err)

	for _, source := range []string{"../secrets.txt", "/etc/passwd"} {
		_, err := tool.Exec(context.Background(), map[string]any{"source": source})
		require.Error(t, err)
		var extractErr *ContentExtractionError
		assert.ErrorAs(t, err, &extractErr)
	}
}

func TestExtractUnsupportedType(t *testing.T) {
	tool, err := NewExtractTool(t.TempDir(), 1000, nil)
	require.NoError(t, err)

	_, err = tool.Exec(context.Background(), map[string]any{"source": "binary.exe"})
	var extractErr *ContentExtractionError
	require.ErrorAs(t, err, &extractErr)
	assert.Equal(t, "binary.exe", extractErr.Source)
}
