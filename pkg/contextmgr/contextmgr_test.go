package contextmgr

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conductor/pkg/llm"
	"conductor/pkg/proto"
)

func TestWindowRoleMapping(t *testing.T) {
	mgr, err := NewManager("gpt-4", 32000)
	require.NoError(t, err)

	history := []proto.Message{
		{Sender: "user", Role: proto.RoleUser, Content: "do the thing"},
		{Sender: "alice", Role: proto.RoleAssistant, Content: "on it"},
		{Sender: "bob", Role: proto.RoleAssistant, Content: "me too"},
		{Sender: "alice", Role: proto.RoleTool, ToolResult: &proto.ToolResult{
			Output: map[string]any{"answer": 42},
		}},
	}

	msgs := mgr.Window("be helpful", history, "alice", 1000)
	require.Len(t, msgs, 5)

	assert.Equal(t, llm.RoleSystem, msgs[0].Role)
	assert.Equal(t, "be helpful", msgs[0].Content)

	assert.Equal(t, llm.RoleUser, msgs[1].Role)
	assert.Equal(t, "do the thing", msgs[1].Content)

	// Own messages become assistant turns.
	assert.Equal(t, llm.RoleAssistant, msgs[2].Role)
	assert.Equal(t, "on it", msgs[2].Content)

	// Other agents read as labeled user content.
	assert.Equal(t, llm.RoleUser, msgs[3].Role)
	assert.Equal(t, "bob: me too", msgs[3].Content)

	assert.Equal(t, llm.RoleTool, msgs[4].Role)
	assert.Contains(t, msgs[4].Content, "[tool result]")
}

func TestWindowToolError(t *testing.T) {
	mgr, err := NewManager("gpt-4", 32000)
	require.NoError(t, err)

	history := []proto.Message{
		{Sender: "alice", Role: proto.RoleTool, ToolResult: &proto.ToolResult{Error: "file not found"}},
	}

	msgs := mgr.Window("", history, "alice", 1000)
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Content, "[tool error]")
	assert.Contains(t, msgs[0].Content, "file not found")
}

func TestWindowPreservesToolCalls(t *testing.T) {
	mgr, err := NewManager("gpt-4", 32000)
	require.NoError(t, err)

	history := []proto.Message{
		{Sender: "alice", Role: proto.RoleAssistant, Content: "", ToolCall: &proto.ToolInvocation{
			Name:          "extract_content",
			Arguments:     map[string]any{"source": "notes.md"},
			CorrelationID: "c1",
		}},
	}

	msgs := mgr.Window("", history, "alice", 1000)
	require.Len(t, msgs, 1)
	require.Len(t, msgs[0].ToolCalls, 1)
	assert.Equal(t, "extract_content", msgs[0].ToolCalls[0].Name)
	assert.Equal(t, "c1", msgs[0].ToolCalls[0].ID)
}

func TestWindowDropsOldest(t *testing.T) {
	mgr, err := NewManager("gpt-4", 500)
	require.NoError(t, err)

	long := strings.Repeat("filler words to burn tokens ", 80)
	history := []proto.Message{
		{Sender: "user", Role: proto.RoleUser, Content: "oldest " + long},
		{Sender: "alice", Role: proto.RoleAssistant, Content: "middle " + long},
		{Sender: "user", Role: proto.RoleUser, Content: "newest question"},
	}

	msgs := mgr.Window("stay focused", history, "alice", 200)

	// The system prompt and the newest message always survive.
	require.NotEmpty(t, msgs)
	assert.Equal(t, llm.RoleSystem, msgs[0].Role)
	last := msgs[len(msgs)-1]
	assert.Equal(t, "newest question", last.Content)

	for _, m := range msgs {
		assert.NotContains(t, m.Content, "oldest")
	}
}

func TestWindowKeepsEverythingUnderBudget(t *testing.T) {
	mgr, err := NewManager("gpt-4", 32000)
	require.NoError(t, err)

	history := []proto.Message{
		{Sender: "user", Role: proto.RoleUser, Content: "short one"},
		{Sender: "alice", Role: proto.RoleAssistant, Content: "short two"},
	}

	msgs := mgr.Window("sys", history, "alice", 1000)
	assert.Len(t, msgs, 3)
}
