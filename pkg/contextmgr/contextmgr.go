// Package contextmgr builds token-budgeted model contexts from conversation
// history.
package contextmgr

import (
	"fmt"

	"conductor/pkg/llm"
	"conductor/pkg/logx"
	"conductor/pkg/proto"
	"conductor/pkg/tokens"
)

// DefaultMaxTokens is the context budget used when none is configured.
const DefaultMaxTokens = 32000

// Manager converts conversation history into completion messages that fit a
// model's context window. When history exceeds the budget, the oldest
// non-system messages are dropped first; the system prompt always survives.
type Manager struct {
	counter   *tokens.Counter
	logger    *logx.Logger
	maxTokens int
}

// NewManager creates a context manager with the given token budget.
func NewManager(model string, maxTokens int) (*Manager, error) {
	counter, err := tokens.NewCounter(model)
	if err != nil {
		return nil, fmt.Errorf("failed to create token counter: %w", err)
	}
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return &Manager{
		counter:   counter,
		logger:    logx.NewLogger("contextmgr"),
		maxTokens: maxTokens,
	}, nil
}

// Window builds the completion messages for one turn of the given agent.
// Messages authored by the agent map to the assistant role; everything else
// is presented as user content labeled with its sender. Tool results keep the
// tool role so providers can match them to prior calls.
func (m *Manager) Window(systemPrompt string, history []proto.Message, self proto.AgentID, completionBudget int) []llm.CompletionMessage {
	budget := m.maxTokens - completionBudget - m.counter.Count(systemPrompt)
	if budget < 0 {
		budget = 0
	}

	converted := make([]llm.CompletionMessage, 0, len(history))
	costs := make([]int, 0, len(history))
	total := 0
	for i := range history {
		msg := convert(&history[i], self)
		cost := m.counter.Count(msg.Content)
		converted = append(converted, msg)
		costs = append(costs, cost)
		total += cost
	}

	// Drop from the front until the window fits.
	start := 0
	for start < len(converted)-1 && total > budget {
		total -= costs[start]
		start++
	}
	if start > 0 {
		m.logger.Debug("dropped %d oldest messages to fit context budget for agent %s", start, self)
	}

	out := make([]llm.CompletionMessage, 0, len(converted)-start+1)
	if systemPrompt != "" {
		out = append(out, llm.NewSystemMessage(systemPrompt))
	}
	out = append(out, converted[start:]...)
	return out
}

// TokenCount returns the token footprint of a message set.
func (m *Manager) TokenCount(messages []llm.CompletionMessage) int {
	total := 0
	for i := range messages {
		total += m.counter.Count(messages[i].Content)
	}
	return total
}

func convert(msg *proto.Message, self proto.AgentID) llm.CompletionMessage {
	switch {
	case msg.Role == proto.RoleTool:
		content := msg.Content
		if msg.ToolResult != nil {
			if msg.ToolResult.Failed() {
				content = fmt.Sprintf("[tool error] %s", msg.ToolResult.Error)
			} else {
				content = fmt.Sprintf("[tool result] %v", msg.ToolResult.Output)
			}
		}
		return llm.CompletionMessage{Role: llm.RoleTool, Content: content}
	case msg.Sender == self && msg.Role == proto.RoleAssistant:
		out := llm.CompletionMessage{Role: llm.RoleAssistant, Content: msg.Content}
		if msg.ToolCall != nil {
			out.ToolCalls = []llm.ToolCall{{
				ID:         msg.ToolCall.CorrelationID,
				Name:       msg.ToolCall.Name,
				Parameters: msg.ToolCall.Arguments,
			}}
		}
		return out
	case msg.Role == proto.RoleUser:
		return llm.NewUserMessage(msg.Content)
	default:
		// Another agent's turn reads as user content, labeled by sender.
		return llm.NewUserMessage(fmt.Sprintf("%s: %s", msg.Sender, msg.Content))
	}
}
