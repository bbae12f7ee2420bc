// Package proto defines the message model shared between agents, tools, and the scheduler.
package proto

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AgentID identifies a participant in a conversation.
type AgentID string

// Role represents the role of a message within a conversation.
type Role string

const (
	// RoleSystem marks instruction messages injected by configuration.
	RoleSystem Role = "system"
	// RoleUser marks messages originating outside the agent pool (the task prompt).
	RoleUser Role = "user"
	// RoleAssistant marks messages produced by an agent's model turn.
	RoleAssistant Role = "assistant"
	// RoleTool marks messages carrying tool execution results or tool errors.
	RoleTool Role = "tool"
)

// ToolInvocation is a request by an agent to run a named tool.
type ToolInvocation struct {
	Arguments     map[string]any `json:"arguments"`
	Name          string         `json:"name"`
	CorrelationID string         `json:"correlation_id"`
}

// ToolResult is the outcome of exactly one prior ToolInvocation, matched by
// correlation ID.
type ToolResult struct {
	Output        map[string]any `json:"output,omitempty"`
	CorrelationID string         `json:"correlation_id"`
	Error         string         `json:"error,omitempty"`
}

// Failed reports whether the tool invocation ended in an error.
func (r *ToolResult) Failed() bool {
	return r.Error != ""
}

// Message is one entry in a conversation. Messages are immutable once appended.
type Message struct {
	Timestamp  time.Time       `json:"timestamp"`
	ToolCall   *ToolInvocation `json:"tool_call,omitempty"`
	ToolResult *ToolResult     `json:"tool_result,omitempty"`
	Sender     AgentID         `json:"sender"`
	Role       Role            `json:"role"`
	Content    string          `json:"content"`
	Seq        int64           `json:"seq"`
}

// NewCorrelationID returns a fresh correlation ID for a tool invocation.
func NewCorrelationID() string {
	return uuid.New().String()
}

// NewRunID returns a fresh orchestration run ID.
func NewRunID() string {
	return uuid.New().String()
}

// ToJSON serializes the message for event logging and persistence.
func (m *Message) ToJSON() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}
	return data, nil
}

// FromJSON deserializes a message.
func FromJSON(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message: %w", err)
	}
	return &msg, nil
}

// String returns a short human-readable form for logs.
func (m *Message) String() string {
	if m.ToolCall != nil {
		return fmt.Sprintf("[%d] %s/%s -> tool %s", m.Seq, m.Sender, m.Role, m.ToolCall.Name)
	}
	content := m.Content
	if len(content) > 60 {
		content = content[:60] + "..."
	}
	return fmt.Sprintf("[%d] %s/%s: %s", m.Seq, m.Sender, m.Role, content)
}
