// Package agent implements conversation participants backed by routed LLM
// completions.
package agent

import (
	"context"
	"fmt"
	"strings"

	"conductor/pkg/contextmgr"
	"conductor/pkg/llm"
	"conductor/pkg/logx"
	"conductor/pkg/proto"
	"conductor/pkg/resilience"
	"conductor/pkg/router"
	"conductor/pkg/tools"
)

// TerminateMarker is the token an agent emits to vote for ending the run.
const TerminateMarker = "TERMINATE"

// VotePredicate decides whether a message constitutes a termination vote.
type VotePredicate func(content string) bool

// DefaultVotePredicate votes to terminate when the marker appears in the
// message.
func DefaultVotePredicate(content string) bool {
	return strings.Contains(content, TerminateMarker)
}

// Spec declares an agent's identity, prompt, and permissions.
type Spec struct {
	// ID uniquely names the agent within a run.
	ID proto.AgentID
	// Role is a short human-readable description used in logs.
	Role string
	// SystemPrompt seeds every turn's context.
	SystemPrompt string
	// Tools lists the tool names this agent may invoke.
	Tools []string
	// RequiredCapabilities constrains routing to endpoints advertising them.
	RequiredCapabilities []string
	// PreferEndpoint pins a primary endpoint when it is healthy.
	PreferEndpoint string
	// MaxTokens bounds each completion; zero uses the default.
	MaxTokens int
	// Temperature overrides the default when positive.
	Temperature float32
	// CanVote marks the agent as a participant in termination voting.
	CanVote bool
	// Vote overrides DefaultVotePredicate when set.
	Vote VotePredicate
}

// Turn is the outcome of one agent turn: the assistant message plus any tool
// invocation it requested.
type Turn struct {
	Message  proto.Message
	ToolCall *proto.ToolInvocation
	// VotedTerminate reports whether this turn counts as a termination vote.
	VotedTerminate bool
	// EndpointID names the endpoint that served the turn.
	EndpointID string
}

// Agent produces turns by completing against the routed provider pool.
type Agent struct {
	spec     Spec
	executor *resilience.Executor
	ctxmgr   *contextmgr.Manager
	registry *tools.Registry
	logger   *logx.Logger
}

// New creates an agent from its spec.
func New(spec Spec, executor *resilience.Executor, ctxmgr *contextmgr.Manager, registry *tools.Registry) (*Agent, error) {
	if spec.ID == "" {
		return nil, fmt.Errorf("agent ID is required")
	}
	if spec.Vote == nil {
		spec.Vote = DefaultVotePredicate
	}
	return &Agent{
		spec:     spec,
		executor: executor,
		ctxmgr:   ctxmgr,
		registry: registry,
		logger:   logx.NewLogger("agent." + string(spec.ID)),
	}, nil
}

// ID returns the agent's identifier.
func (a *Agent) ID() proto.AgentID {
	return a.spec.ID
}

// CanVote reports whether the agent participates in termination voting.
func (a *Agent) CanVote() bool {
	return a.spec.CanVote
}

// AllowedTools returns the tool names this agent may invoke.
func (a *Agent) AllowedTools() []string {
	return a.spec.Tools
}

// ProposeTurn runs one model turn over the conversation history and returns
// the resulting assistant message. The message is not appended to the
// conversation; the scheduler owns that.
func (a *Agent) ProposeTurn(ctx context.Context, history []proto.Message) (Turn, error) {
	maxTokens := a.spec.MaxTokens
	if maxTokens <= 0 {
		maxTokens = llm.DefaultMaxTokens
	}

	messages := a.ctxmgr.Window(a.spec.SystemPrompt, history, a.spec.ID, maxTokens)
	req := llm.NewCompletionRequest(messages)
	req.MaxTokens = maxTokens
	if a.spec.Temperature > 0 {
		req.Temperature = a.spec.Temperature
	}

	required := a.spec.RequiredCapabilities
	if len(a.spec.Tools) > 0 {
		req.Tools = a.registry.Definitions(a.spec.Tools)
		if !hasCapability(required, "tools") {
			required = append(append([]string{}, required...), "tools")
		}
	}

	result, err := a.executor.Execute(ctx, string(a.spec.ID), req, router.Request{
		RequiredCapabilities: required,
		Prefer:               a.spec.PreferEndpoint,
	})
	if err != nil {
		return Turn{}, err
	}
	resp := result.Response

	turn := Turn{
		Message: proto.Message{
			Sender:  a.spec.ID,
			Role:    proto.RoleAssistant,
			Content: resp.Content,
		},
		EndpointID: result.EndpointID,
	}

	if len(resp.ToolCalls) > 0 {
		call := resp.ToolCalls[0]
		if len(resp.ToolCalls) > 1 {
			a.logger.Warn("model returned %d tool calls, executing only the first", len(resp.ToolCalls))
		}
		correlationID := call.ID
		if correlationID == "" {
			correlationID = proto.NewCorrelationID()
		}
		turn.ToolCall = &proto.ToolInvocation{
			Name:          call.Name,
			Arguments:     call.Parameters,
			CorrelationID: correlationID,
		}
		turn.Message.ToolCall = turn.ToolCall
	}

	if a.spec.CanVote && turn.ToolCall == nil && a.spec.Vote(resp.Content) {
		turn.VotedTerminate = true
	}

	a.logger.Debug("turn complete via %s (stop=%s, tool=%v, vote=%v)",
		result.EndpointID, resp.StopReason, turn.ToolCall != nil, turn.VotedTerminate)
	return turn, nil
}

func hasCapability(list []string, cap string) bool {
	for _, c := range list {
		if c == cap {
			return true
		}
	}
	return false
}
