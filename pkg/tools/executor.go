package tools

import (
	"context"
	"errors"
	"fmt"
	"time"

	"conductor/pkg/logx"
	"conductor/pkg/proto"
)

// ErrUnauthorizedTool is returned when an agent invokes a tool outside its
// allowed set.
var ErrUnauthorizedTool = errors.New("tool not authorized for agent")

// ExecutionError wraps a failure inside a tool's Exec. It is reported back to
// the calling agent as a tool-role result rather than aborting the run.
type ExecutionError struct {
	Err  error
	Tool string
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("tool %s execution failed: %v", e.Tool, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// Executor runs tool invocations on behalf of agents, enforcing per-agent
// authorization and argument schemas.
type Executor struct {
	registry *Registry
	logger   *logx.Logger
	timeout  time.Duration
}

// DefaultExecTimeout bounds a single tool execution.
const DefaultExecTimeout = 30 * time.Second

// NewExecutor creates an executor over the given registry.
func NewExecutor(registry *Registry, timeout time.Duration) *Executor {
	if timeout <= 0 {
		timeout = DefaultExecTimeout
	}
	return &Executor{
		registry: registry,
		logger:   logx.NewLogger("tools"),
		timeout:  timeout,
	}
}

// Invoke executes a single tool invocation for the named agent. Authorization
// failures and execution failures are both folded into the returned
// ToolResult so the scheduler can surface them to the model; only context
// cancellation propagates as a Go error.
func (e *Executor) Invoke(ctx context.Context, agent proto.AgentID, allowed []string, call *proto.ToolInvocation) (*proto.ToolResult, error) {
	result := &proto.ToolResult{CorrelationID: call.CorrelationID}

	if !contains(allowed, call.Name) {
		e.logger.Warn("agent %s attempted unauthorized tool %s", agent, call.Name)
		result.Error = fmt.Sprintf("%v: %s", ErrUnauthorizedTool, call.Name)
		return result, nil
	}

	tool, ok := e.registry.Get(call.Name)
	if !ok {
		result.Error = fmt.Sprintf("unknown tool: %s", call.Name)
		return result, nil
	}

	if err := ValidateArgs(tool.Definition().InputSchema, call.Arguments); err != nil {
		result.Error = fmt.Sprintf("invalid arguments for %s: %v", call.Name, err)
		return result, nil
	}

	execCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	output, err := tool.Exec(execCtx, call.Arguments)
	elapsed := time.Since(start)

	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		e.logger.Warn("tool %s failed for agent %s after %v: %v", call.Name, agent, elapsed, err)
		execErr := &ExecutionError{Tool: call.Name, Err: err}
		result.Error = execErr.Error()
		return result, nil
	}

	e.logger.Debug("tool %s completed for agent %s in %v", call.Name, agent, elapsed)
	result.Output = output
	return result, nil
}

func contains(list []string, item string) bool {
	for _, v := range list {
		if v == item {
			return true
		}
	}
	return false
}
