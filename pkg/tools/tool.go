// Package tools provides the tool registry and capability-gated execution for agent tool calls.
package tools

import (
	"context"
	"fmt"
)

// Property defines a single parameter in a tool's input schema.
type Property struct {
	Properties  map[string]Property `json:"properties,omitempty"`
	Items       *Property           `json:"items,omitempty"`
	Type        string              `json:"type"`
	Description string              `json:"description,omitempty"`
	Enum        []string            `json:"enum,omitempty"`
}

// InputSchema describes the JSON schema of a tool's arguments.
type InputSchema struct {
	Properties map[string]Property `json:"properties"`
	Type       string              `json:"type"`
	Required   []string            `json:"required,omitempty"`
}

// ToolDefinition is the provider-facing description of a tool.
type ToolDefinition struct {
	InputSchema InputSchema `json:"input_schema"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
}

// Tool is the interface implemented by all executable tools.
type Tool interface {
	// Name returns the unique tool name used in invocations.
	Name() string

	// Definition returns the schema advertised to models.
	Definition() ToolDefinition

	// Exec runs the tool with validated arguments.
	Exec(ctx context.Context, args map[string]any) (map[string]any, error)
}

// ValidateArgs checks args against the schema's required list and known
// properties. Extra keys are rejected to surface model hallucinations early.
func ValidateArgs(schema InputSchema, args map[string]any) error {
	for _, name := range schema.Required {
		if _, ok := args[name]; !ok {
			return fmt.Errorf("missing required argument %q", name)
		}
	}
	for name := range args {
		if _, ok := schema.Properties[name]; !ok {
			return fmt.Errorf("unknown argument %q", name)
		}
	}
	return nil
}

// GetString extracts a string argument, returning an error when absent or
// wrongly typed.
func GetString(args map[string]any, key string) (string, error) {
	raw, ok := args[key]
	if !ok {
		return "", fmt.Errorf("missing required argument %q", key)
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("argument %q must be a string, got %T", key, raw)
	}
	return s, nil
}

// GetInt extracts an integer argument. JSON decoding produces float64, so both
// forms are accepted.
func GetInt(args map[string]any, key string, fallback int) (int, error) {
	raw, ok := args[key]
	if !ok {
		return fallback, nil
	}
	switch v := raw.(type) {
	case int:
		return v, nil
	case float64:
		return int(v), nil
	default:
		return 0, fmt.Errorf("argument %q must be a number, got %T", key, raw)
	}
}
