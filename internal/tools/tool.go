package tools

import (
	"context"
	"encoding/json"
	"fmt"
)

// ToolResult represents the result of a tool execution
type ToolResult struct {
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
}

// Tool defines the interface for tools that can be called by the agent
type Tool interface {
	// Name returns the unique name of the tool
	Name() string

	// Description returns a description of what the tool does
	Description() string

	// Parameters returns the JSON Schema for the tool's parameters
	Parameters() json.RawMessage

	// Execute runs the tool with the given arguments and returns the result.
	// Failures the model can react to belong in ToolResult.IsError; a returned
	// error is reserved for the caller's own faults.
	Execute(ctx context.Context, args json.RawMessage) (ToolResult, error)
}

// ErrorResult builds an IsError result from a format string.
func ErrorResult(format string, args ...any) ToolResult {
	return ToolResult{Content: fmt.Sprintf(format, args...), IsError: true}
}

// JSONResult renders v as indented JSON for the model.
func JSONResult(v any) ToolResult {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return ErrorResult("failed to encode result: %v", err)
	}
	return ToolResult{Content: string(raw)}
}
