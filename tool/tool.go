// Package tool implements the function calling subsystem that lets the
// completion service invoke structured capabilities (memory writes today)
// with schema validated arguments and consistent error handling.
package tool

import (
	"context"
	"fmt"
)

// Tool defines a named capability the completion service may request during a
// run. Implementations should provide clear names and descriptions, define a
// proper JSON schema for parameters, and be safe for concurrent use.
type Tool interface {
	// Name returns the unique identifier for this tool (snake_case recommended).
	Name() string

	// Description returns a human-readable description provided to the model.
	Description() string

	// Parameters returns a JSON schema describing the expected arguments.
	Parameters() map[string]any

	// Call executes the tool with arguments already decoded from JSON.
	Call(ctx context.Context, args map[string]any) (any, error)
}

// ToolError represents errors that occur during tool execution.
type ToolError struct {
	Tool    string `json:"tool"`    // Name of the tool that failed
	Message string `json:"message"` // Error message
	Code    string `json:"code"`    // Error code for categorization
}

func (e *ToolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// NewToolError creates a new ToolError with the specified details.
func NewToolError(tool, message, code string) *ToolError {
	return &ToolError{Tool: tool, Message: message, Code: code}
}

// Registry is the capability set offered to a run, keyed by tool name.
type Registry map[string]Tool

// NewRegistry builds a Registry from a tool list, rejecting duplicate names.
func NewRegistry(tools ...Tool) (Registry, error) {
	reg := make(Registry, len(tools))
	for _, t := range tools {
		if _, exists := reg[t.Name()]; exists {
			return nil, fmt.Errorf("tool: duplicate name %q", t.Name())
		}
		reg[t.Name()] = t
	}
	return reg, nil
}

// Lookup returns the tool registered under name, if any.
func (r Registry) Lookup(name string) (Tool, bool) {
	t, ok := r[name]
	return t, ok
}
