// Package tool implements the callable actions participants may request: plain
// Go functions with schema validated arguments, the transfer actions generated
// from reasoning handoff rules and a context management tool. Every action runs
// with a *Context giving access to the shared context store and the ability to
// stage a transfer of control.
package tool

import (
	"fmt"

	"github.com/hupe1980/groupmesh/internal/util"
)

// Error codes used by ToolError.
const (
	CodeValidation = "VALIDATION_ERROR"
	CodeExecution  = "EXECUTION_ERROR"
)

// Tool is a callable action exposed to reasoning engines and executed by the
// group's tool executor.
//
// Implementations should:
//   - Provide clear, descriptive names and descriptions
//   - Define a JSON schema for parameters
//   - Be safe for concurrent use when the executor runs calls in parallel
type Tool interface {
	// Name returns the unique identifier for this tool.
	Name() string

	// Description is provided to the reasoning engine to decide when to call
	// the tool.
	Description() string

	// Parameters returns a JSON schema describing the expected input.
	Parameters() map[string]any

	// Call executes the tool. Arguments are decoded from JSON.
	Call(tc *Context, args map[string]any) (any, error)
}

// ValidationError represents parameter validation errors with detailed information.
type ValidationError = util.ValidationError

// ToolError represents errors that occur during tool execution.
type ToolError struct {
	Tool    string `json:"tool"`              // Name of the tool that failed
	Message string `json:"message"`           // Error message
	Code    string `json:"code"`              // Error code for categorization
	Details any    `json:"details,omitempty"` // Additional error details
}

func (e *ToolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// NewToolError creates a new ToolError with the specified details.
func NewToolError(tool, message, code string) *ToolError {
	return &ToolError{
		Tool:    tool,
		Message: message,
		Code:    code,
	}
}

// Names returns the names of tools in order.
func Names(tools []Tool) []string {
	out := make([]string, 0, len(tools))
	for _, t := range tools {
		out = append(out, t.Name())
	}
	return out
}
