// Package tool exposes flows to a model's function-calling surface. A tool
// flow (or a built-in tool that synthesizes one) becomes a Tool whose Call
// runs the flow in a child ExecutionContext.
package tool

import (
	"context"
	"fmt"

	"github.com/hupe1980/flowmesh/core"
)

// Error codes carried by ToolError.
const (
	CodeValidation   = "VALIDATION_ERROR"
	CodeExecution    = "EXECUTION_ERROR"
	CodeToolsExecute = "TOOLS_EXECUTE_FAILED"
)

// Tool is one callable function offered to a model.
//
// Call receives the run that owns the model turn. Implementations must not
// mutate exec; flow-backed tools work on a cloned context.
type Tool interface {
	// Name is the function name the model calls.
	Name() string
	Description() string
	// Parameters is a JSON schema object describing the arguments.
	Parameters() map[string]any
	Call(ctx context.Context, exec *core.ExecutionContext, args map[string]any) (any, error)
}

// ToolError represents errors that occur during tool execution.
type ToolError struct {
	Tool    string `json:"tool"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Details any    `json:"details,omitempty"`
	Err     error  `json:"-"`
}

func (e *ToolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

func (e *ToolError) Unwrap() error { return e.Err }

// NewToolError creates a new ToolError with the specified details.
func NewToolError(tool, message, code string) *ToolError {
	return &ToolError{
		Tool:    tool,
		Message: message,
		Code:    code,
	}
}

// Definition is the function-calling declaration of a tool.
func Definition(t Tool) map[string]any {
	return map[string]any{
		"type": "function",
		"function": map[string]any{
			"name":        t.Name(),
			"description": t.Description(),
			"parameters":  t.Parameters(),
		},
	}
}

// Definitions returns the declarations of tools, in order.
func Definitions(tools []Tool) []map[string]any {
	out := make([]map[string]any, 0, len(tools))
	for _, t := range tools {
		out = append(out, Definition(t))
	}
	return out
}
