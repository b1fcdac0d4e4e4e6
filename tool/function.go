package tool

import (
	"context"
	"errors"
	"time"

	"github.com/hupe1980/flowmesh/core"
	"github.com/hupe1980/flowmesh/internal/util"
)

// CallFunc is the body of a FunctionTool.
type CallFunc func(ctx context.Context, exec *core.ExecutionContext, args map[string]any) (any, error)

// FunctionTool is a Tool backed by a Go function. Flow-backed tools are
// FunctionTools whose body runs the flow through the Executor.
//
// Arguments are checked against the parameter schema before the body runs.
// Every failure reaches the caller as a *ToolError; a body that already
// returns one keeps its code, anything else becomes EXECUTION_ERROR.
type FunctionTool struct {
	name        string
	description string
	parameters  map[string]any
	call        CallFunc
}

// NewFunctionTool returns a FunctionTool. A nil schema accepts any object.
func NewFunctionTool(name, description string, parameters map[string]any, call CallFunc) *FunctionTool {
	if parameters == nil {
		parameters = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return &FunctionTool{name: name, description: description, parameters: parameters, call: call}
}

// Name implements Tool.
func (t *FunctionTool) Name() string { return t.name }

// Description implements Tool.
func (t *FunctionTool) Description() string { return t.description }

// Parameters implements Tool.
func (t *FunctionTool) Parameters() map[string]any { return t.parameters }

// Call implements Tool.
func (t *FunctionTool) Call(ctx context.Context, exec *core.ExecutionContext, args map[string]any) (any, error) {
	began := time.Now()

	if err := util.CheckArguments(args, t.parameters); err != nil {
		exec.LogWarn("tool.call.invalid_arguments", "tool", t.name, "error", err.Error())
		return nil, &ToolError{Tool: t.name, Message: err.Error(), Code: CodeValidation, Details: err, Err: err}
	}

	out, err := t.call(ctx, exec, args)
	if err != nil {
		te := &ToolError{}
		if !errors.As(err, &te) {
			te = &ToolError{Tool: t.name, Message: err.Error(), Code: CodeExecution, Err: err}
		}
		exec.LogError("tool.call.failed", "tool", t.name, "code", te.Code, "error", te.Message)
		return nil, te
	}

	exec.LogDebug("tool.call.done", "tool", t.name, "duration_ms", time.Since(began).Milliseconds())
	return out, nil
}
