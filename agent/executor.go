package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/flowmesh/core"
	"github.com/hupe1980/flowmesh/tool"
)

// CallExecutor runs the function calls of one model turn.
type CallExecutor interface {
	Execute(ctx context.Context, exec *core.ExecutionContext, tools map[string]tool.Tool, calls []core.FunctionCall) ([]CallResult, error)
}

// CallResult is the outcome of one function call.
type CallResult struct {
	Call      core.FunctionCall
	Arguments map[string]any
	Result    any
	Err       error
	Elapsed   time.Duration
}

// CallExecutorConfig configures the default executor.
type CallExecutorConfig struct {
	// MaxParallel bounds concurrent calls of one turn; values below 2 run sequentially.
	MaxParallel int
}

type callExecutor struct {
	cfg CallExecutorConfig
}

// NewCallExecutor constructs the default executor. Results always keep the
// order of the incoming calls.
func NewCallExecutor(cfg CallExecutorConfig) CallExecutor {
	return &callExecutor{cfg: cfg}
}

// Execute runs calls and returns one result per call. A call that fails
// inside a nested flow (or exceeds the nesting bound) aborts the batch with
// that error; any other failure is reported in its CallResult.
func (e *callExecutor) Execute(ctx context.Context, exec *core.ExecutionContext, tools map[string]tool.Tool, calls []core.FunctionCall) ([]CallResult, error) {
	n := len(calls)
	if n == 0 {
		return nil, nil
	}

	results := make([]CallResult, n)
	batchStart := time.Now()

	if e.cfg.MaxParallel < 2 || n == 1 {
		for i, fc := range calls {
			results[i] = e.executeSingle(ctx, exec, tools, fc)
			if fatal(results[i].Err) {
				return results[:i+1], results[i].Err
			}
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(e.cfg.MaxParallel)
		for i, fc := range calls {
			g.Go(func() error {
				results[i] = e.executeSingle(gctx, exec, tools, fc)
				if fatal(results[i].Err) {
					return results[i].Err
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return results, err
		}
	}

	exec.LogDebug(
		"llm.tool_calls.batch.complete",
		"count", n,
		"parallelism", max(e.cfg.MaxParallel, 1),
		"duration_ms", time.Since(batchStart).Milliseconds(),
	)
	return results, nil
}

func (e *callExecutor) executeSingle(ctx context.Context, exec *core.ExecutionContext, tools map[string]tool.Tool, fc core.FunctionCall) (res CallResult) {
	res.Call = fc
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("panic in tool %s: %v\n%s", fc.Name, r, debug.Stack())
			exec.LogError("llm.tool_call.panic", "tool", fc.Name, "recover", r)
		}
		res.Elapsed = time.Since(start)
		exec.LogInfo(
			"llm.tool_call.executed",
			"tool", fc.Name,
			"tool_call_id", fc.ID,
			"duration_ms", res.Elapsed.Milliseconds(),
			"error", res.Err != nil,
		)
	}()

	t, ok := tools[fc.Name]
	if !ok {
		res.Err = tool.NewToolError(fc.Name, "tool not found", tool.CodeExecution)
		return res
	}

	args := map[string]any{}
	if fc.Arguments != "" {
		if err := json.Unmarshal([]byte(fc.Arguments), &args); err != nil {
			res.Err = &tool.ToolError{Tool: fc.Name, Message: "invalid arguments: " + err.Error(), Code: tool.CodeValidation, Err: err}
			return res
		}
	}
	res.Arguments = args
	res.Result, res.Err = t.Call(ctx, exec, args)
	return res
}

// fatal reports errors that must halt the calling LLM node instead of being
// returned to the model.
func fatal(err error) bool {
	if err == nil {
		return false
	}
	var te *core.ToolExecutionError
	return errors.As(err, &te) || errors.Is(err, core.ErrMaxDepthExceeded)
}
