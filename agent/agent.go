package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hupe1980/flowmesh/core"
	"github.com/hupe1980/flowmesh/model"
	"github.com/hupe1980/flowmesh/tool"
)

// DefaultMaxTurns bounds the model turns of one LLM node run.
const DefaultMaxTurns = 10

// Options configures Run.
type Options struct {
	MaxTurns     int
	CallExecutor CallExecutor
}

// ToolCallRecord describes one function call made during a run.
type ToolCallRecord struct {
	ID           string
	Name         string
	Success      bool
	ErrorMessage string
	Arguments    map[string]any
	CallResult   string
	Elapsed      time.Duration
}

// ToMap returns the shape exposed in the LLM node output.
func (r ToolCallRecord) ToMap() map[string]any {
	args := r.Arguments
	if args == nil {
		args = map[string]any{}
	}
	return map[string]any{
		"name":          r.Name,
		"success":       r.Success,
		"error_message": r.ErrorMessage,
		"arguments":     args,
		"call_result":   r.CallResult,
		"elapsed_time":  r.Elapsed.Milliseconds(),
	}
}

// Result is the outcome of Run.
type Result struct {
	Response  model.Response
	Text      string
	Reasoning string
	ToolCalls []ToolCallRecord
	Usage     model.TokenUsage
	Turns     int
}

// Run drives m through the function-calling loop: each turn's function calls
// are executed and their results fed back until the model answers without
// calling a tool.
func Run(ctx context.Context, exec *core.ExecutionContext, m model.Model, req model.Request, tools []tool.Tool, optFns ...func(o *Options)) (*Result, error) {
	opts := Options{MaxTurns: DefaultMaxTurns}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxTurns <= 0 {
		opts.MaxTurns = DefaultMaxTurns
	}
	if opts.CallExecutor == nil {
		opts.CallExecutor = NewCallExecutor(CallExecutorConfig{})
	}

	registry := make(map[string]tool.Tool, len(tools))
	req.Tools = req.Tools[:0:0]
	for _, t := range tools {
		registry[t.Name()] = t
		req.Tools = append(req.Tools, model.ToolDefinition{
			Type: "function",
			Function: model.FunctionDefinition{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}
	req.Contents = append([]core.Content(nil), req.Contents...)

	res := &Result{}
	for res.Turns < opts.MaxTurns {
		res.Turns++

		resp, err := model.Collect(ctx, m, req)
		if err != nil {
			return nil, fmt.Errorf("model %s: %w", m.Info().Name, err)
		}
		if resp.Usage != nil {
			res.Usage.PromptTokens += resp.Usage.PromptTokens
			res.Usage.CompletionTokens += resp.Usage.CompletionTokens
			res.Usage.TotalTokens += resp.Usage.TotalTokens
		}
		if resp.Reasoning != "" {
			res.Reasoning = resp.Reasoning
		}
		res.Response = resp

		calls := resp.Content.FunctionCalls()
		if len(calls) == 0 {
			res.Text = resp.Content.Text()
			return res, nil
		}

		assistant := resp.Content
		if assistant.Role == "" {
			assistant.Role = "assistant"
		}
		req.Contents = append(req.Contents, assistant)

		results, err := opts.CallExecutor.Execute(ctx, exec, registry, calls)
		res.ToolCalls = append(res.ToolCalls, records(results)...)
		if err != nil {
			return nil, err
		}

		parts := make([]core.Part, 0, len(results))
		for _, r := range results {
			fr := core.FunctionResponse{ID: r.Call.ID, Name: r.Call.Name, Response: r.Result}
			if r.Err != nil {
				fr.Error = r.Err.Error()
			}
			parts = append(parts, core.FunctionResponsePart{FunctionResponse: fr})
		}
		req.Contents = append(req.Contents, core.Content{Role: "tool", Parts: parts})
	}

	return nil, fmt.Errorf("model %s did not finish within %d turns", m.Info().Name, opts.MaxTurns)
}

func records(results []CallResult) []ToolCallRecord {
	out := make([]ToolCallRecord, 0, len(results))
	for _, r := range results {
		rec := ToolCallRecord{
			ID:        r.Call.ID,
			Name:      r.Call.Name,
			Success:   r.Err == nil,
			Arguments: r.Arguments,
			Elapsed:   r.Elapsed,
		}
		if r.Err != nil {
			rec.ErrorMessage = r.Err.Error()
		}
		switch v := r.Result.(type) {
		case nil:
		case string:
			rec.CallResult = v
		default:
			if b, err := json.Marshal(v); err == nil {
				rec.CallResult = string(b)
			}
		}
		out = append(out, rec)
	}
	return out
}
