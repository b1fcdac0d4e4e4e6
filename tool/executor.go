package tool

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"sync"
	"time"
	"unicode"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/flowmesh/core"
	"github.com/hupe1980/flowmesh/logging"
)

// DefaultMaxDepth bounds how deeply flows may invoke each other as tools.
const DefaultMaxDepth = 10

// FlowRunner runs a flow to completion in the given context and returns the
// end node output.
type FlowRunner interface {
	RunFlow(ctx context.Context, exec *core.ExecutionContext, f *core.Flow) (map[string]any, error)
}

// FlowLookup resolves flows by code for an organization. Unknown codes are
// omitted from the result.
type FlowLookup interface {
	GetByCodes(ctx context.Context, orgCode string, codes []string) ([]*core.Flow, error)
}

// OptionTool selects one tool for an LLM node.
type OptionTool struct {
	ToolID    string `json:"tool_id" yaml:"tool_id" validate:"required"`
	ToolSetID string `json:"tool_set_id,omitempty" yaml:"tool_set_id"`
	Async     bool   `json:"async,omitempty" yaml:"async"`
	// CustomSystemInput is evaluated against the calling run and handed to the
	// tool flow as system params.
	CustomSystemInput *core.Form `json:"custom_system_input,omitempty" yaml:"custom_system_input"`
}

// ExecutorOptions configures an Executor.
type ExecutorOptions struct {
	// MaxDepth is the deepest nesting level a tool run may reach.
	MaxDepth int
	BuiltIns *Registry
	Tracer   trace.Tracer
}

// Executor bridges function calls to recursive flow runs.
type Executor struct {
	runner FlowRunner
	flows  FlowLookup
	opts   ExecutorOptions

	pending inflight
}

// NewExecutor creates an Executor. flows may be nil when only built-in tools are used.
func NewExecutor(runner FlowRunner, flows FlowLookup, optFns ...func(o *ExecutorOptions)) *Executor {
	opts := ExecutorOptions{
		MaxDepth: DefaultMaxDepth,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("github.com/hupe1980/flowmesh/tool")
	}
	return &Executor{runner: runner, flows: flows, opts: opts}
}

// BuiltIns returns the built-in tool registry.
func (x *Executor) BuiltIns() *Registry { return x.opts.BuiltIns }

// MaxDepth returns the configured nesting bound.
func (x *Executor) MaxDepth() int { return x.opts.MaxDepth }

// ToolFlows resolves option tool codes to flows. Built-in tools take
// precedence and are synthesized for the organization; the rest is looked up
// and filtered to enabled tool flows.
func (x *Executor) ToolFlows(ctx context.Context, orgCode string, codes []string) ([]*core.Flow, error) {
	var (
		out  []*core.Flow
		rest []string
	)
	for _, code := range codes {
		if bt, ok := x.opts.BuiltIns.Tool(code); ok {
			out = append(out, bt.GenerateToolFlow(orgCode))
			continue
		}
		rest = append(rest, code)
	}
	if len(rest) == 0 || x.flows == nil {
		return out, nil
	}
	found, err := x.flows.GetByCodes(ctx, orgCode, rest)
	if err != nil {
		return nil, fmt.Errorf("lookup tool flows: %w", err)
	}
	for _, f := range found {
		if f != nil && f.Enabled && f.IsTool() {
			out = append(out, f)
		}
	}
	return out, nil
}

// CreateTools builds the callable tools for options. Options whose flow is
// missing, disabled or not a tool flow are skipped. Tool order follows options.
func (x *Executor) CreateTools(ctx context.Context, exec *core.ExecutionContext, options []OptionTool) ([]Tool, error) {
	byCode := make(map[string]OptionTool, len(options))
	codes := make([]string, 0, len(options))
	for _, o := range options {
		if o.ToolID == "" {
			continue
		}
		if _, dup := byCode[o.ToolID]; !dup {
			codes = append(codes, o.ToolID)
		}
		byCode[o.ToolID] = o
	}

	flows, err := x.ToolFlows(ctx, exec.Operator().OrganizationCode, codes)
	if err != nil {
		return nil, err
	}
	flowByCode := make(map[string]*core.Flow, len(flows))
	for _, f := range flows {
		if !f.Enabled || !f.IsTool() {
			continue
		}
		flowByCode[f.Code] = f
	}

	data := exec.ExpressionFieldData()
	names := map[string]bool{}
	tools := make([]Tool, 0, len(flowByCode))
	for _, code := range codes {
		f, ok := flowByCode[code]
		if !ok {
			exec.LogDebug("tool.create.skipped", "tool_id", code)
			continue
		}
		opt := byCode[code]

		csi, err := opt.CustomSystemInput.EvaluateMap(data)
		if err != nil {
			return nil, fmt.Errorf("evaluate custom system input of %s: %w", code, err)
		}

		name := SanitizeName(f.Name, f.Code)
		if names[name] {
			exec.LogWarn("tool.create.duplicate_name", "tool", name, "tool_id", code)
			continue
		}
		names[name] = true

		tools = append(tools, x.flowTool(name, f, opt, csi))
	}
	return tools, nil
}

func (x *Executor) flowTool(name string, f *core.Flow, opt OptionTool, csi map[string]any) Tool {
	params := map[string]any{"type": "object", "properties": map[string]any{}}
	if f.Input != nil && f.Input.Type == "object" {
		params = f.Input.ToJSONSchema()
	}
	return NewFunctionTool(name, f.Description, params,
		func(ctx context.Context, exec *core.ExecutionContext, args map[string]any) (any, error) {
			out, err := x.Handle(ctx, exec, opt, f, csi, args)
			if err != nil {
				code := CodeToolsExecute
				if core.IsValidation(err) {
					code = CodeValidation
				}
				return nil, &ToolError{Tool: name, Message: err.Error(), Code: code, Err: err}
			}
			if out == nil {
				return nil, nil
			}
			return out, nil
		})
}

// Handle runs one model-initiated call: the calling context is cloned under a
// new execution id and the flow executed with the option's async flag.
// An async call returns a nil result.
func (x *Executor) Handle(ctx context.Context, exec *core.ExecutionContext, opt OptionTool, f *core.Flow, customSystemInput, args map[string]any) (map[string]any, error) {
	caller := exec.Clone()
	caller.SetID(core.NewExecutionID())

	out, h, err := x.Execute(ctx, caller, f, args, customSystemInput, opt.Async, true)
	if err != nil {
		return nil, err
	}
	if h != nil {
		return nil, nil
	}
	return out, nil
}

// Execute runs toolFlow as a child of parent with args as the ParamCall
// params. A synchronous call returns the end node output; a failed node in
// the child surfaces as *core.ToolExecutionError. An async call returns a
// Handle immediately and never reports its outcome to the caller.
func (x *Executor) Execute(
	ctx context.Context,
	parent *core.ExecutionContext,
	toolFlow *core.Flow,
	args map[string]any,
	customSystemInput map[string]any,
	async bool,
	isAssistantParamCall bool,
) (map[string]any, *Handle, error) {
	if level := parent.Level() + 1; level > x.opts.MaxDepth {
		return nil, nil, fmt.Errorf("%w: tool %s at level %d (max %d)", core.ErrMaxDepthExceeded, toolFlow.Code, level, x.opts.MaxDepth)
	}

	child := NewChildContext(parent, toolFlow, args, customSystemInput, isAssistantParamCall)

	attrs := []attribute.KeyValue{
		attribute.String("flowmesh.tool.code", toolFlow.Code),
		attribute.String("flowmesh.tool.name", toolFlow.Name),
		attribute.String("flowmesh.execution_id", child.ID()),
		attribute.Int("flowmesh.level", child.Level()),
		attribute.Bool("flowmesh.tool.async", async),
	}
	if rid := core.RequestID(ctx); rid != "" {
		attrs = append(attrs, attribute.String("flowmesh.request_id", rid))
	}

	if async {
		h := newHandle(child.ID())
		// the child outlives the caller's request; values (request and trace ids) are kept
		actx := context.WithoutCancel(ctx)
		link := trace.LinkFromContext(ctx)

		x.pending.add()
		go func() {
			defer x.pending.done()

			spanCtx, span := x.opts.Tracer.Start(actx, "tool.execute.async",
				trace.WithNewRoot(), trace.WithLinks(link), trace.WithAttributes(attrs...))
			out, err := x.run(spanCtx, child, toolFlow, true)
			endSpan(span, err)
			h.complete(out, err)
		}()
		return nil, h, nil
	}

	spanCtx, span := x.opts.Tracer.Start(ctx, "tool.execute", trace.WithAttributes(attrs...))
	out, err := x.run(spanCtx, child, toolFlow, false)
	endSpan(span, err)
	if err != nil {
		return nil, nil, err
	}
	return out, nil, nil
}

// Wait blocks until no async tool run spawned by x is in flight or ctx ends.
// Runs spawned while Wait blocks are waited for too. It is safe to call
// concurrently with Execute.
func (x *Executor) Wait(ctx context.Context) error {
	select {
	case <-x.pending.idle():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// inflight counts running async tool calls. Unlike sync.WaitGroup, add may
// race with idle from a zero count.
type inflight struct {
	mu   sync.Mutex
	n    int
	zero chan struct{}
}

var closedChan = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

func (f *inflight) add() {
	f.mu.Lock()
	if f.n == 0 {
		f.zero = make(chan struct{})
	}
	f.n++
	f.mu.Unlock()
}

func (f *inflight) done() {
	f.mu.Lock()
	f.n--
	if f.n == 0 {
		close(f.zero)
	}
	f.mu.Unlock()
}

// idle returns a channel closed once the count drops to zero.
func (f *inflight) idle() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.n == 0 {
		return closedChan
	}
	return f.zero
}

func (x *Executor) run(ctx context.Context, child *core.ExecutionContext, f *core.Flow, async bool) (map[string]any, error) {
	start := time.Now()
	out, err := x.runner.RunFlow(ctx, child, f)

	if vr, failed := child.LastFailure(); failed {
		child.LogWarn("tool.execute.failed", "tool", f.Code, "node_id", vr.NodeID, "error", vr.ErrorMessage)
		err = &core.ToolExecutionError{Tool: f.Name, NodeID: vr.NodeID, Message: vr.ErrorMessage, Err: err}
	} else if err != nil {
		var te *core.ToolExecutionError
		if !errors.As(err, &te) && !errors.Is(err, core.ErrMaxDepthExceeded) {
			err = &core.ToolExecutionError{Tool: f.Name, NodeID: core.FailedNodeID(err), Message: err.Error(), Err: err}
		}
		child.LogWarn("tool.execute.failed", "tool", f.Code, "error", err.Error())
	}

	if fl, ok := child.Logger().(*logging.FlowLogger); ok {
		fl.WithRun(child.ID(), f.Code).LogToolCall(f.Code, async, time.Since(start), err == nil, err)
	} else {
		child.LogInfo("tool.execute.finished",
			"tool", f.Code,
			"execution_id", child.ID(),
			"level", child.Level(),
			"async", async,
			"duration_ms", time.Since(start).Milliseconds(),
			"error", err != nil,
		)
	}
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

// NewChildContext builds the ParamCall context of a nested run: the trigger
// reuses the parent's user and message info with args as params, its
// variables start from the flow's global variables, and the context
// extends parent.
func NewChildContext(parent *core.ExecutionContext, f *core.Flow, args, customSystemInput map[string]any, isAssistantParamCall bool) *core.ExecutionContext {
	pt := parent.TriggerData()

	params := maps.Clone(args)
	if params == nil {
		params = map[string]any{}
	}
	if len(customSystemInput) > 0 {
		params["custom_system_input"] = maps.Clone(customSystemInput)
	}

	trigger := core.NewTriggerData(pt.UserInfo, pt.MessageInfo, params)
	trigger.Attachments = append(trigger.Attachments, pt.Attachments...)
	trigger.SystemParams = maps.Clone(customSystemInput)
	if trigger.SystemParams == nil {
		trigger.SystemParams = map[string]any{}
	}
	trigger.IsAssistantParamCall = isAssistantParamCall
	maps.Copy(trigger.GlobalVariable, f.GlobalVariable)

	child := core.NewExecutionContext(core.TriggerParamCall, trigger, func(o *core.ExecutionOptions) {
		o.ID = parent.ID()
		o.ConversationID = parent.ConversationID()
		o.Operator = parent.Operator()
	})
	child.Extends(parent)
	child.SetFlow(f)
	return child
}

// SanitizeName turns a flow name into a valid function name
// (letters, digits, '_' and '-', at most 64 characters). When nothing usable
// remains the fallback code is used instead.
func SanitizeName(name, fallback string) string {
	clean := func(s string) string {
		var b strings.Builder
		for _, r := range s {
			switch {
			case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)), r == '_', r == '-':
				b.WriteRune(r)
			default:
				b.WriteRune('_')
			}
		}
		out := b.String()
		if len(out) > 64 {
			out = out[:64]
		}
		return out
	}
	out := clean(name)
	if strings.Trim(out, "_-") == "" {
		out = clean(fallback)
	}
	if out == "" {
		out = "tool"
	}
	return out
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Handle tracks an async tool run. Waiting is optional.
type Handle struct {
	executionID string
	done        chan struct{}
	result      map[string]any
	err         error
}

func newHandle(id string) *Handle {
	return &Handle{executionID: id, done: make(chan struct{})}
}

func (h *Handle) complete(out map[string]any, err error) {
	h.result, h.err = out, err
	close(h.done)
}

// ExecutionID returns the id of the child run.
func (h *Handle) ExecutionID() string { return h.executionID }

// Done is closed when the run finished.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks for the outcome of the run or until ctx ends.
func (h *Handle) Wait(ctx context.Context) (map[string]any, error) {
	select {
	case <-h.done:
		return h.result, h.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
