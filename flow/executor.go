package flow

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/flowmesh/core"
	"github.com/hupe1980/flowmesh/logging"
	"github.com/hupe1980/flowmesh/node"
	"github.com/hupe1980/flowmesh/snapshot"
	"github.com/hupe1980/flowmesh/tool"
)

// Status is the outcome of a run.
type Status string

const (
	StatusFinished  Status = "finished"
	StatusFailed    Status = "failed"
	StatusSuspended Status = "suspended"
)

// Result is what a top-level run reports.
type Result struct {
	Status       Status
	ExecutionID  string
	Output       map[string]any
	Replies      []core.ReplyMessage
	FailedNodeID string
	Err          error
	Duration     time.Duration
}

// Options configures an Executor.
type Options struct {
	// Services are the node collaborators. Tools and Body are filled in by the executor.
	Services node.Services
	Registry *node.Registry
	BuiltIns *tool.Registry
	MaxDepth int
	Tracer   trace.Tracer
}

// Executor walks flows. It also backs the tool executor, which recurses
// into it for flow-as-tool and sub-flow calls.
type Executor struct {
	registry *node.Registry
	svc      *node.Services
	tools    *tool.Executor
	tracer   trace.Tracer

	mu sync.Mutex
}

// NewExecutor creates an Executor.
func NewExecutor(optFns ...func(o *Options)) *Executor {
	opts := Options{
		MaxDepth: tool.DefaultMaxDepth,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Registry == nil {
		opts.Registry = node.DefaultRegistry()
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("github.com/hupe1980/flowmesh/flow")
	}

	x := &Executor{registry: opts.Registry, tracer: opts.Tracer}
	svc := opts.Services
	x.tools = tool.NewExecutor(x, svc.Flows, func(o *tool.ExecutorOptions) {
		o.MaxDepth = opts.MaxDepth
		o.BuiltIns = opts.BuiltIns
		o.Tracer = opts.Tracer
	})
	svc.Tools = x.tools
	svc.Body = x
	x.svc = &svc
	return x
}

// Tools returns the tool executor bound to x.
func (x *Executor) Tools() *tool.Executor { return x.tools }

// Services returns the collaborators handed to node runners.
func (x *Executor) Services() *node.Services { return x.svc }

// Run starts a top-level run. A chat message on a conversation with a parked
// run resumes that run instead of starting over.
func (x *Executor) Run(ctx context.Context, exec *core.ExecutionContext, f *core.Flow) *Result {
	if exec.TriggerType() == core.TriggerChatMessage && x.svc.Snapshots != nil {
		snap, err := x.svc.Snapshots.Load(ctx, exec.ConversationID(), f.Code)
		switch {
		case err == nil:
			if err := x.svc.Snapshots.Delete(ctx, snap.ConversationID, snap.FlowCode); err != nil {
				exec.LogWarn("flow.snapshot.delete_failed", "flow", f.Code, "error", err.Error())
			}
			return x.Resume(ctx, exec, f, snap)
		case !errors.Is(err, snapshot.ErrNotFound):
			exec.LogWarn("flow.snapshot.load_failed", "flow", f.Code, "error", err.Error())
		}
	}
	return x.Execute(ctx, exec, f)
}

// Execute runs f from the start branch matching the trigger type of exec.
func (x *Executor) Execute(ctx context.Context, exec *core.ExecutionContext, f *core.Flow) *Result {
	began := time.Now()
	exec.SetFlow(f)
	exec.SetStreamStatus(core.StreamProcessing)

	ctx, span := x.tracer.Start(ctx, "flow.execute", trace.WithAttributes(
		attribute.String("flowmesh.flow.code", f.Code),
		attribute.String("flowmesh.execution_id", exec.ID()),
		attribute.String("flowmesh.trigger_type", exec.TriggerType().String()),
	))
	out, err := x.runTop(ctx, exec, f)
	endSpan(span, err)

	return x.result(exec, f, out, err, began)
}

// Resume continues a parked run after its wait node. The new message becomes
// the wait node output.
func (x *Executor) Resume(ctx context.Context, exec *core.ExecutionContext, f *core.Flow, snap *snapshot.Snapshot) *Result {
	began := time.Now()
	exec.SetFlow(f)
	exec.SetStreamStatus(core.StreamProcessing)
	if snap.ExecutionID != "" {
		exec.SetID(snap.ExecutionID)
	}
	exec.LoadPersistenceData(snap.Data)
	exec.Rewind()

	ctx, span := x.tracer.Start(ctx, "flow.resume", trace.WithAttributes(
		attribute.String("flowmesh.flow.code", f.Code),
		attribute.String("flowmesh.execution_id", exec.ID()),
		attribute.String("flowmesh.wait_node_id", snap.WaitNodeID),
	))
	out, err := x.resume(ctx, exec, f, snap.WaitNodeID)
	endSpan(span, err)

	return x.result(exec, f, out, err, began)
}

func (x *Executor) resume(ctx context.Context, exec *core.ExecutionContext, f *core.Flow, waitID string) (map[string]any, error) {
	if err := x.Validate(f); err != nil {
		return nil, err
	}
	wait := f.Node(waitID)
	if wait == nil {
		return nil, core.NewValidationError("wait_node_id", fmt.Sprintf("node %s no longer exists in flow %s", waitID, f.Code))
	}
	exec.SaveNodeContext(waitID, node.ChatMessageOutput(exec))
	return x.walk(ctx, exec, f, x.successors(f, wait), wait.ParentID)
}

// RunFlow implements tool.FlowRunner: it runs f inside an already prepared
// child context and returns the end node output.
func (x *Executor) RunFlow(ctx context.Context, exec *core.ExecutionContext, f *core.Flow) (map[string]any, error) {
	out, err := x.runTop(ctx, exec, f)
	if errors.Is(err, node.ErrSuspend) {
		if derr := x.svc.Snapshots.Delete(ctx, exec.ConversationID(), f.Code); derr != nil {
			exec.LogWarn("flow.snapshot.delete_failed", "flow", f.Code, "error", derr.Error())
		}
		return nil, &core.SystemError{Message: fmt.Sprintf("flow %s cannot wait for messages when called as a tool", f.Code)}
	}
	return out, err
}

// RunBody implements node.BodyRunner.
func (x *Executor) RunBody(ctx context.Context, exec *core.ExecutionContext, f *core.Flow, entryID string) error {
	entry := f.Node(entryID)
	if entry == nil {
		return core.NewValidationError("body", fmt.Sprintf("unknown body node %s", entryID))
	}
	_, err := x.walk(ctx, exec, f, []string{entryID}, entry.ParentID)
	return err
}

func (x *Executor) runTop(ctx context.Context, exec *core.ExecutionContext, f *core.Flow) (map[string]any, error) {
	if err := x.Validate(f); err != nil {
		return nil, err
	}
	start := f.StartNode()
	sp, _ := start.ParsedParams().(*node.StartParams)
	if _, ok := sp.Branch(exec.TriggerType()); !ok {
		return nil, fmt.Errorf("%w: %s in flow %s", core.ErrBranchNotFound, exec.TriggerType(), f.Code)
	}
	return x.walk(ctx, exec, f, []string{start.ID}, "")
}

func (x *Executor) result(exec *core.ExecutionContext, f *core.Flow, out map[string]any, err error, began time.Time) *Result {
	res := &Result{
		ExecutionID: exec.ID(),
		Output:      out,
		Replies:     exec.ReplyMessages(),
		Duration:    time.Since(began),
	}
	switch {
	case err == nil:
		res.Status = StatusFinished
		exec.SetStreamStatus(core.StreamFinished)
	case errors.Is(err, node.ErrSuspend):
		res.Status = StatusSuspended
	default:
		res.Status = StatusFailed
		res.Err = err
		res.FailedNodeID = failedNodeID(exec, err)
		exec.SetStreamStatus(core.StreamFailed)
	}
	if res.Output == nil {
		res.Output = map[string]any{}
	}

	var logErr error
	if res.Status == StatusFailed {
		logErr = err
	}
	if fl, ok := exec.Logger().(*logging.FlowLogger); ok {
		fl.WithRun(exec.ID(), f.Code).LogFlowExecution(f.Code, string(res.Status), len(exec.VertexResults()), res.Duration, logErr)
	} else {
		exec.LogInfo("flow.execute."+string(res.Status), "flow", f.Code, "execution_id", exec.ID(), "nodes", len(exec.VertexResults()))
	}
	return res
}

// walk runs the nodes of one scope (top level or a loop body) reachable from
// entries. A node runs once every reachable predecessor settled and at least
// one of them activated it; the others are skipped. Reaching an end node
// stops the walk with its output.
func (x *Executor) walk(ctx context.Context, exec *core.ExecutionContext, f *core.Flow, entries []string, scope string) (map[string]any, error) {
	reach := map[string]bool{}
	stack := append([]string(nil), entries...)
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n := f.Node(id)
		if reach[id] || n == nil || n.ParentID != scope {
			continue
		}
		reach[id] = true
		stack = append(stack, x.successors(f, n)...)
	}

	pending := map[string]int{}
	for id := range reach {
		for _, c := range x.successors(f, f.Node(id)) {
			if reach[c] {
				pending[c]++
			}
		}
	}

	activated := map[string]bool{}
	front := map[string][]*core.VertexResult{}
	var queue []string
	for _, id := range entries {
		if reach[id] && !activated[id] {
			activated[id] = true
			if pending[id] == 0 {
				queue = append(queue, id)
			}
		}
	}

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		id := queue[0]
		queue = queue[1:]
		n := f.Node(id)

		var next []string
		if activated[id] {
			vr, err := x.runNode(ctx, exec, f, n, front[id])
			if err != nil {
				return nil, err
			}
			if n.Type == core.NodeEnd {
				return vr.Result, nil
			}
			next = vr.ChildrenIDs
			if next == nil {
				next = x.successors(f, n)
			}
			for _, c := range next {
				front[c] = append(front[c], vr)
			}
		} else {
			exec.LogDebug("node.run.skipped", "node_id", id)
		}

		for _, c := range x.successors(f, n) {
			if !reach[c] {
				continue
			}
			if slices.Contains(next, c) {
				activated[c] = true
			}
			pending[c]--
			if pending[c] == 0 {
				queue = append(queue, c)
			}
		}
	}
	return nil, nil
}

// successors is the static adjacency of n: its next nodes plus, for a start
// node, the next nodes of every branch.
func (x *Executor) successors(f *core.Flow, n *core.Node) []string {
	out := append([]string(nil), n.NextNodes...)
	if sp, ok := n.ParsedParams().(*node.StartParams); ok {
		for _, b := range sp.Branches {
			for _, id := range b.NextNodes {
				if !slices.Contains(out, id) {
					out = append(out, id)
				}
			}
		}
	}
	return out
}

func (x *Executor) runNode(ctx context.Context, exec *core.ExecutionContext, f *core.Flow, n *core.Node, front []*core.VertexResult) (*core.VertexResult, error) {
	vr := core.NewVertexResult(n.ID)
	num := exec.IncreaseExecuteNum(n.ID, vr, 1)
	vr.Begin()
	exec.LogDebug("node.run.start", "node_id", n.ID, "node_type", string(n.Type), "execute_num", num)

	ctx, span := x.tracer.Start(ctx, "node.run", trace.WithAttributes(
		attribute.String("flowmesh.node.id", n.ID),
		attribute.String("flowmesh.node.type", string(n.Type)),
		attribute.Int("flowmesh.node.execute_num", num),
	))

	err := x.invoke(ctx, exec, f, n, vr, front)
	endSpan(span, err)
	if errors.Is(err, node.ErrSuspend) {
		vr.Finish(nil)
		return vr, err
	}
	vr.Finish(err)

	if fl, ok := exec.Logger().(*logging.FlowLogger); ok {
		fl.LogNodeExecution(n.ID, string(n.Type), num, vr.Elapsed, err == nil, err)
	} else {
		exec.LogDebug("node.run.finish", "node_id", n.ID, "success", err == nil, "duration_ms", vr.Elapsed.Milliseconds())
	}
	if err != nil {
		return vr, core.NewExecutionError(n.ID, err)
	}
	return vr, nil
}

func (x *Executor) invoke(ctx context.Context, exec *core.ExecutionContext, f *core.Flow, n *core.Node, vr *core.VertexResult, front []*core.VertexResult) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in node %s: %v\n%s", n.ID, r, debug.Stack())
		}
	}()
	r, err := x.registry.Runner(node.Env{Node: n, Flow: f, Services: x.svc})
	if err != nil {
		return err
	}
	return r.Run(ctx, vr, exec, front)
}

// failedNodeID reports the innermost failed node of this run.
func failedNodeID(exec *core.ExecutionContext, err error) string {
	if vr, ok := exec.LastFailure(); ok {
		return vr.NodeID
	}
	return core.FailedNodeID(err)
}

func endSpan(span trace.Span, err error) {
	if err != nil && !errors.Is(err, node.ErrSuspend) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
