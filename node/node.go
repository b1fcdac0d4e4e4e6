package node

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/flowmesh/agent"
	"github.com/hupe1980/flowmesh/cache"
	"github.com/hupe1980/flowmesh/core"
	"github.com/hupe1980/flowmesh/knowledge"
	"github.com/hupe1980/flowmesh/memory"
	"github.com/hupe1980/flowmesh/model"
	"github.com/hupe1980/flowmesh/snapshot"
	"github.com/hupe1980/flowmesh/tool"
)

// ErrSuspend is returned by a runner that parked the run until a new message arrives.
var ErrSuspend = errors.New("run suspended")

// Runner executes one node. It writes its output into vr and into the node
// context of exec. front holds the results of the nodes that activated it.
type Runner interface {
	Run(ctx context.Context, vr *core.VertexResult, exec *core.ExecutionContext, front []*core.VertexResult) error
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, vr *core.VertexResult, exec *core.ExecutionContext, front []*core.VertexResult) error

// Run implements Runner.
func (f RunnerFunc) Run(ctx context.Context, vr *core.VertexResult, exec *core.ExecutionContext, front []*core.VertexResult) error {
	return f(ctx, vr, exec, front)
}

// BodyRunner runs the body of a loop node starting at entryID.
type BodyRunner interface {
	RunBody(ctx context.Context, exec *core.ExecutionContext, f *core.Flow, entryID string) error
}

// Services are the collaborators node runners call into. Nil collaborators
// fail the nodes that need them with a SystemError.
type Services struct {
	Gateway   model.Gateway
	Memory    memory.Persistence
	Cache     cache.Store
	Knowledge knowledge.Similarity
	Uploader  core.Uploader
	Snapshots snapshot.Store
	Tools     *tool.Executor
	Plugins   *agent.PluginRegistry
	Flows     tool.FlowLookup
	Body      BodyRunner

	// EmbeddingModel is the system default model used by token-aware splitting.
	EmbeddingModel string
	// MaxParallelToolCalls bounds concurrent function calls of one model turn.
	MaxParallelToolCalls int
	Now                  func() time.Time
}

func (s *Services) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func missing(name string) error {
	return &core.SystemError{Message: name + " not configured"}
}

// Env is what a runner is bound to.
type Env struct {
	Node     *core.Node
	Flow     *core.Flow
	Services *Services
}

// save records out as the node result.
func (env Env) save(vr *core.VertexResult, exec *core.ExecutionContext, out map[string]any) {
	if out == nil {
		out = map[string]any{}
	}
	vr.SetResult(out)
	exec.SaveNodeContext(env.Node.ID, out)
}

// Definition binds a node type to its params parser and runner factory.
type Definition struct {
	Type core.NodeType
	// Parse validates raw node params into the typed params object.
	Parse func(n *core.Node, svc *Services) (any, error)
	// New binds a runner to a validated node.
	New func(env Env) (Runner, error)
}

func define[P any](
	typ core.NodeType,
	parse func(n *core.Node, svc *Services) (*P, error),
	run func(ctx context.Context, env Env, p *P, vr *core.VertexResult, exec *core.ExecutionContext, front []*core.VertexResult) error,
) Definition {
	return Definition{
		Type: typ,
		Parse: func(n *core.Node, svc *Services) (any, error) {
			p, err := parse(n, svc)
			if err != nil {
				return nil, err
			}
			return p, nil
		},
		New: func(env Env) (Runner, error) {
			p, ok := env.Node.ParsedParams().(*P)
			if !ok || p == nil {
				return nil, &core.SystemError{Message: fmt.Sprintf("node %s has no validated params", env.Node.ID)}
			}
			return RunnerFunc(func(ctx context.Context, vr *core.VertexResult, exec *core.ExecutionContext, front []*core.VertexResult) error {
				return run(ctx, env, p, vr, exec, front)
			}), nil
		},
	}
}

// Registry maps node types to definitions. It is built once at startup and
// only read afterwards.
type Registry struct {
	defs map[core.NodeType]Definition
}

// NewRegistry indexes defs by type. A later definition replaces an earlier one.
func NewRegistry(defs ...Definition) *Registry {
	r := &Registry{defs: make(map[core.NodeType]Definition, len(defs))}
	for _, d := range defs {
		r.defs[d.Type] = d
	}
	return r
}

// DefaultRegistry returns every shipped node type.
func DefaultRegistry() *Registry {
	return NewRegistry(
		Start(),
		End(),
		LLM(),
		CacheGet(),
		CacheSet(),
		KnowledgeSimilarity(),
		TextSplitter(),
		ReplyMessage(),
		Sub(),
		Loop(),
		WaitMessage(),
		VariableSave(),
	)
}

// Definition returns the definition of typ.
func (r *Registry) Definition(typ core.NodeType) (Definition, bool) {
	d, ok := r.defs[typ]
	return d, ok
}

// Parse validates the params of n.
func (r *Registry) Parse(n *core.Node, svc *Services) (any, error) {
	d, ok := r.defs[n.Type]
	if !ok {
		return nil, core.NewValidationError("node_type", fmt.Sprintf("unknown node type %q", n.Type))
	}
	return d.Parse(n, svc)
}

// Runner binds the runner of env.Node.
func (r *Registry) Runner(env Env) (Runner, error) {
	d, ok := r.defs[env.Node.Type]
	if !ok {
		return nil, &core.SystemError{Message: fmt.Sprintf("unknown node type %q", env.Node.Type)}
	}
	return d.New(env)
}
