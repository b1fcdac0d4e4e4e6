// Package flowmesh provides a high-level façade over the flow runtime.
// Most applications interact with this package by:
//  1. Creating a FlowMesh via New() (optionally overriding default in‑memory
//     collaborators) or FromConfig()
//  2. Adding flow definitions
//  3. Running them synchronously (Run), asynchronously (Start), resuming
//     parked runs (Resume) or handing routine firings to Callback
//
// The façade delegates to engine.Engine and flow.Executor while keeping setup
// concise. All defaults are safe for local development and testing;
// production deployments supply durable stores, usually through the config
// package.
package flowmesh

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/flowmesh/agent"
	"github.com/hupe1980/flowmesh/builtin"
	"github.com/hupe1980/flowmesh/cache"
	"github.com/hupe1980/flowmesh/config"
	"github.com/hupe1980/flowmesh/core"
	"github.com/hupe1980/flowmesh/engine"
	"github.com/hupe1980/flowmesh/flow"
	"github.com/hupe1980/flowmesh/knowledge"
	"github.com/hupe1980/flowmesh/logging"
	"github.com/hupe1980/flowmesh/memory"
	"github.com/hupe1980/flowmesh/model"
	"github.com/hupe1980/flowmesh/node"
	"github.com/hupe1980/flowmesh/snapshot"
	"github.com/hupe1980/flowmesh/tool"
)

// Options configures the FlowMesh instance.
type Options struct {
	// Engine configuration (concurrency, stream version)
	EngineConfig engine.Config
	// MaxDepth bounds flow-as-tool and sub-flow nesting.
	MaxDepth int
	// MaxParallelToolCalls bounds concurrent function calls of one model turn.
	MaxParallelToolCalls int
	// EmbeddingModel is the system default used by token-aware splitting.
	EmbeddingModel string

	// Collaborators (default to in-memory implementations if not provided)
	Gateway   model.Gateway
	Memory    memory.Persistence
	Cache     cache.Store
	Knowledge knowledge.Similarity
	Uploader  core.Uploader
	Snapshots snapshot.Store
	Directory core.UserDirectory

	// Flows resolves flow codes. Defaults to an in-memory repository that
	// AddFlows writes to.
	Flows flow.Repository

	// Startup registries
	BuiltIns *tool.Registry
	Plugins  *agent.PluginRegistry
	Registry *node.Registry

	Callbacks *engine.CallbackManager

	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
	Tracer trace.Tracer
}

// FlowMesh is the high-level façade aggregating the engine and its collaborators.
type FlowMesh struct {
	opts     Options
	engine   *engine.Engine
	executor *flow.Executor
	repo     *flow.InMemoryRepository
	closers  []func() error
}

// New creates a FlowMesh with optional overrides. Any unset collaborator is
// initialized with an in-memory implementation.
func New(optFns ...func(o *Options)) (*FlowMesh, error) {
	opts := Options{
		EngineConfig:         engine.DefaultConfig,
		MaxDepth:             tool.DefaultMaxDepth,
		MaxParallelToolCalls: 4,
		Gateway:              model.NewStaticGateway(),
		Memory:               memory.NewInMemoryStore(),
		Cache:                cache.NewInMemoryStore(),
		Knowledge:            knowledge.NewInMemoryStore(nil),
		BuiltIns:             builtin.Registry(),
		Plugins:              agent.DefaultPlugins(),
		Logger:               logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Snapshots == nil {
		codec, err := snapshot.NewCodec()
		if err != nil {
			return nil, err
		}
		opts.Snapshots = snapshot.NewInMemoryStore(codec)
	}

	m := &FlowMesh{opts: opts}
	if opts.Flows == nil {
		m.repo = flow.NewInMemoryRepository()
		opts.Flows = m.repo
	}
	m.executor = flow.NewExecutor(func(o *flow.Options) {
		o.Services = node.Services{
			Gateway:              opts.Gateway,
			Memory:               opts.Memory,
			Cache:                opts.Cache,
			Knowledge:            opts.Knowledge,
			Uploader:             opts.Uploader,
			Snapshots:            opts.Snapshots,
			Plugins:              opts.Plugins,
			Flows:                opts.Flows,
			EmbeddingModel:       opts.EmbeddingModel,
			MaxParallelToolCalls: opts.MaxParallelToolCalls,
		}
		o.Registry = opts.Registry
		o.BuiltIns = opts.BuiltIns
		o.MaxDepth = opts.MaxDepth
		o.Tracer = opts.Tracer
	})
	m.engine = engine.New(m.executor, func(o *engine.Options) {
		o.Config = opts.EngineConfig
		o.Flows = opts.Flows
		o.Directory = opts.Directory
		o.Callbacks = opts.Callbacks
		o.Logger = opts.Logger
	})
	m.opts = opts
	return m, nil
}

// FromConfig opens the backends selected by cfg and loads every flow found
// in the configured flows directory. Close releases the backends.
func FromConfig(ctx context.Context, cfg *config.Config, optFns ...func(o *Options)) (*FlowMesh, error) {
	b, err := config.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}

	m, err := New(append([]func(o *Options){func(o *Options) {
		o.EngineConfig = engine.Config{
			MaxConcurrentRuns: cfg.Runtime.MaxConcurrentRuns,
			StreamVersion:     cfg.Runtime.DefaultStreamVersion,
		}
		o.MaxDepth = cfg.Runtime.MaxDepth
		o.MaxParallelToolCalls = cfg.Runtime.MaxParallelToolCalls
		o.EmbeddingModel = cfg.Runtime.DefaultEmbeddingModel
		o.Gateway = b.Gateway
		o.Memory = b.Memory
		o.Cache = b.Cache
		o.Knowledge = b.Knowledge
		o.Uploader = b.Uploader
		o.Snapshots = b.Snapshots
		o.Logger = b.Logger
	}}, optFns...)...)
	if err != nil {
		_ = b.Close()
		return nil, err
	}
	m.closers = append(m.closers, b.Close)

	if dir := cfg.Runtime.FlowsDir; dir != "" && m.repo != nil {
		if _, statErr := os.Stat(dir); statErr == nil {
			if err := m.LoadDir(dir); err != nil {
				_ = m.Close()
				return nil, err
			}
		}
	}
	return m, nil
}

// AddFlows validates flows and adds them to the default repository.
func (m *FlowMesh) AddFlows(flows ...*core.Flow) error {
	if m.repo == nil {
		return errors.New("AddFlows requires the default in-memory repository")
	}
	for _, f := range flows {
		if err := m.executor.Validate(f); err != nil {
			return err
		}
	}
	m.repo.Add(flows...)
	return nil
}

// LoadDir loads and validates every flow definition below dir.
func (m *FlowMesh) LoadDir(dir string) error {
	loaded, err := flow.NewFileRepository(dir, m.executor.Validate)
	if err != nil {
		return fmt.Errorf("load flows from %s: %w", dir, err)
	}
	flows, err := loaded.GetByCodes(context.Background(), "", loaded.Codes())
	if err != nil {
		return err
	}
	return m.AddFlows(flows...)
}

// Run executes req synchronously.
func (m *FlowMesh) Run(ctx context.Context, req engine.Request) (*flow.Result, error) {
	return m.engine.Run(ctx, req)
}

// Start executes req asynchronously.
func (m *FlowMesh) Start(ctx context.Context, req engine.Request) (string, <-chan *flow.Result, <-chan error) {
	return m.engine.Start(ctx, req)
}

// Resume continues a run parked by a wait node.
func (m *FlowMesh) Resume(ctx context.Context, req engine.Request) (*flow.Result, error) {
	return m.engine.Resume(ctx, req)
}

// Callback re-enters the runtime for a fired routine.
func (m *FlowMesh) Callback(ctx context.Context, req engine.RoutineRequest) (*flow.Result, error) {
	return m.engine.Callback(ctx, req)
}

// Validate parses node params and checks the graph of f.
func (m *FlowMesh) Validate(f *core.Flow) error { return m.executor.Validate(f) }

// Engine exposes the underlying engine.
func (m *FlowMesh) Engine() *engine.Engine { return m.engine }

// Wait blocks until asynchronous tool calls have drained.
func (m *FlowMesh) Wait(ctx context.Context) error { return m.engine.Wait(ctx) }

// Close releases backends opened by FromConfig.
func (m *FlowMesh) Close() error {
	var errs []error
	for i := len(m.closers) - 1; i >= 0; i-- {
		if err := m.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	m.closers = nil
	return errors.Join(errs...)
}
