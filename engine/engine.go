package engine

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/hupe1980/flowmesh/core"
	"github.com/hupe1980/flowmesh/flow"
	"github.com/hupe1980/flowmesh/internal/validate"
	"github.com/hupe1980/flowmesh/logging"
	"github.com/hupe1980/flowmesh/snapshot"
)

// Config defines tuning parameters for the Engine's operational behavior.
//
// Collaborators (stores, model gateway, tracing) are configured through
// Options rather than expanding this struct.
type Config struct {
	// MaxConcurrentRuns limits the number of top-level runs executing at
	// once. Further runs block until a slot frees up or their context ends.
	// Set to 0 for unlimited.
	MaxConcurrentRuns int

	// StreamVersion is the stream protocol version stamped on runs that do
	// not request one.
	StreamVersion string
}

// DefaultConfig provides production-ready default configuration values.
var DefaultConfig = Config{
	MaxConcurrentRuns: 10,
	StreamVersion:     core.DefaultStreamVersion,
}

// Options configures an Engine instance using the functional options pattern.
type Options struct {
	// Config contains operational parameters for the engine behavior.
	// Defaults to DefaultConfig if not specified.
	Config Config

	// Flows resolves flow codes to definitions. Required.
	Flows flow.Repository

	// Directory resolves the agent user of a flow. Optional.
	Directory core.UserDirectory

	// Callbacks are invoked around every run. Optional.
	Callbacks *CallbackManager

	// Logger provides structured logging. A *logging.FlowLogger is scoped
	// per run with the execution id and flow code.
	// Defaults to NoOp logger if nil.
	Logger logging.Logger
}

// Request describes one top-level run.
type Request struct {
	FlowCode       string
	TriggerType    core.TriggerType
	ExecutionType  core.ExecutionType
	ExecutionID    string
	ConversationID string
	TopicID        string
	Operator       core.Operator
	User           core.UserInfo
	Message        core.MessageInfo
	Params         map[string]any
	SystemParams   map[string]any
	Globals        map[string]any
	Attachments    []core.AttachmentRecord
	Debug          bool
	Stream         bool
	StreamVersion  string
}

// RoutineRequest is what the external task scheduler hands back when a
// routine fires.
type RoutineRequest struct {
	FlowCode       string             `json:"flow_code"`
	Routine        core.RoutineConfig `json:"routine"`
	Params         map[string]any     `json:"params,omitempty"`
	Operator       core.Operator      `json:"operator"`
	ConversationID string             `json:"conversation_id,omitempty"`
	TopicID        string             `json:"topic_id,omitempty"`
}

// deadlineLayouts are the accepted formats of RoutineConfig.Deadline.
var deadlineLayouts = []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"}

// Engine runs flows on behalf of callers and of the task scheduler.
//
// Core Responsibilities:
//   - Flow resolution through the repository, honoring the enabled flag
//   - Execution context construction from a Request
//   - Bounded concurrent runs with per-run cancellation
//   - Lifecycle callbacks around every run
//   - Resuming runs parked by a wait node
//
// The graph walk itself belongs to flow.Executor; the Engine only deals
// with the cross-cutting concerns of a top-level run.
type Engine struct {
	executor  *flow.Executor
	flows     flow.Repository
	directory core.UserDirectory
	callbacks *CallbackManager
	logger    logging.Logger
	config    Config

	slots chan struct{}

	mu     sync.Mutex
	active map[string]context.CancelFunc

	now func() time.Time
}

// New creates an Engine on top of x.
func New(x *flow.Executor, optFns ...func(o *Options)) *Engine {
	opts := Options{
		Config: DefaultConfig,
		Logger: logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Flows == nil {
		opts.Flows = flow.NewInMemoryRepository()
	}
	if opts.Callbacks == nil {
		opts.Callbacks = NewCallbackManager()
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	e := &Engine{
		executor:  x,
		flows:     opts.Flows,
		directory: opts.Directory,
		callbacks: opts.Callbacks,
		logger:    opts.Logger,
		config:    opts.Config,
		active:    make(map[string]context.CancelFunc),
		now:       time.Now,
	}
	if opts.Config.MaxConcurrentRuns > 0 {
		e.slots = make(chan struct{}, opts.Config.MaxConcurrentRuns)
	}
	return e
}

// Executor returns the flow executor runs are delegated to.
func (e *Engine) Executor() *flow.Executor { return e.executor }

// Callbacks returns the lifecycle callback registry.
func (e *Engine) Callbacks() *CallbackManager { return e.callbacks }

// Run executes req synchronously. A returned error means the run never
// started (unknown flow, invalid request, cancelled while waiting for a
// slot, rejected by a callback). Failures inside the graph are reported
// through Result.Status and Result.Err.
func (e *Engine) Run(ctx context.Context, req Request) (*flow.Result, error) {
	return e.run(ctx, req, nil)
}

// Start executes req asynchronously. The result channel yields exactly one
// result unless the run never started, in which case the error channel
// yields the reason. Both channels are closed afterwards.
func (e *Engine) Start(ctx context.Context, req Request) (string, <-chan *flow.Result, <-chan error) {
	if req.ExecutionID == "" {
		req.ExecutionID = core.NewExecutionID()
	}
	results := make(chan *flow.Result, 1)
	errs := make(chan error, 1)

	go func() {
		defer close(errs)
		defer close(results)

		res, err := e.Run(ctx, req)
		if err != nil {
			errs <- err
			return
		}
		results <- res
	}()

	return req.ExecutionID, results, errs
}

// Resume continues the run parked on req's conversation and flow. It fails
// with snapshot.ErrNotFound when nothing is parked.
func (e *Engine) Resume(ctx context.Context, req Request) (*flow.Result, error) {
	store := e.executor.Services().Snapshots
	if store == nil {
		return nil, &core.SystemError{Message: "snapshot store not configured"}
	}
	if req.ConversationID == "" {
		return nil, core.NewValidationError("conversation_id", "required")
	}
	if req.TriggerType == core.TriggerNone {
		req.TriggerType = core.TriggerChatMessage
	}

	snap, err := store.Load(ctx, req.ConversationID, req.FlowCode)
	if err != nil {
		return nil, err
	}
	return e.run(ctx, req, snap)
}

// Callback re-enters the runtime for a routine that fired. Routines past
// their deadline are rejected without running.
func (e *Engine) Callback(ctx context.Context, req RoutineRequest) (*flow.Result, error) {
	if err := validate.Struct(req.Routine); err != nil {
		return nil, err
	}
	if deadline, ok := parseDeadline(req.Routine.Deadline); ok && e.now().After(deadline) {
		return nil, core.NewValidationError("deadline", fmt.Sprintf("routine of flow %s expired at %s", req.FlowCode, req.Routine.Deadline))
	}

	params := map[string]any{}
	for k, v := range req.Params {
		params[k] = v
	}
	topicID := req.TopicID
	if topicID == "" {
		topicID = routineTopic(req.Routine.Topic)
	}

	return e.Run(ctx, Request{
		FlowCode:       req.FlowCode,
		TriggerType:    core.TriggerRoutine,
		ExecutionType:  core.ExecutionRoutine,
		ConversationID: req.ConversationID,
		TopicID:        topicID,
		Operator:       req.Operator,
		User:           core.UserInfo{ID: req.Operator.UserID, Nickname: req.Operator.Nickname},
		Params:         params,
		SystemParams:   map[string]any{"routine": req.Routine},
	})
}

// Stop cancels a running execution.
func (e *Engine) Stop(executionID string) error {
	e.mu.Lock()
	cancel, ok := e.active[executionID]
	e.mu.Unlock()

	if !ok {
		return fmt.Errorf("execution %s not found", executionID)
	}
	cancel()
	return nil
}

// Validate resolves and validates a flow without running it.
func (e *Engine) Validate(ctx context.Context, orgCode, flowCode string) error {
	f, err := e.flows.Get(ctx, orgCode, flowCode)
	if err != nil {
		return err
	}
	return e.executor.Validate(f)
}

// Wait blocks until every asynchronous tool call spawned by past runs has
// finished or ctx ends.
func (e *Engine) Wait(ctx context.Context) error {
	return e.executor.Tools().Wait(ctx)
}

func (e *Engine) run(ctx context.Context, req Request, snap *snapshot.Snapshot) (*flow.Result, error) {
	if req.FlowCode == "" {
		return nil, core.NewValidationError("flow_code", "required")
	}
	if !req.TriggerType.Valid() {
		return nil, core.NewValidationError("trigger_type", fmt.Sprintf("unsupported trigger type %d", req.TriggerType))
	}

	f, err := e.flows.Get(ctx, req.Operator.OrganizationCode, req.FlowCode)
	if err != nil {
		return nil, err
	}
	if !f.Enabled {
		return nil, core.NewValidationError("flow_code", fmt.Sprintf("flow %s is disabled", f.Code))
	}

	if err := e.acquire(ctx); err != nil {
		return nil, err
	}
	defer e.release()

	exec := e.newExecutionContext(req, f)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	e.track(exec.ID(), cancel)
	defer e.untrack(exec.ID())

	cbCtx := &CallbackContext{Exec: exec, Flow: f}
	if err := e.callbacks.ExecuteCallbacks(runCtx, CallbackBeforeRun, cbCtx); err != nil {
		return nil, fmt.Errorf("before run callback: %w", err)
	}

	var res *flow.Result
	if snap != nil {
		if err := e.executor.Services().Snapshots.Delete(ctx, snap.ConversationID, snap.FlowCode); err != nil {
			exec.LogWarn("engine.snapshot.delete_failed", "flow", f.Code, "error", err.Error())
		}
		res = e.executor.Resume(runCtx, exec, f, snap)
	} else {
		res = e.executor.Run(runCtx, exec, f)
	}
	cbCtx.Result = res

	if res.Status == flow.StatusFailed {
		if err := e.callbacks.ExecuteCallbacks(ctx, CallbackOnError, cbCtx); err != nil {
			exec.LogWarn("engine.callback.failed", "type", string(CallbackOnError), "error", err.Error())
		}
	}
	if err := e.callbacks.ExecuteCallbacks(ctx, CallbackAfterRun, cbCtx); err != nil {
		exec.LogWarn("engine.callback.failed", "type", string(CallbackAfterRun), "error", err.Error())
	}
	return res, nil
}

func (e *Engine) newExecutionContext(req Request, f *core.Flow) *core.ExecutionContext {
	trigger := core.NewTriggerData(req.User, req.Message, req.Params)
	for k, v := range req.SystemParams {
		trigger.SystemParams[k] = v
	}
	maps.Copy(trigger.GlobalVariable, f.GlobalVariable)
	maps.Copy(trigger.GlobalVariable, req.Globals)
	trigger.Attachments = req.Attachments

	id := req.ExecutionID
	if id == "" {
		id = core.NewExecutionID()
	}
	streamVersion := req.StreamVersion
	if streamVersion == "" {
		streamVersion = e.config.StreamVersion
	}
	execType := req.ExecutionType
	if execType == "" {
		execType = core.ExecutionChat
	}

	var logger logging.Logger = e.logger
	if fl, ok := e.logger.(*logging.FlowLogger); ok {
		logger = fl.WithComponent("engine").WithRun(id, f.Code)
	}

	return core.NewExecutionContext(req.TriggerType, trigger, func(o *core.ExecutionOptions) {
		o.ID = id
		o.ExecutionType = execType
		o.ConversationID = req.ConversationID
		o.TopicID = req.TopicID
		o.Operator = req.Operator
		o.AgentID = f.AgentID
		o.Debug = req.Debug
		o.Stream = req.Stream
		o.StreamVersion = streamVersion
		o.Directory = e.directory
		o.Logger = logger
	})
}

func (e *Engine) acquire(ctx context.Context) error {
	if e.slots == nil {
		return nil
	}
	select {
	case e.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) release() {
	if e.slots != nil {
		<-e.slots
	}
}

func (e *Engine) track(id string, cancel context.CancelFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.active[id] = cancel
}

func (e *Engine) untrack(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.active, id)
}

func parseDeadline(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range deadlineLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// routineTopic picks the topic id out of a routine's topic config.
func routineTopic(topic map[string]any) string {
	if id, ok := topic["id"].(string); ok {
		return id
	}
	return ""
}

// IsNotParked reports whether err means Resume found nothing to continue.
func IsNotParked(err error) bool {
	return errors.Is(err, snapshot.ErrNotFound)
}
