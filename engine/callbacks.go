package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/hupe1980/flowmesh/core"
	"github.com/hupe1980/flowmesh/flow"
)

// CallbackType defines the lifecycle points where callbacks run.
//
// Callbacks are executed synchronously. A BeforeRun callback returning an
// error prevents the run from starting; errors from AfterRun and OnError
// callbacks are logged on the run and otherwise ignored.
type CallbackType string

const (
	// CallbackBeforeRun is triggered after the execution context is built
	// and before the first node runs.
	CallbackBeforeRun CallbackType = "before_run"

	// CallbackAfterRun is triggered once a run finished, failed or suspended.
	CallbackAfterRun CallbackType = "after_run"

	// CallbackOnError is triggered before CallbackAfterRun for failed runs.
	CallbackOnError CallbackType = "on_error"
)

// CallbackContext is what a callback can inspect.
type CallbackContext struct {
	// Exec is the context of the run. Callbacks may seed variables in
	// BeforeRun.
	Exec *core.ExecutionContext

	// Flow is the flow being run.
	Flow *core.Flow

	// Result is nil for BeforeRun.
	Result *flow.Result
}

// Callback defines the interface for run lifecycle hooks.
type Callback interface {
	// Type returns the callback type this implementation handles.
	Type() CallbackType

	// Execute performs the callback logic with the provided context.
	Execute(ctx context.Context, callbackCtx *CallbackContext) error
}

// FunctionCallback wraps a function as a callback implementation.
//
// Example:
//
//	audit := NewFunctionCallback(
//	    CallbackAfterRun,
//	    func(ctx context.Context, c *CallbackContext) error {
//	        log.Printf("flow %s: %s", c.Flow.Code, c.Result.Status)
//	        return nil
//	    },
//	)
type FunctionCallback struct {
	callbackType CallbackType
	fn           func(ctx context.Context, callbackCtx *CallbackContext) error
}

// NewFunctionCallback creates a new function-based callback.
func NewFunctionCallback(
	callbackType CallbackType,
	fn func(ctx context.Context, callbackCtx *CallbackContext) error,
) *FunctionCallback {
	return &FunctionCallback{
		callbackType: callbackType,
		fn:           fn,
	}
}

// Type returns the callback type this function handles.
func (c *FunctionCallback) Type() CallbackType {
	return c.callbackType
}

// Execute calls the wrapped function with the provided context.
func (c *FunctionCallback) Execute(ctx context.Context, callbackCtx *CallbackContext) error {
	return c.fn(ctx, callbackCtx)
}

// CallbackManager holds callbacks per type and runs them in registration
// order. The first error stops the remaining callbacks of that type.
// Registration and execution are safe for concurrent use.
type CallbackManager struct {
	mu        sync.RWMutex
	callbacks map[CallbackType][]Callback
}

// NewCallbackManager creates an empty callback manager.
func NewCallbackManager() *CallbackManager {
	return &CallbackManager{
		callbacks: make(map[CallbackType][]Callback),
	}
}

// RegisterCallback adds a callback for its type.
func (cm *CallbackManager) RegisterCallback(callback Callback) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	t := callback.Type()
	cm.callbacks[t] = append(cm.callbacks[t], callback)
}

// ExecuteCallbacks runs every callback registered for callbackType.
func (cm *CallbackManager) ExecuteCallbacks(
	ctx context.Context,
	callbackType CallbackType,
	callbackCtx *CallbackContext,
) error {
	cm.mu.RLock()
	callbacks := append([]Callback(nil), cm.callbacks[callbackType]...)
	cm.mu.RUnlock()

	for _, callback := range callbacks {
		if err := callback.Execute(ctx, callbackCtx); err != nil {
			return err
		}
	}
	return nil
}

// LoggingCallback forwards a one-line summary of each lifecycle event to a
// logging function.
type LoggingCallback struct {
	callbackType CallbackType
	logger       func(message string)
}

// NewLoggingCallback creates a new logging callback.
func NewLoggingCallback(callbackType CallbackType, logger func(message string)) *LoggingCallback {
	return &LoggingCallback{
		callbackType: callbackType,
		logger:       logger,
	}
}

// Type returns the callback type this logger handles.
func (c *LoggingCallback) Type() CallbackType {
	return c.callbackType
}

// Execute logs flow code, execution id and, when available, the outcome.
func (c *LoggingCallback) Execute(_ context.Context, callbackCtx *CallbackContext) error {
	if c.logger == nil {
		return nil
	}
	msg := fmt.Sprintf("[%s] flow=%s execution=%s", c.callbackType, callbackCtx.Flow.Code, callbackCtx.Exec.ID())
	if r := callbackCtx.Result; r != nil {
		msg += fmt.Sprintf(" status=%s", r.Status)
		if r.FailedNodeID != "" {
			msg += " failed_node=" + r.FailedNodeID
		}
	}
	c.logger(msg)
	return nil
}

// RequireOperatorCallback rejects runs whose operator carries no
// organization code.
type RequireOperatorCallback struct{}

// Type implements Callback.
func (RequireOperatorCallback) Type() CallbackType { return CallbackBeforeRun }

// Execute implements Callback.
func (RequireOperatorCallback) Execute(_ context.Context, callbackCtx *CallbackContext) error {
	if callbackCtx.Exec.Operator().OrganizationCode == "" {
		return &core.SystemError{Message: "operator organization code is required"}
	}
	return nil
}
