package core

import (
	"errors"
	"fmt"
)

var (
	// ErrMaxDepthExceeded is returned when a nested run would exceed the configured nesting level.
	ErrMaxDepthExceeded = errors.New("max execution depth exceeded")
	// ErrFlowNotFound is returned when a flow code cannot be resolved.
	ErrFlowNotFound = errors.New("flow not found")
	// ErrBranchNotFound is returned when the start node has no branch for the trigger type.
	ErrBranchNotFound = errors.New("no start branch for trigger type")
)

// ValidationError reports a bad or missing field. It is raised before any side effect.
type ValidationError struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Message)
}

// NewValidationError creates a ValidationError.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// ExecutionError reports a node whose effect failed.
type ExecutionError struct {
	NodeID  string
	Message string
	Err     error
}

func (e *ExecutionError) Error() string {
	if e.NodeID == "" {
		return e.Message
	}
	return fmt.Sprintf("node %s: %s", e.NodeID, e.Message)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// NewExecutionError wraps err as the failure of nodeID.
func NewExecutionError(nodeID string, err error) *ExecutionError {
	return &ExecutionError{NodeID: nodeID, Message: err.Error(), Err: err}
}

// ToolExecutionError reports a synchronous child-flow invocation that failed.
// The message format "<nodeId> | <message>" is surfaced to the calling LLM node.
type ToolExecutionError struct {
	Tool    string
	NodeID  string
	Message string
	Err     error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("%s | %s", e.NodeID, e.Message)
}

func (e *ToolExecutionError) Unwrap() error { return e.Err }

// SystemError reports missing identity or configuration. It aborts the run.
type SystemError struct {
	Message string
	Err     error
}

func (e *SystemError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("system error: %s: %v", e.Message, e.Err)
	}
	return "system error: " + e.Message
}

func (e *SystemError) Unwrap() error { return e.Err }

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// FailedNodeID extracts the failing node id from an error chain, if any.
// The outermost ExecutionError wins over a nested tool failure.
func FailedNodeID(err error) string {
	var ee *ExecutionError
	if errors.As(err, &ee) {
		return ee.NodeID
	}
	var te *ToolExecutionError
	if errors.As(err, &te) {
		return te.NodeID
	}
	return ""
}
