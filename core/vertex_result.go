package core

import (
	"time"
)

// NodeStatus is the per-node state machine value.
type NodeStatus string

const (
	NodePending   NodeStatus = "pending"
	NodeRunning   NodeStatus = "running"
	NodeSucceeded NodeStatus = "succeeded"
	NodeFailed    NodeStatus = "failed"
	NodeSkipped   NodeStatus = "skipped"
)

// DebugEntry is one labelled value recorded while a node ran.
type DebugEntry struct {
	Label string `json:"label"`
	Value any    `json:"value"`
}

// VertexResult is the record of exactly one node execution. It is never shared
// between executions; the history keeps one instance per (node id, execute num).
type VertexResult struct {
	NodeID       string
	ExecuteNum   int
	Status       NodeStatus
	Result       map[string]any
	DebugLog     []DebugEntry
	ErrorMessage string
	// ChildrenIDs, when non-nil, narrows which next nodes are activated.
	ChildrenIDs []string
	StartedAt   time.Time
	Elapsed     time.Duration
}

// NewVertexResult creates a pending result for nodeID.
func NewVertexResult(nodeID string) *VertexResult {
	return &VertexResult{NodeID: nodeID, Status: NodePending, Result: map[string]any{}}
}

// SetResult stores the node output.
func (v *VertexResult) SetResult(r map[string]any) {
	if r == nil {
		r = map[string]any{}
	}
	v.Result = r
}

// AddDebugLog appends a labelled value to the debug log.
func (v *VertexResult) AddDebugLog(label string, value any) {
	v.DebugLog = append(v.DebugLog, DebugEntry{Label: label, Value: value})
}

// DebugValue returns the most recent value recorded under label.
func (v *VertexResult) DebugValue(label string) (any, bool) {
	for i := len(v.DebugLog) - 1; i >= 0; i-- {
		if v.DebugLog[i].Label == label {
			return v.DebugLog[i].Value, true
		}
	}
	return nil, false
}

// Success reports whether the node completed without error.
func (v *VertexResult) Success() bool { return v.Status == NodeSucceeded }

// Begin marks the result as running.
func (v *VertexResult) Begin() {
	v.Status = NodeRunning
	v.StartedAt = time.Now()
}

// Finish moves the result into its terminal state.
func (v *VertexResult) Finish(err error) {
	v.Elapsed = time.Since(v.StartedAt)
	if err != nil {
		v.Status = NodeFailed
		v.ErrorMessage = err.Error()
		return
	}
	v.Status = NodeSucceeded
}
