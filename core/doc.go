// Package core holds the domain types every other flowmesh package builds on:
//
//   - Flow, Node, Branch and the Form/Value expression model
//   - ExecutionContext, the mutable per-run state threaded through a flow
//   - VertexResult, the record of one node execution
//   - attachment records and the Uploader collaborator
//   - the error taxonomy (ValidationError, ExecutionError, ToolExecutionError, SystemError)
//
// Collaborators (directory, uploader) are small interfaces so callers can plug
// their own backends.
package core
