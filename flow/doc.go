// Package flow runs flows.
//
// An Executor validates a flow once (typed node params, graph shape), then
// walks it from the start branch matching the trigger type. Nodes run in
// dependency order on the calling goroutine; a node whose predecessors all
// settled without activating it is skipped. A run ends at an end node, when
// no node is left to run, or at the first failed node.
//
// The Executor also implements tool.FlowRunner, so LLM nodes can call other
// flows as tools and sub-flow nodes can nest runs. Wait message nodes park a
// run in the snapshot store; Run resumes it on the next chat message.
package flow
