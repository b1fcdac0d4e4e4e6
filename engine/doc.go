// Package engine is the entry point for top-level flow runs.
//
// The Engine sits above flow.Executor and deals with everything a single
// graph walk does not: resolving the flow by code, building the execution
// context from a Request, bounding concurrency, tracking runs so they can be
// stopped, and running lifecycle callbacks.
//
// # Entry points
//
//   - Run executes a request synchronously.
//   - Start executes a request on its own goroutine and returns channels.
//   - Resume continues a run parked by a wait_message node.
//   - Callback re-enters the runtime when the external task scheduler fires a
//     routine. It runs the flow's routine branch with execution type routine.
//
// # Architecture
//
//	┌──────────────────────────────┐
//	│   Caller / scheduler / CLI   │
//	├──────────────────────────────┤
//	│  Engine (Run/Start/Callback) │  flow resolution, slots, callbacks
//	├──────────────────────────────┤
//	│        flow.Executor         │  graph walk, resume, sub-flows
//	├──────────────────────────────┤
//	│  node runners │ tool.Executor│  per-node effects, flow-as-tool
//	├──────────────────────────────┤
//	│ model │ memory │ cache │ ... │  collaborators
//	└──────────────────────────────┘
//
// # Errors
//
// Run returns an error only when the run never started. A run that started
// always yields a *flow.Result; failures inside the graph are reported via
// Result.Status, Result.Err and Result.FailedNodeID.
//
// # Example
//
//	e := engine.New(executor, func(o *engine.Options) {
//	    o.Flows = repo
//	    o.Logger = logging.NewSlogLogger(logging.LogLevelInfo, "json", false)
//	})
//	res, err := e.Run(ctx, engine.Request{
//	    FlowCode:    "weather",
//	    TriggerType: core.TriggerChatMessage,
//	    Operator:    core.Operator{UserID: "u-1", OrganizationCode: "acme"},
//	    Message:     core.MessageInfo{Type: "text", Content: "Berlin?"},
//	})
package engine
