// Package agent drives the function-calling loop behind LLM nodes.
//
// Run sends a request to a model, executes the function calls the model asks
// for and feeds their results back, turn by turn, until the model answers
// with plain text or the turn bound is reached:
//
//	res, err := agent.Run(ctx, exec, m, req, tools, func(o *agent.Options) {
//		o.MaxTurns = 5
//		o.CallExecutor = agent.NewCallExecutor(agent.CallExecutorConfig{MaxParallel: 4})
//	})
//
// Calls of one turn run concurrently when MaxParallel allows it; results keep
// the order the model requested them in. Ordinary tool failures go back to
// the model as function responses. Failures inside a nested flow and nesting
// overflow abort the loop.
//
// Plugins extend an LLM node with extra system prompt text and tools. The
// shipped registry (DefaultPlugins) contains the knowledge similarity plugin.
package agent
