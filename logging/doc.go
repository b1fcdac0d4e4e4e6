// Package logging provides a minimal logging interface and adapters for the flow runtime.
//
// The Logger interface defines the standard logging methods (Debug, Info, Warn, Error)
// used by the executor, node runners and the tools bridge. This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping Go's structured logging
//   - FlowLogger with node, tool, model and flow helpers
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Usage:
//
//	logger := logging.NewSlogLogger(logging.LogLevelInfo, "json", false)
//	m, err := flowmesh.New(func(o *flowmesh.Options) { o.Logger = logger })
package logging
