// Package memory assembles the conversation history shown to LLM nodes.
//
// A Manager runs in one of two modes: Auto retrieves prior turns through a
// Persistence backend (InMemoryStore, PostgresStore), Manual takes messages
// verbatim from node configuration. A Policy compacts the result in both modes.
package memory
