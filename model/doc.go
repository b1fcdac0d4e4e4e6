// Package model defines the provider-agnostic model abstractions used by the
// LLM node: Model for generation, Gateway for name resolution, Embedder for
// vectors, plus a scripted MockModel.
//
// Provider adapters live in the openai and anthropic subpackages.
package model
