package tool

import (
	"github.com/hupe1980/flowmesh/core"
)

// BuiltInTool is a tool implemented by the runtime itself. It is invoked like
// any tool flow: GenerateToolFlow synthesizes an equivalent flow on demand.
type BuiltInTool interface {
	Code() string
	ToolSetCode() string
	Name() string
	Description() string
	Input() *core.Form
	GenerateToolFlow(orgCode string) *core.Flow
}

// BuiltInToolSet groups built-in tools under one code.
type BuiltInToolSet struct {
	Code  string
	Name  string
	Tools []BuiltInTool
}

// Registry holds the built-in tool sets. It is built once at startup and only
// read afterwards.
type Registry struct {
	sets   []BuiltInToolSet
	byCode map[string]BuiltInTool
}

// NewRegistry indexes sets by tool code. A later duplicate code is ignored.
func NewRegistry(sets ...BuiltInToolSet) *Registry {
	r := &Registry{sets: sets, byCode: map[string]BuiltInTool{}}
	for _, s := range sets {
		for _, t := range s.Tools {
			if _, ok := r.byCode[t.Code()]; ok {
				continue
			}
			r.byCode[t.Code()] = t
		}
	}
	return r
}

// Tool returns the built-in tool registered under code.
func (r *Registry) Tool(code string) (BuiltInTool, bool) {
	if r == nil {
		return nil, false
	}
	t, ok := r.byCode[code]
	return t, ok
}

// Sets returns the registered tool sets.
func (r *Registry) Sets() []BuiltInToolSet {
	if r == nil {
		return nil
	}
	return r.sets
}
