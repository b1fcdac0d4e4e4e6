package testutil

import (
	"github.com/hupe1980/flowmesh/core"
)

// ExecBuilder helps construct execution contexts with fluent chaining.
// Example:
//
//	exec := NewExecBuilder(core.TriggerChatMessage).Message("m1", "hi").Org("org").Build()
type ExecBuilder struct {
	triggerType core.TriggerType
	user        core.UserInfo
	msg         core.MessageInfo
	params      map[string]any
	globals     map[string]any
	opts        []func(o *core.ExecutionOptions)
	nodes       map[string]map[string]any
}

// NewExecBuilder creates a builder for a run triggered by tt.
func NewExecBuilder(tt core.TriggerType) *ExecBuilder {
	return &ExecBuilder{
		triggerType: tt,
		params:      map[string]any{},
		globals:     map[string]any{},
		nodes:       map[string]map[string]any{},
	}
}

// User sets the triggering user.
func (b *ExecBuilder) User(id, nickname string) *ExecBuilder {
	b.user = core.UserInfo{ID: id, Nickname: nickname}
	return b
}

// Message sets the triggering chat message.
func (b *ExecBuilder) Message(id, content string) *ExecBuilder {
	b.msg = core.MessageInfo{ID: id, Type: "text", Content: content}
	return b
}

// Param sets one trigger param.
func (b *ExecBuilder) Param(key string, v any) *ExecBuilder {
	b.params[key] = v
	return b
}

// Global seeds a global variable.
func (b *ExecBuilder) Global(key string, v any) *ExecBuilder {
	b.globals[key] = v
	return b
}

// Org sets the operator's organization and user.
func (b *ExecBuilder) Org(orgCode string) *ExecBuilder {
	return b.With(func(o *core.ExecutionOptions) {
		o.Operator = core.Operator{UserID: "u-1", OrganizationCode: orgCode, Nickname: "tester"}
	})
}

// Conversation fixes the conversation id.
func (b *ExecBuilder) Conversation(id string) *ExecBuilder {
	return b.With(func(o *core.ExecutionOptions) { o.ConversationID = id })
}

// NodeOutput pre-populates the node context of id.
func (b *ExecBuilder) NodeOutput(id string, out map[string]any) *ExecBuilder {
	b.nodes[id] = out
	return b
}

// With adds a raw option.
func (b *ExecBuilder) With(fn func(o *core.ExecutionOptions)) *ExecBuilder {
	b.opts = append(b.opts, fn)
	return b
}

// Build returns the execution context.
func (b *ExecBuilder) Build() *core.ExecutionContext {
	trigger := core.NewTriggerData(b.user, b.msg, b.params)
	for k, v := range b.globals {
		trigger.GlobalVariable[k] = v
	}
	exec := core.NewExecutionContext(b.triggerType, trigger, b.opts...)
	for id, out := range b.nodes {
		exec.SaveNodeContext(id, out)
	}
	return exec
}
