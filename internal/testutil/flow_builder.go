package testutil

import (
	"github.com/hupe1980/flowmesh/core"
)

// FlowBuilder assembles flows node by node.
// Example:
//
//	f := NewFlowBuilder("greet").Start(core.TriggerChatMessage, "end").End("end", out).Build()
type FlowBuilder struct {
	flow *core.Flow
}

// NewFlowBuilder starts an enabled main flow.
func NewFlowBuilder(code string) *FlowBuilder {
	return &FlowBuilder{flow: &core.Flow{Code: code, Name: code, Type: core.FlowTypeMain, Enabled: true}}
}

// Tool turns the flow into a tool flow with the given input form.
func (b *FlowBuilder) Tool(description string, input *core.Form) *FlowBuilder {
	b.flow.Type = core.FlowTypeTools
	b.flow.Description = description
	b.flow.Input = input
	return b
}

// Start adds a start node "start" with one branch per trigger type, each
// continuing at next.
func (b *FlowBuilder) Start(tt core.TriggerType, next ...string) *FlowBuilder {
	return b.StartBranches(core.Branch{BranchID: tt.String(), TriggerType: tt, NextNodes: next})
}

// StartBranches adds a start node "start" with explicit branches.
func (b *FlowBuilder) StartBranches(branches ...core.Branch) *FlowBuilder {
	raw := make([]any, 0, len(branches))
	for _, br := range branches {
		m := map[string]any{
			"branch_id":    br.BranchID,
			"trigger_type": int(br.TriggerType),
			"next_nodes":   br.NextNodes,
		}
		if br.Config != nil {
			m["config"] = br.Config
		}
		if br.Output != nil {
			m["output"] = br.Output
		}
		if br.CustomSystemOutput != nil {
			m["custom_system_output"] = br.CustomSystemOutput
		}
		raw = append(raw, m)
	}
	return b.Node(&core.Node{ID: "start", Type: core.NodeStart, Params: map[string]any{"branches": raw}})
}

// Node adds a node.
func (b *FlowBuilder) Node(n *core.Node) *FlowBuilder {
	b.flow.Nodes = append(b.flow.Nodes, n)
	return b
}

// Step adds a node of type typ with params continuing at next.
func (b *FlowBuilder) Step(id string, typ core.NodeType, params map[string]any, next ...string) *FlowBuilder {
	return b.Node(&core.Node{ID: id, Type: typ, Params: params, NextNodes: next})
}

// End adds an end node whose output maps keys to field paths.
func (b *FlowBuilder) End(id string, output map[string]string) *FlowBuilder {
	props := make(map[string]*core.Form, len(output))
	for k, path := range output {
		props[k] = &core.Form{Type: "", Key: k, Value: core.Expr(path)}
	}
	return b.Node(&core.Node{ID: id, Type: core.NodeEnd, Output: core.ObjectForm(props)})
}

// Build returns the flow.
func (b *FlowBuilder) Build() *core.Flow { return b.flow }
