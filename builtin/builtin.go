// Package builtin ships the runtime's own tools. Each tool synthesizes a
// start -> node -> end flow so it runs through the same executor as any
// user-defined tool flow.
package builtin

import (
	"github.com/hupe1980/flowmesh/core"
	"github.com/hupe1980/flowmesh/tool"
)

// Tool set and tool codes.
const (
	AtomicNodeToolSetCode = "atomic_node"
	TextSplitterCode      = "atomic_node.text_splitter"
	TextSplitterToolName  = "text_splitter"

	KnowledgeToolSetCode        = "knowledge"
	KnowledgeSimilarityCode     = "knowledge.knowledge_similarity"
	KnowledgeSimilarityToolName = "knowledge_similarity"
)

const (
	startID = "start"
	nodeID  = "node"
	endID   = "end"
)

// Registry returns the registry of every shipped tool set.
func Registry() *tool.Registry {
	return tool.NewRegistry(
		tool.BuiltInToolSet{Code: AtomicNodeToolSetCode, Name: "Atomic nodes", Tools: []tool.BuiltInTool{TextSplitter{}}},
		tool.BuiltInToolSet{Code: KnowledgeToolSetCode, Name: "Knowledge", Tools: []tool.BuiltInTool{KnowledgeSimilarity{}}},
	)
}

// toolFlow wires start(ParamCall) -> n -> end.
func toolFlow(t tool.BuiltInTool, orgCode string, n *core.Node, output *core.Form) *core.Flow {
	n.ID = nodeID
	n.NextNodes = []string{endID}
	return &core.Flow{
		Code:             t.Code(),
		Name:             t.Name(),
		Description:      t.Description(),
		Type:             core.FlowTypeTools,
		Enabled:          true,
		OrganizationCode: orgCode,
		Input:            t.Input(),
		Nodes: []*core.Node{
			{
				ID:   startID,
				Type: core.NodeStart,
				Params: map[string]any{
					"branches": []any{
						map[string]any{
							"branch_id":    "param_call",
							"trigger_type": int(core.TriggerParamCall),
							"next_nodes":   []any{nodeID},
							"output":       t.Input(),
						},
					},
				},
			},
			n,
			{
				ID:     endID,
				Type:   core.NodeEnd,
				Output: output,
			},
		},
	}
}

func startField(name string) *core.Value { return core.Expr(startID + "." + name) }

func systemField(name string) *core.Value { return core.Expr(core.SystemNodeID(startID) + "." + name) }

func nodeField(name string) *core.Value { return core.Expr(nodeID + "." + name) }
