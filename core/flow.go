package core

import (
	"sync"
)

// FlowType classifies what a flow is used for.
type FlowType string

const (
	FlowTypeMain  FlowType = "main"
	FlowTypeTools FlowType = "tools"
	FlowTypeSub   FlowType = "sub"
)

// NodeType is the tag the node registry dispatches on.
type NodeType string

const (
	NodeStart               NodeType = "start"
	NodeEnd                 NodeType = "end"
	NodeLLM                 NodeType = "llm"
	NodeCacheGet            NodeType = "cache_get"
	NodeCacheSet            NodeType = "cache_set"
	NodeKnowledgeSimilarity NodeType = "knowledge_similarity"
	NodeTextSplitter        NodeType = "text_splitter"
	NodeReplyMessage        NodeType = "reply_message"
	NodeSub                 NodeType = "sub"
	NodeLoop                NodeType = "loop"
	NodeWaitMessage         NodeType = "wait_message"
	NodeVariableSave        NodeType = "variable_save"
)

// Node is a typed graph vertex.
type Node struct {
	ID        string         `json:"node_id" yaml:"node_id"`
	Name      string         `json:"name,omitempty" yaml:"name"`
	Type      NodeType       `json:"node_type" yaml:"node_type"`
	Version   string         `json:"node_version,omitempty" yaml:"node_version"`
	ParentID  string         `json:"parent_id,omitempty" yaml:"parent_id"`
	NextNodes []string       `json:"next_nodes,omitempty" yaml:"next_nodes"`
	Params    map[string]any `json:"params,omitempty" yaml:"params"`
	Input     *Form          `json:"input,omitempty" yaml:"input"`
	Output    *Form          `json:"output,omitempty" yaml:"output"`

	parsed any
}

// ParsedParams returns the typed params object attached at validation time.
func (n *Node) ParsedParams() any { return n.parsed }

// SetParsedParams attaches the typed params object. Only flow validation calls this.
func (n *Node) SetParsedParams(p any) { n.parsed = p }

// Branch is one trigger-type-scoped entry point of a start node.
type Branch struct {
	BranchID           string         `json:"branch_id" yaml:"branch_id"`
	TriggerType        TriggerType    `json:"trigger_type" yaml:"trigger_type"`
	NextNodes          []string       `json:"next_nodes" yaml:"next_nodes"`
	Config             map[string]any `json:"config,omitempty" yaml:"config"`
	Input              *Form          `json:"input,omitempty" yaml:"input"`
	Output             *Form          `json:"output,omitempty" yaml:"output"`
	SystemOutput       *Form          `json:"system_output,omitempty" yaml:"system_output"`
	CustomSystemOutput *Form          `json:"custom_system_output,omitempty" yaml:"custom_system_output"`
}

// Flow is a versioned, validated directed graph of nodes.
type Flow struct {
	Code             string   `json:"code" yaml:"code"`
	Name             string   `json:"name" yaml:"name"`
	Description      string   `json:"description" yaml:"description"`
	Type             FlowType `json:"type" yaml:"type"`
	Enabled          bool     `json:"enabled" yaml:"enabled"`
	Version          string   `json:"version,omitempty" yaml:"version"`
	Creator          string   `json:"creator,omitempty" yaml:"creator"`
	OrganizationCode string   `json:"organization_code,omitempty" yaml:"organization_code"`
	AgentID          string   `json:"agent_id,omitempty" yaml:"agent_id"`
	ToolSetID        string   `json:"tool_set_id,omitempty" yaml:"tool_set_id"`
	Nodes            []*Node  `json:"nodes" yaml:"nodes"`
	// Input describes the arguments a tool flow accepts.
	Input *Form `json:"input,omitempty" yaml:"input"`
	// GlobalVariable seeds the variable store of every run of the flow.
	GlobalVariable map[string]any `json:"global_variable,omitempty" yaml:"global_variable"`

	indexOnce sync.Once
	index     map[string]*Node
	validated bool
}

func (f *Flow) buildIndex() {
	f.indexOnce.Do(func() {
		f.index = make(map[string]*Node, len(f.Nodes))
		for _, n := range f.Nodes {
			f.index[n.ID] = n
		}
	})
}

// Node returns the node with id, or nil.
func (f *Flow) Node(id string) *Node {
	f.buildIndex()
	return f.index[id]
}

// StartNode returns the top-level start node, or nil.
func (f *Flow) StartNode() *Node {
	for _, n := range f.Nodes {
		if n.Type == NodeStart && n.ParentID == "" {
			return n
		}
	}
	return nil
}

// IsTool reports whether the flow can be exposed to a model as a tool.
func (f *Flow) IsTool() bool { return f.Type == FlowTypeTools }

// Validated reports whether all node params were parsed.
func (f *Flow) Validated() bool { return f.validated }

// MarkValidated records that params parsing succeeded for every node.
func (f *Flow) MarkValidated() { f.validated = true }

// SystemNodeID is the node context key under which a start node stores the
// system params of a ParamCall run.
func SystemNodeID(startNodeID string) string { return startNodeID + "_system" }
