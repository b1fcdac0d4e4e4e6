package builtin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/flowmesh/core"
)

func TestRegistry(t *testing.T) {
	r := Registry()

	for _, code := range []string{TextSplitterCode, KnowledgeSimilarityCode} {
		bt, ok := r.Tool(code)
		require.True(t, ok, code)
		assert.Equal(t, code, bt.Code())
	}

	_, ok := r.Tool("unknown.tool")
	assert.False(t, ok)
	assert.Len(t, r.Sets(), 2)
}

func TestGenerateToolFlow(t *testing.T) {
	tests := []struct {
		name     string
		tool     interface{ GenerateToolFlow(string) *core.Flow }
		nodeType core.NodeType
		outputs  []string
	}{
		{"text splitter", TextSplitter{}, core.NodeTextSplitter, []string{"split_texts"}},
		{"knowledge similarity", KnowledgeSimilarity{}, core.NodeKnowledgeSimilarity, []string{"fragments", "similarities"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := tt.tool.GenerateToolFlow("org-1")

			assert.Equal(t, "org-1", f.OrganizationCode)
			assert.True(t, f.Enabled)
			assert.True(t, f.IsTool())
			require.Len(t, f.Nodes, 3)

			start := f.StartNode()
			require.NotNil(t, start)
			assert.Equal(t, startID, start.ID)

			n := f.Node(nodeID)
			require.NotNil(t, n)
			assert.Equal(t, tt.nodeType, n.Type)
			assert.Equal(t, []string{endID}, n.NextNodes)

			end := f.Node(endID)
			require.NotNil(t, end)
			assert.Equal(t, tt.outputs, end.Output.PropertyKeys())
		})
	}
}

func TestKnowledgeSimilarityReadsSystemParams(t *testing.T) {
	f := KnowledgeSimilarity{}.GenerateToolFlow("org")
	n := f.Node(nodeID)

	v, ok := n.Params["knowledge_codes"].(*core.Value)
	require.True(t, ok)
	assert.Equal(t, "start_system.knowledge_codes", v.Expression)
}
