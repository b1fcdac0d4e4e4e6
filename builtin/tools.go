package builtin

import (
	"github.com/hupe1980/flowmesh/core"
)

// TextSplitter splits long text into chunks.
type TextSplitter struct{}

func (TextSplitter) Code() string        { return TextSplitterCode }
func (TextSplitter) ToolSetCode() string { return AtomicNodeToolSetCode }
func (TextSplitter) Name() string        { return TextSplitterToolName }
func (TextSplitter) Description() string {
	return "Split a long text into chunks suitable for embedding or summarization."
}

func (TextSplitter) Input() *core.Form {
	return core.ObjectForm(map[string]*core.Form{
		"content":  {Type: "string", Key: "content", Description: "The text to split"},
		"strategy": {Type: "string", Key: "strategy", Description: "Split strategy", Enum: []any{"auto", "token"}},
	}, "content")
}

func (t TextSplitter) GenerateToolFlow(orgCode string) *core.Flow {
	return toolFlow(t, orgCode,
		&core.Node{
			Type: core.NodeTextSplitter,
			Params: map[string]any{
				"content":  startField("content"),
				"strategy": startField("strategy"),
			},
		},
		core.ObjectForm(map[string]*core.Form{
			"split_texts": {Type: "array", Key: "split_texts", Value: nodeField("split_texts")},
		}),
	)
}

// KnowledgeSimilarity searches knowledge bases. The knowledge codes, limit and
// score come from the caller's custom system input.
type KnowledgeSimilarity struct{}

func (KnowledgeSimilarity) Code() string        { return KnowledgeSimilarityCode }
func (KnowledgeSimilarity) ToolSetCode() string { return KnowledgeToolSetCode }
func (KnowledgeSimilarity) Name() string        { return KnowledgeSimilarityToolName }
func (KnowledgeSimilarity) Description() string {
	return "Search the knowledge base for fragments relevant to a query."
}

func (KnowledgeSimilarity) Input() *core.Form {
	return core.ObjectForm(map[string]*core.Form{
		"query": {Type: "string", Key: "query", Description: "What to search for"},
	}, "query")
}

func (t KnowledgeSimilarity) GenerateToolFlow(orgCode string) *core.Flow {
	return toolFlow(t, orgCode,
		&core.Node{
			Type: core.NodeKnowledgeSimilarity,
			Params: map[string]any{
				"knowledge_codes": systemField("knowledge_codes"),
				"query":           startField("query"),
				"limit":           systemField("limit"),
				"score":           systemField("score"),
			},
		},
		core.ObjectForm(map[string]*core.Form{
			"similarities": {Type: "array", Key: "similarities", Value: nodeField("similarities")},
			"fragments":    {Type: "array", Key: "fragments", Value: nodeField("fragments")},
		}),
	)
}
