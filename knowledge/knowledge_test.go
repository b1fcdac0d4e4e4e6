package knowledge

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/flowmesh/core"
)

var _ Similarity = (*InMemoryStore)(nil)
var _ Similarity = (*PGVectorStore)(nil)

// letterEmbedder maps texts to a 3-dim vector counting a, b and c.
type letterEmbedder struct{}

func (letterEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{
			float32(strings.Count(t, "a")),
			float32(strings.Count(t, "b")),
			float32(strings.Count(t, "c")),
		}
	}
	return out, nil
}

func (letterEmbedder) Dimensions() int { return 3 }

func TestInMemoryStore_Lexical(t *testing.T) {
	s := NewInMemoryStore(nil)
	ctx := context.Background()
	require.NoError(t, s.Add(ctx, "org",
		Fragment{KnowledgeCode: "kb1", BusinessID: "1", Content: "go channels and goroutines", Metadata: map[string]any{"lang": "go"}},
		Fragment{KnowledgeCode: "kb1", BusinessID: "2", Content: "python asyncio"},
		Fragment{KnowledgeCode: "kb2", BusinessID: "3", Content: "goroutines leak"},
	))
	require.NoError(t, s.Add(ctx, "other-org", Fragment{KnowledgeCode: "kb1", Content: "goroutines"}))

	di := core.DataIsolation{OrganizationCode: "org"}
	frags, err := s.Similarity(ctx, di, Filter{KnowledgeCodes: []string{"kb1", "kb2"}, Query: "goroutines", Limit: 10, Score: 0.5})
	require.NoError(t, err)
	require.Len(t, frags, 2)
	for _, f := range frags {
		assert.Contains(t, f.Content, "goroutines")
	}

	frags, err = s.Similarity(ctx, di, Filter{
		KnowledgeCodes: []string{"kb1", "kb2"}, Query: "goroutines", Limit: 10, Score: 0.5,
		Metadata: map[string]any{"lang": "go"},
	})
	require.NoError(t, err)
	require.Len(t, frags, 1)
	assert.Equal(t, "1", frags[0].BusinessID)
}

func TestInMemoryStore_Embedded(t *testing.T) {
	s := NewInMemoryStore(letterEmbedder{})
	ctx := context.Background()
	require.NoError(t, s.Add(ctx, "org",
		Fragment{KnowledgeCode: "kb", BusinessID: "a", Content: "aaa"},
		Fragment{KnowledgeCode: "kb", BusinessID: "b", Content: "bbb"},
		Fragment{KnowledgeCode: "kb", BusinessID: "ab", Content: "aab"},
	))

	frags, err := s.Similarity(ctx, core.DataIsolation{OrganizationCode: "org"},
		Filter{KnowledgeCodes: []string{"kb"}, Query: "a", Limit: 2, Score: 0.1})
	require.NoError(t, err)
	require.Len(t, frags, 2)
	assert.Equal(t, "a", frags[0].BusinessID)
	assert.Equal(t, "ab", frags[1].BusinessID)
	assert.InDelta(t, 1.0, frags[0].Score, 1e-6)
}

func TestFragment_ToMap(t *testing.T) {
	m := Fragment{BusinessID: "x", Content: "c"}.ToMap()
	assert.Equal(t, "x", m["business_id"])
	assert.Equal(t, map[string]any{}, m["metadata"])
}
