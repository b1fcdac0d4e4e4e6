package node

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cast"

	"github.com/hupe1980/flowmesh/core"
	"github.com/hupe1980/flowmesh/knowledge"
)

// Knowledge search defaults.
const (
	DefaultKnowledgeLimit = 5
	DefaultKnowledgeScore = 0.4
)

// KnowledgeParams are the params of a knowledge similarity node.
type KnowledgeParams struct {
	KnowledgeCodes    *core.Value `json:"knowledge_codes,omitempty"`
	VectorDatabaseIDs []string    `json:"vector_database_ids,omitempty"`
	Query             *core.Value `json:"query" validate:"required"`
	Limit             *core.Value `json:"limit,omitempty"`
	Score             *core.Value `json:"score,omitempty"`
	MetadataFilter    *core.Form  `json:"metadata_filter,omitempty"`
}

// KnowledgeSimilarity is the knowledge similarity node definition.
func KnowledgeSimilarity() Definition {
	return define(core.NodeKnowledgeSimilarity, parseKnowledge, runKnowledge)
}

func parseKnowledge(n *core.Node, _ *Services) (*KnowledgeParams, error) {
	p := &KnowledgeParams{}
	err := decode(n, p, map[string]core.ValueMode{
		"knowledge_codes": core.ValueExpression,
		"query":           core.ValueTemplate,
		"limit":           core.ValueConst,
		"score":           core.ValueConst,
	})
	if err != nil {
		return nil, err
	}
	if v, ok := constNumber(p.Limit); ok {
		if err := checkLimit(int(v)); err != nil {
			return nil, err
		}
	}
	if v, ok := constNumber(p.Score); ok {
		if err := checkScore(v); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func checkLimit(limit int) error {
	if limit < 1 || limit > 100 {
		return core.NewValidationError("limit", "must be between 1 and 100")
	}
	return nil
}

func checkScore(score float64) error {
	if score <= 0 || score >= 1 {
		return core.NewValidationError("score", "must be between 0 and 1 (exclusive)")
	}
	return nil
}

func runKnowledge(ctx context.Context, env Env, p *KnowledgeParams, vr *core.VertexResult, exec *core.ExecutionContext, _ []*core.VertexResult) error {
	data := exec.ExpressionFieldData()

	query, err := p.Query.ResolveString(data)
	if err != nil {
		return err
	}
	if strings.TrimSpace(query) == "" {
		return core.NewValidationError("query", "required")
	}
	limit, err := resolveInt(p.Limit, data, "limit", DefaultKnowledgeLimit)
	if err != nil {
		return err
	}
	if err := checkLimit(limit); err != nil {
		return err
	}
	score, err := resolveFloat(p.Score, data, "score", DefaultKnowledgeScore)
	if err != nil {
		return err
	}
	if err := checkScore(score); err != nil {
		return err
	}
	codes, err := knowledgeCodes(p, data)
	if err != nil {
		return err
	}
	metadata, err := metadataFilter(p.MetadataFilter, data)
	if err != nil {
		return err
	}
	if env.Services.Knowledge == nil {
		return missing("knowledge similarity")
	}

	filter := knowledge.Filter{
		KnowledgeCodes: codes,
		Query:          query,
		Limit:          limit,
		Score:          score,
		Metadata:       metadata,
	}
	vr.AddDebugLog("knowledge_codes", codes)
	vr.AddDebugLog("query", query)

	frags, err := env.Services.Knowledge.Similarity(ctx, exec.DataIsolation(), filter)
	if err != nil {
		return fmt.Errorf("knowledge similarity: %w", err)
	}

	similarities := make([]any, 0, len(frags))
	fragments := make([]any, 0, len(frags))
	for _, f := range frags {
		similarities = append(similarities, f.Content)
		fragments = append(fragments, f.ToMap())
	}
	env.save(vr, exec, map[string]any{
		"similarities": similarities,
		"fragments":    fragments,
	})
	return nil
}

func knowledgeCodes(p *KnowledgeParams, data map[string]any) ([]string, error) {
	raw, err := p.KnowledgeCodes.Resolve(data)
	if err != nil {
		return nil, err
	}
	var codes []string
	switch v := raw.(type) {
	case nil:
	case string:
		if v != "" {
			codes = []string{v}
		}
	default:
		if codes, err = cast.ToStringSliceE(v); err != nil {
			return nil, core.NewValidationError("knowledge_codes", "must be a list of strings")
		}
	}
	for _, id := range p.VectorDatabaseIDs {
		if !slices.Contains(codes, id) {
			codes = append(codes, id)
		}
	}
	codes = slices.DeleteFunc(codes, func(s string) bool { return s == "" })
	if len(codes) == 0 {
		return nil, core.NewValidationError("knowledge_codes", "required")
	}
	return codes, nil
}

func metadataFilter(form *core.Form, data map[string]any) (map[string]any, error) {
	if form == nil {
		return nil, nil
	}
	m, err := form.EvaluateMap(data)
	if err != nil {
		return nil, err
	}
	for k, v := range m {
		if v == nil || v == "" {
			delete(m, k)
		}
	}
	return m, nil
}
