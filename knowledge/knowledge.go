package knowledge

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/hupe1980/flowmesh/core"
	"github.com/hupe1980/flowmesh/model"
)

// Fragment is one retrieved piece of knowledge.
type Fragment struct {
	KnowledgeCode string         `json:"knowledge_code"`
	BusinessID    string         `json:"business_id"`
	Content       string         `json:"content"`
	Metadata      map[string]any `json:"metadata"`
	Score         float64        `json:"score"`
}

// ToMap returns the shape exposed to downstream nodes.
func (f Fragment) ToMap() map[string]any {
	md := f.Metadata
	if md == nil {
		md = map[string]any{}
	}
	return map[string]any{
		"business_id": f.BusinessID,
		"content":     f.Content,
		"metadata":    md,
	}
}

// Filter describes a similarity search.
type Filter struct {
	KnowledgeCodes []string
	Query          string
	Limit          int
	// Score is the minimum similarity in (0,1).
	Score float64
	// Metadata restricts results to fragments whose metadata contains every pair.
	Metadata map[string]any
}

// Similarity is the knowledge search collaborator.
type Similarity interface {
	Similarity(ctx context.Context, di core.DataIsolation, filter Filter) ([]Fragment, error)
}

type storedFragment struct {
	Fragment
	orgCode string
	vector  []float32
}

// InMemoryStore is a process-local Similarity. With an Embedder it ranks by
// cosine similarity; without one it ranks by token overlap.
type InMemoryStore struct {
	mu        sync.RWMutex
	fragments map[string][]storedFragment // knowledge code -> fragments
	embedder  model.Embedder
}

// NewInMemoryStore creates a store. embedder may be nil.
func NewInMemoryStore(embedder model.Embedder) *InMemoryStore {
	return &InMemoryStore{fragments: map[string][]storedFragment{}, embedder: embedder}
}

// Add stores fragments under their knowledge code for an organization.
func (s *InMemoryStore) Add(ctx context.Context, orgCode string, frags ...Fragment) error {
	var vectors [][]float32
	if s.embedder != nil {
		texts := make([]string, len(frags))
		for i, f := range frags {
			texts[i] = f.Content
		}
		var err error
		if vectors, err = s.embedder.Embed(ctx, texts); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, f := range frags {
		sf := storedFragment{Fragment: f, orgCode: orgCode}
		if vectors != nil {
			sf.vector = vectors[i]
		}
		s.fragments[f.KnowledgeCode] = append(s.fragments[f.KnowledgeCode], sf)
	}
	return nil
}

// Similarity implements Similarity.
func (s *InMemoryStore) Similarity(ctx context.Context, di core.DataIsolation, filter Filter) ([]Fragment, error) {
	var qvec []float32
	if s.embedder != nil {
		vecs, err := s.embedder.Embed(ctx, []string{filter.Query})
		if err != nil {
			return nil, err
		}
		qvec = vecs[0]
	}
	qtokens := tokenize(filter.Query)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Fragment
	for _, code := range filter.KnowledgeCodes {
		for _, sf := range s.fragments[code] {
			if sf.orgCode != di.OrganizationCode || !matchMetadata(sf.Metadata, filter.Metadata) {
				continue
			}
			var score float64
			if qvec != nil && sf.vector != nil {
				score = cosine(qvec, sf.vector)
			} else {
				score = overlap(qtokens, tokenize(sf.Content))
			}
			if score < filter.Score {
				continue
			}
			f := sf.Fragment
			f.Score = score
			out = append(out, f)
		}
	}
	return rank(out, filter.Limit), nil
}

func rank(frags []Fragment, limit int) []Fragment {
	sort.SliceStable(frags, func(i, j int) bool { return frags[i].Score > frags[j].Score })
	if limit > 0 && len(frags) > limit {
		frags = frags[:limit]
	}
	return frags
}

func matchMetadata(md, want map[string]any) bool {
	for k, v := range want {
		if md[k] != v {
			return false
		}
	}
	return true
}

func tokenize(s string) map[string]struct{} {
	out := map[string]struct{}{}
	for _, t := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r > 127)
	}) {
		out[t] = struct{}{}
	}
	return out
}

// overlap is the share of query tokens present in the document.
func overlap(q, doc map[string]struct{}) float64 {
	if len(q) == 0 {
		return 0
	}
	hit := 0
	for t := range q {
		if _, ok := doc[t]; ok {
			hit++
		}
	}
	return float64(hit) / float64(len(q))
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
