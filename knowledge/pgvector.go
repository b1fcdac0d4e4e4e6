package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/flowmesh/core"
	"github.com/hupe1980/flowmesh/model"
)

// PGVectorStore is a Similarity on PostgreSQL with the pgvector extension.
// Each knowledge code is searched by its own query; the queries run
// concurrently up to Concurrency.
type PGVectorStore struct {
	pool        *pgxpool.Pool
	embedder    model.Embedder
	tableName   string
	concurrency int
}

// PGVectorOptions configures a PGVectorStore.
type PGVectorOptions struct {
	TableName   string
	Concurrency int
}

// NewPGVectorStore creates a store over pool.
func NewPGVectorStore(pool *pgxpool.Pool, embedder model.Embedder, optFns ...func(o *PGVectorOptions)) *PGVectorStore {
	opts := PGVectorOptions{TableName: "knowledge_fragments", Concurrency: 4}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &PGVectorStore{pool: pool, embedder: embedder, tableName: opts.TableName, concurrency: opts.Concurrency}
}

// InitializeSchema creates the extension, table and indexes.
func (s *PGVectorStore) InitializeSchema(ctx context.Context) error {
	queries := []string{
		"CREATE EXTENSION IF NOT EXISTS vector;",
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id BIGSERIAL PRIMARY KEY,
				organization_code TEXT NOT NULL,
				knowledge_code TEXT NOT NULL,
				business_id TEXT NOT NULL DEFAULT '',
				content TEXT NOT NULL,
				metadata JSONB NOT NULL DEFAULT '{}',
				embedding vector(%d)
			);
		`, s.tableName, s.embedder.Dimensions()),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %[1]s_embedding_idx ON %[1]s USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100);", s.tableName),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %[1]s_metadata_idx ON %[1]s USING GIN (metadata);", s.tableName),
	}
	for _, q := range queries {
		if _, err := s.pool.Exec(ctx, q); err != nil {
			return fmt.Errorf("failed to execute schema query: %w", err)
		}
	}
	return nil
}

// Add embeds and inserts fragments for an organization.
func (s *PGVectorStore) Add(ctx context.Context, orgCode string, frags ...Fragment) error {
	texts := make([]string, len(frags))
	for i, f := range frags {
		texts[i] = f.Content
	}
	vectors, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("failed to embed fragments: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (organization_code, knowledge_code, business_id, content, metadata, embedding)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, s.tableName)
	for i, f := range frags {
		md, err := json.Marshal(f.Metadata)
		if err != nil {
			return fmt.Errorf("failed to serialize metadata: %w", err)
		}
		if _, err := s.pool.Exec(ctx, query, orgCode, f.KnowledgeCode, f.BusinessID, f.Content, md,
			pgvector.NewVector(vectors[i])); err != nil {
			return fmt.Errorf("failed to insert fragment: %w", err)
		}
	}
	return nil
}

// Similarity implements Similarity.
func (s *PGVectorStore) Similarity(ctx context.Context, di core.DataIsolation, filter Filter) ([]Fragment, error) {
	vecs, err := s.embedder.Embed(ctx, []string{filter.Query})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	qvec := pgvector.NewVector(vecs[0])

	mdFilter := []byte("{}")
	if len(filter.Metadata) > 0 {
		if mdFilter, err = json.Marshal(filter.Metadata); err != nil {
			return nil, fmt.Errorf("failed to serialize metadata filter: %w", err)
		}
	}

	var (
		mu  sync.Mutex
		out []Fragment
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, code := range filter.KnowledgeCodes {
		g.Go(func() error {
			frags, err := s.search(gctx, di.OrganizationCode, code, qvec, mdFilter, filter)
			if err != nil {
				return fmt.Errorf("knowledge %s: %w", code, err)
			}
			mu.Lock()
			out = append(out, frags...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return rank(out, filter.Limit), nil
}

func (s *PGVectorStore) search(
	ctx context.Context,
	orgCode, code string,
	qvec pgvector.Vector,
	mdFilter []byte,
	filter Filter,
) ([]Fragment, error) {
	query := fmt.Sprintf(`
		SELECT business_id, content, metadata, 1 - (embedding <=> $1) AS similarity
		FROM %s
		WHERE organization_code = $2
		  AND knowledge_code = $3
		  AND metadata @> $4::jsonb
		  AND 1 - (embedding <=> $1) >= $5
		ORDER BY embedding <=> $1
		LIMIT $6
	`, s.tableName)

	rows, err := s.pool.Query(ctx, query, qvec, orgCode, code, mdFilter, filter.Score, filter.Limit)
	if err != nil {
		return nil, fmt.Errorf("failed to execute similarity search: %w", err)
	}
	defer rows.Close()

	var out []Fragment
	for rows.Next() {
		f := Fragment{KnowledgeCode: code}
		var md []byte
		if err := rows.Scan(&f.BusinessID, &f.Content, &md, &f.Score); err != nil {
			return nil, fmt.Errorf("failed to scan fragment: %w", err)
		}
		if len(md) > 0 {
			if err := json.Unmarshal(md, &f.Metadata); err != nil {
				return nil, fmt.Errorf("failed to deserialize metadata: %w", err)
			}
		}
		out = append(out, f)
	}
	return out, rows.Err()
}
