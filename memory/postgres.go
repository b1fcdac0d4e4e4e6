package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a Persistence backed by a flow_memory table.
type PostgresStore struct {
	pool      *pgxpool.Pool
	tableName string
}

// NewPostgresStore wraps an existing pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, tableName: "flow_memory"}
}

// InitializeSchema creates the memory table when missing.
func (s *PostgresStore) InitializeSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			topic_id TEXT NOT NULL DEFAULT '',
			request_id TEXT NOT NULL DEFAULT '',
			mount_id TEXT NOT NULL DEFAULT '',
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			metadata JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS %[1]s_conv_idx ON %[1]s (conversation_id, created_at);
	`, s.tableName)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to initialize memory schema: %w", err)
	}
	return nil
}

// Store implements Persistence.
func (s *PostgresStore) Store(ctx context.Context, msg Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	md, err := json.Marshal(msg.Metadata)
	if err != nil {
		return fmt.Errorf("failed to serialize metadata: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, conversation_id, topic_id, request_id, mount_id, role, content, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING
	`, s.tableName)
	_, err = s.pool.Exec(ctx, query,
		msg.ID, msg.ConversationID, msg.TopicID, msg.RequestID, msg.MountID,
		msg.Role, msg.Content, md, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to store memory: %w", err)
	}
	return nil
}

// Queries implements Persistence.
func (s *PostgresStore) Queries(ctx context.Context, q Query, ignoreIDs []string) ([]Message, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}
	if ignoreIDs == nil {
		ignoreIDs = []string{}
	}

	query := fmt.Sprintf(`
		SELECT id, conversation_id, topic_id, request_id, mount_id, role, content, metadata, created_at
		FROM (
			SELECT * FROM %s
			WHERE conversation_id = ANY($1)
			  AND ($2 = '' OR topic_id = $2)
			  AND ($3 = '' OR mount_id = $3)
			  AND NOT (id = ANY($4) OR request_id = ANY($4))
			ORDER BY created_at DESC
			LIMIT $5
		) recent
		ORDER BY created_at ASC
	`, s.tableName)

	convs := []string{q.ConversationID}
	if q.OriginConversationID != "" && q.OriginConversationID != q.ConversationID {
		convs = append(convs, q.OriginConversationID)
	}

	rows, err := s.pool.Query(ctx, query, convs, q.TopicID, q.MountID, ignoreIDs, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query memory: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var (
			m  Message
			md []byte
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.TopicID, &m.RequestID, &m.MountID,
			&m.Role, &m.Content, &md, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan memory row: %w", err)
		}
		if len(md) > 0 {
			if err := json.Unmarshal(md, &m.Metadata); err != nil {
				return nil, fmt.Errorf("failed to deserialize metadata: %w", err)
			}
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
