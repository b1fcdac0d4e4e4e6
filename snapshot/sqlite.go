package snapshot

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists snapshots in a SQLite table.
type SQLiteStore struct {
	db        *sql.DB
	codec     *Codec
	tableName string
	now       func() time.Time
}

// OpenSQLite opens (or creates) a SQLite database at dsn and prepares the table.
func OpenSQLite(ctx context.Context, dsn string, codec *Codec) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	s := NewSQLiteStore(db, codec)
	if err := s.CreateTables(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLiteStore wraps an open database.
func NewSQLiteStore(db *sql.DB, codec *Codec) *SQLiteStore {
	return &SQLiteStore{db: db, codec: codec, tableName: "flow_snapshots", now: time.Now}
}

// WithClock sets the clock Load checks expiry against.
func (s *SQLiteStore) WithClock(now func() time.Time) *SQLiteStore {
	s.now = now
	return s
}

// CreateTables creates the snapshot table when missing.
func (s *SQLiteStore) CreateTables(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			conversation_id TEXT NOT NULL,
			flow_code TEXT NOT NULL,
			execution_id TEXT NOT NULL,
			data BLOB NOT NULL,
			created_at INTEGER NOT NULL,
			expires_at INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (conversation_id, flow_code)
		)
	`, s.tableName)
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create snapshot table: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Save implements Store.
func (s *SQLiteStore) Save(ctx context.Context, snap *Snapshot) error {
	data, err := s.codec.Encode(snap)
	if err != nil {
		return fmt.Errorf("failed to serialize snapshot: %w", err)
	}
	var expires int64
	if !snap.ExpiresAt.IsZero() {
		expires = snap.ExpiresAt.Unix()
	}
	query := fmt.Sprintf(`
		INSERT OR REPLACE INTO %s (conversation_id, flow_code, execution_id, data, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, s.tableName)
	if _, err := s.db.ExecContext(ctx, query,
		snap.ConversationID, snap.FlowCode, snap.ExecutionID, data, snap.CreatedAt.Unix(), expires); err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// Load implements Store.
func (s *SQLiteStore) Load(ctx context.Context, conversationID, flowCode string) (*Snapshot, error) {
	query := fmt.Sprintf(`
		SELECT data, expires_at FROM %s WHERE conversation_id = ? AND flow_code = ?
	`, s.tableName)

	var (
		data    []byte
		expires int64
	)
	err := s.db.QueryRowContext(ctx, query, conversationID, flowCode).Scan(&data, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	if expires > 0 && s.now().Unix() >= expires {
		return nil, ErrNotFound
	}
	snap, err := s.codec.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize snapshot: %w", err)
	}
	return snap, nil
}

// Delete implements Store.
func (s *SQLiteStore) Delete(ctx context.Context, conversationID, flowCode string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE conversation_id = ? AND flow_code = ?", s.tableName)
	if _, err := s.db.ExecContext(ctx, query, conversationID, flowCode); err != nil {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	return nil
}
