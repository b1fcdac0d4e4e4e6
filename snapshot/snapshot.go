package snapshot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/hupe1980/flowmesh/core"
)

// ErrNotFound is returned when no live snapshot exists for a key.
var ErrNotFound = errors.New("snapshot not found")

// Snapshot is a suspended run waiting for the next message of a conversation.
type Snapshot struct {
	ConversationID string               `msgpack:"conversation_id"`
	FlowCode       string               `msgpack:"flow_code"`
	ExecutionID    string               `msgpack:"execution_id"`
	WaitNodeID     string               `msgpack:"wait_node_id"`
	Operator       core.Operator        `msgpack:"operator"`
	TopicID        string               `msgpack:"topic_id"`
	Data           core.PersistenceData `msgpack:"data"`
	CreatedAt      time.Time            `msgpack:"created_at"`
	// ExpiresAt is zero when the snapshot never expires.
	ExpiresAt time.Time `msgpack:"expires_at"`
}

// Expired reports whether the snapshot is past its deadline at now.
func (s *Snapshot) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// Store persists snapshots keyed by (conversation id, flow code).
type Store interface {
	Save(ctx context.Context, s *Snapshot) error
	// Load returns ErrNotFound for missing or expired snapshots.
	Load(ctx context.Context, conversationID, flowCode string) (*Snapshot, error)
	Delete(ctx context.Context, conversationID, flowCode string) error
}

// Codec encodes snapshots as zstd-compressed msgpack.
type Codec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewCodec creates a codec. It is safe for concurrent use.
func NewCodec() (*Codec, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &Codec{enc: enc, dec: dec}, nil
}

// Encode serializes s.
func (c *Codec) Encode(s *Snapshot) ([]byte, error) {
	var buf bytes.Buffer
	if err := msgpack.NewEncoder(&buf).Encode(s); err != nil {
		return nil, fmt.Errorf("msgpack encode: %w", err)
	}
	return c.enc.EncodeAll(buf.Bytes(), nil), nil
}

// Decode deserializes data. Integers inside node outputs and variables come
// back as int64, floats as float64.
func (c *Codec) Decode(data []byte) (*Snapshot, error) {
	raw, err := c.dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decode: %w", err)
	}
	dec := msgpack.NewDecoder(bytes.NewReader(raw))
	dec.UseLooseInterfaceDecoding(true)
	var s Snapshot
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("msgpack decode: %w", err)
	}
	return &s, nil
}

type key struct{ conversationID, flowCode string }

// InMemoryStore keeps encoded snapshots in process memory.
type InMemoryStore struct {
	mu    sync.RWMutex
	codec *Codec
	data  map[key][]byte
	now   func() time.Time
}

// NewInMemoryStore creates an empty store.
func NewInMemoryStore(codec *Codec) *InMemoryStore {
	return &InMemoryStore{codec: codec, data: map[key][]byte{}, now: time.Now}
}

// WithClock sets the clock Load checks expiry against.
func (m *InMemoryStore) WithClock(now func() time.Time) *InMemoryStore {
	m.now = now
	return m
}

// Save implements Store.
func (m *InMemoryStore) Save(_ context.Context, s *Snapshot) error {
	b, err := m.codec.Encode(s)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.data[key{s.ConversationID, s.FlowCode}] = b
	m.mu.Unlock()
	return nil
}

// Load implements Store.
func (m *InMemoryStore) Load(_ context.Context, conversationID, flowCode string) (*Snapshot, error) {
	m.mu.RLock()
	b, ok := m.data[key{conversationID, flowCode}]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	s, err := m.codec.Decode(b)
	if err != nil {
		return nil, err
	}
	if s.Expired(m.now()) {
		return nil, ErrNotFound
	}
	return s, nil
}

// Delete implements Store.
func (m *InMemoryStore) Delete(_ context.Context, conversationID, flowCode string) error {
	m.mu.Lock()
	delete(m.data, key{conversationID, flowCode})
	m.mu.Unlock()
	return nil
}
