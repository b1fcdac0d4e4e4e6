package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"
)

// InMemoryStore is a process-local Persistence keyed by conversation id.
// Messages are kept in insertion order.
type InMemoryStore struct {
	mu       sync.RWMutex
	messages map[string][]Message // conversationID -> messages
	seq      int
}

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{messages: make(map[string][]Message)}
}

// Store appends a message, assigning an id and timestamp when missing.
func (s *InMemoryStore) Store(_ context.Context, msg Message) error {
	if msg.ConversationID == "" {
		return fmt.Errorf("memory: conversation id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	if msg.ID == "" {
		msg.ID = fmt.Sprintf("msg_%d", s.seq)
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], msg)
	return nil
}

// Queries implements Persistence. The origin conversation is consulted when the
// conversation itself holds no messages.
func (s *InMemoryStore) Queries(_ context.Context, q Query, ignoreIDs []string) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.messages[q.ConversationID]
	if len(all) == 0 && q.OriginConversationID != "" {
		all = s.messages[q.OriginConversationID]
	}

	matched := make([]Message, 0, len(all))
	for _, m := range all {
		if q.TopicID != "" && m.TopicID != q.TopicID {
			continue
		}
		if q.MountID != "" && m.MountID != q.MountID {
			continue
		}
		if slices.Contains(ignoreIDs, m.ID) || (m.RequestID != "" && slices.Contains(ignoreIDs, m.RequestID)) {
			continue
		}
		matched = append(matched, m)
	}

	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[len(matched)-q.Limit:]
	}
	return slices.Clone(matched), nil
}
