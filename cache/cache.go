package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/flowmesh/core"
)

// MaxTTL bounds how long a cache entry may live.
const MaxTTL = 30 * 24 * time.Hour

// Store is the key/value collaborator behind the cache nodes.
type Store interface {
	// Get returns the value and whether it was found. A miss is not an error.
	Get(ctx context.Context, key string) (any, bool, error)
	// Set stores value. A zero ttl means no expiry.
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Scope selects the key prefix strategy.
type Scope string

const (
	ScopeTopic  Scope = "topic"
	ScopeUser   Scope = "user"
	ScopeAgent  Scope = "agent"
	ScopeGlobal Scope = "global"
)

// Valid reports whether s is a known scope.
func (s Scope) Valid() bool {
	switch s {
	case ScopeTopic, ScopeUser, ScopeAgent, ScopeGlobal:
		return true
	}
	return false
}

// ScopedKey prefixes key according to scope and the run identity.
// An empty scope is treated as topic.
func ScopedKey(scope Scope, e *core.ExecutionContext, key string) string {
	var prefix string
	switch scope {
	case ScopeUser:
		di := e.DataIsolation()
		prefix = fmt.Sprintf("user:%s:%s", di.OrganizationCode, di.UserID)
	case ScopeAgent:
		code := e.ParentFlowCode()
		if code == "" {
			code = e.FlowCode()
		}
		prefix = "agent:" + code
	case ScopeGlobal:
		prefix = "org:" + e.DataIsolation().OrganizationCode
	default:
		topic, _ := e.TopicID()
		prefix = fmt.Sprintf("topic:%s:%s", e.ConversationID(), topic)
	}
	return prefix + ":" + key
}

type entry struct {
	value     any
	expiresAt time.Time
}

// InMemoryStore is a process-local Store with lazy expiry.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries map[string]entry
	now     func() time.Time
}

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{entries: map[string]entry{}, now: time.Now}
}

// Get implements Store.
func (s *InMemoryStore) Get(_ context.Context, key string) (any, bool, error) {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if !e.expiresAt.IsZero() && !s.now().Before(e.expiresAt) {
		s.mu.Lock()
		delete(s.entries, key)
		s.mu.Unlock()
		return nil, false, nil
	}
	return e.value, true, nil
}

// Set implements Store.
func (s *InMemoryStore) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	e := entry{value: value}
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}
	s.mu.Lock()
	s.entries[key] = e
	s.mu.Unlock()
	return nil
}

// Delete implements Store.
func (s *InMemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}
