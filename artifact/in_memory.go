package artifact

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
)

// Store persists objects under keys and returns a URL per object.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, contentType string) (string, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// ValidateKey rejects empty keys and path traversal.
func ValidateKey(key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	if strings.Contains(key, "..") {
		return ErrInvalidKey
	}
	return nil
}

type object struct {
	data        []byte
	contentType string
}

// InMemoryStore is a process-local Store. Data is copied on Put and Get.
type InMemoryStore struct {
	mu      sync.RWMutex
	objects map[string]object
	baseURL string
}

// NewInMemoryStore returns an empty store whose URLs start with baseURL
// ("mem://" when empty).
func NewInMemoryStore(baseURL string) *InMemoryStore {
	if baseURL == "" {
		baseURL = "mem://"
	}
	return &InMemoryStore{objects: make(map[string]object), baseURL: strings.TrimSuffix(baseURL, "/") + "/"}
}

// Put implements Store.
func (s *InMemoryStore) Put(_ context.Context, key string, r io.Reader, contentType string) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.objects[key] = object{data: data, contentType: contentType}
	s.mu.Unlock()
	return s.baseURL + key, nil
}

// Get implements Store.
func (s *InMemoryStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.objects[key]
	if !ok {
		return nil, ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(bytes.Clone(o.data))), nil
}

// Delete implements Store.
func (s *InMemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[key]; !ok {
		return ErrNotFound
	}
	delete(s.objects, key)
	return nil
}

// Keys returns the stored keys.
func (s *InMemoryStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		keys = append(keys, k)
	}
	return keys
}
