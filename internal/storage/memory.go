package storage

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/pkg/errors"
)

// MemoryStore is an in-memory DocumentStore for tests. Documents round-trip
// through JSON so type behavior matches the file backend.
type MemoryStore struct {
	mu   sync.Mutex
	docs map[string][]byte
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string][]byte)}
}

// Load reads the named document into v.
func (s *MemoryStore) Load(_ context.Context, name string, v interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, ok := s.docs[name]
	if !ok {
		return ErrNotExist
	}
	return errors.Wrapf(json.Unmarshal(data, v), "decoding document %s", name)
}

// Save replaces the named document with v.
func (s *MemoryStore) Save(_ context.Context, name string, v interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "encoding document %s", name)
	}
	s.docs[name] = data
	return nil
}
