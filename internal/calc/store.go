// Package calc keeps calculator payloads in memory between the request that
// stores them and the webhook that later turns them into a report.
package calc

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/google/uuid"
)

var (
	ErrNotFound     = errors.New("calculation not found")
	ErrEmptyPayload = errors.New("calculation payload is empty")
)

// Store maps generated ids to opaque JSON payloads.
type Store interface {
	Put(ctx context.Context, payload json.RawMessage) (string, error)
	Get(ctx context.Context, id string) (json.RawMessage, error)
}

// MemoryStore is a Store that lives for the lifetime of the process.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]json.RawMessage
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]json.RawMessage)}
}

// Put stores a copy of payload under a new uuid.
func (s *MemoryStore) Put(_ context.Context, payload json.RawMessage) (string, error) {
	if len(payload) == 0 {
		return "", ErrEmptyPayload
	}
	id := uuid.NewString()
	cp := make(json.RawMessage, len(payload))
	copy(cp, payload)

	s.mu.Lock()
	s.data[id] = cp
	s.mu.Unlock()
	return id, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (json.RawMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.data[id]
	if !ok {
		return nil, ErrNotFound
	}
	return p, nil
}

// Len returns the number of stored payloads.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
