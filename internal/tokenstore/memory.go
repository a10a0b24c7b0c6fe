package tokenstore

import (
	"context"
	"sync"
)

// MemoryStore keeps the token in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	token  string
	closed bool
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Get(ctx context.Context) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return "", ErrClosed
	}
	if m.token == "" {
		return "", ErrTokenMissing
	}
	return m.token, nil
}

func (m *MemoryStore) Set(ctx context.Context, token string) error {
	if token == "" {
		return ErrEmptyToken
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.token = token
	return nil
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
