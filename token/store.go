package token

import (
	"context"
	"sync"
)

// Store caches the raw token of one client. It has no notion of expiry.
type Store interface {
	// Get returns the cached token and whether one is present.
	Get(ctx context.Context) (string, bool, error)
	Set(ctx context.Context, token string) error
}

type MemoryStore struct {
	mu    sync.RWMutex
	token *string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Get(_ context.Context) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == nil {
		return "", false, nil
	}
	return *s.token, true, nil
}

func (s *MemoryStore) Set(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = &token
	return nil
}
