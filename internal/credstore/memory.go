package credstore

import (
	"context"
	"fmt"
	"sync"

	"shop-admin/internal/domain"
)

// MemoryStore keeps credentials for the lifetime of the process only
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

func (s *MemoryStore) Get(ctx context.Context, key string) (string, bool) {
	if ctx.Err() != nil {
		return "", false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.values[key]
	return value, ok
}

func (s *MemoryStore) Set(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: set %s: %v", domain.ErrStorage, key, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values[key] = value
	return nil
}

// SetAll writes every key in values under one lock
func (s *MemoryStore) SetAll(ctx context.Context, values map[string]string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: set all: %v", domain.ErrStorage, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, value := range values {
		s.values[key] = value
	}
	return nil
}

func (s *MemoryStore) Remove(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: remove %s: %v", domain.ErrStorage, key, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.values, key)
	return nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}
