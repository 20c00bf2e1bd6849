// Package testutil provides shared test utilities, mocks, and fixtures
// for testing the shop-admin console.
package testutil

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"shop-admin/internal/domain"
)

// Common test errors
var (
	ErrMockStorage = errors.New("mock: storage unavailable")
)

// MockCredentialStore implements domain.CredentialStore for testing
type MockCredentialStore struct {
	mu sync.Mutex

	// Function overrides - set these to customize behavior
	GetFunc    func(ctx context.Context, key string) (string, bool)
	SetFunc    func(ctx context.Context, key, value string) error
	RemoveFunc func(ctx context.Context, key string) error

	// In-memory storage for simple tests
	Values map[string]string

	// Call log
	SetCalls    []string
	RemoveCalls []string
}

// NewMockCredentialStore creates a MockCredentialStore with initialized maps
func NewMockCredentialStore() *MockCredentialStore {
	return &MockCredentialStore{
		Values: make(map[string]string),
	}
}

// NewFailingCredentialStore returns a store whose writes and removals fail
// and whose reads find nothing
func NewFailingCredentialStore() *MockCredentialStore {
	m := NewMockCredentialStore()
	m.GetFunc = func(ctx context.Context, key string) (string, bool) { return "", false }
	m.SetFunc = func(ctx context.Context, key, value string) error {
		return fmt.Errorf("%w: %v", domain.ErrStorage, ErrMockStorage)
	}
	m.RemoveFunc = func(ctx context.Context, key string) error {
		return fmt.Errorf("%w: %v", domain.ErrStorage, ErrMockStorage)
	}
	return m
}

func (m *MockCredentialStore) Get(ctx context.Context, key string) (string, bool) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, key)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	value, ok := m.Values[key]
	return value, ok
}

func (m *MockCredentialStore) Set(ctx context.Context, key, value string) error {
	m.mu.Lock()
	m.SetCalls = append(m.SetCalls, key)
	m.mu.Unlock()

	if m.SetFunc != nil {
		return m.SetFunc(ctx, key, value)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Values == nil {
		m.Values = make(map[string]string)
	}
	m.Values[key] = value
	return nil
}

func (m *MockCredentialStore) Remove(ctx context.Context, key string) error {
	m.mu.Lock()
	m.RemoveCalls = append(m.RemoveCalls, key)
	m.mu.Unlock()

	if m.RemoveFunc != nil {
		return m.RemoveFunc(ctx, key)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.Values, key)
	return nil
}

// Has reports whether key is currently stored
func (m *MockCredentialStore) Has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.Values[key]
	return ok
}

// SetCount returns how many Set calls were made
func (m *MockCredentialStore) SetCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.SetCalls)
}

// RemoveCount returns how many Remove calls were made
func (m *MockCredentialStore) RemoveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.RemoveCalls)
}
