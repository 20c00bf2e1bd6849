package testutil

import (
	"encoding/json"
	"fmt"
	"sync/atomic"

	"shop-admin/internal/domain"
)

// Counter for generating unique IDs
var idCounter atomic.Int64

func nextID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, idCounter.Add(1))
}

// NewTestProfile creates a profile with sensible defaults.
// Pass options to override specific fields.
func NewTestProfile(opts ...func(*domain.Profile)) *domain.Profile {
	id := nextID("owner")
	p := &domain.Profile{
		ID:          id,
		DisplayName: "Test Owner",
		Username:    "owner" + id[len("owner-"):],
		ShopName:    "Test Shop",
		Phone:       "+10000000000",
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WithProfileUsername sets the username
func WithProfileUsername(username string) func(*domain.Profile) {
	return func(p *domain.Profile) {
		p.Username = username
	}
}

// WithShopName sets the shop name
func WithShopName(name string) func(*domain.Profile) {
	return func(p *domain.Profile) {
		p.ShopName = name
	}
}

// EncodeProfile returns the persisted form of p
func EncodeProfile(p *domain.Profile) string {
	encoded, err := p.Encode()
	if err != nil {
		panic(err)
	}
	return encoded
}

// StoreWithSession returns a mock store already holding token and profile
func StoreWithSession(token string, p *domain.Profile) *MockCredentialStore {
	store := NewMockCredentialStore()
	store.Values[domain.KeyToken] = token
	store.Values[domain.KeyProfile] = EncodeProfile(p)
	return store
}

// LoginSuccessBody is the API response for a successful login
func LoginSuccessBody(token string, p *domain.Profile) []byte {
	body, _ := json.Marshal(map[string]any{
		"success": true,
		"token":   token,
		"owner":   p,
	})
	return body
}

// LoginFailureBody is the API response for a rejected login
func LoginFailureBody(message string) []byte {
	body, _ := json.Marshal(map[string]any{
		"success": false,
		"message": message,
	})
	return body
}
