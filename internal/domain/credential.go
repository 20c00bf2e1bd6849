package domain

import "context"

// Persisted credential keys
const (
	KeyToken   = "token"
	KeyProfile = "admin"
)

// CredentialKeys lists every key owned by the session
var CredentialKeys = []string{KeyToken, KeyProfile}

// CredentialStore is durable key-value storage for the session token and profile.
//
// Get never fails: backend errors are logged by the implementation and reported as
// an absent value. Remove of an absent key succeeds.
type CredentialStore interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}

// BatchStore is implemented by stores that can write several keys as one unit, so
// a reader never observes some of them updated and others not.
type BatchStore interface {
	SetAll(ctx context.Context, values map[string]string) error
}
