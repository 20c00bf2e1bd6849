package security

import (
	"crypto/hmac"
	"crypto/rand"
	"encoding/hex"
	"sync"

	"shop-admin/internal/session"
)

// TokenManager holds the synchronizer token for the console's single session.
// The token is replaced whenever the session signs in or out, so a form rendered
// for one session cannot be replayed against the next.
type TokenManager struct {
	mu    sync.RWMutex
	token string
}

// NewTokenManager creates a TokenManager with a fresh token
func NewTokenManager() (*TokenManager, error) {
	tm := &TokenManager{}
	if err := tm.Rotate(); err != nil {
		return nil, err
	}
	return tm, nil
}

// Generate creates a cryptographically secure random token as 64 hex characters
func Generate() (string, error) {
	randomBytes := make([]byte, 32)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(randomBytes), nil
}

// Token returns the token forms must echo back
func (tm *TokenManager) Token() string {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return tm.token
}

// Rotate replaces the current token
func (tm *TokenManager) Rotate() error {
	token, err := Generate()
	if err != nil {
		return err
	}
	tm.mu.Lock()
	tm.token = token
	tm.mu.Unlock()
	return nil
}

// Verify compares submitted against the current token in constant time
func (tm *TokenManager) Verify(submitted string) bool {
	if submitted == "" {
		return false
	}
	return hmac.Equal([]byte(tm.Token()), []byte(submitted))
}

// Attach rotates the token each time machine changes between signed in and
// signed out. The returned func detaches it.
func (tm *TokenManager) Attach(machine *session.Machine) func() {
	return machine.Subscribe(func(e session.Event) {
		if e.Previous.Authenticated() == e.Current.Authenticated() &&
			e.Previous.Token == e.Current.Token {
			return
		}
		// keep the old token rather than leave the console without one
		_ = tm.Rotate()
	})
}
