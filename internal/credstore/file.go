package credstore

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"shop-admin/internal/domain"
	"shop-admin/internal/observability"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

var (
	errCorruptFile = errors.New("credential file is corrupt or sealed with another secret")
	fileAD         = []byte("shop-admin/credentials/v1")
)

// FileStore persists the credential keys on the device in a single sealed file.
// Every write replaces the whole file atomically; SetAll writes several keys in one
// replacement, so a session stored with it is never observed half-written.
type FileStore struct {
	path string
	aead cipher.AEAD
	mu   sync.Mutex
}

// NewFileStore creates a FileStore at path sealed with a key derived from secret
func NewFileStore(path, secret string) (*FileStore, error) {
	if secret == "" {
		return nil, fmt.Errorf("credential secret is required")
	}

	key := make([]byte, chacha20poly1305.KeySize)
	kdf := hkdf.New(sha256.New, []byte(secret), nil, []byte("credential-file"))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("failed to derive credential key: %w", err)
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create credential directory: %w", err)
	}

	return &FileStore{path: path, aead: aead}, nil
}

func (s *FileStore) Get(ctx context.Context, key string) (string, bool) {
	if ctx.Err() != nil {
		return "", false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.load()
	if err != nil {
		s.logFailure("get", err)
		return "", false
	}

	value, ok := values[key]
	return value, ok
}

func (s *FileStore) Set(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: set %s: %v", domain.ErrStorage, key, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.load()
	if err != nil {
		// An unreadable file holds nothing we can recover; start over
		slog.Warn("discarding unreadable credential file", slog.String("error", err.Error()))
		values = make(map[string]string)
	}
	values[key] = value

	if err := s.save(values); err != nil {
		s.logFailure("set", err)
		return fmt.Errorf("%w: set %s: %v", domain.ErrStorage, key, err)
	}
	return nil
}

// SetAll writes every key in values with a single file replacement
func (s *FileStore) SetAll(ctx context.Context, values map[string]string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: set all: %v", domain.ErrStorage, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, err := s.load()
	if err != nil {
		slog.Warn("discarding unreadable credential file", slog.String("error", err.Error()))
		stored = make(map[string]string)
	}
	for key, value := range values {
		stored[key] = value
	}

	if err := s.save(stored); err != nil {
		s.logFailure("set", err)
		return fmt.Errorf("%w: set all: %v", domain.ErrStorage, err)
	}
	return nil
}

func (s *FileStore) Remove(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: remove %s: %v", domain.ErrStorage, key, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.load()
	if err != nil {
		// Nothing readable is left to protect
		if rmErr := os.Remove(s.path); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			s.logFailure("remove", rmErr)
			return fmt.Errorf("%w: remove %s: %v", domain.ErrStorage, key, rmErr)
		}
		return nil
	}

	if _, ok := values[key]; !ok {
		return nil
	}
	delete(values, key)

	if len(values) == 0 {
		err = os.Remove(s.path)
		if errors.Is(err, fs.ErrNotExist) {
			err = nil
		}
	} else {
		err = s.save(values)
	}
	if err != nil {
		s.logFailure("remove", err)
		return fmt.Errorf("%w: remove %s: %v", domain.ErrStorage, key, err)
	}
	return nil
}

// load returns the decrypted key set; a missing file is an empty set
func (s *FileStore) load() (map[string]string, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return make(map[string]string), nil
	}
	if err != nil {
		return nil, err
	}

	nonceSize := s.aead.NonceSize()
	if len(data) < nonceSize {
		return nil, errCorruptFile
	}
	plaintext, err := s.aead.Open(nil, data[:nonceSize], data[nonceSize:], fileAD)
	if err != nil {
		return nil, errCorruptFile
	}

	values := make(map[string]string)
	if err := json.Unmarshal(plaintext, &values); err != nil {
		return nil, errCorruptFile
	}
	return values, nil
}

// save seals values and atomically replaces the credential file
func (s *FileStore) save(values map[string]string) error {
	plaintext, err := json.Marshal(values)
	if err != nil {
		return err
	}

	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(plaintext)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return err
	}
	sealed := s.aead.Seal(nonce, nonce, plaintext, fileAD)

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".credentials-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(sealed); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, s.path)
}

func (s *FileStore) logFailure(op string, err error) {
	observability.CredentialStoreErrorsTotal.WithLabelValues("file", op).Inc()
	slog.Error("credential file operation failed",
		slog.String("operation", op),
		slog.String("path", s.path),
		slog.String("error", err.Error()))
}

// Ping checks that the credential directory is still reachable
func (s *FileStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	info, err := os.Stat(filepath.Dir(s.path))
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStorage, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", domain.ErrStorage, filepath.Dir(s.path))
	}
	return nil
}
