// Package credstore provides the device-local domain.CredentialStore backends and
// selects the configured backend at startup.
package credstore

import (
	"context"
	"database/sql"
	"fmt"

	"shop-admin/internal/config"
	"shop-admin/internal/domain"
	"shop-admin/internal/repository/postgres"
)

// New returns the credential store named by cfg.CredentialStore. db is only used by
// the postgres backend and may be nil otherwise.
func New(ctx context.Context, cfg *config.Config, db *sql.DB) (domain.CredentialStore, error) {
	switch cfg.CredentialStore {
	case config.StoreMemory:
		return NewMemoryStore(), nil
	case config.StoreFile:
		return NewFileStore(cfg.CredentialFile, cfg.CredentialSecret)
	case config.StorePostgres:
		if db == nil {
			return nil, fmt.Errorf("postgres credential store requires a database connection")
		}
		if err := postgres.EnsureCredentialSchema(ctx, db); err != nil {
			return nil, err
		}
		return postgres.NewCredentialRepository(db, cfg.CredentialNamespace)
	default:
		return nil, fmt.Errorf("unknown credential store %q", cfg.CredentialStore)
	}
}
