package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"shop-admin/internal/domain"
	"shop-admin/internal/observability"
)

const createCredentialsTable = `
	CREATE TABLE IF NOT EXISTS console_credentials (
		namespace  TEXT NOT NULL,
		key        TEXT NOT NULL,
		value      TEXT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (namespace, key)
	)
`

const (
	getCredentialQuery = `
		SELECT value FROM console_credentials
		WHERE namespace = $1 AND key = $2
	`
	upsertCredentialQuery = `
		INSERT INTO console_credentials (namespace, key, value, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (namespace, key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
	`
	deleteCredentialQuery = `DELETE FROM console_credentials WHERE namespace = $1 AND key = $2`
)

// CredentialRepository is a domain.CredentialStore shared by devices in a managed
// fleet. Each device reads and writes only the rows of its own namespace.
type CredentialRepository struct {
	db         *sql.DB
	namespace  string
	getStmt    *sql.Stmt
	upsertStmt *sql.Stmt
	deleteStmt *sql.Stmt
}

// EnsureCredentialSchema creates the credentials table if it does not exist
func EnsureCredentialSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, createCredentialsTable); err != nil {
		return fmt.Errorf("failed to create credentials table: %w", err)
	}
	return nil
}

// NewCredentialRepository creates a CredentialRepository with prepared statements.
// Returns an error if statement preparation fails; statements already prepared are
// closed in that case.
func NewCredentialRepository(db *sql.DB, namespace string) (*CredentialRepository, error) {
	repo := &CredentialRepository{db: db, namespace: namespace}

	var err error
	repo.getStmt, err = db.Prepare(getCredentialQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare get statement: %w", err)
	}

	repo.upsertStmt, err = db.Prepare(upsertCredentialQuery)
	if err != nil {
		repo.Close()
		return nil, fmt.Errorf("failed to prepare upsert statement: %w", err)
	}

	repo.deleteStmt, err = db.Prepare(deleteCredentialQuery)
	if err != nil {
		repo.Close()
		return nil, fmt.Errorf("failed to prepare delete statement: %w", err)
	}

	return repo, nil
}

func (r *CredentialRepository) Get(ctx context.Context, key string) (string, bool) {
	var value string
	err := r.getStmt.QueryRowContext(ctx, r.namespace, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false
	}
	if err != nil {
		r.logFailure("get", key, err)
		return "", false
	}
	return value, true
}

func (r *CredentialRepository) Set(ctx context.Context, key, value string) error {
	if _, err := r.upsertStmt.ExecContext(ctx, r.namespace, key, value); err != nil {
		r.logFailure("set", key, err)
		return fmt.Errorf("%w: failed to store %s: %v", domain.ErrStorage, key, err)
	}
	return nil
}

// SetAll upserts every key in values in one transaction
func (r *CredentialRepository) SetAll(ctx context.Context, values map[string]string) error {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		r.logFailure("set", strings.Join(keys, ","), err)
		return fmt.Errorf("%w: failed to begin transaction: %v", domain.ErrStorage, err)
	}

	for _, key := range keys {
		if _, err := tx.ExecContext(ctx, upsertCredentialQuery, r.namespace, key, values[key]); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				err = fmt.Errorf("%v, rollback: %v", err, rbErr)
			}
			r.logFailure("set", key, err)
			return fmt.Errorf("%w: failed to store %s: %v", domain.ErrStorage, key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		r.logFailure("set", strings.Join(keys, ","), err)
		return fmt.Errorf("%w: failed to commit credentials: %v", domain.ErrStorage, err)
	}
	return nil
}

func (r *CredentialRepository) Remove(ctx context.Context, key string) error {
	if _, err := r.deleteStmt.ExecContext(ctx, r.namespace, key); err != nil {
		r.logFailure("remove", key, err)
		return fmt.Errorf("%w: failed to remove %s: %v", domain.ErrStorage, key, err)
	}
	return nil
}

// Ping checks database connectivity
func (r *CredentialRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close releases the prepared statements
func (r *CredentialRepository) Close() error {
	var errs []error
	for _, stmt := range []*sql.Stmt{r.getStmt, r.upsertStmt, r.deleteStmt} {
		if stmt != nil {
			if err := stmt.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (r *CredentialRepository) logFailure(op, key string, err error) {
	observability.CredentialStoreErrorsTotal.WithLabelValues("postgres", op).Inc()
	attrs := []any{
		slog.String("operation", op),
		slog.String("namespace", r.namespace),
		slog.String("key", key),
		slog.String("error", err.Error()),
	}
	if code := sqlState(err); code != "" {
		attrs = append(attrs, slog.String("sqlstate", code))
	}
	if IsUndefinedTable(err) {
		slog.Error("credentials table is missing, run EnsureCredentialSchema", attrs...)
		return
	}
	slog.Error("credential repository operation failed", attrs...)
}
