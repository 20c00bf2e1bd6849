package postgres

import (
	"errors"

	"github.com/lib/pq"
)

const pqUndefinedTable = "42P01"

// sqlState returns the PostgreSQL error code carried by err, or "" when err
// did not come from the server
func sqlState(err error) string {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return ""
	}
	return string(pqErr.Code)
}

// IsUndefinedTable reports whether err says the credentials table is missing,
// which means EnsureCredentialSchema was never run against this database
func IsUndefinedTable(err error) bool {
	return sqlState(err) == pqUndefinedTable
}
