// Package repositories implements the data access layer for the registry.
// Handlers and services never issue SQL directly; every query lives here so it
// can be tested against sqlmock in isolation.
package repositories

import (
	"errors"

	"github.com/lib/pq"
	"github.com/thunderstore-io/thunderstore-registry/internal/apperrors"
)

const pqUniqueViolation = "23505"

// isUniqueViolation reports whether err is a Postgres unique_violation.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation
}

// storageError wraps a driver error for op, unless it already carries a
// domain classification.
func storageError(op string, err error) error {
	if apperrors.CodeOf(err) != apperrors.CodeInternal {
		return err
	}
	return &apperrors.StorageError{Op: op, Err: err}
}
