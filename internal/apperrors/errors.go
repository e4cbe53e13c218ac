// Package apperrors defines the registry's error taxonomy. Each error type
// carries a Code, and HTTPStatus/Response map any error to a transport shape
// in one place so handlers never hand-pick status codes.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// Code classifies an error for transport mapping and metrics labels.
type Code string

const (
	CodeAuthorization     Code = "authorization"
	CodeValidation        Code = "validation"
	CodeConflict          Code = "conflict"
	CodeNotFound          Code = "not_found"
	CodeStorage           Code = "storage"
	CodeCacheRegeneration Code = "cache_regeneration"
	CodeInternal          Code = "internal"
)

// MsgCategoryNotFound is reported per unknown category slug.
const MsgCategoryNotFound = "category not found"

// AuthorizationError means the acting principal lacks the required role.
type AuthorizationError struct {
	Field   string
	Message string
}

func (e *AuthorizationError) Error() string { return e.Message }

// ValidationError is a single field-scoped input problem.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// ValidationErrorSet aggregates every problem found in one input. Category
// misses are keyed by slug so callers can point at each bad slug.
type ValidationErrorSet struct {
	Fields     map[string][]string
	Categories map[string]string
}

// NewValidationErrorSet returns an empty set.
func NewValidationErrorSet() *ValidationErrorSet {
	return &ValidationErrorSet{
		Fields:     map[string][]string{},
		Categories: map[string]string{},
	}
}

// Add records a message against a field.
func (s *ValidationErrorSet) Add(field, message string) {
	s.Fields[field] = append(s.Fields[field], message)
}

// AddCategory records a per-slug category error.
func (s *ValidationErrorSet) AddCategory(slug, message string) {
	s.Categories[slug] = message
}

// Merge folds a single ValidationError into the set.
func (s *ValidationErrorSet) Merge(err *ValidationError) {
	s.Add(err.Field, err.Message)
}

// Empty reports whether nothing was recorded.
func (s *ValidationErrorSet) Empty() bool {
	return len(s.Fields) == 0 && len(s.Categories) == 0
}

// Err returns the set as an error, or nil if it is empty.
func (s *ValidationErrorSet) Err() error {
	if s.Empty() {
		return nil
	}
	return s
}

func (s *ValidationErrorSet) Error() string {
	parts := make([]string, 0, len(s.Fields)+len(s.Categories))
	for field, msgs := range s.Fields {
		parts = append(parts, fmt.Sprintf("%s: %s", field, strings.Join(msgs, "; ")))
	}
	for slug, msg := range s.Categories {
		parts = append(parts, fmt.Sprintf("categories[%s]: %s", slug, msg))
	}
	sort.Strings(parts)
	return "validation failed: " + strings.Join(parts, ", ")
}

// ConflictError means a concurrent writer won a uniqueness race.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

// NotFoundError means a referenced resource does not exist.
type NotFoundError struct {
	Resource string
}

func (e *NotFoundError) Error() string { return e.Resource + " not found" }

// StorageError wraps a persistence or blob store failure.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("storage error during %s: %v", e.Op, e.Err) }
func (e *StorageError) Unwrap() error { return e.Err }

// CacheRegenerationError is the failure of a single cache surface.
type CacheRegenerationError struct {
	Surface string
	Err     error
}

func (e *CacheRegenerationError) Error() string {
	return fmt.Sprintf("cache regeneration failed for surface %s: %v", e.Surface, e.Err)
}
func (e *CacheRegenerationError) Unwrap() error { return e.Err }

// CodeOf classifies err. Unknown errors are CodeInternal.
func CodeOf(err error) Code {
	var (
		authErr     *AuthorizationError
		valErr      *ValidationError
		valSet      *ValidationErrorSet
		conflictErr *ConflictError
		notFoundErr *NotFoundError
		storageErr  *StorageError
		cacheErr    *CacheRegenerationError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &authErr):
		return CodeAuthorization
	case errors.As(err, &valSet), errors.As(err, &valErr):
		return CodeValidation
	case errors.As(err, &conflictErr):
		return CodeConflict
	case errors.As(err, &notFoundErr):
		return CodeNotFound
	case errors.As(err, &storageErr):
		return CodeStorage
	case errors.As(err, &cacheErr):
		return CodeCacheRegeneration
	default:
		return CodeInternal
	}
}

// HTTPStatus maps err to a response status.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case CodeAuthorization:
		return http.StatusForbidden
	case CodeValidation:
		return http.StatusBadRequest
	case CodeConflict:
		return http.StatusConflict
	case CodeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Response builds the JSON body for err. Authorization and validation errors
// are field-addressable; storage and unknown errors are opaque.
func Response(err error) map[string]any {
	var (
		authErr *AuthorizationError
		valErr  *ValidationError
		valSet  *ValidationErrorSet
	)
	switch {
	case errors.As(err, &authErr):
		return map[string]any{
			"error":  authErr.Message,
			"fields": map[string][]string{authErr.Field: {authErr.Message}},
		}
	case errors.As(err, &valSet):
		body := map[string]any{"error": "validation failed", "fields": valSet.Fields}
		if len(valSet.Categories) > 0 {
			body["categories"] = valSet.Categories
		}
		return body
	case errors.As(err, &valErr):
		return map[string]any{
			"error":  "validation failed",
			"fields": map[string][]string{valErr.Field: {valErr.Message}},
		}
	}

	switch CodeOf(err) {
	case CodeConflict, CodeNotFound:
		return map[string]any{"error": err.Error()}
	default:
		return map[string]any{"error": "internal server error"}
	}
}
