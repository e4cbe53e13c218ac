// Package models defines the registry's persistent entities. Field tags carry
// both the sqlx column name and the JSON name used in API responses.
package models

import (
	"time"

	"github.com/google/uuid"
)

// User is an authenticated principal. Service accounts are backed by a User
// whose username is derived from the account id.
type User struct {
	ID               uuid.UUID `db:"id" json:"id"`
	Username         string    `db:"username" json:"username"`
	Email            string    `db:"email" json:"email"`
	IsActive         bool      `db:"is_active" json:"is_active"`
	IsStaff          bool      `db:"is_staff" json:"is_staff"`
	IsServiceAccount bool      `db:"is_service_account" json:"is_service_account"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
}
