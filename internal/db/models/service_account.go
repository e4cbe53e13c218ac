package models

import (
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// ServiceAccountEmailDomain is appended to the account id to build the backing
// user's username.
const ServiceAccountEmailDomain = "sa@thunderstore.io"

// ServiceAccount is a machine credential owned by an uploader identity.
type ServiceAccount struct {
	ID          uuid.UUID  `db:"id" json:"uuid"`
	UserID      uuid.UUID  `db:"user_id" json:"-"`
	OwnerID     uuid.UUID  `db:"owner_id" json:"owner_id"`
	Username    string     `db:"username" json:"username"`
	TokenPrefix string     `db:"token_prefix" json:"token_prefix"`
	TokenHash   string     `db:"token_hash" json:"-"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	LastUsedAt  *time.Time `db:"last_used_at" json:"last_used_at"`
}

// ServiceAccountUsername derives the backing user's username from the account
// id: the 32-character lowercase hex form followed by ".sa@thunderstore.io".
func ServiceAccountUsername(id uuid.UUID) string {
	return UUIDHex(id) + "." + ServiceAccountEmailDomain
}

// UUIDHex renders a UUID as 32 lowercase hex digits without dashes.
func UUIDHex(id uuid.UUID) string {
	return hex.EncodeToString(id[:])
}
