package models

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// UploaderIdentity is an organization that owns packages. Names are unique.
type UploaderIdentity struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// MemberRole is the role a user holds within an uploader identity.
type MemberRole string

const (
	RoleOwner  MemberRole = "owner"
	RoleMember MemberRole = "member"
)

var memberRoles = []MemberRole{RoleOwner, RoleMember}

// MemberRoles returns every valid role, owner first.
func MemberRoles() []MemberRole {
	out := make([]MemberRole, len(memberRoles))
	copy(out, memberRoles)
	return out
}

// ParseMemberRole converts a stored or user-supplied string into a MemberRole.
func ParseMemberRole(s string) (MemberRole, error) {
	r := MemberRole(s)
	if !r.IsValid() {
		return "", fmt.Errorf("invalid member role %q", s)
	}
	return r, nil
}

// IsValid reports whether r is one of the known roles.
func (r MemberRole) IsValid() bool {
	for _, known := range memberRoles {
		if r == known {
			return true
		}
	}
	return false
}

func (r MemberRole) String() string { return string(r) }

// Value implements driver.Valuer.
func (r MemberRole) Value() (driver.Value, error) {
	if !r.IsValid() {
		return nil, fmt.Errorf("invalid member role %q", string(r))
	}
	return string(r), nil
}

// Scan implements sql.Scanner.
func (r *MemberRole) Scan(src any) error {
	var s string
	switch v := src.(type) {
	case string:
		s = v
	case []byte:
		s = string(v)
	default:
		return fmt.Errorf("cannot scan %T into MemberRole", src)
	}
	parsed, err := ParseMemberRole(s)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// UploaderIdentityMember joins a user to an identity with a role.
type UploaderIdentityMember struct {
	IdentityID uuid.UUID  `db:"identity_id" json:"identity_id"`
	UserID     uuid.UUID  `db:"user_id" json:"user_id"`
	Role       MemberRole `db:"role" json:"role"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
}
