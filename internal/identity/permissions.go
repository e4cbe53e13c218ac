// Package identity answers role questions about uploader identities.
package identity

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/thunderstore-io/thunderstore-registry/internal/db/models"
)

// MembershipReader is the read side of identity membership.
type MembershipReader interface {
	GetMembership(ctx context.Context, identityID, userID uuid.UUID) (*models.UploaderIdentityMember, error)
}

// Permissions evaluates role predicates against stored memberships.
type Permissions struct {
	members MembershipReader
}

// NewPermissions creates a new Permissions checker
func NewPermissions(members MembershipReader) *Permissions {
	return &Permissions{members: members}
}

// CanCreateServiceAccount reports whether user owns identity.
func (p *Permissions) CanCreateServiceAccount(ctx context.Context, user *models.User, identity *models.UploaderIdentity) (bool, error) {
	return p.hasRole(ctx, user, identity, models.RoleOwner)
}

// CanDeleteServiceAccount reports whether user owns identity.
func (p *Permissions) CanDeleteServiceAccount(ctx context.Context, user *models.User, identity *models.UploaderIdentity) (bool, error) {
	return p.hasRole(ctx, user, identity, models.RoleOwner)
}

// IsMember reports whether user holds any role in identity.
func (p *Permissions) IsMember(ctx context.Context, user *models.User, identity *models.UploaderIdentity) (bool, error) {
	m, err := p.membership(ctx, user, identity)
	if err != nil {
		return false, err
	}
	return m != nil, nil
}

func (p *Permissions) hasRole(ctx context.Context, user *models.User, identity *models.UploaderIdentity, role models.MemberRole) (bool, error) {
	m, err := p.membership(ctx, user, identity)
	if err != nil {
		return false, err
	}
	return m != nil && m.Role == role, nil
}

func (p *Permissions) membership(ctx context.Context, user *models.User, identity *models.UploaderIdentity) (*models.UploaderIdentityMember, error) {
	if user == nil || identity == nil || !user.IsActive {
		return nil, nil
	}
	m, err := p.members.GetMembership(ctx, identity.ID, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to check identity membership: %w", err)
	}
	return m, nil
}
