package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/thunderstore-io/thunderstore-registry/internal/db/models"
)

// IdentityRepository reads uploader identities and their memberships.
type IdentityRepository struct {
	db *sqlx.DB
}

// NewIdentityRepository creates a new IdentityRepository
func NewIdentityRepository(db *sqlx.DB) *IdentityRepository {
	return &IdentityRepository{db: db}
}

// GetByID retrieves an identity by ID. Returns (nil, nil) when not found.
func (r *IdentityRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.UploaderIdentity, error) {
	var identity models.UploaderIdentity
	err := r.db.GetContext(ctx, &identity,
		`SELECT id, name, created_at, updated_at FROM uploader_identities WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get uploader identity: %w", err)
	}
	return &identity, nil
}

// GetByName retrieves an identity by its unique name. Returns (nil, nil) when not found.
func (r *IdentityRepository) GetByName(ctx context.Context, name string) (*models.UploaderIdentity, error) {
	var identity models.UploaderIdentity
	err := r.db.GetContext(ctx, &identity,
		`SELECT id, name, created_at, updated_at FROM uploader_identities WHERE name = $1`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get uploader identity by name: %w", err)
	}
	return &identity, nil
}

// GetMembership returns the membership row for (identity, user), or (nil, nil)
// if the user is not a member.
func (r *IdentityRepository) GetMembership(ctx context.Context, identityID, userID uuid.UUID) (*models.UploaderIdentityMember, error) {
	var member models.UploaderIdentityMember
	err := r.db.GetContext(ctx, &member, `
		SELECT identity_id, user_id, role, created_at
		FROM uploader_identity_members
		WHERE identity_id = $1 AND user_id = $2`,
		identityID, userID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get identity membership: %w", err)
	}
	return &member, nil
}

// ListForUser returns every identity the user is a member of, in any role.
func (r *IdentityRepository) ListForUser(ctx context.Context, userID uuid.UUID) ([]models.UploaderIdentity, error) {
	var identities []models.UploaderIdentity
	err := r.db.SelectContext(ctx, &identities, `
		SELECT i.id, i.name, i.created_at, i.updated_at
		FROM uploader_identities i
		JOIN uploader_identity_members m ON m.identity_id = i.id
		WHERE m.user_id = $1
		ORDER BY i.name`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list identities for user: %w", err)
	}
	return identities, nil
}
