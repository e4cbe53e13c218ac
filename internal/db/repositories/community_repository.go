package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/thunderstore-io/thunderstore-registry/internal/db/models"
)

// CommunityRepository reads communities, their sites and their categories.
type CommunityRepository struct {
	db *sqlx.DB
}

// NewCommunityRepository creates a new CommunityRepository
func NewCommunityRepository(db *sqlx.DB) *CommunityRepository {
	return &CommunityRepository{db: db}
}

// GetByIdentifier retrieves a community. Returns (nil, nil) when not found.
func (r *CommunityRepository) GetByIdentifier(ctx context.Context, identifier string) (*models.Community, error) {
	var community models.Community
	err := r.db.GetContext(ctx, &community,
		`SELECT id, identifier, name, created_at FROM communities WHERE identifier = $1`, identifier)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get community: %w", err)
	}
	return &community, nil
}

// GetSiteByDomain resolves a request host to its community site and community.
// The port, if any, is ignored. Returns (nil, nil, nil) when no site matches.
func (r *CommunityRepository) GetSiteByDomain(ctx context.Context, host string) (*models.CommunitySite, *models.Community, error) {
	domain := strings.ToLower(host)
	if h, _, err := net.SplitHostPort(domain); err == nil {
		domain = h
	}

	var row struct {
		models.CommunitySite
		Identifier         string       `db:"identifier"`
		Name               string       `db:"name"`
		CommunityCreatedAt sql.NullTime `db:"community_created_at"`
	}
	err := r.db.GetContext(ctx, &row, `
		SELECT s.id, s.community_id, s.domain, s.created_at,
		       c.identifier, c.name, c.created_at AS community_created_at
		FROM community_sites s
		JOIN communities c ON c.id = s.community_id
		WHERE s.domain = $1`,
		domain,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get community site: %w", err)
	}

	site := row.CommunitySite
	community := &models.Community{
		ID:         row.CommunityID,
		Identifier: row.Identifier,
		Name:       row.Name,
		CreatedAt:  row.CommunityCreatedAt.Time,
	}
	return &site, community, nil
}

// ListCategories returns every category belonging to the community.
func (r *CommunityRepository) ListCategories(ctx context.Context, communityID uuid.UUID) ([]models.PackageCategory, error) {
	var categories []models.PackageCategory
	err := r.db.SelectContext(ctx, &categories, `
		SELECT id, community_id, name, slug
		FROM package_categories
		WHERE community_id = $1
		ORDER BY slug`,
		communityID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list package categories: %w", err)
	}
	return categories, nil
}
