package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/thunderstore-io/thunderstore-registry/internal/db/models"
	"github.com/thunderstore-io/thunderstore-registry/internal/validation"
)

// Catalog is a consistent snapshot of every community's listed packages.
type Catalog struct {
	TakenAt     time.Time
	Communities []CommunityCatalog
}

// CommunityCatalog holds the listings of one community.
type CommunityCatalog struct {
	Community models.Community
	// Domain is the community's primary site, or "" when it has none.
	Domain  string
	Entries []CatalogEntry
}

// CatalogEntry is one listed package with its active versions, newest first.
type CatalogEntry struct {
	Package    models.Package
	Listing    models.PackageListing
	Categories []string
	Versions   []models.PackageVersion
}

// Latest returns the version the package's latest pointer names, falling back
// to the newest active version when that one has been deactivated.
func (e *CatalogEntry) Latest() *models.PackageVersion {
	if len(e.Versions) == 0 {
		return nil
	}
	if e.Package.LatestID != nil {
		for i := range e.Versions {
			if e.Versions[i].ID == *e.Package.LatestID {
				return &e.Versions[i]
			}
		}
	}
	return &e.Versions[0]
}

// TotalDownloads sums the downloads of the entry's active versions.
func (e *CatalogEntry) TotalDownloads() int64 {
	var total int64
	for _, v := range e.Versions {
		total += v.Downloads
	}
	return total
}

// CatalogRepository serves read-side queries over the package graph.
type CatalogRepository struct {
	db *sqlx.DB
}

// NewCatalogRepository creates a new CatalogRepository
func NewCatalogRepository(db *sqlx.DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

type listingRow struct {
	models.Package
	ListingID          uuid.UUID `db:"listing_id"`
	CommunityID        uuid.UUID `db:"community_id"`
	HasNSFWContent     bool      `db:"has_nsfw_content"`
	ListingDateCreated time.Time `db:"listing_date_created"`
	ListingDateUpdated time.Time `db:"listing_date_updated"`
}

type dependencyRow struct {
	VersionID     uuid.UUID `db:"version_id"`
	OwnerName     string    `db:"owner_name"`
	PackageName   string    `db:"package_name"`
	VersionNumber string    `db:"version_number"`
}

type listingCategoryRow struct {
	ListingID uuid.UUID `db:"listing_id"`
	Name      string    `db:"name"`
}

type communityRow struct {
	models.Community
	Domain string `db:"domain"`
}

// Snapshot reads every active listed package in one REPEATABLE READ, read-only
// transaction, so the result never contains a partially committed publish.
// Inactive packages and inactive versions are excluded; packages with no
// active version are dropped.
func (r *CatalogRepository) Snapshot(ctx context.Context) (*Catalog, error) {
	tx, err := r.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, storageError("begin snapshot", err)
	}
	defer func() { _ = tx.Rollback() }()

	var communities []communityRow
	if err := tx.SelectContext(ctx, &communities, `
		SELECT c.id, c.identifier, c.name, c.created_at, COALESCE(MIN(s.domain), '') AS domain
		FROM communities c
		LEFT JOIN community_sites s ON s.community_id = c.id
		GROUP BY c.id, c.identifier, c.name, c.created_at
		ORDER BY c.identifier`,
	); err != nil {
		return nil, storageError("snapshot communities", err)
	}

	var listings []listingRow
	if err := tx.SelectContext(ctx, &listings, `
		SELECT p.id, p.owner_id, o.name AS owner_name, p.name, p.is_active, p.rating_score,
		       p.is_pinned, p.is_deprecated, p.latest_id, p.date_created, p.date_updated,
		       l.id AS listing_id, l.community_id, l.has_nsfw_content,
		       l.date_created AS listing_date_created, l.date_updated AS listing_date_updated
		FROM package_listings l
		JOIN packages p ON p.id = l.package_id
		JOIN uploader_identities o ON o.id = p.owner_id
		WHERE p.is_active = TRUE
		ORDER BY p.is_pinned DESC, p.is_deprecated ASC, p.date_updated DESC`,
	); err != nil {
		return nil, storageError("snapshot listings", err)
	}

	var versions []models.PackageVersion
	if err := tx.SelectContext(ctx, &versions, `
		SELECT v.id, v.package_id, v.name, v.version_number, v.description, v.icon,
		       v.website_url, v.file_key, v.file_size, v.downloads, v.is_active, v.date_created
		FROM package_versions v
		JOIN packages p ON p.id = v.package_id
		WHERE v.is_active = TRUE AND p.is_active = TRUE`,
	); err != nil {
		return nil, storageError("snapshot versions", err)
	}

	var deps []dependencyRow
	if err := tx.SelectContext(ctx, &deps, `
		SELECT d.version_id, o.name AS owner_name, p.name AS package_name, v.version_number
		FROM package_version_dependencies d
		JOIN package_versions v ON v.id = d.dependency_id
		JOIN packages p ON p.id = v.package_id
		JOIN uploader_identities o ON o.id = p.owner_id
		ORDER BY d.version_id, d.position`,
	); err != nil {
		return nil, storageError("snapshot dependencies", err)
	}

	var categories []listingCategoryRow
	if err := tx.SelectContext(ctx, &categories, `
		SELECT lc.listing_id, c.name
		FROM package_listing_categories lc
		JOIN package_categories c ON c.id = lc.category_id
		ORDER BY c.name`,
	); err != nil {
		return nil, storageError("snapshot listing categories", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, storageError("end snapshot", err)
	}

	return assembleCatalog(communities, listings, versions, deps, categories), nil
}

func assembleCatalog(
	communities []communityRow,
	listings []listingRow,
	versions []models.PackageVersion,
	deps []dependencyRow,
	categories []listingCategoryRow,
) *Catalog {
	depsByVersion := make(map[uuid.UUID][]string)
	for _, d := range deps {
		depsByVersion[d.VersionID] = append(depsByVersion[d.VersionID],
			models.FullVersionName(d.OwnerName, d.PackageName, d.VersionNumber))
	}

	versionsByPackage := make(map[uuid.UUID][]models.PackageVersion)
	for _, v := range versions {
		v.Dependencies = depsByVersion[v.ID]
		if v.Dependencies == nil {
			v.Dependencies = []string{}
		}
		versionsByPackage[v.PackageID] = append(versionsByPackage[v.PackageID], v)
	}
	for id := range versionsByPackage {
		validation.SortVersionsDesc(versionsByPackage[id], func(v models.PackageVersion) string { return v.VersionNumber })
	}

	categoriesByListing := make(map[uuid.UUID][]string)
	for _, c := range categories {
		categoriesByListing[c.ListingID] = append(categoriesByListing[c.ListingID], c.Name)
	}

	entriesByCommunity := make(map[uuid.UUID][]CatalogEntry)
	for _, l := range listings {
		pkgVersions := versionsByPackage[l.Package.ID]
		if len(pkgVersions) == 0 {
			continue
		}
		cats := categoriesByListing[l.ListingID]
		if cats == nil {
			cats = []string{}
		}
		entriesByCommunity[l.CommunityID] = append(entriesByCommunity[l.CommunityID], CatalogEntry{
			Package: l.Package,
			Listing: models.PackageListing{
				ID:             l.ListingID,
				PackageID:      l.Package.ID,
				CommunityID:    l.CommunityID,
				HasNSFWContent: l.HasNSFWContent,
				DateCreated:    l.ListingDateCreated,
				DateUpdated:    l.ListingDateUpdated,
			},
			Categories: cats,
			Versions:   pkgVersions,
		})
	}

	catalog := &Catalog{TakenAt: time.Now(), Communities: make([]CommunityCatalog, 0, len(communities))}
	for _, c := range communities {
		entries := entriesByCommunity[c.ID]
		if entries == nil {
			entries = []CatalogEntry{}
		}
		catalog.Communities = append(catalog.Communities, CommunityCatalog{
			Community: c.Community,
			Domain:    c.Domain,
			Entries:   entries,
		})
	}
	return catalog
}

// GetActiveVersion looks up an active version by full name parts for the
// download endpoint. Returns (nil, nil) when not found or inactive.
func (r *CatalogRepository) GetActiveVersion(ctx context.Context, ref models.VersionRef) (*models.PackageVersion, error) {
	var v models.PackageVersion
	err := r.db.GetContext(ctx, &v, `
		SELECT v.id, v.package_id, v.name, v.version_number, v.description, v.icon,
		       v.website_url, v.file_key, v.file_size, v.downloads, v.is_active, v.date_created
		FROM package_versions v
		JOIN packages p ON p.id = v.package_id
		JOIN uploader_identities o ON o.id = p.owner_id
		WHERE o.name = $1 AND p.name = $2 AND v.version_number = $3
		  AND v.is_active = TRUE AND p.is_active = TRUE`,
		ref.Owner, ref.Name, ref.Version,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get package version: %w", err)
	}
	return &v, nil
}

// IncrementDownloads bumps a version's download counter.
func (r *CatalogRepository) IncrementDownloads(ctx context.Context, versionID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE package_versions SET downloads = downloads + 1 WHERE id = $1`, versionID)
	if err != nil {
		return fmt.Errorf("failed to increment downloads: %w", err)
	}
	return nil
}
