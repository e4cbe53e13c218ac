package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/thunderstore-io/thunderstore-registry/internal/apperrors"
	"github.com/thunderstore-io/thunderstore-registry/internal/db/models"
	"github.com/thunderstore-io/thunderstore-registry/internal/validation"
)

const packageSelect = `
	SELECT p.id, p.owner_id, o.name AS owner_name, p.name, p.is_active, p.rating_score,
	       p.is_pinned, p.is_deprecated, p.latest_id, p.date_created, p.date_updated
	FROM packages p
	JOIN uploader_identities o ON o.id = p.owner_id`

// VersionData is the metadata of a version about to be created.
type VersionData struct {
	Name          string
	VersionNumber string
	Description   string
	Icon          string
	WebsiteURL    string
	Readme        string
	FileKey       string
	FileSize      int64
}

// PackageStore owns writes to the package graph. Every write happens inside
// RunInTx so a publish is visible to readers all at once or not at all.
type PackageStore struct {
	db *sqlx.DB
}

// NewPackageStore creates a new PackageStore
func NewPackageStore(db *sqlx.DB) *PackageStore {
	return &PackageStore{db: db}
}

// PackageTx exposes the store's write operations within one transaction.
type PackageTx struct {
	tx  *sqlx.Tx
	now time.Time
}

// RunInTx runs fn in a transaction and commits if fn returns nil. Any error
// rolls the whole transaction back.
func (s *PackageStore) RunInTx(ctx context.Context, fn func(tx *PackageTx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return storageError("begin package transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&PackageTx{tx: tx, now: time.Now()}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return &apperrors.ConflictError{Message: "a concurrent publish committed first; retry with a new version number"}
		}
		return storageError("commit package transaction", err)
	}
	return nil
}

// CheckVersion reports every reason versionNumber of the owner's package
// name could not be created with dependencyRefs right now. It reads without
// locking; CreateVersion repeats the checks under the package row lock.
func (s *PackageStore) CheckVersion(ctx context.Context, ownerID uuid.UUID, name, versionNumber string, dependencyRefs []string) error {
	errs := apperrors.NewValidationErrorSet()

	if err := validation.ValidateVersionNumber(versionNumber); err != nil {
		errs.Add("version_number", err.Error())
	} else {
		var siblings []string
		if err := s.db.SelectContext(ctx, &siblings, `
			SELECT v.version_number
			FROM package_versions v
			JOIN packages p ON p.id = v.package_id
			WHERE p.owner_id = $1 AND p.name = $2`,
			ownerID, name,
		); err != nil {
			return storageError("list sibling versions", err)
		}
		if err := validation.CheckStrictlyGreater(versionNumber, siblings); err != nil {
			errs.Add("version_number", err.Error())
		}
	}

	if _, err := resolveDependencies(ctx, s.db, dependencyRefs); err != nil {
		var set *apperrors.ValidationErrorSet
		if !errors.As(err, &set) {
			return err
		}
		for _, msg := range set.Fields["dependencies"] {
			errs.Add("dependencies", msg)
		}
	}

	return errs.Err()
}

// CreatePackageIfAbsent returns the (owner, name) package, creating it if
// needed, and locks its row until the transaction ends. The lock serializes
// concurrent publishes to the same package; other packages are unaffected.
func (t *PackageTx) CreatePackageIfAbsent(ctx context.Context, owner *models.UploaderIdentity, name string) (*models.Package, error) {
	if _, err := t.tx.ExecContext(ctx, `
		INSERT INTO packages (id, owner_id, name, date_created, date_updated)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (owner_id, name) DO NOTHING`,
		uuid.New(), owner.ID, name, t.now,
	); err != nil {
		return nil, storageError("create package", err)
	}

	var pkg models.Package
	err := t.tx.GetContext(ctx, &pkg, packageSelect+`
		WHERE p.owner_id = $1 AND p.name = $2
		FOR UPDATE OF p`,
		owner.ID, name,
	)
	if err != nil {
		return nil, storageError("lock package", err)
	}
	return &pkg, nil
}

// CreateVersion validates and inserts a new version of pkg, links its
// dependencies in order and moves the package's latest pointer to it. pkg
// must have been obtained from CreatePackageIfAbsent in the same transaction.
func (t *PackageTx) CreateVersion(ctx context.Context, pkg *models.Package, data VersionData, dependencyRefs []string) (*models.PackageVersion, error) {
	if err := validation.ValidateVersionNumber(data.VersionNumber); err != nil {
		return nil, &apperrors.ValidationError{Field: "version_number", Message: err.Error()}
	}

	var siblings []string
	if err := t.tx.SelectContext(ctx, &siblings,
		`SELECT version_number FROM package_versions WHERE package_id = $1`, pkg.ID,
	); err != nil {
		return nil, storageError("list sibling versions", err)
	}
	if err := validation.CheckStrictlyGreater(data.VersionNumber, siblings); err != nil {
		return nil, &apperrors.ValidationError{Field: "version_number", Message: err.Error()}
	}

	dependencyIDs, err := resolveDependencies(ctx, t.tx, dependencyRefs)
	if err != nil {
		return nil, err
	}

	v := &models.PackageVersion{
		ID:            uuid.New(),
		PackageID:     pkg.ID,
		Name:          data.Name,
		VersionNumber: data.VersionNumber,
		Description:   data.Description,
		Icon:          data.Icon,
		WebsiteURL:    data.WebsiteURL,
		Readme:        data.Readme,
		FileKey:       data.FileKey,
		FileSize:      data.FileSize,
		IsActive:      true,
		DateCreated:   t.now,
		Dependencies:  append([]string(nil), dependencyRefs...),
	}

	if _, err := t.tx.ExecContext(ctx, `
		INSERT INTO package_versions (
			id, package_id, name, version_number, description, icon, website_url,
			readme, file_key, file_size, downloads, is_active, date_created
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 0, TRUE, $11)`,
		v.ID, v.PackageID, v.Name, v.VersionNumber, v.Description, v.Icon, v.WebsiteURL,
		v.Readme, v.FileKey, v.FileSize, v.DateCreated,
	); err != nil {
		if isUniqueViolation(err) {
			return nil, &apperrors.ConflictError{
				Message: fmt.Sprintf("version %s of %s was published concurrently; retry with a new version number", v.VersionNumber, pkg.FullName()),
			}
		}
		return nil, storageError("create package version", err)
	}

	for i, depID := range dependencyIDs {
		if _, err := t.tx.ExecContext(ctx, `
			INSERT INTO package_version_dependencies (version_id, dependency_id, position)
			VALUES ($1, $2, $3)`,
			v.ID, depID, i,
		); err != nil {
			return nil, storageError("link dependency", err)
		}
	}

	if _, err := t.tx.ExecContext(ctx,
		`UPDATE packages SET latest_id = $1, date_updated = $2 WHERE id = $3`,
		v.ID, t.now, pkg.ID,
	); err != nil {
		return nil, storageError("update latest version", err)
	}
	pkg.LatestID = &v.ID
	pkg.DateUpdated = t.now

	return v, nil
}

// resolveDependencies maps every full version name to an existing, active
// version. All problems are reported together. A dependency must already
// exist, so a new version can never close a cycle; depending on an earlier
// version of the same package is allowed.
func resolveDependencies(ctx context.Context, q sqlx.QueryerContext, refs []string) ([]uuid.UUID, error) {
	errs := apperrors.NewValidationErrorSet()
	ids := make([]uuid.UUID, 0, len(refs))
	seen := make(map[string]bool, len(refs))

	for _, raw := range refs {
		ref, err := models.ParseVersionRef(raw)
		if err != nil {
			errs.Add("dependencies", err.Error())
			continue
		}
		if seen[raw] {
			errs.Add("dependencies", fmt.Sprintf("duplicate dependency %s", raw))
			continue
		}
		seen[raw] = true

		var row struct {
			ID       uuid.UUID `db:"id"`
			IsActive bool      `db:"is_active"`
		}
		err = sqlx.GetContext(ctx, q, &row, `
			SELECT v.id, v.is_active
			FROM package_versions v
			JOIN packages p ON p.id = v.package_id
			JOIN uploader_identities o ON o.id = p.owner_id
			WHERE o.name = $1 AND p.name = $2 AND v.version_number = $3`,
			ref.Owner, ref.Name, ref.Version,
		)
		if errors.Is(err, sql.ErrNoRows) {
			errs.Add("dependencies", fmt.Sprintf("dependency %s not found", raw))
			continue
		}
		if err != nil {
			return nil, storageError("resolve dependency", err)
		}
		if !row.IsActive {
			errs.Add("dependencies", fmt.Sprintf("dependency %s is not active", raw))
			continue
		}
		ids = append(ids, row.ID)
	}

	if err := errs.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

// UpsertListing creates or updates the package's listing in a community and
// replaces its category set.
func (t *PackageTx) UpsertListing(ctx context.Context, pkg *models.Package, communityID uuid.UUID, categoryIDs []uuid.UUID, nsfw bool) (*models.PackageListing, error) {
	listing := &models.PackageListing{
		PackageID:      pkg.ID,
		CommunityID:    communityID,
		HasNSFWContent: nsfw,
	}
	err := t.tx.QueryRowxContext(ctx, `
		INSERT INTO package_listings (id, package_id, community_id, has_nsfw_content, date_created, date_updated)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (package_id, community_id) DO UPDATE
		SET has_nsfw_content = EXCLUDED.has_nsfw_content,
		    date_updated     = EXCLUDED.date_updated
		RETURNING id, date_created, date_updated`,
		uuid.New(), pkg.ID, communityID, nsfw, t.now,
	).Scan(&listing.ID, &listing.DateCreated, &listing.DateUpdated)
	if err != nil {
		return nil, storageError("upsert package listing", err)
	}

	if _, err := t.tx.ExecContext(ctx,
		`DELETE FROM package_listing_categories WHERE listing_id = $1`, listing.ID,
	); err != nil {
		return nil, storageError("clear listing categories", err)
	}
	for _, categoryID := range categoryIDs {
		if _, err := t.tx.ExecContext(ctx, `
			INSERT INTO package_listing_categories (listing_id, category_id)
			VALUES ($1, $2)`,
			listing.ID, categoryID,
		); err != nil {
			return nil, storageError("add listing category", err)
		}
	}

	return listing, nil
}
