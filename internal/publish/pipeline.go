// Package publish turns an uploaded package file into a committed package
// version. Validate checks everything without side effects; Commit stores the
// blobs and writes the package graph in one transaction, then asks for the
// caches to be regenerated.
package publish

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"

	"github.com/thunderstore-io/thunderstore-registry/internal/apperrors"
	"github.com/thunderstore-io/thunderstore-registry/internal/archive"
	"github.com/thunderstore-io/thunderstore-registry/internal/db/models"
	"github.com/thunderstore-io/thunderstore-registry/internal/db/repositories"
	"github.com/thunderstore-io/thunderstore-registry/internal/storage"
	"github.com/thunderstore-io/thunderstore-registry/internal/telemetry"
)

// Scope is who is publishing and to which community.
type Scope struct {
	User      *models.User
	Community *models.Community
	Site      *models.CommunitySite
}

// Upload is a package file plus its metadata document.
type Upload struct {
	File     io.ReaderAt
	Size     int64
	Filename string
	Metadata *Metadata
}

// ValidatedUpload is an upload whose every reference has been resolved.
type ValidatedUpload struct {
	Scope      Scope
	Owner      *models.UploaderIdentity
	Categories []models.PackageCategory
	NSFW       bool
	Manifest   *archive.Manifest

	file io.ReaderAt
	size int64
}

// FullVersionName is the Owner-name-version name of the version to create.
func (v *ValidatedUpload) FullVersionName() string {
	return models.FullVersionName(v.Owner.Name, v.Manifest.Name, v.Manifest.VersionNumber)
}

// FileKey is the blob key of the package file.
func (v *ValidatedUpload) FileKey() string { return v.FullVersionName() + ".zip" }

// IconKey is the blob key of the package icon.
func (v *ValidatedUpload) IconKey() string { return v.FullVersionName() + ".png" }

// IdentityLister lists the identities a user is a member of.
type IdentityLister interface {
	ListForUser(ctx context.Context, userID uuid.UUID) ([]models.UploaderIdentity, error)
}

// CategoryLister lists a community's categories.
type CategoryLister interface {
	ListCategories(ctx context.Context, communityID uuid.UUID) ([]models.PackageCategory, error)
}

// Tx is the set of package graph writes a publish performs.
type Tx interface {
	CreatePackageIfAbsent(ctx context.Context, owner *models.UploaderIdentity, name string) (*models.Package, error)
	CreateVersion(ctx context.Context, pkg *models.Package, data repositories.VersionData, dependencyRefs []string) (*models.PackageVersion, error)
	UpsertListing(ctx context.Context, pkg *models.Package, communityID uuid.UUID, categoryIDs []uuid.UUID, nsfw bool) (*models.PackageListing, error)
}

// Store checks and writes the package graph. RunInTx runs fn in one
// transaction, committing only if fn returns nil. CheckVersion is a read-only
// pre-check of the version number and dependencies; Tx.CreateVersion repeats
// it under the package lock.
type Store interface {
	CheckVersion(ctx context.Context, ownerID uuid.UUID, name, versionNumber string, dependencyRefs []string) error
	RunInTx(ctx context.Context, fn func(tx Tx) error) error
}

// Enqueuer requests a cache regeneration. Enqueue must not block.
type Enqueuer interface {
	Enqueue()
}

type packageStore struct {
	store *repositories.PackageStore
}

// StoreFromRepository adapts the sqlx package store to Store.
func StoreFromRepository(store *repositories.PackageStore) Store {
	return packageStore{store: store}
}

func (s packageStore) CheckVersion(ctx context.Context, ownerID uuid.UUID, name, versionNumber string, dependencyRefs []string) error {
	return s.store.CheckVersion(ctx, ownerID, name, versionNumber, dependencyRefs)
}

func (s packageStore) RunInTx(ctx context.Context, fn func(tx Tx) error) error {
	return s.store.RunInTx(ctx, func(tx *repositories.PackageTx) error { return fn(tx) })
}

// Pipeline validates and commits uploads.
type Pipeline struct {
	identities IdentityLister
	categories CategoryLister
	store      Store
	blobs      storage.Storage
	extractor  archive.Extractor
	queue      Enqueuer
}

// NewPipeline creates a new Pipeline
func NewPipeline(
	identities IdentityLister,
	categories CategoryLister,
	store Store,
	blobs storage.Storage,
	extractor archive.Extractor,
	queue Enqueuer,
) *Pipeline {
	return &Pipeline{
		identities: identities,
		categories: categories,
		store:      store,
		blobs:      blobs,
		extractor:  extractor,
		queue:      queue,
	}
}

// Validate resolves the author and categories, extracts the manifest and
// checks the version number and dependencies against the store. Every input
// problem is reported together in one *apperrors.ValidationErrorSet. It
// writes nothing and may be called repeatedly.
func (p *Pipeline) Validate(ctx context.Context, scope Scope, upload Upload) (*ValidatedUpload, error) {
	if scope.User == nil {
		return nil, &apperrors.AuthorizationError{Field: "user", Message: "Authentication required"}
	}
	if scope.Community == nil {
		return nil, &apperrors.ValidationError{Field: "community", Message: MsgFieldRequired}
	}

	errs := apperrors.NewValidationErrorSet()
	meta := upload.Metadata
	if meta == nil {
		errs.Add("metadata", MsgFieldRequired)
		meta = &Metadata{}
	}

	identities, err := p.identities.ListForUser(ctx, scope.User.ID)
	if err != nil {
		return nil, &apperrors.StorageError{Op: "list uploader identities", Err: err}
	}
	owner, err := ResolveAuthor(identities, meta.AuthorName)
	if err != nil {
		if !mergeValidation(errs, err) {
			return nil, err
		}
	}

	var categories []models.PackageCategory
	if slugs, err := meta.CategorySlugs(); err != nil {
		errs.Add("categories", err.Error())
	} else if len(slugs) > 0 {
		candidates, err := p.categories.ListCategories(ctx, scope.Community.ID)
		if err != nil {
			return nil, &apperrors.StorageError{Op: "list categories", Err: err}
		}
		var misses map[string]string
		categories, misses = ResolveCategories(candidates, slugs)
		for slug, msg := range misses {
			errs.AddCategory(slug, msg)
		}
	}

	nsfw, err := meta.NSFW()
	if err != nil {
		errs.Add("has_nsfw_content", err.Error())
	}

	var manifest *archive.Manifest
	if upload.File == nil || upload.Size <= 0 {
		errs.Add("file", MsgFieldRequired)
	} else if manifest, err = p.extractor.Extract(upload.File, upload.Size); err != nil {
		if !mergeValidation(errs, err) {
			return nil, err
		}
	}

	if owner != nil && manifest != nil {
		err := p.store.CheckVersion(ctx, owner.ID, manifest.Name, manifest.VersionNumber, manifest.Dependencies)
		if err != nil && !mergeValidation(errs, err) {
			return nil, err
		}
	}

	if err := errs.Err(); err != nil {
		return nil, err
	}

	return &ValidatedUpload{
		Scope:      scope,
		Owner:      owner,
		Categories: categories,
		NSFW:       nsfw,
		Manifest:   manifest,
		file:       upload.File,
		size:       upload.Size,
	}, nil
}

// mergeValidation folds err into errs if it is a validation error and
// reports whether it was.
func mergeValidation(errs *apperrors.ValidationErrorSet, err error) bool {
	var set *apperrors.ValidationErrorSet
	var single *apperrors.ValidationError
	switch {
	case errors.As(err, &set):
		for field, msgs := range set.Fields {
			for _, msg := range msgs {
				errs.Add(field, msg)
			}
		}
		for slug, msg := range set.Categories {
			errs.AddCategory(slug, msg)
		}
		return true
	case errors.As(err, &single):
		errs.Merge(single)
		return true
	}
	return false
}

// Commit writes the validated upload. The package row lock taken by
// CreatePackageIfAbsent is held while the blobs are written, so a concurrent
// publish of the same version cannot overwrite them, and a failed transaction
// removes only blobs no committed version refers to.
func (p *Pipeline) Commit(ctx context.Context, v *ValidatedUpload) (*models.PackageVersion, error) {
	var (
		version *models.PackageVersion
		stored  []string
	)

	err := p.store.RunInTx(ctx, func(tx Tx) error {
		pkg, err := tx.CreatePackageIfAbsent(ctx, v.Owner, v.Manifest.Name)
		if err != nil {
			return err
		}

		version, err = tx.CreateVersion(ctx, pkg, repositories.VersionData{
			Name:          v.Manifest.Name,
			VersionNumber: v.Manifest.VersionNumber,
			Description:   v.Manifest.Description,
			Icon:          p.blobs.URL(v.IconKey()),
			WebsiteURL:    v.Manifest.WebsiteURL,
			Readme:        v.Manifest.Readme,
			FileKey:       v.FileKey(),
			FileSize:      v.size,
		}, v.Manifest.Dependencies)
		if err != nil {
			return err
		}

		if _, err := p.blobs.Put(ctx, v.FileKey(), io.NewSectionReader(v.file, 0, v.size), v.size, "application/zip"); err != nil {
			return &apperrors.StorageError{Op: "store package file", Err: err}
		}
		stored = append(stored, v.FileKey())

		icon := v.Manifest.Icon
		if _, err := p.blobs.Put(ctx, v.IconKey(), bytes.NewReader(icon), int64(len(icon)), "image/png"); err != nil {
			return &apperrors.StorageError{Op: "store package icon", Err: err}
		}
		stored = append(stored, v.IconKey())

		categoryIDs := make([]uuid.UUID, len(v.Categories))
		for i, c := range v.Categories {
			categoryIDs[i] = c.ID
		}
		_, err = tx.UpsertListing(ctx, pkg, v.Scope.Community.ID, categoryIDs, v.NSFW)
		return err
	})
	if err != nil {
		p.discard(stored)
		return nil, err
	}

	slog.Info("package version published",
		"version", v.FullVersionName(),
		"community", v.Scope.Community.Identifier,
		"user", v.Scope.User.Username,
	)
	p.queue.Enqueue()
	return version, nil
}

// discard removes blobs of a failed publish. It runs detached from the
// request context so a cancelled request still cleans up.
func (p *Pipeline) discard(keys []string) {
	for _, key := range keys {
		if err := p.blobs.Delete(context.Background(), key); err != nil {
			slog.Warn("failed to remove blob of failed publish", "key", key, "error", err)
		}
	}
}

// Publish validates and commits upload, recording the outcome.
func (p *Pipeline) Publish(ctx context.Context, scope Scope, upload Upload) (*ValidatedUpload, *models.PackageVersion, error) {
	validated, err := p.Validate(ctx, scope, upload)
	if err == nil {
		var version *models.PackageVersion
		if version, err = p.Commit(ctx, validated); err == nil {
			telemetry.PublishesTotal.WithLabelValues("success").Inc()
			return validated, version, nil
		}
	}

	code := apperrors.CodeOf(err)
	telemetry.PublishesTotal.WithLabelValues(string(code)).Inc()
	if code == apperrors.CodeStorage || code == apperrors.CodeInternal {
		telemetry.CaptureError("publish", fmt.Errorf("publish %s: %w", upload.Filename, err))
	}
	return nil, nil, err
}
