package cache

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/thunderstore-io/thunderstore-registry/internal/db/models"
	"github.com/thunderstore-io/thunderstore-registry/internal/db/repositories"
)

// V1VersionJSON adds the v1-only fields to a version.
type V1VersionJSON struct {
	VersionJSON
	UUID4    uuid.UUID `json:"uuid4"`
	FileSize int64     `json:"file_size"`
}

// V1PackageJSON is one package of the v1 surface.
type V1PackageJSON struct {
	Name           string          `json:"name"`
	FullName       string          `json:"full_name"`
	Owner          string          `json:"owner"`
	PackageURL     string          `json:"package_url"`
	DateCreated    time.Time       `json:"date_created"`
	DateUpdated    time.Time       `json:"date_updated"`
	UUID4          uuid.UUID       `json:"uuid4"`
	RatingScore    int             `json:"rating_score"`
	IsPinned       bool            `json:"is_pinned"`
	IsDeprecated   bool            `json:"is_deprecated"`
	HasNSFWContent bool            `json:"has_nsfw_content"`
	Categories     []string        `json:"categories"`
	Versions       []V1VersionJSON `json:"versions"`
}

// V1Surface renders a flat list of packages, each carrying all of its
// active versions.
type V1Surface struct{}

func (V1Surface) ID() string { return SurfaceV1 }

func (V1Surface) Render(_ context.Context, listings *repositories.CommunityCatalog, site Site) ([]byte, error) {
	out := make([]V1PackageJSON, 0, len(listings.Entries))
	for i := range listings.Entries {
		e := &listings.Entries[i]
		pkg := &e.Package

		versions := make([]V1VersionJSON, 0, len(e.Versions))
		for j := range e.Versions {
			v := &e.Versions[j]
			versions = append(versions, V1VersionJSON{
				VersionJSON: SerializeVersion(pkg, v, site),
				UUID4:       v.ID,
				FileSize:    v.FileSize,
			})
		}

		out = append(out, V1PackageJSON{
			Name:           pkg.Name,
			FullName:       pkg.FullName(),
			Owner:          pkg.OwnerName,
			PackageURL:     PackageURL(site, pkg.OwnerName, pkg.Name),
			DateCreated:    pkg.DateCreated,
			DateUpdated:    pkg.DateUpdated,
			UUID4:          pkg.ID,
			RatingScore:    pkg.RatingScore,
			IsPinned:       pkg.IsPinned,
			IsDeprecated:   pkg.IsDeprecated,
			HasNSFWContent: e.Listing.HasNSFWContent,
			Categories:     categoryNames(e),
			Versions:       versions,
		})
	}
	return encode(out)
}

// PackageJSON is the package wrapper of the experimental surface.
type PackageJSON struct {
	Name           string       `json:"name"`
	FullName       string       `json:"full_name"`
	Owner          string       `json:"owner"`
	PackageURL     string       `json:"package_url"`
	DateCreated    time.Time    `json:"date_created"`
	DateUpdated    time.Time    `json:"date_updated"`
	RatingScore    int          `json:"rating_score"`
	IsPinned       bool         `json:"is_pinned"`
	IsDeprecated   bool         `json:"is_deprecated"`
	TotalDownloads int64        `json:"total_downloads"`
	Latest         *VersionJSON `json:"latest"`
}

// ListingJSON is one entry of the experimental surface.
type ListingJSON struct {
	Package        PackageJSON `json:"package"`
	HasNSFWContent bool        `json:"has_nsfw_content"`
	Categories     []string    `json:"categories"`
}

// ExperimentalSurface renders community listings with only the latest
// version embedded.
type ExperimentalSurface struct{}

func (ExperimentalSurface) ID() string { return SurfaceExperimental }

func (ExperimentalSurface) Render(_ context.Context, listings *repositories.CommunityCatalog, site Site) ([]byte, error) {
	out := make([]ListingJSON, 0, len(listings.Entries))
	for i := range listings.Entries {
		e := &listings.Entries[i]
		out = append(out, ListingJSON{
			Package:        serializePackage(e, site),
			HasNSFWContent: e.Listing.HasNSFWContent,
			Categories:     categoryNames(e),
		})
	}
	return encode(out)
}

func serializePackage(e *repositories.CatalogEntry, site Site) PackageJSON {
	pkg := &e.Package
	p := PackageJSON{
		Name:           pkg.Name,
		FullName:       models.FullPackageName(pkg.OwnerName, pkg.Name),
		Owner:          pkg.OwnerName,
		PackageURL:     PackageURL(site, pkg.OwnerName, pkg.Name),
		DateCreated:    pkg.DateCreated,
		DateUpdated:    pkg.DateUpdated,
		RatingScore:    pkg.RatingScore,
		IsPinned:       pkg.IsPinned,
		IsDeprecated:   pkg.IsDeprecated,
		TotalDownloads: e.TotalDownloads(),
	}
	if latest := e.Latest(); latest != nil {
		v := SerializeVersion(pkg, latest, site)
		p.Latest = &v
	}
	return p
}
