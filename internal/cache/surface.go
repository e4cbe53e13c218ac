// Package cache materializes the package listing API surfaces. A Regenerator
// renders every Surface for every community from a catalog snapshot and swaps
// the result into a Store, where the API handlers read it back verbatim.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/thunderstore-io/thunderstore-registry/internal/db/models"
	"github.com/thunderstore-io/thunderstore-registry/internal/db/repositories"
)

// Surface IDs.
const (
	SurfaceV1           = "v1"
	SurfaceExperimental = "experimental"
)

// Site is where a community's listings are published. Absolute URLs in the
// rendered payload are built from BaseURL.
type Site struct {
	Community models.Community
	BaseURL   string
}

// NewSite builds the Site of community. Communities served from their own
// domain get an https base URL on it; others use fallbackBaseURL.
func NewSite(community models.Community, domain, fallbackBaseURL string) Site {
	base := strings.TrimRight(fallbackBaseURL, "/")
	if domain != "" {
		base = "https://" + domain
	}
	return Site{Community: community, BaseURL: base}
}

// Surface renders one API representation of a community's listings.
type Surface interface {
	ID() string
	Render(ctx context.Context, listings *repositories.CommunityCatalog, site Site) ([]byte, error)
}

// DefaultSurfaces returns every registered surface.
func DefaultSurfaces() []Surface {
	return []Surface{V1Surface{}, ExperimentalSurface{}}
}

// Key is the store key of a surface's payload for one community.
func Key(surfaceID, communityIdentifier string) string {
	return fmt.Sprintf("surface:%s:community:%s", surfaceID, communityIdentifier)
}

// VersionJSON is the serialized form of a package version.
type VersionJSON struct {
	Name          string    `json:"name"`
	FullName      string    `json:"full_name"`
	Description   string    `json:"description"`
	Icon          string    `json:"icon"`
	VersionNumber string    `json:"version_number"`
	Dependencies  []string  `json:"dependencies"`
	DownloadURL   string    `json:"download_url"`
	Downloads     int64     `json:"downloads"`
	DateCreated   time.Time `json:"date_created"`
	WebsiteURL    string    `json:"website_url"`
	IsActive      bool      `json:"is_active"`
}

// PackageURL is the absolute URL of a package's page on site.
func PackageURL(site Site, owner, name string) string {
	return fmt.Sprintf("%s/package/%s/%s/", strings.TrimRight(site.BaseURL, "/"), owner, name)
}

// DownloadURL is the absolute download URL of a package version on site.
func DownloadURL(site Site, owner, name, version string) string {
	return fmt.Sprintf("%s/package/download/%s/%s/%s/", strings.TrimRight(site.BaseURL, "/"), owner, name, version)
}

// SerializeVersion renders one version of pkg the way every surface does.
func SerializeVersion(pkg *models.Package, v *models.PackageVersion, site Site) VersionJSON {
	deps := v.Dependencies
	if deps == nil {
		deps = []string{}
	}
	return VersionJSON{
		Name:          v.Name,
		FullName:      models.FullVersionName(pkg.OwnerName, pkg.Name, v.VersionNumber),
		Description:   v.Description,
		Icon:          v.Icon,
		VersionNumber: v.VersionNumber,
		Dependencies:  deps,
		DownloadURL:   DownloadURL(site, pkg.OwnerName, pkg.Name, v.VersionNumber),
		Downloads:     v.Downloads,
		DateCreated:   v.DateCreated,
		WebsiteURL:    v.WebsiteURL,
		IsActive:      v.IsActive,
	}
}

// categoryNames returns the entry's categories as a sorted set.
func categoryNames(e *repositories.CatalogEntry) []string {
	out := make([]string, 0, len(e.Categories))
	seen := make(map[string]bool, len(e.Categories))
	for _, c := range e.Categories {
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	sort.Strings(out)
	return out
}

func encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode surface payload: %w", err)
	}
	return data, nil
}
