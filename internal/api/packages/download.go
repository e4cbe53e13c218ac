package packages

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/thunderstore-io/thunderstore-registry/internal/db/models"
	"github.com/thunderstore-io/thunderstore-registry/internal/middleware"
	"github.com/thunderstore-io/thunderstore-registry/internal/telemetry"
)

// VersionReader finds active versions and counts their downloads.
type VersionReader interface {
	GetActiveVersion(ctx context.Context, ref models.VersionRef) (*models.PackageVersion, error)
	IncrementDownloads(ctx context.Context, versionID uuid.UUID) error
}

// BlobURLer resolves a blob key to its public URL.
type BlobURLer interface {
	URL(key string) string
}

// DownloadHandler redirects package downloads to the blob store
type DownloadHandler struct {
	versions VersionReader
	blobs    BlobURLer
}

// NewDownloadHandler creates a new DownloadHandler
func NewDownloadHandler(versions VersionReader, blobs BlobURLer) *DownloadHandler {
	return &DownloadHandler{versions: versions, blobs: blobs}
}

// @Summary      Download package version
// @Description  Counts the download and redirects to the package file.
// @Tags         Packages
// @Param        owner    path  string  true  "Owner identity name"
// @Param        name     path  string  true  "Package name"
// @Param        version  path  string  true  "Version number"
// @Success      302
// @Failure      404  {object}  map[string]interface{}
// @Router       /package/download/{owner}/{name}/{version}/ [get]
func (h *DownloadHandler) Download(c *gin.Context) {
	ref := models.VersionRef{
		Owner:   c.Param("owner"),
		Name:    c.Param("name"),
		Version: c.Param("version"),
	}

	version, err := h.versions.GetActiveVersion(c.Request.Context(), ref)
	if err != nil {
		telemetry.CaptureError("download", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to look up package version"})
		return
	}
	if version == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Package version not found"})
		return
	}

	// a lost count must not fail the download
	if err := h.versions.IncrementDownloads(c.Request.Context(), version.ID); err != nil {
		slog.Warn("failed to count download", "version", ref.String(), "error", err)
	}
	community := ""
	if cm := middleware.CurrentCommunity(c); cm != nil {
		community = cm.Identifier
	}
	telemetry.PackageDownloadsTotal.WithLabelValues(community).Inc()

	c.Redirect(http.StatusFound, h.blobs.URL(version.FileKey))
}
