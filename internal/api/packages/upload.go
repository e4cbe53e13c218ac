// Package packages implements the public package endpoints: upload, download
// redirects and the cached listing surfaces.
package packages

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/thunderstore-io/thunderstore-registry/internal/apperrors"
	"github.com/thunderstore-io/thunderstore-registry/internal/cache"
	"github.com/thunderstore-io/thunderstore-registry/internal/db/models"
	"github.com/thunderstore-io/thunderstore-registry/internal/middleware"
	"github.com/thunderstore-io/thunderstore-registry/internal/publish"
)

// Publisher publishes one upload.
type Publisher interface {
	Publish(ctx context.Context, scope publish.Scope, upload publish.Upload) (*publish.ValidatedUpload, *models.PackageVersion, error)
}

// UploadHandler handles package uploads
type UploadHandler struct {
	publisher     Publisher
	maxUploadSize int64
	baseURL       string
}

// NewUploadHandler creates a new UploadHandler
func NewUploadHandler(publisher Publisher, maxUploadSize int64, baseURL string) *UploadHandler {
	return &UploadHandler{publisher: publisher, maxUploadSize: maxUploadSize, baseURL: baseURL}
}

// @Summary      Upload package version
// @Description  Publish a package zip. The metadata part is a JSON document with author_name, categories and has_nsfw_content.
// @Tags         Packages
// @Security     Bearer
// @Accept       multipart/form-data
// @Produce      json
// @Param        file      formData  file    true  "Package zip"
// @Param        metadata  formData  string  true  "Upload metadata (JSON)"
// @Success      200  {object}  cache.VersionJSON
// @Failure      400  {object}  map[string]interface{}  "Field-addressed validation errors"
// @Failure      403  {object}  map[string]interface{}  "Not permitted to publish as author_name"
// @Failure      409  {object}  map[string]interface{}  "Concurrent publish of the same version"
// @Router       /api/experimental/package/upload/ [post]
func (h *UploadHandler) Upload(c *gin.Context) {
	if h.maxUploadSize > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadSize)
	}

	errs := apperrors.NewValidationErrorSet()

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Upload exceeds the maximum size"})
			return
		}
		errs.Add("file", publish.MsgFieldRequired)
	} else {
		defer file.Close()
	}

	var metadata *publish.Metadata
	if raw := c.Request.FormValue("metadata"); raw == "" {
		errs.Add("metadata", publish.MsgFieldRequired)
	} else if metadata, err = publish.ParseMetadata([]byte(raw)); err != nil {
		writeError(c, err)
		return
	}

	if !errs.Empty() {
		writeError(c, errs.Err())
		return
	}

	scope := publish.Scope{
		User:      middleware.CurrentUser(c),
		Community: middleware.CurrentCommunity(c),
		Site:      middleware.CurrentSite(c),
	}
	validated, version, err := h.publisher.Publish(c.Request.Context(), scope, publish.Upload{
		File:     file,
		Size:     header.Size,
		Filename: header.Filename,
		Metadata: metadata,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	pkg := &models.Package{OwnerName: validated.Owner.Name, Name: version.Name}
	c.JSON(http.StatusOK, cache.SerializeVersion(pkg, version, siteOf(c, h.baseURL)))
}

// siteOf returns the site the request was made against.
func siteOf(c *gin.Context, baseURL string) cache.Site {
	var community models.Community
	if cm := middleware.CurrentCommunity(c); cm != nil {
		community = *cm
	}
	domain := ""
	if site := middleware.CurrentSite(c); site != nil {
		domain = site.Domain
	}
	return cache.NewSite(community, domain, baseURL)
}

func writeError(c *gin.Context, err error) {
	c.JSON(apperrors.HTTPStatus(err), apperrors.Response(err))
}
