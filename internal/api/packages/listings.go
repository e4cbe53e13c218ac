package packages

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/thunderstore-io/thunderstore-registry/internal/cache"
	"github.com/thunderstore-io/thunderstore-registry/internal/middleware"
	"github.com/thunderstore-io/thunderstore-registry/internal/publish"
	"github.com/thunderstore-io/thunderstore-registry/internal/telemetry"
)

// RetryAfterSeconds is sent with 503 responses for surfaces not yet built.
const RetryAfterSeconds = 30

// SurfaceReader reads materialized surfaces.
type SurfaceReader interface {
	Read(ctx context.Context, surfaceID, communityIdentifier string) ([]byte, error)
}

// ListingHandler serves cached listing surfaces verbatim
type ListingHandler struct {
	surfaces SurfaceReader
	queue    publish.Enqueuer
}

// NewListingHandler creates a new ListingHandler
func NewListingHandler(surfaces SurfaceReader, queue publish.Enqueuer) *ListingHandler {
	return &ListingHandler{surfaces: surfaces, queue: queue}
}

// @Summary      List packages
// @Description  Cached package listing of the request's community. Returns 503 until the first regeneration completes.
// @Tags         Packages
// @Produce      json
// @Success      200  {array}   cache.V1PackageJSON
// @Failure      503  {object}  map[string]interface{}
// @Router       /api/v1/package/ [get]
// @Router       /api/experimental/package/ [get]
func (h *ListingHandler) Serve(surfaceID string) gin.HandlerFunc {
	return func(c *gin.Context) {
		community := middleware.CurrentCommunity(c)
		if community == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Community not found"})
			return
		}

		payload, err := h.surfaces.Read(c.Request.Context(), surfaceID, community.Identifier)
		if errors.Is(err, cache.ErrCacheMiss) {
			h.queue.Enqueue()
			c.Header("Retry-After", strconv.Itoa(RetryAfterSeconds))
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Package listing is being generated"})
			return
		}
		if err != nil {
			telemetry.CaptureError("listing", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read package listing"})
			return
		}

		c.Data(http.StatusOK, "application/json; charset=utf-8", payload)
	}
}
