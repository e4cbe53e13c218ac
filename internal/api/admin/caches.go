package admin

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/thunderstore-io/thunderstore-registry/internal/publish"
)

// SurfaceRegenerator regenerates one cache surface synchronously.
type SurfaceRegenerator interface {
	RegenerateSurface(ctx context.Context, surfaceID string) error
	Surfaces() []string
}

// CacheHandlers handles staff cache control endpoints
type CacheHandlers struct {
	queue publish.Enqueuer
	regen SurfaceRegenerator
}

// NewCacheHandlers creates a new CacheHandlers instance
func NewCacheHandlers(queue publish.Enqueuer, regen SurfaceRegenerator) *CacheHandlers {
	return &CacheHandlers{queue: queue, regen: regen}
}

// @Summary      Regenerate caches
// @Description  Without a surface, queues a regeneration of every surface. With ?surface=<id>, regenerates that surface before responding.
// @Tags         Caches
// @Security     Bearer
// @Param        surface  query  string  false  "Surface ID (v1, experimental)"
// @Success      202  {object}  map[string]interface{}  "queued"
// @Success      200  {object}  map[string]interface{}  "regenerated"
// @Failure      404  {object}  map[string]interface{}  "Unknown surface"
// @Router       /api/internal/caches/regenerate [post]
func (h *CacheHandlers) Regenerate(c *gin.Context) {
	surface := c.Query("surface")
	if surface == "" {
		h.queue.Enqueue()
		c.JSON(http.StatusAccepted, gin.H{"status": "queued", "surfaces": h.regen.Surfaces()})
		return
	}

	if err := h.regen.RegenerateSurface(c.Request.Context(), surface); err != nil {
		writeError(c, "cache-regeneration", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "regenerated", "surfaces": []string{surface}})
}
