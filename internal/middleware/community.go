package middleware

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/thunderstore-io/thunderstore-registry/internal/db/models"
	"github.com/thunderstore-io/thunderstore-registry/internal/telemetry"
)

// Context keys set by CommunityMiddleware.
const (
	CommunityKey     = "community"
	CommunitySiteKey = "community_site"
)

// CommunityResolver looks communities up by site domain or identifier.
type CommunityResolver interface {
	GetSiteByDomain(ctx context.Context, host string) (*models.CommunitySite, *models.Community, error)
	GetByIdentifier(ctx context.Context, identifier string) (*models.Community, error)
}

// CommunityMiddleware binds the request to the community whose site matches
// the request host, falling back to defaultIdentifier. The site is nil for
// the fallback.
func CommunityMiddleware(resolver CommunityResolver, defaultIdentifier string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		site, community, err := resolver.GetSiteByDomain(ctx, c.Request.Host)
		if err == nil && community == nil {
			community, err = resolver.GetByIdentifier(ctx, defaultIdentifier)
		}
		if err != nil {
			telemetry.CaptureError("community", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to resolve community"})
			return
		}
		if community == nil {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "Community not found"})
			return
		}

		c.Set(CommunityKey, community)
		if site != nil {
			c.Set(CommunitySiteKey, site)
		}
		c.Next()
	}
}

// CurrentCommunity returns the community bound by CommunityMiddleware.
func CurrentCommunity(c *gin.Context) *models.Community {
	v, _ := c.Get(CommunityKey)
	community, _ := v.(*models.Community)
	return community
}

// CurrentSite returns the community site of the request host, or nil.
func CurrentSite(c *gin.Context) *models.CommunitySite {
	v, _ := c.Get(CommunitySiteKey)
	site, _ := v.(*models.CommunitySite)
	return site
}
