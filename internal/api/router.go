// Package api wires together all HTTP routes of the package registry.
//
// Route grouping:
//   - Listing and download routes are public. They run behind the community
//     middleware, which binds each request to the community whose site domain
//     matches the Host header.
//   - Upload and service account routes require a user JWT or a service
//     account token. Uploads are additionally rate limited per principal.
//   - /api/internal/ routes require a staff user.
//
// Health, readiness and version endpoints sit outside every group so probes
// never depend on community resolution.
package api

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/thunderstore-io/thunderstore-registry/internal/api/admin"
	"github.com/thunderstore-io/thunderstore-registry/internal/api/packages"
	"github.com/thunderstore-io/thunderstore-registry/internal/archive"
	"github.com/thunderstore-io/thunderstore-registry/internal/auth"
	"github.com/thunderstore-io/thunderstore-registry/internal/cache"
	"github.com/thunderstore-io/thunderstore-registry/internal/config"
	"github.com/thunderstore-io/thunderstore-registry/internal/db"
	"github.com/thunderstore-io/thunderstore-registry/internal/db/repositories"
	"github.com/thunderstore-io/thunderstore-registry/internal/identity"
	"github.com/thunderstore-io/thunderstore-registry/internal/jobs"
	"github.com/thunderstore-io/thunderstore-registry/internal/middleware"
	"github.com/thunderstore-io/thunderstore-registry/internal/publish"
	"github.com/thunderstore-io/thunderstore-registry/internal/serviceaccounts"
	"github.com/thunderstore-io/thunderstore-registry/internal/storage"
	"github.com/thunderstore-io/thunderstore-registry/internal/storage/local"
	"github.com/thunderstore-io/thunderstore-registry/internal/validation"

	// Import storage backends to register them
	_ "github.com/thunderstore-io/thunderstore-registry/internal/storage/azure"
	_ "github.com/thunderstore-io/thunderstore-registry/internal/storage/gcs"
	_ "github.com/thunderstore-io/thunderstore-registry/internal/storage/s3"
)

// BackgroundServices holds references to background jobs and resources that must
// be stopped during graceful shutdown. The caller (cmd/server) is responsible for
// calling Shutdown() when the process receives a termination signal.
type BackgroundServices struct {
	cacheJob     *jobs.CacheRegenerationJob
	rateLimiters []*middleware.RateLimiter
}

// Shutdown stops all background goroutines. It should be called after the HTTP
// server has been shut down so that in-flight requests are drained first.
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	if bg.cacheJob != nil {
		bg.cacheJob.Stop()
	}
	for _, rl := range bg.rateLimiters {
		rl.Stop()
	}
	slog.Info("all background services stopped")
}

// NewCacheStore returns the Redis-backed surface store when a Redis client is
// configured and an in-process store otherwise.
func NewCacheStore(redisClient redis.UniversalClient) cache.Store {
	if redisClient != nil {
		return cache.NewRedisStore(redisClient)
	}
	return cache.NewMemoryStore()
}

// NewRegenerator builds the cache regenerator over the catalog in sqlxDB.
func NewRegenerator(cfg *config.Config, sqlxDB *sqlx.DB, store cache.Store) *cache.Regenerator {
	return cache.NewRegenerator(repositories.NewCatalogRepository(sqlxDB), store, cfg.Server.BaseURL)
}

// NewRouter creates and configures the Gin router. redisClient may be nil.
func NewRouter(cfg *config.Config, sqlxDB *sqlx.DB, redisClient redis.UniversalClient) (*gin.Engine, *BackgroundServices, error) {
	router := gin.New()

	// Initialize storage backend
	storageBackend, err := storage.NewStorage(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize storage backend: %w", err)
	}
	slog.Info("initialized storage backend", "backend", cfg.Storage.DefaultBackend)

	// Initialize repositories
	userRepo := repositories.NewUserRepository(sqlxDB)
	identityRepo := repositories.NewIdentityRepository(sqlxDB)
	communityRepo := repositories.NewCommunityRepository(sqlxDB)
	catalogRepo := repositories.NewCatalogRepository(sqlxDB)
	serviceAccountRepo := repositories.NewServiceAccountRepository(sqlxDB)
	packageStore := repositories.NewPackageStore(sqlxDB)

	// Cache materialization and its background job
	cacheStore := NewCacheStore(redisClient)
	regenerator := cache.NewRegenerator(catalogRepo, cacheStore, cfg.Server.BaseURL)
	cacheJob := jobs.NewCacheRegenerationJob(regenerator, cfg.Cache)
	cacheJob.Start(context.Background())

	// Services
	permissions := identity.NewPermissions(identityRepo)
	accounts := serviceaccounts.NewService(serviceAccountRepo, identityRepo, userRepo, permissions, cfg.Auth.ServiceTokenPrefix)
	pipeline := publish.NewPipeline(
		identityRepo,
		communityRepo,
		publish.StoreFromRepository(packageStore),
		storageBackend,
		archive.NewZipExtractor(validation.MaxArchiveSize),
		cacheJob,
	)
	authenticator := middleware.NewAuthenticator(auth.NewJWTManager(cfg.Auth.JWTSecret), userRepo, accounts)

	// Upload rate limiting: Redis when configured so replicas share budgets
	var uploadLimiter middleware.Limiter
	var rateLimiters []*middleware.RateLimiter
	if cfg.Security.RateLimiting.Enabled {
		limitCfg := middleware.RateLimitConfigFrom(cfg.Security.RateLimiting)
		if redisClient != nil {
			uploadLimiter = middleware.NewRedisRateLimiter(redisClient, limitCfg)
		} else {
			rl := middleware.NewRateLimiter(limitCfg)
			rateLimiters = append(rateLimiters, rl)
			uploadLimiter = rl
		}
	}

	// Add middleware
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.LoggerMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(CORSMiddleware(cfg))
	router.Use(middleware.SecurityHeadersMiddleware(middleware.APISecurityHeadersConfig()))

	router.GET("/health", healthCheckHandler(sqlxDB.DB))
	router.GET("/ready", readinessHandler(sqlxDB.DB, storageBackend))
	router.GET("/version", versionHandler(cfg))

	// Local blobs are served by the API process itself when configured
	if ls, ok := storageBackend.(*local.LocalStorage); ok && cfg.Storage.Local.ServeDirectly {
		router.Static(local.MediaPath, ls.BasePath())
	}

	listingHandler := packages.NewListingHandler(regenerator, cacheJob)
	downloadHandler := packages.NewDownloadHandler(catalogRepo, storageBackend)
	uploadHandler := packages.NewUploadHandler(pipeline, cfg.Publish.MaxUploadSize, cfg.Server.BaseURL)
	serviceAccountHandlers := admin.NewServiceAccountHandlers(accounts)
	cacheHandlers := admin.NewCacheHandlers(cacheJob, regenerator)

	communityMW := middleware.CommunityMiddleware(communityRepo, cfg.Community.DefaultIdentifier)

	router.GET("/package/download/:owner/:name/:version/", communityMW, downloadHandler.Download)

	apiV1 := router.Group("/api/v1")
	apiV1.Use(communityMW)
	{
		apiV1.GET("/package/", listingHandler.Serve(cache.SurfaceV1))
	}

	experimental := router.Group("/api/experimental")
	experimental.Use(communityMW)
	{
		experimental.GET("/package/", listingHandler.Serve(cache.SurfaceExperimental))

		upload := []gin.HandlerFunc{authenticator.Required()}
		if uploadLimiter != nil {
			upload = append(upload, middleware.RateLimitMiddleware(uploadLimiter))
		}
		upload = append(upload, uploadHandler.Upload)
		experimental.POST("/package/upload/", upload...)

		authed := experimental.Group("")
		authed.Use(authenticator.Required())
		{
			authed.GET("/identity/:identity/service-accounts/", serviceAccountHandlers.List)
			authed.POST("/identity/:identity/service-accounts/", serviceAccountHandlers.Create)
			authed.DELETE("/service-account/:id/", serviceAccountHandlers.Delete)
		}
	}

	internalAPI := router.Group("/api/internal")
	internalAPI.Use(authenticator.Required(), middleware.RequireStaff())
	{
		internalAPI.POST("/caches/regenerate", cacheHandlers.Regenerate)
	}

	bg := &BackgroundServices{
		cacheJob:     cacheJob,
		rateLimiters: rateLimiters,
	}

	return router, bg, nil
}

// @Summary      Health check
// @Description  Returns the health status of the service, including database connectivity.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "status: healthy, time: RFC3339 timestamp"
// @Failure      503  {object}  map[string]interface{}  "status: unhealthy, error: database connection failed"
// @Router       /health [get]
func healthCheckHandler(sqlDB *sql.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := sqlDB.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "database connection failed",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// @Summary      Readiness check
// @Description  Returns whether the service is ready to accept traffic. Checks the database, its schema version and the storage backend.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "ready: true, checks, schema_version"
// @Failure      503  {object}  map[string]interface{}  "ready: false, checks, error"
// @Router       /ready [get]
func readinessHandler(sqlDB *sql.DB, storageBackend storage.Storage) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		checks := gin.H{}

		notReady := func(reason string) {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  reason,
			})
		}

		if err := sqlDB.PingContext(ctx); err != nil {
			checks["database"] = "unhealthy"
			notReady("database not ready")
			return
		}
		checks["database"] = "healthy"

		version, dirty, err := db.CurrentSchemaVersion(ctx, sqlDB)
		if err != nil || dirty || version == 0 {
			checks["schema"] = "unhealthy"
			notReady("database schema not migrated")
			return
		}
		checks["schema"] = "healthy"

		// Probe with a known-absent key; Exists exercises credentials and
		// connectivity without creating state.
		if _, err := storageBackend.Exists(ctx, ".readiness-probe"); err != nil {
			checks["storage"] = "unhealthy"
			notReady("storage backend not ready")
			return
		}
		checks["storage"] = "healthy"

		c.JSON(http.StatusOK, gin.H{
			"ready":          true,
			"checks":         checks,
			"schema_version": version,
			"time":           time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// Version is the build version, set with -ldflags by the release build.
var Version = "dev"

// @Summary      API version
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "version, service, surfaces"
// @Router       /version [get]
func versionHandler(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":  Version,
			"service":  cfg.Telemetry.ServiceName,
			"surfaces": []string{cache.SurfaceV1, cache.SurfaceExperimental},
		})
	}
}

// CORSMiddleware handles CORS for the public read APIs.
func CORSMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		allowed := false
		for _, allowedOrigin := range cfg.Security.CORS.AllowedOrigins {
			if allowedOrigin == "*" || allowedOrigin == origin {
				allowed = true
				break
			}
		}

		if allowed {
			if origin == "" {
				c.Header("Access-Control-Allow-Origin", "*")
			} else {
				c.Header("Access-Control-Allow-Origin", origin)
				c.Header("Vary", "Origin")
			}
			c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Requested-With")
			c.Header("Access-Control-Max-Age", "3600")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
