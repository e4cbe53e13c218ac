// @title           Thunderstore Package Registry API
// @version         1.0.0
// @description     Community-scoped mod package registry: publishing, downloads and cached package listings.
// @basePath        /
// @schemes         http https
// @securityDefinitions.apiKey  Bearer
// @in                          header
// @name                         Authorization
// @description                  "User JWT or service account token: 'Bearer {token}'"
//
// @tag.name         System
// @tag.description  Health, readiness and version endpoints.
//
// @tag.name         Observability
// @tag.description  Prometheus metrics are served on a dedicated side-channel port (default: 9090), separate from the API listener. Configure it with THUNDERSTORE_TELEMETRY_METRICS_PROMETHEUS_PORT. The path is always GET /metrics.

// Package main is the entry point for the registry server binary.
// Subcommands are dispatched with a plain switch on os.Args:
//
//	server [serve]
//	server migrate <up|down>
//	server regenerate-caches [surface]
//	server version
//
// serve applies pending migrations on startup.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/thunderstore-io/thunderstore-registry/internal/api"
	"github.com/thunderstore-io/thunderstore-registry/internal/config"
	"github.com/thunderstore-io/thunderstore-registry/internal/db"
	"github.com/thunderstore-io/thunderstore-registry/internal/telemetry"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	command := "serve"
	if len(args) > 0 {
		command = args[0]
	}

	if command == "version" {
		fmt.Printf("thunderstore-registry %s\n", api.Version)
		return nil
	}

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	telemetry.SetupLogger(cfg.Logging.Format, cfg.Logging.Level)

	switch command {
	case "serve":
		return serve(cfg)
	case "migrate":
		if len(args) < 2 {
			return fmt.Errorf("usage: %s migrate <up|down>", os.Args[0])
		}
		return runMigrations(cfg, args[1])
	case "regenerate-caches":
		surface := ""
		if len(args) > 1 {
			surface = args[1]
		}
		return regenerateCaches(cfg, surface)
	default:
		return fmt.Errorf("unknown command: %s\nAvailable commands: serve, migrate, regenerate-caches, version", command)
	}
}

// connectRedis returns nil when no Redis address is configured.
func connectRedis(ctx context.Context, cfg *config.Config) (redis.UniversalClient, error) {
	if !cfg.Redis.Enabled() {
		return nil, nil
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{cfg.Redis.Addr},
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Addr, err)
	}
	return client, nil
}

func serve(cfg *config.Config) error {
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	database, err := db.Connect(cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()
	slog.Info("connected to database", "host", cfg.Database.Host, "name", cfg.Database.Name)

	telemetry.StartDBStatsCollector(ctx, database.DB)

	slog.Info("running database migrations")
	version, dirty, err := db.RunMigrations(cfg.Database.GetDSN(), "up")
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Info("database schema version", "version", version, "dirty", dirty)

	redisClient, err := connectRedis(ctx, cfg)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
		slog.Info("connected to redis", "addr", cfg.Redis.Addr)
	} else {
		slog.Warn("redis not configured; cache surfaces and rate limits are per process")
	}

	// Metrics live on their own port so the scrape path stays off the public ingress.
	if cfg.Telemetry.Metrics.Enabled {
		metricsAddr := fmt.Sprintf(":%d", cfg.Telemetry.Metrics.PrometheusPort)
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			slog.Info("starting Prometheus metrics server", "addr", metricsAddr)
			srv := &http.Server{
				Addr:         metricsAddr,
				Handler:      mux,
				ReadTimeout:  10 * time.Second,
				WriteTimeout: 10 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server error", "error", err)
			}
		}()
	}

	router, bgServices, err := api.NewRouter(cfg, database, redisClient)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:         cfg.Server.GetAddress(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("starting server",
			"addr", cfg.Server.GetAddress(),
			"base_url", cfg.Server.BaseURL,
			"storage_backend", cfg.Storage.DefaultBackend,
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		bgServices.Shutdown()
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	// Stop background jobs after in-flight requests have drained
	bgServices.Shutdown()

	slog.Info("server stopped gracefully")
	return nil
}

func runMigrations(cfg *config.Config, direction string) error {
	slog.Info("running migrations", "direction", direction)
	version, dirty, err := db.RunMigrations(cfg.Database.GetDSN(), direction)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	slog.Info("migration completed", "version", version, "dirty", dirty)
	return nil
}

// regenerateCaches rebuilds one surface, or all of them when surface is
// empty. Failures are reported to the operational sink; with
// errors.no_silent_fail they also fail the command.
func regenerateCaches(cfg *config.Config, surface string) error {
	ctx := context.Background()

	database, err := db.Connect(cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	redisClient, err := connectRedis(ctx, cfg)
	if err != nil {
		return err
	}
	if redisClient == nil {
		slog.Warn("redis not configured; regenerated surfaces will not be visible to running servers")
	} else {
		defer redisClient.Close()
	}

	regenerator := api.NewRegenerator(cfg, database, api.NewCacheStore(redisClient))

	start := time.Now()
	if surface == "" {
		err = regenerator.RegenerateAll(ctx)
	} else {
		err = regenerator.RegenerateSurface(ctx, surface)
	}
	if err != nil {
		telemetry.CaptureError("cache-regeneration", err)
		if cfg.Errors.NoSilentFail {
			return fmt.Errorf("cache regeneration failed: %w", err)
		}
		return nil
	}

	slog.Info("caches regenerated", "surfaces", surfacesOf(regenerator.Surfaces(), surface), "duration", time.Since(start))
	return nil
}

func surfacesOf(all []string, only string) []string {
	if only != "" {
		return []string{only}
	}
	return all
}
