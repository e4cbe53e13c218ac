package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/thunderstore-io/thunderstore-registry/internal/apperrors"
	"github.com/thunderstore-io/thunderstore-registry/internal/db/repositories"
	"github.com/thunderstore-io/thunderstore-registry/internal/telemetry"
)

// Snapshotter reads a consistent catalog.
type Snapshotter interface {
	Snapshot(ctx context.Context) (*repositories.Catalog, error)
}

// Regenerator rebuilds materialized surfaces. Each surface regeneration takes
// its own catalog snapshot, so one surface failing never blocks the others.
type Regenerator struct {
	catalog  Snapshotter
	store    Store
	baseURL  string
	surfaces map[string]Surface
}

// NewRegenerator creates a Regenerator. baseURL is used for communities that
// have no site domain of their own.
func NewRegenerator(catalog Snapshotter, store Store, baseURL string, surfaces ...Surface) *Regenerator {
	if len(surfaces) == 0 {
		surfaces = DefaultSurfaces()
	}
	byID := make(map[string]Surface, len(surfaces))
	for _, s := range surfaces {
		byID[s.ID()] = s
	}
	return &Regenerator{
		catalog:  catalog,
		store:    store,
		baseURL:  baseURL,
		surfaces: byID,
	}
}

// Surfaces returns the registered surface IDs, sorted.
func (r *Regenerator) Surfaces() []string {
	ids := make([]string, 0, len(r.surfaces))
	for id := range r.surfaces {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Read returns a materialized payload, or ErrCacheMiss.
func (r *Regenerator) Read(ctx context.Context, surfaceID, communityIdentifier string) ([]byte, error) {
	return r.store.Get(ctx, Key(surfaceID, communityIdentifier))
}

// RegenerateAll regenerates every surface concurrently. The returned error
// joins one *apperrors.CacheRegenerationError per failed surface.
func (r *Regenerator) RegenerateAll(ctx context.Context) error {
	ids := r.Surfaces()
	errs := make([]error, len(ids))

	// a failing surface must not cancel its siblings, so no WithContext
	var g errgroup.Group
	for i, id := range ids {
		g.Go(func() error {
			errs[i] = r.RegenerateSurface(ctx, id)
			return nil
		})
	}
	_ = g.Wait()

	return errors.Join(errs...)
}

// RegenerateSurface renders one surface for every community and swaps each
// payload into the store. Communities without listings get an empty list.
func (r *Regenerator) RegenerateSurface(ctx context.Context, surfaceID string) error {
	surface, ok := r.surfaces[surfaceID]
	if !ok {
		return &apperrors.NotFoundError{Resource: "cache surface " + surfaceID}
	}

	start := time.Now()
	err := r.regenerate(ctx, surface)
	telemetry.CacheRegenerationDuration.WithLabelValues(surfaceID).Observe(time.Since(start).Seconds())

	if err != nil {
		telemetry.CacheRegenerationsTotal.WithLabelValues(surfaceID, "error").Inc()
		return &apperrors.CacheRegenerationError{Surface: surfaceID, Err: err}
	}
	telemetry.CacheRegenerationsTotal.WithLabelValues(surfaceID, "success").Inc()
	slog.Info("cache surface regenerated", "surface", surfaceID, "duration", time.Since(start))
	return nil
}

func (r *Regenerator) regenerate(ctx context.Context, surface Surface) error {
	catalog, err := r.catalog.Snapshot(ctx)
	if err != nil {
		return err
	}

	// render everything first so a render failure leaves every key untouched
	payloads := make(map[string][]byte, len(catalog.Communities))
	for i := range catalog.Communities {
		cc := &catalog.Communities[i]
		payload, err := surface.Render(ctx, cc, NewSite(cc.Community, cc.Domain, r.baseURL))
		if err != nil {
			return fmt.Errorf("failed to render community %s: %w", cc.Community.Identifier, err)
		}
		payloads[Key(surface.ID(), cc.Community.Identifier)] = payload
	}

	for key, payload := range payloads {
		if err := r.store.Swap(ctx, key, payload); err != nil {
			return err
		}
	}
	return nil
}
