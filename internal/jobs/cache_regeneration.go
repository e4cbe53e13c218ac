// Package jobs holds the registry's background workers.
package jobs

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/thunderstore-io/thunderstore-registry/internal/config"
	"github.com/thunderstore-io/thunderstore-registry/internal/safego"
	"github.com/thunderstore-io/thunderstore-registry/internal/telemetry"
)

const cacheComponent = "cache-regeneration"

// Regenerator rebuilds every cache surface.
type Regenerator interface {
	RegenerateAll(ctx context.Context) error
}

// CacheRegenerationJob rebuilds the cache surfaces on a jittered interval and
// whenever a publish asks for it. Requests that arrive while a run is already
// pending are merged into that run.
type CacheRegenerationJob struct {
	regen           Regenerator
	interval        time.Duration
	jitter          time.Duration
	retryMaxElapsed time.Duration
	retryMaxTries   uint
	newBackOff      func() backoff.BackOff

	pending  chan struct{}
	stopChan chan struct{}
	stopOnce sync.Once
	done     <-chan struct{}
}

// NewCacheRegenerationJob creates a new cache regeneration job
func NewCacheRegenerationJob(regen Regenerator, cfg config.CacheConfig) *CacheRegenerationJob {
	interval := cfg.RegenerateInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &CacheRegenerationJob{
		regen:           regen,
		interval:        interval,
		jitter:          cfg.Jitter,
		retryMaxElapsed: cfg.RetryMaxElapsed,
		retryMaxTries:   cfg.RetryMaxTries,
		newBackOff:      func() backoff.BackOff { return backoff.NewExponentialBackOff() },
		pending:         make(chan struct{}, 1),
		stopChan:        make(chan struct{}),
	}
}

// Enqueue requests a regeneration without blocking. At most one request is
// ever pending.
func (j *CacheRegenerationJob) Enqueue() {
	select {
	case j.pending <- struct{}{}:
	default:
		telemetry.CacheQueueCoalescedTotal.Inc()
	}
}

// Start launches the worker goroutine. It runs once immediately, then on
// every tick or enqueued request until Stop is called or ctx is done.
func (j *CacheRegenerationJob) Start(ctx context.Context) {
	j.done = safego.Go(cacheComponent, func() { j.loop(ctx) })
}

// Stop stops the worker and waits for an in-flight run to finish.
func (j *CacheRegenerationJob) Stop() {
	j.stopOnce.Do(func() { close(j.stopChan) })
	if j.done != nil {
		<-j.done
	}
}

func (j *CacheRegenerationJob) loop(ctx context.Context) {
	slog.Info("cache regeneration job started", "interval", j.interval, "jitter", j.jitter)
	_ = j.RunOnce(ctx)

	timer := time.NewTimer(j.nextDelay())
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			_ = j.RunOnce(ctx)
			timer.Reset(j.nextDelay())
		case <-j.pending:
			_ = j.RunOnce(ctx)
		case <-j.stopChan:
			slog.Info("cache regeneration job stopped")
			return
		case <-ctx.Done():
			slog.Info("cache regeneration job context cancelled")
			return
		}
	}
}

func (j *CacheRegenerationJob) nextDelay() time.Duration {
	if j.jitter <= 0 {
		return j.interval
	}
	return j.interval + time.Duration(rand.Int64N(int64(j.jitter)))
}

// RunOnce regenerates every surface, retrying with exponential backoff. The
// final failure is captured and returned.
func (j *CacheRegenerationJob) RunOnce(ctx context.Context) error {
	opts := []backoff.RetryOption{
		backoff.WithBackOff(j.newBackOff()),
		backoff.WithNotify(func(err error, next time.Duration) {
			slog.Warn("cache regeneration failed, retrying", "error", err, "retry_in", next)
		}),
	}
	if j.retryMaxElapsed > 0 {
		opts = append(opts, backoff.WithMaxElapsedTime(j.retryMaxElapsed))
	}
	if j.retryMaxTries > 0 {
		opts = append(opts, backoff.WithMaxTries(j.retryMaxTries))
	}

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, j.regen.RegenerateAll(ctx)
	}, opts...)
	if err != nil {
		telemetry.CaptureError(cacheComponent, err)
	}
	return err
}
