package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/thunderstore-io/thunderstore-registry/internal/config"
	"github.com/thunderstore-io/thunderstore-registry/internal/telemetry"
)

type fakeRegenerator struct {
	mu       sync.Mutex
	calls    int
	failures int
	ran      chan struct{}
}

func (f *fakeRegenerator) RegenerateAll(context.Context) error {
	f.mu.Lock()
	f.calls++
	fail := f.calls <= f.failures
	f.mu.Unlock()

	if f.ran != nil {
		f.ran <- struct{}{}
	}
	if fail {
		return errors.New("surface v1 failed")
	}
	return nil
}

func (f *fakeRegenerator) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestJob(regen Regenerator, cfg config.CacheConfig) *CacheRegenerationJob {
	j := NewCacheRegenerationJob(regen, cfg)
	j.newBackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	return j
}

func TestCacheRegenerationJob_EnqueueCoalesces(t *testing.T) {
	j := newTestJob(&fakeRegenerator{}, config.CacheConfig{RegenerateInterval: time.Hour})
	before := testutil.ToFloat64(telemetry.CacheQueueCoalescedTotal)

	j.Enqueue()
	j.Enqueue()
	j.Enqueue()

	if len(j.pending) != 1 {
		t.Errorf("pending = %d, want 1", len(j.pending))
	}
	if got := testutil.ToFloat64(telemetry.CacheQueueCoalescedTotal) - before; got != 2 {
		t.Errorf("coalesced = %v, want 2", got)
	}
}

func TestCacheRegenerationJob_RunOnceRetries(t *testing.T) {
	regen := &fakeRegenerator{failures: 2}
	j := newTestJob(regen, config.CacheConfig{RegenerateInterval: time.Hour, RetryMaxTries: 5})

	if err := j.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce() error: %v", err)
	}
	if regen.Calls() != 3 {
		t.Errorf("RegenerateAll called %d times, want 3", regen.Calls())
	}
}

func TestCacheRegenerationJob_RunOnceGivesUp(t *testing.T) {
	regen := &fakeRegenerator{failures: 100}
	j := newTestJob(regen, config.CacheConfig{RegenerateInterval: time.Hour, RetryMaxTries: 3})
	before := testutil.ToFloat64(telemetry.ErrorsCapturedTotal.WithLabelValues(cacheComponent))

	if err := j.RunOnce(context.Background()); err == nil {
		t.Fatal("RunOnce() should fail once retries are exhausted")
	}
	if regen.Calls() != 3 {
		t.Errorf("RegenerateAll called %d times, want 3", regen.Calls())
	}
	if got := testutil.ToFloat64(telemetry.ErrorsCapturedTotal.WithLabelValues(cacheComponent)) - before; got != 1 {
		t.Errorf("captured errors = %v, want 1", got)
	}
}

func TestCacheRegenerationJob_StartRunsOnEnqueue(t *testing.T) {
	regen := &fakeRegenerator{ran: make(chan struct{}, 4)}
	j := newTestJob(regen, config.CacheConfig{RegenerateInterval: time.Hour})

	j.Start(context.Background())
	defer j.Stop()

	waitRun := func(what string) {
		t.Helper()
		select {
		case <-regen.ran:
		case <-time.After(5 * time.Second):
			t.Fatalf("no regeneration after %s", what)
		}
	}
	waitRun("start")
	j.Enqueue()
	waitRun("enqueue")
}

func TestCacheRegenerationJob_StopIsIdempotent(t *testing.T) {
	j := newTestJob(&fakeRegenerator{}, config.CacheConfig{RegenerateInterval: time.Hour})
	j.Start(context.Background())
	j.Stop()
	j.Stop()
}

func TestCacheRegenerationJob_NextDelay(t *testing.T) {
	j := newTestJob(&fakeRegenerator{}, config.CacheConfig{RegenerateInterval: time.Minute, Jitter: 10 * time.Second})
	for range 50 {
		d := j.nextDelay()
		if d < time.Minute || d >= time.Minute+10*time.Second {
			t.Fatalf("nextDelay() = %v, want within [1m, 1m10s)", d)
		}
	}

	j = newTestJob(&fakeRegenerator{}, config.CacheConfig{})
	if d := j.nextDelay(); d != 5*time.Minute {
		t.Errorf("default nextDelay() = %v, want 5m", d)
	}
}
