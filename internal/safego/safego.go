// Package safego provides a panic-recovering goroutine launcher for background work.
package safego

import (
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/thunderstore-io/thunderstore-registry/internal/telemetry"
)

// Go launches fn in a new goroutine named name. A panic in fn is recovered,
// logged with its stack and reported to the operational sink instead of
// crashing the process. The returned channel is closed when fn returns or
// panics.
func Go(name string, fn func()) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				slog.Error("recovered panic in background goroutine",
					"goroutine", name,
					"panic", r,
					"stack", string(debug.Stack()),
				)
				telemetry.CaptureError(name, fmt.Errorf("panic: %v", r))
			}
		}()
		fn()
	}()
	return done
}
