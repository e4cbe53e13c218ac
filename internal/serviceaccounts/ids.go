package serviceaccounts

import (
	"crypto/rand"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// IDGenerator mints time-ordered service account ids. A ULID is exactly 16
// bytes, so it converts losslessly into the UUID column type.
type IDGenerator struct {
	entropy   io.Reader
	entropyMu sync.Mutex
	now       func() time.Time
}

// NewIDGenerator creates a generator backed by crypto/rand with monotonic
// entropy, so ids minted within one millisecond still sort in order.
func NewIDGenerator() *IDGenerator {
	return &IDGenerator{
		entropy: ulid.Monotonic(rand.Reader, 0),
		now:     time.Now,
	}
}

// NewIDGeneratorWithEntropy creates a generator with a custom entropy source
// for deterministic tests.
func NewIDGeneratorWithEntropy(entropy io.Reader, now func() time.Time) *IDGenerator {
	return &IDGenerator{entropy: entropy, now: now}
}

// New returns a fresh id.
func (g *IDGenerator) New() (uuid.UUID, error) {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()

	id, err := ulid.New(ulid.Timestamp(g.now()), g.entropy)
	if err != nil {
		return uuid.Nil, err
	}
	return uuid.UUID(id), nil
}
