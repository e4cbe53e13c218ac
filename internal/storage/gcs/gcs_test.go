package gcs

import (
	"testing"

	appconfig "github.com/thunderstore-io/thunderstore-registry/internal/config"
)

// ---------------------------------------------------------------------------
// New() - constructor validation (no GCS connection required)
// ---------------------------------------------------------------------------

func TestNew_MissingBucket(t *testing.T) {
	if _, err := New(&appconfig.GCSStorageConfig{}); err == nil {
		t.Error("New() = nil error, want error for missing bucket")
	}
}

func TestNew_EmulatorEndpoint(t *testing.T) {
	s, err := New(&appconfig.GCSStorageConfig{
		Bucket:   "packages",
		Endpoint: "http://localhost:4443/storage/v1/",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	defer s.Close()

	if got, want := s.URL("Tester-1-test_1-1.0.0.zip"), "https://storage.googleapis.com/packages/Tester-1-test_1-1.0.0.zip"; got != want {
		t.Errorf("URL() = %q, want %q", got, want)
	}
}

// ---------------------------------------------------------------------------
// URL - pure string construction
// ---------------------------------------------------------------------------

func TestURL_PublicURL(t *testing.T) {
	s := &GCSStorage{bucket: "packages", publicURL: "https://cdn.example.com/"}
	if got, want := s.URL("Tester-1-test_1-1.0.0.png"), "https://cdn.example.com/Tester-1-test_1-1.0.0.png"; got != want {
		t.Errorf("URL() = %q, want %q", got, want)
	}
}

func TestURL_EscapesKey(t *testing.T) {
	s := &GCSStorage{bucket: "packages"}
	if got, want := s.URL("odd name.zip"), "https://storage.googleapis.com/packages/odd%20name.zip"; got != want {
		t.Errorf("URL() = %q, want %q", got, want)
	}
}
