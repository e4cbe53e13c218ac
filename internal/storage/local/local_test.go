package local

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/thunderstore-io/thunderstore-registry/internal/config"
	"github.com/thunderstore-io/thunderstore-registry/pkg/checksum"
)

// newTestStorage creates a LocalStorage backed by a temporary directory.
func newTestStorage(t *testing.T, baseURL string) *LocalStorage {
	t.Helper()
	s, err := New(&config.LocalStorageConfig{BasePath: t.TempDir(), ServeDirectly: true}, baseURL)
	if err != nil {
		t.Fatal("New:", err)
	}
	return s
}

// ---------------------------------------------------------------------------
// New
// ---------------------------------------------------------------------------

func TestNew_CreatesDirectory(t *testing.T) {
	subDir := filepath.Join(t.TempDir(), "a", "b", "c")
	if _, err := New(&config.LocalStorageConfig{BasePath: subDir}, "http://localhost"); err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if _, err := os.Stat(subDir); os.IsNotExist(err) {
		t.Error("New() did not create base directory")
	}
}

// ---------------------------------------------------------------------------
// Put
// ---------------------------------------------------------------------------

func TestPut(t *testing.T) {
	s := newTestStorage(t, "http://localhost")
	ctx := context.Background()

	content := "PK fake zip payload"
	obj, err := s.Put(ctx, "Tester-1-test_1-1.0.0.zip", strings.NewReader(content), int64(len(content)), "application/zip")
	if err != nil {
		t.Fatalf("Put() error: %v", err)
	}
	if obj.Key != "Tester-1-test_1-1.0.0.zip" {
		t.Errorf("Key = %q", obj.Key)
	}
	if obj.Size != int64(len(content)) {
		t.Errorf("Size = %d, want %d", obj.Size, len(content))
	}
	want, _ := checksum.CalculateSHA256(strings.NewReader(content))
	if obj.Checksum != want {
		t.Errorf("Checksum = %q, want %q", obj.Checksum, want)
	}

	data, err := os.ReadFile(filepath.Join(s.BasePath(), "Tester-1-test_1-1.0.0.zip"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != content {
		t.Errorf("stored %q, want %q", data, content)
	}

	entries, _ := os.ReadDir(s.BasePath())
	if len(entries) != 1 {
		t.Errorf("base path holds %d entries, want only the object", len(entries))
	}
}

func TestPut_NestedKeyAndOverwrite(t *testing.T) {
	s := newTestStorage(t, "http://localhost")
	ctx := context.Background()

	if _, err := s.Put(ctx, "icons/a.png", strings.NewReader("one"), 3, "image/png"); err != nil {
		t.Fatalf("first Put() error: %v", err)
	}
	if _, err := s.Put(ctx, "icons/a.png", strings.NewReader("two!"), 4, "image/png"); err != nil {
		t.Fatalf("second Put() error: %v", err)
	}
	data, _ := os.ReadFile(filepath.Join(s.BasePath(), "icons", "a.png"))
	if string(data) != "two!" {
		t.Errorf("stored %q, want two!", data)
	}
}

func TestPut_SizeMismatch(t *testing.T) {
	s := newTestStorage(t, "http://localhost")

	if _, err := s.Put(context.Background(), "short.zip", strings.NewReader("abc"), 10, ""); err == nil {
		t.Fatal("Put() expected error on short input")
	}
	exists, _ := s.Exists(context.Background(), "short.zip")
	if exists {
		t.Error("partial object left behind")
	}
}

func TestPut_ReaderError(t *testing.T) {
	s := newTestStorage(t, "http://localhost")
	if _, err := s.Put(context.Background(), "broken.zip", failingReader{}, -1, ""); err == nil {
		t.Fatal("Put() expected error from failing reader")
	}
	entries, _ := os.ReadDir(s.BasePath())
	if len(entries) != 0 {
		t.Errorf("temporary file left behind: %d entries", len(entries))
	}
}

func TestPut_RejectsEscapingKey(t *testing.T) {
	s := newTestStorage(t, "http://localhost")
	if _, err := s.Put(context.Background(), "../outside.zip", strings.NewReader("x"), 1, ""); err == nil {
		t.Fatal("Put() accepted a key outside the base path")
	}
}

// ---------------------------------------------------------------------------
// URL
// ---------------------------------------------------------------------------

func TestURL(t *testing.T) {
	tests := []struct {
		baseURL string
		key     string
		want    string
	}{
		{"https://thunderstore.io", "Tester-1-test_1-1.0.0.zip", "https://thunderstore.io/media/Tester-1-test_1-1.0.0.zip"},
		{"https://thunderstore.io/", "icons/a.png", "https://thunderstore.io/media/icons/a.png"},
	}
	for _, tt := range tests {
		s := newTestStorage(t, tt.baseURL)
		if got := s.URL(tt.key); got != tt.want {
			t.Errorf("URL(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}

// ---------------------------------------------------------------------------
// Delete / Exists
// ---------------------------------------------------------------------------

func TestDeleteAndExists(t *testing.T) {
	s := newTestStorage(t, "http://localhost")
	ctx := context.Background()

	if _, err := s.Put(ctx, "nested/dir/a.zip", strings.NewReader("x"), 1, ""); err != nil {
		t.Fatalf("Put() error: %v", err)
	}
	exists, err := s.Exists(ctx, "nested/dir/a.zip")
	if err != nil || !exists {
		t.Fatalf("Exists() = %v, %v; want true", exists, err)
	}

	if err := s.Delete(ctx, "nested/dir/a.zip"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	exists, err = s.Exists(ctx, "nested/dir/a.zip")
	if err != nil || exists {
		t.Fatalf("Exists() after delete = %v, %v; want false", exists, err)
	}
	if _, err := os.Stat(filepath.Join(s.BasePath(), "nested")); !os.IsNotExist(err) {
		t.Error("empty parent directories were not pruned")
	}
	if _, err := os.Stat(s.BasePath()); err != nil {
		t.Error("base path itself was removed")
	}
}

func TestDelete_Missing(t *testing.T) {
	s := newTestStorage(t, "http://localhost")
	if err := s.Delete(context.Background(), "never-stored.zip"); err != nil {
		t.Errorf("Delete() of missing object = %v, want nil", err)
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("disk on fire") }
