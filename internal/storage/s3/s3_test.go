package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	appconfig "github.com/thunderstore-io/thunderstore-registry/internal/config"
	"github.com/thunderstore-io/thunderstore-registry/pkg/checksum"
)

// ---------------------------------------------------------------------------
// New() - constructor validation (no AWS connection required)
// ---------------------------------------------------------------------------

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  appconfig.S3StorageConfig
	}{
		{"missing bucket", appconfig.S3StorageConfig{Region: "us-east-1"}},
		{"missing region", appconfig.S3StorageConfig{Bucket: "my-bucket"}},
		{"static without keys", appconfig.S3StorageConfig{Bucket: "my-bucket", Region: "us-east-1", AuthMethod: "static"}},
		{"assume_role without arn", appconfig.S3StorageConfig{Bucket: "my-bucket", Region: "us-east-1", AuthMethod: "assume_role"}},
		{"unsupported method", appconfig.S3StorageConfig{Bucket: "my-bucket", Region: "us-east-1", AuthMethod: "oidc"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			if _, err := New(&cfg); err == nil {
				t.Error("New() = nil error, want error")
			}
		})
	}
}

func TestNew_AssumeRole_WithExternalID(t *testing.T) {
	// AssumeRole is lazy, so construction makes no network call
	s, err := New(&appconfig.S3StorageConfig{
		Bucket:          "my-bucket",
		Region:          "us-east-1",
		AuthMethod:      "assume_role",
		RoleARN:         "arn:aws:iam::123456789:role/test-role",
		RoleSessionName: "registry",
		ExternalID:      "external-id-123",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if s == nil {
		t.Fatal("New() returned nil storage")
	}
}

// ---------------------------------------------------------------------------
// URL
// ---------------------------------------------------------------------------

func TestURL(t *testing.T) {
	tests := []struct {
		name string
		cfg  appconfig.S3StorageConfig
		want string
	}{
		{
			name: "aws default",
			cfg:  appconfig.S3StorageConfig{Bucket: "pkgs", Region: "eu-west-1", AuthMethod: "static", AccessKeyID: "k", SecretAccessKey: "s"},
			want: "https://pkgs.s3.eu-west-1.amazonaws.com/Tester-1-test_1-1.0.0.zip",
		},
		{
			name: "custom endpoint",
			cfg:  appconfig.S3StorageConfig{Bucket: "pkgs", Region: "us-east-1", AuthMethod: "static", AccessKeyID: "k", SecretAccessKey: "s", Endpoint: "http://minio:9000/"},
			want: "http://minio:9000/pkgs/Tester-1-test_1-1.0.0.zip",
		},
		{
			name: "public url wins",
			cfg:  appconfig.S3StorageConfig{Bucket: "pkgs", Region: "us-east-1", AuthMethod: "static", AccessKeyID: "k", SecretAccessKey: "s", Endpoint: "http://minio:9000", PublicURL: "https://cdn.example.com/"},
			want: "https://cdn.example.com/Tester-1-test_1-1.0.0.zip",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			s, err := New(&cfg)
			if err != nil {
				t.Fatalf("New() error: %v", err)
			}
			if got := s.URL("Tester-1-test_1-1.0.0.zip"); got != tt.want {
				t.Errorf("URL() = %q, want %q", got, tt.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Mock S3-compatible HTTP server for operations tests
// ---------------------------------------------------------------------------

type s3MockStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	meta    map[string]map[string]string
	types   map[string]string
}

// newS3TestStorage creates an S3Storage backed by a minimal path-style S3 server.
func newS3TestStorage(t *testing.T) (*S3Storage, *s3MockStore) {
	t.Helper()

	ms := &s3MockStore{
		objects: map[string][]byte{},
		meta:    map[string]map[string]string{},
		types:   map[string]string{},
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/")
		idx := strings.IndexByte(path, '/')
		if idx < 0 {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		key := path[idx+1:]

		ms.mu.Lock()
		defer ms.mu.Unlock()

		switch r.Method {
		case http.MethodPut:
			data, _ := io.ReadAll(r.Body)
			meta := map[string]string{}
			for hk, hv := range r.Header {
				lk := strings.ToLower(hk)
				if strings.HasPrefix(lk, "x-amz-meta-") && len(hv) > 0 {
					meta[strings.TrimPrefix(lk, "x-amz-meta-")] = hv[0]
				}
			}
			ms.objects[key] = data
			ms.meta[key] = meta
			ms.types[key] = r.Header.Get("Content-Type")
			w.Header().Set("ETag", `"test-etag"`)
			w.WriteHeader(http.StatusOK)

		case http.MethodHead:
			data, ok := ms.objects[key]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.Header().Set("Content-Length", fmt.Sprintf("%d", len(data)))
			w.Header().Set("ETag", `"test-etag"`)
			w.WriteHeader(http.StatusOK)

		case http.MethodDelete:
			delete(ms.objects, key)
			delete(ms.meta, key)
			w.WriteHeader(http.StatusNoContent)

		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	t.Cleanup(srv.Close)

	s, err := New(&appconfig.S3StorageConfig{
		Bucket:          "test-bucket",
		Region:          "us-east-1",
		AuthMethod:      "static",
		AccessKeyID:     "test-access-key",
		SecretAccessKey: "test-secret-key",
		Endpoint:        srv.URL,
	})
	if err != nil {
		t.Fatalf("New() for mock S3: %v", err)
	}
	return s, ms
}

// onlyReader hides Seek so Put takes the buffering path.
type onlyReader struct{ io.Reader }

func TestS3_Put(t *testing.T) {
	content := []byte("PK zipped package bytes")
	want, _ := checksum.CalculateSHA256(bytes.NewReader(content))

	readers := map[string]func() io.Reader{
		"seekable":     func() io.Reader { return bytes.NewReader(content) },
		"non-seekable": func() io.Reader { return onlyReader{bytes.NewReader(content)} },
	}
	for name, mk := range readers {
		t.Run(name, func(t *testing.T) {
			s, ms := newS3TestStorage(t)

			obj, err := s.Put(context.Background(), "Tester-1-test_1-1.0.0.zip", mk(), int64(len(content)), "application/zip")
			if err != nil {
				t.Fatalf("Put() error: %v", err)
			}
			if obj.Size != int64(len(content)) {
				t.Errorf("Size = %d, want %d", obj.Size, len(content))
			}
			if obj.Checksum != want {
				t.Errorf("Checksum = %q, want %q", obj.Checksum, want)
			}

			ms.mu.Lock()
			defer ms.mu.Unlock()
			if !bytes.Equal(ms.objects["Tester-1-test_1-1.0.0.zip"], content) {
				t.Errorf("stored %q, want %q", ms.objects["Tester-1-test_1-1.0.0.zip"], content)
			}
			if ms.meta["Tester-1-test_1-1.0.0.zip"]["sha256"] != want {
				t.Errorf("sha256 metadata = %q", ms.meta["Tester-1-test_1-1.0.0.zip"]["sha256"])
			}
			if ms.types["Tester-1-test_1-1.0.0.zip"] != "application/zip" {
				t.Errorf("content type = %q", ms.types["Tester-1-test_1-1.0.0.zip"])
			}
		})
	}
}

func TestS3_Put_SizeMismatch(t *testing.T) {
	s, ms := newS3TestStorage(t)
	if _, err := s.Put(context.Background(), "short.zip", strings.NewReader("abc"), 10, ""); err == nil {
		t.Fatal("Put() expected error on size mismatch")
	}
	if len(ms.objects) != 0 {
		t.Error("object uploaded despite size mismatch")
	}
}

func TestS3_ExistsAndDelete(t *testing.T) {
	s, _ := newS3TestStorage(t)
	ctx := context.Background()

	exists, err := s.Exists(ctx, "missing.zip")
	if err != nil {
		t.Fatalf("Exists() error for missing key: %v", err)
	}
	if exists {
		t.Error("Exists() = true for missing key")
	}

	if _, err := s.Put(ctx, "a.zip", strings.NewReader("x"), 1, ""); err != nil {
		t.Fatalf("Put() error: %v", err)
	}
	if exists, err = s.Exists(ctx, "a.zip"); err != nil || !exists {
		t.Fatalf("Exists() = %v, %v; want true", exists, err)
	}

	if err := s.Delete(ctx, "a.zip"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if exists, _ = s.Exists(ctx, "a.zip"); exists {
		t.Error("Exists() = true after Delete")
	}
}
