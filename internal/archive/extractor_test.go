package archive

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/thunderstore-io/thunderstore-registry/internal/apperrors"
)

const fakePNG = "\x89PNG\r\n\x1a\nrest-of-image"

func buildZip(t *testing.T, files map[string]string) *bytes.Reader {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("zip Create: %v", err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatalf("zip Write: %v", err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip Close: %v", err)
	}
	return bytes.NewReader(buf.Bytes())
}

func validFiles() map[string]string {
	return map[string]string{
		"manifest.json": `{
			"name": "test_1",
			"version_number": "1.0.1",
			"website_url": "https://example.com",
			"description": "A test package",
			"dependencies": ["Tester-1-test_1-1.0.0"]
		}`,
		"icon.png":  fakePNG,
		"README.md": "# test_1",
		"plugins/test_1.dll": "binary",
	}
}

func fileErrors(t *testing.T, err error) []string {
	t.Helper()
	var set *apperrors.ValidationErrorSet
	if !errors.As(err, &set) {
		t.Fatalf("expected *ValidationErrorSet, got %T: %v", err, err)
	}
	return set.Fields["file"]
}

func TestExtract_ValidPackage(t *testing.T) {
	r := buildZip(t, validFiles())
	m, err := NewZipExtractor(0).Extract(r, r.Size())
	if err != nil {
		t.Fatalf("Extract() error: %v", err)
	}
	if m.Name != "test_1" || m.VersionNumber != "1.0.1" {
		t.Errorf("manifest = %+v", m)
	}
	if len(m.Dependencies) != 1 || m.Dependencies[0] != "Tester-1-test_1-1.0.0" {
		t.Errorf("Dependencies = %v", m.Dependencies)
	}
	if string(m.Icon) != fakePNG {
		t.Error("icon bytes not captured")
	}
	if m.Readme != "# test_1" {
		t.Errorf("Readme = %q", m.Readme)
	}
}

func TestExtract_ByteOrderMarkAndMissingDependencies(t *testing.T) {
	files := validFiles()
	files["manifest.json"] = "\xef\xbb\xbf" + `{"name":"bom","version_number":"0.1.0","website_url":"","description":""}`
	r := buildZip(t, files)

	m, err := NewZipExtractor(0).Extract(r, r.Size())
	if err != nil {
		t.Fatalf("Extract() error: %v", err)
	}
	if m.Dependencies == nil || len(m.Dependencies) != 0 {
		t.Errorf("Dependencies = %#v, want empty slice", m.Dependencies)
	}
}

func TestExtract_ReportsEveryProblem(t *testing.T) {
	r := buildZip(t, map[string]string{
		"manifest.json": `{"name":"bad-name","version_number":"1.0","website_url":"ftp://x","description":"` +
			strings.Repeat("x", MaxDescriptionLength+1) + `"}`,
		"icon.png": "GIF89a",
	})

	msgs := fileErrors(t, func() error { _, err := NewZipExtractor(0).Extract(r, r.Size()); return err }())
	joined := strings.Join(msgs, "\n")
	for _, want := range []string{
		"package name can only contain",
		"Major.Minor.Patch",
		"description must be at most",
		"website_url must be an http(s) URL",
		"icon.png: not a PNG image",
		"missing README.md",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("errors %q missing %q", msgs, want)
		}
	}
}

func TestExtract_StructuralFailures(t *testing.T) {
	tests := []struct {
		name  string
		files map[string]string
		want  string
	}{
		{"missing manifest", map[string]string{"icon.png": fakePNG, "README.md": "x"}, "missing manifest.json"},
		{"missing icon", map[string]string{"manifest.json": `{"name":"a","version_number":"1.0.0"}`, "README.md": "x"}, "missing icon.png"},
		{"malformed json", map[string]string{"manifest.json": `{"name":`, "icon.png": fakePNG, "README.md": "x"}, "invalid JSON"},
		{"traversal", map[string]string{"../evil": "x"}, "path traversal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := buildZip(t, tt.files)
			_, err := NewZipExtractor(0).Extract(r, r.Size())
			msgs := fileErrors(t, err)
			if !strings.Contains(strings.Join(msgs, "\n"), tt.want) {
				t.Errorf("errors %q, want one containing %q", msgs, tt.want)
			}
		})
	}
}

func TestExtract_NotAZip(t *testing.T) {
	r := bytes.NewReader([]byte("definitely not a zip"))
	_, err := NewZipExtractor(0).Extract(r, r.Size())
	msgs := fileErrors(t, err)
	if len(msgs) != 1 || !strings.Contains(msgs[0], "invalid zip format") {
		t.Errorf("errors = %q", msgs)
	}
}

func TestExtract_SizeLimit(t *testing.T) {
	r := buildZip(t, validFiles())
	_, err := NewZipExtractor(16).Extract(r, r.Size())
	msgs := fileErrors(t, err)
	if !strings.Contains(strings.Join(msgs, "\n"), "exceeds maximum allowed size") {
		t.Errorf("errors = %q", msgs)
	}
}
