// Package archive reads package metadata out of uploaded zip files.
package archive

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/klauspost/compress/zip"
	"github.com/thunderstore-io/thunderstore-registry/internal/apperrors"
	"github.com/thunderstore-io/thunderstore-registry/internal/validation"
)

const (
	ManifestFile = "manifest.json"
	IconFile     = "icon.png"
	ReadmeFile   = "README.md"

	// MaxDescriptionLength bounds manifest descriptions
	MaxDescriptionLength = 250
	// MaxIconSize bounds icon.png
	MaxIconSize = 1024 * 1024
	// MaxReadmeSize bounds README.md
	MaxReadmeSize = 512 * 1024
	// maxManifestSize bounds manifest.json
	maxManifestSize = 64 * 1024
)

var pngSignature = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

// Manifest is the metadata carried by a package archive.
type Manifest struct {
	Name          string   `json:"name"`
	VersionNumber string   `json:"version_number"`
	WebsiteURL    string   `json:"website_url"`
	Description   string   `json:"description"`
	Dependencies  []string `json:"dependencies"`

	Icon   []byte `json:"-"`
	Readme string `json:"-"`
}

// Extractor returns the metadata of an uploaded package file.
type Extractor interface {
	Extract(r io.ReaderAt, size int64) (*Manifest, error)
}

// ZipExtractor reads manifest.json, icon.png and README.md from the root of a
// zip archive.
type ZipExtractor struct {
	MaxSize int64
}

// NewZipExtractor creates a ZipExtractor that rejects archives larger than
// maxSize uncompressed bytes.
func NewZipExtractor(maxSize int64) *ZipExtractor {
	return &ZipExtractor{MaxSize: maxSize}
}

// Extract opens the archive and validates its contents. Every problem found
// is reported in one *apperrors.ValidationErrorSet under the "file" field.
func (e *ZipExtractor) Extract(r io.ReaderAt, size int64) (*Manifest, error) {
	errs := apperrors.NewValidationErrorSet()

	zr, err := validation.OpenArchive(r, size, e.MaxSize)
	if err != nil {
		errs.Add("file", err.Error())
		return nil, errs
	}

	files := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		files[strings.ReplaceAll(f.Name, "\\", "/")] = f
	}

	manifest := &Manifest{}
	if f, ok := files[ManifestFile]; !ok {
		errs.Add("file", "Package is missing manifest.json")
	} else if raw, err := readEntry(f, maxManifestSize); err != nil {
		errs.Add("file", fmt.Sprintf("manifest.json: %v", err))
	} else if err := decodeManifest(raw, manifest); err != nil {
		errs.Add("file", fmt.Sprintf("manifest.json: %v", err))
	} else {
		for _, msg := range manifest.problems() {
			errs.Add("file", "manifest.json: "+msg)
		}
	}

	if f, ok := files[IconFile]; !ok {
		errs.Add("file", "Package is missing icon.png")
	} else if icon, err := readEntry(f, MaxIconSize); err != nil {
		errs.Add("file", fmt.Sprintf("icon.png: %v", err))
	} else if !bytes.HasPrefix(icon, pngSignature) {
		errs.Add("file", "icon.png: not a PNG image")
	} else {
		manifest.Icon = icon
	}

	if f, ok := files[ReadmeFile]; !ok {
		errs.Add("file", "Package is missing README.md")
	} else if readme, err := readEntry(f, MaxReadmeSize); err != nil {
		errs.Add("file", fmt.Sprintf("README.md: %v", err))
	} else {
		manifest.Readme = string(readme)
	}

	if err := errs.Err(); err != nil {
		return nil, err
	}
	return manifest, nil
}

func readEntry(f *zip.File, limit int64) ([]byte, error) {
	if f.UncompressedSize64 > uint64(limit) {
		return nil, fmt.Errorf("exceeds maximum size of %d bytes", limit)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("exceeds maximum size of %d bytes", limit)
	}
	return data, nil
}

// decodeManifest parses manifest.json. Editors on Windows commonly write a
// UTF-8 byte order mark, which is tolerated.
func decodeManifest(raw []byte, m *Manifest) error {
	raw = bytes.TrimPrefix(raw, []byte("\xef\xbb\xbf"))
	if err := json.Unmarshal(raw, m); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if m.Dependencies == nil {
		m.Dependencies = []string{}
	}
	return nil
}

func (m *Manifest) problems() []string {
	var out []string
	if err := validation.ValidatePackageName(m.Name); err != nil {
		out = append(out, err.Error())
	}
	if err := validation.ValidateVersionNumber(m.VersionNumber); err != nil {
		out = append(out, err.Error())
	}
	if len(m.Description) > MaxDescriptionLength {
		out = append(out, fmt.Sprintf("description must be at most %d characters", MaxDescriptionLength))
	}
	if m.WebsiteURL != "" {
		if u, err := url.Parse(m.WebsiteURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			out = append(out, "website_url must be an http(s) URL")
		}
	}
	return out
}
