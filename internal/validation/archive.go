package validation

import (
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/klauspost/compress/zip"
)

const (
	// MaxArchiveSize is the default limit on the uncompressed size of an upload (500MB)
	MaxArchiveSize = 500 * 1024 * 1024
	// MaxArchiveEntries bounds the number of entries in one upload
	MaxArchiveEntries = 10000
)

// OpenArchive opens a zip upload and rejects unsafe entry paths, symlinks,
// and archives whose declared uncompressed size exceeds maxSize.
func OpenArchive(r io.ReaderAt, size, maxSize int64) (*zip.Reader, error) {
	if maxSize <= 0 {
		maxSize = MaxArchiveSize
	}

	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("invalid zip format: %w", err)
	}

	if len(zr.File) == 0 {
		return nil, fmt.Errorf("archive is empty")
	}
	if len(zr.File) > MaxArchiveEntries {
		return nil, fmt.Errorf("archive has more than %d entries", MaxArchiveEntries)
	}

	var total uint64
	for _, f := range zr.File {
		if err := validatePath(f.Name); err != nil {
			return nil, fmt.Errorf("invalid file path in archive: %w", err)
		}
		if f.Mode()&0o170000 == 0o120000 {
			return nil, fmt.Errorf("symlinks not allowed in archives: %s", f.Name)
		}
		total += f.UncompressedSize64
		if total > uint64(maxSize) {
			return nil, fmt.Errorf("archive size exceeds maximum allowed size of %d bytes", maxSize)
		}
	}

	return zr, nil
}

// validatePath checks for path traversal attacks
func validatePath(p string) error {
	// Zip entries always use forward slashes, but uploads built on Windows
	// sometimes carry backslashes anyway.
	p = strings.ReplaceAll(p, "\\", "/")

	if strings.HasPrefix(p, "/") {
		return fmt.Errorf("absolute paths not allowed: %s", p)
	}
	if len(p) >= 3 && p[1] == ':' && p[2] == '/' {
		return fmt.Errorf("absolute paths not allowed: %s", p)
	}

	for _, segment := range strings.Split(path.Clean(p), "/") {
		if segment == ".." {
			return fmt.Errorf("path traversal not allowed: %s", p)
		}
	}

	if strings.HasPrefix(p, ".git/") {
		return fmt.Errorf("git directories not allowed in archives")
	}

	return nil
}
