// Package storage defines the blob store used for package files and icons.
//
// Backends implement Storage and register themselves with the factory from an
// init() function in their own package:
//
//	func init() {
//	    storage.Register("mybackend", func(cfg *config.Config) (storage.Storage, error) {
//	        return New(&cfg.Storage.MyBackend)
//	    })
//	}
//
// The main package imports each backend with a blank import to trigger init().
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/thunderstore-io/thunderstore-registry/pkg/checksum"
)

// Storage is an object store whose objects have stable public URLs.
type Storage interface {
	// Put stores r under key, replacing any existing object.
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (*StoredObject, error)

	// URL returns the stable, absolute download URL of key. It does not
	// check that the object exists.
	URL(key string) string

	// Delete removes key. Deleting a missing object is not an error.
	Delete(ctx context.Context, key string) error

	// Exists reports whether key is stored.
	Exists(ctx context.Context, key string) (bool, error)
}

// StoredObject describes an object written by Put.
type StoredObject struct {
	Key  string
	Size int64
	// Checksum is the hex SHA-256 of the stored bytes
	Checksum string
}

// JoinURL joins a base URL and an object key with exactly one slash.
func JoinURL(base, key string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(key, "/")
}

// Seekable returns r as a rewound io.ReadSeeker together with its SHA-256 and
// length, buffering r in memory when it cannot seek. SDKs that sign the
// payload need the seekable form. A non-negative size must match the length.
func Seekable(r io.Reader, size int64) (io.ReadSeeker, *StoredObject, error) {
	body, ok := r.(io.ReadSeeker)
	if !ok {
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read data: %w", err)
		}
		body = bytes.NewReader(data)
	}

	cr := checksum.NewReader(body)
	if _, err := io.Copy(io.Discard, cr); err != nil {
		return nil, nil, fmt.Errorf("failed to calculate checksum: %w", err)
	}
	if _, err := body.Seek(0, io.SeekStart); err != nil {
		return nil, nil, fmt.Errorf("failed to rewind data: %w", err)
	}
	if size >= 0 && cr.BytesRead() != size {
		return nil, nil, fmt.Errorf("size mismatch: read %d of %d bytes", cr.BytesRead(), size)
	}
	return body, &StoredObject{Size: cr.BytesRead(), Checksum: cr.Sum()}, nil
}
