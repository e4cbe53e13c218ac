// Package gcs implements the Google Cloud Storage backend. Credentials come
// from CredentialsFile when set, otherwise from Application Default
// Credentials. Setting Endpoint targets an emulator such as fake-gcs-server
// and disables authentication.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	appconfig "github.com/thunderstore-io/thunderstore-registry/internal/config"
	appstorage "github.com/thunderstore-io/thunderstore-registry/internal/storage"
)

func init() {
	appstorage.Register("gcs", func(cfg *appconfig.Config) (appstorage.Storage, error) {
		return New(&cfg.Storage.GCS)
	})
}

// GCSStorage implements appstorage.Storage for Google Cloud Storage
type GCSStorage struct {
	client    *storage.Client
	bucket    string
	publicURL string
}

// New creates a new GCS storage backend
func New(cfg *appconfig.GCSStorageConfig) (*GCSStorage, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("gcs bucket name is required")
	}

	var opts []option.ClientOption
	switch {
	case cfg.Endpoint != "":
		opts = append(opts, option.WithEndpoint(cfg.Endpoint), option.WithoutAuthentication())
	case cfg.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := storage.NewClient(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	return &GCSStorage{
		client:    client,
		bucket:    cfg.Bucket,
		publicURL: cfg.PublicURL,
	}, nil
}

// Close closes the GCS client
func (s *GCSStorage) Close() error {
	return s.client.Close()
}

// Put writes the object with its SHA-256 recorded as object metadata
func (s *GCSStorage) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (*appstorage.StoredObject, error) {
	body, obj, err := appstorage.Seekable(r, size)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare %s: %w", key, err)
	}
	obj.Key = key

	writer := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	writer.Metadata = map[string]string{"sha256": obj.Checksum}
	if contentType != "" {
		writer.ContentType = contentType
	}

	if _, err := io.Copy(writer, body); err != nil {
		_ = writer.Close()
		return nil, fmt.Errorf("failed to write to GCS: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close GCS writer: %w", err)
	}
	return obj, nil
}

// URL returns the public URL of key
func (s *GCSStorage) URL(key string) string {
	if s.publicURL != "" {
		return appstorage.JoinURL(s.publicURL, key)
	}
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", s.bucket, (&url.URL{Path: key}).EscapedPath())
}

// Delete removes an object. A missing object is not an error.
func (s *GCSStorage) Delete(ctx context.Context, key string) error {
	if err := s.client.Bucket(s.bucket).Object(key).Delete(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil
		}
		return fmt.Errorf("failed to delete from GCS: %w", err)
	}
	return nil
}

// Exists checks if an object is stored under key
func (s *GCSStorage) Exists(ctx context.Context, key string) (bool, error) {
	if _, err := s.client.Bucket(s.bucket).Object(key).Attrs(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to get object attributes: %w", err)
	}
	return true, nil
}
