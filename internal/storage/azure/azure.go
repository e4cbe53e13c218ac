// Package azure implements the Azure Blob Storage backend. Objects are served
// from their public blob URL, or from CDNURL when a CDN fronts the container.
package azure

import (
	"context"
	"fmt"
	"io"
	"net/url"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/streaming"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blockblob"

	"github.com/thunderstore-io/thunderstore-registry/internal/config"
	"github.com/thunderstore-io/thunderstore-registry/internal/storage"
)

func init() {
	storage.Register("azure", func(cfg *config.Config) (storage.Storage, error) {
		return New(&cfg.Storage.Azure)
	})
}

// AzureStorage implements storage.Storage for Azure Blob Storage
type AzureStorage struct {
	client        *azblob.Client
	containerName string
	// publicBase is the URL object keys are appended to
	publicBase string
}

// New creates a new Azure Blob Storage backend
func New(cfg *config.AzureStorageConfig) (*AzureStorage, error) {
	if cfg.AccountName == "" {
		return nil, fmt.Errorf("azure storage account name is required")
	}
	if cfg.AccountKey == "" {
		return nil, fmt.Errorf("azure storage account key is required")
	}
	if cfg.ContainerName == "" {
		return nil, fmt.Errorf("azure storage container name is required")
	}

	credential, err := azblob.NewSharedKeyCredential(cfg.AccountName, cfg.AccountKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure credential: %w", err)
	}

	serviceURL := fmt.Sprintf("https://%s.blob.core.windows.net/", cfg.AccountName)
	client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, credential, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure Blob client: %w", err)
	}

	return newWithClient(client, cfg.ContainerName, publicBase(cfg)), nil
}

func newWithClient(client *azblob.Client, container, base string) *AzureStorage {
	return &AzureStorage{
		client:        client,
		containerName: container,
		publicBase:    base,
	}
}

func publicBase(cfg *config.AzureStorageConfig) string {
	if cfg.CDNURL != "" {
		return cfg.CDNURL
	}
	return fmt.Sprintf("https://%s.blob.core.windows.net/%s", cfg.AccountName, cfg.ContainerName)
}

func (s *AzureStorage) blockBlob(key string) *blockblob.Client {
	return s.client.ServiceClient().NewContainerClient(s.containerName).NewBlockBlobClient(key)
}

// Put uploads the object in a single request, recording its SHA-256 as blob metadata
func (s *AzureStorage) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (*storage.StoredObject, error) {
	body, obj, err := storage.Seekable(r, size)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare %s: %w", key, err)
	}
	obj.Key = key

	opts := &blockblob.UploadOptions{
		Metadata: map[string]*string{"sha256": to.Ptr(obj.Checksum)},
	}
	if contentType != "" {
		opts.HTTPHeaders = &blob.HTTPHeaders{BlobContentType: to.Ptr(contentType)}
	}

	if _, err := s.blockBlob(key).Upload(ctx, streaming.NopCloser(body), opts); err != nil {
		return nil, fmt.Errorf("failed to upload to Azure Blob: %w", err)
	}
	return obj, nil
}

// URL returns the public URL of key
func (s *AzureStorage) URL(key string) string {
	return storage.JoinURL(s.publicBase, (&url.URL{Path: key}).EscapedPath())
}

// Delete removes a blob. A missing blob is not an error.
func (s *AzureStorage) Delete(ctx context.Context, key string) error {
	if _, err := s.blockBlob(key).Delete(ctx, nil); err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return nil
		}
		return fmt.Errorf("failed to delete from Azure Blob: %w", err)
	}
	return nil
}

// Exists checks if a blob is stored under key
func (s *AzureStorage) Exists(ctx context.Context, key string) (bool, error) {
	if _, err := s.blockBlob(key).GetProperties(ctx, nil); err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to get blob properties: %w", err)
	}
	return true, nil
}
