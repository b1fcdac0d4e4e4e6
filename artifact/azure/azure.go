// Package azure provides an artifact.Store on Azure Blob Storage.
package azure

import (
	"context"
	"fmt"
	"io"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"

	"github.com/hupe1980/flowmesh/artifact"
	"github.com/hupe1980/flowmesh/logging"
)

// Config holds Azure Blob Storage connection parameters.
type Config struct {
	ContainerName    string `toml:"container_name"`
	ConnectionString string `toml:"connection_string"`
}

// Store writes attachments into one blob container.
type Store struct {
	client    *azblob.Client
	container string
	logger    logging.Logger
}

var _ artifact.Store = (*Store)(nil)

// New creates a store from cfg. The connection is not established until first use.
func New(cfg Config, logger logging.Logger) (*Store, error) {
	if cfg.ContainerName == "" {
		cfg.ContainerName = "attachments"
	}
	client, err := azblob.NewClientFromConnectionString(cfg.ConnectionString, nil)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Store{client: client, container: cfg.ContainerName, logger: logger}, nil
}

// EnsureContainer creates the container when missing.
func (s *Store) EnsureContainer(ctx context.Context) error {
	_, err := s.client.CreateContainer(ctx, s.container, nil)
	if err != nil && !bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
		return fmt.Errorf("create container %s: %w", s.container, err)
	}
	s.logger.Info("artifact.container.ready", "container", s.container)
	return nil
}

// Put implements artifact.Store and returns the blob URL.
func (s *Store) Put(ctx context.Context, key string, r io.Reader, contentType string) (string, error) {
	if err := artifact.ValidateKey(key); err != nil {
		return "", err
	}
	opts := &azblob.UploadStreamOptions{
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: &contentType},
	}
	if _, err := s.client.UploadStream(ctx, s.container, key, r, opts); err != nil {
		return "", fmt.Errorf("upload blob %s: %w", key, err)
	}
	return s.blobURL(key), nil
}

// Get implements artifact.Store.
func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := artifact.ValidateKey(key); err != nil {
		return nil, err
	}
	resp, err := s.client.DownloadStream(ctx, s.container, key, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return nil, artifact.ErrNotFound
		}
		return nil, fmt.Errorf("download blob %s: %w", key, err)
	}
	return resp.Body, nil
}

// Delete implements artifact.Store.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := artifact.ValidateKey(key); err != nil {
		return err
	}
	if _, err := s.client.DeleteBlob(ctx, s.container, key, nil); err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return artifact.ErrNotFound
		}
		return fmt.Errorf("delete blob %s: %w", key, err)
	}
	return nil
}

func (s *Store) blobURL(key string) string {
	return s.client.ServiceClient().NewContainerClient(s.container).NewBlobClient(key).URL()
}
