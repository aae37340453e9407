// Package azure implements the Azure Blob Storage backend for MirrorVault.
// Small payloads go up as a single block blob request; payloads above the
// chunk threshold are committed through staged blocks (the SDK's buffered
// upload), so a single oversized request is never attempted.
package azure

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/streaming"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blockblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"

	"github.com/mirrorvault/mirrorvault/internal/config"
	"github.com/mirrorvault/mirrorvault/internal/domain"
	"github.com/mirrorvault/mirrorvault/internal/storage"
)

func init() {
	// Register Azure storage backend
	storage.Register("azure", func(cfg *config.Config, events storage.EventSink) (storage.Provider, error) {
		return New(&cfg.Providers.Azure, events)
	})
}

// stagedBlockSize is the per-block size for chunked uploads.
const stagedBlockSize = 16 * 1024 * 1024

// Provider implements the storage.Provider interface for Azure Blob Storage.
type Provider struct {
	client        *azblob.Client
	containerName string
	basePath      string
	events        storage.EventSink
}

// New creates a new Azure Blob Storage backend using shared key credentials.
func New(cfg *config.AzureProviderConfig, events storage.EventSink) (*Provider, error) {
	if cfg.AccountName == "" {
		return nil, fmt.Errorf("azure storage account name is required: %w", domain.ErrConfiguration)
	}
	if cfg.AccountKey == "" {
		return nil, fmt.Errorf("azure storage account key is required: %w", domain.ErrConfiguration)
	}
	if cfg.ContainerName == "" {
		return nil, fmt.Errorf("azure storage container name is required: %w", domain.ErrConfiguration)
	}

	credential, err := azblob.NewSharedKeyCredential(cfg.AccountName, cfg.AccountKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure credential: %w: %v", domain.ErrConfiguration, err)
	}

	serviceURL := fmt.Sprintf("https://%s.blob.core.windows.net/", cfg.AccountName)
	client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, credential, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure Blob client: %w", err)
	}

	return &Provider{
		client:        client,
		containerName: cfg.ContainerName,
		basePath:      cfg.BasePath,
		events:        events,
	}, nil
}

func (p *Provider) Name() string { return "azure" }

func (p *Provider) key(path string) string {
	if p.basePath == "" {
		return path
	}
	return p.basePath + "/" + path
}

func (p *Provider) blockBlob(path string) *blockblob.Client {
	return p.client.ServiceClient().NewContainerClient(p.containerName).NewBlockBlobClient(p.key(path))
}

// Initialize probes the container with a single-blob list page.
func (p *Provider) Initialize(ctx context.Context) error {
	maxResults := int32(1)
	pager := p.client.NewListBlobsFlatPager(p.containerName, &azblob.ListBlobsFlatOptions{
		MaxResults: &maxResults,
	})
	if pager.More() {
		if _, err := pager.NextPage(ctx); err != nil {
			return fmt.Errorf("azure connectivity probe failed: %w: %v", domain.ErrConnectivity, err)
		}
	}
	return nil
}

// UploadFile stores content, staging blocks above the chunk threshold.
func (p *Provider) UploadFile(ctx context.Context, path string, content []byte) error {
	var err error
	if len(content) > storage.ChunkThreshold {
		_, err = p.blockBlob(path).UploadBuffer(ctx, content, &blockblob.UploadBufferOptions{
			BlockSize: stagedBlockSize,
		})
	} else {
		_, err = p.blockBlob(path).Upload(ctx, streaming.NopCloser(bytes.NewReader(content)), nil)
	}
	if err != nil {
		err = fmt.Errorf("failed to upload to Azure Blob: %w: %v", domain.ErrConnectivity, err)
		storage.EmitError(p.events, "azure", path, err)
		return err
	}

	storage.Emit(p.events, domain.EventFileUpload, "azure", path, int64(len(content)))
	return nil
}

// DownloadFile retrieves a blob.
func (p *Provider) DownloadFile(ctx context.Context, path string) ([]byte, error) {
	resp, err := p.blockBlob(path).DownloadStream(ctx, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return nil, fmt.Errorf("blob %s: %w", path, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to download from Azure Blob: %w: %v", domain.ErrConnectivity, err)
	}
	defer resp.Body.Close()

	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read Azure blob body: %w", err)
	}

	storage.Emit(p.events, domain.EventFileDownload, "azure", path, int64(len(content)))
	return content, nil
}

// DeleteFile removes a blob; deleting a missing blob succeeds.
func (p *Provider) DeleteFile(ctx context.Context, path string) error {
	_, err := p.blockBlob(path).Delete(ctx, nil)
	if err != nil && !bloberror.HasCode(err, bloberror.BlobNotFound) {
		err = fmt.Errorf("failed to delete from Azure Blob: %w: %v", domain.ErrConnectivity, err)
		storage.EmitError(p.events, "azure", path, err)
		return err
	}

	storage.Emit(p.events, domain.EventFileDelete, "azure", path, 0)
	return nil
}

// ListFiles drains the flat-list pager and returns the full blob name list
// under prefix.
func (p *Provider) ListFiles(ctx context.Context, prefix string) ([]string, error) {
	fullPrefix := p.key(prefix)
	pager := p.client.NewListBlobsFlatPager(p.containerName, &azblob.ListBlobsFlatOptions{
		Prefix: &fullPrefix,
	})

	var paths []string
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list blobs: %w: %v", domain.ErrConnectivity, err)
		}
		for _, item := range page.Segment.BlobItems {
			if item.Name == nil {
				continue
			}
			name := *item.Name
			if p.basePath != "" {
				name = name[len(p.basePath)+1:]
			}
			paths = append(paths, name)
		}
	}
	return paths, nil
}

// GetFileMetadata returns size, modification time, and the Content-MD5 Azure
// stores server-side as the provider-native hash.
func (p *Provider) GetFileMetadata(ctx context.Context, path string) (*storage.FileMetadata, error) {
	props, err := p.blockBlob(path).GetProperties(ctx, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return nil, fmt.Errorf("blob %s: %w", path, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get blob properties: %w: %v", domain.ErrConnectivity, err)
	}

	meta := &storage.FileMetadata{}
	if props.ContentLength != nil {
		meta.Size = *props.ContentLength
	}
	if props.LastModified != nil {
		meta.Modified = *props.LastModified
	}
	if len(props.ContentMD5) > 0 {
		meta.Hash = base64.StdEncoding.EncodeToString(props.ContentMD5)
	}
	return meta, nil
}

// Disconnect is a no-op: the Azure client holds no persistent connections
// beyond idle HTTP keep-alives.
func (p *Provider) Disconnect() error { return nil }
