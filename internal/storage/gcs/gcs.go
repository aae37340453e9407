// Package gcs implements the Google Cloud Storage backend for MirrorVault.
// Supports Application Default Credentials and service account JSON keys.
// Uploads above the chunk threshold go through the client's resumable upload
// protocol by setting a writer chunk size; smaller payloads are sent in a
// single request.
package gcs

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	gstorage "cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/mirrorvault/mirrorvault/internal/config"
	"github.com/mirrorvault/mirrorvault/internal/domain"
	"github.com/mirrorvault/mirrorvault/internal/storage"
)

func init() {
	// Register GCS storage backend
	storage.Register("gcs", func(cfg *config.Config, events storage.EventSink) (storage.Provider, error) {
		return New(&cfg.Providers.GCS, events)
	})
}

// resumableChunkSize is the per-request chunk size used for payloads above
// the storage.ChunkThreshold.
const resumableChunkSize = 16 * 1024 * 1024

// Provider implements the storage.Provider interface for Google Cloud
// Storage.
type Provider struct {
	client   *gstorage.Client
	bucket   string
	basePath string
	events   storage.EventSink
}

// New creates a new Google Cloud Storage backend.
//
// Authentication methods:
//   - "default" or empty: Application Default Credentials (ADC): env var,
//     GCE/GKE metadata service, or gcloud auth application-default login
//   - "service_account": a service account key file or inline JSON
func New(cfg *config.GCSProviderConfig, events storage.EventSink) (*Provider, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("gcs bucket name is required: %w", domain.ErrConfiguration)
	}

	var opts []option.ClientOption
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}

	authMethod := cfg.AuthMethod
	if authMethod == "" {
		if cfg.CredentialsFile != "" || cfg.CredentialsJSON != "" {
			authMethod = "service_account"
		} else {
			authMethod = "default"
		}
	}

	switch authMethod {
	case "service_account":
		if cfg.CredentialsJSON != "" {
			opts = append(opts, option.WithCredentialsJSON([]byte(cfg.CredentialsJSON)))
		} else if cfg.CredentialsFile != "" {
			opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
		} else {
			return nil, fmt.Errorf("credentials_file or credentials_json is required for service_account auth: %w", domain.ErrConfiguration)
		}

	case "default":
		// ADC needs no extra options.

	default:
		return nil, fmt.Errorf("unsupported auth_method %q (must be 'default' or 'service_account'): %w", authMethod, domain.ErrConfiguration)
	}

	client, err := gstorage.NewClient(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	return &Provider{
		client:   client,
		bucket:   cfg.Bucket,
		basePath: cfg.BasePath,
		events:   events,
	}, nil
}

func (p *Provider) Name() string { return "gcs" }

func (p *Provider) key(path string) string {
	if p.basePath == "" {
		return path
	}
	return p.basePath + "/" + path
}

// Initialize probes the bucket with a single-object list.
func (p *Provider) Initialize(ctx context.Context) error {
	it := p.client.Bucket(p.bucket).Objects(ctx, nil)
	if _, err := it.Next(); err != nil && err != iterator.Done {
		return fmt.Errorf("gcs connectivity probe failed: %w: %v", domain.ErrConnectivity, err)
	}
	return nil
}

// UploadFile stores content. The object only becomes visible when the writer
// closes cleanly, so a failed upload never leaves a partial object.
func (p *Provider) UploadFile(ctx context.Context, path string, content []byte) error {
	writer := p.client.Bucket(p.bucket).Object(p.key(path)).NewWriter(ctx)
	if len(content) > storage.ChunkThreshold {
		writer.ChunkSize = resumableChunkSize
	}

	if _, err := writer.Write(content); err != nil {
		_ = writer.Close()
		err = fmt.Errorf("failed to write to GCS: %w: %v", domain.ErrConnectivity, err)
		storage.EmitError(p.events, "gcs", path, err)
		return err
	}
	if err := writer.Close(); err != nil {
		err = fmt.Errorf("failed to close GCS writer: %w: %v", domain.ErrConnectivity, err)
		storage.EmitError(p.events, "gcs", path, err)
		return err
	}

	storage.Emit(p.events, domain.EventFileUpload, "gcs", path, int64(len(content)))
	return nil
}

// DownloadFile retrieves an object.
func (p *Provider) DownloadFile(ctx context.Context, path string) ([]byte, error) {
	reader, err := p.client.Bucket(p.bucket).Object(p.key(path)).NewReader(ctx)
	if err != nil {
		if errors.Is(err, gstorage.ErrObjectNotExist) {
			return nil, fmt.Errorf("object %s: %w", path, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read from GCS: %w: %v", domain.ErrConnectivity, err)
	}
	defer reader.Close()

	content, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read GCS object body: %w", err)
	}

	storage.Emit(p.events, domain.EventFileDownload, "gcs", path, int64(len(content)))
	return content, nil
}

// DeleteFile removes an object; deleting a missing object succeeds.
func (p *Provider) DeleteFile(ctx context.Context, path string) error {
	err := p.client.Bucket(p.bucket).Object(p.key(path)).Delete(ctx)
	if err != nil && !errors.Is(err, gstorage.ErrObjectNotExist) {
		err = fmt.Errorf("failed to delete from GCS: %w: %v", domain.ErrConnectivity, err)
		storage.EmitError(p.events, "gcs", path, err)
		return err
	}

	storage.Emit(p.events, domain.EventFileDelete, "gcs", path, 0)
	return nil
}

// ListFiles drains the object iterator (which pages internally) and returns
// the full path list under prefix.
func (p *Provider) ListFiles(ctx context.Context, prefix string) ([]string, error) {
	it := p.client.Bucket(p.bucket).Objects(ctx, &gstorage.Query{Prefix: p.key(prefix)})

	var paths []string
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			return paths, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list objects: %w: %v", domain.ErrConnectivity, err)
		}
		name := attrs.Name
		if p.basePath != "" {
			name = name[len(p.basePath)+1:]
		}
		paths = append(paths, name)
	}
}

// GetFileMetadata returns size, modification time, and the base64 MD5 GCS
// computes server-side as the provider-native hash.
func (p *Provider) GetFileMetadata(ctx context.Context, path string) (*storage.FileMetadata, error) {
	attrs, err := p.client.Bucket(p.bucket).Object(p.key(path)).Attrs(ctx)
	if err != nil {
		if errors.Is(err, gstorage.ErrObjectNotExist) {
			return nil, fmt.Errorf("object %s: %w", path, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get object metadata: %w: %v", domain.ErrConnectivity, err)
	}

	return &storage.FileMetadata{
		Size:     attrs.Size,
		Modified: attrs.Updated,
		Hash:     base64.StdEncoding.EncodeToString(attrs.MD5),
	}, nil
}

// Disconnect closes the GCS client.
func (p *Provider) Disconnect() error {
	if p.client == nil {
		return nil
	}
	return p.client.Close()
}
