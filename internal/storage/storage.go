// Package storage defines the Provider interface and common types for all
// cloud storage backends in MirrorVault.
//
// New backends are added by implementing the Provider interface and
// registering with the factory via an init() function in the backend's own
// package:
//
//	func init() {
//	    storage.Register("mybackend", func(cfg *config.Config, events storage.EventSink) (storage.Provider, error) {
//	        return New(&cfg.Providers.MyBackend, events)
//	    })
//	}
//
// The main package imports each backend with a blank import to trigger
// init(). Adding a new backend therefore requires no changes to the factory
// or main package, only a blank import in cmd/mirrorvault/main.go.
package storage

import (
	"context"
	"time"
)

// ChunkThreshold is the largest payload a backend may send in one request.
// Backends whose native single-request limit is at or below this (observed:
// ~150MB) must transparently switch to a chunked or resumable session upload
// above it. Callers never chunk manually.
const ChunkThreshold = 150 * 1024 * 1024

// FileMetadata describes a stored object without downloading it.
type FileMetadata struct {
	// Size is the stored object size in bytes.
	Size int64
	// Modified is the provider's last-modified timestamp.
	Modified time.Time
	// Hash is the provider-native content hash (ETag, MD5, CRC). Used only
	// for drift detection against the same provider; never comparable across
	// providers.
	Hash string
}

// Provider is the uniform capability set every storage backend implements.
// All blocking operations take a context; implementations must honor
// cancellation so a stuck provider call cannot wedge the sync worker pool.
type Provider interface {
	// Name returns the registered backend name ("s3", "gcs", ...).
	Name() string

	// Initialize validates configuration and performs a live connectivity
	// probe (a list with limit 1). Returns domain.ErrConfiguration for
	// missing credentials/bucket and domain.ErrConnectivity for probe
	// failures. On success the provider is connected and ready.
	Initialize(ctx context.Context) error

	// UploadFile stores content at path, overwriting any existing object
	// (idempotent). Payloads above ChunkThreshold are chunked transparently.
	UploadFile(ctx context.Context, path string, content []byte) error

	// DownloadFile retrieves the object at path. Returns domain.ErrNotFound
	// if absent.
	DownloadFile(ctx context.Context, path string) ([]byte, error)

	// DeleteFile removes the object at path. Deleting a missing object is
	// not an error.
	DeleteFile(ctx context.Context, path string) error

	// ListFiles returns every stored path under prefix. Implementations
	// paginate internally and return the fully materialized list; ordering
	// is unspecified.
	ListFiles(ctx context.Context, prefix string) ([]string, error)

	// GetFileMetadata returns size, modification time, and the
	// provider-native hash for the object at path. Returns
	// domain.ErrNotFound if absent.
	GetFileMetadata(ctx context.Context, path string) (*FileMetadata, error)

	// Disconnect releases the provider's resources. Idempotent and safe to
	// call on a provider that was never initialized.
	Disconnect() error
}
