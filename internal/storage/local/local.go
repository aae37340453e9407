// Package local implements the local filesystem storage backend for
// MirrorVault. It is intended for tests and air-gapped mirrors where the
// "cloud" is a mounted disk; it provides no redundancy beyond the underlying
// filesystem. For real deployments use a cloud backend.
package local

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/mirrorvault/mirrorvault/internal/config"
	"github.com/mirrorvault/mirrorvault/internal/domain"
	"github.com/mirrorvault/mirrorvault/internal/storage"
	"github.com/mirrorvault/mirrorvault/pkg/checksum"
)

func init() {
	// Register local storage backend
	storage.Register("local", func(cfg *config.Config, events storage.EventSink) (storage.Provider, error) {
		return New(&cfg.Providers.Local, events)
	})
}

// Provider implements the storage.Provider interface over a local directory.
type Provider struct {
	basePath string
	events   storage.EventSink
}

// New creates a new local filesystem storage backend.
func New(cfg *config.LocalProviderConfig, events storage.EventSink) (*Provider, error) {
	if cfg.BasePath == "" {
		return nil, fmt.Errorf("local base_path is required: %w", domain.ErrConfiguration)
	}

	return &Provider{
		basePath: cfg.BasePath,
		events:   events,
	}, nil
}

func (p *Provider) Name() string { return "local" }

// Initialize creates the base directory and probes it with a single read.
func (p *Provider) Initialize(ctx context.Context) error {
	if err := os.MkdirAll(p.basePath, 0o750); err != nil {
		return fmt.Errorf("failed to create storage directory: %w: %v", domain.ErrConnectivity, err)
	}
	if _, err := os.ReadDir(p.basePath); err != nil {
		return fmt.Errorf("storage directory probe failed: %w: %v", domain.ErrConnectivity, err)
	}
	return nil
}

// UploadFile stores content at path, overwriting any existing file. The write
// goes to a temp file first and is renamed into place so a crash never leaves
// a half-written object visible.
func (p *Provider) UploadFile(ctx context.Context, path string, content []byte) error {
	fullPath := filepath.Join(p.basePath, filepath.FromSlash(path))

	if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		err = fmt.Errorf("failed to create directory: %w", err)
		storage.EmitError(p.events, "local", path, err)
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(fullPath), ".upload-*")
	if err != nil {
		err = fmt.Errorf("failed to create temp file: %w", err)
		storage.EmitError(p.events, "local", path, err)
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		_ = os.Remove(tmpName)
		err = fmt.Errorf("failed to write file: %w", err)
		storage.EmitError(p.events, "local", path, err)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		err = fmt.Errorf("failed to close file: %w", err)
		storage.EmitError(p.events, "local", path, err)
		return err
	}
	if err := os.Rename(tmpName, fullPath); err != nil {
		_ = os.Remove(tmpName)
		err = fmt.Errorf("failed to move file into place: %w", err)
		storage.EmitError(p.events, "local", path, err)
		return err
	}

	storage.Emit(p.events, domain.EventFileUpload, "local", path, int64(len(content)))
	return nil
}

// DownloadFile retrieves a file.
func (p *Provider) DownloadFile(ctx context.Context, path string) ([]byte, error) {
	fullPath := filepath.Join(p.basePath, filepath.FromSlash(path))

	content, err := os.ReadFile(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("file %s: %w", path, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	storage.Emit(p.events, domain.EventFileDownload, "local", path, int64(len(content)))
	return content, nil
}

// DeleteFile removes a file. Deleting a missing file succeeds.
func (p *Provider) DeleteFile(ctx context.Context, path string) error {
	fullPath := filepath.Join(p.basePath, filepath.FromSlash(path))

	if err := os.Remove(fullPath); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		err = fmt.Errorf("failed to delete file: %w", err)
		storage.EmitError(p.events, "local", path, err)
		return err
	}

	// Best effort: prune now-empty parent directories up to the base.
	dir := filepath.Dir(fullPath)
	for dir != p.basePath {
		if err := os.Remove(dir); err != nil {
			break
		}
		dir = filepath.Dir(dir)
	}

	storage.Emit(p.events, domain.EventFileDelete, "local", path, 0)
	return nil
}

// ListFiles walks the tree under prefix and returns all stored paths.
func (p *Provider) ListFiles(ctx context.Context, prefix string) ([]string, error) {
	paths := []string{}
	err := filepath.WalkDir(p.basePath, func(fullPath string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".upload-") {
			return nil
		}
		rel, err := filepath.Rel(p.basePath, fullPath)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if strings.HasPrefix(rel, prefix) {
			paths = append(paths, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	return paths, nil
}

// GetFileMetadata stats a file and computes its content hash.
func (p *Provider) GetFileMetadata(ctx context.Context, path string) (*storage.FileMetadata, error) {
	fullPath := filepath.Join(p.basePath, filepath.FromSlash(path))

	info, err := os.Stat(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("file %s: %w", path, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	f, err := os.Open(fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file for hashing: %w", err)
	}
	defer f.Close()

	hash, err := checksum.SHA256Reader(f)
	if err != nil {
		return nil, err
	}

	return &storage.FileMetadata{
		Size:     info.Size(),
		Modified: info.ModTime(),
		Hash:     hash,
	}, nil
}

// Disconnect is a no-op for the local backend.
func (p *Provider) Disconnect() error { return nil }
