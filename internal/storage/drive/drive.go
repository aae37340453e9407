// Package drive implements the Google Drive backend for MirrorVault. Unlike
// the bucket-credential backends, Drive authenticates as a user through an
// OAuth refresh token and stores blobs as files inside a dedicated folder,
// with the storage path as the file name.
package drive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gdrive "google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/mirrorvault/mirrorvault/internal/config"
	"github.com/mirrorvault/mirrorvault/internal/domain"
	"github.com/mirrorvault/mirrorvault/internal/storage"
)

func init() {
	// Register Google Drive storage backend
	storage.Register("drive", func(cfg *config.Config, events storage.EventSink) (storage.Provider, error) {
		return New(&cfg.Providers.Drive, events)
	})
}

// resumableChunkSize is the per-request chunk size for payloads above the
// storage.ChunkThreshold. Drive requires chunk sizes in 256 KiB multiples.
const resumableChunkSize = 16 * 1024 * 1024

// Provider implements the storage.Provider interface for Google Drive.
type Provider struct {
	service      *gdrive.Service
	rootFolderID string
	events       storage.EventSink
}

// New creates a new Google Drive backend. The refresh token must carry the
// drive.file scope; access tokens are minted and refreshed automatically by
// the token source.
func New(cfg *config.DriveProviderConfig, events storage.EventSink) (*Provider, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("drive client_id and client_secret are required: %w", domain.ErrConfiguration)
	}
	if cfg.RefreshToken == "" {
		return nil, fmt.Errorf("drive refresh_token is required: %w", domain.ErrConfiguration)
	}
	if cfg.RootFolderID == "" {
		return nil, fmt.Errorf("drive root_folder_id is required: %w", domain.ErrConfiguration)
	}

	oauthCfg := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{gdrive.DriveFileScope},
	}
	tokenSource := oauthCfg.TokenSource(context.Background(), &oauth2.Token{
		RefreshToken: cfg.RefreshToken,
	})

	service, err := gdrive.NewService(context.Background(), option.WithTokenSource(tokenSource))
	if err != nil {
		return nil, fmt.Errorf("failed to create Drive client: %w", err)
	}

	return &Provider{
		service:      service,
		rootFolderID: cfg.RootFolderID,
		events:       events,
	}, nil
}

func (p *Provider) Name() string { return "drive" }

// escapeQuery escapes a value for interpolation into a Drive search query.
func escapeQuery(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `'`, `\'`)
}

// findFile looks up a file by its storage path within the root folder.
// Returns domain.ErrNotFound when no live file matches.
func (p *Provider) findFile(ctx context.Context, path string) (*gdrive.File, error) {
	query := fmt.Sprintf("name = '%s' and '%s' in parents and trashed = false",
		escapeQuery(path), escapeQuery(p.rootFolderID))
	list, err := p.service.Files.List().
		Q(query).
		Fields("files(id, name, size, modifiedTime, md5Checksum)").
		PageSize(1).
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("failed to query Drive: %w: %v", domain.ErrConnectivity, err)
	}
	if len(list.Files) == 0 {
		return nil, fmt.Errorf("file %s: %w", path, domain.ErrNotFound)
	}
	return list.Files[0], nil
}

// Initialize probes the root folder with a single-file list.
func (p *Provider) Initialize(ctx context.Context) error {
	query := fmt.Sprintf("'%s' in parents", escapeQuery(p.rootFolderID))
	_, err := p.service.Files.List().
		Q(query).
		Fields("files(id)").
		PageSize(1).
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("drive connectivity probe failed: %w: %v", domain.ErrConnectivity, err)
	}
	return nil
}

// UploadFile stores content, updating in place when the path already exists
// so repeated uploads do not accumulate duplicate Drive files.
func (p *Provider) UploadFile(ctx context.Context, path string, content []byte) error {
	mediaOpts := []googleapi.MediaOption{googleapi.ContentType("application/octet-stream")}
	if len(content) > storage.ChunkThreshold {
		mediaOpts = append(mediaOpts, googleapi.ChunkSize(resumableChunkSize))
	}

	existing, err := p.findFile(ctx, path)
	switch {
	case err == nil:
		_, err = p.service.Files.Update(existing.Id, &gdrive.File{}).
			Media(bytes.NewReader(content), mediaOpts...).
			Context(ctx).
			Do()
	case errors.Is(err, domain.ErrNotFound):
		_, err = p.service.Files.Create(&gdrive.File{
			Name:    path,
			Parents: []string{p.rootFolderID},
		}).
			Media(bytes.NewReader(content), mediaOpts...).
			Context(ctx).
			Do()
	default:
		storage.EmitError(p.events, "drive", path, err)
		return err
	}
	if err != nil {
		err = fmt.Errorf("failed to upload to Drive: %w: %v", domain.ErrConnectivity, err)
		storage.EmitError(p.events, "drive", path, err)
		return err
	}

	storage.Emit(p.events, domain.EventFileUpload, "drive", path, int64(len(content)))
	return nil
}

// DownloadFile retrieves a file's content.
func (p *Provider) DownloadFile(ctx context.Context, path string) ([]byte, error) {
	file, err := p.findFile(ctx, path)
	if err != nil {
		return nil, err
	}

	resp, err := p.service.Files.Get(file.Id).Context(ctx).Download()
	if err != nil {
		return nil, fmt.Errorf("failed to download from Drive: %w: %v", domain.ErrConnectivity, err)
	}
	defer resp.Body.Close()

	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read Drive file body: %w", err)
	}

	storage.Emit(p.events, domain.EventFileDownload, "drive", path, int64(len(content)))
	return content, nil
}

// DeleteFile removes a file; deleting a missing file succeeds.
func (p *Provider) DeleteFile(ctx context.Context, path string) error {
	file, err := p.findFile(ctx, path)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			storage.Emit(p.events, domain.EventFileDelete, "drive", path, 0)
			return nil
		}
		storage.EmitError(p.events, "drive", path, err)
		return err
	}

	if err := p.service.Files.Delete(file.Id).Context(ctx).Do(); err != nil {
		err = fmt.Errorf("failed to delete from Drive: %w: %v", domain.ErrConnectivity, err)
		storage.EmitError(p.events, "drive", path, err)
		return err
	}

	storage.Emit(p.events, domain.EventFileDelete, "drive", path, 0)
	return nil
}

// ListFiles pages through the root folder and returns the names matching
// prefix. Drive queries cannot express name prefixes, so filtering happens
// client-side.
func (p *Provider) ListFiles(ctx context.Context, prefix string) ([]string, error) {
	query := fmt.Sprintf("'%s' in parents and trashed = false", escapeQuery(p.rootFolderID))

	var paths []string
	pageToken := ""
	for {
		call := p.service.Files.List().
			Q(query).
			Fields("nextPageToken, files(name)").
			PageSize(1000).
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		list, err := call.Do()
		if err != nil {
			return nil, fmt.Errorf("failed to list Drive files: %w: %v", domain.ErrConnectivity, err)
		}
		for _, file := range list.Files {
			if strings.HasPrefix(file.Name, prefix) {
				paths = append(paths, file.Name)
			}
		}
		if list.NextPageToken == "" {
			return paths, nil
		}
		pageToken = list.NextPageToken
	}
}

// GetFileMetadata returns size, modification time, and the hex MD5 Drive
// computes server-side as the provider-native hash.
func (p *Provider) GetFileMetadata(ctx context.Context, path string) (*storage.FileMetadata, error) {
	file, err := p.findFile(ctx, path)
	if err != nil {
		return nil, err
	}

	meta := &storage.FileMetadata{
		Size: file.Size,
		Hash: file.Md5Checksum,
	}
	if file.ModifiedTime != "" {
		if modified, err := time.Parse(time.RFC3339, file.ModifiedTime); err == nil {
			meta.Modified = modified
		}
	}
	return meta, nil
}

// Disconnect is a no-op: the Drive client holds no persistent connections
// beyond idle HTTP keep-alives.
func (p *Provider) Disconnect() error { return nil }
