package local

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/mirrorvault/mirrorvault/internal/config"
	"github.com/mirrorvault/mirrorvault/internal/domain"
	"github.com/mirrorvault/mirrorvault/internal/storage"
)

// recordingSink captures emitted events for assertions.
type recordingSink struct {
	events []domain.StorageEvent
}

func (r *recordingSink) LogStorageEvent(e domain.StorageEvent) {
	r.events = append(r.events, e)
}

// newTestProvider creates an initialized Provider backed by a temp directory.
func newTestProvider(t *testing.T) (*Provider, *recordingSink) {
	t.Helper()
	sink := &recordingSink{}
	p, err := New(&config.LocalProviderConfig{BasePath: t.TempDir()}, sink)
	if err != nil {
		t.Fatal("New:", err)
	}
	if err := p.Initialize(context.Background()); err != nil {
		t.Fatal("Initialize:", err)
	}
	return p, sink
}

// ---------------------------------------------------------------------------
// New / Initialize
// ---------------------------------------------------------------------------

func TestNew_EmptyBasePath(t *testing.T) {
	_, err := New(&config.LocalProviderConfig{}, nil)
	if !errors.Is(err, domain.ErrConfiguration) {
		t.Errorf("New() error = %v, want ErrConfiguration", err)
	}
}

func TestInitialize_CreatesDirectory(t *testing.T) {
	base := t.TempDir() + "/a/b/c"
	p, err := New(&config.LocalProviderConfig{BasePath: base}, nil)
	if err != nil {
		t.Fatal("New:", err)
	}
	if err := p.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Upload / Download
// ---------------------------------------------------------------------------

func TestUploadDownload(t *testing.T) {
	p, sink := newTestProvider(t)
	ctx := context.Background()

	content := []byte("hello, world")
	if err := p.UploadFile(ctx, "docs/hello.txt", content); err != nil {
		t.Fatalf("UploadFile() error: %v", err)
	}

	got, err := p.DownloadFile(ctx, "docs/hello.txt")
	if err != nil {
		t.Fatalf("DownloadFile() error: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Errorf("DownloadFile() = %q, want %q", got, content)
	}

	if len(sink.events) == 0 || sink.events[0].Type != domain.EventFileUpload {
		t.Errorf("expected a FileUpload event, got %+v", sink.events)
	}
}

func TestUpload_Overwrites(t *testing.T) {
	p, _ := newTestProvider(t)
	ctx := context.Background()

	if err := p.UploadFile(ctx, "f.txt", []byte("v1")); err != nil {
		t.Fatal(err)
	}
	if err := p.UploadFile(ctx, "f.txt", []byte("v2")); err != nil {
		t.Fatal(err)
	}

	got, err := p.DownloadFile(ctx, "f.txt")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "v2" {
		t.Errorf("DownloadFile() = %q, want v2", got)
	}
}

func TestDownload_NotFound(t *testing.T) {
	p, _ := newTestProvider(t)

	_, err := p.DownloadFile(context.Background(), "absent.txt")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("DownloadFile() error = %v, want ErrNotFound", err)
	}
}

// ---------------------------------------------------------------------------
// Delete
// ---------------------------------------------------------------------------

func TestDelete(t *testing.T) {
	p, _ := newTestProvider(t)
	ctx := context.Background()

	if err := p.UploadFile(ctx, "sub/x.txt", []byte("x")); err != nil {
		t.Fatal(err)
	}
	if err := p.DeleteFile(ctx, "sub/x.txt"); err != nil {
		t.Fatalf("DeleteFile() error: %v", err)
	}
	if _, err := p.DownloadFile(ctx, "sub/x.txt"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("file still present after delete, err = %v", err)
	}
}

func TestDelete_MissingIsNotAnError(t *testing.T) {
	p, _ := newTestProvider(t)

	if err := p.DeleteFile(context.Background(), "never-existed.txt"); err != nil {
		t.Errorf("DeleteFile(missing) error: %v, want nil", err)
	}
}

// ---------------------------------------------------------------------------
// ListFiles / GetFileMetadata
// ---------------------------------------------------------------------------

func TestListFiles(t *testing.T) {
	p, _ := newTestProvider(t)
	ctx := context.Background()

	files := []string{"versions/item1/aaa", "versions/item1/bbb", "versions/item2/ccc", "live/readme.md"}
	for _, f := range files {
		if err := p.UploadFile(ctx, f, []byte(f)); err != nil {
			t.Fatal(err)
		}
	}

	got, err := p.ListFiles(ctx, "versions/item1/")
	if err != nil {
		t.Fatalf("ListFiles() error: %v", err)
	}
	sort.Strings(got)
	want := []string{"versions/item1/aaa", "versions/item1/bbb"}
	if len(got) != len(want) {
		t.Fatalf("ListFiles() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("ListFiles()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestGetFileMetadata(t *testing.T) {
	p, _ := newTestProvider(t)
	ctx := context.Background()

	content := []byte("metadata content")
	if err := p.UploadFile(ctx, "m.txt", content); err != nil {
		t.Fatal(err)
	}

	meta, err := p.GetFileMetadata(ctx, "m.txt")
	if err != nil {
		t.Fatalf("GetFileMetadata() error: %v", err)
	}
	if meta.Size != int64(len(content)) {
		t.Errorf("Size = %d, want %d", meta.Size, len(content))
	}
	if len(meta.Hash) != 64 {
		t.Errorf("Hash len = %d, want 64 (SHA256 hex)", len(meta.Hash))
	}
	if meta.Modified.IsZero() {
		t.Error("Modified is zero")
	}

	if _, err := p.GetFileMetadata(ctx, "absent"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("GetFileMetadata(absent) error = %v, want ErrNotFound", err)
	}
}

// ---------------------------------------------------------------------------
// Factory registration
// ---------------------------------------------------------------------------

func TestFactoryRegistration(t *testing.T) {
	cfg := &config.Config{
		Providers: config.ProvidersConfig{Local: config.LocalProviderConfig{BasePath: t.TempDir()}},
	}
	p, err := storage.New("local", cfg, storage.NopSink{})
	if err != nil {
		t.Fatalf("storage.New(local) error: %v", err)
	}
	if p.Name() != "local" {
		t.Errorf("Name() = %q, want local", p.Name())
	}
}

func TestDisconnect_Idempotent(t *testing.T) {
	p, _ := newTestProvider(t)
	if err := p.Disconnect(); err != nil {
		t.Fatal(err)
	}
	if err := p.Disconnect(); err != nil {
		t.Fatal(err)
	}
}
