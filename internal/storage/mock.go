// mock.go provides an in-memory Provider for tests of the versioning and
// sync services. It records call counts and supports scripted failures so
// retry behavior can be exercised without a network.
package storage

import (
	"context"
	"crypto/md5" // #nosec G401 -- mimics provider-native ETag hashes, not a security boundary
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mirrorvault/mirrorvault/internal/domain"
)

// MockProvider is an in-memory Provider implementation. Safe for concurrent
// use.
type MockProvider struct {
	ProviderName string

	mu       sync.Mutex
	objects  map[string][]byte
	modified map[string]time.Time

	// UploadErrs is consumed one entry per UploadFile call; a nil entry
	// means that call succeeds. Once exhausted, all uploads succeed.
	UploadErrs []error

	// UploadDelay is slept inside every UploadFile call, for concurrency
	// tests.
	UploadDelay time.Duration

	UploadCalls   int
	DownloadCalls int
	DeleteCalls   int

	events EventSink
}

// NewMockProvider returns an empty in-memory provider named name.
func NewMockProvider(name string, events EventSink) *MockProvider {
	return &MockProvider{
		ProviderName: name,
		objects:      make(map[string][]byte),
		modified:     make(map[string]time.Time),
		events:       events,
	}
}

func (m *MockProvider) Name() string { return m.ProviderName }

func (m *MockProvider) Initialize(ctx context.Context) error { return nil }

func (m *MockProvider) UploadFile(ctx context.Context, path string, content []byte) error {
	m.mu.Lock()
	m.UploadCalls++
	var err error
	if len(m.UploadErrs) > 0 {
		err = m.UploadErrs[0]
		m.UploadErrs = m.UploadErrs[1:]
	}
	delay := m.UploadDelay
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err != nil {
		EmitError(m.events, m.ProviderName, path, err)
		return err
	}

	m.mu.Lock()
	m.objects[path] = append([]byte(nil), content...)
	m.modified[path] = time.Now()
	m.mu.Unlock()

	Emit(m.events, domain.EventFileUpload, m.ProviderName, path, int64(len(content)))
	return nil
}

func (m *MockProvider) DownloadFile(ctx context.Context, path string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DownloadCalls++
	content, ok := m.objects[path]
	if !ok {
		return nil, fmt.Errorf("mock object %s: %w", path, domain.ErrNotFound)
	}
	return append([]byte(nil), content...), nil
}

func (m *MockProvider) DeleteFile(ctx context.Context, path string) error {
	m.mu.Lock()
	m.DeleteCalls++
	delete(m.objects, path)
	delete(m.modified, path)
	m.mu.Unlock()

	Emit(m.events, domain.EventFileDelete, m.ProviderName, path, 0)
	return nil
}

func (m *MockProvider) ListFiles(ctx context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var paths []string
	for p := range m.objects {
		if strings.HasPrefix(p, prefix) {
			paths = append(paths, p)
		}
	}
	return paths, nil
}

func (m *MockProvider) GetFileMetadata(ctx context.Context, path string) (*FileMetadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	content, ok := m.objects[path]
	if !ok {
		return nil, fmt.Errorf("mock object %s: %w", path, domain.ErrNotFound)
	}
	sum := md5.Sum(content) // #nosec G401
	return &FileMetadata{
		Size:     int64(len(content)),
		Modified: m.modified[path],
		Hash:     hex.EncodeToString(sum[:]),
	}, nil
}

func (m *MockProvider) Disconnect() error { return nil }

// Object returns the stored content for path, for test assertions.
func (m *MockProvider) Object(path string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	content, ok := m.objects[path]
	return content, ok
}

// ObjectCount returns the number of stored objects.
func (m *MockProvider) ObjectCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}
