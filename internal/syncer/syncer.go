// Package syncer implements the sync engine: an fsnotify watcher over the
// configured directories, a debounced per-path state machine, and a bounded
// worker pool that encrypts, uploads, and versions changed files. Same-path
// operations are strictly serialized for last-write-wins ordering; distinct
// paths run concurrently.
package syncer

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/mirrorvault/mirrorvault/internal/config"
	"github.com/mirrorvault/mirrorvault/internal/domain"
	"github.com/mirrorvault/mirrorvault/internal/safego"
	"github.com/mirrorvault/mirrorvault/internal/storage"
	"github.com/mirrorvault/mirrorvault/internal/telemetry"
	"github.com/mirrorvault/mirrorvault/internal/version"
	"github.com/mirrorvault/mirrorvault/pkg/checksum"
)

// Retry backoff bounds for failed uploads.
const (
	initialBackoff = 500 * time.Millisecond
	maxBackoff     = 30 * time.Second
)

// itemNamespace is the UUIDv5 namespace for path-derived item identity. The
// same relative path always maps to the same item ID, on every provider and
// across restarts.
var itemNamespace = uuid.MustParse("9aa1f5b2-7c64-4e2f-9d3a-2f6b1f4c8e70")

// Service watches the configured directories and mirrors changes to every
// enrolled storage provider.
type Service struct {
	cfg      config.SyncConfig
	encCfg   config.EncryptionConfig
	provs    []storage.Provider
	versions *version.Service
	enc      version.Encryptor
	events   storage.EventSink

	watcher *fsnotify.Watcher
	sem     chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	entries map[string]*pathEntry
	stopped bool

	obsMu      sync.Mutex
	lastBackup time.Time
}

// NewService creates the sync service. providers must be non-empty; the first
// one is the primary backend version blobs are recorded against. enc may be
// nil when encryption is disabled.
func NewService(cfg *config.Config, providers []storage.Provider, versions *version.Service, enc version.Encryptor, events storage.EventSink) (*Service, error) {
	if len(providers) == 0 {
		return nil, fmt.Errorf("sync requires at least one storage provider: %w", domain.ErrConfiguration)
	}
	if len(cfg.Sync.Directories) == 0 {
		return nil, fmt.Errorf("sync requires at least one watched directory: %w", domain.ErrConfiguration)
	}
	if cfg.Encryption.Enabled && enc == nil {
		return nil, fmt.Errorf("encryption enabled but no encryptor supplied: %w", domain.ErrConfiguration)
	}

	workers := cfg.Sync.MaxWorkers
	if workers <= 0 {
		workers = 1
	}

	return &Service{
		cfg:      cfg.Sync,
		encCfg:   cfg.Encryption,
		provs:    providers,
		versions: versions,
		enc:      enc,
		events:   events,
		sem:      make(chan struct{}, workers),
		entries:  make(map[string]*pathEntry),
	}, nil
}

// Start begins watching the configured directories. It returns once the
// watcher is installed; event handling and reconciliation run in background
// goroutines until Stop.
func (s *Service) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.watcher = watcher

	for _, dir := range s.cfg.Directories {
		if err := s.watchTree(dir); err != nil {
			watcher.Close()
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
	}

	safego.Go(s.eventLoop)
	if s.cfg.Interval > 0 {
		safego.Go(s.reconcileLoop)
	}

	slog.Info("sync service started",
		"directories", s.cfg.Directories,
		"providers", s.providerNames(),
		"workers", cap(s.sem))
	return nil
}

// Stop cancels in-flight work, closes the watcher, and waits for the worker
// pool to drain. The stopped flag is raised under the mutex before anything
// else so a debounce timer firing concurrently cannot dispatch new work after
// the wait begins.
func (s *Service) Stop() {
	s.mu.Lock()
	s.stopped = true
	for _, entry := range s.entries {
		if entry.timer != nil {
			entry.timer.Stop()
			entry.timer = nil
		}
	}
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	if s.watcher != nil {
		s.watcher.Close()
	}

	s.wg.Wait()
	slog.Info("sync service stopped")
}

func (s *Service) providerNames() []string {
	names := make([]string, len(s.provs))
	for i, p := range s.provs {
		names[i] = p.Name()
	}
	return names
}

// watchTree installs watches on root and every non-excluded subdirectory.
func (s *Service) watchTree(root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if p != root && s.excluded(p) {
			return filepath.SkipDir
		}
		return s.watcher.Add(p)
	})
}

// enqueueTree schedules every non-excluded file under root. Covers files that
// land in a new directory before its watch is installed.
func (s *Service) enqueueTree(root string) {
	_ = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || s.excluded(p) {
			return nil
		}
		s.schedule(p, false)
		return nil
	})
}

func (s *Service) eventLoop() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			s.handleEvent(event)
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("file watcher error", "error", err)
		}
	}
}

func (s *Service) handleEvent(event fsnotify.Event) {
	localPath := event.Name
	if s.excluded(localPath) {
		return
	}

	if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
		s.schedule(localPath, true)
		return
	}

	info, err := os.Stat(localPath)
	if err != nil {
		return
	}
	if info.IsDir() {
		if event.Op&fsnotify.Create != 0 {
			if err := s.watchTree(localPath); err != nil {
				slog.Error("failed to watch new directory", "path", localPath, "error", err)
			}
			s.enqueueTree(localPath)
		}
		return
	}

	if event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
		s.schedule(localPath, false)
	}
}

// schedule moves a path into PendingDebounce. Every subsequent event restarts
// the debounce timer, coalescing rapid writes into one sync operation.
// Deletes bypass the debounce and dispatch immediately.
func (s *Service) schedule(localPath string, deleted bool) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}

	entry, ok := s.entries[localPath]
	if !ok {
		entry = &pathEntry{state: stateIdle}
		s.entries[localPath] = entry
	}
	entry.deleted = deleted

	switch entry.state {
	case stateIdle, stateSynced, stateFailed:
		entry.pendingSince = time.Now()
		telemetry.SyncQueueDepth.Inc()
	}
	entry.state = statePendingDebounce

	if entry.busy {
		// An operation for this path is in flight; rerun when it finishes.
		entry.rerun = true
		if entry.timer != nil {
			entry.timer.Stop()
			entry.timer = nil
		}
		s.mu.Unlock()
		return
	}

	if entry.timer != nil {
		entry.timer.Stop()
	}
	if deleted {
		entry.timer = nil
		s.mu.Unlock()
		s.dispatch(localPath)
		return
	}
	entry.timer = time.AfterFunc(s.cfg.Debounce, func() { s.dispatch(localPath) })
	s.mu.Unlock()
}

// dispatch hands a debounced path to the worker pool.
func (s *Service) dispatch(localPath string) {
	s.mu.Lock()
	entry := s.entries[localPath]
	if entry == nil || s.stopped {
		s.mu.Unlock()
		return
	}
	if entry.busy {
		entry.rerun = true
		s.mu.Unlock()
		return
	}
	entry.busy = true
	entry.timer = nil
	entry.state = stateUploading
	deleted := entry.deleted
	// Registered under the mutex so Stop cannot start waiting between the
	// stopped check above and this Add.
	s.wg.Add(1)
	s.mu.Unlock()

	safego.Go(func() {
		defer s.wg.Done()

		select {
		case s.sem <- struct{}{}:
			defer func() { <-s.sem }()
		case <-s.ctx.Done():
			s.mu.Lock()
			entry.busy = false
			telemetry.SyncQueueDepth.Dec()
			s.mu.Unlock()
			return
		}

		var final pathState
		if deleted {
			final = s.propagateDelete(localPath)
		} else {
			final = s.syncPath(localPath)
		}
		s.finish(localPath, final)
	})
}

// finish records the terminal state of an operation and reruns the path if
// events arrived while it was busy.
func (s *Service) finish(localPath string, final pathState) {
	s.mu.Lock()
	entry := s.entries[localPath]
	entry.busy = false
	entry.state = final

	if entry.rerun && !s.stopped {
		entry.rerun = false
		entry.state = statePendingDebounce
		entry.pendingSince = time.Now()
		if entry.deleted {
			s.mu.Unlock()
			s.dispatch(localPath)
			return
		}
		entry.timer = time.AfterFunc(s.cfg.Debounce, func() { s.dispatch(localPath) })
		s.mu.Unlock()
		return
	}

	telemetry.SyncQueueDepth.Dec()
	s.mu.Unlock()
}

func (s *Service) setState(localPath string, st pathState) {
	s.mu.Lock()
	if entry := s.entries[localPath]; entry != nil {
		entry.state = st
	}
	s.mu.Unlock()
}

func (s *Service) stateOf(localPath string) pathState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry := s.entries[localPath]; entry != nil {
		return entry.state
	}
	return stateIdle
}

// syncPath uploads one file to every provider and records a version. Returns
// the terminal state for the path.
func (s *Service) syncPath(localPath string) pathState {
	info, err := os.Stat(localPath)
	if err != nil {
		// Vanished between the event and the dispatch.
		return s.propagateDelete(localPath)
	}
	if info.IsDir() {
		return stateSynced
	}

	if s.cfg.MaxFileSize > 0 && info.Size() > s.cfg.MaxFileSize {
		err := fmt.Errorf("file size limit exceeded: %d bytes (limit %d)", info.Size(), s.cfg.MaxFileSize)
		slog.Warn("rejecting oversized file", "path", localPath, "size", info.Size(), "limit", s.cfg.MaxFileSize)
		storage.EmitError(s.events, "sync", localPath, err)
		telemetry.SyncOperationsTotal.WithLabelValues("skipped").Inc()
		return stateFailed
	}

	content, err := os.ReadFile(localPath)
	if err != nil {
		slog.Error("failed to read file for sync", "path", localPath, "error", err)
		telemetry.SyncOperationsTotal.WithLabelValues("failed").Inc()
		return stateFailed
	}

	payload := content
	if s.encCfg.Enabled {
		payload, err = s.enc.EncryptFile(content, s.encCfg.Password, s.encCfg.KeyID)
		if err != nil {
			slog.Error("failed to encrypt file", "path", localPath, "error", err)
			telemetry.SyncOperationsTotal.WithLabelValues("failed").Inc()
			return stateFailed
		}
	}

	item := s.buildItem(localPath, info)
	remote := s.remotePath(localPath)
	started := time.Now()

	err = s.withRetry(localPath, func() error {
		for _, p := range s.provs {
			callCtx, cancel := s.callContext()
			uploadErr := p.UploadFile(callCtx, remote, payload)
			cancel()
			if uploadErr != nil {
				return uploadErr
			}
		}
		item.SyncStatus = domain.SyncStatusSynced
		item.BackupStatus = domain.BackupStatusBackedUp
		callCtx, cancel := s.callContext()
		defer cancel()
		_, versionErr := s.versions.CreateVersion(callCtx, item, content, s.provs[0])
		return versionErr
	})
	if err != nil {
		s.emitSyncFailed(localPath, err)
		telemetry.SyncOperationsTotal.WithLabelValues("failed").Inc()
		slog.Error("sync failed", "path", localPath, "attempts", s.attempts(), "error", err)
		return stateFailed
	}

	// Dedup'd version creation skips the item save inside CreateVersion.
	if saveErr := s.versions.Store().SaveItem(item); saveErr != nil {
		slog.Error("failed to save item state", "path", localPath, "error", saveErr)
	}

	// Apply retention after every successful version so history never grows
	// past the configured bounds. A cleanup failure leaves extra blobs behind
	// but never fails the sync; the next pass retries.
	cleanupCtx, cleanupCancel := s.callContext()
	if cleanupErr := s.versions.CleanupVersions(cleanupCtx, item.ID); cleanupErr != nil {
		slog.Warn("version cleanup failed", "path", localPath, "error", cleanupErr)
	}
	cleanupCancel()

	s.obsMu.Lock()
	s.lastBackup = time.Now()
	s.obsMu.Unlock()

	telemetry.SyncOperationsTotal.WithLabelValues("synced").Inc()
	telemetry.SyncUploadDuration.Observe(time.Since(started).Seconds())
	slog.Info("synced", "path", localPath, "size", info.Size(), "providers", s.providerNames())
	return stateSynced
}

// propagateDelete removes the live copy from every provider and tombstones
// the item. Version blobs stay until retention cleanup.
func (s *Service) propagateDelete(localPath string) pathState {
	remote := s.remotePath(localPath)

	err := s.withRetry(localPath, func() error {
		for _, p := range s.provs {
			callCtx, cancel := s.callContext()
			deleteErr := p.DeleteFile(callCtx, remote)
			cancel()
			if deleteErr != nil {
				return deleteErr
			}
		}
		return nil
	})
	if err != nil {
		s.emitSyncFailed(localPath, err)
		telemetry.SyncOperationsTotal.WithLabelValues("failed").Inc()
		slog.Error("delete propagation failed", "path", localPath, "error", err)
		return stateFailed
	}

	if item, getErr := s.versions.Store().GetItem(s.itemID(localPath)); getErr == nil {
		item.Deleted = true
		item.SyncStatus = domain.SyncStatusSynced
		if saveErr := s.versions.Store().SaveItem(item); saveErr != nil {
			slog.Error("failed to tombstone item", "path", localPath, "error", saveErr)
		}
	}

	telemetry.SyncOperationsTotal.WithLabelValues("synced").Inc()
	slog.Info("delete propagated", "path", localPath, "providers", s.providerNames())
	return stateSynced
}

// withRetry runs op with exponential backoff until it succeeds or the attempt
// budget is exhausted.
func (s *Service) withRetry(localPath string, op func() error) error {
	attempts := s.attempts()
	backoff := initialBackoff

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = op(); err == nil {
			return nil
		}
		if attempt == attempts {
			break
		}
		slog.Warn("sync attempt failed, retrying",
			"path", localPath, "attempt", attempt, "backoff", backoff, "error", err)
		telemetry.SyncRetriesTotal.Inc()
		s.setState(localPath, stateRetrying)

		select {
		case <-time.After(backoff):
		case <-s.ctx.Done():
			return s.ctx.Err()
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
		s.setState(localPath, stateUploading)
	}
	return err
}

func (s *Service) attempts() int {
	if s.cfg.RetryAttempts <= 0 {
		return 1
	}
	return s.cfg.RetryAttempts
}

// callContext bounds one provider call.
func (s *Service) callContext() (context.Context, context.CancelFunc) {
	if s.cfg.ProviderTimeout > 0 {
		return context.WithTimeout(s.ctx, s.cfg.ProviderTimeout)
	}
	return context.WithCancel(s.ctx)
}

func (s *Service) emitSyncFailed(localPath string, err error) {
	if s.events == nil || err == nil {
		return
	}
	s.events.LogStorageEvent(domain.StorageEvent{
		Type:  domain.EventSyncFailed,
		Path:  localPath,
		Error: err.Error(),
		Time:  time.Now(),
	})
}

// excluded reports whether a path matches any exclude pattern, tested against
// both the watch-root-relative path and the base name.
func (s *Service) excluded(localPath string) bool {
	rel := s.relPath(localPath)
	base := filepath.Base(localPath)
	for _, pattern := range s.cfg.ExcludePatterns {
		if ok, _ := path.Match(pattern, rel); ok {
			return true
		}
		if ok, _ := path.Match(pattern, base); ok {
			return true
		}
	}
	return false
}

// relPath returns localPath relative to its watch root, slash-separated.
func (s *Service) relPath(localPath string) string {
	for _, dir := range s.cfg.Directories {
		if rel, err := filepath.Rel(dir, localPath); err == nil && rel != ".." && !strings.HasPrefix(rel, "../") {
			return filepath.ToSlash(rel)
		}
	}
	return filepath.ToSlash(localPath)
}

func (s *Service) itemID(localPath string) string {
	return uuid.NewSHA1(itemNamespace, []byte(s.relPath(localPath))).String()
}

// remotePath is the provider-side location of the live copy. Version blobs
// live under versions/, live copies under files/.
func (s *Service) remotePath(localPath string) string {
	return "files/" + s.relPath(localPath)
}

// buildItem loads or creates the StorageItem for a local file, refreshing the
// file attributes.
func (s *Service) buildItem(localPath string, info fs.FileInfo) *domain.StorageItem {
	id := s.itemID(localPath)
	now := time.Now()

	item, err := s.versions.Store().GetItem(id)
	if err != nil {
		item = &domain.StorageItem{ID: id, Created: now}
	}
	item.Name = filepath.Base(localPath)
	item.Path = localPath
	item.Type = domain.ItemTypeFile
	item.Size = info.Size()
	item.Modified = info.ModTime()
	item.Accessed = now
	item.Providers = s.providerNames()
	item.SyncStatus = domain.SyncStatusPending
	item.BackupStatus = domain.BackupStatusPending
	item.Deleted = false
	return item
}

// reconcileLoop periodically walks the watched trees and enqueues any file
// whose content drifted from its current version (changes made while the
// process was down, or events the watcher missed).
func (s *Service) reconcileLoop() {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.reconcile()
		}
	}
}

func (s *Service) reconcile() {
	for _, dir := range s.cfg.Directories {
		_ = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if d.IsDir() {
				if p != dir && s.excluded(p) {
					return filepath.SkipDir
				}
				return nil
			}
			if s.excluded(p) {
				return nil
			}
			if s.needsSync(p) {
				s.schedule(p, false)
			}
			return nil
		})
	}
}

// needsSync reports whether a file's plaintext hash differs from its current
// recorded version.
func (s *Service) needsSync(localPath string) bool {
	content, err := os.ReadFile(localPath)
	if err != nil {
		return false
	}

	meta, err := s.versions.Store().GetVersionMetadata(s.itemID(localPath))
	if err != nil {
		return true
	}
	current := meta.Current()
	if current == nil {
		return true
	}
	return current.Hash != checksum.SHA256(content)
}

// LastBackup returns the time of the most recent successful upload, for the
// backup-freshness health check.
func (s *Service) LastBackup() time.Time {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	return s.lastBackup
}

// QueueStats returns the current queue pressure observations for the sync-lag
// health check.
func (s *Service) QueueStats() domain.SyncMetrics {
	s.mu.Lock()
	defer s.mu.Unlock()

	var m domain.SyncMetrics
	var oldest time.Time
	for _, entry := range s.entries {
		switch entry.state {
		case statePendingDebounce, stateUploading, stateRetrying:
			m.PendingPaths++
			if oldest.IsZero() || entry.pendingSince.Before(oldest) {
				oldest = entry.pendingSince
			}
		case stateFailed:
			m.FailedPaths++
		}
	}
	if !oldest.IsZero() {
		m.LagSeconds = time.Since(oldest).Seconds()
	}
	return m
}
