// Package monitor implements the monitoring service: structured storage event
// logging, operational metric recording, and the periodic health check that
// aggregates disk space, backup freshness, and sync lag into one report.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mirrorvault/mirrorvault/internal/config"
	"github.com/mirrorvault/mirrorvault/internal/domain"
	"github.com/mirrorvault/mirrorvault/internal/safego"
	"github.com/mirrorvault/mirrorvault/internal/telemetry"
)

// Metric names accepted by RecordMetric, each backed by a prometheus gauge.
const (
	MetricDiskFreeBytes    = "disk_free_bytes"
	MetricBackupAgeSeconds = "backup_age_seconds"
	MetricSyncLagSeconds   = "sync_lag_seconds"
)

// Observer supplies the monitor with live sync-engine observations.
type Observer interface {
	LastBackup() time.Time
	QueueStats() domain.SyncMetrics
}

// Service is the monitoring service. It implements storage.EventSink, so
// providers and the syncer report into it directly.
type Service struct {
	cfg  config.MonitoringConfig
	dirs []string

	// disk is swappable for tests.
	disk func(path string) (*domain.DiskMetrics, error)

	mu        sync.Mutex
	observer  Observer
	lastAlert map[string]time.Time

	cancel context.CancelFunc
}

// NewService creates the monitoring service. dirs are the watched local
// roots; the first one anchors the disk-space check.
func NewService(cfg *config.Config) *Service {
	return &Service{
		cfg:       cfg.Monitoring,
		dirs:      cfg.Sync.Directories,
		disk:      diskUsage,
		lastAlert: make(map[string]time.Time),
	}
}

// SetObserver wires in the sync engine after construction; the monitor is
// built first so providers can report into it during their own setup.
func (s *Service) SetObserver(observer Observer) {
	s.mu.Lock()
	s.observer = observer
	s.mu.Unlock()
}

// Start runs the periodic health check loop until Stop or ctx cancellation.
func (s *Service) Start(ctx context.Context) {
	if s.cfg.HealthInterval <= 0 {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)

	safego.Go(func() {
		ticker := time.NewTicker(s.cfg.HealthInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.CheckStorageHealth(ctx); err != nil {
					slog.Error("health check failed", "error", err)
				}
			}
		}
	})
}

// Stop halts the health check loop.
func (s *Service) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

// LogStorageEvent records a structured storage event. It never returns an
// error and never panics into the caller; event delivery is best-effort.
func (s *Service) LogStorageEvent(event domain.StorageEvent) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("recovered panic while logging storage event", "panic", r)
		}
	}()

	telemetry.StorageEventsTotal.WithLabelValues(event.Provider, string(event.Type)).Inc()

	switch event.Type {
	case domain.EventFileUpload:
		telemetry.StorageBytesTransferred.WithLabelValues(event.Provider, "upload").Add(float64(event.Size))
		slog.Info("storage event", "type", event.Type, "provider", event.Provider, "path", event.Path, "size", event.Size)
	case domain.EventFileDownload:
		telemetry.StorageBytesTransferred.WithLabelValues(event.Provider, "download").Add(float64(event.Size))
		slog.Info("storage event", "type", event.Type, "provider", event.Provider, "path", event.Path, "size", event.Size)
	case domain.EventError, domain.EventSyncFailed:
		slog.Error("storage event", "type", event.Type, "provider", event.Provider, "path", event.Path, "error", event.Error)
	default:
		slog.Info("storage event", "type", event.Type, "provider", event.Provider, "path", event.Path, "size", event.Size)
	}
}

// RecordMetric sets a named operational gauge. Unknown names and negative
// values are rejected with ErrValidation.
func (s *Service) RecordMetric(name string, value float64) error {
	if value < 0 {
		return fmt.Errorf("metric %s: negative value %f: %w", name, value, domain.ErrValidation)
	}

	switch name {
	case MetricDiskFreeBytes:
		telemetry.DiskFreeBytes.Set(value)
	case MetricBackupAgeSeconds:
		telemetry.BackupAgeSeconds.Set(value)
	case MetricSyncLagSeconds:
		telemetry.SyncLagSeconds.Set(value)
	default:
		return fmt.Errorf("unknown metric name %q: %w", name, domain.ErrValidation)
	}
	return nil
}

// CheckStorageHealth runs the disk-space, backup-freshness, and sync-lag
// checks in parallel and aggregates them: two or more simultaneous issue
// categories mean unhealthy, exactly one means degraded.
func (s *Service) CheckStorageHealth(ctx context.Context) (*domain.StorageHealth, error) {
	health := &domain.StorageHealth{Status: domain.HealthStatusHealthy}

	var (
		wg          sync.WaitGroup
		mu          sync.Mutex
		diskIssue   string
		backupIssue string
		syncIssue   string
	)

	wg.Add(3)
	safego.Go(func() {
		defer wg.Done()
		metrics, issue := s.checkDisk()
		mu.Lock()
		health.Metrics.DiskSpace = metrics
		diskIssue = issue
		mu.Unlock()
	})
	safego.Go(func() {
		defer wg.Done()
		metrics, issue := s.checkBackupFreshness()
		mu.Lock()
		health.Metrics.Backups = metrics
		backupIssue = issue
		mu.Unlock()
	})
	safego.Go(func() {
		defer wg.Done()
		metrics, issue := s.checkSyncLag()
		mu.Lock()
		health.Metrics.Sync = metrics
		syncIssue = issue
		mu.Unlock()
	})
	wg.Wait()

	for category, issue := range map[string]string{
		"disk":   diskIssue,
		"backup": backupIssue,
		"sync":   syncIssue,
	} {
		if issue == "" {
			continue
		}
		health.Issues = append(health.Issues, issue)
		s.alert(category, issue)
	}

	switch len(health.Issues) {
	case 0:
		health.Status = domain.HealthStatusHealthy
		telemetry.HealthStatus.Set(0)
	case 1:
		health.Status = domain.HealthStatusDegraded
		telemetry.HealthStatus.Set(1)
	default:
		health.Status = domain.HealthStatusUnhealthy
		telemetry.HealthStatus.Set(2)
	}

	return health, ctx.Err()
}

func (s *Service) checkDisk() (domain.DiskMetrics, string) {
	if len(s.dirs) == 0 {
		return domain.DiskMetrics{}, ""
	}

	metrics, err := s.disk(s.dirs[0])
	if err != nil {
		return domain.DiskMetrics{}, fmt.Sprintf("disk check failed: %v", err)
	}

	telemetry.DiskFreeBytes.Set(float64(metrics.FreeBytes))
	if s.cfg.MinDiskFreeBytes > 0 && metrics.FreeBytes < s.cfg.MinDiskFreeBytes {
		return *metrics, fmt.Sprintf("low disk space: %d bytes free (minimum %d)", metrics.FreeBytes, s.cfg.MinDiskFreeBytes)
	}
	return *metrics, ""
}

func (s *Service) checkBackupFreshness() (domain.BackupMetrics, string) {
	observer := s.currentObserver()
	if observer == nil || s.cfg.MaxBackupAge <= 0 {
		return domain.BackupMetrics{}, ""
	}

	last := observer.LastBackup()
	metrics := domain.BackupMetrics{LastBackup: last}
	if last.IsZero() {
		// No backup yet this process lifetime; not stale until one is due.
		return metrics, ""
	}

	metrics.AgeSeconds = time.Since(last).Seconds()
	telemetry.BackupAgeSeconds.Set(metrics.AgeSeconds)
	if time.Since(last) > s.cfg.MaxBackupAge {
		return metrics, fmt.Sprintf("backup stale: last success %s ago (maximum %s)", time.Since(last).Round(time.Second), s.cfg.MaxBackupAge)
	}
	return metrics, ""
}

func (s *Service) checkSyncLag() (domain.SyncMetrics, string) {
	observer := s.currentObserver()
	if observer == nil {
		return domain.SyncMetrics{}, ""
	}

	metrics := observer.QueueStats()
	telemetry.SyncLagSeconds.Set(metrics.LagSeconds)
	if s.cfg.MaxSyncLag > 0 && metrics.LagSeconds > s.cfg.MaxSyncLag.Seconds() {
		return metrics, fmt.Sprintf("sync lag: oldest pending operation is %.0fs old (maximum %s)", metrics.LagSeconds, s.cfg.MaxSyncLag)
	}
	return metrics, ""
}

func (s *Service) currentObserver() Observer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.observer
}

// alert logs a health warning, suppressing repeats for the same category
// inside the cooldown window.
func (s *Service) alert(category, issue string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if last, ok := s.lastAlert[category]; ok && time.Since(last) < s.cfg.AlertCooldown {
		return
	}
	s.lastAlert[category] = time.Now()
	slog.Warn("health alert", "category", category, "issue", issue)
}
