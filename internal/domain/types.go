// Package domain holds the data model shared across the sync engine: tracked
// items, content-addressed versions, storage events, and health reports. It
// has no dependencies on the service packages so any layer can import it.
package domain

import "time"

// ItemType distinguishes files from directories in the item index.
type ItemType string

const (
	ItemTypeFile      ItemType = "file"
	ItemTypeDirectory ItemType = "directory"
)

// SyncStatus is the per-item synchronization state.
type SyncStatus string

const (
	SyncStatusSynced  SyncStatus = "synced"
	SyncStatusPending SyncStatus = "pending"
	SyncStatusFailed  SyncStatus = "failed"
)

// BackupStatus is the per-item backup state.
type BackupStatus string

const (
	BackupStatusBackedUp BackupStatus = "backed-up"
	BackupStatusPending  BackupStatus = "pending"
	BackupStatusFailed   BackupStatus = "failed"
)

// StorageItem is one logical file tracked across providers. Identity is
// path-derived (UUIDv5 of the relative path), not provider-derived, so the
// same file maps to the same item on every backend.
type StorageItem struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Path         string            `json:"path"`
	Type         ItemType          `json:"type"`
	Size         int64             `json:"size"`
	Created      time.Time         `json:"created"`
	Modified     time.Time         `json:"modified"`
	Accessed     time.Time         `json:"accessed"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	Providers    []string          `json:"providers"`
	SyncStatus   SyncStatus        `json:"sync_status"`
	BackupStatus BackupStatus      `json:"backup_status"`
	// Deleted marks a tombstoned item: the local file was removed and the
	// delete has been propagated to every enrolled provider.
	Deleted bool `json:"deleted,omitempty"`
}

// VersionInfo carries the original file attributes captured when a version
// was created.
type VersionInfo struct {
	OriginalName string    `json:"original_name"`
	MimeType     string    `json:"mime_type,omitempty"`
	Created      time.Time `json:"created"`
	Modified     time.Time `json:"modified"`
}

// Version is one immutable, content-addressed snapshot of an item. StoragePath
// is always versions/{itemID}/{hash}, so identical content for the same item
// never produces a duplicate blob.
type Version struct {
	ID          string      `json:"id"`
	Timestamp   time.Time   `json:"timestamp"`
	Size        int64       `json:"size"`
	Hash        string      `json:"hash"`
	Metadata    VersionInfo `json:"metadata"`
	Provider    string      `json:"provider"`
	StoragePath string      `json:"storage_path"`
}

// VersionMetadata is the per-item version ledger, ordered oldest to newest.
// CurrentVersion always refers to an entry present in Versions.
type VersionMetadata struct {
	ItemID         string    `json:"item_id"`
	Versions       []Version `json:"versions"`
	CurrentVersion string    `json:"current_version"`
}

// TotalVersions returns the number of recorded versions.
func (m *VersionMetadata) TotalVersions() int { return len(m.Versions) }

// OldestVersion returns the first recorded version, or nil if none exist.
func (m *VersionMetadata) OldestVersion() *Version {
	if len(m.Versions) == 0 {
		return nil
	}
	return &m.Versions[0]
}

// LatestVersion returns the most recently recorded version, or nil.
func (m *VersionMetadata) LatestVersion() *Version {
	if len(m.Versions) == 0 {
		return nil
	}
	return &m.Versions[len(m.Versions)-1]
}

// Current returns the version CurrentVersion points at, or nil.
func (m *VersionMetadata) Current() *Version {
	for i := range m.Versions {
		if m.Versions[i].ID == m.CurrentVersion {
			return &m.Versions[i]
		}
	}
	return nil
}

// EventType identifies a structured storage event.
type EventType string

const (
	EventFileUpload    EventType = "FileUpload"
	EventFileDownload  EventType = "FileDownload"
	EventFileDelete    EventType = "FileDelete"
	EventVersionCreate EventType = "VersionCreate"
	EventSyncFailed    EventType = "SyncFailed"
	EventError         EventType = "Error"
)

// StorageEvent is the sole instrumentation contract between the provider and
// sync layers and the monitoring service.
type StorageEvent struct {
	Type     EventType `json:"type"`
	Provider string    `json:"provider,omitempty"`
	Path     string    `json:"path,omitempty"`
	Size     int64     `json:"size,omitempty"`
	Error    string    `json:"error,omitempty"`
	Time     time.Time `json:"time"`
}

// HealthStatus is the aggregated storage health level.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// DiskMetrics reports local disk capacity for the watched volume.
type DiskMetrics struct {
	TotalBytes int64 `json:"total_bytes"`
	FreeBytes  int64 `json:"free_bytes"`
}

// BackupMetrics reports backup freshness.
type BackupMetrics struct {
	LastBackup time.Time `json:"last_backup"`
	AgeSeconds float64   `json:"age_seconds"`
}

// SyncMetrics reports sync queue pressure.
type SyncMetrics struct {
	PendingPaths int     `json:"pending_paths"`
	FailedPaths  int     `json:"failed_paths"`
	LagSeconds   float64 `json:"lag_seconds"`
}

// HealthMetrics groups the raw observations behind a health report.
type HealthMetrics struct {
	DiskSpace DiskMetrics   `json:"disk_space"`
	Backups   BackupMetrics `json:"backups"`
	Sync      SyncMetrics   `json:"sync"`
}

// StorageHealth is the aggregated health report polled by the external
// process-health collaborator. Status is unhealthy iff two or more
// independent issue categories are simultaneously active; a single category
// yields degraded.
type StorageHealth struct {
	Status  HealthStatus  `json:"status"`
	Issues  []string      `json:"issues"`
	Metrics HealthMetrics `json:"metrics"`
}
