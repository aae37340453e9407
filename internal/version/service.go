package version

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mirrorvault/mirrorvault/internal/config"
	"github.com/mirrorvault/mirrorvault/internal/domain"
	"github.com/mirrorvault/mirrorvault/internal/storage"
	"github.com/mirrorvault/mirrorvault/internal/telemetry"
	"github.com/mirrorvault/mirrorvault/pkg/checksum"
)

// Encryptor is the subset of the encryption service the version layer needs:
// wire-format blob encryption for version payloads at rest.
type Encryptor interface {
	EncryptFile(data []byte, password, keyID string) ([]byte, error)
	DecryptFile(blob []byte, password, keyID string) ([]byte, error)
}

// Service maintains the content-addressed version history. Version blobs live
// under versions/{itemID}/{hash} on the storage backends; the ledger lives in
// the bbolt store. Same-item operations are serialized on a per-item mutex so
// ledger read-modify-write cycles never interleave.
type Service struct {
	store     *Store
	providers map[string]storage.Provider
	primary   storage.Provider

	enc    Encryptor
	encCfg config.EncryptionConfig
	policy config.VersioningConfig
	events storage.EventSink

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewService creates the versioning service. providers must be non-empty; the
// first entry is the primary backend new version blobs are written to. enc may
// be nil when encryption is disabled.
func NewService(store *Store, providers []storage.Provider, enc Encryptor, cfg *config.Config, events storage.EventSink) (*Service, error) {
	if len(providers) == 0 {
		return nil, fmt.Errorf("versioning requires at least one storage provider: %w", domain.ErrConfiguration)
	}
	if cfg.Encryption.Enabled && enc == nil {
		return nil, fmt.Errorf("encryption enabled but no encryptor supplied: %w", domain.ErrConfiguration)
	}

	byName := make(map[string]storage.Provider, len(providers))
	for _, p := range providers {
		byName[p.Name()] = p
	}

	return &Service{
		store:     store,
		providers: byName,
		primary:   providers[0],
		enc:       enc,
		encCfg:    cfg.Encryption,
		policy:    cfg.Versioning,
		events:    events,
		locks:     make(map[string]*sync.Mutex),
	}, nil
}

// itemLock returns the mutex serializing operations on itemID.
func (s *Service) itemLock(itemID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[itemID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[itemID] = lock
	}
	return lock
}

func (s *Service) provider(name string) (storage.Provider, error) {
	p, ok := s.providers[name]
	if !ok {
		return nil, fmt.Errorf("provider %s is not enrolled: %w", name, domain.ErrConfiguration)
	}
	return p, nil
}

// versionPath is the content-addressed blob location for an item version.
func versionPath(itemID, hash string) string {
	return fmt.Sprintf("versions/%s/%s", itemID, hash)
}

// CreateVersion records a new version of item with the given plaintext
// content, uploading the blob to provider. If the item already has a version
// with the same content hash, no upload happens: the existing version is made
// current and returned (deduplication).
//
// The ledger entry is appended only after the upload fully succeeds, so a
// failed upload never leaves a version pointing at a missing blob.
func (s *Service) CreateVersion(ctx context.Context, item *domain.StorageItem, content []byte, provider storage.Provider) (*domain.Version, error) {
	lock := s.itemLock(item.ID)
	lock.Lock()
	defer lock.Unlock()

	return s.createVersionLocked(ctx, item, content, provider)
}

func (s *Service) createVersionLocked(ctx context.Context, item *domain.StorageItem, content []byte, provider storage.Provider) (*domain.Version, error) {
	hash := checksum.SHA256(content)

	meta, err := s.store.GetVersionMetadata(item.ID)
	if errors.Is(err, domain.ErrNotFound) {
		meta = &domain.VersionMetadata{ItemID: item.ID}
	} else if err != nil {
		return nil, err
	}

	// Dedup: identical content for the same item reuses the existing blob.
	for i := range meta.Versions {
		if meta.Versions[i].Hash == hash {
			existing := meta.Versions[i]
			if meta.CurrentVersion != existing.ID {
				meta.CurrentVersion = existing.ID
				if err := s.store.SaveVersionMetadata(meta); err != nil {
					return nil, err
				}
			}
			telemetry.VersionsDeduplicatedTotal.Inc()
			return &existing, nil
		}
	}

	payload := content
	if s.encCfg.Enabled {
		payload, err = s.enc.EncryptFile(content, s.encCfg.Password, s.encCfg.KeyID)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt version payload: %w", err)
		}
	}

	path := versionPath(item.ID, hash)
	if err := provider.UploadFile(ctx, path, payload); err != nil {
		return nil, fmt.Errorf("failed to upload version blob: %w", err)
	}

	now := time.Now()
	v := domain.Version{
		ID:        uuid.NewString(),
		Timestamp: now,
		Size:      int64(len(content)),
		Hash:      hash,
		Metadata: domain.VersionInfo{
			OriginalName: item.Name,
			Created:      item.Created,
			Modified:     item.Modified,
		},
		Provider:    provider.Name(),
		StoragePath: path,
	}

	meta.Versions = append(meta.Versions, v)
	meta.CurrentVersion = v.ID
	if err := s.store.SaveVersionMetadata(meta); err != nil {
		return nil, err
	}
	if err := s.store.SaveItem(item); err != nil {
		return nil, err
	}

	telemetry.VersionsCreatedTotal.Inc()
	storage.Emit(s.events, domain.EventVersionCreate, provider.Name(), item.Path, v.Size)
	return &v, nil
}

// GetVersion returns a version record and its plaintext content, downloaded
// from the backend it was stored on.
func (s *Service) GetVersion(ctx context.Context, itemID, versionID string) (*domain.Version, []byte, error) {
	meta, err := s.store.GetVersionMetadata(itemID)
	if err != nil {
		return nil, nil, err
	}

	var v *domain.Version
	for i := range meta.Versions {
		if meta.Versions[i].ID == versionID {
			v = &meta.Versions[i]
			break
		}
	}
	if v == nil {
		return nil, nil, fmt.Errorf("version %s of item %s: %w", versionID, itemID, domain.ErrNotFound)
	}

	provider, err := s.provider(v.Provider)
	if err != nil {
		return nil, nil, err
	}

	content, err := provider.DownloadFile(ctx, v.StoragePath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to download version blob: %w", err)
	}
	if s.encCfg.Enabled {
		content, err = s.enc.DecryptFile(content, s.encCfg.Password, s.encCfg.KeyID)
		if err != nil {
			return nil, nil, err
		}
	}

	return v, content, nil
}

// ListVersions returns an item's versions ordered oldest to newest.
func (s *Service) ListVersions(itemID string) ([]domain.Version, error) {
	meta, err := s.store.GetVersionMetadata(itemID)
	if err != nil {
		return nil, err
	}
	return meta.Versions, nil
}

// RevertToVersion restores a previous version's content to the item's live
// path. The current live content is snapshotted as a new version first, so a
// revert never destroys history.
func (s *Service) RevertToVersion(ctx context.Context, itemID, versionID string) error {
	lock := s.itemLock(itemID)
	lock.Lock()
	defer lock.Unlock()

	item, err := s.store.GetItem(itemID)
	if err != nil {
		return err
	}

	meta, err := s.store.GetVersionMetadata(itemID)
	if err != nil {
		return err
	}
	var target *domain.Version
	for i := range meta.Versions {
		if meta.Versions[i].ID == versionID {
			target = &meta.Versions[i]
			break
		}
	}
	if target == nil {
		return fmt.Errorf("version %s of item %s: %w", versionID, itemID, domain.ErrNotFound)
	}

	// Snapshot live content before touching it.
	live, err := os.ReadFile(item.Path)
	if err != nil {
		return fmt.Errorf("failed to read live file for snapshot: %w", err)
	}
	if _, err := s.createVersionLocked(ctx, item, live, s.primary); err != nil {
		return fmt.Errorf("failed to snapshot live content: %w", err)
	}

	_, content, err := s.GetVersion(ctx, itemID, versionID)
	if err != nil {
		return err
	}
	if err := os.WriteFile(item.Path, content, 0600); err != nil {
		return fmt.Errorf("failed to restore version content: %w", err)
	}

	// Reload: the snapshot above rewrote the ledger.
	meta, err = s.store.GetVersionMetadata(itemID)
	if err != nil {
		return err
	}
	meta.CurrentVersion = versionID
	return s.store.SaveVersionMetadata(meta)
}

// DeleteVersion removes a version record and its blob. The current version
// cannot be deleted; revert away from it first.
func (s *Service) DeleteVersion(ctx context.Context, itemID, versionID string) error {
	lock := s.itemLock(itemID)
	lock.Lock()
	defer lock.Unlock()

	meta, err := s.store.GetVersionMetadata(itemID)
	if err != nil {
		return err
	}
	if versionID == meta.CurrentVersion {
		return fmt.Errorf("version %s is the current version: %w", versionID, domain.ErrInvalidOperation)
	}

	idx := -1
	for i := range meta.Versions {
		if meta.Versions[i].ID == versionID {
			idx = i
			break
		}
	}
	if idx == -1 {
		return fmt.Errorf("version %s of item %s: %w", versionID, itemID, domain.ErrNotFound)
	}

	v := meta.Versions[idx]
	provider, err := s.provider(v.Provider)
	if err != nil {
		return err
	}
	if err := provider.DeleteFile(ctx, v.StoragePath); err != nil {
		return fmt.Errorf("failed to delete version blob: %w", err)
	}

	meta.Versions = append(meta.Versions[:idx], meta.Versions[idx+1:]...)
	return s.store.SaveVersionMetadata(meta)
}

// CleanupVersions applies the retention policy to an item: the current
// version is always retained; every other version is deleted when it is older
// than RetentionDays or falls outside the newest MaxVersions entries,
// whichever rule fires first.
func (s *Service) CleanupVersions(ctx context.Context, itemID string) error {
	lock := s.itemLock(itemID)
	lock.Lock()
	defer lock.Unlock()

	meta, err := s.store.GetVersionMetadata(itemID)
	if err != nil {
		return err
	}

	cutoff := time.Now().AddDate(0, 0, -s.policy.RetentionDays)

	// Versions are stored oldest to newest; rank counts from the newest.
	var kept []domain.Version
	var cleaned int
	total := len(meta.Versions)
	for i, v := range meta.Versions {
		rank := total - i
		expired := s.policy.RetentionDays > 0 && v.Timestamp.Before(cutoff)
		overflow := s.policy.MaxVersions > 0 && rank > s.policy.MaxVersions

		if v.ID == meta.CurrentVersion || (!expired && !overflow) {
			kept = append(kept, v)
			continue
		}

		provider, err := s.provider(v.Provider)
		if err != nil {
			return err
		}
		if err := provider.DeleteFile(ctx, v.StoragePath); err != nil {
			return fmt.Errorf("failed to delete expired version blob: %w", err)
		}
		cleaned++
	}

	if cleaned == 0 {
		return nil
	}

	meta.Versions = kept
	if err := s.store.SaveVersionMetadata(meta); err != nil {
		return err
	}
	telemetry.VersionsCleanedTotal.Add(float64(cleaned))
	return nil
}

// Store exposes the underlying metadata store for the sync layer's item
// bookkeeping.
func (s *Service) Store() *Store { return s.store }
