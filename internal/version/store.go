// Package version implements the content-addressed version history: a bbolt
// metadata store tracking items and their version ledgers, and the service
// layer enforcing the dedup, retention, and revert rules on top of it.
package version

import (
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/mirrorvault/mirrorvault/internal/domain"
)

var (
	// BoltDB bucket names
	bucketItems    = []byte("items")
	bucketVersions = []byte("versions")
)

// Store persists StorageItems and per-item version ledgers in a single bbolt
// file. All values are JSON-encoded.
type Store struct {
	db *bbolt.DB
}

// OpenStore opens (creating if needed) the bbolt database at dbPath.
func OpenStore(dbPath string) (*Store, error) {
	db, err := bbolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open metadata store: %w", err)
	}

	store := &Store{db: db}
	if err := store.initBuckets(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize buckets: %w", err)
	}

	return store, nil
}

// Close closes the database file.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) initBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketItems); err != nil {
			return fmt.Errorf("failed to create items bucket: %w", err)
		}
		if _, err := tx.CreateBucketIfNotExists(bucketVersions); err != nil {
			return fmt.Errorf("failed to create versions bucket: %w", err)
		}
		return nil
	})
}

// SaveItem stores or updates a tracked item.
func (s *Store) SaveItem(item *domain.StorageItem) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("failed to marshal item: %w", err)
		}
		if err := tx.Bucket(bucketItems).Put([]byte(item.ID), data); err != nil {
			return fmt.Errorf("failed to save item: %w", err)
		}
		return nil
	})
}

// GetItem retrieves a tracked item by ID.
func (s *Store) GetItem(id string) (*domain.StorageItem, error) {
	var item *domain.StorageItem

	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketItems).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("item %s: %w", id, domain.ErrNotFound)
		}
		item = &domain.StorageItem{}
		if err := json.Unmarshal(data, item); err != nil {
			return fmt.Errorf("failed to unmarshal item: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return item, nil
}

// ListItems returns every tracked item, tombstoned ones included.
func (s *Store) ListItems() ([]*domain.StorageItem, error) {
	var items []*domain.StorageItem

	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketItems).ForEach(func(k, v []byte) error {
			item := &domain.StorageItem{}
			if err := json.Unmarshal(v, item); err != nil {
				return fmt.Errorf("failed to unmarshal item: %w", err)
			}
			items = append(items, item)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return items, nil
}

// SaveVersionMetadata stores or updates the version ledger for an item.
func (s *Store) SaveVersionMetadata(meta *domain.VersionMetadata) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("failed to marshal version metadata: %w", err)
		}
		if err := tx.Bucket(bucketVersions).Put([]byte(meta.ItemID), data); err != nil {
			return fmt.Errorf("failed to save version metadata: %w", err)
		}
		return nil
	})
}

// GetVersionMetadata retrieves the version ledger for an item.
func (s *Store) GetVersionMetadata(itemID string) (*domain.VersionMetadata, error) {
	var meta *domain.VersionMetadata

	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketVersions).Get([]byte(itemID))
		if data == nil {
			return fmt.Errorf("version metadata for item %s: %w", itemID, domain.ErrNotFound)
		}
		meta = &domain.VersionMetadata{}
		if err := json.Unmarshal(data, meta); err != nil {
			return fmt.Errorf("failed to unmarshal version metadata: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return meta, nil
}
