// factory.go implements the storage backend registry and factory, mapping
// backend type strings (local, s3, azure, gcs, drive) to constructor
// functions and dispatching New calls.
package storage

import (
	"fmt"

	"github.com/mirrorvault/mirrorvault/internal/config"
)

// FactoryFunc constructs a storage backend from the application config and
// the event sink its operations report into.
type FactoryFunc func(*config.Config, EventSink) (Provider, error)

var factories = make(map[string]FactoryFunc)

// Register registers a storage backend factory under name.
func Register(name string, factory FactoryFunc) {
	factories[name] = factory
}

// New creates the named storage backend.
func New(name string, cfg *config.Config, events EventSink) (Provider, error) {
	factory, ok := factories[name]
	if !ok {
		return nil, fmt.Errorf("unsupported storage provider: %s (must be 'local', 'azure', 's3', 'gcs', or 'drive')", name)
	}

	return factory(cfg, events)
}

// NewAll creates one backend per name in cfg.Sync.Providers, preserving
// order (the first provider is authoritative for conflict display).
func NewAll(cfg *config.Config, events EventSink) ([]Provider, error) {
	providers := make([]Provider, 0, len(cfg.Sync.Providers))
	for _, name := range cfg.Sync.Providers {
		p, err := New(name, cfg, events)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", name, err)
		}
		providers = append(providers, p)
	}
	return providers, nil
}
