// events.go defines the instrumentation contract between providers and the
// monitoring service. Every state-changing provider operation emits one
// structured event; this is the only coupling between the storage layer and
// the rest of the system.
package storage

import (
	"time"

	"github.com/mirrorvault/mirrorvault/internal/domain"
)

// EventSink receives structured storage events. Implementations must never
// return an error or panic into the caller; event delivery is fire-and-forget
// from the provider's perspective.
type EventSink interface {
	LogStorageEvent(event domain.StorageEvent)
}

// NopSink discards all events. Used by tests and one-shot tools.
type NopSink struct{}

func (NopSink) LogStorageEvent(domain.StorageEvent) {}

// Emit sends a success event to the sink, tolerating a nil sink.
func Emit(sink EventSink, eventType domain.EventType, provider, path string, size int64) {
	if sink == nil {
		return
	}
	sink.LogStorageEvent(domain.StorageEvent{
		Type:     eventType,
		Provider: provider,
		Path:     path,
		Size:     size,
		Time:     time.Now(),
	})
}

// EmitError sends an error event to the sink, tolerating a nil sink.
func EmitError(sink EventSink, provider, path string, err error) {
	if sink == nil || err == nil {
		return
	}
	sink.LogStorageEvent(domain.StorageEvent{
		Type:     domain.EventError,
		Provider: provider,
		Path:     path,
		Error:    err.Error(),
		Time:     time.Now(),
	})
}
