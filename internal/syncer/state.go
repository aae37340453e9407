package syncer

import "time"

// pathState is the per-path position in the sync state machine:
//
//	Idle → PendingDebounce → Uploading → (Synced | Retrying → Uploading | Failed)
//
// Transitions out of PendingDebounce happen on debounce expiry; deletes skip
// the debounce and go straight to Uploading.
type pathState string

const (
	stateIdle            pathState = "idle"
	statePendingDebounce pathState = "pending-debounce"
	stateUploading       pathState = "uploading"
	stateRetrying        pathState = "retrying"
	stateSynced          pathState = "synced"
	stateFailed          pathState = "failed"
)

// pathEntry is the tracked state for one watched path. Guarded by the
// service mutex.
type pathEntry struct {
	state pathState
	timer *time.Timer

	// deleted records that the most recent event was a remove or rename, so
	// the dispatched operation propagates a delete instead of an upload.
	deleted bool

	// busy is set while an upload/delete operation for this path is in
	// flight. Same-path operations are strictly serialized: events arriving
	// while busy set rerun instead of dispatching concurrently.
	busy  bool
	rerun bool

	// pendingSince is when the path last entered PendingDebounce, feeding the
	// sync-lag health observation.
	pendingSince time.Time
}
