package syncer

import "clinsync/internal/agent/store"

// Event is a pass-level notification delivered to subscribers.
type Event interface {
	event()
}

// ItemResult is the outcome of one record's dispatch within a pass.
type ItemResult struct {
	ID   string
	Kind store.RecordKind
	Err  error
}

// Synced reports whether the item made it to the server.
func (r ItemResult) Synced() bool { return r.Err == nil }

// SyncCompleted is emitted after a full pass, successful or not per item.
type SyncCompleted struct {
	Results []ItemResult
}

// SyncFailed is emitted when the pass itself could not run.
type SyncFailed struct {
	Err error
}

func (SyncCompleted) event() {}
func (SyncFailed) event()    {}
