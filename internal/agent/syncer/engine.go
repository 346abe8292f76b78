// Package syncer drains the local durable store against the clinic API.
// Draining is purely event-driven: it runs after a store write while
// online and on connectivity-restored, never on a timer.
package syncer

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"clinsync/internal/agent/store"
	"clinsync/internal/logging"
)

// Queue is the slice of the durable store the engine needs.
type Queue interface {
	QueryPending(ctx context.Context) ([]store.PendingRecord, error)
	MarkSynced(ctx context.Context, id string) error
}

// Dispatcher sends one pending record to its kind-specific endpoint.
type Dispatcher interface {
	DispatchRecord(ctx context.Context, rec store.PendingRecord) error
}

// DefaultItemTimeout bounds each item's HTTP dispatch so a hung request
// cannot stall the rest of the pass.
const DefaultItemTimeout = 15 * time.Second

// Engine drains pending records in priority order.
type Engine struct {
	queue       Queue
	dispatcher  Dispatcher
	log         logging.Logger
	itemTimeout time.Duration

	// draining collapses overlapping triggers into one effective pass.
	// It is a guard flag, not a lock: a trigger arriving mid-pass is
	// dropped, and the record it would have sent is picked up by the
	// next trigger.
	draining atomic.Bool

	mu        sync.Mutex
	listeners []func(Event)
}

// Option configures an Engine.
type Option func(*Engine)

// WithItemTimeout overrides the per-item dispatch deadline.
func WithItemTimeout(d time.Duration) Option {
	return func(e *Engine) { e.itemTimeout = d }
}

// New returns an Engine draining queue through dispatcher.
func New(queue Queue, dispatcher Dispatcher, log logging.Logger, opts ...Option) *Engine {
	e := &Engine{queue: queue, dispatcher: dispatcher, log: log, itemTimeout: DefaultItemTimeout}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Subscribe registers a listener for pass-level events. Listeners are
// invoked synchronously at the end of each pass.
func (e *Engine) Subscribe(fn func(Event)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = append(e.listeners, fn)
}

func (e *Engine) emit(ev Event) {
	e.mu.Lock()
	listeners := make([]func(Event), len(e.listeners))
	copy(listeners, e.listeners)
	e.mu.Unlock()

	for _, fn := range listeners {
		fn(ev)
	}
}

// Drain performs one full pass over the pending queue. Safe to call from
// multiple triggers: a call while a pass is in progress is a no-op.
//
// Records are dispatched emergency first, then high, medium, low, with
// FIFO creation-time order inside each priority. An item failure is
// logged, left pending for the next trigger and does not stop the pass;
// only a failure to read the queue itself fails the pass as a whole.
func (e *Engine) Drain(ctx context.Context) {
	if !e.draining.CompareAndSwap(false, true) {
		return
	}
	defer e.draining.Store(false)

	pending, err := e.queue.QueryPending(ctx)
	if err != nil {
		e.log.Error(ctx, "drain pass failed", "error", err)
		e.emit(SyncFailed{Err: fmt.Errorf("reading pending queue: %w", err)})
		return
	}
	if len(pending) == 0 {
		return
	}

	// QueryPending returns FIFO order; the stable sort keeps it as the
	// tie-break inside each priority.
	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].Priority.Rank() < pending[j].Priority.Rank()
	})

	results := make([]ItemResult, 0, len(pending))
	for _, rec := range pending {
		res := ItemResult{ID: rec.ID, Kind: rec.Kind}

		itemCtx, cancel := context.WithTimeout(ctx, e.itemTimeout)
		err := e.dispatcher.DispatchRecord(itemCtx, rec)
		cancel()

		if err != nil {
			e.log.Warn(ctx, "record dispatch failed, will retry on next drain",
				"id", rec.ID, "kind", rec.Kind, "error", err)
			res.Err = err
			results = append(results, res)
			continue
		}

		if err := e.queue.MarkSynced(ctx, rec.ID); err != nil {
			// The server has the record; the local flag catches up on a
			// later pass and the server dedupes by offline_id.
			e.log.Error(ctx, "failed to mark record synced", "id", rec.ID, "error", err)
			res.Err = err
		}
		results = append(results, res)
	}

	e.emit(SyncCompleted{Results: results})
}
