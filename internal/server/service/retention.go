package service

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"clinsync/internal/dbx"
	"clinsync/internal/envelope"
	"clinsync/internal/logging"
	"clinsync/internal/server/model"
	"clinsync/internal/server/repository/postgres"
	"clinsync/internal/server/storage"
)

const (
	retentionStartupDelay  = time.Minute
	retentionSweepInterval = 24 * time.Hour
)

// Retention removes auto-delete documents whose retention period lapsed.
// A failed blob delete keeps the metadata row so the document is retried
// on the next sweep.
type Retention struct {
	db    *sql.DB
	store storage.ObjectStore
	log   logging.Logger
	now   func() time.Time

	startupDelay  time.Duration
	sweepInterval time.Duration
}

// RetentionOption configures the sweeper.
type RetentionOption func(*Retention)

// WithRetentionSchedule overrides the startup delay and interval (used
// by tests).
func WithRetentionSchedule(delay, interval time.Duration) RetentionOption {
	return func(r *Retention) {
		r.startupDelay = delay
		r.sweepInterval = interval
	}
}

// WithRetentionClock overrides the time source (used by tests).
func WithRetentionClock(now func() time.Time) RetentionOption {
	return func(r *Retention) { r.now = now }
}

// NewRetention returns the server-side retention sweeper.
func NewRetention(db *sql.DB, store storage.ObjectStore, log logging.Logger, opts ...RetentionOption) *Retention {
	r := &Retention{
		db:            db,
		store:         store,
		log:           log,
		now:           time.Now,
		startupDelay:  retentionStartupDelay,
		sweepInterval: retentionSweepInterval,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Sweep deletes every expired auto-delete document. Per-document
// failures are logged and skipped so one bad blob cannot stall the rest.
func (r *Retention) Sweep(ctx context.Context) error {
	now := r.now().UTC()

	expired, err := postgres.NewDocuments(r.db).ListExpired(ctx, now)
	if err != nil {
		return err
	}

	for _, doc := range expired {
		if err := r.store.Delete(ctx, doc.ObjectKey); err != nil {
			r.log.Warn(ctx, "retention blob delete failed, will retry next sweep", "document_id", doc.ID, "error", err)
			continue
		}

		err := dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
			if err := postgres.NewDocuments(tx).Delete(ctx, doc.ID); err != nil {
				return err
			}
			return postgres.NewAudit(tx).Append(ctx, model.AuditEntry{
				ID:         uuid.NewString(),
				DocumentID: doc.ID,
				ActorID:    "system",
				Action:     string(envelope.ActionDelete),
				Reason:     "retention policy",
				OccurredAt: now,
			})
		})
		if err != nil {
			r.log.Error(ctx, "retention row delete failed", "document_id", doc.ID, "error", err)
			continue
		}

		r.log.Info(ctx, "document removed by retention policy", "document_id", doc.ID, "category", doc.Category)
	}

	return nil
}

// Run sweeps on a fixed schedule until ctx is cancelled.
func (r *Retention) Run(ctx context.Context) {
	select {
	case <-time.After(r.startupDelay):
	case <-ctx.Done():
		return
	}

	if err := r.Sweep(ctx); err != nil {
		r.log.Error(ctx, "retention sweep failed", "error", err)
	}

	ticker := time.NewTicker(r.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := r.Sweep(ctx); err != nil {
				r.log.Error(ctx, "retention sweep failed", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}
