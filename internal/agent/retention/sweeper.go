// Package retention purges local records older than the legal 30-day
// device-cache ceiling. The sweep is unconditional: an unsynced record
// past the window is discarded too, so sync must happen well inside it.
// Server-held documents have their own, category-specific retention and
// are not this sweeper's concern.
package retention

import (
	"context"
	"time"

	"clinsync/internal/logging"
)

// RetentionWindow is the local-cache legal ceiling.
const RetentionWindow = 30 * 24 * time.Hour

const (
	// startupDelay keeps the first sweep off the critical startup path.
	startupDelay = 10 * time.Second
	// sweepInterval is the steady-state cadence.
	sweepInterval = 24 * time.Hour
)

// Purger is the slice of the durable store the sweeper needs.
type Purger interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Sweeper deletes expired local records on a fixed schedule.
type Sweeper struct {
	purger Purger
	log    logging.Logger
	now    func() time.Time

	startupDelay time.Duration
	interval     time.Duration
}

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithSchedule overrides the startup delay and interval (used by tests).
func WithSchedule(delay, interval time.Duration) Option {
	return func(s *Sweeper) {
		s.startupDelay = delay
		s.interval = interval
	}
}

// WithClock overrides the time source (used by tests).
func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) { s.now = now }
}

// New returns a Sweeper over the given purger.
func New(purger Purger, log logging.Logger, opts ...Option) *Sweeper {
	s := &Sweeper{
		purger:       purger,
		log:          log,
		now:          time.Now,
		startupDelay: startupDelay,
		interval:     sweepInterval,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Sweep runs one purge pass.
func (s *Sweeper) Sweep(ctx context.Context) error {
	cutoff := s.now().UTC().Add(-RetentionWindow)
	removed, err := s.purger.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		s.log.Error(ctx, "retention sweep failed", "error", err)
		return err
	}
	if removed > 0 {
		s.log.Info(ctx, "retention sweep removed expired local records", "removed", removed, "cutoff", cutoff)
	}
	return nil
}

// Run sweeps once after a short delay, then on the fixed interval, until
// ctx is cancelled. Sweep errors are logged and do not stop the loop.
func (s *Sweeper) Run(ctx context.Context) {
	select {
	case <-time.After(s.startupDelay):
	case <-ctx.Done():
		return
	}

	_ = s.Sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = s.Sweep(ctx)
		case <-ctx.Done():
			return
		}
	}
}
