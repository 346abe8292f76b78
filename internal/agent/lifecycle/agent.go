// Package lifecycle manages the installable-app flow: capturing the
// platform's install-eligibility signal, replaying the suppressed prompt
// on demand, remembering dismissals and resolving pending updates.
package lifecycle

import (
	"context"
	"strconv"
	"sync"
	"time"

	"clinsync/internal/logging"
)

// State of the install flow.
type State string

const (
	StateNotInstallable  State = "not_installable"
	StatePromptAvailable State = "prompt_available"
	StateInstalled       State = "installed"
	StateDismissed       State = "dismissed"
)

const (
	// BannerTimeout auto-dismisses an unanswered install banner.
	BannerTimeout = 10 * time.Second

	// dismissalMemory is how long a dismissal suppresses the banner on
	// subsequent eligibility signals.
	dismissalMemory = 7 * 24 * time.Hour

	dismissedAtKey = "install_banner_dismissed_at"
)

// Prompt is the captured platform install prompt, replayable on demand.
// Show blocks until the user answers and reports acceptance.
type Prompt interface {
	Show(ctx context.Context) (accepted bool, err error)
}

// Settings persists the dismissal flag across restarts. The agent backs
// it with the durable store's settings bucket.
type Settings interface {
	GetSetting(ctx context.Context, key string) ([]byte, error)
	SetSetting(ctx context.Context, key string, value []byte) error
}

// Updater applies a staged application update. SkipWaiting promotes the
// staged version; the host is expected to reload afterwards.
type Updater interface {
	SkipWaiting(ctx context.Context) error
}

// Agent is the install/update state machine. The update flag is
// orthogonal to the install state.
type Agent struct {
	settings Settings
	updater  Updater
	log      logging.Logger
	now      func() time.Time
	track    func(event string)

	mu              sync.Mutex
	state           State
	prompt          Prompt
	bannerTimer     *time.Timer
	updateAvailable bool
	bannerTimeout   time.Duration
}

// Option configures an Agent.
type Option func(*Agent)

// WithTracker registers a callback fired on install-flow events
// ("installed", "dismissed", "update_applied").
func WithTracker(fn func(event string)) Option {
	return func(a *Agent) { a.track = fn }
}

// WithBannerTimeout overrides the auto-dismiss window (used by tests).
func WithBannerTimeout(d time.Duration) Option {
	return func(a *Agent) { a.bannerTimeout = d }
}

// WithClock overrides the time source (used by tests).
func WithClock(now func() time.Time) Option {
	return func(a *Agent) { a.now = now }
}

// New returns an Agent in StateNotInstallable.
func New(settings Settings, updater Updater, log logging.Logger, opts ...Option) *Agent {
	a := &Agent{
		settings:      settings,
		updater:       updater,
		log:           log,
		now:           time.Now,
		track:         func(string) {},
		state:         StateNotInstallable,
		bannerTimeout: BannerTimeout,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// State returns the current install state.
func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// UpdateAvailable reports whether a staged update is waiting.
func (a *Agent) UpdateAvailable() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.updateAvailable
}

// HandleEligibility processes the platform's install-eligibility signal.
// The native prompt is suppressed and kept for replay. A recent dismissal
// keeps the banner hidden; the signal is dropped until the memory lapses.
func (a *Agent) HandleEligibility(ctx context.Context, prompt Prompt) {
	if a.recentlyDismissed(ctx) {
		a.log.Debug(ctx, "install banner suppressed by recent dismissal")
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state == StateInstalled {
		return
	}

	a.prompt = prompt
	a.state = StatePromptAvailable
	a.stopBannerTimerLocked()
	a.bannerTimer = time.AfterFunc(a.bannerTimeout, func() {
		a.dismiss(context.WithoutCancel(ctx), "timeout")
	})
}

// Accept replays the captured prompt. The user can still decline at the
// native prompt, which counts as a dismissal.
func (a *Agent) Accept(ctx context.Context) error {
	a.mu.Lock()
	if a.state != StatePromptAvailable || a.prompt == nil {
		a.mu.Unlock()
		return nil
	}
	prompt := a.prompt
	a.stopBannerTimerLocked()
	a.mu.Unlock()

	accepted, err := prompt.Show(ctx)
	if err != nil {
		return err
	}
	if !accepted {
		a.dismiss(ctx, "declined")
		return nil
	}

	a.mu.Lock()
	a.state = StateInstalled
	a.prompt = nil
	a.mu.Unlock()

	a.track("installed")
	a.log.Info(ctx, "app installed")
	return nil
}

// Dismiss records that the user declined the banner.
func (a *Agent) Dismiss(ctx context.Context) {
	a.dismiss(ctx, "user")
}

func (a *Agent) dismiss(ctx context.Context, reason string) {
	a.mu.Lock()
	if a.state != StatePromptAvailable {
		a.mu.Unlock()
		return
	}
	a.state = StateDismissed
	a.prompt = nil
	a.stopBannerTimerLocked()
	a.mu.Unlock()

	ts := strconv.FormatInt(a.now().UTC().UnixMilli(), 10)
	if err := a.settings.SetSetting(ctx, dismissedAtKey, []byte(ts)); err != nil {
		a.log.Warn(ctx, "failed to remember banner dismissal", "error", err)
	}

	a.track("dismissed")
	a.log.Info(ctx, "install banner dismissed", "reason", reason)
}

func (a *Agent) recentlyDismissed(ctx context.Context) bool {
	raw, err := a.settings.GetSetting(ctx, dismissedAtKey)
	if err != nil || raw == nil {
		return false
	}
	millis, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return false
	}
	return a.now().UTC().Sub(time.UnixMilli(millis)) < dismissalMemory
}

func (a *Agent) stopBannerTimerLocked() {
	if a.bannerTimer != nil {
		a.bannerTimer.Stop()
		a.bannerTimer = nil
	}
}

// NotifyUpdateAvailable flags that a new version is staged and waiting.
func (a *Agent) NotifyUpdateAvailable(ctx context.Context) {
	a.mu.Lock()
	a.updateAvailable = true
	a.mu.Unlock()
	a.log.Info(ctx, "application update available")
}

// ApplyUpdate promotes the staged version. The forced reload that follows
// is acceptable because versioned caches guarantee fresh assets on the
// next load. Returns true if an update was actually applied.
func (a *Agent) ApplyUpdate(ctx context.Context) (bool, error) {
	a.mu.Lock()
	if !a.updateAvailable {
		a.mu.Unlock()
		return false, nil
	}
	a.mu.Unlock()

	if err := a.updater.SkipWaiting(ctx); err != nil {
		return false, err
	}

	a.mu.Lock()
	a.updateAvailable = false
	a.mu.Unlock()

	a.track("update_applied")
	return true, nil
}
