// Package agent wires the portal agent together: the durable store, the
// sync engine, the clinic API client, the retention sweeper, the install
// lifecycle and the caching gateway. It owns the online-status watcher
// that flips the agent between online and offline mode and kicks a drain
// when connectivity comes back.
package agent

import (
	"context"
	"crypto/sha256"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"golang.org/x/crypto/pbkdf2"

	"clinsync/internal/agent/apiclient"
	"clinsync/internal/agent/config"
	"clinsync/internal/agent/gateway"
	"clinsync/internal/agent/lifecycle"
	"clinsync/internal/agent/retention"
	"clinsync/internal/agent/store"
	"clinsync/internal/agent/syncer"
	"clinsync/internal/common"
	"clinsync/internal/logging"
)

// Mode of the agent with respect to backend reachability.
type Mode string

const (
	ModeOffline Mode = "offline"
	ModeOnline  Mode = "online"
)

const (
	// storeKeyIterations is the PBKDF2 cost for the local-store key.
	storeKeyIterations = 100_000
	storeKeyLen        = 32
	storeSaltLen       = 16

	authTokenKey = "auth_token"

	pingTimeout = 3 * time.Second
)

// settingsTokenSource reads the bearer token from the store's settings
// bucket on every request, so a re-login takes effect without a restart.
type settingsTokenSource struct {
	settings interface {
		GetSetting(ctx context.Context, key string) ([]byte, error)
	}
}

func (s *settingsTokenSource) Token(ctx context.Context) (string, error) {
	raw, err := s.settings.GetSetting(ctx, authTokenKey)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// noopUpdater is the default Updater when the host platform has not
// registered one.
type noopUpdater struct{}

func (noopUpdater) SkipWaiting(context.Context) error { return nil }

// App is the assembled portal agent.
type App struct {
	cfg       *config.Config
	store     *store.Store
	engine    *syncer.Engine
	api       *apiclient.Client
	sweeper   *retention.Sweeper
	lifecycle *lifecycle.Agent
	transport *gateway.Transport
	log       logging.Logger

	mu   sync.Mutex
	mode Mode
}

// Option configures the App.
type Option func(*appOptions)

type appOptions struct {
	updater lifecycle.Updater
}

// WithUpdater registers the platform hook that promotes a staged update.
func WithUpdater(u lifecycle.Updater) Option {
	return func(o *appOptions) { o.updater = u }
}

// NewApp opens the local store with a key derived from passphrase and
// wires every component. The per-database salt lives in a sidecar file
// next to the database and is created on first run.
func NewApp(ctx context.Context, cfg *config.Config, passphrase []byte, log logging.Logger, opts ...Option) (*App, error) {
	o := &appOptions{updater: noopUpdater{}}
	for _, opt := range opts {
		opt(o)
	}

	salt, err := loadOrCreateSalt(cfg.DatabasePath + ".salt")
	if err != nil {
		return nil, fmt.Errorf("store salt: %w", err)
	}
	key := pbkdf2.Key(passphrase, salt, storeKeyIterations, storeKeyLen, sha256.New)

	cipher, err := store.NewAESCipher(key)
	if err != nil {
		return nil, fmt.Errorf("store cipher: %w", err)
	}

	st, err := store.Open(ctx, cfg.DatabasePath, cfg.PatientID, cipher, log)
	if err != nil {
		return nil, err
	}

	api := apiclient.New(cfg.APIBaseURL, &settingsTokenSource{settings: st}, log)
	engine := syncer.New(st, api, log)

	app := &App{
		cfg:       cfg,
		store:     st,
		engine:    engine,
		api:       api,
		sweeper:   retention.New(st, log),
		lifecycle: lifecycle.New(st, o.updater, log),
		transport: gateway.New(nil, st, st, log),
		log:       log,
		mode:      ModeOffline,
	}

	// A store write while online kicks an immediate drain.
	st.SetDrainTrigger(
		func() bool { return app.Mode() == ModeOnline },
		func() { engine.Drain(context.WithoutCancel(ctx)) },
	)

	return app, nil
}

// Store exposes the durable store for direct reads and writes.
func (a *App) Store() *store.Store { return a.store }

// Engine exposes the sync engine, e.g. to subscribe to pass events.
func (a *App) Engine() *syncer.Engine { return a.engine }

// API exposes the clinic API client.
func (a *App) API() *apiclient.Client { return a.api }

// Lifecycle exposes the install/update state machine.
func (a *App) Lifecycle() *lifecycle.Agent { return a.lifecycle }

// HTTPClient returns a client routing through the caching gateway.
func (a *App) HTTPClient() *http.Client {
	return &http.Client{Transport: a.transport}
}

// Mode returns the current reachability mode.
func (a *App) Mode() Mode {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mode
}

func (a *App) setMode(ctx context.Context, mode Mode) {
	a.mu.Lock()
	changed := a.mode != mode
	a.mode = mode
	a.mu.Unlock()

	if changed {
		a.log.Info(ctx, "switched mode", "mode", string(mode))
	}
}

// Run starts the background loops and blocks until ctx is cancelled.
// The store is closed on the way out.
func (a *App) Run(ctx context.Context) error {
	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		a.sweeper.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		a.watchOnlineStatus(ctx, a.cfg.OnlineCheckInterval)
	}()

	<-ctx.Done()
	wg.Wait()

	return a.store.Close()
}

// watchOnlineStatus probes the backend on a fixed interval. An
// offline-to-online transition drains the pending queue.
func (a *App) watchOnlineStatus(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), pingTimeout)
			err := a.api.Ping(pingCtx)
			cancel()

			if err != nil {
				a.setMode(ctx, ModeOffline)
				continue
			}

			wasOffline := a.Mode() == ModeOffline
			a.setMode(ctx, ModeOnline)
			if wasOffline {
				go a.engine.Drain(context.WithoutCancel(ctx))
			}

		case <-ctx.Done():
			return
		}
	}
}

// loadOrCreateSalt reads the key-derivation salt from path, generating
// and persisting a fresh one on first run.
func loadOrCreateSalt(path string) ([]byte, error) {
	salt, err := os.ReadFile(path)
	if err == nil && len(salt) == storeSaltLen {
		return salt, nil
	}
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	salt = common.GenerateRandByteArray(storeSaltLen)
	if err := os.WriteFile(path, salt, 0o600); err != nil {
		return nil, err
	}
	return salt, nil
}
