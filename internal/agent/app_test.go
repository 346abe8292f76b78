package agent

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"clinsync/internal/agent/config"
	"clinsync/internal/logging"
)

func testLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func testConfig(t *testing.T, baseURL string) *config.Config {
	t.Helper()
	return &config.Config{
		APIBaseURL:          baseURL,
		DatabasePath:        filepath.Join(t.TempDir(), "portal.db"),
		PatientID:           "pat-42",
		OnlineCheckInterval: 10 * time.Millisecond,
	}
}

func TestLoadOrCreateSalt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "portal.db.salt")

	first, err := loadOrCreateSalt(path)
	require.NoError(t, err)
	assert.Len(t, first, storeSaltLen)

	// Second call reads the persisted salt back unchanged.
	second, err := loadOrCreateSalt(path)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestLoadOrCreateSalt_ReplacesTruncatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "portal.db.salt")
	require.NoError(t, os.WriteFile(path, []byte("short"), 0o600))

	salt, err := loadOrCreateSalt(path)
	require.NoError(t, err)
	assert.Len(t, salt, storeSaltLen)
}

func TestSettingsTokenSource_ReadsFreshValue(t *testing.T) {
	ctx := context.Background()
	app, err := NewApp(ctx, testConfig(t, "http://127.0.0.1:1"), []byte("pass"), testLogger())
	require.NoError(t, err)
	defer app.Store().Close()

	ts := &settingsTokenSource{settings: app.Store()}

	tok, err := ts.Token(ctx)
	require.NoError(t, err)
	assert.Empty(t, tok)

	require.NoError(t, app.Store().SetSetting(ctx, authTokenKey, []byte("jwt-1")))
	tok, err = ts.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "jwt-1", tok)
}

func TestNewApp_StartsOffline(t *testing.T) {
	app, err := NewApp(context.Background(), testConfig(t, "http://127.0.0.1:1"), []byte("pass"), testLogger())
	require.NoError(t, err)
	defer app.Store().Close()

	assert.Equal(t, ModeOffline, app.Mode())
	assert.NotNil(t, app.HTTPClient())
	assert.NotNil(t, app.Lifecycle())
	assert.NotNil(t, app.Engine())
}

func TestWatchOnlineStatus_Transitions(t *testing.T) {
	var healthy atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/health" || !healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	app, err := NewApp(context.Background(), testConfig(t, srv.URL), []byte("pass"), testLogger())
	require.NoError(t, err)
	defer app.Store().Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go app.watchOnlineStatus(ctx, 10*time.Millisecond)

	healthy.Store(true)
	require.Eventually(t, func() bool { return app.Mode() == ModeOnline },
		2*time.Second, 5*time.Millisecond)

	healthy.Store(false)
	require.Eventually(t, func() bool { return app.Mode() == ModeOffline },
		2*time.Second, 5*time.Millisecond)
}

func TestRun_StopsOnCancelAndClosesStore(t *testing.T) {
	app, err := NewApp(context.Background(), testConfig(t, "http://127.0.0.1:1"), []byte("pass"), testLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on cancel")
	}

	// The store is closed after Run returns.
	_, err = app.Store().GetSetting(context.Background(), "anything")
	require.Error(t, err)
}
