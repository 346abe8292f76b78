// Package server initializes and runs the clinic API server. It wires
// the database, object storage and services, starts the HTTP listener
// and the retention sweeper, and handles graceful shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"clinsync/internal/logging"
	"clinsync/internal/server/api"
	"clinsync/internal/server/config"
	"clinsync/internal/server/repository/postgres"
	"clinsync/internal/server/service"
	"clinsync/internal/server/storage"
)

const shutdownTimeout = 10 * time.Second

type App struct {
	config    *config.Config
	logger    logging.Logger
	server    *http.Server
	retention *service.Retention
	closeDB   func() error
}

// NewApp connects to the database and object storage and assembles the
// full service and handler stack.
func NewApp(ctx context.Context, cfg *config.Config, logger logging.Logger) (*App, error) {
	db, err := postgres.NewDB(ctx, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	store, err := storage.NewClient(ctx, cfg.Storage)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("object storage init error: %w", err)
	}

	records := service.NewRecords(db, logger)
	documents := service.NewDocuments(db, store, logger)
	retention := service.NewRetention(db, store, logger)
	audit := postgres.NewAudit(db)

	handlers := api.NewHandlers(records, documents, audit, logger)
	router, err := api.NewRouter(handlers, []byte(cfg.JWT.Secret), prometheus.NewRegistry(), logger)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("router init error: %w", err)
	}

	return &App{
		config:    cfg,
		logger:    logger,
		server:    &http.Server{Addr: cfg.Addr, Handler: router},
		retention: retention,
		closeDB:   db.Close,
	}, nil
}

// Run serves HTTP and runs the retention sweeper until ctx is
// cancelled, then shuts the listener down gracefully.
func (app *App) Run(ctx context.Context) error {
	app.logger.Info(ctx, "starting clinic API server", "addr", app.config.Addr)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.retention.Run(ctx)
	}()

	errCh := make(chan error, 1)
	go func() {
		if err := app.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		app.logger.Error(ctx, "http server failed", "error", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := app.server.Shutdown(shutdownCtx); err != nil {
		app.logger.Error(shutdownCtx, "shutdown error", "error", err)
	}

	wg.Wait()

	if err := app.closeDB(); err != nil {
		app.logger.Error(shutdownCtx, "db close error", "error", err)
	}

	app.logger.Info(shutdownCtx, "server stopped")
	return runErr
}
