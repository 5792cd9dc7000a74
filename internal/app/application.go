package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"classrelay/internal/ai"
	"classrelay/internal/api"
	"classrelay/internal/archive"
	"classrelay/internal/config"
	"classrelay/internal/database"
	"classrelay/internal/dispatch"
	"classrelay/internal/lifecycle"
	"classrelay/internal/mailer"
	"classrelay/internal/membership"
	"classrelay/internal/pairing"
	"classrelay/internal/relay"
	"classrelay/internal/solo"
	"classrelay/internal/store"
	"classrelay/internal/transport"
	"classrelay/pkg/interfaces"
)

// Application wires all broker components together.
// Initialization order: store and adapters first, then the dispatch loop,
// then the domain managers, then the HTTP surface on top.
type Application struct {
	config     *config.Config
	logger     *zap.Logger
	dbManager  *database.Manager
	dispatcher *dispatch.Dispatcher
	registry   *transport.Registry
	httpServer *http.Server
}

// NewApplication builds the full component graph from configuration.
func NewApplication(cfg *config.Config, logger *zap.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	st := store.New()
	dispatcher := dispatch.New(logger)
	registry := transport.NewRegistry(logger)

	var dbManager *database.Manager
	if cfg.Database.Path != "" {
		var err error
		dbManager, err = database.NewManager(cfg.Database.Path, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize archive database: %w", err)
		}
	}

	smtpMailer := mailer.New(mailer.Config{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
	}, logger)

	// A typed nil *database.Manager must not reach the interface fields.
	var archiveStore interfaces.ArchiveStore
	if dbManager != nil {
		archiveStore = dbManager
	}

	archiveTrigger := archive.NewTrigger(smtpMailer, archiveStore, logger)

	replier := ai.NewGemini(cfg.Gemini.APIKey, cfg.Gemini.Model, logger)

	lifecycleMgr := lifecycle.NewManager(st, archiveTrigger, dispatcher, logger)
	pairingEngine := pairing.NewEngine(st, registry, logger)
	membershipMgr := membership.NewManager(st, registry, pairingEngine, logger)
	messageRelay := relay.NewRelay(st, registry, logger)
	soloEngine := solo.NewEngine(st, registry, replier, dispatcher, logger)

	wsHandler := transport.NewHandler(
		registry, dispatcher,
		lifecycleMgr, membershipMgr, pairingEngine, messageRelay, soloEngine,
		logger,
	)

	apiServer := api.NewServer(dispatcher, st, lifecycleMgr, archiveStore, registry, logger)

	mux := http.NewServeMux()
	mux.Handle("/api/", apiServer)
	mux.Handle("/health", apiServer)
	mux.Handle("/metrics", apiServer)
	mux.HandleFunc("/ws", wsHandler.HandleWebSocket)

	httpServer := &http.Server{
		Addr:         cfg.HTTP.Addr(),
		Handler:      mux,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:     cfg,
		logger:     logger,
		dbManager:  dbManager,
		dispatcher: dispatcher,
		registry:   registry,
		httpServer: httpServer,
	}, nil
}

// Start launches the dispatch loop and the HTTP server.
func (app *Application) Start(ctx context.Context) error {
	app.logger.Info("starting classrelay", zap.String("addr", app.httpServer.Addr))

	if err := app.dispatcher.Start(ctx); err != nil {
		return fmt.Errorf("failed to start dispatcher: %w", err)
	}

	serverErrCh := make(chan error, 1)
	go func() {
		if err := app.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	select {
	case err := <-serverErrCh:
		_ = app.dispatcher.Stop()
		return err
	case <-time.After(100 * time.Millisecond):
		app.logger.Info("classrelay started")
		return nil
	case <-ctx.Done():
		_ = app.dispatcher.Stop()
		return ctx.Err()
	}
}

// Stop shuts components down in reverse dependency order.
func (app *Application) Stop(ctx context.Context) error {
	app.logger.Info("shutting down classrelay")

	if err := app.httpServer.Shutdown(ctx); err != nil {
		app.logger.Warn("HTTP server shutdown error", zap.Error(err))
	}

	if err := app.dispatcher.Stop(); err != nil {
		app.logger.Warn("dispatcher shutdown error", zap.Error(err))
	}

	if app.dbManager != nil {
		if err := app.dbManager.Close(); err != nil {
			app.logger.Warn("archive database shutdown error", zap.Error(err))
		}
	}

	app.logger.Info("classrelay shutdown complete")
	return nil
}

// Addr returns the HTTP listen address.
func (app *Application) Addr() string {
	return app.httpServer.Addr
}
