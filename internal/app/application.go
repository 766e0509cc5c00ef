// Package app wires the classpulse components together and owns their
// lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"classpulse/internal/api"
	"classpulse/internal/config"
	"classpulse/internal/database"
	"classpulse/internal/grading"
	"classpulse/internal/hub"
	"classpulse/internal/metrics"
	"classpulse/internal/results"
	"classpulse/internal/session"
	"classpulse/internal/websocket"
	pkgdatabase "classpulse/pkg/database"
)

const limiterCleanupInterval = time.Minute

type Application struct {
	config     *config.Config
	dbManager  *database.Manager
	metrics    *metrics.Metrics
	registry   *websocket.Registry
	eventHub   *hub.Hub
	sessions   *session.Manager
	aggregator *results.Aggregator
	limiter    *api.RateLimiter
	apiServer  *api.Server
	httpServer *http.Server

	listener net.Listener
	cancel   context.CancelFunc
	group    *errgroup.Group
}

// NewApplication builds every component in dependency order:
// database, metrics, registry, hub, sessions, grading, results, HTTP.
func NewApplication(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	dbManager, err := openDatabase(cfg.Database)
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	registry := websocket.NewRegistry()
	m.WatchConnections(registry.GetStats)

	eventHub := hub.NewHub(registry, cfg.Fanout.BufferSize, m)

	sessions := session.NewManager(dbManager, eventHub, session.Options{
		AllowConcurrent: cfg.Session.AllowConcurrent,
		DefaultModel:    cfg.Grading.DefaultModel,
	})
	if err := sessions.LoadActiveSessions(context.Background()); err != nil {
		_ = dbManager.Close()
		return nil, fmt.Errorf("failed to load active sessions: %w", err)
	}

	grader := grading.NewService(grading.Config{
		BaseURL: cfg.Grading.BaseURL,
		APIKey:  cfg.Grading.APIKey,
		Timeout: cfg.Grading.Timeout,
	})
	aggregator := results.NewAggregator(dbManager, sessions, grader, m, results.Options{
		GradingTimeout: cfg.Grading.Timeout,
	})

	wsHandler := websocket.NewHandler(registry, sessions, websocket.Options{
		PingInterval: cfg.WebSocket.PingInterval,
		ReadTimeout:  cfg.WebSocket.ReadTimeout,
		WriteTimeout: cfg.WebSocket.WriteTimeout,
		BufferSize:   cfg.WebSocket.BufferSize,
	})
	limiter := api.NewRateLimiter(cfg.Submission.RatePerMinute, cfg.Submission.Burst)

	apiServer := api.NewServer(api.Deps{
		Sessions:       sessions,
		Results:        aggregator,
		Bank:           dbManager,
		Models:         grader,
		Presence:       registry,
		Sockets:        wsHandler,
		Database:       dbManager,
		Hub:            eventHub,
		SessionStats:   sessions,
		Metrics:        m.Handler(),
		Limiter:        limiter,
		RequestLogging: true,
	})

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      apiServer,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:     cfg,
		dbManager:  dbManager,
		metrics:    m,
		registry:   registry,
		eventHub:   eventHub,
		sessions:   sessions,
		aggregator: aggregator,
		limiter:    limiter,
		apiServer:  apiServer,
		httpServer: httpServer,
	}, nil
}

func openDatabase(cfg *config.DatabaseConfig) (*database.Manager, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbConfig := pkgdatabase.DefaultConfig()
	dbConfig.DatabasePath = cfg.Path
	dbConfig.ConnMaxLifetime = cfg.Timeout
	dbConfig.ConnMaxIdleTime = cfg.Timeout / 3
	dbConfig.WriteTimeout = cfg.Timeout

	dbManager, err := database.NewManager(dbConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database manager: %w", err)
	}

	migrations := pkgdatabase.ForConfig(dbManager.GetDB(), dbConfig)
	if err := migrations.ApplyMigrations(); err != nil {
		_ = dbManager.Close()
		return nil, fmt.Errorf("failed to apply database migrations: %w", err)
	}
	if err := migrations.ValidateSchema(); err != nil {
		_ = dbManager.Close()
		return nil, fmt.Errorf("database schema is invalid: %w", err)
	}
	log.Println("Database migrations applied successfully")

	return dbManager, nil
}

// Start runs the hub, binds the listener and serves in the background.
// It returns once the listener is bound.
func (app *Application) Start(ctx context.Context) error {
	if err := app.eventHub.Start(ctx); err != nil {
		return fmt.Errorf("failed to start event hub: %w", err)
	}

	ln, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		_ = app.eventHub.Stop()
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}
	app.listener = ln

	runCtx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		if err := app.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		app.sweepLimiter(gctx)
		return nil
	})
	app.cancel = cancel
	app.group = g

	log.Printf("classpulse listening on %s", ln.Addr())
	return nil
}

func (app *Application) sweepLimiter(ctx context.Context) {
	ticker := time.NewTicker(limiterCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			app.limiter.Cleanup()
		}
	}
}

// Wait blocks until the server stops and returns its error, if any.
func (app *Application) Wait() error {
	if app.group == nil {
		return nil
	}
	return app.group.Wait()
}

// Stop shuts down in reverse order: HTTP, background loops, hub, database.
func (app *Application) Stop(ctx context.Context) error {
	log.Printf("Shutting down classpulse")

	var errs []error
	if err := app.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
	}
	if app.cancel != nil {
		app.cancel()
		if err := app.group.Wait(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := app.eventHub.Stop(); err != nil && !errors.Is(err, hub.ErrHubNotRunning) {
		errs = append(errs, fmt.Errorf("event hub shutdown: %w", err))
	}
	if err := app.dbManager.Close(); err != nil {
		errs = append(errs, fmt.Errorf("database shutdown: %w", err))
	}

	for _, err := range errs {
		log.Printf("Shutdown error: %v", err)
	}
	log.Printf("classpulse shutdown complete")
	return errors.Join(errs...)
}

// GetAddr returns the bound address once started, the configured one before.
func (app *Application) GetAddr() string {
	if app.listener != nil {
		return app.listener.Addr().String()
	}
	return app.httpServer.Addr
}

// Handler serves the full HTTP surface without a listener.
func (app *Application) Handler() http.Handler {
	return app.apiServer
}
