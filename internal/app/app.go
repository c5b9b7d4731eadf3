package app

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"feedwatcher/internal/archive"
	"feedwatcher/internal/broadcast"
	"feedwatcher/internal/config"
	"feedwatcher/internal/encryption"
	"feedwatcher/internal/server"
	"feedwatcher/internal/source"
	"feedwatcher/internal/store"
	"feedwatcher/internal/watcher"
)

// eventBuffer is how many progress events a slow stream listener may lag behind.
const eventBuffer = 32

// App is the application layer between the CLI and the engine.
// It constructs all dependencies from config and releases them on Close.
type App struct {
	cfg     *config.Config
	base    watcher.Store
	store   *store.Observed
	repo    *watcher.Repository
	session *source.CookieSession
	engine  *watcher.Engine
	hub     *broadcast.Hub
	server  *server.Server
	logger  *slogAdapter
	logFile *os.File
}

// New creates a fully wired App from the given config.
// component names the CLI command being run and tags every log line.
// The caller must call Close when done.
func New(ctx context.Context, cfg *config.Config, component string) (*App, error) {
	if cfg.Source.Type != "graph" {
		return nil, fmt.Errorf("unknown source type: %s", cfg.Source.Type)
	}

	slogger, logFile, err := newLogger(cfg.LogDir, component, cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: slogger}

	base, err := store.NewStoreFromConfig(cfg.Store)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("creating store: %w", err)
	}

	sealer, err := encryption.NewSealerFromConfig(cfg.Encryption)
	if err != nil {
		base.Close()
		logFile.Close()
		return nil, fmt.Errorf("creating sealer: %w", err)
	}

	timeout := time.Duration(cfg.Worker.RequestTimeoutSeconds) * time.Second
	arch, err := archive.NewArchiveFromConfig(ctx, cfg.Archive, timeout)
	if err != nil {
		base.Close()
		logFile.Close()
		return nil, fmt.Errorf("creating archive: %w", err)
	}

	clock := watcher.RealClock{}
	observed := store.NewObserved(base)
	repo := watcher.NewRepository(observed, sealer, clock, watcher.UUIDGenerator{})
	session := source.NewCookieSession(cfg.Source.CookiesPath, cfg.Source.TokenPath, clock)
	graph := source.NewGraphClient(cfg.Source.BaseURL, cfg.Source.APIVersion, session, timeout)
	hub := broadcast.NewHub(eventBuffer)

	opts := watcher.Options{
		TickPeriod:     time.Duration(cfg.Worker.TickSeconds) * time.Second,
		StartupDelay:   time.Duration(cfg.Worker.StartupDelaySeconds) * time.Second,
		ScanPageSize:   cfg.Worker.ScanPageSize,
		DatePageSize:   cfg.Worker.DatePageSize,
		RequestTimeout: timeout,
		CommitAuthor:   watcher.CommitIdentity{Name: cfg.Archive.AuthorName, Email: cfg.Archive.AuthorEmail},
	}
	engine := watcher.NewEngine(repo, session, graph, arch, hub, logger, clock, opts)

	return &App{
		cfg:     cfg,
		base:    base,
		store:   observed,
		repo:    repo,
		session: session,
		engine:  engine,
		hub:     hub,
		server:  server.New(engine, repo, hub, logger),
		logger:  logger,
		logFile: logFile,
	}, nil
}

// Engine returns the polling engine.
func (a *App) Engine() *watcher.Engine { return a.engine }

// Repository returns the feed and post repository.
func (a *App) Repository() *watcher.Repository { return a.repo }

// Session returns the feed source session.
func (a *App) Session() *source.CookieSession { return a.session }

// Run starts the engine and serves the HTTP boundary until ctx is done,
// then shuts the engine down.
func (a *App) Run(ctx context.Context) error {
	if err := a.engine.Initialize(ctx); err != nil {
		return fmt.Errorf("starting engine: %w", err)
	}

	changes, stopWatch := a.store.Watch(watcher.KeyFeeds)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for raw := range changes {
			a.engine.FeedsChanged(ctx, raw)
		}
	}()

	serveErr := a.server.ListenAndServe(ctx, a.cfg.Server.Listen)

	stopWatch()
	wg.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.engine.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("engine shutdown", "error", err)
		if serveErr == nil {
			serveErr = err
		}
	}
	return serveErr
}

// Snapshot copies the store to destPath. Only the sqlite store supports it.
func (a *App) Snapshot(destPath string) error {
	s, ok := a.base.(*store.SQLiteStore)
	if !ok {
		return fmt.Errorf("snapshots need the sqlite store, configured store is %q", a.cfg.Store.Type)
	}
	if err := s.BackupTo(destPath); err != nil {
		return fmt.Errorf("snapshotting store: %w", err)
	}
	a.logger.Info("store snapshot written", "path", destPath)
	return nil
}

// Close releases the store and the log file.
func (a *App) Close() error {
	var firstErr error
	if err := a.store.Close(); err != nil {
		firstErr = fmt.Errorf("closing store: %w", err)
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}
