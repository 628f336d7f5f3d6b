package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"dlshelf/internal/api"
	"dlshelf/internal/config"
	"dlshelf/internal/fetch"
	"dlshelf/internal/images"
	"dlshelf/internal/launcher"
	"dlshelf/internal/library"
	"dlshelf/internal/resolver"
	"dlshelf/internal/server"
	"dlshelf/internal/session"
	"dlshelf/internal/store"
	"dlshelf/internal/watcher"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger := setupLogger(cfg.Logging)

	logger.Info().
		Str("version", api.Version).
		Msg("starting dlshelf")

	// Stores
	cache, err := store.OpenCache(cfg.Data.CachePath, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open cache store")
	}
	settings, err := store.OpenSettings(cfg.Data.SettingsPath, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open settings store")
	}
	sessions, err := store.OpenSessions(cfg.Data.SessionsPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open session store")
	}
	defer sessions.Close()

	// Core services
	scanner := library.NewScanner(logger)
	fetcher := setupFetcher(cfg.Fetch, logger)
	downloader := images.NewDownloader(cfg.Data.ImageCacheDir, nil, logger)
	imageServe, err := images.NewServer(cfg.Data.ImageCacheDir, cfg.Data.ImageCacheItems, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init image server")
	}

	res := resolver.New(scanner, cache, sessions, fetcher, downloader, imageServe, logger)
	recorder := session.NewRecorder(cache, sessions, logger)
	launch := launcher.New(recorder, logger)

	handler := api.NewHandler(cache, settings, sessions, scanner, res, recorder, launch, imageServe, logger)
	srv := server.New(cfg, logger, handler)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runCycle := func() {
		s := settings.Get()
		if s.DestinationFolder == "" {
			return
		}
		_, err := res.Cycle(ctx, s.DestinationFolder, s.Language)
		if err != nil && !errors.Is(err, resolver.ErrScanInProgress) {
			logger.Error().Err(err).Msg("scan cycle failed")
		}
	}

	refresh := newRefresher(runCycle, logger)
	libWatch := newWatchManager(cfg.Watcher, runCycle, logger)

	// Re-arm the refresh timer and the library watcher whenever settings
	// change; there is never more than one live timer or watcher.
	handler.SetSettingsChangedHook(func(s store.Settings) {
		refresh.Reset(s.RefreshRate)
		libWatch.Watch(s.DestinationFolder)
	})

	initial := settings.Get()
	refresh.Reset(initial.RefreshRate)
	libWatch.Watch(initial.DestinationFolder)

	// Initial scan if a library folder is configured
	if initial.DestinationFolder != "" {
		go func() {
			logger.Info().
				Str("path", initial.DestinationFolder).
				Msg("starting initial library scan")
			runCycle()
		}()
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		logger.Info().Msg("received shutdown signal")
		cancel()
		refresh.Stop()
		libWatch.Stop()

		if err := srv.Shutdown(context.Background()); err != nil {
			logger.Error().Err(err).Msg("shutdown error")
		}
	}()

	if err := srv.Start(); err != nil {
		logger.Error().Err(err).Msg("server error")
	}

	logger.Info().Msg("server stopped")
}

func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	zerolog.SetGlobalLevel(level)

	if cfg.Pretty {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
			With().
			Timestamp().
			Logger()
	}

	return zerolog.New(os.Stdout).
		With().
		Timestamp().
		Logger()
}

func setupFetcher(cfg config.FetchConfig, logger zerolog.Logger) fetch.Fetcher {
	if cfg.Mode == "command" && cfg.Command != "" {
		cmd := fetch.NewCommand(cfg.Command, logger)
		if !cmd.IsAvailable() {
			logger.Warn().Str("command", cfg.Command).
				Msg("fetch command not found, metadata fetches will fail until it exists")
		}
		return cmd
	}
	return fetch.NewDLsite(nil, logger)
}

// refresher owns the auto-refresh ticker. Reset replaces the ticker
// wholesale; an interval of zero disables it.
type refresher struct {
	trigger func()
	logger  zerolog.Logger

	mu   sync.Mutex
	stop chan struct{}
}

func newRefresher(trigger func(), logger zerolog.Logger) *refresher {
	return &refresher{trigger: trigger, logger: logger}
}

func (r *refresher) Reset(minutes int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stop != nil {
		close(r.stop)
		r.stop = nil
	}
	if minutes <= 0 {
		r.logger.Info().Msg("auto-refresh disabled")
		return
	}

	stop := make(chan struct{})
	r.stop = stop
	interval := time.Duration(minutes) * time.Minute

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				r.trigger()
			}
		}
	}()

	r.logger.Info().Int("minutes", minutes).Msg("auto-refresh armed")
}

func (r *refresher) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stop != nil {
		close(r.stop)
		r.stop = nil
	}
}

// watchManager keeps at most one live filesystem watcher, re-pointed when
// the library folder setting changes.
type watchManager struct {
	cfg     config.WatcherConfig
	trigger func()
	logger  zerolog.Logger

	mu      sync.Mutex
	current *watcher.Watcher
	root    string
}

func newWatchManager(cfg config.WatcherConfig, trigger func(), logger zerolog.Logger) *watchManager {
	return &watchManager{cfg: cfg, trigger: trigger, logger: logger}
}

func (m *watchManager) Watch(root string) {
	if !m.cfg.Enabled {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if root == m.root {
		return
	}
	if m.current != nil {
		m.current.Stop()
		m.current = nil
	}
	m.root = root
	if root == "" {
		return
	}

	w, err := watcher.New(root, m.cfg.Debounce, m.trigger, m.logger)
	if err != nil {
		m.logger.Warn().Err(err).Str("root", root).Msg("library watcher unavailable")
		return
	}
	w.Start()
	m.current = w
	m.logger.Info().Str("root", root).Msg("library watcher started")
}

func (m *watchManager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil {
		m.current.Stop()
		m.current = nil
	}
}
