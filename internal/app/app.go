// Package app assembles the attune daemon: catalog, external clients,
// fulfillment engine, and the background workers, with one shutdown
// path.
package app

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/llehouerou/attune/internal/catalog"
	"github.com/llehouerou/attune/internal/config"
	"github.com/llehouerou/attune/internal/engine"
	"github.com/llehouerou/attune/internal/enrich"
	"github.com/llehouerou/attune/internal/lastfm"
	"github.com/llehouerou/attune/internal/postprocess"
	"github.com/llehouerou/attune/internal/slskd"
	"github.com/llehouerou/attune/internal/spotify"
	"github.com/llehouerou/attune/internal/transfers"
	"github.com/llehouerou/attune/internal/watchlist"
	"github.com/llehouerou/attune/internal/wishlist"
)

const (
	watchlistSchedule = "@every 6h"
	shutdownGrace     = 5 * time.Second

	lookbackMetadataKey = "discovery_lookback_period"
)

// App owns every long-lived component of the daemon.
type App struct {
	cfg   *config.Config
	log   *slog.Logger
	store *catalog.Store

	engine   *engine.Engine
	enricher *enrich.Worker
	scanner  *watchlist.Scanner
	retrier  *wishlist.Scheduler
	cron     *cron.Cron
}

// New builds the full dependency graph from configuration.
func New() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log := newLogger(cfg.Logging)

	store, err := catalog.Open(cfg.Database.Path, cfg.Database.MaxWorkers)
	if err != nil {
		return nil, err
	}
	if err := seedMetadataDefaults(store, cfg); err != nil {
		store.Close()
		return nil, err
	}

	daemon := slskd.NewClient(cfg.Slskd.URL, cfg.Slskd.APIKey)
	provider := spotify.NewClient(cfg.Spotify.ClientID, cfg.Spotify.ClientSecret)
	similar := lastfm.New(cfg.Lastfm.APIKey, cfg.Lastfm.APISecret)

	cache := transfers.NewCache(daemon)
	processor := postprocess.New(store, cfg.Library.Root, log)

	eng := engine.New(daemon, cache, store, processor, engine.Config{
		DownloadRoot:  cfg.Slskd.DownloadPath,
		MaxConcurrent: cfg.Download.MaxConcurrent,
	}, log)

	return &App{
		cfg:      cfg,
		log:      log,
		store:    store,
		engine:   eng,
		enricher: enrich.New(store, provider, enrich.Config{}, log),
		scanner:  watchlist.New(store, provider, similar, log),
		retrier: wishlist.New(store, eng, wishlist.Config{
			Interval:  time.Duration(cfg.Wishlist.AutoIntervalSeconds) * time.Second,
			BatchSize: cfg.Wishlist.BatchSize,
		}, log),
		cron: cron.New(),
	}, nil
}

// Run starts every worker and blocks until the context is cancelled,
// then shuts down with a bounded grace period.
func (a *App) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.engine.Start(runCtx)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		a.enricher.Run(runCtx)
	}()
	go func() {
		defer wg.Done()
		a.retrier.Run(runCtx)
	}()

	if _, err := a.cron.AddFunc(watchlistSchedule, func() {
		if err := a.scanner.Run(runCtx); err != nil {
			a.log.Warn("watchlist scan failed", "error", err)
		}
	}); err != nil {
		return err
	}
	a.cron.Start()

	a.log.Info("attune started", "library", a.cfg.Library.Root)
	<-ctx.Done()
	a.log.Info("shutting down")

	cancel()
	cronDone := a.cron.Stop()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		<-cronDone.Done()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownGrace):
		a.log.Warn("shutdown grace period elapsed")
	}

	a.engine.Close()
	return a.store.Close()
}

// seedMetadataDefaults writes config-derived defaults into the metadata
// table so they become runtime-tunable. Existing values win.
func seedMetadataDefaults(store *catalog.Store, cfg *config.Config) error {
	current, err := store.GetMetadata(lookbackMetadataKey, "")
	if err != nil {
		return err
	}
	if current != "" {
		return nil
	}
	return store.SetMetadata(lookbackMetadataKey, strconv.Itoa(cfg.Metadata.LookbackDays))
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}
