// Package app assembles the alert pipeline from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jonboulle/clockwork"

	kafkaadapter "github.com/couchcryptid/quake-alert-service/internal/adapter/kafka"
	"github.com/couchcryptid/quake-alert-service/internal/adapter/mapbox"
	"github.com/couchcryptid/quake-alert-service/internal/adapter/memory"
	"github.com/couchcryptid/quake-alert-service/internal/adapter/news"
	"github.com/couchcryptid/quake-alert-service/internal/adapter/p2pquake"
	"github.com/couchcryptid/quake-alert-service/internal/adapter/postgres"
	redisadapter "github.com/couchcryptid/quake-alert-service/internal/adapter/redis"
	"github.com/couchcryptid/quake-alert-service/internal/adapter/telegram"
	"github.com/couchcryptid/quake-alert-service/internal/config"
	"github.com/couchcryptid/quake-alert-service/internal/domain"
	"github.com/couchcryptid/quake-alert-service/internal/observability"
	"github.com/couchcryptid/quake-alert-service/internal/pipeline"
)

// App is a wired pipeline plus the resources it holds open.
type App struct {
	Pipeline *pipeline.Pipeline
	closers  []func() error
}

// Build connects every backing store named in cfg and returns the pipeline.
// On error, resources opened so far are released.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) (_ *App, err error) {
	a := &App{}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	classifier, err := domain.NewClassifier(cfg.MinLocalShindo, cfg.MinGlobalShindo)
	if err != nil {
		return nil, err
	}

	var directory pipeline.Directory
	if cfg.DatabaseURL != "" {
		pool, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error { pool.Close(); return nil })
		if err := postgres.RunMigrations(ctx, pool); err != nil {
			return nil, err
		}
		directory = postgres.NewDirectory(pool)
		logger.Info("subscriber directory: postgres")
	} else {
		directory = memory.NewFileDirectory(cfg.SubscribersFile)
		logger.Info("subscriber directory: file", "path", cfg.SubscribersFile)
	}

	var ledger pipeline.LedgerStore
	if cfg.RedisURL != "" {
		client, err := redisadapter.Open(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, client.Close)
		ledger = redisadapter.NewLedgerStore(client, cfg.LedgerKey, cfg.LedgerCapacity)
		logger.Info("dedup ledger: redis", "key", cfg.LedgerKey)
	} else {
		ledger = memory.NewLedgerStore(cfg.LedgerCapacity)
		logger.Warn("dedup ledger: in memory, processed events are forgotten on restart")
	}

	// Initialize geocoder (feature-flagged via MAPBOX_ENABLED / MAPBOX_TOKEN).
	var geocoder domain.Geocoder
	if cfg.MapboxEnabled {
		client := mapbox.NewClient(cfg.MapboxToken, cfg.MapboxTimeout, metrics, logger)
		cached, err := mapbox.NewCachedGeocoder(client, cfg.MapboxCacheSize, metrics)
		if err != nil {
			return nil, err
		}
		geocoder = cached
		metrics.GeocodeEnabled.Set(1)
		logger.Info("mapbox geocoding enabled", "cache_size", cfg.MapboxCacheSize, "timeout", cfg.MapboxTimeout)
	} else {
		metrics.GeocodeEnabled.Set(0)
		logger.Info("mapbox geocoding disabled")
	}

	var journal pipeline.Journal
	if cfg.JournalEnabled() {
		j := kafkaadapter.NewJournal(cfg.KafkaBrokers, cfg.KafkaAlertTopic, logger)
		a.closers = append(a.closers, j.Close)
		journal = j
		logger.Info("alert journal enabled", "topic", cfg.KafkaAlertTopic)
	}

	channel, err := telegram.NewChannel(cfg.TelegramToken, cfg.TelegramAPIURL, cfg.DeliveryTimeout, logger)
	if err != nil {
		return nil, fmt.Errorf("telegram channel: %w", err)
	}

	headlines := news.NewCachedSource(
		news.NewFeedSource(cfg.NewsFeedURL, cfg.NewsTimeout, metrics, logger),
		cfg.NewsCacheTTL, clockwork.NewRealClock(), metrics,
	)

	stages := pipeline.Stages{
		Feed:      p2pquake.NewClient(cfg.FeedURL, cfg.FeedTimeout, metrics, logger),
		Ledger:    ledger,
		Directory: directory,
		Headlines: headlines,
		Channel:   channel,
		Localizer: pipeline.NewLocalizer(geocoder, logger),
		Journal:   journal,
	}
	opts := pipeline.Options{
		Classifier:       &classifier,
		LedgerCapacity:   cfg.LedgerCapacity,
		EventConcurrency: cfg.EventConcurrency,
		CycleTimeout:     cfg.CycleTimeout,
		Dispatch: pipeline.DispatcherOptions{
			Concurrency: cfg.DispatchConcurrency,
			Rate:        cfg.DispatchRate,
			Timeout:     cfg.DeliveryTimeout,
		},
	}
	a.Pipeline = pipeline.New(stages, opts, logger, metrics)
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
