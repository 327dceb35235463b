package app

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/spf13/afero"

	"postgarden/internal/config"
	"postgarden/internal/favorites"
	"postgarden/internal/history"
	"postgarden/internal/publisher"
	"postgarden/internal/service"
	"postgarden/internal/source/origin"
	"postgarden/internal/storage/cache"
	"postgarden/internal/storage/postgres"
	"postgarden/internal/summary"
	"postgarden/migrations"
)

// Runtime is a fully wired set of components for one cache root.
type Runtime struct {
	Garden  *Garden
	Sync    *service.SyncService
	Cache   *cache.Store
	Journal *postgres.Journal

	closers []func() error
}

// Build wires every component from cfg. Optional backends are connected
// only when enabled.
func Build(cfg *config.Config, fs afero.Fs, logger *slog.Logger) (*Runtime, error) {
	rt := &Runtime{}
	channels := cfg.ChannelList()

	var cacheOpts []cache.Option
	if cfg.Summary.Enabled {
		enricher := summary.New(summary.Config{
			Timeout: cfg.Summary.Timeout,
			Workers: cfg.Summary.Workers,
		}, &http.Client{Timeout: cfg.Summary.Timeout}, logger)
		cacheOpts = append(cacheOpts, cache.WithEnricher(enricher))
	}

	store, err := cache.New(fs, cache.Config{
		Root:       cfg.Cache.Root,
		Retention:  cfg.Cache.Retention,
		StagingTTL: 2 * cfg.Sync.PassTimeout,
	}, logger, cacheOpts...)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	rt.Cache = store

	var journal service.Journal
	if cfg.Database.Enabled {
		db, err := sqlx.Connect("postgres", cfg.Database.DSN())
		if err != nil {
			return nil, rt.fail(fmt.Errorf("connect to database: %w", err))
		}
		rt.closers = append(rt.closers, db.Close)

		if err := migrations.Run(db.DB); err != nil {
			return nil, rt.fail(err)
		}
		logger.Info("connected to database")

		rt.Journal = postgres.NewJournal(db)
		journal = rt.Journal
	}

	var pub service.Publisher
	if cfg.RabbitMQ.Enabled {
		rabbitMQ, err := publisher.NewRabbitMQ(publisher.Config{
			URL:        cfg.RabbitMQ.URL,
			Exchange:   cfg.RabbitMQ.Exchange,
			RoutingKey: cfg.RabbitMQ.RoutingKey,
			QueueName:  cfg.RabbitMQ.QueueName,
		}, logger)
		if err != nil {
			return nil, rt.fail(fmt.Errorf("connect to rabbitmq: %w", err))
		}
		rt.closers = append(rt.closers, rabbitMQ.Close)
		pub = rabbitMQ
	}

	source := origin.New(origin.Config{
		BaseURL:         cfg.Origin.BaseURL,
		ManifestPath:    cfg.Origin.ManifestPath,
		Timeout:         cfg.Origin.Timeout,
		MaxArchiveBytes: cfg.Origin.MaxArchiveBytes,
		MaxAttempts:     cfg.Origin.Retry.MaxAttempts,
		InitialBackoff:  cfg.Origin.Retry.InitialBackoff,
		MaxBackoff:      cfg.Origin.Retry.MaxBackoff,
	}, channels, nil, logger)

	rt.Sync = service.NewSyncService(source, store, journal, pub, logger, service.Config{
		Channels: channels,
		Workers:  cfg.Cache.Workers,
	})

	favs, err := favorites.New(fs, favorites.Config{
		Path:      cfg.Favorites.Path,
		AssetsDir: cfg.Favorites.AssetsDir,
	}, logger)
	if err != nil {
		return nil, rt.fail(fmt.Errorf("open favorites: %w", err))
	}
	hist := history.New(fs, history.Config{
		Path:  cfg.History.Path,
		Limit: cfg.History.Limit,
	}, logger)

	rt.Garden = New(channels, store, rt.Sync, favs, hist, logger)
	return rt, nil
}

// Close releases backend connections in reverse order of opening.
func (r *Runtime) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}

func (r *Runtime) fail(err error) error {
	_ = r.Close()
	return err
}
