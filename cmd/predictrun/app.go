package main

import (
	"context"
	"errors"
	"fmt"

	redisv8 "github.com/go-redis/redis/v8"
	redisv9 "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/predictrun/internal/config"
	"github.com/sawpanic/predictrun/internal/data/cache"
	"github.com/sawpanic/predictrun/internal/engine"
	"github.com/sawpanic/predictrun/internal/features"
	"github.com/sawpanic/predictrun/internal/infrastructure/db"
	"github.com/sawpanic/predictrun/internal/ingest"
	"github.com/sawpanic/predictrun/internal/lifecycle"
	"github.com/sawpanic/predictrun/internal/metrics"
	"github.com/sawpanic/predictrun/internal/nn"
	"github.com/sawpanic/predictrun/internal/persistence"
	"github.com/sawpanic/predictrun/internal/persistence/memory"
	"github.com/sawpanic/predictrun/internal/stream"
	"github.com/sawpanic/predictrun/internal/training"
)

// app holds every wired component of one process
type app struct {
	cfg       config.Config
	metrics   *metrics.Registry
	db        *db.Manager
	repo      persistence.Repository
	redis     *stream.RedisSignals
	hub       *stream.Hub
	publisher persistence.SignalPublisher
	model     *nn.Model
	engine    *engine.Engine
	ingester  *ingest.Ingester
	checks    map[string]persistence.Pinger
	closers   []func() error
}

// newApp wires stores, transport and the engine from cfg. Postgres and Redis are used when
// configured; otherwise everything lives in memory for the life of the process.
func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	a := &app{
		cfg:     cfg,
		metrics: metrics.NewRegistry(),
		hub:     stream.NewHub(8),
		checks:  make(map[string]persistence.Pinger),
	}

	if err := a.wireStores(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.wireEngine(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wireStores(ctx context.Context) error {
	a.repo = memory.NewRepository()

	m, err := db.NewManager(a.cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	a.db = m
	a.closers = append(a.closers, m.Close)

	if m.IsEnabled() {
		a.checks["postgres"] = m

		if a.cfg.Database.AutoMigrate {
			if err := db.Migrate(ctx, m.DB().DB); err != nil {
				return err
			}
		}
		a.repo = *m.Repository()
		log.Info().Msg("Using Postgres stores")
	} else {
		log.Warn().Msg("Database disabled, state is kept in memory only")
	}

	var publishers stream.Fanout

	if a.cfg.Redis.Enabled() {
		client := redisv8.NewClient(&redisv8.Options{
			Addr:     a.cfg.Redis.Addr,
			Password: a.cfg.Redis.Password,
			DB:       a.cfg.Redis.DB,
		})
		a.closers = append(a.closers, client.Close)
		a.redis = stream.NewRedisSignals(client, a.cfg.Redis.Signals)
		a.checks["redis"] = a.redis
		publishers = append(publishers, a.redis)

		// without Postgres the latest batch survives restarts in Redis
		if !m.IsEnabled() {
			a.repo.Signals = a.redis
		}
	}

	// with Redis, local WebSocket clients are fed by relaySignals whichever process published
	if a.redis == nil {
		publishers = append(publishers, a.hub)
	}

	if a.cfg.Cache.Enabled {
		var c cache.Cache
		if a.cfg.Redis.Enabled() {
			client := redisv9.NewClient(&redisv9.Options{
				Addr:     a.cfg.Redis.Addr,
				Password: a.cfg.Redis.Password,
				DB:       a.cfg.Redis.DB,
			})
			a.closers = append(a.closers, client.Close)
			c = cache.NewRedis(client, a.cfg.Cache.Timeout)
		} else {
			c = cache.New()
		}
		cached := cache.NewCachedPrices(a.repo.Prices, a.repo.Writer, c, a.cfg.Cache.TTL)
		a.repo.Prices = cached
		a.repo.Writer = cached
	}

	a.publisher = publishers
	return nil
}

func (a *app) wireEngine() error {
	mc := a.cfg.Model

	model, err := nn.NewModel(mc.Topology(), mc.Seed)
	if err != nil {
		return fmt.Errorf("build classifier: %w", err)
	}
	a.model = model

	assembler, err := training.NewAssembler(features.NewTradeBuilder(mc.Window, mc.Lookback), mc.Classes, mc.MinSamples)
	if err != nil {
		return err
	}

	mgr, err := lifecycle.NewManager(a.repo.Prices, a.repo.Trades, a.cfg.Lifecycle, lifecycle.WithMetrics(a.metrics))
	if err != nil {
		return err
	}

	a.engine, err = engine.New(a.cfg.Engine, engine.Deps{
		Prices:      a.repo.Prices,
		Trades:      a.repo.Trades,
		Signals:     a.repo.Signals,
		Publisher:   a.publisher,
		Models:      a.repo.Models,
		Model:       model,
		Assembler:   assembler,
		TickBuilder: features.NewTickBuilder(mc.Window),
		Lifecycle:   mgr,
		Metrics:     a.metrics,
	})
	if err != nil {
		return err
	}

	if a.cfg.Ingest.Quoter.BaseURL != "" {
		quoter := ingest.NewHTTPQuoter(a.cfg.Ingest.Quoter, nil)
		a.ingester, err = ingest.NewIngester(quoter, a.repo.Writer, a.cfg.Ingest, a.metrics)
		if err != nil {
			return err
		}
	}
	return nil
}

// relaySignals feeds the WebSocket hub from the Redis channel until ctx ends
func (a *app) relaySignals(ctx context.Context) error {
	if a.redis == nil {
		return nil
	}
	return stream.Relay(ctx, a.redis, a.hub)
}

// Close releases connections in reverse order of creation
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
