package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	gormlogger "gorm.io/gorm/logger"

	"github.com/thebtf/emostate/internal/cache"
	badgercache "github.com/thebtf/emostate/internal/cache/badger"
	rediscache "github.com/thebtf/emostate/internal/cache/redis"
	"github.com/thebtf/emostate/internal/config"
	"github.com/thebtf/emostate/internal/db"
	gormdb "github.com/thebtf/emostate/internal/db/gorm"
	"github.com/thebtf/emostate/internal/db/memory"
	"github.com/thebtf/emostate/internal/engine"
	"github.com/thebtf/emostate/internal/extract"
	"github.com/thebtf/emostate/internal/metrics"
	"github.com/thebtf/emostate/internal/server"
	"github.com/thebtf/emostate/internal/signal"
)

// app holds the opened stores and the engine built on them.
type app struct {
	store    db.RecordStore
	kv       cache.Store
	registry *prometheus.Registry
	engine   *engine.Engine
	logger   zerolog.Logger
	checks   []server.Check
	closers  []func() error
}

func openApp(ctx context.Context, c *config.Config, logger zerolog.Logger) (*app, error) {
	a := &app{
		registry: prometheus.NewRegistry(),
		logger:   logger,
	}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	if err := c.EnsureDataDir(); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	if err := a.openStore(c.Store); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.openCache(ctx, c.Cache); err != nil {
		a.Close()
		return nil, err
	}

	a.engine = engine.New(a.store, a.kv, metrics.New(a.registry), c.Engine(), logger)
	return a, nil
}

func (a *app) openStore(sc config.StoreConfig) error {
	if sc.Backend == config.StoreMemory {
		a.store = memory.NewStore()
		a.logger.Warn().Msg("Using in-memory record store; state is lost on exit")
		return nil
	}
	st, err := gormdb.NewStore(gormdb.Config{
		DSN:      sc.DSN,
		Path:     sc.Path,
		MaxConns: sc.MaxConns,
		LogLevel: gormlogger.Silent,
	})
	if err != nil {
		return fmt.Errorf("open record store: %w", err)
	}
	a.store = gormdb.NewRecordStore(st)
	a.closers = append(a.closers, st.Close)
	a.checks = append(a.checks, server.Check{
		Name:   "store",
		Ping:   st.Ping,
		Detail: func(ctx context.Context) any { return st.HealthCheck(ctx) },
	})
	a.logger.Info().Str("dialect", st.Dialect()).Msg("Record store opened")
	return nil
}

func (a *app) openCache(ctx context.Context, cc config.CacheConfig) error {
	switch cc.Backend {
	case config.CacheNone:
		a.logger.Info().Msg("Window cache disabled")
		return nil
	case config.CacheRedis:
		rs, err := rediscache.Open(ctx, cc.Redis)
		if err != nil {
			return fmt.Errorf("open redis cache: %w", err)
		}
		a.kv = rs
		a.closers = append(a.closers, rs.Close)
		a.checks = append(a.checks, server.Check{Name: "cache", Ping: rs.Ping})
		a.logger.Info().Str("addr", cc.Redis.Addr).Msg("Redis cache opened")
	default:
		bs, err := badgercache.Open(cc.Badger, a.logger)
		if err != nil {
			return fmt.Errorf("open badger cache: %w", err)
		}
		a.kv = bs
		a.closers = append(a.closers, bs.Close)
		a.logger.Info().Str("path", cc.Badger.Path).Msg("Badger cache opened")
	}
	return nil
}

// extractor builds the configured message extractor, or nil when none is set.
func (a *app) extractor(ec config.ExtractorConfig) (signal.Extractor, error) {
	switch ec.Provider {
	case "":
		return nil, nil
	case "openai":
		return extract.NewOpenAI(extract.Config{
			APIKey:     ec.APIKey,
			BaseURL:    ec.BaseURL,
			Model:      ec.Model,
			Timeout:    ec.Timeout,
			MaxRetries: ec.MaxRetries,
		}, a.logger)
	default:
		return nil, fmt.Errorf("unknown extractor %q", ec.Provider)
	}
}

// Close releases stores in reverse open order.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn().Err(err).Msg("Close failed")
		}
	}
	a.closers = nil
}
