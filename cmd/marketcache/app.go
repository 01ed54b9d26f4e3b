package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"MarketCache/internal/config"
	"MarketCache/internal/localcache"
	"MarketCache/internal/logging"
	"MarketCache/internal/orchestrator"
	"MarketCache/internal/origin"
	"MarketCache/internal/recorder"
	"MarketCache/internal/store"
)

// app holds the opened tiers. Remote tiers are only opened when a command
// needs the full fetch chain.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	local  *localcache.Store
	remote store.Store
	rec    recorder.Recorder
	orch   *orchestrator.Orchestrator
}

func loadConfig(path string) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, logging.NewLogger(logging.ParseLevel(cfg.Log.Level)), nil
}

// openLocal opens Tier1 and the run recorder only.
func openLocal(cfgPath string) (*app, error) {
	cfg, logger, err := loadConfig(cfgPath)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger}

	a.local, err = localcache.Open(localcache.Config{
		Dir:         cfg.Cache.Dir,
		BudgetBytes: cfg.Cache.BudgetBytes,
		HighWater:   cfg.Cache.HighWater,
		MaxAge:      cfg.Cache.MaxAge,
	}, logger.With("tier", "tier1"))
	if err != nil {
		return nil, fmt.Errorf("open tier1: %w", err)
	}

	a.rec = recorder.NewNoopRecorder()
	if path := cfg.Recorder.SQLitePath; path != "" {
		if err := ensureDir(path); err != nil {
			return nil, err
		}
		sr, err := recorder.NewSQLiteRecorder(path, logger)
		if err != nil {
			logger.Warn("init sqlite recorder failed, using noop", "err", err)
		} else {
			a.rec = sr
		}
	}
	return a, nil
}

// openFull opens every tier and the orchestrator on top of them.
func openFull(ctx context.Context, cfgPath string) (*app, error) {
	a, err := openLocal(cfgPath)
	if err != nil {
		return nil, err
	}
	cfg := a.cfg

	if cfg.Store.Driver == "sqlite" {
		if err := ensureDir(cfg.Store.SQLitePath); err != nil {
			a.Close()
			return nil, err
		}
	}
	a.remote, err = store.Open(ctx, store.Options{
		Driver:        cfg.Store.Driver,
		SQLitePath:    cfg.Store.SQLitePath,
		PostgresDSN:   cfg.Store.PostgresDSN,
		RedisAddr:     cfg.Store.RedisAddr,
		RedisPassword: cfg.Store.RedisPassword,
		RedisDB:       cfg.Store.RedisDB,
	}, a.logger.With("tier", "tier2"))
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("open tier2: %w", err)
	}

	src := buildOrigin(cfg)
	a.logger.Info("origin configured", "origin", src.Name(), "rate_limit", cfg.Origin.RateLimit)

	a.orch = orchestrator.New(orchestrator.Config{
		BatchSize:        cfg.Fetch.BatchSize,
		BatchDelay:       cfg.Fetch.BatchDelay,
		OriginTimeout:    cfg.Origin.Timeout,
		PromotionWorkers: cfg.Fetch.PromotionWorkers,
		PromotionQueue:   cfg.Fetch.PromotionQueue,
	}, a.local, a.remote, src, a.rec, a.logger)
	return a, nil
}

func buildOrigin(cfg *config.Config) origin.Origin {
	var src origin.Origin
	switch cfg.Origin.Provider {
	case "rest":
		src = origin.NewRESTOrigin(cfg.Origin.BaseURL, cfg.Origin.APIKey, cfg.Proxy)
	default:
		y := origin.NewYahooOrigin(cfg.Origin.BaseURL, cfg.Proxy)
		for sym, ticker := range cfg.Origin.SymbolMap {
			y.SymbolMap[sym] = ticker
		}
		src = y
	}
	return origin.NewLimited(src, cfg.Origin.RateLimit, cfg.Origin.Burst)
}

// Close flushes pending promotions before closing the stores they write to.
func (a *app) Close() {
	if a.orch != nil {
		a.orch.Close()
	}
	if a.remote != nil {
		if err := a.remote.Close(); err != nil {
			a.logger.Warn("close tier2", "err", err)
		}
	}
	if a.rec != nil {
		if err := a.rec.Close(); err != nil {
			a.logger.Warn("close recorder", "err", err)
		}
	}
}

func ensureDir(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", path, err)
	}
	return nil
}
