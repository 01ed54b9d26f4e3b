// Package store implements the remote structured tier: the authoritative,
// shared history of daily bars.
package store

import (
	"context"
	"fmt"
	"log/slog"

	"MarketCache/internal/model"
)

// Store is the Tier2 contract. Get reports found=false for a range that was
// never captured; there is no staleness check at this tier. Put upserts per
// (symbol, date) and is idempotent.
type Store interface {
	Get(ctx context.Context, key model.CacheKey) (model.Series, bool, error)
	Put(ctx context.Context, key model.CacheKey, series model.Series) error
	Health(ctx context.Context) error
	Close() error
}

// Options selects and configures a Store implementation.
type Options struct {
	Driver        string // "sqlite", "postgres", "redis" or "none"
	SQLitePath    string
	PostgresDSN   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// Open builds the Store named by opts.Driver.
func Open(ctx context.Context, opts Options, logger *slog.Logger) (Store, error) {
	switch opts.Driver {
	case "sqlite":
		return NewSQLiteStore(ctx, opts.SQLitePath, logger)
	case "postgres":
		return NewPostgresStore(ctx, opts.PostgresDSN, logger)
	case "redis":
		return NewRedisStore(ctx, opts.RedisAddr, opts.RedisPassword, opts.RedisDB, logger)
	case "none", "":
		return NewNopStore(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", opts.Driver)
	}
}
