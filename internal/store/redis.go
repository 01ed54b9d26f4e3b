package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"MarketCache/internal/model"
)

// RedisStore keeps one sorted set of JSON bars per symbol, scored by the
// bar's day in unix seconds, plus a set of captured ranges per symbol.
type RedisStore struct {
	rdb    *redis.Client
	logger *slog.Logger
}

// NewRedisStore connects to Redis and pings it.
func NewRedisStore(ctx context.Context, addr, password string, db int, logger *slog.Logger) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, errors.Wrap(err, "redis ping")
	}
	logger.Info("tier2 store opened", "dialect", "redis", "addr", addr)
	return &RedisStore{rdb: rdb, logger: logger}, nil
}

func barsKey(symbol string) string   { return fmt.Sprintf("bars:%s", symbol) }
func rangesKey(symbol string) string { return fmt.Sprintf("ranges:%s", symbol) }

func rangeMember(key model.CacheKey) string {
	return key.RangeStart.Format(model.DateLayout) + ":" + key.RangeEnd.Format(model.DateLayout)
}

func dayScore(key model.CacheKey, last bool) string {
	if last {
		return strconv.FormatInt(key.RangeEnd.Unix(), 10)
	}
	return strconv.FormatInt(key.RangeStart.Unix(), 10)
}

// Get returns the bars of a captured range.
func (r *RedisStore) Get(ctx context.Context, key model.CacheKey) (model.Series, bool, error) {
	captured, err := r.rdb.SIsMember(ctx, rangesKey(key.Symbol), rangeMember(key)).Result()
	if err != nil {
		return nil, false, errors.Wrapf(err, "lookup range %s", key)
	}
	if !captured {
		return nil, false, nil
	}

	members, err := r.rdb.ZRangeByScore(ctx, barsKey(key.Symbol), &redis.ZRangeBy{
		Min: dayScore(key, false),
		Max: dayScore(key, true),
	}).Result()
	if err != nil {
		return nil, false, errors.Wrapf(err, "range bars %s", key)
	}
	if len(members) == 0 {
		return nil, false, nil
	}

	series := make(model.Series, 0, len(members))
	for _, m := range members {
		var b model.Bar
		if err := json.Unmarshal([]byte(m), &b); err != nil {
			return nil, false, errors.Wrapf(err, "decode bar %s", key)
		}
		series = append(series, b)
	}
	return series, true, nil
}

// Put replaces the member for each bar's day and records the range. The
// whole write is one MULTI/EXEC transaction.
func (r *RedisStore) Put(ctx context.Context, key model.CacheKey, series model.Series) error {
	members := make([]redis.Z, 0, len(series))
	for _, b := range series {
		data, err := json.Marshal(b)
		if err != nil {
			return errors.Wrapf(err, "encode bar %s", key)
		}
		members = append(members, redis.Z{Score: float64(b.Date.Unix()), Member: string(data)})
	}

	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		bk := barsKey(key.Symbol)
		for _, z := range members {
			score := strconv.FormatInt(int64(z.Score), 10)
			pipe.ZRemRangeByScore(ctx, bk, score, score)
			pipe.ZAdd(ctx, bk, z)
		}
		pipe.SAdd(ctx, rangesKey(key.Symbol), rangeMember(key))
		return nil
	})
	return errors.Wrapf(err, "upsert %s", key)
}

// Health pings Redis.
func (r *RedisStore) Health(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

// Close closes the client.
func (r *RedisStore) Close() error {
	r.logger.Info("closing tier2 store", "dialect", "redis")
	return r.rdb.Close()
}
