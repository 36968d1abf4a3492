package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var fromTableRe = regexp.MustCompile(`(?i)\bFROM\s+([A-Za-z_][A-Za-z0-9_]*)`)

type RedisConfig struct {
	Addr   string `yaml:"addr"`
	Prefix string `yaml:"prefix"`
	// Retention expires a key this long after its latest insert; zero keeps
	// rows forever.
	Retention time.Duration `yaml:"retention"`
	// Now overrides the clock used for row timestamps.
	Now func() time.Time `yaml:"-"`
}

// RedisStore keeps cache rows in one sorted set per
// (table, short_cache_key, long_cache_key), scored by insert time in unix
// microseconds.
//
// Redis cannot run SQL: Query only reads the table name from the FROM clause
// and evaluates the lookup from the bound parameters.
type RedisStore struct {
	client    *redis.Client
	prefix    string
	retention time.Duration
	now       func() time.Time
}

// NewRedisStore creates a Redis-backed store.
func NewRedisStore(client *redis.Client, cfg RedisConfig) *RedisStore {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &RedisStore{
		client:    client,
		prefix:    cfg.Prefix,
		retention: cfg.Retention,
		now:       cfg.Now,
	}
}

func (s *RedisStore) Dialect() Dialect { return DialectClickHouse }

// key builds the final Redis key with prefix.
func (s *RedisStore) key(table, shortKey, longKey string) string {
	k := table + ":" + shortKey + ":" + longKey
	if s.prefix == "" {
		return k
	}
	return s.prefix + ":" + k
}

func (s *RedisStore) Insert(ctx context.Context, table string, rows ...any) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context error: %w", err)
	}
	if err := ValidateIdentifier(table); err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	for i, row := range rows {
		cols, err := rowColumns(row)
		if err != nil {
			return fmt.Errorf("redis insert into %s: row %d: %w", table, i, err)
		}
		if cols[ColumnShortCacheKey] == nil || cols[ColumnLongCacheKey] == nil {
			return fmt.Errorf("redis insert into %s: row %d: cache key columns are required", table, i)
		}
		shortKey, longKey := fmt.Sprint(cols[ColumnShortCacheKey]), fmt.Sprint(cols[ColumnLongCacheKey])

		ts := s.now().UnixMicro()
		cols[ColumnTimestamp] = ts
		member, err := json.Marshal(cols)
		if err != nil {
			return fmt.Errorf("redis insert into %s: row %d: %w", table, i, err)
		}

		key := s.key(table, shortKey, longKey)
		pipe.ZAdd(ctx, key, redis.Z{Score: float64(ts), Member: string(member)})
		if s.retention > 0 {
			pipe.Expire(ctx, key, s.retention)
		}
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis insert into %s: %w", table, err)
	}
	return nil
}

// Query returns the newest row for the bound cache key, optionally no older
// than lookback_s seconds.
func (s *RedisStore) Query(ctx context.Context, query string, params Params) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("context error: %w", err)
	}

	m := fromTableRe.FindStringSubmatch(query)
	if m == nil {
		return "", errors.New("redis query: no table in query")
	}
	shortKey, ok := params[ColumnShortCacheKey]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrMissingParam, ColumnShortCacheKey)
	}
	longKey, ok := params[ColumnLongCacheKey]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrMissingParam, ColumnLongCacheKey)
	}

	minScore := "-inf"
	if lookback, ok := params[ParamLookback]; ok {
		secs, err := strconv.ParseInt(lookback.String(), 10, 64)
		if err != nil {
			return "", fmt.Errorf("redis query: invalid %s: %w", ParamLookback, err)
		}
		minScore = strconv.FormatInt(s.now().UnixMicro()-secs*int64(time.Second/time.Microsecond), 10)
	}

	res, err := s.client.ZRevRangeByScore(ctx, s.key(m[1], shortKey.String(), longKey.String()), &redis.ZRangeBy{
		Min:   minScore,
		Max:   "+inf",
		Count: 1,
	}).Result()
	if err != nil {
		return "", fmt.Errorf("redis query failed: %w", err)
	}
	if len(res) == 0 {
		return "", nil
	}
	return res[0], nil
}

// Ping checks if Redis connection is healthy.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context error: %w", err)
	}
	return s.client.Ping(ctx).Err()
}
