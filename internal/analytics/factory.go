package analytics

import (
	"fmt"

	"github.com/redis/go-redis/v9"
)

const (
	BackendClickHouse = "clickhouse"
	BackendSQLite     = "sqlite"
	BackendRedis      = "redis"
	BackendDisabled   = "disabled"
)

type Config struct {
	Backend    string           `yaml:"backend"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
	SQLite     SQLiteConfig     `yaml:"sqlite"`
	Redis      RedisConfig      `yaml:"redis"`
}

// NewStore builds the store selected by cfg.Backend. redisClient is only
// used by the redis backend.
func NewStore(cfg Config, redisClient *redis.Client) (Store, error) {
	switch cfg.Backend {
	case BackendClickHouse:
		return NewClickHouseStore(cfg.ClickHouse)
	case BackendSQLite:
		return NewSQLiteStore(cfg.SQLite)
	case BackendRedis:
		if redisClient == nil {
			return nil, fmt.Errorf("analytics: redis backend needs a client")
		}
		return NewRedisStore(redisClient, cfg.Redis), nil
	case "", BackendDisabled:
		return DisabledStore{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}
