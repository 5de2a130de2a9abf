package cache

import (
	"context"
	"fmt"

	"realtime-trade/config"
)

// Open constructs a Store from the configured adapter name.
// Supported adapters: "postgres" (default), "redis", "memory".
func Open(ctx context.Context, cfg config.CacheConfig) (Store, error) {
	switch cfg.Adapter {
	case "", "postgres":
		return NewPostgres(ctx, cfg.ConnString())
	case "redis":
		if cfg.RedisAddr == "" {
			return nil, fmt.Errorf("redis cache adapter needs REDIS_ADDR")
		}
		return NewRedis(cfg.RedisAddr), nil
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown cache adapter: %s", cfg.Adapter)
	}
}
