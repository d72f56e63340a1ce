package lock

import (
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/entitled/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("lock",
	fx.Provide(NewFromConfig),
)

// NewFromConfig returns a redis-backed locker when redis is configured and
// falls back to the in-process locker otherwise.
func NewFromConfig(cfg config.Config) Locker {
	if cfg.RedisAddr == "" {
		return NewMemoryLocker()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	return NewRedisLocker(client)
}
