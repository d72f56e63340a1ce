package lock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

const lockReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

const acquirePollInterval = 50 * time.Millisecond

// RedisLocker implements Locker on a single redis instance using a SetNX
// token with a compare-and-delete release.
type RedisLocker struct {
	client *redis.Client
	script *redis.Script
}

func NewRedisLocker(client *redis.Client) *RedisLocker {
	if client == nil {
		return nil
	}
	return &RedisLocker{
		client: client,
		script: redis.NewScript(lockReleaseScript),
	}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, acquireTimeout, holdTimeout time.Duration) (Guard, error) {
	if l == nil || l.client == nil {
		return nil, errors.New("lock client not configured")
	}
	if key == "" {
		return nil, errors.New("lock key is empty")
	}
	if holdTimeout <= 0 {
		return nil, errors.New("lock hold timeout must be positive")
	}

	token := uuid.NewString()
	deadline := time.Now().Add(acquireTimeout)

	for {
		ok, err := l.client.SetNX(ctx, key, token, holdTimeout).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			return &redisGuard{locker: l, key: key, token: token}, nil
		}
		if time.Now().After(deadline) {
			return nil, ErrNotAcquired
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(acquirePollInterval):
		}
	}
}

type redisGuard struct {
	locker   *RedisLocker
	key      string
	token    string
	released bool
}

func (g *redisGuard) Release(ctx context.Context) error {
	if g.released {
		return nil
	}
	g.released = true
	return g.locker.script.Run(ctx, g.locker.client, []string{g.key}, g.token).Err()
}
