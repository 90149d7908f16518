package locking

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock key only when the token still matches, so
// a holder whose TTL expired cannot release a lock someone else re-acquired.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`

// RedisLocker implements Locker with SET NX and a per-holder token.
type RedisLocker struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedisLocker creates a Redis-backed locker.
func NewRedisLocker(client *redis.Client, logger *slog.Logger) *RedisLocker {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisLocker{client: client, logger: logger}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (Lock, error) {
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquiring lock %s: %w", key, err)
	}
	if !ok {
		return nil, ErrNotAcquired
	}

	l.logger.Debug("lock acquired", "key", key, "ttl", ttl)
	return &redisLock{client: l.client, logger: l.logger, key: key, token: token}, nil
}

type redisLock struct {
	client *redis.Client
	logger *slog.Logger
	key    string
	token  string
}

func (l *redisLock) Release(ctx context.Context) error {
	released, err := l.client.Eval(ctx, releaseScript, []string{l.key}, l.token).Result()
	if err != nil {
		return fmt.Errorf("releasing lock %s: %w", l.key, err)
	}

	if n, ok := released.(int64); ok && n == 0 {
		l.logger.Warn("lock already expired or taken over", "key", l.key)
	}
	return nil
}
