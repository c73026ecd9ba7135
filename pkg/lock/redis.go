package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/platinummonkey/lectern/pkg/observability"
)

// releaseScript deletes the key only if it still holds our token
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisLocker is a lease lock shared by every process using the same Redis.
// A holder that outlives the TTL loses the lock.
type RedisLocker struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	retry  time.Duration
	logger *observability.Logger
}

// RedisOption configures a RedisLocker
type RedisOption func(*RedisLocker)

// WithLogger sets the logger used to report failed releases
func WithLogger(logger *observability.Logger) RedisOption {
	return func(l *RedisLocker) {
		l.logger = logger
	}
}

// NewRedisLocker creates a Redis lease locker
func NewRedisLocker(client *redis.Client, ttl time.Duration, opts ...RedisOption) *RedisLocker {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	l := &RedisLocker{
		client: client,
		prefix: "lectern:lock:",
		ttl:    ttl,
		retry:  25 * time.Millisecond,
		logger: observability.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Lock polls until the lease is acquired or ctx is done
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := l.prefix + key
	token := uuid.NewString()

	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}

		timer := time.NewTimer(l.retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	return func() {
		// release even if the caller's context was cancelled meanwhile
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		released, err := releaseScript.Run(releaseCtx, l.client, []string{redisKey}, token).Int64()
		if err != nil {
			// the lease still expires after ttl
			l.logger.WithField("key", key).WithError(err).Error("failed to release lock")
			return
		}
		if released == 0 {
			l.logger.WithFields(map[string]interface{}{
				"key": key,
				"ttl": l.ttl.String(),
			}).Warn("lock lease expired before release")
		}
	}, nil
}
