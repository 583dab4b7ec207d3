package scheduler

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/warehouse-ops/runner-dispatch/pkg/logging"
)

// RedisKeyRunLock is the key guarding the dispatch run across replicas.
const RedisKeyRunLock = "dispatch:run_lock"

// releaseScript deletes the lock only when this holder still owns it.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisLock extends single-flight protection across process replicas. The
// lock expires on its own after TTL, so a crashed holder cannot wedge the
// schedule; TTL must exceed the longest expected run.
type RedisLock struct {
	client *redis.Client
	ttl    time.Duration
	token  string
	logger zerolog.Logger
}

// NewRedisLock creates a run lock on the given Redis client.
func NewRedisLock(client *redis.Client, ttl time.Duration) *RedisLock {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &RedisLock{
		client: client,
		ttl:    ttl,
		token:  fmt.Sprintf("%d-%d", os.Getpid(), time.Now().UnixNano()),
		logger: logging.NewLogger("run-lock"),
	}
}

// Acquire takes the lock if free. Returns false without error when another
// replica holds it.
func (l *RedisLock) Acquire(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, RedisKeyRunLock, l.token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire run lock: %w", err)
	}
	if ok {
		l.logger.Debug().Str("token", l.token).Msg("Run lock acquired")
	}
	return ok, nil
}

// Release frees the lock if this holder still owns it. A lock that expired
// mid-run belongs to whoever re-acquired it and is left alone.
func (l *RedisLock) Release(ctx context.Context) {
	if err := releaseScript.Run(ctx, l.client, []string{RedisKeyRunLock}, l.token).Err(); err != nil && err != redis.Nil {
		l.logger.Warn().Err(err).Msg("Run lock release failed")
	}
}
