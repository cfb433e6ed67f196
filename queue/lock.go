package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrLocked is returned when another caller holds the lock.
var ErrLocked = errors.New("resource is locked")

// releaseScript deletes the key only if it still holds our token, so a lock
// that expired and was re-acquired elsewhere is left alone.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

// Locker serializes work on a single payment across processes.
type Locker interface {
	// Acquire takes the lock or returns ErrLocked. The returned func releases it.
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error)
}

type RedisLocker struct {
	client KeyStore
}

func NewRedisLocker(client KeyStore) *RedisLocker {
	return &RedisLocker{client: client}
}

func lockKey(key string) string {
	return fmt.Sprintf("paylock:%s", key)
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	token := uuid.NewString()
	k := lockKey(key)

	set, err := l.client.SetNX(ctx, k, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis SETNX error: %w", err)
	}
	if !set {
		return nil, ErrLocked
	}

	release := func(ctx context.Context) error {
		if err := l.client.Eval(ctx, releaseScript, []string{k}, token).Err(); err != nil {
			return fmt.Errorf("redis release error: %w", err)
		}
		return nil
	}
	return release, nil
}
