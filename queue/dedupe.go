// Package queue schedules reconciliation jobs and guards payments against
// concurrent processing.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultDedupeTTL bounds how long a reconciliation key survives if the
// worker never releases it.
const DefaultDedupeTTL = 24 * time.Hour

// KeyStore is the subset of the redis client used by this package.
type KeyStore interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// Dedupe keeps at most one outstanding reconciliation job per reference.
type Dedupe interface {
	// Claim returns true when the caller now owns the reference.
	Claim(ctx context.Context, reference string) (bool, error)
	Release(ctx context.Context, reference string) error
}

// RedisDedupe implements Dedupe with SET NX keys.
type RedisDedupe struct {
	client KeyStore
	ttl    time.Duration
}

func NewRedisDedupe(client KeyStore, ttl time.Duration) *RedisDedupe {
	if ttl <= 0 {
		ttl = DefaultDedupeTTL
	}
	return &RedisDedupe{client: client, ttl: ttl}
}

func reconcileKey(reference string) string {
	return fmt.Sprintf("reconcile:%s", reference)
}

func (d *RedisDedupe) Claim(ctx context.Context, reference string) (bool, error) {
	set, err := d.client.SetNX(ctx, reconcileKey(reference), time.Now().UTC().Format(time.RFC3339), d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis SETNX error: %w", err)
	}
	return set, nil
}

func (d *RedisDedupe) Release(ctx context.Context, reference string) error {
	if err := d.client.Del(ctx, reconcileKey(reference)).Err(); err != nil {
		return fmt.Errorf("redis DEL error: %w", err)
	}
	return nil
}
