package reconciler

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// RunLock serializes reconciliation runs system-wide. Overlapping runs would
// interleave the clear/set current-model transition and can transiently leave
// a category with zero or multiple current records.
type RunLock interface {
	// TryAcquire returns true when this process may run; false when another
	// run holds the lease.
	TryAcquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

const (
	lockKey = "model-registry:reconcile:lock"
	// A run that outlives the lease is treated as failed; the TTL keeps a
	// crashed holder from wedging the scheduler forever.
	lockTTL = 5 * time.Minute
)

// redisLock implements RunLock with a SETNX lease, so mutual exclusion holds
// across replicas.
type redisLock struct {
	client *redis.Client
}

func NewRedisLock(client *redis.Client) RunLock {
	return &redisLock{client: client}
}

func (l *redisLock) TryAcquire(ctx context.Context) (bool, error) {
	return l.client.SetNX(ctx, lockKey, time.Now().UTC().Format(time.RFC3339), lockTTL).Result()
}

func (l *redisLock) Release(ctx context.Context) error {
	return l.client.Del(ctx, lockKey).Err()
}

// localLock is the single-instance fallback used when Redis is disabled.
type localLock struct {
	held atomic.Bool
}

func NewLocalLock() RunLock {
	return &localLock{}
}

func (l *localLock) TryAcquire(_ context.Context) (bool, error) {
	return l.held.CompareAndSwap(false, true), nil
}

func (l *localLock) Release(_ context.Context) error {
	l.held.Store(false)
	return nil
}
