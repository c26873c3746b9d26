// Package lock keeps two recurrence batches from running at the same time.
package lock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

// Release gives a held lock back.
type Release func(ctx context.Context) error

// Locker acquires named locks without waiting.
type Locker interface {
	// TryLock makes one attempt to take key. ok is false, with a nil error,
	// when another holder has it.
	TryLock(ctx context.Context, key string) (release Release, ok bool, err error)
}

// RedisLocker takes locks with the RedLock algorithm on a redis client.
type RedisLocker struct {
	rs     *redsync.Redsync
	expiry time.Duration
}

// NewRedisLocker creates a locker whose locks expire after expiry unless
// released first. Expiry should exceed the longest expected batch.
func NewRedisLocker(client redis.UniversalClient, expiry time.Duration) *RedisLocker {
	if expiry <= 0 {
		expiry = 10 * time.Minute
	}
	return &RedisLocker{rs: redsync.New(goredis.NewPool(client)), expiry: expiry}
}

// TryLock implements Locker.
func (l *RedisLocker) TryLock(ctx context.Context, key string) (Release, bool, error) {
	mutex := l.rs.NewMutex(key,
		redsync.WithExpiry(l.expiry),
		redsync.WithTries(1),
	)

	if err := mutex.LockContext(ctx); err != nil {
		if errors.Is(err, redsync.ErrFailed) || strings.Contains(err.Error(), "lock already taken") {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("TryLock: %s: %w", key, err)
	}

	return func(ctx context.Context) error {
		if ok, err := mutex.UnlockContext(ctx); err != nil {
			return fmt.Errorf("Release: %s: %w", key, err)
		} else if !ok {
			return fmt.Errorf("Release: %s: lock no longer held", key)
		}
		return nil
	}, true, nil
}

// Local is an in-process Locker for single-instance deployments and tests.
type Local struct {
	mu   sync.Mutex
	held map[string]bool
}

// NewLocal creates an in-process locker.
func NewLocal() *Local {
	return &Local{held: make(map[string]bool)}
}

// TryLock implements Locker.
func (l *Local) TryLock(_ context.Context, key string) (Release, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return nil, false, nil
	}
	l.held[key] = true
	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, key)
		return nil
	}, true, nil
}
