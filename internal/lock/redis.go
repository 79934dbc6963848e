package lock

import (
	"context"
	"errors"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// RedisLocker implements Locker on top of redislock, giving refresh
// mutual exclusion across processes. Lock keys are namespaced under
// "mart:lock:".
type RedisLocker struct {
	client *redislock.Client
}

// NewRedisLocker connects to Redis at addr and verifies the connection.
func NewRedisLocker(ctx context.Context, addr string) (*RedisLocker, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return &RedisLocker{client: redislock.New(rdb)}, nil
}

func (l *RedisLocker) Acquire(ctx context.Context, name string, ttl time.Duration) (Release, error) {
	lk, err := l.client.Obtain(ctx, "mart:lock:"+name, ttl, nil)
	if err != nil {
		if errors.Is(err, redislock.ErrNotObtained) {
			return nil, ErrHeld
		}
		return nil, err
	}

	release := func(ctx context.Context) error {
		err := lk.Release(ctx)
		if errors.Is(err, redislock.ErrLockNotHeld) {
			return nil
		}
		return err
	}
	return release, nil
}
